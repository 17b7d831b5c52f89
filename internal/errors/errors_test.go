package errors

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingReporter struct {
	mu   sync.Mutex
	errs []*EnhancedError
}

func (r *recordingReporter) Report(err *EnhancedError) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = append(r.errs, err)
}

func TestBuilderCarriesMetadata(t *testing.T) {
	err := Newf("level %d missing", 2).
		Component("escalation").
		Category(CategoryValidation).
		Context("policy_id", 9).
		Build()

	var ee *EnhancedError
	require.True(t, As(err, &ee))
	assert.Equal(t, "level 2 missing", err.Error())
	assert.Equal(t, "escalation", ee.GetComponent())
	assert.Equal(t, CategoryValidation, ee.GetCategory())
	assert.Equal(t, 9, ee.GetContext()["policy_id"])
	assert.False(t, ee.GetTimestamp().IsZero())
}

func TestIsCategoryWalksWrappedChain(t *testing.T) {
	inner := Newf("handler down").Category(CategoryTransientDelivery).Build()
	outer := fmt.Errorf("send email: %w", inner)

	assert.True(t, IsCategory(outer, CategoryTransientDelivery))
	assert.False(t, IsCategory(outer, CategoryTimeout))
	assert.Equal(t, CategoryTransientDelivery, CategoryOf(outer))
	assert.True(t, Is(outer, inner))
}

func TestReporterSkipsExpectedCategories(t *testing.T) {
	rec := &recordingReporter{}
	SetReporter(rec)
	t.Cleanup(func() { SetReporter(nil) })

	_ = Newf("bad rule").Category(CategoryValidation).Build()
	_ = Newf("no such policy").Category(CategoryNotFound).Build()
	_ = Newf("db gone").Category(CategoryDatabase).Build()

	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.Len(t, rec.errs, 1)
	assert.Equal(t, CategoryDatabase, rec.errs[0].GetCategory())
}
