// Package errors provides categorized errors with component and context
// metadata. Built errors are handed to an optional Reporter (Sentry in
// production) unless their category is expected during normal operation.
package errors

import (
	stderrors "errors"
	"fmt"
	"maps"
	"sync/atomic"
	"time"
)

// Category classifies an error for propagation and reporting decisions.
type Category string

const (
	CategoryValidation        Category = "validation"
	CategoryNotFound          Category = "not-found"
	CategoryTransientDelivery Category = "transient-delivery"
	CategoryTimeout           Category = "timeout"
	CategoryConfiguration     Category = "configuration"
	CategoryDatabase          Category = "database"
	CategoryInternal          Category = "internal"
)

// EnhancedError is an error annotated with component, category and context.
type EnhancedError struct {
	Err       error
	component string
	category  Category
	context   map[string]any
	timestamp time.Time
}

func (e *EnhancedError) Error() string {
	return e.Err.Error()
}

func (e *EnhancedError) Unwrap() error {
	return e.Err
}

// GetComponent returns the component that produced the error.
func (e *EnhancedError) GetComponent() string { return e.component }

// GetCategory returns the error category.
func (e *EnhancedError) GetCategory() Category { return e.category }

// GetContext returns a copy of the error context.
func (e *EnhancedError) GetContext() map[string]any {
	return maps.Clone(e.context)
}

// GetTimestamp returns when the error was built.
func (e *EnhancedError) GetTimestamp() time.Time { return e.timestamp }

// ErrorBuilder accumulates metadata before Build.
type ErrorBuilder struct {
	err       error
	component string
	category  Category
	context   map[string]any
}

// New starts a builder wrapping err.
func New(err error) *ErrorBuilder {
	return &ErrorBuilder{err: err, category: CategoryInternal}
}

// Newf starts a builder with a formatted message. %w verbs wrap as usual.
func Newf(format string, args ...any) *ErrorBuilder {
	return New(fmt.Errorf(format, args...))
}

// Component sets the originating component.
func (b *ErrorBuilder) Component(component string) *ErrorBuilder {
	b.component = component
	return b
}

// Category sets the error category.
func (b *ErrorBuilder) Category(category Category) *ErrorBuilder {
	b.category = category
	return b
}

// Context attaches a key/value pair.
func (b *ErrorBuilder) Context(key string, value any) *ErrorBuilder {
	if b.context == nil {
		b.context = make(map[string]any)
	}
	b.context[key] = value
	return b
}

// Build finalizes the error and reports it if a reporter is installed.
func (b *ErrorBuilder) Build() error {
	e := &EnhancedError{
		Err:       b.err,
		component: b.component,
		category:  b.category,
		context:   b.context,
		timestamp: time.Now(),
	}
	report(e)
	return e
}

// Reporter receives built errors.
type Reporter interface {
	Report(err *EnhancedError)
}

var reporter atomic.Pointer[Reporter]

// SetReporter installs r as the process reporter. Passing nil disables reporting.
func SetReporter(r Reporter) {
	if r == nil {
		reporter.Store(nil)
		return
	}
	reporter.Store(&r)
}

func report(e *EnhancedError) {
	switch e.category {
	case CategoryValidation, CategoryNotFound:
		return
	}
	if r := reporter.Load(); r != nil {
		(*r).Report(e)
	}
}

// IsCategory reports whether any EnhancedError in err's chain has category c.
func IsCategory(err error, c Category) bool {
	for err != nil {
		var ee *EnhancedError
		if !stderrors.As(err, &ee) {
			return false
		}
		if ee.category == c {
			return true
		}
		err = ee.Err
	}
	return false
}

// CategoryOf returns the outermost category in err's chain, or "" if none.
func CategoryOf(err error) Category {
	var ee *EnhancedError
	if stderrors.As(err, &ee) {
		return ee.category
	}
	return ""
}

// Standard library passthroughs so callers import a single errors package.

func Is(err, target error) bool     { return stderrors.Is(err, target) }
func As(err error, target any) bool { return stderrors.As(err, target) }
func Join(errs ...error) error      { return stderrors.Join(errs...) }
func Unwrap(err error) error        { return stderrors.Unwrap(err) }

// NewStd creates a plain error, equivalent to the standard errors.New.
func NewStd(text string) error { return stderrors.New(text) }
