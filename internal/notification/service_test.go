package notification

import (
	"context"
	"testing"

	"github.com/aquasentinel/aquasentinel/internal/severity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewService_WiresComponents(t *testing.T) {
	t.Parallel()
	h := &countingHandler{}
	svc := NewService(&ServiceConfig{
		Dispatcher: DefaultDispatcherConfig(),
		Handlers:   map[Channel]Handler{ChannelEmail: h},
	})
	defer svc.Close()

	assert.Equal(t, []Channel{ChannelEmail}, svc.Handlers.Channels())

	events := make(chan DeliveryEvent, 1)
	svc.Events.Subscribe(func(ev DeliveryEvent) { events <- ev })
	res, err := svc.Dispatcher.Send(context.Background(), &Request{UserID: "u1", Severity: severity.Low, Title: "Heartbeat"})
	require.NoError(t, err)
	assert.Equal(t, StatusSent, res.Outcome())
	assert.Equal(t, EventSent, (<-events).Type)
}
