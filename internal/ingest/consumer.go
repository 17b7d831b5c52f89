package ingest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/aquasentinel/aquasentinel/internal/alerting"
	"github.com/aquasentinel/aquasentinel/internal/conf"
	"github.com/aquasentinel/aquasentinel/internal/errors"
	"github.com/aquasentinel/aquasentinel/internal/logger"
	"github.com/aquasentinel/aquasentinel/internal/metrics"
	paho "github.com/eclipse/paho.mqtt.golang"
)

const (
	connectTimeout    = 10 * time.Second
	disconnectQuiesce = 250 // milliseconds
)

// Sink accepts parsed readings without blocking. alerting.FactBus is a Sink.
type Sink interface {
	Publish(fc *alerting.FactContext) bool
}

// Consumer subscribes to reading topics and forwards every valid reading to
// its sink. Invalid messages are logged and dropped.
type Consumer struct {
	settings conf.MQTTSettings
	sink     Sink
	metrics  *metrics.Metrics
	log      logger.Logger
	now      func() time.Time

	mu     sync.Mutex
	client paho.Client
}

// Option customizes a Consumer.
type Option func(*Consumer)

// WithMetrics counts reading outcomes.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Consumer) { c.metrics = m }
}

// WithClock overrides the time used for readings without a timestamp.
func WithClock(now func() time.Time) Option {
	return func(c *Consumer) { c.now = now }
}

// NewConsumer creates a consumer. Call Connect to start receiving.
func NewConsumer(settings conf.MQTTSettings, sink Sink, log logger.Logger, opts ...Option) *Consumer {
	c := &Consumer{
		settings: settings,
		sink:     sink,
		log:      log.Module("ingest"),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Connect connects to the broker and subscribes. The subscription is renewed
// on every automatic reconnect.
func (c *Consumer) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client != nil && c.client.IsConnected() {
		return nil
	}

	opts := paho.NewClientOptions().
		AddBroker(c.settings.Broker).
		SetClientID(c.settings.ClientID).
		SetConnectTimeout(connectTimeout).
		SetAutoReconnect(true).
		SetCleanSession(true).
		SetOnConnectHandler(c.subscribe).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			c.log.Warn("mqtt connection lost", logger.Error(err))
		})
	if c.settings.Username != "" {
		opts.SetUsername(c.settings.Username)
		opts.SetPassword(c.settings.Password)
	}

	client := paho.NewClient(opts)
	token := client.Connect()
	select {
	case <-token.Done():
	case <-ctx.Done():
		client.Disconnect(0)
		return ctx.Err()
	}
	if err := token.Error(); err != nil {
		return errors.New(err).
			Component("ingest").
			Category(errors.CategoryConfiguration).
			Context("broker", c.settings.Broker).
			Build()
	}
	c.client = client
	return nil
}

func (c *Consumer) subscribe(client paho.Client) {
	filter := TopicFilter(c.settings.TopicPrefix)
	token := client.Subscribe(filter, byte(c.settings.QoS), func(_ paho.Client, msg paho.Message) {
		_ = c.HandleMessage(msg.Topic(), msg.Payload())
	})
	if !token.WaitTimeout(connectTimeout) {
		c.log.Error("mqtt subscribe timed out", logger.String("filter", filter))
		return
	}
	if err := token.Error(); err != nil {
		c.log.Error("mqtt subscribe failed", logger.String("filter", filter), logger.Error(err))
		return
	}
	c.log.Info("subscribed to sensor readings",
		logger.String("broker", c.settings.Broker),
		logger.String("filter", filter))
}

// HandleMessage parses one reading message and hands it to the sink.
func (c *Consumer) HandleMessage(topic string, payload []byte) error {
	fc, err := c.parse(topic, payload)
	if err != nil {
		c.metrics.ReadingIngested(metrics.ReadingRejected)
		c.log.Warn("rejected sensor reading",
			logger.String("topic", topic),
			logger.Int("bytes", len(payload)),
			logger.Error(err))
		return err
	}
	if !c.sink.Publish(fc) {
		c.metrics.ReadingIngested(metrics.ReadingDropped)
		c.log.Warn("reading dropped, fact bus full or stopped", logger.String("topic", topic))
		return fmt.Errorf("reading on %s dropped", topic)
	}
	c.metrics.ReadingIngested(metrics.ReadingAccepted)
	return nil
}

func (c *Consumer) parse(topic string, payload []byte) (*alerting.FactContext, error) {
	scope, err := ParseTopic(c.settings.TopicPrefix, topic)
	if err != nil {
		return nil, err
	}
	return ParseReading(scope, payload, c.now())
}

// IsConnected reports whether the client is connected.
func (c *Consumer) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.client != nil && c.client.IsConnected()
}

// Disconnect closes the connection. It is safe to call more than once.
func (c *Consumer) Disconnect() {
	c.mu.Lock()
	client := c.client
	c.client = nil
	c.mu.Unlock()
	if client != nil {
		client.Disconnect(disconnectQuiesce)
	}
}
