//go:build integration

//nolint:misspell // Mosquitto is the official Eclipse project name
package containers

import (
	"context"
	"fmt"
	"net"
	"strings"
	"testing"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// mosquittoConf allows anonymous clients on the default listener.
const mosquittoConf = `listener 1883
allow_anonymous true
persistence false
`

// MosquittoConfig configures NewMosquittoContainer.
type MosquittoConfig struct {
	ImageTag string
}

// DefaultMosquittoConfig returns the broker configuration used by ingest tests.
func DefaultMosquittoConfig() MosquittoConfig {
	return MosquittoConfig{ImageTag: "2.0"}
}

// MosquittoContainer is a running anonymous MQTT broker.
type MosquittoContainer struct {
	container testcontainers.Container
	brokerURL string
}

// NewMosquittoContainer starts Mosquitto. A nil config selects
// DefaultMosquittoConfig.
func NewMosquittoContainer(ctx context.Context, config *MosquittoConfig) (*MosquittoContainer, error) {
	cfg := DefaultMosquittoConfig()
	if config != nil {
		cfg = *config
	}

	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "eclipse-mosquitto:" + cfg.ImageTag,
			ExposedPorts: []string{"1883/tcp"},
			Files: []testcontainers.ContainerFile{{
				Reader:            strings.NewReader(mosquittoConf),
				ContainerFilePath: "/mosquitto/config/mosquitto.conf",
				FileMode:          0o644,
			}},
			WaitingFor: wait.ForListeningPort("1883/tcp").WithStartupTimeout(readyTimeout),
		},
		Started: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start Mosquitto container: %w", err)
	}

	host, err := c.Host(ctx)
	if err != nil {
		_ = terminate("mosquitto", func(ctx context.Context) error { return c.Terminate(ctx) })
		return nil, fmt.Errorf("failed to get Mosquitto host: %w", err)
	}
	port, err := c.MappedPort(ctx, "1883")
	if err != nil {
		_ = terminate("mosquitto", func(ctx context.Context) error { return c.Terminate(ctx) })
		return nil, fmt.Errorf("failed to get Mosquitto port: %w", err)
	}

	mc := &MosquittoContainer{
		container: c,
		brokerURL: "tcp://" + net.JoinHostPort(host, port.Port()),
	}
	if err := waitReady(ctx, "mosquitto", mc.ping); err != nil {
		_ = mc.Terminate(context.Background())
		return nil, err
	}
	return mc, nil
}

// BrokerURL returns the broker address, e.g. "tcp://localhost:32771".
func (c *MosquittoContainer) BrokerURL() string {
	return c.brokerURL
}

func (c *MosquittoContainer) ping(context.Context) error {
	client, err := c.connect("aquasentinel-ready")
	if err != nil {
		return err
	}
	client.Disconnect(100)
	return nil
}

func (c *MosquittoContainer) connect(clientID string) (paho.Client, error) {
	opts := paho.NewClientOptions().
		AddBroker(c.brokerURL).
		SetClientID(clientID).
		SetConnectTimeout(5 * time.Second).
		SetAutoReconnect(false).
		SetCleanSession(true)
	client := paho.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(5 * time.Second) {
		return nil, fmt.Errorf("connect timeout for client %s", clientID)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("client %s failed to connect: %w", clientID, err)
	}
	return client, nil
}

// NewClient returns a connected client that is disconnected when t ends.
func (c *MosquittoContainer) NewClient(t *testing.T, clientID string) paho.Client {
	t.Helper()
	client, err := c.connect(clientID)
	if err != nil {
		t.Fatalf("mqtt client: %v", err)
	}
	t.Cleanup(func() { client.Disconnect(250) })
	return client
}

// Publish sends payload to topic with QoS 1 and waits for the broker ack.
func (c *MosquittoContainer) Publish(t *testing.T, client paho.Client, topic string, payload []byte) {
	t.Helper()
	token := client.Publish(topic, 1, false, payload)
	if !token.WaitTimeout(5 * time.Second) {
		t.Fatalf("publish to %s timed out", topic)
	}
	if err := token.Error(); err != nil {
		t.Fatalf("publish to %s: %v", topic, err)
	}
}

// Terminate removes the container.
func (c *MosquittoContainer) Terminate(ctx context.Context) error {
	if err := c.container.Terminate(ctx); err != nil {
		return fmt.Errorf("failed to terminate mosquitto container: %w", err)
	}
	return nil
}
