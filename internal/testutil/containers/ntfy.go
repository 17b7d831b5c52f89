//go:build integration

package containers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/testcontainers/testcontainers-go"
	tcexec "github.com/testcontainers/testcontainers-go/exec"
	"github.com/testcontainers/testcontainers-go/wait"
)

// NtfyConfig configures NewNtfyContainer.
type NtfyConfig struct {
	ImageTag string
	// EnableAuth turns on the user database with deny-all default access.
	EnableAuth bool
}

// DefaultNtfyConfig returns an anonymous ntfy server configuration.
func DefaultNtfyConfig() NtfyConfig {
	return NtfyConfig{ImageTag: "latest"}
}

// NtfyMessage is one cached message returned by a poll.
type NtfyMessage struct {
	ID      string `json:"id"`
	Event   string `json:"event"`
	Topic   string `json:"topic"`
	Title   string `json:"title"`
	Message string `json:"message"`
	Time    int64  `json:"time"`
}

// NtfyContainer is a running ntfy push server.
type NtfyContainer struct {
	container   testcontainers.Container
	host        string
	authEnabled bool
	client      *http.Client
}

// NewNtfyContainer starts ntfy. A nil config selects DefaultNtfyConfig.
func NewNtfyContainer(ctx context.Context, config *NtfyConfig) (*NtfyContainer, error) {
	cfg := DefaultNtfyConfig()
	if config != nil {
		cfg = *config
	}

	req := testcontainers.ContainerRequest{
		Image:        "binwiederhier/ntfy:" + cfg.ImageTag,
		ExposedPorts: []string{"80/tcp"},
		Cmd:          []string{"serve", "--cache-file=/var/cache/ntfy/cache.db"},
		Tmpfs:        map[string]string{"/var/cache/ntfy": "rw"},
		WaitingFor:   wait.ForHTTP("/v1/health").WithPort("80/tcp").WithStartupTimeout(readyTimeout),
	}
	if cfg.EnableAuth {
		req.Env = map[string]string{
			"NTFY_AUTH_FILE":           "/var/cache/ntfy/auth.db",
			"NTFY_AUTH_DEFAULT_ACCESS": "deny-all",
		}
	}

	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start ntfy container: %w", err)
	}

	host, err := c.Host(ctx)
	if err != nil {
		_ = terminate("ntfy", func(ctx context.Context) error { return c.Terminate(ctx) })
		return nil, fmt.Errorf("failed to get ntfy host: %w", err)
	}
	port, err := c.MappedPort(ctx, "80")
	if err != nil {
		_ = terminate("ntfy", func(ctx context.Context) error { return c.Terminate(ctx) })
		return nil, fmt.Errorf("failed to get ntfy port: %w", err)
	}

	return &NtfyContainer{
		container:   c,
		host:        net.JoinHostPort(host, port.Port()),
		authEnabled: cfg.EnableAuth,
		client:      &http.Client{Timeout: 10 * time.Second},
	}, nil
}

// GetHost returns host:port of the server, suitable for ntfy:// URLs.
func (c *NtfyContainer) GetHost(_ context.Context) string {
	return c.host
}

// AddUser creates a user without any topic access.
func (c *NtfyContainer) AddUser(ctx context.Context, username, password string) error {
	return c.exec(ctx, []string{"ntfy", "user", "add", username},
		tcexec.WithEnv([]string{"NTFY_PASSWORD=" + password}))
}

// GrantAccess gives username "ro", "wo" or "rw" permission on topic.
func (c *NtfyContainer) GrantAccess(ctx context.Context, username, topic, permission string) error {
	return c.exec(ctx, []string{"ntfy", "access", username, topic, permission})
}

func (c *NtfyContainer) exec(ctx context.Context, cmd []string, opts ...tcexec.ProcessOption) error {
	if !c.authEnabled {
		return fmt.Errorf("%s: authentication is not enabled", cmd[1])
	}
	code, out, err := c.container.Exec(ctx, cmd, opts...)
	if err != nil {
		return fmt.Errorf("ntfy %s: %w", cmd[1], err)
	}
	if code != 0 {
		msg, _ := io.ReadAll(out)
		return fmt.Errorf("ntfy %s exited with %d: %s", cmd[1], code, msg)
	}
	return nil
}

// PollMessages returns the cached messages of topic.
func (c *NtfyContainer) PollMessages(ctx context.Context, topic string) ([]NtfyMessage, error) {
	return c.poll(ctx, topic, "", "")
}

// PollMessagesWithAuth is PollMessages with basic auth.
func (c *NtfyContainer) PollMessagesWithAuth(ctx context.Context, topic, username, password string) ([]NtfyMessage, error) {
	return c.poll(ctx, topic, username, password)
}

func (c *NtfyContainer) poll(ctx context.Context, topic, username, password string) ([]NtfyMessage, error) {
	url := fmt.Sprintf("http://%s/%s/json?poll=1", c.host, topic)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return nil, err
	}
	if username != "" {
		req.SetBasicAuth(username, password)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to poll %s: %w", topic, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("poll %s returned %d: %s", topic, resp.StatusCode, body)
	}

	// The poll endpoint streams one JSON object per line.
	var messages []NtfyMessage
	dec := json.NewDecoder(resp.Body)
	for dec.More() {
		var msg NtfyMessage
		if err := dec.Decode(&msg); err != nil {
			return nil, fmt.Errorf("failed to decode ntfy message: %w", err)
		}
		if msg.Event != "" && msg.Event != "message" {
			continue
		}
		messages = append(messages, msg)
	}
	return messages, nil
}

// Terminate removes the container.
func (c *NtfyContainer) Terminate(ctx context.Context) error {
	if err := c.container.Terminate(ctx); err != nil {
		return fmt.Errorf("failed to terminate ntfy container: %w", err)
	}
	return nil
}
