//go:build integration

package containers

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// readyTimeout bounds how long a started container may take to accept clients.
const readyTimeout = 30 * time.Second

// waitReady polls check with exponential backoff until it succeeds or
// readyTimeout elapses.
func waitReady(ctx context.Context, name string, check func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, readyTimeout)
	defer cancel()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxInterval = 2 * time.Second
	b.MaxElapsedTime = 0

	var attempts int
	err := backoff.Retry(func() error {
		attempts++
		return check(ctx)
	}, backoff.WithContext(b, ctx))
	if err != nil {
		return fmt.Errorf("%s not ready after %d attempts: %w", name, attempts, err)
	}
	return nil
}

// terminate stops a container with a fresh context so cleanup still runs
// when the caller's context has expired.
func terminate(name string, stop func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := stop(ctx); err != nil {
		return fmt.Errorf("failed to terminate %s container: %w", name, err)
	}
	return nil
}
