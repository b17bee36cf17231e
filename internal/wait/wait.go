// Package wait polls a runtime until it reports itself alive.
package wait

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/michaelbrown/rex/internal/runtime"
)

const (
	// DefaultTimeout applies when UntilAlive is given a zero timeout.
	DefaultTimeout = 60 * time.Second

	initialInterval = 100 * time.Millisecond
	maxInterval     = time.Second
	probeTimeout    = 5 * time.Second
)

// Probe is the liveness check being polled, usually Runtime.IsAlive.
type Probe func(ctx context.Context, timeout time.Duration) (*runtime.IsAliveResponse, error)

var errNotAlive = errors.New("not alive")

// UntilAlive calls probe with exponential backoff until it reports alive or
// timeout elapses. Probe errors count as "not alive yet". On timeout the
// returned error wraps runtime.ErrTimeout and carries the last diagnostic.
func UntilAlive(ctx context.Context, probe Probe, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = initialInterval
	b.MaxInterval = maxInterval

	lastMessage := "no response"
	op := func() (struct{}, error) {
		perProbe := min(probeTimeout, time.Until(deadline(ctx)))
		resp, err := probe(ctx, perProbe)
		switch {
		case err != nil:
			lastMessage = err.Error()
			return struct{}{}, err
		case !resp.IsAlive:
			lastMessage = resp.Message
			return struct{}{}, errNotAlive
		}
		return struct{}{}, nil
	}

	_, err := backoff.Retry(ctx, op, backoff.WithBackOff(b), backoff.WithMaxElapsedTime(timeout))
	if err == nil {
		return nil
	}
	if parentErr := context.Cause(ctx); parentErr != nil && !errors.Is(parentErr, context.DeadlineExceeded) {
		return parentErr
	}
	return fmt.Errorf("%w after %s: %s", runtime.ErrTimeout, timeout, lastMessage)
}

func deadline(ctx context.Context) time.Time {
	d, ok := ctx.Deadline()
	if !ok {
		return time.Now().Add(probeTimeout)
	}
	return d
}
