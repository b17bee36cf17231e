package wait

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/michaelbrown/rex/internal/runtime"
)

func TestUntilAlive_EventuallyAlive(t *testing.T) {
	var calls atomic.Int32
	probe := func(ctx context.Context, timeout time.Duration) (*runtime.IsAliveResponse, error) {
		if calls.Add(1) < 3 {
			return &runtime.IsAliveResponse{Message: "booting"}, nil
		}
		return &runtime.IsAliveResponse{IsAlive: true}, nil
	}

	require.NoError(t, UntilAlive(context.Background(), probe, 5*time.Second))
	assert.Equal(t, int32(3), calls.Load())
}

func TestUntilAlive_TimeoutCarriesLastMessage(t *testing.T) {
	probe := func(ctx context.Context, timeout time.Duration) (*runtime.IsAliveResponse, error) {
		return &runtime.IsAliveResponse{Message: "connection refused"}, nil
	}

	start := time.Now()
	err := UntilAlive(context.Background(), probe, 300*time.Millisecond)
	require.Error(t, err)
	assert.True(t, errors.Is(err, runtime.ErrTimeout), "got %v", err)
	assert.Contains(t, err.Error(), "connection refused")
	assert.Less(t, time.Since(start), 3*time.Second)
}

func TestUntilAlive_ProbeErrorsAreRetried(t *testing.T) {
	var calls atomic.Int32
	probe := func(ctx context.Context, timeout time.Duration) (*runtime.IsAliveResponse, error) {
		if calls.Add(1) == 1 {
			return nil, errors.New("flaky")
		}
		return &runtime.IsAliveResponse{IsAlive: true}, nil
	}

	require.NoError(t, UntilAlive(context.Background(), probe, 5*time.Second))
}

func TestUntilAlive_ParentCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	probe := func(ctx context.Context, timeout time.Duration) (*runtime.IsAliveResponse, error) {
		return &runtime.IsAliveResponse{}, nil
	}

	err := UntilAlive(ctx, probe, time.Second)
	assert.True(t, errors.Is(err, context.Canceled), "got %v", err)
}
