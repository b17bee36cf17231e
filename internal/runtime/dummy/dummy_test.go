package dummy

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/michaelbrown/rex/internal/runtime"
)

func TestRuntime_ReplaysQueue(t *testing.T) {
	ctx := context.Background()
	r := New()

	_, err := r.CreateSession(ctx, &runtime.CreateSessionRequest{Name: "s"})
	require.NoError(t, err)

	r.Queue(&runtime.Observation{Output: "first", ExitCodeRaw: "0"}, &runtime.Observation{Output: "second", ExitCodeRaw: "1"})

	for _, want := range []string{"first", "second", ""} {
		obs, err := r.RunInSession(ctx, &runtime.Action{Session: "s", Command: "x"})
		require.NoError(t, err)
		assert.Equal(t, want, obs.Output)
	}
	assert.Len(t, r.Actions(), 3)
}

func TestRuntime_SessionErrors(t *testing.T) {
	ctx := context.Background()
	r := New()

	_, err := r.RunInSession(ctx, &runtime.Action{Session: "missing"})
	assert.True(t, errors.Is(err, runtime.ErrSessionNotFound))

	_, err = r.CreateSession(ctx, &runtime.CreateSessionRequest{Name: "s"})
	require.NoError(t, err)
	_, err = r.CreateSession(ctx, &runtime.CreateSessionRequest{Name: "s"})
	assert.True(t, errors.Is(err, runtime.ErrSessionExists))

	_, err = r.RunInSession(ctx, &runtime.Action{Session: "s", IsInteractiveCommand: true, IsInteractiveQuit: true})
	assert.True(t, errors.Is(err, runtime.ErrInvalidAction))
}

func TestRuntime_Files(t *testing.T) {
	ctx := context.Background()
	r := New()

	_, err := r.ReadFile(ctx, &runtime.ReadFileRequest{Path: "/a"})
	assert.Error(t, err)

	_, err = r.WriteFile(ctx, &runtime.WriteFileRequest{Path: "/a", Content: "x"})
	require.NoError(t, err)
	got, err := r.ReadFile(ctx, &runtime.ReadFileRequest{Path: "/a"})
	require.NoError(t, err)
	assert.Equal(t, "x", got.Content)
}
