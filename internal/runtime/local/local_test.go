package local

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	goruntime "runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/michaelbrown/rex/internal/runtime"
)

func requireBash(t *testing.T) {
	t.Helper()
	if goruntime.GOOS != "linux" {
		t.Skip("sessions need Linux")
	}
	if _, err := os.Stat("/bin/bash"); err != nil {
		t.Skip("/bin/bash not available")
	}
}

func newRuntime(t *testing.T) *Runtime {
	t.Helper()
	r := New(Options{})
	t.Cleanup(func() { _ = r.Close(context.Background()) })
	return r
}

func TestRuntime_SessionLifecycle(t *testing.T) {
	requireBash(t)
	ctx := context.Background()
	r := newRuntime(t)

	resp, err := r.CreateSession(ctx, &runtime.CreateSessionRequest{Name: "default"})
	require.NoError(t, err)
	require.True(t, resp.Success)
	assert.Equal(t, []string{"default"}, r.Sessions())

	_, err = r.CreateSession(ctx, &runtime.CreateSessionRequest{Name: "default"})
	assert.True(t, errors.Is(err, runtime.ErrSessionExists), "got %v", err)

	obs, err := r.RunInSession(ctx, &runtime.Action{Session: "default", Command: "echo hello", Timeout: 5})
	require.NoError(t, err)
	assert.Equal(t, "hello\n", obs.Output)
	assert.Equal(t, "0", obs.ExitCodeRaw)

	_, err = r.CloseSession(ctx, &runtime.CloseSessionRequest{Session: "default"})
	require.NoError(t, err)
	assert.Empty(t, r.Sessions())

	_, err = r.RunInSession(ctx, &runtime.Action{Session: "default", Command: "echo hello"})
	assert.True(t, errors.Is(err, runtime.ErrSessionNotFound), "got %v", err)

	// A closed name can be reused.
	resp, err = r.CreateSession(ctx, &runtime.CreateSessionRequest{Name: "default"})
	require.NoError(t, err)
	assert.True(t, resp.Success)
}

func TestRuntime_UnknownSession(t *testing.T) {
	r := newRuntime(t)

	_, err := r.RunInSession(context.Background(), &runtime.Action{Session: "ghost", Command: "true"})
	assert.True(t, errors.Is(err, runtime.ErrSessionNotFound))

	_, err = r.CloseSession(context.Background(), &runtime.CloseSessionRequest{Session: "ghost"})
	assert.True(t, errors.Is(err, runtime.ErrSessionNotFound))
}

func TestRuntime_Execute(t *testing.T) {
	requireBash(t)
	ctx := context.Background()
	r := newRuntime(t)

	resp, err := r.Execute(ctx, &runtime.Command{Command: runtime.CommandLine{"echo", "out"}})
	require.NoError(t, err)
	assert.Equal(t, "out\n", resp.Stdout)
	assert.Equal(t, 0, resp.ExitCode)

	resp, err = r.Execute(ctx, &runtime.Command{
		Command: runtime.CommandLine{"echo $GREETING >&2; exit 4"},
		Shell:   true,
		Env:     map[string]string{"GREETING": "hi"},
	})
	require.NoError(t, err)
	assert.Equal(t, "hi\n", resp.Stderr)
	assert.Equal(t, 4, resp.ExitCode)

	_, err = r.Execute(ctx, &runtime.Command{Command: runtime.CommandLine{"exit 1"}, Shell: true, Check: true})
	assert.True(t, errors.Is(err, runtime.ErrNonZeroExitCode), "got %v", err)

	_, err = r.Execute(ctx, &runtime.Command{Command: runtime.CommandLine{"sleep 5"}, Shell: true, Timeout: 0.1})
	assert.True(t, errors.Is(err, runtime.ErrCommandTimeout), "got %v", err)

	dir := t.TempDir()
	resp, err = r.Execute(ctx, &runtime.Command{Command: runtime.CommandLine{"pwd"}, Cwd: dir})
	require.NoError(t, err)
	resolved, _ := filepath.EvalSymlinks(dir)
	assert.Contains(t, []string{dir + "\n", resolved + "\n"}, resp.Stdout)
}

func TestRuntime_Files(t *testing.T) {
	ctx := context.Background()
	r := newRuntime(t)
	path := filepath.Join(t.TempDir(), "a", "b", "c.txt")

	_, err := r.WriteFile(ctx, &runtime.WriteFileRequest{Path: path, Content: "content"})
	require.NoError(t, err)

	got, err := r.ReadFile(ctx, &runtime.ReadFileRequest{Path: path})
	require.NoError(t, err)
	assert.Equal(t, "content", got.Content)

	_, err = r.ReadFile(ctx, &runtime.ReadFileRequest{Path: filepath.Join(t.TempDir(), "missing")})
	assert.Error(t, err)
}

func TestRuntime_Upload(t *testing.T) {
	ctx := context.Background()
	r := newRuntime(t)

	src := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(src, "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "sub", "f.txt"), []byte("x"), 0o644))

	target := filepath.Join(t.TempDir(), "dest")
	_, err := r.Upload(ctx, &runtime.UploadRequest{SourcePath: src, TargetPath: target})
	require.NoError(t, err)

	got, err := r.ReadFile(ctx, &runtime.ReadFileRequest{Path: filepath.Join(target, "sub", "f.txt")})
	require.NoError(t, err)
	assert.Equal(t, "x", got.Content)
}

func TestRuntime_IsAlive(t *testing.T) {
	r := newRuntime(t)
	resp, err := r.IsAlive(context.Background(), 0)
	require.NoError(t, err)
	assert.True(t, resp.IsAlive)
}
