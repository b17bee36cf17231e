package deployment

import (
	"context"
	"errors"
	"net"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/michaelbrown/rex/internal/runtime"
	"github.com/michaelbrown/rex/internal/runtime/dummy"
	"github.com/michaelbrown/rex/internal/server"
)

func TestParseConfig(t *testing.T) {
	cfg, err := ParseConfig([]byte(`
type: docker
image: ghcr.io/acme/rex:1.2
startup_timeout: 30s
docker_args: ["--privileged"]
pull: never
policy:
  max_memory: 4g
`))
	require.NoError(t, err)
	docker, ok := cfg.(*DockerConfig)
	require.True(t, ok, "got %T", cfg)
	assert.Equal(t, "ghcr.io/acme/rex:1.2", docker.Image)
	assert.Equal(t, 30*time.Second, docker.StartupTimeout)
	assert.Equal(t, PullNever, docker.Pull)
	assert.Equal(t, "4g", docker.Policy.MaxMemory)
	assert.Equal(t, 8000, docker.ContainerPort, "defaults survive decoding")
	assert.Equal(t, []string{"rex", "serve"}, docker.Command)
}

func TestParseConfig_Variants(t *testing.T) {
	for doc, want := range map[string]string{
		"":                                "local",
		"type: local":                     "local",
		"type: dummy":                     "dummy",
		"type: remote\nauth_token: token": "remote",
	} {
		cfg, err := ParseConfig([]byte(doc))
		require.NoError(t, err, doc)
		assert.Equal(t, want, cfg.Kind(), doc)
	}
}

func TestParseConfig_Rejects(t *testing.T) {
	for _, doc := range []string{
		"type: modal",
		"type: local\nimage: x",
		"type: docker\npull: sometimes",
		"type: remote\nhost: example.com",
		"type: [",
	} {
		_, err := ParseConfig([]byte(doc))
		assert.Error(t, err, doc)
	}
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "deployment.yaml")
	require.NoError(t, os.WriteFile(path, []byte("type: dummy\n"), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "dummy", cfg.Kind())
}

func TestNew_LocalLifecycle(t *testing.T) {
	ctx := context.Background()
	d, err := New(&LocalConfig{}, Options{})
	require.NoError(t, err)

	_, err = d.Runtime()
	assert.True(t, errors.Is(err, ErrNotStarted))
	alive, err := d.IsAlive(ctx, 0)
	require.NoError(t, err)
	assert.False(t, alive.IsAlive)

	require.NoError(t, d.Start(ctx))
	alive, err = d.IsAlive(ctx, 0)
	require.NoError(t, err)
	assert.True(t, alive.IsAlive)

	require.NoError(t, d.Stop(ctx))
	_, err = d.Runtime()
	assert.True(t, errors.Is(err, ErrNotStarted))
}

func TestNew_Dummy(t *testing.T) {
	d, err := New(&DummyConfig{}, Options{})
	require.NoError(t, err)
	require.NoError(t, d.Start(context.Background()))

	rt, err := d.Runtime()
	require.NoError(t, err)
	_, err = rt.CreateSession(context.Background(), &runtime.CreateSessionRequest{Name: "s"})
	require.NoError(t, err)
	require.NoError(t, d.Stop(context.Background()))
}

func serverPort(t *testing.T, token string) int {
	t.Helper()
	ts := httptest.NewServer(server.New(dummy.New(), server.Options{AuthToken: token}).Handler())
	t.Cleanup(ts.Close)
	return ts.Listener.Addr().(*net.TCPAddr).Port
}

func TestRemote_StartWaitsForServer(t *testing.T) {
	port := serverPort(t, "tok")
	d, err := New(&RemoteConfig{Host: "127.0.0.1", Port: port, AuthToken: "tok", StartupTimeout: 5 * time.Second}, Options{})
	require.NoError(t, err)
	require.NoError(t, d.Start(context.Background()))

	alive, err := d.IsAlive(context.Background(), time.Second)
	require.NoError(t, err)
	assert.True(t, alive.IsAlive)
}

func TestRemote_StartTimesOut(t *testing.T) {
	port := serverPort(t, "right")
	d, err := New(&RemoteConfig{Host: "127.0.0.1", Port: port, AuthToken: "wrong", StartupTimeout: 200 * time.Millisecond}, Options{})
	require.NoError(t, err)

	err = d.Start(context.Background())
	assert.True(t, errors.Is(err, runtime.ErrTimeout), "got %v", err)
}

type fakeDocker struct {
	mu    sync.Mutex
	calls [][]string
	fail  map[string]error
}

func (f *fakeDocker) run(ctx context.Context, args ...string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, args)
	return "", f.fail[args[0]]
}

func (f *fakeDocker) commands() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, c := range f.calls {
		out = append(out, strings.Join(c, " "))
	}
	return out
}

func TestDocker_StartAndStop(t *testing.T) {
	ctx := context.Background()
	cfg := DefaultDockerConfig()
	cfg.Image = "rex:test"
	cfg.AuthToken = "tok"
	cfg.Port = serverPort(t, "tok")
	cfg.StartupTimeout = 5 * time.Second
	cfg.RemoveImages = true

	fake := &fakeDocker{}
	d := NewDocker(cfg, nil)
	d.docker = fake.run

	require.NoError(t, d.Start(ctx))
	_, err := d.Runtime()
	require.NoError(t, err)
	require.NoError(t, d.Stop(ctx))

	cmds := fake.commands()
	require.Len(t, cmds, 4)
	assert.Equal(t, "image inspect rex:test", cmds[0])
	assert.Contains(t, cmds[1], "run --rm -d --name rex-")
	assert.Contains(t, cmds[1], "-e REX_SERVER_AUTH_TOKEN=tok")
	assert.Contains(t, cmds[1], "--memory 2g")
	assert.True(t, strings.HasSuffix(cmds[1], "rex:test rex serve"), cmds[1])
	assert.True(t, strings.HasPrefix(cmds[2], "kill rex-"), cmds[2])
	assert.Equal(t, "rmi rex:test", cmds[3])
}

func TestDocker_PullWhenMissing(t *testing.T) {
	cfg := DefaultDockerConfig()
	cfg.Port = serverPort(t, "tok")
	cfg.AuthToken = "tok"

	fake := &fakeDocker{fail: map[string]error{"image": errors.New("no such image")}}
	d := NewDocker(cfg, nil)
	d.docker = fake.run

	require.NoError(t, d.Start(context.Background()))
	assert.Equal(t, "pull "+cfg.Image, fake.commands()[1])
}

func TestDocker_FailedStartKillsContainer(t *testing.T) {
	cfg := DefaultDockerConfig()
	cfg.Pull = PullNever
	cfg.Port = serverPort(t, "right")
	cfg.AuthToken = "wrong"
	cfg.StartupTimeout = 200 * time.Millisecond

	fake := &fakeDocker{}
	d := NewDocker(cfg, nil)
	d.docker = fake.run

	err := d.Start(context.Background())
	require.Error(t, err)
	cmds := fake.commands()
	assert.True(t, strings.HasPrefix(cmds[len(cmds)-1], "kill rex-"), cmds)
}

func TestDocker_ImageNotAllowed(t *testing.T) {
	cfg := DefaultDockerConfig()
	cfg.Policy.Images = []string{"rex:approved"}

	d := NewDocker(cfg, nil)
	d.docker = (&fakeDocker{}).run
	err := d.Start(context.Background())
	assert.ErrorContains(t, err, "allowlist")
}
