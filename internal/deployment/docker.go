package deployment

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/michaelbrown/rex/internal/logging"
	"github.com/michaelbrown/rex/internal/runtime"
	"github.com/michaelbrown/rex/internal/runtime/remote"
)

// runner executes a docker CLI command and returns its stdout.
type runner func(ctx context.Context, args ...string) (string, error)

func dockerCLI(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "docker", args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return stdout.String(), fmt.Errorf("docker %s: %w: %s", args[0], err, strings.TrimSpace(stderr.String()))
	}
	return stdout.String(), nil
}

// Docker runs a rex server inside a container and talks to it over HTTP.
type Docker struct {
	cfg    *DockerConfig
	logger *log.Logger
	docker runner

	container string
	token     string
	rt        *remote.Runtime
}

// NewDocker creates an unstarted container deployment.
func NewDocker(cfg *DockerConfig, logger *log.Logger) *Docker {
	return &Docker{cfg: cfg, logger: logging.OrDiscard(logger), docker: dockerCLI}
}

// Start pulls the image if needed, runs the container and waits for the
// server inside it. On failure the container is removed again.
func (d *Docker) Start(ctx context.Context) error {
	if d.rt != nil {
		return nil
	}
	if !d.cfg.Policy.IsImageAllowed(d.cfg.Image) {
		return fmt.Errorf("image %q not in allowlist", d.cfg.Image)
	}
	if err := d.pull(ctx); err != nil {
		return err
	}

	port := d.cfg.Port
	if port == 0 {
		var err error
		if port, err = freePort(); err != nil {
			return err
		}
	}

	d.token = d.cfg.AuthToken
	if d.token == "" {
		d.token = uuid.NewString()
	}
	d.container = "rex-" + uuid.NewString()[:8]

	if _, err := d.docker(ctx, d.runArgs(port)...); err != nil {
		return fmt.Errorf("starting container: %w", err)
	}
	d.logger.Info("container started", "container", d.container, "image", d.cfg.Image, "port", port)

	rt := remote.New(remote.Options{
		Host:      "http://127.0.0.1",
		Port:      port,
		AuthToken: d.token,
		Logger:    d.logger,
	})
	if err := rt.WaitUntilAlive(ctx, d.cfg.StartupTimeout); err != nil {
		d.kill(context.WithoutCancel(ctx))
		return fmt.Errorf("waiting for runtime in %s: %w", d.container, err)
	}
	d.rt = rt
	return nil
}

func (d *Docker) runArgs(port int) []string {
	args := []string{
		"run", "--rm", "-d",
		"--name", d.container,
		"-p", fmt.Sprintf("%d:%d", port, d.cfg.ContainerPort),
		"-e", "REX_SERVER_AUTH_TOKEN=" + d.token,
		"-e", "REX_SERVER_PORT=" + strconv.Itoa(d.cfg.ContainerPort),
	}
	args = append(args, d.cfg.Policy.RunArgs()...)
	args = append(args, d.cfg.DockerArgs...)
	args = append(args, d.cfg.Image)
	return append(args, d.cfg.Command...)
}

func (d *Docker) pull(ctx context.Context) error {
	switch d.cfg.Pull {
	case PullNever:
		return nil
	case PullMissing:
		if _, err := d.docker(ctx, "image", "inspect", d.cfg.Image); err == nil {
			return nil
		}
	}
	d.logger.Info("pulling image", "image", d.cfg.Image)
	if _, err := d.docker(ctx, "pull", d.cfg.Image); err != nil {
		return fmt.Errorf("pulling image: %w", err)
	}
	return nil
}

// Stop closes the runtime, kills the container and optionally removes the
// image. Safe to call on an unstarted deployment.
func (d *Docker) Stop(ctx context.Context) error {
	var errs []error
	if d.rt != nil {
		if err := d.rt.Close(ctx); err != nil {
			d.logger.Warn("closing runtime", "error", err)
		}
		d.rt = nil
	}
	if d.container != "" {
		errs = append(errs, d.kill(ctx))
	}
	if d.cfg.RemoveImages {
		if _, err := d.docker(ctx, "rmi", d.cfg.Image); err != nil {
			errs = append(errs, fmt.Errorf("removing image: %w", err))
		}
	}
	return errors.Join(errs...)
}

func (d *Docker) kill(ctx context.Context) error {
	name := d.container
	d.container = ""
	if _, err := d.docker(ctx, "kill", name); err != nil {
		return fmt.Errorf("killing container %s: %w", name, err)
	}
	d.logger.Info("container stopped", "container", name)
	return nil
}

func (d *Docker) Runtime() (runtime.Runtime, error) {
	if d.rt == nil {
		return nil, ErrNotStarted
	}
	return d.rt, nil
}

func (d *Docker) IsAlive(ctx context.Context, timeout time.Duration) (*runtime.IsAliveResponse, error) {
	return isAlive(ctx, d, timeout)
}

// freePort asks the kernel for an unused TCP port.
func freePort() (int, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, fmt.Errorf("finding free port: %w", err)
	}
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port, nil
}
