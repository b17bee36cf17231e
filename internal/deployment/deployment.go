// Package deployment starts and stops the places a runtime can live: this
// process, a Docker container, an already running server, or nowhere at all
// (dummy).
package deployment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"

	"github.com/michaelbrown/rex/internal/runtime"
	"github.com/michaelbrown/rex/internal/runtime/dummy"
	"github.com/michaelbrown/rex/internal/runtime/local"
	"github.com/michaelbrown/rex/internal/runtime/remote"
	"github.com/michaelbrown/rex/internal/terminal"
)

// ErrNotStarted is returned by Runtime before Start succeeded.
var ErrNotStarted = errors.New("deployment not started")

// Deployment owns the lifecycle of one runtime.
type Deployment interface {
	// Start brings the runtime up and waits until it answers.
	Start(ctx context.Context) error
	// Stop closes the runtime and releases what Start acquired.
	Stop(ctx context.Context) error
	// Runtime returns the started runtime, or ErrNotStarted.
	Runtime() (runtime.Runtime, error)
	IsAlive(ctx context.Context, timeout time.Duration) (*runtime.IsAliveResponse, error)
}

// Options carries process-wide settings into New.
type Options struct {
	// Session applies to runtimes created in this process.
	Session terminal.Options
	Logger  *log.Logger
}

// New builds the deployment described by cfg.
func New(cfg Config, opts Options) (Deployment, error) {
	switch c := cfg.(type) {
	case *LocalConfig:
		return &Local{opts: local.Options{Session: opts.Session, Logger: opts.Logger}}, nil
	case *DockerConfig:
		return NewDocker(c, opts.Logger), nil
	case *RemoteConfig:
		return &Remote{cfg: c, logger: opts.Logger}, nil
	case *DummyConfig:
		return &Dummy{rt: dummy.New()}, nil
	default:
		return nil, fmt.Errorf("unsupported deployment config %T", cfg)
	}
}

// Local runs sessions in this process.
type Local struct {
	opts local.Options
	rt   *local.Runtime
}

func (d *Local) Start(ctx context.Context) error {
	if d.rt == nil {
		d.rt = local.New(d.opts)
	}
	return nil
}

func (d *Local) Stop(ctx context.Context) error {
	if d.rt == nil {
		return nil
	}
	err := d.rt.Close(ctx)
	d.rt = nil
	return err
}

func (d *Local) Runtime() (runtime.Runtime, error) {
	if d.rt == nil {
		return nil, ErrNotStarted
	}
	return d.rt, nil
}

func (d *Local) IsAlive(ctx context.Context, timeout time.Duration) (*runtime.IsAliveResponse, error) {
	return isAlive(ctx, d, timeout)
}

// Remote connects to a server somebody else started.
type Remote struct {
	cfg    *RemoteConfig
	logger *log.Logger
	rt     *remote.Runtime
}

func (d *Remote) Start(ctx context.Context) error {
	rt := remote.New(remote.Options{
		Host:      d.cfg.Host,
		Port:      d.cfg.Port,
		AuthToken: d.cfg.AuthToken,
		Timeout:   d.cfg.Timeout,
		Logger:    d.logger,
	})
	if err := rt.WaitUntilAlive(ctx, d.cfg.StartupTimeout); err != nil {
		return fmt.Errorf("waiting for %s: %w", rt.URL(), err)
	}
	d.rt = rt
	return nil
}

// Stop leaves the server running; it was not ours to start.
func (d *Remote) Stop(ctx context.Context) error {
	d.rt = nil
	return nil
}

func (d *Remote) Runtime() (runtime.Runtime, error) {
	if d.rt == nil {
		return nil, ErrNotStarted
	}
	return d.rt, nil
}

func (d *Remote) IsAlive(ctx context.Context, timeout time.Duration) (*runtime.IsAliveResponse, error) {
	return isAlive(ctx, d, timeout)
}

// Dummy serves a scripted runtime.
type Dummy struct {
	rt *dummy.Runtime
}

// Scripted exposes the underlying runtime so tests can queue observations.
func (d *Dummy) Scripted() *dummy.Runtime { return d.rt }

func (d *Dummy) Start(ctx context.Context) error { return nil }
func (d *Dummy) Stop(ctx context.Context) error  { return d.rt.Close(ctx) }

func (d *Dummy) Runtime() (runtime.Runtime, error) { return d.rt, nil }

func (d *Dummy) IsAlive(ctx context.Context, timeout time.Duration) (*runtime.IsAliveResponse, error) {
	return d.rt.IsAlive(ctx, timeout)
}

func isAlive(ctx context.Context, d Deployment, timeout time.Duration) (*runtime.IsAliveResponse, error) {
	rt, err := d.Runtime()
	if err != nil {
		return &runtime.IsAliveResponse{Message: err.Error()}, nil
	}
	return rt.IsAlive(ctx, timeout)
}
