// Package local implements runtime.Runtime in-process: named terminal
// sessions on this machine plus file and one-shot command helpers.
package local

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/michaelbrown/rex/internal/archive"
	"github.com/michaelbrown/rex/internal/logging"
	"github.com/michaelbrown/rex/internal/runtime"
	"github.com/michaelbrown/rex/internal/terminal"
)

const executeWaitDelay = time.Second

// Options configures a Runtime.
type Options struct {
	// Session is applied to every session the runtime creates.
	Session terminal.Options
	Logger  *log.Logger
}

// Runtime is the session registry. Names are unique; a failed start is not
// registered, and a closed session is removed whatever the close outcome.
type Runtime struct {
	opts   Options
	logger *log.Logger

	mu       sync.RWMutex
	sessions map[string]*terminal.Session
}

var _ runtime.Runtime = (*Runtime)(nil)

// New creates an empty registry.
func New(opts Options) *Runtime {
	logger := logging.OrDiscard(opts.Logger)
	if opts.Session.Logger == nil {
		opts.Session.Logger = logger
	}
	return &Runtime{
		opts:     opts,
		logger:   logger,
		sessions: make(map[string]*terminal.Session),
	}
}

// IsAlive always succeeds for an in-process runtime.
func (r *Runtime) IsAlive(ctx context.Context, timeout time.Duration) (*runtime.IsAliveResponse, error) {
	return &runtime.IsAliveResponse{IsAlive: true}, nil
}

// Sessions returns the registered session names, sorted.
func (r *Runtime) Sessions() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.sessions))
	for name := range r.sessions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// CreateSession starts a new session under req.Name.
func (r *Runtime) CreateSession(ctx context.Context, req *runtime.CreateSessionRequest) (*runtime.CreateSessionResponse, error) {
	r.mu.Lock()
	if _, ok := r.sessions[req.Name]; ok {
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: %q", runtime.ErrSessionExists, req.Name)
	}
	// Reserve the name while the shell starts so the map lock is not held
	// across the start-up waits.
	sess := terminal.New(req.Name, r.opts.Session)
	r.sessions[req.Name] = sess
	r.mu.Unlock()

	resp, err := sess.Start(ctx)
	if err != nil || !resp.Success {
		r.mu.Lock()
		delete(r.sessions, req.Name)
		r.mu.Unlock()
		_ = sess.Close()
	}
	if err != nil {
		return nil, err
	}
	r.logger.Info("session created", "session", req.Name, "success", resp.Success)
	return resp, nil
}

// RunInSession sends action to its session.
func (r *Runtime) RunInSession(ctx context.Context, action *runtime.Action) (*runtime.Observation, error) {
	sess, err := r.get(action.Session)
	if err != nil {
		return nil, err
	}
	return sess.Run(ctx, action)
}

// CloseSession closes and unregisters a session.
func (r *Runtime) CloseSession(ctx context.Context, req *runtime.CloseSessionRequest) (*runtime.CloseSessionResponse, error) {
	r.mu.Lock()
	sess, ok := r.sessions[req.Session]
	delete(r.sessions, req.Session)
	r.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", runtime.ErrSessionNotFound, req.Session)
	}

	if err := sess.Close(); err != nil {
		r.logger.Warn("closing session", "session", req.Session, "error", err)
	}
	r.logger.Info("session closed", "session", req.Session)
	return &runtime.CloseSessionResponse{}, nil
}

func (r *Runtime) get(name string) (*terminal.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sess, ok := r.sessions[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", runtime.ErrSessionNotFound, name)
	}
	return sess, nil
}

// Execute runs a one-shot process outside of any session.
func (r *Runtime) Execute(ctx context.Context, c *runtime.Command) (*runtime.CommandResponse, error) {
	if len(c.Command) == 0 {
		return nil, fmt.Errorf("%w: empty command", runtime.ErrInvalidAction)
	}
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, runtime.Seconds(c.Timeout))
		defer cancel()
	}

	var cmd *exec.Cmd
	if c.Shell {
		cmd = exec.CommandContext(ctx, "/bin/bash", "-c", c.Command.String())
	} else {
		cmd = exec.CommandContext(ctx, c.Command[0], c.Command[1:]...)
	}
	cmd.Dir = c.Cwd
	// Children of a killed shell may hold the output pipes open.
	cmd.WaitDelay = executeWaitDelay
	if len(c.Env) > 0 {
		cmd.Env = os.Environ()
		for k, v := range c.Env {
			cmd.Env = append(cmd.Env, k+"="+v)
		}
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	resp := &runtime.CommandResponse{Stdout: stdout.String(), Stderr: stderr.String()}

	var exitErr *exec.ExitError
	switch {
	case ctx.Err() == context.DeadlineExceeded && c.Timeout > 0:
		return nil, fmt.Errorf("%w: %q after %vs", runtime.ErrCommandTimeout, c.Command.String(), c.Timeout)
	case errors.As(err, &exitErr):
		resp.ExitCode = exitErr.ExitCode()
	case err != nil:
		return nil, fmt.Errorf("running %q: %w", c.Command.String(), err)
	}

	if c.Check && resp.ExitCode != 0 {
		msg := c.ErrorMsg
		if msg == "" {
			msg = fmt.Sprintf("%q", c.Command.String())
		}
		return nil, fmt.Errorf("%w: %s: exit code %d, stdout %q, stderr %q",
			runtime.ErrNonZeroExitCode, msg, resp.ExitCode, resp.Stdout, resp.Stderr)
	}
	return resp, nil
}

// ReadFile returns the content of a file.
func (r *Runtime) ReadFile(ctx context.Context, req *runtime.ReadFileRequest) (*runtime.ReadFileResponse, error) {
	data, err := os.ReadFile(req.Path)
	if err != nil {
		return nil, fmt.Errorf("reading file: %w", err)
	}
	return &runtime.ReadFileResponse{Content: string(data)}, nil
}

// WriteFile writes a file, creating missing parent directories.
func (r *Runtime) WriteFile(ctx context.Context, req *runtime.WriteFileRequest) (*runtime.WriteFileResponse, error) {
	if err := os.MkdirAll(filepath.Dir(req.Path), 0o755); err != nil {
		return nil, fmt.Errorf("creating parent directory: %w", err)
	}
	if err := os.WriteFile(req.Path, []byte(req.Content), 0o644); err != nil {
		return nil, fmt.Errorf("writing file: %w", err)
	}
	return &runtime.WriteFileResponse{}, nil
}

// Upload copies a local file or directory tree to TargetPath.
func (r *Runtime) Upload(ctx context.Context, req *runtime.UploadRequest) (*runtime.UploadResponse, error) {
	if err := archive.CopyTree(req.SourcePath, req.TargetPath); err != nil {
		return nil, fmt.Errorf("uploading %s: %w", req.SourcePath, err)
	}
	return &runtime.UploadResponse{}, nil
}

// Close closes every session.
func (r *Runtime) Close(ctx context.Context) error {
	r.mu.Lock()
	sessions := r.sessions
	r.sessions = make(map[string]*terminal.Session)
	r.mu.Unlock()

	var errs []error
	for name, sess := range sessions {
		if err := sess.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing session %q: %w", name, err))
		}
	}
	return errors.Join(errs...)
}
