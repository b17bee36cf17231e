// Package dummy provides a scripted runtime.Runtime for tests and dry runs.
// No processes are started: sessions are names in a set, files live in
// memory, and RunInSession replays queued observations.
package dummy

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/michaelbrown/rex/internal/runtime"
)

// Runtime is safe for concurrent use.
type Runtime struct {
	mu       sync.Mutex
	alive    bool
	message  string
	sessions map[string]bool
	queue    []*runtime.Observation
	files    map[string]string
	actions  []runtime.Action
	uploads  []runtime.UploadRequest
}

var _ runtime.Runtime = (*Runtime)(nil)

// New returns an alive runtime with no sessions.
func New() *Runtime {
	return &Runtime{
		alive:    true,
		sessions: make(map[string]bool),
		files:    make(map[string]string),
	}
}

// Queue appends observations for RunInSession to return in order. Once the
// queue is empty, actions get an empty observation with exit code 0.
func (r *Runtime) Queue(obs ...*runtime.Observation) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.queue = append(r.queue, obs...)
}

// SetAlive controls the IsAlive answer.
func (r *Runtime) SetAlive(alive bool, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alive, r.message = alive, message
}

// Actions returns the actions received so far.
func (r *Runtime) Actions() []runtime.Action {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]runtime.Action(nil), r.actions...)
}

// Uploads returns the upload requests received so far.
func (r *Runtime) Uploads() []runtime.UploadRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]runtime.UploadRequest(nil), r.uploads...)
}

func (r *Runtime) IsAlive(ctx context.Context, timeout time.Duration) (*runtime.IsAliveResponse, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return &runtime.IsAliveResponse{IsAlive: r.alive, Message: r.message}, nil
}

func (r *Runtime) CreateSession(ctx context.Context, req *runtime.CreateSessionRequest) (*runtime.CreateSessionResponse, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sessions[req.Name] {
		return nil, fmt.Errorf("%w: %q", runtime.ErrSessionExists, req.Name)
	}
	r.sessions[req.Name] = true
	return &runtime.CreateSessionResponse{Success: true}, nil
}

func (r *Runtime) RunInSession(ctx context.Context, action *runtime.Action) (*runtime.Observation, error) {
	if err := action.Validate(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.sessions[action.Session] {
		return nil, fmt.Errorf("%w: %q", runtime.ErrSessionNotFound, action.Session)
	}
	r.actions = append(r.actions, *action)

	if len(r.queue) == 0 {
		return &runtime.Observation{ExitCodeRaw: "0"}, nil
	}
	obs := r.queue[0]
	r.queue = r.queue[1:]
	return obs, nil
}

func (r *Runtime) CloseSession(ctx context.Context, req *runtime.CloseSessionRequest) (*runtime.CloseSessionResponse, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.sessions[req.Session] {
		return nil, fmt.Errorf("%w: %q", runtime.ErrSessionNotFound, req.Session)
	}
	delete(r.sessions, req.Session)
	return &runtime.CloseSessionResponse{}, nil
}

func (r *Runtime) Execute(ctx context.Context, cmd *runtime.Command) (*runtime.CommandResponse, error) {
	return &runtime.CommandResponse{}, nil
}

func (r *Runtime) ReadFile(ctx context.Context, req *runtime.ReadFileRequest) (*runtime.ReadFileResponse, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	content, ok := r.files[req.Path]
	if !ok {
		return nil, fmt.Errorf("reading file: %w", os.ErrNotExist)
	}
	return &runtime.ReadFileResponse{Content: content}, nil
}

func (r *Runtime) WriteFile(ctx context.Context, req *runtime.WriteFileRequest) (*runtime.WriteFileResponse, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.files[req.Path] = req.Content
	return &runtime.WriteFileResponse{}, nil
}

func (r *Runtime) Upload(ctx context.Context, req *runtime.UploadRequest) (*runtime.UploadResponse, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.uploads = append(r.uploads, *req)
	return &runtime.UploadResponse{}, nil
}

func (r *Runtime) Close(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions = make(map[string]bool)
	return nil
}
