// Package runtime defines the contract shared by every way of driving shell
// sessions: in-process (package local), over HTTP (package remote), and the
// wire shapes and error transfer convention between the two.
package runtime

import (
	"context"
	"time"
)

// DefaultActionTimeout applies when an Action leaves Timeout unset.
const DefaultActionTimeout = 30 * time.Second

// Runtime creates, drives and closes named shell sessions, and offers file and
// one-shot command helpers on the machine it runs on.
//
// Environmental failures (start timeouts, command timeouts) are reported in
// the response values. Errors are reserved for misuse, transport problems and
// failures raised on the remote side.
type Runtime interface {
	// IsAlive reports whether the runtime can serve requests. A zero timeout
	// means no per-probe bound.
	IsAlive(ctx context.Context, timeout time.Duration) (*IsAliveResponse, error)

	CreateSession(ctx context.Context, req *CreateSessionRequest) (*CreateSessionResponse, error)
	RunInSession(ctx context.Context, action *Action) (*Observation, error)
	CloseSession(ctx context.Context, req *CloseSessionRequest) (*CloseSessionResponse, error)

	Execute(ctx context.Context, cmd *Command) (*CommandResponse, error)
	ReadFile(ctx context.Context, req *ReadFileRequest) (*ReadFileResponse, error)
	WriteFile(ctx context.Context, req *WriteFileRequest) (*WriteFileResponse, error)
	Upload(ctx context.Context, req *UploadRequest) (*UploadResponse, error)

	// Close releases every session. The runtime is unusable afterwards.
	Close(ctx context.Context) error
}

// ActionTimeout converts the action's timeout in seconds, applying the default.
func ActionTimeout(a *Action) time.Duration {
	if a.Timeout <= 0 {
		return DefaultActionTimeout
	}
	return Seconds(a.Timeout)
}

// Seconds converts a wire timeout in (fractional) seconds.
func Seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
