package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a session id or prefix matches nothing.
var ErrNotFound = errors.New("not found")

// SessionStatus represents the lifecycle state of a recorded session.
type SessionStatus string

const (
	StatusOpen   SessionStatus = "open"
	StatusClosed SessionStatus = "closed"
	StatusFailed SessionStatus = "failed"
)

// Session is the history entry for one shell session served by rex. Names
// are reused after a session closes, so the ID identifies the entry.
type Session struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	Status      SessionStatus `json:"status"`
	StartOutput string        `json:"start_output,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

// Record is one action run in a session and what came back.
type Record struct {
	Seq           int           `json:"seq"`
	SessionID     string        `json:"session_id"`
	Command       string        `json:"command"`
	Output        string        `json:"output"`
	ExitCode      string        `json:"exit_code"`
	FailureReason string        `json:"failure_reason,omitempty"`
	ExpectString  string        `json:"expect_string,omitempty"`
	Error         string        `json:"error,omitempty"`
	StartedAt     time.Time     `json:"started_at"`
	Duration      time.Duration `json:"duration"`
}

// SessionListOptions controls filtering and pagination for ListSessions.
type SessionListOptions struct {
	Status SessionStatus
	Name   string
	Limit  int
	Offset int
}

// Store is the persistence interface for session history.
type Store interface {
	// CreateSession inserts a new session. The ID field must be set by the caller.
	CreateSession(ctx context.Context, s *Session) error

	// GetSession returns a session by ID or ID prefix.
	GetSession(ctx context.Context, id string) (*Session, error)

	// ListSessions returns sessions ordered by updated_at descending.
	ListSessions(ctx context.Context, opts SessionListOptions) ([]Session, error)

	// UpdateSession updates mutable fields (status, updated_at).
	UpdateSession(ctx context.Context, s *Session) error

	// DeleteSession removes a session and its records.
	DeleteSession(ctx context.Context, id string) error

	// AppendRecord adds a record to a session and assigns its Seq.
	AppendRecord(ctx context.Context, r *Record) error

	// LoadRecords returns the records of a session in order.
	LoadRecords(ctx context.Context, sessionID string) ([]Record, error)

	// Close releases resources.
	Close() error
}
