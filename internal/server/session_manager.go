package server

import (
	"context"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/michaelbrown/rex/internal/runtime"
	"github.com/michaelbrown/rex/internal/storage"
)

// SessionManager maps live session names to their history entries and
// records every exchange. History is best effort: store failures are logged
// and never fail the request that caused them.
type SessionManager struct {
	store  storage.Store
	logger *log.Logger

	mu       sync.RWMutex
	sessions map[string]string // name -> history id
}

// NewSessionManager creates a new SessionManager. A nil store disables
// recording.
func NewSessionManager(store storage.Store, logger *log.Logger) *SessionManager {
	return &SessionManager{
		store:    store,
		logger:   logger,
		sessions: make(map[string]string),
	}
}

// Get returns the history id of a live session.
func (sm *SessionManager) Get(name string) (string, bool) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	id, ok := sm.sessions[name]
	return id, ok
}

// Opened records a create_session result. Failed starts are stored with
// status failed and are not tracked as live.
func (sm *SessionManager) Opened(ctx context.Context, name string, resp *runtime.CreateSessionResponse) {
	if sm.store == nil {
		return
	}
	sess := &storage.Session{
		ID:          uuid.New().String(),
		Name:        name,
		Status:      storage.StatusOpen,
		StartOutput: resp.Output,
	}
	if !resp.Success {
		sess.Status = storage.StatusFailed
		sess.StartOutput = resp.FailureReason
	}
	if err := sm.store.CreateSession(ctx, sess); err != nil {
		sm.logger.Warn("recording session", "session", name, "error", err)
		return
	}
	if resp.Success {
		sm.mu.Lock()
		sm.sessions[name] = sess.ID
		sm.mu.Unlock()
	}
}

// Recorded stores one action and its outcome.
func (sm *SessionManager) Recorded(ctx context.Context, action *runtime.Action, obs *runtime.Observation, runErr error, started time.Time) {
	if sm.store == nil {
		return
	}
	id, ok := sm.Get(action.Session)
	if !ok {
		return
	}
	rec := &storage.Record{
		SessionID: id,
		Command:   action.Command,
		StartedAt: started,
		Duration:  time.Since(started),
	}
	if obs != nil {
		rec.Output = obs.Output
		rec.ExitCode = obs.ExitCodeRaw
		rec.FailureReason = obs.FailureReason
		rec.ExpectString = obs.ExpectString
	}
	if runErr != nil {
		rec.Error = runErr.Error()
	}
	if err := sm.store.AppendRecord(ctx, rec); err != nil {
		sm.logger.Warn("recording action", "session", action.Session, "error", err)
	}
}

// Closed marks a session's history entry closed and forgets the name.
func (sm *SessionManager) Closed(ctx context.Context, name string) {
	sm.mu.Lock()
	id, ok := sm.sessions[name]
	delete(sm.sessions, name)
	sm.mu.Unlock()
	if ok {
		sm.markClosed(ctx, id)
	}
}

// CloseAll marks every live session closed.
func (sm *SessionManager) CloseAll(ctx context.Context) {
	sm.mu.Lock()
	sessions := sm.sessions
	sm.sessions = make(map[string]string)
	sm.mu.Unlock()
	for _, id := range sessions {
		sm.markClosed(ctx, id)
	}
}

func (sm *SessionManager) markClosed(ctx context.Context, id string) {
	if sm.store == nil {
		return
	}
	sess, err := sm.store.GetSession(ctx, id)
	if err != nil {
		sm.logger.Warn("loading session history", "id", id, "error", err)
		return
	}
	sess.Status = storage.StatusClosed
	if err := sm.store.UpdateSession(ctx, sess); err != nil {
		sm.logger.Warn("updating session history", "id", id, "error", err)
	}
}
