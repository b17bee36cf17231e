package runtime

import (
	"errors"
	"sort"
)

// Sentinel errors shared by every Runtime implementation. Each one has a
// stable kind identifier so it survives the trip across the wire.
var (
	// ErrSessionExists is returned when creating a session whose name is taken.
	ErrSessionExists = errors.New("session already exists")

	// ErrSessionNotFound is returned for operations on an unknown session name.
	ErrSessionNotFound = errors.New("session does not exist")

	// ErrInvalidAction is returned for malformed actions.
	ErrInvalidAction = errors.New("invalid action")

	// ErrNonZeroExitCode is returned by Execute with Check set.
	ErrNonZeroExitCode = errors.New("command exited with non-zero exit code")

	// ErrCommandTimeout is returned by Execute when the command outlives its
	// timeout.
	ErrCommandTimeout = errors.New("command timed out")

	// ErrTimeout is returned when waiting for a runtime to come alive fails.
	ErrTimeout = errors.New("timeout waiting for runtime")

	// ErrTransport wraps failures to reach a remote runtime.
	ErrTransport = errors.New("runtime transport error")

	// ErrRemote is the fallback identity for remote failures whose kind is
	// not known locally.
	ErrRemote = errors.New("remote runtime error")
)

// errorKinds maps wire identifiers to local sentinels. Both sides of the
// boundary use this table, so it is the only place a new kind is declared.
var errorKinds = map[string]error{
	"rex.SessionExistsError":   ErrSessionExists,
	"rex.SessionNotFoundError": ErrSessionNotFound,
	"rex.InvalidActionError":   ErrInvalidAction,
	"rex.NonZeroExitCodeError": ErrNonZeroExitCode,
	"rex.CommandTimeoutError":  ErrCommandTimeout,
	"rex.TimeoutError":         ErrTimeout,
}

// UnknownErrorKind is the kind reported for errors outside the registry.
const UnknownErrorKind = "rex.RemoteError"

// ErrorKind returns the wire identifier of err, or UnknownErrorKind.
func ErrorKind(err error) string {
	var remoteErr *RemoteError
	if errors.As(err, &remoteErr) && remoteErr.Kind != "" {
		return remoteErr.Kind
	}
	for _, kind := range sortedKinds() {
		if errors.Is(err, errorKinds[kind]) {
			return kind
		}
	}
	return UnknownErrorKind
}

// LookupErrorKind resolves a wire identifier to its sentinel.
func LookupErrorKind(kind string) (error, bool) {
	sentinel, ok := errorKinds[kind]
	return sentinel, ok
}

func sortedKinds() []string {
	kinds := make([]string, 0, len(errorKinds))
	for kind := range errorKinds {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)
	return kinds
}

// RemoteError is a failure raised on the far side of a remote runtime.
// errors.Is matches the sentinel registered for Kind, or ErrRemote when the
// kind is unknown.
type RemoteError struct {
	Kind      string
	Message   string
	Traceback string
	Err       error
}

func (e *RemoteError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return e.Err.Error()
}

func (e *RemoteError) Unwrap() error { return e.Err }
