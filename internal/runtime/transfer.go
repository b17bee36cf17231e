package runtime

import "net/http"

// StatusTransferredError is the HTTP status a server uses to say "the body
// holds an ExceptionTransfer". It is deliberately outside the codes a proxy or
// framework would produce on its own.
const StatusTransferredError = http.StatusNetworkAuthenticationRequired // 511

// AuthHeader carries the shared token on every request to a protected server.
const AuthHeader = "X-API-Key"

// ExceptionTransfer is the serialized form of a remote-side failure.
type ExceptionTransfer struct {
	ClassPath string `json:"class_path"`
	Message   string `json:"message"`
	Traceback string `json:"traceback,omitempty"`
}

// TransferEnvelope is the body of a StatusTransferredError response.
type TransferEnvelope struct {
	Exception ExceptionTransfer `json:"swerexception"`
}

// NewExceptionTransfer serializes err for the wire.
func NewExceptionTransfer(err error, traceback string) ExceptionTransfer {
	return ExceptionTransfer{
		ClassPath: ErrorKind(err),
		Message:   err.Error(),
		Traceback: traceback,
	}
}

// Err reconstructs the transferred failure. Known kinds match their sentinel
// with errors.Is; unknown kinds match ErrRemote. The message is kept verbatim.
func (t ExceptionTransfer) Err() *RemoteError {
	sentinel, ok := LookupErrorKind(t.ClassPath)
	if !ok {
		sentinel = ErrRemote
	}
	return &RemoteError{
		Kind:      t.ClassPath,
		Message:   t.Message,
		Traceback: t.Traceback,
		Err:       sentinel,
	}
}

// Known reports whether the transferred kind is in the local registry.
func (t ExceptionTransfer) Known() bool {
	_, ok := LookupErrorKind(t.ClassPath)
	return ok
}
