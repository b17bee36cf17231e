package runtime

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Reserved exit codes reported in Observation.ExitCodeRaw when a command did
// not complete through the normal path.
const (
	ExitCodeTimeout        = "-100"
	ExitCodeExitTimeout    = "-200"
	ExitCodeNotInitialized = "-300"
)

// IsAliveResponse reports whether a runtime is reachable. Message carries a
// diagnostic when IsAlive is false.
type IsAliveResponse struct {
	IsAlive bool   `json:"is_alive"`
	Message string `json:"message"`
}

// CreateSessionRequest names the session to create.
type CreateSessionRequest struct {
	Name string `json:"name"`
}

// CreateSessionResponse is the start result of a new session. A failed start
// is reported here, not as an error.
type CreateSessionResponse struct {
	Success       bool   `json:"success"`
	FailureReason string `json:"failure_reason,omitempty"`
	Output        string `json:"output"`
}

// Action is a command sent to an existing session.
type Action struct {
	Session string `json:"session"`
	Command string `json:"command"`
	// Timeout bounds the wait for completion, in seconds. Zero means the
	// runtime default.
	Timeout float64 `json:"timeout,omitempty"`
	// Expect lists additional regular expressions that end the wait besides
	// the shell prompt.
	Expect []string `json:"expect,omitempty"`
	// IsInteractiveCommand marks a command that hands the terminal over to a
	// sub-program (pager, REPL, debugger).
	IsInteractiveCommand bool `json:"is_interactive_command"`
	// IsInteractiveQuit marks a command that ends such a sub-program.
	IsInteractiveQuit bool `json:"is_interactive_quit"`
}

// Validate reports misuse of an action before it reaches a session.
func (a *Action) Validate() error {
	if a.IsInteractiveCommand && a.IsInteractiveQuit {
		return fmt.Errorf("%w: is_interactive_command and is_interactive_quit are mutually exclusive", ErrInvalidAction)
	}
	if a.Timeout < 0 {
		return fmt.Errorf("%w: negative timeout %v", ErrInvalidAction, a.Timeout)
	}
	return nil
}

// Observation is the response to an Action.
type Observation struct {
	Output string `json:"output"`
	// ExitCodeRaw is the exit status as printed by the shell, or one of the
	// reserved ExitCode* markers.
	ExitCodeRaw   string `json:"exit_code_raw"`
	FailureReason string `json:"failure_reason,omitempty"`
	// ExpectString is the caller pattern that ended the wait, empty when the
	// prompt matched.
	ExpectString string `json:"expect_string,omitempty"`
}

// ExitCode parses ExitCodeRaw.
func (o *Observation) ExitCode() (int, error) {
	code, err := strconv.Atoi(strings.TrimSpace(o.ExitCodeRaw))
	if err != nil {
		return 0, fmt.Errorf("parsing exit code %q: %w", o.ExitCodeRaw, err)
	}
	return code, nil
}

// CloseSessionRequest names the session to close.
type CloseSessionRequest struct {
	Session string `json:"session"`
}

// CloseSessionResponse is empty on success.
type CloseSessionResponse struct{}

// CommandLine is an argv that also accepts a single string on the wire.
type CommandLine []string

func (c *CommandLine) UnmarshalJSON(data []byte) error {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		*c = CommandLine{single}
		return nil
	}
	var argv []string
	if err := json.Unmarshal(data, &argv); err != nil {
		return fmt.Errorf("command must be a string or a list of strings: %w", err)
	}
	*c = argv
	return nil
}

// String renders the command for logs and shell execution.
func (c CommandLine) String() string {
	return strings.Join(c, " ")
}

// Command is a one-shot process execution outside of any session.
type Command struct {
	Command CommandLine `json:"command"`
	// Timeout in seconds; zero means no timeout.
	Timeout float64 `json:"timeout,omitempty"`
	// Shell runs the joined command through bash -c.
	Shell bool `json:"shell"`
	// Check turns a non-zero exit into ErrNonZeroExitCode.
	Check    bool              `json:"check"`
	ErrorMsg string            `json:"error_msg,omitempty"`
	Env      map[string]string `json:"env,omitempty"`
	Cwd      string            `json:"cwd,omitempty"`
}

// CommandResponse is the result of a Command.
type CommandResponse struct {
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	ExitCode int    `json:"exit_code"`
}

type ReadFileRequest struct {
	Path string `json:"path"`
}

type ReadFileResponse struct {
	Content string `json:"content"`
}

type WriteFileRequest struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

type WriteFileResponse struct{}

// UploadRequest copies SourcePath (local to the caller) to TargetPath (inside
// the runtime). Directories are copied recursively.
type UploadRequest struct {
	SourcePath string `json:"source_path"`
	TargetPath string `json:"target_path"`
}

type UploadResponse struct{}
