// Package terminal drives an interactive bash process attached to a PTY and
// turns its unframed output into discrete command/response exchanges.
//
// Completion is detected by a sentinel prompt: PS1 and PS2 are both set to a
// string no command is expected to print, so its reappearance means the shell
// is waiting for input again. Exit statuses and resynchronisation use
// per-exchange markers built from a fresh UUID, written in the command with a
// quote in the middle so that an echoed command line never matches.
package terminal

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"sync"
	"syscall"
	"time"
	"unicode"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/michaelbrown/rex/internal/logging"
	"github.com/michaelbrown/rex/internal/runtime"
)

// PromptSentinel is set as PS1 and PS2 of every session.
const PromptSentinel = "__rex_ps1_7f3a__"

const (
	DefaultStartupTimeout  = time.Second
	DefaultExitCodeTimeout = time.Second
	closeGracePeriod       = time.Second
	echoPollInterval       = 10 * time.Millisecond
)

// DefaultShell is the command line used when Options.Shell is empty. Line
// editing is off so that the terminal's ECHO flag alone controls echo.
var DefaultShell = []string{"/bin/bash", "--norc", "--noprofile", "--noediting"}

var sentinelPattern = regexp.MustCompile(regexp.QuoteMeta(PromptSentinel))

// State is the lifecycle position of a Session.
type State int

const (
	StateUninitialized State = iota
	StateReady
	StateInteractive
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateReady:
		return "ready"
	case StateInteractive:
		return "interactive"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Options configures a Session.
type Options struct {
	Shell []string
	// Env replaces the environment of the shell. Nil inherits ours.
	Env []string
	Dir string
	// StartupTimeout bounds each of the two start-up waits.
	StartupTimeout time.Duration
	// ExitCodeTimeout bounds exit status retrieval and echo resync.
	ExitCodeTimeout time.Duration
	Logger          *log.Logger
}

// Session is one shell process and its synchronisation state. Run and Close
// hold the session lock for their whole exchange, so concurrent callers are
// serialised.
type Session struct {
	name   string
	opts   Options
	logger *log.Logger

	mu       sync.Mutex
	state    State
	cmd      *exec.Cmd
	master   *os.File
	out      *expecter
	unsynced bool
}

// New returns an unstarted session.
func New(name string, opts Options) *Session {
	if len(opts.Shell) == 0 {
		opts.Shell = DefaultShell
	}
	if opts.StartupTimeout <= 0 {
		opts.StartupTimeout = DefaultStartupTimeout
	}
	if opts.ExitCodeTimeout <= 0 {
		opts.ExitCodeTimeout = DefaultExitCodeTimeout
	}
	return &Session{
		name:   name,
		opts:   opts,
		logger: logging.OrDiscard(opts.Logger).With("session", name),
	}
}

// Name returns the session name.
func (s *Session) Name() string { return s.name }

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Start spawns the shell and installs the sentinel prompt. Timeouts are
// reported in the response with the session left uninitialized; an error
// means the shell could not be spawned at all.
func (s *Session) Start(ctx context.Context) (*runtime.CreateSessionResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateUninitialized {
		return nil, fmt.Errorf("session %q is %s and cannot be started", s.name, s.state)
	}

	cmd, master, err := spawn(s.opts.Shell, s.opts.Env, s.opts.Dir)
	if err != nil {
		return nil, fmt.Errorf("spawning shell for session %q: %w", s.name, err)
	}
	s.cmd, s.master, s.out = cmd, master, newExpecter(master)

	initMarker := newMarker("init")
	if err := s.sendLine("echo " + splitQuoted(initMarker)); err != nil {
		s.release()
		return nil, err
	}
	first, err := s.out.expect(ctx, []*regexp.Regexp{literal(initMarker)}, s.opts.StartupTimeout)
	if err != nil {
		s.logger.Warn("shell did not initialize", "error", err)
		s.release()
		return &runtime.CreateSessionResponse{FailureReason: "timeout while initializing shell"}, nil
	}

	setPrompt := fmt.Sprintf("umask 002; export PS1=%s; export PS2=%s",
		splitQuoted(PromptSentinel), splitQuoted(PromptSentinel))
	if err := s.sendLine(setPrompt); err != nil {
		s.release()
		return nil, err
	}
	second, err := s.out.expect(ctx, []*regexp.Regexp{sentinelPattern}, s.opts.StartupTimeout)
	if err != nil {
		s.logger.Warn("shell did not accept prompt", "error", err)
		s.release()
		return &runtime.CreateSessionResponse{FailureReason: "timeout while setting PS1"}, nil
	}

	s.state = StateReady
	s.logger.Debug("session started", "pid", cmd.Process.Pid)
	return &runtime.CreateSessionResponse{
		Success: true,
		Output:  normalize(first.before) + "\n---\n" + normalize(second.before),
	}, nil
}

// Run sends action to the shell and waits for it to finish. Environmental
// failures come back as observations carrying a reserved exit code; an error
// is returned only for malformed actions or a cancelled context.
func (s *Session) Run(ctx context.Context, action *runtime.Action) (*runtime.Observation, error) {
	if err := action.Validate(); err != nil {
		return nil, err
	}
	patterns, err := compileExpect(action.Expect)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateUninitialized || s.state == StateClosed {
		return &runtime.Observation{
			ExitCodeRaw:   runtime.ExitCodeNotInitialized,
			FailureReason: "shell not initialized",
		}, nil
	}

	timeout := runtime.ActionTimeout(action)

	// A command that outlived its timeout may still hold the terminal. The
	// caller's command is sent even when resync fails, so that input such
	// as "\x03" can still reach it.
	if s.unsynced {
		if err := s.resync(ctx); err != nil {
			if !errors.Is(err, errExpectTimeout) {
				return s.failed(err, runtime.ExitCodeTimeout, "timeout while running command")
			}
			s.logger.Debug("resync timed out, sending command anyway")
		}
	}

	if err := s.sendLine(action.Command); err != nil {
		return s.failed(err, runtime.ExitCodeNotInitialized, "shell not initialized")
	}
	m, err := s.out.expect(ctx, append(patterns, sentinelPattern), timeout)
	if err != nil {
		return s.failed(err, runtime.ExitCodeTimeout, "timeout while running command")
	}

	obs := &runtime.Observation{Output: normalize(m.before)}
	if m.index < len(action.Expect) {
		obs.ExpectString = action.Expect[m.index]
	}

	switch {
	case action.IsInteractiveQuit:
		s.leaveInteractive(ctx)
		s.state = StateReady
		obs.ExitCodeRaw = "0"
	case action.IsInteractiveCommand:
		// Sub-programs often turn echo back on, so the command may lead the output.
		out := strings.TrimLeftFunc(obs.Output, unicode.IsSpace)
		obs.Output = strings.TrimSpace(strings.TrimPrefix(out, action.Command))
		s.state = StateInteractive
		obs.ExitCodeRaw = "0"
	default:
		code, err := s.exitCode(ctx)
		if err != nil {
			return s.failed(err, runtime.ExitCodeExitTimeout, "timeout while getting exit code")
		}
		// The exit marker was queued behind everything sent so far.
		s.unsynced = false
		obs.ExitCodeRaw = code
	}
	return obs, nil
}

// Close terminates the shell. Closing twice, or closing a session that never
// started, is a no-op.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cmd != nil {
		s.release()
	}
	s.state = StateClosed
	return nil
}

// failed maps an exchange error onto a failure observation. Cancellation
// propagates as an error; a dead shell closes the session.
func (s *Session) failed(err error, code, reason string) (*runtime.Observation, error) {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		s.unsynced = true
		return nil, fmt.Errorf("session %q: %w", s.name, err)
	case errors.Is(err, errStreamClosed), errors.Is(err, os.ErrClosed), errors.Is(err, syscall.EIO):
		s.logger.Warn("shell exited", "error", err)
		s.release()
		s.state = StateClosed
		return &runtime.Observation{
			ExitCodeRaw:   runtime.ExitCodeNotInitialized,
			FailureReason: "shell exited: " + err.Error(),
		}, nil
	}
	s.unsynced = true
	s.logger.Debug("exchange failed", "reason", reason, "error", err)
	return &runtime.Observation{ExitCodeRaw: code, FailureReason: reason}, nil
}

// exitCode prints $? next to a fresh marker and waits for the prompt after it.
func (s *Session) exitCode(ctx context.Context) (string, error) {
	marker := newMarker("exit")
	if err := s.sendLine("echo " + splitQuoted(marker) + `":$?"`); err != nil {
		return "", err
	}
	pattern := regexp.MustCompile(regexp.QuoteMeta(marker) + `:(\d+)\r?\n`)
	m, err := s.out.expect(ctx, []*regexp.Regexp{pattern}, s.opts.ExitCodeTimeout)
	if err != nil {
		return "", err
	}
	if _, err := s.out.expect(ctx, []*regexp.Regexp{sentinelPattern}, s.opts.ExitCodeTimeout); err != nil {
		return "", err
	}
	return m.groups[0], nil
}

// resync discards whatever a timed-out command left behind: it queues a
// marker behind it and drains output until the marker and the prompt after it
// have been seen. Each wait is bounded by the exit code timeout.
func (s *Session) resync(ctx context.Context) error {
	timeout := s.opts.ExitCodeTimeout
	marker := newMarker("sync")
	if err := s.sendLine("echo " + splitQuoted(marker)); err != nil {
		return err
	}
	if _, err := s.out.expect(ctx, []*regexp.Regexp{literal(marker)}, timeout); err != nil {
		return err
	}
	if _, err := s.out.expect(ctx, []*regexp.Regexp{sentinelPattern}, timeout); err != nil {
		return err
	}
	s.unsynced = false
	return nil
}

// leaveInteractive puts the terminal back in the state Start left it in after
// a sub-program exits. Sub-programs may re-enable echo and leave a stray
// prompt behind, so echo is forced off and a marker is printed twice before
// waiting for the prompt. This is best effort: on failure the session is
// flagged and the next Run resynchronises first.
func (s *Session) leaveInteractive(ctx context.Context) {
	if err := setEcho(s.master, false); err != nil {
		s.logger.Warn("could not disable echo", "error", err)
	}
	s.waitNoEcho(ctx)

	marker := newMarker("quit")
	quoted := splitQuoted(marker)
	if err := s.sendLine("stty -echo; echo " + quoted + "; echo " + quoted); err != nil {
		s.logger.Warn("could not resynchronise after interactive quit", "error", err)
		s.unsynced = true
		return
	}
	steps := []*regexp.Regexp{literal(marker), literal(marker), sentinelPattern}
	for _, step := range steps {
		if _, err := s.out.expect(ctx, []*regexp.Regexp{step}, s.opts.ExitCodeTimeout); err != nil {
			s.logger.Warn("could not resynchronise after interactive quit", "error", err)
			s.unsynced = true
			return
		}
	}
}

func (s *Session) waitNoEcho(ctx context.Context) {
	deadline := time.Now().Add(s.opts.ExitCodeTimeout)
	for time.Now().Before(deadline) {
		on, err := echoEnabled(s.master)
		if err != nil || !on {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(echoPollInterval):
		}
	}
}

func (s *Session) sendLine(line string) error {
	if _, err := s.master.Write([]byte(line + "\n")); err != nil {
		return fmt.Errorf("writing to session %q: %w", s.name, err)
	}
	return nil
}

// release hangs up the shell's process group, closes the PTY, and reaps the
// process, escalating to SIGKILL after a grace period. Must hold mu.
func (s *Session) release() {
	cmd, master := s.cmd, s.master
	s.cmd, s.master = nil, nil
	if cmd == nil {
		return
	}

	_ = signalGroup(cmd, syscall.SIGHUP)
	_ = master.Close()

	done := make(chan struct{})
	go func() {
		_ = cmd.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(closeGracePeriod):
		_ = signalGroup(cmd, syscall.SIGKILL)
		<-done
	}
	s.logger.Debug("session released")
}

func compileExpect(patterns []string) ([]*regexp.Regexp, error) {
	compiled := make([]*regexp.Regexp, 0, len(patterns)+1)
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("%w: expect pattern %q: %v", runtime.ErrInvalidAction, p, err)
		}
		compiled = append(compiled, re)
	}
	return compiled, nil
}

func newMarker(kind string) string {
	return "__rex_" + kind + "_" + strings.ReplaceAll(uuid.NewString(), "-", "") + "__"
}

// splitQuoted renders s as two adjacent shell-quoted halves. The shell joins
// them back into s, but the command text itself never contains s.
func splitQuoted(s string) string {
	half := len(s) / 2
	return "'" + s[:half] + "'\"" + s[half:] + "\""
}

func literal(s string) *regexp.Regexp {
	return regexp.MustCompile(regexp.QuoteMeta(s))
}

func normalize(s string) string {
	return strings.ReplaceAll(s, "\r\n", "\n")
}
