package terminal

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	goruntime "runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/michaelbrown/rex/internal/runtime"
)

func requirePTY(t *testing.T) {
	t.Helper()
	if goruntime.GOOS != "linux" {
		t.Skip("PTY sessions need Linux")
	}
	if _, err := os.Stat("/bin/bash"); err != nil {
		t.Skip("/bin/bash not available")
	}
}

func startSession(t *testing.T) *Session {
	t.Helper()
	return startSessionWith(t, Options{})
}

func startSessionWith(t *testing.T, opts Options) *Session {
	t.Helper()
	requirePTY(t)

	opts.Dir = t.TempDir()
	s := New("test", opts)
	resp, err := s.Start(context.Background())
	require.NoError(t, err)
	require.True(t, resp.Success, "start failed: %s", resp.FailureReason)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func run(t *testing.T, s *Session, a runtime.Action) *runtime.Observation {
	t.Helper()
	obs, err := s.Run(context.Background(), &a)
	require.NoError(t, err)
	return obs
}

func TestSession_RunBeforeStart(t *testing.T) {
	s := New("idle", Options{})
	obs, err := s.Run(context.Background(), &runtime.Action{Command: "echo hi"})
	require.NoError(t, err)
	assert.Equal(t, runtime.ExitCodeNotInitialized, obs.ExitCodeRaw)
	assert.NotEmpty(t, obs.FailureReason)
}

func TestSession_InvalidActions(t *testing.T) {
	s := New("idle", Options{})

	_, err := s.Run(context.Background(), &runtime.Action{Command: "x", IsInteractiveCommand: true, IsInteractiveQuit: true})
	assert.True(t, errors.Is(err, runtime.ErrInvalidAction))

	_, err = s.Run(context.Background(), &runtime.Action{Command: "x", Expect: []string{"("}})
	assert.True(t, errors.Is(err, runtime.ErrInvalidAction))
}

func TestSession_StartThenRun(t *testing.T) {
	s := startSession(t)
	assert.Equal(t, StateReady, s.State())

	obs := run(t, s, runtime.Action{Command: "echo hello", Timeout: 5})
	assert.Equal(t, "hello\n", obs.Output)
	assert.Equal(t, "0", obs.ExitCodeRaw)
	assert.Empty(t, obs.FailureReason)
	assert.Empty(t, obs.ExpectString)
}

func TestSession_ExitCode(t *testing.T) {
	s := startSession(t)

	obs := run(t, s, runtime.Action{Command: "(exit 3)", Timeout: 5})
	assert.Equal(t, "3", obs.ExitCodeRaw)
	code, err := obs.ExitCode()
	require.NoError(t, err)
	assert.Equal(t, 3, code)

	obs = run(t, s, runtime.Action{Command: "true", Timeout: 5})
	assert.Equal(t, "0", obs.ExitCodeRaw)
}

func TestSession_StatePersists(t *testing.T) {
	s := startSession(t)

	run(t, s, runtime.Action{Command: "export REX_TEST_VAR=kept", Timeout: 5})
	run(t, s, runtime.Action{Command: "cd /", Timeout: 5})

	obs := run(t, s, runtime.Action{Command: "echo $REX_TEST_VAR $(pwd)", Timeout: 5})
	assert.Equal(t, "kept /\n", obs.Output)
}

func TestSession_TimeoutThenRecover(t *testing.T) {
	s := startSession(t)

	obs := run(t, s, runtime.Action{Command: "sleep 0.5; echo late", Timeout: 0.2})
	assert.Equal(t, runtime.ExitCodeTimeout, obs.ExitCodeRaw)
	assert.Empty(t, obs.Output)
	assert.NotEmpty(t, obs.FailureReason)

	// The next command waits out the old one and sees none of its output.
	obs = run(t, s, runtime.Action{Command: "echo fresh", Timeout: 5})
	assert.Equal(t, "fresh\n", obs.Output)
	assert.Equal(t, "0", obs.ExitCodeRaw)
}

func TestSession_CompoundCommandOnOneLine(t *testing.T) {
	s := startSession(t)

	obs := run(t, s, runtime.Action{Command: "for i in 1 2 3; do echo $i; done", Timeout: 5})
	assert.Equal(t, "1\n2\n3\n", obs.Output)
	assert.Equal(t, "0", obs.ExitCodeRaw)
}

func TestSession_InterruptAfterTimeout(t *testing.T) {
	s := startSession(t)

	obs := run(t, s, runtime.Action{Command: "sleep 30", Timeout: 0.2})
	require.Equal(t, runtime.ExitCodeTimeout, obs.ExitCodeRaw)

	// sleep still holds the terminal; Ctrl-C must get through to it.
	obs = run(t, s, runtime.Action{Command: "\x03", Timeout: 5})
	assert.NotEqual(t, runtime.ExitCodeTimeout, obs.ExitCodeRaw, obs.FailureReason)
	_, err := obs.ExitCode()
	require.NoError(t, err)

	obs = run(t, s, runtime.Action{Command: "echo again", Timeout: 5})
	assert.Equal(t, "again\n", obs.Output)
	assert.Equal(t, "0", obs.ExitCodeRaw)
}

func TestSession_ExitCodeTimeout(t *testing.T) {
	s := startSessionWith(t, Options{ExitCodeTimeout: 200 * time.Millisecond})

	// Every later simple command sleeps first while the flag file exists,
	// including the one that prints the exit status.
	flag := filepath.Join(t.TempDir(), "slow")
	require.NoError(t, os.WriteFile(flag, nil, 0o644))
	obs := run(t, s, runtime.Action{
		Command: fmt.Sprintf("trap '[ -e %s ] && sleep 0.5' DEBUG", flag),
		Timeout: 5,
	})
	assert.Equal(t, runtime.ExitCodeExitTimeout, obs.ExitCodeRaw)
	assert.Equal(t, "timeout while getting exit code", obs.FailureReason)

	require.NoError(t, os.Remove(flag))
	time.Sleep(time.Second)

	obs = run(t, s, runtime.Action{Command: "echo again", Timeout: 5})
	assert.Equal(t, "again\n", obs.Output)
	assert.Equal(t, "0", obs.ExitCodeRaw)
}

func TestSession_StartTimeouts(t *testing.T) {
	requirePTY(t)

	for _, tc := range []struct {
		name   string
		shell  []string
		reason string
	}{
		{
			name:   "silent shell",
			shell:  []string{"/bin/sh", "-c", "sleep 5"},
			reason: "timeout while initializing shell",
		},
		{
			// Answers the first line, then ignores the prompt setup.
			name:   "prompt never set",
			shell:  []string{"/bin/sh", "-c", `read line; eval "$line"; sleep 5`},
			reason: "timeout while setting PS1",
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			s := New("slow", Options{Shell: tc.shell, StartupTimeout: 300 * time.Millisecond})
			t.Cleanup(func() { _ = s.Close() })

			resp, err := s.Start(context.Background())
			require.NoError(t, err)
			assert.False(t, resp.Success)
			assert.Equal(t, tc.reason, resp.FailureReason)
			assert.Equal(t, StateUninitialized, s.State())

			obs := run(t, s, runtime.Action{Command: "echo hi"})
			assert.Equal(t, runtime.ExitCodeNotInitialized, obs.ExitCodeRaw)
		})
	}
}

func TestSession_ExpectPattern(t *testing.T) {
	s := startSession(t)

	obs := run(t, s, runtime.Action{
		Command:              "printf 'Password: '; read -r pw; echo got-$pw",
		Timeout:              5,
		Expect:               []string{"Password: "},
		IsInteractiveCommand: true,
	})
	assert.Equal(t, "Password: ", obs.ExpectString)
	assert.Equal(t, StateInteractive, s.State())

	obs = run(t, s, runtime.Action{Command: "secret", Timeout: 5, IsInteractiveQuit: true})
	assert.Equal(t, "0", obs.ExitCodeRaw)
	assert.Contains(t, obs.Output, "got-secret")
	assert.Equal(t, StateReady, s.State())

	obs = run(t, s, runtime.Action{Command: "echo after", Timeout: 5})
	assert.Equal(t, "after\n", obs.Output)
}

func TestSession_InteractiveTimeout(t *testing.T) {
	s := startSession(t)

	obs := run(t, s, runtime.Action{
		Command:              "stty echo; cat",
		Timeout:              0.5,
		Expect:               []string{"never-printed"},
		IsInteractiveCommand: true,
	})
	// cat never prints the prompt, so this times out rather than failing.
	assert.Equal(t, runtime.ExitCodeTimeout, obs.ExitCodeRaw)
}

func TestSession_Close(t *testing.T) {
	s := startSession(t)

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	assert.Equal(t, StateClosed, s.State())

	obs := run(t, s, runtime.Action{Command: "echo hi"})
	assert.Equal(t, runtime.ExitCodeNotInitialized, obs.ExitCodeRaw)
}

func TestSession_ShellExit(t *testing.T) {
	s := startSession(t)

	obs := run(t, s, runtime.Action{Command: "exit", Timeout: 5})
	assert.Equal(t, runtime.ExitCodeNotInitialized, obs.ExitCodeRaw)
	assert.Equal(t, StateClosed, s.State())
}

func TestSession_ConcurrentRunsSerialise(t *testing.T) {
	s := startSession(t)

	var wg sync.WaitGroup
	outputs := make([]string, 8)
	for i := range outputs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			obs, err := s.Run(context.Background(), &runtime.Action{Command: "echo line-" + strings.Repeat("x", i), Timeout: 5})
			if err != nil {
				t.Error(err)
				return
			}
			outputs[i] = obs.Output
		}(i)
	}
	wg.Wait()

	for i, out := range outputs {
		assert.Equal(t, "line-"+strings.Repeat("x", i)+"\n", out)
	}
}
