package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"github.com/michaelbrown/rex/internal/runtime"
)

var (
	sessionNameFlag string
	shellTimeout    float64
)

var shellCmd = &cobra.Command{
	Use:   "shell",
	Short: "Drive a session interactively",
	Long: `Open a session and send each line you type to it, printing the output
and exit code.

Examples:
  rex shell
  rex shell --remote --host 10.0.0.5 --token secret
  rex shell --deployment docker.yaml`,
	RunE: runShell,
}

func init() {
	shellCmd.Flags().StringVar(&sessionNameFlag, "session", "default", "Session name")
	shellCmd.Flags().Float64Var(&shellTimeout, "timeout", 0, "Per-command timeout in seconds (0 = runtime default)")
	rootCmd.AddCommand(shellCmd)
}

// shellState holds the settings slash commands change between lines.
type shellState struct {
	rt      runtime.Runtime
	session string
	timeout float64
	expect  []string
}

func runShell(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)

	ctx := context.Background()
	rt, stop, err := openRuntime(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer stop()

	resp, err := rt.CreateSession(ctx, &runtime.CreateSessionRequest{Name: sessionNameFlag})
	if err != nil {
		return fmt.Errorf("creating session: %w", err)
	}
	if !resp.Success {
		return fmt.Errorf("session %s failed to start: %s", sessionNameFlag, resp.FailureReason)
	}
	defer func() {
		if _, err := rt.CloseSession(context.Background(), &runtime.CloseSessionRequest{Session: sessionNameFlag}); err != nil {
			logger.Warn("closing session", "error", err)
		}
	}()

	fmt.Printf("rex - session %q\n", sessionNameFlag)
	fmt.Printf("Type /help for commands, /quit to exit\n\n")

	home, _ := os.UserHomeDir()
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "\033[36mrex>\033[0m ",
		HistoryFile:     filepath.Join(home, ".rex", "shell_history"),
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return fmt.Errorf("readline: %w", err)
	}
	defer rl.Close()

	// Ctrl+C cancels the running command, not the shell.
	var reqCancel context.CancelFunc
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		for range sigCh {
			if reqCancel != nil {
				reqCancel()
			}
		}
	}()

	st := &shellState{rt: rt, session: sessionNameFlag, timeout: shellTimeout}
	for {
		input, err := rl.Readline()
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) || errors.Is(err, io.EOF) {
				fmt.Println("\nGoodbye!")
				return nil
			}
			return err
		}

		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}

		action := &runtime.Action{Session: st.session, Command: input}
		if strings.HasPrefix(input, "/") {
			var quit bool
			action, quit = st.handleCommand(input)
			if quit {
				fmt.Println("Goodbye!")
				return nil
			}
			if action == nil {
				continue
			}
		}
		action.Timeout = st.timeout
		action.Expect = st.expect

		reqCtx, cancel := context.WithCancel(ctx)
		reqCancel = cancel
		obs, err := st.rt.RunInSession(reqCtx, action)
		wasInterrupted := reqCtx.Err() != nil
		cancel()
		reqCancel = nil

		if err != nil {
			if wasInterrupted {
				fmt.Println("(interrupted)")
				continue
			}
			fmt.Printf("\033[31merror: %s\033[0m\n", err)
			continue
		}
		printObservation(obs)
	}
}

// handleCommand applies a slash command. It returns an action when the
// command should still run something in the session.
func (st *shellState) handleCommand(input string) (*runtime.Action, bool) {
	name, rest, _ := strings.Cut(input, " ")
	rest = strings.TrimSpace(rest)

	switch strings.ToLower(name) {
	case "/quit", "/exit", "/q":
		return nil, true
	case "/interactive":
		if rest == "" {
			fmt.Println("usage: /interactive <command>")
			return nil, false
		}
		return &runtime.Action{Session: st.session, Command: rest, IsInteractiveCommand: true}, false
	case "/leave":
		if rest == "" {
			fmt.Println("usage: /leave <command>")
			return nil, false
		}
		return &runtime.Action{Session: st.session, Command: rest, IsInteractiveQuit: true}, false
	case "/expect":
		if rest == "" {
			st.expect = nil
			fmt.Println("Expect patterns cleared.")
		} else {
			st.expect = append(st.expect, rest)
			fmt.Printf("Expecting: %q\n", st.expect)
		}
	case "/timeout":
		secs, err := strconv.ParseFloat(rest, 64)
		if err != nil || secs < 0 {
			fmt.Println("usage: /timeout <seconds>")
			return nil, false
		}
		st.timeout = secs
		fmt.Printf("Timeout set to %gs.\n", secs)
	case "/help":
		fmt.Println("Commands:")
		fmt.Println("  /help                  - Show this help")
		fmt.Println("  /interactive <cmd>     - Start an interactive program (REPL, pager, debugger)")
		fmt.Println("  /leave <cmd>           - Send the command that exits the interactive program")
		fmt.Println("  /expect [pattern]      - Also stop waiting on pattern; no argument clears")
		fmt.Println("  /timeout <seconds>     - Per-command timeout (0 = default)")
		fmt.Println("  /quit                  - Exit")
		fmt.Println()
	default:
		fmt.Printf("Unknown command: %s (try /help)\n\n", input)
	}
	return nil, false
}

func printObservation(obs *runtime.Observation) {
	if obs.Output != "" {
		fmt.Print(obs.Output)
		if !strings.HasSuffix(obs.Output, "\n") {
			fmt.Println()
		}
	}
	if obs.FailureReason != "" {
		fmt.Printf("\033[31m%s\033[0m\n", obs.FailureReason)
	}
	if obs.ExpectString != "" {
		fmt.Printf("\033[90m(matched %q)\033[0m\n", obs.ExpectString)
	}
	if code, err := obs.ExitCode(); err == nil && code != 0 {
		fmt.Printf("\033[33m[exit %d]\033[0m\n", code)
	}
}
