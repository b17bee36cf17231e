package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/michaelbrown/rex/internal/runtime"
	"github.com/michaelbrown/rex/internal/wait"
)

var (
	execShell   bool
	execCheck   bool
	execTimeout float64
	execCwd     string
	execEnv     []string
	aliveWait   time.Duration
)

var execCmd = &cobra.Command{
	Use:   "exec -- <command> [args...]",
	Short: "Run a one-shot command outside of any session",
	Long: `Run a command to completion and relay its stdout, stderr and exit code.

Examples:
  rex exec -- ls -la /tmp
  rex exec --shell -- 'echo $HOME | tr a-z A-Z'
  rex exec --remote --timeout 5 -- make test`,
	Args: cobra.MinimumNArgs(1),
	RunE: runExec,
}

var uploadCmd = &cobra.Command{
	Use:   "upload <source> <target>",
	Short: "Copy a local file or directory into the runtime",
	Args:  cobra.ExactArgs(2),
	RunE:  runUpload,
}

var readCmd = &cobra.Command{
	Use:   "read <path>",
	Short: "Print a file from the runtime",
	Args:  cobra.ExactArgs(1),
	RunE:  runRead,
}

var writeCmd = &cobra.Command{
	Use:   "write <path>",
	Short: "Write stdin to a file in the runtime",
	Args:  cobra.ExactArgs(1),
	RunE:  runWrite,
}

var aliveCmd = &cobra.Command{
	Use:   "alive",
	Short: "Check whether the remote server answers",
	Long: `Probe the configured remote server. With --wait, keep probing until it
answers or the duration elapses.

Examples:
  rex alive --host 10.0.0.5
  rex alive --wait 30s`,
	RunE: runAlive,
}

func init() {
	execCmd.Flags().BoolVar(&execShell, "shell", false, "Run the joined arguments through bash -c")
	execCmd.Flags().BoolVar(&execCheck, "check", false, "Fail with an error on non-zero exit")
	execCmd.Flags().Float64Var(&execTimeout, "timeout", 0, "Timeout in seconds (0 = none)")
	execCmd.Flags().StringVar(&execCwd, "cwd", "", "Working directory")
	execCmd.Flags().StringArrayVarP(&execEnv, "env", "e", nil, "Extra environment variable KEY=VALUE (repeatable)")

	aliveCmd.Flags().DurationVar(&aliveWait, "wait", 0, "Keep probing for up to this long")

	rootCmd.AddCommand(execCmd, uploadCmd, readCmd, writeCmd, aliveCmd)
}

// withRuntime runs fn against the runtime selected by the global flags.
func withRuntime(fn func(ctx context.Context, rt runtime.Runtime) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := context.Background()
	rt, stop, err := openRuntime(ctx, cfg, newLogger(cfg))
	if err != nil {
		return err
	}
	defer stop()
	return fn(ctx, rt)
}

func runExec(cmd *cobra.Command, args []string) error {
	env := make(map[string]string, len(execEnv))
	for _, kv := range execEnv {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			return fmt.Errorf("invalid --env %q, want KEY=VALUE", kv)
		}
		env[k] = v
	}

	var resp *runtime.CommandResponse
	err := withRuntime(func(ctx context.Context, rt runtime.Runtime) error {
		var err error
		resp, err = rt.Execute(ctx, &runtime.Command{
			Command: runtime.CommandLine(args),
			Timeout: execTimeout,
			Shell:   execShell,
			Check:   execCheck,
			Env:     env,
			Cwd:     execCwd,
		})
		return err
	})
	if err != nil {
		return err
	}

	fmt.Fprint(os.Stdout, resp.Stdout)
	fmt.Fprint(os.Stderr, resp.Stderr)
	if resp.ExitCode != 0 {
		return exitCodeError{code: resp.ExitCode}
	}
	return nil
}

func runUpload(cmd *cobra.Command, args []string) error {
	return withRuntime(func(ctx context.Context, rt runtime.Runtime) error {
		_, err := rt.Upload(ctx, &runtime.UploadRequest{SourcePath: args[0], TargetPath: args[1]})
		if err != nil {
			return err
		}
		fmt.Printf("Uploaded %s to %s\n", args[0], args[1])
		return nil
	})
}

func runRead(cmd *cobra.Command, args []string) error {
	return withRuntime(func(ctx context.Context, rt runtime.Runtime) error {
		resp, err := rt.ReadFile(ctx, &runtime.ReadFileRequest{Path: args[0]})
		if err != nil {
			return err
		}
		fmt.Print(resp.Content)
		return nil
	})
}

func runWrite(cmd *cobra.Command, args []string) error {
	content, err := io.ReadAll(cmd.InOrStdin())
	if err != nil {
		return fmt.Errorf("reading stdin: %w", err)
	}
	return withRuntime(func(ctx context.Context, rt runtime.Runtime) error {
		_, err := rt.WriteFile(ctx, &runtime.WriteFileRequest{Path: args[0], Content: string(content)})
		return err
	})
}

func runAlive(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	rt := remoteClient(cfg, newLogger(cfg))
	ctx := context.Background()

	if aliveWait > 0 {
		if err := wait.UntilAlive(ctx, rt.IsAlive, aliveWait); err != nil {
			return err
		}
		fmt.Printf("%s is alive\n", rt.URL())
		return nil
	}

	resp, err := rt.IsAlive(ctx, 0)
	if err != nil {
		return err
	}
	if !resp.IsAlive {
		return fmt.Errorf("%s is not alive: %s", rt.URL(), resp.Message)
	}
	fmt.Printf("%s is alive\n", rt.URL())
	return nil
}
