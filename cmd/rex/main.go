package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	configFlag     string
	logLevelFlag   string
	deploymentFlag string
	remoteFlag     bool
	hostFlag       string
	tokenFlag      string
)

var rootCmd = &cobra.Command{
	Use:   "rex",
	Short: "rex - Remote execution for shell sessions",
	Long: `rex runs persistent shell sessions and one-shot commands, locally or
behind an HTTP server, so that agents and tools can drive a terminal.

Commands run against an in-process runtime by default. Use --remote to talk
to a running "rex serve", or --deployment to start one from a YAML file.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFlag, "config", "", "Config file (default: ./rex.yaml or ~/.rex/rex.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevelFlag, "log-level", "", "Log level: debug, info, warn, error (overrides config)")
	rootCmd.PersistentFlags().StringVar(&deploymentFlag, "deployment", "", "Deployment file to start the runtime from")
	rootCmd.PersistentFlags().BoolVar(&remoteFlag, "remote", false, "Use the configured remote server")
	rootCmd.PersistentFlags().StringVar(&hostFlag, "host", "", "Remote host (overrides config, implies --remote)")
	rootCmd.PersistentFlags().StringVar(&tokenFlag, "token", "", "Remote auth token (overrides config)")
}

// exitCodeError ends the process with a command's own exit status.
type exitCodeError struct {
	code int
}

func (e exitCodeError) Error() string {
	return fmt.Sprintf("exit status %d", e.code)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		var exit exitCodeError
		if errors.As(err, &exit) {
			os.Exit(exit.code)
		}
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
