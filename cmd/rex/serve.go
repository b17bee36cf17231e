package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/michaelbrown/rex/internal/runtime/local"
	"github.com/michaelbrown/rex/internal/server"
	"github.com/michaelbrown/rex/internal/storage"
	"github.com/michaelbrown/rex/internal/storage/sqlite"
)

var (
	portFlag      int
	authTokenFlag string
	noHistoryFlag bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the rex HTTP server",
	Long: `Start the rex HTTP server. Sessions run in this process and are
reachable over the JSON API and the per-session WebSocket.

Every session and action is recorded in the history database unless
--no-history is given.

Examples:
  rex serve
  rex serve --port 9090 --auth-token secret
  REX_SERVER_AUTH_TOKEN=secret rex serve`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntVar(&portFlag, "port", 0, "Port to listen on (overrides config)")
	serveCmd.Flags().StringVar(&authTokenFlag, "auth-token", "", "Required X-API-Key value (overrides config)")
	serveCmd.Flags().BoolVar(&noHistoryFlag, "no-history", false, "Do not record session history")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)

	var store storage.Store
	if !noHistoryFlag {
		db, err := sqlite.Open(cfg.Storage.DBPath)
		if err != nil {
			return fmt.Errorf("opening storage: %w", err)
		}
		defer db.Close()
		store = db
	}

	port := cfg.Server.Port
	if portFlag > 0 {
		port = portFlag
	}
	token := cfg.Server.AuthToken
	if authTokenFlag != "" {
		token = authTokenFlag
	}
	if token == "" {
		logger.Warn("no auth token configured, the API is open to anyone who can reach it")
	}

	sessionOpts := cfg.SessionOptions()
	sessionOpts.Logger = logger.WithPrefix("session")
	rt := local.New(local.Options{Session: sessionOpts, Logger: logger})

	srv := server.New(rt, server.Options{
		AuthToken: token,
		Store:     store,
		Logger:    logger,
	})

	// Graceful shutdown on SIGINT/SIGTERM
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigCh
		if err := srv.Shutdown(context.Background()); err != nil {
			logger.Error("shutdown", "error", err)
		}
	}()

	return srv.Start(port)
}
