// Command rex-mcp serves rex sessions as MCP tools over stdio.
//
// The runtime is in-process unless the config names a deployment file
// (deployment_file, or REX_DEPLOYMENT_FILE). Logs go to stderr; stdout
// carries the protocol.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/mark3labs/mcp-go/server"

	"github.com/michaelbrown/rex/internal/config"
	"github.com/michaelbrown/rex/internal/deployment"
	"github.com/michaelbrown/rex/internal/logging"
	"github.com/michaelbrown/rex/internal/mcptools"
)

const version = "0.1.0"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "rex-mcp: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	logger := logging.New("rex-mcp", cfg.LoggingOptions())

	var dcfg deployment.Config = &deployment.LocalConfig{Type: "local"}
	if cfg.DeploymentFile != "" {
		if dcfg, err = deployment.LoadConfig(cfg.DeploymentFile); err != nil {
			return err
		}
	}

	d, err := deployment.New(dcfg, deployment.Options{
		Session: cfg.SessionOptions(),
		Logger:  logger,
	})
	if err != nil {
		return err
	}

	ctx := context.Background()
	if err := d.Start(ctx); err != nil {
		return fmt.Errorf("starting %s deployment: %w", dcfg.Kind(), err)
	}
	defer func() {
		if err := d.Stop(ctx); err != nil {
			logger.Warn("stopping deployment", "error", err)
		}
	}()

	rt, err := d.Runtime()
	if err != nil {
		return err
	}

	logger.Info("serving MCP over stdio", "deployment", dcfg.Kind())
	return server.ServeStdio(mcptools.NewServer(rt, version))
}
