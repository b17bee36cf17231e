package main

import (
	"context"
	"fmt"

	"github.com/charmbracelet/log"

	"github.com/michaelbrown/rex/internal/config"
	"github.com/michaelbrown/rex/internal/deployment"
	"github.com/michaelbrown/rex/internal/logging"
	"github.com/michaelbrown/rex/internal/runtime"
	"github.com/michaelbrown/rex/internal/runtime/remote"
)

func loadConfig() (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if configFlag != "" {
		cfg, err = config.LoadFile(configFlag)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	if logLevelFlag != "" {
		cfg.Log.Level = logLevelFlag
	}
	if hostFlag != "" {
		cfg.Remote.Host = hostFlag
		remoteFlag = true
	}
	if tokenFlag != "" {
		cfg.Remote.AuthToken = tokenFlag
	}
	if deploymentFlag != "" {
		cfg.DeploymentFile = deploymentFlag
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) *log.Logger {
	return logging.New("rex", cfg.LoggingOptions())
}

// deploymentConfig picks what the client commands run against: an explicit
// deployment file, the configured remote server, or this process.
func deploymentConfig(cfg *config.Config) (deployment.Config, error) {
	switch {
	case cfg.DeploymentFile != "":
		return deployment.LoadConfig(cfg.DeploymentFile)
	case remoteFlag:
		rc := deployment.DefaultRemoteConfig()
		rc.Host = cfg.Remote.Host
		rc.Port = cfg.Remote.Port
		rc.AuthToken = cfg.Remote.AuthToken
		rc.Timeout = cfg.Remote.Timeout
		return rc, nil
	default:
		return &deployment.LocalConfig{Type: "local"}, nil
	}
}

// openRuntime starts the selected deployment. The returned stop function
// must be called once the command is done with the runtime.
func openRuntime(ctx context.Context, cfg *config.Config, logger *log.Logger) (runtime.Runtime, func(), error) {
	dcfg, err := deploymentConfig(cfg)
	if err != nil {
		return nil, nil, err
	}
	d, err := deployment.New(dcfg, deployment.Options{
		Session: cfg.SessionOptions(),
		Logger:  logger,
	})
	if err != nil {
		return nil, nil, err
	}

	logger.Debug("starting deployment", "type", dcfg.Kind())
	if err := d.Start(ctx); err != nil {
		return nil, nil, fmt.Errorf("starting %s deployment: %w", dcfg.Kind(), err)
	}
	rt, err := d.Runtime()
	if err != nil {
		return nil, nil, err
	}

	stop := func() {
		if err := d.Stop(context.WithoutCancel(ctx)); err != nil {
			logger.Warn("stopping deployment", "error", err)
		}
	}
	return rt, stop, nil
}

func remoteClient(cfg *config.Config, logger *log.Logger) *remote.Runtime {
	opts := cfg.RemoteOptions()
	opts.Logger = logger.WithPrefix("remote")
	return remote.New(opts)
}
