package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/michaelbrown/rex/internal/logging"
	"github.com/michaelbrown/rex/internal/runtime/remote"
	"github.com/michaelbrown/rex/internal/terminal"
)

type ServerConfig struct {
	Port      int    `mapstructure:"port"`
	AuthToken string `mapstructure:"auth_token"`
}

type RemoteConfig struct {
	Host      string        `mapstructure:"host"`
	Port      int           `mapstructure:"port"`
	AuthToken string        `mapstructure:"auth_token"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

type SessionConfig struct {
	StartupTimeout  time.Duration `mapstructure:"startup_timeout"`
	ExitCodeTimeout time.Duration `mapstructure:"exit_code_timeout"`
}

type StorageConfig struct {
	DBPath string `mapstructure:"db_path"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type Config struct {
	Server         ServerConfig  `mapstructure:"server"`
	Remote         RemoteConfig  `mapstructure:"remote"`
	Session        SessionConfig `mapstructure:"session"`
	Storage        StorageConfig `mapstructure:"storage"`
	Log            LogConfig     `mapstructure:"log"`
	DeploymentFile string        `mapstructure:"deployment_file"`
}

// Load reads rex.yaml from the working directory or $HOME/.rex. A missing file
// is not an error; defaults and REX_* environment variables still apply
// (REX_SERVER_AUTH_TOKEN sets server.auth_token).
func Load() (*Config, error) {
	return load(viper.New())
}

// LoadFile reads the config from an explicit path, which must exist.
func LoadFile(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	return load(v)
}

func load(v *viper.Viper) (*Config, error) {
	v.SetConfigName("rex")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.rex")

	v.SetEnvPrefix("REX")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("server.port", 8000)
	v.SetDefault("server.auth_token", "")
	v.SetDefault("remote.host", remote.DefaultHost)
	v.SetDefault("remote.port", remote.DefaultPort)
	v.SetDefault("remote.auth_token", "")
	v.SetDefault("remote.timeout", 0)
	v.SetDefault("session.startup_timeout", terminal.DefaultStartupTimeout)
	v.SetDefault("session.exit_code_timeout", terminal.DefaultExitCodeTimeout)
	v.SetDefault("storage.db_path", filepath.Join(os.Getenv("HOME"), ".rex", "rex.db"))
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("deployment_file", "")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	cfg.Server.AuthToken = expandEnv(cfg.Server.AuthToken)
	cfg.Remote.AuthToken = expandEnv(cfg.Remote.AuthToken)
	return &cfg, nil
}

// expandEnv resolves a "${VAR}" value from the environment.
func expandEnv(s string) string {
	if strings.HasPrefix(s, "${") && strings.HasSuffix(s, "}") {
		return os.Getenv(s[2 : len(s)-1])
	}
	return s
}

// LoggingOptions returns the options for logging.New.
func (c *Config) LoggingOptions() logging.Options {
	return logging.Options{Level: c.Log.Level, Format: c.Log.Format}
}

// SessionOptions returns the terminal options for new sessions.
func (c *Config) SessionOptions() terminal.Options {
	return terminal.Options{
		StartupTimeout:  c.Session.StartupTimeout,
		ExitCodeTimeout: c.Session.ExitCodeTimeout,
	}
}

// RemoteOptions returns the client options for the configured remote server.
func (c *Config) RemoteOptions() remote.Options {
	return remote.Options{
		Host:      c.Remote.Host,
		Port:      c.Remote.Port,
		AuthToken: c.Remote.AuthToken,
		Timeout:   c.Remote.Timeout,
	}
}
