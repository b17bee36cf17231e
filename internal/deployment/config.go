package deployment

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is one of *LocalConfig, *DockerConfig, *RemoteConfig or
// *DummyConfig, selected by the "type" key of the YAML document.
type Config interface {
	Kind() string
}

type LocalConfig struct {
	Type string `yaml:"type"`
}

// PullPolicy says when the Docker image is pulled.
type PullPolicy string

const (
	PullNever   PullPolicy = "never"
	PullAlways  PullPolicy = "always"
	PullMissing PullPolicy = "missing"
)

type DockerConfig struct {
	Type  string `yaml:"type"`
	Image string `yaml:"image"`
	// Port on the host; zero picks a free one.
	Port int `yaml:"port"`
	// Command starts the server inside the container. It must listen on
	// ContainerPort.
	Command        []string      `yaml:"command"`
	ContainerPort  int           `yaml:"container_port"`
	DockerArgs     []string      `yaml:"docker_args"`
	StartupTimeout time.Duration `yaml:"startup_timeout"`
	// AuthToken defaults to a random token.
	AuthToken    string     `yaml:"auth_token"`
	Pull         PullPolicy `yaml:"pull"`
	RemoveImages bool       `yaml:"remove_images"`
	Policy       Policy     `yaml:"policy"`
}

type RemoteConfig struct {
	Type           string        `yaml:"type"`
	AuthToken      string        `yaml:"auth_token"`
	Host           string        `yaml:"host"`
	Port           int           `yaml:"port"`
	Timeout        time.Duration `yaml:"timeout"`
	StartupTimeout time.Duration `yaml:"startup_timeout"`
}

type DummyConfig struct {
	Type string `yaml:"type"`
}

func (*LocalConfig) Kind() string  { return "local" }
func (*DockerConfig) Kind() string { return "docker" }
func (*RemoteConfig) Kind() string { return "remote" }
func (*DummyConfig) Kind() string  { return "dummy" }

// DefaultDockerConfig returns the defaults a docker document is decoded over.
func DefaultDockerConfig() *DockerConfig {
	return &DockerConfig{
		Type:           "docker",
		Image:          "rex:latest",
		Command:        []string{"rex", "serve"},
		ContainerPort:  8000,
		StartupTimeout: 180 * time.Second,
		Pull:           PullMissing,
		Policy:         DefaultPolicy(),
	}
}

// DefaultRemoteConfig returns the defaults a remote document is decoded over.
func DefaultRemoteConfig() *RemoteConfig {
	return &RemoteConfig{
		Type:           "remote",
		Host:           "http://127.0.0.1",
		StartupTimeout: 10 * time.Second,
	}
}

// ParseConfig decodes a deployment document. A missing type means local;
// unknown keys are rejected.
func ParseConfig(data []byte) (Config, error) {
	var header struct {
		Type string `yaml:"type"`
	}
	if err := yaml.Unmarshal(data, &header); err != nil {
		return nil, fmt.Errorf("parsing deployment config: %w", err)
	}

	var cfg Config
	switch header.Type {
	case "", "local":
		cfg = &LocalConfig{Type: "local"}
	case "docker":
		cfg = DefaultDockerConfig()
	case "remote":
		cfg = DefaultRemoteConfig()
	case "dummy":
		cfg = &DummyConfig{Type: "dummy"}
	default:
		return nil, fmt.Errorf("unknown deployment type %q", header.Type)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parsing %s deployment config: %w", cfg.Kind(), err)
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadConfig reads and parses a deployment file.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading deployment config: %w", err)
	}
	return ParseConfig(data)
}

func validate(cfg Config) error {
	switch c := cfg.(type) {
	case *DockerConfig:
		switch c.Pull {
		case PullNever, PullAlways, PullMissing:
		default:
			return fmt.Errorf("invalid pull policy %q", c.Pull)
		}
		if c.Image == "" {
			return errors.New("docker deployment needs an image")
		}
	case *RemoteConfig:
		if c.AuthToken == "" {
			return errors.New("remote deployment needs auth_token")
		}
	}
	return nil
}
