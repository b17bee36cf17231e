package deployment

import (
	"slices"
	"strconv"
)

// Policy defines resource limits for a container deployment.
type Policy struct {
	MaxMemory string   `yaml:"max_memory"` // Docker memory limit (e.g. "2g"); empty means none
	CPUs      string   `yaml:"cpus"`       // Docker --cpus value; empty means none
	PidsLimit int      `yaml:"pids_limit"` // Docker --pids-limit; zero means none
	Images    []string `yaml:"images"`     // Allowed Docker images; empty allows any
}

// DefaultPolicy returns the limits used when a config names none.
func DefaultPolicy() Policy {
	return Policy{
		MaxMemory: "2g",
		PidsLimit: 1024,
	}
}

// IsImageAllowed checks if an image is on the allowlist.
func (p Policy) IsImageAllowed(image string) bool {
	return len(p.Images) == 0 || slices.Contains(p.Images, image)
}

// RunArgs returns the docker run flags enforcing the policy.
func (p Policy) RunArgs() []string {
	var args []string
	if p.MaxMemory != "" {
		args = append(args, "--memory", p.MaxMemory)
	}
	if p.CPUs != "" {
		args = append(args, "--cpus", p.CPUs)
	}
	if p.PidsLimit > 0 {
		args = append(args, "--pids-limit", strconv.Itoa(p.PidsLimit))
	}
	return args
}
