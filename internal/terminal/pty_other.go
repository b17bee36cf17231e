//go:build !linux

package terminal

import (
	"errors"
	"os"
	"os/exec"
	"syscall"
)

var errUnsupported = errors.New("terminal sessions require Linux PTYs")

func spawn(argv []string, env []string, dir string) (*exec.Cmd, *os.File, error) {
	return nil, nil, errUnsupported
}

func setEcho(master *os.File, on bool) error { return errUnsupported }

func echoEnabled(master *os.File) (bool, error) { return false, errUnsupported }

func signalGroup(cmd *exec.Cmd, sig syscall.Signal) error {
	return cmd.Process.Kill()
}
