//go:build linux

package terminal

import (
	"fmt"
	"os"
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

// spawn starts argv on a fresh PTY with echo disabled and returns the running
// command and the PTY master. The child is a session leader, so signals to
// -pid reach everything it spawned.
func spawn(argv []string, env []string, dir string) (*exec.Cmd, *os.File, error) {
	master, slavePath, err := openPTY()
	if err != nil {
		return nil, nil, fmt.Errorf("allocate PTY: %w", err)
	}

	slave, err := os.OpenFile(slavePath, os.O_RDWR, 0)
	if err != nil {
		master.Close()
		return nil, nil, fmt.Errorf("open PTY slave %s: %w", slavePath, err)
	}

	if err := setEcho(master, false); err != nil {
		slave.Close()
		master.Close()
		return nil, nil, err
	}

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Env = env
	cmd.Dir = dir
	cmd.Stdin = slave
	cmd.Stdout = slave
	cmd.Stderr = slave
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setsid:  true,
		Setctty: true,
		Ctty:    0,
	}

	if err := cmd.Start(); err != nil {
		slave.Close()
		master.Close()
		return nil, nil, fmt.Errorf("start %s: %w", argv[0], err)
	}
	// The child holds its own copies on fds 0-2.
	slave.Close()
	return cmd, master, nil
}

// openPTY allocates a PTY master/slave pair through /dev/ptmx.
func openPTY() (*os.File, string, error) {
	master, err := os.OpenFile("/dev/ptmx", os.O_RDWR|syscall.O_NOCTTY, 0)
	if err != nil {
		return nil, "", fmt.Errorf("open /dev/ptmx: %w", err)
	}

	var ptyNumber int
	err = control(master, func(fd int) error {
		var err error
		ptyNumber, err = unix.IoctlGetInt(fd, unix.TIOCGPTN)
		if err != nil {
			return fmt.Errorf("get PTY number (TIOCGPTN): %w", err)
		}
		if err := unix.IoctlSetPointerInt(fd, unix.TIOCSPTLCK, 0); err != nil {
			return fmt.Errorf("unlock PTY slave (TIOCSPTLCK): %w", err)
		}
		return nil
	})
	if err != nil {
		master.Close()
		return nil, "", err
	}

	return master, fmt.Sprintf("/dev/pts/%d", ptyNumber), nil
}

// control runs fn against the raw descriptor without File.Fd, which would
// switch the master to blocking mode and stop Close from interrupting reads.
func control(f *os.File, fn func(fd int) error) error {
	raw, err := f.SyscallConn()
	if err != nil {
		return err
	}
	var fnErr error
	if err := raw.Control(func(fd uintptr) { fnErr = fn(int(fd)) }); err != nil {
		return err
	}
	return fnErr
}

// setEcho toggles ECHO on the terminal behind master. Termios requests on a
// Linux PTY master apply to the slave side.
func setEcho(master *os.File, on bool) error {
	return control(master, func(fd int) error {
		termios, err := unix.IoctlGetTermios(fd, unix.TCGETS)
		if err != nil {
			return fmt.Errorf("get termios: %w", err)
		}
		if on {
			termios.Lflag |= unix.ECHO
		} else {
			termios.Lflag &^= unix.ECHO
		}
		if err := unix.IoctlSetTermios(fd, unix.TCSETS, termios); err != nil {
			return fmt.Errorf("set termios: %w", err)
		}
		return nil
	})
}

func echoEnabled(master *os.File) (bool, error) {
	var enabled bool
	err := control(master, func(fd int) error {
		termios, err := unix.IoctlGetTermios(fd, unix.TCGETS)
		if err != nil {
			return fmt.Errorf("get termios: %w", err)
		}
		enabled = termios.Lflag&unix.ECHO != 0
		return nil
	})
	return enabled, err
}

// signalGroup delivers sig to the process group led by cmd.
func signalGroup(cmd *exec.Cmd, sig syscall.Signal) error {
	err := unix.Kill(-cmd.Process.Pid, sig)
	if err == unix.ESRCH {
		return nil
	}
	return err
}
