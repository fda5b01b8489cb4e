//go:build unix

package tools

import (
	"os/exec"
	"syscall"
)

// consoleCommand puts a NewConsole child in its own session so it outlives
// the launcher's terminal. Its output still goes to the launcher's streams.
func consoleCommand(c Command) *exec.Cmd {
	cmd := exec.Command(c.Name, c.Args...)
	if c.NewConsole {
		cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	}
	return cmd
}

// SetUTF8Console is a no-op: non-Windows terminals take their encoding from
// the locale.
func SetUTF8Console() error {
	return nil
}
