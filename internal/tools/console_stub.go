//go:build !unix && !windows

package tools

import "os/exec"

func consoleCommand(c Command) *exec.Cmd {
	return exec.Command(c.Name, c.Args...)
}

func SetUTF8Console() error {
	return nil
}
