//go:build windows

package tools

import (
	"os"
	"os/exec"
	"strings"
	"syscall"

	"golang.org/x/sys/windows"
)

const codePageUTF8 = 65001

// consoleCommand runs a NewConsole child through `start /wait`, which opens
// a window whose standard handles belong to the child. Handing the child
// redirected handles under CREATE_NEW_CONSOLE leaves that window blank.
// /wait keeps the wrapper alive for as long as the child runs.
func consoleCommand(c Command) *exec.Cmd {
	if !c.NewConsole {
		return exec.Command(c.Name, c.Args...)
	}
	shell := os.Getenv("ComSpec")
	if shell == "" {
		shell = "cmd.exe"
	}
	parts := []string{syscall.EscapeArg(shell), "/c", "start", `""`, "/wait", syscall.EscapeArg(c.Name)}
	for _, a := range c.Args {
		parts = append(parts, syscall.EscapeArg(a))
	}
	cmd := exec.Command(shell)
	cmd.SysProcAttr = &syscall.SysProcAttr{
		CmdLine:       strings.Join(parts, " "),
		CreationFlags: windows.CREATE_NO_WINDOW,
	}
	return cmd
}

// SetUTF8Console switches the attached console to the UTF-8 code page.
func SetUTF8Console() error {
	if err := windows.SetConsoleOutputCP(codePageUTF8); err != nil {
		return err
	}
	return windows.SetConsoleCP(codePageUTF8)
}
