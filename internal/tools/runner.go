package tools

import (
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"sync"
)

// Command describes one external program invocation.
type Command struct {
	Name string
	Args []string
	Dir  string
	// NewConsole detaches the child into its own console window (Windows) or
	// session (elsewhere). Elsewhere the child keeps the launcher's streams.
	NewConsole bool
	Stdin      io.Reader
	Stdout     io.Writer
	Stderr     io.Writer
}

// Process is a started background child.
type Process interface {
	Pid() int
	// Done is closed when the child exits.
	Done() <-chan struct{}
	// Err is the wait result, valid after Done.
	Err() error
	Stop() error
}

// CommandRunner abstracts process execution for the launcher.
type CommandRunner interface {
	// Run executes cmd in the foreground and returns its exit code.
	Run(ctx context.Context, cmd Command) (int32, error)
	// Start launches cmd without waiting for it.
	Start(cmd Command) (Process, error)
}

// ExecRunner executes commands on the local host.
type ExecRunner struct{}

func (r ExecRunner) Run(ctx context.Context, c Command) (int32, error) {
	cmd := build(exec.CommandContext(ctx, c.Name, c.Args...), c)
	err := cmd.Run()
	return exitCode(err), err
}

func (r ExecRunner) Start(c Command) (Process, error) {
	cmd := build(consoleCommand(c), c)
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	p := &execProcess{cmd: cmd, done: make(chan struct{})}
	go func() {
		p.err = cmd.Wait()
		close(p.done)
	}()
	return p, nil
}

func build(cmd *exec.Cmd, c Command) *exec.Cmd {
	cmd.Dir = c.Dir
	cmd.Stdin = c.Stdin
	cmd.Stdout = c.Stdout
	cmd.Stderr = c.Stderr
	// Unset streams would be wired to the null device.
	if cmd.Stdout == nil {
		cmd.Stdout = os.Stdout
	}
	if cmd.Stderr == nil {
		cmd.Stderr = os.Stderr
	}
	return cmd
}

// ExitInterrupted is reported for a child killed by a signal.
const ExitInterrupted = 130

// exitCode maps a command error to a shell-style exit status.
func exitCode(err error) int32 {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if code := exitErr.ExitCode(); code >= 0 {
			return int32(code)
		}
		return ExitInterrupted
	}
	var execErr *exec.Error
	if errors.As(err, &execErr) {
		return 127
	}
	return 1
}

type execProcess struct {
	cmd      *exec.Cmd
	done     chan struct{}
	err      error
	stopOnce sync.Once
}

func (p *execProcess) Pid() int {
	return p.cmd.Process.Pid
}

func (p *execProcess) Done() <-chan struct{} {
	return p.done
}

func (p *execProcess) Err() error {
	select {
	case <-p.done:
		return p.err
	default:
		return nil
	}
}

func (p *execProcess) Stop() error {
	var err error
	p.stopOnce.Do(func() {
		select {
		case <-p.done:
			return
		default:
		}
		err = p.cmd.Process.Kill()
		<-p.done
	})
	return err
}
