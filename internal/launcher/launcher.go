package launcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"github.com/danmuck/renodectl/internal/backoff"
	"github.com/danmuck/renodectl/internal/config"
	"github.com/danmuck/renodectl/internal/tools"
	"github.com/rs/zerolog/log"
)

var (
	ErrStartFailed  = errors.New("launcher: start failed")
	ErrNotReady     = errors.New("launcher: step not ready")
	ErrExitedEarly  = errors.New("launcher: step exited before ready")
	ErrUnknownMode  = errors.New("launcher: unknown step mode")
	ErrEmptyCommand = errors.New("launcher: step has no command")
)

// StepResult records what happened to one step.
type StepResult struct {
	Name     string
	Mode     string
	Started  bool
	Pid      int
	Ready    bool
	Manual   bool
	ExitCode int32
}

// Result is the outcome of a launch.
type Result struct {
	Steps    []StepResult
	ExitCode int32
}

// Prober checks whether addr accepts connections.
type Prober func(ctx context.Context, addr string) error

// TCPProbe dials addr once.
func TCPProbe(ctx context.Context, addr string) error {
	d := net.Dialer{Timeout: time.Second}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	return conn.Close()
}

// Launcher runs a Plan step by step.
type Launcher struct {
	runner  tools.CommandRunner
	probe   Prober
	out     io.Writer
	backoff backoff.Config
	utf8    func() error

	attached []tools.Process
}

type Option func(*Launcher)

func WithRunner(r tools.CommandRunner) Option { return func(l *Launcher) { l.runner = r } }
func WithProber(p Prober) Option              { return func(l *Launcher) { l.probe = p } }
func WithOutput(w io.Writer) Option           { return func(l *Launcher) { l.out = w } }
func WithBackoff(cfg backoff.Config) Option   { return func(l *Launcher) { l.backoff = cfg } }

func New(opts ...Option) *Launcher {
	l := &Launcher{
		runner: tools.ExecRunner{},
		probe:  TCPProbe,
		out:    os.Stdout,
		backoff: backoff.Config{
			InitialDelay: 100 * time.Millisecond,
			Multiplier:   1.5,
			MaxDelay:     time.Second,
		},
		utf8: tools.SetUTF8Console,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Launch runs every step in order. Background children that share the
// launcher's console are kept alive until ctx is done and then stopped;
// children in their own console are left running.
func (l *Launcher) Launch(ctx context.Context, plan Plan) (Result, error) {
	if plan.UTF8Console {
		if err := l.utf8(); err != nil {
			log.Warn().Err(err).Msg("launcher.Launch utf8 console unavailable")
		}
	}

	res := Result{}
	total := len(plan.Steps)
	for i, step := range plan.Steps {
		if ctx.Err() != nil {
			l.stopAttached()
			return res, ctx.Err()
		}
		sr, err := l.runStep(ctx, i+1, total, step)
		res.Steps = append(res.Steps, sr)
		if sr.Mode == config.ModeForeground {
			res.ExitCode = sr.ExitCode
		}
		if err != nil {
			l.stopAttached()
			if res.ExitCode == 0 {
				res.ExitCode = 1
			}
			return res, err
		}
	}

	l.holdAttached(ctx)
	return res, nil
}

func (l *Launcher) runStep(ctx context.Context, n, total int, step Step) (StepResult, error) {
	sr := StepResult{Name: step.Name, Mode: step.Mode}
	if step.Command == "" {
		return sr, fmt.Errorf("%w: %s", ErrEmptyCommand, step.Name)
	}
	cmd := tools.Command{
		Name:       step.Command,
		Args:       step.Args,
		Dir:        step.Dir,
		NewConsole: step.NewConsole,
	}

	switch step.Mode {
	case config.ModeManual:
		l.printf("[%d/%d] %s: start it manually:\n", n, total, step.Name)
		if step.Dir != "" {
			l.printf("    cd %s\n", quote(step.Dir))
		}
		l.printf("    %s\n", step.CommandLine())
		sr.Manual = true
		log.Info().Str("step", step.Name).Str("command", step.CommandLine()).Msg("launcher.runStep manual")
		return sr, nil

	case config.ModeForeground:
		l.printf("[%d/%d] %s: running %s\n", n, total, step.Name, step.CommandLine())
		cmd.Stdin = os.Stdin
		code, err := l.runner.Run(ctx, cmd)
		sr.Started = code != 127
		sr.ExitCode = code
		log.Info().Str("step", step.Name).Int32("exit_code", code).Err(err).Msg("launcher.runStep foreground finished")
		if code == 127 {
			return sr, fmt.Errorf("%w: %s: %v", ErrStartFailed, step.Name, err)
		}
		return sr, nil

	case config.ModeBackground, "":
		sr.Mode = config.ModeBackground
		l.printf("[%d/%d] %s: starting %s\n", n, total, step.Name, step.CommandLine())
		proc, err := l.runner.Start(cmd)
		if err != nil {
			return sr, fmt.Errorf("%w: %s: %v", ErrStartFailed, step.Name, err)
		}
		sr.Started = true
		sr.Pid = proc.Pid()
		if !step.NewConsole {
			l.attached = append(l.attached, proc)
		}
		log.Info().Str("step", step.Name).Int("pid", sr.Pid).Bool("new_console", step.NewConsole).
			Msg("launcher.runStep started")

		if err := l.waitReady(ctx, step, proc); err != nil {
			return sr, err
		}
		sr.Ready = true
		return sr, nil

	default:
		return sr, fmt.Errorf("%w: %s mode=%q", ErrUnknownMode, step.Name, step.Mode)
	}
}

// waitReady polls step.Ready until it accepts connections, or sleeps for
// step.Delay when no probe address is configured. A child that exits during
// the wait fails the step.
func (l *Launcher) waitReady(ctx context.Context, step Step, proc tools.Process) error {
	if step.Ready == "" {
		if step.Delay <= 0 {
			return nil
		}
		l.printf("    waiting %s\n", step.Delay)
		timer := time.NewTimer(step.Delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-proc.Done():
			return fmt.Errorf("%w: %s: %v", ErrExitedEarly, step.Name, proc.Err())
		case <-timer.C:
			return nil
		}
	}

	timeout := step.ReadyTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	l.printf("    waiting for %s (up to %s)\n", step.Ready, timeout)
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	for attempt := 1; ; attempt++ {
		err := l.probe(waitCtx, step.Ready)
		if err == nil {
			log.Info().Str("step", step.Name).Str("addr", step.Ready).Int("attempts", attempt).
				Msg("launcher.waitReady ready")
			return nil
		}
		select {
		case <-proc.Done():
			return fmt.Errorf("%w: %s: %v", ErrExitedEarly, step.Name, proc.Err())
		default:
		}

		timer := time.NewTimer(backoff.Delay(l.backoff, attempt, nil))
		select {
		case <-waitCtx.Done():
			timer.Stop()
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("%w: %s addr=%s after %s: %v", ErrNotReady, step.Name, step.Ready, timeout, err)
		case <-proc.Done():
			timer.Stop()
			return fmt.Errorf("%w: %s: %v", ErrExitedEarly, step.Name, proc.Err())
		case <-timer.C:
		}
	}
}

// holdAttached blocks while attached children run, stopping them when ctx
// is done.
func (l *Launcher) holdAttached(ctx context.Context) {
	if len(l.attached) == 0 {
		return
	}
	l.printf("bench running; press Ctrl+C to stop\n")
	for _, p := range l.attached {
		select {
		case <-ctx.Done():
			l.stopAttached()
			return
		case <-p.Done():
		}
	}
}

func (l *Launcher) stopAttached() {
	for _, p := range l.attached {
		if err := p.Stop(); err != nil {
			log.Warn().Err(err).Int("pid", p.Pid()).Msg("launcher.stopAttached stop failed")
		}
	}
	l.attached = nil
}

func (l *Launcher) printf(format string, args ...any) {
	if l.out == nil {
		return
	}
	fmt.Fprintf(l.out, format, args...)
}
