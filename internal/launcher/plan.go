package launcher

import (
	"net"
	"path/filepath"
	"strings"
	"time"

	"github.com/danmuck/renodectl/internal/config"
)

// Step is one process in the bench startup sequence.
type Step struct {
	Name       string
	Command    string
	Args       []string
	Dir        string
	NewConsole bool
	// Ready is a TCP address polled after a background start. When empty the
	// launcher sleeps for Delay instead.
	Ready        string
	ReadyTimeout time.Duration
	Delay        time.Duration
	Mode         string
}

// Plan is the ordered startup sequence.
type Plan struct {
	Steps       []Step
	UTF8Console bool
}

// BuildPlan derives the startup sequence from cfg. self is the renodectl
// binary used for the receiver and firmware steps; cfgPath is forwarded to
// them when non-empty.
func BuildPlan(cfg config.Config, self, cfgPath string) Plan {
	plan := Plan{UTF8Console: cfg.UTF8Console}
	if len(cfg.Launcher.Steps) > 0 {
		for _, s := range cfg.Launcher.Steps {
			plan.Steps = append(plan.Steps, Step{
				Name:         s.Name,
				Command:      s.Command,
				Args:         append([]string{}, s.Args...),
				Dir:          joinDir(cfg.Workdir, s.Workdir),
				NewConsole:   s.NewConsole,
				Ready:        dialAddr(s.Ready),
				ReadyTimeout: orDefault(s.ReadyTimeout, cfg.Launcher.ReadyTimeout),
				Delay:        s.Delay,
				Mode:         s.Mode,
			})
		}
		return plan
	}

	selfArgs := func(sub string) []string {
		args := []string{sub}
		if cfgPath != "" {
			args = append(args, "--config", cfgPath)
		}
		return args
	}

	renodeArgs := append([]string{}, cfg.Renode.Args...)
	if cfg.Renode.Script != "" {
		renodeArgs = append(renodeArgs, cfg.Renode.Script)
	}

	plan.Steps = []Step{
		{
			Name:         "receiver",
			Command:      self,
			Args:         selfArgs("receive"),
			Dir:          cfg.Workdir,
			NewConsole:   cfg.Launcher.NewConsole,
			Ready:        dialAddr(cfg.Receiver.Addr),
			ReadyTimeout: cfg.Launcher.ReadyTimeout,
			Delay:        cfg.Launcher.StepDelay,
			Mode:         config.ModeBackground,
		},
		{
			Name:       "firmware",
			Command:    self,
			Args:       selfArgs("firmware"),
			Dir:        cfg.Workdir,
			NewConsole: cfg.Launcher.NewConsole,
			Delay:      cfg.Launcher.StepDelay,
			Mode:       config.ModeBackground,
		},
		{
			Name:    "renode",
			Command: cfg.Renode.Command,
			Args:    renodeArgs,
			Dir:     cfg.Workdir,
			Mode:    cfg.Renode.Mode,
		},
	}
	return plan
}

// dialAddr turns a listen address into one a client can dial.
func dialAddr(addr string) string {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return ""
	}
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	switch host {
	case "", "0.0.0.0":
		host = "127.0.0.1"
	case "::":
		host = "::1"
	}
	return net.JoinHostPort(host, port)
}

func joinDir(base, dir string) string {
	if dir == "" {
		return base
	}
	if base == "" || filepath.IsAbs(dir) {
		return dir
	}
	return filepath.Join(base, dir)
}

func orDefault(d, def time.Duration) time.Duration {
	if d > 0 {
		return d
	}
	return def
}

// CommandLine renders a step as a shell-pasteable line.
func (s Step) CommandLine() string {
	parts := make([]string, 0, len(s.Args)+1)
	parts = append(parts, quote(s.Command))
	for _, a := range s.Args {
		parts = append(parts, quote(a))
	}
	return strings.Join(parts, " ")
}

func quote(v string) string {
	if v == "" {
		return `""`
	}
	if strings.ContainsAny(v, " \t\"'") {
		return `"` + strings.ReplaceAll(v, `"`, `\"`) + `"`
	}
	return v
}
