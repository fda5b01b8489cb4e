package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

const DefaultPath = "renodectl.toml"

var (
	ErrInvalidConfig = errors.New("config: invalid")
)

// Step modes understood by the launcher.
const (
	ModeBackground = "background"
	ModeForeground = "foreground"
	ModeManual     = "manual"
)

// Config is the resolved configuration for every renodectl component.
type Config struct {
	Workdir     string
	UTF8Console bool
	Receiver    ReceiverConfig
	Firmware    FirmwareConfig
	Renode      RenodeConfig
	Launcher    LauncherConfig
}

type ReceiverConfig struct {
	Addr      string
	AdminAddr string
	// AdminToken, when set, is required as a bearer token on the admin
	// routes other than /health.
	AdminToken  string
	DBPath      string
	ReadTimeout time.Duration
	CorsOrigins []string
}

type FirmwareConfig struct {
	DeviceID     string
	Target       string
	Interval     time.Duration
	ReplyTimeout time.Duration
	MaxPackets   int
}

type RenodeConfig struct {
	Command string
	Script  string
	Args    []string
	// Mode is foreground (run Renode and wait) or manual (print the command).
	Mode string
}

type LauncherConfig struct {
	StepDelay    time.Duration
	ReadyTimeout time.Duration
	NewConsole   bool
	Steps        []StepConfig
}

// StepConfig overrides the built-in launch sequence when present.
type StepConfig struct {
	Name         string
	Command      string
	Args         []string
	Workdir      string
	NewConsole   bool
	Ready        string
	ReadyTimeout time.Duration
	Delay        time.Duration
	Mode         string
}

// Default is the stock bench layout: receiver on localhost:8888, a 10s
// firmware cadence and 3s pauses between launches.
func Default() Config {
	return Config{
		Workdir:     "",
		UTF8Console: true,
		Receiver: ReceiverConfig{
			Addr:        "localhost:8888",
			AdminAddr:   "",
			DBPath:      "renode_sensor_data.db",
			ReadTimeout: 0,
			CorsOrigins: []string{"http://localhost:3000"},
		},
		Firmware: FirmwareConfig{
			DeviceID:     "STM32_REAL_001",
			Target:       "localhost:8888",
			Interval:     10 * time.Second,
			ReplyTimeout: 5 * time.Second,
			MaxPackets:   0,
		},
		Renode: RenodeConfig{
			Command: "renode",
			Script:  "renode/stm32_sensor.resc",
			Mode:    ModeForeground,
		},
		Launcher: LauncherConfig{
			StepDelay:    3 * time.Second,
			ReadyTimeout: 15 * time.Second,
			NewConsole:   true,
		},
	}
}

type fileConfig struct {
	Workdir     string       `toml:"workdir,omitempty"`
	UTF8Console bool         `toml:"utf8_console"`
	Receiver    fileReceiver `toml:"receiver"`
	Firmware    fileFirmware `toml:"firmware"`
	Renode      fileRenode   `toml:"renode"`
	Launcher    fileLauncher `toml:"launcher"`
}

type fileReceiver struct {
	Addr        string   `toml:"addr"`
	AdminAddr   string   `toml:"admin_addr,omitempty"`
	AdminToken  string   `toml:"admin_token,omitempty"`
	DBPath      string   `toml:"db_path"`
	ReadTimeout string   `toml:"read_timeout"`
	CorsOrigins []string `toml:"cors_origins"`
}

type fileFirmware struct {
	DeviceID     string `toml:"device_id"`
	Target       string `toml:"target"`
	Interval     string `toml:"interval"`
	ReplyTimeout string `toml:"reply_timeout"`
	MaxPackets   int    `toml:"max_packets"`
}

type fileRenode struct {
	Command string   `toml:"command"`
	Script  string   `toml:"script"`
	Args    []string `toml:"args,omitempty"`
	Mode    string   `toml:"mode"`
}

type fileLauncher struct {
	StepDelay    string     `toml:"step_delay"`
	ReadyTimeout string     `toml:"ready_timeout"`
	NewConsole   bool       `toml:"new_console"`
	Steps        []fileStep `toml:"steps,omitempty"`
}

type fileStep struct {
	Name         string   `toml:"name"`
	Command      string   `toml:"command"`
	Args         []string `toml:"args,omitempty"`
	Workdir      string   `toml:"workdir,omitempty"`
	NewConsole   bool     `toml:"new_console"`
	Ready        string   `toml:"ready,omitempty"`
	ReadyTimeout string   `toml:"ready_timeout"`
	Delay        string   `toml:"delay"`
	Mode         string   `toml:"mode"`
}

// Load reads path over the defaults. Keys absent from the file keep their
// default value.
func Load(path string) (Config, error) {
	cfg := Default()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if err := overlay(&cfg, raw, meta); err != nil {
		return Config{}, fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Decode parses TOML text over the defaults without touching the filesystem.
func Decode(text string) (Config, error) {
	cfg := Default()
	var raw fileConfig
	meta, err := toml.Decode(text, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("config parse failed: %w", err)
	}
	if err := overlay(&cfg, raw, meta); err != nil {
		return Config{}, err
	}
	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func overlay(cfg *Config, raw fileConfig, meta toml.MetaData) error {
	if meta.IsDefined("workdir") {
		cfg.Workdir = strings.TrimSpace(raw.Workdir)
	}
	if meta.IsDefined("utf8_console") {
		cfg.UTF8Console = raw.UTF8Console
	}

	if meta.IsDefined("receiver", "addr") {
		cfg.Receiver.Addr = strings.TrimSpace(raw.Receiver.Addr)
	}
	if meta.IsDefined("receiver", "admin_addr") {
		cfg.Receiver.AdminAddr = strings.TrimSpace(raw.Receiver.AdminAddr)
	}
	if meta.IsDefined("receiver", "admin_token") {
		cfg.Receiver.AdminToken = strings.TrimSpace(raw.Receiver.AdminToken)
	}
	if meta.IsDefined("receiver", "db_path") {
		cfg.Receiver.DBPath = strings.TrimSpace(raw.Receiver.DBPath)
	}
	if meta.IsDefined("receiver", "read_timeout") {
		d, err := parseDuration("receiver.read_timeout", raw.Receiver.ReadTimeout)
		if err != nil {
			return err
		}
		cfg.Receiver.ReadTimeout = d
	}
	if meta.IsDefined("receiver", "cors_origins") {
		cfg.Receiver.CorsOrigins = normalizeList(raw.Receiver.CorsOrigins)
	}

	if meta.IsDefined("firmware", "device_id") {
		cfg.Firmware.DeviceID = strings.TrimSpace(raw.Firmware.DeviceID)
	}
	if meta.IsDefined("firmware", "target") {
		cfg.Firmware.Target = strings.TrimSpace(raw.Firmware.Target)
	}
	if meta.IsDefined("firmware", "interval") {
		d, err := parseDuration("firmware.interval", raw.Firmware.Interval)
		if err != nil {
			return err
		}
		cfg.Firmware.Interval = d
	}
	if meta.IsDefined("firmware", "reply_timeout") {
		d, err := parseDuration("firmware.reply_timeout", raw.Firmware.ReplyTimeout)
		if err != nil {
			return err
		}
		cfg.Firmware.ReplyTimeout = d
	}
	if meta.IsDefined("firmware", "max_packets") {
		cfg.Firmware.MaxPackets = raw.Firmware.MaxPackets
	}

	if meta.IsDefined("renode", "command") {
		cfg.Renode.Command = strings.TrimSpace(raw.Renode.Command)
	}
	if meta.IsDefined("renode", "script") {
		cfg.Renode.Script = strings.TrimSpace(raw.Renode.Script)
	}
	if meta.IsDefined("renode", "args") {
		cfg.Renode.Args = append([]string{}, raw.Renode.Args...)
	}
	if meta.IsDefined("renode", "mode") {
		cfg.Renode.Mode = normalizeMode(raw.Renode.Mode)
	}

	if meta.IsDefined("launcher", "step_delay") {
		d, err := parseDuration("launcher.step_delay", raw.Launcher.StepDelay)
		if err != nil {
			return err
		}
		cfg.Launcher.StepDelay = d
	}
	if meta.IsDefined("launcher", "ready_timeout") {
		d, err := parseDuration("launcher.ready_timeout", raw.Launcher.ReadyTimeout)
		if err != nil {
			return err
		}
		cfg.Launcher.ReadyTimeout = d
	}
	if meta.IsDefined("launcher", "new_console") {
		cfg.Launcher.NewConsole = raw.Launcher.NewConsole
	}
	if meta.IsDefined("launcher", "steps") {
		steps := make([]StepConfig, 0, len(raw.Launcher.Steps))
		for i, fs := range raw.Launcher.Steps {
			step := StepConfig{
				Name:       strings.TrimSpace(fs.Name),
				Command:    strings.TrimSpace(fs.Command),
				Args:       append([]string{}, fs.Args...),
				Workdir:    strings.TrimSpace(fs.Workdir),
				NewConsole: fs.NewConsole,
				Ready:      strings.TrimSpace(fs.Ready),
				Mode:       normalizeMode(fs.Mode),
			}
			if strings.TrimSpace(fs.ReadyTimeout) != "" {
				d, err := parseDuration(fmt.Sprintf("launcher.steps[%d].ready_timeout", i), fs.ReadyTimeout)
				if err != nil {
					return err
				}
				step.ReadyTimeout = d
			}
			if strings.TrimSpace(fs.Delay) != "" {
				d, err := parseDuration(fmt.Sprintf("launcher.steps[%d].delay", i), fs.Delay)
				if err != nil {
					return err
				}
				step.Delay = d
			}
			if step.Mode == "" {
				step.Mode = ModeBackground
			}
			steps = append(steps, step)
		}
		cfg.Launcher.Steps = steps
	}
	return nil
}

// Validate reports the first structural problem in cfg.
func Validate(cfg Config) error {
	if strings.TrimSpace(cfg.Receiver.Addr) == "" {
		return fmt.Errorf("%w: receiver.addr is required", ErrInvalidConfig)
	}
	if strings.TrimSpace(cfg.Receiver.DBPath) == "" {
		return fmt.Errorf("%w: receiver.db_path is required", ErrInvalidConfig)
	}
	if strings.TrimSpace(cfg.Firmware.DeviceID) == "" {
		return fmt.Errorf("%w: firmware.device_id is required", ErrInvalidConfig)
	}
	if strings.TrimSpace(cfg.Firmware.Target) == "" {
		return fmt.Errorf("%w: firmware.target is required", ErrInvalidConfig)
	}
	if cfg.Firmware.Interval <= 0 {
		return fmt.Errorf("%w: firmware.interval must be positive", ErrInvalidConfig)
	}
	if cfg.Firmware.MaxPackets < 0 {
		return fmt.Errorf("%w: firmware.max_packets must not be negative", ErrInvalidConfig)
	}
	switch cfg.Renode.Mode {
	case ModeForeground, ModeBackground, ModeManual:
	default:
		return fmt.Errorf("%w: renode.mode %q", ErrInvalidConfig, cfg.Renode.Mode)
	}
	if strings.TrimSpace(cfg.Renode.Command) == "" {
		return fmt.Errorf("%w: renode.command is required", ErrInvalidConfig)
	}
	if cfg.Launcher.StepDelay < 0 || cfg.Launcher.ReadyTimeout < 0 {
		return fmt.Errorf("%w: launcher durations must not be negative", ErrInvalidConfig)
	}

	seen := make(map[string]struct{}, len(cfg.Launcher.Steps))
	for i, step := range cfg.Launcher.Steps {
		if step.Name == "" {
			return fmt.Errorf("%w: launcher.steps[%d] name is required", ErrInvalidConfig, i)
		}
		if _, ok := seen[step.Name]; ok {
			return fmt.Errorf("%w: launcher.steps[%d] duplicate name %q", ErrInvalidConfig, i, step.Name)
		}
		seen[step.Name] = struct{}{}
		if step.Command == "" {
			return fmt.Errorf("%w: launcher.steps[%d] command is required", ErrInvalidConfig, i)
		}
		switch step.Mode {
		case ModeForeground, ModeBackground, ModeManual:
		default:
			return fmt.Errorf("%w: launcher.steps[%d] mode %q", ErrInvalidConfig, i, step.Mode)
		}
	}
	return nil
}

func parseDuration(key, raw string) (time.Duration, error) {
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return d, nil
}

// normalizeMode accepts "launch" as an alias for foreground.
func normalizeMode(raw string) string {
	mode := strings.ToLower(strings.TrimSpace(raw))
	if mode == "launch" {
		return ModeForeground
	}
	return mode
}

func normalizeList(in []string) []string {
	if len(in) == 0 {
		return []string{}
	}
	out := make([]string, 0, len(in))
	for _, v := range in {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		out = append(out, v)
	}
	return out
}
