package config

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

// Template variants: "start" runs Renode in the foreground, "manual" prints
// the Renode command instead.
func Template(kind string) (string, error) {
	cfg := Default()
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "start", "":
		cfg.Renode.Mode = ModeForeground
	case "manual":
		cfg.Renode.Mode = ModeManual
	default:
		return "", fmt.Errorf("unknown config kind: %s", kind)
	}
	return Render(cfg)
}

// Render encodes cfg in the on-disk TOML shape accepted by Load.
func Render(cfg Config) (string, error) {
	var buf bytes.Buffer
	enc := toml.NewEncoder(&buf)
	enc.SetIndentTables(true)
	if err := enc.Encode(toFile(cfg)); err != nil {
		return "", fmt.Errorf("config render: %w", err)
	}
	return buf.String(), nil
}

func WriteTemplate(path, kind string, overwrite bool) error {
	template, err := Template(kind)
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(template), 0o600)
}

func toFile(cfg Config) fileConfig {
	steps := make([]fileStep, 0, len(cfg.Launcher.Steps))
	for _, s := range cfg.Launcher.Steps {
		steps = append(steps, fileStep{
			Name:         s.Name,
			Command:      s.Command,
			Args:         s.Args,
			Workdir:      s.Workdir,
			NewConsole:   s.NewConsole,
			Ready:        s.Ready,
			ReadyTimeout: s.ReadyTimeout.String(),
			Delay:        s.Delay.String(),
			Mode:         s.Mode,
		})
	}
	return fileConfig{
		Workdir:     cfg.Workdir,
		UTF8Console: cfg.UTF8Console,
		Receiver: fileReceiver{
			Addr:        cfg.Receiver.Addr,
			AdminAddr:   cfg.Receiver.AdminAddr,
			AdminToken:  cfg.Receiver.AdminToken,
			DBPath:      cfg.Receiver.DBPath,
			ReadTimeout: cfg.Receiver.ReadTimeout.String(),
			CorsOrigins: cfg.Receiver.CorsOrigins,
		},
		Firmware: fileFirmware{
			DeviceID:     cfg.Firmware.DeviceID,
			Target:       cfg.Firmware.Target,
			Interval:     cfg.Firmware.Interval.String(),
			ReplyTimeout: cfg.Firmware.ReplyTimeout.String(),
			MaxPackets:   cfg.Firmware.MaxPackets,
		},
		Renode: fileRenode{
			Command: cfg.Renode.Command,
			Script:  cfg.Renode.Script,
			Args:    cfg.Renode.Args,
			Mode:    cfg.Renode.Mode,
		},
		Launcher: fileLauncher{
			StepDelay:    cfg.Launcher.StepDelay.String(),
			ReadyTimeout: cfg.Launcher.ReadyTimeout.String(),
			NewConsole:   cfg.Launcher.NewConsole,
			Steps:        steps,
		},
	}
}
