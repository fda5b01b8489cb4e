package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	EnvWorkdir        = "RENODECTL_WORKDIR"
	EnvReceiverAddr   = "RENODECTL_RECEIVER_ADDR"
	EnvAdminAddr      = "RENODECTL_ADMIN_ADDR"
	EnvAdminToken     = "RENODECTL_ADMIN_TOKEN"
	EnvDBPath         = "RENODECTL_DB_PATH"
	EnvDeviceID       = "RENODECTL_DEVICE_ID"
	EnvFirmwareTarget = "RENODECTL_FIRMWARE_TARGET"
	EnvInterval       = "RENODECTL_FIRMWARE_INTERVAL"
	EnvMaxPackets     = "RENODECTL_FIRMWARE_MAX_PACKETS"
	EnvRenodeCommand  = "RENODECTL_RENODE_COMMAND"
	EnvRenodeScript   = "RENODECTL_RENODE_SCRIPT"
	EnvRenodeMode     = "RENODECTL_RENODE_MODE"
)

// LoadDotEnv reads KEY=VALUE pairs from path into the process environment.
// A missing file is not an error; variables already set win.
func LoadDotEnv(path string) error {
	if path == "" {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("config dotenv (%s): %w", path, err)
	}
	return nil
}

// ApplyEnv overlays RENODECTL_* variables on cfg and revalidates it.
func ApplyEnv(cfg *Config) error {
	return applyEnv(cfg, os.LookupEnv)
}

func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	str(EnvWorkdir, &cfg.Workdir)
	str(EnvReceiverAddr, &cfg.Receiver.Addr)
	str(EnvAdminAddr, &cfg.Receiver.AdminAddr)
	str(EnvAdminToken, &cfg.Receiver.AdminToken)
	str(EnvDBPath, &cfg.Receiver.DBPath)
	str(EnvDeviceID, &cfg.Firmware.DeviceID)
	str(EnvFirmwareTarget, &cfg.Firmware.Target)
	str(EnvRenodeCommand, &cfg.Renode.Command)
	str(EnvRenodeScript, &cfg.Renode.Script)

	if v, ok := lookup(EnvRenodeMode); ok && strings.TrimSpace(v) != "" {
		cfg.Renode.Mode = normalizeMode(v)
	}
	if v, ok := lookup(EnvInterval); ok && strings.TrimSpace(v) != "" {
		d, err := time.ParseDuration(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("parse %s: %w", EnvInterval, err)
		}
		cfg.Firmware.Interval = d
	}
	if v, ok := lookup(EnvMaxPackets); ok && strings.TrimSpace(v) != "" {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("parse %s: %w", EnvMaxPackets, err)
		}
		cfg.Firmware.MaxPackets = n
	}
	return Validate(*cfg)
}

// Resolve loads the config file when it exists, otherwise starts from the
// defaults, then applies .env and RENODECTL_* overrides.
func Resolve(path string) (Config, error) {
	if err := LoadDotEnv(""); err != nil {
		return Config{}, err
	}
	cfg := Default()
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			loaded, err := Load(path)
			if err != nil {
				return Config{}, err
			}
			cfg = loaded
		} else if !errors.Is(err, fs.ErrNotExist) || path != DefaultPath {
			return Config{}, fmt.Errorf("config load failed (%s): %w", path, err)
		}
	}
	if err := ApplyEnv(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
