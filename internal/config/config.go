// Package config loads the on-disk YAML configuration shared by the
// cmd/pump-* binaries: where to find the pump's RFCOMM device, where to
// persist pairing state, how the operator's pairing PIN is supplied, and
// how to configure logging.
package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// ValidationMode selects which fields a binary actually needs. Not every
// cmd/pump-* tool needs every section: pump-emulator never opens a real
// RFCOMM device, so it skips that validation.
type ValidationMode int

const (
	ValidationFull ValidationMode = iota
	ValidationEmulator
)

// Config is the root of a pump driver configuration file.
type Config struct {
	RFCOMM  RFCOMMConfig  `yaml:"rfcomm"`
	Pairing PairingConfig `yaml:"pairing"`
	State   StateConfig   `yaml:"state"`
	Log     LogConfig     `yaml:"log"`
}

// RFCOMMConfig names the pump's Bluetooth RFCOMM endpoint.
type RFCOMMConfig struct {
	DevicePath string `yaml:"device_path"`
	Address    string `yaml:"address"`
}

// PairingConfig controls how demo/CLI tooling supplies the pairing PIN.
// Production embedders supply their own btfacade.PINCallback and never
// read this section; it exists purely for cmd/pump-pair.
type PairingConfig struct {
	// Source is "interactive" (read via internal/termio in raw mode) or
	// "file" (read the 10-digit PIN from PINFile, for scripted testing).
	Source  string `yaml:"source"`
	PINFile string `yaml:"pin_file,omitempty"`
}

// StateConfig points at the directory internal/statestore persists
// pairing state and TX nonces under.
type StateConfig struct {
	Dir string `yaml:"dir"`
}

// LogConfig holds a log level and format, checked when the config is
// validated. The cmd/pump-* binaries set up slog from their -v and
// -log-format flags and do not read this section.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

func Load(path string) (*Config, error) {
	return LoadWithMode(path, ValidationFull)
}

func LoadWithMode(path string, mode ValidationMode) (*Config, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(content))
	dec.KnownFields(true)

	var cfg Config
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parse config yaml: %w", err)
	}
	cfg.resolvePaths(path)
	if err := cfg.ValidateWithMode(mode); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	return c.ValidateWithMode(ValidationFull)
}

func (c *Config) ValidateWithMode(mode ValidationMode) error {
	if err := c.validateCommon(); err != nil {
		return err
	}

	switch mode {
	case ValidationEmulator:
		return nil
	case ValidationFull:
		return c.validateFullMode()
	default:
		return fmt.Errorf("unsupported validation mode: %d", mode)
	}
}

func (c *Config) validateCommon() error {
	if strings.TrimSpace(c.State.Dir) == "" {
		return fmt.Errorf("config.state.dir is required")
	}

	switch c.Log.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config.log.level must be one of debug, info, warn, error")
	}
	switch c.Log.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("config.log.format must be text or json")
	}
	return nil
}

func (c *Config) validateFullMode() error {
	if strings.TrimSpace(c.RFCOMM.DevicePath) == "" && strings.TrimSpace(c.RFCOMM.Address) == "" {
		return fmt.Errorf("config.rfcomm requires either device_path or address")
	}

	switch c.Pairing.Source {
	case "interactive":
	case "file":
		if strings.TrimSpace(c.Pairing.PINFile) == "" {
			return fmt.Errorf("config.pairing.pin_file is required when source is \"file\"")
		}
		if err := validateReadableFile(c.Pairing.PINFile, "config.pairing.pin_file"); err != nil {
			return err
		}
	case "":
		// Default to interactive; a tool that never pairs never looks at
		// this field.
	default:
		return fmt.Errorf("config.pairing.source must be \"interactive\" or \"file\"")
	}

	return nil
}

func (c *Config) resolvePaths(configPath string) {
	configDir := filepath.Dir(configPath)
	c.State.Dir = resolvePath(configDir, c.State.Dir)
	c.Pairing.PINFile = resolvePath(configDir, c.Pairing.PINFile)
}

func resolvePath(baseDir, path string) string {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" || filepath.IsAbs(trimmed) {
		return trimmed
	}
	return filepath.Clean(filepath.Join(baseDir, trimmed))
}

func validateReadableFile(path string, field string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("%s: %w", field, err)
	}
	if info.IsDir() {
		return fmt.Errorf("%s must point to a file, got directory", field)
	}
	return nil
}
