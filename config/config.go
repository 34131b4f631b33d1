// Package config handles the optional lswasm.toml configuration file.
// CLI flags override anything set here.
package config

import (
	"os"

	"github.com/BurntSushi/toml"

	"github.com/lswasm/lswasm/errors"
)

// Config is the full file schema.
type Config struct {
	Listen  Listen            `toml:"listen"`
	Limits  Limits            `toml:"limits"`
	Log     Log               `toml:"log"`
	Modules []Module          `toml:"module"`
	Env     map[string]string `toml:"env"`
}

// Listen selects the listening socket. UDS takes effect over Port when
// both are set.
type Listen struct {
	Port int    `toml:"port"`
	UDS  string `toml:"uds"`
}

// Limits bounds request intake.
type Limits struct {
	MaxRequestBytes int `toml:"max_request_bytes"`
}

// Log configures the process logger.
type Log struct {
	Level string `toml:"level"`
}

// Module names one filter to load at startup.
type Module struct {
	Name string `toml:"name"`
	Path string `toml:"path"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Listen: Listen{Port: 8080},
		Limits: Limits{MaxRequestBytes: 64 << 10},
		Log:    Log{Level: "info"},
		Env:    make(map[string]string),
	}
}

// Overrides carries command-line values. Zero values leave the file
// setting (or default) alone; Modules and Env entries are added on top
// of the file's.
type Overrides struct {
	Port            int
	UDS             string
	MaxRequestBytes int
	LogLevel        string
	Modules         []Module
	Env             map[string]string
}

// Apply layers command-line overrides on top of the configuration and
// returns the result.
func (cfg Config) Apply(o Overrides) Config {
	if o.Port != 0 {
		cfg.Listen.Port = o.Port
	}
	if o.UDS != "" {
		cfg.Listen.UDS = o.UDS
	}
	if o.MaxRequestBytes != 0 {
		cfg.Limits.MaxRequestBytes = o.MaxRequestBytes
	}
	if o.LogLevel != "" {
		cfg.Log.Level = o.LogLevel
	}
	cfg.Modules = append(cfg.Modules, o.Modules...)
	if cfg.Env == nil {
		cfg.Env = make(map[string]string)
	}
	for key, value := range o.Env {
		cfg.Env[key] = value
	}
	return cfg
}

// LoadFile reads and decodes a TOML config file over the defaults.
func LoadFile(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, errors.Wrap(errors.PhaseConfig, errors.KindInvalidData, err, "read "+path)
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return cfg, errors.Wrap(errors.PhaseConfig, errors.KindInvalidData, err, "parse "+path)
	}
	if cfg.Env == nil {
		cfg.Env = make(map[string]string)
	}
	return cfg, nil
}
