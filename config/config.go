// Package config loads the configuration of an application context from
// YAML, TOML, JSON and dotenv files plus the environment, and binds
// configuration values onto settings structs.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/GoCodeAlone/modctx/expose"
	"github.com/GoCodeAlone/modctx/installer"
	"github.com/GoCodeAlone/modctx/lock"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "MODCTX"

var (
	// ErrUnsupportedFormat is returned for files with an unknown extension.
	ErrUnsupportedFormat = errors.New("unsupported config file format")

	// ErrNotStructPointer is returned when a target is not a pointer to a struct.
	ErrNotStructPointer = errors.New("target must be a non-nil pointer to a struct")

	// ErrInvalidConfig wraps validation failures.
	ErrInvalidConfig = errors.New("invalid configuration")
)

// Duration is a time.Duration read from strings such as "500ms".
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	*d = Duration(v)
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the configuration of one application context.
type Config struct {
	ID string `yaml:"id" toml:"id" json:"id" env:"ID" default:"application" validate:"required"`

	// ExposeToParent pushes every exposed bean up into the parent registry
	// once all modules have bootstrapped.
	ExposeToParent bool `yaml:"exposeToParent" toml:"exposeToParent" json:"exposeToParent" env:"EXPOSE_TO_PARENT"`

	Expose     ExposeConfig    `yaml:"expose" toml:"expose" json:"expose" env:"EXPOSE"`
	Installers InstallerConfig `yaml:"installers" toml:"installers" json:"installers" env:"INSTALLERS"`
	Lock       LockConfig      `yaml:"lock" toml:"lock" json:"lock" env:"LOCK"`
	Metrics    MetricsConfig   `yaml:"metrics" toml:"metrics" json:"metrics" env:"METRICS"`

	// Properties are handed to the root scope as a property source.
	Properties map[string]any `yaml:"properties" toml:"properties" json:"properties"`
}

// ExposeConfig holds the context-wide expose rules.
type ExposeConfig struct {
	TypeNames []string `yaml:"typeNames" toml:"typeNames" json:"typeNames" env:"TYPE_NAMES"`
	Markers   []string `yaml:"markers" toml:"markers" json:"markers" env:"MARKERS"`
}

// Rules converts the configuration to expose rules.
func (e ExposeConfig) Rules() expose.Rules {
	return expose.Rules{TypeNames: e.TypeNames, Markers: e.Markers}
}

// InstallerConfig holds the context-level installer settings.
type InstallerConfig struct {
	DefaultAction string            `yaml:"defaultAction" toml:"defaultAction" json:"defaultAction" env:"DEFAULT_ACTION" default:"execute" validate:"oneof=execute skip disabled force register EXECUTE SKIP DISABLED FORCE REGISTER"`
	Groups        map[string]string `yaml:"groups" toml:"groups" json:"groups"`
	Installers    map[string]string `yaml:"installers" toml:"installers" json:"installers"`
	Table         string            `yaml:"table" toml:"table" json:"table" env:"TABLE" default:"modctx_installers" validate:"required,max=64"`
}

// Settings converts the configuration to installer settings.
func (c InstallerConfig) Settings() (*installer.Settings, error) {
	s := &installer.Settings{
		Groups:     make(map[string]installer.Action, len(c.Groups)),
		Installers: make(map[string]installer.Action, len(c.Installers)),
	}

	var err error
	if c.DefaultAction != "" {
		if s.DefaultAction, err = installer.ParseAction(c.DefaultAction); err != nil {
			return nil, err
		}
	}
	for group, raw := range c.Groups {
		if s.Groups[group], err = installer.ParseAction(raw); err != nil {
			return nil, fmt.Errorf("group %s: %w", group, err)
		}
	}
	for name, raw := range c.Installers {
		if s.Installers[name], err = installer.ParseAction(raw); err != nil {
			return nil, fmt.Errorf("installer %s: %w", name, err)
		}
	}
	return s, nil
}

// LockConfig holds the bootstrap lock settings.
type LockConfig struct {
	ID                string   `yaml:"id" toml:"id" json:"id" env:"ID" default:"bootstrap" validate:"required"`
	Table             string   `yaml:"table" toml:"table" json:"table" env:"TABLE" default:"modctx_locks" validate:"required,max=64"`
	Owner             string   `yaml:"owner" toml:"owner" json:"owner" env:"OWNER"`
	RedisURL          string   `yaml:"redisUrl" toml:"redisUrl" json:"redisUrl" env:"REDIS_URL" validate:"omitempty,url"`
	PollInterval      Duration `yaml:"pollInterval" toml:"pollInterval" json:"pollInterval" env:"POLL_INTERVAL" default:"500ms"`
	HeartbeatInterval Duration `yaml:"heartbeatInterval" toml:"heartbeatInterval" json:"heartbeatInterval" env:"HEARTBEAT_INTERVAL" default:"10s"`
	StaleTimeout      Duration `yaml:"staleTimeout" toml:"staleTimeout" json:"staleTimeout" env:"STALE_TIMEOUT" default:"1m"`
}

// Options converts the configuration to lock options.
func (c LockConfig) Options() lock.Options {
	return lock.Options{
		Owner:             c.Owner,
		PollInterval:      c.PollInterval.Std(),
		HeartbeatInterval: c.HeartbeatInterval.Std(),
		StaleTimeout:      c.StaleTimeout.Std(),
	}
}

// MetricsConfig toggles the bootstrap metrics and the module info endpoint.
type MetricsConfig struct {
	Enabled      bool   `yaml:"enabled" toml:"enabled" json:"enabled" env:"ENABLED"`
	Namespace    string `yaml:"namespace" toml:"namespace" json:"namespace" env:"NAMESPACE" default:"modctx"`
	InfoEndpoint bool   `yaml:"infoEndpoint" toml:"infoEndpoint" json:"infoEndpoint" env:"INFO_ENDPOINT"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	if err := ApplyDefaults(cfg); err != nil {
		panic(fmt.Sprintf("config defaults are broken: %v", err))
	}
	return cfg
}
