package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Loader fills a struct from configuration files and the environment.
// Files are applied in order, so later files override earlier ones. Dotenv
// files only feed the environment lookup; real environment variables win
// over them.
type Loader struct {
	paths     []string
	envPrefix string
	lookupEnv func(string) (string, bool)
}

// NewLoader creates a loader for paths.
func NewLoader(paths ...string) *Loader {
	return &Loader{paths: paths, envPrefix: EnvPrefix, lookupEnv: os.LookupEnv}
}

// WithEnvPrefix changes the environment variable prefix.
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithEnvLookup replaces os.LookupEnv.
func (l *Loader) WithEnvLookup(lookup func(string) (string, bool)) *Loader {
	l.lookupEnv = lookup
	return l
}

// Load decodes the files into target, applies environment overrides and
// defaults, then validates.
func (l *Loader) Load(target any) error {
	v, err := structValue(target)
	if err != nil {
		return err
	}

	dotenv := map[string]string{}
	for _, path := range l.paths {
		if isDotenv(path) {
			values, err := godotenv.Read(path)
			if err != nil {
				return fmt.Errorf("failed to read %s: %w", path, err)
			}
			for k, val := range values {
				dotenv[k] = val
			}
			continue
		}
		if err := decodeFile(path, target); err != nil {
			return err
		}
	}

	lookup := func(key string) (string, bool) {
		if val, ok := l.lookupEnv(key); ok {
			return val, true
		}
		val, ok := dotenv[key]
		return val, ok
	}
	if err := applyEnv(v, l.envPrefix, lookup); err != nil {
		return err
	}

	if err := applyStructDefaults(v); err != nil {
		return err
	}
	return Validate(target)
}

// Load reads a context configuration from paths.
func Load(paths ...string) (*Config, error) {
	cfg := &Config{}
	if err := NewLoader(paths...).Load(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func isDotenv(path string) bool {
	base := filepath.Base(path)
	return base == ".env" || strings.HasSuffix(base, ".env") || strings.HasPrefix(base, ".env.")
}

// decodeFile decodes path into target according to its extension.
func decodeFile(path string, target any) error {
	data, err := os.ReadFile(path) // #nosec G304 - paths come from the application
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, target)
	case ".toml":
		_, err = toml.Decode(string(data), target)
	case ".json":
		err = json.Unmarshal(data, target)
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedFormat, path)
	}
	if err != nil {
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return nil
}
