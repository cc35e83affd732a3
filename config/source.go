package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/GoCodeAlone/modctx/container"
)

type flatSource struct {
	name   string
	values map[string]any
}

func (s *flatSource) Name() string { return s.name }

func (s *flatSource) Lookup(key string) (any, bool) {
	v, ok := s.values[key]
	return v, ok
}

// Keys returns the keys of a source built by this package, sorted.
func Keys(src container.PropertySource) []string {
	fs, ok := src.(*flatSource)
	if !ok {
		return nil
	}
	keys := make([]string, 0, len(fs.values))
	for k := range fs.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// MapSource returns a property source over values. Nested maps are
// flattened into dotted keys; the nested maps stay reachable too.
func MapSource(name string, values map[string]any) container.PropertySource {
	flat := make(map[string]any)
	flatten("", values, flat)
	return &flatSource{name: name, values: flat}
}

// FileSource reads a YAML, TOML, JSON or dotenv file as a property source.
// Dotenv keys are normalized the way EnvSource normalizes variables.
func FileSource(path string) (container.PropertySource, error) {
	name := "file:" + filepath.Base(path)

	if isDotenv(path) {
		values, err := godotenv.Read(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
		flat := make(map[string]any, len(values))
		for k, v := range values {
			flat[envKey(k, "")] = v
		}
		return &flatSource{name: name, values: flat}, nil
	}

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml", ".toml", ".json":
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, path)
	}

	data, err := os.ReadFile(path) // #nosec G304 - paths come from the application
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	values := map[string]any{}
	switch ext {
	case ".toml":
		_, err = toml.Decode(string(data), &values)
	case ".json":
		err = json.Unmarshal(data, &values)
	default:
		err = yaml.Unmarshal(data, &values)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return MapSource(name, values), nil
}

// EnvSource snapshots environment variables starting with prefix+"_".
// MODCTX_USERS_PAGE_SIZE becomes "users.page.size".
func EnvSource(prefix string) container.PropertySource {
	values := make(map[string]any)
	for _, kv := range os.Environ() {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(k, prefix+"_") {
			continue
		}
		values[envKey(k, prefix)] = v
	}
	return &flatSource{name: "env:" + prefix, values: values}
}

func envKey(name, prefix string) string {
	if prefix != "" {
		name = strings.TrimPrefix(name, prefix+"_")
	}
	return strings.ReplaceAll(strings.ToLower(name), "_", ".")
}

func flatten(prefix string, in map[string]any, out map[string]any) {
	for k, v := range in {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		out[key] = v
		if nested, ok := v.(map[string]any); ok {
			flatten(key, nested, out)
		}
	}
}
