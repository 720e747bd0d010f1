package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Format is a configuration file format.
type Format string

const (
	TOML Format = "toml"
	YAML Format = "yaml"
)

// FormatOf chooses a format from a file name's extension.
// Files which are not named as YAML are TOML.
func FormatOf(name string) Format {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".yaml", ".yml":
		return YAML
	default:
		return TOML
	}
}

// Decode reads a configuration file. The result is suitable for
// [Config.Apply]: nested tables are map[string]any, and arrays of strings are
// []string. Environment variables in string values are expanded.
func Decode(r io.Reader, format Format) (map[string]any, error) {
	m := make(map[string]any)
	switch format {
	case TOML:
		if _, err := toml.NewDecoder(r).Decode(&m); err != nil {
			return nil, fmt.Errorf("couldn't decode TOML config: %w", err)
		}
	case YAML:
		err := yaml.NewDecoder(r).Decode(&m)
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("couldn't decode YAML config: %w", err)
		}
	default:
		return nil, fmt.Errorf("unknown config format %q", format)
	}
	return normalize(m, os.Getenv).(map[string]any), nil
}

func normalize(v any, expand func(string) string) any {
	switch v := v.(type) {
	case string:
		return os.Expand(v, expand)
	case map[string]any:
		for k, x := range v {
			v[k] = normalize(x, expand)
		}
		return v
	case []map[string]any:
		// TOML arrays of tables.
		r := make([]any, len(v))
		for i, x := range v {
			r[i] = normalize(x, expand)
		}
		return r
	case []any:
		strs := make([]string, 0, len(v))
		for i, x := range v {
			v[i] = normalize(x, expand)
			if s, ok := v[i].(string); ok {
				strs = append(strs, s)
			}
		}
		if len(strs) == len(v) {
			return strs
		}
		return v
	default:
		return v
	}
}
