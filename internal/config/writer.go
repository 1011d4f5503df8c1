package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

var keyComments = map[string]string{
	"name":          "Display name, used in logs, run records and the task framing.",
	"vault_path":    "Directory holding Jobs/, Processing/, Done/ and Failed/.",
	"vault_root":    "Working directory for the worker. Defaults to the parent of vault_path.",
	"timeout":       "Seconds before a worker run is terminated.",
	"allowed_paths": "Extra directories the worker is told it may touch. The vault path is always included.",
	"progress":      "Spinner while a worker runs: auto (terminal only), on, off.",
	"api":           "Optional local HTTP API. api_key is sent as a bearer token.",
}

// Encode renders cfg as YAML with short explanatory comments.
func Encode(cfg *Config) ([]byte, error) {
	var doc yaml.Node
	if err := doc.Encode(cfg); err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}
	if doc.Kind == yaml.MappingNode {
		for i := 0; i+1 < len(doc.Content); i += 2 {
			key := doc.Content[i]
			if c, ok := keyComments[key.Value]; ok {
				key.HeadComment = c
			}
		}
	}
	out, err := yaml.Marshal(&doc)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	return out, nil
}

// WriteFile writes cfg to path, creating parent directories. An existing file
// is only replaced when force is set.
func WriteFile(path string, cfg *Config, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists at %s (use --force to overwrite): %w", path, fs.ErrExist)
		} else if !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("stat config: %w", err)
		}
	}

	data, err := Encode(cfg)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// Redacted returns a copy safe to print.
func (c *Config) Redacted() *Config {
	out := *c
	out.AllowedPaths = append([]string(nil), c.AllowedPaths...)
	out.Worker.Args = append([]string(nil), c.Worker.Args...)
	out.Watch.Patterns = append([]string(nil), c.Watch.Patterns...)
	if c.API.APIKey != "" && !envVarPattern.MatchString(c.API.APIKey) {
		out.API.APIKey = "********"
	}
	return &out
}
