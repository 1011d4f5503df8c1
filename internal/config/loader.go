package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/gobwas/glob"
	"gopkg.in/yaml.v3"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// ErrNoConfig is returned by Load when the config file does not exist.
var ErrNoConfig = errors.New("no config file found")

// Overrides are command-line values that win over the config file.
type Overrides struct {
	Name      *string
	VaultPath *string
	VaultRoot *string
	Timeout   *int
}

// Load reads configuration from path and layers o on top.
// Precedence is defaults, then file, then overrides.
func Load(path string, o Overrides) (*Config, error) {
	absPath, err := filepath.Abs(ExpandHome(path))
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path %q: %w", path, err)
	}

	data, err := os.ReadFile(absPath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w at %s\nHint: run 'familiar init' to create one", ErrNoConfig, absPath)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", absPath, err)
	}
	cfg.SourcePath = absPath

	if err := cfg.finalize(o); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromDefaults builds a config without a file, for callers that only need
// overrides (tests, one-shot tooling).
func FromDefaults(o Overrides) (*Config, error) {
	cfg := Defaults()
	if err := cfg.finalize(o); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes YAML onto the defaults after ${VAR} interpolation. Keys
// absent from data keep their default values. Paths are not yet expanded.
func Parse(data []byte) (*Config, error) {
	cfg := Defaults()
	interpolated := interpolateEnv(string(data))

	dec := yaml.NewDecoder(strings.NewReader(interpolated))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	return cfg, nil
}

func (c *Config) finalize(o Overrides) error {
	c.applyOverrides(o)
	if err := c.resolvePaths(); err != nil {
		return err
	}
	if err := validate(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

func (c *Config) applyOverrides(o Overrides) {
	if o.Name != nil {
		c.Name = *o.Name
	}
	if o.VaultPath != nil {
		c.VaultPath = *o.VaultPath
	}
	if o.VaultRoot != nil {
		c.VaultRoot = *o.VaultRoot
	}
	if o.Timeout != nil {
		c.Timeout = *o.Timeout
	}
}

// resolvePaths expands ~ and makes every path absolute. An unset vault root
// is the vault path's parent.
func (c *Config) resolvePaths() error {
	if strings.TrimSpace(c.VaultPath) == "" {
		return fmt.Errorf("invalid configuration: vault_path is required")
	}
	vault, err := absPath(c.VaultPath)
	if err != nil {
		return fmt.Errorf("vault_path: %w", err)
	}
	c.VaultPath = vault

	if strings.TrimSpace(c.VaultRoot) == "" {
		c.VaultRoot = filepath.Dir(vault)
	} else {
		root, err := absPath(c.VaultRoot)
		if err != nil {
			return fmt.Errorf("vault_root: %w", err)
		}
		c.VaultRoot = root
	}

	resolved := make([]string, 0, len(c.AllowedPaths))
	for i, p := range c.AllowedPaths {
		if strings.TrimSpace(p) == "" {
			continue
		}
		abs, err := absPath(p)
		if err != nil {
			return fmt.Errorf("allowed_paths[%d]: %w", i, err)
		}
		resolved = append(resolved, abs)
	}
	c.AllowedPaths = resolved
	return nil
}

func absPath(p string) (string, error) {
	return filepath.Abs(ExpandHome(strings.TrimSpace(p)))
}

// ExpandHome replaces a leading ~ with the user's home directory.
func ExpandHome(p string) string {
	if p != "~" && !strings.HasPrefix(p, "~/") {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	if p == "~" {
		return home
	}
	return filepath.Join(home, p[2:])
}

// interpolateEnv replaces ${VAR} with environment variable values.
func interpolateEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		// Left in place; validate rejects it where a value is required.
		return match
	})
}

// validate performs basic validation on the configuration.
func validate(cfg *Config) error {
	if strings.TrimSpace(cfg.Name) == "" {
		return fmt.Errorf("name is required")
	}
	if cfg.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive (got %d)", cfg.Timeout)
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[strings.ToLower(cfg.LogLevel)] {
		return fmt.Errorf("log_level must be one of: debug, info, warn, error (got %q)", cfg.LogLevel)
	}
	switch strings.ToLower(cfg.LogFormat) {
	case "text", "json":
	default:
		return fmt.Errorf("log_format must be text or json (got %q)", cfg.LogFormat)
	}
	switch cfg.Progress {
	case "auto", "on", "off":
	default:
		return fmt.Errorf("progress must be one of: auto, on, off (got %q)", cfg.Progress)
	}

	if strings.TrimSpace(cfg.Worker.Command) == "" {
		return fmt.Errorf("worker.command is required")
	}
	switch cfg.Worker.PromptDelivery {
	case "args", "stdin":
	default:
		return fmt.Errorf("worker.prompt_delivery must be args or stdin (got %q)", cfg.Worker.PromptDelivery)
	}
	if cfg.Worker.GracePeriod <= 0 {
		return fmt.Errorf("worker.grace_period must be positive")
	}

	if cfg.Watch.PollInterval <= 0 {
		return fmt.Errorf("watch.poll_interval must be positive")
	}
	if cfg.Watch.SettleDelay < 0 {
		return fmt.Errorf("watch.settle_delay must not be negative")
	}
	if len(cfg.Watch.Patterns) == 0 {
		return fmt.Errorf("watch.patterns must not be empty")
	}
	for i, p := range cfg.Watch.Patterns {
		if _, err := glob.Compile(p); err != nil {
			return fmt.Errorf("watch.patterns[%d]: %w", i, err)
		}
	}

	if cfg.API.Enabled {
		if strings.TrimSpace(cfg.API.Listen) == "" {
			return fmt.Errorf("api.listen is required when the API is enabled")
		}
		if matches := envVarPattern.FindStringSubmatch(cfg.API.APIKey); len(matches) > 1 {
			return fmt.Errorf("api.api_key: environment variable ${%s} is not set", matches[1])
		}
		if strings.TrimSpace(cfg.API.APIKey) == "" {
			return fmt.Errorf("api.api_key is required when the API is enabled")
		}
	}

	return nil
}
