package config

import "time"

// Config represents the complete familiar configuration.
type Config struct {
	Name         string   `yaml:"name" json:"name"`
	VaultPath    string   `yaml:"vault_path" json:"vault_path"`
	VaultRoot    string   `yaml:"vault_root,omitempty" json:"vault_root,omitempty"`
	Timeout      int      `yaml:"timeout" json:"timeout"` // seconds
	AllowedPaths []string `yaml:"allowed_paths" json:"allowed_paths"`
	LogLevel     string   `yaml:"log_level" json:"log_level"`
	LogFormat    string   `yaml:"log_format" json:"log_format"`
	Progress     string   `yaml:"progress" json:"progress"`

	Worker WorkerConfig `yaml:"worker" json:"worker"`
	Watch  WatchConfig  `yaml:"watch" json:"watch"`
	API    APIConfig    `yaml:"api" json:"api"`

	// SourcePath is the file the config was loaded from, empty for defaults.
	SourcePath string `yaml:"-" json:"source_path,omitempty"`
}

// WorkerConfig describes the external tool invoked per job.
type WorkerConfig struct {
	Command        string        `yaml:"command" json:"command"`
	Args           []string      `yaml:"args" json:"args"`
	PromptDelivery string        `yaml:"prompt_delivery" json:"prompt_delivery"` // args | stdin
	GracePeriod    time.Duration `yaml:"grace_period" json:"grace_period"`
}

// WatchConfig tunes the Jobs directory watcher.
type WatchConfig struct {
	PollInterval time.Duration `yaml:"poll_interval" json:"poll_interval"`
	SettleDelay  time.Duration `yaml:"settle_delay" json:"settle_delay"`
	Patterns     []string      `yaml:"patterns" json:"patterns"`
	FSNotify     bool          `yaml:"fsnotify" json:"fsnotify"`
	RecoverStale bool          `yaml:"recover_stale" json:"recover_stale"`
}

// APIConfig defines HTTP API server settings.
type APIConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Listen  string `yaml:"listen" json:"listen"`
	APIKey  string `yaml:"api_key" json:"api_key"`
}

// TimeoutDuration returns the worker timeout.
func (c *Config) TimeoutDuration() time.Duration {
	return time.Duration(c.Timeout) * time.Second
}

// StaleAfter is the age beyond which a file in Processing cannot belong to a
// live run: the worker timeout plus its kill grace, rounded up by a minute.
func (c *Config) StaleAfter() time.Duration {
	return c.TimeoutDuration() + c.Worker.GracePeriod + time.Minute
}

// AccessPaths lists the vault path followed by the additional allowed paths.
func (c *Config) AccessPaths() []string {
	out := make([]string, 0, 1+len(c.AllowedPaths))
	out = append(out, c.VaultPath)
	out = append(out, c.AllowedPaths...)
	return out
}

// Defaults returns a Config with the stock values. Paths are unexpanded.
func Defaults() *Config {
	return &Config{
		Name:         "Familiar",
		VaultPath:    "~/Obsidian/Familiar",
		Timeout:      300,
		AllowedPaths: []string{},
		LogLevel:     "info",
		LogFormat:    "text",
		Progress:     "auto",
		Worker: WorkerConfig{
			Command:        "claude",
			Args:           []string{"--print", "--dangerously-skip-permissions"},
			PromptDelivery: "args",
			GracePeriod:    5 * time.Second,
		},
		Watch: WatchConfig{
			PollInterval: time.Second,
			SettleDelay:  500 * time.Millisecond,
			Patterns:     []string{"*.md"},
			FSNotify:     true,
			RecoverStale: true,
		},
		API: APIConfig{
			Enabled: false,
			Listen:  "127.0.0.1:8765",
			APIKey:  "${FAMILIAR_API_KEY}",
		},
	}
}
