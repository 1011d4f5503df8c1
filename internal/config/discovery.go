package config

import (
	"os"
	"path/filepath"
)

// EnvConfigPath names the environment variable that overrides the config location.
const EnvConfigPath = "FAMILIAR_CONFIG"

// DefaultPath returns the config file location: $FAMILIAR_CONFIG when set,
// otherwise ~/.config/familiar/config.yaml.
func DefaultPath() string {
	if p := os.Getenv(EnvConfigPath); p != "" {
		return ExpandHome(p)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".config", "familiar", "config.yaml")
	}
	return "config.yaml"
}

// ResolvePath picks the explicit flag value when given, else DefaultPath.
func ResolvePath(flagValue string) string {
	if flagValue != "" {
		return ExpandHome(flagValue)
	}
	return DefaultPath()
}
