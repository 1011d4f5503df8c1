package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestWriteFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg := Defaults()
	cfg.Name = "Ada"
	cfg.VaultPath = "/tmp/ada-vault"
	cfg.AllowedPaths = []string{"/tmp/code"}

	if err := WriteFile(path, cfg, false); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "# Seconds before a worker run is terminated.") {
		t.Errorf("expected comments in written config:\n%s", data)
	}

	loaded, err := Load(path, Overrides{})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.Name != "Ada" || loaded.VaultPath != "/tmp/ada-vault" {
		t.Errorf("round trip mismatch: %+v", loaded)
	}
	if len(loaded.AllowedPaths) != 1 || loaded.AllowedPaths[0] != "/tmp/code" {
		t.Errorf("allowed paths mismatch: %v", loaded.AllowedPaths)
	}
	if loaded.Worker.GracePeriod != cfg.Worker.GracePeriod {
		t.Errorf("grace period mismatch: %v", loaded.Worker.GracePeriod)
	}
}

func TestWriteFileRefusesOverwrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("name: keep\n"), 0644); err != nil {
		t.Fatal(err)
	}

	err := WriteFile(path, Defaults(), false)
	if !errors.Is(err, fs.ErrExist) {
		t.Fatalf("expected fs.ErrExist, got %v", err)
	}

	if err := WriteFile(path, Defaults(), true); err != nil {
		t.Fatalf("forced WriteFile() error = %v", err)
	}
	data, _ := os.ReadFile(path)
	if strings.Contains(string(data), "name: keep") {
		t.Error("forced write did not replace file")
	}
}

func TestRedacted(t *testing.T) {
	cfg := Defaults()
	cfg.API.APIKey = "s3cret"
	red := cfg.Redacted()
	if red.API.APIKey != "********" {
		t.Errorf("api key not redacted: %q", red.API.APIKey)
	}
	if cfg.API.APIKey != "s3cret" {
		t.Error("Redacted mutated the original")
	}

	cfg.API.APIKey = "${FAMILIAR_API_KEY}"
	if got := cfg.Redacted().API.APIKey; got != "${FAMILIAR_API_KEY}" {
		t.Errorf("placeholder should be shown as-is, got %q", got)
	}
}

func TestDefaultPath(t *testing.T) {
	t.Setenv(EnvConfigPath, "/etc/familiar.yaml")
	if got := DefaultPath(); got != "/etc/familiar.yaml" {
		t.Errorf("DefaultPath() = %q", got)
	}

	home := t.TempDir()
	t.Setenv(EnvConfigPath, "")
	t.Setenv("HOME", home)
	if got := DefaultPath(); got != filepath.Join(home, ".config", "familiar", "config.yaml") {
		t.Errorf("DefaultPath() = %q", got)
	}

	if got := ResolvePath("/explicit.yaml"); got != "/explicit.yaml" {
		t.Errorf("ResolvePath() = %q", got)
	}
}

func TestHashBytes(t *testing.T) {
	a := HashBytes([]byte("a"))
	if len(a) != 64 {
		t.Fatalf("expected 64 hex chars, got %d", len(a))
	}
	if a == HashBytes([]byte("b")) {
		t.Error("different inputs hashed equal")
	}

	path := filepath.Join(t.TempDir(), "f")
	if err := os.WriteFile(path, []byte("a"), 0644); err != nil {
		t.Fatal(err)
	}
	got, err := ComputeBlake3Hash(path)
	if err != nil || got != a {
		t.Errorf("ComputeBlake3Hash() = %q, %v", got, err)
	}
}
