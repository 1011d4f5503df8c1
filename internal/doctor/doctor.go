// Package doctor validates familiar configuration and the vault it points at.
package doctor

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/gobwas/glob"
	"github.com/mattjoyce/familiar/internal/config"
	"github.com/mattjoyce/familiar/internal/jobstore"
	"github.com/mattjoyce/familiar/internal/worker"
)

// Result holds the outcome of a validation run.
type Result struct {
	Valid    bool    `json:"valid"`
	Errors   []Issue `json:"errors,omitempty"`
	Warnings []Issue `json:"warnings,omitempty"`
}

// Issue describes a single validation error or warning.
type Issue struct {
	Category string `json:"category"`
	Message  string `json:"message"`
	Field    string `json:"field,omitempty"`
}

var envVarRe = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Doctor validates a loaded configuration against the local environment.
type Doctor struct {
	cfg *config.Config

	resolve func(command string) (string, error)
	fsCheck func(store *jobstore.Store) error
	now     func() time.Time
}

// New creates a Doctor for cfg.
func New(cfg *config.Config) *Doctor {
	return &Doctor{
		cfg:     cfg,
		resolve: worker.ResolveCommand,
		fsCheck: (*jobstore.Store).CheckFilesystem,
		now:     time.Now,
	}
}

// Validate runs all checks and returns a result.
func (d *Doctor) Validate() *Result {
	r := &Result{Valid: true}

	d.validateIdentity(r)
	store := d.validateVault(r)
	d.validateWorker(r)
	d.validateWatch(r)
	d.validateAPIConfig(r)
	d.warnAllowedPaths(r)
	if store != nil {
		d.warnLayout(r, store)
		d.warnNetworkFilesystem(r, store)
		d.warnStaleProcessing(r, store)
	}

	r.Valid = len(r.Errors) == 0
	return r
}

func (d *Doctor) addError(r *Result, category, field, msg string) {
	r.Errors = append(r.Errors, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) addWarning(r *Result, category, field, msg string) {
	r.Warnings = append(r.Warnings, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) validateIdentity(r *Result) {
	if strings.TrimSpace(d.cfg.Name) == "" {
		d.addError(r, "config", "name", "name is required")
	}
	if d.cfg.Timeout <= 0 {
		d.addError(r, "config", "timeout", "timeout must be positive")
	} else if d.cfg.Timeout < 10 {
		d.addWarning(r, "config", "timeout",
			fmt.Sprintf("timeout of %ds is very short for a text-generation worker", d.cfg.Timeout))
	}
}

// validateVault checks the vault path and root and returns a store when the
// vault path is usable.
func (d *Doctor) validateVault(r *Result) *jobstore.Store {
	if info, err := os.Stat(d.cfg.VaultRoot); err != nil {
		d.addError(r, "vault", "vault_root", fmt.Sprintf("vault root %s: %v", d.cfg.VaultRoot, err))
	} else if !info.IsDir() {
		d.addError(r, "vault", "vault_root", fmt.Sprintf("vault root %s is not a directory", d.cfg.VaultRoot))
	}

	info, err := os.Stat(d.cfg.VaultPath)
	if err != nil {
		d.addError(r, "vault", "vault_path", fmt.Sprintf("vault path %s: %v", d.cfg.VaultPath, err))
		return nil
	}
	if !info.IsDir() {
		d.addError(r, "vault", "vault_path", fmt.Sprintf("vault path %s is not a directory", d.cfg.VaultPath))
		return nil
	}

	store, err := jobstore.New(d.cfg.VaultPath, d.cfg.Watch.Patterns...)
	if err != nil {
		// Pattern errors are reported by validateWatch.
		store, err = jobstore.New(d.cfg.VaultPath)
		if err != nil {
			d.addError(r, "vault", "vault_path", err.Error())
			return nil
		}
	}
	return store
}

func (d *Doctor) validateWorker(r *Result) {
	w := d.cfg.Worker
	if strings.TrimSpace(w.Command) == "" {
		d.addError(r, "worker", "worker.command", "worker.command is required")
		return
	}
	if _, err := d.resolve(w.Command); err != nil {
		d.addError(r, "worker", "worker.command", fmt.Sprintf("%s CLI not found: %v", w.Command, err))
	}
	switch w.PromptDelivery {
	case "args", "stdin":
	default:
		d.addError(r, "worker", "worker.prompt_delivery",
			fmt.Sprintf("prompt_delivery must be args or stdin (got %q)", w.PromptDelivery))
	}
}

func (d *Doctor) validateWatch(r *Result) {
	if d.cfg.Watch.PollInterval <= 0 {
		d.addError(r, "watch", "watch.poll_interval", "poll_interval must be positive")
	}
	if len(d.cfg.Watch.Patterns) == 0 {
		d.addError(r, "watch", "watch.patterns", "at least one pattern is required")
	}
	for i, p := range d.cfg.Watch.Patterns {
		if _, err := glob.Compile(p); err != nil {
			d.addError(r, "watch", fmt.Sprintf("watch.patterns[%d]", i), fmt.Sprintf("invalid pattern %q: %v", p, err))
		}
	}
}

func (d *Doctor) validateAPIConfig(r *Result) {
	if !d.cfg.API.Enabled {
		return
	}
	if d.cfg.API.Listen == "" {
		d.addError(r, "api", "api.listen", "api.listen is required when API is enabled")
	}
	key := d.cfg.API.APIKey
	if m := envVarRe.FindStringSubmatch(key); len(m) > 1 {
		d.addWarning(r, "env_vars", "api.api_key", fmt.Sprintf("environment variable ${%s} not set", m[1]))
	} else if strings.TrimSpace(key) == "" {
		d.addWarning(r, "api", "api.api_key", "API enabled but no api_key configured")
	}
}

func (d *Doctor) warnAllowedPaths(r *Result) {
	for i, p := range d.cfg.AllowedPaths {
		if _, err := os.Stat(p); err != nil {
			d.addWarning(r, "vault", fmt.Sprintf("allowed_paths[%d]", i), fmt.Sprintf("allowed path %s: %v", p, err))
		}
	}
}

func (d *Doctor) warnLayout(r *Result, store *jobstore.Store) {
	var missing []string
	for _, s := range jobstore.AllStates() {
		if info, err := os.Stat(store.Dir(s)); err != nil || !info.IsDir() {
			missing = append(missing, s.Dir())
		}
	}
	if len(missing) > 0 {
		d.addWarning(r, "vault", "vault_path",
			fmt.Sprintf("missing %s (created by 'familiar run' or 'familiar init')", strings.Join(missing, ", ")))
	}
}

func (d *Doctor) warnNetworkFilesystem(r *Result, store *jobstore.Store) {
	if err := d.fsCheck(store); err != nil {
		d.addWarning(r, "vault", "vault_path", err.Error())
	}
}

func (d *Doctor) warnStaleProcessing(r *Result, store *jobstore.Store) {
	entries, err := store.List(jobstore.StateProcessing)
	if err != nil {
		return
	}
	cutoff := d.now().Add(-d.cfg.StaleAfter())
	for _, e := range entries {
		if e.ModTime.Before(cutoff) {
			d.addWarning(r, "jobs", "Processing/"+e.Name,
				fmt.Sprintf("job has been processing since %s; it is returned to Jobs at the next start when watch.recover_stale is on",
					e.ModTime.Format(time.RFC3339)))
		}
	}
}

// FormatHuman returns a human-readable validation report.
func FormatHuman(r *Result) string {
	var b strings.Builder

	if r.Valid && len(r.Warnings) == 0 {
		b.WriteString("Configuration valid.\n")
		return b.String()
	}

	if r.Valid && len(r.Warnings) > 0 {
		b.WriteString("Configuration valid")
		fmt.Fprintf(&b, " (%d warning(s))\n", len(r.Warnings))
	}

	if !r.Valid {
		fmt.Fprintf(&b, "Configuration invalid (%d error(s), %d warning(s))\n", len(r.Errors), len(r.Warnings))
	}

	for _, e := range r.Errors {
		if e.Field != "" {
			fmt.Fprintf(&b, "  ERROR [%s] %s: %s\n", e.Category, e.Field, e.Message)
		} else {
			fmt.Fprintf(&b, "  ERROR [%s] %s\n", e.Category, e.Message)
		}
	}
	for _, w := range r.Warnings {
		if w.Field != "" {
			fmt.Fprintf(&b, "  WARN  [%s] %s: %s\n", w.Category, w.Field, w.Message)
		} else {
			fmt.Fprintf(&b, "  WARN  [%s] %s\n", w.Category, w.Message)
		}
	}

	return b.String()
}

// FormatJSON returns the result as indented JSON.
func FormatJSON(r *Result) (string, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}
