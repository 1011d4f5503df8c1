// Package jobstore keeps job files in four sibling directories, one per
// lifecycle state, and moves them between states with atomic renames.
//
// The rename is the only concurrency control: two processes racing to claim
// the same file are arbitrated by the filesystem, and exactly one of them
// observes success. There is no lock file and no in-memory lock.
package jobstore

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/gobwas/glob"
)

var (
	// ErrAlreadyClaimed means the file vanished from Jobs before the claim
	// rename completed. Another process picked it up.
	ErrAlreadyClaimed = errors.New("job already claimed")
	// ErrProcessingConflict means Processing already holds a file with the
	// same name. The pending file is left where it is.
	ErrProcessingConflict = errors.New("a job with the same name is already processing")
	// ErrNotFound means no state directory holds the named file.
	ErrNotFound = errors.New("job not found")
	// ErrInvalidName rejects names that could escape the state directories.
	ErrInvalidName = errors.New("invalid job name")
)

// DefaultPatterns selects which files in Jobs are treated as jobs.
var DefaultPatterns = []string{"*.md"}

// Outcome selects the terminal directory for Finalize.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeFailure
)

// Entry describes one file in a state directory.
type Entry struct {
	Name    string    `json:"name"`
	State   State     `json:"state"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"mod_time"`
}

// Store is a vault rooted job store.
type Store struct {
	root     string
	patterns []glob.Glob
	now      func() time.Time
}

// New creates a store rooted at root. Patterns are glob expressions matched
// against base names in Jobs; when empty, DefaultPatterns is used.
func New(root string, patterns ...string) (*Store, error) {
	trimmed := strings.TrimSpace(root)
	if trimmed == "" {
		return nil, fmt.Errorf("vault path is empty")
	}
	if len(patterns) == 0 {
		patterns = DefaultPatterns
	}
	compiled := make([]glob.Glob, 0, len(patterns))
	for _, p := range patterns {
		g, err := glob.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("compile pattern %q: %w", p, err)
		}
		compiled = append(compiled, g)
	}
	return &Store{
		root:     filepath.Clean(trimmed),
		patterns: compiled,
		now:      time.Now,
	}, nil
}

// Root returns the vault path.
func (s *Store) Root() string { return s.root }

// Dir returns the directory backing state.
func (s *Store) Dir(state State) string {
	return filepath.Join(s.root, state.Dir())
}

// Path returns the path name would have in state.
func (s *Store) Path(state State, name string) string {
	return filepath.Join(s.Dir(state), name)
}

// EnsureLayout creates the four state directories if they are missing.
func (s *Store) EnsureLayout() error {
	for _, state := range AllStates() {
		if err := os.MkdirAll(s.Dir(state), 0o755); err != nil {
			return fmt.Errorf("create %s directory: %w", state.Dir(), err)
		}
	}
	return nil
}

// Claim moves name from Jobs to Processing.
//
// It returns ErrAlreadyClaimed when the source is gone, which callers treat
// as a skip rather than a failure.
func (s *Store) Claim(name string) error {
	if err := validateName(name); err != nil {
		return err
	}
	err := renameNoReplace(s.Path(StatePending, name), s.Path(StateProcessing, name))
	switch {
	case err == nil:
		return nil
	case errors.Is(err, fs.ErrNotExist):
		return ErrAlreadyClaimed
	case errors.Is(err, fs.ErrExist):
		if !s.Exists(StatePending, name) {
			// Lost the race on a platform without RENAME_NOREPLACE.
			return ErrAlreadyClaimed
		}
		return ErrProcessingConflict
	default:
		return fmt.Errorf("claim %s: %w", name, err)
	}
}

// Read returns the content of the claimed file.
func (s *Store) Read(name string) (string, error) {
	if err := validateName(name); err != nil {
		return "", err
	}
	data, err := os.ReadFile(s.Path(StateProcessing, name))
	if err != nil {
		return "", fmt.Errorf("read %s: %w", name, err)
	}
	return string(data), nil
}

// Write replaces the content of the claimed file. The new content is written
// to a hidden temp file first so the job is never observed half-written.
func (s *Store) Write(name, content string) error {
	if err := validateName(name); err != nil {
		return err
	}
	dir := s.Dir(StateProcessing)
	if err := writeFileAtomic(dir, s.Path(StateProcessing, name), content); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	return nil
}

// Finalize writes content to the claimed file and moves it to Done or
// Failed. Name collisions in the destination are resolved by suffixing the
// stem; an existing file is never overwritten. It returns the final path.
func (s *Store) Finalize(name string, outcome Outcome, content string) (string, error) {
	if err := s.Write(name, content); err != nil {
		return "", err
	}
	target := StateDone
	if outcome == OutcomeFailure {
		target = StateFailed
	}
	dest, err := placeNoReplace(s.Path(StateProcessing, name), s.Dir(target), name)
	if err != nil {
		return "", fmt.Errorf("finalize %s: %w", name, err)
	}
	return dest, nil
}

// Submit drops a new job into Jobs under name, or a suffixed variant if
// name is taken. Content is staged in a hidden temp file inside Jobs, which
// List skips, so the job appears fully written.
func (s *Store) Submit(name, content string) (string, error) {
	if err := validateName(name); err != nil {
		return "", err
	}
	dir := s.Dir(StatePending)
	tmp, err := os.CreateTemp(dir, ".submit-*.tmp")
	if err != nil {
		return "", fmt.Errorf("create temp job: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.WriteString(content); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("write temp job: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("close temp job: %w", err)
	}
	dest, err := placeNoReplace(tmpPath, dir, name)
	if err != nil {
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("submit %s: %w", name, err)
	}
	return dest, nil
}

// ListPending returns job names currently in Jobs, sorted.
func (s *Store) ListPending() ([]string, error) {
	entries, err := s.List(StatePending)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if s.Matches(e.Name) {
			names = append(names, e.Name)
		}
	}
	return names, nil
}

// Matches reports whether name is selected by the store's patterns.
func (s *Store) Matches(name string) bool {
	for _, g := range s.patterns {
		if g.Match(name) {
			return true
		}
	}
	return false
}

// List returns the regular, non-hidden files in state's directory sorted by
// name. A missing directory yields an empty list.
func (s *Store) List(state State) ([]Entry, error) {
	dirEntries, err := os.ReadDir(s.Dir(state))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s directory: %w", state.Dir(), err)
	}

	out := make([]Entry, 0, len(dirEntries))
	for _, de := range dirEntries {
		if strings.HasPrefix(de.Name(), ".") || !de.Type().IsRegular() {
			continue
		}
		info, err := de.Info()
		if errors.Is(err, fs.ErrNotExist) {
			// Moved between ReadDir and Info.
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", de.Name(), err)
		}
		out = append(out, Entry{
			Name:    de.Name(),
			State:   state,
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Exists reports whether name is present in state.
func (s *Store) Exists(state State, name string) bool {
	info, err := os.Stat(s.Path(state, name))
	return err == nil && info.Mode().IsRegular()
}

// Locate finds which state directory currently holds name.
func (s *Store) Locate(name string) (State, error) {
	if err := validateName(name); err != nil {
		return "", err
	}
	for _, state := range AllStates() {
		if s.Exists(state, name) {
			return state, nil
		}
	}
	return "", fmt.Errorf("%s: %w", name, ErrNotFound)
}

// RecoverStale moves files that have sat in Processing longer than olderThan
// back to Jobs so the next drain reprocesses them. A live instance rewrites
// its claimed file at the start of every attempt and finishes within its
// timeout, so a cutoff above that bound never touches in-flight work.
func (s *Store) RecoverStale(olderThan time.Duration) ([]string, error) {
	if olderThan <= 0 {
		return nil, fmt.Errorf("olderThan must be positive")
	}
	entries, err := s.List(StateProcessing)
	if err != nil {
		return nil, err
	}

	cutoff := s.now().Add(-olderThan)
	var recovered []string
	for _, e := range entries {
		if e.ModTime.After(cutoff) {
			continue
		}
		dest, err := placeNoReplace(s.Path(StateProcessing, e.Name), s.Dir(StatePending), e.Name)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return recovered, fmt.Errorf("recover %s: %w", e.Name, err)
		}
		recovered = append(recovered, filepath.Base(dest))
	}
	return recovered, nil
}

// placeNoReplace renames src into dir under name, or the first free
// suffixed variant of it.
func placeNoReplace(src, dir, name string) (string, error) {
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	for i := 0; ; i++ {
		candidate := name
		if i > 0 {
			candidate = fmt.Sprintf("%s-%d%s", stem, i, ext)
		}
		dest := filepath.Join(dir, candidate)
		err := renameNoReplace(src, dest)
		if err == nil {
			return dest, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return "", err
		}
	}
}

func writeFileAtomic(dir, path, content string) error {
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	if _, err := tmp.WriteString(content); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	if err := os.Chmod(tmpPath, 0o644); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	return nil
}

func validateName(name string) error {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" || trimmed == "." || trimmed == ".." {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	if strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("%w: %q must not contain path separators", ErrInvalidName, name)
	}
	if filepath.Clean(name) != name {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}
