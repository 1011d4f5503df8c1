// Package inspect renders what a job file currently says about itself.
package inspect

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/mattjoyce/familiar/internal/config"
	"github.com/mattjoyce/familiar/internal/dispatch"
	"github.com/mattjoyce/familiar/internal/frontmatter"
	"github.com/mattjoyce/familiar/internal/jobstore"
)

// Report is the structured representation of one job file.
type Report struct {
	Name      string            `json:"name"`
	State     jobstore.State    `json:"state"`
	Path      string            `json:"path"`
	Size      int64             `json:"size"`
	SizeHuman string            `json:"size_human"`
	Modified  time.Time         `json:"modified"`
	Age       string            `json:"age"`
	Digest    string            `json:"blake3"`
	Iteration int               `json:"iteration"`
	Status    string            `json:"status,omitempty"`
	LastRun   string            `json:"last_run,omitempty"`
	Metadata  []Field           `json:"metadata"`
	Records   []dispatch.Record `json:"records"`
	Body      string            `json:"body"`
}

// Field is one frontmatter entry in file order.
type Field struct {
	Key   string `json:"key"`
	Value any    `json:"value"`
}

// BuildReport renders a terminal-friendly report for the named job in
// whichever state directory holds it.
func BuildReport(store *jobstore.Store, name string) (string, error) {
	report, err := Gather(store, name)
	if err != nil {
		return "", err
	}
	return Render(report), nil
}

// BuildJSONReport returns the machine-readable report for the named job.
func BuildJSONReport(store *jobstore.Store, name string) (string, error) {
	report, err := Gather(store, name)
	if err != nil {
		return "", err
	}
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal json report: %w", err)
	}
	return string(data), nil
}

// Gather locates name and builds its report.
func Gather(store *jobstore.Store, name string) (*Report, error) {
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("job name is required")
	}
	state, err := store.Locate(name)
	if err != nil {
		return nil, err
	}
	return GatherState(store, state, name)
}

// GatherState builds the report for name in a known state.
func GatherState(store *jobstore.Store, state jobstore.State, name string) (*Report, error) {
	return gather(store, state, name, time.Now())
}

func gather(store *jobstore.Store, state jobstore.State, name string, now time.Time) (*Report, error) {
	if !store.Exists(state, name) {
		return nil, fmt.Errorf("%s in %s: %w", name, state.Dir(), jobstore.ErrNotFound)
	}
	path := store.Path(state, name)
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", name, err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}

	meta, body := frontmatter.Decode(string(data))
	report := &Report{
		Name:      name,
		State:     state,
		Path:      path,
		Size:      info.Size(),
		SizeHuman: humanize.Bytes(uint64(info.Size())),
		Modified:  info.ModTime(),
		Age:       humanize.RelTime(info.ModTime(), now, "ago", "from now"),
		Digest:    config.HashBytes(data),
		Iteration: meta.Int(frontmatter.KeyIteration, 0),
		Status:    meta.String(frontmatter.KeyStatus),
		LastRun:   meta.String(frontmatter.KeyLastRun),
		Metadata:  make([]Field, 0, meta.Len()),
		Records:   dispatch.Records(body),
		Body:      body,
	}
	for _, k := range meta.Keys() {
		v, _ := meta.Get(k)
		report.Metadata = append(report.Metadata, Field{Key: k, Value: v})
	}
	return report, nil
}

// Render formats a report for the terminal.
func Render(r *Report) string {
	var out strings.Builder
	fmt.Fprintf(&out, "Job Report\n")
	fmt.Fprintf(&out, "Name        : %s\n", r.Name)
	fmt.Fprintf(&out, "State       : %s (%s)\n", r.State, r.State.Dir())
	fmt.Fprintf(&out, "Path        : %s\n", r.Path)
	fmt.Fprintf(&out, "Size        : %s\n", r.SizeHuman)
	fmt.Fprintf(&out, "Modified    : %s (%s)\n", r.Modified.Format(time.RFC3339), r.Age)
	fmt.Fprintf(&out, "BLAKE3      : %s\n", r.Digest)
	fmt.Fprintf(&out, "Iteration   : %d\n", r.Iteration)
	fmt.Fprintf(&out, "Status      : %s\n", renderUnset(r.Status, "<none>"))
	fmt.Fprintf(&out, "Last run    : %s\n", renderUnset(r.LastRun, "<never>"))
	fmt.Fprintf(&out, "\n")

	if len(r.Metadata) == 0 {
		fmt.Fprintf(&out, "metadata    : <none>\n")
	} else {
		fmt.Fprintf(&out, "metadata    :\n")
		for _, f := range r.Metadata {
			fmt.Fprintf(&out, "  %s: %v\n", f.Key, f.Value)
		}
	}

	if len(r.Records) == 0 {
		fmt.Fprintf(&out, "records     : <none>\n")
	} else {
		fmt.Fprintf(&out, "records     :\n")
		for _, rec := range r.Records {
			fmt.Fprintf(&out, "  [%d] %s at %s\n", rec.Iteration, rec.Name, rec.At)
		}
	}

	return strings.TrimRight(out.String(), "\n") + "\n"
}

func renderUnset(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}
