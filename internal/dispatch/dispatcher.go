package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mattjoyce/familiar/internal/events"
	"github.com/mattjoyce/familiar/internal/frontmatter"
	"github.com/mattjoyce/familiar/internal/jobstore"
	"github.com/mattjoyce/familiar/internal/log"
	"github.com/mattjoyce/familiar/internal/progress"
	"github.com/mattjoyce/familiar/internal/worker"
)

// Status values written to the status metadata key.
const (
	StatusProcessing = "processing"
	StatusDone       = "done"
	StatusFailed     = "failed"
)

// LastRunLayout is the layout of the last_run metadata value.
const LastRunLayout = "2006-01-02T15:04:05"

// Outcome is the result of one Process call.
type Outcome int

const (
	Skipped Outcome = iota
	Succeeded
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Skipped:
		return "skipped"
	case Succeeded:
		return "succeeded"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Result summarizes one Process call.
type Result struct {
	Name        string
	RunID       string
	Outcome     Outcome
	Iteration   int
	Kind        worker.Kind
	Destination string
}

// Options configures a Dispatcher.
type Options struct {
	// Name is the operator display name used in records and the task framing.
	Name string
	// VaultRoot is the worker's working directory.
	VaultRoot string
	// AllowedPaths are extra directories listed after the vault path.
	AllowedPaths []string
	Timeout      time.Duration

	Events   events.Publisher
	Progress *progress.Indicator
}

// Dispatcher processes job files one at a time.
type Dispatcher struct {
	store  *jobstore.Store
	runner worker.Runner
	opts   Options
	logger *slog.Logger
	now    func() time.Time
}

// New creates a new Dispatcher.
func New(store *jobstore.Store, runner worker.Runner, opts Options) *Dispatcher {
	return &Dispatcher{
		store:  store,
		runner: runner,
		opts:   opts,
		logger: log.WithComponent("dispatch"),
		now:    time.Now,
	}
}

// Drain processes every file currently pending in sorted order. It stops
// early, without error, when ctx is cancelled between jobs.
func (d *Dispatcher) Drain(ctx context.Context) error {
	names, err := d.store.ListPending()
	if err != nil {
		return fmt.Errorf("list pending jobs: %w", err)
	}
	if len(names) > 0 {
		d.logger.Info("draining pending jobs", "count", len(names))
	}
	for _, name := range names {
		if ctx.Err() != nil {
			return nil
		}
		if _, err := d.Process(ctx, name); err != nil {
			return err
		}
	}
	return nil
}

// Process runs the job named name from Jobs through to Done or Failed.
//
// A claimed job always finishes: ctx cancellation does not interrupt the
// worker, whose run is bounded by the configured timeout instead.
func (d *Dispatcher) Process(ctx context.Context, name string) (Result, error) {
	runID := uuid.NewString()
	logger := d.logger.With("job", name, "run_id", runID)
	res := Result{Name: name, RunID: runID}

	if err := d.store.Claim(name); err != nil {
		switch {
		case errors.Is(err, jobstore.ErrAlreadyClaimed):
			logger.Info("skipped, already picked up")
		case errors.Is(err, jobstore.ErrProcessingConflict):
			logger.Warn("skipped, a job with the same name is already in Processing")
		default:
			return res, err
		}
		d.publish(events.JobSkipped, res, err.Error())
		return res, nil
	}

	logger.Info("processing")

	content, err := d.store.Read(name)
	if err != nil {
		return res, err
	}
	meta, body := frontmatter.Decode(content)

	iteration := meta.Int(frontmatter.KeyIteration, 0) + 1
	res.Iteration = iteration
	logger = logger.With("iteration", iteration)

	started := d.now()
	meta.Set(frontmatter.KeyIteration, iteration)
	meta.Set(frontmatter.KeyStatus, StatusProcessing)
	meta.Set(frontmatter.KeyLastRun, started.Format(LastRunLayout))

	marker := workingMarker(d.opts.Name, iteration, started)
	if err := d.store.Write(name, frontmatter.Encode(meta, body+marker)); err != nil {
		return res, err
	}
	d.publish(events.JobClaimed, res, "")

	prompt, err := d.buildPrompt(iteration, body)
	if err != nil {
		return res, err
	}

	stop := d.opts.Progress.Start("Working on " + name)
	wres := d.runner.Run(context.WithoutCancel(ctx), worker.Request{
		Prompt:  prompt,
		Dir:     d.opts.VaultRoot,
		Timeout: d.opts.Timeout,
	})
	stop()
	res.Kind = wres.Kind

	text := d.describe(wres)
	outcome := jobstore.OutcomeSuccess
	status := StatusDone
	if !wres.OK() {
		outcome = jobstore.OutcomeFailure
		status = StatusFailed
	}

	finished := d.now()
	meta.Set(frontmatter.KeyStatus, status)
	meta.Set(frontmatter.KeyLastRun, finished.Format(LastRunLayout))
	record := runRecord(d.opts.Name, iteration, finished, text)

	dest, err := d.store.Finalize(name, outcome, frontmatter.Encode(meta, body+record))
	if err != nil {
		return res, err
	}
	res.Destination = dest

	if wres.OK() {
		res.Outcome = Succeeded
		logger.Info("done", "dest", filepath.Base(dest), "duration", wres.Duration.Round(time.Millisecond))
		d.publish(events.JobSucceeded, res, "")
	} else {
		res.Outcome = Failed
		logger.Warn("failed", "reason", wres.Kind.String(), "exit_code", wres.ExitCode, "dest", filepath.Base(dest))
		d.publish(events.JobFailed, res, text)
	}
	return res, nil
}

// describe turns a worker result into the text quoted in the run record.
func (d *Dispatcher) describe(r worker.Result) string {
	command := d.runner.Name()
	switch r.Kind {
	case worker.Succeeded:
		return strings.TrimSpace(r.Stdout)
	case worker.ToolMissing:
		return fmt.Sprintf("Error: %s CLI not found. Install it or set worker.command in the config.", command)
	case worker.TimedOut:
		return fmt.Sprintf("Error: %s CLI timed out after %d seconds.", command, int(d.opts.Timeout/time.Second))
	case worker.Interrupted:
		return fmt.Sprintf("Error: %s CLI was interrupted before finishing.", command)
	default:
		return fmt.Sprintf("Error: %s CLI exited with code %d.\n\n```\n%s\n```", command, r.ExitCode, strings.TrimSpace(r.Stderr))
	}
}

func (d *Dispatcher) publish(eventType string, res Result, errText string) {
	if d.opts.Events == nil {
		return
	}
	payload := events.JobPayload{
		Job:       res.Name,
		RunID:     res.RunID,
		Iteration: res.Iteration,
		Error:     errText,
	}
	if res.Outcome != Skipped {
		payload.Outcome = res.Outcome.String()
	}
	if res.Destination != "" {
		payload.Destination = d.relative(res.Destination)
	}
	d.opts.Events.Publish(eventType, payload)
}

func (d *Dispatcher) relative(path string) string {
	if rel, err := filepath.Rel(d.store.Root(), path); err == nil {
		return rel
	}
	return path
}
