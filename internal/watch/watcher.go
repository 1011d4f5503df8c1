// Package watch feeds new job files to the dispatcher.
//
// Polling is authoritative: every poll interval the Jobs directory is listed
// and compared with the previous listing. When fsnotify is available, file
// events in Jobs only cut the current wait short.
package watch

import (
	"context"
	"log/slog"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/mattjoyce/familiar/internal/dispatch"
	"github.com/mattjoyce/familiar/internal/jobstore"
	"github.com/mattjoyce/familiar/internal/log"
)

// Processor is the dispatcher surface the watcher drives.
type Processor interface {
	Drain(ctx context.Context) error
	Process(ctx context.Context, name string) (dispatch.Result, error)
}

// Options tunes the loop.
type Options struct {
	PollInterval time.Duration
	SettleDelay  time.Duration
	FSNotify     bool
}

// Watcher runs the drain-then-poll loop.
type Watcher struct {
	store  *jobstore.Store
	proc   Processor
	opts   Options
	logger *slog.Logger

	// sleep waits d or until ctx is done, reporting whether it waited fully.
	sleep func(ctx context.Context, d time.Duration) bool
}

// New creates a watcher over store's Jobs directory.
func New(store *jobstore.Store, proc Processor, opts Options) *Watcher {
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Second
	}
	return &Watcher{
		store:  store,
		proc:   proc,
		opts:   opts,
		logger: log.WithComponent("watch"),
		sleep:  sleepCtx,
	}
}

// Run drains existing jobs, then polls until ctx is cancelled. It returns nil
// on cancellation and the first filesystem error reported by the processor.
func (w *Watcher) Run(ctx context.Context) error {
	if err := w.proc.Drain(ctx); err != nil {
		return err
	}

	jobsDir := w.store.Dir(jobstore.StatePending)
	w.logger.Info("watching", "dir", jobsDir, "interval", w.opts.PollInterval)

	var wake <-chan struct{}
	if w.opts.FSNotify {
		var stop func()
		wake, stop = w.startNotify(ctx, jobsDir)
		defer stop()
	}

	// seen holds names already handled or still waiting in Jobs. blocked
	// holds names whose claim hit a same-named file in Processing; they are
	// retried once that file is gone.
	seen := map[string]struct{}{}
	blocked := map[string]struct{}{}
	for {
		current, err := w.snapshot()
		if err != nil {
			return err
		}

		left := map[string]struct{}{}
		for _, name := range w.candidates(current, seen, blocked) {
			if !w.sleep(ctx, w.opts.SettleDelay) {
				return nil
			}
			if !w.store.Exists(jobstore.StatePending, name) {
				w.logger.Debug("job vanished before dispatch", "job", name)
				left[name] = struct{}{}
				continue
			}
			if _, err := w.proc.Process(ctx, name); err != nil {
				return err
			}
			if w.store.Exists(jobstore.StatePending, name) {
				blocked[name] = struct{}{}
				continue
			}
			delete(blocked, name)
			left[name] = struct{}{}
		}

		// Only names from this pass's listing count as seen, so files that
		// arrived while a job was running are new on the next pass.
		seen = current
		for name := range left {
			delete(seen, name)
		}
		if !w.wait(ctx, wake) {
			return nil
		}
	}
}

// candidates returns the names to dispatch this pass: new arrivals plus
// blocked names whose Processing counterpart has cleared, sorted.
func (w *Watcher) candidates(current, seen, blocked map[string]struct{}) []string {
	out := newNames(current, seen)
	for name := range blocked {
		if _, ok := current[name]; !ok {
			delete(blocked, name)
			continue
		}
		if _, ok := seen[name]; !ok {
			continue
		}
		if !w.store.Exists(jobstore.StateProcessing, name) {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

func (w *Watcher) snapshot() (map[string]struct{}, error) {
	names, err := w.store.ListPending()
	if err != nil {
		return nil, err
	}
	set := make(map[string]struct{}, len(names))
	for _, n := range names {
		set[n] = struct{}{}
	}
	return set, nil
}

// wait blocks for the poll interval, a file event, or cancellation.
func (w *Watcher) wait(ctx context.Context, wake <-chan struct{}) bool {
	timer := time.NewTimer(w.opts.PollInterval)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	case <-wake:
		return true
	}
}

// startNotify watches dir and signals on wake for every create, write or
// rename. A nil channel is returned when fsnotify is unavailable.
func (w *Watcher) startNotify(ctx context.Context, dir string) (<-chan struct{}, func()) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		w.logger.Warn("fsnotify unavailable, polling only", "error", err)
		return nil, func() {}
	}
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		w.logger.Warn("fsnotify unavailable, polling only", "dir", dir, "error", err)
		return nil, func() {}
	}

	wake := make(chan struct{}, 1)
	loopCtx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-loopCtx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if !w.store.Matches(filepath.Base(event.Name)) {
					continue
				}
				if event.Has(fsnotify.Create) || event.Has(fsnotify.Write) || event.Has(fsnotify.Rename) {
					select {
					case wake <- struct{}{}:
					default:
					}
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				w.logger.Debug("fsnotify error", "error", err)
			}
		}
	}()

	return wake, func() {
		cancel()
		_ = watcher.Close()
		wg.Wait()
	}
}

// newNames returns names in current but not in seen, sorted.
func newNames(current, seen map[string]struct{}) []string {
	var out []string
	for n := range current {
		if _, ok := seen[n]; !ok {
			out = append(out, n)
		}
	}
	sort.Strings(out)
	return out
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
