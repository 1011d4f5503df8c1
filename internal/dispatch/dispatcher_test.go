package dispatch

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/familiar/internal/events"
	"github.com/mattjoyce/familiar/internal/frontmatter"
	"github.com/mattjoyce/familiar/internal/jobstore"
	"github.com/mattjoyce/familiar/internal/log"
	"github.com/mattjoyce/familiar/internal/worker"
	"github.com/mattjoyce/familiar/internal/worker/mocks"
)

func TestMain(m *testing.M) {
	log.Setup("ERROR", "text") // Suppress logs in tests
	os.Exit(m.Run())
}

var fixedNow = time.Date(2024, 5, 1, 14, 30, 15, 0, time.Local)

type fixture struct {
	store  *jobstore.Store
	runner *mocks.MockRunner
	hub    *events.Hub
	disp   *Dispatcher
}

func setupTestDispatcher(t *testing.T) *fixture {
	t.Helper()

	store, err := jobstore.New(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, store.EnsureLayout())

	ctrl := gomock.NewController(t)
	runner := mocks.NewMockRunner(ctrl)
	runner.EXPECT().Name().Return("claude").AnyTimes()

	hub := events.NewHub(50)
	disp := New(store, runner, Options{
		Name:      "Familiar",
		VaultRoot: filepath.Dir(store.Root()),
		Timeout:   300 * time.Second,
		Events:    hub,
	})
	disp.now = func() time.Time { return fixedNow }

	return &fixture{store: store, runner: runner, hub: hub, disp: disp}
}

func (f *fixture) drop(t *testing.T, state jobstore.State, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(f.store.Path(state, name), []byte(content), 0o644))
}

func (f *fixture) read(t *testing.T, path string) (*frontmatter.Metadata, string) {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	meta, body := frontmatter.Decode(string(data))
	return meta, body
}

func succeed(out string) worker.Result {
	return worker.Result{Kind: worker.Succeeded, Stdout: out}
}

// A plain file with no metadata succeeds on its first attempt.
func TestProcess_FirstRunSucceeds(t *testing.T) {
	f := setupTestDispatcher(t)
	f.drop(t, jobstore.StatePending, "a.md", "Summarize X")

	var got worker.Request
	f.runner.EXPECT().Run(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, req worker.Request) worker.Result {
		got = req
		return succeed("  The summary.\n\nSecond paragraph.\n")
	})

	res, err := f.disp.Process(context.Background(), "a.md")
	require.NoError(t, err)
	assert.Equal(t, Succeeded, res.Outcome)
	assert.Equal(t, 1, res.Iteration)
	assert.Equal(t, f.store.Path(jobstore.StateDone, "a.md"), res.Destination)
	assert.NotEmpty(t, res.RunID)

	assert.False(t, f.store.Exists(jobstore.StatePending, "a.md"))
	assert.False(t, f.store.Exists(jobstore.StateProcessing, "a.md"))

	meta, body := f.read(t, res.Destination)
	assert.Equal(t, []string{"iteration", "status", "last_run"}, meta.Keys())
	assert.Equal(t, 1, meta.Int(frontmatter.KeyIteration, 0))
	assert.Equal(t, "done", meta.String(frontmatter.KeyStatus))
	assert.Equal(t, "2024-05-01T14:30:15", meta.String(frontmatter.KeyLastRun))
	assert.Equal(t, "Summarize X\n\n> [!quote] Familiar — Report 1 at 2024-05-01 14:30\n> The summary.\n>\n> Second paragraph.\n", body)

	assert.True(t, strings.HasPrefix(got.Prompt, "You are Familiar. Execute the following task."))
	assert.True(t, strings.HasSuffix(got.Prompt, "\n\nSummarize X"))
	assert.Contains(t, got.Prompt, "- "+f.store.Root()+"\n")
	assert.NotContains(t, got.Prompt, "This is iteration")
	assert.Equal(t, filepath.Dir(f.store.Root()), got.Dir)
	assert.Equal(t, 300*time.Second, got.Timeout)
}

// An existing iteration is incremented and the hint is added.
func TestProcess_RepeatRunIncrementsIteration(t *testing.T) {
	f := setupTestDispatcher(t)
	f.drop(t, jobstore.StatePending, "b.md", "---\niteration: 2\nstatus: done\nowner: sam\n---\n\nBody text")

	var got worker.Request
	f.runner.EXPECT().Run(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, req worker.Request) worker.Result {
		got = req
		return succeed("ok")
	})

	res, err := f.disp.Process(context.Background(), "b.md")
	require.NoError(t, err)
	assert.Equal(t, 3, res.Iteration)

	meta, body := f.read(t, res.Destination)
	assert.Equal(t, []string{"iteration", "status", "owner", "last_run"}, meta.Keys())
	assert.Equal(t, 3, meta.Int(frontmatter.KeyIteration, 0))
	assert.Equal(t, "sam", meta.String("owner"))
	assert.Contains(t, body, "Report 3 at")

	assert.Contains(t, got.Prompt, "\n\nThis is iteration 3. There may be previous output and reviewer notes below.")
	assert.True(t, strings.HasSuffix(got.Prompt, "\n\nBody text"))
}

// A non-zero exit lands in Failed with stderr quoted.
func TestProcess_NonZeroExitFails(t *testing.T) {
	f := setupTestDispatcher(t)
	f.drop(t, jobstore.StatePending, "c.md", "Do it")

	f.runner.EXPECT().Run(gomock.Any(), gomock.Any()).Return(worker.Result{
		Kind:     worker.NonZeroExit,
		ExitCode: 2,
		Stderr:   "\nrate limited\n",
	})

	res, err := f.disp.Process(context.Background(), "c.md")
	require.NoError(t, err)
	assert.Equal(t, Failed, res.Outcome)
	assert.Equal(t, worker.NonZeroExit, res.Kind)
	assert.Equal(t, f.store.Path(jobstore.StateFailed, "c.md"), res.Destination)

	meta, body := f.read(t, res.Destination)
	assert.Equal(t, "failed", meta.String(frontmatter.KeyStatus))
	assert.Equal(t, 1, meta.Int(frontmatter.KeyIteration, 0))
	assert.Equal(t, "Do it\n\n> [!quote] Familiar — Report 1 at 2024-05-01 14:30\n> Error: claude CLI exited with code 2.\n>\n> ```\n> rate limited\n> ```\n", body)
}

func TestProcess_FailureMessages(t *testing.T) {
	tests := []struct {
		name string
		res  worker.Result
		want string
	}{
		{
			name: "tool missing",
			res:  worker.Result{Kind: worker.ToolMissing, ExitCode: -1},
			want: "> Error: claude CLI not found. Install it or set worker.command in the config.\n",
		},
		{
			name: "timeout",
			res:  worker.Result{Kind: worker.TimedOut, ExitCode: -1},
			want: "> Error: claude CLI timed out after 300 seconds.\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := setupTestDispatcher(t)
			f.drop(t, jobstore.StatePending, "x.md", "task")
			f.runner.EXPECT().Run(gomock.Any(), gomock.Any()).Return(tt.res)

			res, err := f.disp.Process(context.Background(), "x.md")
			require.NoError(t, err)
			assert.Equal(t, Failed, res.Outcome)

			meta, body := f.read(t, res.Destination)
			assert.Equal(t, "failed", meta.String(frontmatter.KeyStatus))
			assert.True(t, strings.HasSuffix(body, tt.want), body)
		})
	}
}

// An existing file in Done is never overwritten.
func TestProcess_DestinationCollision(t *testing.T) {
	f := setupTestDispatcher(t)
	f.drop(t, jobstore.StateDone, "a.md", "previous result")
	f.drop(t, jobstore.StatePending, "a.md", "again")

	f.runner.EXPECT().Run(gomock.Any(), gomock.Any()).Return(succeed("new"))

	res, err := f.disp.Process(context.Background(), "a.md")
	require.NoError(t, err)
	assert.Equal(t, f.store.Path(jobstore.StateDone, "a-1.md"), res.Destination)

	data, err := os.ReadFile(f.store.Path(jobstore.StateDone, "a.md"))
	require.NoError(t, err)
	assert.Equal(t, "previous result", string(data))
}

func TestProcess_SkipsVanishedFile(t *testing.T) {
	f := setupTestDispatcher(t)
	// No Run expectation: the worker must not be called.

	res, err := f.disp.Process(context.Background(), "gone.md")
	require.NoError(t, err)
	assert.Equal(t, Skipped, res.Outcome)

	evs := f.hub.SnapshotSince(0)
	require.Len(t, evs, 1)
	assert.Equal(t, events.JobSkipped, evs[0].Type)
}

func TestProcess_SkipsProcessingConflict(t *testing.T) {
	f := setupTestDispatcher(t)
	f.drop(t, jobstore.StatePending, "dup.md", "new submission")
	f.drop(t, jobstore.StateProcessing, "dup.md", "in flight elsewhere")

	res, err := f.disp.Process(context.Background(), "dup.md")
	require.NoError(t, err)
	assert.Equal(t, Skipped, res.Outcome)

	_, body := f.read(t, f.store.Path(jobstore.StatePending, "dup.md"))
	assert.Equal(t, "new submission", body)
	_, body = f.read(t, f.store.Path(jobstore.StateProcessing, "dup.md"))
	assert.Equal(t, "in flight elsewhere", body)
}

func TestProcess_WritesWorkingMarkerBeforeRun(t *testing.T) {
	f := setupTestDispatcher(t)
	f.drop(t, jobstore.StatePending, "w.md", "task")

	f.runner.EXPECT().Run(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, req worker.Request) worker.Result {
		meta, body := f.read(t, f.store.Path(jobstore.StateProcessing, "w.md"))
		assert.Equal(t, "processing", meta.String(frontmatter.KeyStatus))
		assert.Equal(t, 1, meta.Int(frontmatter.KeyIteration, 0))
		assert.Equal(t, "task\n\n> [!info] Familiar — Working on report 1...\n> Started at 2024-05-01 14:30\n", body)
		assert.NotContains(t, req.Prompt, "[!info]")
		return succeed("out")
	})

	res, err := f.disp.Process(context.Background(), "w.md")
	require.NoError(t, err)

	_, body := f.read(t, res.Destination)
	assert.NotContains(t, body, "[!info]")
}

func TestProcess_HistoryIsAppendOnly(t *testing.T) {
	f := setupTestDispatcher(t)
	f.drop(t, jobstore.StatePending, "h.md", "Write a poem")

	gomock.InOrder(
		f.runner.EXPECT().Run(gomock.Any(), gomock.Any()).Return(succeed("first draft")),
		f.runner.EXPECT().Run(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, req worker.Request) worker.Result {
			assert.Contains(t, req.Prompt, "> first draft")
			assert.Contains(t, req.Prompt, "Make it shorter")
			return succeed("second draft")
		}),
	)

	res, err := f.disp.Process(context.Background(), "h.md")
	require.NoError(t, err)
	_, firstBody := f.read(t, res.Destination)

	// Reviewer adds a note and moves the file back to Jobs.
	data, err := os.ReadFile(res.Destination)
	require.NoError(t, err)
	require.NoError(t, os.Remove(res.Destination))
	f.drop(t, jobstore.StatePending, "h.md", string(data)+"\nMake it shorter\n")

	res, err = f.disp.Process(context.Background(), "h.md")
	require.NoError(t, err)

	meta, secondBody := f.read(t, res.Destination)
	assert.Equal(t, 2, meta.Int(frontmatter.KeyIteration, 0))
	assert.True(t, strings.HasPrefix(secondBody, firstBody), "history was rewritten")

	records := Records(secondBody)
	require.Len(t, records, 2)
	assert.Equal(t, 1, records[0].Iteration)
	assert.Equal(t, 2, records[1].Iteration)
}

func TestProcess_IterationCountsFailures(t *testing.T) {
	f := setupTestDispatcher(t)
	f.drop(t, jobstore.StatePending, "i.md", "task")

	gomock.InOrder(
		f.runner.EXPECT().Run(gomock.Any(), gomock.Any()).Return(worker.Result{Kind: worker.TimedOut}),
		f.runner.EXPECT().Run(gomock.Any(), gomock.Any()).Return(worker.Result{Kind: worker.NonZeroExit, ExitCode: 1}),
		f.runner.EXPECT().Run(gomock.Any(), gomock.Any()).Return(succeed("finally")),
	)

	var dest string
	for attempt := 1; attempt <= 3; attempt++ {
		res, err := f.disp.Process(context.Background(), "i.md")
		require.NoError(t, err)
		assert.Equal(t, attempt, res.Iteration)
		dest = res.Destination

		if attempt < 3 {
			data, err := os.ReadFile(dest)
			require.NoError(t, err)
			require.NoError(t, os.Remove(dest))
			f.drop(t, jobstore.StatePending, "i.md", string(data))
		}
	}

	meta, _ := f.read(t, dest)
	assert.Equal(t, 3, meta.Int(frontmatter.KeyIteration, 0))
	assert.Equal(t, "done", meta.String(frontmatter.KeyStatus))
}

func TestProcess_PromptIncludesSystemPromptAndAllowedPaths(t *testing.T) {
	f := setupTestDispatcher(t)
	f.disp.opts.AllowedPaths = []string{"/srv/code", "/srv/docs"}
	require.NoError(t, os.WriteFile(filepath.Join(f.store.Root(), SystemPromptFile), []byte("\n  Be terse.  \n"), 0o644))
	f.drop(t, jobstore.StatePending, "p.md", "task body")

	var got worker.Request
	f.runner.EXPECT().Run(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, req worker.Request) worker.Result {
		got = req
		return succeed("ok")
	})

	_, err := f.disp.Process(context.Background(), "p.md")
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(got.Prompt, "Be terse.\n\nYou are Familiar."))
	assert.Contains(t, got.Prompt, "- "+f.store.Root()+"\n- /srv/code\n- /srv/docs\nDo not read, write, or execute anything outside these paths.")
}

func TestProcess_PublishesLifecycleEvents(t *testing.T) {
	f := setupTestDispatcher(t)
	f.drop(t, jobstore.StatePending, "e.md", "task")
	f.runner.EXPECT().Run(gomock.Any(), gomock.Any()).Return(succeed("ok"))

	res, err := f.disp.Process(context.Background(), "e.md")
	require.NoError(t, err)

	evs := f.hub.SnapshotSince(0)
	require.Len(t, evs, 2)
	assert.Equal(t, events.JobClaimed, evs[0].Type)
	assert.Equal(t, events.JobSucceeded, evs[1].Type)

	var p events.JobPayload
	require.NoError(t, json.Unmarshal(evs[1].Data, &p))
	assert.Equal(t, "e.md", p.Job)
	assert.Equal(t, res.RunID, p.RunID)
	assert.Equal(t, 1, p.Iteration)
	assert.Equal(t, "succeeded", p.Outcome)
	assert.Equal(t, filepath.Join("Done", "e.md"), p.Destination)
}

func TestProcess_CancelledContextStillFinishesClaimedJob(t *testing.T) {
	f := setupTestDispatcher(t)
	f.drop(t, jobstore.StatePending, "c.md", "task")

	ctx, cancel := context.WithCancel(context.Background())
	f.runner.EXPECT().Run(gomock.Any(), gomock.Any()).DoAndReturn(func(rctx context.Context, _ worker.Request) worker.Result {
		cancel()
		assert.NoError(t, rctx.Err())
		return succeed("ok")
	})

	res, err := f.disp.Process(ctx, "c.md")
	require.NoError(t, err)
	assert.Equal(t, Succeeded, res.Outcome)
}

func TestDrain_ProcessesInSortedOrder(t *testing.T) {
	f := setupTestDispatcher(t)
	f.drop(t, jobstore.StatePending, "b.md", "second")
	f.drop(t, jobstore.StatePending, "a.md", "first")
	f.drop(t, jobstore.StatePending, "notes.txt", "ignored")

	var order []string
	f.runner.EXPECT().Run(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, req worker.Request) worker.Result {
		order = append(order, req.Prompt[strings.LastIndex(req.Prompt, "\n\n")+2:])
		return succeed("ok")
	}).Times(2)

	require.NoError(t, f.disp.Drain(context.Background()))
	assert.Equal(t, []string{"first", "second"}, order)
	assert.True(t, f.store.Exists(jobstore.StatePending, "notes.txt"))
}

func TestDrain_StopsWhenCancelled(t *testing.T) {
	f := setupTestDispatcher(t)
	f.drop(t, jobstore.StatePending, "a.md", "x")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.NoError(t, f.disp.Drain(ctx))
	assert.True(t, f.store.Exists(jobstore.StatePending, "a.md"))
}

func TestProcess_WithExecRunner(t *testing.T) {
	store, err := jobstore.New(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, store.EnsureLayout())

	script := filepath.Join(t.TempDir(), "fake-worker")
	require.NoError(t, os.WriteFile(script, []byte(`#!/bin/bash
last="${@: -1}"
echo "Handled: ${last##*$'\n'}"
`), 0o755))

	runner := worker.NewExecRunner(script, []string{"--print"}, worker.DeliverArgs, time.Second, log.Get())
	disp := New(store, runner, Options{Name: "Ada", VaultRoot: store.Root(), Timeout: 10 * time.Second})

	require.NoError(t, os.WriteFile(store.Path(jobstore.StatePending, "real.md"), []byte("Ping"), 0o644))

	res, err := disp.Process(context.Background(), "real.md")
	require.NoError(t, err)
	require.Equal(t, Succeeded, res.Outcome)

	data, err := os.ReadFile(res.Destination)
	require.NoError(t, err)
	assert.Contains(t, string(data), "> [!quote] Ada — Report 1 at ")
	assert.Contains(t, string(data), "> Handled: Ping")
}
