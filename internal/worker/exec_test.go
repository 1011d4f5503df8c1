package worker

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "worker.sh")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/bash\n"+body), 0o755))
	return path
}

func TestExecRunner_ArgsDelivery(t *testing.T) {
	script := writeScript(t, `echo "prompt=${@: -1}"
echo "flag=$1"
`)
	r := NewExecRunner(script, []string{"--print"}, DeliverArgs, time.Second, testLogger())

	res := r.Run(context.Background(), Request{Prompt: "Summarize X", Timeout: 5 * time.Second})
	require.Equal(t, Succeeded, res.Kind)
	assert.True(t, res.OK())
	assert.Equal(t, 0, res.ExitCode)
	assert.Contains(t, res.Stdout, "prompt=Summarize X")
	assert.Contains(t, res.Stdout, "flag=--print")
}

func TestExecRunner_StdinDelivery(t *testing.T) {
	script := writeScript(t, `echo "argc=$#"
cat
`)
	r := NewExecRunner(script, nil, DeliverStdin, time.Second, testLogger())

	res := r.Run(context.Background(), Request{Prompt: "line one\nline two", Timeout: 5 * time.Second})
	require.Equal(t, Succeeded, res.Kind)
	assert.Equal(t, "argc=0\nline one\nline two", res.Stdout)
}

func TestExecRunner_WorkingDirectory(t *testing.T) {
	dir := t.TempDir()
	script := writeScript(t, "pwd\n")
	r := NewExecRunner(script, nil, DeliverArgs, time.Second, testLogger())

	res := r.Run(context.Background(), Request{Prompt: "x", Dir: dir, Timeout: 5 * time.Second})
	require.Equal(t, Succeeded, res.Kind)

	want, err := filepath.EvalSymlinks(dir)
	require.NoError(t, err)
	got, err := filepath.EvalSymlinks(strings.TrimSpace(res.Stdout))
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestExecRunner_NonZeroExit(t *testing.T) {
	script := writeScript(t, `echo partial
echo "rate limited" >&2
exit 3
`)
	r := NewExecRunner(script, nil, DeliverArgs, time.Second, testLogger())

	res := r.Run(context.Background(), Request{Prompt: "x", Timeout: 5 * time.Second})
	assert.Equal(t, NonZeroExit, res.Kind)
	assert.Equal(t, 3, res.ExitCode)
	assert.Equal(t, "rate limited\n", res.Stderr)
	assert.False(t, res.OK())
}

func TestExecRunner_TimeoutEscalatesToKill(t *testing.T) {
	script := writeScript(t, `trap '' TERM
sleep 10
`)
	r := NewExecRunner(script, nil, DeliverArgs, 200*time.Millisecond, testLogger())

	start := time.Now()
	res := r.Run(context.Background(), Request{Prompt: "x", Timeout: 200 * time.Millisecond})
	assert.Equal(t, TimedOut, res.Kind)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestExecRunner_ContextCancel(t *testing.T) {
	script := writeScript(t, "exec sleep 10\n")
	r := NewExecRunner(script, nil, DeliverArgs, time.Second, testLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	res := r.Run(ctx, Request{Prompt: "x", Timeout: 10 * time.Second})
	assert.Equal(t, Interrupted, res.Kind)
}

func TestExecRunner_ToolMissing(t *testing.T) {
	cases := []string{
		filepath.Join(t.TempDir(), "does-not-exist"),
		"familiar-test-no-such-tool-7f3c",
	}
	for _, command := range cases {
		r := NewExecRunner(command, nil, DeliverArgs, time.Second, testLogger())
		res := r.Run(context.Background(), Request{Prompt: "x", Timeout: time.Second})
		assert.Equal(t, ToolMissing, res.Kind, command)
	}
}

func TestExecRunner_Name(t *testing.T) {
	r := NewExecRunner("/usr/local/bin/claude", nil, "", 0, nil)
	assert.Equal(t, "claude", r.Name())
	assert.Equal(t, DeliverArgs, r.Delivery)
	assert.Equal(t, DefaultGracePeriod, r.GracePeriod)
}

func TestResolveCommand(t *testing.T) {
	dir := t.TempDir()
	notExec := filepath.Join(dir, "plain")
	require.NoError(t, os.WriteFile(notExec, []byte("x"), 0o644))

	_, err := ResolveCommand(notExec)
	assert.Error(t, err)

	_, err = ResolveCommand(dir)
	assert.Error(t, err)

	_, err = ResolveCommand("  ")
	assert.Error(t, err)

	path, err := ResolveCommand("sh")
	require.NoError(t, err)
	assert.True(t, filepath.IsAbs(path))
}

func TestTruncateStderr(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  int
	}{
		{name: "short", input: "error", want: 5},
		{name: "exact", input: string(make([]byte, maxStderrBytes)), want: maxStderrBytes},
		{name: "over", input: string(make([]byte, maxStderrBytes+100)), want: maxStderrBytes},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Len(t, truncateStderr(tt.input), tt.want)
		})
	}
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "succeeded", Succeeded.String())
	assert.Equal(t, "tool_missing", ToolMissing.String())
	assert.Equal(t, "timed_out", TimedOut.String())
	assert.Equal(t, "non_zero_exit", NonZeroExit.String())
	assert.Equal(t, "interrupted", Interrupted.String())
}
