package worker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"time"
)

const (
	// maxStderrBytes caps the amount of stderr kept from a worker run.
	maxStderrBytes = 64 * 1024

	// DefaultGracePeriod is the time we wait after SIGTERM before sending SIGKILL.
	DefaultGracePeriod = 5 * time.Second
)

// Delivery selects how the prompt reaches the worker process.
type Delivery string

const (
	DeliverArgs  Delivery = "args"
	DeliverStdin Delivery = "stdin"
)

// ExecRunner runs a command-line tool as a child process.
type ExecRunner struct {
	Command     string
	Args        []string
	Delivery    Delivery
	GracePeriod time.Duration
	Logger      *slog.Logger

	lookup func(string) (string, error)
}

// NewExecRunner creates a runner for command with fixed leading args.
func NewExecRunner(command string, args []string, delivery Delivery, grace time.Duration, logger *slog.Logger) *ExecRunner {
	if delivery == "" {
		delivery = DeliverArgs
	}
	if grace <= 0 {
		grace = DefaultGracePeriod
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ExecRunner{
		Command:     command,
		Args:        append([]string(nil), args...),
		Delivery:    delivery,
		GracePeriod: grace,
		Logger:      logger,
		lookup:      ResolveCommand,
	}
}

// Name returns the base name of the configured command.
func (r *ExecRunner) Name() string {
	return filepath.Base(r.Command)
}

// Run starts the worker, waits for it, and terminates its process group with
// SIGTERM then SIGKILL once the timeout or ctx expires.
func (r *ExecRunner) Run(ctx context.Context, req Request) Result {
	started := time.Now()
	logger := r.Logger

	path, err := r.lookup(r.Command)
	if err != nil {
		logger.Debug("worker command not found", "command", r.Command, "error", err)
		return Result{Kind: ToolMissing, ExitCode: -1}
	}

	args := append([]string(nil), r.Args...)
	if r.Delivery != DeliverStdin {
		args = append(args, req.Prompt)
	}

	// Not CommandContext: termination is managed below so the grace period applies.
	cmd := exec.Command(path, args...)
	cmd.Dir = req.Dir
	setProcessGroup(cmd)
	if r.Delivery == DeliverStdin {
		cmd.Stdin = strings.NewReader(req.Prompt)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	// Bounds Wait when a grandchild keeps the output pipes open.
	cmd.WaitDelay = r.GracePeriod

	logger.Debug("spawning worker", "command", path, "dir", req.Dir, "timeout", req.Timeout, "delivery", r.Delivery)

	if err := cmd.Start(); err != nil {
		if errors.Is(err, fs.ErrNotExist) || errors.Is(err, exec.ErrNotFound) || errors.Is(err, fs.ErrPermission) {
			return Result{Kind: ToolMissing, ExitCode: -1, Duration: time.Since(started)}
		}
		logger.Error("failed to start worker", "command", path, "error", err)
		return Result{Kind: NonZeroExit, ExitCode: -1, Stderr: err.Error(), Duration: time.Since(started)}
	}

	waitErr := make(chan error, 1)
	go func() {
		waitErr <- cmd.Wait()
	}()

	var timeoutC <-chan time.Time
	if req.Timeout > 0 {
		timer := time.NewTimer(req.Timeout)
		defer timer.Stop()
		timeoutC = timer.C
	}

	select {
	case <-timeoutC:
		logger.Warn("worker timed out, sending SIGTERM", "timeout", req.Timeout)
		r.terminate(cmd, waitErr)
		return Result{
			Kind:     TimedOut,
			ExitCode: -1,
			Stdout:   stdout.String(),
			Stderr:   truncateStderr(stderr.String()),
			Duration: time.Since(started),
		}

	case <-ctx.Done():
		logger.Warn("worker interrupted, sending SIGTERM", "error", ctx.Err())
		r.terminate(cmd, waitErr)
		return Result{
			Kind:     Interrupted,
			ExitCode: -1,
			Stdout:   stdout.String(),
			Stderr:   truncateStderr(stderr.String()),
			Duration: time.Since(started),
		}

	case err := <-waitErr:
		res := Result{
			Stdout:   stdout.String(),
			Stderr:   truncateStderr(stderr.String()),
			Duration: time.Since(started),
		}
		if err != nil {
			var exitErr *exec.ExitError
			if !errors.As(err, &exitErr) {
				res.Kind = NonZeroExit
				res.ExitCode = -1
				res.Stderr = strings.TrimSpace(res.Stderr + "\n" + err.Error())
				return res
			}
			logger.Warn("worker exited with non-zero status", "exit_code", exitErr.ExitCode())
			res.Kind = NonZeroExit
			res.ExitCode = exitErr.ExitCode()
			return res
		}
		res.Kind = Succeeded
		return res
	}
}

func (r *ExecRunner) terminate(cmd *exec.Cmd, waitErr <-chan error) {
	logger := r.Logger
	if err := signalGroup(cmd, syscall.SIGTERM); err != nil {
		logger.Error("failed to send SIGTERM", "error", err)
	}

	grace := time.NewTimer(r.GracePeriod)
	defer grace.Stop()

	select {
	case <-waitErr:
		logger.Info("worker exited after SIGTERM")
		// Forked children may outlive the leader.
		_ = signalGroup(cmd, syscall.SIGKILL)
	case <-grace.C:
		logger.Warn("worker did not exit after SIGTERM, sending SIGKILL")
		if err := signalGroup(cmd, syscall.SIGKILL); err != nil {
			logger.Error("failed to send SIGKILL", "error", err)
		}
		<-waitErr
	}
}

// ResolveCommand finds command on PATH, then in the places user-level CLI
// installers commonly drop binaries. Commands containing a path separator
// are checked as given.
func ResolveCommand(command string) (string, error) {
	command = strings.TrimSpace(command)
	if command == "" {
		return "", fmt.Errorf("worker command is empty")
	}
	if strings.ContainsRune(command, filepath.Separator) {
		if err := checkExecutable(command); err != nil {
			return "", err
		}
		return command, nil
	}

	if path, err := exec.LookPath(command); err == nil {
		return path, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}

	commonDirs := []string{
		filepath.Join(home, ".claude", "local"),
		filepath.Join(home, ".local", "bin"),
		filepath.Join(home, "bin"),
		"/opt/homebrew/bin",
		"/usr/local/bin",
	}
	for _, dir := range commonDirs {
		candidate := filepath.Join(dir, command)
		if checkExecutable(candidate) == nil {
			return candidate, nil
		}
	}

	return "", fmt.Errorf("%s executable not found in PATH or common locations", command)
}

func checkExecutable(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if info.IsDir() {
		return fmt.Errorf("%s is a directory", path)
	}
	if info.Mode().Perm()&0o111 == 0 {
		return fmt.Errorf("%s is not executable", path)
	}
	return nil
}

// truncateStderr truncates stderr to maxStderrBytes.
func truncateStderr(s string) string {
	if len(s) > maxStderrBytes {
		return s[:maxStderrBytes]
	}
	return s
}
