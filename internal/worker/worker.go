// Package worker runs the external text-generation tool for one job.
//
// A Runner receives a fully assembled prompt and returns a Result describing
// how the process ended. Process failures are values, not errors: a missing
// binary, a timeout and a non-zero exit all end up written into the job file
// by the dispatcher.
package worker

import (
	"context"
	"time"
)

//go:generate mockgen -destination=mocks/mock_runner.go -package=mocks github.com/mattjoyce/familiar/internal/worker Runner

// Kind classifies how a worker invocation ended.
type Kind int

const (
	Succeeded Kind = iota
	ToolMissing
	TimedOut
	NonZeroExit
	Interrupted
)

func (k Kind) String() string {
	switch k {
	case Succeeded:
		return "succeeded"
	case ToolMissing:
		return "tool_missing"
	case TimedOut:
		return "timed_out"
	case NonZeroExit:
		return "non_zero_exit"
	case Interrupted:
		return "interrupted"
	default:
		return "unknown"
	}
}

// Request is one invocation.
type Request struct {
	Prompt  string
	Dir     string
	Timeout time.Duration
}

// Result is the outcome of one invocation.
type Result struct {
	Kind     Kind
	ExitCode int
	Stdout   string
	Stderr   string
	Duration time.Duration
}

// OK reports whether the worker produced usable output.
func (r Result) OK() bool { return r.Kind == Succeeded }

// Runner invokes the worker.
type Runner interface {
	// Name is the command name used in diagnostics.
	Name() string
	Run(ctx context.Context, req Request) Result
}
