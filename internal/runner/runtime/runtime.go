// Package runtime provides the Runtime interface for attempt execution
// backends: raw shell processes, docker containers, and kernel-isolated
// pods.
package runtime

import (
	"context"
	"io"
)

// Runtime executes one attempt in a disposable worker.
// Implementations must never reuse execution state across attempts.
type Runtime interface {
	// Start begins execution and returns a handle. Output is written to
	// opts.Stdout/opts.Stderr as the worker produces it.
	Start(ctx context.Context, opts StartOptions) (Handle, error)
}

// StartOptions contains the parameters for starting an attempt.
type StartOptions struct {
	// AttemptID names the worker for external systems (container name,
	// pod name). Required.
	AttemptID string

	// Command is the shell command line, run under /bin/sh -c.
	Command string

	// WorkDir is the single writable area the worker may use.
	// It must exist and be empty before Start.
	WorkDir string

	// Resource ceilings. Zero means unlimited.
	CPULimitMillis int
	RAMLimitMB     int
	PIDLimit       int

	// TimeLimitSeconds is advisory here; the supervisor enforces the
	// wall clock. Backends with a native deadline (pods) also set it
	// as a backstop.
	TimeLimitSeconds int

	// NetworkEnabled controls whether the worker gets any network at
	// all. Backends that can cut networking (containers) must do so
	// when false.
	NetworkEnabled bool

	// Stdout and Stderr receive the worker's output line stream.
	Stdout io.Writer
	Stderr io.Writer
}

// ExitResult is the outcome of a completed worker.
type ExitResult struct {
	ExitCode int
}

// Handle represents one running worker.
type Handle interface {
	// Wait blocks until the worker exits and returns its exit code.
	Wait(ctx context.Context) (ExitResult, error)

	// Stop requests graceful termination (SIGTERM or equivalent).
	Stop(ctx context.Context) error

	// Kill terminates the worker immediately.
	Kill(ctx context.Context) error

	// Close tears down every resource the worker held (process group,
	// container, pod). Idempotent; must succeed even after Kill.
	Close(ctx context.Context) error
}
