// Package worker supervises one attempt execution: it provisions an
// ephemeral worker through the selected runtime, applies the effective
// policy, enforces the wall-clock timeout, and guarantees teardown.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"runbox/internal/logstream"
	"runbox/internal/runner"
	"runbox/internal/runner/runtime"
	"runbox/internal/store"
)

// timeLimitSummary is the error_summary recorded for timed-out attempts.
const timeLimitSummary = "time limit exceeded"

// AttemptResult is the terminal outcome of one supervised attempt.
type AttemptResult struct {
	Status       store.Status // succeeded or failed, nothing else
	ExitCode     *int         // nil when the worker never exited on its own
	ErrorSummary *string      // set iff failed
	StartedAt    time.Time
	FinishedAt   time.Time
}

// Supervisor runs attempts on whichever runtimes the host provides.
type Supervisor struct {
	runtimes  map[runner.Runner]runtime.Runtime
	streamer  *logstream.Streamer
	killGrace time.Duration
	log       *slog.Logger
}

// New creates a supervisor over the given runtime backends.
func New(runtimes map[runner.Runner]runtime.Runtime, streamer *logstream.Streamer, killGrace time.Duration, log *slog.Logger) *Supervisor {
	if killGrace <= 0 {
		killGrace = 10 * time.Second
	}
	return &Supervisor{
		runtimes:  runtimes,
		streamer:  streamer,
		killGrace: killGrace,
		log:       log,
	}
}

// Run executes one attempt to a terminal result. The execution context
// is fresh per attempt and never reused; workDir is the single writable
// area handed to the worker. Run never panics the attempt into limbo:
// every path tears the worker down and returns succeeded or failed.
func (s *Supervisor) Run(ctx context.Context, attemptID, command string, selected runner.Runner, policy store.Policy, workDir string) AttemptResult {
	tracer := otel.Tracer("runbox-worker")
	ctx, span := tracer.Start(ctx, "run_attempt",
		trace.WithAttributes(
			attribute.String("attempt.id", attemptID),
			attribute.String("runner", string(selected)),
		),
	)
	defer span.End()

	startedAt := store.UTCNow()

	rt, ok := s.runtimes[selected]
	if !ok {
		return s.fail(span, startedAt, fmt.Sprintf("runner %s is not available on this host", selected))
	}

	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return s.fail(span, startedAt, fmt.Sprintf("failed to prepare work area: %v", err))
	}

	s.streamer.Open(attemptID)
	stdout := s.streamer.Writer(attemptID, "info")
	stderr := s.streamer.Writer(attemptID, "error")
	defer stdout.Close()
	defer stderr.Close()

	opts := runtime.StartOptions{
		AttemptID:        attemptID,
		Command:          command,
		WorkDir:          workDir,
		CPULimitMillis:   policy.Limits.CPULimitMillis,
		RAMLimitMB:       policy.Limits.RAMLimitMB,
		PIDLimit:         policy.Limits.PIDLimit,
		TimeLimitSeconds: policy.Limits.TimeLimitSeconds,
		NetworkEnabled:   len(policy.AllowlistDomains) > 0,
		Stdout:           stdout,
		Stderr:           stderr,
	}

	timeout := 30 * time.Second
	if policy.Limits.TimeLimitSeconds > 0 {
		timeout = time.Duration(policy.Limits.TimeLimitSeconds) * time.Second
	}

	// The deadline context governs only Wait; teardown uses fresh
	// contexts so a timed-out attempt still gets cleaned up.
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	handle, err := rt.Start(ctx, opts)
	if err != nil {
		span.RecordError(err)
		return s.fail(span, startedAt, fmt.Sprintf("failed to start worker: %v", err))
	}
	defer func() {
		closeCtx, closeCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer closeCancel()
		if err := handle.Close(closeCtx); err != nil {
			s.log.Error("worker teardown failed", "attempt_id", attemptID, "error", err)
		}
	}()

	result, err := handle.Wait(execCtx)
	if err != nil {
		span.RecordError(err)
		if errors.Is(execCtx.Err(), context.DeadlineExceeded) {
			s.stopOnTimeout(attemptID, handle, timeout)
			return s.fail(span, startedAt, timeLimitSummary)
		}
		return s.fail(span, startedAt, fmt.Sprintf("worker wait failed: %v", err))
	}

	span.SetAttributes(attribute.Int("exit_code", result.ExitCode))
	finishedAt := store.UTCNow()

	if result.ExitCode == 0 {
		exitCode := 0
		return AttemptResult{
			Status:     store.StatusSucceeded,
			ExitCode:   &exitCode,
			StartedAt:  startedAt,
			FinishedAt: finishedAt,
		}
	}

	exitCode := result.ExitCode
	summary := fmt.Sprintf("command exited with status %d", exitCode)
	return AttemptResult{
		Status:       store.StatusFailed,
		ExitCode:     &exitCode,
		ErrorSummary: &summary,
		StartedAt:    startedAt,
		FinishedAt:   finishedAt,
	}
}

// stopOnTimeout asks the worker to stop, waits out the grace window,
// then force-kills whatever is left.
func (s *Supervisor) stopOnTimeout(attemptID string, handle runtime.Handle, timeout time.Duration) {
	s.log.Warn("attempt hit its time limit", "attempt_id", attemptID, "timeout", timeout)

	stopCtx, stopCancel := context.WithTimeout(context.Background(), s.killGrace)
	defer stopCancel()

	if err := handle.Stop(stopCtx); err != nil {
		s.log.Error("graceful stop failed", "attempt_id", attemptID, "error", err)
	}
	if _, err := handle.Wait(stopCtx); err != nil {
		killCtx, killCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer killCancel()
		if err := handle.Kill(killCtx); err != nil {
			s.log.Error("force kill failed", "attempt_id", attemptID, "error", err)
		}
	}
}

func (s *Supervisor) fail(span trace.Span, startedAt time.Time, summary string) AttemptResult {
	span.SetAttributes(attribute.String("error_summary", summary))
	return AttemptResult{
		Status:       store.StatusFailed,
		ErrorSummary: &summary,
		StartedAt:    startedAt,
		FinishedAt:   store.UTCNow(),
	}
}
