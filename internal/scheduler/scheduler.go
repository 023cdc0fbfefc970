// Package scheduler owns the job pipeline: admission throttling, job
// creation, policy evaluation, runner selection, and dispatching
// attempts to the worker supervisor under a concurrency bound.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"

	"golang.org/x/time/rate"

	"runbox/internal/artifact"
	"runbox/internal/config"
	"runbox/internal/fault"
	"runbox/internal/policy"
	"runbox/internal/runner"
	"runbox/internal/store"
	"runbox/internal/worker"
)

// maxCommandLength bounds submitted command text.
const maxCommandLength = 8192

// AttemptRunner executes one attempt to a terminal result.
// *worker.Supervisor is the production implementation.
type AttemptRunner interface {
	Run(ctx context.Context, attemptID, command string, selected runner.Runner, policy store.Policy, workDir string) worker.AttemptResult
}

// LogCloser finalizes an attempt's log stream at terminal state.
type LogCloser interface {
	CloseAttempt(ctx context.Context, attemptID string) error
}

// Options wires a scheduler.
type Options struct {
	Store                   store.Store
	Runner                  AttemptRunner
	Collector               *artifact.Collector
	Logs                    LogCloser
	Caps                    config.Caps
	DefaultTimeLimitSeconds int
	RunnerCaps              runner.Capabilities
	MaxConcurrentAttempts   int
	AdmissionRatePerMin     int
	AdmissionBurst          int
	DataDir                 string
	Log                     *slog.Logger
}

// Scheduler accepts jobs and runs their attempts in FCFS order.
type Scheduler struct {
	opts    Options
	limiter *rate.Limiter

	dispatch chan dispatchItem
	wg       sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

type dispatchItem struct {
	jobID    string
	command  string
	policy   store.Policy
	selected runner.Runner
	attempt  string // pre-created attempt id (retry path), empty otherwise
}

// New creates a scheduler. Call Start before Submit.
func New(opts Options) *Scheduler {
	if opts.MaxConcurrentAttempts < 1 {
		opts.MaxConcurrentAttempts = 1
	}
	var limiter *rate.Limiter
	if opts.AdmissionRatePerMin > 0 {
		burst := opts.AdmissionBurst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(float64(opts.AdmissionRatePerMin)/60.0), burst)
	}
	return &Scheduler{
		opts:     opts,
		limiter:  limiter,
		dispatch: make(chan dispatchItem, 1024),
	}
}

// Start launches the dispatch loop. Attempts run until the context is
// cancelled; in-flight attempts are allowed to finish (graceful drain).
func (s *Scheduler) Start(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		sem := make(chan struct{}, s.opts.MaxConcurrentAttempts)
		for {
			select {
			case <-ctx.Done():
				return
			case item, ok := <-s.dispatch:
				if !ok {
					return
				}
				select {
				case sem <- struct{}{}:
				case <-ctx.Done():
					return
				}
				s.wg.Add(1)
				go func() {
					defer s.wg.Done()
					defer func() { <-sem }()
					s.runAttempt(item)
				}()
			}
		}
	}()
}

// Close stops accepting work and waits for in-flight attempts.
func (s *Scheduler) Close() {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.dispatch)
	}
	s.mu.Unlock()
	s.wg.Wait()
}

// Submit runs the admission pipeline for a new job. The job row is
// created first; a policy denial or selector exhaustion marks it
// terminal failed with no attempt, and the fault still reaches the
// caller. Throttling rejects before any job exists.
func (s *Scheduler) Submit(ctx context.Context, command string, requested store.Policy, requestedRunner runner.Runner, isolation runner.Isolation) (*store.Job, error) {
	if s.limiter != nil && !s.limiter.Allow() {
		return nil, fault.New(fault.KindRateLimited, "too many requests")
	}

	if command == "" {
		return nil, fault.New(fault.KindValidation, "command is required").WithDetail("field", "command")
	}
	if len(command) > maxCommandLength {
		return nil, fault.Newf(fault.KindValidation, "command exceeds %d bytes", maxCommandLength).WithDetail("field", "command")
	}

	job := &store.Job{
		ID:        store.NewJobID(),
		Command:   command,
		Status:    store.StatusQueued,
		CreatedAt: store.UTCNow(),
		Policy:    requested,
		Runner:    store.RunnerDecision{Requested: string(requestedRunner)},
	}
	if err := s.opts.Store.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to create job: %w", err)
	}

	effective, err := policy.Evaluate(command, requested, s.opts.Caps, s.opts.DefaultTimeLimitSeconds)
	if err != nil {
		s.failJob(ctx, job, err.Error())
		return job, err
	}

	req := runner.Required(effective, isolation)
	selected, reason, err := runner.Select(requestedRunner, req, s.opts.RunnerCaps)
	if err != nil {
		s.failJob(ctx, job, err.Error())
		return job, err
	}

	decision := store.RunnerDecision{
		Requested:       string(requestedRunner),
		Selected:        string(selected),
		SelectionReason: reason,
	}
	if err := s.opts.Store.RecordAdmission(ctx, job.ID, effective, decision); err != nil {
		return nil, fmt.Errorf("failed to record admission: %w", err)
	}
	job.Policy = effective
	job.Runner = decision

	s.opts.Log.Info("job admitted",
		"job_id", job.ID,
		"runner", selected,
		"selection_reason", reason,
		"policy", policy.Describe(effective),
	)

	if err := s.enqueue(ctx, dispatchItem{
		jobID:    job.ID,
		command:  command,
		policy:   effective,
		selected: selected,
	}); err != nil {
		return nil, err
	}
	return job, nil
}

// Retry appends a fresh attempt to a job whose latest attempt is
// terminal. The job reopens to queued; prior attempts stay untouched.
func (s *Scheduler) Retry(ctx context.Context, jobID string) (*store.Attempt, error) {
	job, err := s.opts.Store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.Runner.Selected == "" {
		return nil, fault.Newf(fault.KindValidation, "job %s was never admitted to a runner", jobID)
	}

	attempt := &store.Attempt{
		ID:        store.NewAttemptID(),
		JobID:     jobID,
		Status:    store.StatusQueued,
		CreatedAt: store.UTCNow(),
	}
	if err := s.opts.Store.AppendAttempt(ctx, attempt); err != nil {
		return nil, err
	}

	if err := s.enqueue(ctx, dispatchItem{
		jobID:    jobID,
		command:  job.Command,
		policy:   job.Policy,
		selected: runner.Runner(job.Runner.Selected),
		attempt:  attempt.ID,
	}); err != nil {
		return nil, err
	}
	return attempt, nil
}

func (s *Scheduler) enqueue(ctx context.Context, item dispatchItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fault.New(fault.KindInternal, "scheduler is shutting down")
	}
	select {
	case s.dispatch <- item:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) failJob(ctx context.Context, job *store.Job, reason string) {
	s.opts.Log.Warn("job rejected at admission", "job_id", job.ID, "reason", reason)
	if err := s.opts.Store.MarkJobFailed(ctx, job.ID, reason); err != nil {
		s.opts.Log.Error("failed to mark job failed", "job_id", job.ID, "error", err)
		return
	}
	job.Status = store.StatusFailed
	job.ErrorSummary = &reason
}

// runAttempt drives one attempt to a terminal record: append (unless
// pre-created by Retry), mark running, supervise, record the result,
// collect artifacts, flush logs.
func (s *Scheduler) runAttempt(item dispatchItem) {
	ctx := context.Background()
	log := s.opts.Log.With("job_id", item.jobID)

	attemptID := item.attempt
	if attemptID == "" {
		attempt := &store.Attempt{
			ID:        store.NewAttemptID(),
			JobID:     item.jobID,
			Status:    store.StatusQueued,
			CreatedAt: store.UTCNow(),
		}
		if err := s.opts.Store.AppendAttempt(ctx, attempt); err != nil {
			log.Error("failed to append attempt", "error", err)
			return
		}
		attemptID = attempt.ID
	}
	log = log.With("attempt_id", attemptID)

	started := store.UTCNow()
	if err := s.opts.Store.UpdateAttempt(ctx, item.jobID, attemptID, store.AttemptPatch{
		Status:    store.StatusRunning,
		StartedAt: &started,
	}); err != nil {
		log.Error("failed to mark attempt running", "error", err)
		return
	}

	workDir := filepath.Join(s.opts.DataDir, item.jobID, attemptID)
	result := s.opts.Runner.Run(ctx, attemptID, item.command, item.selected, item.policy, workDir)

	patch := store.AttemptPatch{
		Status:       result.Status,
		FinishedAt:   &result.FinishedAt,
		ExitCode:     result.ExitCode,
		ErrorSummary: result.ErrorSummary,
	}
	if err := s.opts.Store.UpdateAttempt(ctx, item.jobID, attemptID, patch); err != nil {
		log.Error("failed to record attempt result", "error", err)
	}

	if s.opts.Collector != nil {
		artifacts, err := s.opts.Collector.Collect(ctx, item.jobID, workDir)
		if err != nil {
			log.Error("artifact scan failed", "error", err)
		} else if len(artifacts) > 0 {
			// Manifest entries are immutable; a retry producing a name
			// that already exists keeps the first record.
			if fresh, err := s.newArtifacts(ctx, item.jobID, artifacts); err != nil {
				log.Error("failed to read artifact manifest", "error", err)
			} else if err := s.opts.Store.AppendArtifacts(ctx, item.jobID, fresh); err != nil {
				log.Error("failed to record artifact manifest", "error", err)
			}
		}
	}

	if s.opts.Logs != nil {
		if err := s.opts.Logs.CloseAttempt(ctx, attemptID); err != nil {
			log.Error("failed to flush attempt logs", "error", err)
		}
	}

	log.Info("attempt finished", "status", result.Status)
}

func (s *Scheduler) newArtifacts(ctx context.Context, jobID string, collected []store.Artifact) ([]store.Artifact, error) {
	job, err := s.opts.Store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	existing := make(map[string]bool, len(job.Artifacts))
	for _, a := range job.Artifacts {
		existing[a.Name] = true
	}
	fresh := collected[:0]
	for _, a := range collected {
		if !existing[a.Name] {
			fresh = append(fresh, a)
		}
	}
	return fresh, nil
}
