package scheduler

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"runbox/internal/artifact"
	"runbox/internal/config"
	"runbox/internal/fault"
	"runbox/internal/runner"
	"runbox/internal/store"
	"runbox/internal/store/sqlite"
	"runbox/internal/worker"
)

// stubRunner records terminal results without a real runtime.
type stubRunner struct {
	exitCode  int
	writeFile string // file created in the work area before returning
}

func (r *stubRunner) Run(_ context.Context, attemptID, command string, _ runner.Runner, _ store.Policy, workDir string) worker.AttemptResult {
	os.MkdirAll(workDir, 0o755)
	if r.writeFile != "" {
		os.WriteFile(filepath.Join(workDir, r.writeFile), []byte("hello\n"), 0o644)
	}

	started := store.UTCNow()
	exitCode := r.exitCode
	res := worker.AttemptResult{
		ExitCode:   &exitCode,
		StartedAt:  started,
		FinishedAt: store.UTCNow(),
	}
	if exitCode == 0 {
		res.Status = store.StatusSucceeded
	} else {
		res.Status = store.StatusFailed
		summary := "command failed"
		res.ErrorSummary = &summary
	}
	return res
}

func newTestScheduler(t *testing.T, opts Options) (*Scheduler, store.Store) {
	t.Helper()

	st, err := sqlite.New(context.Background(), "sqlite://")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	opts.Store = st
	opts.Log = log
	if opts.Runner == nil {
		opts.Runner = &stubRunner{}
	}
	if opts.Collector == nil {
		opts.Collector = artifact.New(log)
	}
	if opts.Caps == (config.Caps{}) {
		opts.Caps = config.Caps{MaxTimeLimitSeconds: 3600, MaxCPULimitMillis: 2000, MaxRAMLimitMB: 2048, MaxPIDLimit: 256}
	}
	if opts.DefaultTimeLimitSeconds == 0 {
		opts.DefaultTimeLimitSeconds = 30
	}
	if opts.RunnerCaps == (runner.Capabilities{}) {
		opts.RunnerCaps = runner.Capabilities{Shell: true, Docker: true, VM: true}
	}
	if opts.DataDir == "" {
		opts.DataDir = t.TempDir()
	}

	s := New(opts)
	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)
	t.Cleanup(func() {
		s.Close()
		cancel()
	})
	return s, st
}

func waitTerminal(t *testing.T, st store.Store, jobID string) *store.Job {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		job, err := st.GetJob(context.Background(), jobID)
		if err != nil {
			t.Fatal(err)
		}
		if job.Status.Terminal() {
			return job
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("job %s never reached a terminal state", jobID)
	return nil
}

func TestSubmit_RunsToSuccess(t *testing.T) {
	s, st := newTestScheduler(t, Options{
		Runner:                &stubRunner{writeFile: "out.txt"},
		MaxConcurrentAttempts: 2,
	})

	job, err := s.Submit(context.Background(), "echo hello", store.Policy{}, runner.RunnerShell, runner.IsolationNone)
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if job.Runner.Selected != "shell" {
		t.Errorf("got runner %q, want shell", job.Runner.Selected)
	}
	if job.Runner.SelectionReason == "" {
		t.Error("selection must carry a reason")
	}

	got := waitTerminal(t, st, job.ID)
	if got.Status != store.StatusSucceeded {
		t.Errorf("got status %s, want succeeded", got.Status)
	}
	if len(got.Attempts) != 1 {
		t.Fatalf("got %d attempts, want exactly 1", len(got.Attempts))
	}
	a := got.Attempts[0]
	if a.ExitCode == nil || *a.ExitCode != 0 {
		t.Errorf("got exit code %v, want 0", a.ExitCode)
	}
	if a.StartedAt == nil || a.FinishedAt == nil {
		t.Error("attempt must record started_at and finished_at")
	}
	// The manifest lands shortly after the terminal record.
	deadline := time.Now().Add(5 * time.Second)
	for len(got.Artifacts) == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
		got, err = st.GetJob(context.Background(), job.ID)
		if err != nil {
			t.Fatal(err)
		}
	}
	if len(got.Artifacts) != 1 || got.Artifacts[0].Name != "out.txt" || got.Artifacts[0].SizeBytes != 6 {
		t.Errorf("got artifacts %+v, want one 6-byte out.txt", got.Artifacts)
	}
}

func TestSubmit_PolicyDeniedFailsJobWithoutAttempt(t *testing.T) {
	s, st := newTestScheduler(t, Options{})

	job, err := s.Submit(context.Background(),
		"curl https://forbidden.example.net/secret",
		store.Policy{AllowlistDomains: []string{"example.com"}},
		"", runner.IsolationNone)
	if !fault.Is(err, fault.KindPolicyDenied) {
		t.Fatalf("got %v, want policy_denied", err)
	}

	got, err := st.GetJob(context.Background(), job.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != store.StatusFailed {
		t.Errorf("got status %s, want failed", got.Status)
	}
	if got.CompletedAt == nil {
		t.Error("denied job must be terminal")
	}
	if len(got.Attempts) != 0 {
		t.Errorf("denied job must have no attempts, got %d", len(got.Attempts))
	}
}

func TestSubmit_NoRunnerAvailable(t *testing.T) {
	s, st := newTestScheduler(t, Options{
		RunnerCaps: runner.Capabilities{Shell: true},
	})

	// Kernel isolation with only shell available cannot be satisfied.
	job, err := s.Submit(context.Background(), "true", store.Policy{}, "", runner.IsolationKernel)
	if !fault.Is(err, fault.KindNoRunner) {
		t.Fatalf("got %v, want no_runner_available", err)
	}

	got, err := st.GetJob(context.Background(), job.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != store.StatusFailed || len(got.Attempts) != 0 {
		t.Errorf("got status %s with %d attempts, want failed with none", got.Status, len(got.Attempts))
	}
}

func TestSubmit_RateLimited(t *testing.T) {
	s, st := newTestScheduler(t, Options{
		AdmissionRatePerMin: 1,
		AdmissionBurst:      1,
	})

	if _, err := s.Submit(context.Background(), "true", store.Policy{}, "", runner.IsolationNone); err != nil {
		t.Fatalf("first submit should pass: %v", err)
	}

	_, err := s.Submit(context.Background(), "true", store.Policy{}, "", runner.IsolationNone)
	if !fault.Is(err, fault.KindRateLimited) {
		t.Fatalf("got %v, want rate_limited", err)
	}

	// Throttling happens before job creation.
	items, _, err := st.ListJobs(context.Background(), store.ListFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 1 {
		t.Errorf("got %d jobs, want 1 (throttled submit must not create a job)", len(items))
	}
}

func TestSubmit_EmptyCommand(t *testing.T) {
	s, _ := newTestScheduler(t, Options{})
	_, err := s.Submit(context.Background(), "", store.Policy{}, "", runner.IsolationNone)
	if !fault.Is(err, fault.KindValidation) {
		t.Fatalf("got %v, want validation_error", err)
	}
}

func TestRetry_AppendsAttemptAndReruns(t *testing.T) {
	failing := &stubRunner{exitCode: 1}
	s, st := newTestScheduler(t, Options{Runner: failing})

	job, err := s.Submit(context.Background(), "false", store.Policy{}, runner.RunnerShell, runner.IsolationNone)
	if err != nil {
		t.Fatal(err)
	}
	got := waitTerminal(t, st, job.ID)
	if got.Status != store.StatusFailed {
		t.Fatalf("setup: got %s, want failed", got.Status)
	}

	failing.exitCode = 0
	attempt, err := s.Retry(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("Retry failed: %v", err)
	}
	if attempt.Seq != 2 {
		t.Errorf("got seq %d, want 2", attempt.Seq)
	}

	got = waitTerminal(t, st, job.ID)
	if got.Status != store.StatusSucceeded {
		t.Errorf("got status %s, want succeeded after retry", got.Status)
	}
	if len(got.Attempts) != 2 {
		t.Fatalf("got %d attempts, want 2", len(got.Attempts))
	}
	// The failed attempt's record is preserved exactly.
	if got.Attempts[0].Status != store.StatusFailed || got.Attempts[0].ExitCode == nil || *got.Attempts[0].ExitCode != 1 {
		t.Errorf("first attempt mutated: %+v", got.Attempts[0])
	}
}

func TestRetry_UnknownJob(t *testing.T) {
	s, _ := newTestScheduler(t, Options{})
	_, err := s.Retry(context.Background(), "job_missing")
	if !fault.Is(err, fault.KindNotFound) {
		t.Fatalf("got %v, want not_found", err)
	}
}
