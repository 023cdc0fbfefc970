package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"runbox/internal/fault"
	"runbox/internal/store"
)

// CreateJob inserts a new job row. The policy is stored as JSON text.
func (s *Store) CreateJob(ctx context.Context, job *store.Job) error {
	policyJSON, err := json.Marshal(job.Policy)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO jobs (job_id, command, status, created_at, completed_at, error_summary, policy, runner_requested, runner_selected, selection_reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, job.ID, job.Command, job.Status, job.CreatedAt, job.CompletedAt, job.ErrorSummary,
		string(policyJSON), nullIfEmpty(job.Runner.Requested), nullIfEmpty(job.Runner.Selected), nullIfEmpty(job.Runner.SelectionReason))
	return err
}

// GetJob returns a job with its attempts and artifact manifest.
func (s *Store) GetJob(ctx context.Context, jobID string) (*store.Job, error) {
	var job store.Job
	var policyJSON string
	var requested, selected, reason sql.NullString

	err := s.db.QueryRowContext(ctx, `
		SELECT job_id, command, status, created_at, completed_at, error_summary, policy, runner_requested, runner_selected, selection_reason
		FROM jobs
		WHERE job_id = ?
	`, jobID).Scan(
		&job.ID, &job.Command, &job.Status, &job.CreatedAt,
		&job.CompletedAt, &job.ErrorSummary, &policyJSON,
		&requested, &selected, &reason,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fault.Newf(fault.KindNotFound, "job %s not found", jobID)
	}
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(policyJSON), &job.Policy); err != nil {
		return nil, fmt.Errorf("failed to decode policy for job %s: %w", jobID, err)
	}
	job.Runner = store.RunnerDecision{
		Requested:       requested.String,
		Selected:        selected.String,
		SelectionReason: reason.String,
	}

	if job.Attempts, err = s.listAttempts(ctx, jobID); err != nil {
		return nil, err
	}
	if job.Artifacts, err = s.listArtifacts(ctx, jobID); err != nil {
		return nil, err
	}

	return &job, nil
}

// ListJobs returns one page of summaries with keyset pagination.
func (s *Store) ListJobs(ctx context.Context, f store.ListFilter) ([]store.JobSummary, string, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}

	where := ""
	var args []interface{}
	and := func(clause string, vals ...interface{}) {
		if where == "" {
			where = "WHERE " + clause
		} else {
			where += " AND " + clause
		}
		args = append(args, vals...)
	}

	if f.Status != "" {
		and("status = ?", f.Status)
	}
	if f.Query != "" {
		and("command LIKE ?", "%"+f.Query+"%")
	}
	if f.Cursor != "" {
		createdAt, jobID, err := store.DecodeCursor(f.Cursor)
		if err != nil {
			return nil, "", err
		}
		and("(created_at < ? OR (created_at = ? AND job_id < ?))", createdAt, createdAt, jobID)
	}

	args = append(args, limit+1)
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT job_id, command, status, created_at, runner_selected
		FROM jobs
		%s
		ORDER BY created_at DESC, job_id DESC
		LIMIT ?
	`, where), args...)
	if err != nil {
		return nil, "", err
	}
	defer rows.Close()

	var items []store.JobSummary
	for rows.Next() {
		var item store.JobSummary
		var selected sql.NullString
		if err := rows.Scan(&item.ID, &item.Command, &item.Status, &item.CreatedAt, &selected); err != nil {
			return nil, "", err
		}
		item.CreatedAt = item.CreatedAt.UTC()
		item.RunnerSelected = selected.String
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, "", err
	}

	nextCursor := ""
	if len(items) > limit {
		items = items[:limit]
		last := items[limit-1]
		nextCursor = store.EncodeCursor(last.CreatedAt, last.ID)
	}

	return items, nextCursor, nil
}

// RecordAdmission stores the effective policy and runner decision.
func (s *Store) RecordAdmission(ctx context.Context, jobID string, policy store.Policy, runner store.RunnerDecision) error {
	policyJSON, err := json.Marshal(policy)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs
		SET policy = ?, runner_requested = ?, runner_selected = ?, selection_reason = ?
		WHERE job_id = ?
	`, string(policyJSON), nullIfEmpty(runner.Requested), nullIfEmpty(runner.Selected), nullIfEmpty(runner.SelectionReason), jobID)
	if err != nil {
		return err
	}
	return requireRow(res, jobID)
}

// MarkJobFailed moves a job straight to failed with a reason.
func (s *Store) MarkJobFailed(ctx context.Context, jobID, reason string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs
		SET status = ?, error_summary = ?, completed_at = ?
		WHERE job_id = ? AND status IN (?, ?)
	`, store.StatusFailed, reason, store.UTCNow(), jobID, store.StatusQueued, store.StatusRunning)
	if err != nil {
		return err
	}
	return requireRow(res, jobID)
}

// CountActive returns the number of jobs in a non-terminal state.
func (s *Store) CountActive(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM jobs WHERE status IN (?, ?)
	`, store.StatusQueued, store.StatusRunning).Scan(&count)
	return count, err
}

func nullIfEmpty(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}

func requireRow(res sql.Result, jobID string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fault.Newf(fault.KindNotFound, "job %s not found", jobID)
	}
	return nil
}
