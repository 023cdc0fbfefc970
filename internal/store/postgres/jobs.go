package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"runbox/internal/fault"
	"runbox/internal/store"
)

// CreateJob inserts a new job row. The policy is stored as JSON.
func (s *Store) CreateJob(ctx context.Context, job *store.Job) error {
	policyJSON, err := json.Marshal(job.Policy)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO jobs (job_id, command, status, created_at, completed_at, error_summary, policy, runner_requested, runner_selected, selection_reason)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err = s.db.ExecContext(ctx, query,
		job.ID,
		job.Command,
		job.Status,
		job.CreatedAt,
		job.CompletedAt,
		job.ErrorSummary,
		policyJSON,
		nullIfEmpty(job.Runner.Requested),
		nullIfEmpty(job.Runner.Selected),
		nullIfEmpty(job.Runner.SelectionReason),
	)
	return err
}

// GetJob returns a job with its attempts and artifact manifest.
func (s *Store) GetJob(ctx context.Context, jobID string) (*store.Job, error) {
	query := `
		SELECT job_id, command, status, created_at, completed_at, error_summary, policy, runner_requested, runner_selected, selection_reason
		FROM jobs
		WHERE job_id = $1
	`

	var job store.Job
	var policyJSON []byte
	var requested, selected, reason sql.NullString

	err := s.db.QueryRowContext(ctx, query, jobID).Scan(
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

	if err := json.Unmarshal(policyJSON, &job.Policy); err != nil {
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

// ListJobs returns one page of summaries with keyset pagination over
// (created_at, job_id) descending.
func (s *Store) ListJobs(ctx context.Context, f store.ListFilter) ([]store.JobSummary, string, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}

	var clauses []string
	var args []interface{}
	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if f.Status != "" {
		clauses = append(clauses, "status = "+arg(f.Status))
	}
	if f.Query != "" {
		clauses = append(clauses, "command LIKE "+arg("%"+f.Query+"%"))
	}
	if f.Cursor != "" {
		createdAt, jobID, err := store.DecodeCursor(f.Cursor)
		if err != nil {
			return nil, "", err
		}
		ts := arg(createdAt)
		clauses = append(clauses, fmt.Sprintf("(created_at < %s OR (created_at = %s AND job_id < %s))", ts, ts, arg(jobID)))
	}

	whereSQL := ""
	if len(clauses) > 0 {
		whereSQL = "WHERE " + clauses[0]
		for _, c := range clauses[1:] {
			whereSQL += " AND " + c
		}
	}

	// Fetch one extra row to learn whether another page exists.
	query := fmt.Sprintf(`
		SELECT job_id, command, status, created_at, runner_selected
		FROM jobs
		%s
		ORDER BY created_at DESC, job_id DESC
		LIMIT %s
	`, whereSQL, arg(limit+1))

	rows, err := s.db.QueryContext(ctx, query, args...)
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
		SET policy = $1, runner_requested = $2, runner_selected = $3, selection_reason = $4
		WHERE job_id = $5
	`, policyJSON, nullIfEmpty(runner.Requested), nullIfEmpty(runner.Selected), nullIfEmpty(runner.SelectionReason), jobID)
	if err != nil {
		return err
	}
	return requireRow(res, jobID)
}

// MarkJobFailed moves a job straight to failed with a reason and no
// attempt. Only legal from a non-terminal state.
func (s *Store) MarkJobFailed(ctx context.Context, jobID, reason string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs
		SET status = $1, error_summary = $2, completed_at = $3
		WHERE job_id = $4 AND status IN ($5, $6)
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
		SELECT COUNT(*) FROM jobs WHERE status IN ($1, $2)
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
