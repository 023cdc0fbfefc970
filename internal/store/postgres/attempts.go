package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"runbox/internal/fault"
	"runbox/internal/store"
)

// AppendAttempt adds a new queued attempt for a job. The insert and the
// single-non-terminal-attempt check run in one transaction so two
// concurrent retries cannot both slip in.
func (s *Store) AppendAttempt(ctx context.Context, attempt *store.Attempt) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var jobStatus store.Status
	err = tx.QueryRowContext(ctx, `SELECT status FROM jobs WHERE job_id = $1 FOR UPDATE`, attempt.JobID).Scan(&jobStatus)
	if errors.Is(err, sql.ErrNoRows) {
		return fault.Newf(fault.KindNotFound, "job %s not found", attempt.JobID)
	}
	if err != nil {
		return err
	}

	var active int
	err = tx.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM attempts WHERE job_id = $1 AND status IN ($2, $3)
	`, attempt.JobID, store.StatusQueued, store.StatusRunning).Scan(&active)
	if err != nil {
		return err
	}
	if active > 0 {
		return fault.Newf(fault.KindValidation, "job %s already has an active attempt", attempt.JobID)
	}

	var seq int
	if err := tx.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(seq), 0) + 1 FROM attempts WHERE job_id = $1
	`, attempt.JobID).Scan(&seq); err != nil {
		return err
	}
	attempt.Seq = seq

	_, err = tx.ExecContext(ctx, `
		INSERT INTO attempts (attempt_id, job_id, seq, status, started_at, finished_at, exit_code, error_summary, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, attempt.ID, attempt.JobID, attempt.Seq, attempt.Status,
		attempt.StartedAt, attempt.FinishedAt, attempt.ExitCode, attempt.ErrorSummary, attempt.CreatedAt)
	if err != nil {
		return err
	}

	// A retried terminal job moves back through queued for its new
	// attempt. This is the one place the job row mirrors the fresh
	// attempt rather than the latest terminal one.
	if jobStatus.Terminal() {
		if _, err := tx.ExecContext(ctx, `
			UPDATE jobs SET status = $1, completed_at = NULL, error_summary = NULL WHERE job_id = $2
		`, store.StatusQueued, attempt.JobID); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// UpdateAttempt applies a patch to an attempt and derives the job's
// status in the same transaction. Transitions must be forward edges;
// terminal attempts are immutable.
func (s *Store) UpdateAttempt(ctx context.Context, jobID, attemptID string, patch store.AttemptPatch) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var current store.Status
	err = tx.QueryRowContext(ctx, `
		SELECT status FROM attempts WHERE attempt_id = $1 AND job_id = $2 FOR UPDATE
	`, attemptID, jobID).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return fault.Newf(fault.KindNotFound, "attempt %s not found for job %s", attemptID, jobID)
	}
	if err != nil {
		return err
	}

	if patch.Status != "" && patch.Status != current && !store.CanTransition(current, patch.Status) {
		return fmt.Errorf("illegal attempt transition %s -> %s for %s", current, patch.Status, attemptID)
	}

	newStatus := current
	if patch.Status != "" {
		newStatus = patch.Status
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE attempts
		SET status = $1,
		    started_at = COALESCE($2, started_at),
		    finished_at = COALESCE($3, finished_at),
		    exit_code = COALESCE($4, exit_code),
		    error_summary = COALESCE($5, error_summary)
		WHERE attempt_id = $6
	`, newStatus, patch.StartedAt, patch.FinishedAt, patch.ExitCode, patch.ErrorSummary, attemptID)
	if err != nil {
		return err
	}

	// Derive the job status from its latest attempt.
	if patch.Status != "" && patch.Status != current {
		var jobStatus store.Status
		if err := tx.QueryRowContext(ctx, `SELECT status FROM jobs WHERE job_id = $1 FOR UPDATE`, jobID).Scan(&jobStatus); err != nil {
			return err
		}
		if jobStatus != newStatus {
			if !store.CanTransition(jobStatus, newStatus) {
				return fmt.Errorf("illegal job transition %s -> %s for %s", jobStatus, newStatus, jobID)
			}
			if newStatus.Terminal() {
				completedAt := patch.FinishedAt
				if completedAt == nil {
					now := store.UTCNow()
					completedAt = &now
				}
				if _, err := tx.ExecContext(ctx, `
					UPDATE jobs SET status = $1, completed_at = $2, error_summary = $3 WHERE job_id = $4
				`, newStatus, completedAt, patch.ErrorSummary, jobID); err != nil {
					return err
				}
			} else {
				if _, err := tx.ExecContext(ctx, `
					UPDATE jobs SET status = $1 WHERE job_id = $2
				`, newStatus, jobID); err != nil {
					return err
				}
			}
		}
	}

	return tx.Commit()
}

func (s *Store) listAttempts(ctx context.Context, jobID string) ([]store.Attempt, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT attempt_id, job_id, seq, status, started_at, finished_at, exit_code, error_summary, created_at
		FROM attempts
		WHERE job_id = $1
		ORDER BY seq ASC
	`, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var attempts []store.Attempt
	for rows.Next() {
		var a store.Attempt
		if err := rows.Scan(&a.ID, &a.JobID, &a.Seq, &a.Status, &a.StartedAt, &a.FinishedAt, &a.ExitCode, &a.ErrorSummary, &a.CreatedAt); err != nil {
			return nil, err
		}
		attempts = append(attempts, a)
	}
	return attempts, rows.Err()
}
