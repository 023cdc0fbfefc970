package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"runbox/internal/fault"
	"runbox/internal/store"
)

// AppendAttempt adds a new queued attempt for a job inside one
// transaction, enforcing at most one non-terminal attempt per job.
func (s *Store) AppendAttempt(ctx context.Context, attempt *store.Attempt) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var jobStatus store.Status
	err = tx.QueryRowContext(ctx, `SELECT status FROM jobs WHERE job_id = ?`, attempt.JobID).Scan(&jobStatus)
	if errors.Is(err, sql.ErrNoRows) {
		return fault.Newf(fault.KindNotFound, "job %s not found", attempt.JobID)
	}
	if err != nil {
		return err
	}

	var active int
	err = tx.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM attempts WHERE job_id = ? AND status IN (?, ?)
	`, attempt.JobID, store.StatusQueued, store.StatusRunning).Scan(&active)
	if err != nil {
		return err
	}
	if active > 0 {
		return fault.Newf(fault.KindValidation, "job %s already has an active attempt", attempt.JobID)
	}

	var seq int
	if err := tx.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(seq), 0) + 1 FROM attempts WHERE job_id = ?
	`, attempt.JobID).Scan(&seq); err != nil {
		return err
	}
	attempt.Seq = seq

	_, err = tx.ExecContext(ctx, `
		INSERT INTO attempts (attempt_id, job_id, seq, status, started_at, finished_at, exit_code, error_summary, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, attempt.ID, attempt.JobID, attempt.Seq, attempt.Status,
		attempt.StartedAt, attempt.FinishedAt, attempt.ExitCode, attempt.ErrorSummary, attempt.CreatedAt)
	if err != nil {
		return err
	}

	if jobStatus.Terminal() {
		if _, err := tx.ExecContext(ctx, `
			UPDATE jobs SET status = ?, completed_at = NULL, error_summary = NULL WHERE job_id = ?
		`, store.StatusQueued, attempt.JobID); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// UpdateAttempt applies a patch to an attempt and derives the job's
// status in the same transaction.
func (s *Store) UpdateAttempt(ctx context.Context, jobID, attemptID string, patch store.AttemptPatch) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var current store.Status
	err = tx.QueryRowContext(ctx, `
		SELECT status FROM attempts WHERE attempt_id = ? AND job_id = ?
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
		SET status = ?,
		    started_at = COALESCE(?, started_at),
		    finished_at = COALESCE(?, finished_at),
		    exit_code = COALESCE(?, exit_code),
		    error_summary = COALESCE(?, error_summary)
		WHERE attempt_id = ?
	`, newStatus, patch.StartedAt, patch.FinishedAt, patch.ExitCode, patch.ErrorSummary, attemptID)
	if err != nil {
		return err
	}

	if patch.Status != "" && patch.Status != current {
		var jobStatus store.Status
		if err := tx.QueryRowContext(ctx, `SELECT status FROM jobs WHERE job_id = ?`, jobID).Scan(&jobStatus); err != nil {
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
					UPDATE jobs SET status = ?, completed_at = ?, error_summary = ? WHERE job_id = ?
				`, newStatus, completedAt, patch.ErrorSummary, jobID); err != nil {
					return err
				}
			} else {
				if _, err := tx.ExecContext(ctx, `
					UPDATE jobs SET status = ? WHERE job_id = ?
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
		WHERE job_id = ?
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
