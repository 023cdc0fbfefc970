package sqlite

import (
	"context"
	"strings"

	"runbox/internal/store"
)

// AppendArtifacts records a manifest batch in one transaction.
func (s *Store) AppendArtifacts(ctx context.Context, jobID string, artifacts []store.Artifact) error {
	if len(artifacts) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, a := range artifacts {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO artifacts (job_id, name, path, sha256, size_bytes, content_type, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, jobID, a.Name, a.Path, a.SHA256, a.SizeBytes, a.ContentType, a.CreatedAt); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (s *Store) listArtifacts(ctx context.Context, jobID string) ([]store.Artifact, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT job_id, name, path, sha256, size_bytes, content_type, created_at
		FROM artifacts
		WHERE job_id = ?
		ORDER BY name ASC
	`, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var artifacts []store.Artifact
	for rows.Next() {
		var a store.Artifact
		if err := rows.Scan(&a.JobID, &a.Name, &a.Path, &a.SHA256, &a.SizeBytes, &a.ContentType, &a.CreatedAt); err != nil {
			return nil, err
		}
		a.CreatedAt = a.CreatedAt.UTC()
		artifacts = append(artifacts, a)
	}
	return artifacts, rows.Err()
}

// AppendLogLines persists an attempt's log lines in one transaction.
func (s *Store) AppendLogLines(ctx context.Context, attemptID string, lines []store.LogLine) error {
	if len(lines) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, line := range lines {
		msg := strings.ReplaceAll(line.Message, "\x00", "")
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO attempt_logs (attempt_id, seq, ts, level, message)
			VALUES (?, ?, ?, ?, ?)
		`, attemptID, line.Seq, line.TS, line.Level, msg); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// ListLogLines returns persisted lines with seq > afterSeq in ascending order.
func (s *Store) ListLogLines(ctx context.Context, attemptID string, afterSeq int64, limit int) ([]store.LogLine, error) {
	if limit <= 0 {
		limit = 1000
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT attempt_id, seq, ts, level, message
		FROM attempt_logs
		WHERE attempt_id = ? AND seq > ?
		ORDER BY seq ASC
		LIMIT ?
	`, attemptID, afterSeq, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var lines []store.LogLine
	for rows.Next() {
		var line store.LogLine
		if err := rows.Scan(&line.AttemptID, &line.Seq, &line.TS, &line.Level, &line.Message); err != nil {
			return nil, err
		}
		line.TS = line.TS.UTC()
		lines = append(lines, line)
	}
	return lines, rows.Err()
}
