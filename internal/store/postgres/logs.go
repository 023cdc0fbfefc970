package postgres

import (
	"context"
	"strings"

	"runbox/internal/store"
)

// AppendLogLines persists an attempt's log lines in one transaction.
// Null bytes are stripped; Postgres rejects \x00 in text columns.
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
		msg := line.Message
		if strings.Contains(msg, "\x00") {
			msg = strings.ReplaceAll(msg, "\x00", "")
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO attempt_logs (attempt_id, seq, ts, level, message)
			VALUES ($1, $2, $3, $4, $5)
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
		WHERE attempt_id = $1 AND seq > $2
		ORDER BY seq ASC
		LIMIT $3
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
		lines = append(lines, line)
	}
	return lines, rows.Err()
}
