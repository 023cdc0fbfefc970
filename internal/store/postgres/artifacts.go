package postgres

import (
	"context"

	"runbox/internal/store"
)

// AppendArtifacts records a manifest batch in one transaction.
// Either every entry lands or none does.
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
			VALUES ($1, $2, $3, $4, $5, $6, $7)
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
		WHERE job_id = $1
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
		artifacts = append(artifacts, a)
	}
	return artifacts, rows.Err()
}
