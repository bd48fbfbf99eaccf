package store

import (
	"context"
	"time"

	"jobpilot-workers/internal/models"
)

const dedupColumns = `id, fingerprint, link, raw_content, job_application_id, created_at`

func scanDedup(row scanner) (*models.JobDeduplication, error) {
	var d models.JobDeduplication
	if err := row.Scan(&d.ID, &d.Fingerprint, &d.Link, &d.RawContent, &d.JobApplicationID, &d.CreatedAt); err != nil {
		return nil, err
	}
	return &d, nil
}

// FindDedupByLink returns ErrNotFound when no posting with this link was accepted.
func (s *Store) FindDedupByLink(ctx context.Context, link string) (*models.JobDeduplication, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+dedupColumns+` FROM job_deduplications WHERE link = $1 LIMIT 1`, link)
	d, err := scanDedup(row)
	if err != nil {
		return nil, dbErr("find dedup by link", err)
	}
	return d, nil
}

// FindDedupByRawContent matches on exact body equality.
func (s *Store) FindDedupByRawContent(ctx context.Context, content string) (*models.JobDeduplication, error) {
	row := s.q.QueryRowContext(ctx,
		`SELECT `+dedupColumns+` FROM job_deduplications WHERE md5(raw_content) = md5($1) AND raw_content = $1 LIMIT 1`,
		content,
	)
	d, err := scanDedup(row)
	if err != nil {
		return nil, dbErr("find dedup by raw content", err)
	}
	return d, nil
}

func (s *Store) CreateDedup(ctx context.Context, d *models.JobDeduplication) error {
	d.CreatedAt = time.Now().UTC()
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO job_deduplications (id, fingerprint, link, raw_content, job_application_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		d.ID, d.Fingerprint, d.Link, d.RawContent, d.JobApplicationID, d.CreatedAt,
	)
	if err != nil {
		return dbErr("insert dedup", err)
	}
	return nil
}
