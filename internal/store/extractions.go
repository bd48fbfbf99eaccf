package store

import (
	"context"
	"time"

	"jobpilot-workers/internal/models"
)

const extractionColumns = `e.id, e.job_application_id, e.version_number, e.payload, e.extra_information, e.created_at, e.updated_at`

// pendingExtraction mirrors JobExtraction.IsPending.
const pendingExtraction = `(e.payload IS NULL
	OR COALESCE(e.payload->>'language', '') = ''
	OR COALESCE(e.payload->>'image', '') <> '')`

func scanExtraction(row scanner) (*models.JobExtraction, error) {
	var (
		e       models.JobExtraction
		payload []byte
	)
	if err := row.Scan(&e.ID, &e.JobApplicationID, &e.VersionNumber, &payload, &e.ExtraInformation, &e.CreatedAt, &e.UpdatedAt); err != nil {
		return nil, err
	}
	m, err := unmarshalMap(payload)
	if err != nil {
		return nil, err
	}
	e.Payload = m
	return &e, nil
}

func (s *Store) queryExtractions(ctx context.Context, op, query string, args ...interface{}) ([]*models.JobExtraction, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, dbErr(op, err)
	}
	defer rows.Close()

	var out []*models.JobExtraction
	for rows.Next() {
		e, err := scanExtraction(rows)
		if err != nil {
			return nil, dbErr(op, err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, dbErr(op, err)
	}
	return out, nil
}

// CreateExtraction inserts version number e.VersionNumber, or the next free
// number when it is zero.
func (s *Store) CreateExtraction(ctx context.Context, e *models.JobExtraction) error {
	payload, err := marshalJSON(e.Payload)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	e.CreatedAt, e.UpdatedAt = now, now

	row := s.q.QueryRowContext(ctx, `
		INSERT INTO job_extractions (id, job_application_id, version_number, payload, extra_information, created_at, updated_at)
		VALUES ($1, $2,
			CASE WHEN $3 > 0 THEN $3 ELSE (SELECT COALESCE(MAX(version_number), 0) + 1 FROM job_extractions WHERE job_application_id = $2) END,
			$4, $5, $6, $6)
		RETURNING version_number`,
		e.ID, e.JobApplicationID, e.VersionNumber, payload, e.ExtraInformation, now,
	)
	if err := row.Scan(&e.VersionNumber); err != nil {
		return dbErr("insert extraction", err)
	}
	return nil
}

// Reprocess seeds extraction e and puts its application back to pending in
// one transaction.
func (s *Store) Reprocess(ctx context.Context, e *models.JobExtraction) error {
	return s.InTx(ctx, func(tx *Store) error {
		if err := tx.CreateExtraction(ctx, e); err != nil {
			return err
		}
		return tx.ResetApplication(ctx, e.JobApplicationID)
	})
}

// ListPendingExtractions returns pending versions whose application is still
// in the automatic pipeline. An empty applicationID sweeps all applications.
func (s *Store) ListPendingExtractions(ctx context.Context, applicationID string, limit int) ([]*models.JobExtraction, error) {
	return s.queryExtractions(ctx, "list pending extractions", `
		SELECT `+extractionColumns+`
		FROM job_extractions e
		JOIN job_applications a ON a.id = e.job_application_id
		WHERE `+pendingExtraction+`
			AND a.status <> ALL($1)
			AND ($2 = '' OR a.id::text = $2)
		ORDER BY a.priority DESC, e.created_at
		LIMIT $3`,
		terminalArray(), applicationID, limit,
	)
}

// ListUnscoredExtractions returns ready versions that have no scoring yet.
func (s *Store) ListUnscoredExtractions(ctx context.Context, applicationID string, limit int) ([]*models.JobExtraction, error) {
	return s.queryExtractions(ctx, "list unscored extractions", `
		SELECT `+extractionColumns+`
		FROM job_extractions e
		JOIN job_applications a ON a.id = e.job_application_id
		WHERE NOT `+pendingExtraction+`
			AND NOT EXISTS (SELECT 1 FROM job_scorings sc WHERE sc.job_extraction_id = e.id)
			AND a.status <> ALL($1)
			AND ($2 = '' OR a.id::text = $2)
		ORDER BY a.priority DESC, e.created_at
		LIMIT $3`,
		terminalArray(), applicationID, limit,
	)
}

// LatestExtraction returns the highest version for an application.
func (s *Store) LatestExtraction(ctx context.Context, applicationID string) (*models.JobExtraction, error) {
	row := s.q.QueryRowContext(ctx, `
		SELECT `+extractionColumns+`
		FROM job_extractions e
		WHERE e.job_application_id = $1
		ORDER BY e.version_number DESC
		LIMIT 1`, applicationID)
	e, err := scanExtraction(row)
	if err != nil {
		return nil, dbErr("latest extraction", err)
	}
	return e, nil
}

func (s *Store) GetExtraction(ctx context.Context, id string) (*models.JobExtraction, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+extractionColumns+` FROM job_extractions e WHERE e.id = $1`, id)
	e, err := scanExtraction(row)
	if err != nil {
		return nil, dbErr("get extraction", err)
	}
	return e, nil
}

// UpdateExtractionPayload replaces the payload of one version in place.
func (s *Store) UpdateExtractionPayload(ctx context.Context, id string, payload map[string]interface{}) error {
	raw, err := marshalJSON(payload)
	if err != nil {
		return err
	}
	return s.execOne(ctx, "update extraction payload",
		`UPDATE job_extractions SET payload = $2, updated_at = NOW() WHERE id = $1`, id, raw)
}

// SaveExtraction stores the enriched payload and the derived application
// fields in one transaction, so a version never turns ready while its
// application is left behind.
func (s *Store) SaveExtraction(ctx context.Context, extractionID string, payload map[string]interface{}, app *models.JobApplication) error {
	return s.InTx(ctx, func(tx *Store) error {
		if err := tx.UpdateExtractionPayload(ctx, extractionID, payload); err != nil {
			return err
		}
		return tx.SaveExtractedFields(ctx, app)
	})
}
