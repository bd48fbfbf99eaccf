package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"jobpilot-workers/internal/models"
)

const scoringColumns = `id, job_application_id, job_extraction_id, score, payload, created_at`

func scanScoring(row scanner) (*models.JobScoring, error) {
	var (
		sc      models.JobScoring
		payload []byte
	)
	if err := row.Scan(&sc.ID, &sc.JobApplicationID, &sc.JobExtractionID, &sc.Score, &payload, &sc.CreatedAt); err != nil {
		return nil, err
	}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &sc.Payload); err != nil {
			return nil, fmt.Errorf("unmarshal scoring payload: %w", err)
		}
	}
	return &sc, nil
}

// CreateScoring inserts the single scoring of an extraction version.
func (s *Store) CreateScoring(ctx context.Context, sc *models.JobScoring) error {
	payload, err := marshalJSON(sc.Payload)
	if err != nil {
		return err
	}
	sc.CreatedAt = time.Now().UTC()
	_, err = s.q.ExecContext(ctx, `
		INSERT INTO job_scorings (id, job_application_id, job_extraction_id, score, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		sc.ID, sc.JobApplicationID, sc.JobExtractionID, sc.Score, payload, sc.CreatedAt,
	)
	if err != nil {
		return dbErr("insert scoring", err)
	}
	return nil
}

// LatestScoring returns the most recent scoring for an application.
func (s *Store) LatestScoring(ctx context.Context, applicationID string) (*models.JobScoring, error) {
	row := s.q.QueryRowContext(ctx, `
		SELECT `+scoringColumns+`
		FROM job_scorings
		WHERE job_application_id = $1
		ORDER BY created_at DESC
		LIMIT 1`, applicationID)
	sc, err := scanScoring(row)
	if err != nil {
		return nil, dbErr("latest scoring", err)
	}
	return sc, nil
}

// RecordScoring inserts the scoring and writes the score onto the application
// in one transaction.
func (s *Store) RecordScoring(ctx context.Context, sc *models.JobScoring, rationale string, status models.Status) error {
	return s.InTx(ctx, func(tx *Store) error {
		if err := tx.CreateScoring(ctx, sc); err != nil {
			return err
		}
		return tx.SaveScore(ctx, sc.JobApplicationID, sc.Score, rationale, status)
	})
}
