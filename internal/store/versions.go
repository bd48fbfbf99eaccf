package store

import (
	"context"
	"database/sql"
	"time"

	"jobpilot-workers/internal/models"
)

const versionColumns = `v.id, v.job_application_id, v.version_number, v.job_scoring_id, v.cover_letter,
	v.email_subject, v.email_body, v.resume_data, v.resume_path, v.email_sent, v.completed,
	v.sent_at, v.created_at, v.updated_at`

func scanVersion(row scanner) (*models.JobApplicationVersion, error) {
	var (
		v         models.JobApplicationVersion
		scoringID sql.NullString
		resume    []byte
		sentAt    sql.NullTime
	)
	err := row.Scan(
		&v.ID, &v.JobApplicationID, &v.VersionNumber, &scoringID, &v.CoverLetter,
		&v.EmailSubject, &v.EmailBody, &resume, &v.ResumePath, &v.EmailSent, &v.Completed,
		&sentAt, &v.CreatedAt, &v.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	v.JobScoringID = scoringID.String
	if sentAt.Valid {
		t := sentAt.Time
		v.SentAt = &t
	}
	if v.ResumeData, err = unmarshalMap(resume); err != nil {
		return nil, err
	}
	return &v, nil
}

func (s *Store) queryVersions(ctx context.Context, op, query string, args ...interface{}) ([]*models.JobApplicationVersion, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, dbErr(op, err)
	}
	defer rows.Close()

	var out []*models.JobApplicationVersion
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, dbErr(op, err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, dbErr(op, err)
	}
	return out, nil
}

// CreateVersion inserts the next version number for the application.
func (s *Store) CreateVersion(ctx context.Context, v *models.JobApplicationVersion) error {
	now := time.Now().UTC()
	v.CreatedAt, v.UpdatedAt = now, now
	row := s.q.QueryRowContext(ctx, `
		INSERT INTO job_application_versions (id, job_application_id, version_number, job_scoring_id, created_at, updated_at)
		VALUES ($1, $2,
			(SELECT COALESCE(MAX(version_number), 0) + 1 FROM job_application_versions WHERE job_application_id = $2),
			$3, $4, $4)
		RETURNING version_number`,
		v.ID, v.JobApplicationID, nullString(v.JobScoringID), now,
	)
	if err := row.Scan(&v.VersionNumber); err != nil {
		return dbErr("insert version", err)
	}
	return nil
}

// SaveVersion persists the generated fields. completed is recomputed first so
// the stored flag always matches the fields.
func (s *Store) SaveVersion(ctx context.Context, v *models.JobApplicationVersion) error {
	v.RefreshCompleted()
	resume, err := marshalJSON(v.ResumeData)
	if err != nil {
		return err
	}
	return s.execOne(ctx, "save version", `
		UPDATE job_application_versions
		SET cover_letter = $2, email_subject = $3, email_body = $4, resume_data = $5,
			resume_path = $6, completed = $7, email_sent = $8, updated_at = NOW()
		WHERE id = $1`,
		v.ID, v.CoverLetter, v.EmailSubject, v.EmailBody, resume, v.ResumePath, v.Completed, v.EmailSent,
	)
}

// MarkVersionSent flags a completed version as emailed.
func (s *Store) MarkVersionSent(ctx context.Context, id string) error {
	return s.execOne(ctx, "mark version sent", `
		UPDATE job_application_versions
		SET email_sent = TRUE, completed = TRUE, sent_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND completed`, id)
}

func (s *Store) GetVersion(ctx context.Context, id string) (*models.JobApplicationVersion, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+versionColumns+` FROM job_application_versions v WHERE v.id = $1`, id)
	v, err := scanVersion(row)
	if err != nil {
		return nil, dbErr("get version", err)
	}
	return v, nil
}

// LatestVersion returns ErrNotFound when nothing was generated yet.
func (s *Store) LatestVersion(ctx context.Context, applicationID string) (*models.JobApplicationVersion, error) {
	row := s.q.QueryRowContext(ctx, `
		SELECT `+versionColumns+`
		FROM job_application_versions v
		WHERE v.job_application_id = $1
		ORDER BY v.version_number DESC
		LIMIT 1`, applicationID)
	v, err := scanVersion(row)
	if err != nil {
		return nil, dbErr("latest version", err)
	}
	return v, nil
}

// ListGenerationCandidates returns ids of applications at or above the
// threshold that lack a completed version for their latest scoring.
func (s *Store) ListGenerationCandidates(ctx context.Context, applicationID string, threshold, limit int) ([]string, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT a.id
		FROM job_applications a
		WHERE a.status IN ('scored', 'generated', 'pdf_ready')
			AND a.match_score >= $1
			AND ($2 = '' OR a.id::text = $2)
			AND NOT EXISTS (
				SELECT 1 FROM job_application_versions v
				WHERE v.job_application_id = a.id
					AND v.completed
					AND v.job_scoring_id = (
						SELECT sc.id FROM job_scorings sc
						WHERE sc.job_application_id = a.id
						ORDER BY sc.created_at DESC LIMIT 1))
		ORDER BY a.priority DESC, a.created_at
		LIMIT $3`,
		threshold, applicationID, limit,
	)
	if err != nil {
		return nil, dbErr("list generation candidates", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, dbErr("list generation candidates", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, dbErr("list generation candidates", err)
	}
	return ids, nil
}

// ListUnsentVersions returns the latest completed, not yet emailed version of
// every application still in the automatic pipeline. Finished rows, including
// those the candidate handled by hand, are skipped.
func (s *Store) ListUnsentVersions(ctx context.Context, applicationID string, limit int) ([]*models.JobApplicationVersion, error) {
	return s.queryVersions(ctx, "list unsent versions", `
		SELECT `+versionColumns+`
		FROM job_application_versions v
		JOIN job_applications a ON a.id = v.job_application_id
		WHERE v.completed AND NOT v.email_sent
			AND a.status <> ALL($1)
			AND ($2 = '' OR a.id::text = $2)
			AND v.version_number = (
				SELECT MAX(x.version_number) FROM job_application_versions x
				WHERE x.job_application_id = a.id)
		ORDER BY a.priority DESC, v.created_at
		LIMIT $3`,
		terminalArray(), applicationID, limit,
	)
}
