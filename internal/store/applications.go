package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"jobpilot-workers/internal/models"

	"github.com/lib/pq"
)

const applicationColumns = `id, status, raw_payload, title, company, description, required_skills,
	location, salary, employment_type, language, match_score, scoring_rationale,
	error_message, error_trace, callback_url, priority, created_at, updated_at`

// statusTimestamps maps a status to the column recording when it was entered.
var statusTimestamps = map[models.Status]string{
	models.StatusProcessing:      "processing_at",
	models.StatusClassified:      "classified_at",
	models.StatusScored:          "scored_at",
	models.StatusRejected:        "rejected_at",
	models.StatusGenerated:       "generated_at",
	models.StatusPDFReady:        "pdf_ready_at",
	models.StatusCompleted:       "completed_at",
	models.StatusFailed:          "failed_at",
	models.StatusManuallyApplied: "manually_applied_at",
}

func stampStatus(status models.Status) string {
	if col, ok := statusTimestamps[status]; ok {
		return ", " + col + " = NOW()"
	}
	return ""
}

func scanApplication(row scanner) (*models.JobApplication, error) {
	var (
		app        models.JobApplication
		status     string
		rawPayload []byte
		skills     []byte
		matchScore sql.NullInt64
	)
	err := row.Scan(
		&app.ID, &status, &rawPayload, &app.Title, &app.Company, &app.Description, &skills,
		&app.Location, &app.Salary, &app.EmploymentType, &app.Language, &matchScore, &app.ScoringRationale,
		&app.ErrorMessage, &app.ErrorTrace, &app.CallbackURL, &app.Priority, &app.CreatedAt, &app.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	app.Status = models.Status(status)
	if matchScore.Valid {
		score := int(matchScore.Int64)
		app.MatchScore = &score
	}
	if app.RawPayload, err = unmarshalMap(rawPayload); err != nil {
		return nil, err
	}
	if len(skills) > 0 {
		if err := json.Unmarshal(skills, &app.RequiredSkills); err != nil {
			return nil, fmt.Errorf("unmarshal required_skills: %w", err)
		}
	}
	return &app, nil
}

// CreateApplication inserts a new pending application.
func (s *Store) CreateApplication(ctx context.Context, app *models.JobApplication) error {
	raw, err := marshalJSON(app.RawPayload)
	if err != nil {
		return err
	}
	if raw == nil {
		raw = []byte("{}")
	}
	now := time.Now().UTC()
	if app.Status == "" {
		app.Status = models.StatusPending
	}
	app.CreatedAt, app.UpdatedAt = now, now

	_, err = s.q.ExecContext(ctx, `
		INSERT INTO job_applications (id, status, raw_payload, description, callback_url, priority, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		app.ID, string(app.Status), raw, app.Description, app.CallbackURL, app.Priority, now, now,
	)
	if err != nil {
		return dbErr("insert application", err)
	}
	return nil
}

func (s *Store) GetApplication(ctx context.Context, id string) (*models.JobApplication, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+applicationColumns+` FROM job_applications WHERE id = $1`, id)
	app, err := scanApplication(row)
	if err != nil {
		return nil, dbErr("get application", err)
	}
	return app, nil
}

// UpdateStatus writes the status and stamps the matching transition column.
func (s *Store) UpdateStatus(ctx context.Context, id string, status models.Status) error {
	if !status.Valid() {
		return fmt.Errorf("unknown status %q", status)
	}
	query := `UPDATE job_applications SET status = $2` + stampStatus(status) + `, updated_at = NOW() WHERE id = $1`
	return s.execOne(ctx, "update status", query, id, string(status))
}

// SaveExtractedFields copies derived posting fields and the status onto the application.
func (s *Store) SaveExtractedFields(ctx context.Context, app *models.JobApplication) error {
	skills, err := marshalJSON(app.RequiredSkills)
	if err != nil {
		return err
	}
	if skills == nil {
		skills = []byte("[]")
	}
	query := `
		UPDATE job_applications
		SET title = $2, company = $3, description = $4, required_skills = $5, location = $6,
			salary = $7, employment_type = $8, language = $9, status = $10` + stampStatus(app.Status) + `, updated_at = NOW()
		WHERE id = $1`
	return s.execOne(ctx, "save extracted fields", query,
		app.ID, app.Title, app.Company, app.Description, skills, app.Location,
		app.Salary, app.EmploymentType, app.Language, string(app.Status),
	)
}

// SaveScore records the match score with the resulting status.
func (s *Store) SaveScore(ctx context.Context, id string, score int, rationale string, status models.Status) error {
	query := `
		UPDATE job_applications
		SET match_score = $2, scoring_rationale = $3, status = $4` + stampStatus(status) + `, updated_at = NOW()
		WHERE id = $1`
	return s.execOne(ctx, "save score", query, id, score, rationale, string(status))
}

// MarkFailed moves an application to failed and keeps the error for operators.
func (s *Store) MarkFailed(ctx context.Context, id, message, trace string) error {
	return s.execOne(ctx, "mark failed", `
		UPDATE job_applications
		SET status = $2, error_message = $3, error_trace = $4, failed_at = NOW(), updated_at = NOW()
		WHERE id = $1`,
		id, string(models.StatusFailed), message, trace,
	)
}

// ResetApplication sets status back to pending and clears error fields.
func (s *Store) ResetApplication(ctx context.Context, id string) error {
	return s.execOne(ctx, "reset application", `
		UPDATE job_applications
		SET status = $2, error_message = '', error_trace = '', updated_at = NOW()
		WHERE id = $1`,
		id, string(models.StatusPending),
	)
}

// CountByStatus is exposed on the metrics endpoint.
func (s *Store) CountByStatus(ctx context.Context) (map[models.Status]int, error) {
	rows, err := s.q.QueryContext(ctx, `SELECT status, COUNT(*) FROM job_applications GROUP BY status`)
	if err != nil {
		return nil, dbErr("count by status", err)
	}
	defer rows.Close()

	out := make(map[models.Status]int)
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, dbErr("count by status", err)
		}
		out[models.Status(status)] = n
	}
	return out, rows.Err()
}

func (s *Store) execOne(ctx context.Context, op, query string, args ...interface{}) error {
	res, err := s.q.ExecContext(ctx, query, args...)
	if err != nil {
		return dbErr(op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return dbErr(op, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func terminalArray() interface{} {
	return pq.Array(models.TerminalStatuses())
}
