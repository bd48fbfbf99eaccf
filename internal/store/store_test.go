package store

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	apperrors "jobpilot-workers/internal/common/errors"
	"jobpilot-workers/internal/common/logger"
	"jobpilot-workers/internal/models"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return New(db, logger.NewTestLogger(t)), mock
}

var applicationCols = []string{
	"id", "status", "raw_payload", "title", "company", "description", "required_skills",
	"location", "salary", "employment_type", "language", "match_score", "scoring_rationale",
	"error_message", "error_trace", "callback_url", "priority", "created_at", "updated_at",
}

func TestStore_GetApplication(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Now()

	mock.ExpectQuery(`SELECT .* FROM job_applications WHERE id = \$1`).
		WithArgs("app-1").
		WillReturnRows(sqlmock.NewRows(applicationCols).AddRow(
			"app-1", "scored", []byte(`{"type":"job_application"}`), "Go Engineer", "Acme", "desc",
			[]byte(`["go","sql"]`), "Remote", "", "full-time", "en", int64(82), "good fit",
			"", "", "", 1, now, now,
		))

	app, err := s.GetApplication(context.Background(), "app-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusScored, app.Status)
	assert.Equal(t, []string{"go", "sql"}, app.RequiredSkills)
	require.NotNil(t, app.MatchScore)
	assert.Equal(t, 82, *app.MatchScore)
	assert.Equal(t, "job_application", app.RawPayload["type"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_GetApplication_NotFound(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT .* FROM job_applications`).
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err := s.GetApplication(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_UpdateStatus_StampsTransitionColumn(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta(`UPDATE job_applications SET status = $2, classified_at = NOW(), updated_at = NOW() WHERE id = $1`)).
		WithArgs("app-1", "classified").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := s.UpdateStatus(context.Background(), "app-1", models.StatusClassified)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_UpdateStatus_NoRows(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec(`UPDATE job_applications SET status`).
		WithArgs("app-9", "processing").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := s.UpdateStatus(context.Background(), "app-9", models.StatusProcessing)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_DatabaseErrorsAreRetryable(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec(`UPDATE job_applications`).
		WillReturnError(errors.New("connection reset"))

	err := s.MarkFailed(context.Background(), "app-1", "boom", "trace")
	require.Error(t, err)
	assert.True(t, apperrors.IsRetryable(err))
}

func TestStore_InTx_CommitsAndRollsBack(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO job_applications`).WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	err := s.InTx(context.Background(), func(tx *Store) error {
		return tx.CreateApplication(context.Background(), &models.JobApplication{ID: "app-1"})
	})
	require.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO job_applications`).WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectRollback()

	boom := errors.New("dedup insert failed")
	err = s.InTx(context.Background(), func(tx *Store) error {
		if err := tx.CreateApplication(context.Background(), &models.JobApplication{ID: "app-2"}); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_FindDedupByLink(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(`FROM job_deduplications WHERE link = \$1`).
		WithArgs("https://jobs.example/1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "fingerprint", "link", "raw_content", "job_application_id", "created_at"}).
			AddRow("d-1", "abc", "https://jobs.example/1", "body", "app-1", time.Now()))

	d, err := s.FindDedupByLink(context.Background(), "https://jobs.example/1")
	require.NoError(t, err)
	assert.Equal(t, "app-1", d.JobApplicationID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_CreateExtraction_ReturnsVersion(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(`INSERT INTO job_extractions`).
		WithArgs("ex-2", "app-1", 0, sqlmock.AnyArg(), "please emphasize Go", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"version_number"}).AddRow(2))

	e := &models.JobExtraction{ID: "ex-2", JobApplicationID: "app-1", ExtraInformation: "please emphasize Go"}
	require.NoError(t, s.CreateExtraction(context.Background(), e))
	assert.Equal(t, 2, e.VersionNumber)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_ListPendingExtractions(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Now()

	mock.ExpectQuery(`FROM job_extractions e\s+JOIN job_applications a`).
		WithArgs(sqlmock.AnyArg(), "", 10).
		WillReturnRows(sqlmock.NewRows([]string{"id", "job_application_id", "version_number", "payload", "extra_information", "created_at", "updated_at"}).
			AddRow("ex-1", "app-1", 1, nil, "", now, now).
			AddRow("ex-2", "app-2", 1, []byte(`{"title":"x"}`), "", now, now))

	list, err := s.ListPendingExtractions(context.Background(), "", 10)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Nil(t, list[0].Payload)
	assert.True(t, list[0].IsPending())
	assert.Equal(t, "x", list[1].Payload["title"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_SaveVersion_RecomputesCompleted(t *testing.T) {
	s, mock := newMockStore(t)

	v := &models.JobApplicationVersion{
		ID:           "v-1",
		CoverLetter:  "letter",
		EmailSubject: "subject",
		EmailBody:    "body",
		ResumeData:   map[string]interface{}{"name": "A"},
		Completed:    true,
	}

	mock.ExpectExec(`UPDATE job_application_versions`).
		WithArgs("v-1", "letter", "subject", "body", sqlmock.AnyArg(), "", false, false).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, s.SaveVersion(context.Background(), v))
	assert.False(t, v.Completed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_ListGenerationCandidates(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT a.id\s+FROM job_applications a`).
		WithArgs(70, "", 25).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("app-1").AddRow("app-2"))

	ids, err := s.ListGenerationCandidates(context.Background(), "", 70, 25)
	require.NoError(t, err)
	assert.Equal(t, []string{"app-1", "app-2"}, ids)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_LoadActiveProfile(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(`FROM candidate_profiles`).
		WillReturnRows(sqlmock.NewRows([]string{
			"name", "age", "marital_status", "location", "phone", "phone_link", "email",
			"github", "github_display", "linkedin", "linkedin_display", "summary",
			"skills", "languages", "base_resume",
		}).AddRow(
			"Ana", "31", "single", "Lisbon", "+351", "tel:+351", "ana@example.com",
			"https://github.com/ana", "ana", "https://linkedin.com/in/ana", "in/ana", "Backend dev",
			[]byte(`["Go","Postgres"]`), []byte(`["English"]`), []byte(`{"objective":"Build"}`),
		))

	row, err := s.LoadActiveProfile(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Ana", row.Identity["name"])
	assert.Equal(t, []string{"Go", "Postgres"}, row.Skills)
	assert.Equal(t, "Build", row.BaseResume["objective"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_Reprocess_SingleTransaction(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO job_extractions`).
		WithArgs("ex-3", "app-1", 0, sqlmock.AnyArg(), "stress Kubernetes", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"version_number"}).AddRow(3))
	mock.ExpectExec(`UPDATE job_applications\s+SET status = \$2, error_message = ''`).
		WithArgs("app-1", "pending").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	e := &models.JobExtraction{ID: "ex-3", JobApplicationID: "app-1", ExtraInformation: "stress Kubernetes"}
	require.NoError(t, s.Reprocess(context.Background(), e))
	assert.Equal(t, 3, e.VersionNumber)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_SaveExtraction_RollsBackWhenApplicationUpdateFails(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE job_extractions SET payload`).
		WithArgs("ex-1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE job_applications\s+SET title`).
		WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	app := &models.JobApplication{ID: "app-1", Title: "Go Engineer", Status: models.StatusClassified}
	err := s.SaveExtraction(context.Background(), "ex-1", map[string]interface{}{"language": "en"}, app)
	require.Error(t, err)
	assert.True(t, apperrors.IsRetryable(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_RecordScoring_SingleTransaction(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO job_scorings`).
		WithArgs("sc-1", "app-1", "ex-1", 85, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(`UPDATE job_applications\s+SET match_score`).
		WithArgs("app-1", 85, "fit", "scored").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	sc := &models.JobScoring{ID: "sc-1", JobApplicationID: "app-1", JobExtractionID: "ex-1", Score: 85}
	require.NoError(t, s.RecordScoring(context.Background(), sc, "fit", models.StatusScored))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_InTx_BeginFailureIsRetryable(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin().WillReturnError(errors.New("too many connections"))

	err := s.InTx(context.Background(), func(tx *Store) error { return nil })
	require.Error(t, err)
	assert.True(t, apperrors.IsRetryable(err))
}
