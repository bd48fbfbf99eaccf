package emailsend

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	apperrors "jobpilot-workers/internal/common/errors"
	"jobpilot-workers/internal/common/logger"
	"jobpilot-workers/internal/models"
	"jobpilot-workers/internal/store/storetest"
	"jobpilot-workers/internal/workers/pipeline/stage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockSender struct {
	mock.Mock
}

func (m *MockSender) SendEmail(ctx context.Context, e Email) (string, error) {
	args := m.Called(ctx, e)
	return args.String(0), args.Error(1)
}

type recordingNotifier struct {
	sent []models.Notification
}

func (r *recordingNotifier) Notify(ctx context.Context, n models.Notification) error {
	r.sent = append(r.sent, n)
	return nil
}

type fixture struct {
	store    *storetest.Memory
	sender   *MockSender
	notifier *recordingNotifier
	handler  *Handler
	dir      string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	log := logger.NewTestLogger(t)
	f := &fixture{
		store:    storetest.NewMemory(),
		sender:   new(MockSender),
		notifier: &recordingNotifier{},
		dir:      t.TempDir(),
	}
	cfg := DefaultConfig()
	cfg.From = "me@example.com"
	f.handler = NewHandler(cfg, f.store, f.sender, f.notifier, stage.NewFailures(f.store, f.notifier, log), log)
	return f
}

// seedReady stores an application at pdf_ready with a completed version and
// a resume file on disk.
func (f *fixture) seedReady(t *testing.T, appID string, jobEmail, contactEmail string) *models.JobApplicationVersion {
	t.Helper()
	ctx := context.Background()
	score := 88
	f.store.AddApplication(&models.JobApplication{
		ID: appID, Status: models.StatusPDFReady, Company: "Acme", Title: "Backend Engineer", MatchScore: &score,
		RawPayload: map[string]interface{}{
			"type": "job_application",
			"data": map[string]interface{}{"job": map[string]interface{}{"email": jobEmail}},
		},
	})
	payload := map[string]interface{}{"title": "Backend Engineer"}
	if contactEmail != "" {
		payload["contact_email"] = contactEmail
	}
	f.store.AddExtraction(&models.JobExtraction{ID: "ex-" + appID, JobApplicationID: appID, VersionNumber: 1, Payload: payload})

	path := filepath.Join(f.dir, appID+".pdf")
	require.NoError(t, os.WriteFile(path, []byte("%PDF-1.7 resume"), 0o644))

	v := &models.JobApplicationVersion{ID: "v-" + appID, JobApplicationID: appID, JobScoringID: "sc-" + appID}
	require.NoError(t, f.store.CreateVersion(ctx, v))
	v.CoverLetter = "Dear team,\n\nI build <reliable> services."
	v.EmailSubject = "Application: Backend Engineer"
	v.EmailBody = "<p>Hello, my resume is attached.</p>"
	v.ResumeData = map[string]interface{}{"name": "Ana"}
	v.ResumePath = path
	require.NoError(t, f.store.SaveVersion(ctx, v))
	require.True(t, v.Completed)
	return v
}

func TestHandler_Run_SendsAndCompletes(t *testing.T) {
	f := newFixture(t)
	f.seedReady(t, "app-1", "jobs@acme.example", "")

	f.sender.On("SendEmail", mock.Anything, mock.MatchedBy(func(e Email) bool {
		return e.To == "jobs@acme.example" &&
			e.From == "me@example.com" &&
			e.Subject == "Application: Backend Engineer" &&
			strings.Contains(e.HTMLBody, "my resume is attached") &&
			strings.Contains(e.HTMLBody, "&lt;reliable&gt;") &&
			len(e.Attachments) == 1 &&
			e.Attachments[0].Filename == "app-1.pdf" &&
			string(e.Attachments[0].Content) == "%PDF-1.7 resume"
	})).Return("msg-1", nil).Once()

	res, err := f.handler.Run(context.Background(), stage.Scope{})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Processed)

	v := f.store.Versions("app-1")[0]
	assert.True(t, v.EmailSent)
	assert.True(t, v.Completed)
	assert.NotNil(t, v.SentAt)
	assert.Equal(t, models.StatusCompleted, f.store.Application("app-1").Status)
	require.Len(t, f.notifier.sent, 1)
	assert.Equal(t, models.StatusCompleted, f.notifier.sent[0].Status)
	f.sender.AssertExpectations(t)

	// a second sweep finds nothing
	res, err = f.handler.Run(context.Background(), stage.Scope{})
	require.NoError(t, err)
	assert.Zero(t, res.Processed)
}

func TestHandler_RecipientPrefersExtractedContact(t *testing.T) {
	f := newFixture(t)
	f.seedReady(t, "app-1", "jobs@acme.example", "recruiter@acme.example")

	f.sender.On("SendEmail", mock.Anything, mock.MatchedBy(func(e Email) bool {
		return e.To == "recruiter@acme.example"
	})).Return("msg-1", nil).Once()

	_, err := f.handler.Run(context.Background(), stage.Scope{})
	require.NoError(t, err)
	f.sender.AssertExpectations(t)
}

func TestHandler_NoRecipientFailsApplication(t *testing.T) {
	f := newFixture(t)
	f.seedReady(t, "app-1", "", "")

	res, err := f.handler.Run(context.Background(), stage.Scope{})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)
	assert.True(t, apperrors.IsInvalid(res.Errors[0]))

	app := f.store.Application("app-1")
	assert.Equal(t, models.StatusFailed, app.Status)
	assert.Contains(t, app.ErrorMessage, "NO_RECIPIENT")
	assert.False(t, f.store.Versions("app-1")[0].EmailSent)
	f.sender.AssertNotCalled(t, "SendEmail", mock.Anything, mock.Anything)
}

func TestHandler_SendErrorIsRetryable(t *testing.T) {
	f := newFixture(t)
	f.seedReady(t, "app-1", "jobs@acme.example", "")

	f.sender.On("SendEmail", mock.Anything, mock.Anything).
		Return("", apperrors.NewRetryable(apperrors.ErrCodeEmailSendFailed, "ses delivery failed", errors.New("throttled"))).Once()

	res, err := f.handler.Run(context.Background(), stage.Scope{})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)

	assert.Equal(t, models.StatusPDFReady, f.store.Application("app-1").Status)
	assert.False(t, f.store.Versions("app-1")[0].EmailSent)
	assert.Empty(t, f.notifier.sent)
}

func TestHandler_StopOnErrorReturnsFirstFailure(t *testing.T) {
	f := newFixture(t)
	f.seedReady(t, "app-1", "", "")
	f.seedReady(t, "app-2", "jobs@acme.example", "")

	res, err := f.handler.Run(context.Background(), stage.Scope{StopOnError: true})
	require.Error(t, err)
	assert.Equal(t, 1, res.Failed)
	assert.Zero(t, res.Processed)
	f.sender.AssertNotCalled(t, "SendEmail", mock.Anything, mock.Anything)
}

func TestHandler_MissingResumeSchedulesRerender(t *testing.T) {
	f := newFixture(t)
	v := f.seedReady(t, "app-1", "jobs@acme.example", "")
	require.NoError(t, os.Remove(v.ResumePath))

	res, err := f.handler.Run(context.Background(), stage.Scope{})
	require.NoError(t, err)
	require.Equal(t, 1, res.Failed)
	assert.True(t, apperrors.IsRetryable(res.Errors[0]))

	stored := f.store.Versions("app-1")[0]
	assert.Empty(t, stored.ResumePath)
	assert.False(t, stored.Completed)
	assert.Equal(t, models.StatusPDFReady, f.store.Application("app-1").Status)
}

func TestHandler_SkipsManuallyAppliedAndStaleVersions(t *testing.T) {
	f := newFixture(t)
	f.seedReady(t, "app-1", "jobs@acme.example", "")
	require.NoError(t, f.store.UpdateStatus(context.Background(), "app-1", models.StatusManuallyApplied))

	f.seedReady(t, "app-2", "jobs@acme.example", "")
	newer := &models.JobApplicationVersion{ID: "v-app-2-b", JobApplicationID: "app-2", JobScoringID: "sc-2b"}
	require.NoError(t, f.store.CreateVersion(context.Background(), newer))

	res, err := f.handler.Run(context.Background(), stage.Scope{})
	require.NoError(t, err)
	assert.Zero(t, res.Processed+res.Failed)
	f.sender.AssertNotCalled(t, "SendEmail", mock.Anything, mock.Anything)
}

func TestHandler_SendVersion(t *testing.T) {
	f := newFixture(t)
	v := f.seedReady(t, "app-1", "jobs@acme.example", "")
	f.sender.On("SendEmail", mock.Anything, mock.Anything).Return("msg-1", nil).Once()

	require.NoError(t, f.handler.SendVersion(context.Background(), v.ID))
	assert.Equal(t, models.StatusCompleted, f.store.Application("app-1").Status)

	err := f.handler.SendVersion(context.Background(), v.ID)
	assert.ErrorIs(t, err, ErrNotReady)
	f.sender.AssertNumberOfCalls(t, "SendEmail", 1)
}

func TestComposeBody(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		letter string
		want   string
	}{
		{"no letter", "<p>Hi</p>", "", "<p>Hi</p>"},
		{"paragraphs", "<p>Hi</p>", "One\n\nTwo\nlines", "<p>Hi</p>\n<hr>\n<p>One</p>\n<p>Two<br>lines</p>\n"},
		{"escaped", "", "a & b", "\n<hr>\n<p>a &amp; b</p>\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, composeBody(tt.body, tt.letter))
		})
	}
}
