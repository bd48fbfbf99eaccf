package reprocessjob

import (
	"context"
	"testing"
	"time"

	apperrors "jobpilot-workers/internal/common/errors"
	apphttp "jobpilot-workers/internal/common/http"
	"jobpilot-workers/internal/common/logger"
	"jobpilot-workers/internal/models"
	"jobpilot-workers/internal/pipeline"
	"jobpilot-workers/internal/store/storetest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingPipeline struct {
	ids []string
	err error
}

func (p *recordingPipeline) ProcessApplication(ctx context.Context, id string) (pipeline.Report, error) {
	p.ids = append(p.ids, id)
	return pipeline.Report{}, p.err
}

func newHandler(t *testing.T, mem *storetest.Memory, p *recordingPipeline) *Handler {
	t.Helper()
	return NewHandler(DefaultConfig(), mem, p, apphttp.NewClient(time.Second), logger.NewTestLogger(t))
}

func TestHandle_NewVersionFromLatestPayload(t *testing.T) {
	mem := storetest.NewMemory()
	mem.AddApplication(&models.JobApplication{ID: "app-1", Status: models.StatusFailed, ErrorMessage: "NO_RECIPIENT"})
	mem.AddExtraction(&models.JobExtraction{ID: "ex-1", JobApplicationID: "app-1", VersionNumber: 1,
		Payload: map[string]interface{}{"title": "Go Engineer", "language": "en", "image_text": "ocr"}})
	p := &recordingPipeline{}

	err := newHandler(t, mem, p).Handle(context.Background(), []byte(`{"id":"app-1","message":"  contact is hr@acme.io "}`))
	require.NoError(t, err)

	app := mem.Application("app-1")
	assert.Equal(t, models.StatusPending, app.Status)
	assert.Empty(t, app.ErrorMessage)

	latest, err := mem.LatestExtraction(context.Background(), "app-1")
	require.NoError(t, err)
	assert.Equal(t, 2, latest.VersionNumber)
	assert.Equal(t, "contact is hr@acme.io", latest.ExtraInformation)
	assert.Equal(t, "Go Engineer", latest.Payload["title"])
	assert.Equal(t, "ocr", latest.Payload["image_text"])
	assert.NotContains(t, latest.Payload, "language")
	assert.True(t, latest.IsPending())

	// the previous version is untouched
	assert.Equal(t, "en", mem.Extraction("ex-1").Payload["language"])
	assert.Equal(t, []string{"app-1"}, p.ids)
}

func TestHandle_FallsBackToJobData(t *testing.T) {
	mem := storetest.NewMemory()
	mem.AddApplication(&models.JobApplication{ID: "app-1", Status: models.StatusRejected,
		RawPayload: map[string]interface{}{"data": map[string]interface{}{"job": map[string]interface{}{"link": "https://x/1"}}}})

	err := newHandler(t, mem, &recordingPipeline{}).Handle(context.Background(), []byte(`{"id":"app-1","message":""}`))
	require.NoError(t, err)

	latest, err := mem.LatestExtraction(context.Background(), "app-1")
	require.NoError(t, err)
	assert.Equal(t, 1, latest.VersionNumber)
	assert.Equal(t, "https://x/1", latest.Payload["link"])
}

func TestHandle_Errors(t *testing.T) {
	tests := []struct {
		name string
		body string
		code apperrors.ErrorCode
	}{
		{"unknown application", `{"id":"app-404","message":"x"}`, apperrors.ErrCodeNotFound},
		{"missing message", `{"id":"app-1"}`, apperrors.ErrCodeInvalidMessage},
		{"malformed", `{`, apperrors.ErrCodeInvalidMessage},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mem := storetest.NewMemory()
			mem.AddApplication(&models.JobApplication{ID: "app-1", Status: models.StatusFailed})
			p := &recordingPipeline{}

			err := newHandler(t, mem, p).Handle(context.Background(), []byte(tt.body))
			require.Error(t, err)
			assert.True(t, apperrors.IsInvalid(err))
			assert.Equal(t, tt.code, apperrors.CodeOf(err))
			assert.Equal(t, models.StatusFailed, mem.Application("app-1").Status)
			assert.Empty(t, p.ids)
		})
	}
}

func TestHandle_RetryablePipelineErrorIsReturned(t *testing.T) {
	mem := storetest.NewMemory()
	mem.AddApplication(&models.JobApplication{ID: "app-1", Status: models.StatusFailed})
	p := &recordingPipeline{err: apperrors.NewLLMTimeoutError(context.DeadlineExceeded)}

	err := newHandler(t, mem, p).Handle(context.Background(), []byte(`{"id":"app-1","message":"again"}`))
	assert.True(t, apperrors.IsRetryable(err))
	assert.Equal(t, models.StatusPending, mem.Application("app-1").Status)
}

func TestHandle_FatalPipelineErrorIsReturned(t *testing.T) {
	mem := storetest.NewMemory()
	mem.AddApplication(&models.JobApplication{ID: "app-1", Status: models.StatusRejected})
	p := &recordingPipeline{err: apperrors.NewFatal(apperrors.ErrCodeInternal, "render crashed", nil)}

	err := newHandler(t, mem, p).Handle(context.Background(), []byte(`{"id":"app-1","message":"again"}`))
	require.Error(t, err)
	assert.Equal(t, apperrors.KindFatal, apperrors.KindOf(err))
	assert.Equal(t, []string{"app-1"}, p.ids)
}
