package processjob

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	apperrors "jobpilot-workers/internal/common/errors"
	apphttp "jobpilot-workers/internal/common/http"
	"jobpilot-workers/internal/common/logger"
	"jobpilot-workers/internal/dedup"
	"jobpilot-workers/internal/models"
	"jobpilot-workers/internal/pipeline"
	"jobpilot-workers/internal/store/storetest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockGate struct {
	mock.Mock
}

func (m *MockGate) Process(ctx context.Context, p models.JobPayload) (*dedup.Decision, error) {
	args := m.Called(ctx, p)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*dedup.Decision), args.Error(1)
}

type MockPipeline struct {
	mock.Mock
}

func (m *MockPipeline) ProcessApplication(ctx context.Context, id string) (pipeline.Report, error) {
	args := m.Called(ctx, id)
	return pipeline.Report{}, args.Error(0)
}

type fixture struct {
	gate     *MockGate
	pipeline *MockPipeline
	store    *storetest.Memory
	handler  *Handler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{gate: new(MockGate), pipeline: new(MockPipeline), store: storetest.NewMemory()}
	f.handler = NewHandler(DefaultConfig(), f.gate, f.store, f.pipeline,
		apphttp.NewClient(2*time.Second), logger.NewTestLogger(t))
	return f
}

const validBody = `{"job_id":"j-1","type":"job_application","priority":5,
	"data":{"job":{"link":"https://jobs.example/1","description":"Go dev"}}}`

func TestHandle_AcceptedDrivesPipeline(t *testing.T) {
	f := newFixture(t)
	f.gate.On("Process", mock.Anything, mock.MatchedBy(func(p models.JobPayload) bool {
		return p.JobID == "j-1" && p.Priority == 5 && p.Data.Link() == "https://jobs.example/1"
	})).Return(&dedup.Decision{Accepted: true, ApplicationID: "app-1"}, nil).Once()
	f.pipeline.On("ProcessApplication", mock.Anything, "app-1").Return(nil).Once()

	require.NoError(t, f.handler.Handle(context.Background(), []byte(validBody)))
	f.gate.AssertExpectations(t)
	f.pipeline.AssertExpectations(t)
}

func TestHandle_DuplicateSkipsPipeline(t *testing.T) {
	f := newFixture(t)
	f.gate.On("Process", mock.Anything, mock.Anything).
		Return(&dedup.Decision{ApplicationID: "app-1", MatchedBy: "link"}, nil).Once()

	require.NoError(t, f.handler.Handle(context.Background(), []byte(validBody)))
	f.pipeline.AssertNotCalled(t, "ProcessApplication", mock.Anything, mock.Anything)
}

func TestHandle_InvalidMessages(t *testing.T) {
	tests := []struct {
		name string
		body string
		code apperrors.ErrorCode
	}{
		{"not json", `{"type":`, apperrors.ErrCodeInvalidMessage},
		{"json array", `[1,2]`, apperrors.ErrCodeInvalidMessage},
		{"unknown type", `{"type":"newsletter","data":{"job":{}}}`, apperrors.ErrCodeUnknownJobType},
		{"missing data", `{"type":"job_application"}`, apperrors.ErrCodeInvalidMessage},
		{"missing job", `{"type":"job_application","data":{}}`, apperrors.ErrCodeInvalidMessage},
		{"priority out of range", `{"type":"job_application","priority":500,"data":{"job":{}}}`, apperrors.ErrCodeInvalidMessage},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			err := f.handler.Handle(context.Background(), []byte(tt.body))
			require.Error(t, err)
			assert.True(t, apperrors.IsInvalid(err))
			assert.Equal(t, tt.code, apperrors.CodeOf(err))
			f.gate.AssertNotCalled(t, "Process", mock.Anything, mock.Anything)
		})
	}
}

func TestHandle_GateErrorPropagates(t *testing.T) {
	f := newFixture(t)
	dbErr := apperrors.NewDatabaseError("insert application", errors.New("conn reset"))
	f.gate.On("Process", mock.Anything, mock.Anything).Return(nil, dbErr).Once()

	err := f.handler.Handle(context.Background(), []byte(validBody))
	assert.True(t, apperrors.IsRetryable(err))
}

func TestHandle_PipelineErrors(t *testing.T) {
	f := newFixture(t)
	f.gate.On("Process", mock.Anything, mock.Anything).
		Return(&dedup.Decision{Accepted: true, ApplicationID: "app-1"}, nil)

	f.pipeline.On("ProcessApplication", mock.Anything, "app-1").
		Return(apperrors.NewLLMTimeoutError(context.DeadlineExceeded)).Once()
	err := f.handler.Handle(context.Background(), []byte(validBody))
	assert.True(t, apperrors.IsRetryable(err), "retryable stage errors leave the delivery unacked")

	f.pipeline.On("ProcessApplication", mock.Anything, "app-1").
		Return(apperrors.NewFatal(apperrors.ErrCodeInternal, "render crashed", nil)).Once()
	err = f.handler.Handle(context.Background(), []byte(validBody))
	require.Error(t, err)
	assert.Equal(t, apperrors.KindFatal, apperrors.KindOf(err), "fatal stage errors leave the delivery unacked")

	f.pipeline.On("ProcessApplication", mock.Anything, "app-1").
		Return(apperrors.NewInvalid(apperrors.ErrCodeNoRecipient, "no recipient", "app-1")).Once()
	err = f.handler.Handle(context.Background(), []byte(validBody))
	require.Error(t, err)
	assert.True(t, apperrors.IsInvalid(err))
}

func TestHandle_FailedApplicationStillPostsCallback(t *testing.T) {
	var got models.ApplicationResult
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	f := newFixture(t)
	f.store.AddApplication(&models.JobApplication{ID: "app-1", Status: models.StatusFailed, ErrorMessage: "render crashed"})
	f.gate.On("Process", mock.Anything, mock.Anything).
		Return(&dedup.Decision{Accepted: true, ApplicationID: "app-1"}, nil).Once()
	f.pipeline.On("ProcessApplication", mock.Anything, "app-1").
		Return(apperrors.NewFatal(apperrors.ErrCodeInternal, "render crashed", nil)).Once()

	body := `{"job_id":"j-3","type":"job_application","callback_url":"` + srv.URL + `","data":{"job":{"link":"x"}}}`
	err := f.handler.Handle(context.Background(), []byte(body))
	require.Error(t, err)
	assert.Equal(t, "app-1", got.ApplicationID)
	assert.Equal(t, models.StatusFailed, got.Status)
}

func TestHandle_PostsCallback(t *testing.T) {
	var got models.ApplicationResult
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	f := newFixture(t)
	score := 91
	f.store.AddApplication(&models.JobApplication{ID: "app-1", Status: models.StatusCompleted, MatchScore: &score})
	f.gate.On("Process", mock.Anything, mock.Anything).
		Return(&dedup.Decision{Accepted: true, ApplicationID: "app-1"}, nil).Once()
	f.pipeline.On("ProcessApplication", mock.Anything, "app-1").Return(nil).Once()

	body := `{"job_id":"j-9","type":"job_application","callback_url":"` + srv.URL + `","data":{"job":{"link":"x"}}}`
	require.NoError(t, f.handler.Handle(context.Background(), []byte(body)))

	assert.Equal(t, "j-9", got.JobID)
	assert.Equal(t, "app-1", got.ApplicationID)
	assert.Equal(t, models.StatusCompleted, got.Status)
	require.NotNil(t, got.MatchScore)
	assert.Equal(t, 91, *got.MatchScore)
	assert.False(t, got.Duplicate)
}

func TestHandle_CallbackFailureIsIgnored(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	f := newFixture(t)
	f.store.AddApplication(&models.JobApplication{ID: "app-1", Status: models.StatusPending})
	f.gate.On("Process", mock.Anything, mock.Anything).
		Return(&dedup.Decision{ApplicationID: "app-1", MatchedBy: "link"}, nil).Once()

	body := `{"type":"job_application","callback_url":"` + srv.URL + `","data":{"job":{"link":"x"}}}`
	assert.NoError(t, f.handler.Handle(context.Background(), []byte(body)))
}
