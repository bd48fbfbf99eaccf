package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"jobpilot-workers/internal/models"
	"jobpilot-workers/internal/pipeline"
	emailsend "jobpilot-workers/internal/workers/communication/email-send"
	"jobpilot-workers/internal/workers/pipeline/stage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockRunner struct{ mock.Mock }

func (m *MockRunner) RunStage(ctx context.Context, name string, scope stage.Scope) (pipeline.StageReport, error) {
	args := m.Called(ctx, name, scope)
	return args.Get(0).(pipeline.StageReport), args.Error(1)
}

func (m *MockRunner) Run(ctx context.Context, stopOnFailure bool) (pipeline.Report, error) {
	args := m.Called(ctx, stopOnFailure)
	return args.Get(0).(pipeline.Report), args.Error(1)
}

type MockCoordinator struct{ mock.Mock }

func (m *MockCoordinator) SubmitJob(ctx context.Context, p models.JobPayload) (string, error) {
	args := m.Called(ctx, p)
	return args.String(0), args.Error(1)
}

func (m *MockCoordinator) MarkDone(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

func (m *MockCoordinator) Reprocess(ctx context.Context, id, message string) error {
	return m.Called(ctx, id, message).Error(0)
}

type fakeMigrator struct {
	upErr   error
	version int64
}

func (f *fakeMigrator) Up(context.Context) error               { return f.upErr }
func (f *fakeMigrator) Version(context.Context) (int64, error) { return f.version, nil }

type fakeSender struct{ err error }

func (f fakeSender) SendVersion(context.Context, string) error { return f.err }

type fakeBackend struct {
	runner      *MockRunner
	coord       *MockCoordinator
	migrator    *fakeMigrator
	sender      fakeSender
	openErr     error
	configFile  string
	runnerCalls int
}

func (f *fakeBackend) Runner(context.Context) (stageRunner, error) {
	f.runnerCalls++
	if f.openErr != nil {
		return nil, f.openErr
	}
	return f.runner, nil
}

func (f *fakeBackend) Coordinator(context.Context) (coordinator, error) { return f.coord, f.openErr }
func (f *fakeBackend) Migrator(context.Context) (migrator, error)       { return f.migrator, f.openErr }
func (f *fakeBackend) VersionSender(context.Context) (versionSender, error) {
	return f.sender, f.openErr
}
func (f *fakeBackend) SetConfigFile(path string) { f.configFile = path }
func (f *fakeBackend) Close() error              { return nil }

func newFakeBackend() *fakeBackend {
	return &fakeBackend{runner: &MockRunner{}, coord: &MockCoordinator{}, migrator: &fakeMigrator{}}
}

func execute(t *testing.T, b backend, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd(b)
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestStageCommands(t *testing.T) {
	tests := []struct {
		args  []string
		stage string
		scope stage.Scope
	}{
		{[]string{"extract-pending"}, "extract-job", stage.Scope{}},
		{[]string{"score-pending", "--limit", "5"}, "score-job", stage.Scope{Limit: 5}},
		{[]string{"generate-pending", "--id", "app-1"}, "generate-application", stage.Scope{ApplicationID: "app-1"}},
		{[]string{"send-pending-emails", "--stop-on-failure"}, "send-email", stage.Scope{StopOnError: true}},
	}
	for _, tt := range tests {
		t.Run(tt.args[0], func(t *testing.T) {
			b := newFakeBackend()
			b.runner.On("RunStage", mock.Anything, tt.stage, tt.scope).Return(pipeline.StageReport{
				Name:   tt.stage,
				Result: stage.Result{Stage: tt.stage, Processed: 3, Failed: 1, Errors: []error{errors.New("app-2: no recipient")}},
			}, nil)

			out, err := execute(t, b, tt.args...)
			require.NoError(t, err, "per-item failures do not fail the command")
			assert.Contains(t, out, "processed=3 failed=1")
			assert.Contains(t, out, "app-2: no recipient")
			b.runner.AssertExpectations(t)
		})
	}
}

func TestStageCommand_LockHeldExitsCleanly(t *testing.T) {
	b := newFakeBackend()
	b.runner.On("RunStage", mock.Anything, "extract-job", stage.Scope{}).
		Return(pipeline.StageReport{Name: "extract-job", Skipped: true}, nil)

	out, err := execute(t, b, "extract-pending")
	require.NoError(t, err)
	assert.Contains(t, out, "skipped (lock held)")
}

func TestStageCommand_RunnerErrorFails(t *testing.T) {
	b := newFakeBackend()
	b.runner.On("RunStage", mock.Anything, "score-job", stage.Scope{StopOnError: true}).
		Return(pipeline.StageReport{Name: "score-job"}, errors.New("llm timeout"))

	_, err := execute(t, b, "score-pending", "--stop-on-failure")
	assert.Error(t, err)
}

func TestRunPipeline(t *testing.T) {
	b := newFakeBackend()
	b.runner.On("Run", mock.Anything, true).Return(pipeline.Report{Stages: []pipeline.StageReport{
		{Name: "extract-job", Result: stage.Result{Processed: 2}},
		{Name: "score-job", Result: stage.Result{Processed: 2, Failed: 1}},
	}}, nil)

	out, err := execute(t, b, "run-pipeline", "--stop-on-failure")
	require.NoError(t, err)
	assert.Contains(t, out, "total")
	assert.Contains(t, out, "processed=4 failed=1")

	b = newFakeBackend()
	b.runner.On("Run", mock.Anything, false).Return(pipeline.Report{Skipped: true}, nil)
	out, err = execute(t, b, "run-pipeline")
	require.NoError(t, err)
	assert.Contains(t, out, "pipeline skipped")
}

func TestRunPipeline_BackendError(t *testing.T) {
	b := newFakeBackend()
	b.openErr = errors.New("postgres connection failed")
	_, err := execute(t, b, "run-pipeline")
	assert.Error(t, err)
	assert.Equal(t, 1, b.runnerCalls)
}

func TestSendVersion(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		want    string
		wantErr bool
	}{
		{"sent", nil, "sent", false},
		{"not ready", emailsend.ErrNotReady, "nothing to send", false},
		{"send failure", errors.New("smtp down"), "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := newFakeBackend()
			b.sender = fakeSender{err: tt.err}
			out, err := execute(t, b, "send-version", "v-1")
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Contains(t, out, tt.want)
		})
	}
}

func TestMigrate(t *testing.T) {
	b := newFakeBackend()
	b.migrator.version = 1
	out, err := execute(t, b, "migrate")
	require.NoError(t, err)
	assert.Contains(t, out, "schema at version 1")

	b.migrator.upErr = errors.New("syntax error")
	_, err = execute(t, b, "migrate")
	assert.Error(t, err)
}

func TestSubmit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "job.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"type":"job_application","data":{"job":{"link":"https://jobs.example/1"}}}`), 0o600))

	b := newFakeBackend()
	b.coord.On("SubmitJob", mock.Anything, mock.MatchedBy(func(p models.JobPayload) bool {
		return p.Data.Link() == "https://jobs.example/1"
	})).Return("job-42", nil)

	out, err := execute(t, b, "submit", path)
	require.NoError(t, err)
	assert.Contains(t, out, "submitted job job-42")
	b.coord.AssertExpectations(t)
}

func TestSubmit_FromStdinRejectsEmptyJob(t *testing.T) {
	b := newFakeBackend()
	cmd := newRootCmd(b)
	cmd.SetIn(strings.NewReader(`{"type":"job_application","data":{}}`))
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"submit", "-"})
	assert.Error(t, cmd.ExecuteContext(context.Background()))
	b.coord.AssertNotCalled(t, "SubmitJob", mock.Anything, mock.Anything)
}

func TestMarkDoneAndReprocess(t *testing.T) {
	b := newFakeBackend()
	b.coord.On("MarkDone", mock.Anything, "app-1").Return(nil)
	b.coord.On("Reprocess", mock.Anything, "app-1", "focus on Go experience").Return(nil)

	out, err := execute(t, b, "mark-done", "app-1")
	require.NoError(t, err)
	assert.Contains(t, out, "mark-done queued for app-1")

	out, err = execute(t, b, "reprocess", "app-1", "focus", "on", "Go", "experience")
	require.NoError(t, err)
	assert.Contains(t, out, "reprocess queued for app-1")
	b.coord.AssertExpectations(t)

	_, err = execute(t, b, "reprocess", "app-1")
	assert.Error(t, err, "a message is required")
}

func TestConfigFlag(t *testing.T) {
	b := newFakeBackend()
	b.runner.On("RunStage", mock.Anything, "extract-job", stage.Scope{}).Return(pipeline.StageReport{}, nil)
	_, err := execute(t, b, "--config", "configs/config.test.yaml", "extract-pending")
	require.NoError(t, err)
	assert.Equal(t, "configs/config.test.yaml", b.configFile)
}
