package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		name string
		from Status
		to   Status
		want bool
	}{
		{"pending to processing", StatusPending, StatusProcessing, true},
		{"processing to classified", StatusProcessing, StatusClassified, true},
		{"processing to rejected", StatusProcessing, StatusRejected, true},
		{"classified to scored", StatusClassified, StatusScored, true},
		{"scored to rejected", StatusScored, StatusRejected, true},
		{"scored to generated", StatusScored, StatusGenerated, true},
		{"generated to pdf_ready", StatusGenerated, StatusPDFReady, true},
		{"pdf_ready to completed", StatusPDFReady, StatusCompleted, true},
		{"rerun same status", StatusProcessing, StatusProcessing, true},
		{"any non-terminal to failed", StatusClassified, StatusFailed, true},
		{"mark done from rejected", StatusRejected, StatusManuallyApplied, true},
		{"backwards", StatusScored, StatusClassified, false},
		{"skip scoring", StatusClassified, StatusGenerated, false},
		{"completed is terminal", StatusCompleted, StatusFailed, false},
		{"rejected cannot complete", StatusRejected, StatusCompleted, false},
		{"no implicit reset", StatusFailed, StatusPending, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CanTransition(tt.from, tt.to))
		})
	}
}

func TestJobApplication_TransitionTo(t *testing.T) {
	app := &JobApplication{Status: StatusScored}

	err := app.TransitionTo(StatusClassified)
	require.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, StatusScored, app.Status)

	require.NoError(t, app.TransitionTo(StatusGenerated))
	assert.Equal(t, StatusGenerated, app.Status)
}

func TestJobApplication_Reset(t *testing.T) {
	app := &JobApplication{Status: StatusFailed, ErrorMessage: "boom", ErrorTrace: "trace"}
	app.Reset()

	assert.Equal(t, StatusPending, app.Status)
	assert.Empty(t, app.ErrorMessage)
	assert.Empty(t, app.ErrorTrace)
}

func TestJobExtraction_IsPending(t *testing.T) {
	tests := []struct {
		name    string
		payload map[string]interface{}
		want    bool
	}{
		{"nil payload", nil, true},
		{"no language", map[string]interface{}{"title": "Go dev"}, true},
		{"empty language", map[string]interface{}{"language": ""}, true},
		{"image still embedded", map[string]interface{}{"language": "en", "image": "aGVsbG8="}, true},
		{"ready", map[string]interface{}{"language": "en", "image_text": "ocr"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := &JobExtraction{Payload: tt.payload}
			assert.Equal(t, tt.want, e.IsPending())
		})
	}
}

func TestExtractionResult_MergeIntoKeepsOriginalKeys(t *testing.T) {
	relevant := false
	payload := map[string]interface{}{"link": "https://jobs.example/1", "title": "old"}

	out := ExtractionResult{Title: "Backend Engineer", Language: "en", IsRelevant: &relevant}.MergeInto(payload)

	assert.Equal(t, "https://jobs.example/1", out["link"])
	assert.Equal(t, "Backend Engineer", out["title"])
	assert.Equal(t, "en", out["language"])
	assert.Equal(t, false, out["is_relevant"])
}

func TestJobApplicationVersion_Completion(t *testing.T) {
	full := func() *JobApplicationVersion {
		return &JobApplicationVersion{
			CoverLetter:  "Dear team",
			EmailSubject: "Application",
			EmailBody:    "Please find attached",
			ResumeData:   map[string]interface{}{"name": "A"},
			ResumePath:   "/tmp/resume.pdf",
		}
	}

	tests := []struct {
		name   string
		mutate func(v *JobApplicationVersion)
		want   bool
	}{
		{"all present", func(v *JobApplicationVersion) {}, true},
		{"no cover letter", func(v *JobApplicationVersion) { v.CoverLetter = "" }, false},
		{"no subject", func(v *JobApplicationVersion) { v.EmailSubject = "" }, false},
		{"no body", func(v *JobApplicationVersion) { v.EmailBody = "" }, false},
		{"no resume data", func(v *JobApplicationVersion) { v.ResumeData = nil }, false},
		{"no resume path", func(v *JobApplicationVersion) { v.ResumePath = "" }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := full()
			v.Completed = true
			v.EmailSent = true
			tt.mutate(v)
			v.RefreshCompleted()

			assert.Equal(t, tt.want, v.Completed)
			if !v.Completed {
				assert.False(t, v.EmailSent)
			}
		})
	}
}

func TestJobApplicationVersion_NeedsRenderOnly(t *testing.T) {
	v := &JobApplicationVersion{
		CoverLetter:  "c",
		EmailSubject: "s",
		EmailBody:    "b",
		ResumeData:   map[string]interface{}{"objective": "x"},
	}
	assert.True(t, v.NeedsRenderOnly())

	v.ResumePath = "/out/r.pdf"
	assert.False(t, v.NeedsRenderOnly())
}

func TestJobData_DedupKeys(t *testing.T) {
	d := JobData{Job: map[string]interface{}{"url": " https://x/1 ", "description": "body"}}
	assert.Equal(t, "https://x/1", d.Link())
	assert.Equal(t, "body", d.RawContent())

	assert.Empty(t, JobData{}.Link())
}
