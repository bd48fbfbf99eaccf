package models

import "time"

// JobApplicationVersion is one bundle of generated materials.
type JobApplicationVersion struct {
	ID               string                 `json:"id"`
	JobApplicationID string                 `json:"job_application_id"`
	VersionNumber    int                    `json:"version_number"`
	JobScoringID     string                 `json:"job_scoring_id,omitempty"`
	CoverLetter      string                 `json:"cover_letter"`
	EmailSubject     string                 `json:"email_subject"`
	EmailBody        string                 `json:"email_body"`
	ResumeData       map[string]interface{} `json:"resume_data,omitempty"`
	ResumePath       string                 `json:"resume_path"`
	EmailSent        bool                   `json:"email_sent"`
	Completed        bool                   `json:"completed"`
	SentAt           *time.Time             `json:"sent_at,omitempty"`
	CreatedAt        time.Time              `json:"created_at"`
	UpdatedAt        time.Time              `json:"updated_at"`
}

// HasText reports whether every LLM-produced field is present.
func (v *JobApplicationVersion) HasText() bool {
	return v.CoverLetter != "" && v.EmailSubject != "" && v.EmailBody != "" && len(v.ResumeData) > 0
}

// HasAllFields is the completion condition.
func (v *JobApplicationVersion) HasAllFields() bool {
	return v.HasText() && v.ResumePath != ""
}

// NeedsRenderOnly is the resume-path-only gap.
func (v *JobApplicationVersion) NeedsRenderOnly() bool {
	return v.HasText() && v.ResumePath == ""
}

// RefreshCompleted keeps Completed equal to HasAllFields.
func (v *JobApplicationVersion) RefreshCompleted() {
	v.Completed = v.HasAllFields()
	if !v.Completed {
		v.EmailSent = false
	}
}

// GenerationResult is the unified generation response.
type GenerationResult struct {
	CoverLetter  string                 `json:"cover_letter"`
	EmailSubject string                 `json:"email_subject"`
	EmailBody    string                 `json:"email_body"`
	Resume       map[string]interface{} `json:"resume"`
}
