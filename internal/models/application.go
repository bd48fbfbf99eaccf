// internal/models/application.go
package models

import (
	"errors"
	"fmt"
	"time"
)

// Status is the JobApplication lifecycle state.
type Status string

const (
	StatusPending         Status = "pending"
	StatusProcessing      Status = "processing"
	StatusClassified      Status = "classified"
	StatusScored          Status = "scored"
	StatusRejected        Status = "rejected"
	StatusGenerated       Status = "generated"
	StatusPDFReady        Status = "pdf_ready"
	StatusCompleted       Status = "completed"
	StatusFailed          Status = "failed"
	StatusManuallyApplied Status = "manually_applied"
)

var ErrInvalidTransition = errors.New("INVALID_STATUS_TRANSITION")

// forward lists the automatic transitions. failed and manually_applied are
// handled separately in CanTransition.
var forward = map[Status][]Status{
	StatusPending:    {StatusProcessing},
	StatusProcessing: {StatusClassified, StatusRejected},
	StatusClassified: {StatusScored, StatusRejected},
	StatusScored:     {StatusRejected, StatusGenerated, StatusPDFReady},
	StatusGenerated:  {StatusPDFReady},
	StatusPDFReady:   {StatusCompleted},
}

// IsTerminal reports whether the automatic pipeline stops at s.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusRejected, StatusCompleted, StatusFailed, StatusManuallyApplied:
		return true
	}
	return false
}

// TerminalStatuses is used by the store to exclude finished rows from sweeps.
func TerminalStatuses() []string {
	return []string{
		string(StatusRejected), string(StatusCompleted),
		string(StatusFailed), string(StatusManuallyApplied),
	}
}

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusClassified, StatusScored, StatusRejected,
		StatusGenerated, StatusPDFReady, StatusCompleted, StatusFailed, StatusManuallyApplied:
		return true
	}
	return false
}

// CanTransition reports whether the pipeline may move from one status to
// another. Re-entering the current status is allowed so stages can be rerun.
// Going back to pending is never allowed here; that is Reset's job.
func CanTransition(from, to Status) bool {
	if from == to {
		return true
	}
	if to == StatusManuallyApplied {
		return true
	}
	if from.IsTerminal() {
		return false
	}
	if to == StatusFailed {
		return true
	}
	for _, next := range forward[from] {
		if next == to {
			return true
		}
	}
	return false
}

// JobApplication is the aggregate root for one posting.
type JobApplication struct {
	ID               string                 `json:"id"`
	Status           Status                 `json:"status"`
	RawPayload       map[string]interface{} `json:"raw_payload"`
	Title            string                 `json:"title"`
	Company          string                 `json:"company"`
	Description      string                 `json:"description"`
	RequiredSkills   []string               `json:"required_skills"`
	Location         string                 `json:"location"`
	Salary           string                 `json:"salary"`
	EmploymentType   string                 `json:"employment_type"`
	Language         string                 `json:"language"`
	MatchScore       *int                   `json:"match_score,omitempty"`
	ScoringRationale string                 `json:"scoring_rationale,omitempty"`
	ErrorMessage     string                 `json:"error_message,omitempty"`
	ErrorTrace       string                 `json:"error_trace,omitempty"`
	CallbackURL      string                 `json:"callback_url,omitempty"`
	Priority         int                    `json:"priority"`
	CreatedAt        time.Time              `json:"created_at"`
	UpdatedAt        time.Time              `json:"updated_at"`
}

// TransitionTo validates and applies a status change in memory.
func (a *JobApplication) TransitionTo(next Status) error {
	if !CanTransition(a.Status, next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, a.Status, next)
	}
	a.Status = next
	return nil
}

// Reset puts a finished or failed application back to pending for reprocessing.
func (a *JobApplication) Reset() {
	a.Status = StatusPending
	a.ErrorMessage = ""
	a.ErrorTrace = ""
}

// ApplyExtraction copies the derived job fields from an extraction result.
func (a *JobApplication) ApplyExtraction(r ExtractionResult) {
	if r.Title != "" {
		a.Title = r.Title
	}
	if r.Company != "" {
		a.Company = r.Company
	}
	if r.Description != "" {
		a.Description = r.Description
	}
	if len(r.RequiredSkills) > 0 {
		a.RequiredSkills = r.RequiredSkills
	}
	if r.Location != "" {
		a.Location = r.Location
	}
	if r.Salary != "" {
		a.Salary = r.Salary
	}
	if r.EmploymentType != "" {
		a.EmploymentType = r.EmploymentType
	}
	if r.Language != "" {
		a.Language = r.Language
	}
}

// JobData returns the raw "job" object from the intake payload.
func (a *JobApplication) JobData() map[string]interface{} {
	data, _ := a.RawPayload["data"].(map[string]interface{})
	job, _ := data["job"].(map[string]interface{})
	return job
}

// JobDeduplication records an accepted unique posting.
type JobDeduplication struct {
	ID               string    `json:"id"`
	Fingerprint      string    `json:"fingerprint"`
	Link             string    `json:"link"`
	RawContent       string    `json:"raw_content"`
	JobApplicationID string    `json:"job_application_id"`
	CreatedAt        time.Time `json:"created_at"`
}
