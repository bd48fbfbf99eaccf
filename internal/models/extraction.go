// internal/models/extraction.go
package models

import "time"

// Keys with fixed meaning inside an extraction payload.
const (
	PayloadKeyLanguage  = "language"
	PayloadKeyImage     = "image"
	PayloadKeyImageText = "image_text"
)

// JobExtraction is one versioned snapshot of enriched posting fields.
type JobExtraction struct {
	ID               string                 `json:"id"`
	JobApplicationID string                 `json:"job_application_id"`
	VersionNumber    int                    `json:"version_number"`
	Payload          map[string]interface{} `json:"payload"`
	ExtraInformation string                 `json:"extra_information,omitempty"`
	CreatedAt        time.Time              `json:"created_at"`
	UpdatedAt        time.Time              `json:"updated_at"`
}

// IsPending is true while the payload is missing, has no language tag or
// still carries a raw image blob.
func (e *JobExtraction) IsPending() bool {
	if e.Payload == nil {
		return true
	}
	if lang, _ := e.Payload[PayloadKeyLanguage].(string); lang == "" {
		return true
	}
	if img, _ := e.Payload[PayloadKeyImage].(string); img != "" {
		return true
	}
	return false
}

// Image returns the embedded base64 image, if any.
func (e *JobExtraction) Image() string {
	if e.Payload == nil {
		return ""
	}
	img, _ := e.Payload[PayloadKeyImage].(string)
	return img
}

// ExtractionResult is the structured-extraction response.
type ExtractionResult struct {
	Title           string   `json:"title"`
	Company         string   `json:"company"`
	Description     string   `json:"description"`
	RequiredSkills  []string `json:"required_skills"`
	Location        string   `json:"location"`
	Salary          string   `json:"salary"`
	EmploymentType  string   `json:"employment_type"`
	Language        string   `json:"language"`
	ContactEmail    string   `json:"contact_email"`
	IsRelevant      *bool    `json:"is_relevant"`
	RelevanceReason string   `json:"relevance_reason"`
}

// Relevant treats a missing flag as relevant.
func (r ExtractionResult) Relevant() bool {
	return r.IsRelevant == nil || *r.IsRelevant
}

// MergeInto overlays the non-empty result fields on payload. Existing keys not
// produced by the extraction are left alone.
func (r ExtractionResult) MergeInto(payload map[string]interface{}) map[string]interface{} {
	if payload == nil {
		payload = make(map[string]interface{})
	}
	set := func(k, v string) {
		if v != "" {
			payload[k] = v
		}
	}
	set("title", r.Title)
	set("company", r.Company)
	set("description", r.Description)
	set("location", r.Location)
	set("salary", r.Salary)
	set("employment_type", r.EmploymentType)
	set(PayloadKeyLanguage, r.Language)
	set("contact_email", r.ContactEmail)
	set("relevance_reason", r.RelevanceReason)
	if len(r.RequiredSkills) > 0 {
		skills := make([]interface{}, len(r.RequiredSkills))
		for i, s := range r.RequiredSkills {
			skills[i] = s
		}
		payload["required_skills"] = skills
	}
	payload["is_relevant"] = r.Relevant()
	return payload
}
