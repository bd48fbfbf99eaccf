package models

import (
	"encoding/json"
	"fmt"
	"strings"
)

const JobTypeApplication = "job_application"

// JobPayload is the intake message envelope.
type JobPayload struct {
	JobID       string                 `json:"job_id,omitempty"`
	Type        string                 `json:"type"`
	Data        JobData                `json:"data"`
	CallbackURL string                 `json:"callback_url,omitempty"`
	Priority    int                    `json:"priority,omitempty"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
}

type JobData struct {
	Job       map[string]interface{} `json:"job"`
	Candidate map[string]interface{} `json:"candidate,omitempty"`
	Image     string                 `json:"image,omitempty"`
}

// Link is the posting URL used as the primary dedup key.
func (d JobData) Link() string {
	for _, k := range []string{"link", "url"} {
		if s, _ := d.Job[k].(string); strings.TrimSpace(s) != "" {
			return strings.TrimSpace(s)
		}
	}
	return ""
}

// RawContent is the posting body used as the secondary dedup key.
func (d JobData) RawContent() string {
	for _, k := range []string{"raw_content", "content", "description", "text"} {
		if s, _ := d.Job[k].(string); strings.TrimSpace(s) != "" {
			return s
		}
	}
	return ""
}

// ToMap renders the payload as the raw_payload column value.
func (p JobPayload) ToMap() map[string]interface{} {
	b, _ := json.Marshal(p)
	var m map[string]interface{}
	_ = json.Unmarshal(b, &m)
	return m
}

// MarkDoneMessage is consumed from the mark-done queue.
type MarkDoneMessage struct {
	ID string `json:"id"`
}

// ReprocessMessage is consumed from the reprocess queue.
type ReprocessMessage struct {
	ID      string `json:"id"`
	Message string `json:"message"`
}

// ApplicationResult is posted to callback_url once intake finishes.
type ApplicationResult struct {
	JobID         string `json:"job_id,omitempty"`
	ApplicationID string `json:"application_id"`
	Status        Status `json:"status"`
	MatchScore    *int   `json:"match_score,omitempty"`
	Duplicate     bool   `json:"duplicate"`
}

func (m MarkDoneMessage) String() string  { return fmt.Sprintf("mark-done(%s)", m.ID) }
func (m ReprocessMessage) String() string { return fmt.Sprintf("reprocess(%s)", m.ID) }
