package models

import "time"

// JobScoring is the immutable fit score for one extraction version.
type JobScoring struct {
	ID               string        `json:"id"`
	JobApplicationID string        `json:"job_application_id"`
	JobExtractionID  string        `json:"job_extraction_id"`
	Score            int           `json:"score"`
	Payload          ScoringResult `json:"payload"`
	CreatedAt        time.Time     `json:"created_at"`
}

type ScoringResult struct {
	Score         int      `json:"score"`
	Justification string   `json:"justification"`
	MatchedSkills []string `json:"matched_skills,omitempty"`
	MissingSkills []string `json:"missing_skills,omitempty"`
	Strengths     []string `json:"strengths,omitempty"`
	Gaps          []string `json:"gaps,omitempty"`
}

// BelowThreshold is the rejection rule for generation.
func (s ScoringResult) BelowThreshold(threshold int) bool {
	return s.Score < threshold
}
