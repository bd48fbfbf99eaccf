package scorejob

import (
	"encoding/json"
	"strings"

	"jobpilot-workers/internal/profile"
)

// ScoringPrompt pairs one extracted posting with the candidate profile.
type ScoringPrompt struct {
	Posting          map[string]interface{}
	ExtraInformation string
	Profile          *profile.Profile
}

func (p ScoringPrompt) String() string {
	posting, _ := json.MarshalIndent(p.Posting, "", "  ")

	var b strings.Builder
	b.WriteString("You are a technical recruiter rating how well a candidate fits a job posting.\n")
	b.WriteString("Rate the fit from 0 (no fit) to 100 (perfect fit).\n")
	b.WriteString("Respond with a single JSON object and nothing else:\n")
	b.WriteString(`{"score": number, "justification": string, "matched_skills": [string], `)
	b.WriteString(`"missing_skills": [string], "strengths": [string], "gaps": [string]}` + "\n\n")
	b.WriteString("Job posting:\n")
	b.Write(posting)
	b.WriteString("\n\nCandidate profile:\n")
	b.WriteString(p.Profile.PromptJSON())
	b.WriteString("\n")
	if p.ExtraInformation != "" {
		b.WriteString("\nAdditional context from the candidate:\n" + p.ExtraInformation + "\n")
	}
	return b.String()
}
