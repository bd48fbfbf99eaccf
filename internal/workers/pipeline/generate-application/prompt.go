package generateapplication

import (
	"encoding/json"
	"strings"

	"jobpilot-workers/internal/models"
	"jobpilot-workers/internal/profile"
)

// GenerationPrompt requests every application text in one call.
type GenerationPrompt struct {
	Posting          map[string]interface{}
	Scoring          models.ScoringResult
	Language         string
	ExtraInformation string
	Profile          *profile.Profile
}

func (p GenerationPrompt) String() string {
	posting, _ := json.MarshalIndent(p.Posting, "", "  ")
	base, _ := json.MarshalIndent(p.Profile.ResumeBase(), "", "  ")

	lang := p.Language
	if lang == "" || lang == "und" {
		lang = "the language of the job posting"
	}

	var b strings.Builder
	b.WriteString("You write job applications on behalf of a candidate.\n")
	b.WriteString("Write everything in " + lang + ". Never invent experience the profile does not contain.\n")
	b.WriteString("Respond with a single JSON object and nothing else:\n")
	b.WriteString(`{"cover_letter": string, "email_subject": string, "email_body": string (HTML), `)
	b.WriteString(`"resume": {"objective": string, "summary": string, "skills": [string], "languages": [string], `)
	b.WriteString(`"experience": [{"title": string, "company": string, "period": string, "description": string, "highlights": [string]}], `)
	b.WriteString(`"education": [{"degree": string, "institution": string, "period": string}], `)
	b.WriteString(`"projects": [{"name": string, "description": string}], "certifications": [string]}}` + "\n")
	b.WriteString("Tailor the resume to the posting; order skills and experience by relevance.\n\n")

	b.WriteString("Job posting:\n")
	b.Write(posting)
	b.WriteString("\n\nFit assessment:\n" + p.Scoring.Justification + "\n")
	if len(p.Scoring.MatchedSkills) > 0 {
		b.WriteString("Matched skills: " + strings.Join(p.Scoring.MatchedSkills, ", ") + "\n")
	}
	if len(p.Scoring.Strengths) > 0 {
		b.WriteString("Strengths: " + strings.Join(p.Scoring.Strengths, ", ") + "\n")
	}
	b.WriteString("\nCandidate profile:\n" + p.Profile.PromptJSON() + "\n")
	b.WriteString("\nBase resume:\n")
	b.Write(base)
	b.WriteString("\n")
	if p.ExtraInformation != "" {
		b.WriteString("\nAdditional instructions from the candidate:\n" + p.ExtraInformation + "\n")
	}
	return b.String()
}
