// internal/workers/pipeline/score-job/models.go
package scorejob

import (
	"context"

	"jobpilot-workers/internal/models"
	"jobpilot-workers/internal/profile"
)

type Store interface {
	ListUnscoredExtractions(ctx context.Context, applicationID string, limit int) ([]*models.JobExtraction, error)
	GetApplication(ctx context.Context, id string) (*models.JobApplication, error)
	RecordScoring(ctx context.Context, sc *models.JobScoring, rationale string, status models.Status) error
	MarkFailed(ctx context.Context, id, message, trace string) error
}

// ProfileSource yields the candidate profile snapshot.
type ProfileSource interface {
	Current(ctx context.Context) (*profile.Profile, error)
}

const responseSchema = `{
	"type": "object",
	"required": ["score", "justification"],
	"properties": {
		"score": {"type": "number", "minimum": 0, "maximum": 100},
		"justification": {"type": "string", "minLength": 1},
		"matched_skills": {"type": "array", "items": {"type": "string"}},
		"missing_skills": {"type": "array", "items": {"type": "string"}},
		"strengths": {"type": "array", "items": {"type": "string"}},
		"gaps": {"type": "array", "items": {"type": "string"}}
	}
}`
