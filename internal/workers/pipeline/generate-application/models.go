// internal/workers/pipeline/generate-application/models.go
package generateapplication

import (
	"context"

	"jobpilot-workers/internal/models"
	"jobpilot-workers/internal/profile"
)

type Store interface {
	ListGenerationCandidates(ctx context.Context, applicationID string, threshold, limit int) ([]string, error)
	GetApplication(ctx context.Context, id string) (*models.JobApplication, error)
	LatestExtraction(ctx context.Context, applicationID string) (*models.JobExtraction, error)
	LatestScoring(ctx context.Context, applicationID string) (*models.JobScoring, error)
	LatestVersion(ctx context.Context, applicationID string) (*models.JobApplicationVersion, error)
	CreateVersion(ctx context.Context, v *models.JobApplicationVersion) error
	SaveVersion(ctx context.Context, v *models.JobApplicationVersion) error
	UpdateStatus(ctx context.Context, id string, status models.Status) error
	MarkFailed(ctx context.Context, id, message, trace string) error
}

type ProfileSource interface {
	Current(ctx context.Context) (*profile.Profile, error)
}

const responseSchema = `{
	"type": "object",
	"required": ["cover_letter", "email_subject", "email_body", "resume"],
	"properties": {
		"cover_letter": {"type": "string", "minLength": 1},
		"email_subject": {"type": "string", "minLength": 1},
		"email_body": {"type": "string", "minLength": 1},
		"resume": {"type": "object", "minProperties": 1}
	}
}`
