// internal/workers/pipeline/extract-job/models.go
package extractjob

import (
	"context"

	"jobpilot-workers/internal/models"
)

// Store is the slice of the job state store this stage uses.
type Store interface {
	ListPendingExtractions(ctx context.Context, applicationID string, limit int) ([]*models.JobExtraction, error)
	GetApplication(ctx context.Context, id string) (*models.JobApplication, error)
	UpdateStatus(ctx context.Context, id string, status models.Status) error
	SaveExtraction(ctx context.Context, extractionID string, payload map[string]interface{}, app *models.JobApplication) error
	MarkFailed(ctx context.Context, id, message, trace string) error
}

const (
	NoDescription      = "[NO DESCRIPTION]"
	UndeterminedLang   = "und"
	imageTextSeparator = "\n\n--- Text from attached image ---\n"
)
