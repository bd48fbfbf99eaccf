package processjob

import (
	"context"

	"jobpilot-workers/internal/dedup"
	"jobpilot-workers/internal/models"
)

// Gate is satisfied by dedup.Gate.
type Gate interface {
	Process(ctx context.Context, p models.JobPayload) (*dedup.Decision, error)
}

type Store interface {
	GetApplication(ctx context.Context, id string) (*models.JobApplication, error)
}
