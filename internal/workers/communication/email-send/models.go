package emailsend

import (
	"context"

	"jobpilot-workers/internal/models"
)

// Email is one outbound application email.
type Email struct {
	From        string
	To          string
	ReplyTo     string
	Subject     string
	HTMLBody    string
	Attachments []Attachment
}

type Attachment struct {
	Filename    string
	ContentType string
	Content     []byte
}

// Sender delivers an email and returns the provider message id.
type Sender interface {
	SendEmail(ctx context.Context, e Email) (string, error)
}

type Store interface {
	ListUnsentVersions(ctx context.Context, applicationID string, limit int) ([]*models.JobApplicationVersion, error)
	GetVersion(ctx context.Context, id string) (*models.JobApplicationVersion, error)
	SaveVersion(ctx context.Context, v *models.JobApplicationVersion) error
	MarkVersionSent(ctx context.Context, id string) error
	GetApplication(ctx context.Context, id string) (*models.JobApplication, error)
	LatestExtraction(ctx context.Context, applicationID string) (*models.JobExtraction, error)
	UpdateStatus(ctx context.Context, id string, status models.Status) error
	MarkFailed(ctx context.Context, id, message, trace string) error
}
