// Package dedup decides whether an incoming posting is new and, if so,
// seeds its JobApplication.
package dedup

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"

	apperrors "jobpilot-workers/internal/common/errors"
	"jobpilot-workers/internal/common/logger"
	"jobpilot-workers/internal/models"
	"jobpilot-workers/internal/store"

	"github.com/google/uuid"
)

// Decision is the outcome of one Process call. For duplicates ApplicationID
// points at the application created by the first submission.
type Decision struct {
	Accepted      bool
	ApplicationID string
	MatchedBy     string
}

type Gate struct {
	store  *store.Store
	logger logger.Logger
}

func NewGate(s *store.Store, log logger.Logger) *Gate {
	return &Gate{
		store:  s,
		logger: log.WithFields(map[string]interface{}{"component": "dedup"}),
	}
}

// Fingerprint is the hex sha256 of the link, or of the body when the posting
// has no link.
func Fingerprint(link, content string) string {
	key := link
	if key == "" {
		key = content
	}
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// Process checks link then raw content. A new posting is persisted as a
// pending application with extraction v1 and its dedup record in one
// transaction.
func (g *Gate) Process(ctx context.Context, p models.JobPayload) (*Decision, error) {
	link := p.Data.Link()
	content := p.Data.RawContent()
	if link == "" && content == "" {
		return nil, apperrors.NewInvalid(apperrors.ErrCodeMissingField,
			"posting has neither link nor content", "data.job.link")
	}

	if link != "" {
		existing, err := g.store.FindDedupByLink(ctx, link)
		if err == nil {
			return g.duplicate(existing, "link"), nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
	}
	if content != "" {
		existing, err := g.store.FindDedupByRawContent(ctx, content)
		if err == nil {
			return g.duplicate(existing, "raw_content"), nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
	}

	app := &models.JobApplication{
		ID:          uuid.NewString(),
		Status:      models.StatusPending,
		RawPayload:  p.ToMap(),
		Description: content,
		CallbackURL: p.CallbackURL,
		Priority:    p.Priority,
	}
	extraction := &models.JobExtraction{
		ID:               uuid.NewString(),
		JobApplicationID: app.ID,
		VersionNumber:    1,
		Payload:          seedPayload(p.Data),
	}
	record := &models.JobDeduplication{
		ID:               uuid.NewString(),
		Fingerprint:      Fingerprint(link, content),
		Link:             link,
		RawContent:       content,
		JobApplicationID: app.ID,
	}

	err := g.store.InTx(ctx, func(tx *store.Store) error {
		if err := tx.CreateApplication(ctx, app); err != nil {
			return err
		}
		if err := tx.CreateExtraction(ctx, extraction); err != nil {
			return err
		}
		return tx.CreateDedup(ctx, record)
	})
	if err != nil {
		return nil, err
	}

	g.logger.Info("posting accepted", map[string]interface{}{
		"applicationId": app.ID,
		"jobId":         p.JobID,
		"link":          link,
	})
	return &Decision{Accepted: true, ApplicationID: app.ID}, nil
}

func (g *Gate) duplicate(d *models.JobDeduplication, by string) *Decision {
	g.logger.Info("duplicate posting", map[string]interface{}{
		"applicationId": d.JobApplicationID,
		"matchedBy":     by,
	})
	return &Decision{ApplicationID: d.JobApplicationID, MatchedBy: by}
}

// seedPayload copies the raw job fields and carries the image blob, if any,
// for the extraction stage.
func seedPayload(d models.JobData) map[string]interface{} {
	payload := make(map[string]interface{}, len(d.Job)+1)
	for k, v := range d.Job {
		payload[k] = v
	}
	if d.Image != "" {
		payload[models.PayloadKeyImage] = d.Image
	}
	delete(payload, models.PayloadKeyLanguage)
	return payload
}
