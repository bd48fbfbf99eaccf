// Package notify publishes operator events when an application settles.
package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"jobpilot-workers/internal/common/logger"
	"jobpilot-workers/internal/models"
)

type Notifier interface {
	Notify(ctx context.Context, n models.Notification) error
}

type TopicPublisher interface {
	PublishToTopic(ctx context.Context, topicARN, subject, message string) (string, error)
}

// SNSNotifier publishes each notification as JSON to one topic.
type SNSNotifier struct {
	publisher TopicPublisher
	topicARN  string
	logger    logger.Logger
}

func NewSNSNotifier(publisher TopicPublisher, topicARN string, log logger.Logger) *SNSNotifier {
	return &SNSNotifier{
		publisher: publisher,
		topicARN:  topicARN,
		logger:    log.WithFields(map[string]interface{}{"component": "notify"}),
	}
}

func (s *SNSNotifier) Notify(ctx context.Context, n models.Notification) error {
	body, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}
	id, err := s.publisher.PublishToTopic(ctx, s.topicARN, n.Subject(), string(body))
	if err != nil {
		return fmt.Errorf("publish notification: %w", err)
	}
	s.logger.Debug("notification published", map[string]interface{}{
		"applicationId": n.ApplicationID,
		"status":        string(n.Status),
		"messageId":     id,
	})
	return nil
}

// Noop is used when no topic is configured.
type Noop struct{}

func (Noop) Notify(context.Context, models.Notification) error { return nil }

// BestEffort sends n and only logs failures; notifications never fail a stage.
func BestEffort(ctx context.Context, notifier Notifier, log logger.Logger, n models.Notification) {
	if notifier == nil {
		return
	}
	if err := notifier.Notify(ctx, n); err != nil {
		log.Warn("notification failed", map[string]interface{}{
			"applicationId": n.ApplicationID,
			"error":         err.Error(),
		})
	}
}
