package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	apperrors "jobpilot-workers/internal/common/errors"
	"jobpilot-workers/internal/common/logger"
	"jobpilot-workers/internal/models"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Producer publishes persistent JSON messages. With an empty exchange the
// routing key is the queue name on the default exchange.
type Producer struct {
	ch       Channel
	exchange string
	logger   logger.Logger
}

func NewProducer(ch Channel, exchange string, log logger.Logger) *Producer {
	return &Producer{ch: ch, exchange: exchange, logger: log}
}

// Publish returns the generated message id.
func (p *Producer) Publish(ctx context.Context, queue string, msg interface{}) (string, error) {
	body, err := json.Marshal(msg)
	if err != nil {
		return "", apperrors.NewFatal(apperrors.ErrCodeInternal, "encode message", err)
	}
	id := uuid.NewString()
	err = p.ch.PublishWithContext(ctx, p.exchange, queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    id,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	})
	if err != nil {
		return "", apperrors.NewRetryable(apperrors.ErrCodeBrokerUnavailable, "publish to "+queue, err)
	}
	p.logger.Debug("message published", map[string]interface{}{"queue": queue, "messageId": id})
	return id, nil
}

// Queues names the three intake queues.
type Queues struct {
	Intake    string
	MarkDone  string
	Reprocess string
}

// Coordinator submits work to the intake queues.
type Coordinator struct {
	producer *Producer
	queues   Queues
}

func NewCoordinator(p *Producer, queues Queues) *Coordinator {
	return &Coordinator{producer: p, queues: queues}
}

// SubmitJob fills in a job id when the caller left it empty.
func (c *Coordinator) SubmitJob(ctx context.Context, payload models.JobPayload) (string, error) {
	if payload.Type == "" {
		payload.Type = models.JobTypeApplication
	}
	if payload.JobID == "" {
		payload.JobID = uuid.NewString()
	}
	if _, err := c.producer.Publish(ctx, c.queues.Intake, payload); err != nil {
		return "", err
	}
	return payload.JobID, nil
}

func (c *Coordinator) MarkDone(ctx context.Context, applicationID string) error {
	if applicationID == "" {
		return apperrors.NewMissingFieldError("id")
	}
	_, err := c.producer.Publish(ctx, c.queues.MarkDone, models.MarkDoneMessage{ID: applicationID})
	return err
}

func (c *Coordinator) Reprocess(ctx context.Context, applicationID, message string) error {
	if applicationID == "" {
		return apperrors.NewMissingFieldError("id")
	}
	_, err := c.producer.Publish(ctx, c.queues.Reprocess, models.ReprocessMessage{ID: applicationID, Message: message})
	if err != nil {
		return fmt.Errorf("reprocess %s: %w", applicationID, err)
	}
	return nil
}
