package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/cuongbtq/taskcore/internal/domain"
	"github.com/cuongbtq/taskcore/shared/rabbitmq"
)

// DispatchMessage is published on the dispatch queue when a job becomes claimable.
// It only wakes a slot; the slot still claims from the store, so a message
// may lead to a different job or to none at all.
type DispatchMessage struct {
	JobID    string `json:"job_id"`
	Priority int    `json:"priority"`
}

// DispatchSource opens a consumer on the dispatch queue
type DispatchSource interface {
	ConsumeDispatch(consumerTag string) (*rabbitmq.Subscription, error)
}

// DispatchPublisher sends dispatch messages
type DispatchPublisher interface {
	PublishWithRetry(ctx context.Context, body []byte, contentType string) error
}

// Signaler publishes a dispatch message for each newly queued job
type Signaler struct {
	publisher DispatchPublisher
}

// NewSignaler creates a new Signaler
func NewSignaler(publisher DispatchPublisher) *Signaler {
	return &Signaler{publisher: publisher}
}

// Signal implements jobstore.Signaler
func (s *Signaler) Signal(ctx context.Context, job *domain.Job) error {
	body, err := json.Marshal(DispatchMessage{JobID: job.ID, Priority: job.Priority})
	if err != nil {
		return fmt.Errorf("failed to encode dispatch message: %w", err)
	}
	return s.publisher.PublishWithRetry(ctx, body, "application/json")
}

// consumeDispatch keeps a dispatch consumer open for the life of the pool
func (p *Pool) consumeDispatch(ctx context.Context) {
	defer p.wg.Done()

	for {
		sub, err := p.dispatch.ConsumeDispatch(p.workerID)
		if err != nil {
			p.logger.Warn("Failed to start dispatch consumer, relying on polling",
				slog.Duration("retry_after", p.maxBackoff),
				slog.String("error", err.Error()),
			)
		} else {
			p.startMessageDispatcher(ctx, sub)
		}

		if !sleep(ctx, p.maxBackoff) {
			return
		}
	}
}

// startMessageDispatcher acknowledges dispatch messages and wakes idle slots
func (p *Pool) startMessageDispatcher(ctx context.Context, sub *rabbitmq.Subscription) {
	defer sub.Close()

	p.logger.Info("Dispatch consumer started")

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("Dispatch consumer stopped - context canceled")
			return

		case delivery, ok := <-sub.Deliveries:
			if !ok {
				p.logger.Warn("RabbitMQ delivery channel closed")
				return
			}
			p.handleDelivery(delivery)
		}
	}
}

func (p *Pool) handleDelivery(delivery amqp.Delivery) {
	var msg DispatchMessage
	if err := json.Unmarshal(delivery.Body, &msg); err != nil {
		p.logger.Error("Failed to parse dispatch message",
			slog.String("error", err.Error()),
			slog.String("body", string(delivery.Body)),
		)
		// Malformed messages are not redelivered
		if nackErr := delivery.Nack(false, false); nackErr != nil {
			p.logger.Error("Failed to NACK malformed message",
				slog.String("error", nackErr.Error()),
			)
		}
		return
	}

	if _, err := uuid.Parse(msg.JobID); err != nil {
		p.logger.Error("Invalid job_id format - not a UUID",
			slog.String("job_id", msg.JobID),
		)
		if nackErr := delivery.Nack(false, false); nackErr != nil {
			p.logger.Error("Failed to NACK message with invalid job_id",
				slog.String("error", nackErr.Error()),
			)
		}
		return
	}

	if err := delivery.Ack(false); err != nil {
		p.logger.Error("Failed to ACK dispatch message",
			slog.String("job_id", msg.JobID),
			slog.String("error", err.Error()),
		)
	}

	p.logger.Debug("Dispatch message received",
		slog.String("job_id", msg.JobID),
		slog.Int("priority", msg.Priority),
	)
	p.Nudge()
}
