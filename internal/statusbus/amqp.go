package statusbus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/taskcore/internal/domain"
	"github.com/cuongbtq/taskcore/shared/rabbitmq"
)

// EventPublisher is the broker side of AMQPPublisher
type EventPublisher interface {
	PublishEvent(ctx context.Context, body []byte) error
}

// AMQPPublisher publishes status events on the broker's fanout exchange
type AMQPPublisher struct {
	broker EventPublisher
}

// NewAMQPPublisher creates a new AMQPPublisher
func NewAMQPPublisher(broker EventPublisher) *AMQPPublisher {
	return &AMQPPublisher{broker: broker}
}

// Publish encodes the event as JSON and hands it to the broker
func (p *AMQPPublisher) Publish(ctx context.Context, event domain.Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}
	if err := p.broker.PublishEvent(ctx, body); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

// EventSource opens a subscription on the events exchange
type EventSource interface {
	ConsumeEvents(consumerTag string) (*rabbitmq.Subscription, error)
}

// Relay copies broker events into a local publisher, normally a Hub.
// It subscribes again whenever the broker subscription ends.
type Relay struct {
	source      EventSource
	target      Publisher
	logger      *slog.Logger
	consumerTag string
	retry       time.Duration
}

// Publisher receives relayed events
type Publisher interface {
	Publish(ctx context.Context, event domain.Event) error
}

// NewRelay creates a new Relay
func NewRelay(source EventSource, target Publisher, consumerTag string, retry time.Duration, logger *slog.Logger) *Relay {
	if retry <= 0 {
		retry = 2 * time.Second
	}
	return &Relay{
		source:      source,
		target:      target,
		logger:      logger,
		consumerTag: consumerTag,
		retry:       retry,
	}
}

// Run relays events until ctx is cancelled
func (r *Relay) Run(ctx context.Context) error {
	for {
		sub, err := r.source.ConsumeEvents(r.consumerTag)
		if err != nil {
			r.logger.Warn("Failed to subscribe to status events, retrying",
				slog.Duration("retry_after", r.retry),
				slog.String("error", err.Error()),
			)
		} else {
			r.pump(ctx, sub)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(r.retry):
		}
	}
}

func (r *Relay) pump(ctx context.Context, sub *rabbitmq.Subscription) {
	defer sub.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-sub.Deliveries:
			if !ok {
				r.logger.Warn("Status event subscription closed")
				return
			}
			r.deliver(ctx, msg.Body)
		}
	}
}

func (r *Relay) deliver(ctx context.Context, body []byte) {
	var event domain.Event
	if err := json.Unmarshal(body, &event); err != nil {
		r.logger.Warn("Discarding malformed status event",
			slog.String("error", err.Error()),
		)
		return
	}
	if event.JobID == "" {
		r.logger.Warn("Discarding status event without job id")
		return
	}

	if err := r.target.Publish(ctx, event); err != nil {
		r.logger.Warn("Failed to relay status event",
			slog.String("job_id", event.JobID),
			slog.String("error", err.Error()),
		)
	}
}
