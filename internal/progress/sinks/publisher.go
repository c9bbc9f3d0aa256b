package sinks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/sweep-progress/internal/progress"
)

// Publisher sends a JSON-serializable payload to a named topic and returns
// the broker's message ID.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// CompletionNotice is published once per finished run.
type CompletionNotice struct {
	Topic       string         `json:"topic"`
	Progress    int            `json:"progress"`
	State       progress.State `json:"state"`
	CompletedAt time.Time      `json:"completed_at"`
}

// PublisherSink announces finished runs on a message topic. Other event kinds
// are ignored.
type PublisherSink struct {
	publisher Publisher
	topic     string
	logger    *zap.Logger
}

// NewPublisherSink builds a sink publishing to topic through publisher.
func NewPublisherSink(publisher Publisher, topic string, logger *zap.Logger) *PublisherSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PublisherSink{publisher: publisher, topic: topic, logger: logger}
}

// Consume publishes a CompletionNotice for every DRIVER_DONE event. A failed
// publish does not stop the rest of the batch; all failures are returned
// together.
func (s *PublisherSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.publisher == nil {
		return nil
	}
	var errs []error
	for _, evt := range batch {
		if evt.Kind != progress.KindDriverDone {
			continue
		}
		notice := CompletionNotice{
			Topic:       evt.Topic,
			Progress:    evt.Snapshot.Progress,
			State:       evt.Snapshot.State,
			CompletedAt: evt.TS,
		}
		id, err := s.publisher.Publish(ctx, s.topic, notice)
		if err != nil {
			s.logger.Warn("completion publish failed", zap.String("topic", evt.Topic), zap.Error(err))
			errs = append(errs, fmt.Errorf("publish completion for %q: %w", evt.Topic, err))
			continue
		}
		s.logger.Debug("completion published", zap.String("topic", evt.Topic), zap.String("message_id", id))
	}
	return errors.Join(errs...)
}

// Close implements the Sink interface; it performs no action.
func (s *PublisherSink) Close(context.Context) error {
	return nil
}
