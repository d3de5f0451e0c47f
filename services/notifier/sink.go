package notifier

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/aulnovauk/fieldops/internal/domain"
	"github.com/aulnovauk/fieldops/internal/kafka"
)

// LocalSink adapts the dispatcher to the fire-and-forget event sink the
// allocation and lifecycle packages expect. Dispatch errors are logged,
// never propagated; notifications must not fail business writes.
type LocalSink struct {
	dispatcher *Dispatcher
	logger     *slog.Logger
}

func NewLocalSink(dispatcher *Dispatcher, logger *slog.Logger) *LocalSink {
	return &LocalSink{dispatcher: dispatcher, logger: logger}
}

func (s *LocalSink) Notify(ctx context.Context, req domain.NotificationRequest) {
	if _, err := s.dispatcher.BulkNotify(ctx, req); err != nil {
		s.logger.Error("notification dispatch failed",
			slog.String("type", string(req.Type)),
			slog.String("error", err.Error()),
		)
	}
}

// KafkaSink publishes notification requests to notify.requests for the
// notifier service to dispatch. Used by processes that should not hold
// notification storage themselves.
type KafkaSink struct {
	producer kafka.Producer
	logger   *slog.Logger
}

func NewKafkaSink(producer kafka.Producer, logger *slog.Logger) *KafkaSink {
	return &KafkaSink{producer: producer, logger: logger}
}

func (s *KafkaSink) Notify(ctx context.Context, req domain.NotificationRequest) {
	value, err := json.Marshal(req)
	if err != nil {
		s.logger.Error("failed to marshal notification request", slog.String("error", err.Error()))
		return
	}
	key := req.EntityID
	if key == "" {
		key = string(req.Type)
	}
	if err := s.producer.Publish(ctx, TopicRequests, key, value); err != nil {
		s.logger.Error("failed to publish notification request",
			slog.String("type", string(req.Type)),
			slog.String("error", err.Error()),
		)
	}
}
