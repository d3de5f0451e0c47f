package notifier

import (
	"context"
	"encoding/json"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/aulnovauk/fieldops/internal/domain"
	"github.com/aulnovauk/fieldops/internal/kafka"
)

// TopicRequests carries NotificationRequest messages from other services.
const TopicRequests = "notify.requests"

// Consumer bridges the notify.requests topic to the dispatcher.
type Consumer struct {
	consumer   kafka.Consumer
	dispatcher *Dispatcher
	logger     *slog.Logger
}

func NewConsumer(consumer kafka.Consumer, dispatcher *Dispatcher, logger *slog.Logger) *Consumer {
	return &Consumer{consumer: consumer, dispatcher: dispatcher, logger: logger}
}

// Run starts consuming. Blocks until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context) error {
	return c.consumer.Subscribe(ctx, c.handle)
}

func (c *Consumer) handle(ctx context.Context, msg kafka.Message) error {
	ctx, span := otel.Tracer("notifier").Start(ctx, "notifier.consume")
	defer span.End()

	var req domain.NotificationRequest
	if err := json.Unmarshal(msg.Value, &req); err != nil {
		// Malformed payloads never become valid; commit and move on.
		c.logger.Error("malformed notification request, dropping",
			slog.Int64("offset", msg.Offset),
			slog.String("error", err.Error()),
		)
		span.RecordError(err)
		span.SetStatus(codes.Error, "malformed request")
		return nil
	}

	span.SetAttributes(
		attribute.String("notification.type", string(req.Type)),
		attribute.Int("notification.recipients", len(req.Recipients)),
	)

	// A partial failure returns an error so the message is re-delivered;
	// dedupe claims keep the already-notified recipients quiet on replay.
	_, err := c.dispatcher.BulkNotify(ctx, req)
	return err
}
