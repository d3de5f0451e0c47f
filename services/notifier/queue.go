package notifier

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/aulnovauk/fieldops/internal/domain"
	"github.com/aulnovauk/fieldops/internal/postgres"
	"github.com/aulnovauk/fieldops/internal/push"
	"github.com/aulnovauk/fieldops/pkg/backoff"
	"github.com/aulnovauk/fieldops/pkg/telemetry"
)

const (
	// drainBatchSize is how many due items one drain pass claims.
	drainBatchSize = 50
	// staleAfter is how long an item may sit in processing before a
	// later drain assumes its owner crashed and re-claims it.
	staleAfter = 10 * time.Minute
)

// QueueProcessor drains the push queue: claim due items, deliver them
// in a batch, then settle each one as completed, rescheduled or failed.
type QueueProcessor struct {
	queue     postgres.QueueRepository
	tokens    postgres.TokenRepository
	transport push.Transport
	now       func() time.Time
	logger    *slog.Logger
}

func NewQueueProcessor(
	queue postgres.QueueRepository,
	tokens postgres.TokenRepository,
	transport push.Transport,
	logger *slog.Logger,
) *QueueProcessor {
	return &QueueProcessor{
		queue:     queue,
		tokens:    tokens,
		transport: transport,
		now:       time.Now,
		logger:    logger,
	}
}

// WithClock overrides the time source. Test hook.
func (p *QueueProcessor) WithClock(now func() time.Time) *QueueProcessor {
	p.now = now
	return p
}

// Drain runs one pass and returns how many items it claimed.
func (p *QueueProcessor) Drain(ctx context.Context) (int, error) {
	ctx, span := otel.Tracer("notifier").Start(ctx, "queue.drain")
	defer span.End()

	started := p.now()
	defer func() {
		telemetry.QueueDrainDurationSeconds.Observe(p.now().Sub(started).Seconds())
	}()

	now := p.now().UTC()
	items, err := p.queue.ClaimDue(ctx, drainBatchSize, now, now.Add(-staleAfter))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "claim failed")
		return 0, err
	}
	span.SetAttributes(attribute.Int("queue.claimed", len(items)))
	if len(items) == 0 {
		return 0, nil
	}

	msgs := make([]push.Message, len(items))
	for i, item := range items {
		msgs[i] = push.Message{Token: item.Token, Payload: item.Payload}
	}

	tickets, err := p.transport.SendBatch(ctx, msgs)
	if err != nil {
		// Transport-level failure: nothing was delivered, every item in
		// the batch retries.
		span.RecordError(err)
		p.logger.Error("push batch failed", slog.String("error", err.Error()))
		for _, item := range items {
			p.settleFailure(ctx, item, err.Error(), false)
		}
		return len(items), nil
	}

	for i, item := range items {
		if tickets[i].OK {
			p.settleSuccess(ctx, item)
			continue
		}
		p.settleFailure(ctx, item, tickets[i].Error, tickets[i].DeviceNotRegistered)
	}
	return len(items), nil
}

func (p *QueueProcessor) settleSuccess(ctx context.Context, item *domain.PushQueueItem) {
	if err := p.queue.Complete(ctx, item.ID); err != nil {
		p.logger.Error("failed to complete queue item",
			slog.String("item_id", item.ID), slog.String("error", err.Error()))
		return
	}
	if err := p.tokens.ResetFailures(ctx, item.Token, p.now().UTC()); err != nil {
		p.logger.Error("failed to reset token failures",
			slog.String("item_id", item.ID), slog.String("error", err.Error()))
	}
	telemetry.QueueDeliveries.WithLabelValues("completed").Inc()
}

// settleFailure handles one failed delivery: token health accounting,
// then either terminal failure or a backoff reschedule.
func (p *QueueProcessor) settleFailure(ctx context.Context, item *domain.PushQueueItem, cause string, permanent bool) {
	log := p.logger.With(slog.String("item_id", item.ID))

	if permanent {
		if err := p.tokens.Deactivate(ctx, item.Token); err != nil {
			log.Error("failed to deactivate token", slog.String("error", err.Error()))
		} else {
			telemetry.QueueTokensDeactivated.Inc()
		}
		if err := p.queue.Fail(ctx, item.ID, item.Attempts+1, cause); err != nil {
			log.Error("failed to mark item failed", slog.String("error", err.Error()))
			return
		}
		telemetry.QueueDeliveries.WithLabelValues("failed").Inc()
		log.Warn("token permanently invalid, delivery failed", slog.String("cause", cause))
		return
	}

	count, err := p.tokens.IncrementFailure(ctx, item.Token)
	if err != nil {
		log.Error("failed to increment token failures", slog.String("error", err.Error()))
	} else if count >= domain.MaxTokenFailures {
		if err := p.tokens.Deactivate(ctx, item.Token); err != nil {
			log.Error("failed to deactivate token", slog.String("error", err.Error()))
		} else {
			telemetry.QueueTokensDeactivated.Inc()
			log.Warn("token deactivated after repeated failures", slog.Int("failures", count))
		}
	}

	attempts := item.Attempts + 1
	if attempts >= item.MaxAttempts {
		if err := p.queue.Fail(ctx, item.ID, attempts, cause); err != nil {
			log.Error("failed to mark item failed", slog.String("error", err.Error()))
			return
		}
		telemetry.QueueDeliveries.WithLabelValues("failed").Inc()
		log.Warn("delivery failed after max attempts",
			slog.Int("attempts", attempts), slog.String("cause", cause))
		return
	}

	next := p.now().UTC().Add(backoff.Delay(item.Attempts))
	if err := p.queue.Reschedule(ctx, item.ID, attempts, next, cause); err != nil {
		log.Error("failed to reschedule item", slog.String("error", err.Error()))
		return
	}
	telemetry.QueueDeliveries.WithLabelValues("retried").Inc()
	log.Info("delivery rescheduled",
		slog.Int("attempts", attempts),
		slog.Time("next_retry_at", next),
		slog.String("cause", cause),
	)
}
