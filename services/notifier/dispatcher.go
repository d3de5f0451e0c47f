// Package notifier turns business events into stored notifications and
// queued push deliveries. Dedupe happens here, at dispatch time, so
// downstream retries can never double-notify a recipient.
package notifier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/aulnovauk/fieldops/internal/domain"
	"github.com/aulnovauk/fieldops/internal/postgres"
	redisstore "github.com/aulnovauk/fieldops/internal/redis"
	"github.com/aulnovauk/fieldops/pkg/telemetry"
)

// DefaultMaxAttempts is how many delivery attempts a queued push gets
// before it is terminally failed.
const DefaultMaxAttempts = 10

// Dispatcher fans a notification request out to recipients: one stored
// record per recipient plus one queued push per active device token.
type Dispatcher struct {
	notifications postgres.NotificationRepository
	tokens        postgres.TokenRepository
	queue         postgres.QueueRepository
	dedupe        redisstore.Deduper // nil = DB-only dedupe
	now           func() time.Time
	logger        *slog.Logger
}

func NewDispatcher(
	notifications postgres.NotificationRepository,
	tokens postgres.TokenRepository,
	queue postgres.QueueRepository,
	dedupe redisstore.Deduper,
	logger *slog.Logger,
) *Dispatcher {
	return &Dispatcher{
		notifications: notifications,
		tokens:        tokens,
		queue:         queue,
		dedupe:        dedupe,
		now:           time.Now,
		logger:        logger,
	}
}

// WithClock overrides the time source. Test hook.
func (d *Dispatcher) WithClock(now func() time.Time) *Dispatcher {
	d.now = now
	return d
}

type pushPayload struct {
	NotificationID string                  `json:"notification_id"`
	Type           domain.NotificationType `json:"type"`
	Title          string                  `json:"title"`
	Message        string                  `json:"message"`
	EntityType     string                  `json:"entity_type,omitempty"`
	EntityID       string                  `json:"entity_id,omitempty"`
}

// Notify dispatches a request to a single recipient. Returns (nil, nil)
// when the notification was suppressed as a duplicate inside the dedupe
// window.
func (d *Dispatcher) Notify(ctx context.Context, recipientID string, req domain.NotificationRequest) (*domain.NotificationRecord, error) {
	ctx, span := otel.Tracer("notifier").Start(ctx, "notifier.notify")
	defer span.End()
	span.SetAttributes(
		attribute.String("notification.type", string(req.Type)),
		attribute.String("notification.recipient", recipientID),
	)

	key := req.DedupeKey
	if key == "" {
		key = domain.DedupeKey(req.EntityType, req.EntityID, req.Type)
	}
	now := d.now().UTC()

	fresh, err := d.claim(ctx, recipientID, req.Type, key, now)
	if err != nil {
		return nil, err
	}
	if !fresh {
		telemetry.NotificationsSuppressed.WithLabelValues(string(req.Type)).Inc()
		d.logger.Debug("duplicate notification suppressed",
			slog.String("recipient_id", recipientID),
			slog.String("type", string(req.Type)),
			slog.String("dedupe_key", key),
		)
		return nil, nil
	}

	rec := &domain.NotificationRecord{
		ID:          uuid.NewString(),
		RecipientID: recipientID,
		Type:        req.Type,
		Title:       req.Title,
		Message:     req.Message,
		EntityType:  req.EntityType,
		EntityID:    req.EntityID,
		DedupeKey:   key,
		CreatedAt:   now,
	}
	if err := d.notifications.Insert(ctx, rec); err != nil {
		return nil, err
	}

	if err := d.enqueuePush(ctx, rec); err != nil {
		// The record exists; losing the push is recoverable, losing the
		// record is not. Log and keep going.
		d.logger.Error("failed to enqueue push",
			slog.String("notification_id", rec.ID),
			slog.String("error", err.Error()),
		)
	}

	telemetry.NotificationsDispatched.WithLabelValues(string(req.Type)).Inc()
	return rec, nil
}

// BulkNotify dispatches to every recipient in the request. Recipients
// are deduplicated first; each dispatch is independent, and the joined
// error reports only the ones that failed.
func (d *Dispatcher) BulkNotify(ctx context.Context, req domain.NotificationRequest) ([]*domain.NotificationRecord, error) {
	seen := make(map[string]struct{}, len(req.Recipients))
	var (
		records []*domain.NotificationRecord
		errs    []error
	)
	for _, recipient := range req.Recipients {
		if recipient == "" {
			continue
		}
		if _, dup := seen[recipient]; dup {
			continue
		}
		seen[recipient] = struct{}{}

		rec, err := d.Notify(ctx, recipient, req)
		if err != nil {
			errs = append(errs, fmt.Errorf("notify %s: %w", recipient, err))
			continue
		}
		if rec != nil {
			records = append(records, rec)
		}
	}
	return records, errors.Join(errs...)
}

// claim decides whether this (recipient, type, key) tuple is fresh.
// Redis is the primary arbiter; when it errors, fall back to a DB
// lookup so a Redis outage degrades to slower dedupe, not none.
func (d *Dispatcher) claim(ctx context.Context, recipientID string, typ domain.NotificationType, key string, now time.Time) (bool, error) {
	if d.dedupe != nil {
		fresh, err := d.dedupe.Claim(ctx, recipientID, typ, key)
		if err == nil {
			return fresh, nil
		}
		d.logger.Warn("dedupe claim failed, falling back to database",
			slog.String("error", err.Error()),
		)
	}

	exists, err := d.notifications.ExistsSince(ctx, recipientID, typ, key, now.Add(-domain.DedupeWindow))
	if err != nil {
		return false, fmt.Errorf("dedupe lookup for %s: %w", recipientID, err)
	}
	return !exists, nil
}

func (d *Dispatcher) enqueuePush(ctx context.Context, rec *domain.NotificationRecord) error {
	toks, err := d.tokens.ListActive(ctx, rec.RecipientID, domain.MaxTokenFailures)
	if err != nil {
		return err
	}
	if len(toks) == 0 {
		return nil
	}

	payload, err := json.Marshal(pushPayload{
		NotificationID: rec.ID,
		Type:           rec.Type,
		Title:          rec.Title,
		Message:        rec.Message,
		EntityType:     rec.EntityType,
		EntityID:       rec.EntityID,
	})
	if err != nil {
		return fmt.Errorf("marshal push payload: %w", err)
	}

	now := d.now().UTC()
	items := make([]*domain.PushQueueItem, 0, len(toks))
	for _, t := range toks {
		items = append(items, &domain.PushQueueItem{
			ID:          uuid.NewString(),
			Token:       t.Token,
			Payload:     payload,
			Status:      domain.QueuePending,
			MaxAttempts: DefaultMaxAttempts,
			NextRetryAt: now,
			CreatedAt:   now,
		})
	}
	return d.queue.Enqueue(ctx, items)
}
