package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aulnovauk/fieldops/internal/domain"
)

// NotificationRepository abstracts notification-record storage.
type NotificationRepository interface {
	Insert(ctx context.Context, rec *domain.NotificationRecord) error
	// ExistsSince reports whether a record with the same (recipient,
	// type, dedupe key) was created at or after the cutoff.
	ExistsSince(ctx context.Context, recipientID string, typ domain.NotificationType, dedupeKey string, cutoff time.Time) (bool, error)
	// DeleteReadBefore removes read notifications older than the cutoff
	// and returns how many were deleted.
	DeleteReadBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type notificationRepository struct {
	pool *pgxpool.Pool
}

// NewNotificationRepository wraps a pgxpool with the NotificationRepository interface.
func NewNotificationRepository(pool *pgxpool.Pool) NotificationRepository {
	return &notificationRepository{pool: pool}
}

func (r *notificationRepository) Insert(ctx context.Context, rec *domain.NotificationRecord) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO notifications
			(id, recipient_id, type, title, message, entity_type, entity_id,
			 dedupe_key, is_read, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`,
		rec.ID, rec.RecipientID, string(rec.Type), rec.Title, rec.Message,
		rec.EntityType, rec.EntityID, rec.DedupeKey, rec.IsRead, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert notification %s: %w", rec.ID, err)
	}
	return nil
}

func (r *notificationRepository) ExistsSince(ctx context.Context, recipientID string, typ domain.NotificationType, dedupeKey string, cutoff time.Time) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM notifications
			WHERE recipient_id = $1 AND type = $2 AND dedupe_key = $3 AND created_at >= $4
		)
	`, recipientID, string(typ), dedupeKey, cutoff).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check recent notification for %s: %w", recipientID, err)
	}
	return exists, nil
}

func (r *notificationRepository) DeleteReadBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM notifications WHERE is_read = TRUE AND created_at < $1
	`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete read notifications before %s: %w", cutoff, err)
	}
	return tag.RowsAffected(), nil
}
