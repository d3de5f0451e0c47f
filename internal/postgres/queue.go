package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aulnovauk/fieldops/internal/domain"
)

// QueueRepository abstracts the push delivery queue. Claims are
// conditional updates so concurrent drains never pick the same item.
type QueueRepository interface {
	Enqueue(ctx context.Context, items []*domain.PushQueueItem) error
	// ClaimDue atomically moves up to limit due pending items (oldest
	// first) to processing and returns them. Items stuck in processing
	// since before staleBefore are re-claimed — crash recovery relies on
	// the dedupe key absorbing the duplicate send.
	ClaimDue(ctx context.Context, limit int, now, staleBefore time.Time) ([]*domain.PushQueueItem, error)
	Complete(ctx context.Context, id string) error
	// Reschedule puts a failed item back to pending with the bumped
	// attempt count and the computed next retry time.
	Reschedule(ctx context.Context, id string, attempts int, nextRetryAt time.Time, lastErr string) error
	// Fail marks an item terminally failed after exhausting attempts.
	Fail(ctx context.Context, id string, attempts int, lastErr string) error
	// ListFailed returns terminally failed items for manual inspection.
	ListFailed(ctx context.Context, limit int) ([]*domain.PushQueueItem, error)
}

type queueRepository struct {
	pool *pgxpool.Pool
}

// NewQueueRepository wraps a pgxpool with the QueueRepository interface.
func NewQueueRepository(pool *pgxpool.Pool) QueueRepository {
	return &queueRepository{pool: pool}
}

func (r *queueRepository) Enqueue(ctx context.Context, items []*domain.PushQueueItem) error {
	for _, it := range items {
		_, err := r.pool.Exec(ctx, `
			INSERT INTO push_queue
				(id, token, payload, status, attempts, max_attempts, next_retry_at, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`,
			it.ID, it.Token, it.Payload, string(it.Status),
			it.Attempts, it.MaxAttempts, it.NextRetryAt, it.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("enqueue push item %s: %w", it.ID, err)
		}
	}
	return nil
}

func (r *queueRepository) ClaimDue(ctx context.Context, limit int, now, staleBefore time.Time) ([]*domain.PushQueueItem, error) {
	rows, err := r.pool.Query(ctx, `
		UPDATE push_queue
		SET status = 'processing', last_attempt_at = $2
		WHERE id IN (
			SELECT id FROM push_queue
			WHERE (status = 'pending' AND next_retry_at <= $2)
			   OR (status = 'processing' AND last_attempt_at < $3)
			ORDER BY next_retry_at ASC
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, token, payload, status, attempts, max_attempts,
		          next_retry_at, last_attempt_at, last_error, created_at
	`, limit, now, staleBefore)
	if err != nil {
		return nil, fmt.Errorf("claim due push items: %w", err)
	}
	defer rows.Close()

	var out []*domain.PushQueueItem
	for rows.Next() {
		it, err := scanQueueItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

func (r *queueRepository) Complete(ctx context.Context, id string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE push_queue SET status = 'completed', last_error = '' WHERE id = $1
	`, id)
	if err != nil {
		return fmt.Errorf("complete push item %s: %w", id, err)
	}
	return nil
}

func (r *queueRepository) Reschedule(ctx context.Context, id string, attempts int, nextRetryAt time.Time, lastErr string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE push_queue
		SET status = 'pending', attempts = $2, next_retry_at = $3, last_error = $4
		WHERE id = $1
	`, id, attempts, nextRetryAt, lastErr)
	if err != nil {
		return fmt.Errorf("reschedule push item %s: %w", id, err)
	}
	return nil
}

func (r *queueRepository) Fail(ctx context.Context, id string, attempts int, lastErr string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE push_queue
		SET status = 'failed', attempts = $2, last_error = $3
		WHERE id = $1
	`, id, attempts, lastErr)
	if err != nil {
		return fmt.Errorf("fail push item %s: %w", id, err)
	}
	return nil
}

func (r *queueRepository) ListFailed(ctx context.Context, limit int) ([]*domain.PushQueueItem, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, token, payload, status, attempts, max_attempts,
		       next_retry_at, last_attempt_at, last_error, created_at
		FROM push_queue
		WHERE status = 'failed'
		ORDER BY created_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list failed push items: %w", err)
	}
	defer rows.Close()

	var out []*domain.PushQueueItem
	for rows.Next() {
		it, err := scanQueueItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

// scanQueueItem reads a queue row from any pgx row type.
func scanQueueItem(row interface {
	Scan(...any) error
}) (*domain.PushQueueItem, error) {
	var it domain.PushQueueItem
	var status string
	err := row.Scan(
		&it.ID, &it.Token, &it.Payload, &status, &it.Attempts, &it.MaxAttempts,
		&it.NextRetryAt, &it.LastAttemptAt, &it.LastError, &it.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("scan push queue item: %w", err)
	}
	it.Status = domain.QueueStatus(status)
	return &it, nil
}
