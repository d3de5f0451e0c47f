package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aulnovauk/fieldops/internal/domain"
)

// TokenRepository abstracts push-token storage and health accounting.
type TokenRepository interface {
	// ListActive returns the recipient's active tokens whose failure
	// count is below maxFailures.
	ListActive(ctx context.Context, employeeID string, maxFailures int) ([]*domain.PushToken, error)
	// Register upserts a token for an employee, reactivating it and
	// resetting its failure count if it was previously deactivated.
	Register(ctx context.Context, t *domain.PushToken) error
	// ResetFailures zeroes the failure count and stamps last_used_at
	// after a successful delivery.
	ResetFailures(ctx context.Context, token string, usedAt time.Time) error
	// IncrementFailure bumps the failure count and returns the new value.
	IncrementFailure(ctx context.Context, token string) (int, error)
	Deactivate(ctx context.Context, token string) error
	// DeleteInactiveBefore removes deactivated tokens older than the
	// cutoff and returns how many were deleted.
	DeleteInactiveBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type tokenRepository struct {
	pool *pgxpool.Pool
}

// NewTokenRepository wraps a pgxpool with the TokenRepository interface.
func NewTokenRepository(pool *pgxpool.Pool) TokenRepository {
	return &tokenRepository{pool: pool}
}

func (r *tokenRepository) ListActive(ctx context.Context, employeeID string, maxFailures int) ([]*domain.PushToken, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, employee_id, token, platform, active, failure_count, last_used_at, created_at
		FROM push_tokens
		WHERE employee_id = $1 AND active = TRUE AND failure_count < $2
		ORDER BY created_at ASC
	`, employeeID, maxFailures)
	if err != nil {
		return nil, fmt.Errorf("list tokens for %s: %w", employeeID, err)
	}
	defer rows.Close()

	var out []*domain.PushToken
	for rows.Next() {
		var t domain.PushToken
		if err := rows.Scan(&t.ID, &t.EmployeeID, &t.Token, &t.Platform,
			&t.Active, &t.FailureCount, &t.LastUsedAt, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan push token: %w", err)
		}
		out = append(out, &t)
	}
	return out, rows.Err()
}

func (r *tokenRepository) Register(ctx context.Context, t *domain.PushToken) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO push_tokens (id, employee_id, token, platform, active, failure_count, created_at)
		VALUES ($1, $2, $3, $4, TRUE, 0, $5)
		ON CONFLICT (token) DO UPDATE
		SET employee_id = $2, platform = $4, active = TRUE, failure_count = 0
	`, t.ID, t.EmployeeID, t.Token, t.Platform, t.CreatedAt)
	if err != nil {
		return fmt.Errorf("register token for %s: %w", t.EmployeeID, err)
	}
	return nil
}

func (r *tokenRepository) ResetFailures(ctx context.Context, token string, usedAt time.Time) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE push_tokens SET failure_count = 0, last_used_at = $2 WHERE token = $1
	`, token, usedAt)
	if err != nil {
		return fmt.Errorf("reset failures for token: %w", err)
	}
	return nil
}

func (r *tokenRepository) IncrementFailure(ctx context.Context, token string) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx, `
		UPDATE push_tokens SET failure_count = failure_count + 1
		WHERE token = $1
		RETURNING failure_count
	`, token).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("increment failures for token: %w", err)
	}
	return count, nil
}

func (r *tokenRepository) Deactivate(ctx context.Context, token string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE push_tokens SET active = FALSE WHERE token = $1
	`, token)
	if err != nil {
		return fmt.Errorf("deactivate token: %w", err)
	}
	return nil
}

func (r *tokenRepository) DeleteInactiveBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM push_tokens WHERE active = FALSE AND created_at < $1
	`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete inactive tokens before %s: %w", cutoff, err)
	}
	return tag.RowsAffected(), nil
}
