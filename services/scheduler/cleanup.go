package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aulnovauk/fieldops/internal/postgres"
)

const (
	// readRetention is how long read notifications are kept.
	readRetention = 90 * 24 * time.Hour
	// tokenRetention is how long deactivated tokens are kept.
	tokenRetention = 30 * 24 * time.Hour
)

// Cleanup applies the retention policy: read notifications and
// deactivated push tokens are removed once they age out.
type Cleanup struct {
	notifications postgres.NotificationRepository
	tokens        postgres.TokenRepository
	logger        *slog.Logger
}

func NewCleanup(
	notifications postgres.NotificationRepository,
	tokens postgres.TokenRepository,
	logger *slog.Logger,
) *Cleanup {
	return &Cleanup{notifications: notifications, tokens: tokens, logger: logger}
}

func (c *Cleanup) Run(ctx context.Context, now time.Time) error {
	notes, err := c.notifications.DeleteReadBefore(ctx, now.Add(-readRetention))
	if err != nil {
		return fmt.Errorf("delete read notifications: %w", err)
	}

	tokens, err := c.tokens.DeleteInactiveBefore(ctx, now.Add(-tokenRetention))
	if err != nil {
		return fmt.Errorf("delete inactive tokens: %w", err)
	}

	c.logger.Info("retention cleanup ran",
		slog.Int64("notifications_deleted", notes),
		slog.Int64("tokens_deleted", tokens),
	)
	return nil
}
