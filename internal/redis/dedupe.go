package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/aulnovauk/fieldops/internal/domain"
)

func dedupeKey(recipientID string, typ domain.NotificationType, key string) string {
	return "notify:dedupe:" + recipientID + ":" + string(typ) + ":" + key
}

// Deduper claims (recipient, type, dedupe key) tuples for the duration
// of the dedupe window. The first claimant wins; everyone else inside
// the window is a duplicate.
type Deduper interface {
	// Claim returns true when this caller is the first for the tuple
	// within the window.
	Claim(ctx context.Context, recipientID string, typ domain.NotificationType, key string) (bool, error)
}

type deduper struct {
	client *redis.Client
}

// NewDeduper returns a Redis-backed Deduper. Claims expire on their own
// after the dedupe window; there is nothing to clean up.
func NewDeduper(client *redis.Client) Deduper {
	return &deduper{client: client}
}

func (d *deduper) Claim(ctx context.Context, recipientID string, typ domain.NotificationType, key string) (bool, error) {
	ok, err := d.client.SetNX(ctx, dedupeKey(recipientID, typ, key), 1, domain.DedupeWindow).Result()
	if err != nil {
		return false, fmt.Errorf("dedupe claim for %s: %w", recipientID, err)
	}
	return ok, nil
}
