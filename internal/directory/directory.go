// Package directory defines the identity/org collaborator contract and
// a cache in front of it. The cache is an explicit object with an
// injected TTL and an invalidation hook, not ambient state.
package directory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Directory resolves employees, manager chains and task team rosters.
// Implemented elsewhere; this core only consumes it.
type Directory interface {
	// ResolveManagerChain returns the employee's managers, nearest first.
	ResolveManagerChain(ctx context.Context, employeeID string) ([]string, error)
	// ListTeamMembers returns the member IDs assigned to a task.
	ListTeamMembers(ctx context.Context, taskID string) ([]string, error)
}

// DefaultTTL is how long a cached manager chain stays valid.
const DefaultTTL = 5 * time.Minute

func chainKey(employeeID string) string { return "dir:chain:" + employeeID }

// Cached decorates a Directory with a Redis-backed manager-chain cache.
// Cache errors fall through to the inner directory.
type Cached struct {
	inner  Directory
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

// NewCached wraps inner with a cache. ttl <= 0 uses DefaultTTL.
func NewCached(inner Directory, client *redis.Client, ttl time.Duration, logger *slog.Logger) *Cached {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Cached{inner: inner, client: client, ttl: ttl, logger: logger}
}

func (c *Cached) ResolveManagerChain(ctx context.Context, employeeID string) ([]string, error) {
	data, err := c.client.Get(ctx, chainKey(employeeID)).Bytes()
	if err == nil {
		var chain []string
		if jerr := json.Unmarshal(data, &chain); jerr == nil {
			return chain, nil
		}
	} else if !errors.Is(err, redis.Nil) {
		c.logger.Warn("directory cache read", slog.String("error", err.Error()))
	}

	chain, err := c.inner.ResolveManagerChain(ctx, employeeID)
	if err != nil {
		return nil, fmt.Errorf("resolve manager chain for %s: %w", employeeID, err)
	}

	if data, jerr := json.Marshal(chain); jerr == nil {
		if serr := c.client.Set(ctx, chainKey(employeeID), data, c.ttl).Err(); serr != nil {
			c.logger.Warn("directory cache write", slog.String("error", serr.Error()))
		}
	}
	return chain, nil
}

// ListTeamMembers is not cached: rosters change mid-task and the SLA
// scan needs the current set.
func (c *Cached) ListTeamMembers(ctx context.Context, taskID string) ([]string, error) {
	return c.inner.ListTeamMembers(ctx, taskID)
}

// Invalidate drops the cached chain for one employee. Call on org
// directory writes.
func (c *Cached) Invalidate(ctx context.Context, employeeID string) error {
	if err := c.client.Del(ctx, chainKey(employeeID)).Err(); err != nil {
		return fmt.Errorf("invalidate chain for %s: %w", employeeID, err)
	}
	return nil
}

// Refresh drops and re-resolves one employee's chain.
func (c *Cached) Refresh(ctx context.Context, employeeID string) ([]string, error) {
	if err := c.Invalidate(ctx, employeeID); err != nil {
		return nil, err
	}
	return c.ResolveManagerChain(ctx, employeeID)
}
