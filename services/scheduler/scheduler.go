// Package scheduler runs the periodic background work: SLA scanning,
// the deadline sweep, push-queue retry draining and daily cleanup.
// A Redis leader election keeps exactly one instance active.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"

	"github.com/aulnovauk/fieldops/pkg/telemetry"
)

const (
	leaderKey = "fieldops:scheduler:leader"
	// DefaultInterval is the gap between scan ticks.
	DefaultInterval = 15 * time.Minute
	// DefaultCleanupSpec fires the retention cleanup once a night.
	DefaultCleanupSpec = "30 2 * * *"
)

// Sweeper completes active tasks whose end date has passed.
type Sweeper interface {
	SweepOverdue(ctx context.Context, now time.Time) (int, error)
}

// Drainer runs one pass over the push retry queue.
type Drainer interface {
	Drain(ctx context.Context) (int, error)
}

// Scanner evaluates SLA state across active tasks.
type Scanner interface {
	Scan(ctx context.Context, now time.Time) error
}

// Cleaner applies retention policies.
type Cleaner interface {
	Run(ctx context.Context, now time.Time) error
}

// Scheduler ties the phases to a leader-elected ticker. Each phase is
// isolated: a panic or error in one never stops the others.
type Scheduler struct {
	redis      *redis.Client
	instanceID string
	interval   time.Duration
	leaderTTL  time.Duration

	scanner Scanner
	sweeper Sweeper
	drainer Drainer
	cleaner Cleaner

	cleanupSchedule cron.Schedule
	nextCleanup     time.Time

	now    func() time.Time
	logger *slog.Logger
}

func NewScheduler(
	redisClient *redis.Client,
	instanceID string,
	scanner Scanner,
	sweeper Sweeper,
	drainer Drainer,
	cleaner Cleaner,
	logger *slog.Logger,
) (*Scheduler, error) {
	schedule, err := cron.ParseStandard(DefaultCleanupSpec)
	if err != nil {
		return nil, fmt.Errorf("parse cleanup schedule: %w", err)
	}
	return &Scheduler{
		redis:           redisClient,
		instanceID:      instanceID,
		interval:        DefaultInterval,
		leaderTTL:       2 * DefaultInterval,
		scanner:         scanner,
		sweeper:         sweeper,
		drainer:         drainer,
		cleaner:         cleaner,
		cleanupSchedule: schedule,
		now:             time.Now,
		logger:          logger,
	}, nil
}

// WithInterval overrides the tick interval. The leader TTL follows it.
func (s *Scheduler) WithInterval(d time.Duration) *Scheduler {
	if d > 0 {
		s.interval = d
		s.leaderTTL = 2 * d
	}
	return s
}

// WithClock overrides the time source. Test hook.
func (s *Scheduler) WithClock(now func() time.Time) *Scheduler {
	s.now = now
	return s
}

// Run ticks until ctx is cancelled. The first tick fires immediately.
func (s *Scheduler) Run(ctx context.Context) {
	s.nextCleanup = s.cleanupSchedule.Next(s.now().UTC())

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.Tick(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick runs one full scheduling pass if this instance holds leadership.
func (s *Scheduler) Tick(ctx context.Context) {
	if s.redis != nil && !s.acquireOrRenewLeadership(ctx) {
		return
	}
	now := s.now().UTC()

	s.phase(ctx, "sla_scan", func(ctx context.Context) error {
		return s.scanner.Scan(ctx, now)
	})

	s.phase(ctx, "deadline_sweep", func(ctx context.Context) error {
		n, err := s.sweeper.SweepOverdue(ctx, now)
		if n > 0 {
			telemetry.SchedulerTasksAutoCompleted.Add(float64(n))
			s.logger.Info("deadline sweep completed tasks", slog.Int("count", n))
		}
		return err
	})

	s.phase(ctx, "retry_drain", func(ctx context.Context) error {
		_, err := s.drainer.Drain(ctx)
		return err
	})

	if !now.Before(s.nextCleanup) {
		s.phase(ctx, "cleanup", func(ctx context.Context) error {
			return s.cleaner.Run(ctx, now)
		})
		s.nextCleanup = s.cleanupSchedule.Next(now)
	}
}

// phase runs fn with panic isolation and outcome accounting.
func (s *Scheduler) phase(ctx context.Context, name string, fn func(context.Context) error) {
	defer func() {
		if r := recover(); r != nil {
			telemetry.SchedulerPhaseRuns.WithLabelValues(name, "panic").Inc()
			s.logger.Error("scheduler phase panicked",
				slog.String("phase", name),
				slog.Any("panic", r),
			)
		}
	}()

	if err := fn(ctx); err != nil {
		telemetry.SchedulerPhaseRuns.WithLabelValues(name, "error").Inc()
		s.logger.Error("scheduler phase failed",
			slog.String("phase", name),
			slog.String("error", err.Error()),
		)
		return
	}
	telemetry.SchedulerPhaseRuns.WithLabelValues(name, "ok").Inc()
}

// acquireOrRenewLeadership attempts SETNX; returns true if this
// instance is the leader.
func (s *Scheduler) acquireOrRenewLeadership(ctx context.Context) bool {
	ok, err := s.redis.SetNX(ctx, leaderKey, s.instanceID, s.leaderTTL).Result()
	if err != nil {
		s.logger.Error("leader election SetNX", slog.String("error", err.Error()))
		return false
	}
	if ok {
		s.logger.Info("acquired scheduler leadership", slog.String("instance_id", s.instanceID))
		return true
	}

	// Already set; renew only if we own it (atomic Lua script avoids races).
	renewScript := redis.NewScript(`
		if redis.call("get", KEYS[1]) == ARGV[1] then
			return redis.call("pexpire", KEYS[1], ARGV[2])
		end
		return 0
	`)
	result, err := renewScript.Run(
		ctx, s.redis,
		[]string{leaderKey},
		s.instanceID,
		s.leaderTTL.Milliseconds(),
	).Int()
	if err != nil && !errors.Is(err, redis.Nil) {
		s.logger.Error("leader renewal", slog.String("error", err.Error()))
		return false
	}
	return result == 1
}
