//go:build integration

// Package integration contains end-to-end integration tests that require
// real infrastructure (Kafka, Redis, PostgreSQL) provided by testcontainers-go.
//
// Run with: go test -tags=integration -v ./tests/integration/
package integration

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aulnovauk/fieldops/internal/allocation"
	"github.com/aulnovauk/fieldops/internal/domain"
	"github.com/aulnovauk/fieldops/internal/kafka"
	"github.com/aulnovauk/fieldops/internal/ledger"
	"github.com/aulnovauk/fieldops/internal/postgres"
	"github.com/aulnovauk/fieldops/internal/push"
	redisstore "github.com/aulnovauk/fieldops/internal/redis"
	"github.com/aulnovauk/fieldops/services/notifier"
)

// gateway is an in-process push gateway recording every delivered message.
type gateway struct {
	mu       sync.Mutex
	received []push.Message
}

func (g *gateway) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Messages []push.Message `json:"messages"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		g.mu.Lock()
		g.received = append(g.received, req.Messages...)
		g.mu.Unlock()

		tickets := make([]push.Ticket, len(req.Messages))
		for i := range tickets {
			tickets[i] = push.Ticket{OK: true}
		}
		json.NewEncoder(w).Encode(map[string]any{"tickets": tickets}) //nolint:errcheck
	}
}

func (g *gateway) messages() []push.Message {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]push.Message(nil), g.received...)
}

// TestE2E_AssignmentToDevice exercises the whole notification pipeline
// against real infrastructure: a task created through the allocation
// tree publishes to notify.requests, the notifier consumes it, records
// the notification, enqueues the push, and the queue processor delivers
// it to the gateway. A replay of the same event is suppressed by the
// dedupe window.
func TestE2E_AssignmentToDevice(t *testing.T) {
	ctx := context.Background()
	logger := slog.Default()

	// ── Infrastructure ───────────────────────────────────────────────────────
	redisClient := redis.NewClient(&redis.Options{Addr: testRedisAddr})
	t.Cleanup(func() {
		redisClient.FlushDB(ctx) //nolint:errcheck
		redisClient.Close()      //nolint:errcheck
	})

	db, err := pgxpool.New(ctx, testPostgresDSN)
	require.NoError(t, err)
	t.Cleanup(func() {
		db.Exec(ctx, `TRUNCATE push_queue, push_tokens, notifications,
			assignment_categories, assignments, task_categories, tasks,
			resource_pools CASCADE`) //nolint:errcheck
		db.Close()
	})

	pools := postgres.NewPoolRepository(db)
	tasks := postgres.NewTaskRepository(db)
	assignments := postgres.NewAssignmentRepository(db)
	notifications := postgres.NewNotificationRepository(db)
	tokens := postgres.NewTokenRepository(db)
	queue := postgres.NewQueueRepository(db)

	gw := &gateway{}
	server := httptest.NewServer(gw.handler())
	t.Cleanup(server.Close)

	createTopic(t, notifier.TopicRequests)
	producer := kafka.NewProducer(testKafkaBrokers)
	t.Cleanup(func() { producer.Close() }) //nolint:errcheck

	// ── Wiring, same shape the serve commands use ────────────────────────────
	ld := ledger.New(pools, nil)
	tree := allocation.NewTree(ld, tasks, assignments, nil, nil,
		notifier.NewKafkaSink(producer, logger), logger)

	dispatcher := notifier.NewDispatcher(notifications, tokens, queue,
		redisstore.NewDeduper(redisClient), logger)
	processor := notifier.NewQueueProcessor(queue, tokens,
		push.NewClient(server.URL, 5*time.Second), logger)

	groupID := fmt.Sprintf("e2e-notifier-%d", time.Now().UnixNano())
	kc := kafka.NewConsumer(testKafkaBrokers, notifier.TopicRequests, groupID, logger)
	t.Cleanup(func() { kc.Close() }) //nolint:errcheck

	consumerCtx, stopConsumer := context.WithCancel(ctx)
	defer stopConsumer()
	go notifier.NewConsumer(kc, dispatcher, logger).Run(consumerCtx) //nolint:errcheck

	// ── The manager has a registered device ──────────────────────────────────
	require.NoError(t, tokens.Register(ctx, &domain.PushToken{
		ID: uuid.New().String(), EmployeeID: "mgr-1", Token: "device-mgr-1",
		Platform: "android", Active: true, CreatedAt: time.Now().UTC(),
	}))

	// ── Business write: create a task against the region pool ────────────────
	ok, err := pools.SetTotal(ctx, "north", domain.ResourceSIM, 100)
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = pools.SetTotal(ctx, "north", domain.ResourceFTTH, 50)
	require.NoError(t, err)
	require.True(t, ok)

	task := &domain.Task{
		ID:           uuid.New().String(),
		Region:       "north",
		Name:         "Coverage drive",
		Location:     "Leeds",
		ManagerID:    "mgr-1",
		AllocatedSim: 60,
	}
	require.NoError(t, tree.CreateTask(ctx, task, "mgr-1"))

	pool, err := ld.Get(ctx, "north", domain.ResourceSIM)
	require.NoError(t, err)
	assert.Equal(t, 40, pool.Remaining)

	// ── The notifier consumes the event and records the notification ─────────
	dedupeKey := domain.DedupeKey("task", task.ID, domain.NotifyAssignment)
	cutoff := time.Now().UTC().Add(-time.Minute)
	require.Eventually(t, func() bool {
		exists, err := notifications.ExistsSince(ctx, "mgr-1", domain.NotifyAssignment, dedupeKey, cutoff)
		return err == nil && exists
	}, 30*time.Second, 250*time.Millisecond, "notification record never appeared")

	// ── The queue processor delivers the push to the gateway ─────────────────
	require.Eventually(t, func() bool {
		processor.Drain(ctx) //nolint:errcheck
		return len(gw.messages()) > 0
	}, 10*time.Second, 250*time.Millisecond, "push never reached the gateway")

	msgs := gw.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "device-mgr-1", msgs[0].Token)

	var payload struct {
		Type  domain.NotificationType `json:"type"`
		Title string                  `json:"title"`
	}
	require.NoError(t, json.Unmarshal(msgs[0].Payload, &payload))
	assert.Equal(t, domain.NotifyAssignment, payload.Type)
	assert.Equal(t, "New task assigned", payload.Title)

	// ── A replay of the same event inside the window is suppressed ───────────
	rec, err := dispatcher.Notify(ctx, "mgr-1", domain.NotificationRequest{
		Recipients: []string{"mgr-1"},
		Type:       domain.NotifyAssignment,
		Title:      "New task assigned",
		Message:    "replayed",
		EntityType: "task",
		EntityID:   task.ID,
	})
	require.NoError(t, err)
	assert.Nil(t, rec, "dispatch inside the dedupe window must be suppressed")

	processor.Drain(ctx) //nolint:errcheck
	assert.Len(t, gw.messages(), 1, "the suppressed dispatch must not reach the device")
}
