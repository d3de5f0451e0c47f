//go:build integration

package integration

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aulnovauk/fieldops/internal/domain"
	"github.com/aulnovauk/fieldops/internal/postgres"
)

// newDB connects to the test Postgres container and truncates every
// table on cleanup so tests stay independent.
func newDB(t *testing.T) *pgxpool.Pool {
	t.Helper()
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, testPostgresDSN)
	require.NoError(t, err)
	t.Cleanup(func() {
		pool.Exec(ctx, `TRUNCATE push_queue, push_tokens, notifications,
			assignment_categories, assignments, task_categories, tasks,
			resource_pools CASCADE`) //nolint:errcheck
		pool.Close()
	})
	return pool
}

func makeTask(region string) *domain.Task {
	now := time.Now().UTC()
	return &domain.Task{
		ID:           uuid.New().String(),
		Region:       region,
		Name:         "Coverage drive",
		Location:     "Leeds",
		Status:       domain.StatusDraft,
		AllocatedSim: 10,
		ManagerID:    "mgr-1",
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

func TestPostgres_PoolConditionalCounters(t *testing.T) {
	db := newDB(t)
	repo := postgres.NewPoolRepository(db)
	ctx := context.Background()

	ok, err := repo.SetTotal(ctx, "north", domain.ResourceSIM, 100)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = repo.Reserve(ctx, "north", domain.ResourceSIM, 60)
	require.NoError(t, err)
	assert.True(t, ok)

	// Only 40 left; a 50 reserve must be refused, not partially applied.
	ok, err = repo.Reserve(ctx, "north", domain.ResourceSIM, 50)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = repo.RecordUsage(ctx, "north", domain.ResourceSIM, 30)
	require.NoError(t, err)
	assert.True(t, ok)

	// Usage is capped by allocated, not total.
	ok, err = repo.RecordUsage(ctx, "north", domain.ResourceSIM, 40)
	require.NoError(t, err)
	assert.False(t, ok)

	// Shrinking the total below allocated is refused.
	ok, err = repo.SetTotal(ctx, "north", domain.ResourceSIM, 50)
	require.NoError(t, err)
	assert.False(t, ok)

	pool, err := repo.Get(ctx, "north", domain.ResourceSIM)
	require.NoError(t, err)
	assert.Equal(t, 100, pool.Total)
	assert.Equal(t, 60, pool.Allocated)
	assert.Equal(t, 40, pool.Remaining)
	assert.Equal(t, 30, pool.Used)
}

func TestPostgres_PoolGetNotFound(t *testing.T) {
	db := newDB(t)
	repo := postgres.NewPoolRepository(db)

	_, err := repo.Get(context.Background(), "atlantis", domain.ResourceFTTH)
	var notFound *domain.PoolNotFoundError
	require.ErrorAs(t, err, &notFound)
}

func TestPostgres_TaskRoundtrip(t *testing.T) {
	db := newDB(t)
	repo := postgres.NewTaskRepository(db)
	ctx := context.Background()

	task := makeTask("north")
	started := time.Now().UTC().Truncate(time.Second)
	task.Categories = map[domain.MaintenanceCategory]*domain.CategoryProgress{
		domain.CategoryBtsDown: {Target: 5, Completed: 2, EstimatedHours: 8, StartedAt: &started},
	}
	require.NoError(t, repo.Create(ctx, task))
	require.NoError(t, repo.SaveCategory(ctx, task.ID, domain.CategoryBtsDown, task.Categories[domain.CategoryBtsDown]))

	got, err := repo.GetByID(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, "north", got.Region)
	assert.Equal(t, domain.StatusDraft, got.Status)
	assert.Equal(t, 10, got.AllocatedSim)
	require.Contains(t, got.Categories, domain.CategoryBtsDown)
	p := got.Categories[domain.CategoryBtsDown]
	assert.Equal(t, 5, p.Target)
	assert.Equal(t, 2, p.Completed)
	require.NotNil(t, p.StartedAt)
	assert.WithinDuration(t, started, *p.StartedAt, time.Second)
}

func TestPostgres_TaskStatusUpdateIsConditional(t *testing.T) {
	db := newDB(t)
	repo := postgres.NewTaskRepository(db)
	ctx := context.Background()

	task := makeTask("north")
	require.NoError(t, repo.Create(ctx, task))
	require.NoError(t, repo.UpdateStatus(ctx, task.ID, domain.StatusActive))

	// Moves only while the expected status still holds.
	ok, err := repo.UpdateStatusFrom(ctx, task.ID, domain.StatusActive, domain.StatusCancelled)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.UpdateStatusFrom(ctx, task.ID, domain.StatusActive, domain.StatusCompleted)
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := repo.GetByID(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCancelled, got.Status)
}

func TestPostgres_TaskGetByIDNotFound(t *testing.T) {
	db := newDB(t)
	repo := postgres.NewTaskRepository(db)

	_, err := repo.GetByID(context.Background(), uuid.New().String())
	var notFound *domain.TaskNotFoundError
	require.ErrorAs(t, err, &notFound)
}

func TestPostgres_ListActiveEndedBefore(t *testing.T) {
	db := newDB(t)
	repo := postgres.NewTaskRepository(db)
	ctx := context.Background()

	past := time.Now().UTC().Add(-48 * time.Hour)
	future := time.Now().UTC().Add(48 * time.Hour)

	overdue := makeTask("north")
	overdue.EndsAt = &past
	require.NoError(t, repo.Create(ctx, overdue))
	require.NoError(t, repo.UpdateStatus(ctx, overdue.ID, domain.StatusActive))

	running := makeTask("north")
	running.EndsAt = &future
	require.NoError(t, repo.Create(ctx, running))
	require.NoError(t, repo.UpdateStatus(ctx, running.ID, domain.StatusActive))

	ended := makeTask("north")
	ended.EndsAt = &past
	require.NoError(t, repo.Create(ctx, ended)) // stays draft

	got, err := repo.ListActiveEndedBefore(ctx, time.Now().UTC())
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, overdue.ID, got[0].ID)
}

func TestPostgres_AssignmentAddSoldIsConditional(t *testing.T) {
	db := newDB(t)
	tasks := postgres.NewTaskRepository(db)
	repo := postgres.NewAssignmentRepository(db)
	ctx := context.Background()

	task := makeTask("north")
	require.NoError(t, tasks.Create(ctx, task))

	now := time.Now().UTC()
	require.NoError(t, repo.Upsert(ctx, &domain.Assignment{
		TaskID: task.ID, MemberID: "emp-1", SimTarget: 5,
		Submission: domain.SubmissionNotStarted, CreatedAt: now, UpdatedAt: now,
	}))

	ok, err := repo.AddSold(ctx, task.ID, "emp-1", domain.ResourceSIM, 4)
	require.NoError(t, err)
	assert.True(t, ok)

	// 4 sold of 5; another 2 would pass the target.
	ok, err = repo.AddSold(ctx, task.ID, "emp-1", domain.ResourceSIM, 2)
	require.NoError(t, err)
	assert.False(t, ok)

	a, err := repo.Get(ctx, task.ID, "emp-1")
	require.NoError(t, err)
	assert.Equal(t, 4, a.SimSold)
}

func TestPostgres_AssignmentSubmissionIsConditional(t *testing.T) {
	db := newDB(t)
	tasks := postgres.NewTaskRepository(db)
	repo := postgres.NewAssignmentRepository(db)
	ctx := context.Background()

	task := makeTask("north")
	require.NoError(t, tasks.Create(ctx, task))
	now := time.Now().UTC()
	require.NoError(t, repo.Upsert(ctx, &domain.Assignment{
		TaskID: task.ID, MemberID: "emp-1",
		Submission: domain.SubmissionNotStarted, CreatedAt: now, UpdatedAt: now,
	}))

	// Submitting without being in progress is refused.
	ok, err := repo.UpdateSubmission(ctx, task.ID, "emp-1", domain.SubmissionInProgress, domain.SubmissionSubmitted)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = repo.UpdateSubmission(ctx, task.ID, "emp-1", domain.SubmissionNotStarted, domain.SubmissionInProgress)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestPostgres_NotificationDedupeWindow(t *testing.T) {
	db := newDB(t)
	repo := postgres.NewNotificationRepository(db)
	ctx := context.Background()

	rec := &domain.NotificationRecord{
		ID:          uuid.New().String(),
		RecipientID: "emp-1",
		Type:        domain.NotifySLAWarning,
		Title:       "SLA warning",
		Message:     "Category bts_down has 45m remaining",
		DedupeKey:   "sla:t1:bts_down:warning",
		CreatedAt:   time.Now().UTC(),
	}
	require.NoError(t, repo.Insert(ctx, rec))

	cutoff := time.Now().UTC().Add(-domain.DedupeWindow)
	exists, err := repo.ExistsSince(ctx, "emp-1", domain.NotifySLAWarning, rec.DedupeKey, cutoff)
	require.NoError(t, err)
	assert.True(t, exists)

	// A different recipient is not suppressed.
	exists, err = repo.ExistsSince(ctx, "emp-2", domain.NotifySLAWarning, rec.DedupeKey, cutoff)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestPostgres_QueueClaimDueSkipsFutureRetries(t *testing.T) {
	db := newDB(t)
	repo := postgres.NewQueueRepository(db)
	ctx := context.Background()

	now := time.Now().UTC()
	due := &domain.PushQueueItem{
		ID: uuid.New().String(), Token: "tok-due", Payload: []byte(`{}`),
		Status: domain.QueuePending, MaxAttempts: 10, NextRetryAt: now.Add(-time.Minute), CreatedAt: now,
	}
	future := &domain.PushQueueItem{
		ID: uuid.New().String(), Token: "tok-later", Payload: []byte(`{}`),
		Status: domain.QueuePending, MaxAttempts: 10, NextRetryAt: now.Add(time.Hour), CreatedAt: now,
	}
	require.NoError(t, repo.Enqueue(ctx, []*domain.PushQueueItem{due, future}))

	claimed, err := repo.ClaimDue(ctx, 50, now, now.Add(-10*time.Minute))
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, due.ID, claimed[0].ID)

	// The claimed item is in processing; claiming again finds nothing.
	claimed, err = repo.ClaimDue(ctx, 50, now, now.Add(-10*time.Minute))
	require.NoError(t, err)
	assert.Empty(t, claimed)
}

func TestPostgres_TokenFailureLifecycle(t *testing.T) {
	db := newDB(t)
	repo := postgres.NewTokenRepository(db)
	ctx := context.Background()

	require.NoError(t, repo.Register(ctx, &domain.PushToken{
		ID: uuid.New().String(), EmployeeID: "emp-1", Token: "tok-1",
		Platform: "android", Active: true, CreatedAt: time.Now().UTC(),
	}))

	n, err := repo.IncrementFailure(ctx, "tok-1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	n, err = repo.IncrementFailure(ctx, "tok-1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	// Failing tokens drop out of the active list once at the limit.
	active, err := repo.ListActive(ctx, "emp-1", domain.MaxTokenFailures)
	require.NoError(t, err)
	assert.Len(t, active, 1)

	_, err = repo.IncrementFailure(ctx, "tok-1")
	require.NoError(t, err)
	active, err = repo.ListActive(ctx, "emp-1", domain.MaxTokenFailures)
	require.NoError(t, err)
	assert.Empty(t, active)

	// A successful delivery resets the count.
	require.NoError(t, repo.ResetFailures(ctx, "tok-1", time.Now().UTC()))
	active, err = repo.ListActive(ctx, "emp-1", domain.MaxTokenFailures)
	require.NoError(t, err)
	assert.Len(t, active, 1)
}
