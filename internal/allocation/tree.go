// Package allocation enforces the three-level quota chain: a region's
// pool caps the sum of task allocations, and a task's allocation caps
// the sum of its members' targets. All target changes go through here.
package allocation

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/aulnovauk/fieldops/internal/audit"
	"github.com/aulnovauk/fieldops/internal/directory"
	"github.com/aulnovauk/fieldops/internal/domain"
	"github.com/aulnovauk/fieldops/internal/ledger"
	"github.com/aulnovauk/fieldops/internal/postgres"
)

// EventSink receives best-effort notification requests. Failures are
// the sink's problem; allocation operations never fail because a
// notification could not be sent.
type EventSink interface {
	Notify(ctx context.Context, req domain.NotificationRequest)
}

type nopSink struct{}

func (nopSink) Notify(context.Context, domain.NotificationRequest) {}

// Tree coordinates the ledger and the task/assignment repositories.
// Target writes within one task are serialized by a per-task mutex:
// the task's allocation and the sum of member targets are read before
// the write, and two unserialized writers could both observe the stale
// sum and oversell the allocation.
type Tree struct {
	ledger      *ledger.Ledger
	tasks       postgres.TaskRepository
	assignments postgres.AssignmentRepository
	directory   directory.Directory
	sink        audit.Sink
	events      EventSink
	logger      *slog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewTree constructs an allocation Tree. dir, sink and events may be
// nil; a nil dir only disables DistributeToTeam.
func NewTree(
	ld *ledger.Ledger,
	tasks postgres.TaskRepository,
	assignments postgres.AssignmentRepository,
	dir directory.Directory,
	sink audit.Sink,
	events EventSink,
	logger *slog.Logger,
) *Tree {
	if sink == nil {
		sink = audit.Nop()
	}
	if events == nil {
		events = nopSink{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Tree{
		ledger:      ld,
		tasks:       tasks,
		assignments: assignments,
		directory:   dir,
		sink:        sink,
		events:      events,
		logger:      logger,
		locks:       make(map[string]*sync.Mutex),
	}
}

func (t *Tree) lock(taskID string) func() {
	t.mu.Lock()
	m, ok := t.locks[taskID]
	if !ok {
		m = &sync.Mutex{}
		t.locks[taskID] = m
	}
	t.mu.Unlock()
	m.Lock()
	return m.Unlock
}

// CreateTask reserves the task's allocations from the region pool and
// inserts the task row. The reserve happens first; if the insert fails
// the reservation is compensated with a release before returning.
func (t *Tree) CreateTask(ctx context.Context, task *domain.Task, performedBy string) error {
	if task.Status == "" {
		task.Status = domain.StatusDraft
	}
	now := time.Now().UTC()
	if task.CreatedAt.IsZero() {
		task.CreatedAt = now
	}
	task.UpdatedAt = now

	if err := t.ledger.Reserve(ctx, task.Region, domain.ResourceSIM, task.AllocatedSim, performedBy); err != nil {
		return err
	}
	if err := t.ledger.Reserve(ctx, task.Region, domain.ResourceFTTH, task.AllocatedFtth, performedBy); err != nil {
		t.compensate(ctx, task.Region, domain.ResourceSIM, task.AllocatedSim, performedBy)
		return err
	}

	if err := t.tasks.Create(ctx, task); err != nil {
		t.compensate(ctx, task.Region, domain.ResourceSIM, task.AllocatedSim, performedBy)
		t.compensate(ctx, task.Region, domain.ResourceFTTH, task.AllocatedFtth, performedBy)
		return fmt.Errorf("create task: %w", err)
	}

	t.sink.Record(ctx, domain.AuditEntry{
		Action:      "task.create",
		EntityType:  "task",
		EntityID:    task.ID,
		PerformedBy: performedBy,
		Details: map[string]string{
			"region": task.Region,
			"sim":    strconv.Itoa(task.AllocatedSim),
			"ftth":   strconv.Itoa(task.AllocatedFtth),
		},
	})
	if task.ManagerID != "" {
		t.events.Notify(ctx, domain.NotificationRequest{
			Recipients: []string{task.ManagerID},
			Type:       domain.NotifyAssignment,
			Title:      "New task assigned",
			Message:    fmt.Sprintf("You were assigned to manage task %q in %s", task.Name, task.Region),
			EntityType: "task",
			EntityID:   task.ID,
		})
	}
	return nil
}

// ResizeAllocation changes a task's own allocation for one resource
// type. Growth reserves the delta from the region pool; shrink releases
// it, but never below the sum already distributed to members.
func (t *Tree) ResizeAllocation(ctx context.Context, taskID string, rt domain.ResourceType, newQty int, performedBy string) error {
	defer t.lock(taskID)()

	task, err := t.tasks.GetByID(ctx, taskID)
	if err != nil {
		return err
	}
	current := task.Allocated(rt)
	if newQty == current {
		return nil
	}

	if newQty < current {
		distributed, err := t.distributedSum(ctx, taskID, rt, "")
		if err != nil {
			return err
		}
		if newQty < distributed {
			return &domain.AllocationBelowDistributedError{
				TaskID: taskID, Type: rt, NewQty: newQty, Distributed: distributed,
			}
		}
		if err := t.ledger.Release(ctx, task.Region, rt, current-newQty, performedBy); err != nil {
			return err
		}
	} else {
		if err := t.ledger.Reserve(ctx, task.Region, rt, newQty-current, performedBy); err != nil {
			return err
		}
	}

	if err := t.tasks.UpdateAllocation(ctx, taskID, rt, newQty); err != nil {
		// Put the pool back where it was before failing.
		if newQty > current {
			t.compensate(ctx, task.Region, rt, newQty-current, performedBy)
		} else if rerr := t.ledger.Reserve(ctx, task.Region, rt, current-newQty, performedBy); rerr != nil {
			t.logger.Error("re-reserve after failed allocation update",
				slog.String("task_id", taskID), slog.String("error", rerr.Error()))
		}
		return fmt.Errorf("update allocation: %w", err)
	}

	t.sink.Record(ctx, domain.AuditEntry{
		Action:      "task.resize_allocation",
		EntityType:  "task",
		EntityID:    taskID,
		PerformedBy: performedBy,
		Details: map[string]string{
			"type": string(rt),
			"from": strconv.Itoa(current),
			"to":   strconv.Itoa(newQty),
		},
	})
	return nil
}

// UpdateMemberTargets sets one member's sim/ftth targets, validating
// both against the task's allocation minus what the other members
// already hold, and against the member's recorded sales. Creates the
// assignment row on first allocation.
func (t *Tree) UpdateMemberTargets(ctx context.Context, taskID, memberID string, simTarget, ftthTarget int, performedBy string) error {
	defer t.lock(taskID)()

	task, err := t.tasks.GetByID(ctx, taskID)
	if err != nil {
		return err
	}

	existing, err := t.assignments.Get(ctx, taskID, memberID)
	if err != nil {
		return err
	}
	for _, check := range []struct {
		rt     domain.ResourceType
		target int
	}{
		{domain.ResourceSIM, simTarget},
		{domain.ResourceFTTH, ftthTarget},
	} {
		if existing != nil && check.target < existing.Sold(check.rt) {
			return &domain.TargetBelowProgressError{
				TaskID: taskID, MemberID: memberID,
				NewTarget: check.target, Progress: existing.Sold(check.rt),
			}
		}
		others, err := t.distributedSum(ctx, taskID, check.rt, memberID)
		if err != nil {
			return err
		}
		if others+check.target > task.Allocated(check.rt) {
			return &domain.OverAllocationError{
				TaskID: taskID, Resource: string(check.rt),
				Requested: check.target, Available: task.Allocated(check.rt) - others,
			}
		}
	}

	now := time.Now().UTC()
	a := existing
	isNew := a == nil
	if isNew {
		a = &domain.Assignment{
			TaskID:     taskID,
			MemberID:   memberID,
			Submission: domain.SubmissionNotStarted,
			CreatedAt:  now,
		}
	}
	a.SimTarget = simTarget
	a.FtthTarget = ftthTarget
	a.UpdatedAt = now
	if err := t.assignments.Upsert(ctx, a); err != nil {
		return err
	}

	t.sink.Record(ctx, domain.AuditEntry{
		Action:      "assignment.update_targets",
		EntityType:  "assignment",
		EntityID:    taskID + "/" + memberID,
		PerformedBy: performedBy,
		Details: map[string]string{
			"sim_target":  strconv.Itoa(simTarget),
			"ftth_target": strconv.Itoa(ftthTarget),
		},
	})

	typ := domain.NotifyTargetChanged
	title := "Your targets changed"
	if isNew {
		typ = domain.NotifyAssignment
		title = "New task assigned"
	}
	t.events.Notify(ctx, domain.NotificationRequest{
		Recipients: []string{memberID},
		Type:       typ,
		Title:      title,
		Message:    fmt.Sprintf("Task %q: %d SIM, %d FTTH", task.Name, simTarget, ftthTarget),
		EntityType: "task",
		EntityID:   taskID,
	})
	return nil
}

// AutoDistribute splits the task's allocation of one resource type
// evenly across the given members (caller-supplied order decides who
// gets the remainder units) and writes every member's target.
func (t *Tree) AutoDistribute(ctx context.Context, taskID string, rt domain.ResourceType, memberIDs []string, performedBy string) error {
	if len(memberIDs) == 0 {
		return nil
	}
	defer t.lock(taskID)()

	task, err := t.tasks.GetByID(ctx, taskID)
	if err != nil {
		return err
	}
	shares := DistributeEvenly(task.Allocated(rt), len(memberIDs))

	// Validate all shares against recorded progress before writing any.
	now := time.Now().UTC()
	updated := make([]*domain.Assignment, len(memberIDs))
	for i, memberID := range memberIDs {
		a, err := t.assignments.Get(ctx, taskID, memberID)
		if err != nil {
			return err
		}
		if a == nil {
			a = &domain.Assignment{
				TaskID:     taskID,
				MemberID:   memberID,
				Submission: domain.SubmissionNotStarted,
				CreatedAt:  now,
			}
		}
		if shares[i] < a.Sold(rt) {
			return &domain.TargetBelowProgressError{
				TaskID: taskID, MemberID: memberID,
				NewTarget: shares[i], Progress: a.Sold(rt),
			}
		}
		if rt == domain.ResourceFTTH {
			a.FtthTarget = shares[i]
		} else {
			a.SimTarget = shares[i]
		}
		a.UpdatedAt = now
		updated[i] = a
	}
	for _, a := range updated {
		if err := t.assignments.Upsert(ctx, a); err != nil {
			return err
		}
	}

	t.sink.Record(ctx, domain.AuditEntry{
		Action:      "task.auto_distribute",
		EntityType:  "task",
		EntityID:    taskID,
		PerformedBy: performedBy,
		Details: map[string]string{
			"type":    string(rt),
			"members": strconv.Itoa(len(memberIDs)),
		},
	})
	t.events.Notify(ctx, domain.NotificationRequest{
		Recipients: memberIDs,
		Type:       domain.NotifyTargetChanged,
		Title:      "Your targets changed",
		Message:    fmt.Sprintf("Task %q targets were redistributed", task.Name),
		EntityType: "task",
		EntityID:   taskID,
	})
	return nil
}

// DistributeToTeam resolves the task's roster through the directory
// and splits the allocation of one resource type across it.
func (t *Tree) DistributeToTeam(ctx context.Context, taskID string, rt domain.ResourceType, performedBy string) error {
	if t.directory == nil {
		return fmt.Errorf("no directory configured")
	}
	members, err := t.directory.ListTeamMembers(ctx, taskID)
	if err != nil {
		return fmt.Errorf("list team members for task %s: %w", taskID, err)
	}
	if len(members) == 0 {
		return fmt.Errorf("task %s has no team members", taskID)
	}
	return t.AutoDistribute(ctx, taskID, rt, members, performedBy)
}

// RecordSale records qty units sold by a member. The assignment's sold
// counter is bumped with a conditional update so it can never pass the
// member's target, and the region pool's used counter follows.
func (t *Tree) RecordSale(ctx context.Context, taskID, memberID string, rt domain.ResourceType, qty int, performedBy string) error {
	if qty <= 0 {
		return nil
	}
	task, err := t.tasks.GetByID(ctx, taskID)
	if err != nil {
		return err
	}
	a, err := t.assignments.Get(ctx, taskID, memberID)
	if err != nil {
		return err
	}
	if a == nil {
		return fmt.Errorf("member %s has no assignment on task %s", memberID, taskID)
	}

	ok, err := t.assignments.AddSold(ctx, taskID, memberID, rt, qty)
	if err != nil {
		return err
	}
	if !ok {
		return &domain.OverAllocationError{
			TaskID: taskID, Resource: string(rt),
			Requested: a.Sold(rt) + qty, Available: a.Target(rt) - a.Sold(rt),
		}
	}
	if err := t.ledger.RecordUsage(ctx, task.Region, rt, qty); err != nil {
		return err
	}

	// First progress write moves the submission out of not_started.
	if a.Submission == domain.SubmissionNotStarted {
		if _, err := t.assignments.UpdateSubmission(ctx, taskID, memberID,
			domain.SubmissionNotStarted, domain.SubmissionInProgress); err != nil {
			t.logger.Error("advance submission status",
				slog.String("task_id", taskID),
				slog.String("member_id", memberID),
				slog.String("error", err.Error()),
			)
		}
	}

	t.sink.Record(ctx, domain.AuditEntry{
		Action:      "assignment.record_sale",
		EntityType:  "assignment",
		EntityID:    taskID + "/" + memberID,
		PerformedBy: performedBy,
		Details: map[string]string{
			"type": string(rt),
			"qty":  strconv.Itoa(qty),
		},
	})
	return nil
}

// SetMemberCategoryTarget sets a member's share of one maintenance
// category, guarded against the task's category target and the member's
// recorded completions.
func (t *Tree) SetMemberCategoryTarget(ctx context.Context, taskID, memberID string, c domain.MaintenanceCategory, target int, performedBy string) error {
	if !c.Valid() {
		return fmt.Errorf("unknown category %q", c)
	}
	defer t.lock(taskID)()

	task, err := t.tasks.GetByID(ctx, taskID)
	if err != nil {
		return err
	}
	taskTarget := 0
	if p, ok := task.Categories[c]; ok {
		taskTarget = p.Target
	}

	a, err := t.assignments.Get(ctx, taskID, memberID)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	if a == nil {
		a = &domain.Assignment{
			TaskID:     taskID,
			MemberID:   memberID,
			Submission: domain.SubmissionNotStarted,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		if err := t.assignments.Upsert(ctx, a); err != nil {
			return err
		}
	}
	counts := a.Categories[c]
	if target < counts.Completed {
		return &domain.TargetBelowProgressError{
			TaskID: taskID, MemberID: memberID, NewTarget: target, Progress: counts.Completed,
		}
	}

	others := 0
	all, err := t.assignments.ListByTask(ctx, taskID)
	if err != nil {
		return err
	}
	for _, other := range all {
		if other.MemberID == memberID {
			continue
		}
		others += other.Categories[c].Target
	}
	if others+target > taskTarget {
		return &domain.OverAllocationError{
			TaskID: taskID, Resource: string(c),
			Requested: target, Available: taskTarget - others,
		}
	}

	counts.Target = target
	return t.assignments.SaveCategory(ctx, taskID, memberID, c, counts)
}

// IncrementMemberCategory adjusts a member's completed count for one
// category, clamped to [0, target]. Delta may be negative (undo).
func (t *Tree) IncrementMemberCategory(ctx context.Context, taskID, memberID string, c domain.MaintenanceCategory, delta int) error {
	defer t.lock(taskID)()

	a, err := t.assignments.Get(ctx, taskID, memberID)
	if err != nil {
		return err
	}
	if a == nil {
		return fmt.Errorf("member %s has no assignment on task %s", memberID, taskID)
	}
	counts := a.Categories[c]
	counts.Completed = clamp(counts.Completed+delta, 0, counts.Target)
	return t.assignments.SaveCategory(ctx, taskID, memberID, c, counts)
}

// distributedSum totals the member targets for rt across a task's
// assignments, skipping excludeMember when non-empty.
func (t *Tree) distributedSum(ctx context.Context, taskID string, rt domain.ResourceType, excludeMember string) (int, error) {
	all, err := t.assignments.ListByTask(ctx, taskID)
	if err != nil {
		return 0, err
	}
	sum := 0
	for _, a := range all {
		if excludeMember != "" && a.MemberID == excludeMember {
			continue
		}
		sum += a.Target(rt)
	}
	return sum, nil
}

func (t *Tree) compensate(ctx context.Context, region string, rt domain.ResourceType, qty int, performedBy string) {
	if qty <= 0 {
		return
	}
	if err := t.ledger.Release(ctx, region, rt, qty, performedBy); err != nil {
		t.logger.Error("compensating release failed",
			slog.String("region", region),
			slog.String("type", string(rt)),
			slog.Int("qty", qty),
			slog.String("error", err.Error()),
		)
	}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
