// Package lifecycle owns the task status state machine and category
// progress counters. It never mutates allocation or sold counters;
// those belong to the allocation tree.
package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aulnovauk/fieldops/internal/audit"
	"github.com/aulnovauk/fieldops/internal/domain"
	"github.com/aulnovauk/fieldops/internal/postgres"
)

// transitions holds the directed edges of the status machine. Anything
// not listed is rejected.
var transitions = map[domain.TaskStatus][]domain.TaskStatus{
	domain.StatusDraft:     {domain.StatusActive, domain.StatusCancelled},
	domain.StatusActive:    {domain.StatusPaused, domain.StatusCompleted, domain.StatusCancelled},
	domain.StatusPaused:    {domain.StatusActive, domain.StatusCompleted, domain.StatusCancelled},
	domain.StatusCompleted: {domain.StatusActive},
	domain.StatusCancelled: {domain.StatusDraft},
}

// CanTransition reports whether from → to is a legal edge.
func CanTransition(from, to domain.TaskStatus) bool {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// readinessRequired is how many checklist items must hold before a
// draft task may activate.
const readinessRequired = 4

// EventSink receives best-effort notification requests.
type EventSink interface {
	Notify(ctx context.Context, req domain.NotificationRequest)
}

type nopSink struct{}

func (nopSink) Notify(context.Context, domain.NotificationRequest) {}

// Service drives task status changes and progress counters.
type Service struct {
	tasks       postgres.TaskRepository
	assignments postgres.AssignmentRepository
	sink        audit.Sink
	events      EventSink
	now         func() time.Time
	logger      *slog.Logger
}

// NewService constructs a lifecycle Service. sink and events may be nil.
func NewService(
	tasks postgres.TaskRepository,
	assignments postgres.AssignmentRepository,
	sink audit.Sink,
	events EventSink,
	logger *slog.Logger,
) *Service {
	if sink == nil {
		sink = audit.Nop()
	}
	if events == nil {
		events = nopSink{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		tasks:       tasks,
		assignments: assignments,
		sink:        sink,
		events:      events,
		now:         time.Now,
		logger:      logger,
	}
}

// WithClock replaces the service clock; tests use it to pin time.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Transition moves a task to a new status, enforcing the state machine
// edges and the activation readiness checklist.
func (s *Service) Transition(ctx context.Context, taskID string, to domain.TaskStatus, performedBy string) error {
	task, err := s.tasks.GetByID(ctx, taskID)
	if err != nil {
		return err
	}
	if !CanTransition(task.Status, to) {
		return &domain.InvalidTransitionError{TaskID: taskID, From: task.Status, To: to}
	}

	if task.Status == domain.StatusDraft && to == domain.StatusActive {
		met, err := s.readiness(ctx, task)
		if err != nil {
			return err
		}
		if met < readinessRequired {
			return &domain.NotReadyError{TaskID: taskID, Missing: readinessTotal - met}
		}
	}

	if err := s.tasks.UpdateStatus(ctx, taskID, to); err != nil {
		return err
	}

	s.sink.Record(ctx, domain.AuditEntry{
		Action:      "task.transition",
		EntityType:  "task",
		EntityID:    taskID,
		PerformedBy: performedBy,
		Details: map[string]string{
			"from": string(task.Status),
			"to":   string(to),
		},
	})
	return nil
}

// readinessTotal is the checklist length.
const readinessTotal = 6

// readiness counts how many checklist items hold for the task: name,
// location, date range, assigned manager, at least one team member, and
// at least one positive sales target.
func (s *Service) readiness(ctx context.Context, task *domain.Task) (int, error) {
	met := 0
	if task.Name != "" {
		met++
	}
	if task.Location != "" {
		met++
	}
	if task.StartsAt != nil && task.EndsAt != nil {
		met++
	}
	if task.ManagerID != "" {
		met++
	}
	members, err := s.assignments.ListByTask(ctx, task.ID)
	if err != nil {
		return 0, fmt.Errorf("readiness check for task %s: %w", task.ID, err)
	}
	if len(members) > 0 {
		met++
	}
	if task.AllocatedSim > 0 || task.AllocatedFtth > 0 {
		met++
	}
	return met, nil
}
