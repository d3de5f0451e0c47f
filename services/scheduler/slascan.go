package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/aulnovauk/fieldops/internal/directory"
	"github.com/aulnovauk/fieldops/internal/domain"
	"github.com/aulnovauk/fieldops/internal/postgres"
	"github.com/aulnovauk/fieldops/internal/sla"
	"github.com/aulnovauk/fieldops/pkg/telemetry"
)

// scanBatchSize bounds how many active tasks one scan loads.
const scanBatchSize = 500

// EventSink receives notification requests raised by the scan.
type EventSink interface {
	Notify(ctx context.Context, req domain.NotificationRequest)
}

// SLAScanner walks active tasks and raises warning/breach alerts for
// the task-level counters and for each member's own share. The two can
// disagree: a task on track overall may still have one member breached.
type SLAScanner struct {
	tasks       postgres.TaskRepository
	assignments postgres.AssignmentRepository
	directory   directory.Directory
	events      EventSink
	logger      *slog.Logger
}

func NewSLAScanner(
	tasks postgres.TaskRepository,
	assignments postgres.AssignmentRepository,
	dir directory.Directory,
	events EventSink,
	logger *slog.Logger,
) *SLAScanner {
	return &SLAScanner{
		tasks:       tasks,
		assignments: assignments,
		directory:   dir,
		events:      events,
		logger:      logger,
	}
}

// Scan evaluates every category of every active task at the given
// instant. Per-task failures are logged and skipped so one bad row
// never aborts the pass.
func (s *SLAScanner) Scan(ctx context.Context, now time.Time) error {
	ctx, span := otel.Tracer("scheduler").Start(ctx, "scheduler.sla_scan")
	defer span.End()

	tasks, err := s.tasks.ListByStatus(ctx, domain.StatusActive, scanBatchSize)
	if err != nil {
		return fmt.Errorf("list active tasks: %w", err)
	}
	span.SetAttributes(attribute.Int("scan.tasks", len(tasks)))

	for _, task := range tasks {
		if err := s.scanTask(ctx, task, now); err != nil {
			s.logger.Error("sla scan failed for task",
				slog.String("task_id", task.ID),
				slog.String("error", err.Error()),
			)
		}
	}
	return nil
}

func (s *SLAScanner) scanTask(ctx context.Context, task *domain.Task, now time.Time) error {
	for c, progress := range task.Categories {
		res := sla.Evaluate(sla.Input{
			Target:         progress.Target,
			Completed:      progress.Completed,
			EstimatedHours: progress.EstimatedHours,
			StartedAt:      progress.StartedAt,
			Now:            now,
		})
		if res.Status != sla.StatusWarning && res.Status != sla.StatusBreached {
			continue
		}
		s.alertManagers(ctx, task, c, res)
	}

	members, err := s.assignments.ListByTask(ctx, task.ID)
	if err != nil {
		return fmt.Errorf("list assignments: %w", err)
	}
	for _, a := range members {
		for c, counts := range a.Categories {
			progress, ok := task.Categories[c]
			if !ok {
				continue
			}
			res := sla.Evaluate(sla.Input{
				Target:         counts.Target,
				Completed:      counts.Completed,
				EstimatedHours: progress.EstimatedHours,
				StartedAt:      progress.StartedAt,
				Now:            now,
			})
			if res.Status != sla.StatusWarning && res.Status != sla.StatusBreached {
				continue
			}
			s.alertMember(ctx, task, a.MemberID, c, res)
		}
	}
	return nil
}

// alertManagers notifies the task's manager and their chain.
func (s *SLAScanner) alertManagers(ctx context.Context, task *domain.Task, c domain.MaintenanceCategory, res sla.Result) {
	recipients := []string{task.ManagerID}
	chain, err := s.directory.ResolveManagerChain(ctx, task.ManagerID)
	if err != nil {
		// Degrade to notifying the direct manager only.
		s.logger.Warn("manager chain lookup failed",
			slog.String("manager_id", task.ManagerID),
			slog.String("error", err.Error()),
		)
	} else {
		recipients = append(recipients, chain...)
	}

	typ, title, msg := describeAlert(task.Name, c, res)
	telemetry.SchedulerSLAAlerts.WithLabelValues(string(res.Status)).Inc()
	s.events.Notify(ctx, domain.NotificationRequest{
		Recipients: recipients,
		Type:       typ,
		Title:      title,
		Message:    msg,
		EntityType: "task",
		EntityID:   task.ID,
		DedupeKey:  fmt.Sprintf("sla:%s:%s:%s", task.ID, c, res.Status),
	})
}

// alertMember notifies one member about their own share.
func (s *SLAScanner) alertMember(ctx context.Context, task *domain.Task, memberID string, c domain.MaintenanceCategory, res sla.Result) {
	typ, title, msg := describeAlert(task.Name, c, res)
	telemetry.SchedulerSLAAlerts.WithLabelValues(string(res.Status)).Inc()
	s.events.Notify(ctx, domain.NotificationRequest{
		Recipients: []string{memberID},
		Type:       typ,
		Title:      title,
		Message:    msg,
		EntityType: "task",
		EntityID:   task.ID,
		DedupeKey:  fmt.Sprintf("sla:%s:%s:%s:%s", task.ID, memberID, c, res.Status),
	})
}

func describeAlert(taskName string, c domain.MaintenanceCategory, res sla.Result) (domain.NotificationType, string, string) {
	if res.Status == sla.StatusBreached {
		return domain.NotifySLABreach,
			"SLA breached: " + taskName,
			fmt.Sprintf("Category %s is %s", c, res.Message)
	}
	return domain.NotifySLAWarning,
		"SLA warning: " + taskName,
		fmt.Sprintf("Category %s has %s remaining", c, sla.FormatDuration(res.Remaining))
}
