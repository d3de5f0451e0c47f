package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aulnovauk/fieldops/internal/domain"
)

// SweepOverdue auto-completes every active task whose end date passed.
// Idempotent: the status write is conditional on the task still being
// active, so a task completed, paused or cancelled between the listing
// and the write is untouched. Returns how many tasks were completed.
func (s *Service) SweepOverdue(ctx context.Context, now time.Time) (int, error) {
	overdue, err := s.tasks.ListActiveEndedBefore(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("list overdue tasks: %w", err)
	}

	completed := 0
	for _, task := range overdue {
		ok, err := s.tasks.UpdateStatusFrom(ctx, task.ID, domain.StatusActive, domain.StatusCompleted)
		if err != nil {
			s.logger.Error("auto-complete task",
				slog.String("task_id", task.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		if !ok {
			// The task left active since the listing; its new state wins.
			continue
		}
		completed++

		s.sink.Record(ctx, domain.AuditEntry{
			Action:      "task.auto_complete",
			EntityType:  "task",
			EntityID:    task.ID,
			PerformedBy: "scheduler",
			Details:     map[string]string{"ends_at": task.EndsAt.Format(time.RFC3339)},
		})

		recipients := make([]string, 0, 2)
		if task.ManagerID != "" {
			recipients = append(recipients, task.ManagerID)
		}
		if task.CreatedBy != "" && task.CreatedBy != task.ManagerID {
			recipients = append(recipients, task.CreatedBy)
		}
		if len(recipients) > 0 {
			s.events.Notify(ctx, domain.NotificationRequest{
				Recipients: recipients,
				Type:       domain.NotifyTaskCompleted,
				Title:      "Task completed",
				Message:    fmt.Sprintf("Task %q passed its end date and was completed automatically", task.Name),
				EntityType: "task",
				EntityID:   task.ID,
			})
		}
	}
	return completed, nil
}
