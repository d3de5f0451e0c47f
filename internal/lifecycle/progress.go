package lifecycle

import (
	"context"
	"fmt"
	"strconv"

	"github.com/aulnovauk/fieldops/internal/domain"
)

// Increment adjusts a task category's completed count by delta, clamped
// to [0, target]. Delta may be negative (undo). The first move from
// zero to a positive count anchors the category's SLA clock by setting
// StartedAt; later increments never touch it.
func (s *Service) Increment(ctx context.Context, taskID string, c domain.MaintenanceCategory, delta int, performedBy string) error {
	if !c.Valid() {
		return fmt.Errorf("unknown category %q", c)
	}
	task, err := s.tasks.GetByID(ctx, taskID)
	if err != nil {
		return err
	}

	p := task.Category(c)
	before := p.Completed
	after := before + delta
	if after < 0 {
		after = 0
	}
	if after > p.Target {
		after = p.Target
	}
	if after == before {
		return nil
	}
	p.Completed = after

	if before == 0 && after > 0 && p.StartedAt == nil {
		t := s.now().UTC()
		p.StartedAt = &t
	}

	if err := s.tasks.SaveCategory(ctx, taskID, c, p); err != nil {
		return err
	}

	s.sink.Record(ctx, domain.AuditEntry{
		Action:      "task.progress",
		EntityType:  "task",
		EntityID:    taskID,
		PerformedBy: performedBy,
		Details: map[string]string{
			"category":  string(c),
			"completed": strconv.Itoa(after),
		},
	})
	return nil
}
