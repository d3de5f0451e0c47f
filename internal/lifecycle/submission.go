package lifecycle

import (
	"context"
	"fmt"

	"github.com/aulnovauk/fieldops/internal/domain"
)

// Submit moves a member's report from in_progress to submitted.
func (s *Service) Submit(ctx context.Context, taskID, memberID string) error {
	ok, err := s.assignments.UpdateSubmission(ctx, taskID, memberID,
		domain.SubmissionInProgress, domain.SubmissionSubmitted)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("assignment %s/%s is not in progress", taskID, memberID)
	}

	s.sink.Record(ctx, domain.AuditEntry{
		Action:      "assignment.submit",
		EntityType:  "assignment",
		EntityID:    taskID + "/" + memberID,
		PerformedBy: memberID,
	})
	return nil
}

// Review approves or rejects a submitted report. A rejected report goes
// back to the member for rework.
func (s *Service) Review(ctx context.Context, taskID, memberID string, approve bool, performedBy string) error {
	to := domain.SubmissionApproved
	action := "assignment.approve"
	title := "Report approved"
	if !approve {
		to = domain.SubmissionRejected
		action = "assignment.reject"
		title = "Report rejected"
	}

	ok, err := s.assignments.UpdateSubmission(ctx, taskID, memberID, domain.SubmissionSubmitted, to)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("assignment %s/%s has no submitted report", taskID, memberID)
	}

	s.sink.Record(ctx, domain.AuditEntry{
		Action:      action,
		EntityType:  "assignment",
		EntityID:    taskID + "/" + memberID,
		PerformedBy: performedBy,
	})
	s.events.Notify(ctx, domain.NotificationRequest{
		Recipients: []string{memberID},
		Type:       domain.NotifySubmission,
		Title:      title,
		Message:    fmt.Sprintf("Your report for task %s was %s", taskID, to),
		EntityType: "assignment",
		EntityID:   taskID + "/" + memberID,
	})
	return nil
}
