package domain

import (
	"encoding/json"
	"time"
)

// NotificationType classifies the business event behind a notification.
type NotificationType string

const (
	NotifyAssignment    NotificationType = "assignment"
	NotifyTargetChanged NotificationType = "target_changed"
	NotifySLAWarning    NotificationType = "sla_warning"
	NotifySLABreach     NotificationType = "sla_breach"
	NotifyTaskCompleted NotificationType = "task_completed"
	NotifySubmission    NotificationType = "submission"
)

// DedupeWindow is how long an identical (recipient, type, dedupe key)
// notification is suppressed after one fires.
const DedupeWindow = 5 * time.Minute

// DedupeKey builds the default key when the caller did not supply one.
func DedupeKey(entityType, entityID string, typ NotificationType) string {
	return entityType + ":" + entityID + ":" + string(typ)
}

// NotificationRecord is one delivered (or pending-delivery) notification.
//
// Invariant: at most one record with the same (RecipientID, Type,
// DedupeKey) inside the dedupe window.
type NotificationRecord struct {
	ID          string           `json:"id"`
	RecipientID string           `json:"recipient_id"`
	Type        NotificationType `json:"type"`
	Title       string           `json:"title"`
	Message     string           `json:"message"`
	EntityType  string           `json:"entity_type,omitempty"`
	EntityID    string           `json:"entity_id,omitempty"`
	DedupeKey   string           `json:"dedupe_key"`
	IsRead      bool             `json:"is_read"`
	CreatedAt   time.Time        `json:"created_at"`
}

// NotificationRequest is the dispatch input: one logical event fanned
// out to one or more recipients. It is also the wire shape of the
// notify.requests topic.
type NotificationRequest struct {
	Recipients []string         `json:"recipients"`
	Type       NotificationType `json:"type"`
	Title      string           `json:"title"`
	Message    string           `json:"message"`
	EntityType string           `json:"entity_type,omitempty"`
	EntityID   string           `json:"entity_id,omitempty"`
	DedupeKey  string           `json:"dedupe_key,omitempty"`
}

// PushToken is one device registration for an employee. Tokens with
// FailureCount >= MaxTokenFailures are skipped by the dispatcher and
// deactivated by the queue processor.
type PushToken struct {
	ID           string     `json:"id"`
	EmployeeID   string     `json:"employee_id"`
	Token        string     `json:"token"`
	Platform     string     `json:"platform"`
	Active       bool       `json:"active"`
	FailureCount int        `json:"failure_count"`
	LastUsedAt   *time.Time `json:"last_used_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

// MaxTokenFailures is the consecutive delivery-error count at which a
// token is considered dead and deactivated.
const MaxTokenFailures = 3

// QueueStatus is the delivery state of a queued push attempt.
type QueueStatus string

const (
	QueuePending    QueueStatus = "pending"
	QueueProcessing QueueStatus = "processing"
	QueueCompleted  QueueStatus = "completed"
	QueueFailed     QueueStatus = "failed"
)

// PushQueueItem is one pending push delivery. Created by the dispatcher,
// mutated only by the retry-queue processor. Completed and failed are
// terminal.
type PushQueueItem struct {
	ID            string          `json:"id"`
	Token         string          `json:"token"`
	Payload       json.RawMessage `json:"payload"`
	Status        QueueStatus     `json:"status"`
	Attempts      int             `json:"attempts"`
	MaxAttempts   int             `json:"max_attempts"`
	NextRetryAt   time.Time       `json:"next_retry_at"`
	LastAttemptAt *time.Time      `json:"last_attempt_at,omitempty"`
	LastError     string          `json:"last_error,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}
