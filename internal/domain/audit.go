package domain

import "time"

// AuditEntry records one state-changing operation. Entries are emitted
// fire-and-forget and never sit on the transaction-critical path.
type AuditEntry struct {
	Action      string            `json:"action"`
	EntityType  string            `json:"entity_type"`
	EntityID    string            `json:"entity_id"`
	PerformedBy string            `json:"performed_by"`
	Details     map[string]string `json:"details,omitempty"`
	Timestamp   time.Time         `json:"timestamp"`
}
