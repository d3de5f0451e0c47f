// Package sla derives urgency and breach state for maintenance
// categories from elapsed wall-clock time. Evaluate is a pure function
// of its input: the same computation runs for a task's aggregate
// counters and for each member's own share, and the two may disagree.
package sla

import (
	"fmt"
	"strings"
	"time"
)

// Status is the urgency classification of one category's deadline.
type Status string

const (
	StatusNoSLA      Status = "no_sla"
	StatusNotStarted Status = "not_started"
	StatusInProgress Status = "in_progress"
	StatusWarning    Status = "warning"
	StatusBreached   Status = "breached"
	StatusCompleted  Status = "completed"
)

// WarningWindow is the remaining-time threshold below which a category
// is flagged warning.
const WarningWindow = time.Hour

// Input is everything Evaluate looks at.
type Input struct {
	Target         int
	Completed      int
	EstimatedHours float64
	StartedAt      *time.Time
	Now            time.Time
}

// Result is the computed deadline state.
type Result struct {
	Status Status
	// Deadline is set once the SLA clock has started.
	Deadline *time.Time
	// Remaining is time until the deadline; negative when breached. For
	// not_started it is the full estimated budget.
	Remaining time.Duration
	// Message reports, for breached categories, how long the work has
	// been open against its estimate.
	Message string
}

// Evaluate computes the SLA state for one (target, completed, budget,
// startedAt) tuple at the given instant.
func Evaluate(in Input) Result {
	if in.EstimatedHours == 0 {
		return Result{Status: StatusNoSLA}
	}
	if in.Target > 0 && in.Completed >= in.Target {
		return Result{Status: StatusCompleted}
	}

	budget := time.Duration(in.EstimatedHours * float64(time.Hour))
	if in.StartedAt == nil {
		return Result{Status: StatusNotStarted, Remaining: budget}
	}

	deadline := in.StartedAt.Add(budget)
	remaining := deadline.Sub(in.Now)
	res := Result{Deadline: &deadline, Remaining: remaining}

	switch {
	case remaining <= 0:
		res.Status = StatusBreached
		// The overdue duration is measured from the start of the work,
		// not from the missed deadline.
		res.Message = fmt.Sprintf("open for %s against a %s estimate",
			FormatDuration(in.Now.Sub(*in.StartedAt)), FormatDuration(budget))
	case remaining <= WarningWindow:
		res.Status = StatusWarning
	default:
		res.Status = StatusInProgress
	}
	return res
}

// FormatDuration renders d as days/hours/minutes, largest non-zero
// units only: "2d 3h", "1h 30m", "45m". Durations under a minute render
// as "0m".
func FormatDuration(d time.Duration) string {
	if d < 0 {
		d = -d
	}
	days := int(d / (24 * time.Hour))
	hours := int(d/time.Hour) % 24
	minutes := int(d/time.Minute) % 60

	var parts []string
	if days > 0 {
		parts = append(parts, fmt.Sprintf("%dd", days))
	}
	if hours > 0 {
		parts = append(parts, fmt.Sprintf("%dh", hours))
	}
	if minutes > 0 {
		parts = append(parts, fmt.Sprintf("%dm", minutes))
	}
	if len(parts) == 0 {
		return "0m"
	}
	return strings.Join(parts, " ")
}
