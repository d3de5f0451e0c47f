package domain

import "time"

// MaintenanceCategory is a sub-goal type within a task. Each category has
// its own target, progress counter and SLA budget.
type MaintenanceCategory string

const (
	CategoryEB        MaintenanceCategory = "eb"
	CategoryLease     MaintenanceCategory = "lease"
	CategoryBtsDown   MaintenanceCategory = "bts_down"
	CategoryFtthDown  MaintenanceCategory = "ftth_down"
	CategoryRouteFail MaintenanceCategory = "route_fail"
	CategoryOfcFail   MaintenanceCategory = "ofc_fail"
)

// Categories lists all maintenance categories in a stable order.
func Categories() []MaintenanceCategory {
	return []MaintenanceCategory{
		CategoryEB, CategoryLease, CategoryBtsDown,
		CategoryFtthDown, CategoryRouteFail, CategoryOfcFail,
	}
}

// Valid reports whether c is a known category.
func (c MaintenanceCategory) Valid() bool {
	for _, k := range Categories() {
		if c == k {
			return true
		}
	}
	return false
}

// CategoryProgress holds one category's target, counter and SLA anchor on
// a task. StartedAt is set on the first 0→positive progress increment and
// is never reset by further increments.
type CategoryProgress struct {
	Target         int        `json:"target"`
	Completed      int        `json:"completed"`
	EstimatedHours float64    `json:"estimated_hours"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
}

// CategoryCounts is a member's share of one category on an assignment.
type CategoryCounts struct {
	Target    int `json:"target"`
	Completed int `json:"completed"`
}
