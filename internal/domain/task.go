package domain

import "time"

// TaskStatus represents the states a field task can be in.
type TaskStatus string

const (
	StatusDraft     TaskStatus = "draft"
	StatusActive    TaskStatus = "active"
	StatusPaused    TaskStatus = "paused"
	StatusCompleted TaskStatus = "completed"
	StatusCancelled TaskStatus = "cancelled"
)

// Task is a unit of assigned work in one region, spanning one or more
// categories with targets and a date range.
//
// Ownership is split: lifecycle owns Status and category counters, the
// allocation tree owns AllocatedSim/AllocatedFtth. Neither mutates the
// other's fields.
type Task struct {
	ID            string                                    `json:"id"`
	Region        string                                    `json:"region"`
	Name          string                                    `json:"name"`
	Location      string                                    `json:"location"`
	StartsAt      *time.Time                                `json:"starts_at,omitempty"`
	EndsAt        *time.Time                                `json:"ends_at,omitempty"`
	Status        TaskStatus                                `json:"status"`
	AllocatedSim  int                                       `json:"allocated_sim"`
	AllocatedFtth int                                       `json:"allocated_ftth"`
	Categories    map[MaintenanceCategory]*CategoryProgress `json:"categories,omitempty"`
	CreatedBy     string                                    `json:"created_by"`
	ManagerID     string                                    `json:"manager_id"`
	CreatedAt     time.Time                                 `json:"created_at"`
	UpdatedAt     time.Time                                 `json:"updated_at"`
}

// Allocated returns the task's allocation for the given resource type.
func (t *Task) Allocated(rt ResourceType) int {
	if rt == ResourceFTTH {
		return t.AllocatedFtth
	}
	return t.AllocatedSim
}

// Category returns the progress entry for c, creating it if absent.
func (t *Task) Category(c MaintenanceCategory) *CategoryProgress {
	if t.Categories == nil {
		t.Categories = make(map[MaintenanceCategory]*CategoryProgress)
	}
	p, ok := t.Categories[c]
	if !ok {
		p = &CategoryProgress{}
		t.Categories[c] = p
	}
	return p
}
