package domain

import "time"

// SubmissionStatus tracks a member's reporting state on an assignment.
type SubmissionStatus string

const (
	SubmissionNotStarted SubmissionStatus = "not_started"
	SubmissionInProgress SubmissionStatus = "in_progress"
	SubmissionSubmitted  SubmissionStatus = "submitted"
	SubmissionApproved   SubmissionStatus = "approved"
	SubmissionRejected   SubmissionStatus = "rejected"
)

// Assignment binds one team member to one task with individual targets
// and progress. One row per (task, member) pair, created on first
// allocation or first progress write.
//
// Invariant: SimSold <= SimTarget and FtthSold <= FtthTarget always.
type Assignment struct {
	TaskID     string                                 `json:"task_id"`
	MemberID   string                                 `json:"member_id"`
	SimTarget  int                                    `json:"sim_target"`
	FtthTarget int                                    `json:"ftth_target"`
	SimSold    int                                    `json:"sim_sold"`
	FtthSold   int                                    `json:"ftth_sold"`
	Categories map[MaintenanceCategory]CategoryCounts `json:"categories,omitempty"`
	Submission SubmissionStatus                       `json:"submission_status"`
	CreatedAt  time.Time                              `json:"created_at"`
	UpdatedAt  time.Time                              `json:"updated_at"`
}

// Target returns the member's target for the given resource type.
func (a *Assignment) Target(rt ResourceType) int {
	if rt == ResourceFTTH {
		return a.FtthTarget
	}
	return a.SimTarget
}

// Sold returns the member's recorded sales for the given resource type.
func (a *Assignment) Sold(rt ResourceType) int {
	if rt == ResourceFTTH {
		return a.FtthSold
	}
	return a.SimSold
}
