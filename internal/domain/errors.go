package domain

import "fmt"

// InsufficientResourceError is returned when a reserve request exceeds
// the pool's remaining quantity. Not retryable.
type InsufficientResourceError struct {
	Region    string
	Type      ResourceType
	Requested int
	Available int
}

func (e *InsufficientResourceError) Error() string {
	return fmt.Sprintf("insufficient %s in region %s: requested %d, available %d",
		e.Type, e.Region, e.Requested, e.Available)
}

// InvalidCapacityError is returned when a pool total would drop below
// the quantity already allocated.
type InvalidCapacityError struct {
	Region    string
	Type      ResourceType
	NewTotal  int
	Allocated int
}

func (e *InvalidCapacityError) Error() string {
	return fmt.Sprintf("cannot set %s total for region %s to %d: %d already allocated",
		e.Type, e.Region, e.NewTotal, e.Allocated)
}

// OverAllocationError is returned when a member or task target exceeds
// the parent quota. Resource names the resource type or category the
// quota belongs to; Available is what the caller may still distribute.
type OverAllocationError struct {
	TaskID    string
	Resource  string
	Requested int
	Available int
}

func (e *OverAllocationError) Error() string {
	return fmt.Sprintf("over-allocation of %s on task %s: requested %d, available %d",
		e.Resource, e.TaskID, e.Requested, e.Available)
}

// TargetBelowProgressError is returned when a member's target would be
// reduced below that member's already-recorded progress.
type TargetBelowProgressError struct {
	TaskID    string
	MemberID  string
	NewTarget int
	Progress  int
}

func (e *TargetBelowProgressError) Error() string {
	return fmt.Sprintf("target %d for member %s on task %s is below recorded progress %d",
		e.NewTarget, e.MemberID, e.TaskID, e.Progress)
}

// AllocationBelowDistributedError is returned when a task's allocation
// would shrink below the sum already distributed to members.
type AllocationBelowDistributedError struct {
	TaskID      string
	Type        ResourceType
	NewQty      int
	Distributed int
}

func (e *AllocationBelowDistributedError) Error() string {
	return fmt.Sprintf("allocation %d of %s on task %s is below the %d already distributed",
		e.NewQty, e.Type, e.TaskID, e.Distributed)
}

// InvalidTransitionError is returned for an illegal task status change.
type InvalidTransitionError struct {
	TaskID string
	From   TaskStatus
	To     TaskStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition %s → %s for task %s", e.From, e.To, e.TaskID)
}

// NotReadyError is returned when activation is attempted before the
// readiness checklist is satisfied. Missing counts the unmet items.
type NotReadyError struct {
	TaskID  string
	Missing int
}

func (e *NotReadyError) Error() string {
	return fmt.Sprintf("task %s is not ready to activate: %d checklist item(s) unmet", e.TaskID, e.Missing)
}

// TaskNotFoundError is returned when a task ID does not exist.
type TaskNotFoundError struct {
	TaskID string
}

func (e *TaskNotFoundError) Error() string {
	return fmt.Sprintf("task not found: %s", e.TaskID)
}

// PoolNotFoundError is returned when no pool row exists for the
// (region, resource type) pair.
type PoolNotFoundError struct {
	Region string
	Type   ResourceType
}

func (e *PoolNotFoundError) Error() string {
	return fmt.Sprintf("no %s pool for region %s", e.Type, e.Region)
}

// DeliveryFailedError is a transient push-transport failure. It is
// retried by the queue processor and never surfaced to the caller that
// triggered the notification.
type DeliveryFailedError struct {
	Token string
	Cause error
}

func (e *DeliveryFailedError) Error() string {
	return fmt.Sprintf("push delivery to token %s failed: %v", e.Token, e.Cause)
}

func (e *DeliveryFailedError) Unwrap() error { return e.Cause }
