package domain

import "time"

// ResourceType identifies a consumable resource tracked per region.
type ResourceType string

const (
	ResourceSIM  ResourceType = "SIM"
	ResourceFTTH ResourceType = "FTTH"
)

// ResourceTypes lists all known resource types in a stable order.
func ResourceTypes() []ResourceType {
	return []ResourceType{ResourceSIM, ResourceFTTH}
}

// ResourcePool is a region's inventory counter set for one resource type.
//
// Invariant: Allocated + Remaining == Total and Used <= Allocated after
// every ledger operation. Only the ledger mutates these counters.
type ResourcePool struct {
	Region    string       `json:"region"`
	Type      ResourceType `json:"type"`
	Total     int          `json:"total"`
	Allocated int          `json:"allocated"`
	Used      int          `json:"used"`
	Remaining int          `json:"remaining"`
	UpdatedAt time.Time    `json:"updated_at"`
}
