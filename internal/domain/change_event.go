package domain

import "time"

// ChangeOperation describes a persisted activity operation for a work item.
type ChangeOperation string

// ChangeOperation values used by the local activity ledger.
const (
	ChangeOperationCreate   ChangeOperation = "create"
	ChangeOperationUpdate   ChangeOperation = "update"
	ChangeOperationProgress ChangeOperation = "progress"
	ChangeOperationPromote  ChangeOperation = "promote"
	ChangeOperationDemote   ChangeOperation = "demote"
	ChangeOperationMove     ChangeOperation = "move"
	ChangeOperationDelete   ChangeOperation = "delete"
)

// ChangeEvent represents a single activity-log entry for a project work item.
type ChangeEvent struct {
	ID         int64
	ProjectID  string
	WorkItemID string
	Operation  ChangeOperation
	ActorID    string
	ActorType  ActorType
	Metadata   map[string]string
	OccurredAt time.Time
}

// IsValidActorType reports whether the actor type is one of the known classes.
func IsValidActorType(actorType ActorType) bool {
	switch actorType {
	case ActorTypeUser, ActorTypeAgent, ActorTypeSystem:
		return true
	default:
		return false
	}
}
