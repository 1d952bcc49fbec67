package domain

import (
	"strings"
	"time"
)

// Status is derived from progress and never set directly.
type Status string

// Status values.
const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
)

// DefaultWeight is applied when an item is created without a weight.
const DefaultWeight = 1.0

// ActorType describes the actor class that triggered a mutation.
type ActorType string

// ActorType values.
const (
	ActorTypeUser   ActorType = "user"
	ActorTypeAgent  ActorType = "agent"
	ActorTypeSystem ActorType = "system"
)

// WorkItem is one node of a project's work-breakdown tree.
type WorkItem struct {
	ID        string
	ProjectID string
	// ParentID is empty for L1 roots.
	ParentID  string
	Code      string
	Level     Level
	Order     int
	Title     string
	Weight    float64
	Progress  int
	Status    Status
	CreatedAt time.Time
	UpdatedAt time.Time
}

// WorkItemInput holds write-time values for NewWorkItem.
type WorkItemInput struct {
	ID        string
	ProjectID string
	ParentID  string
	Code      string
	Level     Level
	Order     int
	Title     string
	Weight    float64
	Progress  int
}

// NewWorkItem validates input and returns a leaf work item.
func NewWorkItem(in WorkItemInput, now time.Time) (WorkItem, error) {
	in.ID = strings.TrimSpace(in.ID)
	in.ProjectID = strings.TrimSpace(in.ProjectID)
	in.ParentID = strings.TrimSpace(in.ParentID)
	in.Code = strings.TrimSpace(in.Code)
	in.Title = strings.TrimSpace(in.Title)

	if in.ID == "" || in.ProjectID == "" {
		return WorkItem{}, ErrInvalidID
	}
	if in.Title == "" {
		return WorkItem{}, ErrInvalidTitle
	}
	if !in.Level.IsValid() {
		return WorkItem{}, ErrInvalidLevel
	}
	if (in.Level == MinLevel) != (in.ParentID == "") {
		return WorkItem{}, ErrInvalidParentID
	}
	if in.ParentID == in.ID {
		return WorkItem{}, ErrInvalidParentID
	}
	if in.Order < 0 {
		return WorkItem{}, ErrInvalidPosition
	}
	if !ValidCode(in.Code) {
		return WorkItem{}, ErrInvalidCode
	}
	if in.Weight == 0 {
		in.Weight = DefaultWeight
	}
	if in.Weight < 0 {
		return WorkItem{}, ErrInvalidWeight
	}
	if !validProgress(in.Progress) {
		return WorkItem{}, ErrInvalidProgress
	}

	return WorkItem{
		ID:        in.ID,
		ProjectID: in.ProjectID,
		ParentID:  in.ParentID,
		Code:      in.Code,
		Level:     in.Level,
		Order:     in.Order,
		Title:     in.Title,
		Weight:    in.Weight,
		Progress:  in.Progress,
		Status:    DeriveStatus(in.Progress),
		CreatedAt: now.UTC(),
		UpdatedAt: now.UTC(),
	}, nil
}

// DeriveStatus maps progress onto its status.
func DeriveStatus(progress int) Status {
	switch {
	case progress >= 100:
		return StatusCompleted
	case progress > 0:
		return StatusInProgress
	default:
		return StatusPending
	}
}

// IsRoot reports whether the item sits at L1 without a parent.
func (w WorkItem) IsRoot() bool {
	return w.ParentID == ""
}

// SetProgress sets caller-owned progress on a leaf.
func (w *WorkItem) SetProgress(progress int, now time.Time) error {
	if !validProgress(progress) {
		return ErrInvalidProgress
	}
	w.Progress = progress
	w.Status = DeriveStatus(progress)
	w.UpdatedAt = now.UTC()
	return nil
}

// ApplyRollup stores a derived progress value and reports whether anything changed.
func (w *WorkItem) ApplyRollup(progress int, now time.Time) bool {
	progress = clampProgress(progress)
	status := DeriveStatus(progress)
	if w.Progress == progress && w.Status == status {
		return false
	}
	w.Progress = progress
	w.Status = status
	w.UpdatedAt = now.UTC()
	return true
}

// UpdateDetails changes the title and aggregation weight.
func (w *WorkItem) UpdateDetails(title string, weight float64, now time.Time) error {
	title = strings.TrimSpace(title)
	if title == "" {
		return ErrInvalidTitle
	}
	if weight == 0 {
		weight = DefaultWeight
	}
	if weight < 0 {
		return ErrInvalidWeight
	}
	w.Title = title
	w.Weight = weight
	w.UpdatedAt = now.UTC()
	return nil
}

// Place moves the item under parentID at the given level and sibling order.
func (w *WorkItem) Place(parentID string, level Level, order int, now time.Time) error {
	parentID = strings.TrimSpace(parentID)
	if !level.IsValid() {
		return ErrInvalidLevel
	}
	if (level == MinLevel) != (parentID == "") || parentID == w.ID {
		return ErrInvalidParentID
	}
	if order < 0 {
		return ErrInvalidPosition
	}
	w.ParentID = parentID
	w.Level = level
	w.Order = order
	w.UpdatedAt = now.UTC()
	return nil
}

func validProgress(progress int) bool {
	return progress >= 0 && progress <= 100
}

func clampProgress(progress int) int {
	return max(0, min(100, progress))
}
