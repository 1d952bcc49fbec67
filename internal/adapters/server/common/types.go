// Package common provides transport-agnostic server contracts used by HTTP and MCP adapters.
package common

import (
	"context"
	"errors"
	"time"

	"github.com/hylla/wbs/internal/app"
	"github.com/hylla/wbs/internal/domain"
	"github.com/hylla/wbs/internal/render"
)

// Transport-visible error kinds.
var (
	ErrNotFound         = errors.New("not found")
	ErrInvalidRequest   = errors.New("invalid request")
	ErrInvalidOperation = errors.New("invalid operation")
	ErrIntegrity        = errors.New("structural integrity violation")
	ErrStoreUnavailable = errors.New("store unavailable")
)

// Project is the wire shape of one project.
type Project struct {
	ID          string    `json:"id"`
	Slug        string    `json:"slug"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// WorkItem is the wire shape of one work item.
type WorkItem struct {
	ID        string    `json:"id"`
	ProjectID string    `json:"project_id"`
	ParentID  string    `json:"parent_id,omitempty"`
	Code      string    `json:"code"`
	Level     string    `json:"level"`
	Order     int       `json:"order"`
	Title     string    `json:"title"`
	Weight    float64   `json:"weight"`
	Progress  int       `json:"progress"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ChangeEvent is the wire shape of one ledger entry.
type ChangeEvent struct {
	ID         int64             `json:"id"`
	WorkItemID string            `json:"work_item_id"`
	Operation  string            `json:"operation"`
	ActorID    string            `json:"actor_id"`
	ActorType  string            `json:"actor_type"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	OccurredAt time.Time         `json:"occurred_at"`
}

// Violation is the wire shape of one verify finding.
type Violation struct {
	ItemID  string `json:"item_id"`
	Code    string `json:"code"`
	Rule    string `json:"rule"`
	Message string `json:"message"`
}

// VerifyReport summarizes one project verification.
type VerifyReport struct {
	ProjectID  string      `json:"project_id"`
	OK         bool        `json:"ok"`
	Violations []Violation `json:"violations"`
}

// LevelChange reports the new position of a promoted, demoted, or moved item.
type LevelChange struct {
	ItemID   string `json:"item_id"`
	NewLevel string `json:"new_level"`
	NewCode  string `json:"new_code"`
}

// DeleteResult reports a cascading delete.
type DeleteResult struct {
	ItemID       string `json:"item_id"`
	DeletedCount int    `json:"deleted_count"`
}

// CreateProjectRequest captures input for a new project.
type CreateProjectRequest struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// CreateItemRequest captures input for a new work item.
type CreateItemRequest struct {
	ProjectID string  `json:"project_id"`
	ParentID  string  `json:"parent_id,omitempty"`
	Title     string  `json:"title"`
	Weight    float64 `json:"weight,omitempty"`
}

// UpdateItemRequest captures title and weight edits.
type UpdateItemRequest struct {
	ItemID string  `json:"item_id"`
	Title  string  `json:"title,omitempty"`
	Weight float64 `json:"weight,omitempty"`
}

// TreeService is the surface HTTP and MCP adapters serve.
type TreeService interface {
	ListProjects(context.Context) ([]Project, error)
	CreateProject(context.Context, CreateProjectRequest) (Project, error)
	GetProject(context.Context, string) (Project, error)
	Tree(context.Context, string) ([]render.Node, error)
	ListItems(context.Context, string) ([]WorkItem, error)
	CreateItem(context.Context, CreateItemRequest) (WorkItem, error)
	GetItem(context.Context, string) (WorkItem, error)
	UpdateItem(context.Context, UpdateItemRequest) (WorkItem, error)
	SetProgress(context.Context, string, int) (WorkItem, error)
	Promote(context.Context, string) (LevelChange, error)
	Demote(context.Context, string) (LevelChange, error)
	Move(context.Context, string, string) (LevelChange, error)
	Delete(context.Context, string) (DeleteResult, error)
	ListEvents(context.Context, string, int) ([]ChangeEvent, error)
	Verify(context.Context, string) (VerifyReport, error)
}

func projectFromDomain(p domain.Project) Project {
	return Project{
		ID:          p.ID,
		Slug:        p.Slug,
		Name:        p.Name,
		Description: p.Description,
		CreatedAt:   p.CreatedAt,
		UpdatedAt:   p.UpdatedAt,
	}
}

func itemFromDomain(item domain.WorkItem) WorkItem {
	return WorkItem{
		ID:        item.ID,
		ProjectID: item.ProjectID,
		ParentID:  item.ParentID,
		Code:      item.Code,
		Level:     item.Level.String(),
		Order:     item.Order,
		Title:     item.Title,
		Weight:    item.Weight,
		Progress:  item.Progress,
		Status:    string(item.Status),
		CreatedAt: item.CreatedAt,
		UpdatedAt: item.UpdatedAt,
	}
}

func eventFromDomain(event domain.ChangeEvent) ChangeEvent {
	return ChangeEvent{
		ID:         event.ID,
		WorkItemID: event.WorkItemID,
		Operation:  string(event.Operation),
		ActorID:    event.ActorID,
		ActorType:  string(event.ActorType),
		Metadata:   event.Metadata,
		OccurredAt: event.OccurredAt,
	}
}

func levelChangeFromApp(result app.LevelChangeResult) LevelChange {
	return LevelChange{
		ItemID:   result.ItemID,
		NewLevel: result.NewLevel.String(),
		NewCode:  result.NewCode,
	}
}
