package app

import (
	"context"

	"github.com/hylla/wbs/internal/domain"
)

// Repository is the item store the tree engine runs against.
type Repository interface {
	CreateProject(context.Context, domain.Project) error
	GetProject(context.Context, string) (domain.Project, error)
	ListProjects(context.Context) ([]domain.Project, error)

	CreateWorkItem(context.Context, domain.WorkItem) error
	UpdateWorkItem(context.Context, domain.WorkItem) error
	GetWorkItem(context.Context, string) (domain.WorkItem, error)
	ListWorkItems(context.Context, string) ([]domain.WorkItem, error)
	// ListChildren returns the children of parentID ordered by order; an empty parentID lists roots.
	ListChildren(ctx context.Context, projectID, parentID string) ([]domain.WorkItem, error)
	CountSiblings(ctx context.Context, projectID, parentID string) (int, error)
	// DeleteWorkItem removes the item and all of its descendants and returns how many rows went away.
	DeleteWorkItem(context.Context, string) (int, error)

	CreateChangeEvent(context.Context, domain.ChangeEvent) error
	ListProjectChangeEvents(context.Context, string, int) ([]domain.ChangeEvent, error)

	// WithinTx runs fn against a transaction-bound repository. fn's error aborts the transaction.
	WithinTx(ctx context.Context, fn func(Repository) error) error
}
