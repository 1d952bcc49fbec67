package common

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hylla/wbs/internal/app"
	"github.com/hylla/wbs/internal/render"
)

// AppServiceAdapter maps transport contracts onto app.Service and records mutation metrics.
type AppServiceAdapter struct {
	service *app.Service
	metrics *Metrics
}

// NewAppServiceAdapter builds one common adapter over an app.Service instance.
// metrics may be nil.
func NewAppServiceAdapter(service *app.Service, metrics *Metrics) *AppServiceAdapter {
	return &AppServiceAdapter{service: service, metrics: metrics}
}

var _ TreeService = (*AppServiceAdapter)(nil)

func (a *AppServiceAdapter) ListProjects(ctx context.Context) ([]Project, error) {
	if err := a.ready(); err != nil {
		return nil, err
	}
	projects, err := a.service.ListProjects(ctx)
	if err != nil {
		return nil, mapAppError("list projects", err)
	}
	out := make([]Project, 0, len(projects))
	for _, p := range projects {
		out = append(out, projectFromDomain(p))
	}
	return out, nil
}

func (a *AppServiceAdapter) CreateProject(ctx context.Context, in CreateProjectRequest) (Project, error) {
	if err := a.ready(); err != nil {
		return Project{}, err
	}
	project, err := a.service.CreateProject(ctx, in.Name, in.Description)
	if err != nil {
		return Project{}, mapAppError("create project", err)
	}
	return projectFromDomain(project), nil
}

func (a *AppServiceAdapter) GetProject(ctx context.Context, projectID string) (Project, error) {
	if err := a.ready(); err != nil {
		return Project{}, err
	}
	project, err := a.service.GetProject(ctx, projectID)
	if err != nil {
		return Project{}, mapAppError("get project", err)
	}
	return projectFromDomain(project), nil
}

func (a *AppServiceAdapter) Tree(ctx context.Context, projectID string) ([]render.Node, error) {
	if err := a.ready(); err != nil {
		return nil, err
	}
	roots, err := a.service.Tree(ctx, projectID)
	if err != nil {
		return nil, mapAppError("tree", err)
	}
	return render.Nodes(roots), nil
}

func (a *AppServiceAdapter) ListItems(ctx context.Context, projectID string) ([]WorkItem, error) {
	if err := a.ready(); err != nil {
		return nil, err
	}
	items, err := a.service.ListWorkItems(ctx, projectID)
	if err != nil {
		return nil, mapAppError("list items", err)
	}
	out := make([]WorkItem, 0, len(items))
	for _, item := range items {
		out = append(out, itemFromDomain(item))
	}
	return out, nil
}

func (a *AppServiceAdapter) CreateItem(ctx context.Context, in CreateItemRequest) (WorkItem, error) {
	if err := a.ready(); err != nil {
		return WorkItem{}, err
	}
	start := time.Now()
	item, err := a.service.CreateWorkItem(ctx, app.CreateWorkItemInput{
		ProjectID: in.ProjectID,
		ParentID:  in.ParentID,
		Title:     in.Title,
		Weight:    in.Weight,
	})
	a.metrics.observe("create", start, err)
	if err != nil {
		return WorkItem{}, mapAppError("create item", err)
	}
	return itemFromDomain(item), nil
}

func (a *AppServiceAdapter) GetItem(ctx context.Context, itemID string) (WorkItem, error) {
	if err := a.ready(); err != nil {
		return WorkItem{}, err
	}
	item, err := a.service.GetWorkItem(ctx, itemID)
	if err != nil {
		return WorkItem{}, mapAppError("get item", err)
	}
	return itemFromDomain(item), nil
}

func (a *AppServiceAdapter) UpdateItem(ctx context.Context, in UpdateItemRequest) (WorkItem, error) {
	if err := a.ready(); err != nil {
		return WorkItem{}, err
	}
	start := time.Now()
	item, err := a.service.UpdateWorkItem(ctx, app.UpdateWorkItemInput{
		ItemID: in.ItemID,
		Title:  in.Title,
		Weight: in.Weight,
	})
	a.metrics.observe("update", start, err)
	if err != nil {
		return WorkItem{}, mapAppError("update item", err)
	}
	return itemFromDomain(item), nil
}

func (a *AppServiceAdapter) SetProgress(ctx context.Context, itemID string, progress int) (WorkItem, error) {
	if err := a.ready(); err != nil {
		return WorkItem{}, err
	}
	start := time.Now()
	item, err := a.service.SetProgress(ctx, itemID, progress)
	a.metrics.observe("progress", start, err)
	if err != nil {
		return WorkItem{}, mapAppError("set progress", err)
	}
	return itemFromDomain(item), nil
}

func (a *AppServiceAdapter) Promote(ctx context.Context, itemID string) (LevelChange, error) {
	if err := a.ready(); err != nil {
		return LevelChange{}, err
	}
	start := time.Now()
	result, err := a.service.Promote(ctx, itemID)
	a.metrics.observe("promote", start, err)
	if err != nil {
		return LevelChange{}, mapAppError("promote", err)
	}
	return levelChangeFromApp(result), nil
}

func (a *AppServiceAdapter) Demote(ctx context.Context, itemID string) (LevelChange, error) {
	if err := a.ready(); err != nil {
		return LevelChange{}, err
	}
	start := time.Now()
	result, err := a.service.Demote(ctx, itemID)
	a.metrics.observe("demote", start, err)
	if err != nil {
		return LevelChange{}, mapAppError("demote", err)
	}
	return levelChangeFromApp(result), nil
}

func (a *AppServiceAdapter) Move(ctx context.Context, itemID, newParentID string) (LevelChange, error) {
	if err := a.ready(); err != nil {
		return LevelChange{}, err
	}
	start := time.Now()
	result, err := a.service.MoveWorkItem(ctx, itemID, newParentID)
	a.metrics.observe("move", start, err)
	if err != nil {
		return LevelChange{}, mapAppError("move", err)
	}
	return levelChangeFromApp(result), nil
}

func (a *AppServiceAdapter) Delete(ctx context.Context, itemID string) (DeleteResult, error) {
	if err := a.ready(); err != nil {
		return DeleteResult{}, err
	}
	start := time.Now()
	result, err := a.service.DeleteWorkItem(ctx, itemID)
	a.metrics.observe("delete", start, err)
	if err != nil {
		return DeleteResult{}, mapAppError("delete", err)
	}
	a.metrics.addDeleted(result.DeletedCount)
	return DeleteResult{ItemID: result.ItemID, DeletedCount: result.DeletedCount}, nil
}

func (a *AppServiceAdapter) ListEvents(ctx context.Context, projectID string, limit int) ([]ChangeEvent, error) {
	if err := a.ready(); err != nil {
		return nil, err
	}
	events, err := a.service.ListProjectChangeEvents(ctx, projectID, limit)
	if err != nil {
		return nil, mapAppError("list events", err)
	}
	out := make([]ChangeEvent, 0, len(events))
	for _, event := range events {
		out = append(out, eventFromDomain(event))
	}
	return out, nil
}

func (a *AppServiceAdapter) Verify(ctx context.Context, projectID string) (VerifyReport, error) {
	if err := a.ready(); err != nil {
		return VerifyReport{}, err
	}
	violations, err := a.service.VerifyTree(ctx, projectID)
	if err != nil {
		return VerifyReport{}, mapAppError("verify", err)
	}
	a.metrics.setViolations(strings.TrimSpace(projectID), len(violations))
	report := VerifyReport{
		ProjectID:  strings.TrimSpace(projectID),
		OK:         len(violations) == 0,
		Violations: make([]Violation, 0, len(violations)),
	}
	for _, v := range violations {
		report.Violations = append(report.Violations, Violation{
			ItemID:  v.ItemID,
			Code:    v.Code,
			Rule:    string(v.Rule),
			Message: v.Message,
		})
	}
	return report, nil
}

func (a *AppServiceAdapter) ready() error {
	if a == nil || a.service == nil {
		return fmt.Errorf("app service adapter is not configured: %w", ErrStoreUnavailable)
	}
	return nil
}

// mapAppError wraps app errors with the matching transport kind.
func mapAppError(operation string, err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, app.ErrNotFound):
		return fmt.Errorf("%s: %w", operation, errors.Join(ErrNotFound, err))
	case errors.Is(err, app.ErrInvalidOperation):
		return fmt.Errorf("%s: %w", operation, errors.Join(ErrInvalidOperation, err))
	case app.IsValidationError(err):
		return fmt.Errorf("%s: %w", operation, errors.Join(ErrInvalidRequest, err))
	case errors.Is(err, app.ErrStructuralIntegrity):
		return fmt.Errorf("%s: %w", operation, errors.Join(ErrIntegrity, err))
	default:
		return fmt.Errorf("%s: %w", operation, errors.Join(ErrStoreUnavailable, err))
	}
}

// ErrorCode names the transport kind of err for envelopes and metric labels.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrNotFound), errors.Is(err, app.ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrInvalidOperation), errors.Is(err, app.ErrInvalidOperation):
		return "invalid_operation"
	case errors.Is(err, ErrInvalidRequest), app.IsValidationError(err):
		return "invalid_request"
	case errors.Is(err, ErrIntegrity), errors.Is(err, app.ErrStructuralIntegrity):
		return "structural_integrity"
	default:
		return "store_error"
	}
}
