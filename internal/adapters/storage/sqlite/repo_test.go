package sqlite

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/hylla/wbs/internal/app"
	"github.com/hylla/wbs/internal/domain"
)

func openTestRepo(t *testing.T) *Repository {
	t.Helper()
	repo, err := Open(filepath.Join(t.TempDir(), "wbs.db"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() {
		_ = repo.Close()
	})
	return repo
}

func seedProject(t *testing.T, repo *Repository, id string) domain.Project {
	t.Helper()
	now := time.Date(2026, 2, 21, 12, 0, 0, 0, time.UTC)
	project, err := domain.NewProject(id, "Example "+id, "desc", now)
	if err != nil {
		t.Fatalf("NewProject() error = %v", err)
	}
	if err := repo.CreateProject(context.Background(), project); err != nil {
		t.Fatalf("CreateProject() error = %v", err)
	}
	return project
}

func seedItem(t *testing.T, repo *Repository, projectID, id, parentID, code string, level domain.Level, order int) domain.WorkItem {
	t.Helper()
	item, err := domain.NewWorkItem(domain.WorkItemInput{
		ID:        id,
		ProjectID: projectID,
		ParentID:  parentID,
		Code:      code,
		Level:     level,
		Order:     order,
		Title:     "item " + id,
	}, time.Date(2026, 2, 21, 12, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("NewWorkItem() error = %v", err)
	}
	if err := repo.CreateWorkItem(context.Background(), item); err != nil {
		t.Fatalf("CreateWorkItem() error = %v", err)
	}
	return item
}

func TestRepository_ProjectAndWorkItemLifecycle(t *testing.T) {
	ctx := context.Background()
	repo := openTestRepo(t)
	project := seedProject(t, repo, "p1")

	loaded, err := repo.GetProject(ctx, project.ID)
	if err != nil {
		t.Fatalf("GetProject() error = %v", err)
	}
	if loaded.Name != "Example p1" || loaded.Slug != "example-p1" {
		t.Fatalf("unexpected project %#v", loaded)
	}
	if _, err := repo.GetProject(ctx, "missing"); !errors.Is(err, app.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	root := seedItem(t, repo, project.ID, "r1", "", "1", domain.LevelL1, 0)
	seedItem(t, repo, project.ID, "c2", root.ID, "1.2", domain.LevelL2, 1)
	seedItem(t, repo, project.ID, "c1", root.ID, "1.1", domain.LevelL2, 0)

	children, err := repo.ListChildren(ctx, project.ID, root.ID)
	if err != nil {
		t.Fatalf("ListChildren() error = %v", err)
	}
	if len(children) != 2 || children[0].ID != "c1" || children[1].ID != "c2" {
		t.Fatalf("unexpected children order %#v", children)
	}
	roots, err := repo.ListChildren(ctx, project.ID, "")
	if err != nil {
		t.Fatalf("ListChildren(root) error = %v", err)
	}
	if len(roots) != 1 || roots[0].ParentID != "" {
		t.Fatalf("unexpected roots %#v", roots)
	}
	count, err := repo.CountSiblings(ctx, project.ID, root.ID)
	if err != nil {
		t.Fatalf("CountSiblings() error = %v", err)
	}
	if count != 2 {
		t.Fatalf("expected 2 siblings, got %d", count)
	}

	item, err := repo.GetWorkItem(ctx, "c1")
	if err != nil {
		t.Fatalf("GetWorkItem() error = %v", err)
	}
	if item.Level != domain.LevelL2 || item.Weight != domain.DefaultWeight || item.Status != domain.StatusPending {
		t.Fatalf("unexpected item %#v", item)
	}
	if err := item.SetProgress(60, time.Now()); err != nil {
		t.Fatalf("SetProgress() error = %v", err)
	}
	if err := repo.UpdateWorkItem(ctx, item); err != nil {
		t.Fatalf("UpdateWorkItem() error = %v", err)
	}
	item, err = repo.GetWorkItem(ctx, "c1")
	if err != nil {
		t.Fatalf("GetWorkItem() error = %v", err)
	}
	if item.Progress != 60 || item.Status != domain.StatusInProgress {
		t.Fatalf("unexpected updated item %#v", item)
	}

	item.ID = "ghost"
	if err := repo.UpdateWorkItem(ctx, item); !errors.Is(err, app.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for missing row, got %v", err)
	}
}

func TestRepository_DeleteWorkItemCascades(t *testing.T) {
	ctx := context.Background()
	repo := openTestRepo(t)
	project := seedProject(t, repo, "p1")

	seedItem(t, repo, project.ID, "root", "", "1", domain.LevelL1, 0)
	seedItem(t, repo, project.ID, "target", "root", "1.1", domain.LevelL2, 0)
	seedItem(t, repo, project.ID, "keep", "root", "1.2", domain.LevelL2, 1)
	for i := range 2 {
		l3 := fmt.Sprintf("l3-%d", i)
		seedItem(t, repo, project.ID, l3, "target", fmt.Sprintf("1.1.%d", i+1), domain.LevelL3, i)
		for j := range 3 {
			seedItem(t, repo, project.ID, fmt.Sprintf("l4-%d-%d", i, j), l3, fmt.Sprintf("1.1.%d.%d", i+1, j+1), domain.LevelL4, j)
		}
	}

	deleted, err := repo.DeleteWorkItem(ctx, "target")
	if err != nil {
		t.Fatalf("DeleteWorkItem() error = %v", err)
	}
	if deleted != 9 {
		t.Fatalf("expected 9 deleted rows, got %d", deleted)
	}
	items, err := repo.ListWorkItems(ctx, project.ID)
	if err != nil {
		t.Fatalf("ListWorkItems() error = %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected root and keep to remain, got %#v", items)
	}
	if _, err := repo.DeleteWorkItem(ctx, "target"); !errors.Is(err, app.ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second delete, got %v", err)
	}
}

func TestRepository_WithinTxRollsBack(t *testing.T) {
	ctx := context.Background()
	repo := openTestRepo(t)
	project := seedProject(t, repo, "p1")
	seedItem(t, repo, project.ID, "root", "", "1", domain.LevelL1, 0)

	boom := errors.New("boom")
	err := repo.WithinTx(ctx, func(tx app.Repository) error {
		item, err := tx.GetWorkItem(ctx, "root")
		if err != nil {
			return err
		}
		item.Code = "2"
		if err := tx.UpdateWorkItem(ctx, item); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("WithinTx() error = %v, want boom", err)
	}
	item, err := repo.GetWorkItem(ctx, "root")
	if err != nil {
		t.Fatalf("GetWorkItem() error = %v", err)
	}
	if item.Code != "1" {
		t.Fatalf("expected rolled back code 1, got %q", item.Code)
	}

	func() {
		defer func() {
			if recover() == nil {
				t.Fatal("expected panic to propagate")
			}
		}()
		_ = repo.WithinTx(ctx, func(tx app.Repository) error {
			if _, err := tx.DeleteWorkItem(ctx, "root"); err != nil {
				return err
			}
			panic("mid-mutation")
		})
	}()
	if _, err := repo.GetWorkItem(ctx, "root"); err != nil {
		t.Fatalf("expected root to survive panic rollback, got %v", err)
	}
}

func TestRepository_WithinTxCommitsAndNests(t *testing.T) {
	ctx := context.Background()
	repo := openTestRepo(t)
	project := seedProject(t, repo, "p1")

	err := repo.WithinTx(ctx, func(tx app.Repository) error {
		return tx.WithinTx(ctx, func(inner app.Repository) error {
			item, err := domain.NewWorkItem(domain.WorkItemInput{
				ID: "n1", ProjectID: project.ID, Code: "1", Level: domain.LevelL1, Title: "nested",
			}, time.Now())
			if err != nil {
				return err
			}
			return inner.CreateWorkItem(ctx, item)
		})
	})
	if err != nil {
		t.Fatalf("WithinTx() error = %v", err)
	}
	if _, err := repo.GetWorkItem(ctx, "n1"); err != nil {
		t.Fatalf("GetWorkItem() error = %v", err)
	}
}

func TestRepository_ChangeEventsRoundTrip(t *testing.T) {
	ctx := context.Background()
	repo := openTestRepo(t)
	project := seedProject(t, repo, "p1")
	base := time.Date(2026, 2, 21, 12, 0, 0, 0, time.UTC)

	ops := []domain.ChangeOperation{domain.ChangeOperationCreate, domain.ChangeOperationPromote, domain.ChangeOperationDelete}
	for i, op := range ops {
		err := repo.CreateChangeEvent(ctx, domain.ChangeEvent{
			ProjectID:  project.ID,
			WorkItemID: "w1",
			Operation:  op,
			ActorType:  domain.ActorTypeAgent,
			ActorID:    "planner",
			Metadata:   map[string]string{"seq": fmt.Sprint(i)},
			OccurredAt: base.Add(time.Duration(i) * time.Minute),
		})
		if err != nil {
			t.Fatalf("CreateChangeEvent() error = %v", err)
		}
	}
	if err := repo.CreateChangeEvent(ctx, domain.ChangeEvent{ProjectID: project.ID, WorkItemID: "w2", Operation: domain.ChangeOperationMove}); err != nil {
		t.Fatalf("CreateChangeEvent(defaults) error = %v", err)
	}

	events, err := repo.ListProjectChangeEvents(ctx, project.ID, 3)
	if err != nil {
		t.Fatalf("ListProjectChangeEvents() error = %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
	if events[0].WorkItemID != "w2" || events[0].ActorID != defaultActorID || events[0].ActorType != domain.ActorTypeUser {
		t.Fatalf("unexpected default event %#v", events[0])
	}
	if events[1].Operation != domain.ChangeOperationDelete || events[1].Metadata["seq"] != "2" {
		t.Fatalf("unexpected event %#v", events[1])
	}
}

func TestOpenInMemoryIsolated(t *testing.T) {
	first, err := OpenInMemory()
	if err != nil {
		t.Fatalf("OpenInMemory() error = %v", err)
	}
	t.Cleanup(func() { _ = first.Close() })
	second, err := OpenInMemory()
	if err != nil {
		t.Fatalf("OpenInMemory() error = %v", err)
	}
	t.Cleanup(func() { _ = second.Close() })

	seedProject(t, first, "p1")
	projects, err := second.ListProjects(context.Background())
	if err != nil {
		t.Fatalf("ListProjects() error = %v", err)
	}
	if len(projects) != 0 {
		t.Fatalf("expected isolated database, got %#v", projects)
	}
}

func TestServiceOnSQLite(t *testing.T) {
	ctx := context.Background()
	repo := openTestRepo(t)
	seq := 0
	svc := app.NewService(repo, func() string {
		seq++
		return fmt.Sprintf("id-%02d", seq)
	}, nil, app.ServiceConfig{})

	project, err := svc.CreateProject(ctx, "Depot", "")
	if err != nil {
		t.Fatalf("CreateProject() error = %v", err)
	}
	add := func(parentID, title string) domain.WorkItem {
		item, err := svc.CreateWorkItem(ctx, app.CreateWorkItemInput{ProjectID: project.ID, ParentID: parentID, Title: title})
		if err != nil {
			t.Fatalf("CreateWorkItem(%q) error = %v", title, err)
		}
		return item
	}
	root := add("", "Root")
	a := add(root.ID, "A")
	b := add(root.ID, "B")
	c := add(b.ID, "C")
	if _, err := svc.SetProgress(ctx, c.ID, 100); err != nil {
		t.Fatalf("SetProgress() error = %v", err)
	}

	result, err := svc.Demote(ctx, b.ID)
	if err != nil {
		t.Fatalf("Demote() error = %v", err)
	}
	if result.NewCode != "1.1.1" || result.NewLevel != domain.LevelL3 {
		t.Fatalf("unexpected demote result %#v", result)
	}
	moved, err := svc.GetWorkItem(ctx, c.ID)
	if err != nil {
		t.Fatalf("GetWorkItem() error = %v", err)
	}
	if moved.Code != "1.1.1.1" || moved.Level != domain.LevelL4 {
		t.Fatalf("unexpected descendant %#v", moved)
	}
	if got, _ := svc.GetWorkItem(ctx, a.ID); got.Progress != 100 {
		t.Fatalf("expected A to roll up to 100, got %d", got.Progress)
	}

	if _, err := svc.Demote(ctx, c.ID); !errors.Is(err, app.ErrCannotDemoteLeafLevel) {
		t.Fatalf("expected ErrCannotDemoteLeafLevel, got %v", err)
	}

	deleted, err := svc.DeleteWorkItem(ctx, a.ID)
	if err != nil {
		t.Fatalf("DeleteWorkItem() error = %v", err)
	}
	if deleted.DeletedCount != 3 {
		t.Fatalf("expected 3 deleted, got %d", deleted.DeletedCount)
	}
	violations, err := svc.VerifyTree(ctx, project.ID)
	if err != nil {
		t.Fatalf("VerifyTree() error = %v", err)
	}
	if len(violations) != 0 {
		t.Fatalf("unexpected violations %#v", violations)
	}
	events, err := svc.ListProjectChangeEvents(ctx, project.ID, 0)
	if err != nil {
		t.Fatalf("ListProjectChangeEvents() error = %v", err)
	}
	if len(events) == 0 || events[0].Operation != domain.ChangeOperationDelete {
		t.Fatalf("unexpected latest event %#v", events)
	}
}
