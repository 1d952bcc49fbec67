package app

import (
	"cmp"
	"context"
	"errors"
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/hylla/wbs/internal/domain"
)

var errInjected = errors.New("injected store failure")

type fakeRepo struct {
	mu       sync.Mutex
	projects map[string]domain.Project
	items    map[string]domain.WorkItem
	events   []domain.ChangeEvent

	// failUpdateAt fails the Nth UpdateWorkItem call when positive.
	failUpdateAt int
	updateCalls  int
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		projects: map[string]domain.Project{},
		items:    map[string]domain.WorkItem{},
	}
}

func (f *fakeRepo) CreateProject(_ context.Context, p domain.Project) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.projects[p.ID] = p
	return nil
}

func (f *fakeRepo) GetProject(_ context.Context, id string) (domain.Project, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.projects[id]
	if !ok {
		return domain.Project{}, ErrNotFound
	}
	return p, nil
}

func (f *fakeRepo) ListProjects(_ context.Context) ([]domain.Project, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := slices.Collect(maps.Values(f.projects))
	slices.SortFunc(out, func(a, b domain.Project) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	return out, nil
}

func (f *fakeRepo) CreateWorkItem(_ context.Context, item domain.WorkItem) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.items[item.ID]; ok {
		return errors.New("duplicate work item id")
	}
	f.items[item.ID] = item
	return nil
}

func (f *fakeRepo) UpdateWorkItem(_ context.Context, item domain.WorkItem) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updateCalls++
	if f.failUpdateAt > 0 && f.updateCalls == f.failUpdateAt {
		return errInjected
	}
	if _, ok := f.items[item.ID]; !ok {
		return ErrNotFound
	}
	f.items[item.ID] = item
	return nil
}

func (f *fakeRepo) GetWorkItem(_ context.Context, id string) (domain.WorkItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	item, ok := f.items[id]
	if !ok {
		return domain.WorkItem{}, ErrNotFound
	}
	return item, nil
}

func (f *fakeRepo) ListWorkItems(_ context.Context, projectID string) ([]domain.WorkItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.WorkItem, 0)
	for _, item := range f.items {
		if item.ProjectID == projectID {
			out = append(out, item)
		}
	}
	slices.SortFunc(out, func(a, b domain.WorkItem) int {
		return strings.Compare(a.ID, b.ID)
	})
	return out, nil
}

func (f *fakeRepo) ListChildren(_ context.Context, projectID, parentID string) ([]domain.WorkItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.childrenLocked(projectID, parentID), nil
}

func (f *fakeRepo) childrenLocked(projectID, parentID string) []domain.WorkItem {
	out := make([]domain.WorkItem, 0)
	for _, item := range f.items {
		if item.ProjectID == projectID && item.ParentID == parentID {
			out = append(out, item)
		}
	}
	slices.SortFunc(out, func(a, b domain.WorkItem) int {
		return cmp.Or(
			cmp.Compare(a.Order, b.Order),
			a.CreatedAt.Compare(b.CreatedAt),
			strings.Compare(a.ID, b.ID),
		)
	})
	return out
}

func (f *fakeRepo) CountSiblings(_ context.Context, projectID, parentID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.childrenLocked(projectID, parentID)), nil
}

func (f *fakeRepo) DeleteWorkItem(_ context.Context, id string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	root, ok := f.items[id]
	if !ok {
		return 0, ErrNotFound
	}
	queue := []domain.WorkItem{root}
	removed := 0
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		queue = append(queue, f.childrenLocked(current.ProjectID, current.ID)...)
		delete(f.items, current.ID)
		removed++
	}
	return removed, nil
}

func (f *fakeRepo) CreateChangeEvent(_ context.Context, event domain.ChangeEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	event.ID = int64(len(f.events) + 1)
	f.events = append(f.events, event)
	return nil
}

func (f *fakeRepo) ListProjectChangeEvents(_ context.Context, projectID string, limit int) ([]domain.ChangeEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.ChangeEvent, 0)
	for i := len(f.events) - 1; i >= 0 && len(out) < limit; i-- {
		if f.events[i].ProjectID == projectID {
			out = append(out, f.events[i])
		}
	}
	return out, nil
}

// WithinTx snapshots state and restores it when fn fails or panics.
func (f *fakeRepo) WithinTx(_ context.Context, fn func(Repository) error) (err error) {
	f.mu.Lock()
	items := maps.Clone(f.items)
	events := slices.Clone(f.events)
	f.mu.Unlock()

	restore := func() {
		f.mu.Lock()
		f.items = items
		f.events = events
		f.mu.Unlock()
	}
	defer func() {
		if recovered := recover(); recovered != nil {
			restore()
			panic(recovered)
		}
	}()
	if err = fn(f); err != nil {
		restore()
	}
	return err
}

func (f *fakeRepo) snapshot() map[string]domain.WorkItem {
	f.mu.Lock()
	defer f.mu.Unlock()
	return maps.Clone(f.items)
}
