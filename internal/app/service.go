package app

import (
	"context"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/hylla/wbs/internal/domain"
)

// ServiceConfig holds configuration for service.
type ServiceConfig struct {
	EventListLimit int
	DefaultActorID string
}

// IDGenerator returns unique identifiers for new entities.
type IDGenerator func() string

// Clock returns the current time.
type Clock func() time.Time

// Service runs every tree operation through the repository's transaction boundary.
type Service struct {
	repo           Repository
	idGen          IDGenerator
	clock          Clock
	locks          *projectLocks
	eventListLimit int
	defaultActor   MutationActor
}

// NewService constructs a new value for this package.
func NewService(repo Repository, idGen IDGenerator, clock Clock, cfg ServiceConfig) *Service {
	if idGen == nil {
		idGen = func() string { return "" }
	}
	if clock == nil {
		clock = time.Now
	}
	if cfg.EventListLimit <= 0 {
		cfg.EventListLimit = 50
	}
	if strings.TrimSpace(cfg.DefaultActorID) == "" {
		cfg.DefaultActorID = "wbs-user"
	}
	return &Service{
		repo:           repo,
		idGen:          idGen,
		clock:          clock,
		locks:          newProjectLocks(),
		eventListLimit: cfg.EventListLimit,
		defaultActor: MutationActor{
			ActorID:   strings.TrimSpace(cfg.DefaultActorID),
			ActorType: domain.ActorTypeUser,
		},
	}
}

// projectLocks serializes structural mutations per project within this process.
type projectLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// newProjectLocks constructs an empty lock table.
func newProjectLocks() *projectLocks {
	return &projectLocks{locks: map[string]*sync.Mutex{}}
}

// lock acquires the project's mutex and returns its release func.
func (l *projectLocks) lock(projectID string) func() {
	l.mu.Lock()
	m, ok := l.locks[projectID]
	if !ok {
		m = &sync.Mutex{}
		l.locks[projectID] = m
	}
	l.mu.Unlock()
	m.Lock()
	return m.Unlock
}

// mutate runs fn inside one transaction while holding the project lock.
func (s *Service) mutate(ctx context.Context, projectID string, fn func(*treeTx) error) error {
	unlock := s.locks.lock(projectID)
	defer unlock()

	actor, ok := MutationActorFromContext(ctx)
	if !ok {
		actor = s.defaultActor
	}
	err := s.repo.WithinTx(ctx, func(repo Repository) error {
		return fn(&treeTx{repo: repo, now: s.clock().UTC(), actor: actor})
	})
	return storeError(err)
}

// mutateItem resolves itemID's project, then runs fn on a fresh read of the item inside the transaction.
func (s *Service) mutateItem(ctx context.Context, itemID string, fn func(*treeTx, domain.WorkItem) error) error {
	itemID = strings.TrimSpace(itemID)
	if itemID == "" {
		return domain.ErrInvalidID
	}
	item, err := s.repo.GetWorkItem(ctx, itemID)
	if err != nil {
		return storeError(err)
	}
	return s.mutate(ctx, item.ProjectID, func(t *treeTx) error {
		current, err := t.get(ctx, itemID)
		if err != nil {
			return err
		}
		return fn(t, current)
	})
}

// CreateProject creates project.
func (s *Service) CreateProject(ctx context.Context, name, description string) (domain.Project, error) {
	project, err := domain.NewProject(s.idGen(), name, description, s.clock())
	if err != nil {
		return domain.Project{}, err
	}
	if err := s.repo.CreateProject(ctx, project); err != nil {
		return domain.Project{}, storeError(err)
	}
	return project, nil
}

// GetProject returns project.
func (s *Service) GetProject(ctx context.Context, projectID string) (domain.Project, error) {
	projectID = strings.TrimSpace(projectID)
	if projectID == "" {
		return domain.Project{}, domain.ErrInvalidID
	}
	project, err := s.repo.GetProject(ctx, projectID)
	return project, storeError(err)
}

// ListProjects lists projects.
func (s *Service) ListProjects(ctx context.Context) ([]domain.Project, error) {
	projects, err := s.repo.ListProjects(ctx)
	return projects, storeError(err)
}

// CreateWorkItemInput holds input values for create work item operations.
type CreateWorkItemInput struct {
	ProjectID string
	ParentID  string
	Title     string
	Weight    float64
}

// CreateWorkItem appends a new leaf at the end of the parent's children.
func (s *Service) CreateWorkItem(ctx context.Context, in CreateWorkItemInput) (domain.WorkItem, error) {
	in.ProjectID = strings.TrimSpace(in.ProjectID)
	in.ParentID = strings.TrimSpace(in.ParentID)
	if in.ProjectID == "" {
		return domain.WorkItem{}, domain.ErrInvalidID
	}
	if _, err := s.repo.GetProject(ctx, in.ProjectID); err != nil {
		return domain.WorkItem{}, storeError(err)
	}

	var created domain.WorkItem
	err := s.mutate(ctx, in.ProjectID, func(t *treeTx) error {
		level := domain.MinLevel
		if in.ParentID != "" {
			parent, err := t.get(ctx, in.ParentID)
			if err != nil {
				return err
			}
			if parent.ProjectID != in.ProjectID {
				return ErrCrossProject
			}
			next, ok := parent.Level.Next()
			if !ok {
				return ErrLeafLevelParent
			}
			level = next
		}
		code, order, err := t.nextCode(ctx, in.ProjectID, in.ParentID)
		if err != nil {
			return err
		}
		item, err := domain.NewWorkItem(domain.WorkItemInput{
			ID:        s.idGen(),
			ProjectID: in.ProjectID,
			ParentID:  in.ParentID,
			Code:      code,
			Level:     level,
			Order:     order,
			Title:     in.Title,
			Weight:    in.Weight,
		}, t.now)
		if err != nil {
			return err
		}
		if err := t.repo.CreateWorkItem(ctx, item); err != nil {
			return err
		}
		if err := t.recomputeChains(ctx, item.ParentID); err != nil {
			return err
		}
		created = item
		return t.record(ctx, item, domain.ChangeOperationCreate, map[string]string{
			"parent_id": item.ParentID,
			"code":      item.Code,
			"level":     item.Level.String(),
			"title":     item.Title,
		})
	})
	if err != nil {
		return domain.WorkItem{}, err
	}
	return created, nil
}

// SetProgress sets the progress of a leaf and rolls up its ancestors.
func (s *Service) SetProgress(ctx context.Context, itemID string, progress int) (domain.WorkItem, error) {
	var updated domain.WorkItem
	err := s.mutateItem(ctx, itemID, func(t *treeTx, item domain.WorkItem) error {
		count, err := t.repo.CountSiblings(ctx, item.ProjectID, item.ID)
		if err != nil {
			return err
		}
		if count > 0 {
			return ErrProgressDerived
		}
		previous := item.Progress
		if err := item.SetProgress(progress, t.now); err != nil {
			return err
		}
		if err := t.repo.UpdateWorkItem(ctx, item); err != nil {
			return err
		}
		if err := t.recomputeChains(ctx, item.ParentID); err != nil {
			return err
		}
		updated = item
		return t.record(ctx, item, domain.ChangeOperationProgress, map[string]string{
			"from_progress": strconv.Itoa(previous),
			"to_progress":   strconv.Itoa(item.Progress),
			"status":        string(item.Status),
		})
	})
	if err != nil {
		return domain.WorkItem{}, err
	}
	return updated, nil
}

// UpdateWorkItemInput holds input values for update work item operations.
type UpdateWorkItemInput struct {
	ItemID string
	Title  string
	Weight float64
}

// UpdateWorkItem changes title and weight; a weight change rolls up the ancestors.
func (s *Service) UpdateWorkItem(ctx context.Context, in UpdateWorkItemInput) (domain.WorkItem, error) {
	var updated domain.WorkItem
	err := s.mutateItem(ctx, in.ItemID, func(t *treeTx, item domain.WorkItem) error {
		previousWeight := item.Weight
		title := in.Title
		if strings.TrimSpace(title) == "" {
			title = item.Title
		}
		weight := in.Weight
		if weight == 0 {
			weight = item.Weight
		}
		if err := item.UpdateDetails(title, weight, t.now); err != nil {
			return err
		}
		if err := t.repo.UpdateWorkItem(ctx, item); err != nil {
			return err
		}
		if item.Weight != previousWeight {
			if err := t.recomputeChains(ctx, item.ParentID); err != nil {
				return err
			}
		}
		updated = item
		return t.record(ctx, item, domain.ChangeOperationUpdate, map[string]string{
			"title":  item.Title,
			"weight": strconv.FormatFloat(item.Weight, 'f', -1, 64),
		})
	})
	if err != nil {
		return domain.WorkItem{}, err
	}
	return updated, nil
}

// GetWorkItem returns one work item.
func (s *Service) GetWorkItem(ctx context.Context, itemID string) (domain.WorkItem, error) {
	itemID = strings.TrimSpace(itemID)
	if itemID == "" {
		return domain.WorkItem{}, domain.ErrInvalidID
	}
	item, err := s.repo.GetWorkItem(ctx, itemID)
	return item, storeError(err)
}

// GetParent returns the parent of itemID; ok is false for roots.
func (s *Service) GetParent(ctx context.Context, itemID string) (domain.WorkItem, bool, error) {
	item, err := s.GetWorkItem(ctx, itemID)
	if err != nil {
		return domain.WorkItem{}, false, err
	}
	t := &treeTx{repo: s.repo, now: s.clock().UTC()}
	parent, ok, err := t.parentOf(ctx, item)
	return parent, ok, storeError(err)
}

// ListChildren lists the ordered children of parentID, or the roots when parentID is empty.
func (s *Service) ListChildren(ctx context.Context, projectID, parentID string) ([]domain.WorkItem, error) {
	projectID = strings.TrimSpace(projectID)
	if projectID == "" {
		return nil, domain.ErrInvalidID
	}
	children, err := s.repo.ListChildren(ctx, projectID, strings.TrimSpace(parentID))
	return children, storeError(err)
}

// ListWorkItems lists every item of a project in code order.
func (s *Service) ListWorkItems(ctx context.Context, projectID string) ([]domain.WorkItem, error) {
	projectID = strings.TrimSpace(projectID)
	if projectID == "" {
		return nil, domain.ErrInvalidID
	}
	if _, err := s.repo.GetProject(ctx, projectID); err != nil {
		return nil, storeError(err)
	}
	items, err := s.repo.ListWorkItems(ctx, projectID)
	if err != nil {
		return nil, storeError(err)
	}
	slices.SortStableFunc(items, func(a, b domain.WorkItem) int {
		return domain.CompareCodes(a.Code, b.Code)
	})
	return items, nil
}

// ListProjectChangeEvents lists recent change events for a project.
func (s *Service) ListProjectChangeEvents(ctx context.Context, projectID string, limit int) ([]domain.ChangeEvent, error) {
	projectID = strings.TrimSpace(projectID)
	if projectID == "" {
		return nil, domain.ErrInvalidID
	}
	if limit <= 0 {
		limit = s.eventListLimit
	}
	events, err := s.repo.ListProjectChangeEvents(ctx, projectID, limit)
	return events, storeError(err)
}
