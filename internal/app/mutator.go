package app

import (
	"context"
	"strconv"
	"strings"

	"github.com/hylla/wbs/internal/domain"
)

// LevelChangeResult reports where a promoted, demoted, or moved item landed.
type LevelChangeResult struct {
	ItemID   string
	NewLevel domain.Level
	NewCode  string
}

// DeleteResult reports how many items a cascading delete removed, the item itself included.
type DeleteResult struct {
	ItemID       string
	DeletedCount int
}

// Promote moves an item up one level so it becomes the last child of its grandparent.
func (s *Service) Promote(ctx context.Context, itemID string) (LevelChangeResult, error) {
	var result LevelChangeResult
	err := s.mutateItem(ctx, itemID, func(t *treeTx, item domain.WorkItem) error {
		if item.Level == domain.MinLevel {
			return ErrCannotPromoteRoot
		}
		parent, ok, err := t.parentOf(ctx, item)
		if err != nil {
			return err
		}
		if !ok {
			return ErrNoParent
		}
		moved, err := t.reparent(ctx, item, parent.ParentID)
		if err != nil {
			return err
		}
		result = LevelChangeResult{ItemID: moved.ID, NewLevel: moved.Level, NewCode: moved.Code}
		return t.record(ctx, moved, domain.ChangeOperationPromote, levelChangeMetadata(item, moved))
	})
	if err != nil {
		return LevelChangeResult{}, err
	}
	return result, nil
}

// Demote moves an item down one level so it becomes the last child of its previous sibling.
func (s *Service) Demote(ctx context.Context, itemID string) (LevelChangeResult, error) {
	var result LevelChangeResult
	err := s.mutateItem(ctx, itemID, func(t *treeTx, item domain.WorkItem) error {
		if item.Level == domain.MaxLevel {
			return ErrCannotDemoteLeafLevel
		}
		if _, _, err := t.parentOf(ctx, item); err != nil {
			return err
		}
		siblings, err := t.children(ctx, item.ProjectID, item.ParentID)
		if err != nil {
			return err
		}
		previous, ok := previousSibling(siblings, item)
		if !ok {
			return ErrNoPreviousSibling
		}
		moved, err := t.reparent(ctx, item, previous.ID)
		if err != nil {
			return err
		}
		result = LevelChangeResult{ItemID: moved.ID, NewLevel: moved.Level, NewCode: moved.Code}
		return t.record(ctx, moved, domain.ChangeOperationDemote, levelChangeMetadata(item, moved))
	})
	if err != nil {
		return LevelChangeResult{}, err
	}
	return result, nil
}

// MoveWorkItem reparents an item under newParentID, or makes it a root when newParentID is empty.
func (s *Service) MoveWorkItem(ctx context.Context, itemID, newParentID string) (LevelChangeResult, error) {
	newParentID = strings.TrimSpace(newParentID)
	var result LevelChangeResult
	err := s.mutateItem(ctx, itemID, func(t *treeTx, item domain.WorkItem) error {
		if newParentID == item.ID {
			return ErrSelfParent
		}
		if newParentID == item.ParentID {
			result = LevelChangeResult{ItemID: item.ID, NewLevel: item.Level, NewCode: item.Code}
			return nil
		}
		if _, _, err := t.parentOf(ctx, item); err != nil {
			return err
		}
		moved, err := t.reparent(ctx, item, newParentID)
		if err != nil {
			return err
		}
		result = LevelChangeResult{ItemID: moved.ID, NewLevel: moved.Level, NewCode: moved.Code}
		return t.record(ctx, moved, domain.ChangeOperationMove, levelChangeMetadata(item, moved))
	})
	if err != nil {
		return LevelChangeResult{}, err
	}
	return result, nil
}

// DeleteWorkItem removes an item with its whole subtree and rolls up the former parent.
func (s *Service) DeleteWorkItem(ctx context.Context, itemID string) (DeleteResult, error) {
	var result DeleteResult
	err := s.mutateItem(ctx, itemID, func(t *treeTx, item domain.WorkItem) error {
		if _, _, err := t.parentOf(ctx, item); err != nil {
			return err
		}
		count, err := t.repo.DeleteWorkItem(ctx, item.ID)
		if err != nil {
			return err
		}
		if err := t.compactSiblings(ctx, item.ProjectID, item.ParentID); err != nil {
			return err
		}
		if err := t.recomputeChains(ctx, item.ParentID); err != nil {
			return err
		}
		result = DeleteResult{ItemID: item.ID, DeletedCount: count}
		return t.record(ctx, item, domain.ChangeOperationDelete, map[string]string{
			"parent_id":     item.ParentID,
			"code":          item.Code,
			"title":         item.Title,
			"deleted_count": strconv.Itoa(count),
		})
	})
	if err != nil {
		return DeleteResult{}, err
	}
	return result, nil
}

// previousSibling returns the sibling directly before item in order.
func previousSibling(siblings []domain.WorkItem, item domain.WorkItem) (domain.WorkItem, bool) {
	for i, sibling := range siblings {
		if sibling.ID != item.ID {
			continue
		}
		if i == 0 {
			return domain.WorkItem{}, false
		}
		return siblings[i-1], true
	}
	return domain.WorkItem{}, false
}

// levelChangeMetadata describes a reparent for the change ledger.
func levelChangeMetadata(before, after domain.WorkItem) map[string]string {
	return map[string]string{
		"from_parent_id": before.ParentID,
		"to_parent_id":   after.ParentID,
		"from_code":      before.Code,
		"to_code":        after.Code,
		"from_level":     before.Level.String(),
		"to_level":       after.Level.String(),
	}
}
