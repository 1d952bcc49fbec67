package app

import (
	"context"
	"errors"
	"maps"
	"slices"
	"time"

	"github.com/hylla/wbs/internal/domain"
)

// treeTx bundles the transaction-bound repository with the clock reading and
// actor of one mutation.
type treeTx struct {
	repo  Repository
	now   time.Time
	actor MutationActor
}

// get loads one work item.
func (t *treeTx) get(ctx context.Context, id string) (domain.WorkItem, error) {
	return t.repo.GetWorkItem(ctx, id)
}

// children lists the ordered children of parentID, or the roots when parentID is empty.
func (t *treeTx) children(ctx context.Context, projectID, parentID string) ([]domain.WorkItem, error) {
	return t.repo.ListChildren(ctx, projectID, parentID)
}

// parentOf returns the parent of item. ok is false for roots; a dangling parent
// reference is a structural integrity error.
func (t *treeTx) parentOf(ctx context.Context, item domain.WorkItem) (domain.WorkItem, bool, error) {
	if item.ParentID == "" {
		return domain.WorkItem{}, false, nil
	}
	parent, err := t.get(ctx, item.ParentID)
	if errors.Is(err, ErrNotFound) {
		return domain.WorkItem{}, false, integrityError("item %s references missing parent %s", item.ID, item.ParentID)
	}
	if err != nil {
		return domain.WorkItem{}, false, err
	}
	if parent.ProjectID != item.ProjectID {
		return domain.WorkItem{}, false, integrityError("item %s has parent %s in another project", item.ID, parent.ID)
	}
	return parent, true, nil
}

// nextCode returns the code and order a node appended under parentID receives.
func (t *treeTx) nextCode(ctx context.Context, projectID, parentID string) (string, int, error) {
	count, err := t.repo.CountSiblings(ctx, projectID, parentID)
	if err != nil {
		return "", 0, err
	}
	if parentID == "" {
		return domain.RootCode(count), count, nil
	}
	parent, err := t.get(ctx, parentID)
	if err != nil {
		return "", 0, err
	}
	return domain.ChildCode(parent.Code, count), count, nil
}

// regenerateSubtree persists node with newCode and rewrites the code, level,
// and order of every descendant depth-first from the node's new position.
func (t *treeTx) regenerateSubtree(ctx context.Context, node domain.WorkItem, newCode string) error {
	node.Code = newCode
	if err := t.repo.UpdateWorkItem(ctx, node); err != nil {
		return err
	}

	visited := map[string]struct{}{node.ID: {}}
	stack := []domain.WorkItem{node}
	for len(stack) > 0 {
		current := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		children, err := t.children(ctx, current.ProjectID, current.ID)
		if err != nil {
			return err
		}
		if len(children) == 0 {
			continue
		}
		level, ok := current.Level.Next()
		if !ok {
			return ErrSubtreeTooDeep
		}
		for i, child := range children {
			if _, seen := visited[child.ID]; seen {
				return integrityError("cycle through item %s", child.ID)
			}
			visited[child.ID] = struct{}{}
			code := domain.ChildCode(current.Code, i)
			if child.Code != code || child.Level != level || child.Order != i {
				child.Code = code
				child.Level = level
				child.Order = i
				child.UpdatedAt = t.now
				if err := t.repo.UpdateWorkItem(ctx, child); err != nil {
					return err
				}
			}
		}
		for i := len(children) - 1; i >= 0; i-- {
			child := children[i]
			child.Code = domain.ChildCode(current.Code, i)
			child.Level = level
			stack = append(stack, child)
		}
	}
	return nil
}

// subtreeHeight returns how many levels exist below node.
func (t *treeTx) subtreeHeight(ctx context.Context, node domain.WorkItem) (int, error) {
	type entry struct {
		item  domain.WorkItem
		depth int
	}
	height := 0
	visited := map[string]struct{}{node.ID: {}}
	stack := []entry{{item: node}}
	for len(stack) > 0 {
		current := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		height = max(height, current.depth)

		children, err := t.children(ctx, current.item.ProjectID, current.item.ID)
		if err != nil {
			return 0, err
		}
		for _, child := range children {
			if _, seen := visited[child.ID]; seen {
				return 0, integrityError("cycle through item %s", child.ID)
			}
			visited[child.ID] = struct{}{}
			stack = append(stack, entry{item: child, depth: current.depth + 1})
		}
	}
	return height, nil
}

// compactSiblings rewrites the children of parentID to orders 0..n-1 and
// regenerates the subtree of every sibling whose position changed.
func (t *treeTx) compactSiblings(ctx context.Context, projectID, parentID string) error {
	parentCode := ""
	if parentID != "" {
		parent, err := t.get(ctx, parentID)
		if err != nil {
			return err
		}
		parentCode = parent.Code
	}
	siblings, err := t.children(ctx, projectID, parentID)
	if err != nil {
		return err
	}
	for i, sibling := range siblings {
		code := domain.ChildCode(parentCode, i)
		if sibling.Order == i && sibling.Code == code {
			continue
		}
		sibling.Order = i
		sibling.UpdatedAt = t.now
		if err := t.regenerateSubtree(ctx, sibling, code); err != nil {
			return err
		}
	}
	return nil
}

// assertNotDescendant walks up from targetID and fails if it meets itemID.
func (t *treeTx) assertNotDescendant(ctx context.Context, itemID, targetID string) error {
	if targetID == "" {
		return nil
	}
	if targetID == itemID {
		return ErrSelfParent
	}
	seen := map[string]struct{}{}
	current := targetID
	for current != "" {
		if current == itemID {
			return ErrCycle
		}
		if _, ok := seen[current]; ok {
			return integrityError("cycle through item %s", current)
		}
		seen[current] = struct{}{}
		node, err := t.get(ctx, current)
		if errors.Is(err, ErrNotFound) && current != targetID {
			return integrityError("missing ancestor %s", current)
		}
		if err != nil {
			return err
		}
		current = node.ParentID
	}
	return nil
}

// recomputeAncestors recomputes nodeID and each ancestor from their immediate
// children up to the root. Leaves are left untouched.
func (t *treeTx) recomputeAncestors(ctx context.Context, nodeID string) error {
	visited := map[string]struct{}{}
	current := nodeID
	for current != "" {
		if _, seen := visited[current]; seen {
			return integrityError("cycle through item %s", current)
		}
		visited[current] = struct{}{}

		node, err := t.get(ctx, current)
		if errors.Is(err, ErrNotFound) && current != nodeID {
			return integrityError("dangling parent reference %s", current)
		}
		if err != nil {
			return err
		}
		children, err := t.children(ctx, node.ProjectID, node.ID)
		if err != nil {
			return err
		}
		if len(children) > 0 && node.ApplyRollup(domain.WeightedProgress(children), t.now) {
			if err := t.repo.UpdateWorkItem(ctx, node); err != nil {
				return err
			}
		}
		current = node.ParentID
	}
	return nil
}

// recomputeChains rolls up every non-empty id, deepest first.
func (t *treeTx) recomputeChains(ctx context.Context, ids ...string) error {
	depth := map[string]domain.Level{}
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := depth[id]; ok {
			continue
		}
		node, err := t.get(ctx, id)
		if errors.Is(err, ErrNotFound) {
			return integrityError("dangling parent reference %s", id)
		}
		if err != nil {
			return err
		}
		depth[id] = node.Level
	}
	ordered := slices.SortedFunc(maps.Keys(depth), func(a, b string) int {
		return int(depth[b]) - int(depth[a])
	})
	for _, id := range ordered {
		if err := t.recomputeAncestors(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

// reparent appends item to the end of newParentID's children, shifts and
// renumbers its subtree, compacts the list it left, and rolls up both parents.
func (t *treeTx) reparent(ctx context.Context, item domain.WorkItem, newParentID string) (domain.WorkItem, error) {
	if err := t.assertNotDescendant(ctx, item.ID, newParentID); err != nil {
		return domain.WorkItem{}, err
	}
	oldParentID := item.ParentID

	newLevel := domain.MinLevel
	if newParentID != "" {
		parent, err := t.get(ctx, newParentID)
		if err != nil {
			return domain.WorkItem{}, err
		}
		if parent.ProjectID != item.ProjectID {
			return domain.WorkItem{}, ErrCrossProject
		}
		next, ok := parent.Level.Next()
		if !ok {
			return domain.WorkItem{}, ErrLeafLevelParent
		}
		newLevel = next
	}

	height, err := t.subtreeHeight(ctx, item)
	if err != nil {
		return domain.WorkItem{}, err
	}
	if int(newLevel)+height > int(domain.MaxLevel) {
		return domain.WorkItem{}, ErrSubtreeTooDeep
	}

	code, order, err := t.nextCode(ctx, item.ProjectID, newParentID)
	if err != nil {
		return domain.WorkItem{}, err
	}
	if err := item.Place(newParentID, newLevel, order, t.now); err != nil {
		return domain.WorkItem{}, err
	}
	if err := t.regenerateSubtree(ctx, item, code); err != nil {
		return domain.WorkItem{}, err
	}
	if err := t.compactSiblings(ctx, item.ProjectID, oldParentID); err != nil {
		return domain.WorkItem{}, err
	}
	if err := t.recomputeChains(ctx, oldParentID, newParentID); err != nil {
		return domain.WorkItem{}, err
	}
	// Compaction may have renumbered an ancestor of the new position.
	return t.get(ctx, item.ID)
}

// record appends one change-ledger event for item.
func (t *treeTx) record(ctx context.Context, item domain.WorkItem, op domain.ChangeOperation, metadata map[string]string) error {
	if metadata == nil {
		metadata = map[string]string{}
	}
	return t.repo.CreateChangeEvent(ctx, domain.ChangeEvent{
		ProjectID:  item.ProjectID,
		WorkItemID: item.ID,
		Operation:  op,
		ActorID:    t.actor.ActorID,
		ActorType:  t.actor.ActorType,
		Metadata:   metadata,
		OccurredAt: t.now,
	})
}
