package app

import (
	"context"

	"github.com/hylla/wbs/internal/domain"
)

// TreeNode is one item with its nested children.
type TreeNode struct {
	Item     domain.WorkItem
	Children []*TreeNode
}

// Tree returns the project's roots with their nested children in sibling order.
func (s *Service) Tree(ctx context.Context, projectID string) ([]*TreeNode, error) {
	items, err := s.ListWorkItems(ctx, projectID)
	if err != nil {
		return nil, err
	}
	return BuildTree(items), nil
}

// BuildTree nests items by parent id. Items whose parent is absent are returned as roots.
func BuildTree(items []domain.WorkItem) []*TreeNode {
	nodes := make(map[string]*TreeNode, len(items))
	for _, item := range items {
		nodes[item.ID] = &TreeNode{Item: item}
	}
	roots := make([]*TreeNode, 0)
	for _, item := range items {
		node := nodes[item.ID]
		parent, ok := nodes[item.ParentID]
		if item.ParentID == "" || !ok {
			roots = append(roots, node)
			continue
		}
		parent.Children = append(parent.Children, node)
	}
	return roots
}
