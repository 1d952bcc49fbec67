package app

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/hylla/wbs/internal/domain"
)

// VerifyRule names the tree invariant a violation breaks.
type VerifyRule string

// VerifyRule values.
const (
	RuleLevelChain   VerifyRule = "level_chain"
	RuleRollup       VerifyRule = "rollup"
	RuleStatus       VerifyRule = "status"
	RuleCode         VerifyRule = "code"
	RuleDanglingLink VerifyRule = "dangling_parent"
	RuleCycle        VerifyRule = "cycle"
)

// Violation describes one broken invariant on one item.
type Violation struct {
	ItemID  string
	Code    string
	Rule    VerifyRule
	Message string
}

// VerifyTree checks every invariant of a project's tree and returns all violations found.
func (s *Service) VerifyTree(ctx context.Context, projectID string) ([]Violation, error) {
	items, err := s.ListWorkItems(ctx, projectID)
	if err != nil {
		return nil, err
	}
	return CheckTree(items), nil
}

// CheckTree validates level chain, rollup, status, codes, parent links, and cycles.
func CheckTree(items []domain.WorkItem) []Violation {
	byID := make(map[string]domain.WorkItem, len(items))
	children := map[string][]domain.WorkItem{}
	for _, item := range items {
		byID[item.ID] = item
		children[item.ParentID] = append(children[item.ParentID], item)
	}
	for parentID := range children {
		slices.SortStableFunc(children[parentID], func(a, b domain.WorkItem) int {
			return a.Order - b.Order
		})
	}

	out := make([]Violation, 0)
	add := func(item domain.WorkItem, rule VerifyRule, format string, args ...any) {
		out = append(out, Violation{ItemID: item.ID, Code: item.Code, Rule: rule, Message: fmt.Sprintf(format, args...)})
	}

	for _, item := range items {
		if item.Status != domain.DeriveStatus(item.Progress) {
			add(item, RuleStatus, "status %s does not match progress %d", item.Status, item.Progress)
		}

		if item.ParentID == "" {
			if item.Level != domain.MinLevel {
				add(item, RuleLevelChain, "root at level %s", item.Level)
			}
		} else if parent, ok := byID[item.ParentID]; !ok {
			add(item, RuleDanglingLink, "parent %s does not exist", item.ParentID)
		} else if item.Level != parent.Level+1 {
			add(item, RuleLevelChain, "level %s under parent at %s", item.Level, parent.Level)
		}

		if kids := children[item.ID]; len(kids) > 0 {
			if want := domain.WeightedProgress(kids); item.Progress != want {
				add(item, RuleRollup, "progress %d, children roll up to %d", item.Progress, want)
			}
		}

		if hasCycle(byID, item) {
			add(item, RuleCycle, "item is its own ancestor")
		}
	}

	checkCodes(children, &out)
	slices.SortStableFunc(out, func(a, b Violation) int {
		if c := domain.CompareCodes(a.Code, b.Code); c != 0 {
			return c
		}
		return strings.Compare(string(a.Rule), string(b.Rule))
	})
	return out
}

// checkCodes walks down from the roots and compares each code with its expected position.
func checkCodes(children map[string][]domain.WorkItem, out *[]Violation) {
	type frame struct {
		parentID   string
		parentCode string
	}
	visited := map[string]struct{}{}
	stack := []frame{{}}
	for len(stack) > 0 {
		current := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for i, child := range children[current.parentID] {
			if _, seen := visited[child.ID]; seen {
				continue
			}
			visited[child.ID] = struct{}{}
			want := domain.ChildCode(current.parentCode, i)
			if child.Code != want {
				*out = append(*out, Violation{
					ItemID:  child.ID,
					Code:    child.Code,
					Rule:    RuleCode,
					Message: fmt.Sprintf("code %s, position implies %s", child.Code, want),
				})
			}
			stack = append(stack, frame{parentID: child.ID, parentCode: want})
		}
	}
}

// hasCycle reports whether following parent links from item returns to it.
func hasCycle(byID map[string]domain.WorkItem, item domain.WorkItem) bool {
	seen := map[string]struct{}{}
	current := item.ParentID
	for current != "" {
		if current == item.ID {
			return true
		}
		if _, ok := seen[current]; ok {
			return false
		}
		seen[current] = struct{}{}
		parent, ok := byID[current]
		if !ok {
			return false
		}
		current = parent.ParentID
	}
	return false
}
