// Package render turns a project's work-breakdown tree into text, JSON, or YAML.
package render

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/tree"
	"gopkg.in/yaml.v3"

	"github.com/hylla/wbs/internal/app"
	"github.com/hylla/wbs/internal/domain"
)

// Format names one output encoding.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// ParseFormat normalizes a --format flag value.
func ParseFormat(raw string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(raw))) {
	case "", FormatText:
		return FormatText, nil
	case FormatJSON:
		return FormatJSON, nil
	case FormatYAML, "yml":
		return FormatYAML, nil
	default:
		return "", fmt.Errorf("unsupported format %q (want text, json, or yaml)", raw)
	}
}

// Node is the serializable shape of one tree node.
type Node struct {
	ID       string  `json:"id" yaml:"id"`
	Code     string  `json:"code" yaml:"code"`
	Level    string  `json:"level" yaml:"level"`
	Title    string  `json:"title" yaml:"title"`
	Weight   float64 `json:"weight" yaml:"weight"`
	Progress int     `json:"progress" yaml:"progress"`
	Status   string  `json:"status" yaml:"status"`
	Children []Node  `json:"children,omitempty" yaml:"children,omitempty"`
}

// Nodes converts app tree nodes into serializable nodes.
func Nodes(roots []*app.TreeNode) []Node {
	out := make([]Node, 0, len(roots))
	for _, root := range roots {
		out = append(out, toNode(root))
	}
	return out
}

func toNode(n *app.TreeNode) Node {
	node := Node{
		ID:       n.Item.ID,
		Code:     n.Item.Code,
		Level:    n.Item.Level.String(),
		Title:    n.Item.Title,
		Weight:   n.Item.Weight,
		Progress: n.Item.Progress,
		Status:   string(n.Item.Status),
	}
	for _, child := range n.Children {
		node.Children = append(node.Children, toNode(child))
	}
	return node
}

// Tree writes roots to w in the requested format.
func Tree(w io.Writer, format Format, title string, roots []*app.TreeNode) error {
	switch format {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(Nodes(roots))
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(Nodes(roots)); err != nil {
			return fmt.Errorf("encode yaml: %w", err)
		}
		return enc.Close()
	default:
		_, err := fmt.Fprintln(w, Text(title, roots))
		return err
	}
}

var (
	rootStyle   = lipgloss.NewStyle().Bold(true)
	branchStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	codeStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("12"))
	statusStyle = map[domain.Status]lipgloss.Style{
		domain.StatusPending:    lipgloss.NewStyle().Foreground(lipgloss.Color("8")),
		domain.StatusInProgress: lipgloss.NewStyle().Foreground(lipgloss.Color("11")),
		domain.StatusCompleted:  lipgloss.NewStyle().Foreground(lipgloss.Color("10")),
	}
)

// Text renders roots as an indented lipgloss tree under title.
func Text(title string, roots []*app.TreeNode) string {
	t := tree.Root(rootStyle.Render(title)).
		Enumerator(tree.RoundedEnumerator).
		EnumeratorStyle(branchStyle)
	if len(roots) == 0 {
		t.Child(branchStyle.Render("(empty)"))
	}
	for _, root := range roots {
		t.Child(textNode(root))
	}
	return t.String()
}

func textNode(n *app.TreeNode) any {
	label := Label(n.Item)
	if len(n.Children) == 0 {
		return label
	}
	sub := tree.Root(label).Enumerator(tree.RoundedEnumerator).EnumeratorStyle(branchStyle)
	for _, child := range n.Children {
		sub.Child(textNode(child))
	}
	return sub
}

// Label is the one-line description of an item used by the text renderer.
func Label(item domain.WorkItem) string {
	style, ok := statusStyle[item.Status]
	if !ok {
		style = lipgloss.NewStyle()
	}
	return fmt.Sprintf("%s %s %s %s",
		codeStyle.Render(item.Code),
		item.Title,
		branchStyle.Render(fmt.Sprintf("[%s w=%s]", item.Level, formatWeight(item.Weight))),
		style.Render(fmt.Sprintf("%d%% %s", item.Progress, item.Status)),
	)
}

func formatWeight(w float64) string {
	return strings.TrimSuffix(strings.TrimRight(fmt.Sprintf("%.2f", w), "0"), ".")
}
