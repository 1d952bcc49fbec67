package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hylla/wbs/internal/app"
	"github.com/hylla/wbs/internal/domain"
	"github.com/hylla/wbs/internal/render"
)

// resolveProject accepts a project id or slug.
func (e *cliEnv) resolveProject(ctx context.Context, ref string) (domain.Project, error) {
	ref = strings.TrimSpace(ref)
	project, err := e.svc.GetProject(ctx, ref)
	if err == nil || !errors.Is(err, app.ErrNotFound) {
		return project, err
	}
	projects, listErr := e.svc.ListProjects(ctx)
	if listErr != nil {
		return domain.Project{}, listErr
	}
	for _, p := range projects {
		if p.Slug == strings.ToLower(ref) {
			return p, nil
		}
	}
	return domain.Project{}, fmt.Errorf("project %q: %w", ref, app.ErrNotFound)
}

func newProjectCmd(env *cliEnv) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "project",
		Short: "Create and list projects",
	}

	var description string
	create := &cobra.Command{
		Use:   "create <name>",
		Short: "Create a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			project, err := env.svc.CreateProject(cmd.Context(), args[0], description)
			if err != nil {
				return err
			}
			env.logger.Info("project created", "project_id", project.ID, "slug", project.Slug)
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "created project %s (%s)\n", project.Slug, project.ID)
			return nil
		},
	}
	create.Flags().StringVar(&description, "description", "", "project description")

	list := &cobra.Command{
		Use:   "list",
		Short: "List projects",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			projects, err := env.svc.ListProjects(cmd.Context())
			if err != nil {
				return err
			}
			rows := make([][]string, 0, len(projects))
			for _, p := range projects {
				rows = append(rows, []string{p.ID, p.Slug, p.Name})
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), render.Table([]string{"ID", "SLUG", "NAME"}, rows))
			return err
		},
	}

	cmd.AddCommand(create, list)
	return cmd
}

func newItemCmd(env *cliEnv) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "item",
		Short: "Add, edit, move, and inspect work items",
	}

	var (
		parentID string
		weight   float64
	)
	add := &cobra.Command{
		Use:   "add <project> <title>",
		Short: "Append a work item under --parent, or a new root",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			project, err := env.resolveProject(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			item, err := env.svc.CreateWorkItem(cmd.Context(), app.CreateWorkItemInput{
				ProjectID: project.ID,
				ParentID:  parentID,
				Title:     args[1],
				Weight:    weight,
			})
			if err != nil {
				return err
			}
			env.logger.Info("work item created", "item_id", item.ID, "code", item.Code)
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "created %s %s [%s] (%s)\n", item.Code, item.Title, item.Level, item.ID)
			return nil
		},
	}
	add.Flags().StringVar(&parentID, "parent", "", "parent item id")
	add.Flags().Float64Var(&weight, "weight", 0, "rollup weight (default 1)")

	progress := &cobra.Command{
		Use:   "progress <item-id> <0-100>",
		Short: "Set the progress of a leaf item",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			value, err := strconv.Atoi(strings.TrimSuffix(strings.TrimSpace(args[1]), "%"))
			if err != nil {
				return fmt.Errorf("parse progress %q: %w", args[1], domain.ErrInvalidProgress)
			}
			item, err := env.svc.SetProgress(cmd.Context(), args[0], value)
			if err != nil {
				return err
			}
			env.logger.Info("progress updated", "item_id", item.ID, "progress", item.Progress)
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s %s %d%% %s\n", item.Code, item.Title, item.Progress, item.Status)
			return nil
		},
	}

	var (
		title     string
		newWeight float64
	)
	update := &cobra.Command{
		Use:   "update <item-id>",
		Short: "Change the title or weight of an item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			item, err := env.svc.UpdateWorkItem(cmd.Context(), app.UpdateWorkItemInput{
				ItemID: args[0],
				Title:  title,
				Weight: newWeight,
			})
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "updated %s %s\n", item.Code, item.Title)
			return nil
		},
	}
	update.Flags().StringVar(&title, "title", "", "new title")
	update.Flags().Float64Var(&newWeight, "weight", 0, "new rollup weight")

	var moveParent string
	var toRoot bool
	move := &cobra.Command{
		Use:   "move <item-id>",
		Short: "Reparent an item under --parent, or make it a root with --root",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if toRoot == (moveParent != "") {
				return fmt.Errorf("exactly one of --parent or --root is required: %w", domain.ErrInvalidParentID)
			}
			result, err := env.svc.MoveWorkItem(cmd.Context(), args[0], moveParent)
			if err != nil {
				return err
			}
			printLevelChange(cmd.OutOrStdout(), "moved", result)
			return nil
		},
	}
	move.Flags().StringVar(&moveParent, "parent", "", "new parent item id")
	move.Flags().BoolVar(&toRoot, "root", false, "make the item a root")

	show := &cobra.Command{
		Use:   "show <item-id>",
		Short: "Show one work item and its parent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			item, err := env.svc.GetWorkItem(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintln(out, render.Label(item))
			_, _ = fmt.Fprintf(out, "id: %s\n", item.ID)
			parent, ok, err := env.svc.GetParent(cmd.Context(), item.ID)
			if err != nil {
				return err
			}
			if ok {
				_, _ = fmt.Fprintf(out, "parent: %s %s (%s)\n", parent.Code, parent.Title, parent.ID)
			}
			children, err := env.svc.ListChildren(cmd.Context(), item.ProjectID, item.ID)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(out, "children: %d\n", len(children))
			return nil
		},
	}

	cmd.AddCommand(add, progress, update, move, show)
	return cmd
}

func newPromoteCmd(env *cliEnv) *cobra.Command {
	return &cobra.Command{
		Use:   "promote <item-id>",
		Short: "Move an item one level up, after its former parent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := env.svc.Promote(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			env.logger.Info("item promoted", "item_id", result.ItemID, "code", result.NewCode)
			printLevelChange(cmd.OutOrStdout(), "promoted", result)
			return nil
		},
	}
}

func newDemoteCmd(env *cliEnv) *cobra.Command {
	return &cobra.Command{
		Use:   "demote <item-id>",
		Short: "Move an item one level down, under its previous sibling",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := env.svc.Demote(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			env.logger.Info("item demoted", "item_id", result.ItemID, "code", result.NewCode)
			printLevelChange(cmd.OutOrStdout(), "demoted", result)
			return nil
		},
	}
}

func newDeleteCmd(env *cliEnv) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <item-id>",
		Short: "Delete an item with its whole subtree",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := env.svc.DeleteWorkItem(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			env.logger.Info("item deleted", "item_id", result.ItemID, "deleted_count", result.DeletedCount)
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "deleted %d item(s)\n", result.DeletedCount)
			return nil
		},
	}
}

func newTreeCmd(env *cliEnv) *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "tree <project>",
		Short: "Print a project's tree with rolled-up progress",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := render.ParseFormat(format)
			if err != nil {
				return err
			}
			project, err := env.resolveProject(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			roots, err := env.svc.Tree(cmd.Context(), project.ID)
			if err != nil {
				return err
			}
			return render.Tree(cmd.OutOrStdout(), f, project.Name, roots)
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "text", "output format: text, json, or yaml")
	return cmd
}

func newLogCmd(env *cliEnv) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "log <project>",
		Short: "Show recent change events, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			project, err := env.resolveProject(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			events, err := env.svc.ListProjectChangeEvents(cmd.Context(), project.ID, limit)
			if err != nil {
				return err
			}
			rows := make([][]string, 0, len(events))
			for _, event := range events {
				rows = append(rows, []string{
					event.OccurredAt.Local().Format("2006-01-02 15:04:05"),
					string(event.Operation),
					event.ActorID,
					event.WorkItemID,
					eventDetail(event),
				})
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), render.Table([]string{"TIME", "OPERATION", "ACTOR", "ITEM", "DETAIL"}, rows))
			return err
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "maximum events (default from config)")
	return cmd
}

// errViolations signals a doctor run that found broken invariants.
var errViolations = errors.New("tree has invariant violations")

func newDoctorCmd(env *cliEnv) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor <project>",
		Short: "Check every tree invariant of a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			project, err := env.resolveProject(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			violations, err := env.svc.VerifyTree(cmd.Context(), project.ID)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(violations) == 0 {
				_, _ = fmt.Fprintf(out, "%s: ok\n", project.Slug)
				return nil
			}
			for _, v := range violations {
				_, _ = fmt.Fprintf(out, "%s %s [%s] %s\n", v.Code, v.ItemID, v.Rule, v.Message)
			}
			env.logger.Warn("doctor found violations", "project_id", project.ID, "count", len(violations))
			return fmt.Errorf("%s: %d violation(s): %w", project.Slug, len(violations), errViolations)
		},
	}
}

func printLevelChange(w io.Writer, verb string, result app.LevelChangeResult) {
	_, _ = fmt.Fprintf(w, "%s %s to %s (%s)\n", verb, result.ItemID, result.NewCode, result.NewLevel)
}

// eventDetail condenses event metadata for one log line.
func eventDetail(event domain.ChangeEvent) string {
	md := event.Metadata
	switch event.Operation {
	case domain.ChangeOperationPromote, domain.ChangeOperationDemote, domain.ChangeOperationMove:
		return md["from_code"] + " -> " + md["to_code"]
	case domain.ChangeOperationProgress:
		return md["from_progress"] + "% -> " + md["to_progress"] + "%"
	case domain.ChangeOperationDelete:
		return md["code"] + " (" + md["deleted_count"] + " removed)"
	default:
		return strings.TrimSpace(md["code"] + " " + md["title"])
	}
}
