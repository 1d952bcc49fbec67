// Package mcpapi provides a stateless MCP streamable-HTTP adapter.
package mcpapi

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/hylla/wbs/internal/adapters/server/common"
	"github.com/hylla/wbs/internal/app"
	"github.com/hylla/wbs/internal/domain"
)

// defaultActorID attributes tool calls that do not name an actor.
const defaultActorID = "mcp-agent"

// Config captures MCP transport configuration.
type Config struct {
	ServerName    string
	ServerVersion string
	EndpointPath  string
}

// Handler wraps one stateless MCP streamable HTTP handler.
type Handler struct {
	httpHandler http.Handler
}

// NewHandler builds one stateless MCP adapter exposing the tree tools.
func NewHandler(cfg Config, tree common.TreeService) (*Handler, error) {
	if tree == nil {
		return nil, fmt.Errorf("tree service is required")
	}
	cfg = normalizeConfig(cfg)

	mcpSrv := mcpserver.NewMCPServer(
		cfg.ServerName,
		cfg.ServerVersion,
		mcpserver.WithToolCapabilities(false),
	)
	registerReadTools(mcpSrv, tree)
	registerMutationTools(mcpSrv, tree)

	streamable := mcpserver.NewStreamableHTTPServer(
		mcpSrv,
		mcpserver.WithEndpointPath(cfg.EndpointPath),
		mcpserver.WithStateLess(true),
	)
	return &Handler{httpHandler: streamable}, nil
}

// ServeHTTP handles one MCP streamable HTTP request.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.httpHandler == nil {
		http.Error(w, "mcp handler unavailable", http.StatusServiceUnavailable)
		return
	}
	h.httpHandler.ServeHTTP(w, r)
}

// normalizeConfig applies deterministic defaults to MCP adapter config.
func normalizeConfig(cfg Config) Config {
	cfg.ServerName = strings.TrimSpace(cfg.ServerName)
	if cfg.ServerName == "" {
		cfg.ServerName = "wbs"
	}
	cfg.ServerVersion = strings.TrimSpace(cfg.ServerVersion)
	if cfg.ServerVersion == "" {
		cfg.ServerVersion = "dev"
	}
	cfg.EndpointPath = strings.TrimSpace(cfg.EndpointPath)
	if cfg.EndpointPath == "" {
		cfg.EndpointPath = "/mcp"
	}
	cfg.EndpointPath = "/" + strings.Trim(cfg.EndpointPath, "/")
	return cfg
}

func registerReadTools(srv *mcpserver.MCPServer, tree common.TreeService) {
	srv.AddTool(
		mcp.NewTool(
			"wbs.list_projects",
			mcp.WithDescription("List every project."),
		),
		func(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			projects, err := tree.ListProjects(ctx)
			if err != nil {
				return toolResultFromError(err), nil
			}
			return jsonResult("list_projects", map[string]any{"projects": projects})
		},
	)

	srv.AddTool(
		mcp.NewTool(
			"wbs.tree",
			mcp.WithDescription("Return the nested work-breakdown tree of one project with rolled-up progress."),
			mcp.WithString("project_id", mcp.Required(), mcp.Description("Project identifier")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			projectID, err := req.RequireString("project_id")
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			nodes, err := tree.Tree(ctx, projectID)
			if err != nil {
				return toolResultFromError(err), nil
			}
			return jsonResult("tree", map[string]any{"project_id": projectID, "roots": nodes})
		},
	)

	srv.AddTool(
		mcp.NewTool(
			"wbs.verify",
			mcp.WithDescription("Check every tree invariant of one project and list violations."),
			mcp.WithString("project_id", mcp.Required(), mcp.Description("Project identifier")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			projectID, err := req.RequireString("project_id")
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			report, err := tree.Verify(ctx, projectID)
			if err != nil {
				return toolResultFromError(err), nil
			}
			return jsonResult("verify", report)
		},
	)
}

func registerMutationTools(srv *mcpserver.MCPServer, tree common.TreeService) {
	itemTool := func(name, description string) mcp.Tool {
		return mcp.NewTool(
			name,
			mcp.WithDescription(description),
			mcp.WithString("item_id", mcp.Required(), mcp.Description("Work item identifier")),
			mcp.WithString("actor_id", mcp.Description("Agent identity recorded in the change ledger")),
		)
	}

	srv.AddTool(
		itemTool("wbs.promote", "Move an item one level up so it becomes the last child of its grandparent."),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			itemID, err := req.RequireString("item_id")
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			result, err := tree.Promote(withToolActor(ctx, req), itemID)
			if err != nil {
				return toolResultFromError(err), nil
			}
			return jsonResult("promote", result)
		},
	)

	srv.AddTool(
		itemTool("wbs.demote", "Move an item one level down so it becomes the last child of its previous sibling."),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			itemID, err := req.RequireString("item_id")
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			result, err := tree.Demote(withToolActor(ctx, req), itemID)
			if err != nil {
				return toolResultFromError(err), nil
			}
			return jsonResult("demote", result)
		},
	)

	srv.AddTool(
		itemTool("wbs.delete", "Delete an item and its whole subtree, then roll up the former parent."),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			itemID, err := req.RequireString("item_id")
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			result, err := tree.Delete(withToolActor(ctx, req), itemID)
			if err != nil {
				return toolResultFromError(err), nil
			}
			return jsonResult("delete", result)
		},
	)

	srv.AddTool(
		mcp.NewTool(
			"wbs.set_progress",
			mcp.WithDescription("Set the progress of a leaf item (0-100) and roll up its ancestors."),
			mcp.WithString("item_id", mcp.Required(), mcp.Description("Work item identifier")),
			mcp.WithNumber("progress", mcp.Required(), mcp.Description("Progress percentage 0-100")),
			mcp.WithString("actor_id", mcp.Description("Agent identity recorded in the change ledger")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			itemID, err := req.RequireString("item_id")
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			progress, err := req.RequireInt("progress")
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			item, err := tree.SetProgress(withToolActor(ctx, req), itemID, progress)
			if err != nil {
				return toolResultFromError(err), nil
			}
			return jsonResult("set_progress", item)
		},
	)

	srv.AddTool(
		mcp.NewTool(
			"wbs.create_item",
			mcp.WithDescription("Append a new item under parent_id, or a new root when parent_id is empty."),
			mcp.WithString("project_id", mcp.Required(), mcp.Description("Project identifier")),
			mcp.WithString("title", mcp.Required(), mcp.Description("Item title")),
			mcp.WithString("parent_id", mcp.Description("Parent item identifier")),
			mcp.WithNumber("weight", mcp.Description("Rollup weight; defaults to 1")),
			mcp.WithString("actor_id", mcp.Description("Agent identity recorded in the change ledger")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			projectID, err := req.RequireString("project_id")
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			title, err := req.RequireString("title")
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			item, err := tree.CreateItem(withToolActor(ctx, req), common.CreateItemRequest{
				ProjectID: projectID,
				ParentID:  req.GetString("parent_id", ""),
				Title:     title,
				Weight:    req.GetFloat("weight", 0),
			})
			if err != nil {
				return toolResultFromError(err), nil
			}
			return jsonResult("create_item", item)
		},
	)
}

// withToolActor attributes one tool call to an agent actor.
func withToolActor(ctx context.Context, req mcp.CallToolRequest) context.Context {
	actorID := strings.TrimSpace(req.GetString("actor_id", ""))
	if actorID == "" {
		actorID = defaultActorID
	}
	return app.WithMutationActor(ctx, app.MutationActor{
		ActorID:   actorID,
		ActorType: domain.ActorTypeAgent,
	})
}

func jsonResult(tool string, payload any) (*mcp.CallToolResult, error) {
	result, err := mcp.NewToolResultJSON(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s result: %w", tool, err)
	}
	return result, nil
}

// toolResultFromError maps service errors into MCP-visible tool errors.
func toolResultFromError(err error) *mcp.CallToolResult {
	if err == nil {
		return mcp.NewToolResultError("unknown error")
	}
	return mcp.NewToolResultError(common.ErrorCode(err) + ": " + err.Error())
}
