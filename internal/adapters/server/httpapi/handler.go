// Package httpapi provides the REST HTTP adapter for the work-breakdown tree.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/hylla/wbs/internal/adapters/server/common"
	"github.com/hylla/wbs/internal/app"
	"github.com/hylla/wbs/internal/domain"
)

// maxRequestBodyBytes limits decoded JSON payload size for fail-closed request handling.
const maxRequestBodyBytes int64 = 1 << 20

// Actor headers attribute mutations in the change ledger.
const (
	HeaderActorID   = "X-Actor-ID"
	HeaderActorType = "X-Actor-Type"
)

// Handler serves the versioned API subrouter mounted under `/api/v1`.
type Handler struct {
	tree common.TreeService
}

// APIError represents one structured API failure response.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ErrorEnvelope wraps one structured API error.
type ErrorEnvelope struct {
	Error APIError `json:"error"`
}

func NewHandler(tree common.TreeService) *Handler {
	return &Handler{tree: tree}
}

// ServeHTTP routes one versioned API request to the matching handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.tree == nil {
		writeJSONError(w, http.StatusServiceUnavailable, APIError{
			Code:    "service_unavailable",
			Message: "tree service is not configured",
		})
		return
	}
	r = r.WithContext(withRequestActor(r))

	segments := splitPath(r.URL.Path)
	switch {
	case len(segments) == 1 && segments[0] == "projects":
		switch r.Method {
		case http.MethodGet:
			h.handleListProjects(w, r)
		case http.MethodPost:
			h.handleCreateProject(w, r)
		default:
			writeMethodNotAllowed(w, http.MethodGet, http.MethodPost)
		}
	case len(segments) >= 2 && segments[0] == "projects":
		h.routeProject(w, r, segments[1], segments[2:])
	case len(segments) >= 2 && segments[0] == "items":
		h.routeItem(w, r, segments[1], segments[2:])
	default:
		writeNotFound(w)
	}
}

// handleListProjects serves GET `/projects`.
func (h *Handler) handleListProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := h.tree.ListProjects(r.Context())
	respond(w, http.StatusOK, map[string]any{"projects": projects}, err)
}

// handleCreateProject serves POST `/projects`.
func (h *Handler) handleCreateProject(w http.ResponseWriter, r *http.Request) {
	var req common.CreateProjectRequest
	if err := decodeJSONBody(r.Context(), w, r, &req); err != nil {
		writeErrorFrom(w, err)
		return
	}
	project, err := h.tree.CreateProject(r.Context(), req)
	respond(w, http.StatusCreated, project, err)
}

// routeProject dispatches `/projects/{id}/...`.
func (h *Handler) routeProject(w http.ResponseWriter, r *http.Request, projectID string, rest []string) {
	if len(rest) > 1 {
		writeNotFound(w)
		return
	}
	action := ""
	if len(rest) == 1 {
		action = rest[0]
	}
	switch action {
	case "":
		if r.Method != http.MethodGet {
			writeMethodNotAllowed(w, http.MethodGet)
			return
		}
		project, err := h.tree.GetProject(r.Context(), projectID)
		respond(w, http.StatusOK, project, err)
	case "tree":
		if r.Method != http.MethodGet {
			writeMethodNotAllowed(w, http.MethodGet)
			return
		}
		nodes, err := h.tree.Tree(r.Context(), projectID)
		respond(w, http.StatusOK, map[string]any{"project_id": projectID, "roots": nodes}, err)
	case "items":
		switch r.Method {
		case http.MethodGet:
			items, err := h.tree.ListItems(r.Context(), projectID)
			respond(w, http.StatusOK, map[string]any{"items": items}, err)
		case http.MethodPost:
			var req common.CreateItemRequest
			if err := decodeJSONBody(r.Context(), w, r, &req); err != nil {
				writeErrorFrom(w, err)
				return
			}
			req.ProjectID = projectID
			item, err := h.tree.CreateItem(r.Context(), req)
			respond(w, http.StatusCreated, item, err)
		default:
			writeMethodNotAllowed(w, http.MethodGet, http.MethodPost)
		}
	case "events":
		if r.Method != http.MethodGet {
			writeMethodNotAllowed(w, http.MethodGet)
			return
		}
		limit, err := parseLimit(r.URL.Query().Get("limit"))
		if err != nil {
			writeErrorFrom(w, err)
			return
		}
		events, err := h.tree.ListEvents(r.Context(), projectID, limit)
		respond(w, http.StatusOK, map[string]any{"events": events}, err)
	case "verify":
		if r.Method != http.MethodGet {
			writeMethodNotAllowed(w, http.MethodGet)
			return
		}
		report, err := h.tree.Verify(r.Context(), projectID)
		respond(w, http.StatusOK, report, err)
	default:
		writeNotFound(w)
	}
}

// moveRequest is the body of POST `/items/{id}/move`.
type moveRequest struct {
	ParentID string `json:"parent_id"`
}

// progressRequest is the body of POST `/items/{id}/progress`.
type progressRequest struct {
	Progress *int `json:"progress"`
}

// routeItem dispatches `/items/{id}/...`.
func (h *Handler) routeItem(w http.ResponseWriter, r *http.Request, itemID string, rest []string) {
	if len(rest) == 0 {
		switch r.Method {
		case http.MethodGet:
			item, err := h.tree.GetItem(r.Context(), itemID)
			respond(w, http.StatusOK, item, err)
		case http.MethodPatch:
			var req common.UpdateItemRequest
			if err := decodeJSONBody(r.Context(), w, r, &req); err != nil {
				writeErrorFrom(w, err)
				return
			}
			req.ItemID = itemID
			item, err := h.tree.UpdateItem(r.Context(), req)
			respond(w, http.StatusOK, item, err)
		case http.MethodDelete:
			result, err := h.tree.Delete(r.Context(), itemID)
			respond(w, http.StatusOK, result, err)
		default:
			writeMethodNotAllowed(w, http.MethodGet, http.MethodPatch, http.MethodDelete)
		}
		return
	}
	if len(rest) != 1 {
		writeNotFound(w)
		return
	}
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w, http.MethodPost)
		return
	}

	switch rest[0] {
	case "promote":
		result, err := h.tree.Promote(r.Context(), itemID)
		respond(w, http.StatusOK, result, err)
	case "demote":
		result, err := h.tree.Demote(r.Context(), itemID)
		respond(w, http.StatusOK, result, err)
	case "move":
		var req moveRequest
		if err := decodeJSONBody(r.Context(), w, r, &req); err != nil {
			writeErrorFrom(w, err)
			return
		}
		result, err := h.tree.Move(r.Context(), itemID, req.ParentID)
		respond(w, http.StatusOK, result, err)
	case "progress":
		var req progressRequest
		if err := decodeJSONBody(r.Context(), w, r, &req); err != nil {
			writeErrorFrom(w, err)
			return
		}
		if req.Progress == nil {
			writeErrorFrom(w, fmt.Errorf("progress is required: %w", common.ErrInvalidRequest))
			return
		}
		item, err := h.tree.SetProgress(r.Context(), itemID, *req.Progress)
		respond(w, http.StatusOK, item, err)
	default:
		writeNotFound(w)
	}
}

// withRequestActor attaches actor headers to the request context.
func withRequestActor(r *http.Request) context.Context {
	actorID := strings.TrimSpace(r.Header.Get(HeaderActorID))
	if actorID == "" {
		return r.Context()
	}
	return app.WithMutationActor(r.Context(), app.MutationActor{
		ActorID:   actorID,
		ActorType: domain.ActorType(r.Header.Get(HeaderActorType)),
	})
}

func parseLimit(raw string) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 0 {
		return 0, fmt.Errorf("limit must be a non-negative integer: %w", common.ErrInvalidRequest)
	}
	return limit, nil
}

// splitPath canonicalizes one request path into route segments.
func splitPath(path string) []string {
	path = strings.Trim(strings.TrimSpace(path), "/")
	if path == "" {
		return nil
	}
	return strings.Split(path, "/")
}

func respond(w http.ResponseWriter, status int, payload any, err error) {
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	writeJSON(w, status, payload)
}

// StatusFor maps a transport error kind onto an HTTP status.
func StatusFor(err error) int {
	switch common.ErrorCode(err) {
	case "ok":
		return http.StatusOK
	case "not_found":
		return http.StatusNotFound
	case "invalid_operation":
		return http.StatusConflict
	case "invalid_request":
		return http.StatusBadRequest
	case "structural_integrity":
		return http.StatusInternalServerError
	default:
		return http.StatusServiceUnavailable
	}
}

// writeErrorFrom maps adapter errors into structured HTTP responses.
func writeErrorFrom(w http.ResponseWriter, err error) {
	if err == nil {
		writeJSONError(w, http.StatusInternalServerError, APIError{
			Code:    "internal_error",
			Message: "unknown error",
		})
		return
	}
	writeJSONError(w, StatusFor(err), APIError{
		Code:    common.ErrorCode(err),
		Message: err.Error(),
	})
}

func writeNotFound(w http.ResponseWriter) {
	writeJSONError(w, http.StatusNotFound, APIError{
		Code:    "not_found",
		Message: "endpoint not found",
	})
}

// writeMethodNotAllowed writes a structured 405 response with `Allow` headers.
func writeMethodNotAllowed(w http.ResponseWriter, methods ...string) {
	if len(methods) > 0 {
		w.Header().Set("Allow", strings.Join(methods, ", "))
	}
	writeJSONError(w, http.StatusMethodNotAllowed, APIError{
		Code:    "method_not_allowed",
		Message: "method not allowed",
	})
}

func writeJSONError(w http.ResponseWriter, statusCode int, apiErr APIError) {
	writeJSON(w, statusCode, ErrorEnvelope{Error: apiErr})
}

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, fmt.Sprintf(`{"error":{"code":"encode_error","message":"%s"}}`, err.Error()), http.StatusInternalServerError)
	}
}

// decodeJSONBody decodes one required JSON request body with strict shape checks.
func decodeJSONBody(ctx context.Context, w http.ResponseWriter, r *http.Request, out any) error {
	reader := http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
	defer reader.Close()

	decoder := json.NewDecoder(reader)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(out); err != nil {
		return fmt.Errorf("decode request body: %w", errors.Join(common.ErrInvalidRequest, err))
	}
	// Reject trailing payloads so malformed JSON bodies fail closed.
	if err := decoder.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return fmt.Errorf("decode request body: trailing content: %w", common.ErrInvalidRequest)
	}
	select {
	case <-ctx.Done():
		return fmt.Errorf("request canceled: %w", ctx.Err())
	default:
		return nil
	}
}
