package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"

	"github.com/hylla/wbs/internal/adapters/server/common"
	"github.com/hylla/wbs/internal/adapters/storage/sqlite"
	"github.com/hylla/wbs/internal/app"
)

// newTestHandler wires the handler to an isolated in-memory sqlite service.
func newTestHandler(t *testing.T) (*Handler, *app.Service) {
	t.Helper()
	repo, err := sqlite.OpenInMemory()
	if err != nil {
		t.Fatalf("OpenInMemory() error = %v", err)
	}
	t.Cleanup(func() { _ = repo.Close() })
	svc := app.NewService(repo, uuid.NewString, nil, app.ServiceConfig{})
	return NewHandler(common.NewAppServiceAdapter(svc, nil)), svc
}

// do sends one request through the handler and decodes the JSON response into out when non-nil.
func do(t *testing.T, h http.Handler, method, path string, body any, out any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("Marshal() error = %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderActorID, "tester")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if out != nil {
		if err := json.NewDecoder(rec.Body).Decode(out); err != nil {
			t.Fatalf("Decode() error = %v (body %q)", err, rec.Body.String())
		}
	}
	return rec
}

func TestHandlerTreeLifecycle(t *testing.T) {
	h, _ := newTestHandler(t)

	var project common.Project
	if rec := do(t, h, http.MethodPost, "/projects", map[string]any{"name": "Roadmap"}, &project); rec.Code != http.StatusCreated {
		t.Fatalf("create project status = %d", rec.Code)
	}

	var root, first, second common.WorkItem
	do(t, h, http.MethodPost, "/projects/"+project.ID+"/items", map[string]any{"title": "Phase"}, &root)
	do(t, h, http.MethodPost, "/projects/"+project.ID+"/items", map[string]any{"title": "First", "parent_id": root.ID}, &first)
	rec := do(t, h, http.MethodPost, "/projects/"+project.ID+"/items", map[string]any{"title": "Second", "parent_id": root.ID, "weight": 3}, &second)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create item status = %d", rec.Code)
	}
	if second.Code != "1.2" || second.Level != "L2" || second.Weight != 3 {
		t.Fatalf("unexpected item %#v", second)
	}

	var updated common.WorkItem
	if rec := do(t, h, http.MethodPost, "/items/"+second.ID+"/progress", map[string]any{"progress": 100}, &updated); rec.Code != http.StatusOK {
		t.Fatalf("progress status = %d", rec.Code)
	}
	if updated.Status != "completed" {
		t.Fatalf("status = %q, want completed", updated.Status)
	}

	var parent common.WorkItem
	do(t, h, http.MethodGet, "/items/"+root.ID, nil, &parent)
	if parent.Progress != 75 {
		t.Fatalf("parent progress = %d, want 75", parent.Progress)
	}

	var change common.LevelChange
	if rec := do(t, h, http.MethodPost, "/items/"+second.ID+"/demote", nil, &change); rec.Code != http.StatusOK {
		t.Fatalf("demote status = %d", rec.Code)
	}
	if change.NewCode != "1.1.1" || change.NewLevel != "L3" {
		t.Fatalf("unexpected demote %#v", change)
	}

	var tree struct {
		Roots []struct {
			Code     string `json:"code"`
			Children []struct {
				Code     string `json:"code"`
				Children []struct {
					Code string `json:"code"`
				} `json:"children"`
			} `json:"children"`
		} `json:"roots"`
	}
	do(t, h, http.MethodGet, "/projects/"+project.ID+"/tree", nil, &tree)
	if len(tree.Roots) != 1 || len(tree.Roots[0].Children) != 1 || tree.Roots[0].Children[0].Children[0].Code != "1.1.1" {
		t.Fatalf("unexpected tree %#v", tree)
	}

	var deleted common.DeleteResult
	if rec := do(t, h, http.MethodDelete, "/items/"+root.ID, nil, &deleted); rec.Code != http.StatusOK {
		t.Fatalf("delete status = %d", rec.Code)
	}
	if deleted.DeletedCount != 3 {
		t.Fatalf("deleted_count = %d, want 3", deleted.DeletedCount)
	}

	var events struct {
		Events []common.ChangeEvent `json:"events"`
	}
	do(t, h, http.MethodGet, "/projects/"+project.ID+"/events?limit=2", nil, &events)
	if len(events.Events) != 2 || events.Events[0].Operation != "delete" || events.Events[0].ActorID != "tester" {
		t.Fatalf("unexpected events %#v", events.Events)
	}

	var report common.VerifyReport
	do(t, h, http.MethodGet, "/projects/"+project.ID+"/verify", nil, &report)
	if !report.OK {
		t.Fatalf("unexpected violations %#v", report.Violations)
	}
}

func TestHandlerErrorMapping(t *testing.T) {
	h, svc := newTestHandler(t)
	ctx := context.Background()
	project, err := svc.CreateProject(ctx, "Roadmap", "")
	if err != nil {
		t.Fatalf("CreateProject() error = %v", err)
	}
	root, err := svc.CreateWorkItem(ctx, app.CreateWorkItemInput{ProjectID: project.ID, Title: "Phase"})
	if err != nil {
		t.Fatalf("CreateWorkItem() error = %v", err)
	}

	cases := []struct {
		name   string
		method string
		path   string
		body   any
		status int
		code   string
	}{
		{"promote root", http.MethodPost, "/items/" + root.ID + "/promote", nil, http.StatusConflict, "invalid_operation"},
		{"demote first sibling", http.MethodPost, "/items/" + root.ID + "/demote", nil, http.StatusConflict, "invalid_operation"},
		{"unknown item", http.MethodGet, "/items/missing", nil, http.StatusNotFound, "not_found"},
		{"bad progress", http.MethodPost, "/items/" + root.ID + "/progress", map[string]any{"progress": 150}, http.StatusBadRequest, "invalid_request"},
		{"missing progress", http.MethodPost, "/items/" + root.ID + "/progress", map[string]any{}, http.StatusBadRequest, "invalid_request"},
		{"unknown field", http.MethodPost, "/projects", map[string]any{"name": "x", "color": "red"}, http.StatusBadRequest, "invalid_request"},
		{"self move", http.MethodPost, "/items/" + root.ID + "/move", map[string]any{"parent_id": root.ID}, http.StatusConflict, "invalid_operation"},
		{"bad limit", http.MethodGet, "/projects/" + project.ID + "/events?limit=x", nil, http.StatusBadRequest, "invalid_request"},
		{"unknown route", http.MethodGet, "/nope", nil, http.StatusNotFound, "not_found"},
		{"wrong method", http.MethodPut, "/items/" + root.ID + "/promote", nil, http.StatusMethodNotAllowed, "method_not_allowed"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var envelope ErrorEnvelope
			rec := do(t, h, tc.method, tc.path, tc.body, &envelope)
			if rec.Code != tc.status {
				t.Fatalf("status = %d, want %d", rec.Code, tc.status)
			}
			if envelope.Error.Code != tc.code {
				t.Fatalf("code = %q, want %q", envelope.Error.Code, tc.code)
			}
		})
	}
}

func TestStatusFor(t *testing.T) {
	cases := map[error]int{
		nil: http.StatusOK,
		fmt.Errorf("x: %w", app.ErrStructuralIntegrity): http.StatusInternalServerError,
		fmt.Errorf("x: %w", app.ErrStore):               http.StatusServiceUnavailable,
		fmt.Errorf("x: %w", common.ErrNotFound):         http.StatusNotFound,
	}
	for err, want := range cases {
		if got := StatusFor(err); got != want {
			t.Fatalf("StatusFor(%v) = %d, want %d", err, got, want)
		}
	}
}

func TestHandlerWithoutServiceIsUnavailable(t *testing.T) {
	rec := httptest.NewRecorder()
	NewHandler(nil).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/projects", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}
}
