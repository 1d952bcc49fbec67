package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hylla/wbs/internal/adapters/server/common"
	"github.com/hylla/wbs/internal/adapters/storage/sqlite"
	"github.com/hylla/wbs/internal/app"
)

// captureLogger records request log lines.
type captureLogger struct {
	mu    sync.Mutex
	lines []string
}

func (l *captureLogger) Info(msg string, keyvals ...any) { l.add(msg, keyvals) }
func (l *captureLogger) Warn(msg string, keyvals ...any) { l.add(msg, keyvals) }

func (l *captureLogger) add(msg string, keyvals []any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lines = append(l.lines, fmt.Sprint(append([]any{msg}, keyvals...)...))
}

func newTestServer(t *testing.T, ready func(context.Context) error) (*httptest.Server, *app.Service, *captureLogger) {
	t.Helper()
	repo, err := sqlite.OpenInMemory()
	if err != nil {
		t.Fatalf("OpenInMemory() error = %v", err)
	}
	t.Cleanup(func() { _ = repo.Close() })
	registry := prometheus.NewRegistry()
	metrics, err := common.NewMetrics(registry)
	if err != nil {
		t.Fatalf("NewMetrics() error = %v", err)
	}
	svc := app.NewService(repo, uuid.NewString, nil, app.ServiceConfig{})
	logger := &captureLogger{}
	if ready == nil {
		ready = repo.Ping
	}
	handler, _, err := NewHandler(Config{}, Dependencies{
		Tree:     common.NewAppServiceAdapter(svc, metrics),
		Gatherer: registry,
		Ready:    ready,
		Logger:   logger,
	})
	if err != nil {
		t.Fatalf("NewHandler() error = %v", err)
	}
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return server, svc, logger
}

func get(t *testing.T, url string) (int, string) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("Get(%s) error = %v", url, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("ReadAll() error = %v", err)
	}
	return resp.StatusCode, string(body)
}

func TestHandlerHealthAndReadiness(t *testing.T) {
	server, _, _ := newTestServer(t, nil)
	if code, body := get(t, server.URL+"/healthz"); code != http.StatusOK || !strings.Contains(body, "ok") {
		t.Fatalf("healthz = %d %q", code, body)
	}
	if code, _ := get(t, server.URL+"/readyz"); code != http.StatusOK {
		t.Fatalf("readyz = %d, want 200", code)
	}

	failing, _, _ := newTestServer(t, func(context.Context) error { return errors.New("db closed") })
	if code, _ := get(t, failing.URL+"/readyz"); code != http.StatusServiceUnavailable {
		t.Fatalf("readyz = %d, want 503", code)
	}
}

func TestHandlerServesAPIAndMetrics(t *testing.T) {
	server, svc, logger := newTestServer(t, nil)
	ctx := context.Background()
	project, err := svc.CreateProject(ctx, "Roadmap", "")
	if err != nil {
		t.Fatalf("CreateProject() error = %v", err)
	}
	root, err := svc.CreateWorkItem(ctx, app.CreateWorkItemInput{ProjectID: project.ID, Title: "Phase"})
	if err != nil {
		t.Fatalf("CreateWorkItem() error = %v", err)
	}

	resp, err := http.Post(server.URL+"/api/v1/items/"+root.ID+"/promote", "application/json", nil)
	if err != nil {
		t.Fatalf("Post() error = %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("promote root status = %d, want 409", resp.StatusCode)
	}

	if code, body := get(t, server.URL+"/api/v1/projects/"+project.ID+"/tree"); code != http.StatusOK || !strings.Contains(body, `"code":"1"`) {
		t.Fatalf("tree = %d %q", code, body)
	}

	code, body := get(t, server.URL+"/metrics")
	if code != http.StatusOK {
		t.Fatalf("metrics status = %d", code)
	}
	if !strings.Contains(body, `wbs_tree_mutations_total{operation="promote",outcome="invalid_operation"} 1`) {
		t.Fatalf("metrics missing promote counter:\n%s", body)
	}

	logger.mu.Lock()
	defer logger.mu.Unlock()
	var sawPromote bool
	for _, line := range logger.lines {
		if strings.Contains(line, "/promote") && strings.Contains(line, "409") {
			sawPromote = true
		}
	}
	if !sawPromote {
		t.Fatalf("expected promote request log line, got %#v", logger.lines)
	}
}

func TestNormalizeConfig(t *testing.T) {
	cfg, err := normalizeConfig(Config{APIEndpoint: "api/v2/", MCPEndpoint: " "})
	if err != nil {
		t.Fatalf("normalizeConfig() error = %v", err)
	}
	if cfg.HTTPBind != defaultBindAddress || cfg.APIEndpoint != "/api/v2" || cfg.MCPEndpoint != "/mcp" || cfg.MetricsEndpoint != "/metrics" {
		t.Fatalf("unexpected config %#v", cfg)
	}
	if _, err := normalizeConfig(Config{APIEndpoint: "/x", MetricsEndpoint: "/x"}); err == nil {
		t.Fatal("expected collision error")
	}
	if _, err := normalizeConfig(Config{MetricsEndpoint: "/healthz"}); err == nil {
		t.Fatal("expected reserved endpoint error")
	}
}

func TestNewHandlerRequiresTree(t *testing.T) {
	if _, _, err := NewHandler(Config{}, Dependencies{}); err == nil {
		t.Fatal("expected error without tree dependency")
	}
}
