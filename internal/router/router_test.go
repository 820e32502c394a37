package router

import (
	"context"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/ThinkParQ/beegfs-sub011/internal/config"
	"github.com/ThinkParQ/beegfs-sub011/internal/logging"
	"github.com/ThinkParQ/beegfs-sub011/internal/metadata"
	"github.com/ThinkParQ/beegfs-sub011/internal/server"
)

const testKey = "0123456789abcdef0123456789abcdef"

func newTestApp(t *testing.T, authEnabled bool) *fiber.App {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.GRPCPort = 0
	cfg.Node.NodeID = 1
	cfg.Node.DataDir = t.TempDir()
	cfg.Node.Targets = []uint16{101}
	cfg.Mirror.WorkerCount = 2
	cfg.Mirror.SyncInterval = time.Hour
	cfg.Auth.Enabled = authEnabled
	cfg.Auth.APIKeys = []string{testKey}

	node, err := server.NewNode(server.Deps{
		Config:   cfg,
		Metadata: metadata.NewMemoryManager(""),
		Logger:   logging.NewNop(),
	})
	if err != nil {
		t.Fatalf("NewNode: %v", err)
	}
	if err := node.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(node.Stop)

	return New(logging.NewNop(), node, cfg, "test")
}

func request(t *testing.T, app *fiber.App, method, path, key string) (int, string) {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	if key != "" {
		req.Header.Set("X-API-Key", key)
	}
	resp, err := app.Test(req, 5000)
	if err != nil {
		t.Fatalf("Failed to perform request: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	body, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, string(body)
}

func TestRouter_PublicEndpoints(t *testing.T) {
	app := newTestApp(t, true)

	status, body := request(t, app, "GET", "/health", "")
	if status != fiber.StatusOK || !strings.Contains(body, `"version":"test"`) {
		t.Errorf("Unexpected health answer %d: %s", status, body)
	}

	status, body = request(t, app, "GET", "/metrics", "")
	if status != fiber.StatusOK {
		t.Fatalf("Expected metrics status 200, got %d", status)
	}
	if !strings.Contains(body, "go_goroutines") {
		t.Errorf("Expected runtime collectors in metrics output, got: %.200s", body)
	}
}

func TestRouter_AdminRequiresKey(t *testing.T) {
	app := newTestApp(t, true)

	if status, _ := request(t, app, "GET", "/admin/node", ""); status != fiber.StatusUnauthorized {
		t.Errorf("Expected 401 without key, got %d", status)
	}
	status, body := request(t, app, "GET", "/admin/node", testKey)
	if status != fiber.StatusOK || !strings.Contains(body, `"node_id":1`) {
		t.Errorf("Unexpected node answer %d: %s", status, body)
	}
}

func TestRouter_Routes(t *testing.T) {
	app := newTestApp(t, false)

	tests := []struct {
		method string
		path   string
		want   int
	}{
		{"GET", "/admin/targets", fiber.StatusOK},
		{"GET", "/admin/groups", fiber.StatusOK},
		{"GET", "/admin/groups/4", fiber.StatusNotFound},
		{"GET", "/admin/resync", fiber.StatusOK},
		{"GET", "/admin/groups/4/resync", fiber.StatusNotFound},
		{"POST", "/admin/groups/4/resync", fiber.StatusNotFound},
		{"GET", "/v1/databases", fiber.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			if status, body := request(t, app, tt.method, tt.path, ""); status != tt.want {
				t.Errorf("Expected %d, got %d: %s", tt.want, status, body)
			}
		})
	}
}
