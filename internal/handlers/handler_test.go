package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/ThinkParQ/beegfs-sub011/internal/config"
	"github.com/ThinkParQ/beegfs-sub011/internal/logging"
	"github.com/ThinkParQ/beegfs-sub011/internal/metadata"
	"github.com/ThinkParQ/beegfs-sub011/internal/models"
	"github.com/ThinkParQ/beegfs-sub011/internal/nodes"
	"github.com/ThinkParQ/beegfs-sub011/internal/server"
)

func newTestNode(t *testing.T, meta metadata.Manager, nodeID uint16, targets ...uint16) *server.Node {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.GRPCPort = 0
	cfg.Node.NodeID = nodeID
	cfg.Node.DataDir = t.TempDir()
	cfg.Node.Targets = targets
	cfg.Mirror.WorkerCount = 2
	cfg.Mirror.NumResyncSlaves = 2
	cfg.Mirror.RPCTimeout = 2 * time.Second
	cfg.Mirror.RPCRetryInterval = 10 * time.Millisecond
	cfg.Mirror.SyncInterval = time.Hour

	n, err := server.NewNode(server.Deps{Config: cfg, Metadata: meta, Logger: logging.NewNop()})
	if err != nil {
		t.Fatalf("NewNode: %v", err)
	}
	if err := n.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(n.Stop)

	ctx := context.Background()
	if err := meta.PutNode(ctx, nodes.Node{ID: nodeID, Address: n.Addr()}); err != nil {
		t.Fatalf("PutNode: %v", err)
	}
	for _, id := range targets {
		if err := meta.MapTarget(ctx, id, nodeID); err != nil {
			t.Fatalf("MapTarget: %v", err)
		}
	}
	return n
}

// testPair starts a primary node (target 101) and a secondary node
// (target 201) forming group 1, both Good
func testPair(t *testing.T) (metadata.Manager, *server.Node, *server.Node) {
	t.Helper()
	ctx := context.Background()
	meta := metadata.NewMemoryManager("")

	primary := newTestNode(t, meta, 1, 101)
	secondary := newTestNode(t, meta, 2, 201)

	if err := meta.PutGroup(ctx, nodes.MirrorGroup{ID: 1, Primary: 101, Secondary: 201}); err != nil {
		t.Fatalf("PutGroup: %v", err)
	}
	for _, id := range []uint16{101, 201} {
		if err := meta.SetConsistency(ctx, id, nodes.Good); err != nil {
			t.Fatalf("SetConsistency: %v", err)
		}
	}
	for _, n := range []*server.Node{primary, secondary} {
		if err := n.Syncer().SyncOnce(ctx); err != nil {
			t.Fatalf("SyncOnce: %v", err)
		}
	}
	return meta, primary, secondary
}

func testApp(node *server.Node) *fiber.App {
	h := New(logging.NewNop(), node, "test")
	app := fiber.New()
	app.Get("/health", h.Health)
	app.Get("/admin/node", h.NodeStatus)
	app.Get("/admin/targets", h.ListTargetStates)
	app.Put("/admin/targets/:target_id/consistency", h.SetTargetConsistency)
	app.Get("/admin/groups", h.ListGroups)
	app.Post("/admin/groups", h.CreateGroup)
	app.Get("/admin/groups/:group_id", h.GetGroup)
	app.Delete("/admin/groups/:group_id", h.DeleteGroup)
	app.Post("/admin/groups/:group_id/swap", h.SwapGroup)
	app.Get("/admin/resync", h.ListResyncStats)
	app.Post("/admin/groups/:group_id/resync", h.StartResync)
	app.Get("/admin/groups/:group_id/resync", h.GetResyncStats)
	app.Delete("/admin/groups/:group_id/resync", h.AbortResync)
	app.Use(h.NotFound)
	return app
}

// do sends a request and returns status and body
func do(t *testing.T, app *fiber.App, method, path string, body interface{}) (int, []byte) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := app.Test(req, 10000)
	if err != nil {
		t.Fatalf("Failed to perform request: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("Failed to read response body: %v", err)
	}
	return resp.StatusCode, data
}

func decode(t *testing.T, data []byte, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(data, v); err != nil {
		t.Fatalf("Failed to unmarshal %s: %v", data, err)
	}
}

func errorCode(t *testing.T, data []byte) string {
	t.Helper()
	var resp models.ErrorResponse
	decode(t, data, &resp)
	return resp.Error.Code
}
