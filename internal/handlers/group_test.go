package handlers

import (
	"testing"

	"github.com/gofiber/fiber/v2"

	"github.com/ThinkParQ/beegfs-sub011/internal/models"
)

func TestHandler_ListAndGetGroups(t *testing.T) {
	_, primary, _ := testPair(t)
	app := testApp(primary)

	status, body := do(t, app, "GET", "/admin/groups", nil)
	if status != fiber.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", status, body)
	}
	var list models.GroupListResponse
	decode(t, body, &list)
	if list.Count != 1 || list.Groups[0].Primary != 101 || list.Groups[0].Secondary != 201 {
		t.Errorf("Unexpected group list %+v", list)
	}

	status, body = do(t, app, "GET", "/admin/groups/1", nil)
	if status != fiber.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", status, body)
	}
	var g models.GroupResponse
	decode(t, body, &g)
	if g.ID != 1 || g.Resyncing {
		t.Errorf("Unexpected group %+v", g)
	}

	status, body = do(t, app, "GET", "/admin/groups/9", nil)
	if status != fiber.StatusNotFound {
		t.Errorf("Expected status 404, got %d: %s", status, body)
	}
}

func TestHandler_CreateGroup(t *testing.T) {
	_, primary, _ := testPair(t)
	app := testApp(primary)

	tests := []struct {
		name       string
		req        models.CreateGroupRequest
		wantStatus int
	}{
		{"new group", models.CreateGroupRequest{ID: 2, Primary: 102, Secondary: 202}, fiber.StatusCreated},
		{"target already mirrored", models.CreateGroupRequest{ID: 3, Primary: 101, Secondary: 301}, fiber.StatusConflict},
		{"same target twice", models.CreateGroupRequest{ID: 4, Primary: 401, Secondary: 401}, fiber.StatusBadRequest},
		{"missing secondary", models.CreateGroupRequest{ID: 5, Primary: 501}, fiber.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := do(t, app, "POST", "/admin/groups", tt.req)
			if status != tt.wantStatus {
				t.Errorf("Expected status %d, got %d: %s", tt.wantStatus, status, body)
			}
		})
	}

	if _, ok := primary.Topology().Groups.Get(2); !ok {
		t.Error("New group should be visible in the node topology")
	}
}

func TestHandler_SwapAndDeleteGroup(t *testing.T) {
	_, primary, _ := testPair(t)
	app := testApp(primary)

	status, body := do(t, app, "POST", "/admin/groups/1/swap", nil)
	if status != fiber.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", status, body)
	}
	var g models.GroupResponse
	decode(t, body, &g)
	if g.Primary != 201 || g.Secondary != 101 {
		t.Errorf("Expected swapped group, got %+v", g)
	}
	if cur, _ := primary.Topology().Groups.Get(1); cur.Primary != 201 {
		t.Errorf("Topology should follow the swap, got primary %d", cur.Primary)
	}

	status, _ = do(t, app, "POST", "/admin/groups/7/swap", nil)
	if status != fiber.StatusNotFound {
		t.Errorf("Expected status 404 for unknown group, got %d", status)
	}

	status, _ = do(t, app, "DELETE", "/admin/groups/1", nil)
	if status != fiber.StatusNoContent {
		t.Fatalf("Expected status 204, got %d", status)
	}
	if _, ok := primary.Topology().Groups.Get(1); ok {
		t.Error("Deleted group should be gone from the topology")
	}
}
