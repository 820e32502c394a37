package handlers

import (
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/ThinkParQ/beegfs-sub011/internal/models"
	"github.com/ThinkParQ/beegfs-sub011/internal/resync"
)

func waitJob(t *testing.T, job *resync.Job) {
	t.Helper()
	select {
	case <-job.Done():
	case <-time.After(10 * time.Second):
		t.Fatalf("resync job %s did not finish", job.ID())
	}
}

func TestHandler_StartResync(t *testing.T) {
	_, primary, _ := testPair(t)
	app := testApp(primary)

	status, body := do(t, app, "GET", "/admin/groups/1/resync", nil)
	if status != fiber.StatusNotFound {
		t.Fatalf("Expected 404 before any job, got %d: %s", status, body)
	}

	status, body = do(t, app, "POST", "/admin/groups/1/resync", models.ResyncStartRequest{Timespan: "1h"})
	if status != fiber.StatusAccepted {
		t.Fatalf("Expected status 202, got %d: %s", status, body)
	}
	var started models.ResyncStartResponse
	decode(t, body, &started)
	if started.GroupID != 1 || started.JobID == "" || started.Since == nil {
		t.Errorf("Unexpected start response %+v", started)
	}

	job, ok := primary.Resyncer().Job(1)
	if !ok {
		t.Fatal("Expected a job for group 1")
	}
	waitJob(t, job)

	status, body = do(t, app, "GET", "/admin/groups/1/resync", nil)
	if status != fiber.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", status, body)
	}
	var stats resync.Stats
	decode(t, body, &stats)
	if stats.JobID != started.JobID || stats.State != resync.StateSuccess.String() {
		t.Errorf("Unexpected stats %+v", stats)
	}

	status, body = do(t, app, "GET", "/admin/resync", nil)
	if status != fiber.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", status, body)
	}
	var all struct {
		Jobs  []resync.Stats `json:"jobs"`
		Count int            `json:"count"`
	}
	decode(t, body, &all)
	if all.Count != 1 {
		t.Errorf("Expected 1 job, got %d", all.Count)
	}
}

func TestHandler_StartResync_Errors(t *testing.T) {
	_, primary, secondary := testPair(t)
	ts := int64(1700000000)

	tests := []struct {
		name       string
		app        *fiber.App
		path       string
		body       interface{}
		wantStatus int
		wantCode   string
	}{
		{"unknown group", testApp(primary), "/admin/groups/9/resync", nil, fiber.StatusNotFound, "NOT_FOUND"},
		{"primary not local", testApp(secondary), "/admin/groups/1/resync", nil, fiber.StatusMisdirectedRequest, "NOT_PRIMARY"},
		{"restart without time", testApp(primary), "/admin/groups/1/resync", models.ResyncStartRequest{Restart: true}, fiber.StatusBadRequest, "INVALID_REQUEST"},
		{"timestamp and timespan", testApp(primary), "/admin/groups/1/resync", models.ResyncStartRequest{Timestamp: &ts, Timespan: "1h"}, fiber.StatusBadRequest, "INVALID_REQUEST"},
		{"bad timespan", testApp(primary), "/admin/groups/1/resync", models.ResyncStartRequest{Timespan: "soon"}, fiber.StatusBadRequest, "INVALID_REQUEST"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := do(t, tt.app, "POST", tt.path, tt.body)
			if status != tt.wantStatus {
				t.Fatalf("Expected status %d, got %d: %s", tt.wantStatus, status, body)
			}
			if code := errorCode(t, body); code != tt.wantCode {
				t.Errorf("Expected code %s, got %s", tt.wantCode, code)
			}
		})
	}
}

func TestHandler_AbortResync(t *testing.T) {
	_, primary, _ := testPair(t)
	app := testApp(primary)

	status, body := do(t, app, "DELETE", "/admin/groups/1/resync", nil)
	if status != fiber.StatusNotFound {
		t.Fatalf("Expected 404 without a job, got %d: %s", status, body)
	}

	status, body = do(t, app, "POST", "/admin/groups/1/resync", nil)
	if status != fiber.StatusAccepted {
		t.Fatalf("Expected status 202, got %d: %s", status, body)
	}

	status, body = do(t, app, "DELETE", "/admin/groups/1/resync?wait=true", nil)
	if status != fiber.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", status, body)
	}
	var stats resync.Stats
	decode(t, body, &stats)

	job, _ := primary.Resyncer().Job(1)
	if !job.State().Terminal() {
		t.Errorf("Job should have stopped after abort with wait, state %s", job.State())
	}
	if stats.State != job.State().String() {
		t.Errorf("Expected stats state %s, got %s", job.State(), stats.State)
	}
}
