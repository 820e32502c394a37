package handlers

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/ThinkParQ/beegfs-sub011/internal/models"
	"github.com/ThinkParQ/beegfs-sub011/internal/nodes"
	"github.com/ThinkParQ/beegfs-sub011/internal/resync"
)

// resyncError maps resync errors to HTTP responses
func resyncError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, nodes.ErrUnknownGroup), errors.Is(err, resync.ErrNoJob):
		return errorJSON(c, fiber.StatusNotFound, "NOT_FOUND", err.Error())
	case errors.Is(err, resync.ErrJobRunning):
		return errorJSON(c, fiber.StatusConflict, "CONFLICT", err.Error())
	case errors.Is(err, resync.ErrNotPrimary):
		return errorJSON(c, fiber.StatusMisdirectedRequest, "NOT_PRIMARY", err.Error())
	case errors.Is(err, resync.ErrRestartNeedsTimestamp):
		return errorJSON(c, fiber.StatusBadRequest, "INVALID_REQUEST", err.Error())
	case errors.Is(err, resync.ErrAbortTimeout):
		return errorJSON(c, fiber.StatusGatewayTimeout, "TIMEOUT", err.Error())
	}
	return errorJSON(c, fiber.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
}

// StartResync starts a buddy resync of the group. The group's primary
// must be served by this node.
func (h *Handler) StartResync(c *fiber.Ctx) error {
	groupID, err := idParam(c, "group_id")
	if err != nil {
		return errorJSON(c, fiber.StatusBadRequest, "INVALID_REQUEST", err.Error())
	}

	var req models.ResyncStartRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return errorJSON(c, fiber.StatusBadRequest, "INVALID_REQUEST", "Invalid request body: "+err.Error())
		}
	}
	since, err := req.Since(time.Now())
	if err != nil {
		return errorJSON(c, fiber.StatusBadRequest, "INVALID_REQUEST", err.Error())
	}

	job, err := h.node.Resyncer().StartResync(c.UserContext(), groupID, resync.Options{
		Since:   since,
		Restart: req.Restart,
	})
	if err != nil {
		h.logger.Warn("Resync not started", "group", groupID, "error", err)
		return resyncError(c, err)
	}

	resp := models.ResyncStartResponse{
		GroupID: groupID,
		JobID:   job.ID(),
		State:   job.State().String(),
	}
	if !since.IsZero() {
		resp.Since = &since
	}
	h.logger.Info("Resync started by administrator", "group", groupID, "job", job.ID(), "since", since)
	return c.Status(fiber.StatusAccepted).JSON(resp)
}

// AbortResync stops the group's running job. With ?wait=true the call
// returns once the job has stopped.
func (h *Handler) AbortResync(c *fiber.Ctx) error {
	groupID, err := idParam(c, "group_id")
	if err != nil {
		return errorJSON(c, fiber.StatusBadRequest, "INVALID_REQUEST", err.Error())
	}
	wait := c.QueryBool("wait", false)

	if err := h.node.Resyncer().AbortResync(groupID, wait); err != nil {
		return resyncError(c, err)
	}
	stats, err := h.node.Resyncer().Stats(groupID)
	if err != nil {
		return resyncError(c, err)
	}
	return c.JSON(stats)
}

// GetResyncStats returns the statistics of the group's current or last job
func (h *Handler) GetResyncStats(c *fiber.Ctx) error {
	groupID, err := idParam(c, "group_id")
	if err != nil {
		return errorJSON(c, fiber.StatusBadRequest, "INVALID_REQUEST", err.Error())
	}
	stats, err := h.node.Resyncer().Stats(groupID)
	if err != nil {
		return resyncError(c, err)
	}
	return c.JSON(stats)
}

// ListResyncStats returns the statistics of every job known to this node
func (h *Handler) ListResyncStats(c *fiber.Ctx) error {
	all := h.node.Resyncer().AllStats()
	return c.JSON(fiber.Map{
		"jobs":  all,
		"count": len(all),
	})
}
