package handlers

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/ThinkParQ/beegfs-sub011/internal/models"
	"github.com/ThinkParQ/beegfs-sub011/internal/nodes"
	"github.com/ThinkParQ/beegfs-sub011/internal/utils"
)

func (h *Handler) groupResponse(g nodes.MirrorGroup) models.GroupResponse {
	resp := models.GroupResponse{ID: g.ID, Primary: g.Primary, Secondary: g.Secondary}
	if job, ok := h.node.Resyncer().Job(g.ID); ok && !job.State().Terminal() {
		resp.Resyncing = true
	}
	return resp
}

// refreshTopology pulls the coordinator view after an administrative change
func (h *Handler) refreshTopology(ctx context.Context) {
	if err := h.node.Syncer().SyncOnce(ctx); err != nil {
		h.logger.Warn("Topology refresh after admin change failed", "error", err)
	}
}

// ListGroups returns all mirror groups
func (h *Handler) ListGroups(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), utils.DefaultRequestTimeout)
	defer cancel()

	groups, err := h.node.Metadata().ListGroups(ctx)
	if err != nil {
		return errorJSON(c, fiber.StatusInternalServerError, "INTERNAL_ERROR", "Failed to list groups: "+err.Error())
	}

	out := make([]models.GroupResponse, 0, len(groups))
	for _, g := range groups {
		out = append(out, h.groupResponse(g))
	}
	return c.JSON(models.GroupListResponse{Groups: out, Count: len(out)})
}

// GetGroup returns a single mirror group
func (h *Handler) GetGroup(c *fiber.Ctx) error {
	groupID, err := idParam(c, "group_id")
	if err != nil {
		return errorJSON(c, fiber.StatusBadRequest, "INVALID_REQUEST", err.Error())
	}

	ctx, cancel := context.WithTimeout(c.UserContext(), utils.DefaultRequestTimeout)
	defer cancel()

	g, err := h.node.Metadata().GetGroup(ctx, groupID)
	if errors.Is(err, nodes.ErrUnknownGroup) {
		return errorJSON(c, fiber.StatusNotFound, "NOT_FOUND", "Group not found")
	}
	if err != nil {
		return errorJSON(c, fiber.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
	}
	return c.JSON(h.groupResponse(g))
}

// CreateGroup defines a mirror group in the coordinator
func (h *Handler) CreateGroup(c *fiber.Ctx) error {
	var req models.CreateGroupRequest
	if err := c.BodyParser(&req); err != nil {
		return errorJSON(c, fiber.StatusBadRequest, "INVALID_REQUEST", "Invalid request body: "+err.Error())
	}
	if req.ID == 0 || req.Primary == 0 || req.Secondary == 0 {
		return errorJSON(c, fiber.StatusBadRequest, "INVALID_REQUEST", "id, primary and secondary are required")
	}

	ctx, cancel := context.WithTimeout(c.UserContext(), utils.DefaultRequestTimeout)
	defer cancel()

	g := nodes.MirrorGroup{ID: req.ID, Primary: req.Primary, Secondary: req.Secondary}
	if err := h.node.Metadata().PutGroup(ctx, g); err != nil {
		if errors.Is(err, nodes.ErrTargetInGroup) {
			return errorJSON(c, fiber.StatusConflict, "CONFLICT", err.Error())
		}
		return errorJSON(c, fiber.StatusBadRequest, "INVALID_REQUEST", err.Error())
	}
	h.refreshTopology(ctx)

	h.logger.Info("Mirror group created", "group", g.ID, "primary", g.Primary, "secondary", g.Secondary)
	return c.Status(fiber.StatusCreated).JSON(h.groupResponse(g))
}

// DeleteGroup removes a mirror group
func (h *Handler) DeleteGroup(c *fiber.Ctx) error {
	groupID, err := idParam(c, "group_id")
	if err != nil {
		return errorJSON(c, fiber.StatusBadRequest, "INVALID_REQUEST", err.Error())
	}
	if job, ok := h.node.Resyncer().Job(groupID); ok && !job.State().Terminal() {
		return errorJSON(c, fiber.StatusConflict, "CONFLICT", "A resync job is running for the group")
	}

	ctx, cancel := context.WithTimeout(c.UserContext(), utils.DefaultRequestTimeout)
	defer cancel()

	if err := h.node.Metadata().DeleteGroup(ctx, groupID); err != nil {
		return errorJSON(c, fiber.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
	}
	h.refreshTopology(ctx)

	h.logger.Info("Mirror group deleted", "group", groupID)
	return c.SendStatus(fiber.StatusNoContent)
}

// SwapGroup exchanges primary and secondary of a mirror group
func (h *Handler) SwapGroup(c *fiber.Ctx) error {
	groupID, err := idParam(c, "group_id")
	if err != nil {
		return errorJSON(c, fiber.StatusBadRequest, "INVALID_REQUEST", err.Error())
	}
	if job, ok := h.node.Resyncer().Job(groupID); ok && !job.State().Terminal() {
		return errorJSON(c, fiber.StatusConflict, "CONFLICT", "A resync job is running for the group")
	}

	ctx, cancel := context.WithTimeout(c.UserContext(), utils.DefaultRequestTimeout)
	defer cancel()

	g, err := h.node.Metadata().SwapGroup(ctx, groupID)
	if errors.Is(err, nodes.ErrUnknownGroup) {
		return errorJSON(c, fiber.StatusNotFound, "NOT_FOUND", "Group not found")
	}
	if err != nil {
		return errorJSON(c, fiber.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
	}
	h.refreshTopology(ctx)

	h.logger.Info("Mirror group swapped", "group", g.ID, "primary", g.Primary, "secondary", g.Secondary)
	return c.JSON(h.groupResponse(g))
}
