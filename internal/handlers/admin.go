package handlers

import (
	"context"

	"github.com/gofiber/fiber/v2"

	"github.com/ThinkParQ/beegfs-sub011/internal/models"
	"github.com/ThinkParQ/beegfs-sub011/internal/nodes"
	"github.com/ThinkParQ/beegfs-sub011/internal/utils"
)

// NodeStatus describes the local server
func (h *Handler) NodeStatus(c *fiber.Ctx) error {
	resp := models.NodeStatusResponse{
		NodeID:      h.node.ID(),
		Address:     h.node.Addr(),
		Targets:     h.node.TargetIDs(),
		Paused:      h.node.Paused(),
		Connections: h.node.Connections(),
	}
	last, err := h.node.Syncer().LastSync()
	if !last.IsZero() {
		resp.LastSync = &last
	}
	if err != nil {
		resp.LastSyncError = err.Error()
	}
	return c.JSON(resp)
}

// ListTargetStates returns the combined state of every known target
func (h *Handler) ListTargetStates(c *fiber.Ctx) error {
	topo := h.node.Topology()
	local := make(map[uint16]bool)
	for _, id := range h.node.TargetIDs() {
		local[id] = true
	}

	snapshot := topo.States.Snapshot()
	targets := make([]models.TargetStateResponse, 0, len(snapshot))
	for _, id := range topo.States.IDs() {
		st, ok := snapshot[id]
		if !ok {
			continue
		}
		nodeID, _ := topo.Targets.NodeOf(id)
		targets = append(targets, models.TargetStateResponse{
			TargetID:     id,
			NodeID:       nodeID,
			Reachability: st.Reachability.String(),
			Consistency:  st.Consistency.String(),
			Local:        local[id],
		})
	}

	return c.JSON(models.TargetStateListResponse{
		Targets: targets,
		Count:   len(targets),
	})
}

// SetTargetConsistency overrides a target's consistency state in the
// coordinator and applies it locally
func (h *Handler) SetTargetConsistency(c *fiber.Ctx) error {
	targetID, err := idParam(c, "target_id")
	if err != nil {
		return errorJSON(c, fiber.StatusBadRequest, "INVALID_REQUEST", err.Error())
	}

	var req models.SetConsistencyRequest
	if err := c.BodyParser(&req); err != nil {
		return errorJSON(c, fiber.StatusBadRequest, "INVALID_REQUEST", "Invalid request body: "+err.Error())
	}
	state, err := nodes.ParseConsistency(req.State)
	if err != nil {
		return errorJSON(c, fiber.StatusBadRequest, "INVALID_REQUEST", err.Error())
	}

	ctx, cancel := context.WithTimeout(c.UserContext(), utils.DefaultRequestTimeout)
	defer cancel()

	if err := h.node.Metadata().SetConsistency(ctx, targetID, state); err != nil {
		h.logger.Error("Failed to store consistency state", "target", targetID, "error", err)
		return errorJSON(c, fiber.StatusInternalServerError, "INTERNAL_ERROR", "Failed to store state: "+err.Error())
	}
	h.node.Topology().States.SetConsistency(targetID, state)

	h.logger.Info("Consistency state set by administrator", "target", targetID, "state", state.String())
	return c.JSON(fiber.Map{
		"target_id":   targetID,
		"consistency": state.String(),
	})
}
