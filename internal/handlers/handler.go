package handlers

import (
	"fmt"
	"strconv"

	"github.com/gofiber/fiber/v2"

	"github.com/ThinkParQ/beegfs-sub011/internal/logging"
	"github.com/ThinkParQ/beegfs-sub011/internal/models"
	"github.com/ThinkParQ/beegfs-sub011/internal/server"
)

// Handler contains all admin HTTP handlers
type Handler struct {
	logger  *logging.Logger
	node    *server.Node
	version string
}

// New creates a new handler instance
func New(logger *logging.Logger, node *server.Node, version string) *Handler {
	if version == "" {
		version = "dev"
	}
	return &Handler{
		logger:  logger,
		node:    node,
		version: version,
	}
}

func errorJSON(c *fiber.Ctx, status int, code, message string) error {
	return c.Status(status).JSON(models.ErrorResponse{
		Error: models.ErrorDetail{
			Code:    code,
			Message: message,
			Path:    c.Path(),
		},
	})
}

// idParam parses a uint16 route parameter; 0 is not a valid id
func idParam(c *fiber.Ctx, name string) (uint16, error) {
	v, err := strconv.ParseUint(c.Params(name), 10, 16)
	if err != nil || v == 0 {
		return 0, fmt.Errorf("%s must be an integer between 1 and 65535", name)
	}
	return uint16(v), nil
}
