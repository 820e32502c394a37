package middleware

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/ThinkParQ/beegfs-sub011/internal/logging"
	"github.com/ThinkParQ/beegfs-sub011/internal/models"
)

// statusCode turns an HTTP status into the upper-case code used in error
// bodies, e.g. 404 -> NOT_FOUND
func statusCode(status int) string {
	msg := fiber.ErrInternalServerError.Message
	if m := fiber.NewError(status).Message; m != "" {
		msg = m
	}
	msg = strings.NewReplacer(" ", "_", "-", "_", "'", "").Replace(msg)
	return strings.ToUpper(msg)
}

// ErrorHandler renders errors that escaped the admin handlers. Internal
// error text is logged but not returned to the caller.
func ErrorHandler(logger *logging.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		status := fiber.StatusInternalServerError
		message := fiber.ErrInternalServerError.Message

		var fe *fiber.Error
		if errors.As(err, &fe) {
			status = fe.Code
			message = fe.Message
		}

		fields := []interface{}{"path", c.Path(), "method", c.Method(), "status", status, "error", err}
		if status >= fiber.StatusInternalServerError {
			logger.Error("Request error", fields...)
		} else {
			logger.Warn("Request error", fields...)
		}

		return c.Status(status).JSON(models.ErrorResponse{
			Error: models.ErrorDetail{
				Code:    statusCode(status),
				Message: message,
				Path:    c.Path(),
			},
		})
	}
}
