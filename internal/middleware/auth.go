package middleware

import (
	"crypto/sha256"
	"crypto/subtle"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/ThinkParQ/beegfs-sub011/internal/logging"
	"github.com/ThinkParQ/beegfs-sub011/internal/models"
)

// MinAPIKeyLength is the minimum required length for admin API keys
const MinAPIKeyLength = 32

// ValidateAPIKey checks if an API key meets the security requirements
func ValidateAPIKey(key string) bool {
	return len(key) >= MinAPIKeyLength && strings.TrimSpace(key) != ""
}

// keyRing compares presented keys against the configured ones in constant time
type keyRing [][sha256.Size]byte

func (r keyRing) contains(key string) bool {
	sum := sha256.Sum256([]byte(key))
	found := 0
	for i := range r {
		found |= subtle.ConstantTimeCompare(sum[:], r[i][:])
	}
	return found == 1
}

// presentedKey reads the key from X-API-Key, "Authorization: Bearer <key>"
// or a plain Authorization header
func presentedKey(c *fiber.Ctx) string {
	if key := c.Get("X-API-Key"); key != "" {
		return key
	}
	auth := c.Get("Authorization")
	if after, ok := strings.CutPrefix(auth, "Bearer "); ok {
		return after
	}
	return auth
}

func unauthorized(c *fiber.Ctx, message string) error {
	return c.Status(fiber.StatusUnauthorized).JSON(models.ErrorResponse{
		Error: models.ErrorDetail{
			Code:    "UNAUTHORIZED",
			Message: message,
			Path:    c.Path(),
		},
	})
}

// APIKeyAuth protects the admin API. Keys shorter than MinAPIKeyLength are
// ignored with a warning.
func APIKeyAuth(logger *logging.Logger, apiKeys []string, enabled bool) fiber.Handler {
	if !enabled {
		return func(c *fiber.Ctx) error {
			return c.Next()
		}
	}

	var ring keyRing
	for _, key := range apiKeys {
		if key == "" {
			continue
		}
		if !ValidateAPIKey(key) {
			logger.Warn("API key does not meet security requirements",
				"key_length", len(key),
				"min_required", MinAPIKeyLength,
				"key_prefix", maskAPIKey(key),
			)
			continue
		}
		ring = append(ring, sha256.Sum256([]byte(key)))
	}
	if len(ring) == 0 {
		logger.Error("Admin API authentication enabled without a valid key, all requests will be rejected",
			"total_keys", len(apiKeys),
			"min_required_length", MinAPIKeyLength,
		)
	}

	return func(c *fiber.Ctx) error {
		key := presentedKey(c)
		if key == "" {
			logger.Warn("API key missing", "path", c.Path(), "method", c.Method(), "ip", c.IP())
			return unauthorized(c, "API key is required. Provide it via X-API-Key header or Authorization header.")
		}
		if !ring.contains(key) {
			logger.Warn("Invalid API key",
				"path", c.Path(),
				"method", c.Method(),
				"ip", c.IP(),
				"api_key_prefix", maskAPIKey(key),
			)
			return unauthorized(c, "Invalid API key.")
		}
		return c.Next()
	}
}

// maskAPIKey shows only the first 4 chars
func maskAPIKey(key string) string {
	if len(key) <= 4 {
		return "****"
	}
	return key[:4] + "****"
}
