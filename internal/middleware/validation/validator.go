package validation

import (
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

const dateLayout = "2006-01-02"

type Config struct {
	AllowedContentTypes []string
	Logger              *zap.Logger
}

// Middleware rejects write requests whose body is not an allowed content
// type. Requests without a body are let through.
func Middleware(cfg Config) fiber.Handler {
	if len(cfg.AllowedContentTypes) == 0 {
		cfg.AllowedContentTypes = []string{"application/json"}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	return func(c *fiber.Ctx) error {
		if c.Method() != fiber.MethodPost && c.Method() != fiber.MethodPut {
			return c.Next()
		}

		contentType := c.Get(fiber.HeaderContentType)
		if contentType == "" || len(c.Body()) == 0 {
			return c.Next()
		}

		for _, allowed := range cfg.AllowedContentTypes {
			if strings.HasPrefix(contentType, allowed) {
				return c.Next()
			}
		}

		cfg.Logger.Warn("Rejected content type",
			zap.String("ip", c.IP()),
			zap.String("content_type", contentType),
		)
		return c.Status(fiber.StatusUnsupportedMediaType).JSON(fiber.Map{
			"error": "Unsupported content type",
		})
	}
}

// DateParam validates that route parameter name is a YYYY-MM-DD date.
func DateParam(name string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if !isValidDate(c.Params(name)) {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": name + " must be YYYY-MM-DD",
			})
		}
		return c.Next()
	}
}

func isValidDate(s string) bool {
	_, err := time.Parse(dateLayout, s)
	return err == nil
}
