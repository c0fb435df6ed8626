package middleware

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/backoffice/internal/apperrors"
	"github.com/congo-pay/backoffice/internal/validator"
)

// ErrorHandler renders errors as JSON. Business rejections keep their message;
// anything else is logged in full and reported as a generic internal error.
func ErrorHandler(logger *slog.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		body := fiber.Map{}
		if id := RequestIDFrom(c); id != "" {
			body["request_id"] = id
		}

		var fe *fiber.Error
		if errors.As(err, &fe) {
			body["error"] = fe.Message
			return c.Status(fe.Code).JSON(body)
		}

		status := apperrors.StatusCode(err)
		if status == http.StatusInternalServerError {
			logger.Error("unhandled error",
				slog.String("method", c.Method()),
				slog.String("path", c.Path()),
				slog.String("request_id", RequestIDFrom(c)),
				slog.Any("error", err),
			)
			body["error"] = "internal error"
			return c.Status(status).JSON(body)
		}

		body["error"] = err.Error()
		var ferrs *validator.FieldErrors
		if errors.As(err, &ferrs) {
			body["fields"] = ferrs.Fields
		}
		var lerr *apperrors.LimitExceededError
		if errors.As(err, &lerr) {
			body["period"] = lerr.Period
			body["remaining"] = lerr.Remaining
		}
		var serr *apperrors.StateError
		if errors.As(err, &serr) {
			body["status"] = serr.Status
		}
		return c.Status(status).JSON(body)
	}
}
