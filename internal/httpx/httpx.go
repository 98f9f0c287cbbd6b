package httpx

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/laserpointoman-commits/talebEdu-sub002/internal/chatsync"
	"github.com/laserpointoman-commits/talebEdu-sub002/internal/validation"
)

// UserIDKey is the fiber local holding the authenticated user id.
const UserIDKey = "userID"

type ErrorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

func requestID(c *fiber.Ctx) string {
	if v := c.Locals("requestid"); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func Error(c *fiber.Ctx, status int, code string, message string) error {
	if message == "" {
		message = "Request failed"
	}
	return c.Status(status).JSON(ErrorResponse{
		Error:     message,
		Code:      code,
		RequestID: requestID(c),
	})
}

func BadRequest(c *fiber.Ctx, code string, message string) error {
	return Error(c, fiber.StatusBadRequest, code, message)
}

func Unauthorized(c *fiber.Ctx, code string, message string) error {
	return Error(c, fiber.StatusUnauthorized, code, message)
}

func Forbidden(c *fiber.Ctx, code string, message string) error {
	return Error(c, fiber.StatusForbidden, code, message)
}

func NotFound(c *fiber.Ctx, code string, message string) error {
	return Error(c, fiber.StatusNotFound, code, message)
}

func Internal(c *fiber.Ctx, code string) error {
	return Error(c, fiber.StatusInternalServerError, code, "Internal server error")
}

// FromError answers with the status that matches a sync or validation error.
// Anything unrecognised is a 500 under fallbackCode.
func FromError(c *fiber.Ctx, err error, fallbackCode string) error {
	switch {
	case errors.Is(err, chatsync.ErrEmptyMessage):
		return BadRequest(c, "empty_message", err.Error())
	case errors.Is(err, chatsync.ErrInvalidRecipient):
		return BadRequest(c, "invalid_recipient", err.Error())
	case errors.Is(err, chatsync.ErrEmptyEmoji), errors.Is(err, validation.ErrInvalidEmoji):
		return BadRequest(c, "invalid_emoji", err.Error())
	case errors.Is(err, validation.ErrContentTooLong),
		errors.Is(err, validation.ErrInvalidFileName),
		errors.Is(err, validation.ErrTooManyFiles):
		return BadRequest(c, "invalid_message", err.Error())
	case errors.Is(err, validation.ErrFileTooLarge):
		return Error(c, fiber.StatusRequestEntityTooLarge, "attachment_too_large", err.Error())
	case errors.Is(err, chatsync.ErrNotMember), errors.Is(err, chatsync.ErrNotAuthor):
		return Forbidden(c, "forbidden", err.Error())
	case errors.Is(err, chatsync.ErrMessageNotFound):
		return NotFound(c, "message_not_found", err.Error())
	case errors.Is(err, chatsync.ErrStorageMissing):
		return Error(c, fiber.StatusServiceUnavailable, "storage_unavailable", err.Error())
	case errors.Is(err, chatsync.ErrPartialUpload):
		return Error(c, fiber.StatusMultiStatus, "partial_upload", err.Error())
	case errors.Is(err, chatsync.ErrSessionClosed), errors.Is(err, chatsync.ErrRouterStopped):
		return Error(c, fiber.StatusServiceUnavailable, "session_closed", err.Error())
	default:
		return Internal(c, fallbackCode)
	}
}

func LocalUint(c *fiber.Ctx, key string) (uint, error) {
	v := c.Locals(key)
	if v == nil {
		return 0, fmt.Errorf("missing local %s", key)
	}
	u, ok := v.(uint)
	if !ok {
		return 0, fmt.Errorf("invalid local %s", key)
	}
	return u, nil
}

// ParamUint parses a positive id from the route parameter name.
func ParamUint(c *fiber.Ctx, name string) (uint, error) {
	n, err := strconv.ParseUint(c.Params(name), 10, 32)
	if err != nil || n == 0 {
		return 0, fmt.Errorf("invalid %s", name)
	}
	return uint(n), nil
}
