package httpx

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/laserpointoman-commits/talebEdu-sub002/internal/chatsync"
	"github.com/laserpointoman-commits/talebEdu-sub002/internal/validation"
)

func TestFromError(t *testing.T) {
	tests := []struct {
		err        error
		wantStatus int
		wantCode   string
	}{
		{chatsync.ErrEmptyMessage, fiber.StatusBadRequest, "empty_message"},
		{fmt.Errorf("send: %w", chatsync.ErrInvalidRecipient), fiber.StatusBadRequest, "invalid_recipient"},
		{validation.ErrInvalidEmoji, fiber.StatusBadRequest, "invalid_emoji"},
		{validation.ErrTooManyFiles, fiber.StatusBadRequest, "invalid_message"},
		{validation.ErrFileTooLarge, fiber.StatusRequestEntityTooLarge, "attachment_too_large"},
		{chatsync.ErrNotMember, fiber.StatusForbidden, "forbidden"},
		{chatsync.ErrNotAuthor, fiber.StatusForbidden, "forbidden"},
		{chatsync.ErrMessageNotFound, fiber.StatusNotFound, "message_not_found"},
		{chatsync.ErrStorageMissing, fiber.StatusServiceUnavailable, "storage_unavailable"},
		{chatsync.ErrPartialUpload, fiber.StatusMultiStatus, "partial_upload"},
		{errors.New("db down"), fiber.StatusInternalServerError, "fallback"},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			app := fiber.New()
			app.Get("/", func(c *fiber.Ctx) error {
				c.Locals("requestid", "req-1")
				return FromError(c, tt.err, "fallback")
			})
			resp, err := app.Test(httptest.NewRequest("GET", "/", nil))
			if err != nil {
				t.Fatal(err)
			}
			if resp.StatusCode != tt.wantStatus {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.wantStatus)
			}
			body, _ := io.ReadAll(resp.Body)
			var got ErrorResponse
			if err := json.Unmarshal(body, &got); err != nil {
				t.Fatal(err)
			}
			if got.Code != tt.wantCode || got.RequestID != "req-1" {
				t.Errorf("body = %+v", got)
			}
		})
	}
}

func TestParamUint(t *testing.T) {
	tests := []struct {
		path string
		want uint
		ok   bool
	}{
		{"/items/42", 42, true},
		{"/items/0", 0, false},
		{"/items/-1", 0, false},
		{"/items/abc", 0, false},
	}
	for _, tt := range tests {
		app := fiber.New()
		var got uint
		var gotErr error
		app.Get("/items/:id", func(c *fiber.Ctx) error {
			got, gotErr = ParamUint(c, "id")
			return nil
		})
		if _, err := app.Test(httptest.NewRequest("GET", tt.path, nil)); err != nil {
			t.Fatal(err)
		}
		if (gotErr == nil) != tt.ok || got != tt.want {
			t.Errorf("ParamUint(%s) = %d, %v", tt.path, got, gotErr)
		}
	}
}
