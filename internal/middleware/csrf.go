package middleware

import (
	"crypto/subtle"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/laserpointoman-commits/talebEdu-sub002/internal/httpx"
)

const (
	csrfCookie = "csrf_token"
	csrfHeader = "X-CSRF-Token"
)

// CSRFRequired protects cookie-authenticated browser writes.
// Modes:
// - token: X-CSRF-Token must match the csrf_token cookie
// - origin: only the Origin allow-list is enforced
// - off: no checks
func CSRFRequired(mode string, allowed []string) fiber.Handler {
	mode = strings.ToLower(strings.TrimSpace(mode))
	if mode == "" {
		mode = "token"
	}

	return func(c *fiber.Ctx) error {
		if mode == "off" {
			return c.Next()
		}

		switch c.Method() {
		case fiber.MethodGet, fiber.MethodHead, fiber.MethodOptions:
			return c.Next()
		}

		// Bearer clients cannot be driven by a foreign page.
		if strings.HasPrefix(c.Get(fiber.HeaderAuthorization), "Bearer ") {
			return c.Next()
		}

		origin := strings.TrimSpace(c.Get(fiber.HeaderOrigin))
		if origin == "" {
			return c.Next()
		}
		if len(allowed) > 0 && !originAllowed(origin, allowed) {
			return httpx.Forbidden(c, "forbidden_origin", "Origin not allowed")
		}
		if mode == "origin" {
			return c.Next()
		}

		cookie := c.Cookies(csrfCookie)
		header := c.Get(csrfHeader)
		if cookie == "" || header == "" {
			return httpx.Forbidden(c, "csrf_required", "Missing CSRF token")
		}
		if subtle.ConstantTimeCompare([]byte(cookie), []byte(header)) != 1 {
			return httpx.Forbidden(c, "csrf_invalid", "Invalid CSRF token")
		}
		return c.Next()
	}
}
