package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/laserpointoman-commits/talebEdu-sub002/internal/httpx"
)

const accessCookie = "access_token"

// Claims are issued by the school identity service. Only the user id is
// needed here; the role is kept for logging.
type Claims struct {
	UserID uint   `json:"user_id"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

// AuthRequired validates an HS256 access token from the Authorization
// header, the access cookie or, for websocket upgrades only, the
// access_token query parameter.
func AuthRequired(secret string) fiber.Handler {
	key := []byte(secret)
	return func(c *fiber.Ctx) error {
		tokenString, ok := accessToken(c)
		if !ok {
			return httpx.Unauthorized(c, "invalid_authorization", "Invalid authorization format")
		}
		if tokenString == "" {
			return httpx.Unauthorized(c, "missing_access_token", "Missing access token")
		}

		token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
			if token.Method == nil || token.Method.Alg() != jwt.SigningMethodHS256.Alg() {
				return nil, jwt.ErrTokenSignatureInvalid
			}
			return key, nil
		})
		if err != nil || !token.Valid {
			return httpx.Unauthorized(c, "invalid_access_token", "Invalid or expired token")
		}

		claims, ok := token.Claims.(*Claims)
		if !ok || claims.UserID == 0 {
			return httpx.Unauthorized(c, "invalid_access_token", "Invalid token")
		}

		c.Locals(httpx.UserIDKey, claims.UserID)
		c.Locals("role", claims.Role)
		return c.Next()
	}
}

func accessToken(c *fiber.Ctx) (string, bool) {
	if authHeader := c.Get(fiber.HeaderAuthorization); authHeader != "" {
		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			return "", false
		}
		return parts[1], true
	}
	if cookie := c.Cookies(accessCookie); cookie != "" {
		return cookie, true
	}
	if strings.EqualFold(c.Get(fiber.HeaderUpgrade), "websocket") {
		return c.Query(accessCookie), true
	}
	return "", true
}
