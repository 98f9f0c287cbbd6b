package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/laserpointoman-commits/talebEdu-sub002/internal/httpx"
)

const testSecret = "test-secret"

func signed(t *testing.T, method jwt.SigningMethod, key interface{}, claims Claims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(method, claims).SignedString(key)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func validClaims(userID uint) Claims {
	return Claims{
		UserID: userID,
		Role:   "parent",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
}

func authApp() *fiber.App {
	app := fiber.New()
	app.Get("/me", AuthRequired(testSecret), func(c *fiber.Ctx) error {
		uid, err := httpx.LocalUint(c, httpx.UserIDKey)
		if err != nil {
			return err
		}
		return c.JSON(fiber.Map{"id": uid})
	})
	return app
}

func TestAuthRequired(t *testing.T) {
	good := signed(t, jwt.SigningMethodHS256, []byte(testSecret), validClaims(7))
	expiredClaims := validClaims(7)
	expiredClaims.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Minute))
	expired := signed(t, jwt.SigningMethodHS256, []byte(testSecret), expiredClaims)
	wrongKey := signed(t, jwt.SigningMethodHS256, []byte("other"), validClaims(7))
	wrongAlg := signed(t, jwt.SigningMethodHS512, []byte(testSecret), validClaims(7))
	noUser := signed(t, jwt.SigningMethodHS256, []byte(testSecret), validClaims(0))

	tests := []struct {
		name   string
		setup  func(r *httptestRequest)
		status int
	}{
		{"Bearer header", func(r *httptestRequest) { r.header("Authorization", "Bearer "+good) }, fiber.StatusOK},
		{"Cookie", func(r *httptestRequest) { r.header("Cookie", accessCookie+"="+good) }, fiber.StatusOK},
		{"Query on websocket upgrade", func(r *httptestRequest) {
			r.header("Upgrade", "websocket")
			r.query = "?access_token=" + good
		}, fiber.StatusOK},
		{"Query without upgrade", func(r *httptestRequest) { r.query = "?access_token=" + good }, fiber.StatusUnauthorized},
		{"Missing", func(r *httptestRequest) {}, fiber.StatusUnauthorized},
		{"Malformed header", func(r *httptestRequest) { r.header("Authorization", "Token "+good) }, fiber.StatusUnauthorized},
		{"Expired", func(r *httptestRequest) { r.header("Authorization", "Bearer "+expired) }, fiber.StatusUnauthorized},
		{"Wrong key", func(r *httptestRequest) { r.header("Authorization", "Bearer "+wrongKey) }, fiber.StatusUnauthorized},
		{"Wrong algorithm", func(r *httptestRequest) { r.header("Authorization", "Bearer "+wrongAlg) }, fiber.StatusUnauthorized},
		{"No user id", func(r *httptestRequest) { r.header("Authorization", "Bearer "+noUser) }, fiber.StatusUnauthorized},
	}

	app := authApp()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &httptestRequest{method: "GET", path: "/me", headers: map[string]string{}}
			tt.setup(r)
			resp, err := app.Test(r.build())
			if err != nil {
				t.Fatal(err)
			}
			if resp.StatusCode != tt.status {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.status)
			}
		})
	}
}

func TestCSRFRequired(t *testing.T) {
	allowed := []string{"https://school.example"}
	tests := []struct {
		name    string
		mode    string
		method  string
		headers map[string]string
		status  int
	}{
		{"Safe method", "token", "GET", map[string]string{"Origin": "https://evil.example"}, fiber.StatusOK},
		{"No origin", "token", "POST", nil, fiber.StatusOK},
		{"Bearer client", "token", "POST", map[string]string{"Origin": "https://evil.example", "Authorization": "Bearer x"}, fiber.StatusOK},
		{"Foreign origin", "token", "POST", map[string]string{"Origin": "https://evil.example"}, fiber.StatusForbidden},
		{"Missing token", "token", "POST", map[string]string{"Origin": "https://school.example"}, fiber.StatusForbidden},
		{"Mismatched token", "token", "POST", map[string]string{
			"Origin": "https://school.example", "Cookie": csrfCookie + "=abc", csrfHeader: "abd",
		}, fiber.StatusForbidden},
		{"Matching token", "token", "POST", map[string]string{
			"Origin": "https://school.example", "Cookie": csrfCookie + "=abc", csrfHeader: "abc",
		}, fiber.StatusOK},
		{"Origin mode", "origin", "DELETE", map[string]string{"Origin": "https://school.example"}, fiber.StatusOK},
		{"Off", "off", "POST", map[string]string{"Origin": "https://evil.example"}, fiber.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := fiber.New()
			app.All("/x", CSRFRequired(tt.mode, allowed), func(c *fiber.Ctx) error {
				return c.SendStatus(fiber.StatusOK)
			})
			r := &httptestRequest{method: tt.method, path: "/x", headers: tt.headers}
			resp, err := app.Test(r.build())
			if err != nil {
				t.Fatal(err)
			}
			if resp.StatusCode != tt.status {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.status)
			}
		})
	}
}

func TestOriginAllowed(t *testing.T) {
	tests := []struct {
		allowed []string
		origin  string
		status  int
	}{
		{nil, "https://any.example", fiber.StatusOK},
		{[]string{"https://school.example"}, "", fiber.StatusOK},
		{[]string{"https://school.example"}, "https://SCHOOL.example", fiber.StatusOK},
		{[]string{"https://school.example"}, "https://evil.example", fiber.StatusForbidden},
		{[]string{"*"}, "https://evil.example", fiber.StatusOK},
	}
	for _, tt := range tests {
		app := fiber.New()
		app.Get("/", OriginAllowed(tt.allowed), func(c *fiber.Ctx) error {
			return c.SendStatus(fiber.StatusOK)
		})
		r := &httptestRequest{method: "GET", path: "/", headers: map[string]string{}}
		if tt.origin != "" {
			r.header("Origin", tt.origin)
		}
		resp, err := app.Test(r.build())
		if err != nil {
			t.Fatal(err)
		}
		if resp.StatusCode != tt.status {
			t.Errorf("allowed=%v origin=%q status = %d, want %d", tt.allowed, tt.origin, resp.StatusCode, tt.status)
		}
	}
}

type httptestRequest struct {
	method  string
	path    string
	query   string
	headers map[string]string
}

func (r *httptestRequest) header(k, v string) {
	r.headers[k] = v
}

func (r *httptestRequest) build() *http.Request {
	req := httptest.NewRequest(r.method, r.path+r.query, nil)
	for k, v := range r.headers {
		req.Header.Set(k, v)
	}
	return req
}
