package handlers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
)

// HealthCheck pings one dependency.
type HealthCheck func(ctx context.Context) error

// Gauges reports live counters shown on /health.
type Gauges interface {
	Active() int
}

type HealthHandler struct {
	checks      map[string]HealthCheck
	sessions    Gauges
	connections func() int
}

func NewHealthHandler(checks map[string]HealthCheck, sessions Gauges, connections func() int) *HealthHandler {
	return &HealthHandler{checks: checks, sessions: sessions, connections: connections}
}

// Health answers 200 when every check passes and 503 otherwise.
func (h *HealthHandler) Health(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
	defer cancel()

	status := fiber.StatusOK
	results := make(fiber.Map, len(h.checks))
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			results[name] = err.Error()
			status = fiber.StatusServiceUnavailable
			continue
		}
		results[name] = "ok"
	}

	body := fiber.Map{
		"status": "ok",
		"checks": results,
	}
	if status != fiber.StatusOK {
		body["status"] = "degraded"
	}
	if h.sessions != nil {
		body["sessions"] = h.sessions.Active()
	}
	if h.connections != nil {
		body["connections"] = h.connections()
	}
	return c.Status(status).JSON(body)
}
