// Package healthcheck serves the health of a service over HTTP.
package healthcheck

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

//go:generate mockgen -source handler.go -destination mock_handler.go -package healthcheck

// Checker reports whether a dependency is usable.
type Checker interface {
	HealthCheck(ctx context.Context) error
}

// Handler answers with 200 when every checker passes and 503 otherwise.
type Handler struct {
	checkers []Checker
	now      func() time.Time
}

// New creates a Handler over checkers.
func New(checkers ...Checker) *Handler {
	return &Handler{checkers: checkers, now: time.Now}
}

func (h *Handler) Handle(c echo.Context) error {
	status := Status{Healthy: true, PingTime: h.now().UTC().Format(time.RFC3339)}
	for _, checker := range h.checkers {
		if err := checker.HealthCheck(c.Request().Context()); err != nil {
			status.Healthy = false
			status.Error = err.Error()
			return c.JSON(http.StatusServiceUnavailable, status)
		}
	}
	return c.JSON(http.StatusOK, status)
}
