// health_handler.go -- GET /health.
package auth

import (
	"context"
	"net/http"
)

// CheckHealth reports "ok" or "error" for Postgres and Redis.
// Any failing dependency turns the status into 503.
func (h *AuthHandler) CheckHealth(w http.ResponseWriter, r *http.Request) {
	deps := []struct {
		name  string
		check func(context.Context) error
	}{
		{"postgres", h.Accounts.CheckHealth},
		{"redis", h.Tickets.CheckHealth},
	}

	status := http.StatusOK
	report := make(map[string]string, len(deps))
	for _, d := range deps {
		report[d.name] = "ok"
		if err := d.check(r.Context()); err != nil {
			logError(r, "health check failed", "dependency", d.name, "error", err)
			report[d.name] = "error"
			status = http.StatusServiceUnavailable
		}
	}
	writeJSON(w, status, report)
}
