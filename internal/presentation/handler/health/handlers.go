package health

import (
	"context"
	"net/http"
	"time"

	"github.com/hilthontt/roomsync/internal/infrastructure/json"
)

// Check probes one backing service. A nil error means healthy.
type Check func(ctx context.Context) error

type Handler struct {
	startTime time.Time
	checks    map[string]Check
}

func NewHandler(checks map[string]Check) *Handler {
	return &Handler{
		startTime: time.Now(),
		checks:    checks,
	}
}

// GetLive answers as long as the process serves HTTP.
func (h *Handler) GetLive(w http.ResponseWriter, r *http.Request) {
	json.Write(w, http.StatusOK, healthResponse{
		Status:    "ok",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Uptime:    time.Since(h.startTime).Round(time.Second).String(),
	})
}

// GetHealth runs every registered check and answers 503 if any fails.
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	resp := healthResponse{
		Status:    "ok",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Uptime:    time.Since(h.startTime).Round(time.Second).String(),
	}
	status := http.StatusOK

	if len(h.checks) > 0 {
		resp.Checks = make(map[string]string, len(h.checks))
		for name, check := range h.checks {
			if err := check(ctx); err != nil {
				resp.Checks[name] = err.Error()
				resp.Status = "unhealthy"
				status = http.StatusServiceUnavailable
				continue
			}
			resp.Checks[name] = "ok"
		}
	}

	json.Write(w, status, resp)
}
