package handlers

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/oryxsec/scanhub/internal/api/dto"
	"github.com/oryxsec/scanhub/internal/scans"
)

const healthProbeTimeout = 10 * time.Second

type HealthHandler struct {
	engines map[string]scans.Engine
}

func NewHealthHandler(engines map[string]scans.Engine) *HealthHandler {
	return &HealthHandler{engines: engines}
}

type HealthResponse struct {
	Status string            `json:"status"`
	Probes map[string]string `json:"probes"`
}

// Check handles GET /health. All probes are pinged concurrently; a single
// unreachable probe degrades the whole service to 503.
func (h *HealthHandler) Check(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthProbeTimeout)
	defer cancel()

	var mu sync.Mutex
	probes := make(map[string]string, len(h.engines))

	var wg sync.WaitGroup
	for name, engine := range h.engines {
		wg.Add(1)
		go func(name string, engine scans.Engine) {
			defer wg.Done()
			state := "connected"
			if err := engine.Ping(ctx); err != nil {
				state = "error: " + err.Error()
			}
			mu.Lock()
			probes[name] = state
			mu.Unlock()
		}(name, engine)
	}
	wg.Wait()

	healthy := true
	for _, state := range probes {
		if state != "connected" {
			healthy = false
			break
		}
	}

	if !healthy {
		writeJSON(w, http.StatusServiceUnavailable, dto.DetailResponse{
			Detail: HealthResponse{Status: "degraded", Probes: probes},
		})
		return
	}

	writeJSON(w, http.StatusOK, HealthResponse{Status: "healthy", Probes: probes})
}
