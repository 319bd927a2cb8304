package handlers

import (
	"net/http"

	"github.com/oryxsec/scanhub/internal/api/dto"
	"github.com/oryxsec/scanhub/internal/database"
	"github.com/oryxsec/scanhub/pkg/config"
	"gorm.io/gorm"
)

type ProbeHandler struct {
	db     *gorm.DB
	probes []config.ProbeConfig
}

func NewProbeHandler(db *gorm.DB, probes []config.ProbeConfig) *ProbeHandler {
	return &ProbeHandler{db: db, probes: probes}
}

type ProbeResponse struct {
	Name        string `json:"name"`
	Host        string `json:"host"`
	Port        int    `json:"port"`
	ActiveScans int    `json:"active_scans"`
}

// List handles GET /probes. Active counts come from the scan table, so
// the endpoint stays cheap even with engines unreachable.
func (h *ProbeHandler) List(w http.ResponseWriter, r *http.Request) {
	active, err := database.CountActiveScansPerProbe(h.db)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, dto.ErrorResponse{Error: "failed to list probes"})
		return
	}

	resp := make([]ProbeResponse, len(h.probes))
	for i, p := range h.probes {
		resp[i] = ProbeResponse{
			Name:        p.Name,
			Host:        p.Host,
			Port:        p.Port,
			ActiveScans: active[p.Name],
		}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"probes": resp})
}
