package handlers

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/oryxsec/scanhub/internal/api/dto"
	"github.com/oryxsec/scanhub/internal/database/models"
	"gorm.io/gorm"
)

type TargetHandler struct {
	db *gorm.DB
}

func NewTargetHandler(db *gorm.DB) *TargetHandler {
	return &TargetHandler{db: db}
}

type TargetResponse struct {
	ExternalID         string                 `json:"external_id"`
	Host               string                 `json:"host"`
	Ports              []int                  `json:"ports,omitempty"`
	ScanType           string                 `json:"scan_type"`
	ScanConfig         string                 `json:"scan_config,omitempty"`
	Criticality        string                 `json:"criticality"`
	ScanFrequencyHours int                    `json:"scan_frequency_hours"`
	Enabled            bool                   `json:"enabled"`
	Tags               map[string]interface{} `json:"tags,omitempty"`
	LastScanAt         string                 `json:"last_scan_at,omitempty"`
	NextScanAt         string                 `json:"next_scan_at,omitempty"`
	LastScanID         string                 `json:"last_scan_id,omitempty"`
	SyncedAt           string                 `json:"synced_at"`
}

func targetToResponse(t *models.Target) TargetResponse {
	return TargetResponse{
		ExternalID:         t.ExternalID,
		Host:               t.Host,
		Ports:              t.Ports,
		ScanType:           string(t.ScanType),
		ScanConfig:         t.ScanConfig,
		Criticality:        t.Criticality,
		ScanFrequencyHours: t.ScanFrequencyHours,
		Enabled:            t.Enabled,
		Tags:               t.Tags,
		LastScanAt:         rfc3339(t.LastScanAt),
		NextScanAt:         rfc3339(t.NextScanAt),
		LastScanID:         t.LastScanID,
		SyncedAt:           rfc3339(&t.SyncedAt),
	}
}

// List handles GET /targets.
func (h *TargetHandler) List(w http.ResponseWriter, r *http.Request) {
	var all []models.Target
	if err := h.db.Order("external_id ASC").Find(&all).Error; err != nil {
		writeJSON(w, http.StatusInternalServerError, dto.ErrorResponse{Error: "failed to list targets"})
		return
	}

	resp := make([]TargetResponse, len(all))
	for i := range all {
		resp[i] = targetToResponse(&all[i])
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"total":   len(resp),
		"targets": resp,
	})
}

// Get handles GET /targets/{id}.
func (h *TargetHandler) Get(w http.ResponseWriter, r *http.Request) {
	externalID := chi.URLParam(r, "id")

	var target models.Target
	if err := h.db.Where("external_id = ?", externalID).First(&target).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			writeJSON(w, http.StatusNotFound, dto.ErrorResponse{Error: "target not found"})
		} else {
			writeJSON(w, http.StatusInternalServerError, dto.ErrorResponse{Error: "failed to get target"})
		}
		return
	}

	writeJSON(w, http.StatusOK, targetToResponse(&target))
}
