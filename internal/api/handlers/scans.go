package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/oryxsec/scanhub/internal/api/dto"
	"github.com/oryxsec/scanhub/internal/database/models"
	"github.com/oryxsec/scanhub/internal/scans"
	"gorm.io/gorm"
)

type ScanHandler struct {
	db      *gorm.DB
	manager *scans.Manager
}

func NewScanHandler(db *gorm.DB, manager *scans.Manager) *ScanHandler {
	return &ScanHandler{db: db, manager: manager}
}

type CreateScanRequest struct {
	Target    string `json:"target"`
	ScanType  string `json:"scan_type,omitempty"`
	Ports     []int  `json:"ports,omitempty"`
	ProbeName string `json:"probe_name,omitempty"`
	Name      string `json:"name,omitempty"`
}

type ScanCreatedResponse struct {
	ScanID    string `json:"scan_id"`
	ProbeName string `json:"probe_name"`
	Message   string `json:"message"`
}

// ScanResponse is the scan object served by the status endpoints. The
// report blob has its own endpoint.
type ScanResponse struct {
	ScanID           string              `json:"scan_id"`
	ProbeName        string              `json:"probe_name"`
	Name             string              `json:"name,omitempty"`
	Target           string              `json:"target"`
	ScanType         string              `json:"scan_type"`
	Ports            []int               `json:"ports,omitempty"`
	GVMStatus        string              `json:"gvm_status"`
	GVMProgress      int                 `json:"gvm_progress"`
	CreatedAt        string              `json:"created_at"`
	StartedAt        string              `json:"started_at,omitempty"`
	CompletedAt      string              `json:"completed_at,omitempty"`
	Summary          *models.ScanSummary `json:"summary,omitempty"`
	Error            string              `json:"error,omitempty"`
	ExternalTargetID string              `json:"external_target_id,omitempty"`
}

type ScanReportResponse struct {
	ScanID      string              `json:"scan_id"`
	ProbeName   string              `json:"probe_name"`
	GVMStatus   string              `json:"gvm_status"`
	Target      string              `json:"target"`
	CompletedAt string              `json:"completed_at,omitempty"`
	ReportXML   string              `json:"report_xml"`
	Summary     *models.ScanSummary `json:"summary,omitempty"`
	Error       string              `json:"error,omitempty"`
}

func scanToResponse(scan *models.Scan) ScanResponse {
	return ScanResponse{
		ScanID:           scan.ScanID,
		ProbeName:        scan.ProbeName,
		Name:             scan.Name,
		Target:           scan.Target,
		ScanType:         string(scan.ScanType),
		Ports:            scan.Ports,
		GVMStatus:        scan.GVMStatus,
		GVMProgress:      scan.GVMProgress,
		CreatedAt:        rfc3339(&scan.CreatedAt),
		StartedAt:        rfc3339(scan.StartedAt),
		CompletedAt:      rfc3339(scan.CompletedAt),
		Summary:          scan.Summary,
		Error:            scan.Error,
		ExternalTargetID: scan.ExternalTargetID,
	}
}

// Create handles POST /scans.
func (h *ScanHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateScanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, dto.ErrorResponse{Error: "invalid request body"})
		return
	}

	scan, err := h.manager.Submit(scans.SubmitRequest{
		Target:    req.Target,
		ScanType:  models.ScanType(req.ScanType),
		Ports:     req.Ports,
		ProbeName: req.ProbeName,
		Name:      req.Name,
	})
	if err != nil {
		if errors.Is(err, scans.ErrInvalidRequest) || errors.Is(err, scans.ErrProbeNotFound) {
			writeJSON(w, http.StatusUnprocessableEntity, dto.ErrorResponse{Error: err.Error()})
			return
		}
		writeJSON(w, http.StatusInternalServerError, dto.ErrorResponse{Error: "failed to create scan"})
		return
	}

	writeJSON(w, http.StatusCreated, ScanCreatedResponse{
		ScanID:    scan.ScanID,
		ProbeName: scan.ProbeName,
		Message:   "Scan submitted",
	})
}

// List handles GET /scans.
func (h *ScanHandler) List(w http.ResponseWriter, r *http.Request) {
	var all []models.Scan
	if err := h.db.Order("created_at DESC").Find(&all).Error; err != nil {
		writeJSON(w, http.StatusInternalServerError, dto.ErrorResponse{Error: "failed to list scans"})
		return
	}

	resp := make([]ScanResponse, len(all))
	for i := range all {
		resp[i] = scanToResponse(&all[i])
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"total": len(resp),
		"scans": resp,
	})
}

// Get handles GET /scans/{id}.
func (h *ScanHandler) Get(w http.ResponseWriter, r *http.Request) {
	scan, ok := h.find(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, scanToResponse(scan))
}

// Report handles GET /scans/{id}/report. 409 until the report exists.
func (h *ScanHandler) Report(w http.ResponseWriter, r *http.Request) {
	scan, ok := h.find(w, r)
	if !ok {
		return
	}

	if scan.ReportXML == nil {
		writeJSON(w, http.StatusConflict, dto.ErrorResponse{
			Error: "report not available yet, current status: " + scan.GVMStatus,
		})
		return
	}

	writeJSON(w, http.StatusOK, ScanReportResponse{
		ScanID:      scan.ScanID,
		ProbeName:   scan.ProbeName,
		GVMStatus:   scan.GVMStatus,
		Target:      scan.Target,
		CompletedAt: rfc3339(scan.CompletedAt),
		ReportXML:   *scan.ReportXML,
		Summary:     scan.Summary,
		Error:       scan.Error,
	})
}

func (h *ScanHandler) find(w http.ResponseWriter, r *http.Request) (*models.Scan, bool) {
	scanID := chi.URLParam(r, "id")

	var scan models.Scan
	if err := h.db.Where("scan_id = ?", scanID).First(&scan).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			writeJSON(w, http.StatusNotFound, dto.ErrorResponse{Error: "scan not found"})
		} else {
			writeJSON(w, http.StatusInternalServerError, dto.ErrorResponse{Error: "failed to get scan"})
		}
		return nil, false
	}
	return &scan, true
}
