package scans

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/oryxsec/scanhub/internal/database/models"
)

const callbackAttempts = 3

type callbackPayload struct {
	ExternalTargetID string              `json:"external_target_id"`
	ScanID           string              `json:"scan_id"`
	ProbeName        string              `json:"probe_name"`
	Host             string              `json:"host"`
	GVMStatus        string              `json:"gvm_status"`
	CompletedAt      string              `json:"completed_at"`
	Summary          *models.ScanSummary `json:"summary"`
	DurationSeconds  int                 `json:"duration_seconds"`
}

// sendCallback posts the terminal result to the configured callback URL.
// Only scheduler-originated scans are reported; delivery is best-effort
// with a bounded retry and never blocks completion semantics.
func (m *Manager) sendCallback(ctx context.Context, scanID string, log workerLogger) {
	if m.cfg.Source.CallbackURL == "" {
		return
	}

	var scan models.Scan
	if err := m.db.Where("scan_id = ?", scanID).First(&scan).Error; err != nil {
		log.Warn("callback skipped, scan not found", "error", err)
		return
	}
	if scan.ExternalTargetID == "" || scan.CompletedAt == nil {
		return
	}

	duration := 0
	if scan.StartedAt != nil {
		duration = int(scan.CompletedAt.Sub(*scan.StartedAt).Seconds())
	}

	payload := callbackPayload{
		ExternalTargetID: scan.ExternalTargetID,
		ScanID:           scan.ScanID,
		ProbeName:        scan.ProbeName,
		Host:             scan.Target,
		GVMStatus:        scan.GVMStatus,
		CompletedAt:      scan.CompletedAt.UTC().Format(time.RFC3339),
		Summary:          scan.Summary,
		DurationSeconds:  duration,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		log.Warn("callback payload marshal failed", "error", err)
		return
	}

	var lastErr error
	for attempt := 1; attempt <= callbackAttempts; attempt++ {
		if err := m.postCallback(ctx, body); err != nil {
			lastErr = err
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Duration(attempt) * time.Second):
			}
			continue
		}
		log.Info("callback delivered", "url", m.cfg.Source.CallbackURL)
		return
	}

	log.Error("callback delivery failed",
		"url", m.cfg.Source.CallbackURL,
		"attempts", callbackAttempts,
		"error", lastErr,
	)
}

func (m *Manager) postCallback(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.cfg.Source.CallbackURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if m.cfg.Source.AuthToken != "" {
		req.Header.Set("Authorization", m.cfg.Source.AuthToken)
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("callback returned %d", resp.StatusCode)
	}
	return nil
}
