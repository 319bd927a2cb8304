// Package targets reconciles the local target table with the upstream
// asset inventory and emits due scans from it.
package targets

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/oryxsec/scanhub/internal/database/models"
	"github.com/oryxsec/scanhub/pkg/config"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// SourceTarget is one entry of the upstream inventory response.
type SourceTarget struct {
	ID                 string                 `json:"id"`
	Host               string                 `json:"host"`
	Ports              []int                  `json:"ports,omitempty"`
	ScanType           string                 `json:"scan_type,omitempty"`
	ScanConfig         string                 `json:"scan_config,omitempty"`
	Criticality        string                 `json:"criticality,omitempty"`
	ScanFrequencyHours int                    `json:"scan_frequency_hours,omitempty"`
	Enabled            *bool                  `json:"enabled,omitempty"`
	Tags               map[string]interface{} `json:"tags,omitempty"`
}

type sourceResponse struct {
	Targets []SourceTarget `json:"targets"`
}

// Sync pulls the upstream target list and reconciles the local table:
// upserts received entries, soft-deletes absent ones. Upstream errors are
// swallowed; the system keeps operating on whatever is already persisted.
type Sync struct {
	db     *gorm.DB
	cfg    config.SourceConfig
	log    *slog.Logger
	client *http.Client
}

func NewSync(db *gorm.DB, cfg config.SourceConfig, log *slog.Logger) *Sync {
	return &Sync{
		db:     db,
		cfg:    cfg,
		log:    log,
		client: &http.Client{Timeout: cfg.RequestTimeout()},
	}
}

// RunLoop syncs at the configured interval until ctx is cancelled.
func (s *Sync) RunLoop(ctx context.Context) {
	if !s.cfg.Enabled() {
		s.log.Info("target sync disabled", "reason", "source.url not configured")
		return
	}

	ticker := time.NewTicker(s.cfg.SyncEvery())
	defer ticker.Stop()

	for {
		if err := s.SyncOnce(ctx); err != nil {
			s.log.Error("target sync failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// SyncOnce runs one reconciliation. On any upstream error the store is
// left untouched.
func (s *Sync) SyncOnce(ctx context.Context) error {
	received, err := s.fetch(ctx)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	seen := make(map[string]bool, len(received))
	upserted, skipped := 0, 0

	err = s.db.Transaction(func(tx *gorm.DB) error {
		for _, t := range received {
			if t.ID == "" || t.Host == "" {
				s.log.Warn("skipping invalid target", "id", t.ID, "host", t.Host)
				skipped++
				continue
			}
			if err := upsertTarget(tx, t, now); err != nil {
				return fmt.Errorf("upserting target %q: %w", t.ID, err)
			}
			seen[t.ID] = true
			upserted++
		}

		return deactivateMissing(tx, seen)
	})
	if err != nil {
		return err
	}

	s.log.Info("target sync done",
		"received", len(received),
		"upserted", upserted,
		"skipped", skipped,
	)
	return nil
}

func (s *Sync) fetch(ctx context.Context) ([]SourceTarget, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.cfg.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("building source request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.cfg.AuthToken != "" {
		req.Header.Set("Authorization", s.cfg.AuthToken)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching targets: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("source returned %d", resp.StatusCode)
	}

	var body sourceResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decoding source response: %w", err)
	}
	return body.Targets, nil
}

// upsertTarget overwrites identity and config columns; schedule columns
// belong to the scheduler and are never touched here, except that a brand
// new target is due immediately.
func upsertTarget(tx *gorm.DB, t SourceTarget, now time.Time) error {
	enabled := t.Enabled == nil || *t.Enabled

	scanType := t.ScanType
	if scanType == "" {
		scanType = string(models.ScanTypeFull)
	}
	criticality := t.Criticality
	if criticality == "" {
		criticality = models.CriticalityMedium
	}
	frequency := t.ScanFrequencyHours
	if frequency <= 0 {
		frequency = 168
	}

	var existing models.Target
	err := tx.Where("external_id = ?", t.ID).First(&existing).Error
	switch {
	case err == nil:
		return tx.Model(&models.Target{}).
			Where("external_id = ?", t.ID).
			Updates(map[string]interface{}{
				"host":                 t.Host,
				"ports":                marshalPorts(t.Ports),
				"scan_type":            scanType,
				"scan_config":          t.ScanConfig,
				"criticality":          criticality,
				"criticality_weight":   models.CriticalityWeight(criticality),
				"scan_frequency_hours": frequency,
				"enabled":              enabled,
				"tags":                 marshalTags(t.Tags),
				"synced_at":            now,
			}).Error
	case err == gorm.ErrRecordNotFound:
		target := models.Target{
			ExternalID:         t.ID,
			Host:               t.Host,
			Ports:              t.Ports,
			ScanType:           models.ScanType(scanType),
			ScanConfig:         t.ScanConfig,
			Criticality:        criticality,
			CriticalityWeight:  models.CriticalityWeight(criticality),
			ScanFrequencyHours: frequency,
			Enabled:            enabled,
			Tags:               datatypes.JSONMap(t.Tags),
			NextScanAt:         &now, // scan-immediately semantics
			SyncedAt:           now,
			CreatedAt:          now,
		}
		return tx.Create(&target).Error
	default:
		return err
	}
}

func deactivateMissing(tx *gorm.DB, seen map[string]bool) error {
	var ids []string
	if err := tx.Model(&models.Target{}).Where("enabled = ?", true).Pluck("external_id", &ids).Error; err != nil {
		return err
	}
	for _, id := range ids {
		if seen[id] {
			continue
		}
		if err := tx.Model(&models.Target{}).Where("external_id = ?", id).Update("enabled", false).Error; err != nil {
			return err
		}
	}
	return nil
}

func marshalPorts(ports []int) interface{} {
	if len(ports) == 0 {
		return nil
	}
	b, _ := json.Marshal(ports)
	return string(b)
}

func marshalTags(tags map[string]interface{}) interface{} {
	if len(tags) == 0 {
		return nil
	}
	b, _ := json.Marshal(tags)
	return string(b)
}
