package database

import (
	"time"

	"github.com/oryxsec/scanhub/internal/database/models"
	"gorm.io/gorm"
)

// CountActiveScansPerProbe counts scans with no completed_at, grouped by
// probe. Probes with no active scans are absent from the map.
func CountActiveScansPerProbe(db *gorm.DB) (map[string]int, error) {
	var rows []struct {
		ProbeName string
		Cnt       int
	}
	err := db.Model(&models.Scan{}).
		Select("probe_name, COUNT(*) as cnt").
		Where("completed_at IS NULL").
		Group("probe_name").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	counts := make(map[string]int, len(rows))
	for _, r := range rows {
		counts[r.ProbeName] = r.Cnt
	}
	return counts, nil
}

// DueTargets returns enabled targets whose next_scan_at has passed, highest
// criticality first, oldest due time first within a tier. Targets that
// already have an active scan are excluded so a slow scan is not doubled up.
func DueTargets(db *gorm.DB, now time.Time) ([]models.Target, error) {
	var targets []models.Target
	err := db.
		Where("enabled = ? AND next_scan_at IS NOT NULL AND next_scan_at <= ?", true, now).
		Where("NOT EXISTS (SELECT 1 FROM scans s WHERE s.external_target_id = targets.external_id AND s.completed_at IS NULL)").
		Order("criticality_weight DESC, next_scan_at ASC").
		Find(&targets).Error
	return targets, err
}

// MarkTargetScheduled records a dispatched scan on the target and advances
// its next due time by the configured frequency.
func MarkTargetScheduled(db *gorm.DB, externalID, scanID string, now time.Time, frequencyHours int) error {
	next := now.Add(time.Duration(frequencyHours) * time.Hour)
	return db.Model(&models.Target{}).
		Where("external_id = ?", externalID).
		Updates(map[string]interface{}{
			"last_scan_at": now,
			"next_scan_at": next,
			"last_scan_id": scanID,
		}).Error
}
