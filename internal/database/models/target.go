package models

import (
	"time"

	"gorm.io/datatypes"
)

const (
	CriticalityCritical = "critical"
	CriticalityHigh     = "high"
	CriticalityMedium   = "medium"
	CriticalityLow      = "low"
)

// CriticalityWeight maps a criticality label to its scheduling priority.
// Unknown labels get the medium weight.
func CriticalityWeight(criticality string) int {
	switch criticality {
	case CriticalityCritical:
		return 4
	case CriticalityHigh:
		return 3
	case CriticalityLow:
		return 1
	default:
		return 2
	}
}

// Target is a row synchronized from the upstream inventory. Identity and
// config columns are written only by the sync; schedule columns only by the
// scheduler. Rows are soft-deleted (enabled=0), never removed.
type Target struct {
	ExternalID         string   `gorm:"primaryKey" json:"external_id"`
	Host               string   `gorm:"not null" json:"host"`
	Ports              []int    `gorm:"serializer:json" json:"ports,omitempty"`
	ScanType           ScanType `gorm:"not null;default:'full'" json:"scan_type"`
	ScanConfig         string   `json:"scan_config,omitempty"`
	Criticality        string   `gorm:"not null;default:'medium'" json:"criticality"`
	CriticalityWeight  int      `gorm:"not null;default:2;index" json:"criticality_weight"`
	ScanFrequencyHours int      `gorm:"not null;default:168" json:"scan_frequency_hours"`
	// No column default: a false value must survive Create as-is.
	Enabled bool              `gorm:"not null;index" json:"enabled"`
	Tags    datatypes.JSONMap `json:"tags,omitempty"`

	LastScanAt *time.Time `json:"last_scan_at,omitempty"`
	NextScanAt *time.Time `gorm:"index" json:"next_scan_at,omitempty"`
	LastScanID string     `json:"last_scan_id,omitempty"`

	SyncedAt  time.Time `gorm:"not null" json:"synced_at"`
	CreatedAt time.Time `json:"created_at"`
}

func (Target) TableName() string {
	return "targets"
}
