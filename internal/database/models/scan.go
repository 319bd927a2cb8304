package models

import "time"

// GVM task statuses as returned by the GMP protocol. These are the actual
// values from the gvmd get_tasks response <status> field, passed through
// unchanged.
const (
	StatusNew             = "New"
	StatusRequested       = "Requested"
	StatusQueued          = "Queued"
	StatusRunning         = "Running"
	StatusStopRequested   = "Stop Requested"
	StatusStopped         = "Stopped"
	StatusDone            = "Done"
	StatusInterrupted     = "Interrupted"
	StatusDeleteRequested = "Delete Requested"
)

type ScanType string

const (
	ScanTypeFull     ScanType = "full"
	ScanTypeDirected ScanType = "directed"
)

// IsTerminalStatus reports whether a GVM status means the engine will make
// no further progress on the task.
func IsTerminalStatus(status string) bool {
	switch status {
	case StatusDone, StatusStopped, StatusInterrupted:
		return true
	}
	return false
}

// ScanSummary holds the counts extracted from a completed report.
type ScanSummary struct {
	HostsScanned int `json:"hosts_scanned"`
	VulnsHigh    int `json:"vulns_high"`
	VulnsMedium  int `json:"vulns_medium"`
	VulnsLow     int `json:"vulns_low"`
	VulnsLog     int `json:"vulns_log"`
}

// Scan is one assessment run owned by the control plane. A row is mutated
// only by its owning worker until CompletedAt is set, then it is read-only
// (Summary excepted).
type Scan struct {
	ScanID    string   `gorm:"primaryKey" json:"scan_id"`
	ProbeName string   `gorm:"not null;index" json:"probe_name"`
	Name      string   `json:"name,omitempty"`
	Target    string   `gorm:"not null" json:"target"`
	ScanType  ScanType `gorm:"not null" json:"scan_type"`
	Ports     []int    `gorm:"serializer:json" json:"ports,omitempty"`

	// Engine-assigned resource ids; recovery anchors after a restart.
	// Explicit column names: the default naming splits the GVM prefix.
	GVMTargetID   string `gorm:"column:gvm_target_id" json:"gvm_target_id,omitempty"`
	GVMTaskID     string `gorm:"column:gvm_task_id;index" json:"gvm_task_id,omitempty"`
	GVMReportID   string `gorm:"column:gvm_report_id" json:"gvm_report_id,omitempty"`
	GVMPortListID string `gorm:"column:gvm_port_list_id" json:"gvm_port_list_id,omitempty"`

	// Status always mirrors the engine; nothing is fabricated locally.
	GVMStatus   string `gorm:"column:gvm_status;not null;default:'New'" json:"gvm_status"`
	GVMProgress int    `gorm:"column:gvm_progress;not null;default:0" json:"gvm_progress"`

	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `gorm:"index" json:"completed_at,omitempty"`

	ReportXML *string      `json:"report_xml,omitempty"`
	Summary   *ScanSummary `gorm:"serializer:json" json:"summary,omitempty"`
	Error     string       `json:"error,omitempty"`

	// Set when the scan originated from the scheduler.
	ExternalTargetID string `gorm:"index" json:"external_target_id,omitempty"`
}

func (Scan) TableName() string {
	return "scans"
}

// Completed reports whether the scan has reached its final persisted state.
func (s *Scan) Completed() bool {
	return s.CompletedAt != nil
}
