package scans

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/oryxsec/scanhub/internal/database/models"
	"github.com/oryxsec/scanhub/internal/gmp"
	"github.com/oryxsec/scanhub/internal/metrics"
)

// runWorker drives one scan to a terminal state. Strictly serial per scan:
// create-target, create-task, start, poll, terminal transition, report
// fetch, callback.
func (m *Manager) runWorker(scan models.Scan) {
	log := m.log.With("scan_id", scan.ScanID, "probe", scan.ProbeName)

	metrics.ScansActive.Inc()
	metrics.ScansActivePerProbe.WithLabelValues(scan.ProbeName).Inc()
	defer func() {
		metrics.ScansActive.Dec()
		metrics.ScansActivePerProbe.WithLabelValues(scan.ProbeName).Dec()
	}()

	engine, ok := m.engines[scan.ProbeName]
	if !ok {
		// Probe was removed from config between restarts.
		m.finalize(&scan, fmt.Sprintf("probe %q no longer configured", scan.ProbeName))
		m.sendCallback(m.ctx, scan.ScanID, log)
		return
	}

	if err := m.execute(m.ctx, engine, &scan, log); err != nil {
		if m.ctx.Err() != nil {
			// Shutdown: leave the row as-is for re-adoption.
			log.Info("worker stopped by shutdown", "gvm_status", scan.GVMStatus)
			return
		}
		log.Error("scan failed", "error", err)
		metrics.ScansFailed.Inc()
		m.finalize(&scan, err.Error())
		m.sendCallback(m.ctx, scan.ScanID, log)
	}
}

type workerLogger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

func (m *Manager) execute(ctx context.Context, engine Engine, scan *models.Scan, log workerLogger) error {
	// Stage 1: engine resources. Each stage is skipped when a previous run
	// already persisted its id; creates are name-keyed so a crash between
	// the engine call and the persist is reconciled, not duplicated.
	if scan.ScanType == models.ScanTypeDirected && len(scan.Ports) > 0 && scan.GVMPortListID == "" {
		id, err := engine.EnsurePortList(ctx, fmt.Sprintf("scan-%s-ports", scan.ScanID), scan.Ports)
		if err != nil {
			return fmt.Errorf("creating port list: %w", err)
		}
		if err := m.persist(scan, map[string]interface{}{"gvm_port_list_id": id}); err != nil {
			return err
		}
		scan.GVMPortListID = id
	}

	if scan.GVMTargetID == "" {
		portListID := scan.GVMPortListID
		if portListID == "" && m.cfg.Scan.DefaultPortList != "" {
			id, err := engine.FindPortListID(ctx, m.cfg.Scan.DefaultPortList)
			if err != nil {
				return fmt.Errorf("resolving default port list: %w", err)
			}
			portListID = id
		}

		id, err := engine.EnsureTarget(ctx, "scan-"+scan.ScanID, scan.Target, portListID)
		if err != nil {
			return fmt.Errorf("creating target: %w", err)
		}
		if err := m.persist(scan, map[string]interface{}{"gvm_target_id": id}); err != nil {
			return err
		}
		scan.GVMTargetID = id
	}

	if scan.GVMTaskID == "" {
		id, err := engine.EnsureTask(ctx, "scan-"+scan.ScanID, scan.GVMTargetID,
			m.cfg.Scan.GVMScanConfig, m.cfg.Scan.GVMScanner)
		if err != nil {
			return fmt.Errorf("creating task: %w", err)
		}
		if err := m.persist(scan, map[string]interface{}{"gvm_task_id": id}); err != nil {
			return err
		}
		scan.GVMTaskID = id
	}

	// Stage 2: start. A recovered scan may have been started before the
	// crash without the report id making it to disk; asking the engine
	// first keeps start idempotent.
	if scan.GVMReportID == "" {
		state, err := engine.GetTask(ctx, scan.GVMTaskID)
		if err != nil {
			return fmt.Errorf("querying task before start: %w", err)
		}

		var reportID string
		if state.Status == models.StatusNew {
			reportID, err = engine.StartTask(ctx, scan.GVMTaskID)
			if err != nil {
				return fmt.Errorf("starting task: %w", err)
			}
		} else {
			reportID = state.LastReportID
			if reportID == "" {
				return fmt.Errorf("task %s already %s but has no report", scan.GVMTaskID, state.Status)
			}
		}

		now := time.Now().UTC()
		updates := map[string]interface{}{"gvm_report_id": reportID}
		if scan.StartedAt == nil {
			updates["started_at"] = now
			scan.StartedAt = &now
		}
		if err := m.persist(scan, updates); err != nil {
			return err
		}
		scan.GVMReportID = reportID

		log.Info("scan started", "task_id", scan.GVMTaskID, "report_id", reportID)
	}

	return m.poll(ctx, engine, scan, log)
}

// poll watches the engine task until it reaches a terminal status, the
// wall-clock cap is hit, or the transient-failure budget is spent.
func (m *Manager) poll(ctx context.Context, engine Engine, scan *models.Scan, log workerLogger) error {
	start := time.Now()
	if scan.StartedAt != nil {
		start = *scan.StartedAt
	}

	failures := 0
	for {
		if elapsed := time.Since(start); elapsed > m.maxDuration {
			log.Warn("scan exceeded max duration",
				"elapsed_seconds", int(elapsed.Seconds()),
				"max_seconds", int(m.maxDuration.Seconds()),
			)
			if err := engine.StopTask(ctx, scan.GVMTaskID); err != nil {
				log.Warn("best-effort stop failed", "error", err)
			}
			metrics.ScansFailed.Inc()
			m.finalize(scan, "timeout")
			m.sendCallback(ctx, scan.ScanID, log)
			return nil
		}

		state, err := engine.GetTask(ctx, scan.GVMTaskID)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			failures++
			log.Warn("poll failed", "failures", failures, "error", err)
			if failures >= pollFailureBudget {
				return fmt.Errorf("polling task: %w", err)
			}
			if !m.sleep(ctx) {
				return ctx.Err()
			}
			continue
		}
		failures = 0

		if state.Status != scan.GVMStatus || state.Progress != scan.GVMProgress {
			if err := m.persist(scan, map[string]interface{}{
				"gvm_status":   state.Status,
				"gvm_progress": state.Progress,
			}); err != nil {
				return err
			}
			scan.GVMStatus = state.Status
			scan.GVMProgress = state.Progress
			log.Info("scan poll", "gvm_status", state.Status, "gvm_progress", state.Progress)
		}

		if models.IsTerminalStatus(state.Status) {
			metrics.ScanDuration.Observe(time.Since(start).Seconds())
			metrics.ScansCompleted.WithLabelValues(state.Status).Inc()
			return m.terminal(ctx, engine, scan, log)
		}

		if !m.sleep(ctx) {
			return ctx.Err()
		}
	}
}

func (m *Manager) sleep(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(m.pollInterval):
		return true
	}
}

// terminal handles the one-way transition out of polling. Report fetch
// happens only for Done, exactly once.
func (m *Manager) terminal(ctx context.Context, engine Engine, scan *models.Scan, log workerLogger) error {
	if scan.GVMStatus == models.StatusDone {
		if err := m.collectReport(ctx, engine, scan, log); err != nil {
			return err
		}
	}

	errMsg := ""
	if scan.GVMStatus != models.StatusDone {
		errMsg = fmt.Sprintf("scan ended with status: %s", scan.GVMStatus)
	}
	m.finalize(scan, errMsg)

	if m.cfg.Scan.CleanupAfterReport && scan.GVMStatus == models.StatusDone {
		m.cleanup(ctx, engine, scan, log)
	}

	m.sendCallback(ctx, scan.ScanID, log)
	return nil
}

// collectReport downloads and parses the report. The write is guarded by a
// conditional update so a racing re-adopted worker is a no-op: report_xml
// is written at most once per scan.
func (m *Manager) collectReport(ctx context.Context, engine Engine, scan *models.Scan, log workerLogger) error {
	var existing int64
	err := m.db.Model(&models.Scan{}).
		Where("scan_id = ? AND report_xml IS NOT NULL", scan.ScanID).
		Count(&existing).Error
	if err != nil {
		return fmt.Errorf("checking for existing report: %w", err)
	}
	if existing > 0 {
		return nil
	}

	reportXML, err := engine.GetReportXML(ctx, scan.GVMReportID)
	if err != nil {
		return fmt.Errorf("fetching report: %w", err)
	}

	summary := gmp.ParseReportSummary(reportXML)

	// Map updates bypass the gorm serializer, so the summary is marshaled
	// here to match the column format.
	summaryJSON, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("marshaling summary: %w", err)
	}

	res := m.db.Model(&models.Scan{}).
		Where("scan_id = ? AND report_xml IS NULL", scan.ScanID).
		Updates(map[string]interface{}{
			"report_xml": reportXML,
			"summary":    string(summaryJSON),
		})
	if res.Error != nil {
		return fmt.Errorf("persisting report: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		log.Warn("report already collected by another worker")
		return nil
	}

	scan.ReportXML = &reportXML
	scan.Summary = summary

	log.Info("report collected",
		"hosts", summary.HostsScanned,
		"high", summary.VulnsHigh,
		"medium", summary.VulnsMedium,
		"low", summary.VulnsLow,
	)
	return nil
}

// finalize sets completed_at (and error, when present) exactly once. The
// guard makes the terminal transition idempotent across racing workers.
func (m *Manager) finalize(scan *models.Scan, errMsg string) {
	now := time.Now().UTC()
	updates := map[string]interface{}{"completed_at": now}
	if errMsg != "" {
		updates["error"] = errMsg
	}

	res := m.db.Model(&models.Scan{}).
		Where("scan_id = ? AND completed_at IS NULL", scan.ScanID).
		Updates(updates)
	if res.Error != nil {
		m.log.Error("finalizing scan failed", "scan_id", scan.ScanID, "error", res.Error)
		return
	}
	if res.RowsAffected > 0 {
		scan.CompletedAt = &now
		if errMsg != "" {
			scan.Error = errMsg
		}
	}
}

// cleanup deletes the engine resources created for this scan. Best-effort.
func (m *Manager) cleanup(ctx context.Context, engine Engine, scan *models.Scan, log workerLogger) {
	if scan.GVMTaskID != "" {
		if err := engine.DeleteTask(ctx, scan.GVMTaskID); err != nil {
			log.Warn("cleanup task failed", "error", err)
		}
	}
	if scan.GVMTargetID != "" {
		if err := engine.DeleteTarget(ctx, scan.GVMTargetID); err != nil {
			log.Warn("cleanup target failed", "error", err)
		}
	}
	if scan.GVMPortListID != "" {
		if err := engine.DeletePortList(ctx, scan.GVMPortListID); err != nil {
			log.Warn("cleanup port list failed", "error", err)
		}
	}
}

func (m *Manager) persist(scan *models.Scan, updates map[string]interface{}) error {
	if err := m.db.Model(&models.Scan{}).Where("scan_id = ?", scan.ScanID).Updates(updates).Error; err != nil {
		return fmt.Errorf("persisting scan %s: %w", scan.ScanID, err)
	}
	return nil
}
