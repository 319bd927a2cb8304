package scans

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oryxsec/scanhub/internal/database"
	"github.com/oryxsec/scanhub/internal/database/models"
	"github.com/oryxsec/scanhub/internal/metrics"
	"github.com/oryxsec/scanhub/pkg/config"
	"gorm.io/gorm"
)

// SubmitRequest is one scan submission, from the API or the scheduler.
type SubmitRequest struct {
	Target           string
	ScanType         models.ScanType
	Ports            []int
	ProbeName        string
	Name             string
	ExternalTargetID string
}

// Manager owns the scan lifecycle: one worker goroutine per live scan
// drives it from submission to a terminal state, persisting every
// transition. The store is authoritative; nothing scan-scoped lives only
// in memory.
type Manager struct {
	db       *gorm.DB
	cfg      *config.Config
	engines  map[string]Engine
	selector *Selector
	log      *slog.Logger
	client   *http.Client

	pollInterval time.Duration
	maxDuration  time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Consecutive poll failures tolerated before a scan is finalized as failed.
// The engine client already retries each call internally.
const pollFailureBudget = 5

func NewManager(db *gorm.DB, cfg *config.Config, engines map[string]Engine, log *slog.Logger) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		db:           db,
		cfg:          cfg,
		engines:      engines,
		selector:     NewSelector(cfg.Scan.MaxConsecutiveSameProbe),
		log:          log,
		client:       &http.Client{Timeout: cfg.Source.RequestTimeout()},
		pollInterval: cfg.Scan.PollEvery(),
		maxDuration:  cfg.Scan.MaxScanDuration(),
		ctx:          ctx,
		cancel:       cancel,
	}
}

// Engines exposes the probe handles for the health endpoint.
func (m *Manager) Engines() map[string]Engine { return m.engines }

// Submit validates the request, binds a probe, persists the scan row and
// spawns its worker. The returned scan carries the generated id and the
// selected probe.
func (m *Manager) Submit(req SubmitRequest) (*models.Scan, error) {
	if err := validateSubmit(&req); err != nil {
		return nil, err
	}

	probeName, err := m.selectProbe(req.ProbeName)
	if err != nil {
		return nil, err
	}

	scan := models.Scan{
		ScanID:           uuid.NewString(),
		ProbeName:        probeName,
		Name:             req.Name,
		Target:           req.Target,
		ScanType:         req.ScanType,
		Ports:            req.Ports,
		GVMStatus:        models.StatusNew,
		CreatedAt:        time.Now().UTC(),
		ExternalTargetID: req.ExternalTargetID,
	}

	if err := m.db.Create(&scan).Error; err != nil {
		return nil, fmt.Errorf("persisting scan: %w", err)
	}

	m.selector.Record(probeName)
	metrics.ScansSubmitted.WithLabelValues(string(scan.ScanType)).Inc()
	metrics.ProbeScansRouted.WithLabelValues(probeName).Inc()

	m.log.Info("scan created",
		"scan_id", scan.ScanID,
		"target", scan.Target,
		"scan_type", scan.ScanType,
		"probe", probeName,
	)

	m.spawn(scan)
	return &scan, nil
}

func (m *Manager) selectProbe(explicit string) (string, error) {
	if explicit != "" {
		if _, ok := m.engines[explicit]; !ok {
			return "", fmt.Errorf("%w: %q", ErrProbeNotFound, explicit)
		}
		return explicit, nil
	}

	counts, err := database.CountActiveScansPerProbe(m.db)
	if err != nil {
		return "", fmt.Errorf("counting active scans: %w", err)
	}

	names := make([]string, 0, len(m.engines))
	for name := range m.engines {
		names = append(names, name)
	}
	sort.Strings(names)

	return m.selector.Pick(names, counts)
}

// Recover re-adopts every scan left without a terminal state by a previous
// process: each gets a worker that resumes from the persisted engine ids.
func (m *Manager) Recover() (int, error) {
	var pending []models.Scan
	if err := m.db.Where("completed_at IS NULL").Find(&pending).Error; err != nil {
		return 0, fmt.Errorf("loading pending scans: %w", err)
	}

	for _, scan := range pending {
		m.log.Info("re-adopting scan",
			"scan_id", scan.ScanID,
			"probe", scan.ProbeName,
			"gvm_status", scan.GVMStatus,
		)
		m.spawn(scan)
	}
	return len(pending), nil
}

func (m *Manager) spawn(scan models.Scan) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.runWorker(scan)
	}()
}

// Stop cancels all workers. In-flight scans stay in their last persisted
// state and are re-adopted on the next start.
func (m *Manager) Stop() {
	m.cancel()
}

// Wait blocks until every worker has returned.
func (m *Manager) Wait() {
	m.wg.Wait()
}
