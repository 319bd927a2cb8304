package targets

import (
	"context"
	"log/slog"
	"time"

	"github.com/oryxsec/scanhub/internal/database"
	"github.com/oryxsec/scanhub/internal/database/models"
	"github.com/oryxsec/scanhub/internal/scans"
	"gorm.io/gorm"
)

// Submitter is what the scheduler needs from the scan manager.
type Submitter interface {
	Submit(req scans.SubmitRequest) (*models.Scan, error)
}

// Scheduler periodically emits scans for due targets, highest criticality
// first. A failed submission leaves next_scan_at alone so the target is
// retried on the next tick.
type Scheduler struct {
	db       *gorm.DB
	manager  Submitter
	interval time.Duration
	log      *slog.Logger
}

func NewScheduler(db *gorm.DB, manager Submitter, interval time.Duration, log *slog.Logger) *Scheduler {
	return &Scheduler{
		db:       db,
		manager:  manager,
		interval: interval,
		log:      log,
	}
}

// RunLoop ticks at the configured interval until ctx is cancelled.
func (s *Scheduler) RunLoop(ctx context.Context) {
	s.log.Info("scheduler started", "interval", s.interval.String())

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		s.Tick(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Tick dispatches one scan per due target.
func (s *Scheduler) Tick(ctx context.Context) {
	now := time.Now().UTC()

	due, err := database.DueTargets(s.db, now)
	if err != nil {
		s.log.Error("loading due targets failed", "error", err)
		return
	}
	if len(due) == 0 {
		return
	}

	s.log.Info("due targets", "count", len(due))

	for _, target := range due {
		if ctx.Err() != nil {
			return
		}

		scan, err := s.manager.Submit(scans.SubmitRequest{
			Target:           target.Host,
			ScanType:         target.ScanType,
			Ports:            target.Ports,
			Name:             target.ExternalID,
			ExternalTargetID: target.ExternalID,
		})
		if err != nil {
			// next_scan_at stays put; retried next tick.
			s.log.Error("scheduled scan failed",
				"external_id", target.ExternalID,
				"host", target.Host,
				"error", err,
			)
			continue
		}

		if err := database.MarkTargetScheduled(s.db, target.ExternalID, scan.ScanID, now, target.ScanFrequencyHours); err != nil {
			s.log.Error("updating target schedule failed",
				"external_id", target.ExternalID,
				"error", err,
			)
			continue
		}

		s.log.Info("scheduled scan created",
			"external_id", target.ExternalID,
			"host", target.Host,
			"scan_id", scan.ScanID,
			"criticality", target.Criticality,
		)
	}
}
