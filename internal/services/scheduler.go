// Package services – Scheduler
//
// This file implements the background sweeper that drives every time-based
// transition: discussion periods ending, voting deadlines passing, and
// accumulation windows closing. The sweeper holds no state of its own; each
// sweep re-reads deadlines from the store and routes them through the same
// idempotent service paths the HTTP endpoints use, so a missed tick or a
// second process running the sweep concurrently changes nothing.
package services

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/averis/go-deliberation-backend/internal/domain"
	"github.com/averis/go-deliberation-backend/internal/repo"
)

// Scheduler periodically advances overdue cells and expired windows.
type Scheduler struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB
	// Resolution closes cells whose voting deadline has passed.
	Resolution *ResolutionService
	// Rolling closes accumulation windows that have run out.
	Rolling *RollingService

	// Interval is the sweep period.
	Interval time.Duration
}

// NewScheduler constructs a Scheduler with a default sweep interval.
func NewScheduler(db *gorm.DB, resolution *ResolutionService, rolling *RollingService) *Scheduler {
	return &Scheduler{
		DB:         db,
		Resolution: resolution,
		Rolling:    rolling,
		Interval:   15 * time.Second,
	}
}

// Run sweeps until the context is cancelled. Intended to be launched as a
// goroutine from main.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep performs one pass: opens discussion cells whose period elapsed,
// resolves cells past their voting deadline, expires overdue accumulation
// windows, and purges stale idempotency records. Individual failures are
// logged and skipped; one stuck record never blocks the rest of the sweep.
func (s *Scheduler) Sweep(ctx context.Context) {
	now := time.Now().UTC()

	if cells, err := repo.ListOverdueCells(ctx, s.DB, domain.CellDeliberating, now); err != nil {
		log.Error().Err(err).Msg("sweep: list deliberating cells")
	} else {
		for _, c := range cells {
			if err := s.openForVoting(ctx, c, now); err != nil {
				log.Error().Err(err).Str("cell_id", c.ID).Msg("sweep: open cell for voting")
			}
		}
	}

	if cells, err := repo.ListOverdueCells(ctx, s.DB, domain.CellVoting, now); err != nil {
		log.Error().Err(err).Msg("sweep: list voting cells")
	} else {
		for _, c := range cells {
			if _, err := s.Resolution.ProcessCellResults(ctx, c.ID, true); err != nil {
				log.Error().Err(err).Str("cell_id", c.ID).Msg("sweep: resolve cell")
			}
		}
	}

	if ids, err := repo.ListExpiredAccumulations(ctx, s.DB, now); err != nil {
		log.Error().Err(err).Msg("sweep: list accumulation windows")
	} else {
		for _, id := range ids {
			if _, err := s.Rolling.ExpireAccumulation(ctx, id); err != nil && !errors.Is(err, ErrWrongPhase) {
				log.Error().Err(err).Str("deliberation_id", id).Msg("sweep: expire accumulation")
			}
		}
	}

	if err := repo.PurgeExpiredIdempotency(ctx, s.DB, now); err != nil {
		log.Error().Err(err).Msg("sweep: purge idempotency")
	}
}

// openForVoting flips one discussion cell into voting with a fresh deadline
// taken from its deliberation's voting period.
func (s *Scheduler) openForVoting(ctx context.Context, c domain.Cell, now time.Time) error {
	d, err := repo.GetDeliberation(ctx, s.DB, c.DeliberationID)
	if err != nil {
		return err
	}
	deadline := now.Add(time.Duration(d.VotingSeconds) * time.Second)
	err = repo.OpenCellForVoting(ctx, s.DB, c.ID, deadline)
	if errors.Is(err, repo.ErrNotFound) {
		// Someone else already opened or completed it.
		return nil
	}
	return err
}
