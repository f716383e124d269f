// Package services – BallotService
//
// This file implements weighted ballot casting. Each voter holds a fixed
// point budget per cell (10 by default) and spreads it across the cell's
// ideas; recasting replaces the previous ballot atomically. When the last
// seated participant casts a ballot the cell is resolved through the same
// idempotent path that timeout triggers and facilitator actions use, so a
// photo-finish between the final two voters is settled by the guarded
// completion, not by luck.
package services

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/averis/go-deliberation-backend/internal/domain"
	"github.com/averis/go-deliberation-backend/internal/repo"
)

// BallotService validates and records weighted ballots.
type BallotService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB
	// Resolution resolves the cell once every participant has voted.
	Resolution *ResolutionService

	// Budget is the maximum points one voter may spend in one cell.
	Budget int
}

// CastBallot records userID's weighted ballot in the cell, replacing any
// previous one. picks maps idea IDs to positive point allocations summing to
// at most the budget; every idea must belong to the cell and the voter must
// be seated in it. Returns the cell's resolution result when this ballot was
// the last one outstanding, else nil.
func (s *BallotService) CastBallot(ctx context.Context, userID, cellID string, picks map[string]int) (*CellResult, error) {
	var complete bool
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		cell, err := repo.GetCell(ctx, tx, cellID)
		if err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return ErrCellNotFound
			}
			return err
		}
		if cell.Status != domain.CellVoting {
			return ErrCellNotVoting
		}

		participants, err := repo.ListParticipantIDs(ctx, tx, cellID)
		if err != nil {
			return err
		}
		seated := false
		for _, p := range participants {
			if p == userID {
				seated = true
				break
			}
		}
		if !seated {
			return ErrNotParticipant
		}

		if len(picks) == 0 {
			return ErrBallotBudget
		}
		ideaIDs, err := repo.ListCellIdeaIDs(ctx, tx, cellID)
		if err != nil {
			return err
		}
		inCell := make(map[string]struct{}, len(ideaIDs))
		for _, id := range ideaIDs {
			inCell[id] = struct{}{}
		}
		total := 0
		for ideaID, points := range picks {
			if points <= 0 {
				return ErrBallotBudget
			}
			if _, ok := inCell[ideaID]; !ok {
				return ErrIdeaNotInCell
			}
			total += points
		}
		if s.Budget > 0 && total > s.Budget {
			return ErrBallotBudget
		}

		if err := repo.ReplaceBallot(ctx, tx, cellID, userID, picks); err != nil {
			return err
		}

		voters, err := repo.CountDistinctVoters(ctx, tx, cellID)
		if err != nil {
			return err
		}
		complete = voters >= int64(len(participants))
		return nil
	})
	if err != nil {
		return nil, err
	}

	if !complete {
		return nil, nil
	}
	// Every seat has voted: resolve through the shared idempotent path. A
	// nil result means a concurrent trigger beat us to it, which is fine.
	return s.Resolution.ProcessCellResults(ctx, cellID, false)
}
