// Package services – ResolutionService
//
// This file implements cell resolution: tallying one completed cell's votes
// and marking the outcome exactly once. Several workers may race to resolve
// the same cell (the last two voters finishing together, a duplicate timeout
// trigger, a facilitator clicking twice); the guarded voting→completed
// transition in the repo layer guarantees a single winner, and every other
// caller receives nil, an expected "already handled" signal rather than an error.
package services

import (
	"context"
	"errors"
	"sort"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/averis/go-deliberation-backend/internal/domain"
	"github.com/averis/go-deliberation-backend/internal/repo"
)

// CellResult lists the ideas that advanced and the ideas that were
// eliminated by one cell's resolution. Both slices are empty for showdown
// cells, whose tally is deferred to the cross-cell pass.
type CellResult struct {
	WinnerIDs []string `json:"winner_ids"`
	LoserIDs  []string `json:"loser_ids"`
}

// ResolutionService tallies completed cells and hands control to the
// tier-advancement controller.
type ResolutionService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB
	// Tiers is invoked after a successful resolution so the tier can
	// advance once its last cell completes.
	Tiers *TierService

	// SoloVoterMinPoints is the minimum point total an idea needs to
	// advance when the cell had exactly one voter, blocking throwaway
	// single picks. Zero disables the threshold.
	SoloVoterMinPoints int
}

// ProcessCellResults resolves one cell.
//
// Returns (nil, nil) when a concurrent caller already completed the cell.
// On success it returns the winner/loser split and triggers the idempotent
// tier-completion check.
//
// Tally rules:
//   - No votes at all: every idea advances; the system never eliminates
//     ideas on zero human input.
//   - Otherwise all ideas tied for the maximum point total advance; the rest
//     are eliminated. Ties are genuine results, not errors.
//   - With exactly one voter, advancing additionally requires the
//     solo-voter threshold; if nothing clears it, the cell degrades to
//     everyone-advances rather than eliminating on a throwaway ballot.
//   - Showdown cells defer entirely to the cross-cell tally: the guarded
//     completion still runs, but no per-cell statuses change.
//
// The timedOut flag only affects logging; timeout triggers and manual
// resolution share this one idempotent path.
func (s *ResolutionService) ProcessCellResults(ctx context.Context, cellID string, timedOut bool) (*CellResult, error) {
	tr := otel.Tracer("services/ResolutionService")
	ctx, span := tr.Start(ctx, "ProcessCellResults",
		trace.WithAttributes(
			attribute.String("cell.id", cellID),
			attribute.Bool("timed_out", timedOut),
		),
	)
	defer span.End()

	var (
		result *CellResult
		cell   *domain.Cell
	)
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		cell, err = repo.GetCell(ctx, tx, cellID)
		if err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return ErrCellNotFound
			}
			return err
		}

		won, err := repo.CompleteCell(ctx, tx, cellID)
		if err != nil {
			return err
		}
		if !won {
			// Already handled by a concurrent caller.
			return nil
		}

		if cell.Showdown {
			result = &CellResult{WinnerIDs: []string{}, LoserIDs: []string{}}
			cellsResolved.WithLabelValues("deferred").Inc()
			return nil
		}

		ideaIDs, err := repo.ListCellIdeaIDs(ctx, tx, cellID)
		if err != nil {
			return err
		}
		totals, err := repo.TallyCell(ctx, tx, cellID)
		if err != nil {
			return err
		}
		voters, err := repo.CountDistinctVoters(ctx, tx, cellID)
		if err != nil {
			return err
		}

		winners, losers := splitWinners(ideaIDs, totals, voters, s.SoloVoterMinPoints)
		if err := repo.AdvanceIdeas(ctx, tx, winners); err != nil {
			return err
		}
		if err := repo.EliminateIdeas(ctx, tx, losers); err != nil {
			return err
		}

		result = &CellResult{WinnerIDs: winners, LoserIDs: losers}
		cellsResolved.WithLabelValues("resolved").Inc()
		log.Info().
			Str("cell_id", cellID).
			Int("tier", cell.Tier).
			Bool("timed_out", timedOut).
			Int("winners", len(winners)).
			Int("losers", len(losers)).
			Msg("cell resolved")
		return nil
	})
	if err != nil {
		return nil, err
	}

	// The tier check is idempotent and may be replayed by any worker. It runs
	// on the replay path too: if the caller that won the completion died
	// before reaching it, the next replayed trigger picks the check up and
	// the tier cannot wedge on a completed cell.
	if cell != nil {
		if err := s.Tiers.CheckTierCompletion(ctx, cell.DeliberationID, cell.Tier); err != nil {
			return nil, err
		}
	}

	if result == nil {
		cellsResolved.WithLabelValues("replay").Inc()
		log.Debug().Str("cell_id", cellID).Msg("cell already resolved")
		return nil, nil
	}
	return result, nil
}

// splitWinners applies the tally rules to one cell's idea set.
func splitWinners(ideaIDs []string, totals []repo.IdeaTotal, voters int64, soloMin int) (winners, losers []string) {
	if len(totals) == 0 {
		// Zero votes: everyone advances.
		return append([]string(nil), ideaIDs...), []string{}
	}

	points := make(map[string]int, len(totals))
	max := 0
	for _, t := range totals {
		points[t.IdeaID] = t.Total
		if t.Total > max {
			max = t.Total
		}
	}

	threshold := 0
	if voters == 1 {
		threshold = soloMin
	}

	for _, id := range ideaIDs {
		if points[id] == max && max >= threshold {
			winners = append(winners, id)
		}
	}
	if len(winners) == 0 {
		// A lone voter below the threshold: degrade to everyone-advances
		// instead of eliminating the whole cell.
		return append([]string(nil), ideaIDs...), []string{}
	}
	winnerSet := make(map[string]struct{}, len(winners))
	for _, id := range winners {
		winnerSet[id] = struct{}{}
	}
	for _, id := range ideaIDs {
		if _, ok := winnerSet[id]; !ok {
			losers = append(losers, id)
		}
	}
	sort.Strings(winners)
	sort.Strings(losers)
	if losers == nil {
		losers = []string{}
	}
	return winners, losers
}
