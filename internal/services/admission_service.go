// Package services – AdmissionService
//
// This file implements late-joiner admission: inserting a new participant
// into the least-populated eligible cell of the current tier while voting is
// under way. Admission prefers the batch with the fewest seated participants
// (spreading newcomers across idea sets), then the smallest cell within it,
// and respects the 7-person hard cap; a full round defers the joiner to the
// next tier.
package services

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/averis/go-deliberation-backend/internal/domain"
	"github.com/averis/go-deliberation-backend/internal/repo"
)

// JoinOutcome is the structured result of AddLateJoinerToCell. CellID is set
// on success and on "already_in_cell", where it names the existing seat.
type JoinOutcome struct {
	Success bool   `json:"success"`
	Reason  string `json:"reason"`
	CellID  string `json:"cell_id,omitempty"`
}

// AdmissionService seats late joiners into running tiers.
type AdmissionService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB
}

// AddLateJoinerToCell admits userID into a voting cell of the deliberation's
// current tier.
//
// Outcomes:
//   - "not_in_voting_phase" when the deliberation is not voting.
//   - "already_in_cell" (with the existing cell ID) when the user is seated
//     at the current tier.
//   - "no_active_cells" when no cell is accepting votes.
//   - "round_full" when every eligible cell is at the hard cap.
//   - "joined" on success.
func (s *AdmissionService) AddLateJoinerToCell(ctx context.Context, deliberationID, userID string) (*JoinOutcome, error) {
	var out *JoinOutcome
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		d, err := repo.GetDeliberation(ctx, tx, deliberationID)
		if err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return ErrDeliberationNotFound
			}
			return err
		}
		if d.Phase != domain.PhaseVoting {
			out = &JoinOutcome{Success: false, Reason: ReasonNotInVotingPhase}
			return nil
		}

		if cellID, err := repo.FindParticipationCell(ctx, tx, d.ID, d.CurrentTier, userID); err == nil {
			out = &JoinOutcome{Success: false, Reason: ReasonAlreadyInCell, CellID: cellID}
			return nil
		} else if !errors.Is(err, repo.ErrNotFound) {
			return err
		}

		cells, err := repo.ListCellsByTier(ctx, tx, d.ID, d.CurrentTier)
		if err != nil {
			return err
		}
		var open []domain.Cell
		for _, c := range cells {
			if c.Status == domain.CellVoting {
				open = append(open, c)
			}
		}
		if len(open) == 0 {
			out = &JoinOutcome{Success: false, Reason: ReasonNoActiveCells}
			return nil
		}

		counts := make(map[string]int64, len(open))
		batchLoad := make(map[int]int64)
		for _, c := range open {
			n, err := repo.CountParticipants(ctx, tx, c.ID)
			if err != nil {
				return err
			}
			counts[c.ID] = n
			batchLoad[c.Batch] += n
		}

		// Least-populated batch first, then the smallest cell with a seat
		// left under the hard cap.
		var best *domain.Cell
		for i := range open {
			c := &open[i]
			if counts[c.ID] >= cellMaxSize {
				continue
			}
			if best == nil ||
				batchLoad[c.Batch] < batchLoad[best.Batch] ||
				(batchLoad[c.Batch] == batchLoad[best.Batch] && counts[c.ID] < counts[best.ID]) {
				best = c
			}
		}
		if best == nil {
			out = &JoinOutcome{Success: false, Reason: ReasonRoundFull}
			return nil
		}

		if _, err := repo.AddMember(ctx, tx, d.ID, userID); err != nil && !repo.IsUniqueViolation(err) {
			return err
		}
		if err := repo.AddParticipant(ctx, tx, best.ID, userID); err != nil {
			return err
		}
		out = &JoinOutcome{Success: true, Reason: ReasonJoined, CellID: best.ID}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
