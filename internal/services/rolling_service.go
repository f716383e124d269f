// Package services – RollingService
//
// This file implements the post-champion challenge-round controller. With
// accumulation enabled, a declared champion opens a timed window during
// which new ideas arrive as challengers. When the window expires (an
// external scheduler calls ExpireAccumulation, the same way timers drive
// cell resolution), once-beaten ideas rejoin the new challengers,
// twice-beaten ideas are retired or benched, and the champion is seeded
// directly into the final showdown as the defender. Three consecutive empty
// windows finalize the deliberation for good.
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

// RollingOutcome is the structured result of ExpireAccumulation.
type RollingOutcome struct {
	Success        bool   `json:"success"`
	Reason         string `json:"reason"`
	ChallengeRound int    `json:"challenge_round,omitempty"`
	Retired        int    `json:"retired,omitempty"`
	Benched        int    `json:"benched,omitempty"`
}

// RollingService runs accumulation windows and challenge rounds.
type RollingService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB
	// Formation starts the challenge round's tier 1.
	Formation *FormationService

	// MaxEmptyWindows is how many consecutive challenger-less windows are
	// tolerated before the deliberation is permanently finalized.
	MaxEmptyWindows int
	// MinChallengers is the number of playable challengers a round needs
	// before twice-beaten ideas may be retired rather than benched.
	MinChallengers int
}

// NewRollingService constructs a RollingService with the standard limits.
func NewRollingService(db *gorm.DB, formation *FormationService) *RollingService {
	return &RollingService{
		DB:              db,
		Formation:       formation,
		MaxEmptyWindows: 3,
		MinChallengers:  2,
	}
}

// ExpireAccumulation closes the current accumulation window.
//
// With no new challengers the window either renews or, after MaxEmptyWindows
// consecutive empty ones, finalizes the deliberation. With challengers a
// challenge round starts: eliminated and benched ideas rejoin the pool,
// twice-beaten ideas leave it (retired when enough playable ideas remain,
// benched otherwise), the champion becomes the defender, and tier 1 is
// formed from the rest.
func (s *RollingService) ExpireAccumulation(ctx context.Context, deliberationID string) (*RollingOutcome, error) {
	var (
		out        *RollingOutcome
		startRound bool
	)
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		d, err := repo.GetDeliberation(ctx, tx, deliberationID)
		if err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return ErrDeliberationNotFound
			}
			return err
		}
		if d.Phase != domain.PhaseAccumulating {
			return ErrWrongPhase
		}

		challengers, err := repo.ListIdeasByStatus(ctx, tx, d.ID, domain.IdeaSubmitted)
		if err != nil {
			return err
		}

		if len(challengers) == 0 {
			empty := d.EmptyWindows + 1
			if empty >= s.MaxEmptyWindows {
				if err := tx.Model(d).Updates(map[string]any{
					"phase":         domain.PhaseCompleted,
					"empty_windows": empty,
				}).Error; err != nil {
					return err
				}
				log.Info().Str("deliberation_id", d.ID).Msg("deliberation finalized after empty windows")
				out = &RollingOutcome{Success: true, Reason: ReasonFinalized}
				return nil
			}
			endsAt := time.Now().UTC().Add(time.Duration(d.AccumulationSeconds) * time.Second)
			if err := tx.Model(d).Updates(map[string]any{
				"empty_windows":        empty,
				"accumulation_ends_at": endsAt,
			}).Error; err != nil {
				return err
			}
			out = &RollingOutcome{Success: true, Reason: ReasonWindowExtended}
			return nil
		}

		// Beaten ideas re-enter alongside the new challengers: one loss only
		// costs an idea the round it lost, a second loss takes it out of
		// play. Without this re-entry the losses counter could never reach
		// two.
		rejoining, err := repo.ListIdeasByStatus(ctx, tx, d.ID, domain.IdeaBenched, domain.IdeaEliminated)
		if err != nil {
			return err
		}
		pool := append(append([]domain.Idea(nil), challengers...), rejoining...)

		var playable, beaten []domain.Idea
		for _, idea := range pool {
			if idea.Losses >= 2 {
				beaten = append(beaten, idea)
			} else {
				playable = append(playable, idea)
			}
		}

		retired, benchedNow := 0, 0
		if len(beaten) > 0 {
			if len(playable) >= s.MinChallengers {
				if err := repo.UpdateIdeaStatus(ctx, tx, ideaIDsOf(beaten), domain.IdeaRetired); err != nil {
					return err
				}
				retired = len(beaten)
			} else {
				if err := repo.UpdateIdeaStatus(ctx, tx, ideaIDsOf(beaten), domain.IdeaBenched); err != nil {
					return err
				}
				benchedNow = len(beaten)
			}
		}

		// Survivors re-enter the submission pool for the new round.
		if err := repo.UpdateIdeaStatus(ctx, tx, ideaIDsOf(playable), domain.IdeaSubmitted); err != nil {
			return err
		}

		// The champion skips the early rounds and waits for the showdown.
		if d.ChampionID != nil {
			if err := tx.Model(&domain.Idea{}).
				Where("id = ?", *d.ChampionID).
				Update("status", domain.IdeaDefending).Error; err != nil {
				return err
			}
		}

		round := d.ChallengeRound + 1
		if err := tx.Model(d).Updates(map[string]any{
			"phase":           domain.PhaseSubmission,
			"challenge_round": round,
			"empty_windows":   0,
			"current_tier":    0,
			"champion_id":     d.ChampionID, // title holds until dethroned
		}).Error; err != nil {
			return err
		}

		log.Info().
			Str("deliberation_id", d.ID).
			Int("challenge_round", round).
			Int("challengers", len(playable)).
			Int("retired", retired).
			Int("benched", benchedNow).
			Msg("challenge round starting")
		out = &RollingOutcome{
			Success:        true,
			Reason:         ReasonChallengeStarted,
			ChallengeRound: round,
			Retired:        retired,
			Benched:        benchedNow,
		}
		startRound = true
		return nil
	})
	if err != nil {
		return nil, err
	}

	if startRound {
		if _, err := s.Formation.StartVotingPhase(ctx, deliberationID); err != nil {
			return nil, err
		}
	}
	return out, nil
}
