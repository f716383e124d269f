// Package services – TierService
//
// This file implements the tier-advancement controller, the top-level state
// machine of the tournament. CheckTierCompletion is a pure read-then-decide
// function: it is safe to call redundantly from any number of workers, and a
// replay after an already-processed advancement is a no-op. When the last
// cell of a tier completes it decides between three continuations: declare a
// champion, enter the final showdown (backfilling runner-ups to the target
// size), or build a normal next tier.
//
// No lock is held across processes; the cross-cell synchronization barrier is
// the tier itself: advancement only fires when every sibling cell has passed
// its own guarded completion, and the currentTier/phase check at the top
// makes duplicate firings harmless.
package services

import (
	"context"
	"errors"
	"math/rand"
	"sort"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/averis/go-deliberation-backend/internal/domain"
	"github.com/averis/go-deliberation-backend/internal/repo"
)

// ReasonChampionDeclared is recorded when a tournament run produces a
// champion through tiered voting (as opposed to the single-idea shortcut).
const ReasonChampionDeclared = "champion_declared"

// TierService advances deliberations between tiers.
type TierService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB
	// Formation builds the cells of new tiers.
	Formation *FormationService

	// ShowdownTarget is the idea count the final showdown is backfilled
	// toward (default 5 via NewTierService).
	ShowdownTarget int

	// Rand drives backfill tie-break sampling. Injectable so tests can fix
	// the seed; the sampling is the one genuinely nondeterministic step of
	// an advancement.
	Rand *rand.Rand
}

// NewTierService constructs a TierService with the standard showdown target.
func NewTierService(db *gorm.DB, formation *FormationService) *TierService {
	return &TierService{
		DB:             db,
		Formation:      formation,
		ShowdownTarget: 5,
		Rand:           rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// CheckTierCompletion inspects the given tier and advances the deliberation
// when every cell has completed. Idempotent: stale or duplicate calls
// (wrong tier, wrong phase, unfinished cells) return nil without mutating
// anything.
func (s *TierService) CheckTierCompletion(ctx context.Context, deliberationID string, tier int) error {
	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		d, err := repo.GetDeliberation(ctx, tx, deliberationID)
		if err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return ErrDeliberationNotFound
			}
			return err
		}
		if d.Phase != domain.PhaseVoting || d.CurrentTier != tier {
			log.Debug().
				Str("deliberation_id", deliberationID).
				Int("tier", tier).
				Str("phase", d.Phase).
				Msg("tier check no-op")
			return nil
		}

		total, done, err := repo.TierProgress(ctx, tx, deliberationID, tier)
		if err != nil {
			return err
		}
		if total == 0 || done < total {
			return nil
		}

		cells, err := repo.ListCellsByTier(ctx, tx, deliberationID, tier)
		if err != nil {
			return err
		}
		if cells[0].Showdown {
			return s.resolveShowdown(ctx, tx, d, tier)
		}

		advancing, err := repo.ListIdeasByStatus(ctx, tx, d.ID, domain.IdeaAdvancing)
		if err != nil {
			return err
		}
		defending, err := repo.ListIdeasByStatus(ctx, tx, d.ID, domain.IdeaDefending)
		if err != nil {
			return err
		}

		advIDs := ideaIDsOf(advancing)
		if err := s.promoteTopComment(ctx, tx, advIDs, tier); err != nil {
			return err
		}

		switch {
		case len(advancing) == 0:
			// Unreachable with the never-eliminate-on-zero-input rules, but
			// a stalled tier must not wedge the run.
			log.Warn().Str("deliberation_id", d.ID).Int("tier", tier).Msg("tier completed with no advancing ideas")
			return nil
		case len(advancing) == 1 && len(defending) == 0:
			return declareChampion(ctx, tx, d, advancing[0].ID, ReasonChampionDeclared)
		case len(advancing) <= s.ShowdownTarget:
			return s.buildShowdown(ctx, tx, d, tier, advIDs, ideaIDsOf(defending))
		default:
			return s.buildNextTier(ctx, tx, d, tier, advIDs)
		}
	})
}

// resolveShowdown performs the cross-cell tally for a completed showdown
// tier and declares the champion. Ideas of a showdown stay in_voting during
// per-cell resolution, so the candidates are exactly the in_voting set.
func (s *TierService) resolveShowdown(ctx context.Context, tx *gorm.DB, d *domain.Deliberation, tier int) error {
	candidates, err := repo.ListIdeasByStatus(ctx, tx, d.ID, domain.IdeaInVoting)
	if err != nil {
		return err
	}
	if len(candidates) == 0 {
		log.Warn().Str("deliberation_id", d.ID).Int("tier", tier).Msg("showdown completed with no candidates")
		return nil
	}

	totals, err := repo.TallyTier(ctx, tx, d.ID, tier)
	if err != nil {
		return err
	}
	points := make(map[string]int, len(totals))
	for _, t := range totals {
		points[t.IdeaID] = t.Total
	}

	max := -1
	for _, c := range candidates {
		if points[c.ID] > max {
			max = points[c.ID]
		}
	}
	var tied []domain.Idea
	for _, c := range candidates {
		if points[c.ID] == max {
			tied = append(tied, c)
		}
	}

	winner := tied[0]
	if len(tied) > 1 {
		// A cross-cell tie is a permitted edge case but the run must end
		// with one champion: break by cumulative support over the whole
		// run, then by earliest submission.
		runTotals, err := repo.TallyDeliberation(ctx, tx, d.ID)
		if err != nil {
			return err
		}
		cumulative := make(map[string]int, len(runTotals))
		for _, t := range runTotals {
			cumulative[t.IdeaID] = t.Total
		}
		sort.Slice(tied, func(i, j int) bool {
			if cumulative[tied[i].ID] != cumulative[tied[j].ID] {
				return cumulative[tied[i].ID] > cumulative[tied[j].ID]
			}
			return tied[i].CreatedAt.Before(tied[j].CreatedAt)
		})
		winner = tied[0]
	}

	var loserIDs []string
	for _, c := range candidates {
		if c.ID != winner.ID {
			loserIDs = append(loserIDs, c.ID)
		}
	}
	if err := repo.EliminateIdeas(ctx, tx, loserIDs); err != nil {
		return err
	}

	// A dethroned champion keeps its history but loses the title.
	if d.ChampionID != nil && *d.ChampionID != winner.ID {
		if err := tx.Model(&domain.Idea{}).
			Where("id = ?", *d.ChampionID).
			Update("is_champion", false).Error; err != nil {
			return err
		}
	}

	return declareChampion(ctx, tx, d, winner.ID, ReasonChampionDeclared)
}

// buildShowdown backfills the advancing set toward the showdown target with
// the tier's strongest eliminated ideas and builds the showdown tier: every
// member is seated, every cell votes on the identical idea set.
func (s *TierService) buildShowdown(ctx context.Context, tx *gorm.DB, d *domain.Deliberation, tier int, advancing, defending []string) error {
	need := s.ShowdownTarget - len(advancing)
	var revived []string
	if need > 0 {
		var err error
		revived, err = s.backfill(ctx, tx, d, tier, need)
		if err != nil {
			return err
		}
		if err := repo.AdvanceIdeas(ctx, tx, revived); err != nil {
			return err
		}
	}

	ideaSet := append(append(append([]string(nil), advancing...), revived...), defending...)
	members, err := repo.ListMemberIDs(ctx, tx, d.ID)
	if err != nil {
		return err
	}

	next := tier + 1
	if _, err := s.Formation.buildTier(ctx, tx, d, tierSpec{
		tier:         next,
		ideaIDs:      ideaSet,
		participants: members,
		showdown:     true,
	}); err != nil {
		return err
	}
	if err := tx.Model(d).Update("current_tier", next).Error; err != nil {
		return err
	}

	tiersAdvanced.WithLabelValues("showdown").Inc()
	log.Info().
		Str("deliberation_id", d.ID).
		Int("tier", next).
		Int("ideas", len(ideaSet)).
		Int("revived", len(revived)).
		Msg("final showdown started")
	return nil
}

// backfill selects up to need eliminated ideas from the tier, ranked by
// total vote count descending. All ideas tied at the cutoff rank are
// included, allowing the showdown to exceed the target slightly; when the
// tied group is far larger than the open slots it is sampled uniformly at
// random instead.
func (s *TierService) backfill(ctx context.Context, tx *gorm.DB, d *domain.Deliberation, tier, need int) ([]string, error) {
	eliminated, err := repo.ListIdeasByStatus(ctx, tx, d.ID, domain.IdeaEliminated)
	if err != nil {
		return nil, err
	}
	var pool []domain.Idea
	for _, e := range eliminated {
		if e.Tier == tier {
			pool = append(pool, e)
		}
	}
	if len(pool) == 0 {
		return nil, nil
	}
	if len(pool) <= need {
		return ideaIDsOf(pool), nil
	}

	totals, err := repo.TallyTier(ctx, tx, d.ID, tier)
	if err != nil {
		return nil, err
	}
	points := make(map[string]int, len(totals))
	for _, t := range totals {
		points[t.IdeaID] = t.Total
	}
	sort.Slice(pool, func(i, j int) bool { return points[pool[i].ID] > points[pool[j].ID] })

	cutoff := points[pool[need-1].ID]
	var above, tied []string
	for _, p := range pool {
		switch {
		case points[p.ID] > cutoff:
			above = append(above, p.ID)
		case points[p.ID] == cutoff:
			tied = append(tied, p.ID)
		}
	}

	slots := need - len(above)
	if len(tied)-slots <= 2 {
		return append(above, tied...), nil
	}
	// Far more ties than open slots: sample uniformly to approach the target.
	s.rng().Shuffle(len(tied), func(i, j int) { tied[i], tied[j] = tied[j], tied[i] })
	return append(above, tied[:slots]...), nil
}

// buildNextTier batches the advancing ideas into a normal next tier and
// redistributes every member across its cells.
func (s *TierService) buildNextTier(ctx context.Context, tx *gorm.DB, d *domain.Deliberation, tier int, advancing []string) error {
	members, err := repo.ListMemberIDs(ctx, tx, d.ID)
	if err != nil {
		return err
	}
	next := tier + 1
	created, err := s.Formation.buildTier(ctx, tx, d, tierSpec{
		tier:         next,
		ideaIDs:      advancing,
		participants: members,
	})
	if err != nil {
		return err
	}
	if err := tx.Model(d).Update("current_tier", next).Error; err != nil {
		return err
	}

	tiersAdvanced.WithLabelValues("next_tier").Inc()
	log.Info().
		Str("deliberation_id", d.ID).
		Int("tier", next).
		Int("ideas", len(advancing)).
		Int("cells", created).
		Msg("tier advanced")
	return nil
}

// promoteTopComment lifts the most upvoted comment attached to any idea that
// just advanced into the next tier, giving it a fresh spread cycle there.
func (s *TierService) promoteTopComment(ctx context.Context, tx *gorm.DB, advancing []string, tier int) error {
	top, err := repo.TopIdeaComment(ctx, tx, advancing, tier)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil
		}
		return err
	}
	return repo.PromoteComment(ctx, tx, top.ID, tier+1)
}

// declareChampion marks the idea as the tournament winner and moves the
// deliberation to its terminal phase: completed, or accumulating when
// rolling mode is enabled.
func declareChampion(ctx context.Context, tx *gorm.DB, d *domain.Deliberation, ideaID, reason string) error {
	if err := tx.Model(&domain.Idea{}).
		Where("id = ?", ideaID).
		Updates(map[string]any{"status": domain.IdeaWinner, "is_champion": true}).Error; err != nil {
		return err
	}

	updates := map[string]any{
		"champion_id":       ideaID,
		"completion_reason": reason,
	}
	if d.AccumulationEnabled {
		endsAt := time.Now().UTC().Add(time.Duration(d.AccumulationSeconds) * time.Second)
		updates["phase"] = domain.PhaseAccumulating
		updates["accumulation_ends_at"] = endsAt
	} else {
		updates["phase"] = domain.PhaseCompleted
	}
	if err := tx.Model(d).Updates(updates).Error; err != nil {
		return err
	}

	championsDeclared.Inc()
	log.Info().
		Str("deliberation_id", d.ID).
		Str("champion_id", ideaID).
		Str("reason", reason).
		Bool("accumulating", d.AccumulationEnabled).
		Msg("champion declared")
	return nil
}

// rng returns the injected random source, creating a time-seeded one on
// first use when none was provided.
func (s *TierService) rng() *rand.Rand {
	if s.Rand == nil {
		s.Rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return s.Rand
}

// ideaIDsOf extracts the IDs from a slice of ideas.
func ideaIDsOf(ideas []domain.Idea) []string {
	out := make([]string, len(ideas))
	for i, it := range ideas {
		out[i] = it.ID
	}
	return out
}
