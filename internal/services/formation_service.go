// Package services – FormationService
//
// This file implements the FormationService, which turns a deliberation's
// submission pool into the first voting tier: it partitions members into
// cells, spreads ideas across them, avoids seating authors with their own
// ideas where possible, and handles the degenerate pools (no ideas, a single
// idea, no participants) with structured outcomes instead of errors.
//
// The tier-building helper at the bottom is shared with the tier-advancement
// controller, which reuses it to construct normal next tiers and final
// showdowns.
package services

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/averis/go-deliberation-backend/internal/domain"
	"github.com/averis/go-deliberation-backend/internal/repo"
)

// StartOutcome is the structured result of StartVotingPhase. Reason is one of
// the Reason* codes; CellsCreated and ChampionID are filled when applicable.
type StartOutcome struct {
	Success      bool   `json:"success"`
	Reason       string `json:"reason"`
	CellsCreated int    `json:"cells_created,omitempty"`
	ChampionID   string `json:"champion_id,omitempty"`
}

// FormationService builds voting tiers out of ideas and members.
type FormationService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB

	// Rand drives the shuffles and is injectable for reproducible tests.
	// When nil, a time-seeded source is used.
	Rand *rand.Rand
}

// NewFormationService constructs a FormationService with a time-seeded
// shuffle source.
func NewFormationService(db *gorm.DB) *FormationService {
	return &FormationService{
		DB:   db,
		Rand: rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// StartVotingPhase moves a deliberation from submission into tier 1 voting.
//
// Semantics:
//   - The deliberation must be in the submission phase; any other phase is a
//     fatal ErrWrongPhase.
//   - 0 ideas: the run completes immediately with reason "no_ideas".
//   - 1 idea: it is the champion by default, reason "single_idea"; the run
//     completes, or enters accumulation when enabled.
//   - 0 members: outcome "insufficient_participants", nothing is mutated.
//   - Otherwise cells are created at tier 1 and the phase becomes voting.
//
// All mutations happen in one transaction.
func (s *FormationService) StartVotingPhase(ctx context.Context, deliberationID string) (*StartOutcome, error) {
	var out *StartOutcome
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		d, err := repo.GetDeliberation(ctx, tx, deliberationID)
		if err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return ErrDeliberationNotFound
			}
			return err
		}
		if d.Phase != domain.PhaseSubmission {
			return ErrWrongPhase
		}

		ideas, err := repo.ListIdeasByStatus(ctx, tx, d.ID, domain.IdeaSubmitted)
		if err != nil {
			return err
		}

		if len(ideas) == 0 {
			if err := tx.Model(d).Updates(map[string]any{
				"phase":             domain.PhaseCompleted,
				"completion_reason": ReasonNoIdeas,
			}).Error; err != nil {
				return err
			}
			log.Info().Str("deliberation_id", d.ID).Msg("completed without ideas")
			out = &StartOutcome{Success: false, Reason: ReasonNoIdeas}
			return nil
		}
		if len(ideas) == 1 {
			// A lone idea is champion by default, unless a defending
			// champion is waiting, in which case the challenger must still
			// earn its showdown.
			defending, err := repo.CountIdeasByStatus(ctx, tx, d.ID, domain.IdeaDefending)
			if err != nil {
				return err
			}
			if defending == 0 {
				if err := declareChampion(ctx, tx, d, ideas[0].ID, ReasonSingleIdea); err != nil {
					return err
				}
				out = &StartOutcome{Success: true, Reason: ReasonSingleIdea, ChampionID: ideas[0].ID}
				return nil
			}
		}

		members, err := repo.ListMemberIDs(ctx, tx, d.ID)
		if err != nil {
			return err
		}
		if len(members) == 0 {
			out = &StartOutcome{Success: false, Reason: ReasonInsufficientParticipants}
			return nil
		}

		ideaIDs := make([]string, len(ideas))
		authorOf := make(map[string]string, len(ideas))
		for i, it := range ideas {
			ideaIDs[i] = it.ID
			authorOf[it.ID] = it.AuthorID
		}

		created, err := s.buildTier(ctx, tx, d, tierSpec{
			tier:         1,
			ideaIDs:      ideaIDs,
			participants: members,
			authorOf:     authorOf,
		})
		if err != nil {
			return err
		}

		if err := tx.Model(d).Updates(map[string]any{
			"phase":        domain.PhaseVoting,
			"current_tier": 1,
		}).Error; err != nil {
			return err
		}

		log.Info().
			Str("deliberation_id", d.ID).
			Int("cells", created).
			Int("ideas", len(ideas)).
			Int("members", len(members)).
			Msg("voting phase started")
		out = &StartOutcome{Success: true, Reason: ReasonVotingStarted, CellsCreated: created}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// tierSpec describes one tier to construct. When showdown is set the full
// idea set is replicated into every cell; otherwise ideas are split into
// batches and each batch's set is shared by the cells assigned to it.
type tierSpec struct {
	tier         int
	ideaIDs      []string
	participants []string
	authorOf     map[string]string // ideaID → author, empty past tier 1
	showdown     bool
}

// buildTier creates the cells, idea links, and seats for one tier, and moves
// the tier's ideas into in_voting. Returns the number of cells created.
func (s *FormationService) buildTier(ctx context.Context, tx *gorm.DB, d *domain.Deliberation, spec tierSpec) (int, error) {
	rng := s.rng()

	ideaIDs := append([]string(nil), spec.ideaIDs...)
	participants := append([]string(nil), spec.participants...)
	rng.Shuffle(len(ideaIDs), func(i, j int) { ideaIDs[i], ideaIDs[j] = ideaIDs[j], ideaIDs[i] })
	rng.Shuffle(len(participants), func(i, j int) { participants[i], participants[j] = participants[j], participants[i] })

	cellSizes := CalculateCellSizes(len(participants))

	// Partition ideas into batches. A showdown has a single batch replicated
	// everywhere; a normal tier gets one batch per cell when the pool allows,
	// falling back to fewer batches (cells sharing a set) when there are not
	// enough ideas to give every cell at least one.
	var batches [][]string
	if spec.showdown {
		batches = [][]string{ideaIDs}
	} else {
		batchCount := len(cellSizes)
		if len(ideaIDs) < batchCount {
			batchCount = len(ideaIDs)
		}
		if spec.tier > 1 {
			// Later tiers keep at least two ideas per set so every cell has
			// a real contest, replicating sets across sibling cells instead.
			if half := len(ideaIDs) / 2; half < batchCount {
				batchCount = half
			}
			if batchCount < 1 {
				batchCount = 1
			}
		}
		sizes := CalculateIdeaSizes(len(ideaIDs), batchCount)
		offset := 0
		for _, sz := range sizes {
			batches = append(batches, ideaIDs[offset:offset+sz])
			offset += sz
		}
	}

	// Seat participants per cell sizes, then try to unseat authors from
	// cells containing their own idea.
	seats := make([][]string, len(cellSizes))
	offset := 0
	for i, sz := range cellSizes {
		seats[i] = participants[offset : offset+sz]
		offset += sz
	}
	cellBatch := make([]int, len(cellSizes))
	for i := range cellBatch {
		cellBatch[i] = i % len(batches)
	}
	if len(spec.authorOf) > 0 {
		avoidAuthorConflicts(seats, cellBatch, batches, spec.authorOf)
	}

	status := domain.CellVoting
	period := time.Duration(d.VotingSeconds) * time.Second
	if d.DiscussionSeconds > 0 {
		status = domain.CellDeliberating
		period = time.Duration(d.DiscussionSeconds) * time.Second
	}
	var finalizesAt *time.Time
	if period > 0 {
		t := time.Now().UTC().Add(period)
		finalizesAt = &t
	}

	for i := range cellSizes {
		cell := &domain.Cell{
			DeliberationID: d.ID,
			Tier:           spec.tier,
			Batch:          cellBatch[i],
			Status:         status,
			Showdown:       spec.showdown,
			FinalizesAt:    finalizesAt,
		}
		if err := repo.CreateCell(ctx, tx, cell); err != nil {
			return 0, err
		}
		for _, ideaID := range batches[cellBatch[i]] {
			if err := repo.AddCellIdea(ctx, tx, cell.ID, ideaID); err != nil {
				return 0, err
			}
		}
		for _, userID := range seats[i] {
			if err := repo.AddParticipant(ctx, tx, cell.ID, userID); err != nil {
				return 0, err
			}
		}
	}

	if err := tx.Model(&domain.Idea{}).
		Where("id IN ?", ideaIDs).
		Updates(map[string]any{"status": domain.IdeaInVoting, "tier": spec.tier, "is_new": false}).Error; err != nil {
		return 0, err
	}
	return len(cellSizes), nil
}

// avoidAuthorConflicts tries a first-fit swap for every participant seated in
// a cell voting on their own idea. A swap is taken only when it resolves the
// conflict without creating a new one on either side; in very small pools no
// such swap may exist and the conflict is accepted.
func avoidAuthorConflicts(seats [][]string, cellBatch []int, batches [][]string, authorOf map[string]string) {
	// authoredIn reports whether userID wrote any idea in the batch.
	authoredIn := func(userID string, batch int) bool {
		for _, ideaID := range batches[batch] {
			if authorOf[ideaID] == userID {
				return true
			}
		}
		return false
	}

	for i := range seats {
		for pi, userID := range seats[i] {
			if !authoredIn(userID, cellBatch[i]) {
				continue
			}
			swapped := false
			for j := range seats {
				if j == i || swapped {
					continue
				}
				if authoredIn(userID, cellBatch[j]) {
					continue
				}
				for pj, other := range seats[j] {
					if authoredIn(other, cellBatch[i]) {
						continue
					}
					seats[i][pi], seats[j][pj] = other, userID
					swapped = true
					break
				}
			}
		}
	}
}

// rng returns the injected random source, creating a time-seeded one on
// first use when none was provided.
func (s *FormationService) rng() *rand.Rand {
	if s.Rand == nil {
		s.Rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return s.Rand
}
