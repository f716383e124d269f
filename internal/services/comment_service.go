// Package services – CommentService
//
// This file implements comment intake, upvoting, and the viral-spread
// visibility rule. Spread is a pure function of stable inputs: a comment
// with spread budget s attached to an idea shared by n cells is visible in a
// sibling cell iff a stable hash of (comment, cell) lands inside the budget.
// No state records where a comment has spread; the same inputs always
// reproduce the same visibility, across calls and across processes.
package services

import (
	"context"
	"errors"
	"hash/fnv"
	"unicode/utf8"

	"gorm.io/gorm"

	"github.com/averis/go-deliberation-backend/internal/domain"
	"github.com/averis/go-deliberation-backend/internal/repo"
)

// CommentService manages cell comments and their propagation.
type CommentService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB

	// MaxCommentRunes caps stored comments by rune length.
	MaxCommentRunes int
}

// NewCommentService constructs a CommentService with a sane length cap.
func NewCommentService(db *gorm.DB) *CommentService {
	return &CommentService{DB: db, MaxCommentRunes: 1000}
}

// Add records a comment by a participant of the cell, optionally attached to
// one of the cell's ideas. Unlinked comments stay local to their cell
// forever; idea-linked comments earn spread through upvotes.
func (s *CommentService) Add(ctx context.Context, userID, cellID, text string, ideaID *string) (*domain.Comment, error) {
	text = normalizeText(text)
	if text == "" {
		return nil, ErrEmptyText
	}
	if s.MaxCommentRunes > 0 && utf8.RuneCountInString(text) > s.MaxCommentRunes {
		return nil, ErrTextTooLong
	}

	var out *domain.Comment
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		cell, err := repo.GetCell(ctx, tx, cellID)
		if err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return ErrCellNotFound
			}
			return err
		}
		participants, err := repo.ListParticipantIDs(ctx, tx, cellID)
		if err != nil {
			return err
		}
		if !contains(participants, userID) {
			return ErrNotParticipant
		}
		if ideaID != nil {
			ideaIDs, err := repo.ListCellIdeaIDs(ctx, tx, cellID)
			if err != nil {
				return err
			}
			if !contains(ideaIDs, *ideaID) {
				return ErrIdeaNotInCell
			}
		}
		out, err = repo.CreateComment(ctx, tx, cellID, userID, text, ideaID, cell.Tier)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Upvote records userID's upvote on the comment, at most once per user, and
// rederives the comment's spread budget (floor(upvotes/2), idea-linked
// comments only).
func (s *CommentService) Upvote(ctx context.Context, userID, commentID string) error {
	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		c, err := repo.GetComment(ctx, tx, commentID)
		if err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return ErrCommentNotFound
			}
			return err
		}
		if err := repo.AddUpvote(ctx, tx, commentID, userID); err != nil {
			if repo.IsUniqueViolation(err) {
				return ErrDuplicateUpvote
			}
			return err
		}
		return repo.BumpUpvoteCounters(ctx, tx, commentID, c.IdeaID != nil)
	})
}

// VisibleComments returns the comments a participant of cellID should see:
// everything that originated in the cell, idea-linked comments from sibling
// cells that have spread here, and comments promoted from a lower tier along
// with one of the cell's ideas.
func (s *CommentService) VisibleComments(ctx context.Context, cellID string) ([]domain.Comment, error) {
	cell, err := repo.GetCell(ctx, s.DB, cellID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrCellNotFound
		}
		return nil, err
	}

	local, err := repo.ListCellComments(ctx, s.DB, cellID, cell.Tier)
	if err != nil {
		return nil, err
	}
	out := append([]domain.Comment(nil), local...)

	ideaIDs, err := repo.ListCellIdeaIDs(ctx, s.DB, cellID)
	if err != nil {
		return nil, err
	}
	candidates, err := repo.ListIdeaComments(ctx, s.DB, ideaIDs, cell.Tier)
	if err != nil {
		return nil, err
	}

	// Spread denominators are computed per idea; within one tier the cell
	// count sharing an idea only changes when the tier is rebuilt, so the
	// visibility below is stable for the tier's lifetime.
	shared := make(map[string]int64, len(ideaIDs))
	originTiers := make(map[string]int)
	for _, c := range candidates {
		if c.CellID == cellID {
			continue // already in local
		}
		originTier, ok := originTiers[c.CellID]
		if !ok {
			origin, err := repo.GetCell(ctx, s.DB, c.CellID)
			if err != nil {
				return nil, err
			}
			originTier = origin.Tier
			originTiers[c.CellID] = originTier
		}
		if originTier < cell.Tier {
			// Promoted from a lower tier: the comment rides with its idea
			// into the cells that vote on it here, seeding the fresh spread
			// cycle. Its origin cell no longer exists at this tier, so the
			// hash gate below would otherwise hide it everywhere.
			out = append(out, c)
			continue
		}
		n, ok := shared[*c.IdeaID]
		if !ok {
			n, err = repo.CountCellsSharingIdea(ctx, s.DB, *c.IdeaID, cell.Tier)
			if err != nil {
				return nil, err
			}
			shared[*c.IdeaID] = n
		}
		if ShouldSeeComment(c.ID, cellID, c.SpreadCount, int(n)) {
			out = append(out, c)
		}
	}
	return out, nil
}

// ShouldSeeComment reports whether a comment with the given spread budget is
// visible in a non-origin cell among totalCells cells sharing its idea.
//
// The decision is a pure function: a stable FNV-1a hash of the (comment,
// cell) pair is reduced modulo totalCells, and the comment is visible where
// the residue falls below the budget. Identical inputs always produce the
// identical answer, in any process, in any order of evaluation.
func ShouldSeeComment(commentID, targetCellID string, spreadCount, totalCells int) bool {
	if spreadCount <= 0 || totalCells <= 0 {
		return false
	}
	if spreadCount >= totalCells {
		return true
	}
	h := fnv.New64a()
	h.Write([]byte(commentID))
	h.Write([]byte{'|'})
	h.Write([]byte(targetCellID))
	return h.Sum64()%uint64(totalCells) < uint64(spreadCount)
}

// contains reports whether needle is present in haystack.
func contains(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}
