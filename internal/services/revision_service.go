// Package services – RevisionService
//
// This file implements the idea-revision mini-workflow: a participant
// proposes an edited text for an idea in their cell, and a majority of the
// idea's other cell participants must approve before the idea text changes.
// The approval threshold is max(1, ceil(others/2)). At most one revision per
// idea may be pending at a time, and the approving vote updates the revision
// and the idea in one transaction.
package services

import (
	"context"
	"errors"
	"unicode/utf8"

	"gorm.io/gorm"

	"github.com/averis/go-deliberation-backend/internal/domain"
	"github.com/averis/go-deliberation-backend/internal/repo"
	"github.com/averis/go-deliberation-backend/internal/utils"
)

// RevisionService manages proposed edits to ideas under vote.
type RevisionService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB

	// MaxIdeaRunes caps revision texts by rune length.
	MaxIdeaRunes int
}

// NewRevisionService constructs a RevisionService with a sane length cap.
func NewRevisionService(db *gorm.DB) *RevisionService {
	return &RevisionService{DB: db, MaxIdeaRunes: 2000}
}

// Propose opens a pending revision for an idea currently under vote. The
// proposer must be seated in the cell voting on the idea, and the idea must
// not already have a pending revision.
func (s *RevisionService) Propose(ctx context.Context, userID, ideaID, text string) (*domain.IdeaRevision, error) {
	text = normalizeText(text)
	if text == "" {
		return nil, ErrEmptyText
	}
	if s.MaxIdeaRunes > 0 && utf8.RuneCountInString(text) > s.MaxIdeaRunes {
		return nil, ErrTextTooLong
	}

	var out *domain.IdeaRevision
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		idea, err := repo.GetIdea(ctx, tx, ideaID)
		if err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return ErrIdeaNotFound
			}
			return err
		}
		if idea.Status != domain.IdeaInVoting {
			return ErrWrongPhase
		}

		_, participants, err := s.ideaCellParticipants(ctx, tx, idea)
		if err != nil {
			return err
		}
		if !contains(participants, userID) {
			return ErrNotParticipant
		}

		pending, err := repo.HasPendingRevision(ctx, tx, ideaID)
		if err != nil {
			return err
		}
		if pending {
			return ErrPendingRevision
		}

		others := len(participants) - 1
		required := utils.CeilDiv(others, 2)
		if required < 1 {
			required = 1
		}
		out, err = repo.CreateRevision(ctx, tx, ideaID, userID, text, required)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Vote records a non-proposer participant's approval or rejection of a
// pending revision. Reaching the approval threshold replaces the idea text
// and marks the revision approved in the same transaction; once rejections
// make the threshold unreachable the revision is rejected.
func (s *RevisionService) Vote(ctx context.Context, userID, revisionID string, approve bool) (*domain.IdeaRevision, error) {
	var out *domain.IdeaRevision
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		rev, err := repo.GetRevision(ctx, tx, revisionID)
		if err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return ErrRevisionNotFound
			}
			return err
		}
		if rev.Status != domain.RevisionPending {
			return ErrRevisionClosed
		}
		if rev.ProposerID == userID {
			return ErrProposerVote
		}

		idea, err := repo.GetIdea(ctx, tx, rev.IdeaID)
		if err != nil {
			return err
		}
		_, participants, err := s.ideaCellParticipants(ctx, tx, idea)
		if err != nil {
			return err
		}
		if !contains(participants, userID) {
			return ErrNotParticipant
		}

		if err := repo.AddRevisionVote(ctx, tx, revisionID, userID, approve); err != nil {
			if repo.IsUniqueViolation(err) {
				return ErrDuplicateRevisionVote
			}
			return err
		}

		approvals, rejections, err := repo.CountRevisionVotes(ctx, tx, revisionID)
		if err != nil {
			return err
		}

		others := len(participants) - 1
		switch {
		case approvals >= int64(rev.Required):
			// Approval and text replacement are one atomic unit.
			if err := tx.Model(&domain.IdeaRevision{}).
				Where("id = ?", revisionID).
				Update("status", domain.RevisionApproved).Error; err != nil {
				return err
			}
			if err := tx.Model(&domain.Idea{}).
				Where("id = ?", rev.IdeaID).
				Update("text", rev.Text).Error; err != nil {
				return err
			}
			rev.Status = domain.RevisionApproved
		case rejections > int64(others-rev.Required):
			if err := tx.Model(&domain.IdeaRevision{}).
				Where("id = ?", revisionID).
				Update("status", domain.RevisionRejected).Error; err != nil {
				return err
			}
			rev.Status = domain.RevisionRejected
		}
		out = rev
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ideaCellParticipants resolves the cell currently voting on the idea and
// its seated participants.
func (s *RevisionService) ideaCellParticipants(ctx context.Context, tx *gorm.DB, idea *domain.Idea) (string, []string, error) {
	var cellID string
	err := tx.WithContext(ctx).
		Model(&domain.CellIdea{}).
		Joins("JOIN cells ON cells.id = cell_ideas.cell_id").
		Where("cell_ideas.idea_id = ? AND cells.tier = ?", idea.ID, idea.Tier).
		Order("cells.created_at asc").
		Limit(1).
		Pluck("cell_ideas.cell_id", &cellID).Error
	if err != nil {
		return "", nil, err
	}
	if cellID == "" {
		return "", nil, ErrCellNotFound
	}
	participants, err := repo.ListParticipantIDs(ctx, tx, cellID)
	return cellID, participants, err
}
