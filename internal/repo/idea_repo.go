// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Idea model.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/averis/go-deliberation-backend/internal/domain"
)

// CreateIdea inserts a new Idea row in the submitted status. IsNew marks
// challengers submitted during an accumulation window.
func CreateIdea(ctx context.Context, db *gorm.DB, deliberationID, authorID, text string, isNew bool) (*domain.Idea, error) {
	i := &domain.Idea{
		ID:             uuid.NewString(),
		DeliberationID: deliberationID,
		AuthorID:       authorID,
		Text:           text,
		Status:         domain.IdeaSubmitted,
		IsNew:          isNew,
		CreatedAt:      time.Now().UTC(),
	}
	if err := db.WithContext(ctx).Create(i).Error; err != nil {
		return nil, err
	}
	return i, nil
}

// GetIdea fetches an idea by ID, or ErrNotFound if missing.
func GetIdea(ctx context.Context, db *gorm.DB, id string) (*domain.Idea, error) {
	var i domain.Idea
	if err := db.WithContext(ctx).First(&i, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &i, nil
}

// ListIdeasByStatus returns the deliberation's ideas in any of the given
// statuses, ordered by creation time ascending.
func ListIdeasByStatus(ctx context.Context, db *gorm.DB, deliberationID string, statuses ...string) ([]domain.Idea, error) {
	var out []domain.Idea
	err := db.WithContext(ctx).
		Where("deliberation_id = ? AND status IN ?", deliberationID, statuses).
		Order("created_at asc").
		Find(&out).Error
	return out, err
}

// CountIdeasByStatus returns the number of the deliberation's ideas in any of
// the given statuses.
func CountIdeasByStatus(ctx context.Context, db *gorm.DB, deliberationID string, statuses ...string) (int64, error) {
	var n int64
	err := db.WithContext(ctx).
		Model(&domain.Idea{}).
		Where("deliberation_id = ? AND status IN ?", deliberationID, statuses).
		Count(&n).Error
	return n, err
}

// UpdateIdeaStatus sets the status of the given ideas in one statement.
// Extra column updates (tier, losses) are applied by callers that need them.
func UpdateIdeaStatus(ctx context.Context, db *gorm.DB, ideaIDs []string, status string) error {
	if len(ideaIDs) == 0 {
		return nil
	}
	return db.WithContext(ctx).
		Model(&domain.Idea{}).
		Where("id IN ?", ideaIDs).
		Update("status", status).Error
}

// AdvanceIdeas marks the given ideas as advancing. The update is monotone:
// an idea a sibling cell already eliminated is revived, but winners and the
// champion are never touched.
func AdvanceIdeas(ctx context.Context, db *gorm.DB, ideaIDs []string) error {
	if len(ideaIDs) == 0 {
		return nil
	}
	return db.WithContext(ctx).
		Model(&domain.Idea{}).
		Where("id IN ? AND status IN ?", ideaIDs, []string{domain.IdeaInVoting, domain.IdeaEliminated, domain.IdeaDefending}).
		Update("status", domain.IdeaAdvancing).Error
}

// EliminateIdeas marks the given ideas as eliminated and increments their
// loss count. Ideas a sibling cell already advanced are left alone, so a win
// anywhere in the batch sticks.
func EliminateIdeas(ctx context.Context, db *gorm.DB, ideaIDs []string) error {
	if len(ideaIDs) == 0 {
		return nil
	}
	return db.WithContext(ctx).
		Model(&domain.Idea{}).
		Where("id IN ? AND status = ?", ideaIDs, domain.IdeaInVoting).
		Updates(map[string]any{
			"status": domain.IdeaEliminated,
			"losses": gorm.Expr("losses + 1"),
		}).Error
}
