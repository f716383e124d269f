// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for comments and
// their upvotes, including the counters that drive viral spread.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/averis/go-deliberation-backend/internal/domain"
)

// CreateComment inserts a comment made in cellID, optionally attached to one
// of the cell's ideas. ReachTier starts at the cell's tier.
func CreateComment(ctx context.Context, db *gorm.DB, cellID, userID, text string, ideaID *string, tier int) (*domain.Comment, error) {
	c := &domain.Comment{
		ID:        uuid.NewString(),
		CellID:    cellID,
		IdeaID:    ideaID,
		UserID:    userID,
		Text:      text,
		ReachTier: tier,
		CreatedAt: time.Now().UTC(),
	}
	if err := db.WithContext(ctx).Create(c).Error; err != nil {
		return nil, err
	}
	return c, nil
}

// GetComment fetches a comment by ID, or ErrNotFound if missing.
func GetComment(ctx context.Context, db *gorm.DB, id string) (*domain.Comment, error) {
	var c domain.Comment
	if err := db.WithContext(ctx).First(&c, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

// AddUpvote inserts the (comment, user) upvote row. The unique index rejects
// a second upvote by the same user; callers map that to their sentinel.
func AddUpvote(ctx context.Context, db *gorm.DB, commentID, userID string) error {
	return db.WithContext(ctx).Create(&domain.CommentUpvote{
		ID:        uuid.NewString(),
		CommentID: commentID,
		UserID:    userID,
		CreatedAt: time.Now().UTC(),
	}).Error
}

// BumpUpvoteCounters increments the comment's cumulative and per-tier upvote
// counters and, for idea-linked comments, rederives the spread count
// (floor(upvotes/2)). Unlinked comments never spread.
func BumpUpvoteCounters(ctx context.Context, db *gorm.DB, commentID string, ideaLinked bool) error {
	updates := map[string]any{
		"upvote_count": gorm.Expr("upvote_count + 1"),
		"tier_upvotes": gorm.Expr("tier_upvotes + 1"),
	}
	if ideaLinked {
		updates["spread_count"] = gorm.Expr("(upvote_count + 1) / 2")
	}
	return db.WithContext(ctx).
		Model(&domain.Comment{}).
		Where("id = ?", commentID).
		Updates(updates).Error
}

// ListCellComments returns comments that originated in the cell at the given
// reach tier, oldest first.
func ListCellComments(ctx context.Context, db *gorm.DB, cellID string, tier int) ([]domain.Comment, error) {
	var out []domain.Comment
	err := db.WithContext(ctx).
		Where("cell_id = ? AND reach_tier = ?", cellID, tier).
		Order("created_at asc").
		Find(&out).Error
	return out, err
}

// ListIdeaComments returns comments attached to any of the given ideas at the
// given reach tier, regardless of origin cell. These are the candidates for
// viral spread into sibling cells.
func ListIdeaComments(ctx context.Context, db *gorm.DB, ideaIDs []string, tier int) ([]domain.Comment, error) {
	if len(ideaIDs) == 0 {
		return nil, nil
	}
	var out []domain.Comment
	err := db.WithContext(ctx).
		Where("idea_id IN ? AND reach_tier = ?", ideaIDs, tier).
		Order("created_at asc").
		Find(&out).Error
	return out, err
}

// TopIdeaComment returns the single comment with the highest upvote count
// attached to any of the given ideas at the given reach tier. Ties go to the
// earliest comment. Returns ErrNotFound when no candidate exists.
func TopIdeaComment(ctx context.Context, db *gorm.DB, ideaIDs []string, tier int) (*domain.Comment, error) {
	if len(ideaIDs) == 0 {
		return nil, ErrNotFound
	}
	var c domain.Comment
	err := db.WithContext(ctx).
		Where("idea_id IN ? AND reach_tier = ?", ideaIDs, tier).
		Order("upvote_count desc, created_at asc").
		First(&c).Error
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// PromoteComment lifts a comment to the next tier with a fresh spread cycle:
// reach_tier advances, spread_count and tier_upvotes reset, the cumulative
// upvote_count is preserved.
func PromoteComment(ctx context.Context, db *gorm.DB, commentID string, nextTier int) error {
	return db.WithContext(ctx).
		Model(&domain.Comment{}).
		Where("id = ?", commentID).
		Updates(map[string]any{
			"reach_tier":   nextTier,
			"spread_count": 0,
			"tier_upvotes": 0,
		}).Error
}
