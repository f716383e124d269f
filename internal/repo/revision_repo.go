// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the idea
// revision mini-workflow.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/averis/go-deliberation-backend/internal/domain"
)

// CreateRevision inserts a pending revision for an idea. The at-most-one
// pending revision invariant is enforced by the service inside a transaction.
func CreateRevision(ctx context.Context, db *gorm.DB, ideaID, proposerID, text string, required int) (*domain.IdeaRevision, error) {
	r := &domain.IdeaRevision{
		ID:         uuid.NewString(),
		IdeaID:     ideaID,
		ProposerID: proposerID,
		Text:       text,
		Status:     domain.RevisionPending,
		Required:   required,
		CreatedAt:  time.Now().UTC(),
	}
	if err := db.WithContext(ctx).Create(r).Error; err != nil {
		return nil, err
	}
	return r, nil
}

// GetRevision fetches a revision by ID, or ErrNotFound if missing.
func GetRevision(ctx context.Context, db *gorm.DB, id string) (*domain.IdeaRevision, error) {
	var r domain.IdeaRevision
	if err := db.WithContext(ctx).First(&r, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &r, nil
}

// HasPendingRevision reports whether the idea already has a pending revision.
func HasPendingRevision(ctx context.Context, db *gorm.DB, ideaID string) (bool, error) {
	var n int64
	err := db.WithContext(ctx).
		Model(&domain.IdeaRevision{}).
		Where("idea_id = ? AND status = ?", ideaID, domain.RevisionPending).
		Count(&n).Error
	return n > 0, err
}

// AddRevisionVote inserts one participant's approval or rejection. The unique
// (revision, user) index rejects duplicate votes.
func AddRevisionVote(ctx context.Context, db *gorm.DB, revisionID, userID string, approve bool) error {
	return db.WithContext(ctx).Create(&domain.IdeaRevisionVote{
		ID:         uuid.NewString(),
		RevisionID: revisionID,
		UserID:     userID,
		Approve:    approve,
		CreatedAt:  time.Now().UTC(),
	}).Error
}

// CountRevisionVotes returns the approval and rejection counts for a revision.
func CountRevisionVotes(ctx context.Context, db *gorm.DB, revisionID string) (approvals, rejections int64, err error) {
	q := db.WithContext(ctx).Model(&domain.IdeaRevisionVote{}).Where("revision_id = ?", revisionID)
	if err = q.Where("approve = ?", true).Count(&approvals).Error; err != nil {
		return 0, 0, err
	}
	q = db.WithContext(ctx).Model(&domain.IdeaRevisionVote{}).Where("revision_id = ?", revisionID)
	err = q.Where("approve = ?", false).Count(&rejections).Error
	return approvals, rejections, err
}
