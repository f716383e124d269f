// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for weighted votes
// and the tally queries resolution depends on.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/averis/go-deliberation-backend/internal/domain"
)

// IdeaTotal is one row of a tally: an idea and its summed vote points.
type IdeaTotal struct {
	IdeaID string
	Total  int
}

// ReplaceBallot atomically replaces userID's ballot in the cell: previous
// Vote rows for (cell, user) are deleted and one row per supported idea is
// inserted. Callers validate the point budget and idea membership first.
func ReplaceBallot(ctx context.Context, db *gorm.DB, cellID, userID string, picks map[string]int) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("cell_id = ? AND user_id = ?", cellID, userID).
			Delete(&domain.Vote{}).Error; err != nil {
			return err
		}
		now := time.Now().UTC()
		for ideaID, points := range picks {
			v := &domain.Vote{
				ID:        uuid.NewString(),
				CellID:    cellID,
				UserID:    userID,
				IdeaID:    ideaID,
				Points:    points,
				CreatedAt: now,
			}
			if err := tx.Create(v).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// TallyCell returns the summed points per idea for one cell. Ideas with no
// votes do not appear in the result.
func TallyCell(ctx context.Context, db *gorm.DB, cellID string) ([]IdeaTotal, error) {
	var out []IdeaTotal
	err := db.WithContext(ctx).
		Model(&domain.Vote{}).
		Select("idea_id, SUM(points) AS total").
		Where("cell_id = ?", cellID).
		Group("idea_id").
		Scan(&out).Error
	return out, err
}

// TallyTier returns the summed points per idea across every cell of the
// deliberation at the given tier. This is the cross-cell tally used both for
// final-showdown resolution and for ranking eliminated ideas during backfill.
func TallyTier(ctx context.Context, db *gorm.DB, deliberationID string, tier int) ([]IdeaTotal, error) {
	var out []IdeaTotal
	err := db.WithContext(ctx).
		Model(&domain.Vote{}).
		Select("votes.idea_id, SUM(votes.points) AS total").
		Joins("JOIN cells ON cells.id = votes.cell_id").
		Where("cells.deliberation_id = ? AND cells.tier = ?", deliberationID, tier).
		Group("votes.idea_id").
		Scan(&out).Error
	return out, err
}

// TallyDeliberation returns the cumulative points per idea over the whole
// run. Used as the first tie-break when a cross-cell showdown tally ties.
func TallyDeliberation(ctx context.Context, db *gorm.DB, deliberationID string) ([]IdeaTotal, error) {
	var out []IdeaTotal
	err := db.WithContext(ctx).
		Model(&domain.Vote{}).
		Select("votes.idea_id, SUM(votes.points) AS total").
		Joins("JOIN cells ON cells.id = votes.cell_id").
		Where("cells.deliberation_id = ?", deliberationID).
		Group("votes.idea_id").
		Scan(&out).Error
	return out, err
}

// CountDistinctVoters returns how many distinct users have cast at least one
// vote in the cell.
func CountDistinctVoters(ctx context.Context, db *gorm.DB, cellID string) (int64, error) {
	var n int64
	err := db.WithContext(ctx).
		Model(&domain.Vote{}).
		Where("cell_id = ?", cellID).
		Distinct("user_id").
		Count(&n).Error
	return n, err
}

// SumBallotPoints returns the points userID has already allocated in the
// cell. Used to enforce the per-cell budget on recast ballots.
func SumBallotPoints(ctx context.Context, db *gorm.DB, cellID, userID string) (int, error) {
	var total *int
	err := db.WithContext(ctx).
		Model(&domain.Vote{}).
		Select("SUM(points)").
		Where("cell_id = ? AND user_id = ?", cellID, userID).
		Scan(&total).Error
	if err != nil || total == nil {
		return 0, err
	}
	return *total, nil
}
