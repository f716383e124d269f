// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for cells, the
// ideas they vote on, and the participants seated in them.
//
// The one operation with real concurrency weight lives here: CompleteCell,
// the guarded voting→completed transition. It is a single conditional UPDATE
// so that when several workers race to resolve the same cell, exactly one
// observes success and every other caller sees "already handled".
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/averis/go-deliberation-backend/internal/domain"
)

// CreateCell inserts a new Cell row. ID and CreatedAt are filled in when
// absent.
func CreateCell(ctx context.Context, db *gorm.DB, c *domain.Cell) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	c.CreatedAt = time.Now().UTC()
	return db.WithContext(ctx).Create(c).Error
}

// GetCell fetches a cell by ID, or ErrNotFound if missing.
func GetCell(ctx context.Context, db *gorm.DB, id string) (*domain.Cell, error) {
	var c domain.Cell
	if err := db.WithContext(ctx).First(&c, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

// ListCellsByTier returns every cell of the deliberation at the given tier,
// ordered by batch then creation time.
func ListCellsByTier(ctx context.Context, db *gorm.DB, deliberationID string, tier int) ([]domain.Cell, error) {
	var out []domain.Cell
	err := db.WithContext(ctx).
		Where("deliberation_id = ? AND tier = ?", deliberationID, tier).
		Order("batch asc, created_at asc").
		Find(&out).Error
	return out, err
}

// CompleteCell performs the conditional voting→completed transition.
//
// The precondition check and the update are one atomic statement against the
// store, so it is safe across processes: of N concurrent callers exactly one
// gets won=true; the rest get won=false and must treat the cell as already
// handled, not as an error.
func CompleteCell(ctx context.Context, db *gorm.DB, cellID string) (won bool, err error) {
	res := db.WithContext(ctx).
		Model(&domain.Cell{}).
		Where("id = ? AND status = ?", cellID, domain.CellVoting).
		Update("status", domain.CellCompleted)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// OpenCellForVoting moves a deliberating cell into voting and stamps its new
// deadline. Used when a configured discussion period elapses.
func OpenCellForVoting(ctx context.Context, db *gorm.DB, cellID string, finalizesAt time.Time) error {
	res := db.WithContext(ctx).
		Model(&domain.Cell{}).
		Where("id = ? AND status = ?", cellID, domain.CellDeliberating).
		Updates(map[string]any{"status": domain.CellVoting, "finalizes_at": finalizesAt})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// ListOverdueCells returns cells in the given status whose deadline has
// passed, oldest deadline first. Cells without a deadline are never returned.
func ListOverdueCells(ctx context.Context, db *gorm.DB, status string, now time.Time) ([]domain.Cell, error) {
	var out []domain.Cell
	err := db.WithContext(ctx).
		Where("status = ? AND finalizes_at IS NOT NULL AND finalizes_at <= ?", status, now).
		Order("finalizes_at asc").
		Find(&out).Error
	return out, err
}

// AddCellIdea links an idea to a cell.
func AddCellIdea(ctx context.Context, db *gorm.DB, cellID, ideaID string) error {
	return db.WithContext(ctx).Create(&domain.CellIdea{
		ID:     uuid.NewString(),
		CellID: cellID,
		IdeaID: ideaID,
	}).Error
}

// ListCellIdeaIDs returns the IDs of the ideas voted on in the cell.
func ListCellIdeaIDs(ctx context.Context, db *gorm.DB, cellID string) ([]string, error) {
	var out []string
	err := db.WithContext(ctx).
		Model(&domain.CellIdea{}).
		Where("cell_id = ?", cellID).
		Pluck("idea_id", &out).Error
	return out, err
}

// AddParticipant seats a user in a cell. The unique (cell_id, user_id) index
// rejects double seating.
func AddParticipant(ctx context.Context, db *gorm.DB, cellID, userID string) error {
	return db.WithContext(ctx).Create(&domain.CellParticipation{
		ID:        uuid.NewString(),
		CellID:    cellID,
		UserID:    userID,
		Status:    "active",
		CreatedAt: time.Now().UTC(),
	}).Error
}

// ListParticipantIDs returns the user IDs seated in the cell.
func ListParticipantIDs(ctx context.Context, db *gorm.DB, cellID string) ([]string, error) {
	var out []string
	err := db.WithContext(ctx).
		Model(&domain.CellParticipation{}).
		Where("cell_id = ?", cellID).
		Pluck("user_id", &out).Error
	return out, err
}

// CountParticipants returns the number of users seated in the cell.
func CountParticipants(ctx context.Context, db *gorm.DB, cellID string) (int64, error) {
	var n int64
	err := db.WithContext(ctx).
		Model(&domain.CellParticipation{}).
		Where("cell_id = ?", cellID).
		Count(&n).Error
	return n, err
}

// FindParticipationCell returns the ID of the cell the user is seated in at
// the given tier of the deliberation, or ErrNotFound.
func FindParticipationCell(ctx context.Context, db *gorm.DB, deliberationID string, tier int, userID string) (string, error) {
	var cellID string
	err := db.WithContext(ctx).
		Model(&domain.CellParticipation{}).
		Joins("JOIN cells ON cells.id = cell_participations.cell_id").
		Where("cells.deliberation_id = ? AND cells.tier = ? AND cell_participations.user_id = ?", deliberationID, tier, userID).
		Limit(1).
		Pluck("cell_participations.cell_id", &cellID).Error
	if err != nil {
		return "", err
	}
	if cellID == "" {
		return "", ErrNotFound
	}
	return cellID, nil
}

// CountCellsSharingIdea returns how many cells at the given tier contain the
// idea. This is the spread denominator for comment visibility.
func CountCellsSharingIdea(ctx context.Context, db *gorm.DB, ideaID string, tier int) (int64, error) {
	var n int64
	err := db.WithContext(ctx).
		Model(&domain.CellIdea{}).
		Joins("JOIN cells ON cells.id = cell_ideas.cell_id").
		Where("cell_ideas.idea_id = ? AND cells.tier = ?", ideaID, tier).
		Count(&n).Error
	return n, err
}
