// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for deliberations
// and memberships.
//
// All functions are context-aware and accept a *gorm.DB handle, making them
// safe for use within transactions or connection-scoped operations.
// They follow the "thin repository" approach: no business logic, only CRUD
// persistence and query composition.
//
// Error semantics:
//   - When a record is not found, functions return gorm.ErrRecordNotFound
//     (also exported here as ErrNotFound for convenience).
//   - On DB errors (constraint violations, connectivity issues, etc.),
//     the raw gorm error is propagated.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/averis/go-deliberation-backend/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
// It aliases gorm.ErrRecordNotFound for convenience and consistency
// across the service layer and handlers.
var ErrNotFound = gorm.ErrRecordNotFound

// CreateDeliberation inserts a new Deliberation row in the submission phase.
// The ID is a randomly generated UUID and CreatedAt is set to UTC.
func CreateDeliberation(ctx context.Context, db *gorm.DB, d *domain.Deliberation) error {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	if d.Phase == "" {
		d.Phase = domain.PhaseSubmission
	}
	d.CreatedAt = time.Now().UTC()
	return db.WithContext(ctx).Create(d).Error
}

// GetDeliberation fetches a deliberation by ID, or ErrNotFound if missing.
func GetDeliberation(ctx context.Context, db *gorm.DB, id string) (*domain.Deliberation, error) {
	var d domain.Deliberation
	if err := db.WithContext(ctx).First(&d, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &d, nil
}

// ListExpiredAccumulations returns the IDs of deliberations whose open
// accumulation window has passed its end time.
func ListExpiredAccumulations(ctx context.Context, db *gorm.DB, now time.Time) ([]string, error) {
	var out []string
	err := db.WithContext(ctx).
		Model(&domain.Deliberation{}).
		Where("phase = ? AND accumulation_ends_at IS NOT NULL AND accumulation_ends_at <= ?", domain.PhaseAccumulating, now).
		Pluck("id", &out).Error
	return out, err
}

// AddMember inserts a membership row for userID in the deliberation. The
// unique (deliberation_id, user_id) index rejects duplicate joins; callers
// map that to their own sentinel.
func AddMember(ctx context.Context, db *gorm.DB, deliberationID, userID string) (*domain.Membership, error) {
	m := &domain.Membership{
		ID:             uuid.NewString(),
		DeliberationID: deliberationID,
		UserID:         userID,
		CreatedAt:      time.Now().UTC(),
	}
	if err := db.WithContext(ctx).Create(m).Error; err != nil {
		return nil, err
	}
	return m, nil
}

// ListMemberIDs returns the user IDs of every member of the deliberation,
// ordered by join time so distribution is stable for a given seed.
func ListMemberIDs(ctx context.Context, db *gorm.DB, deliberationID string) ([]string, error) {
	var out []string
	err := db.WithContext(ctx).
		Model(&domain.Membership{}).
		Where("deliberation_id = ?", deliberationID).
		Order("created_at asc").
		Pluck("user_id", &out).Error
	return out, err
}

// IsMember reports whether userID belongs to the deliberation.
func IsMember(ctx context.Context, db *gorm.DB, deliberationID, userID string) (bool, error) {
	var n int64
	err := db.WithContext(ctx).
		Model(&domain.Membership{}).
		Where("deliberation_id = ? AND user_id = ?", deliberationID, userID).
		Count(&n).Error
	return n > 0, err
}
