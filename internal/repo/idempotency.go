// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for idempotency
// records, which let mutating endpoints replay a previously produced result
// instead of re-executing side effects.
package repo

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/averis/go-deliberation-backend/internal/domain"
)

// GetIdempotency returns the unexpired record for (userID, scopeID, key), or
// nil when none exists.
func GetIdempotency(ctx context.Context, db *gorm.DB, userID, scopeID, key string, now time.Time) (*domain.Idempotency, error) {
	var rec domain.Idempotency
	err := db.WithContext(ctx).
		Where("user_id = ? AND scope_id = ? AND key = ? AND expires_at > ?", userID, scopeID, key, now).
		First(&rec).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &rec, nil
}

// SaveIdempotency records the outcome of a processed request. Losing a race
// on the unique (user, scope, key) index is fine: the first writer's record
// stands and the duplicate insert is ignored.
func SaveIdempotency(ctx context.Context, db *gorm.DB, userID, scopeID, key, resultID string, status int, ttl time.Duration) error {
	now := time.Now().UTC()
	rec := &domain.Idempotency{
		ID:        uuid.NewString(),
		UserID:    userID,
		ScopeID:   scopeID,
		Key:       key,
		ResultID:  resultID,
		Status:    status,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
	err := db.WithContext(ctx).Create(rec).Error
	if err != nil && isUniqueViolation(err) {
		return nil
	}
	return err
}

// PurgeExpiredIdempotency deletes records past their expiry. Intended to be
// called opportunistically; missing a run only delays cleanup.
func PurgeExpiredIdempotency(ctx context.Context, db *gorm.DB, now time.Time) error {
	return db.WithContext(ctx).
		Where("expires_at <= ?", now).
		Delete(&domain.Idempotency{}).Error
}
