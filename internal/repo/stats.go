// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides small aggregate queries used by the
// tier-advancement controller and the status endpoint. Each function is
// context-aware and safe to call from services or handlers.
package repo

import (
	"context"

	"gorm.io/gorm"

	"github.com/averis/go-deliberation-backend/internal/domain"
)

// TierProgress returns how many cells exist at the given tier of the
// deliberation and how many of them have completed. The tier-advancement
// check is a pure read of this pair: it only acts when total > 0 and
// completed == total.
func TierProgress(ctx context.Context, db *gorm.DB, deliberationID string, tier int) (total, completed int64, err error) {
	q := db.WithContext(ctx).
		Model(&domain.Cell{}).
		Where("deliberation_id = ? AND tier = ?", deliberationID, tier)

	if err = q.Count(&total).Error; err != nil {
		return 0, 0, err
	}
	if total == 0 {
		return 0, 0, nil
	}

	err = db.WithContext(ctx).
		Model(&domain.Cell{}).
		Where("deliberation_id = ? AND tier = ? AND status = ?", deliberationID, tier, domain.CellCompleted).
		Count(&completed).Error
	return total, completed, err
}

// IdeaStatusCounts returns the number of the deliberation's ideas per status.
// Used by the status snapshot endpoint.
func IdeaStatusCounts(ctx context.Context, db *gorm.DB, deliberationID string) (map[string]int64, error) {
	var rows []struct {
		Status string
		N      int64
	}
	err := db.WithContext(ctx).
		Model(&domain.Idea{}).
		Select("status, COUNT(*) AS n").
		Where("deliberation_id = ?", deliberationID).
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(rows))
	for _, r := range rows {
		out[r.Status] = r.N
	}
	return out, nil
}
