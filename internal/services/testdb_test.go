package services

import (
	"context"
	"fmt"
	"testing"

	sqlite "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/averis/go-deliberation-backend/internal/domain"
	"github.com/averis/go-deliberation-backend/internal/repo"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:delibsvc_%s?mode=memory&cache=shared", uuid.NewString())

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	db.Exec("PRAGMA foreign_keys=ON;")
	db.Exec("PRAGMA busy_timeout=5000;")
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

// seedDeliberation creates a deliberation with members and idea texts, each
// idea authored by the member at the same index (wrapping around).
func seedDeliberation(t *testing.T, db *gorm.DB, members, ideas int) (*domain.Deliberation, []string, []string) {
	t.Helper()
	ctx := context.Background()

	d := &domain.Deliberation{Question: "what should we build next?"}
	if err := repo.CreateDeliberation(ctx, db, d); err != nil {
		t.Fatalf("create deliberation: %v", err)
	}

	memberIDs := make([]string, members)
	for i := range memberIDs {
		memberIDs[i] = fmt.Sprintf("user-%02d", i)
		if _, err := repo.AddMember(ctx, db, d.ID, memberIDs[i]); err != nil {
			t.Fatalf("add member: %v", err)
		}
	}

	ideaIDs := make([]string, ideas)
	for i := range ideaIDs {
		author := "author-solo"
		if members > 0 {
			author = memberIDs[i%members]
		}
		idea, err := repo.CreateIdea(ctx, db, d.ID, author, fmt.Sprintf("idea %d", i), false)
		if err != nil {
			t.Fatalf("create idea: %v", err)
		}
		ideaIDs[i] = idea.ID
	}
	return d, memberIDs, ideaIDs
}

// votingCells returns the cells of the deliberation's current tier that are
// accepting votes.
func votingCells(t *testing.T, db *gorm.DB, d *domain.Deliberation) []domain.Cell {
	t.Helper()
	fresh, err := repo.GetDeliberation(context.Background(), db, d.ID)
	if err != nil {
		t.Fatalf("get deliberation: %v", err)
	}
	cells, err := repo.ListCellsByTier(context.Background(), db, d.ID, fresh.CurrentTier)
	if err != nil {
		t.Fatalf("list cells: %v", err)
	}
	var out []domain.Cell
	for _, c := range cells {
		if c.Status == domain.CellVoting {
			out = append(out, c)
		}
	}
	return out
}
