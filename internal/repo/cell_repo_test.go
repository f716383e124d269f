package repo

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/averis/go-deliberation-backend/internal/domain"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:delibrepo_%s?mode=memory&cache=shared", uuid.NewString())

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	db.Exec("PRAGMA foreign_keys=ON;")
	db.Exec("PRAGMA busy_timeout=5000;")
	if err := AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func testCell(t *testing.T, db *gorm.DB, status string) *domain.Cell {
	t.Helper()
	ctx := context.Background()
	d := &domain.Deliberation{Question: "q"}
	if err := CreateDeliberation(ctx, db, d); err != nil {
		t.Fatalf("create deliberation: %v", err)
	}
	c := &domain.Cell{DeliberationID: d.ID, Tier: 1, Status: status}
	if err := CreateCell(ctx, db, c); err != nil {
		t.Fatalf("create cell: %v", err)
	}
	return c
}

func TestCompleteCell_ExactlyOnce(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	c := testCell(t, db, domain.CellVoting)

	won, err := CompleteCell(ctx, db, c.ID)
	if err != nil {
		t.Fatalf("first complete: %v", err)
	}
	if !won {
		t.Fatal("first caller must win the transition")
	}

	// Every later caller sees the cell as already handled.
	for i := 0; i < 3; i++ {
		won, err = CompleteCell(ctx, db, c.ID)
		if err != nil {
			t.Fatalf("replay complete: %v", err)
		}
		if won {
			t.Fatal("transition won twice")
		}
	}

	fresh, err := GetCell(ctx, db, c.ID)
	if err != nil {
		t.Fatalf("get cell: %v", err)
	}
	if fresh.Status != domain.CellCompleted {
		t.Fatalf("status %s", fresh.Status)
	}
}

func TestCompleteCell_SkipsDeliberatingCell(t *testing.T) {
	db := newTestDB(t)
	c := testCell(t, db, domain.CellDeliberating)

	won, err := CompleteCell(context.Background(), db, c.ID)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if won {
		t.Fatal("a cell still deliberating must not complete")
	}
}

func TestOpenCellForVoting(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	c := testCell(t, db, domain.CellDeliberating)

	deadline := time.Now().UTC().Add(-time.Second)
	if err := OpenCellForVoting(ctx, db, c.ID, deadline); err != nil {
		t.Fatalf("open: %v", err)
	}
	fresh, _ := GetCell(ctx, db, c.ID)
	if fresh.Status != domain.CellVoting || fresh.FinalizesAt == nil {
		t.Fatalf("cell not opened: %+v", fresh)
	}

	// Reopening an already-voting cell is a stale trigger.
	if err := OpenCellForVoting(ctx, db, c.ID, deadline); !errors.Is(err, ErrNotFound) {
		t.Fatalf("reopen: got %v", err)
	}

	overdue, err := ListOverdueCells(ctx, db, domain.CellVoting, time.Now().UTC())
	if err != nil {
		t.Fatalf("overdue: %v", err)
	}
	if len(overdue) != 1 || overdue[0].ID != c.ID {
		t.Fatalf("overdue cells: %+v", overdue)
	}
}

func TestReplaceBallot(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	c := testCell(t, db, domain.CellVoting)

	ideaA, err := CreateIdea(ctx, db, c.DeliberationID, "author", "a", false)
	if err != nil {
		t.Fatalf("create idea: %v", err)
	}
	ideaB, err := CreateIdea(ctx, db, c.DeliberationID, "author", "b", false)
	if err != nil {
		t.Fatalf("create idea: %v", err)
	}

	if err := ReplaceBallot(ctx, db, c.ID, "u1", map[string]int{ideaA.ID: 7, ideaB.ID: 3}); err != nil {
		t.Fatalf("cast: %v", err)
	}
	if err := ReplaceBallot(ctx, db, c.ID, "u1", map[string]int{ideaB.ID: 5}); err != nil {
		t.Fatalf("recast: %v", err)
	}
	if err := ReplaceBallot(ctx, db, c.ID, "u2", map[string]int{ideaA.ID: 2}); err != nil {
		t.Fatalf("second voter: %v", err)
	}

	total, err := SumBallotPoints(ctx, db, c.ID, "u1")
	if err != nil {
		t.Fatalf("sum: %v", err)
	}
	if total != 5 {
		t.Fatalf("recast left stale rows: total %d", total)
	}

	voters, err := CountDistinctVoters(ctx, db, c.ID)
	if err != nil {
		t.Fatalf("voters: %v", err)
	}
	if voters != 2 {
		t.Fatalf("distinct voters %d", voters)
	}

	totals, err := TallyCell(ctx, db, c.ID)
	if err != nil {
		t.Fatalf("tally: %v", err)
	}
	points := map[string]int{}
	for _, tt := range totals {
		points[tt.IdeaID] = tt.Total
	}
	if points[ideaA.ID] != 2 || points[ideaB.ID] != 5 {
		t.Fatalf("tally: %+v", points)
	}
}

func TestFindParticipationCell(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	c := testCell(t, db, domain.CellVoting)
	if err := AddParticipant(ctx, db, c.ID, "u1"); err != nil {
		t.Fatalf("seat: %v", err)
	}

	got, err := FindParticipationCell(ctx, db, c.DeliberationID, 1, "u1")
	if err != nil || got != c.ID {
		t.Fatalf("find: %q %v", got, err)
	}
	if _, err := FindParticipationCell(ctx, db, c.DeliberationID, 1, "u2"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("unseated user: got %v", err)
	}
	if _, err := FindParticipationCell(ctx, db, c.DeliberationID, 2, "u1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("wrong tier: got %v", err)
	}
}

func TestIdempotencyLifecycle(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC()

	if err := SaveIdempotency(ctx, db, "u1", "scope", "key", "result-1", 201, time.Hour); err != nil {
		t.Fatalf("save: %v", err)
	}
	// A racing duplicate is ignored; the first record stands.
	if err := SaveIdempotency(ctx, db, "u1", "scope", "key", "result-2", 201, time.Hour); err != nil {
		t.Fatalf("duplicate save: %v", err)
	}

	rec, err := GetIdempotency(ctx, db, "u1", "scope", "key", now)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if rec == nil || rec.ResultID != "result-1" {
		t.Fatalf("record: %+v", rec)
	}

	if rec, _ := GetIdempotency(ctx, db, "u1", "scope", "other", now); rec != nil {
		t.Fatalf("unexpected hit: %+v", rec)
	}
	if rec, _ := GetIdempotency(ctx, db, "u1", "scope", "key", now.Add(2*time.Hour)); rec != nil {
		t.Fatalf("expired record returned: %+v", rec)
	}

	if err := PurgeExpiredIdempotency(ctx, db, now.Add(2*time.Hour)); err != nil {
		t.Fatalf("purge: %v", err)
	}
	var n int64
	if err := db.Model(&domain.Idempotency{}).Count(&n).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 0 {
		t.Fatalf("%d records survived purge", n)
	}
}
