package services

import (
	"context"
	"errors"
	"testing"

	"github.com/averis/go-deliberation-backend/internal/domain"
	"github.com/averis/go-deliberation-backend/internal/repo"
)

func TestCastBallot_Validation(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	d := &domain.Deliberation{Question: "q"}
	if err := repo.CreateDeliberation(ctx, db, d); err != nil {
		t.Fatalf("create deliberation: %v", err)
	}
	ideas := seedIdeas(t, db, d.ID, 3)
	_, cell := buildVotingCell(t, db, ideas, []string{"u1", "u2", "u3"})

	svc := &BallotService{DB: db, Resolution: newResolution(db), Budget: 10}

	cases := []struct {
		name   string
		userID string
		cellID string
		picks  map[string]int
		want   error
	}{
		{"unknown cell", "u1", "00000000-0000-0000-0000-000000000000", map[string]int{ideas[0]: 1}, ErrCellNotFound},
		{"not seated", "stranger", cell.ID, map[string]int{ideas[0]: 1}, ErrNotParticipant},
		{"empty picks", "u1", cell.ID, map[string]int{}, ErrBallotBudget},
		{"zero points", "u1", cell.ID, map[string]int{ideas[0]: 0}, ErrBallotBudget},
		{"negative points", "u1", cell.ID, map[string]int{ideas[0]: -3}, ErrBallotBudget},
		{"over budget", "u1", cell.ID, map[string]int{ideas[0]: 6, ideas[1]: 5}, ErrBallotBudget},
		{"foreign idea", "u1", cell.ID, map[string]int{"not-an-idea": 2}, ErrIdeaNotInCell},
	}
	for _, tc := range cases {
		if _, err := svc.CastBallot(ctx, tc.userID, tc.cellID, tc.picks); !errors.Is(err, tc.want) {
			t.Errorf("%s: got %v, want %v", tc.name, err, tc.want)
		}
	}
}

func TestCastBallot_NotVoting(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	d := &domain.Deliberation{Question: "q"}
	_ = repo.CreateDeliberation(ctx, db, d)
	ideas := seedIdeas(t, db, d.ID, 2)
	_, cell := buildVotingCell(t, db, ideas, []string{"u1", "u2"})
	if err := db.Model(&domain.Cell{}).Where("id = ?", cell.ID).
		Update("status", domain.CellCompleted).Error; err != nil {
		t.Fatalf("complete cell: %v", err)
	}

	svc := &BallotService{DB: db, Resolution: newResolution(db), Budget: 10}
	if _, err := svc.CastBallot(ctx, "u1", cell.ID, map[string]int{ideas[0]: 1}); !errors.Is(err, ErrCellNotVoting) {
		t.Fatalf("expected ErrCellNotVoting, got %v", err)
	}
}

func TestCastBallot_RecastReplaces(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	d := &domain.Deliberation{Question: "q"}
	_ = repo.CreateDeliberation(ctx, db, d)
	ideas := seedIdeas(t, db, d.ID, 3)
	_, cell := buildVotingCell(t, db, ideas, []string{"u1", "u2"})

	svc := &BallotService{DB: db, Resolution: newResolution(db), Budget: 10}

	if _, err := svc.CastBallot(ctx, "u1", cell.ID, map[string]int{ideas[0]: 7, ideas[1]: 3}); err != nil {
		t.Fatalf("first cast: %v", err)
	}
	if _, err := svc.CastBallot(ctx, "u1", cell.ID, map[string]int{ideas[2]: 4}); err != nil {
		t.Fatalf("recast: %v", err)
	}

	total, err := repo.SumBallotPoints(ctx, db, cell.ID, "u1")
	if err != nil {
		t.Fatalf("sum: %v", err)
	}
	if total != 4 {
		t.Fatalf("recast did not replace ballot: total = %d", total)
	}
}

func TestCastBallot_LastVoterResolves(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	d := &domain.Deliberation{Question: "q"}
	_ = repo.CreateDeliberation(ctx, db, d)
	ideas := seedIdeas(t, db, d.ID, 3)
	_, cell := buildVotingCell(t, db, ideas, []string{"u1", "u2"})

	svc := &BallotService{DB: db, Resolution: newResolution(db), Budget: 10}

	res, err := svc.CastBallot(ctx, "u1", cell.ID, map[string]int{ideas[0]: 10})
	if err != nil {
		t.Fatalf("first cast: %v", err)
	}
	if res != nil {
		t.Fatalf("cell resolved with a voter outstanding: %+v", res)
	}

	res, err = svc.CastBallot(ctx, "u2", cell.ID, map[string]int{ideas[1]: 6})
	if err != nil {
		t.Fatalf("last cast: %v", err)
	}
	if res == nil {
		t.Fatal("last ballot should resolve the cell")
	}
	if len(res.WinnerIDs) != 1 || res.WinnerIDs[0] != ideas[0] {
		t.Fatalf("unexpected winners %v", res.WinnerIDs)
	}

	fresh, err := repo.GetCell(ctx, db, cell.ID)
	if err != nil {
		t.Fatalf("get cell: %v", err)
	}
	if fresh.Status != domain.CellCompleted {
		t.Fatalf("cell status %s", fresh.Status)
	}
}
