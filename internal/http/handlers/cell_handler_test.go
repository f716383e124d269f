package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/averis/go-deliberation-backend/internal/domain"
	"github.com/averis/go-deliberation-backend/internal/services"
)

// ---------- CastBallot ----------

func TestCastBallot_Validation_Errors_And_Resolution(t *testing.T) {
	gin.SetMode(gin.TestMode)

	// bad UUID -> 400
	{
		h := defaultHandlers()
		r := gin.New()
		r.POST("/cells/:id/votes", h.CastBallot)

		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/cells/not-uuid/votes", bytes.NewBufferString(`{"picks":{"a":1}}`))
		r.ServeHTTP(w, req)
		if w.Code != http.StatusBadRequest {
			t.Fatalf("uuid 400 -> %d", w.Code)
		}
	}

	// empty picks -> 400
	{
		h := defaultHandlers()
		r := gin.New()
		r.POST("/cells/:id/votes", h.CastBallot)

		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/cells/"+uuid.NewString()+"/votes", bytes.NewBufferString(`{"picks":{}}`))
		r.ServeHTTP(w, req)
		if w.Code != http.StatusBadRequest {
			t.Fatalf("empty picks -> %d", w.Code)
		}
	}

	// non-participant -> 403
	{
		ballot := stubBallotSvc{
			cast: func(context.Context, string, string, map[string]int) (*services.CellResult, error) {
				return nil, services.ErrNotParticipant
			},
		}
		h := newStubHandlers(stubDelibSvc{}, stubFormationSvc{}, stubAdmissionSvc{}, stubRollingSvc{}, ballot, stubResolveSvc{}, stubCommentSvc{}, stubRevisionSvc{})
		r := gin.New()
		r.POST("/cells/:id/votes", h.CastBallot)

		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/cells/"+uuid.NewString()+"/votes", bytes.NewBufferString(`{"picks":{"a":3}}`))
		r.ServeHTTP(w, req)
		if w.Code != http.StatusForbidden {
			t.Fatalf("non-participant -> %d", w.Code)
		}
	}

	// over budget -> 400
	{
		ballot := stubBallotSvc{
			cast: func(context.Context, string, string, map[string]int) (*services.CellResult, error) {
				return nil, services.ErrBallotBudget
			},
		}
		h := newStubHandlers(stubDelibSvc{}, stubFormationSvc{}, stubAdmissionSvc{}, stubRollingSvc{}, ballot, stubResolveSvc{}, stubCommentSvc{}, stubRevisionSvc{})
		r := gin.New()
		r.POST("/cells/:id/votes", h.CastBallot)

		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/cells/"+uuid.NewString()+"/votes", bytes.NewBufferString(`{"picks":{"a":99}}`))
		r.ServeHTTP(w, req)
		if w.Code != http.StatusBadRequest {
			t.Fatalf("over budget -> %d", w.Code)
		}
	}

	// accepted without completing the cell -> Resolved=false, no result
	{
		h := defaultHandlers() // default stub returns (nil, nil)
		r := gin.New()
		r.POST("/cells/:id/votes", h.CastBallot)

		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/cells/"+uuid.NewString()+"/votes", bytes.NewBufferString(`{"picks":{"a":5}}`))
		req.Header.Set("X-User-ID", "u1")
		r.ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Fatalf("accepted -> %d body=%s", w.Code, w.Body.String())
		}
		var out BallotResponse
		if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
			t.Fatalf("json: %v", err)
		}
		if !out.Accepted || out.Resolved || out.Result != nil {
			t.Fatalf("unexpected response: %+v", out)
		}
	}

	// last voter completes the cell -> Resolved=true with the split
	{
		winner := uuid.NewString()
		ballot := stubBallotSvc{
			cast: func(context.Context, string, string, map[string]int) (*services.CellResult, error) {
				return &services.CellResult{WinnerIDs: []string{winner}, LoserIDs: []string{}}, nil
			},
		}
		h := newStubHandlers(stubDelibSvc{}, stubFormationSvc{}, stubAdmissionSvc{}, stubRollingSvc{}, ballot, stubResolveSvc{}, stubCommentSvc{}, stubRevisionSvc{})
		r := gin.New()
		r.POST("/cells/:id/votes", h.CastBallot)

		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/cells/"+uuid.NewString()+"/votes", bytes.NewBufferString(`{"picks":{"a":5}}`))
		r.ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Fatalf("completing ballot -> %d", w.Code)
		}
		var out BallotResponse
		if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
			t.Fatalf("json: %v", err)
		}
		if !out.Resolved || out.Result == nil || len(out.Result.WinnerIDs) != 1 || out.Result.WinnerIDs[0] != winner {
			t.Fatalf("unexpected response: %+v", out)
		}
	}
}

// ---------- ResolveCell ----------

func TestResolveCell_Replay_NotFound_Success(t *testing.T) {
	gin.SetMode(gin.TestMode)

	// replay: service returns (nil, nil) -> Resolved=false, still 200
	{
		h := defaultHandlers()
		r := gin.New()
		r.POST("/cells/:id/resolve", h.ResolveCell)

		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/cells/"+uuid.NewString()+"/resolve", nil)
		r.ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Fatalf("replay resolve -> %d", w.Code)
		}
		var out ResolveResponse
		if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
			t.Fatalf("json: %v", err)
		}
		if out.Resolved || out.Result != nil {
			t.Fatalf("unexpected replay response: %+v", out)
		}
	}

	// unknown cell -> 404
	{
		resolve := stubResolveSvc{
			process: func(context.Context, string, bool) (*services.CellResult, error) {
				return nil, services.ErrCellNotFound
			},
		}
		h := newStubHandlers(stubDelibSvc{}, stubFormationSvc{}, stubAdmissionSvc{}, stubRollingSvc{}, stubBallotSvc{}, resolve, stubCommentSvc{}, stubRevisionSvc{})
		r := gin.New()
		r.POST("/cells/:id/resolve", h.ResolveCell)

		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/cells/"+uuid.NewString()+"/resolve", nil)
		r.ServeHTTP(w, req)
		if w.Code != http.StatusNotFound {
			t.Fatalf("unknown cell -> %d", w.Code)
		}
	}

	// success: timedOut flag forwarded, result passed through
	{
		var gotTimedOut bool
		resolve := stubResolveSvc{
			process: func(_ context.Context, _ string, timedOut bool) (*services.CellResult, error) {
				gotTimedOut = timedOut
				return &services.CellResult{WinnerIDs: []string{"w"}, LoserIDs: []string{"l"}}, nil
			},
		}
		h := newStubHandlers(stubDelibSvc{}, stubFormationSvc{}, stubAdmissionSvc{}, stubRollingSvc{}, stubBallotSvc{}, resolve, stubCommentSvc{}, stubRevisionSvc{})
		r := gin.New()
		r.POST("/cells/:id/resolve", h.ResolveCell)

		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/cells/"+uuid.NewString()+"/resolve", nil)
		r.ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Fatalf("resolve -> %d", w.Code)
		}
		if !gotTimedOut {
			t.Fatalf("expected timedOut=true from the resolve endpoint")
		}
		var out ResolveResponse
		if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
			t.Fatalf("json: %v", err)
		}
		if !out.Resolved || out.Result == nil {
			t.Fatalf("unexpected response: %+v", out)
		}
	}
}

// ---------- ListComments ----------

func TestListComments_Paging_And_NotFound(t *testing.T) {
	gin.SetMode(gin.TestMode)

	cellID := uuid.NewString()
	seeded := make([]domain.Comment, 5)
	for i := range seeded {
		seeded[i] = domain.Comment{ID: uuid.NewString(), CellID: cellID, UserID: "u1", Text: fmt.Sprintf("c%d", i)}
	}
	comment := stubCommentSvc{
		visible: func(context.Context, string) ([]domain.Comment, error) { return seeded, nil },
	}
	h := newStubHandlers(stubDelibSvc{}, stubFormationSvc{}, stubAdmissionSvc{}, stubRollingSvc{}, stubBallotSvc{}, stubResolveSvc{}, comment, stubRevisionSvc{})
	r := gin.New()
	r.GET("/cells/:id/comments", h.ListComments)

	// default window returns everything
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/cells/"+cellID+"/comments", nil)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("list -> %d", w.Code)
	}
	var out ListCommentsResponse
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("json: %v", err)
	}
	if out.Total != 5 || len(out.Comments) != 5 {
		t.Fatalf("unexpected list: total=%d len=%d", out.Total, len(out.Comments))
	}

	// limit/offset slice the window but Total stays the full count
	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/cells/"+cellID+"/comments?limit=2&offset=4", nil)
	r.ServeHTTP(w, req)
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("json: %v", err)
	}
	if out.Total != 5 || len(out.Comments) != 1 || out.Comments[0].Text != "c4" {
		t.Fatalf("unexpected page: total=%d len=%d", out.Total, len(out.Comments))
	}

	// offset beyond the end -> empty page, not an error
	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/cells/"+cellID+"/comments?offset=99", nil)
	r.ServeHTTP(w, req)
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("json: %v", err)
	}
	if out.Total != 5 || len(out.Comments) != 0 {
		t.Fatalf("unexpected overshoot page: total=%d len=%d", out.Total, len(out.Comments))
	}

	// unknown cell -> 404
	notFound := stubCommentSvc{
		visible: func(context.Context, string) ([]domain.Comment, error) { return nil, services.ErrCellNotFound },
	}
	h404 := newStubHandlers(stubDelibSvc{}, stubFormationSvc{}, stubAdmissionSvc{}, stubRollingSvc{}, stubBallotSvc{}, stubResolveSvc{}, notFound, stubRevisionSvc{})
	r404 := gin.New()
	r404.GET("/cells/:id/comments", h404.ListComments)

	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/cells/"+uuid.NewString()+"/comments", nil)
	r404.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Fatalf("unknown cell -> %d", w.Code)
	}
}

// ---------- PostComment / UpvoteComment ----------

func TestPostComment_Success_IdeaOutsideCell(t *testing.T) {
	gin.SetMode(gin.TestMode)

	// success with idea link -> 201, args forwarded
	{
		var gotIdea *string
		comment := stubCommentSvc{
			add: func(_ context.Context, userID, cellID, text string, ideaID *string) (*domain.Comment, error) {
				gotIdea = ideaID
				return &domain.Comment{ID: uuid.NewString(), CellID: cellID, UserID: userID, Text: text, IdeaID: ideaID}, nil
			},
		}
		h := newStubHandlers(stubDelibSvc{}, stubFormationSvc{}, stubAdmissionSvc{}, stubRollingSvc{}, stubBallotSvc{}, stubResolveSvc{}, comment, stubRevisionSvc{})
		r := gin.New()
		r.POST("/cells/:id/comments", h.PostComment)

		ideaID := uuid.NewString()
		w := httptest.NewRecorder()
		body := fmt.Sprintf(`{"text":"nice","idea_id":%q}`, ideaID)
		req := httptest.NewRequest(http.MethodPost, "/cells/"+uuid.NewString()+"/comments", bytes.NewBufferString(body))
		req.Header.Set("X-User-ID", "u1")
		r.ServeHTTP(w, req)
		if w.Code != http.StatusCreated {
			t.Fatalf("post -> %d body=%s", w.Code, w.Body.String())
		}
		if gotIdea == nil || *gotIdea != ideaID {
			t.Fatalf("idea link not forwarded: %v", gotIdea)
		}
	}

	// idea outside the cell -> 400
	{
		comment := stubCommentSvc{
			add: func(context.Context, string, string, string, *string) (*domain.Comment, error) {
				return nil, services.ErrIdeaNotInCell
			},
		}
		h := newStubHandlers(stubDelibSvc{}, stubFormationSvc{}, stubAdmissionSvc{}, stubRollingSvc{}, stubBallotSvc{}, stubResolveSvc{}, comment, stubRevisionSvc{})
		r := gin.New()
		r.POST("/cells/:id/comments", h.PostComment)

		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/cells/"+uuid.NewString()+"/comments", bytes.NewBufferString(`{"text":"x","idea_id":"`+uuid.NewString()+`"}`))
		r.ServeHTTP(w, req)
		if w.Code != http.StatusBadRequest {
			t.Fatalf("foreign idea -> %d", w.Code)
		}
	}
}

func TestUpvoteComment_Success_Duplicate_NotFound(t *testing.T) {
	gin.SetMode(gin.TestMode)

	// success -> 204
	{
		h := defaultHandlers()
		r := gin.New()
		r.POST("/comments/:id/upvotes", h.UpvoteComment)

		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/comments/"+uuid.NewString()+"/upvotes", nil)
		req.Header.Set("X-User-ID", "u1")
		r.ServeHTTP(w, req)
		if w.Code != http.StatusNoContent {
			t.Fatalf("upvote -> %d", w.Code)
		}
	}

	// duplicate -> 409
	{
		comment := stubCommentSvc{
			upvote: func(context.Context, string, string) error { return services.ErrDuplicateUpvote },
		}
		h := newStubHandlers(stubDelibSvc{}, stubFormationSvc{}, stubAdmissionSvc{}, stubRollingSvc{}, stubBallotSvc{}, stubResolveSvc{}, comment, stubRevisionSvc{})
		r := gin.New()
		r.POST("/comments/:id/upvotes", h.UpvoteComment)

		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/comments/"+uuid.NewString()+"/upvotes", nil)
		r.ServeHTTP(w, req)
		if w.Code != http.StatusConflict {
			t.Fatalf("duplicate upvote -> %d", w.Code)
		}
	}

	// unknown comment -> 404
	{
		comment := stubCommentSvc{
			upvote: func(context.Context, string, string) error { return services.ErrCommentNotFound },
		}
		h := newStubHandlers(stubDelibSvc{}, stubFormationSvc{}, stubAdmissionSvc{}, stubRollingSvc{}, stubBallotSvc{}, stubResolveSvc{}, comment, stubRevisionSvc{})
		r := gin.New()
		r.POST("/comments/:id/upvotes", h.UpvoteComment)

		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/comments/"+uuid.NewString()+"/upvotes", nil)
		r.ServeHTTP(w, req)
		if w.Code != http.StatusNotFound {
			t.Fatalf("unknown comment -> %d", w.Code)
		}
	}
}
