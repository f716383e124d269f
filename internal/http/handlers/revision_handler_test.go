package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/averis/go-deliberation-backend/internal/domain"
	"github.com/averis/go-deliberation-backend/internal/services"
)

func TestProposeRevision_BadUUID_Success_PendingConflict(t *testing.T) {
	gin.SetMode(gin.TestMode)

	// bad UUID -> 400
	{
		h := defaultHandlers()
		r := gin.New()
		r.POST("/ideas/:id/revisions", h.ProposeRevision)

		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/ideas/not-uuid/revisions", bytes.NewBufferString(`{"text":"x"}`))
		r.ServeHTTP(w, req)
		if w.Code != http.StatusBadRequest {
			t.Fatalf("uuid 400 -> %d", w.Code)
		}
	}

	// success -> 201, args forwarded
	{
		var got struct{ uid, idea, text string }
		revision := stubRevisionSvc{
			propose: func(_ context.Context, userID, ideaID, text string) (*domain.IdeaRevision, error) {
				got.uid, got.idea, got.text = userID, ideaID, text
				return &domain.IdeaRevision{ID: uuid.NewString(), IdeaID: ideaID, ProposerID: userID, Text: text, Status: domain.RevisionPending}, nil
			},
		}
		h := newStubHandlers(stubDelibSvc{}, stubFormationSvc{}, stubAdmissionSvc{}, stubRollingSvc{}, stubBallotSvc{}, stubResolveSvc{}, stubCommentSvc{}, revision)
		r := gin.New()
		r.POST("/ideas/:id/revisions", h.ProposeRevision)

		ideaID := uuid.NewString()
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/ideas/"+ideaID+"/revisions", bytes.NewBufferString(`{"text":"better wording"}`))
		req.Header.Set("X-User-ID", "u3")
		r.ServeHTTP(w, req)
		if w.Code != http.StatusCreated {
			t.Fatalf("propose -> %d body=%s", w.Code, w.Body.String())
		}
		if got.uid != "u3" || got.idea != ideaID || got.text != "better wording" {
			t.Fatalf("service args mismatch: %+v", got)
		}
	}

	// an open revision already exists -> 409
	{
		revision := stubRevisionSvc{
			propose: func(context.Context, string, string, string) (*domain.IdeaRevision, error) {
				return nil, services.ErrPendingRevision
			},
		}
		h := newStubHandlers(stubDelibSvc{}, stubFormationSvc{}, stubAdmissionSvc{}, stubRollingSvc{}, stubBallotSvc{}, stubResolveSvc{}, stubCommentSvc{}, revision)
		r := gin.New()
		r.POST("/ideas/:id/revisions", h.ProposeRevision)

		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/ideas/"+uuid.NewString()+"/revisions", bytes.NewBufferString(`{"text":"x"}`))
		r.ServeHTTP(w, req)
		if w.Code != http.StatusConflict {
			t.Fatalf("pending conflict -> %d", w.Code)
		}
	}
}

func TestVoteRevision_MissingApprove_ProposerForbidden_Success(t *testing.T) {
	gin.SetMode(gin.TestMode)

	// missing approve field -> 400
	{
		h := defaultHandlers()
		r := gin.New()
		r.POST("/revisions/:id/votes", h.VoteRevision)

		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/revisions/"+uuid.NewString()+"/votes", bytes.NewBufferString(`{}`))
		r.ServeHTTP(w, req)
		if w.Code != http.StatusBadRequest {
			t.Fatalf("missing approve -> %d", w.Code)
		}
	}

	// proposer voting on own revision -> 403
	{
		revision := stubRevisionSvc{
			vote: func(context.Context, string, string, bool) (*domain.IdeaRevision, error) {
				return nil, services.ErrProposerVote
			},
		}
		h := newStubHandlers(stubDelibSvc{}, stubFormationSvc{}, stubAdmissionSvc{}, stubRollingSvc{}, stubBallotSvc{}, stubResolveSvc{}, stubCommentSvc{}, revision)
		r := gin.New()
		r.POST("/revisions/:id/votes", h.VoteRevision)

		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/revisions/"+uuid.NewString()+"/votes", bytes.NewBufferString(`{"approve":true}`))
		r.ServeHTTP(w, req)
		if w.Code != http.StatusForbidden {
			t.Fatalf("proposer vote -> %d", w.Code)
		}
	}

	// closed revision -> 409
	{
		revision := stubRevisionSvc{
			vote: func(context.Context, string, string, bool) (*domain.IdeaRevision, error) {
				return nil, services.ErrRevisionClosed
			},
		}
		h := newStubHandlers(stubDelibSvc{}, stubFormationSvc{}, stubAdmissionSvc{}, stubRollingSvc{}, stubBallotSvc{}, stubResolveSvc{}, stubCommentSvc{}, revision)
		r := gin.New()
		r.POST("/revisions/:id/votes", h.VoteRevision)

		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/revisions/"+uuid.NewString()+"/votes", bytes.NewBufferString(`{"approve":false}`))
		r.ServeHTTP(w, req)
		if w.Code != http.StatusConflict {
			t.Fatalf("closed revision -> %d", w.Code)
		}
	}

	// success -> 200 with the updated revision; approve flag forwarded
	{
		var gotApprove bool
		revision := stubRevisionSvc{
			vote: func(_ context.Context, _, revisionID string, approve bool) (*domain.IdeaRevision, error) {
				gotApprove = approve
				return &domain.IdeaRevision{ID: revisionID, Status: domain.RevisionApproved}, nil
			},
		}
		h := newStubHandlers(stubDelibSvc{}, stubFormationSvc{}, stubAdmissionSvc{}, stubRollingSvc{}, stubBallotSvc{}, stubResolveSvc{}, stubCommentSvc{}, revision)
		r := gin.New()
		r.POST("/revisions/:id/votes", h.VoteRevision)

		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/revisions/"+uuid.NewString()+"/votes", bytes.NewBufferString(`{"approve":true}`))
		req.Header.Set("X-User-ID", "u2")
		r.ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Fatalf("vote -> %d body=%s", w.Code, w.Body.String())
		}
		if !gotApprove {
			t.Fatalf("approve flag not forwarded")
		}
		var out domain.IdeaRevision
		if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
			t.Fatalf("json: %v", err)
		}
		if out.Status != domain.RevisionApproved {
			t.Fatalf("unexpected status %q", out.Status)
		}
	}
}
