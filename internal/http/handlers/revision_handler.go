// Revision HTTP handlers.
//
// This file exposes REST endpoints for idea revisions:
//   - POST /ideas/{id}/revisions   (propose an edited text for an idea)
//   - POST /revisions/{id}/votes   (approve or reject a pending revision)
package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/averis/go-deliberation-backend/internal/domain"
	"github.com/averis/go-deliberation-backend/internal/services"
)

// RevisionService manages proposed edits to ideas under vote.
type RevisionService interface {
	Propose(ctx context.Context, userID, ideaID, text string) (*domain.IdeaRevision, error)
	Vote(ctx context.Context, userID, revisionID string, approve bool) (*domain.IdeaRevision, error)
}

// ProposeRevisionRequest is the JSON payload for proposing a revision.
type ProposeRevisionRequest struct {
	// Text is the full replacement text for the idea.
	Text string `json:"text" binding:"required,min=1"`
}

// RevisionVoteRequest is the JSON payload for voting on a revision.
type RevisionVoteRequest struct {
	// Approve is true to approve the revision, false to reject it.
	Approve *bool `json:"approve" binding:"required"`
}

// ProposeRevision handles POST /ideas/:id/revisions.
func (h *Handlers) ProposeRevision(c *gin.Context) {
	ctx := c.Request.Context()
	ideaID := c.Param("id")
	if !requireUUID(c, ideaID, "idea") {
		return
	}

	var req ProposeRevisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "text required")
		return
	}

	rev, err := h.revisionSvc.Propose(ctx, userID(c), ideaID, req.Text)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrIdeaNotFound):
			fail(c, http.StatusNotFound, ErrCodeNotFound, "idea not found")
		case errors.Is(err, services.ErrWrongPhase):
			fail(c, http.StatusConflict, ErrCodeConflict, "idea is not under vote")
		case errors.Is(err, services.ErrNotParticipant):
			fail(c, http.StatusForbidden, ErrCodeForbidden, "not a participant of the idea's cell")
		case errors.Is(err, services.ErrPendingRevision):
			fail(c, http.StatusConflict, ErrCodeConflict, "idea already has a pending revision")
		case errors.Is(err, services.ErrEmptyText):
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "text required")
		case errors.Is(err, services.ErrTextTooLong):
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "text too long")
		default:
			fail(c, http.StatusInternalServerError, ErrCodeCreateFailed, err.Error())
		}
		return
	}
	ok(c, http.StatusCreated, rev)
}

// VoteRevision handles POST /revisions/:id/votes. The returned revision
// carries its updated status (pending, approved, or rejected).
func (h *Handlers) VoteRevision(c *gin.Context) {
	ctx := c.Request.Context()
	revisionID := c.Param("id")
	if !requireUUID(c, revisionID, "revision") {
		return
	}

	var req RevisionVoteRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Approve == nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "approve required")
		return
	}

	rev, err := h.revisionSvc.Vote(ctx, userID(c), revisionID, *req.Approve)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrRevisionNotFound):
			fail(c, http.StatusNotFound, ErrCodeNotFound, "revision not found")
		case errors.Is(err, services.ErrRevisionClosed):
			fail(c, http.StatusConflict, ErrCodeConflict, "revision is no longer pending")
		case errors.Is(err, services.ErrProposerVote):
			fail(c, http.StatusForbidden, ErrCodeForbidden, "proposer may not vote on their own revision")
		case errors.Is(err, services.ErrNotParticipant):
			fail(c, http.StatusForbidden, ErrCodeForbidden, "not a participant of the idea's cell")
		case errors.Is(err, services.ErrDuplicateRevisionVote):
			fail(c, http.StatusConflict, ErrCodeConflict, "revision vote already recorded")
		default:
			fail(c, http.StatusInternalServerError, ErrCodeVoteFailed, err.Error())
		}
		return
	}
	ok(c, http.StatusOK, rev)
}
