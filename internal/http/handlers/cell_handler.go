// Cell HTTP handlers.
//
// This file exposes REST endpoints for cells and their comments:
//   - POST /cells/{id}/votes      (cast or replace a weighted ballot)
//   - POST /cells/{id}/resolve    (finalize the cell, timer/facilitator driven)
//   - GET  /cells/{id}/comments   (comments visible in this cell)
//   - POST /cells/{id}/comments   (add a comment, optionally linked to an idea)
//   - POST /comments/{id}/upvotes (upvote a comment, once per user)
//
// Handlers are transport-thin: they validate input, call application services,
// and translate results into HTTP responses. Cell resolution is idempotent at
// the service layer, so retried or concurrent resolve requests are safe.
package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/averis/go-deliberation-backend/internal/domain"
	"github.com/averis/go-deliberation-backend/internal/services"
	"github.com/averis/go-deliberation-backend/internal/utils"
)

//
// Service contracts (context-aware)
//

// BallotService records weighted ballots.
type BallotService interface {
	// CastBallot replaces the caller's ballot in the cell with picks
	// (idea → points) and may trigger resolution when the cell completes.
	CastBallot(ctx context.Context, userID, cellID string, picks map[string]int) (*services.CellResult, error)
}

// ResolutionService finalizes cells.
type ResolutionService interface {
	// ProcessCellResults tallies and closes the cell exactly once.
	ProcessCellResults(ctx context.Context, cellID string, timedOut bool) (*services.CellResult, error)
}

// CommentService manages cell comments and their visibility.
type CommentService interface {
	Add(ctx context.Context, userID, cellID, text string, ideaID *string) (*domain.Comment, error)
	Upvote(ctx context.Context, userID, commentID string) error
	VisibleComments(ctx context.Context, cellID string) ([]domain.Comment, error)
}

//
// DTOs
//

// CastBallotRequest is the JSON payload for casting a ballot. Picks maps idea
// IDs to the points assigned to them; the sum must stay within the budget.
type CastBallotRequest struct {
	Picks map[string]int `json:"picks" binding:"required"`
}

// BallotResponse reports whether casting the ballot completed the cell, and
// the cell result when it did.
type BallotResponse struct {
	Accepted bool                 `json:"accepted"`
	Resolved bool                 `json:"resolved"`
	Result   *services.CellResult `json:"result,omitempty"`
}

// ResolveResponse reports the outcome of a resolve request. Resolved is false
// when another request already closed the cell (the tally was not repeated).
type ResolveResponse struct {
	Resolved bool                 `json:"resolved"`
	Result   *services.CellResult `json:"result,omitempty"`
}

// PostCommentRequest is the JSON payload for adding a comment. IdeaID
// optionally attaches the comment to one of the cell's ideas, which makes it
// eligible for cross-cell spread.
type PostCommentRequest struct {
	Text   string  `json:"text" binding:"required,min=1"`
	IdeaID *string `json:"idea_id"`
}

// ListCommentsResponse contains the comments visible in a cell.
type ListCommentsResponse struct {
	Comments []domain.Comment `json:"comments"`
	Total    int              `json:"total"`
}

// listParams extracts and bounds the optional limit/offset query parameters.
func listParams(c *gin.Context) (limit, offset int) {
	const (
		defaultLimit = 50
		maxLimit     = 200
	)
	limit = utils.ClampInt(utils.AtoiDefault(c.Query("limit"), defaultLimit), 1, maxLimit)
	offset = utils.AtoiDefault(c.Query("offset"), 0)
	if offset < 0 {
		offset = 0
	}
	return
}

//
// Handlers
//

// CastBallot handles POST /cells/:id/votes. Re-posting replaces the caller's
// previous ballot for the cell.
func (h *Handlers) CastBallot(c *gin.Context) {
	ctx := c.Request.Context()
	cellID := c.Param("id")
	if !requireUUID(c, cellID, "cell") {
		return
	}

	var req CastBallotRequest
	if err := c.ShouldBindJSON(&req); err != nil || len(req.Picks) == 0 {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "picks required")
		return
	}

	result, err := h.ballotSvc.CastBallot(ctx, userID(c), cellID, req.Picks)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrCellNotFound):
			fail(c, http.StatusNotFound, ErrCodeNotFound, "cell not found")
		case errors.Is(err, services.ErrCellNotVoting):
			fail(c, http.StatusConflict, ErrCodeConflict, "cell is not accepting votes")
		case errors.Is(err, services.ErrNotParticipant):
			fail(c, http.StatusForbidden, ErrCodeForbidden, "not a participant of this cell")
		case errors.Is(err, services.ErrIdeaNotInCell):
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "ballot references an idea outside the cell")
		case errors.Is(err, services.ErrBallotBudget):
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "ballot exceeds the point budget")
		default:
			fail(c, http.StatusInternalServerError, ErrCodeVoteFailed, err.Error())
		}
		return
	}
	ok(c, http.StatusOK, BallotResponse{Accepted: true, Resolved: result != nil, Result: result})
}

// ResolveCell handles POST /cells/:id/resolve. Timers and facilitators use it
// to close a cell whose voting period has elapsed; replays return Resolved
// false without re-tallying.
func (h *Handlers) ResolveCell(c *gin.Context) {
	ctx := c.Request.Context()
	cellID := c.Param("id")
	if !requireUUID(c, cellID, "cell") {
		return
	}

	result, err := h.resolveSvc.ProcessCellResults(ctx, cellID, true)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrCellNotFound):
			fail(c, http.StatusNotFound, ErrCodeNotFound, "cell not found")
		default:
			fail(c, http.StatusInternalServerError, ErrCodeResolveFailed, err.Error())
		}
		return
	}
	ok(c, http.StatusOK, ResolveResponse{Resolved: result != nil, Result: result})
}

// ListComments handles GET /cells/:id/comments and returns the cell's own
// comments plus idea-linked comments that have spread in from sibling cells.
func (h *Handlers) ListComments(c *gin.Context) {
	ctx := c.Request.Context()
	cellID := c.Param("id")
	if !requireUUID(c, cellID, "cell") {
		return
	}

	comments, err := h.commentSvc.VisibleComments(ctx, cellID)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrCellNotFound):
			fail(c, http.StatusNotFound, ErrCodeNotFound, "cell not found")
		default:
			fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		}
		return
	}

	total := len(comments)
	limit, offset := listParams(c)
	if offset > total {
		offset = total
	}
	end := offset + limit
	if end > total {
		end = total
	}
	ok(c, http.StatusOK, ListCommentsResponse{Comments: comments[offset:end], Total: total})
}

// PostComment handles POST /cells/:id/comments.
func (h *Handlers) PostComment(c *gin.Context) {
	ctx := c.Request.Context()
	cellID := c.Param("id")
	if !requireUUID(c, cellID, "cell") {
		return
	}

	var req PostCommentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "text required")
		return
	}

	comment, err := h.commentSvc.Add(ctx, userID(c), cellID, req.Text, req.IdeaID)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrCellNotFound):
			fail(c, http.StatusNotFound, ErrCodeNotFound, "cell not found")
		case errors.Is(err, services.ErrNotParticipant):
			fail(c, http.StatusForbidden, ErrCodeForbidden, "not a participant of this cell")
		case errors.Is(err, services.ErrIdeaNotInCell):
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "idea is not part of this cell")
		case errors.Is(err, services.ErrEmptyText):
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "text required")
		case errors.Is(err, services.ErrTextTooLong):
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "text too long")
		default:
			fail(c, http.StatusInternalServerError, ErrCodeCreateFailed, err.Error())
		}
		return
	}
	ok(c, http.StatusCreated, comment)
}

// UpvoteComment handles POST /comments/:id/upvotes. A user may upvote a
// comment at most once; repeats return 409.
func (h *Handlers) UpvoteComment(c *gin.Context) {
	ctx := c.Request.Context()
	commentID := c.Param("id")
	if !requireUUID(c, commentID, "comment") {
		return
	}

	if err := h.commentSvc.Upvote(ctx, userID(c), commentID); err != nil {
		switch {
		case errors.Is(err, services.ErrCommentNotFound):
			fail(c, http.StatusNotFound, ErrCodeNotFound, "comment not found")
		case errors.Is(err, services.ErrDuplicateUpvote):
			fail(c, http.StatusConflict, ErrCodeConflict, "comment already upvoted")
		default:
			fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		}
		return
	}
	noContent(c)
}
