// Deliberation HTTP handlers.
//
// This file exposes REST endpoints for deliberation resources:
//   - POST /deliberations                          (create)
//   - GET  /deliberations/{id}                     (status snapshot)
//   - POST /deliberations/{id}/join                (enroll as member / late join)
//   - POST /deliberations/{id}/ideas               (submit an idea)
//   - POST /deliberations/{id}/start               (start the voting phase)
//   - POST /deliberations/{id}/accumulation/expire (close the challenge window)
//
// Handlers are transport-thin: they validate input, call application services,
// and translate results into HTTP responses. Structured outcomes (start, join,
// accumulation) pass through as JSON bodies; only genuine failures map to
// error envelopes.
package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/averis/go-deliberation-backend/internal/domain"
	"github.com/averis/go-deliberation-backend/internal/http/middleware"
	"github.com/averis/go-deliberation-backend/internal/repo"
	"github.com/averis/go-deliberation-backend/internal/services"
)

//
// Service contracts (context-aware)
//

// DeliberationService defines deliberation lifecycle operations consumed by
// HTTP handlers.
//
// Implementations should be safe for concurrent use and must honor the
// provided context for cancellation and timeouts.
type DeliberationService interface {
	// Create starts a new deliberation for the question with the settings.
	Create(ctx context.Context, creatorID, question string, settings services.DeliberationSettings) (*domain.Deliberation, error)
	// Join enrolls userID as a member before voting begins.
	Join(ctx context.Context, userID, deliberationID string) error
	// SubmitIdea records an idea during submission or accumulation.
	SubmitIdea(ctx context.Context, userID, deliberationID, text string) (*domain.Idea, error)
	// Snapshot returns the status read model.
	Snapshot(ctx context.Context, deliberationID string) (*services.DeliberationSnapshot, error)
}

// FormationService starts the voting phase.
type FormationService interface {
	StartVotingPhase(ctx context.Context, deliberationID string) (*services.StartOutcome, error)
}

// AdmissionService seats late joiners into active cells.
type AdmissionService interface {
	AddLateJoinerToCell(ctx context.Context, deliberationID, userID string) (*services.JoinOutcome, error)
}

// RollingService closes accumulation windows and starts challenge rounds.
type RollingService interface {
	ExpireAccumulation(ctx context.Context, deliberationID string) (*services.RollingOutcome, error)
}

//
// Handler wiring
//

// Handlers groups HTTP endpoints for deliberations, cells, comments, and
// revisions. It depends on abstract service interfaces to keep transport
// concerns separate from business logic.
type Handlers struct {
	delibSvc     DeliberationService
	formationSvc FormationService
	admissionSvc AdmissionService
	rollingSvc   RollingService
	ballotSvc    BallotService
	resolveSvc   ResolutionService
	commentSvc   CommentService
	revisionSvc  RevisionService

	// IdempotencyTTL bounds how long a stored Idempotency-Key result is
	// honored for replays. Zero falls back to 24h.
	IdempotencyTTL time.Duration
}

// New constructs and returns a Handlers instance bound to the given services.
func New(
	delibSvc DeliberationService,
	formationSvc FormationService,
	admissionSvc AdmissionService,
	rollingSvc RollingService,
	ballotSvc BallotService,
	resolveSvc ResolutionService,
	commentSvc CommentService,
	revisionSvc RevisionService,
) *Handlers {
	return &Handlers{
		delibSvc:     delibSvc,
		formationSvc: formationSvc,
		admissionSvc: admissionSvc,
		rollingSvc:   rollingSvc,
		ballotSvc:    ballotSvc,
		resolveSvc:   resolveSvc,
		commentSvc:   commentSvc,
		revisionSvc:  revisionSvc,
	}
}

// userID extracts the authenticated user id from Gin context (set by upstream
// middleware). If absent, it falls back to "X-User-ID" header (tests use it),
// and finally to "demo-user". It never touches c.Request if it's nil.
func userID(c *gin.Context) string {
	if v, ok := c.Get("userID"); ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	if c != nil && c.Request != nil {
		if h := strings.TrimSpace(c.GetHeader("X-User-ID")); h != "" {
			return h
		}
	}
	return "demo-user"
}

// requireUUID validates that id is a well-formed UUID and writes a 400 when it
// is not. It returns false when the request has been aborted.
func requireUUID(c *gin.Context, id, what string) bool {
	if _, err := uuid.Parse(id); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, fmt.Sprintf("%s id must be a UUID", what))
		return false
	}
	return true
}

//
// DTOs
//

// CreateDeliberationRequest is the JSON payload for creating a deliberation.
type CreateDeliberationRequest struct {
	// Question is the prompt the group deliberates on. It must be non-empty.
	Question string `json:"question" binding:"required,min=1"`
	// AccumulationEnabled opens a challenge window after a champion emerges.
	AccumulationEnabled bool `json:"accumulation_enabled"`
	// AccumulationSeconds overrides the challenge window length.
	AccumulationSeconds int `json:"accumulation_seconds"`
	// DiscussionSeconds sets the per-cell discussion period; 0 disables it.
	DiscussionSeconds int `json:"discussion_seconds"`
	// VotingSeconds sets the per-cell voting deadline.
	VotingSeconds int `json:"voting_seconds"`
}

// SubmitIdeaRequest is the JSON payload for submitting an idea.
type SubmitIdeaRequest struct {
	// Text is the idea content. It must be non-empty.
	Text string `json:"text" binding:"required,min=1"`
}

//
// Handlers
//

// CreateDeliberation handles POST /deliberations. The caller becomes the first
// member of the new deliberation.
func (h *Handlers) CreateDeliberation(c *gin.Context) {
	ctx := c.Request.Context()

	var req CreateDeliberationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "question required")
		return
	}

	d, err := h.delibSvc.Create(ctx, userID(c), req.Question, services.DeliberationSettings{
		AccumulationEnabled: req.AccumulationEnabled,
		AccumulationSeconds: req.AccumulationSeconds,
		DiscussionSeconds:   req.DiscussionSeconds,
		VotingSeconds:       req.VotingSeconds,
	})
	if err != nil {
		switch {
		case errors.Is(err, services.ErrEmptyText):
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "question required")
		case errors.Is(err, services.ErrTextTooLong):
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "question too long")
		default:
			fail(c, http.StatusInternalServerError, ErrCodeCreateFailed, err.Error())
		}
		return
	}
	ok(c, http.StatusCreated, d)
}

// GetDeliberation handles GET /deliberations/:id and returns the status
// snapshot (phase, tier progress, idea counts).
func (h *Handlers) GetDeliberation(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")
	if !requireUUID(c, id, "deliberation") {
		return
	}

	snap, err := h.delibSvc.Snapshot(ctx, id)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrDeliberationNotFound):
			fail(c, http.StatusNotFound, ErrCodeNotFound, "deliberation not found")
		default:
			fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		}
		return
	}
	ok(c, http.StatusOK, snap)
}

// JoinDeliberation handles POST /deliberations/:id/join. Before voting starts
// it enrolls the caller as a member; during voting it seats them into an
// active cell via the admission path and returns the structured outcome.
func (h *Handlers) JoinDeliberation(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")
	if !requireUUID(c, id, "deliberation") {
		return
	}
	uid := userID(c)

	if err := h.delibSvc.Join(ctx, uid, id); err != nil {
		switch {
		case errors.Is(err, services.ErrDeliberationNotFound):
			fail(c, http.StatusNotFound, ErrCodeNotFound, "deliberation not found")
			return
		case errors.Is(err, services.ErrDuplicateMember):
			// Joining twice is harmless.
		default:
			fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
			return
		}
	}

	// When voting is already under way, also seat the newcomer into a cell.
	out, err := h.admissionSvc.AddLateJoinerToCell(ctx, id, uid)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	if out.Reason == services.ReasonNotInVotingPhase {
		noContent(c)
		return
	}
	ok(c, http.StatusOK, out)
}

// SubmitIdea handles POST /deliberations/:id/ideas. Accepted during the
// submission phase and, as challenger entries, during accumulation.
func (h *Handlers) SubmitIdea(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")
	if !requireUUID(c, id, "deliberation") {
		return
	}

	var req SubmitIdeaRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "text required")
		return
	}

	currentUser := userID(c)

	// Idempotency (replay path) – read validated key if present.
	idemKey, _ := middleware.GetIdempotencyKey(c)
	if idemKey != "" {
		if svc, okSvc := h.delibSvc.(*services.DeliberationService); okSvc && svc.DB != nil {
			if rec, err := repo.GetIdempotency(ctx, svc.DB, currentUser, id, idemKey, time.Now().UTC()); err == nil && rec != nil {
				if prev, err2 := repo.GetIdea(ctx, svc.DB, rec.ResultID); err2 == nil {
					c.Header("Idempotency-Replayed", "true")
					ok(c, http.StatusCreated, prev)
					return
				}
			}
		}
	}

	idea, err := h.delibSvc.SubmitIdea(ctx, currentUser, id, req.Text)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrDeliberationNotFound):
			fail(c, http.StatusNotFound, ErrCodeNotFound, "deliberation not found")
		case errors.Is(err, services.ErrWrongPhase):
			fail(c, http.StatusConflict, ErrCodeConflict, "deliberation is not accepting ideas")
		case errors.Is(err, services.ErrEmptyText):
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "text required")
		case errors.Is(err, services.ErrTextTooLong):
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "text too long")
		default:
			fail(c, http.StatusInternalServerError, ErrCodeCreateFailed, err.Error())
		}
		return
	}

	// Idempotency (store path) – best effort.
	if idemKey != "" {
		if svc, okSvc := h.delibSvc.(*services.DeliberationService); okSvc && svc.DB != nil {
			ttl := h.IdempotencyTTL
			if ttl <= 0 {
				ttl = 24 * time.Hour
			}
			_ = repo.SaveIdempotency(ctx, svc.DB, currentUser, id, idemKey, idea.ID, http.StatusCreated, ttl)
		}
	}

	ok(c, http.StatusCreated, idea)
}

// StartVoting handles POST /deliberations/:id/start and moves the deliberation
// into tier 1 voting. Degenerate pools (no ideas, one idea, no participants)
// return a structured outcome with HTTP 200, not an error.
func (h *Handlers) StartVoting(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")
	if !requireUUID(c, id, "deliberation") {
		return
	}

	out, err := h.formationSvc.StartVotingPhase(ctx, id)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrDeliberationNotFound):
			fail(c, http.StatusNotFound, ErrCodeNotFound, "deliberation not found")
		case errors.Is(err, services.ErrWrongPhase):
			fail(c, http.StatusConflict, ErrCodeConflict, "deliberation is not in the submission phase")
		default:
			fail(c, http.StatusInternalServerError, ErrCodeStartFailed, err.Error())
		}
		return
	}
	ok(c, http.StatusOK, out)
}

// ExpireAccumulation handles POST /deliberations/:id/accumulation/expire. It is
// called by the window scheduler (or a facilitator) to close the current
// challenge window.
func (h *Handlers) ExpireAccumulation(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")
	if !requireUUID(c, id, "deliberation") {
		return
	}

	out, err := h.rollingSvc.ExpireAccumulation(ctx, id)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrDeliberationNotFound):
			fail(c, http.StatusNotFound, ErrCodeNotFound, "deliberation not found")
		case errors.Is(err, services.ErrWrongPhase):
			fail(c, http.StatusConflict, ErrCodeConflict, "deliberation is not accumulating")
		default:
			fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		}
		return
	}
	ok(c, http.StatusOK, out)
}
