// Package services defines the business logic of the deliberation tournament:
// cell formation, vote resolution, tier advancement, comment propagation,
// rolling mode, admission, and revisions. This file centralizes service-level
// error values and the structured outcome codes so that they can be
// consistently returned by service methods and checked by callers.
//
// Two kinds of results leave this package:
//
//   - Errors: fatal or validation failures (wrong phase, unknown entity,
//     malformed ballot). Callers never retry these internally; handlers
//     translate them to HTTP statuses.
//   - Outcomes: expected business results carried in a struct with a Success
//     flag and a stable Reason code. Callers branch on these, not on errors.
//     A nil *CellResult from ProcessCellResults is also an expected outcome:
//     a concurrent caller already handled the cell.
package services

import "errors"

// Outcome reason codes. These are stable, machine-readable strings paired
// with a success boolean; they are never wrapped in errors.
const (
	ReasonNoIdeas                  = "no_ideas"
	ReasonSingleIdea               = "single_idea"
	ReasonInsufficientParticipants = "insufficient_participants"
	ReasonVotingStarted            = "voting_started"
	ReasonNotInVotingPhase         = "not_in_voting_phase"
	ReasonAlreadyInCell            = "already_in_cell"
	ReasonNoActiveCells            = "no_active_cells"
	ReasonRoundFull                = "round_full"
	ReasonJoined                   = "joined"
	ReasonChallengeStarted         = "challenge_started"
	ReasonWindowExtended           = "window_extended"
	ReasonFinalized                = "finalized"
)

var (
	// ErrDeliberationNotFound indicates the requested deliberation does not exist.
	ErrDeliberationNotFound = errors.New("deliberation not found")

	// ErrCellNotFound indicates the requested cell does not exist.
	ErrCellNotFound = errors.New("cell not found")

	// ErrIdeaNotFound indicates the requested idea does not exist.
	ErrIdeaNotFound = errors.New("idea not found")

	// ErrCommentNotFound indicates the requested comment does not exist.
	ErrCommentNotFound = errors.New("comment not found")

	// ErrRevisionNotFound indicates the requested revision does not exist.
	ErrRevisionNotFound = errors.New("revision not found")

	// ErrWrongPhase is returned when an operation is attempted in a phase
	// that cannot accept it (e.g. starting voting twice). Fatal, never
	// retried internally.
	ErrWrongPhase = errors.New("deliberation is not in the required phase")

	// ErrEmptyText is returned when a submitted idea, comment, or revision
	// has no content after normalization.
	ErrEmptyText = errors.New("text is empty")

	// ErrTextTooLong is returned when submitted text exceeds the configured
	// rune limit.
	ErrTextTooLong = errors.New("text too long")

	// ErrNotParticipant is returned when a user acts inside a cell they are
	// not seated in.
	ErrNotParticipant = errors.New("user is not a participant of this cell")

	// ErrCellNotVoting is returned when a ballot or resolution-adjacent
	// action targets a cell that is not accepting votes.
	ErrCellNotVoting = errors.New("cell is not in the voting status")

	// ErrBallotBudget is returned when a ballot allocates more points than
	// the per-cell budget, or non-positive points to an idea.
	ErrBallotBudget = errors.New("ballot exceeds the point budget")

	// ErrIdeaNotInCell is returned when a ballot references an idea the cell
	// is not voting on.
	ErrIdeaNotInCell = errors.New("idea does not belong to this cell")

	// ErrDuplicateUpvote is returned when a user upvotes a comment twice.
	ErrDuplicateUpvote = errors.New("comment already upvoted")

	// ErrDuplicateMember is returned when a user joins a deliberation twice.
	ErrDuplicateMember = errors.New("already a member")

	// ErrPendingRevision is returned when an idea already has a pending
	// revision; at most one may be open at a time.
	ErrPendingRevision = errors.New("idea already has a pending revision")

	// ErrRevisionClosed is returned when voting on a revision that was
	// already approved or rejected.
	ErrRevisionClosed = errors.New("revision is no longer pending")

	// ErrProposerVote is returned when a revision's proposer tries to vote
	// on their own proposal.
	ErrProposerVote = errors.New("proposer cannot vote on own revision")

	// ErrDuplicateRevisionVote is returned when a user votes twice on the
	// same revision.
	ErrDuplicateRevisionVote = errors.New("revision already voted on")
)
