// Package domain defines the persistence models for deliberations, ideas,
// cells, votes, comments, and revisions. These types are mapped with GORM and
// form the core data layer of the deliberation backend.
package domain

import (
	"time"

	"gorm.io/gorm"
)

// Deliberation phases.
const (
	PhaseSubmission   = "submission"
	PhaseVoting       = "voting"
	PhaseAccumulating = "accumulating"
	PhaseCompleted    = "completed"
)

// Idea statuses.
const (
	IdeaSubmitted  = "submitted"
	IdeaInVoting   = "in_voting"
	IdeaAdvancing  = "advancing"
	IdeaEliminated = "eliminated"
	IdeaWinner     = "winner"
	IdeaDefending  = "defending"
	IdeaBenched    = "benched"
	IdeaRetired    = "retired"
)

// Cell statuses.
const (
	CellDeliberating = "deliberating"
	CellVoting       = "voting"
	CellCompleted    = "completed"
)

// Revision statuses.
const (
	RevisionPending  = "pending"
	RevisionApproved = "approved"
	RevisionRejected = "rejected"
)

// Deliberation represents one group decision process: a question, a pool of
// submitted ideas, and the tiered elimination tournament that reduces them to
// a single champion.
//
// Fields:
//   - ID: stable UUID primary key (char(36)).
//   - Question: the prompt participants are deciding on.
//   - Phase: submission → voting → (accumulating ↔ voting)* → completed.
//   - CurrentTier: the tier currently being voted on (0 before voting starts).
//   - ChampionID: the winning idea once declared; nil until then.
//   - CompletionReason: stable reason code recorded when the run ends or a
//     champion is declared (e.g. "no_ideas", "single_idea").
//   - AccumulationEnabled / AccumulationSeconds / AccumulationEndsAt: rolling
//     mode settings; when enabled, a declared champion opens a challenge window
//     instead of finalizing the run.
//   - ChallengeRound: number of completed post-champion challenge rounds.
//   - EmptyWindows: consecutive accumulation windows that attracted no
//     challengers; three in a row permanently finalize the deliberation.
//   - DiscussionSeconds / VotingSeconds: per-cell phase durations; a zero
//     discussion period opens cells directly in voting status.
type Deliberation struct {
	ID               string  `json:"id"                gorm:"type:char(36);primaryKey"`
	Question         string  `json:"question"          gorm:"type:varchar(500);not null"`
	Phase            string  `json:"phase"             gorm:"type:varchar(16);not null;default:'submission';check:phase IN ('submission','voting','accumulating','completed');index"`
	CurrentTier      int     `json:"current_tier"      gorm:"not null;default:0"`
	ChampionID       *string `json:"champion_id,omitempty" gorm:"type:char(36)"`
	CompletionReason *string `json:"completion_reason,omitempty" gorm:"type:varchar(32)"`

	AccumulationEnabled bool       `json:"accumulation_enabled" gorm:"not null;default:false"`
	AccumulationSeconds int        `json:"accumulation_seconds" gorm:"not null;default:0"`
	AccumulationEndsAt  *time.Time `json:"accumulation_ends_at,omitempty"`
	ChallengeRound      int        `json:"challenge_round" gorm:"not null;default:0"`
	EmptyWindows        int        `json:"-"              gorm:"not null;default:0"`

	DiscussionSeconds int `json:"discussion_seconds" gorm:"not null;default:0"`
	VotingSeconds     int `json:"voting_seconds"     gorm:"not null;default:0"`

	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"-" gorm:"index"`
}

// TableName returns the database table name for Deliberation.
func (Deliberation) TableName() string { return "deliberations" }

// Membership records that a user belongs to a deliberation. Members are
// seated into cells when voting starts; late joiners are admitted into the
// least-populated eligible cell of the current tier.
type Membership struct {
	ID             string    `json:"id"              gorm:"type:char(36);primaryKey"`
	DeliberationID string    `json:"deliberation_id" gorm:"type:char(36);not null;index;uniqueIndex:ux_member_delib_user,priority:1"`
	UserID         string    `json:"user_id"         gorm:"type:varchar(64);not null;uniqueIndex:ux_member_delib_user,priority:2"`
	CreatedAt      time.Time `json:"created_at"`

	Deliberation Deliberation `json:"-" gorm:"foreignKey:DeliberationID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for Membership.
func (Membership) TableName() string { return "memberships" }

// Idea is a submitted answer to the deliberation question. Its status tracks
// its path through the tournament; Tier records the highest tier it reached.
//
// Losses counts eliminations across challenge rounds and drives retirement in
// rolling mode. IsNew marks challengers submitted during an accumulation
// window. Exactly one idea carries IsChampion (and status winner) once the
// deliberation completes.
type Idea struct {
	ID             string `json:"id"              gorm:"type:char(36);primaryKey"`
	DeliberationID string `json:"deliberation_id" gorm:"type:char(36);not null;index:idx_delib_ideas"`
	AuthorID       string `json:"author_id"       gorm:"type:varchar(64);not null;index"`
	Text           string `json:"text"            gorm:"type:text;not null"`
	Status         string `json:"status"          gorm:"type:varchar(16);not null;default:'submitted';check:status IN ('submitted','in_voting','advancing','eliminated','winner','defending','benched','retired');index"`
	Tier           int    `json:"tier"            gorm:"not null;default:0"`
	Losses         int    `json:"losses"          gorm:"not null;default:0"`
	IsChampion     bool   `json:"is_champion"     gorm:"not null;default:false"`
	IsNew          bool   `json:"is_new"          gorm:"not null;default:false"`

	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"-" gorm:"index"`

	Deliberation Deliberation `json:"-" gorm:"foreignKey:DeliberationID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for Idea.
func (Idea) TableName() string { return "ideas" }

// Cell is a small group of participants voting on a fixed subset of ideas at
// one tier. Batch groups sibling cells sharing an idea set within a tier;
// Showdown marks cells of a final-showdown tier, which all share the full
// remaining idea set and are tallied across cells rather than per cell.
//
// A cell is immutable once completed; the completed transition is a guarded
// update so that exactly one of several concurrent resolvers wins.
type Cell struct {
	ID             string     `json:"id"              gorm:"type:char(36);primaryKey"`
	DeliberationID string     `json:"deliberation_id" gorm:"type:char(36);not null;index:idx_delib_cells,priority:1"`
	Tier           int        `json:"tier"            gorm:"not null;index:idx_delib_cells,priority:2"`
	Batch          int        `json:"batch"           gorm:"not null;default:0"`
	Status         string     `json:"status"          gorm:"type:varchar(16);not null;default:'voting';check:status IN ('deliberating','voting','completed')"`
	Showdown       bool       `json:"showdown"        gorm:"not null;default:false"`
	FinalizesAt    *time.Time `json:"finalizes_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Deliberation Deliberation `json:"-" gorm:"foreignKey:DeliberationID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for Cell.
func (Cell) TableName() string { return "cells" }

// CellIdea links an idea to the cell voting on it. Outside showdown tiers and
// batch replication an idea appears in exactly one cell per tier.
type CellIdea struct {
	ID     string `gorm:"type:char(36);primaryKey"`
	CellID string `gorm:"type:char(36);not null;index;uniqueIndex:ux_cell_idea,priority:1"`
	IdeaID string `gorm:"type:char(36);not null;index;uniqueIndex:ux_cell_idea,priority:2"`

	Cell Cell `gorm:"foreignKey:CellID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
	Idea Idea `gorm:"foreignKey:IdeaID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for CellIdea.
func (CellIdea) TableName() string { return "cell_ideas" }

// CellParticipation seats a user in a cell. Each participant belongs to at
// most one cell per tier.
type CellParticipation struct {
	ID     string `gorm:"type:char(36);primaryKey"`
	CellID string `gorm:"type:char(36);not null;index;uniqueIndex:ux_cell_user,priority:1"`
	UserID string `gorm:"type:varchar(64);not null;index;uniqueIndex:ux_cell_user,priority:2"`
	Status string `gorm:"type:varchar(16);not null;default:'active'"`

	CreatedAt time.Time

	Cell Cell `gorm:"foreignKey:CellID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for CellParticipation.
func (CellParticipation) TableName() string { return "cell_participations" }

// Vote is one voter's weighted support for one idea within a cell. A voter
// spends up to a fixed point budget per cell across its ideas; recasting a
// ballot replaces the voter's previous rows for that cell.
type Vote struct {
	ID     string `json:"id"      gorm:"type:char(36);primaryKey"`
	CellID string `json:"cell_id" gorm:"type:char(36);not null;index;uniqueIndex:ux_vote_cell_user_idea,priority:1"`
	UserID string `json:"user_id" gorm:"type:varchar(64);not null;uniqueIndex:ux_vote_cell_user_idea,priority:2"`
	IdeaID string `json:"idea_id" gorm:"type:char(36);not null;index;uniqueIndex:ux_vote_cell_user_idea,priority:3"`
	Points int    `json:"points"  gorm:"not null;check:points > 0"`

	CreatedAt time.Time `json:"created_at"`

	Cell Cell `json:"-" gorm:"foreignKey:CellID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
	Idea Idea `json:"-" gorm:"foreignKey:IdeaID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for Vote.
func (Vote) TableName() string { return "votes" }

// Comment is a remark made inside a cell, optionally attached to one of the
// cell's ideas. Idea-linked comments spread virally to sibling cells sharing
// the idea: SpreadCount (derived from upvotes) controls how many of those
// cells can see the comment, and ReachTier tracks the tier the comment
// currently lives at. Promotion to the next tier resets SpreadCount and
// TierUpvotes while preserving the cumulative UpvoteCount.
type Comment struct {
	ID          string  `json:"id"      gorm:"type:char(36);primaryKey"`
	CellID      string  `json:"cell_id" gorm:"type:char(36);not null;index"`
	IdeaID      *string `json:"idea_id,omitempty" gorm:"type:char(36);index"`
	UserID      string  `json:"user_id" gorm:"type:varchar(64);not null"`
	Text        string  `json:"text"    gorm:"type:text;not null"`
	UpvoteCount int     `json:"upvote_count" gorm:"not null;default:0"`
	SpreadCount int     `json:"spread_count" gorm:"not null;default:0"`
	ReachTier   int     `json:"reach_tier"   gorm:"not null;default:0;index"`
	TierUpvotes int     `json:"tier_upvotes" gorm:"not null;default:0"`

	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"-" gorm:"index"`

	Cell Cell `json:"-" gorm:"foreignKey:CellID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for Comment.
func (Comment) TableName() string { return "comments" }

// CommentUpvote enforces at-most-one-upvote-per-user via a unique index on
// (comment_id, user_id).
type CommentUpvote struct {
	ID        string `gorm:"type:char(36);primaryKey"`
	CommentID string `gorm:"type:char(36);not null;index;uniqueIndex:ux_upvote_comment_user,priority:1"`
	UserID    string `gorm:"type:varchar(64);not null;uniqueIndex:ux_upvote_comment_user,priority:2"`

	CreatedAt time.Time

	Comment Comment `gorm:"foreignKey:CommentID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for CommentUpvote.
func (CommentUpvote) TableName() string { return "comment_upvotes" }

// IdeaRevision is a proposed edit to an idea's text. At most one revision per
// idea may be pending at a time; a majority of the idea's non-proposer cell
// participants (Required = max(1, ceil(others/2))) must approve before the
// idea text is replaced, in the same transaction that marks the revision
// approved.
type IdeaRevision struct {
	ID         string `json:"id"          gorm:"type:char(36);primaryKey"`
	IdeaID     string `json:"idea_id"     gorm:"type:char(36);not null;index"`
	ProposerID string `json:"proposer_id" gorm:"type:varchar(64);not null"`
	Text       string `json:"text"        gorm:"type:text;not null"`
	Status     string `json:"status"      gorm:"type:varchar(16);not null;default:'pending';check:status IN ('pending','approved','rejected');index"`
	Required   int    `json:"required"    gorm:"not null"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Idea Idea `json:"-" gorm:"foreignKey:IdeaID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for IdeaRevision.
func (IdeaRevision) TableName() string { return "idea_revisions" }

// IdeaRevisionVote is one participant's approval or rejection of a pending
// revision, unique per (revision, user).
type IdeaRevisionVote struct {
	ID         string `gorm:"type:char(36);primaryKey"`
	RevisionID string `gorm:"type:char(36);not null;index;uniqueIndex:ux_revvote_rev_user,priority:1"`
	UserID     string `gorm:"type:varchar(64);not null;uniqueIndex:ux_revvote_rev_user,priority:2"`
	Approve    bool   `gorm:"not null"`

	CreatedAt time.Time

	Revision IdeaRevision `gorm:"foreignKey:RevisionID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for IdeaRevisionVote.
func (IdeaRevisionVote) TableName() string { return "idea_revision_votes" }
