// Package services – DeliberationService
//
// This file implements the DeliberationService, which manages the lifecycle
// around the tournament proper: creating a deliberation, joining it, taking
// idea submissions (including challenger submissions during accumulation
// windows), and producing status snapshots. It validates and normalizes text,
// enforces phase rules, and coordinates repository operations. The tournament
// itself is driven by the formation, resolution, and tier services.
package services

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/language"
	"gorm.io/gorm"

	"github.com/averis/go-deliberation-backend/internal/domain"
	"github.com/averis/go-deliberation-backend/internal/repo"
)

// DeliberationSettings carries the per-deliberation knobs chosen at creation.
type DeliberationSettings struct {
	// AccumulationEnabled opens a post-champion challenge window instead of
	// finalizing the run.
	AccumulationEnabled bool
	// AccumulationSeconds is the challenge window length.
	AccumulationSeconds int
	// DiscussionSeconds is the per-cell discussion period before voting
	// opens; zero opens cells directly in voting.
	DiscussionSeconds int
	// VotingSeconds is the per-cell voting period used to stamp deadlines.
	VotingSeconds int
}

// DeliberationSnapshot is the read model returned by the status endpoint.
type DeliberationSnapshot struct {
	Deliberation *domain.Deliberation `json:"deliberation"`
	IdeaCounts   map[string]int64     `json:"idea_counts"`
	TierTotal    int64                `json:"tier_cells"`
	TierDone     int64                `json:"tier_cells_completed"`
}

// DeliberationService provides deliberation-level operations: creation,
// membership, idea intake, and status reads. It enforces text limits and
// phase constraints.
type DeliberationService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB

	// MaxQuestionRunes caps stored questions by rune length.
	MaxQuestionRunes int
	// MaxIdeaRunes caps stored idea texts by rune length.
	MaxIdeaRunes int
	// TextLocale is the locale used for text handling; retained as a knob
	// for future locale-aware normalization.
	TextLocale language.Tag

	// Defaults fills in timing settings left unset at creation. A zero
	// DiscussionSeconds is meaningful (discussion disabled) and is kept.
	Defaults DeliberationSettings
}

// NewDeliberationService constructs a DeliberationService with sane defaults
// for text handling.
func NewDeliberationService(db *gorm.DB) *DeliberationService {
	return &DeliberationService{
		DB:               db,
		MaxQuestionRunes: 500,
		MaxIdeaRunes:     2000,
		TextLocale:       language.Und,
	}
}

// Create inserts a new deliberation in the submission phase and enrolls the
// creator as its first member.
func (s *DeliberationService) Create(ctx context.Context, creatorID, question string, settings DeliberationSettings) (*domain.Deliberation, error) {
	question = normalizeText(question)
	if question == "" {
		return nil, ErrEmptyText
	}
	if s.MaxQuestionRunes > 0 && utf8.RuneCountInString(question) > s.MaxQuestionRunes {
		return nil, ErrTextTooLong
	}

	if settings.VotingSeconds <= 0 {
		settings.VotingSeconds = s.Defaults.VotingSeconds
	}
	if settings.AccumulationSeconds <= 0 {
		settings.AccumulationSeconds = s.Defaults.AccumulationSeconds
	}
	if settings.DiscussionSeconds < 0 {
		settings.DiscussionSeconds = s.Defaults.DiscussionSeconds
	}

	d := &domain.Deliberation{
		Question:            question,
		Phase:               domain.PhaseSubmission,
		AccumulationEnabled: settings.AccumulationEnabled,
		AccumulationSeconds: settings.AccumulationSeconds,
		DiscussionSeconds:   settings.DiscussionSeconds,
		VotingSeconds:       settings.VotingSeconds,
	}
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := repo.CreateDeliberation(ctx, tx, d); err != nil {
			return err
		}
		_, err := repo.AddMember(ctx, tx, d.ID, creatorID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return d, nil
}

// Join enrolls userID in the deliberation ahead of the voting phase. Joining
// mid-vote goes through the admission service instead.
func (s *DeliberationService) Join(ctx context.Context, userID, deliberationID string) error {
	if _, err := repo.GetDeliberation(ctx, s.DB, deliberationID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return ErrDeliberationNotFound
		}
		return err
	}
	if _, err := repo.AddMember(ctx, s.DB, deliberationID, userID); err != nil {
		if repo.IsUniqueViolation(err) {
			return ErrDuplicateMember
		}
		return err
	}
	return nil
}

// SubmitIdea records a new idea for the deliberation. Submissions are open
// during the submission phase and during accumulation windows; accumulation
// submissions are flagged as challengers. The author is enrolled as a member
// if they are not one already.
func (s *DeliberationService) SubmitIdea(ctx context.Context, userID, deliberationID, text string) (*domain.Idea, error) {
	text = normalizeText(text)
	if text == "" {
		return nil, ErrEmptyText
	}
	if s.MaxIdeaRunes > 0 && utf8.RuneCountInString(text) > s.MaxIdeaRunes {
		return nil, ErrTextTooLong
	}

	var idea *domain.Idea
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		d, err := repo.GetDeliberation(ctx, tx, deliberationID)
		if err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return ErrDeliberationNotFound
			}
			return err
		}
		if d.Phase != domain.PhaseSubmission && d.Phase != domain.PhaseAccumulating {
			return ErrWrongPhase
		}

		isNew := d.Phase == domain.PhaseAccumulating
		idea, err = repo.CreateIdea(ctx, tx, deliberationID, userID, text, isNew)
		if err != nil {
			return err
		}

		if _, err := repo.AddMember(ctx, tx, deliberationID, userID); err != nil && !repo.IsUniqueViolation(err) {
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return idea, nil
}

// Snapshot returns the deliberation row together with idea status counts and
// the current tier's completion progress.
func (s *DeliberationService) Snapshot(ctx context.Context, deliberationID string) (*DeliberationSnapshot, error) {
	d, err := repo.GetDeliberation(ctx, s.DB, deliberationID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrDeliberationNotFound
		}
		return nil, err
	}
	counts, err := repo.IdeaStatusCounts(ctx, s.DB, deliberationID)
	if err != nil {
		return nil, err
	}
	total, done, err := repo.TierProgress(ctx, s.DB, deliberationID, d.CurrentTier)
	if err != nil {
		return nil, err
	}
	return &DeliberationSnapshot{
		Deliberation: d,
		IdeaCounts:   counts,
		TierTotal:    total,
		TierDone:     done,
	}, nil
}

// normalizeText trims whitespace and collapses multiple spaces to one.
func normalizeText(s string) string {
	return whitespaceRE.ReplaceAllString(strings.TrimSpace(s), " ")
}

// whitespaceRE collapses consecutive whitespace to a single space.
var whitespaceRE = regexp.MustCompile(`\s+`)
