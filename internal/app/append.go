package app

import (
	"context"
	"errors"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"agora/api/internal/slug"
	"agora/api/internal/store"
)

type AppendContributionInput struct {
	ConversationID string
	Content        string
	Tone           *string
	// ConversationTitle is an explicit title to seed the slug with. The
	// default placeholder title must not be passed.
	ConversationTitle *string
	CurrentSlug       *string
}

// AppendResult carries the stored contribution and, when this append was
// the conversation's first, the slug it was given. SlugErr reports a slug
// assignment that failed after the contribution was stored.
type AppendResult struct {
	Contribution store.Contribution
	Slug         string
	SlugErr      error
}

// ValidateContribution checks content and tone without touching the store and
// returns the tone to persist, nil when none was given.
func ValidateContribution(content string, tone *string) (*string, error) {
	if strings.TrimSpace(content) == "" {
		return nil, validationError("content is required", map[string]any{"field": "content"})
	}
	if utf8.RuneCountInString(content) > maxContentLength {
		return nil, validationError("content must be at most 5000 characters", map[string]any{"field": "content"})
	}
	if tone == nil || *tone == "" {
		return nil, nil
	}
	if _, ok := allowedTones[*tone]; !ok {
		return nil, validationError("tone is not supported", map[string]any{
			"field":   "tone",
			"allowed": []string{"neutral", "positive", "negative", "curious", "assertive"},
		})
	}
	value := *tone
	return &value, nil
}

// AppendContribution stores a contribution and, if it is the first one on a
// conversation without a slug, derives and assigns the slug. The slug step
// never undoes the contribution.
func (s *Service) AppendContribution(ctx context.Context, session Session, input AppendContributionInput) (AppendResult, error) {
	if !session.Authenticated() {
		return AppendResult{}, unauthorizedError()
	}
	tone, err := ValidateContribution(input.Content, input.Tone)
	if err != nil {
		return AppendResult{}, err
	}

	p := session.principal()
	hasContributions, err := s.store.HasContributions(ctx, p, input.ConversationID)
	if err != nil {
		return AppendResult{}, err
	}

	created, err := s.store.InsertContribution(ctx, p, store.Contribution{
		ID:                uuid.NewString(),
		ConversationID:    input.ConversationID,
		Content:           input.Content,
		Tone:              tone,
		AuthorID:          session.UserID,
		AuthorDisplayName: session.DisplayName(),
	})
	if err != nil {
		return AppendResult{}, err
	}
	s.metrics.ContributionAppended()

	result := AppendResult{Contribution: created}
	if hasContributions || (input.CurrentSlug != nil && *input.CurrentSlug != "") {
		return result, nil
	}

	seed := slug.ExtractSeed(input.Content)
	if input.ConversationTitle != nil && strings.TrimSpace(*input.ConversationTitle) != "" {
		seed = *input.ConversationTitle
	}
	result.Slug, result.SlugErr = s.assignSlug(ctx, p, input.ConversationID, seed)
	return result, nil
}

func (s *Service) assignSlug(ctx context.Context, p store.Principal, conversationID, seed string) (string, error) {
	candidate, err := s.slugs.Allocate(ctx, seed, conversationID)
	if err != nil {
		s.slugWarning(conversationID, "allocate", err)
		return "", err
	}

	assigned, err := s.store.AssignSlug(ctx, p, conversationID, candidate)
	if err != nil {
		s.slugWarning(conversationID, "assign", err)
		return "", err
	}
	if !assigned {
		s.log.Debug().Str("conversation_id", conversationID).Msg("slug already assigned by a concurrent append")
		return "", nil
	}

	s.metrics.SlugAssigned()
	s.remember(ctx, candidate, conversationID)
	s.log.Info().Str("conversation_id", conversationID).Str("slug", candidate).Msg("slug assigned")
	return candidate, nil
}

func (s *Service) slugWarning(conversationID, step string, err error) {
	reason := "store"
	switch {
	case errors.Is(err, slug.ErrCeilingExceeded):
		reason = "ceiling"
	case errors.Is(err, store.ErrSlugTaken):
		reason = "conflict"
	}
	s.metrics.SlugWarning(reason)
	s.log.Warn().
		Err(err).
		Str("conversation_id", conversationID).
		Str("step", step).
		Str("reason", reason).
		Msg("slug assignment failed; contribution kept")
}
