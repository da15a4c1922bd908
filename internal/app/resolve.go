package app

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"agora/api/internal/store"
)

type ResolutionKind int

const (
	ResolutionNotFound ResolutionKind = iota
	ResolutionFound
	ResolutionForbidden
	ResolutionTransient
)

func (k ResolutionKind) String() string {
	switch k {
	case ResolutionFound:
		return "found"
	case ResolutionForbidden:
		return "forbidden"
	case ResolutionTransient:
		return "transient"
	default:
		return "not_found"
	}
}

// Resolution is the outcome of looking a conversation up by id or slug.
// Conversation is set only for ResolutionFound and Cause only for
// ResolutionTransient.
type Resolution struct {
	Kind         ResolutionKind
	Conversation store.Conversation
	Cause        error
}

// AsError converts a non-found resolution into the error returned to
// clients. It is nil for ResolutionFound.
func (r Resolution) AsError() error {
	switch r.Kind {
	case ResolutionFound:
		return nil
	case ResolutionForbidden:
		return forbiddenError()
	case ResolutionTransient:
		return transientError()
	default:
		return notFoundError()
	}
}

// Resolve finds a conversation by primary key, falling back to its slug.
// Access denial is reported as Forbidden, never as NotFound, and store
// failures are Transient.
func (s *Service) Resolve(ctx context.Context, session Session, key string) Resolution {
	result := s.resolve(ctx, session.principal(), key)
	s.metrics.ObserveResolution(result.Kind.String())
	if result.Kind == ResolutionTransient {
		s.log.Error().Err(result.Cause).Str("key", key).Msg("conversation resolution failed")
	}
	return result
}

func (s *Service) resolve(ctx context.Context, p store.Principal, key string) Resolution {
	if strings.TrimSpace(key) == "" {
		return Resolution{Kind: ResolutionNotFound}
	}

	item, err := s.store.GetConversation(ctx, p, key)
	if !errors.Is(err, sql.ErrNoRows) {
		return resolution(item, err)
	}

	item, err = s.findBySlug(ctx, p, key)
	return resolution(item, err)
}

func resolution(item store.Conversation, err error) Resolution {
	switch {
	case err == nil:
		return Resolution{Kind: ResolutionFound, Conversation: item}
	case errors.Is(err, sql.ErrNoRows):
		return Resolution{Kind: ResolutionNotFound}
	case errors.Is(err, store.ErrPermissionDenied):
		return Resolution{Kind: ResolutionForbidden}
	default:
		return Resolution{Kind: ResolutionTransient, Cause: err}
	}
}

// findBySlug consults the slug cache before the store. A cached id is only
// trusted when the record it names still carries the slug.
func (s *Service) findBySlug(ctx context.Context, p store.Principal, key string) (store.Conversation, error) {
	if s.cache != nil {
		id, ok, err := s.cache.Lookup(ctx, key)
		if err != nil {
			s.log.Warn().Err(err).Str("slug", key).Msg("slug cache lookup failed")
		}
		s.metrics.SlugCacheLookup(ok)
		if ok {
			item, err := s.store.GetConversation(ctx, p, id)
			switch {
			case err == nil && item.SlugValue() == key:
				return item, nil
			case err == nil, errors.Is(err, sql.ErrNoRows):
				if err := s.cache.Forget(ctx, key); err != nil {
					s.log.Warn().Err(err).Str("slug", key).Msg("slug cache forget failed")
				}
			case errors.Is(err, store.ErrPermissionDenied):
				// The slug query below decides whether the key is this record.
			default:
				return store.Conversation{}, err
			}
		}
	}

	item, err := s.store.FindConversationBySlug(ctx, p, key)
	if err == nil {
		s.remember(ctx, key, item.ID)
	}
	return item, err
}
