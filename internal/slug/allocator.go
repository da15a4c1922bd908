package slug

import (
	"context"
	"errors"
	"fmt"
	"strconv"
)

// DefaultMaxAttempts bounds the collision loop when no ceiling is configured.
const DefaultMaxAttempts = 100

// ErrCeilingExceeded is returned when every candidate up to the attempt
// ceiling is already taken.
var ErrCeilingExceeded = errors.New("slug allocation ceiling exceeded")

// Checker reports whether a slug is already used by a conversation other
// than excludeID. Implementations must not mutate anything.
type Checker interface {
	SlugExists(ctx context.Context, candidate, excludeID string) (bool, error)
}

// Reserver claims a free candidate for one conversation so that a concurrent
// allocation for the same base skips it. Reserve returns false when another
// conversation holds the claim.
type Reserver interface {
	Reserve(ctx context.Context, candidate, conversationID string) (bool, error)
}

// Observer receives the number of checker calls each allocation made.
type Observer interface {
	ObserveSlugAttempts(attempts int)
}

// Allocator assigns collision-free slugs.
type Allocator struct {
	checker     Checker
	reserver    Reserver
	observer    Observer
	maxAttempts int
}

type Option func(*Allocator)

// WithReserver makes the allocator claim each free candidate before
// returning it.
func WithReserver(r Reserver) Option {
	return func(a *Allocator) { a.reserver = r }
}

func WithObserver(o Observer) Option {
	return func(a *Allocator) { a.observer = o }
}

// WithMaxAttempts sets the ceiling; values below 1 keep the default.
func WithMaxAttempts(n int) Option {
	return func(a *Allocator) {
		if n > 0 {
			a.maxAttempts = n
		}
	}
}

func NewAllocator(checker Checker, opts ...Option) *Allocator {
	a := &Allocator{checker: checker, maxAttempts: DefaultMaxAttempts}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Allocate derives a slug from seedText and returns the first candidate in
// base, base-1, base-2, ... that is free for conversationID.
//
// The check and the later write are separate steps, so two allocations racing
// on the same base can both pick the same candidate. A Reserver narrows that
// window; the store's unique index closes it.
func (a *Allocator) Allocate(ctx context.Context, seedText, conversationID string) (string, error) {
	base := Base(seedText)
	candidate := base
	attempts := 0
	defer func() {
		if a.observer != nil {
			a.observer.ObserveSlugAttempts(attempts)
		}
	}()

	for n := 1; ; n++ {
		if attempts >= a.maxAttempts {
			return "", fmt.Errorf("%w: %d candidates for %q", ErrCeilingExceeded, attempts, base)
		}
		attempts++

		taken, err := a.checker.SlugExists(ctx, candidate, conversationID)
		if err != nil {
			return "", fmt.Errorf("check slug %q: %w", candidate, err)
		}
		if !taken && a.reserver != nil {
			claimed, err := a.reserver.Reserve(ctx, candidate, conversationID)
			if err != nil {
				return "", fmt.Errorf("reserve slug %q: %w", candidate, err)
			}
			taken = !claimed
		}
		if !taken {
			return candidate, nil
		}
		candidate = base + "-" + strconv.Itoa(n)
	}
}
