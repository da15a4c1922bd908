package app

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"agora/api/internal/store"
)

func seededResolver(t *testing.T, opts ...Option) (*Service, *fakeStore) {
	t.Helper()
	fs := newFakeStore()
	public := "roadmap"
	private := "secret-plans"
	fs.add(store.Conversation{ID: "conv-public", OwnerID: alice.UserID, Title: "Roadmap", Slug: &public})
	fs.add(store.Conversation{ID: "conv-private", OwnerID: alice.UserID, Slug: &private, ParticipantRoles: map[string]string{
		alice.UserID: "owner",
		bob.UserID:   "blocked",
	}})
	return newTestService(fs, opts...), fs
}

func TestResolveByIDAndSlugReturnSameRecord(t *testing.T) {
	svc, _ := seededResolver(t)
	ctx := context.Background()

	byID := svc.Resolve(ctx, alice, "conv-public")
	bySlug := svc.Resolve(ctx, alice, "roadmap")
	if byID.Kind != ResolutionFound || bySlug.Kind != ResolutionFound {
		t.Fatalf("expected both found, got %v and %v", byID.Kind, bySlug.Kind)
	}
	if diff := cmp.Diff(byID.Conversation, bySlug.Conversation); diff != "" {
		t.Fatalf("id and slug lookups differ (-id +slug):\n%s", diff)
	}
}

func TestResolveDistinguishesNotFoundFromForbidden(t *testing.T) {
	svc, _ := seededResolver(t)
	ctx := context.Background()

	cases := []struct {
		name    string
		session Session
		key     string
		want    ResolutionKind
	}{
		{name: "unknown key", session: bob, key: "nothing-here", want: ResolutionNotFound},
		{name: "blocked by id", session: bob, key: "conv-private", want: ResolutionForbidden},
		{name: "blocked by slug", session: bob, key: "secret-plans", want: ResolutionForbidden},
		{name: "owner by slug", session: alice, key: "secret-plans", want: ResolutionFound},
		{name: "anonymous reader", session: Session{}, key: "roadmap", want: ResolutionFound},
		{name: "blank key", session: alice, key: "   ", want: ResolutionNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := svc.Resolve(ctx, tc.session, tc.key); got.Kind != tc.want {
				t.Fatalf("Resolve(%q) = %v, want %v", tc.key, got.Kind, tc.want)
			}
		})
	}

	notFound := Resolution{Kind: ResolutionNotFound}.AsError().(*DomainError)
	forbidden := Resolution{Kind: ResolutionForbidden}.AsError().(*DomainError)
	if notFound.Code == forbidden.Code || notFound.Message == forbidden.Message {
		t.Fatalf("not found and forbidden must be distinguishable: %+v %+v", notFound, forbidden)
	}
}

func TestResolveBlankKeySkipsStore(t *testing.T) {
	svc, fs := seededResolver(t)
	for _, key := range []string{"", "   "} {
		if got := svc.Resolve(context.Background(), alice, key); got.Kind != ResolutionNotFound {
			t.Fatalf("Resolve(%q) = %v, want not_found", key, got.Kind)
		}
	}
	if len(fs.calls) != 0 {
		t.Fatalf("expected no store calls, got %v", fs.calls)
	}
}

func TestResolveMatchesKeyExactly(t *testing.T) {
	svc, _ := seededResolver(t)
	ctx := context.Background()

	for _, key := range []string{" roadmap", "roadmap ", " conv-public"} {
		if got := svc.Resolve(ctx, alice, key); got.Kind != ResolutionNotFound {
			t.Fatalf("Resolve(%q) = %v, want not_found", key, got.Kind)
		}
	}
}

func TestResolveStoreFailureIsTransient(t *testing.T) {
	boom := errors.New("connection reset")

	t.Run("primary key lookup", func(t *testing.T) {
		svc, fs := seededResolver(t)
		fs.getConversationFn = func(context.Context, store.Principal, string) (store.Conversation, error) {
			return store.Conversation{}, boom
		}
		got := svc.Resolve(context.Background(), alice, "conv-public")
		if got.Kind != ResolutionTransient || !errors.Is(got.Cause, boom) {
			t.Fatalf("expected transient with cause, got %+v", got)
		}
		if fs.callsTo("FindConversationBySlug") != 0 {
			t.Fatal("slug fallback must not run after a store failure")
		}
	})

	t.Run("slug lookup", func(t *testing.T) {
		svc, fs := seededResolver(t)
		fs.findBySlugFn = func(context.Context, store.Principal, string) (store.Conversation, error) {
			return store.Conversation{}, boom
		}
		got := svc.Resolve(context.Background(), alice, "roadmap")
		if got.Kind != ResolutionTransient {
			t.Fatalf("expected transient, got %v", got.Kind)
		}
		requireStatus(t, got.AsError(), 503)
	})
}

func TestResolveIDTakesPrecedenceOverSlug(t *testing.T) {
	svc, fs := seededResolver(t)
	clash := "conv-public"
	fs.add(store.Conversation{ID: "conv-other", OwnerID: bob.UserID, Slug: &clash})

	got := svc.Resolve(context.Background(), alice, "conv-public")
	if got.Kind != ResolutionFound || got.Conversation.ID != "conv-public" {
		t.Fatalf("expected primary key match, got %+v", got)
	}
}

func TestResolveUsesAndRepairsSlugCache(t *testing.T) {
	cache := newFakeCache()
	svc, fs := seededResolver(t, WithSlugCache(cache))
	ctx := context.Background()

	if got := svc.Resolve(ctx, alice, "roadmap"); got.Kind != ResolutionFound {
		t.Fatalf("expected found, got %v", got.Kind)
	}
	if cache.slugs["roadmap"] != "conv-public" {
		t.Fatalf("expected slug lookup to be cached, got %v", cache.slugs)
	}

	before := fs.callsTo("FindConversationBySlug")
	if got := svc.Resolve(ctx, alice, "roadmap"); got.Kind != ResolutionFound || got.Conversation.ID != "conv-public" {
		t.Fatalf("expected cached hit, got %+v", got)
	}
	if fs.callsTo("FindConversationBySlug") != before {
		t.Fatal("cache hit should not query by slug")
	}

	cache.slugs["secret-plans"] = "conv-public"
	got := svc.Resolve(ctx, alice, "secret-plans")
	if got.Kind != ResolutionFound || got.Conversation.ID != "conv-private" {
		t.Fatalf("stale cache entry must not win, got %+v", got)
	}
	if len(cache.forgotten) != 1 || cache.forgotten[0] != "secret-plans" {
		t.Fatalf("expected stale entry to be forgotten, got %v", cache.forgotten)
	}
}

func TestResolveIgnoresCacheErrors(t *testing.T) {
	cache := newFakeCache()
	cache.lookupErr = errors.New("redis down")
	svc, _ := seededResolver(t, WithSlugCache(cache))

	if got := svc.Resolve(context.Background(), alice, "roadmap"); got.Kind != ResolutionFound {
		t.Fatalf("cache failure must fall back to the store, got %v", got.Kind)
	}
}
