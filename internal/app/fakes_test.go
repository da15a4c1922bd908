package app

import (
	"context"
	"database/sql"
	"strings"
	"sync"
	"time"

	"agora/api/internal/config"
	"agora/api/internal/rbac"
	"agora/api/internal/store"
)

// fakeStore is an in-memory dataStore that applies the real access rules.
// Any ...Fn hook replaces the default behaviour of its method.
type fakeStore struct {
	mu            sync.Mutex
	rules         store.AccessRules
	conversations map[string]store.Conversation
	contributions map[string][]store.Contribution
	calls         []string

	getConversationFn    func(context.Context, store.Principal, string) (store.Conversation, error)
	findBySlugFn         func(context.Context, store.Principal, string) (store.Conversation, error)
	hasContributionsFn   func(context.Context, store.Principal, string) (bool, error)
	insertContributionFn func(context.Context, store.Principal, store.Contribution) (store.Contribution, error)
	slugExistsFn         func(context.Context, string, string) (bool, error)
	assignSlugFn         func(context.Context, store.Principal, string, string) (bool, error)
	pingFn               func(context.Context) error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		rules:         store.AccessRules{AnonymousRead: true},
		conversations: map[string]store.Conversation{},
		contributions: map[string][]store.Contribution{},
	}
}

func (f *fakeStore) add(item store.Conversation) store.Conversation {
	f.mu.Lock()
	defer f.mu.Unlock()
	if item.Title == "" {
		item.Title = store.DefaultTitle
	}
	if item.ParticipantRoles == nil {
		item.ParticipantRoles = map[string]string{item.OwnerID: "owner"}
	}
	f.conversations[item.ID] = item
	return item
}

func (f *fakeStore) conversation(id string) store.Conversation {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.conversations[id]
}

func (f *fakeStore) record(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, name)
}

func (f *fakeStore) callsTo(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	count := 0
	for _, call := range f.calls {
		if call == name {
			count++
		}
	}
	return count
}

func (f *fakeStore) authorize(p store.Principal, id string, action rbac.Action) (store.Conversation, error) {
	item, ok := f.conversations[id]
	if !ok {
		return store.Conversation{}, sql.ErrNoRows
	}
	if !f.rules.Allows(item.ParticipantRoles, p, action) {
		return store.Conversation{}, store.ErrPermissionDenied
	}
	return item, nil
}

func (f *fakeStore) GetConversation(ctx context.Context, p store.Principal, id string) (store.Conversation, error) {
	f.record("GetConversation")
	if f.getConversationFn != nil {
		return f.getConversationFn(ctx, p, id)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.authorize(p, id, rbac.ActionRead)
}

func (f *fakeStore) FindConversationBySlug(ctx context.Context, p store.Principal, slug string) (store.Conversation, error) {
	f.record("FindConversationBySlug")
	if f.findBySlugFn != nil {
		return f.findBySlugFn(ctx, p, slug)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, item := range f.conversations {
		if item.SlugValue() == slug {
			return f.authorize(p, id, rbac.ActionRead)
		}
	}
	return store.Conversation{}, sql.ErrNoRows
}

func (f *fakeStore) InsertConversation(_ context.Context, item store.Conversation) (store.Conversation, error) {
	f.record("InsertConversation")
	now := time.Now()
	item.CreatedAt, item.UpdatedAt = now, now
	return f.add(item), nil
}

func (f *fakeStore) HasContributions(ctx context.Context, p store.Principal, id string) (bool, error) {
	f.record("HasContributions")
	if f.hasContributionsFn != nil {
		return f.hasContributionsFn(ctx, p, id)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, err := f.authorize(p, id, rbac.ActionRead); err != nil {
		return false, err
	}
	return len(f.contributions[id]) > 0, nil
}

func (f *fakeStore) InsertContribution(ctx context.Context, p store.Principal, item store.Contribution) (store.Contribution, error) {
	f.record("InsertContribution")
	if f.insertContributionFn != nil {
		return f.insertContributionFn(ctx, p, item)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, err := f.authorize(p, item.ConversationID, rbac.ActionContribute); err != nil {
		return store.Contribution{}, err
	}
	item.CreatedAt = time.Now()
	f.contributions[item.ConversationID] = append(f.contributions[item.ConversationID], item)
	return item, nil
}

func (f *fakeStore) ListContributions(_ context.Context, p store.Principal, id string) ([]store.Contribution, error) {
	f.record("ListContributions")
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, err := f.authorize(p, id, rbac.ActionRead); err != nil {
		return nil, err
	}
	return append([]store.Contribution(nil), f.contributions[id]...), nil
}

func (f *fakeStore) SlugExists(ctx context.Context, candidate, excludeID string) (bool, error) {
	f.record("SlugExists")
	if f.slugExistsFn != nil {
		return f.slugExistsFn(ctx, candidate, excludeID)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, item := range f.conversations {
		if id != excludeID && strings.EqualFold(item.SlugValue(), candidate) {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeStore) AssignSlug(ctx context.Context, p store.Principal, id, slug string) (bool, error) {
	f.record("AssignSlug")
	if f.assignSlugFn != nil {
		return f.assignSlugFn(ctx, p, id, slug)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	item, err := f.authorize(p, id, rbac.ActionContribute)
	if err != nil {
		return false, err
	}
	if item.Slug != nil {
		return false, nil
	}
	for otherID, other := range f.conversations {
		if otherID != id && strings.EqualFold(other.SlugValue(), slug) {
			return false, store.ErrSlugTaken
		}
	}
	value := slug
	item.Slug = &value
	item.UpdatedAt = time.Now()
	f.conversations[id] = item
	return true, nil
}

func (f *fakeStore) RenameSlug(_ context.Context, p store.Principal, id, slug string) (store.Conversation, error) {
	f.record("RenameSlug")
	f.mu.Lock()
	defer f.mu.Unlock()
	item, err := f.authorize(p, id, rbac.ActionAdmin)
	if err != nil {
		return store.Conversation{}, err
	}
	value := slug
	item.Slug = &value
	f.conversations[id] = item
	return item, nil
}

func (f *fakeStore) UpdateTitle(_ context.Context, p store.Principal, id, title string) (store.Conversation, error) {
	f.record("UpdateTitle")
	f.mu.Lock()
	defer f.mu.Unlock()
	item, err := f.authorize(p, id, rbac.ActionAdmin)
	if err != nil {
		return store.Conversation{}, err
	}
	item.Title = title
	f.conversations[id] = item
	return item, nil
}

func (f *fakeStore) Ping(ctx context.Context) error {
	if f.pingFn != nil {
		return f.pingFn(ctx)
	}
	return nil
}

type fakeCache struct {
	mu        sync.Mutex
	slugs     map[string]string
	reserved  map[string]string
	lookupErr  error
	reserveErr error
	pingErr    error
	forgotten  []string
}

func newFakeCache() *fakeCache {
	return &fakeCache{slugs: map[string]string{}, reserved: map[string]string{}}
}

func (c *fakeCache) Lookup(_ context.Context, slug string) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lookupErr != nil {
		return "", false, c.lookupErr
	}
	id, ok := c.slugs[slug]
	return id, ok, nil
}

func (c *fakeCache) Remember(_ context.Context, slug, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.slugs[slug] = id
	return nil
}

func (c *fakeCache) Forget(_ context.Context, slug string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.slugs, slug)
	c.forgotten = append(c.forgotten, slug)
	return nil
}

func (c *fakeCache) Reserve(_ context.Context, candidate, id string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.reserveErr != nil {
		return false, c.reserveErr
	}
	if holder, ok := c.reserved[candidate]; ok && holder != id {
		return false, nil
	}
	c.reserved[candidate] = id
	return true, nil
}

func (c *fakeCache) Ping(context.Context) error {
	return c.pingErr
}

func testConfig() config.Config {
	return config.Config{
		JWTSecret:       "test-secret",
		AccessTTL:       time.Hour,
		SlugMaxAttempts: 100,
		AnonymousRead:   true,
	}
}

func newTestService(fs *fakeStore, opts ...Option) *Service {
	return New(testConfig(), fs, opts...)
}

var (
	alice = Session{UserID: "user-alice", UserName: "Alice"}
	bob   = Session{UserID: "user-bob", UserName: "Bob"}
)

func strPtr(value string) *string {
	return &value
}
