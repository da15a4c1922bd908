package app

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"agora/api/internal/auth"
	"agora/api/internal/config"
	"agora/api/internal/metrics"
	"agora/api/internal/slug"
	"agora/api/internal/store"
	"agora/api/internal/util"
)

const (
	maxTitleLength   = 200
	maxContentLength = 5000
	anonymousName    = "Anonymous"
)

var allowedTones = map[string]struct{}{
	"neutral":   {},
	"positive":  {},
	"negative":  {},
	"curious":   {},
	"assertive": {},
}

// Session is the caller identity carried by a bearer token. The zero value
// is an anonymous caller.
type Session struct {
	Token     string
	UserID    string
	UserName  string
	Email     string
	ExpiresAt time.Time
}

func (s Session) Authenticated() bool {
	return s.UserID != ""
}

// DisplayName falls back from name to email to "Anonymous".
func (s Session) DisplayName() string {
	if name := strings.TrimSpace(s.UserName); name != "" {
		return name
	}
	if email := strings.TrimSpace(s.Email); email != "" {
		return email
	}
	return anonymousName
}

func (s Session) principal() store.Principal {
	return store.Principal{UserID: s.UserID}
}

type CreateConversationInput struct {
	Title *string `json:"title"`
}

type dataStore interface {
	GetConversation(context.Context, store.Principal, string) (store.Conversation, error)
	FindConversationBySlug(context.Context, store.Principal, string) (store.Conversation, error)
	InsertConversation(context.Context, store.Conversation) (store.Conversation, error)
	HasContributions(context.Context, store.Principal, string) (bool, error)
	InsertContribution(context.Context, store.Principal, store.Contribution) (store.Contribution, error)
	ListContributions(context.Context, store.Principal, string) ([]store.Contribution, error)
	SlugExists(context.Context, string, string) (bool, error)
	AssignSlug(context.Context, store.Principal, string, string) (bool, error)
	RenameSlug(context.Context, store.Principal, string, string) (store.Conversation, error)
	UpdateTitle(context.Context, store.Principal, string, string) (store.Conversation, error)
	Ping(ctx context.Context) error
}

// slugCache is optional. Its failures are logged and otherwise ignored.
type slugCache interface {
	Lookup(ctx context.Context, slug string) (string, bool, error)
	Remember(ctx context.Context, slug, conversationID string) error
	Forget(ctx context.Context, slug string) error
	Reserve(ctx context.Context, candidate, conversationID string) (bool, error)
	Ping(ctx context.Context) error
}

// cacheReserver lets allocation proceed through a cache outage. The
// conditional slug write and the unique index still decide the winner.
type cacheReserver struct {
	cache slugCache
	log   zerolog.Logger
}

func (r cacheReserver) Reserve(ctx context.Context, candidate, conversationID string) (bool, error) {
	claimed, err := r.cache.Reserve(ctx, candidate, conversationID)
	if err != nil {
		r.log.Warn().Err(err).Str("slug", candidate).Msg("slug reservation failed; continuing without it")
		return true, nil
	}
	return claimed, nil
}

type Service struct {
	cfg     config.Config
	store   dataStore
	cache   slugCache
	slugs   *slug.Allocator
	metrics *metrics.Metrics
	log     zerolog.Logger
}

type Option func(*Service)

// WithSlugCache enables cached slug lookups and slug reservations.
func WithSlugCache(cache slugCache) Option {
	return func(s *Service) { s.cache = cache }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithLogger(log zerolog.Logger) Option {
	return func(s *Service) { s.log = log }
}

func New(cfg config.Config, dataStore dataStore, opts ...Option) *Service {
	s := &Service{
		cfg:   cfg,
		store: dataStore,
		log:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}

	allocatorOpts := []slug.Option{
		slug.WithMaxAttempts(cfg.SlugMaxAttempts),
		slug.WithObserver(s.metrics),
	}
	if s.cache != nil {
		allocatorOpts = append(allocatorOpts, slug.WithReserver(cacheReserver{cache: s.cache, log: s.log}))
	}
	s.slugs = slug.NewAllocator(dataStore, allocatorOpts...)
	return s
}

// Login issues a token for a display name and/or email. There is no
// password check: identity comes from whoever holds the signing secret.
func (s *Service) Login(_ context.Context, name, email string) (Session, error) {
	name = strings.TrimSpace(name)
	email = strings.ToLower(strings.TrimSpace(email))
	if name == "" && email == "" {
		return Session{}, validationError("name or email is required", nil)
	}

	identifier := email
	if identifier == "" {
		identifier = "name:" + name
	}
	session := Session{
		UserID:   auth.SubjectFor(identifier),
		UserName: name,
		Email:    email,
	}
	session.UserName = session.DisplayName()

	claims := auth.Claims{Name: session.UserName, Email: email}
	claims.Subject = session.UserID
	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), claims, s.cfg.AccessTTL)
	if err != nil {
		return Session{}, err
	}
	session.Token = token
	session.ExpiresAt = time.Now().Add(s.cfg.AccessTTL)
	return session, nil
}

func (s *Service) SessionFromToken(_ context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	session := Session{
		Token:    token,
		UserID:   claims.Subject,
		UserName: claims.Name,
		Email:    claims.Email,
	}
	if claims.ExpiresAt != nil {
		session.ExpiresAt = claims.ExpiresAt.Time
	}
	return session, nil
}

func (s *Service) CreateConversation(ctx context.Context, session Session, input CreateConversationInput) (store.Conversation, error) {
	if !session.Authenticated() {
		return store.Conversation{}, unauthorizedError()
	}
	title := store.DefaultTitle
	if input.Title != nil {
		if trimmed := strings.TrimSpace(*input.Title); trimmed != "" {
			title = trimmed
		}
	}
	if utf8.RuneCountInString(title) > maxTitleLength {
		return store.Conversation{}, validationError("title must be at most 200 characters", map[string]any{"field": "title"})
	}

	id, err := util.NewConversationID()
	if err != nil {
		return store.Conversation{}, err
	}
	return s.store.InsertConversation(ctx, store.Conversation{
		ID:               id,
		Title:            title,
		OwnerID:          session.UserID,
		OwnerDisplayName: session.DisplayName(),
		ParticipantRoles: map[string]string{session.UserID: "owner"},
	})
}

func (s *Service) UpdateTitle(ctx context.Context, session Session, conversationID, title string) (store.Conversation, error) {
	if !session.Authenticated() {
		return store.Conversation{}, unauthorizedError()
	}
	title, err := NormalizeTitle(title)
	if err != nil {
		return store.Conversation{}, err
	}
	return s.store.UpdateTitle(ctx, session.principal(), conversationID, title)
}

// NormalizeTitle trims title and enforces the 1..200 character range.
func NormalizeTitle(title string) (string, error) {
	title = strings.TrimSpace(title)
	length := utf8.RuneCountInString(title)
	if length == 0 || length > maxTitleLength {
		return "", validationError("title must be between 1 and 200 characters", map[string]any{"field": "title"})
	}
	return title, nil
}

// NormalizeSlug slugifies a requested slug and rejects results that are
// empty or longer than slug.MaxLength.
func NormalizeSlug(requested string) (string, error) {
	candidate := slug.Slugify(requested)
	if candidate == "" {
		return "", validationError("slug must contain at least one letter or digit", map[string]any{"field": "slug"})
	}
	if len(candidate) > slug.MaxLength {
		return "", validationError("slug must be at most 60 characters", map[string]any{"field": "slug"})
	}
	return candidate, nil
}

// RenameSlug lets an owner replace the slug. The requested text is slugified
// and must not collide with another conversation's slug.
func (s *Service) RenameSlug(ctx context.Context, session Session, conversationID, requested string) (store.Conversation, error) {
	if !session.Authenticated() {
		return store.Conversation{}, unauthorizedError()
	}
	candidate, err := NormalizeSlug(requested)
	if err != nil {
		return store.Conversation{}, err
	}

	current, err := s.store.GetConversation(ctx, session.principal(), conversationID)
	if err != nil {
		return store.Conversation{}, err
	}
	if current.SlugValue() == candidate {
		return current, nil
	}

	taken, err := s.store.SlugExists(ctx, candidate, conversationID)
	if err != nil {
		return store.Conversation{}, err
	}
	if taken {
		return store.Conversation{}, conflictError("slug is already in use", map[string]any{"slug": candidate})
	}

	updated, err := s.store.RenameSlug(ctx, session.principal(), conversationID, candidate)
	if err != nil {
		return store.Conversation{}, err
	}
	if s.cache != nil {
		if old := current.SlugValue(); old != "" {
			if err := s.cache.Forget(ctx, old); err != nil {
				s.log.Warn().Err(err).Str("slug", old).Msg("slug cache forget failed")
			}
		}
		s.remember(ctx, candidate, conversationID)
	}
	return updated, nil
}

func (s *Service) ListContributions(ctx context.Context, session Session, conversationID string) ([]store.Contribution, error) {
	return s.store.ListContributions(ctx, session.principal(), conversationID)
}

func (s *Service) remember(ctx context.Context, slugValue, conversationID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Remember(ctx, slugValue, conversationID); err != nil {
		s.log.Warn().Err(err).Str("slug", slugValue).Msg("slug cache write failed")
	}
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// PingCache reports cache health; it is nil when no cache is configured.
func (s *Service) PingCache(ctx context.Context) error {
	if s.cache == nil {
		return nil
	}
	return s.cache.Ping(ctx)
}

// CacheEnabled reports whether a slug cache is configured.
func (s *Service) CacheEnabled() bool {
	return s.cache != nil
}
