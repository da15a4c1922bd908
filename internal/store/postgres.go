package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"agora/api/internal/rbac"
)

const uniqueViolation = "23505"

const conversationColumns = `id, title, slug, owner_id, owner_display_name, participant_roles, created_at, updated_at`

type PostgresStore struct {
	db    *sql.DB
	rules AccessRules
}

func NewPostgresStore(db *sql.DB, rules AccessRules) *PostgresStore {
	return &PostgresStore{db: db, rules: rules}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConversation(row rowScanner) (Conversation, error) {
	var (
		item  Conversation
		slug  sql.NullString
		roles []byte
	)
	if err := row.Scan(&item.ID, &item.Title, &slug, &item.OwnerID, &item.OwnerDisplayName, &roles, &item.CreatedAt, &item.UpdatedAt); err != nil {
		return Conversation{}, err
	}
	if slug.Valid {
		value := slug.String
		item.Slug = &value
	}
	item.ParticipantRoles = map[string]string{}
	if len(roles) > 0 {
		if err := json.Unmarshal(roles, &item.ParticipantRoles); err != nil {
			return Conversation{}, fmt.Errorf("decode participant roles: %w", err)
		}
	}
	return item, nil
}

func (s *PostgresStore) GetConversation(ctx context.Context, p Principal, id string) (Conversation, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+conversationColumns+` FROM conversations WHERE id=$1`, id)
	item, err := scanConversation(row)
	if err != nil {
		return Conversation{}, err
	}
	if err := s.rules.check(item.ParticipantRoles, p, rbac.ActionRead); err != nil {
		return Conversation{}, err
	}
	return item, nil
}

func (s *PostgresStore) FindConversationBySlug(ctx context.Context, p Principal, slug string) (Conversation, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+conversationColumns+` FROM conversations WHERE slug=$1 LIMIT 1`, slug)
	item, err := scanConversation(row)
	if err != nil {
		return Conversation{}, err
	}
	if err := s.rules.check(item.ParticipantRoles, p, rbac.ActionRead); err != nil {
		return Conversation{}, err
	}
	return item, nil
}

func (s *PostgresStore) InsertConversation(ctx context.Context, item Conversation) (Conversation, error) {
	roles, err := json.Marshal(item.ParticipantRoles)
	if err != nil {
		return Conversation{}, fmt.Errorf("encode participant roles: %w", err)
	}
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO conversations (id, title, slug, owner_id, owner_display_name, participant_roles)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING `+conversationColumns,
		item.ID, item.Title, nullableString(item.Slug), item.OwnerID, item.OwnerDisplayName, roles,
	)
	created, err := scanConversation(row)
	if isUniqueViolation(err) {
		return Conversation{}, ErrSlugTaken
	}
	if err != nil {
		return Conversation{}, fmt.Errorf("insert conversation: %w", err)
	}
	return created, nil
}

// authorize loads the conversation's roles and checks action for p. A missing
// conversation yields sql.ErrNoRows.
func (s *PostgresStore) authorize(ctx context.Context, p Principal, id string, action rbac.Action) error {
	var raw []byte
	if err := s.db.QueryRowContext(ctx, `SELECT participant_roles FROM conversations WHERE id=$1`, id).Scan(&raw); err != nil {
		return err
	}
	roles := map[string]string{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &roles); err != nil {
			return fmt.Errorf("decode participant roles: %w", err)
		}
	}
	return s.rules.check(roles, p, action)
}

func (s *PostgresStore) HasContributions(ctx context.Context, p Principal, conversationID string) (bool, error) {
	if err := s.authorize(ctx, p, conversationID, rbac.ActionRead); err != nil {
		return false, err
	}
	var exists bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM contributions WHERE conversation_id=$1)`, conversationID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("count contributions: %w", err)
	}
	return exists, nil
}

// InsertContribution stores item with a server-assigned timestamp and returns
// the stored record.
func (s *PostgresStore) InsertContribution(ctx context.Context, p Principal, item Contribution) (Contribution, error) {
	if err := s.authorize(ctx, p, item.ConversationID, rbac.ActionContribute); err != nil {
		return Contribution{}, err
	}
	var createdAt time.Time
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO contributions (id, conversation_id, content, tone, author_id, author_display_name)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at
	`, item.ID, item.ConversationID, item.Content, nullableString(item.Tone), item.AuthorID, item.AuthorDisplayName).Scan(&createdAt)
	if err != nil {
		return Contribution{}, fmt.Errorf("insert contribution: %w", err)
	}
	item.CreatedAt = createdAt
	return item, nil
}

func (s *PostgresStore) ListContributions(ctx context.Context, p Principal, conversationID string) ([]Contribution, error) {
	if err := s.authorize(ctx, p, conversationID, rbac.ActionRead); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, conversation_id, content, tone, author_id, author_display_name, created_at
		FROM contributions
		WHERE conversation_id=$1
		ORDER BY created_at ASC, seq ASC
	`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("list contributions: %w", err)
	}
	defer rows.Close()

	items := make([]Contribution, 0)
	for rows.Next() {
		var (
			item Contribution
			tone sql.NullString
		)
		if err := rows.Scan(&item.ID, &item.ConversationID, &item.Content, &tone, &item.AuthorID, &item.AuthorDisplayName, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan contribution: %w", err)
		}
		if tone.Valid {
			value := tone.String
			item.Tone = &value
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// SlugExists reports whether candidate is used by any conversation other than
// excludeID. It ignores access rules: the slug namespace is global.
func (s *PostgresStore) SlugExists(ctx context.Context, candidate, excludeID string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM conversations
			WHERE LOWER(slug) = LOWER($1) AND ($2 = '' OR id <> $2)
		)
	`, candidate, excludeID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check slug: %w", err)
	}
	return exists, nil
}

// AssignSlug sets the slug only while it is still null. It returns false when
// the conversation already had one.
func (s *PostgresStore) AssignSlug(ctx context.Context, p Principal, id, slug string) (bool, error) {
	if err := s.authorize(ctx, p, id, rbac.ActionContribute); err != nil {
		return false, err
	}
	result, err := s.db.ExecContext(ctx, `UPDATE conversations SET slug=$2, updated_at=NOW() WHERE id=$1 AND slug IS NULL`, id, slug)
	if isUniqueViolation(err) {
		return false, ErrSlugTaken
	}
	if err != nil {
		return false, fmt.Errorf("assign slug: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("assign slug rows: %w", err)
	}
	return affected == 1, nil
}

func (s *PostgresStore) RenameSlug(ctx context.Context, p Principal, id, slug string) (Conversation, error) {
	if err := s.authorize(ctx, p, id, rbac.ActionAdmin); err != nil {
		return Conversation{}, err
	}
	row := s.db.QueryRowContext(ctx, `UPDATE conversations SET slug=$2, updated_at=NOW() WHERE id=$1 RETURNING `+conversationColumns, id, slug)
	item, err := scanConversation(row)
	if isUniqueViolation(err) {
		return Conversation{}, ErrSlugTaken
	}
	if err != nil {
		return Conversation{}, err
	}
	return item, nil
}

func (s *PostgresStore) UpdateTitle(ctx context.Context, p Principal, id, title string) (Conversation, error) {
	if err := s.authorize(ctx, p, id, rbac.ActionAdmin); err != nil {
		return Conversation{}, err
	}
	row := s.db.QueryRowContext(ctx, `UPDATE conversations SET title=$2, updated_at=NOW() WHERE id=$1 RETURNING `+conversationColumns, id, title)
	return scanConversation(row)
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

func nullableString(value *string) any {
	if value == nil {
		return nil
	}
	return *value
}
