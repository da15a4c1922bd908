package store

import "time"

// DefaultTitle is stored when a conversation is created without a title.
const DefaultTitle = "Untitled Conversation"

type Conversation struct {
	ID               string
	Title            string
	Slug             *string
	OwnerID          string
	OwnerDisplayName string
	// ParticipantRoles maps user id to a role tag: owner, contributor,
	// viewer or blocked.
	ParticipantRoles map[string]string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// ExplicitTitle returns the title unless it is the default placeholder.
func (c Conversation) ExplicitTitle() string {
	if c.Title == DefaultTitle {
		return ""
	}
	return c.Title
}

func (c Conversation) SlugValue() string {
	if c.Slug == nil {
		return ""
	}
	return *c.Slug
}

type Contribution struct {
	ID                string
	ConversationID    string
	Content           string
	Tone              *string
	AuthorID          string
	AuthorDisplayName string
	CreatedAt         time.Time
}
