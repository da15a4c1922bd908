package app

import (
	"time"

	"agora/api/internal/store"
)

type conversationResponse struct {
	ID               string            `json:"id"`
	Title            string            `json:"title"`
	Slug             *string           `json:"slug"`
	OwnerID          string            `json:"ownerId"`
	OwnerDisplayName string            `json:"ownerDisplayName"`
	ParticipantRoles map[string]string `json:"participantRoles"`
	CreatedAt        time.Time         `json:"createdAt"`
	UpdatedAt        time.Time         `json:"updatedAt"`
}

type contributionResponse struct {
	ID                string    `json:"id"`
	ConversationID    string    `json:"conversationId"`
	Content           string    `json:"content"`
	Tone              *string   `json:"tone"`
	AuthorID          string    `json:"authorId"`
	AuthorDisplayName string    `json:"authorDisplayName"`
	CreatedAt         time.Time `json:"createdAt"`
}

func conversationJSON(item store.Conversation) conversationResponse {
	roles := item.ParticipantRoles
	if roles == nil {
		roles = map[string]string{}
	}
	return conversationResponse{
		ID:               item.ID,
		Title:            item.Title,
		Slug:             item.Slug,
		OwnerID:          item.OwnerID,
		OwnerDisplayName: item.OwnerDisplayName,
		ParticipantRoles: roles,
		CreatedAt:        item.CreatedAt,
		UpdatedAt:        item.UpdatedAt,
	}
}

func contributionJSON(item store.Contribution) contributionResponse {
	return contributionResponse{
		ID:                item.ID,
		ConversationID:    item.ConversationID,
		Content:           item.Content,
		Tone:              item.Tone,
		AuthorID:          item.AuthorID,
		AuthorDisplayName: item.AuthorDisplayName,
		CreatedAt:         item.CreatedAt,
	}
}
