package util

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

// ConversationIDLength is the size of ids handed out for new conversations.
const ConversationIDLength = 12

func NewID(prefix string) string {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		panic(fmt.Sprintf("util: read random bytes: %v", err))
	}
	if prefix == "" {
		return hex.EncodeToString(bytes)
	}
	return prefix + "_" + hex.EncodeToString(bytes)
}

// NewConversationID returns a URL-safe nanoid of ConversationIDLength
// characters.
func NewConversationID() (string, error) {
	id, err := gonanoid.New(ConversationIDLength)
	if err != nil {
		return "", fmt.Errorf("generate conversation id: %w", err)
	}
	return id, nil
}
