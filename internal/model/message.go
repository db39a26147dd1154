package model

import (
	"time"

	"therapy-chat-sync/internal/docstore"
)

type Message struct {
	ID       string
	ChatID   string
	SenderID string
	Content  string
	SentAt   time.Time
	// Pending marks a local echo the store has not confirmed yet.
	Pending bool
}

func MessageFromSnapshot(s docstore.Snapshot) Message {
	return Message{
		ID:       s.ID,
		ChatID:   s.Data.String(FieldChatID),
		SenderID: s.Data.String(FieldSenderID),
		Content:  s.Data.String(FieldContent),
		SentAt:   s.Data.Time(FieldSentAt),
	}
}

func NewMessageDocument(chatID, senderID, content string) docstore.Document {
	return docstore.Document{
		FieldChatID:   chatID,
		FieldSenderID: senderID,
		FieldContent:  content,
		FieldSentAt:   docstore.ServerTimestamp(),
	}
}
