package dto

import (
	"time"

	"therapy-chat-sync/internal/model"
)

type CreateConversationRequest struct {
	PatientID     string `json:"patientId"`
	TherapistID   string `json:"therapistId"`
	TherapistName string `json:"therapistName"`
}

type ConversationResponse struct {
	ConversationID string `json:"conversationId"`
	PatientID      string `json:"patientId"`
	TherapistID    string `json:"therapistId"`
	TherapistName  string `json:"therapistName"`
	LastMessage    string `json:"lastMessage"`
	LastMessageAt  string `json:"lastMessageAt"`
	CreatedAt      string `json:"createdAt"`
	IsArchived     bool   `json:"isArchived"`
}

type ListConversationsResponse struct {
	Conversations []ConversationResponse `json:"conversations"`
}

type PostMessageRequest struct {
	Content string `json:"content"`
	// MessageID lets a client retry a send without creating a duplicate.
	MessageID string `json:"messageId,omitempty"`
}

type MessageResponse struct {
	MessageID      string `json:"messageId"`
	ConversationID string `json:"conversationId"`
	SenderID       string `json:"senderId"`
	Content        string `json:"content"`
	SentAt         string `json:"sentAt"`
	Pending        bool   `json:"pending,omitempty"`
}

type ListMessagesResponse struct {
	Messages []MessageResponse `json:"messages"`
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func FromConversation(c model.Conversation) ConversationResponse {
	return ConversationResponse{
		ConversationID: c.ID,
		PatientID:      c.PatientID,
		TherapistID:    c.TherapistID,
		TherapistName:  c.TherapistName,
		LastMessage:    c.LastMessage,
		LastMessageAt:  formatTime(c.LastMessageAt),
		CreatedAt:      formatTime(c.CreatedAt),
		IsArchived:     c.IsArchived,
	}
}

func FromConversations(items []model.Conversation) []ConversationResponse {
	out := make([]ConversationResponse, len(items))
	for i, c := range items {
		out[i] = FromConversation(c)
	}
	return out
}

func FromMessage(m model.Message) MessageResponse {
	return MessageResponse{
		MessageID:      m.ID,
		ConversationID: m.ChatID,
		SenderID:       m.SenderID,
		Content:        m.Content,
		SentAt:         formatTime(m.SentAt),
		Pending:        m.Pending,
	}
}

func FromMessages(items []model.Message) []MessageResponse {
	out := make([]MessageResponse, len(items))
	for i, m := range items {
		out[i] = FromMessage(m)
	}
	return out
}
