package model

import (
	"time"

	"therapy-chat-sync/internal/docstore"
)

// ConversationStartedText is the cache value of a conversation with no messages.
const ConversationStartedText = "Conversation started"

type Conversation struct {
	ID            string
	PairKey       string
	PatientID     string
	TherapistID   string
	TherapistName string
	LastMessage   string
	LastMessageAt time.Time
	CreatedAt     time.Time
	ActivatedAt   time.Time
	IsArchived    bool
}

// NewConversationDocument is the initial state of a conversation; every
// timestamp is assigned by the store.
func NewConversationDocument(patientID, therapistID, therapistName string) docstore.Document {
	return docstore.Document{
		FieldPairKey:       PairKey(patientID, therapistID),
		FieldPatientID:     patientID,
		FieldTherapistID:   therapistID,
		FieldTherapistName: therapistName,
		FieldLastMessage:   ConversationStartedText,
		FieldLastMessageAt: docstore.ServerTimestamp(),
		FieldCreatedAt:     docstore.ServerTimestamp(),
		FieldActivatedAt:   docstore.ServerTimestamp(),
		FieldIsArchived:    false,
	}
}

func ConversationFromSnapshot(s docstore.Snapshot) Conversation {
	return Conversation{
		ID:            s.ID,
		PairKey:       s.Data.String(FieldPairKey),
		PatientID:     s.Data.String(FieldPatientID),
		TherapistID:   s.Data.String(FieldTherapistID),
		TherapistName: s.Data.String(FieldTherapistName),
		LastMessage:   s.Data.String(FieldLastMessage),
		LastMessageAt: s.Data.Time(FieldLastMessageAt),
		CreatedAt:     s.Data.Time(FieldCreatedAt),
		ActivatedAt:   s.Data.Time(FieldActivatedAt),
		IsArchived:    s.Data.Bool(FieldIsArchived),
	}
}

// PairIndexDocument maps a pair key to its canonical conversation.
func PairIndexDocument(pairKey, chatID string) docstore.Document {
	return docstore.Document{
		FieldPairKey: pairKey,
		FieldChatID:  chatID,
	}
}
