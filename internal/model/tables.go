package model

const (
	AppointmentsTable = "appointments"
	ChatsTable        = "chats"
	ChatPairsTable    = "chatPairs"
	MessagesTable     = "messages"
)

// Document field names shared by the services and the store adapters.
const (
	FieldPatientID     = "patientId"
	FieldTherapistID   = "therapistId"
	FieldTherapistName = "therapistName"
	FieldStartTime     = "startTime"
	FieldEndTime       = "endTime"
	FieldStatus        = "status"
	FieldCreatedAt     = "createdAt"
	FieldUpdatedAt     = "updatedAt"

	FieldPairKey       = "pairKey"
	FieldChatID        = "chatId"
	FieldLastMessage   = "lastMessage"
	FieldLastMessageAt = "lastMessageAt"
	FieldIsArchived    = "isArchived"
	FieldActivatedAt   = "activatedAt"

	FieldSenderID = "senderId"
	FieldContent  = "content"
	FieldSentAt   = "sentAt"
)

type Role string

const (
	RolePatient   Role = "patient"
	RoleTherapist Role = "therapist"
)

func (r Role) Valid() bool {
	return r == RolePatient || r == RoleTherapist
}

// IDField is the appointment field matched for a role.
func (r Role) IDField() string {
	if r == RoleTherapist {
		return FieldTherapistID
	}
	return FieldPatientID
}
