package dto

import (
	"time"

	"therapy-chat-sync/internal/model"
)

type BookAppointmentRequest struct {
	PatientID     string    `json:"patientId"`
	TherapistID   string    `json:"therapistId"`
	TherapistName string    `json:"therapistName"`
	StartTime     time.Time `json:"startTime"`
}

type AppointmentResponse struct {
	AppointmentID string `json:"appointmentId"`
	PatientID     string `json:"patientId"`
	TherapistID   string `json:"therapistId"`
	TherapistName string `json:"therapistName"`
	StartTime     string `json:"startTime"`
	EndTime       string `json:"endTime"`
	Status        string `json:"status"`
	CreatedAt     string `json:"createdAt"`
}

// BookAppointmentResponse carries the conversation when it could be set
// up; otherwise Warning says the booking stands without one.
type BookAppointmentResponse struct {
	Appointment  AppointmentResponse   `json:"appointment"`
	Conversation *ConversationResponse `json:"conversation,omitempty"`
	Warning      string                `json:"warning,omitempty"`
}

type ListAppointmentsResponse struct {
	Appointments []AppointmentResponse `json:"appointments"`
}

func FromAppointment(a model.Appointment) AppointmentResponse {
	return AppointmentResponse{
		AppointmentID: a.ID,
		PatientID:     a.PatientID,
		TherapistID:   a.TherapistID,
		TherapistName: a.TherapistName,
		StartTime:     formatTime(a.StartTime),
		EndTime:       formatTime(a.EndTime),
		Status:        string(a.Status),
		CreatedAt:     formatTime(a.CreatedAt),
	}
}

func FromAppointments(items []model.Appointment) []AppointmentResponse {
	out := make([]AppointmentResponse, len(items))
	for i, a := range items {
		out[i] = FromAppointment(a)
	}
	return out
}
