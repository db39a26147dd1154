package model

import (
	"time"

	"therapy-chat-sync/internal/docstore"
)

type AppointmentStatus string

const (
	AppointmentStatusScheduled AppointmentStatus = "scheduled"
	AppointmentStatusCompleted AppointmentStatus = "completed"
	AppointmentStatusCancelled AppointmentStatus = "cancelled"
)

// CanTransition reports whether the lifecycle allows from -> to. Only a
// scheduled appointment can move, and only to a terminal state.
func (s AppointmentStatus) CanTransition(to AppointmentStatus) bool {
	return s == AppointmentStatusScheduled &&
		(to == AppointmentStatusCompleted || to == AppointmentStatusCancelled)
}

type Appointment struct {
	ID            string
	PatientID     string
	TherapistID   string
	TherapistName string
	StartTime     time.Time
	EndTime       time.Time
	Status        AppointmentStatus
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (a Appointment) PairKey() string {
	return PairKey(a.PatientID, a.TherapistID)
}

// Overlaps uses half-open intervals: touching appointments do not overlap.
func (a Appointment) Overlaps(start, end time.Time) bool {
	latestStart := a.StartTime
	if start.After(latestStart) {
		latestStart = start
	}
	earliestEnd := a.EndTime
	if end.Before(earliestEnd) {
		earliestEnd = end
	}
	return latestStart.Before(earliestEnd)
}

func (a Appointment) ToDocument() docstore.Document {
	return docstore.Document{
		FieldPatientID:     a.PatientID,
		FieldTherapistID:   a.TherapistID,
		FieldTherapistName: a.TherapistName,
		FieldStartTime:     a.StartTime.UTC(),
		FieldEndTime:       a.EndTime.UTC(),
		FieldStatus:        string(a.Status),
		FieldCreatedAt:     a.CreatedAt.UTC(),
		FieldUpdatedAt:     a.UpdatedAt.UTC(),
	}
}

func AppointmentFromSnapshot(s docstore.Snapshot) Appointment {
	return Appointment{
		ID:            s.ID,
		PatientID:     s.Data.String(FieldPatientID),
		TherapistID:   s.Data.String(FieldTherapistID),
		TherapistName: s.Data.String(FieldTherapistName),
		StartTime:     s.Data.Time(FieldStartTime),
		EndTime:       s.Data.Time(FieldEndTime),
		Status:        AppointmentStatus(s.Data.String(FieldStatus)),
		CreatedAt:     s.Data.Time(FieldCreatedAt),
		UpdatedAt:     s.Data.Time(FieldUpdatedAt),
	}
}
