package endpoints

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"therapy-chat-sync/internal/dto"
	"therapy-chat-sync/internal/model"
	"therapy-chat-sync/internal/service/appointment"
)

type AppointmentEndpoints interface {
	Appointments(http.ResponseWriter, *http.Request) error
	Cancel(http.ResponseWriter, *http.Request) error
	Complete(http.ResponseWriter, *http.Request) error
	Conversation(http.ResponseWriter, *http.Request) error
}

type appointmentEndpoints struct {
	service *appointment.Service
}

func NewAppointmentEndpoints(service *appointment.Service) AppointmentEndpoints {
	return &appointmentEndpoints{service: service}
}

func (h *appointmentEndpoints) Appointments(w http.ResponseWriter, r *http.Request) error {
	return MethodHandler(w, r, map[string]func(http.ResponseWriter, *http.Request) error{
		http.MethodGet:  h.handleList,
		http.MethodPost: h.handleBook,
	})
}

func (h *appointmentEndpoints) Cancel(w http.ResponseWriter, r *http.Request) error {
	return MethodHandler(w, r, map[string]func(http.ResponseWriter, *http.Request) error{
		http.MethodPost: func(w http.ResponseWriter, r *http.Request) error {
			return h.handleFinish(w, r, h.service.Cancel)
		},
	})
}

func (h *appointmentEndpoints) Complete(w http.ResponseWriter, r *http.Request) error {
	return MethodHandler(w, r, map[string]func(http.ResponseWriter, *http.Request) error{
		http.MethodPost: func(w http.ResponseWriter, r *http.Request) error {
			return h.handleFinish(w, r, h.service.Complete)
		},
	})
}

func (h *appointmentEndpoints) Conversation(w http.ResponseWriter, r *http.Request) error {
	return MethodHandler(w, r, map[string]func(http.ResponseWriter, *http.Request) error{
		http.MethodPost: h.handleEnsureConversation,
	})
}

func (h *appointmentEndpoints) handleList(w http.ResponseWriter, r *http.Request) error {
	sess, err := sessionFrom(r)
	if err != nil {
		return err
	}

	appts, err := h.service.List(r.Context(), sess.UserID, sess.Role)
	if err != nil {
		return serviceError(err)
	}

	return WriteJSON(w, http.StatusOK, dto.ListAppointmentsResponse{Appointments: dto.FromAppointments(appts)})
}

func (h *appointmentEndpoints) handleBook(w http.ResponseWriter, r *http.Request) error {
	sess, err := sessionFrom(r)
	if err != nil {
		return err
	}

	var req dto.BookAppointmentRequest
	if err := decodeJSON(r, &req, "book appointment request"); err != nil {
		return err
	}
	req.PatientID = strings.TrimSpace(req.PatientID)
	req.TherapistID = strings.TrimSpace(req.TherapistID)
	switch {
	case sess.Role == model.RolePatient && req.PatientID == "":
		req.PatientID = sess.UserID
	case sess.Role == model.RoleTherapist && req.TherapistID == "":
		req.TherapistID = sess.UserID
	}
	if err := requireParticipant(sess, req.PatientID, req.TherapistID); err != nil {
		return err
	}

	result, err := h.service.Book(r.Context(), appointment.BookParams{
		PatientID:     req.PatientID,
		TherapistID:   req.TherapistID,
		TherapistName: req.TherapistName,
		StartTime:     req.StartTime,
	})

	var setupErr *appointment.ConversationSetupError
	if errors.As(err, &setupErr) {
		return WriteJSON(w, http.StatusCreated, dto.BookAppointmentResponse{
			Appointment: dto.FromAppointment(setupErr.Appointment),
			Warning:     "Appointment booked but the conversation is not ready yet",
		})
	}
	if err != nil {
		return serviceError(err)
	}

	conv := dto.FromConversation(result.Conversation)
	return WriteJSON(w, http.StatusCreated, dto.BookAppointmentResponse{
		Appointment:  dto.FromAppointment(result.Appointment),
		Conversation: &conv,
	})
}

func (h *appointmentEndpoints) handleFinish(w http.ResponseWriter, r *http.Request, finish func(ctx context.Context, id string) (model.Appointment, error)) error {
	id, err := h.authorize(r)
	if err != nil {
		return err
	}

	appt, err := finish(r.Context(), id)
	if err != nil {
		return serviceError(err)
	}
	return WriteJSON(w, http.StatusOK, dto.FromAppointment(appt))
}

func (h *appointmentEndpoints) handleEnsureConversation(w http.ResponseWriter, r *http.Request) error {
	id, err := h.authorize(r)
	if err != nil {
		return err
	}

	conv, err := h.service.EnsureConversation(r.Context(), id)
	if err != nil {
		return serviceError(err)
	}
	return WriteJSON(w, http.StatusOK, dto.FromConversation(conv))
}

// authorize loads the appointment named in the path and checks the caller
// is one of its participants.
func (h *appointmentEndpoints) authorize(r *http.Request) (string, error) {
	sess, err := sessionFrom(r)
	if err != nil {
		return "", err
	}
	id, err := pathID(r, "id")
	if err != nil {
		return "", err
	}

	appt, err := h.service.Get(r.Context(), id)
	if err != nil {
		return "", serviceError(err)
	}
	if err := requireParticipant(sess, appt.PatientID, appt.TherapistID); err != nil {
		return "", err
	}
	return id, nil
}
