package appointment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"therapy-chat-sync/internal/apperror"
	"therapy-chat-sync/internal/docstore"
	"therapy-chat-sync/internal/model"
	"therapy-chat-sync/internal/observability"
)

const DefaultDuration = time.Hour

var (
	ErrStartNotInFuture = errors.New("appointment start must be in the future")
	ErrSlotUnavailable  = errors.New("therapist already has an appointment in this slot")
)

var tracer = observability.Tracer("appointment")

// Registry is the part of the conversation registry bookings depend on.
type Registry interface {
	CreateOrGet(ctx context.Context, patientID, therapistID, therapistName string) (model.Conversation, error)
	ArchiveIfIdle(ctx context.Context, patientID, therapistID string) (bool, error)
}

// SweepTrigger requests an out-of-band reconciliation pass.
type SweepTrigger interface {
	Trigger()
}

// ConversationSetupError reports a booking that was stored but whose
// conversation could not be created or reactivated. Call EnsureConversation
// with the appointment id to retry that step alone.
type ConversationSetupError struct {
	Appointment model.Appointment
	Err         error
}

func (e *ConversationSetupError) Error() string {
	return fmt.Sprintf("appointment %s booked but conversation setup failed: %v", e.Appointment.ID, e.Err)
}

func (e *ConversationSetupError) Unwrap() error {
	return e.Err
}

type BookParams struct {
	PatientID     string
	TherapistID   string
	TherapistName string
	StartTime     time.Time
}

type BookResult struct {
	Appointment  model.Appointment
	Conversation model.Conversation
}

type Option func(*Service)

func WithDuration(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.duration = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

func WithSweepTrigger(t SweepTrigger) Option {
	return func(s *Service) {
		s.sweep = t
	}
}

func WithIDGenerator(fn func() string) Option {
	return func(s *Service) {
		s.newID = fn
	}
}

type Service struct {
	repo     Repository
	registry Registry
	sweep    SweepTrigger
	duration time.Duration
	now      func() time.Time
	newID    func() string
}

func New(store docstore.Store, registry Registry, opts ...Option) *Service {
	return NewWithRepository(NewStoreRepository(store), registry, opts...)
}

func NewWithRepository(repo Repository, registry Registry, opts ...Option) *Service {
	s := &Service{
		repo:     repo,
		registry: registry,
		duration: DefaultDuration,
		now:      time.Now,
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Book stores a scheduled appointment and then creates or reactivates the
// pair's conversation. A failed conversation step does not undo the booking;
// it is returned as *ConversationSetupError alongside the appointment.
func (s *Service) Book(ctx context.Context, params BookParams) (BookResult, error) {
	if err := model.ValidateID("patientId", params.PatientID); err != nil {
		return BookResult{}, err
	}
	if err := model.ValidateID("therapistId", params.TherapistID); err != nil {
		return BookResult{}, err
	}
	if params.StartTime.IsZero() {
		return BookResult{}, apperror.Validation("startTime is required")
	}

	ctx, span := tracer.Start(ctx, "appointment.Book")
	span.SetAttributes(attribute.String("therapist_id", params.TherapistID))
	defer span.End()

	now := s.now().UTC()
	start := params.StartTime.UTC()
	end := start.Add(s.duration)
	if !start.After(now) {
		return BookResult{}, apperror.New(apperror.ErrorCodeValidation, ErrStartNotInFuture.Error(), ErrStartNotInFuture)
	}

	existing, err := s.repo.ListScheduledForTherapist(ctx, params.TherapistID)
	if err != nil {
		return BookResult{}, apperror.Persistence("failed to check therapist availability", err)
	}
	for _, other := range existing {
		if other.Overlaps(start, end) {
			bookingsRejected.Inc()
			return BookResult{}, apperror.New(apperror.ErrorCodeValidation, ErrSlotUnavailable.Error(), ErrSlotUnavailable)
		}
	}

	appt := model.Appointment{
		ID:            s.newID(),
		PatientID:     params.PatientID,
		TherapistID:   params.TherapistID,
		TherapistName: strings.TrimSpace(params.TherapistName),
		StartTime:     start,
		EndTime:       end,
		Status:        model.AppointmentStatusScheduled,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.repo.Insert(ctx, appt); err != nil {
		span.RecordError(err)
		return BookResult{}, apperror.Persistence("failed to store appointment", err)
	}
	appointmentsBooked.Inc()

	logger := observability.LoggerFromContext(ctx)
	conv, err := s.registry.CreateOrGet(ctx, appt.PatientID, appt.TherapistID, appt.TherapistName)
	if err != nil {
		conversationSetupFailures.Inc()
		logger.Warn().Err(err).Str("appointment_id", appt.ID).Msg("appointment booked without conversation")
		return BookResult{Appointment: appt}, &ConversationSetupError{Appointment: appt, Err: err}
	}

	logger.Info().
		Str("appointment_id", appt.ID).
		Str("chat_id", conv.ID).
		Time("start", start).
		Msg("appointment booked")
	return BookResult{Appointment: appt, Conversation: conv}, nil
}

// EnsureConversation retries the conversation step of a booking.
func (s *Service) EnsureConversation(ctx context.Context, appointmentID string) (model.Conversation, error) {
	appt, err := s.Get(ctx, appointmentID)
	if err != nil {
		return model.Conversation{}, err
	}
	if appt.Status != model.AppointmentStatusScheduled {
		return model.Conversation{}, apperror.InvalidState("appointment is " + string(appt.Status))
	}
	return s.registry.CreateOrGet(ctx, appt.PatientID, appt.TherapistID, appt.TherapistName)
}

// Cancel moves a scheduled appointment to cancelled. Cancelling anything
// else is an InvalidState error, including a second cancel.
func (s *Service) Cancel(ctx context.Context, id string) (model.Appointment, error) {
	return s.finish(ctx, id, model.AppointmentStatusCancelled)
}

// Complete moves a scheduled appointment to completed.
func (s *Service) Complete(ctx context.Context, id string) (model.Appointment, error) {
	return s.finish(ctx, id, model.AppointmentStatusCompleted)
}

func (s *Service) finish(ctx context.Context, id string, to model.AppointmentStatus) (model.Appointment, error) {
	ctx, span := tracer.Start(ctx, "appointment.finish")
	span.SetAttributes(attribute.String("status", string(to)))
	defer span.End()

	appt, err := s.Get(ctx, id)
	if err != nil {
		return model.Appointment{}, err
	}
	if !appt.Status.CanTransition(to) {
		return model.Appointment{}, apperror.InvalidState(
			fmt.Sprintf("cannot move appointment from %s to %s", appt.Status, to),
		)
	}

	now := s.now().UTC()
	err = s.repo.Transition(ctx, id, model.AppointmentStatusScheduled, to, now)
	switch {
	case errors.Is(err, docstore.ErrConflict):
		return model.Appointment{}, apperror.InvalidState("appointment is no longer scheduled")
	case errors.Is(err, docstore.ErrNotFound):
		return model.Appointment{}, apperror.NotFound("appointment not found", err)
	case err != nil:
		return model.Appointment{}, apperror.Persistence("failed to update appointment", err)
	}
	appt.Status = to
	appt.UpdatedAt = now
	appointmentsFinished.WithLabelValues(string(to)).Inc()

	s.reconcile(ctx, appt)
	return appt, nil
}

// reconcile runs after the status write commits. Failures are left to the
// sweep, which is always nudged.
func (s *Service) reconcile(ctx context.Context, appt model.Appointment) {
	logger := observability.LoggerFromContext(ctx)
	archived, err := s.registry.ArchiveIfIdle(ctx, appt.PatientID, appt.TherapistID)
	if err != nil {
		logger.Error().Err(err).Str("appointment_id", appt.ID).Msg("archive check failed, leaving it to the sweep")
	} else if archived {
		logger.Info().Str("appointment_id", appt.ID).Msg("conversation archived after " + string(appt.Status))
	}
	if s.sweep != nil {
		s.sweep.Trigger()
	}
}

func (s *Service) Get(ctx context.Context, id string) (model.Appointment, error) {
	if err := model.ValidateID("appointmentId", id); err != nil {
		return model.Appointment{}, err
	}
	appt, err := s.repo.Get(ctx, id)
	if errors.Is(err, docstore.ErrNotFound) {
		return model.Appointment{}, apperror.NotFound("appointment not found", err)
	}
	if err != nil {
		return model.Appointment{}, apperror.Persistence("failed to load appointment", err)
	}
	return appt, nil
}

// List returns every appointment of the user in the given role, all
// statuses, earliest first.
func (s *Service) List(ctx context.Context, userID string, role model.Role) ([]model.Appointment, error) {
	if err := model.ValidateID("userId", userID); err != nil {
		return nil, err
	}
	if !role.Valid() {
		return nil, apperror.Validation("role must be patient or therapist")
	}
	appts, err := s.repo.ListBy(ctx, role.IDField(), userID)
	if err != nil {
		return nil, apperror.Persistence("failed to list appointments", err)
	}
	return appts, nil
}
