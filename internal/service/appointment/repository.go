package appointment

import (
	"context"
	"time"

	"therapy-chat-sync/internal/docstore"
	"therapy-chat-sync/internal/model"
)

type Repository interface {
	Insert(ctx context.Context, appt model.Appointment) error
	Get(ctx context.Context, id string) (model.Appointment, error)
	ListScheduledForTherapist(ctx context.Context, therapistID string) ([]model.Appointment, error)
	ListBy(ctx context.Context, field, userID string) ([]model.Appointment, error)
	// Transition moves the status only if it still equals from.
	Transition(ctx context.Context, id string, from, to model.AppointmentStatus, at time.Time) error
}

type StoreRepository struct {
	store docstore.Store
}

func NewStoreRepository(store docstore.Store) Repository {
	return &StoreRepository{store: store}
}

func (r *StoreRepository) Insert(ctx context.Context, appt model.Appointment) error {
	return r.store.Create(ctx, model.AppointmentsTable, appt.ID, appt.ToDocument())
}

func (r *StoreRepository) Get(ctx context.Context, id string) (model.Appointment, error) {
	snap, err := r.store.Get(ctx, model.AppointmentsTable, id)
	if err != nil {
		return model.Appointment{}, err
	}
	return model.AppointmentFromSnapshot(snap), nil
}

func (r *StoreRepository) ListScheduledForTherapist(ctx context.Context, therapistID string) ([]model.Appointment, error) {
	return r.query(ctx, docstore.Query{
		Filters: []docstore.Filter{
			docstore.Where(model.FieldTherapistID, therapistID),
			docstore.Where(model.FieldStatus, string(model.AppointmentStatusScheduled)),
		},
	})
}

func (r *StoreRepository) ListBy(ctx context.Context, field, userID string) ([]model.Appointment, error) {
	return r.query(ctx, docstore.Query{
		Filters: []docstore.Filter{docstore.Where(field, userID)},
		OrderBy: []docstore.Order{{Field: model.FieldStartTime}},
	})
}

func (r *StoreRepository) Transition(ctx context.Context, id string, from, to model.AppointmentStatus, at time.Time) error {
	return r.store.Update(ctx, model.AppointmentsTable, id,
		docstore.Document{
			model.FieldStatus:    string(to),
			model.FieldUpdatedAt: at.UTC(),
		},
		docstore.Expect(model.FieldStatus, string(from)),
	)
}

func (r *StoreRepository) query(ctx context.Context, q docstore.Query) ([]model.Appointment, error) {
	snaps, err := r.store.Query(ctx, model.AppointmentsTable, q)
	if err != nil {
		return nil, err
	}
	out := make([]model.Appointment, len(snaps))
	for i, s := range snaps {
		out[i] = model.AppointmentFromSnapshot(s)
	}
	return out, nil
}
