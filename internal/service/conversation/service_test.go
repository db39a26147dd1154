package conversation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"therapy-chat-sync/internal/apperror"
	"therapy-chat-sync/internal/docstore"
	"therapy-chat-sync/internal/model"
)

func countChats(t *testing.T, store docstore.Store, pairKey string) int {
	t.Helper()
	snaps, err := store.Query(context.Background(), model.ChatsTable, docstore.Query{
		Filters: []docstore.Filter{docstore.Where(model.FieldPairKey, pairKey)},
	})
	require.NoError(t, err)
	return len(snaps)
}

func scheduleAppointment(t *testing.T, store docstore.Store, id, patientID, therapistID string) {
	t.Helper()
	start := time.Now().Add(24 * time.Hour).UTC()
	appt := model.Appointment{
		ID:          id,
		PatientID:   patientID,
		TherapistID: therapistID,
		StartTime:   start,
		EndTime:     start.Add(time.Hour),
		Status:      model.AppointmentStatusScheduled,
	}
	require.NoError(t, store.Put(context.Background(), model.AppointmentsTable, id, appt.ToDocument()))
}

func TestCreateOrGetCreatesThenReuses(t *testing.T) {
	ctx := context.Background()
	store := docstore.NewMemory()
	svc := New(store)

	first, err := svc.CreateOrGet(ctx, "p1", "t1", "Dr. Ana")
	require.NoError(t, err)
	assert.Equal(t, model.PairKey("p1", "t1"), first.PairKey)
	assert.Equal(t, model.ConversationStartedText, first.LastMessage)
	assert.False(t, first.IsArchived)
	assert.False(t, first.CreatedAt.IsZero())
	assert.Equal(t, first.CreatedAt, first.LastMessageAt)

	second, err := svc.CreateOrGet(ctx, "p1", "t1", "Dr. Ana")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 1, countChats(t, store, first.PairKey))
}

func TestCreateOrGetReactivatesArchived(t *testing.T) {
	ctx := context.Background()
	store := docstore.NewMemory()
	svc := New(store)

	conv, err := svc.CreateOrGet(ctx, "p1", "t1", "Dr. Ana")
	require.NoError(t, err)
	archived, err := svc.Archive(ctx, conv.ID)
	require.NoError(t, err)
	require.True(t, archived.IsArchived)

	again, err := svc.CreateOrGet(ctx, "p1", "t1", "Dr. Ana")
	require.NoError(t, err)
	assert.Equal(t, conv.ID, again.ID)
	assert.False(t, again.IsArchived)
	assert.True(t, again.ActivatedAt.After(conv.ActivatedAt))
	assert.Equal(t, 1, countChats(t, store, conv.PairKey))
}

func TestCreateOrGetConcurrentIsUnique(t *testing.T) {
	modes := map[string][]docstore.MemoryOption{
		"atomic":     nil,
		"non-atomic": {docstore.WithoutTransactions()},
	}

	for name, opts := range modes {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store := docstore.NewMemory(opts...)
			var conflicts atomic.Int32
			svc := New(store, WithConflictObserver(func(err error) {
				assert.True(t, errors.Is(err, apperror.ErrConflict))
				conflicts.Add(1)
			}))

			const callers = 16
			ids := make([]string, callers)
			var wg sync.WaitGroup
			for i := 0; i < callers; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					conv, err := svc.CreateOrGet(ctx, "p1", "t1", "Dr. Ana")
					assert.NoError(t, err)
					ids[i] = conv.ID
				}(i)
			}
			wg.Wait()

			assert.Equal(t, 1, countChats(t, store, model.PairKey("p1", "t1")))

			final, err := svc.CreateOrGet(ctx, "p1", "t1", "Dr. Ana")
			require.NoError(t, err)
			if name == "atomic" {
				for _, id := range ids {
					assert.Equal(t, final.ID, id)
				}
				assert.Zero(t, conflicts.Load())
			}
		})
	}
}

func TestCreateOrGetResolvesExistingDuplicates(t *testing.T) {
	ctx := context.Background()
	store := docstore.NewMemory()
	pairKey := model.PairKey("p1", "t1")
	for _, id := range []string{"chat-b", "chat-a", "chat-c"} {
		require.NoError(t, store.Put(ctx, model.ChatsTable, id, model.NewConversationDocument("p1", "t1", "Dr. Ana")))
	}

	var observed []error
	svc := New(store, WithConflictObserver(func(err error) { observed = append(observed, err) }))

	conv, err := svc.CreateOrGet(ctx, "p1", "t1", "Dr. Ana")
	require.NoError(t, err)
	assert.Equal(t, "chat-a", conv.ID)
	assert.Equal(t, 1, countChats(t, store, pairKey))
	assert.Len(t, observed, 2)
}

func TestCreateOrGetRepairsDanglingIndex(t *testing.T) {
	ctx := context.Background()
	store := docstore.NewMemory()
	pairKey := model.PairKey("p1", "t1")
	require.NoError(t, store.Put(ctx, model.ChatPairsTable, pairKey, model.PairIndexDocument(pairKey, "gone")))

	svc := New(store)
	conv, err := svc.CreateOrGet(ctx, "p1", "t1", "Dr. Ana")
	require.NoError(t, err)

	index, err := store.Get(ctx, model.ChatPairsTable, pairKey)
	require.NoError(t, err)
	assert.Equal(t, conv.ID, index.Data.String(model.FieldChatID))
}

func TestCreateOrGetValidatesIDs(t *testing.T) {
	svc := New(docstore.NewMemory())
	_, err := svc.CreateOrGet(context.Background(), "p|1", "t1", "Dr. Ana")
	assert.True(t, errors.Is(err, apperror.ErrValidation))
}

func TestCreateOrGetPersistenceError(t *testing.T) {
	store := docstore.NewMemory()
	store.FailWith(model.ChatsTable, docstore.ErrUnavailable)
	svc := New(store)

	_, err := svc.CreateOrGet(context.Background(), "p1", "t1", "Dr. Ana")
	assert.True(t, errors.Is(err, apperror.ErrPersistence))
	assert.True(t, errors.Is(err, docstore.ErrUnavailable))
}

func TestArchiveAndUnarchiveAreIdempotent(t *testing.T) {
	ctx := context.Background()
	svc := New(docstore.NewMemory())
	conv, err := svc.CreateOrGet(ctx, "p1", "t1", "Dr. Ana")
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		got, err := svc.Archive(ctx, conv.ID)
		require.NoError(t, err)
		assert.True(t, got.IsArchived)
	}
	for i := 0; i < 2; i++ {
		got, err := svc.Unarchive(ctx, conv.ID)
		require.NoError(t, err)
		assert.False(t, got.IsArchived)
	}

	_, err = svc.Archive(ctx, "missing")
	assert.True(t, errors.Is(err, apperror.ErrNotFound))
}

func TestArchiveIfIdle(t *testing.T) {
	ctx := context.Background()
	store := docstore.NewMemory()
	svc := New(store)

	archived, err := svc.ArchiveIfIdle(ctx, "p1", "t1")
	require.NoError(t, err)
	assert.False(t, archived, "missing conversation is not an error")

	conv, err := svc.CreateOrGet(ctx, "p1", "t1", "Dr. Ana")
	require.NoError(t, err)
	scheduleAppointment(t, store, "a1", "p1", "t1")

	archived, err = svc.ArchiveIfIdle(ctx, "p1", "t1")
	require.NoError(t, err)
	assert.False(t, archived)

	require.NoError(t, store.Update(ctx, model.AppointmentsTable, "a1", docstore.Document{
		model.FieldStatus: string(model.AppointmentStatusCancelled),
	}))

	archived, err = svc.ArchiveIfIdle(ctx, "p1", "t1")
	require.NoError(t, err)
	assert.True(t, archived)

	got, err := svc.Get(ctx, conv.ID)
	require.NoError(t, err)
	assert.True(t, got.IsArchived)
}

// bookingRace reactivates the conversation while appointments are being
// counted, the way a concurrent booking would.
type bookingRace struct {
	Repository
	once sync.Once
	id   string
}

func (r *bookingRace) CountScheduled(ctx context.Context, patientID, therapistID string) (int, error) {
	r.once.Do(func() {
		_ = r.Repository.Activate(ctx, r.id)
	})
	return r.Repository.CountScheduled(ctx, patientID, therapistID)
}

func TestArchiveIfIdleLosesToConcurrentActivation(t *testing.T) {
	ctx := context.Background()
	store := docstore.NewMemory()
	conv, err := New(store).CreateOrGet(ctx, "p1", "t1", "Dr. Ana")
	require.NoError(t, err)

	svc := NewWithRepository(&bookingRace{Repository: NewStoreRepository(store), id: conv.ID})
	archived, err := svc.ArchiveIfIdle(ctx, "p1", "t1")
	require.NoError(t, err)
	assert.False(t, archived)

	got, err := svc.Get(ctx, conv.ID)
	require.NoError(t, err)
	assert.False(t, got.IsArchived)
}

func TestDeleteRemovesConversationAndIndex(t *testing.T) {
	for _, opts := range [][]docstore.MemoryOption{nil, {docstore.WithoutTransactions()}} {
		ctx := context.Background()
		store := docstore.NewMemory(opts...)
		svc := New(store)
		conv, err := svc.CreateOrGet(ctx, "p1", "t1", "Dr. Ana")
		require.NoError(t, err)
		require.NoError(t, store.Put(ctx, model.MessagesTable, "m1", model.NewMessageDocument(conv.ID, "p1", "hi")))

		require.NoError(t, svc.Delete(ctx, conv.ID))

		_, err = svc.Get(ctx, conv.ID)
		assert.True(t, errors.Is(err, apperror.ErrNotFound))
		_, err = store.Get(ctx, model.ChatPairsTable, conv.PairKey)
		assert.ErrorIs(t, err, docstore.ErrNotFound)
		_, err = store.Get(ctx, model.MessagesTable, "m1")
		assert.NoError(t, err, "messages are not cascaded")

		next, err := svc.CreateOrGet(ctx, "p1", "t1", "Dr. Ana")
		require.NoError(t, err)
		assert.NotEqual(t, conv.ID, next.ID)

		assert.True(t, errors.Is(svc.Delete(ctx, conv.ID), apperror.ErrNotFound))
	}
}

func TestListActiveForUserOrdersByLastMessage(t *testing.T) {
	ctx := context.Background()
	store := docstore.NewMemory()
	svc := New(store)

	var ids []string
	for i := 0; i < 3; i++ {
		conv, err := svc.CreateOrGet(ctx, "p1", fmt.Sprintf("t%d", i), "Therapist")
		require.NoError(t, err)
		ids = append(ids, conv.ID)
	}
	_, err := svc.CreateOrGet(ctx, "p2", "t0", "Therapist")
	require.NoError(t, err)

	require.NoError(t, svc.repo.UpdateLastMessage(ctx, ids[0], "latest", docstore.ServerTimestamp()))
	_, err = svc.Archive(ctx, ids[1])
	require.NoError(t, err)

	convs, err := svc.ListActiveForUser(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, convs, 2)
	assert.Equal(t, ids[0], convs[0].ID)
	assert.Equal(t, ids[2], convs[1].ID)

	therapistView, err := svc.ListActiveForRole(ctx, "t0", model.RoleTherapist)
	require.NoError(t, err)
	assert.Len(t, therapistView, 2)
}

func TestRefreshLastMessage(t *testing.T) {
	ctx := context.Background()
	store := docstore.NewMemory()
	svc := New(store)
	conv, err := svc.CreateOrGet(ctx, "p1", "t1", "Dr. Ana")
	require.NoError(t, err)

	changed, err := svc.RefreshLastMessage(ctx, conv.ID)
	require.NoError(t, err)
	assert.False(t, changed)

	require.NoError(t, store.Put(ctx, model.MessagesTable, "m1", model.NewMessageDocument(conv.ID, "p1", "first")))
	require.NoError(t, store.Put(ctx, model.MessagesTable, "m2", model.NewMessageDocument(conv.ID, "t1", "second")))

	changed, err = svc.RefreshLastMessage(ctx, conv.ID)
	require.NoError(t, err)
	assert.True(t, changed)

	got, err := svc.Get(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, "second", got.LastMessage)

	require.NoError(t, store.Delete(ctx, model.MessagesTable, "m2"))
	changed, err = svc.RefreshLastMessage(ctx, conv.ID)
	require.NoError(t, err)
	assert.True(t, changed)

	got, err = svc.Get(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, "first", got.LastMessage)
}
