package message

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"therapy-chat-sync/internal/apperror"
	"therapy-chat-sync/internal/docstore"
	"therapy-chat-sync/internal/model"
	"therapy-chat-sync/internal/service/appointment"
	"therapy-chat-sync/internal/service/conversation"
)

const waitFor = 2 * time.Second

func fastReconnect() Option {
	return WithReconnectBackOff(func() backoff.BackOff {
		return backoff.NewConstantBackOff(5 * time.Millisecond)
	})
}

func newChat(t *testing.T, store docstore.Store) model.Conversation {
	t.Helper()
	conv, err := conversation.New(store).CreateOrGet(context.Background(), "p1", "t1", "Dr. Ana")
	require.NoError(t, err)
	return conv
}

func loadChat(t *testing.T, store docstore.Store, id string) model.Conversation {
	t.Helper()
	conv, err := conversation.New(store).Get(context.Background(), id)
	require.NoError(t, err)
	return conv
}

type recorder struct {
	mu    sync.Mutex
	calls int
	last  []model.Message
}

func (r *recorder) update(msgs []model.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	r.last = msgs
}

func (r *recorder) snapshot() ([]model.Message, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last, r.calls
}

func contents(msgs []model.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.Content
	}
	return out
}

func TestSendUpdatesChatCache(t *testing.T) {
	for name, opts := range map[string][]docstore.MemoryOption{
		"atomic":     nil,
		"sequential": {docstore.WithoutTransactions()},
	} {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store := docstore.NewMemory(opts...)
			chat := newChat(t, store)
			svc := New(store)

			msg, err := svc.Send(ctx, SendParams{ChatID: chat.ID, SenderID: "p1", Content: "  hello  "})
			require.NoError(t, err)
			assert.Equal(t, "hello", msg.Content)
			assert.False(t, msg.SentAt.IsZero())
			assert.True(t, msg.SentAt.After(chat.CreatedAt))

			updated := loadChat(t, store, chat.ID)
			assert.Equal(t, "hello", updated.LastMessage)
			assert.True(t, updated.LastMessageAt.Equal(msg.SentAt))

			stored, err := svc.Get(ctx, msg.ID)
			require.NoError(t, err)
			assert.Equal(t, msg.SentAt, stored.SentAt)
		})
	}
}

func TestSendRejectsBlankContent(t *testing.T) {
	ctx := context.Background()
	store := docstore.NewMemory()
	chat := newChat(t, store)
	svc := New(store)

	for _, content := range []string{"", "   ", "\n\t "} {
		_, err := svc.Send(ctx, SendParams{ChatID: chat.ID, SenderID: "p1", Content: content})
		require.Error(t, err)
		assert.True(t, errors.Is(err, apperror.ErrValidation))
		assert.True(t, errors.Is(err, ErrEmptyContent))
	}

	msgs, err := svc.List(ctx, chat.ID)
	require.NoError(t, err)
	assert.Empty(t, msgs)
	assert.Equal(t, chat, loadChat(t, store, chat.ID))
}

func TestSendValidation(t *testing.T) {
	ctx := context.Background()
	store := docstore.NewMemory()
	chat := newChat(t, store)
	svc := New(store, WithMaxLength(5))

	_, err := svc.Send(ctx, SendParams{ChatID: chat.ID, SenderID: "p1", Content: "toolong"})
	assert.True(t, errors.Is(err, apperror.ErrValidation))

	_, err = svc.Send(ctx, SendParams{ChatID: chat.ID, SenderID: "p1", Content: "héllo"})
	assert.NoError(t, err)

	_, err = svc.Send(ctx, SendParams{ChatID: chat.ID, SenderID: "stranger", Content: "hi"})
	assert.True(t, errors.Is(err, apperror.ErrValidation))

	_, err = svc.Send(ctx, SendParams{ChatID: "missing", SenderID: "p1", Content: "hi"})
	assert.True(t, errors.Is(err, apperror.ErrNotFound))
}

func TestSendDuplicateMessageID(t *testing.T) {
	ctx := context.Background()
	store := docstore.NewMemory()
	chat := newChat(t, store)
	svc := New(store)

	_, err := svc.Send(ctx, SendParams{ChatID: chat.ID, SenderID: "p1", Content: "one", MessageID: "m1"})
	require.NoError(t, err)

	_, err = svc.Send(ctx, SendParams{ChatID: chat.ID, SenderID: "p1", Content: "two", MessageID: "m1"})
	assert.True(t, errors.Is(err, apperror.ErrConflict))
	assert.Equal(t, "one", loadChat(t, store, chat.ID).LastMessage)
}

func TestSendPersistenceError(t *testing.T) {
	ctx := context.Background()
	store := docstore.NewMemory()
	chat := newChat(t, store)
	svc := New(store)
	store.FailWith(model.MessagesTable, docstore.ErrUnavailable)

	_, err := svc.Send(ctx, SendParams{ChatID: chat.ID, SenderID: "p1", Content: "hi"})
	assert.True(t, errors.Is(err, apperror.ErrPersistence))
}

func TestDeleteLeavesCacheStale(t *testing.T) {
	ctx := context.Background()
	store := docstore.NewMemory()
	chat := newChat(t, store)
	svc := New(store)

	msg, err := svc.Send(ctx, SendParams{ChatID: chat.ID, SenderID: "t1", Content: "see you"})
	require.NoError(t, err)

	require.NoError(t, svc.Delete(ctx, msg.ID))
	assert.Equal(t, "see you", loadChat(t, store, chat.ID).LastMessage)

	err = svc.Delete(ctx, msg.ID)
	assert.True(t, errors.Is(err, apperror.ErrNotFound))
}

func TestListNewestFirst(t *testing.T) {
	ctx := context.Background()
	store := docstore.NewMemory()
	chat := newChat(t, store)
	svc := New(store)

	for _, c := range []string{"a", "b", "c"} {
		_, err := svc.Send(ctx, SendParams{ChatID: chat.ID, SenderID: "p1", Content: c})
		require.NoError(t, err)
	}

	msgs, err := svc.List(ctx, chat.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "b", "a"}, contents(msgs))
}

func TestStreamDeliversServerOrder(t *testing.T) {
	ctx := context.Background()
	store := docstore.NewMemory()
	chat := newChat(t, store)

	// The client clock runs backwards, so echoes carry decreasing times.
	var mu sync.Mutex
	clientTime := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	svc := New(store, WithClock(func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		clientTime = clientTime.Add(-time.Minute)
		return clientTime
	}))

	rec := &recorder{}
	st, err := svc.Open(ctx, chat.ID, rec.update)
	require.NoError(t, err)
	defer st.Close()

	for _, c := range []string{"first", "second", "third"} {
		_, err := st.Send(ctx, "p1", c)
		require.NoError(t, err)
	}

	require.Eventually(t, func() bool {
		last, _ := rec.snapshot()
		return len(last) == 3 && !last[0].Pending && !last[1].Pending && !last[2].Pending
	}, waitFor, 5*time.Millisecond)

	last, _ := rec.snapshot()
	assert.Equal(t, []string{"third", "second", "first"}, contents(last))
	for i := 1; i < len(last); i++ {
		assert.True(t, last[i-1].SentAt.After(last[i].SentAt))
	}
}

func TestStreamOrdersDelayedClientByCommitTime(t *testing.T) {
	ctx := context.Background()
	store := docstore.NewMemory()
	chat := newChat(t, store)
	svc := New(store)

	rec := &recorder{}
	st, err := svc.Open(ctx, chat.ID, rec.update)
	require.NoError(t, err)
	defer st.Close()

	// The slow sender starts first but commits last.
	started := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		close(started)
		time.Sleep(50 * time.Millisecond)
		_, err := svc.Send(ctx, SendParams{ChatID: chat.ID, SenderID: "p1", Content: "typed first"})
		assert.NoError(t, err)
	}()
	<-started
	_, err = svc.Send(ctx, SendParams{ChatID: chat.ID, SenderID: "t1", Content: "typed second"})
	require.NoError(t, err)
	wg.Wait()

	require.Eventually(t, func() bool {
		last, _ := rec.snapshot()
		return len(last) == 2
	}, waitFor, 5*time.Millisecond)
	last, _ := rec.snapshot()
	assert.Equal(t, []string{"typed first", "typed second"}, contents(last))
}

// gatedRepository holds SendAtomic until release is closed.
type gatedRepository struct {
	Repository
	release chan struct{}
}

func (g *gatedRepository) SendAtomic(ctx context.Context, id, chatID string, doc docstore.Document) (time.Time, error) {
	<-g.release
	return g.Repository.SendAtomic(ctx, id, chatID, doc)
}

func TestStreamShowsEchoOnceUntilConfirmed(t *testing.T) {
	ctx := context.Background()
	store := docstore.NewMemory()
	chat := newChat(t, store)
	repo := &gatedRepository{Repository: NewStoreRepository(store), release: make(chan struct{})}
	svc := NewWithRepository(repo)

	rec := &recorder{}
	st, err := svc.Open(ctx, chat.ID, rec.update)
	require.NoError(t, err)
	defer st.Close()

	sent := make(chan model.Message, 1)
	go func() {
		msg, err := st.Send(ctx, "p1", "on my way")
		assert.NoError(t, err)
		sent <- msg
	}()

	require.Eventually(t, func() bool {
		msgs := st.Messages()
		return len(msgs) == 1 && msgs[0].Pending
	}, waitFor, 5*time.Millisecond)
	echo := st.Messages()[0]
	assert.Equal(t, "on my way", echo.Content)

	close(repo.release)
	msg := <-sent
	assert.Equal(t, echo.ID, msg.ID)

	require.Eventually(t, func() bool {
		last, _ := rec.snapshot()
		return len(last) == 1 && !last[0].Pending
	}, waitFor, 5*time.Millisecond)
	last, _ := rec.snapshot()
	assert.Equal(t, msg.ID, last[0].ID)
	assert.Equal(t, msg.SentAt, last[0].SentAt)
}

func assertNewestFirst(t *testing.T, msgs []model.Message) {
	t.Helper()
	for i := 1; i < len(msgs); i++ {
		assert.False(t, msgs[i].SentAt.After(msgs[i-1].SentAt), "message %d is newer than message %d", i, i-1)
	}
}

func TestStreamKeepsOrderWhenClientClockLags(t *testing.T) {
	ctx := context.Background()
	store := docstore.NewMemory()
	chat := newChat(t, store)
	repo := &gatedRepository{Repository: NewStoreRepository(store), release: make(chan struct{})}
	lagging := func() time.Time { return time.Now().Add(-time.Minute) }
	svc := NewWithRepository(repo, WithClock(lagging))

	rec := &recorder{}
	st, err := svc.Open(ctx, chat.ID, rec.update)
	require.NoError(t, err)
	defer st.Close()

	sent := make(chan model.Message, 1)
	go func() {
		msg, err := st.Send(ctx, "p1", "see you soon")
		assert.NoError(t, err)
		sent <- msg
	}()
	require.Eventually(t, func() bool {
		msgs := st.Messages()
		return len(msgs) == 1 && msgs[0].Pending
	}, waitFor, 5*time.Millisecond)

	reply, err := New(store).Send(ctx, SendParams{ChatID: chat.ID, SenderID: "t1", Content: "great"})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(st.Messages()) == 2 }, waitFor, 5*time.Millisecond)
	msgs := st.Messages()
	assert.Equal(t, []string{"see you soon", "great"}, contents(msgs))
	assert.True(t, msgs[0].Pending)
	assert.True(t, msgs[0].SentAt.After(reply.SentAt))
	assertNewestFirst(t, msgs)

	close(repo.release)
	msg := <-sent

	require.Eventually(t, func() bool {
		last, _ := rec.snapshot()
		return len(last) == 2 && !last[0].Pending && !last[1].Pending
	}, waitFor, 5*time.Millisecond)
	last, _ := rec.snapshot()
	assert.Equal(t, []string{msg.ID, reply.ID}, []string{last[0].ID, last[1].ID})
	assertNewestFirst(t, last)
}

func TestStreamWithdrawsEchoOnFailure(t *testing.T) {
	ctx := context.Background()
	store := docstore.NewMemory()
	chat := newChat(t, store)
	svc := New(store)

	rec := &recorder{}
	st, err := svc.Open(ctx, chat.ID, rec.update)
	require.NoError(t, err)
	defer st.Close()

	_, err = st.Send(ctx, "stranger", "hi")
	require.Error(t, err)
	assert.Empty(t, st.Messages())

	_, err = st.Send(ctx, "p1", "   ")
	assert.True(t, errors.Is(err, apperror.ErrValidation))
	assert.Empty(t, st.Messages())
}

func TestStreamCloseStopsCallbacks(t *testing.T) {
	ctx := context.Background()
	store := docstore.NewMemory()
	chat := newChat(t, store)
	svc := New(store)

	rec := &recorder{}
	unsubscribe, err := svc.Subscribe(ctx, chat.ID, rec.update)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		_, calls := rec.snapshot()
		return calls > 0
	}, waitFor, 5*time.Millisecond)

	unsubscribe()
	_, before := rec.snapshot()

	_, err = svc.Send(ctx, SendParams{ChatID: chat.ID, SenderID: "p1", Content: "after close"})
	require.NoError(t, err)
	time.Sleep(50 * time.Millisecond)

	_, after := rec.snapshot()
	assert.Equal(t, before, after)
	unsubscribe()
}

func TestStreamStopsWithContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	store := docstore.NewMemory()
	chat := newChat(t, store)
	svc := New(store)

	st, err := svc.Open(ctx, chat.ID, func([]model.Message) {})
	require.NoError(t, err)

	cancel()
	select {
	case <-st.Done():
	case <-time.After(waitFor):
		t.Fatal("stream did not stop")
	}
	st.Close()
}

func TestStreamReconnectsAfterInterruption(t *testing.T) {
	ctx := context.Background()
	store := docstore.NewMemory()
	chat := newChat(t, store)
	svc := New(store, fastReconnect())

	rec := &recorder{}
	st, err := svc.Open(ctx, chat.ID, rec.update)
	require.NoError(t, err)
	defer st.Close()

	_, err = svc.Send(ctx, SendParams{ChatID: chat.ID, SenderID: "p1", Content: "before"})
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		last, _ := rec.snapshot()
		return len(last) == 1
	}, waitFor, 5*time.Millisecond)

	store.FailWith(model.MessagesTable, docstore.ErrUnavailable)
	store.Interrupt(model.MessagesTable)
	time.Sleep(30 * time.Millisecond)
	store.Recover()

	_, err = svc.Send(ctx, SendParams{ChatID: chat.ID, SenderID: "t1", Content: "after"})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		last, _ := rec.snapshot()
		return len(last) == 2
	}, waitFor, 5*time.Millisecond)
	last, _ := rec.snapshot()
	assert.Equal(t, []string{"after", "before"}, contents(last))
}

func TestOpenMissingChat(t *testing.T) {
	svc := New(docstore.NewMemory())

	_, err := svc.Open(context.Background(), "missing", func([]model.Message) {})
	assert.True(t, errors.Is(err, apperror.ErrNotFound))
}

func TestBookChatCancelRebookScenario(t *testing.T) {
	ctx := context.Background()
	store := docstore.NewMemory()
	chats := conversation.New(store)
	now := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	appts := appointment.New(store, chats, appointment.WithClock(func() time.Time { return now }))
	msgs := New(store)

	booked, err := appts.Book(ctx, appointment.BookParams{
		PatientID: "P", TherapistID: "T", TherapistName: "Dr. T",
		StartTime: time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	c1 := booked.Conversation
	assert.False(t, c1.IsArchived)

	_, err = msgs.Send(ctx, SendParams{ChatID: c1.ID, SenderID: "P", Content: "hello"})
	require.NoError(t, err)
	assert.Equal(t, "hello", loadChat(t, store, c1.ID).LastMessage)

	_, err = appts.Cancel(ctx, booked.Appointment.ID)
	require.NoError(t, err)
	assert.True(t, loadChat(t, store, c1.ID).IsArchived)

	rebooked, err := appts.Book(ctx, appointment.BookParams{
		PatientID: "P", TherapistID: "T", TherapistName: "Dr. T",
		StartTime: time.Date(2026, 3, 2, 14, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	assert.Equal(t, c1.ID, rebooked.Conversation.ID)
	assert.False(t, rebooked.Conversation.IsArchived)
	assert.Equal(t, "hello", rebooked.Conversation.LastMessage)

	active, err := chats.ListActiveForUser(ctx, "P")
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, c1.ID, active[0].ID)
}

func TestLongMessageCountsRunes(t *testing.T) {
	svc := New(docstore.NewMemory(), WithMaxLength(3))

	_, err := svc.normalizeContent(strings.Repeat("é", 3))
	assert.NoError(t, err)
	_, err = svc.normalizeContent(strings.Repeat("é", 4))
	assert.True(t, errors.Is(err, apperror.ErrValidation))
}
