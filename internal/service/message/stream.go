package message

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"

	"therapy-chat-sync/internal/apperror"
	"therapy-chat-sync/internal/docstore"
	"therapy-chat-sync/internal/model"
	"therapy-chat-sync/internal/observability"
)

// UpdateFunc receives the full message list, newest first.
type UpdateFunc func([]model.Message)

// Stream is one session's live view of a chat. It merges store snapshots
// with local optimistic echoes and owns that state until Close. Callbacks
// run on a single dispatcher goroutine; bursts of changes are coalesced
// into one call carrying the latest list.
type Stream struct {
	svc      *Service
	chatID   string
	onUpdate UpdateFunc

	ctx        context.Context
	cancel     context.CancelFunc
	notify     chan struct{}
	done       chan struct{}
	dispatched chan struct{}

	mu        sync.Mutex
	sub       docstore.Subscription
	confirmed []model.Message
	pending   map[string]model.Message
	closed    bool
}

// Open subscribes to the chat's messages. The first snapshot is delivered
// asynchronously. Broken feeds are reopened with exponential backoff until
// Close or ctx cancellation.
func (s *Service) Open(ctx context.Context, chatID string, onUpdate UpdateFunc) (*Stream, error) {
	if err := model.ValidateID("chatId", chatID); err != nil {
		return nil, err
	}
	if onUpdate == nil {
		return nil, apperror.Validation("onUpdate is required")
	}
	if _, err := s.chat(ctx, chatID); err != nil {
		return nil, err
	}

	streamCtx, cancel := context.WithCancel(ctx)
	st := &Stream{
		svc:        s,
		chatID:     chatID,
		onUpdate:   onUpdate,
		ctx:        streamCtx,
		cancel:     cancel,
		notify:     make(chan struct{}, 1),
		done:       make(chan struct{}),
		dispatched: make(chan struct{}),
		pending:    make(map[string]model.Message),
	}

	sub, err := s.repo.Subscribe(streamCtx, chatID, st.apply)
	if err != nil {
		cancel()
		return nil, apperror.Persistence("failed to subscribe to messages", err)
	}
	st.sub = sub
	activeStreams.Inc()
	go st.dispatch()
	go st.watch()
	return st, nil
}

// watch reopens the subscription whenever it ends with an error.
func (st *Stream) watch() {
	defer close(st.done)
	defer activeStreams.Dec()
	logger := observability.LoggerFromContext(st.ctx)

	for {
		st.mu.Lock()
		sub := st.sub
		st.mu.Unlock()

		select {
		case <-st.ctx.Done():
		case <-sub.Done():
		}
		if st.ctx.Err() != nil || sub.Err() == nil {
			sub.Close()
			return
		}
		logger.Warn().Err(sub.Err()).Str("chat_id", st.chatID).Msg("message feed interrupted, reconnecting")
		sub.Close()

		next, err := backoff.Retry(st.ctx, func() (docstore.Subscription, error) {
			return st.svc.repo.Subscribe(st.ctx, st.chatID, st.apply)
		},
			backoff.WithBackOff(st.svc.newBackOff()),
			backoff.WithMaxElapsedTime(0),
			backoff.WithNotify(func(err error, wait time.Duration) {
				logger.Debug().Err(err).Dur("retry_in", wait).Str("chat_id", st.chatID).Msg("message feed reconnect failed")
			}),
		)
		if err != nil {
			return
		}

		st.mu.Lock()
		if st.closed {
			st.mu.Unlock()
			next.Close()
			return
		}
		st.sub = next
		st.mu.Unlock()
		streamReconnects.Inc()
	}
}

// apply takes a confirmed snapshot from the store. Echoes the store now
// knows about are dropped.
func (st *Stream) apply(msgs []model.Message) {
	st.mu.Lock()
	if st.closed {
		st.mu.Unlock()
		return
	}
	st.confirmed = msgs
	for _, m := range msgs {
		delete(st.pending, m.ID)
	}
	st.mu.Unlock()
	st.emit()
}

// Messages returns the merged view, newest first by sentAt. Ids are unique.
func (st *Stream) Messages() []model.Message {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.merged()
}

// merged must be called with st.mu held. Pending echoes carry the local
// clock, which may lag the store, so each one is placed at least 1ns after
// the newest confirmed message while keeping the echoes' own order.
func (st *Stream) merged() []model.Message {
	out := make([]model.Message, 0, len(st.pending)+len(st.confirmed))
	seen := make(map[string]struct{}, cap(out))
	var newest time.Time
	for _, m := range st.confirmed {
		if _, dup := seen[m.ID]; dup {
			continue
		}
		seen[m.ID] = struct{}{}
		out = append(out, m)
		if m.SentAt.After(newest) {
			newest = m.SentAt
		}
	}

	echoes := make([]model.Message, 0, len(st.pending))
	for _, m := range st.pending {
		if _, dup := seen[m.ID]; !dup {
			echoes = append(echoes, m)
		}
	}
	sort.Slice(echoes, func(i, j int) bool { return newerFirst(echoes[j], echoes[i]) })
	floor := newest
	for _, m := range echoes {
		if !m.SentAt.After(floor) {
			m.SentAt = floor.Add(time.Nanosecond)
		}
		floor = m.SentAt
		out = append(out, m)
	}

	sort.SliceStable(out, func(i, j int) bool { return newerFirst(out[i], out[j]) })
	return out
}

// newerFirst orders by sentAt descending, then id ascending as the store does.
func newerFirst(a, b model.Message) bool {
	if !a.SentAt.Equal(b.SentAt) {
		return a.SentAt.After(b.SentAt)
	}
	return a.ID < b.ID
}

func (st *Stream) emit() {
	select {
	case st.notify <- struct{}{}:
	default:
	}
}

func (st *Stream) dispatch() {
	defer close(st.dispatched)
	for {
		select {
		case <-st.ctx.Done():
			return
		case <-st.notify:
		}
		st.mu.Lock()
		if st.closed {
			st.mu.Unlock()
			return
		}
		list := st.merged()
		st.mu.Unlock()

		st.onUpdate(list)
	}
}

// Send shows an optimistic echo immediately, then writes the message. The
// echo is withdrawn if the write fails and replaced once the feed delivers
// the stored copy.
func (st *Stream) Send(ctx context.Context, senderID, content string) (model.Message, error) {
	trimmed, err := st.svc.normalizeContent(content)
	if err != nil {
		return model.Message{}, err
	}

	echo := model.Message{
		ID:       st.svc.newID(),
		ChatID:   st.chatID,
		SenderID: senderID,
		Content:  trimmed,
		SentAt:   st.svc.now().UTC(),
		Pending:  true,
	}
	st.mu.Lock()
	if st.closed {
		st.mu.Unlock()
		return model.Message{}, apperror.InvalidState("stream is closed")
	}
	st.pending[echo.ID] = echo
	st.mu.Unlock()
	st.emit()

	msg, err := st.svc.Send(ctx, SendParams{
		ChatID:    st.chatID,
		SenderID:  senderID,
		Content:   trimmed,
		MessageID: echo.ID,
	})
	if err != nil {
		st.mu.Lock()
		_, wasPending := st.pending[echo.ID]
		delete(st.pending, echo.ID)
		st.mu.Unlock()
		if wasPending {
			st.emit()
		}
		return model.Message{}, err
	}
	return msg, nil
}

// Delete removes a message through the service and drops any local echo
// of it.
func (st *Stream) Delete(ctx context.Context, messageID string) error {
	if err := st.svc.Delete(ctx, messageID); err != nil {
		return err
	}
	st.mu.Lock()
	_, wasPending := st.pending[messageID]
	delete(st.pending, messageID)
	st.mu.Unlock()
	if wasPending {
		st.emit()
	}
	return nil
}

// Close stops the stream and releases the subscription. No callback starts
// after Close returns; it waits for one already running, so it must not be
// called from inside onUpdate.
func (st *Stream) Close() {
	st.mu.Lock()
	if st.closed {
		st.mu.Unlock()
		return
	}
	st.closed = true
	st.pending = make(map[string]model.Message)
	st.confirmed = nil
	st.mu.Unlock()

	st.cancel()
	<-st.dispatched
	<-st.done
}

// Done is closed once the stream has stopped, either by Close or because
// the context passed to Open was cancelled.
func (st *Stream) Done() <-chan struct{} {
	return st.done
}
