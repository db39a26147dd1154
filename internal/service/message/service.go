package message

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"therapy-chat-sync/internal/apperror"
	"therapy-chat-sync/internal/docstore"
	"therapy-chat-sync/internal/model"
	"therapy-chat-sync/internal/observability"
)

const DefaultMaxLength = 4000

var ErrEmptyContent = errors.New("message content is empty")

var tracer = observability.Tracer("message")

type SendParams struct {
	ChatID   string
	SenderID string
	Content  string
	// MessageID is optional. Streams set it so the optimistic echo and the
	// stored message share an id.
	MessageID string
}

type Option func(*Service)

func WithMaxLength(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxLength = n
		}
	}
}

// WithReconnectBackOff sets the policy used to reopen broken streams.
func WithReconnectBackOff(fn func() backoff.BackOff) Option {
	return func(s *Service) {
		s.newBackOff = fn
	}
}

func WithIDGenerator(fn func() string) Option {
	return func(s *Service) {
		s.newID = fn
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

type Service struct {
	repo       Repository
	maxLength  int
	newBackOff func() backoff.BackOff
	newID      func() string
	now        func() time.Time
}

func New(store docstore.Store, opts ...Option) *Service {
	return NewWithRepository(NewStoreRepository(store), opts...)
}

func NewWithRepository(repo Repository, opts ...Option) *Service {
	s := &Service{
		repo:      repo,
		maxLength: DefaultMaxLength,
		newBackOff: func() backoff.BackOff {
			return backoff.NewExponentialBackOff()
		},
		newID: uuid.NewString,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// normalizeContent trims content and enforces the length limit in runes.
func (s *Service) normalizeContent(content string) (string, error) {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		messagesRejected.Inc()
		return "", apperror.New(apperror.ErrorCodeValidation, "message cannot be empty", ErrEmptyContent)
	}
	if n := utf8.RuneCountInString(trimmed); n > s.maxLength {
		messagesRejected.Inc()
		return "", apperror.Validation(fmt.Sprintf("message is %d characters, the limit is %d", n, s.maxLength))
	}
	return trimmed, nil
}

func (s *Service) chat(ctx context.Context, chatID string) (model.Conversation, error) {
	conv, err := s.repo.GetChat(ctx, chatID)
	if errors.Is(err, docstore.ErrNotFound) {
		return model.Conversation{}, apperror.NotFound("conversation not found", err)
	}
	if err != nil {
		return model.Conversation{}, apperror.Persistence("failed to load conversation", err)
	}
	return conv, nil
}

// Send stores a message with a store-assigned sentAt and updates the chat's
// last message cache. It returns once the message is durable; live
// subscribers see it asynchronously.
func (s *Service) Send(ctx context.Context, params SendParams) (model.Message, error) {
	content, err := s.normalizeContent(params.Content)
	if err != nil {
		return model.Message{}, err
	}
	if err := model.ValidateID("chatId", params.ChatID); err != nil {
		return model.Message{}, err
	}
	if err := model.ValidateID("senderId", params.SenderID); err != nil {
		return model.Message{}, err
	}
	id := params.MessageID
	if id == "" {
		id = s.newID()
	} else if err := model.ValidateID("messageId", id); err != nil {
		return model.Message{}, err
	}

	ctx, span := tracer.Start(ctx, "message.Send")
	span.SetAttributes(attribute.String("chat_id", params.ChatID))
	defer span.End()

	conv, err := s.chat(ctx, params.ChatID)
	if err != nil {
		return model.Message{}, err
	}
	if params.SenderID != conv.PatientID && params.SenderID != conv.TherapistID {
		return model.Message{}, apperror.Validation("sender is not a participant of this conversation")
	}

	doc := model.NewMessageDocument(params.ChatID, params.SenderID, content)
	msg := model.Message{ID: id, ChatID: params.ChatID, SenderID: params.SenderID, Content: content}

	sentAt, err := s.repo.SendAtomic(ctx, id, params.ChatID, doc)
	if errors.Is(err, docstore.ErrAtomicUnavailable) {
		return s.sendSequential(ctx, msg, doc)
	}
	if err != nil {
		span.RecordError(err)
		return model.Message{}, s.writeError(err)
	}
	msg.SentAt = sentAt
	messagesSent.WithLabelValues("atomic").Inc()
	return msg, nil
}

// sendSequential writes the message first and the cache second. A failed
// cache write leaves a durable message behind, so it is logged rather than
// returned; the sweep recomputes stale caches.
func (s *Service) sendSequential(ctx context.Context, msg model.Message, doc docstore.Document) (model.Message, error) {
	if err := s.repo.Insert(ctx, msg.ID, doc); err != nil {
		return model.Message{}, s.writeError(err)
	}
	stored, err := s.repo.Get(ctx, msg.ID)
	if err != nil {
		return model.Message{}, apperror.Persistence("message stored but could not be read back", err)
	}
	messagesSent.WithLabelValues("sequential").Inc()

	if err := s.repo.UpdateChatCache(ctx, msg.ChatID, stored.Content, stored.SentAt); err != nil {
		observability.LoggerFromContext(ctx).Warn().
			Err(err).
			Str("chat_id", msg.ChatID).
			Str("message_id", msg.ID).
			Msg("last message cache not updated")
	}
	return stored, nil
}

func (s *Service) writeError(err error) error {
	switch {
	case errors.Is(err, docstore.ErrNotFound):
		return apperror.NotFound("conversation not found", err)
	case errors.Is(err, docstore.ErrConflict):
		return apperror.Conflict("message id already used", err)
	default:
		return apperror.Persistence("failed to store message", err)
	}
}

// Delete hard-deletes a message. The chat's last message cache is left as
// is until the next send or a sweep repair.
func (s *Service) Delete(ctx context.Context, messageID string) error {
	if err := model.ValidateID("messageId", messageID); err != nil {
		return err
	}
	err := s.repo.Delete(ctx, messageID)
	if errors.Is(err, docstore.ErrNotFound) {
		return apperror.NotFound("message not found", err)
	}
	if err != nil {
		return apperror.Persistence("failed to delete message", err)
	}
	messagesDeleted.Inc()
	return nil
}

func (s *Service) Get(ctx context.Context, messageID string) (model.Message, error) {
	if err := model.ValidateID("messageId", messageID); err != nil {
		return model.Message{}, err
	}
	msg, err := s.repo.Get(ctx, messageID)
	if errors.Is(err, docstore.ErrNotFound) {
		return model.Message{}, apperror.NotFound("message not found", err)
	}
	if err != nil {
		return model.Message{}, apperror.Persistence("failed to load message", err)
	}
	return msg, nil
}

// List returns the chat's messages newest first.
func (s *Service) List(ctx context.Context, chatID string) ([]model.Message, error) {
	if err := model.ValidateID("chatId", chatID); err != nil {
		return nil, err
	}
	if _, err := s.chat(ctx, chatID); err != nil {
		return nil, err
	}
	msgs, err := s.repo.List(ctx, chatID)
	if err != nil {
		return nil, apperror.Persistence("failed to list messages", err)
	}
	return msgs, nil
}

// Subscribe opens a Stream and returns its Close as the unsubscribe func.
func (s *Service) Subscribe(ctx context.Context, chatID string, onUpdate UpdateFunc) (func(), error) {
	st, err := s.Open(ctx, chatID, onUpdate)
	if err != nil {
		return nil, err
	}
	return st.Close, nil
}
