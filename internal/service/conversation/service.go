package conversation

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"therapy-chat-sync/internal/apperror"
	"therapy-chat-sync/internal/docstore"
	"therapy-chat-sync/internal/model"
	"therapy-chat-sync/internal/observability"
)

const maxSettleAttempts = 3

// errRetry signals that a concurrent writer changed the pair while we were
// settling it and the lookup should start over.
var errRetry = errors.New("conversation: pair changed concurrently")

var tracer = observability.Tracer("conversation")

type Option func(*Service)

// WithConflictObserver registers fn to receive every resolved duplicate.
func WithConflictObserver(fn func(error)) Option {
	return func(s *Service) {
		s.onConflict = fn
	}
}

// WithIDGenerator overrides conversation id generation.
func WithIDGenerator(fn func() string) Option {
	return func(s *Service) {
		s.newID = fn
	}
}

// Service is the conversation registry: it owns the pair key to
// conversation mapping and the archived flag.
type Service struct {
	repo       Repository
	newID      func() string
	onConflict func(error)
}

func New(store docstore.Store, opts ...Option) *Service {
	return NewWithRepository(NewStoreRepository(store), opts...)
}

func NewWithRepository(repo Repository, opts ...Option) *Service {
	s := &Service{
		repo:  repo,
		newID: newTimeOrderedID,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// newTimeOrderedID makes "lowest id" approximate "created first".
func newTimeOrderedID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// CreateOrGet returns the pair's conversation, reactivating it when archived
// and creating it when none exists. It never fails because the conversation
// already exists.
func (s *Service) CreateOrGet(ctx context.Context, patientID, therapistID, therapistName string) (model.Conversation, error) {
	if err := model.ValidateID("patientId", patientID); err != nil {
		return model.Conversation{}, err
	}
	if err := model.ValidateID("therapistId", therapistID); err != nil {
		return model.Conversation{}, err
	}

	pairKey := model.PairKey(patientID, therapistID)
	ctx, span := tracer.Start(ctx, "conversation.CreateOrGet")
	span.SetAttributes(attribute.String("pair_key", pairKey))
	defer span.End()

	for attempt := 0; attempt < maxSettleAttempts; attempt++ {
		matches, err := s.repo.FindByPairKey(ctx, pairKey)
		if err != nil {
			return model.Conversation{}, apperror.Persistence("failed to look up conversation", err)
		}

		var conv model.Conversation
		if len(matches) > 0 {
			conv, err = s.activate(ctx, s.resolveDuplicates(ctx, pairKey, matches))
		} else {
			conv, err = s.create(ctx, pairKey, patientID, therapistID, therapistName)
		}
		if errors.Is(err, errRetry) {
			continue
		}
		if err != nil {
			span.RecordError(err)
			return model.Conversation{}, err
		}
		return conv, nil
	}

	return model.Conversation{}, apperror.Persistence("failed to settle conversation", errRetry)
}

func (s *Service) create(ctx context.Context, pairKey, patientID, therapistID, therapistName string) (model.Conversation, error) {
	id := s.newID()
	doc := model.NewConversationDocument(patientID, therapistID, therapistName)

	err := s.repo.CreateIndexed(ctx, id, doc)
	switch {
	case err == nil:
		conversationsCreated.Inc()
		return s.get(ctx, id)
	case errors.Is(err, docstore.ErrConflict):
		return s.adoptIndexed(ctx, pairKey)
	case errors.Is(err, docstore.ErrAtomicUnavailable):
		return s.createUnguarded(ctx, id, pairKey, doc)
	default:
		return model.Conversation{}, apperror.Persistence("failed to create conversation", err)
	}
}

// adoptIndexed reuses the conversation another caller registered for the
// pair. A dangling index is removed so the next attempt can recreate it.
func (s *Service) adoptIndexed(ctx context.Context, pairKey string) (model.Conversation, error) {
	chatID, err := s.repo.GetPairIndex(ctx, pairKey)
	if errors.Is(err, docstore.ErrNotFound) {
		return model.Conversation{}, errRetry
	}
	if err != nil {
		return model.Conversation{}, apperror.Persistence("failed to read pair index", err)
	}

	conv, err := s.repo.GetConversation(ctx, chatID)
	if errors.Is(err, docstore.ErrNotFound) {
		observability.LoggerFromContext(ctx).Warn().
			Str("pair_key", pairKey).
			Str("chat_id", chatID).
			Msg("removing dangling pair index")
		if err := s.repo.DeletePairIndex(ctx, pairKey, chatID); err != nil &&
			!errors.Is(err, docstore.ErrNotFound) && !errors.Is(err, docstore.ErrConflict) {
			return model.Conversation{}, apperror.Persistence("failed to repair pair index", err)
		}
		return model.Conversation{}, errRetry
	}
	if err != nil {
		return model.Conversation{}, apperror.Persistence("failed to load conversation", err)
	}
	return s.activate(ctx, conv)
}

// createUnguarded inserts without a uniqueness guard, then re-reads the pair
// and keeps the lowest id.
func (s *Service) createUnguarded(ctx context.Context, id, pairKey string, doc docstore.Document) (model.Conversation, error) {
	if err := s.repo.InsertConversation(ctx, id, doc); err != nil {
		return model.Conversation{}, apperror.Persistence("failed to create conversation", err)
	}

	matches, err := s.repo.FindByPairKey(ctx, pairKey)
	if err != nil {
		return model.Conversation{}, apperror.Persistence("failed to verify conversation", err)
	}
	if len(matches) == 0 {
		return model.Conversation{}, errRetry
	}

	canonical := s.resolveDuplicates(ctx, pairKey, matches)
	if canonical.ID == id {
		conversationsCreated.Inc()
		return canonical, nil
	}
	return s.activate(ctx, canonical)
}

// resolveDuplicates keeps the lowest id and deletes the rest. Each resolution
// is reported as a conflict even though the caller never sees it.
func (s *Service) resolveDuplicates(ctx context.Context, pairKey string, matches []model.Conversation) model.Conversation {
	if len(matches) == 1 {
		return matches[0]
	}

	sort.Slice(matches, func(i, j int) bool { return matches[i].ID < matches[j].ID })
	canonical := matches[0]
	logger := observability.LoggerFromContext(ctx)

	for _, dup := range matches[1:] {
		err := s.repo.DeleteConversation(ctx, dup.ID, pairKey)
		if err != nil && !errors.Is(err, docstore.ErrNotFound) {
			logger.Error().Err(err).Str("chat_id", dup.ID).Msg("failed to delete duplicate conversation")
			continue
		}
		conflict := apperror.Conflict(
			fmt.Sprintf("duplicate conversation %s for pair %s resolved to %s", dup.ID, pairKey, canonical.ID),
			nil,
		)
		duplicatesResolved.Inc()
		logger.Warn().Err(conflict).Str("pair_key", pairKey).Msg("duplicate conversation removed")
		if s.onConflict != nil {
			s.onConflict(conflict)
		}
	}
	return canonical
}

func (s *Service) activate(ctx context.Context, conv model.Conversation) (model.Conversation, error) {
	err := s.repo.Activate(ctx, conv.ID)
	if errors.Is(err, docstore.ErrNotFound) {
		return model.Conversation{}, errRetry
	}
	if err != nil {
		return model.Conversation{}, apperror.Persistence("failed to activate conversation", err)
	}
	if conv.IsArchived {
		conversationsReactivated.Inc()
		observability.LoggerFromContext(ctx).Info().Str("chat_id", conv.ID).Msg("conversation reactivated")
	}
	return s.get(ctx, conv.ID)
}

func (s *Service) get(ctx context.Context, id string) (model.Conversation, error) {
	conv, err := s.repo.GetConversation(ctx, id)
	if errors.Is(err, docstore.ErrNotFound) {
		return model.Conversation{}, errRetry
	}
	if err != nil {
		return model.Conversation{}, apperror.Persistence("failed to load conversation", err)
	}
	return conv, nil
}

func (s *Service) Get(ctx context.Context, id string) (model.Conversation, error) {
	if err := model.ValidateID("conversationId", id); err != nil {
		return model.Conversation{}, err
	}
	conv, err := s.repo.GetConversation(ctx, id)
	if errors.Is(err, docstore.ErrNotFound) {
		return model.Conversation{}, apperror.NotFound("conversation not found", err)
	}
	if err != nil {
		return model.Conversation{}, apperror.Persistence("failed to load conversation", err)
	}
	return conv, nil
}

func (s *Service) Archive(ctx context.Context, id string) (model.Conversation, error) {
	return s.setArchived(ctx, id, true)
}

func (s *Service) Unarchive(ctx context.Context, id string) (model.Conversation, error) {
	return s.setArchived(ctx, id, false)
}

func (s *Service) setArchived(ctx context.Context, id string, archived bool) (model.Conversation, error) {
	conv, err := s.Get(ctx, id)
	if err != nil {
		return model.Conversation{}, err
	}
	if conv.IsArchived == archived {
		return conv, nil
	}

	err = s.repo.SetArchived(ctx, id, archived)
	if errors.Is(err, docstore.ErrNotFound) {
		return model.Conversation{}, apperror.NotFound("conversation not found", err)
	}
	if err != nil {
		return model.Conversation{}, apperror.Persistence("failed to update conversation", err)
	}
	if archived {
		conversationsArchived.Inc()
	}
	return s.Get(ctx, id)
}

// ArchiveIfIdle archives the pair's conversation when the pair has no
// scheduled appointment. The activation stamp is read before appointments
// are counted and the archive write is conditioned on it, so a booking that
// lands in between always wins. A missing conversation is not an error.
func (s *Service) ArchiveIfIdle(ctx context.Context, patientID, therapistID string) (bool, error) {
	pairKey := model.PairKey(patientID, therapistID)
	ctx, span := tracer.Start(ctx, "conversation.ArchiveIfIdle")
	span.SetAttributes(attribute.String("pair_key", pairKey))
	defer span.End()

	matches, err := s.repo.FindByPairKey(ctx, pairKey)
	if err != nil {
		return false, apperror.Persistence("failed to look up conversation", err)
	}

	active := matches[:0]
	for _, conv := range matches {
		if !conv.IsArchived {
			active = append(active, conv)
		}
	}
	if len(active) == 0 {
		return false, nil
	}

	scheduled, err := s.repo.CountScheduled(ctx, patientID, therapistID)
	if err != nil {
		return false, apperror.Persistence("failed to count scheduled appointments", err)
	}
	if scheduled > 0 {
		return false, nil
	}

	archived := false
	for _, conv := range active {
		err := s.repo.SetArchived(ctx, conv.ID, true,
			docstore.Expect(model.FieldIsArchived, false),
			docstore.Expect(model.FieldActivatedAt, conv.ActivatedAt),
		)
		switch {
		case err == nil:
			archived = true
			conversationsArchived.Inc()
			observability.LoggerFromContext(ctx).Info().Str("chat_id", conv.ID).Msg("conversation archived")
		case errors.Is(err, docstore.ErrConflict), errors.Is(err, docstore.ErrNotFound):
			observability.LoggerFromContext(ctx).Debug().Str("chat_id", conv.ID).Msg("archive skipped, conversation changed")
		default:
			return archived, apperror.Persistence("failed to archive conversation", err)
		}
	}
	return archived, nil
}

// Delete removes the conversation and its pair index. Messages are kept.
func (s *Service) Delete(ctx context.Context, id string) error {
	conv, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	err = s.repo.DeleteConversation(ctx, id, conv.PairKey)
	if errors.Is(err, docstore.ErrNotFound) {
		return apperror.NotFound("conversation not found", err)
	}
	if err != nil {
		return apperror.Persistence("failed to delete conversation", err)
	}
	return nil
}

// ListActiveForUser lists the patient's non-archived conversations, most
// recently active first.
func (s *Service) ListActiveForUser(ctx context.Context, userID string) ([]model.Conversation, error) {
	return s.ListActiveForRole(ctx, userID, model.RolePatient)
}

func (s *Service) ListActiveForRole(ctx context.Context, userID string, role model.Role) ([]model.Conversation, error) {
	if err := model.ValidateID("userId", userID); err != nil {
		return nil, err
	}
	if !role.Valid() {
		return nil, apperror.Validation("role must be patient or therapist")
	}
	convs, err := s.repo.ListActiveBy(ctx, role.IDField(), userID)
	if err != nil {
		return nil, apperror.Persistence("failed to list conversations", err)
	}
	return convs, nil
}

// ListActive returns every non-archived conversation.
func (s *Service) ListActive(ctx context.Context) ([]model.Conversation, error) {
	convs, err := s.repo.ListActive(ctx)
	if err != nil {
		return nil, apperror.Persistence("failed to list conversations", err)
	}
	return convs, nil
}

// RefreshLastMessage recomputes the last-message cache from the newest
// message. It reports whether the cache changed.
func (s *Service) RefreshLastMessage(ctx context.Context, id string) (bool, error) {
	conv, err := s.Get(ctx, id)
	if err != nil {
		return false, err
	}

	latest, ok, err := s.repo.LatestMessage(ctx, id)
	if err != nil {
		return false, apperror.Persistence("failed to load latest message", err)
	}

	text, at := model.ConversationStartedText, conv.CreatedAt
	if ok {
		text, at = latest.Content, latest.SentAt
	}
	if conv.LastMessage == text && conv.LastMessageAt.Equal(at) {
		return false, nil
	}

	err = s.repo.UpdateLastMessage(ctx, id, text, docstore.At(at))
	if errors.Is(err, docstore.ErrNotFound) {
		return false, apperror.NotFound("conversation not found", err)
	}
	if err != nil {
		return false, apperror.Persistence("failed to refresh last message", err)
	}
	return true, nil
}
