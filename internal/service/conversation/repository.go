package conversation

import (
	"context"
	"errors"
	"fmt"

	"therapy-chat-sync/internal/docstore"
	"therapy-chat-sync/internal/model"
)

type Repository interface {
	FindByPairKey(ctx context.Context, pairKey string) ([]model.Conversation, error)
	GetConversation(ctx context.Context, id string) (model.Conversation, error)
	// CreateIndexed writes the pair index and the conversation in one atomic
	// commit. docstore.ErrConflict means the pair is already indexed.
	CreateIndexed(ctx context.Context, id string, doc docstore.Document) error
	InsertConversation(ctx context.Context, id string, doc docstore.Document) error
	GetPairIndex(ctx context.Context, pairKey string) (string, error)
	DeletePairIndex(ctx context.Context, pairKey, chatID string) error
	Activate(ctx context.Context, id string) error
	SetArchived(ctx context.Context, id string, archived bool, conds ...docstore.Condition) error
	DeleteConversation(ctx context.Context, id, pairKey string) error
	ListActiveBy(ctx context.Context, field, userID string) ([]model.Conversation, error)
	ListActive(ctx context.Context) ([]model.Conversation, error)
	CountScheduled(ctx context.Context, patientID, therapistID string) (int, error)
	LatestMessage(ctx context.Context, chatID string) (model.Message, bool, error)
	UpdateLastMessage(ctx context.Context, id, text string, at docstore.Instant) error
}

type StoreRepository struct {
	store docstore.Store
}

func NewStoreRepository(store docstore.Store) Repository {
	return &StoreRepository{store: store}
}

func (r *StoreRepository) FindByPairKey(ctx context.Context, pairKey string) ([]model.Conversation, error) {
	snaps, err := r.store.Query(ctx, model.ChatsTable, docstore.Query{
		Filters: []docstore.Filter{docstore.Where(model.FieldPairKey, pairKey)},
	})
	if err != nil {
		return nil, err
	}
	return toConversations(snaps), nil
}

func (r *StoreRepository) GetConversation(ctx context.Context, id string) (model.Conversation, error) {
	snap, err := r.store.Get(ctx, model.ChatsTable, id)
	if err != nil {
		return model.Conversation{}, err
	}
	return model.ConversationFromSnapshot(snap), nil
}

func (r *StoreRepository) CreateIndexed(ctx context.Context, id string, doc docstore.Document) error {
	pairKey, _ := doc[model.FieldPairKey].(string)
	_, err := r.store.RunAtomic(ctx, []docstore.Op{
		docstore.CreateOp(model.ChatPairsTable, pairKey, model.PairIndexDocument(pairKey, id)),
		docstore.CreateOp(model.ChatsTable, id, doc),
	})
	return err
}

func (r *StoreRepository) InsertConversation(ctx context.Context, id string, doc docstore.Document) error {
	return r.store.Create(ctx, model.ChatsTable, id, doc)
}

func (r *StoreRepository) GetPairIndex(ctx context.Context, pairKey string) (string, error) {
	snap, err := r.store.Get(ctx, model.ChatPairsTable, pairKey)
	if err != nil {
		return "", err
	}
	return snap.Data.String(model.FieldChatID), nil
}

func (r *StoreRepository) DeletePairIndex(ctx context.Context, pairKey, chatID string) error {
	return r.store.Delete(ctx, model.ChatPairsTable, pairKey, docstore.Expect(model.FieldChatID, chatID))
}

func (r *StoreRepository) Activate(ctx context.Context, id string) error {
	return r.store.Update(ctx, model.ChatsTable, id, docstore.Document{
		model.FieldIsArchived:  false,
		model.FieldActivatedAt: docstore.ServerTimestamp(),
	})
}

func (r *StoreRepository) SetArchived(ctx context.Context, id string, archived bool, conds ...docstore.Condition) error {
	fields := docstore.Document{model.FieldIsArchived: archived}
	if !archived {
		fields[model.FieldActivatedAt] = docstore.ServerTimestamp()
	}
	return r.store.Update(ctx, model.ChatsTable, id, fields, conds...)
}

// DeleteConversation removes the conversation and, when it points at this
// conversation, its pair index.
func (r *StoreRepository) DeleteConversation(ctx context.Context, id, pairKey string) error {
	indexed, err := r.GetPairIndex(ctx, pairKey)
	if err != nil && !errors.Is(err, docstore.ErrNotFound) {
		return err
	}

	if indexed == id {
		_, err := r.store.RunAtomic(ctx, []docstore.Op{
			docstore.DeleteOp(model.ChatsTable, id),
			docstore.DeleteOp(model.ChatPairsTable, pairKey, docstore.Expect(model.FieldChatID, id)),
		})
		if !errors.Is(err, docstore.ErrAtomicUnavailable) {
			return err
		}
	}

	if err := r.store.Delete(ctx, model.ChatsTable, id); err != nil {
		return err
	}
	if indexed == id {
		if err := r.DeletePairIndex(ctx, pairKey, id); err != nil &&
			!errors.Is(err, docstore.ErrNotFound) && !errors.Is(err, docstore.ErrConflict) {
			return fmt.Errorf("delete pair index: %w", err)
		}
	}
	return nil
}

func (r *StoreRepository) ListActiveBy(ctx context.Context, field, userID string) ([]model.Conversation, error) {
	snaps, err := r.store.Query(ctx, model.ChatsTable, docstore.Query{
		Filters: []docstore.Filter{
			docstore.Where(field, userID),
			docstore.Where(model.FieldIsArchived, false),
		},
		OrderBy: []docstore.Order{{Field: model.FieldLastMessageAt, Desc: true}},
	})
	if err != nil {
		return nil, err
	}
	return toConversations(snaps), nil
}

func (r *StoreRepository) ListActive(ctx context.Context) ([]model.Conversation, error) {
	snaps, err := r.store.Query(ctx, model.ChatsTable, docstore.Query{
		Filters: []docstore.Filter{docstore.Where(model.FieldIsArchived, false)},
	})
	if err != nil {
		return nil, err
	}
	return toConversations(snaps), nil
}

func (r *StoreRepository) CountScheduled(ctx context.Context, patientID, therapistID string) (int, error) {
	snaps, err := r.store.Query(ctx, model.AppointmentsTable, docstore.Query{
		Filters: []docstore.Filter{
			docstore.Where(model.FieldPatientID, patientID),
			docstore.Where(model.FieldTherapistID, therapistID),
			docstore.Where(model.FieldStatus, string(model.AppointmentStatusScheduled)),
		},
	})
	if err != nil {
		return 0, err
	}
	return len(snaps), nil
}

func (r *StoreRepository) LatestMessage(ctx context.Context, chatID string) (model.Message, bool, error) {
	snaps, err := r.store.Query(ctx, model.MessagesTable, docstore.Query{
		Filters: []docstore.Filter{docstore.Where(model.FieldChatID, chatID)},
		OrderBy: []docstore.Order{{Field: model.FieldSentAt, Desc: true}},
		Limit:   1,
	})
	if err != nil {
		return model.Message{}, false, err
	}
	if len(snaps) == 0 {
		return model.Message{}, false, nil
	}
	return model.MessageFromSnapshot(snaps[0]), true, nil
}

func (r *StoreRepository) UpdateLastMessage(ctx context.Context, id, text string, at docstore.Instant) error {
	return r.store.Update(ctx, model.ChatsTable, id, docstore.Document{
		model.FieldLastMessage:   text,
		model.FieldLastMessageAt: at,
	})
}

func toConversations(snaps []docstore.Snapshot) []model.Conversation {
	out := make([]model.Conversation, len(snaps))
	for i, s := range snaps {
		out[i] = model.ConversationFromSnapshot(s)
	}
	return out
}
