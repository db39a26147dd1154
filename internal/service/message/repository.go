package message

import (
	"context"
	"time"

	"therapy-chat-sync/internal/docstore"
	"therapy-chat-sync/internal/model"
)

type Repository interface {
	GetChat(ctx context.Context, chatID string) (model.Conversation, error)
	// SendAtomic writes the message and the chat cache in one commit and
	// returns the commit time shared by both.
	SendAtomic(ctx context.Context, id, chatID string, doc docstore.Document) (time.Time, error)
	Insert(ctx context.Context, id string, doc docstore.Document) error
	Get(ctx context.Context, id string) (model.Message, error)
	UpdateChatCache(ctx context.Context, chatID, text string, at time.Time) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context, chatID string) ([]model.Message, error)
	Subscribe(ctx context.Context, chatID string, fn func([]model.Message)) (docstore.Subscription, error)
}

type StoreRepository struct {
	store docstore.Store
}

func NewStoreRepository(store docstore.Store) Repository {
	return &StoreRepository{store: store}
}

func chatQuery(chatID string) docstore.Query {
	return docstore.Query{
		Filters: []docstore.Filter{docstore.Where(model.FieldChatID, chatID)},
		OrderBy: []docstore.Order{{Field: model.FieldSentAt, Desc: true}},
	}
}

func (r *StoreRepository) GetChat(ctx context.Context, chatID string) (model.Conversation, error) {
	snap, err := r.store.Get(ctx, model.ChatsTable, chatID)
	if err != nil {
		return model.Conversation{}, err
	}
	return model.ConversationFromSnapshot(snap), nil
}

func (r *StoreRepository) SendAtomic(ctx context.Context, id, chatID string, doc docstore.Document) (time.Time, error) {
	info, err := r.store.RunAtomic(ctx, []docstore.Op{
		docstore.CreateOp(model.MessagesTable, id, doc),
		docstore.UpdateOp(model.ChatsTable, chatID, docstore.Document{
			model.FieldLastMessage:   doc[model.FieldContent],
			model.FieldLastMessageAt: docstore.ServerTimestamp(),
		}),
	})
	if err != nil {
		return time.Time{}, err
	}
	return info.At, nil
}

func (r *StoreRepository) Insert(ctx context.Context, id string, doc docstore.Document) error {
	return r.store.Create(ctx, model.MessagesTable, id, doc)
}

func (r *StoreRepository) Get(ctx context.Context, id string) (model.Message, error) {
	snap, err := r.store.Get(ctx, model.MessagesTable, id)
	if err != nil {
		return model.Message{}, err
	}
	return model.MessageFromSnapshot(snap), nil
}

func (r *StoreRepository) UpdateChatCache(ctx context.Context, chatID, text string, at time.Time) error {
	return r.store.Update(ctx, model.ChatsTable, chatID, docstore.Document{
		model.FieldLastMessage:   text,
		model.FieldLastMessageAt: docstore.At(at),
	})
}

func (r *StoreRepository) Delete(ctx context.Context, id string) error {
	return r.store.Delete(ctx, model.MessagesTable, id)
}

func (r *StoreRepository) List(ctx context.Context, chatID string) ([]model.Message, error) {
	snaps, err := r.store.Query(ctx, model.MessagesTable, chatQuery(chatID))
	if err != nil {
		return nil, err
	}
	return toMessages(snaps), nil
}

func (r *StoreRepository) Subscribe(ctx context.Context, chatID string, fn func([]model.Message)) (docstore.Subscription, error) {
	return r.store.Subscribe(ctx, model.MessagesTable, chatQuery(chatID), func(snaps []docstore.Snapshot) {
		fn(toMessages(snaps))
	})
}

func toMessages(snaps []docstore.Snapshot) []model.Message {
	out := make([]model.Message, len(snaps))
	for i, s := range snaps {
		out[i] = model.MessageFromSnapshot(s)
	}
	return out
}
