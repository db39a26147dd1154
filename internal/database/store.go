package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"

	"therapy-chat-sync/internal/docstore"
	"therapy-chat-sync/internal/model"
	"therapy-chat-sync/internal/observability"
)

const DefaultResync = 30 * time.Second

// Notifier carries collection-level change signals between processes so
// subscriptions can re-run their query.
type Notifier interface {
	Notify(ctx context.Context, collection string, ids ...string) error
	// Watch delivers a signal per change. The channel is closed when the
	// feed breaks; stop releases it.
	Watch(ctx context.Context, collection string) (changes <-chan struct{}, stop func(), err error)
}

// DefaultIndexes maps collection -> field -> global secondary index name
// for the equality lookups the services make.
func DefaultIndexes() map[string]map[string]string {
	return map[string]map[string]string{
		model.AppointmentsTable: {
			model.FieldTherapistID: "therapistId-index",
			model.FieldPatientID:   "patientId-index",
		},
		model.ChatsTable: {
			model.FieldPairKey:     "pairKey-index",
			model.FieldPatientID:   "patientId-index",
			model.FieldTherapistID: "therapistId-index",
		},
		model.MessagesTable: {
			model.FieldChatID: "chatId-index",
		},
	}
}

type StoreOption func(*Store)

func WithTablePrefix(prefix string) StoreOption {
	return func(s *Store) {
		s.prefix = prefix
	}
}

func WithIndexes(indexes map[string]map[string]string) StoreOption {
	return func(s *Store) {
		s.indexes = indexes
	}
}

func WithNotifier(n Notifier) StoreOption {
	return func(s *Store) {
		s.notifier = n
	}
}

// WithResync sets how often subscriptions re-run their query even without a
// change signal. Without a notifier this is the only refresh.
func WithResync(d time.Duration) StoreOption {
	return func(s *Store) {
		if d > 0 {
			s.resync = d
		}
	}
}

func WithClock(now func() time.Time) StoreOption {
	return func(s *Store) {
		s.clock = docstore.NewClock(now)
	}
}

// Store is a docstore.Store over DynamoDB tables keyed by "id". Server
// timestamps are assigned by this process's clock at commit.
type Store struct {
	client   *DynamoDBClient
	prefix   string
	indexes  map[string]map[string]string
	notifier Notifier
	resync   time.Duration
	clock    *docstore.Clock
}

var _ docstore.Store = (*Store)(nil)

func NewStore(client *DynamoDBClient, opts ...StoreOption) *Store {
	s := &Store{
		client:  client,
		indexes: DefaultIndexes(),
		resync:  DefaultResync,
		clock:   docstore.NewClock(time.Now),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) table(collection string) string {
	return s.prefix + collection
}

// classify maps DynamoDB failures onto the docstore errors. A failed
// condition with no old item means the item is missing.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrItemNotFound) {
		return fmt.Errorf("%w: %w", docstore.ErrNotFound, err)
	}

	var ccf *types.ConditionalCheckFailedException
	if errors.As(err, &ccf) {
		if len(ccf.Item) == 0 {
			return fmt.Errorf("%w: %w", docstore.ErrNotFound, err)
		}
		return fmt.Errorf("%w: %w", docstore.ErrConflict, err)
	}

	var tce *types.TransactionCanceledException
	if errors.As(err, &tce) {
		for _, reason := range tce.CancellationReasons {
			switch aws.ToString(reason.Code) {
			case "ConditionalCheckFailed":
				if len(reason.Item) == 0 {
					return fmt.Errorf("%w: %w", docstore.ErrNotFound, err)
				}
				return fmt.Errorf("%w: %w", docstore.ErrConflict, err)
			case "TransactionConflict":
				return fmt.Errorf("%w: %w", docstore.ErrConflict, err)
			}
		}
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return fmt.Errorf("%w: %s (%s fault): %w", docstore.ErrUnavailable, apiErr.ErrorCode(), apiErr.ErrorFault(), err)
	}
	return fmt.Errorf("%w: %w", docstore.ErrUnavailable, err)
}

func (s *Store) notify(ctx context.Context, collection string, ids ...string) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Notify(ctx, collection, ids...); err != nil {
		observability.LoggerFromContext(ctx).Warn().
			Err(err).
			Str("collection", collection).
			Msg("change notification failed, subscribers will catch up on resync")
	}
}

func (s *Store) Get(ctx context.Context, collection, id string) (docstore.Snapshot, error) {
	item, err := s.client.GetItem(ctx, s.table(collection), itemKey(id))
	if err != nil {
		return docstore.Snapshot{}, classify(err)
	}
	return decodeItem(item)
}

func (s *Store) Put(ctx context.Context, collection, id string, doc docstore.Document) error {
	return s.put(ctx, collection, id, doc, false)
}

func (s *Store) Create(ctx context.Context, collection, id string, doc docstore.Document) error {
	return s.put(ctx, collection, id, doc, true)
}

func (s *Store) put(ctx context.Context, collection, id string, doc docstore.Document, create bool) error {
	resolved, err := docstore.ResolveDocument(doc, s.clock.Next())
	if err != nil {
		return err
	}
	item, err := encodeItem(id, resolved)
	if err != nil {
		return err
	}

	var cond *conditional
	if create {
		e := newExpression()
		cond = &conditional{expr: e.mustNotExist(), names: e.attrNames()}
	}
	if err := s.client.PutItem(ctx, s.table(collection), item, cond); err != nil {
		return classify(err)
	}
	s.notify(ctx, collection, id)
	return nil
}

func (s *Store) Update(ctx context.Context, collection, id string, fields docstore.Document, conds ...docstore.Condition) error {
	resolved, err := docstore.ResolveDocument(fields, s.clock.Next())
	if err != nil {
		return err
	}
	e := newExpression()
	update, err := e.set(resolved)
	if err != nil {
		return err
	}
	expr, err := e.condition(conds)
	if err != nil {
		return err
	}

	cond := &conditional{expr: expr, names: e.attrNames(), values: e.attrValues()}
	if err := s.client.UpdateItem(ctx, s.table(collection), itemKey(id), update, cond); err != nil {
		return classify(err)
	}
	s.notify(ctx, collection, id)
	return nil
}

func (s *Store) Delete(ctx context.Context, collection, id string, conds ...docstore.Condition) error {
	e := newExpression()
	expr, err := e.condition(conds)
	if err != nil {
		return err
	}
	cond := &conditional{expr: expr, names: e.attrNames(), values: e.attrValues()}
	if err := s.client.DeleteItem(ctx, s.table(collection), itemKey(id), cond); err != nil {
		return classify(err)
	}
	s.notify(ctx, collection, id)
	return nil
}

// Query uses a secondary index for the first indexed equality filter and
// scans otherwise. Ordering and limits are applied after the read.
func (s *Store) Query(ctx context.Context, collection string, q docstore.Query) ([]docstore.Snapshot, error) {
	items, err := s.read(ctx, collection, q.Filters)
	if err != nil {
		return nil, classify(err)
	}
	snaps, err := decodeItems(items)
	if err != nil {
		return nil, err
	}
	return docstore.Apply(q, snaps), nil
}

func (s *Store) read(ctx context.Context, collection string, filters []docstore.Filter) ([]map[string]types.AttributeValue, error) {
	e := newExpression()
	for i, f := range filters {
		index, ok := s.indexes[collection][f.Field]
		if !ok || f.Value == nil {
			continue
		}
		key, err := e.equalities([]docstore.Condition{{Field: f.Field, Value: f.Value}})
		if err != nil {
			return nil, err
		}
		rest := append(append([]docstore.Filter{}, filters[:i]...), filters[i+1:]...)
		filter, err := e.filter(rest)
		if err != nil {
			return nil, err
		}
		var filterExpr *string
		if filter != "" {
			filterExpr = aws.String(filter)
		}
		return s.client.QueryAll(ctx, s.table(collection), aws.String(index), key[0], filterExpr, e.attrValues(), e.attrNames())
	}

	filter, err := e.filter(filters)
	if err != nil {
		return nil, err
	}
	return s.client.ScanAllWithFilter(ctx, s.table(collection), filter, e.attrValues(), e.attrNames())
}

// RunAtomic maps ops onto one TransactWriteItems call. Every server
// timestamp in the batch resolves to the same commit time.
func (s *Store) RunAtomic(ctx context.Context, ops []docstore.Op) (docstore.CommitInfo, error) {
	at := s.clock.Next()
	items := make([]types.TransactWriteItem, 0, len(ops))
	touched := make(map[string][]string)

	for i, op := range ops {
		item, err := s.transactItem(op, at)
		if err != nil {
			return docstore.CommitInfo{}, fmt.Errorf("op %d %s %s/%s: %w", i, op.Kind, op.Collection, op.ID, err)
		}
		items = append(items, item)
		touched[op.Collection] = append(touched[op.Collection], op.ID)
	}

	if err := s.client.TransactWriteItems(ctx, items); err != nil {
		return docstore.CommitInfo{}, classify(err)
	}
	for collection, ids := range touched {
		s.notify(ctx, collection, ids...)
	}
	return docstore.CommitInfo{At: at}, nil
}

func (s *Store) transactItem(op docstore.Op, at time.Time) (types.TransactWriteItem, error) {
	table := aws.String(s.table(op.Collection))
	e := newExpression()

	switch op.Kind {
	case docstore.OpCreate, docstore.OpPut:
		resolved, err := docstore.ResolveDocument(op.Data, at)
		if err != nil {
			return types.TransactWriteItem{}, err
		}
		item, err := encodeItem(op.ID, resolved)
		if err != nil {
			return types.TransactWriteItem{}, err
		}
		put := &types.Put{TableName: table, Item: item}
		if op.Kind == docstore.OpCreate {
			put.ConditionExpression = aws.String(e.mustNotExist())
			put.ExpressionAttributeNames = e.attrNames()
			put.ReturnValuesOnConditionCheckFailure = types.ReturnValuesOnConditionCheckFailureAllOld
		}
		return types.TransactWriteItem{Put: put}, nil

	case docstore.OpUpdate:
		resolved, err := docstore.ResolveDocument(op.Data, at)
		if err != nil {
			return types.TransactWriteItem{}, err
		}
		update, err := e.set(resolved)
		if err != nil {
			return types.TransactWriteItem{}, err
		}
		cond, err := e.condition(op.Conditions)
		if err != nil {
			return types.TransactWriteItem{}, err
		}
		return types.TransactWriteItem{Update: &types.Update{
			TableName:                           table,
			Key:                                 itemKey(op.ID),
			UpdateExpression:                    aws.String(update),
			ConditionExpression:                 aws.String(cond),
			ExpressionAttributeNames:            e.attrNames(),
			ExpressionAttributeValues:           e.attrValues(),
			ReturnValuesOnConditionCheckFailure: types.ReturnValuesOnConditionCheckFailureAllOld,
		}}, nil

	case docstore.OpDelete:
		cond, err := e.condition(op.Conditions)
		if err != nil {
			return types.TransactWriteItem{}, err
		}
		return types.TransactWriteItem{Delete: &types.Delete{
			TableName:                           table,
			Key:                                 itemKey(op.ID),
			ConditionExpression:                 aws.String(cond),
			ExpressionAttributeNames:            e.attrNames(),
			ExpressionAttributeValues:           e.attrValues(),
			ReturnValuesOnConditionCheckFailure: types.ReturnValuesOnConditionCheckFailureAllOld,
		}}, nil

	default:
		return types.TransactWriteItem{}, fmt.Errorf("unknown op kind %d", op.Kind)
	}
}
