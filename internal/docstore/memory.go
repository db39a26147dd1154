package docstore

import (
	"context"
	"fmt"
	"sync"
	"time"
)

type MemoryOption func(*Memory)

// WithoutTransactions makes RunAtomic report ErrAtomicUnavailable, the way a
// store lacking multi-document transactions behaves.
func WithoutTransactions() MemoryOption {
	return func(m *Memory) {
		m.atomic = false
	}
}

func WithClock(now func() time.Time) MemoryOption {
	return func(m *Memory) {
		m.clock = NewClock(now)
	}
}

// Memory is an in-process Store. Subscriptions are re-evaluated after every
// write to their collection and deliver on their own goroutine.
type Memory struct {
	mu          sync.Mutex
	clock       *Clock
	atomic      bool
	collections map[string]map[string]Document
	subs        map[string]map[*memorySubscription]struct{}
	failures    map[string]error
}

func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{
		clock:       NewClock(time.Now),
		atomic:      true,
		collections: make(map[string]map[string]Document),
		subs:        make(map[string]map[*memorySubscription]struct{}),
		failures:    make(map[string]error),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// FailWith makes every operation touching collection return err until
// Recover is called. An empty collection name fails everything.
func (m *Memory) FailWith(collection string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[collection] = err
}

func (m *Memory) Recover() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures = make(map[string]error)
}

// Interrupt terminates every live subscription on collection with
// ErrUnavailable, as a dropped connection would.
func (m *Memory) Interrupt(collection string) {
	m.mu.Lock()
	subs := make([]*memorySubscription, 0, len(m.subs[collection]))
	for s := range m.subs[collection] {
		subs = append(subs, s)
	}
	delete(m.subs, collection)
	m.mu.Unlock()

	for _, s := range subs {
		s.stop(ErrUnavailable)
	}
}

// failure must be called with m.mu held.
func (m *Memory) failure(collection string) error {
	if err, ok := m.failures[""]; ok {
		return err
	}
	if err, ok := m.failures[collection]; ok {
		return err
	}
	return nil
}

func (m *Memory) table(collection string) map[string]Document {
	t, ok := m.collections[collection]
	if !ok {
		t = make(map[string]Document)
		m.collections[collection] = t
	}
	return t
}

func (m *Memory) Get(ctx context.Context, collection, id string) (Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return Snapshot{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure(collection); err != nil {
		return Snapshot{}, err
	}
	doc, ok := m.collections[collection][id]
	if !ok {
		return Snapshot{}, fmt.Errorf("%s/%s: %w", collection, id, ErrNotFound)
	}
	return Snapshot{ID: id, Data: doc.Clone()}, nil
}

func (m *Memory) Put(ctx context.Context, collection, id string, doc Document) error {
	_, err := m.commit(ctx, []Op{PutOp(collection, id, doc)})
	return err
}

func (m *Memory) Create(ctx context.Context, collection, id string, doc Document) error {
	_, err := m.commit(ctx, []Op{CreateOp(collection, id, doc)})
	return err
}

func (m *Memory) Update(ctx context.Context, collection, id string, fields Document, conds ...Condition) error {
	_, err := m.commit(ctx, []Op{UpdateOp(collection, id, fields, conds...)})
	return err
}

func (m *Memory) Delete(ctx context.Context, collection, id string, conds ...Condition) error {
	_, err := m.commit(ctx, []Op{DeleteOp(collection, id, conds...)})
	return err
}

func (m *Memory) RunAtomic(ctx context.Context, ops []Op) (CommitInfo, error) {
	if !m.atomic {
		return CommitInfo{}, ErrAtomicUnavailable
	}
	return m.commit(ctx, ops)
}

// commit validates ops against a staged view and applies them together.
func (m *Memory) commit(ctx context.Context, ops []Op) (CommitInfo, error) {
	if err := ctx.Err(); err != nil {
		return CommitInfo{}, err
	}

	m.mu.Lock()
	for _, op := range ops {
		if err := m.failure(op.Collection); err != nil {
			m.mu.Unlock()
			return CommitInfo{}, err
		}
	}

	at := m.clock.Next()
	type key struct{ collection, id string }
	staged := make(map[key]Document)
	order := make([]key, 0, len(ops))

	lookup := func(k key) (Document, bool) {
		if doc, ok := staged[k]; ok {
			return doc, doc != nil
		}
		doc, ok := m.collections[k.collection][k.id]
		return doc, ok
	}

	for i, op := range ops {
		k := key{op.Collection, op.ID}
		current, exists := lookup(k)

		var next Document
		switch op.Kind {
		case OpCreate:
			if exists {
				m.mu.Unlock()
				return CommitInfo{}, fmt.Errorf("op %d %s %s/%s: %w", i, op.Kind, op.Collection, op.ID, ErrConflict)
			}
			resolved, err := ResolveDocument(op.Data, at)
			if err != nil {
				m.mu.Unlock()
				return CommitInfo{}, err
			}
			next = resolved
		case OpPut:
			resolved, err := ResolveDocument(op.Data, at)
			if err != nil {
				m.mu.Unlock()
				return CommitInfo{}, err
			}
			next = resolved
		case OpUpdate:
			if !exists {
				m.mu.Unlock()
				return CommitInfo{}, fmt.Errorf("op %d %s %s/%s: %w", i, op.Kind, op.Collection, op.ID, ErrNotFound)
			}
			if !ConditionsHold(current, op.Conditions) {
				m.mu.Unlock()
				return CommitInfo{}, fmt.Errorf("op %d %s %s/%s: %w", i, op.Kind, op.Collection, op.ID, ErrConflict)
			}
			resolved, err := ResolveDocument(op.Data, at)
			if err != nil {
				m.mu.Unlock()
				return CommitInfo{}, err
			}
			next = current.Clone()
			for f, v := range resolved {
				next[f] = v
			}
		case OpDelete:
			if !exists {
				m.mu.Unlock()
				return CommitInfo{}, fmt.Errorf("op %d %s %s/%s: %w", i, op.Kind, op.Collection, op.ID, ErrNotFound)
			}
			if !ConditionsHold(current, op.Conditions) {
				m.mu.Unlock()
				return CommitInfo{}, fmt.Errorf("op %d %s %s/%s: %w", i, op.Kind, op.Collection, op.ID, ErrConflict)
			}
			next = nil
		default:
			m.mu.Unlock()
			return CommitInfo{}, fmt.Errorf("docstore: unknown op kind %d", op.Kind)
		}

		if _, seen := staged[k]; !seen {
			order = append(order, k)
		}
		staged[k] = next
	}

	touched := make(map[string]struct{})
	for _, k := range order {
		doc := staged[k]
		if doc == nil {
			delete(m.table(k.collection), k.id)
		} else {
			m.table(k.collection)[k.id] = doc
		}
		touched[k.collection] = struct{}{}
	}

	var notify []*memorySubscription
	for c := range touched {
		for s := range m.subs[c] {
			notify = append(notify, s)
		}
	}
	m.mu.Unlock()

	for _, s := range notify {
		s.markDirty()
	}
	return CommitInfo{At: at}, nil
}

func (m *Memory) Query(ctx context.Context, collection string, q Query) ([]Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure(collection); err != nil {
		return nil, err
	}
	return m.query(collection, q), nil
}

// query must be called with m.mu held.
func (m *Memory) query(collection string, q Query) []Snapshot {
	docs := m.collections[collection]
	snaps := make([]Snapshot, 0, len(docs))
	for id, doc := range docs {
		snaps = append(snaps, Snapshot{ID: id, Data: doc.Clone()})
	}
	return Apply(q, snaps)
}

func (m *Memory) Subscribe(ctx context.Context, collection string, q Query, fn SnapshotFunc) (Subscription, error) {
	if fn == nil {
		return nil, fmt.Errorf("docstore: nil snapshot func")
	}
	m.mu.Lock()
	if err := m.failure(collection); err != nil {
		m.mu.Unlock()
		return nil, err
	}
	sub := &memorySubscription{
		store:      m,
		collection: collection,
		query:      q,
		fn:         fn,
		dirty:      make(chan struct{}, 1),
		halt:       make(chan struct{}),
		done:       make(chan struct{}),
	}
	if m.subs[collection] == nil {
		m.subs[collection] = make(map[*memorySubscription]struct{})
	}
	m.subs[collection][sub] = struct{}{}
	m.mu.Unlock()

	sub.markDirty()
	go sub.run(ctx)
	return sub, nil
}

func (m *Memory) unsubscribe(s *memorySubscription) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.subs[s.collection], s)
}

type memorySubscription struct {
	store      *Memory
	collection string
	query      Query
	fn         SnapshotFunc

	dirty chan struct{}
	halt  chan struct{}
	done  chan struct{}

	mu      sync.Mutex
	err     error
	stopped bool
}

func (s *memorySubscription) markDirty() {
	select {
	case s.dirty <- struct{}{}:
	default:
	}
}

func (s *memorySubscription) run(ctx context.Context) {
	defer close(s.done)
	for {
		select {
		case <-s.halt:
			return
		case <-ctx.Done():
			s.stop(ctx.Err())
			s.store.unsubscribe(s)
			return
		case <-s.dirty:
			s.store.mu.Lock()
			snaps := s.store.query(s.collection, s.query)
			s.store.mu.Unlock()

			select {
			case <-s.halt:
				return
			default:
			}
			s.fn(snaps)
		}
	}
}

func (s *memorySubscription) stop(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	s.stopped = true
	s.err = err
	close(s.halt)
}

func (s *memorySubscription) Done() <-chan struct{} {
	return s.done
}

func (s *memorySubscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *memorySubscription) Close() {
	s.stop(nil)
	s.store.unsubscribe(s)
}
