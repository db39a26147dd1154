// Package docstore defines the document store contract consumed by the
// conversation, appointment and message services, plus an in-memory
// implementation with live query subscriptions.
package docstore

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound          = errors.New("docstore: document not found")
	ErrConflict          = errors.New("docstore: write condition failed")
	ErrAtomicUnavailable = errors.New("docstore: atomic writes unavailable")
	ErrUnavailable       = errors.New("docstore: store unavailable")
)

// Document is a flat set of fields. Values are string, bool, int64,
// time.Time or Instant. Adapters may return times as int64 unix nanoseconds,
// so readers go through Document.Time.
type Document map[string]any

type Snapshot struct {
	ID   string
	Data Document
}

// Condition is an equality precondition on an existing document. A nil Value
// matches a missing field.
type Condition struct {
	Field string
	Value any
}

func Expect(field string, value any) Condition {
	return Condition{Field: field, Value: value}
}

type Filter struct {
	Field string
	Value any
}

func Where(field string, value any) Filter {
	return Filter{Field: field, Value: value}
}

type Order struct {
	Field string
	Desc  bool
}

type Query struct {
	Filters []Filter
	OrderBy []Order
	Limit   int
}

type OpKind int

const (
	OpCreate OpKind = iota + 1
	OpPut
	OpUpdate
	OpDelete
)

func (k OpKind) String() string {
	switch k {
	case OpCreate:
		return "create"
	case OpPut:
		return "put"
	case OpUpdate:
		return "update"
	case OpDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// Op is one write inside RunAtomic.
type Op struct {
	Kind       OpKind
	Collection string
	ID         string
	Data       Document
	Conditions []Condition
}

func CreateOp(collection, id string, data Document) Op {
	return Op{Kind: OpCreate, Collection: collection, ID: id, Data: data}
}

func PutOp(collection, id string, data Document) Op {
	return Op{Kind: OpPut, Collection: collection, ID: id, Data: data}
}

func UpdateOp(collection, id string, data Document, conds ...Condition) Op {
	return Op{Kind: OpUpdate, Collection: collection, ID: id, Data: data, Conditions: conds}
}

func DeleteOp(collection, id string, conds ...Condition) Op {
	return Op{Kind: OpDelete, Collection: collection, ID: id, Conditions: conds}
}

// CommitInfo reports the commit time every ServerTimestamp in a RunAtomic
// call resolved to.
type CommitInfo struct {
	At time.Time
}

type SnapshotFunc func([]Snapshot)

// Subscription is a live query. Done is closed once no further snapshots
// will be delivered; Err then reports why (nil after Close).
type Subscription interface {
	Done() <-chan struct{}
	Err() error
	Close()
}

type Store interface {
	Get(ctx context.Context, collection, id string) (Snapshot, error)
	// Put replaces the document, creating it when absent.
	Put(ctx context.Context, collection, id string, doc Document) error
	// Create fails with ErrConflict when the id is already taken.
	Create(ctx context.Context, collection, id string, doc Document) error
	// Update merges fields into an existing document. ErrNotFound when
	// absent, ErrConflict when a condition does not hold.
	Update(ctx context.Context, collection, id string, fields Document, conds ...Condition) error
	Delete(ctx context.Context, collection, id string, conds ...Condition) error
	Query(ctx context.Context, collection string, q Query) ([]Snapshot, error)
	Subscribe(ctx context.Context, collection string, q Query, fn SnapshotFunc) (Subscription, error)
	// RunAtomic applies all ops or none. Stores without multi-document
	// transactions return ErrAtomicUnavailable.
	RunAtomic(ctx context.Context, ops []Op) (CommitInfo, error)
}
