package docstore

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// Instant is either a concrete time or a placeholder the store replaces with
// its commit time.
type Instant struct {
	t      time.Time
	server bool
}

func At(t time.Time) Instant {
	return Instant{t: t.UTC()}
}

func ServerTimestamp() Instant {
	return Instant{server: true}
}

func (i Instant) IsServerTimestamp() bool {
	return i.server
}

// Time returns the concrete time, zero for a server timestamp.
func (i Instant) Time() time.Time {
	return i.t
}

func (i Instant) resolve(commit time.Time) time.Time {
	if i.server {
		return commit
	}
	return i.t
}

// Clock hands out strictly increasing commit times.
type Clock struct {
	mu   sync.Mutex
	now  func() time.Time
	last time.Time
}

func NewClock(now func() time.Time) *Clock {
	if now == nil {
		now = time.Now
	}
	return &Clock{now: now}
}

func (c *Clock) Next() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.now().UTC()
	if !t.After(c.last) {
		t = c.last.Add(time.Nanosecond)
	}
	c.last = t
	return t
}

// ResolveDocument returns a copy of doc with every Instant replaced by a
// time.Time, server timestamps taking commit.
func ResolveDocument(doc Document, commit time.Time) (Document, error) {
	out := make(Document, len(doc))
	for k, v := range doc {
		rv, err := resolveValue(v, commit)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", k, err)
		}
		out[k] = rv
	}
	return out, nil
}

func resolveValue(v any, commit time.Time) (any, error) {
	switch x := v.(type) {
	case nil:
		return nil, nil
	case string, bool, int64:
		return x, nil
	case int:
		return int64(x), nil
	case int32:
		return int64(x), nil
	case time.Time:
		return x.UTC(), nil
	case Instant:
		return x.resolve(commit), nil
	default:
		return nil, fmt.Errorf("docstore: unsupported value type %T", v)
	}
}

// Time reads a time field regardless of how the adapter encoded it.
func (d Document) Time(key string) time.Time {
	switch x := d[key].(type) {
	case time.Time:
		return x.UTC()
	case Instant:
		return x.t
	case int64:
		return time.Unix(0, x).UTC()
	case int:
		return time.Unix(0, int64(x)).UTC()
	case float64:
		return time.Unix(0, int64(x)).UTC()
	case json.Number:
		n, err := x.Int64()
		if err != nil {
			return time.Time{}
		}
		return time.Unix(0, n).UTC()
	case string:
		t, err := time.Parse(time.RFC3339Nano, x)
		if err != nil {
			return time.Time{}
		}
		return t.UTC()
	default:
		return time.Time{}
	}
}

func (d Document) String(key string) string {
	s, _ := d[key].(string)
	return s
}

func (d Document) Bool(key string) bool {
	b, _ := d[key].(bool)
	return b
}

func (d Document) Int(key string) int64 {
	switch x := d[key].(type) {
	case int64:
		return x
	case int:
		return int64(x)
	case float64:
		return int64(x)
	default:
		return 0
	}
}

// Clone returns a shallow copy; values are immutable scalars.
func (d Document) Clone() Document {
	if d == nil {
		return nil
	}
	out := make(Document, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}
