package docstore

import (
	"sort"
	"strings"
	"time"
)

// normalize maps a value onto the representation used for comparisons.
// Times compare as unix nanoseconds so adapters that store them as numbers
// behave like those that keep time.Time.
func normalize(v any) any {
	switch x := v.(type) {
	case time.Time:
		return x.UnixNano()
	case Instant:
		if x.server {
			return nil
		}
		return x.t.UnixNano()
	case int:
		return int64(x)
	case int32:
		return int64(x)
	case float64:
		return int64(x)
	default:
		return v
	}
}

// ValuesEqual reports whether two field values are equal after normalization.
func ValuesEqual(a, b any) bool {
	return normalize(a) == normalize(b)
}

func rank(v any) int {
	switch v.(type) {
	case nil:
		return 0
	case bool:
		return 1
	case int64:
		return 2
	case string:
		return 3
	default:
		return 4
	}
}

// CompareValues orders two field values. Missing values sort first.
func CompareValues(a, b any) int {
	na, nb := normalize(a), normalize(b)
	ra, rb := rank(na), rank(nb)
	if ra != rb {
		if ra < rb {
			return -1
		}
		return 1
	}
	switch x := na.(type) {
	case bool:
		y := nb.(bool)
		switch {
		case x == y:
			return 0
		case !x:
			return -1
		default:
			return 1
		}
	case int64:
		y := nb.(int64)
		switch {
		case x < y:
			return -1
		case x > y:
			return 1
		default:
			return 0
		}
	case string:
		return strings.Compare(x, nb.(string))
	default:
		return 0
	}
}

// ConditionsHold checks equality preconditions against doc.
func ConditionsHold(doc Document, conds []Condition) bool {
	for _, c := range conds {
		if !ValuesEqual(doc[c.Field], c.Value) {
			return false
		}
	}
	return true
}

func Matches(doc Document, filters []Filter) bool {
	for _, f := range filters {
		if !ValuesEqual(doc[f.Field], f.Value) {
			return false
		}
	}
	return true
}

// Apply filters, orders and limits snaps in place. Ties fall back to id so
// results are deterministic.
func Apply(q Query, snaps []Snapshot) []Snapshot {
	out := snaps[:0]
	for _, s := range snaps {
		if Matches(s.Data, q.Filters) {
			out = append(out, s)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		for _, o := range q.OrderBy {
			c := CompareValues(out[i].Data[o.Field], out[j].Data[o.Field])
			if c == 0 {
				continue
			}
			if o.Desc {
				return c > 0
			}
			return c < 0
		}
		return out[i].ID < out[j].ID
	})
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out
}
