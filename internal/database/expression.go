package database

import (
	"fmt"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"therapy-chat-sync/internal/docstore"
)

// expression collects placeholder names and values for one request.
type expression struct {
	names  map[string]string
	values map[string]types.AttributeValue
}

func newExpression() *expression {
	return &expression{
		names:  make(map[string]string),
		values: make(map[string]types.AttributeValue),
	}
}

func (e *expression) name(field string) string {
	for k, v := range e.names {
		if v == field {
			return k
		}
	}
	k := fmt.Sprintf("#n%d", len(e.names))
	e.names[k] = field
	return k
}

func (e *expression) value(v any) (string, error) {
	av, err := encodeValue(v)
	if err != nil {
		return "", err
	}
	k := fmt.Sprintf(":v%d", len(e.values))
	e.values[k] = av
	return k, nil
}

// equalities renders field = value terms joined by AND. A nil value means
// the attribute must be absent.
func (e *expression) equalities(terms []docstore.Condition) ([]string, error) {
	out := make([]string, 0, len(terms))
	for _, t := range terms {
		if t.Value == nil {
			out = append(out, fmt.Sprintf("attribute_not_exists(%s)", e.name(t.Field)))
			continue
		}
		v, err := e.value(t.Value)
		if err != nil {
			return nil, fmt.Errorf("condition %s: %w", t.Field, err)
		}
		out = append(out, fmt.Sprintf("%s = %s", e.name(t.Field), v))
	}
	return out, nil
}

func (e *expression) mustExist() string {
	return fmt.Sprintf("attribute_exists(%s)", e.name(KeyAttribute))
}

func (e *expression) mustNotExist() string {
	return fmt.Sprintf("attribute_not_exists(%s)", e.name(KeyAttribute))
}

// condition renders "attribute_exists(id) AND ..." for updates and deletes.
func (e *expression) condition(conds []docstore.Condition) (string, error) {
	terms, err := e.equalities(conds)
	if err != nil {
		return "", err
	}
	return strings.Join(append([]string{e.mustExist()}, terms...), " AND "), nil
}

func (e *expression) set(fields docstore.Document) (string, error) {
	if len(fields) == 0 {
		return "", fmt.Errorf("update: no fields")
	}
	parts := make([]string, 0, len(fields))
	for _, field := range sortedFields(fields) {
		if field == KeyAttribute {
			return "", fmt.Errorf("update: field %q is reserved", KeyAttribute)
		}
		v, err := e.value(fields[field])
		if err != nil {
			return "", fmt.Errorf("field %s: %w", field, err)
		}
		parts = append(parts, fmt.Sprintf("%s = %s", e.name(field), v))
	}
	return "SET " + strings.Join(parts, ", "), nil
}

func (e *expression) filter(filters []docstore.Filter) (string, error) {
	conds := make([]docstore.Condition, len(filters))
	for i, f := range filters {
		conds[i] = docstore.Condition{Field: f.Field, Value: f.Value}
	}
	terms, err := e.equalities(conds)
	if err != nil {
		return "", err
	}
	return strings.Join(terms, " AND "), nil
}

func (e *expression) attrNames() map[string]string {
	if len(e.names) == 0 {
		return nil
	}
	return e.names
}

func (e *expression) attrValues() map[string]types.AttributeValue {
	if len(e.values) == 0 {
		return nil
	}
	return e.values
}

func sortedFields(doc docstore.Document) []string {
	fields := make([]string, 0, len(doc))
	for f := range doc {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	return fields
}
