package database

import (
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"therapy-chat-sync/internal/docstore"
)

// KeyAttribute is the partition key of every table.
const KeyAttribute = "id"

func attrString(value string) types.AttributeValue {
	return &types.AttributeValueMemberS{Value: value}
}

func itemKey(id string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{KeyAttribute: attrString(id)}
}

// encodeValue stores times as N unix nanoseconds so they compare and sort
// numerically. Instants must be resolved first.
func encodeValue(v any) (types.AttributeValue, error) {
	switch x := v.(type) {
	case nil:
		return &types.AttributeValueMemberNULL{Value: true}, nil
	case time.Time:
		return attributevalue.Marshal(x.UnixNano())
	case docstore.Instant:
		if x.IsServerTimestamp() {
			return nil, fmt.Errorf("encode: unresolved server timestamp")
		}
		return attributevalue.Marshal(x.Time().UnixNano())
	case string, bool, int64, int, int32:
		return attributevalue.Marshal(x)
	default:
		return nil, fmt.Errorf("encode: unsupported value type %T", v)
	}
}

func encodeItem(id string, doc docstore.Document) (map[string]types.AttributeValue, error) {
	item := make(map[string]types.AttributeValue, len(doc)+1)
	for field, v := range doc {
		if field == KeyAttribute {
			return nil, fmt.Errorf("encode: field %q is reserved", KeyAttribute)
		}
		av, err := encodeValue(v)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", field, err)
		}
		item[field] = av
	}
	item[KeyAttribute] = attrString(id)
	return item, nil
}

func decodeValue(av types.AttributeValue) (any, error) {
	switch x := av.(type) {
	case *types.AttributeValueMemberS:
		return x.Value, nil
	case *types.AttributeValueMemberBOOL:
		return x.Value, nil
	case *types.AttributeValueMemberNULL:
		return nil, nil
	case *types.AttributeValueMemberN:
		n, err := strconv.ParseInt(x.Value, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("decode number %q: %w", x.Value, err)
		}
		return n, nil
	default:
		return nil, fmt.Errorf("decode: unsupported attribute type %T", av)
	}
}

func decodeItem(item map[string]types.AttributeValue) (docstore.Snapshot, error) {
	key, ok := item[KeyAttribute].(*types.AttributeValueMemberS)
	if !ok {
		return docstore.Snapshot{}, fmt.Errorf("decode: item has no %s", KeyAttribute)
	}
	doc := make(docstore.Document, len(item)-1)
	for field, av := range item {
		if field == KeyAttribute {
			continue
		}
		v, err := decodeValue(av)
		if err != nil {
			return docstore.Snapshot{}, fmt.Errorf("field %s: %w", field, err)
		}
		doc[field] = v
	}
	return docstore.Snapshot{ID: key.Value, Data: doc}, nil
}

func decodeItems(items []map[string]types.AttributeValue) ([]docstore.Snapshot, error) {
	out := make([]docstore.Snapshot, 0, len(items))
	for _, item := range items {
		snap, err := decodeItem(item)
		if err != nil {
			return nil, err
		}
		out = append(out, snap)
	}
	return out, nil
}
