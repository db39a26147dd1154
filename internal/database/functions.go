package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// MaxTransactItems is the DynamoDB limit on one TransactWriteItems call.
const MaxTransactItems = 100

var ErrItemNotFound = errors.New("item not found")

// conditional is an optional condition expression with its placeholders.
type conditional struct {
	expr   string
	names  map[string]string
	values map[string]types.AttributeValue
}

func (c *conditional) expression() *string {
	if c == nil || c.expr == "" {
		return nil
	}
	return aws.String(c.expr)
}

func (c *DynamoDBClient) GetItem(
	ctx context.Context,
	tableName string,
	key map[string]types.AttributeValue,
) (map[string]types.AttributeValue, error) {
	input := &dynamodb.GetItemInput{
		TableName:      aws.String(tableName),
		Key:            key,
		ConsistentRead: aws.Bool(true),
	}

	res, err := c.svc.GetItem(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("get item %s: %w", tableName, err)
	}
	if res.Item == nil {
		return nil, fmt.Errorf("get item %s: %w", tableName, ErrItemNotFound)
	}
	return res.Item, nil
}

func (c *DynamoDBClient) PutItem(
	ctx context.Context,
	tableName string,
	item map[string]types.AttributeValue,
	cond *conditional,
) error {
	input := &dynamodb.PutItemInput{
		TableName:           aws.String(tableName),
		Item:                item,
		ConditionExpression: cond.expression(),
	}
	if cond != nil {
		input.ExpressionAttributeNames = cond.names
		input.ExpressionAttributeValues = cond.values
		input.ReturnValuesOnConditionCheckFailure = types.ReturnValuesOnConditionCheckFailureAllOld
	}

	if _, err := c.svc.PutItem(ctx, input); err != nil {
		return fmt.Errorf("put item %s: %w", tableName, err)
	}
	return nil
}

func (c *DynamoDBClient) UpdateItem(
	ctx context.Context,
	tableName string,
	key map[string]types.AttributeValue,
	updateExpr string,
	cond *conditional,
) error {
	input := &dynamodb.UpdateItemInput{
		TableName:                           aws.String(tableName),
		Key:                                 key,
		UpdateExpression:                    aws.String(updateExpr),
		ConditionExpression:                 cond.expression(),
		ReturnValuesOnConditionCheckFailure: types.ReturnValuesOnConditionCheckFailureAllOld,
	}
	if cond != nil {
		input.ExpressionAttributeNames = cond.names
		input.ExpressionAttributeValues = cond.values
	}

	if _, err := c.svc.UpdateItem(ctx, input); err != nil {
		return fmt.Errorf("update item %s: %w", tableName, err)
	}
	return nil
}

func (c *DynamoDBClient) DeleteItem(
	ctx context.Context,
	tableName string,
	key map[string]types.AttributeValue,
	cond *conditional,
) error {
	input := &dynamodb.DeleteItemInput{
		TableName:                           aws.String(tableName),
		Key:                                 key,
		ConditionExpression:                 cond.expression(),
		ReturnValuesOnConditionCheckFailure: types.ReturnValuesOnConditionCheckFailureAllOld,
	}
	if cond != nil {
		input.ExpressionAttributeNames = cond.names
		input.ExpressionAttributeValues = cond.values
	}

	if _, err := c.svc.DeleteItem(ctx, input); err != nil {
		return fmt.Errorf("delete item %s: %w", tableName, err)
	}
	return nil
}

// QueryAll performs a complete query, handling pagination internally.
func (c *DynamoDBClient) QueryAll(
	ctx context.Context,
	tableName string,
	indexName *string,
	keyCondExpr string,
	filterExpr *string,
	exprAttrValues map[string]types.AttributeValue,
	exprAttrNames map[string]string,
) ([]map[string]types.AttributeValue, error) {
	var allItems []map[string]types.AttributeValue
	var lastEvaluatedKey map[string]types.AttributeValue

	for {
		input := &dynamodb.QueryInput{
			TableName:                 aws.String(tableName),
			IndexName:                 indexName,
			KeyConditionExpression:    aws.String(keyCondExpr),
			FilterExpression:          filterExpr,
			ExpressionAttributeValues: exprAttrValues,
			ExpressionAttributeNames:  exprAttrNames,
		}
		if lastEvaluatedKey != nil {
			input.ExclusiveStartKey = lastEvaluatedKey
		}

		result, err := c.svc.Query(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("query all %s[%s]: %w", tableName, aws.ToString(indexName), err)
		}

		allItems = append(allItems, result.Items...)

		if len(result.LastEvaluatedKey) == 0 {
			break
		}
		lastEvaluatedKey = result.LastEvaluatedKey
	}

	return allItems, nil
}

// ScanAllWithFilter scans the whole table. An empty filterExpr returns
// every item.
func (c *DynamoDBClient) ScanAllWithFilter(
	ctx context.Context,
	tableName string,
	filterExpr string,
	exprAttrValues map[string]types.AttributeValue,
	exprAttrNames map[string]string,
) ([]map[string]types.AttributeValue, error) {
	var allItems []map[string]types.AttributeValue
	var lastEvaluatedKey map[string]types.AttributeValue

	for {
		input := &dynamodb.ScanInput{
			TableName:                 aws.String(tableName),
			ExpressionAttributeValues: exprAttrValues,
			ExpressionAttributeNames:  exprAttrNames,
		}
		if filterExpr != "" {
			input.FilterExpression = aws.String(filterExpr)
		}
		if lastEvaluatedKey != nil {
			input.ExclusiveStartKey = lastEvaluatedKey
		}

		result, err := c.svc.Scan(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("scan all with filter %s: %w", tableName, err)
		}

		allItems = append(allItems, result.Items...)

		if len(result.LastEvaluatedKey) == 0 {
			break
		}
		lastEvaluatedKey = result.LastEvaluatedKey
	}
	return allItems, nil
}

func (c *DynamoDBClient) TransactWriteItems(
	ctx context.Context,
	items []types.TransactWriteItem,
) error {
	if len(items) == 0 {
		return nil
	}
	if len(items) > MaxTransactItems {
		return fmt.Errorf("transact write: %d items exceeds limit %d", len(items), MaxTransactItems)
	}

	input := &dynamodb.TransactWriteItemsInput{
		TransactItems: items,
	}
	if _, err := c.svc.TransactWriteItems(ctx, input); err != nil {
		return fmt.Errorf("transact write (%d items): %w", len(items), err)
	}
	return nil
}
