package database

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"therapy-chat-sync/internal/docstore"
	"therapy-chat-sync/internal/model"
)

// TableStatusMissing is reported for a collection whose table does not exist.
const TableStatusMissing = "MISSING"

var ErrTableNotFound = errors.New("table not found")

// Collections lists every collection the services write to.
func Collections() []string {
	return []string{model.AppointmentsTable, model.ChatsTable, model.ChatPairsTable, model.MessagesTable}
}

type TableStatus struct {
	Collection string   `json:"collection"`
	Table      string   `json:"table"`
	Status     string   `json:"status"`
	ItemCount  int64    `json:"itemCount"`
	Indexes    []string `json:"indexes,omitempty"`
}

// ListTables returns all table names in the account/endpoint.
func (c *DynamoDBClient) ListTables(ctx context.Context) ([]string, error) {
	var last *string
	var names []string

	for {
		out, err := c.admin.ListTables(ctx, &dynamodb.ListTablesInput{
			ExclusiveStartTableName: last,
			Limit:                   aws.Int32(100),
		})
		if err != nil {
			return nil, fmt.Errorf("list tables: %w", err)
		}

		names = append(names, out.TableNames...)
		if out.LastEvaluatedTableName == nil {
			break
		}
		last = out.LastEvaluatedTableName
	}

	return names, nil
}

// DescribeTable returns metadata for a single table, or ErrTableNotFound when
// the table does not exist.
func (c *DynamoDBClient) DescribeTable(ctx context.Context, table string) (*types.TableDescription, error) {
	out, err := c.admin.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(table)})
	if err != nil {
		var rnf *types.ResourceNotFoundException
		if errors.As(err, &rnf) {
			return nil, fmt.Errorf("describe table %s: %w", table, ErrTableNotFound)
		}
		return nil, fmt.Errorf("describe table %s: %w", table, err)
	}
	return out.Table, nil
}

func (c *DynamoDBClient) CreateTable(ctx context.Context, input *dynamodb.CreateTableInput) error {
	if _, err := c.admin.CreateTable(ctx, input); err != nil {
		return fmt.Errorf("create table %s: %w", aws.ToString(input.TableName), err)
	}
	return nil
}

// Tables reports the table behind every collection.
func (s *Store) Tables(ctx context.Context) ([]TableStatus, error) {
	out := make([]TableStatus, 0, len(Collections()))
	for _, collection := range Collections() {
		status := TableStatus{Collection: collection, Table: s.table(collection)}
		desc, err := s.client.DescribeTable(ctx, status.Table)
		switch {
		case errors.Is(err, ErrTableNotFound):
			status.Status = TableStatusMissing
		case err != nil:
			return nil, classify(err)
		default:
			status.Status = string(desc.TableStatus)
			status.ItemCount = aws.ToInt64(desc.ItemCount)
			for _, gsi := range desc.GlobalSecondaryIndexes {
				status.Indexes = append(status.Indexes, aws.ToString(gsi.IndexName))
			}
			sort.Strings(status.Indexes)
		}
		out = append(out, status)
	}
	return out, nil
}

// EnsureTables creates the missing tables with the secondary indexes the
// store queries through. It returns the names of the tables it created.
func (s *Store) EnsureTables(ctx context.Context) ([]string, error) {
	statuses, err := s.Tables(ctx)
	if err != nil {
		return nil, err
	}

	var created []string
	for _, status := range statuses {
		if status.Status != TableStatusMissing {
			continue
		}
		if err := s.client.CreateTable(ctx, s.tableDefinition(status.Collection)); err != nil {
			return created, classify(err)
		}
		created = append(created, status.Table)
	}
	return created, nil
}

func (s *Store) tableDefinition(collection string) *dynamodb.CreateTableInput {
	input := &dynamodb.CreateTableInput{
		TableName:   aws.String(s.table(collection)),
		BillingMode: types.BillingModePayPerRequest,
		KeySchema: []types.KeySchemaElement{
			{AttributeName: aws.String(KeyAttribute), KeyType: types.KeyTypeHash},
		},
		AttributeDefinitions: []types.AttributeDefinition{
			{AttributeName: aws.String(KeyAttribute), AttributeType: types.ScalarAttributeTypeS},
		},
	}

	fields := make([]string, 0, len(s.indexes[collection]))
	for field := range s.indexes[collection] {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	for _, field := range fields {
		input.AttributeDefinitions = append(input.AttributeDefinitions, types.AttributeDefinition{
			AttributeName: aws.String(field),
			AttributeType: types.ScalarAttributeTypeS,
		})
		input.GlobalSecondaryIndexes = append(input.GlobalSecondaryIndexes, types.GlobalSecondaryIndex{
			IndexName: aws.String(s.indexes[collection][field]),
			KeySchema: []types.KeySchemaElement{
				{AttributeName: aws.String(field), KeyType: types.KeyTypeHash},
			},
			Projection: &types.Projection{ProjectionType: types.ProjectionTypeAll},
		})
	}
	return input
}

// Dump reads up to limit documents of a collection; limit <= 0 reads all.
func (s *Store) Dump(ctx context.Context, collection string, limit int) ([]docstore.Snapshot, error) {
	return s.Query(ctx, collection, docstore.Query{Limit: limit})
}
