package database

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"therapy-chat-sync/internal/docstore"
	"therapy-chat-sync/internal/model"
)

type fakeTables struct {
	tables   map[string]*types.TableDescription
	created  []*dynamodb.CreateTableInput
	pages    [][]string
	describe error
}

func (f *fakeTables) ListTables(ctx context.Context, in *dynamodb.ListTablesInput, _ ...func(*dynamodb.Options)) (*dynamodb.ListTablesOutput, error) {
	page := 0
	if in.ExclusiveStartTableName != nil {
		page = 1
	}
	out := &dynamodb.ListTablesOutput{TableNames: f.pages[page]}
	if page+1 < len(f.pages) {
		out.LastEvaluatedTableName = aws.String(f.pages[page][len(f.pages[page])-1])
	}
	return out, nil
}

func (f *fakeTables) DescribeTable(ctx context.Context, in *dynamodb.DescribeTableInput, _ ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error) {
	if f.describe != nil {
		return nil, f.describe
	}
	desc, ok := f.tables[aws.ToString(in.TableName)]
	if !ok {
		return nil, &types.ResourceNotFoundException{Message: aws.String("no such table")}
	}
	return &dynamodb.DescribeTableOutput{Table: desc}, nil
}

func (f *fakeTables) CreateTable(ctx context.Context, in *dynamodb.CreateTableInput, _ ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error) {
	f.created = append(f.created, in)
	return &dynamodb.CreateTableOutput{}, nil
}

func newAdminStore(tables *fakeTables) *Store {
	return NewStore(&DynamoDBClient{svc: &fakeDynamo{}, admin: tables}, WithTablePrefix("dev-"))
}

func TestListTablesFollowsPages(t *testing.T) {
	tables := &fakeTables{pages: [][]string{{"a", "b"}, {"c"}}}
	client := &DynamoDBClient{admin: tables}

	names, err := client.ListTables(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, names)
}

func TestEnsureTablesCreatesOnlyMissingOnes(t *testing.T) {
	tables := &fakeTables{tables: map[string]*types.TableDescription{
		"dev-" + model.AppointmentsTable: {TableStatus: types.TableStatusActive, ItemCount: aws.Int64(3)},
		"dev-" + model.ChatPairsTable:    {TableStatus: types.TableStatusActive},
	}}
	store := newAdminStore(tables)

	created, err := store.EnsureTables(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"dev-" + model.ChatsTable, "dev-" + model.MessagesTable}, created)
	require.Len(t, tables.created, 2)

	chats := tables.created[0]
	assert.Equal(t, types.BillingModePayPerRequest, chats.BillingMode)
	assert.Equal(t, KeyAttribute, aws.ToString(chats.KeySchema[0].AttributeName))
	var indexes []string
	for _, gsi := range chats.GlobalSecondaryIndexes {
		indexes = append(indexes, aws.ToString(gsi.IndexName))
	}
	assert.Equal(t, []string{"pairKey-index", "patientId-index", "therapistId-index"}, indexes)
	assert.Len(t, chats.AttributeDefinitions, 4)

	messages := tables.created[1]
	require.Len(t, messages.GlobalSecondaryIndexes, 1)
	assert.Equal(t, "chatId-index", aws.ToString(messages.GlobalSecondaryIndexes[0].IndexName))
}

func TestTablesReportsStatus(t *testing.T) {
	tables := &fakeTables{tables: map[string]*types.TableDescription{
		"dev-" + model.ChatsTable: {
			TableStatus: types.TableStatusActive,
			ItemCount:   aws.Int64(7),
			GlobalSecondaryIndexes: []types.GlobalSecondaryIndexDescription{
				{IndexName: aws.String("therapistId-index")},
				{IndexName: aws.String("pairKey-index")},
			},
		},
	}}

	statuses, err := newAdminStore(tables).Tables(context.Background())
	require.NoError(t, err)
	require.Len(t, statuses, len(Collections()))

	byCollection := make(map[string]TableStatus)
	for _, s := range statuses {
		byCollection[s.Collection] = s
	}
	assert.Equal(t, TableStatusMissing, byCollection[model.MessagesTable].Status)
	chats := byCollection[model.ChatsTable]
	assert.Equal(t, "ACTIVE", chats.Status)
	assert.Equal(t, int64(7), chats.ItemCount)
	assert.Equal(t, []string{"pairKey-index", "therapistId-index"}, chats.Indexes)
}

func TestTablesSurfacesOutage(t *testing.T) {
	tables := &fakeTables{describe: errors.New("connection refused")}

	_, err := newAdminStore(tables).Tables(context.Background())
	assert.ErrorIs(t, err, docstore.ErrUnavailable)
}
