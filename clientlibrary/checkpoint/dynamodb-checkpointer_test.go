/*
 * Copyright (c) 2021 VMware, Inc.
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy of this software and
 * associated documentation files (the "Software"), to deal in the Software without restriction, including
 * without limitation the rights to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is furnished to do
 * so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in all copies or substantial
 * portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR IMPLIED, INCLUDING BUT
 * NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY, FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT.
 * IN NO EVENT SHALL THE AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER LIABILITY,
 * WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM, OUT OF OR IN CONNECTION WITH THE
 * SOFTWARE OR THE USE OR OTHER DEALINGS IN THE SOFTWARE.
 */
package checkpoint

import (
	"context"
	"sort"
	"testing"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/dynamodb"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbiface"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cfg "github.com/vmware/vmware-go-changefeed/clientlibrary/config"
	par "github.com/vmware/vmware-go-changefeed/clientlibrary/partition"
)

func newTestConfig() *cfg.ChangeFeedConfiguration {
	return cfg.NewChangeFeedConfig("appName", "db", "orders", "us-west-2", "reader").WithTableName("TableName")
}

func TestDoesTableExist(t *testing.T) {
	svc := &mockDynamoDB{tableExist: true}
	checkpoint := NewDynamoCheckpoint(newTestConfig()).WithDynamoDB(svc)
	assert.True(t, checkpoint.doesTableExist(context.Background()), "Table exists but returned false")

	checkpoint.WithDynamoDB(&mockDynamoDB{tableExist: false})
	assert.False(t, checkpoint.doesTableExist(context.Background()), "Table does not exist but returned true")
}

func TestInitCreatesTable(t *testing.T) {
	svc := &mockDynamoDB{}
	checkpoint := NewDynamoCheckpoint(newTestConfig()).WithDynamoDB(svc)
	require.NoError(t, checkpoint.Init(context.Background()))

	require.NotNil(t, svc.createTableInput)
	assert.Equal(t, "TableName", aws.StringValue(svc.createTableInput.TableName))
	assert.Equal(t, CollectionKey, aws.StringValue(svc.createTableInput.KeySchema[0].AttributeName))
	assert.Equal(t, PartitionIDKey, aws.StringValue(svc.createTableInput.KeySchema[1].AttributeName))
	assert.Equal(t, int64(cfg.DefaultInitialCheckpointTableReadCapacity), aws.Int64Value(svc.createTableInput.ProvisionedThroughput.ReadCapacityUnits))

	// an existing table is left alone
	svc.createTableInput = nil
	require.NoError(t, checkpoint.Init(context.Background()))
	assert.Nil(t, svc.createTableInput)
}

func TestSaveAndFetchCheckpoint(t *testing.T) {
	svc := &mockDynamoDB{tableExist: true, pageSize: 1}
	checkpointer := NewDynamoCheckpoint(newTestConfig()).WithDynamoDB(svc)
	ctx := context.Background()
	require.NoError(t, checkpointer.Init(ctx))

	empty, err := checkpointer.FetchCheckpoint(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, empty.Len())

	checkpoint := par.NewCheckpointFromMap(map[string]string{"shard-0": "100", "shard-1": "7", "shard-2": "3"})
	require.NoError(t, checkpointer.SaveCheckpoint(ctx, checkpoint))

	// another collection in the same table stays invisible
	other := NewDynamoCheckpoint(cfg.NewChangeFeedConfig("appName", "db", "users", "us-west-2", "reader").WithTableName("TableName")).WithDynamoDB(svc)
	require.NoError(t, other.SaveCheckpoint(ctx, par.NewCheckpointFromMap(map[string]string{"shard-0": "1"})))

	fetched, err := checkpointer.FetchCheckpoint(ctx)
	require.NoError(t, err)
	assert.Equal(t, checkpoint.Snapshot(), fetched.Snapshot())
	assert.Greater(t, svc.queryCalls, 1)

	require.NoError(t, checkpointer.RemoveCheckpoint(ctx, "shard-1"))
	fetched, err = checkpointer.FetchCheckpoint(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"shard-0": "100", "shard-2": "3"}, fetched.Snapshot())
}

type mockDynamoDB struct {
	dynamodbiface.DynamoDBAPI
	tableExist       bool
	createTableInput *dynamodb.CreateTableInput

	// items keyed by collection then partition id
	items      map[string]map[string]map[string]*dynamodb.AttributeValue
	pageSize   int
	queryCalls int
}

func (m *mockDynamoDB) DescribeTableWithContext(ctx aws.Context, input *dynamodb.DescribeTableInput, opts ...request.Option) (*dynamodb.DescribeTableOutput, error) {
	if !m.tableExist {
		return &dynamodb.DescribeTableOutput{}, awserr.New(dynamodb.ErrCodeResourceNotFoundException, "doesNotExist", nil)
	}
	return &dynamodb.DescribeTableOutput{}, nil
}

func (m *mockDynamoDB) CreateTableWithContext(ctx aws.Context, input *dynamodb.CreateTableInput, opts ...request.Option) (*dynamodb.CreateTableOutput, error) {
	m.createTableInput = input
	m.tableExist = true
	return &dynamodb.CreateTableOutput{}, nil
}

func (m *mockDynamoDB) WaitUntilTableExistsWithContext(ctx aws.Context, input *dynamodb.DescribeTableInput, opts ...request.WaiterOption) error {
	return nil
}

func (m *mockDynamoDB) PutItemWithContext(ctx aws.Context, input *dynamodb.PutItemInput, opts ...request.Option) (*dynamodb.PutItemOutput, error) {
	if m.items == nil {
		m.items = make(map[string]map[string]map[string]*dynamodb.AttributeValue)
	}
	collection := aws.StringValue(input.Item[CollectionKey].S)
	if m.items[collection] == nil {
		m.items[collection] = make(map[string]map[string]*dynamodb.AttributeValue)
	}
	m.items[collection][aws.StringValue(input.Item[PartitionIDKey].S)] = input.Item
	return &dynamodb.PutItemOutput{}, nil
}

func (m *mockDynamoDB) DeleteItemWithContext(ctx aws.Context, input *dynamodb.DeleteItemInput, opts ...request.Option) (*dynamodb.DeleteItemOutput, error) {
	collection := aws.StringValue(input.Key[CollectionKey].S)
	delete(m.items[collection], aws.StringValue(input.Key[PartitionIDKey].S))
	return &dynamodb.DeleteItemOutput{}, nil
}

func (m *mockDynamoDB) QueryWithContext(ctx aws.Context, input *dynamodb.QueryInput, opts ...request.Option) (*dynamodb.QueryOutput, error) {
	m.queryCalls++
	collection := aws.StringValue(input.ExpressionAttributeValues[":collection"].S)
	items := m.items[collection]

	ids := make([]string, 0, len(items))
	for id := range items {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	start := 0
	if input.ExclusiveStartKey != nil {
		last := aws.StringValue(input.ExclusiveStartKey[PartitionIDKey].S)
		start = sort.SearchStrings(ids, last) + 1
	}
	end := len(ids)
	if m.pageSize > 0 && start+m.pageSize < end {
		end = start + m.pageSize
	}

	out := &dynamodb.QueryOutput{}
	for _, id := range ids[start:end] {
		out.Items = append(out.Items, items[id])
	}
	if end < len(ids) {
		out.LastEvaluatedKey = map[string]*dynamodb.AttributeValue{
			CollectionKey:  {S: aws.String(collection)},
			PartitionIDKey: {S: aws.String(ids[end-1])},
		}
	}
	return out, nil
}
