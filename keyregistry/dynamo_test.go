package keyregistry

import (
	"context"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/dynamodb"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbiface"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeDynamo is an in memory table supporting the calls DynamoRegistry
// makes.
type fakeDynamo struct {
	dynamodbiface.DynamoDBAPI

	mu      sync.Mutex
	items   map[string]map[string]*dynamodb.AttributeValue
	created []string
}

func newFakeDynamo() *fakeDynamo {
	return &fakeDynamo{items: make(map[string]map[string]*dynamodb.AttributeValue)}
}

func (f *fakeDynamo) CreateTableWithContext(ctx aws.Context, in *dynamodb.CreateTableInput, _ ...request.Option) (*dynamodb.CreateTableOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	name := aws.StringValue(in.TableName)
	for _, c := range f.created {
		if c == name {
			return nil, awserr.New(dynamodb.ErrCodeResourceInUseException, "table exists", nil)
		}
	}
	f.created = append(f.created, name)
	return &dynamodb.CreateTableOutput{}, nil
}

func (f *fakeDynamo) GetItemWithContext(ctx aws.Context, in *dynamodb.GetItemInput, _ ...request.Option) (*dynamodb.GetItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := aws.StringValue(in.Key[dynamoHashKey].S)
	return &dynamodb.GetItemOutput{Item: f.items[id]}, nil
}

func (f *fakeDynamo) PutItemWithContext(ctx aws.Context, in *dynamodb.PutItemInput, _ ...request.Option) (*dynamodb.PutItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := aws.StringValue(in.Item[dynamoHashKey].S)
	if in.ConditionExpression != nil {
		if _, ok := f.items[id]; ok {
			return nil, awserr.New(dynamodb.ErrCodeConditionalCheckFailedException, "The conditional request failed", nil)
		}
	}
	f.items[id] = in.Item
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeDynamo) ScanPagesWithContext(ctx aws.Context, in *dynamodb.ScanInput, fn func(*dynamodb.ScanOutput, bool) bool, _ ...request.Option) error {
	f.mu.Lock()
	want := aws.StringValue(in.ExpressionAttributeValues[":kind"].S)
	var items []map[string]*dynamodb.AttributeValue
	for _, item := range f.items {
		if aws.StringValue(item["kind"].S) == want {
			items = append(items, item)
		}
	}
	f.mu.Unlock()

	// Deliver one item per page to exercise pagination.
	for i, item := range items {
		if !fn(&dynamodb.ScanOutput{Items: []map[string]*dynamodb.AttributeValue{item}}, i == len(items)-1) {
			break
		}
	}
	return nil
}

func TestDynamoRegistry_CreateTable(t *testing.T) {
	ctx := context.Background()
	r := NewDynamoRegistryWithClient(newFakeDynamo(), "fieldcrypt-keys")
	require.NoError(t, r.CreateTable(ctx))
	// Existing tables are fine.
	assert.NoError(t, r.CreateTable(ctx))
}

type failingDynamo struct {
	dynamodbiface.DynamoDBAPI
}

func (f *failingDynamo) GetItemWithContext(ctx aws.Context, in *dynamodb.GetItemInput, _ ...request.Option) (*dynamodb.GetItemOutput, error) {
	return nil, awserr.New(dynamodb.ErrCodeProvisionedThroughputExceededException, "slow down", nil)
}

func TestDynamoRegistry_GetError(t *testing.T) {
	r := NewDynamoRegistryWithClient(&failingDynamo{}, "fieldcrypt-keys")
	_, err := r.Get(context.Background(), "active")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reading key record")
	assert.NotContains(t, err.Error(), "key not found")
}
