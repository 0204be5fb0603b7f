package dynamo

import (
	"context"
	"fmt"
	"maps"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// fakeDynamo is an in-memory API that evaluates the condition expressions
// this package issues.
type fakeDynamo struct {
	mu     sync.Mutex
	tables map[string]map[string]map[string]types.AttributeValue
	calls  map[string]int
	failOn map[string]error
}

func newFakeDynamo(tables ...string) *fakeDynamo {
	f := &fakeDynamo{
		tables: make(map[string]map[string]map[string]types.AttributeValue),
		calls:  make(map[string]int),
		failOn: make(map[string]error),
	}
	for _, name := range tables {
		f.tables[name] = make(map[string]map[string]types.AttributeValue)
	}
	return f
}

func (f *fakeDynamo) table(name *string) (map[string]map[string]types.AttributeValue, error) {
	t, ok := f.tables[aws.ToString(name)]
	if !ok {
		return nil, &types.ResourceNotFoundException{Message: aws.String("table not found")}
	}
	return t, nil
}

func (f *fakeDynamo) record(op string) error {
	f.calls[op]++
	return f.failOn[op]
}

func keyOf(key map[string]types.AttributeValue) string {
	return stringAttr(key, AttrID)
}

func (f *fakeDynamo) DescribeTable(_ context.Context, in *dynamodb.DescribeTableInput, _ ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("DescribeTable"); err != nil {
		return nil, err
	}
	if _, err := f.table(in.TableName); err != nil {
		return nil, err
	}
	return &dynamodb.DescribeTableOutput{
		Table: &types.TableDescription{TableName: in.TableName},
	}, nil
}

func (f *fakeDynamo) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("GetItem"); err != nil {
		return nil, err
	}
	t, err := f.table(in.TableName)
	if err != nil {
		return nil, err
	}
	item, ok := t[keyOf(in.Key)]
	if !ok {
		return &dynamodb.GetItemOutput{}, nil
	}
	return &dynamodb.GetItemOutput{Item: maps.Clone(item)}, nil
}

func (f *fakeDynamo) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("PutItem"); err != nil {
		return nil, err
	}
	t, err := f.table(in.TableName)
	if err != nil {
		return nil, err
	}
	id := keyOf(in.Item)
	existing, exists := t[id]

	switch aws.ToString(in.ConditionExpression) {
	case condCreate:
		if exists {
			return nil, &types.ConditionalCheckFailedException{Message: aws.String("exists")}
		}
	case condRevive:
		prev := stringAttr(in.ExpressionAttributeValues, ":prev")
		if !exists || !IsDeleted(existing) || stringAttr(existing, AttrRev) != prev {
			return nil, &types.ConditionalCheckFailedException{Message: aws.String("not a tombstone")}
		}
	default:
		return nil, fmt.Errorf("unexpected condition %q", aws.ToString(in.ConditionExpression))
	}
	t[id] = maps.Clone(in.Item)
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeDynamo) UpdateItem(_ context.Context, in *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("UpdateItem"); err != nil {
		return nil, err
	}
	t, err := f.table(in.TableName)
	if err != nil {
		return nil, err
	}
	if aws.ToString(in.ConditionExpression) != condDelete {
		return nil, fmt.Errorf("unexpected condition %q", aws.ToString(in.ConditionExpression))
	}

	id := keyOf(in.Key)
	values := in.ExpressionAttributeValues
	existing, exists := t[id]
	if !exists {
		return nil, &types.ConditionalCheckFailedException{Message: aws.String("missing")}
	}
	if IsDeleted(existing) || stringAttr(existing, AttrRev) != stringAttr(values, ":rev") {
		failed := &types.ConditionalCheckFailedException{Message: aws.String("condition failed")}
		if in.ReturnValuesOnConditionCheckFailure == types.ReturnValuesOnConditionCheckFailureAllOld {
			failed.Item = maps.Clone(existing)
		}
		return nil, failed
	}

	updated := maps.Clone(existing)
	updated[AttrRev] = values[":tomb"]
	updated[AttrDeleted] = values[":true"]
	updated[AttrTTL] = values[":ttl"]
	updated[AttrUpdatedAt] = values[":now"]
	delete(updated, AttrDoc)
	t[id] = updated
	return &dynamodb.UpdateItemOutput{}, nil
}
