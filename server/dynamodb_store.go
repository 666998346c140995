package server

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/dynamodb"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbattribute"
	"github.com/aws/aws-sdk-go/service/dynamodb/expression"
)

// DynamoDBStore implements the RecordStore interface using AWS DynamoDB.
// The table uses partition_key as the hash key and row_key as the range key.
type DynamoDBStore struct {
	client *dynamodb.DynamoDB
	table  string
}

// NewDynamoDBStore creates a new DynamoDB record store.
func NewDynamoDBStore(region, table string) (*DynamoDBStore, error) {
	if table == "" {
		return nil, fmt.Errorf("DynamoDB table name is required")
	}

	sess, err := session.NewSession(&aws.Config{
		Region: aws.String(region),
	})
	if err != nil {
		return nil, err
	}

	return &DynamoDBStore{
		client: dynamodb.New(sess),
		table:  table,
	}, nil
}

// Create inserts a new row, rejecting an existing (partition_key, row_key).
func (s *DynamoDBStore) Create(ctx context.Context, entity *TodoEntity) error {
	entity.Version = newVersion()

	av, err := dynamodbattribute.MarshalMap(entity)
	if err != nil {
		return fmt.Errorf("failed to marshal record item: %v", err)
	}

	_, err = s.client.PutItemWithContext(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.table),
		Item:                av,
		ConditionExpression: aws.String("attribute_not_exists(partition_key) AND attribute_not_exists(row_key)"),
	})

	if err != nil {
		if isConditionalCheckFailed(err) {
			return ErrConflict
		}
		return fmt.Errorf("failed to put record item: %v", err)
	}

	return nil
}

// Get retrieves a row by key.
func (s *DynamoDBStore) Get(ctx context.Context, partitionKey, rowKey string) (*TodoEntity, error) {
	result, err := s.client.GetItemWithContext(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.table),
		Key:       s.key(partitionKey, rowKey),
	})

	if err != nil {
		return nil, fmt.Errorf("failed to get record: %v", err)
	}

	if result.Item == nil {
		return nil, ErrNotFound
	}

	var entity TodoEntity
	if err := dynamodbattribute.UnmarshalMap(result.Item, &entity); err != nil {
		return nil, fmt.Errorf("failed to unmarshal record item: %v", err)
	}

	return &entity, nil
}

// List returns rows matching the query. A partition filter runs as a key
// condition query; listing across partitions falls back to a table scan.
func (s *DynamoDBStore) List(ctx context.Context, query *Query) ([]*TodoEntity, error) {
	if query == nil {
		query = &Query{}
	}

	var items []map[string]*dynamodb.AttributeValue
	var err error
	if query.Partition != "" {
		items, err = s.queryPartition(ctx, query)
	} else {
		items, err = s.scanAll(ctx, query)
	}
	if err != nil {
		return nil, err
	}

	entities := make([]*TodoEntity, 0, len(items))
	for _, item := range items {
		var entity TodoEntity
		if err := dynamodbattribute.UnmarshalMap(item, &entity); err != nil {
			log.Printf("Failed to unmarshal record item: %v", err)
			continue
		}
		entities = append(entities, &entity)
	}

	return entities, nil
}

// queryPartition builds a key condition for one partition, optionally with a
// row key lower bound (logical AND of equality and ordering comparison).
func (s *DynamoDBStore) queryPartition(ctx context.Context, query *Query) ([]map[string]*dynamodb.AttributeValue, error) {
	keyCondition := expression.Key("partition_key").Equal(expression.Value(query.Partition))
	if query.RowKeyAfter != "" {
		keyCondition = keyCondition.And(expression.Key("row_key").GreaterThan(expression.Value(query.RowKeyAfter)))
	}

	expr, err := expression.NewBuilder().WithKeyCondition(keyCondition).Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build expression: %v", err)
	}

	result, err := s.client.QueryWithContext(ctx, &dynamodb.QueryInput{
		TableName:                 aws.String(s.table),
		KeyConditionExpression:    expr.KeyCondition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query records: %v", err)
	}

	return result.Items, nil
}

func (s *DynamoDBStore) scanAll(ctx context.Context, query *Query) ([]map[string]*dynamodb.AttributeValue, error) {
	input := &dynamodb.ScanInput{
		TableName: aws.String(s.table),
	}

	if query.RowKeyAfter != "" {
		expr, err := expression.NewBuilder().
			WithFilter(expression.Name("row_key").GreaterThan(expression.Value(query.RowKeyAfter))).
			Build()
		if err != nil {
			return nil, fmt.Errorf("failed to build expression: %v", err)
		}
		input.FilterExpression = expr.Filter()
		input.ExpressionAttributeNames = expr.Names()
		input.ExpressionAttributeValues = expr.Values()
	}

	result, err := s.client.ScanWithContext(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("failed to scan records: %v", err)
	}

	return result.Items, nil
}

// Update reads the current row, merges the patch, and writes back conditioned
// on the version token read. A concurrent writer that changed the row in
// between causes ErrConflict; the caller decides whether to retry.
func (s *DynamoDBStore) Update(ctx context.Context, partitionKey, rowKey string, patch *TodoPatch) (*TodoEntity, error) {
	entity, err := s.Get(ctx, partitionKey, rowKey)
	if err != nil {
		return nil, err
	}

	readVersion := entity.Version
	patch.Apply(entity)
	entity.Version = newVersion()

	av, err := dynamodbattribute.MarshalMap(entity)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal record item: %v", err)
	}

	expr, err := expression.NewBuilder().
		WithCondition(expression.Name("version").Equal(expression.Value(readVersion))).
		Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build expression: %v", err)
	}

	_, err = s.client.PutItemWithContext(ctx, &dynamodb.PutItemInput{
		TableName:                 aws.String(s.table),
		Item:                      av,
		ConditionExpression:       expr.Condition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	})

	if err != nil {
		if isConditionalCheckFailed(err) {
			return nil, ErrConflict
		}
		return nil, fmt.Errorf("failed to update record: %v", err)
	}

	return entity, nil
}

// Delete removes a row by key without checking its version. The existence
// condition turns a delete of an absent row into ErrNotFound instead of a
// silent success.
func (s *DynamoDBStore) Delete(ctx context.Context, partitionKey, rowKey string) error {
	_, err := s.client.DeleteItemWithContext(ctx, &dynamodb.DeleteItemInput{
		TableName:           aws.String(s.table),
		Key:                 s.key(partitionKey, rowKey),
		ConditionExpression: aws.String("attribute_exists(partition_key)"),
	})

	if err != nil {
		if isConditionalCheckFailed(err) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to delete record: %v", err)
	}

	return nil
}

func (s *DynamoDBStore) key(partitionKey, rowKey string) map[string]*dynamodb.AttributeValue {
	return map[string]*dynamodb.AttributeValue{
		"partition_key": {
			S: aws.String(partitionKey),
		},
		"row_key": {
			S: aws.String(rowKey),
		},
	}
}

func isConditionalCheckFailed(err error) bool {
	var aerr awserr.Error
	if errors.As(err, &aerr) {
		return aerr.Code() == dynamodb.ErrCodeConditionalCheckFailedException
	}
	return false
}
