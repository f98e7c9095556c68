// Package dynamo provides a Backend storing each table in its own DynamoDB table.
//
// Documents are flattened into top-level item attributes so records stay
// readable in the console and in stream images. The partition key is the
// string attribute "id"; the numeric attribute "version" starts at 1 and is
// bumped by every Replace, which is conditioned on it.
package dynamo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/jacentio/roster/store"
)

const (
	// KeyAttr is the partition key attribute of every table.
	KeyAttr = "id"
	// VersionAttr holds the item's optimistic-locking version.
	VersionAttr = "version"
)

// API is the subset of the DynamoDB client used by Backend.
type API interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	dynamodb.ScanAPIClient
}

// Backend stores documents in DynamoDB.
type Backend struct {
	client API
	prefix string
}

var _ store.Backend = (*Backend)(nil)

// New creates a Backend. Table names are prefixed with prefix (e.g., "prod-").
func New(client API, prefix string) *Backend {
	return &Backend{client: client, prefix: prefix}
}

// TableName returns the physical DynamoDB table for a store table.
func (b *Backend) TableName(table string) string {
	return b.prefix + table
}

// Get reads a document and its version with a strongly consistent read. Items
// written without a version report version 0.
func (b *Backend) Get(ctx context.Context, table, id string) ([]byte, int64, error) {
	result, err := b.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(b.TableName(table)),
		Key:            key(id),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, 0, err
	}
	if result.Item == nil {
		return nil, 0, store.ErrNotFound
	}

	version, err := versionOf(result.Item)
	if err != nil {
		return nil, 0, err
	}
	fields := make(map[string]types.AttributeValue, len(result.Item))
	for k, v := range result.Item {
		if k != VersionAttr {
			fields[k] = v
		}
	}
	doc, err := ItemToDocument(fields)
	if err != nil {
		return nil, 0, err
	}
	return doc, version, nil
}

// Insert puts a new item at version 1, conditioned on the id being unused.
func (b *Backend) Insert(ctx context.Context, table, id string, doc []byte) error {
	item, err := DocumentToItem(id, doc)
	if err != nil {
		return err
	}
	item[VersionAttr] = &types.AttributeValueMemberN{Value: "1"}

	_, err = b.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:                aws.String(b.TableName(table)),
		Item:                     item,
		ConditionExpression:      aws.String("attribute_not_exists(#id)"),
		ExpressionAttributeNames: map[string]string{"#id": KeyAttr},
	})

	var ccf *types.ConditionalCheckFailedException
	if errors.As(err, &ccf) {
		return store.ErrAlreadyExists
	}
	return err
}

// Replace puts an item at expected+1, conditioned on the stored version still
// being expected.
func (b *Backend) Replace(ctx context.Context, table, id string, doc []byte, expected int64) error {
	item, err := DocumentToItem(id, doc)
	if err != nil {
		return err
	}
	item[VersionAttr] = &types.AttributeValueMemberN{Value: strconv.FormatInt(expected+1, 10)}

	input := &dynamodb.PutItemInput{
		TableName: aws.String(b.TableName(table)),
		Item:      item,
		ExpressionAttributeNames: map[string]string{
			"#id":      KeyAttr,
			"#version": VersionAttr,
		},
		ReturnValuesOnConditionCheckFailure: types.ReturnValuesOnConditionCheckFailureAllOld,
	}
	if expected == 0 {
		input.ConditionExpression = aws.String("attribute_exists(#id) AND attribute_not_exists(#version)")
	} else {
		input.ConditionExpression = aws.String("attribute_exists(#id) AND #version = :expected_version")
		input.ExpressionAttributeValues = map[string]types.AttributeValue{
			":expected_version": &types.AttributeValueMemberN{Value: strconv.FormatInt(expected, 10)},
		}
	}

	_, err = b.client.PutItem(ctx, input)

	var ccf *types.ConditionalCheckFailedException
	if errors.As(err, &ccf) {
		if len(ccf.Item) == 0 {
			return store.ErrNotFound
		}
		return store.ErrConcurrentModification
	}
	return err
}

// Delete removes an item. DynamoDB deletes of missing keys already succeed.
func (b *Backend) Delete(ctx context.Context, table, id string) error {
	_, err := b.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(b.TableName(table)),
		Key:       key(id),
	})
	return err
}

// Keys scans the table for every id.
func (b *Backend) Keys(ctx context.Context, table string) ([]string, error) {
	var keys []string
	paginator := dynamodb.NewScanPaginator(b.client, &dynamodb.ScanInput{
		TableName:                aws.String(b.TableName(table)),
		ProjectionExpression:     aws.String("#id"),
		ExpressionAttributeNames: map[string]string{"#id": KeyAttr},
		ConsistentRead:           aws.Bool(true),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, item := range page.Items {
			if v, ok := item[KeyAttr].(*types.AttributeValueMemberS); ok {
				keys = append(keys, v.Value)
			}
		}
	}
	if keys == nil {
		keys = []string{}
	}
	return keys, nil
}

// DocumentToItem converts a JSON document into a DynamoDB item keyed by id.
func DocumentToItem(id string, doc []byte) (map[string]types.AttributeValue, error) {
	var fields map[string]any
	if err := json.Unmarshal(doc, &fields); err != nil {
		return nil, fmt.Errorf("document to item: %w", err)
	}
	item, err := attributevalue.MarshalMap(fields)
	if err != nil {
		return nil, fmt.Errorf("marshal item: %w", err)
	}
	item[KeyAttr] = &types.AttributeValueMemberS{Value: id}
	return item, nil
}

// ItemToDocument converts a DynamoDB item back into a JSON document.
// Items that cannot be converted are reported as corrupt.
func ItemToDocument(item map[string]types.AttributeValue) ([]byte, error) {
	var fields map[string]any
	if err := attributevalue.UnmarshalMap(item, &fields); err != nil {
		return nil, fmt.Errorf("%w: unmarshal item: %v", store.ErrCorruptRecord, err)
	}
	doc, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("%w: item to document: %v", store.ErrCorruptRecord, err)
	}
	return doc, nil
}

// EnsureTables creates any missing tables (pay-per-request, key "id") and waits
// until they are active.
func EnsureTables(ctx context.Context, client *dynamodb.Client, prefix string, tables ...string) error {
	for _, table := range tables {
		name := prefix + table
		_, err := client.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(name)})
		if err == nil {
			continue
		}
		var notFound *types.ResourceNotFoundException
		if !errors.As(err, &notFound) {
			return fmt.Errorf("describe table %s: %w", name, err)
		}

		_, err = client.CreateTable(ctx, &dynamodb.CreateTableInput{
			TableName: aws.String(name),
			KeySchema: []types.KeySchemaElement{
				{AttributeName: aws.String(KeyAttr), KeyType: types.KeyTypeHash},
			},
			AttributeDefinitions: []types.AttributeDefinition{
				{AttributeName: aws.String(KeyAttr), AttributeType: types.ScalarAttributeTypeS},
			},
			BillingMode: types.BillingModePayPerRequest,
			StreamSpecification: &types.StreamSpecification{
				StreamEnabled:  aws.Bool(true),
				StreamViewType: types.StreamViewTypeOldImage,
			},
		})
		if err != nil {
			return fmt.Errorf("create table %s: %w", name, err)
		}

		waiter := dynamodb.NewTableExistsWaiter(client)
		if err := waiter.Wait(ctx, &dynamodb.DescribeTableInput{
			TableName: aws.String(name),
		}, 2*time.Minute); err != nil {
			return fmt.Errorf("wait for table %s: %w", name, err)
		}
	}
	return nil
}

func versionOf(item map[string]types.AttributeValue) (int64, error) {
	av, ok := item[VersionAttr]
	if !ok {
		return 0, nil
	}
	n, ok := av.(*types.AttributeValueMemberN)
	if !ok {
		return 0, fmt.Errorf("%w: %s is not a number", store.ErrCorruptRecord, VersionAttr)
	}
	version, err := strconv.ParseInt(n.Value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v", store.ErrCorruptRecord, VersionAttr, err)
	}
	return version, nil
}

func key(id string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		KeyAttr: &types.AttributeValueMemberS{Value: id},
	}
}
