// Package ledger is a thin key-value store for transactions and activity
// records, with provider-side expiry of old items.
package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/sirupsen/logrus"
)

// DynamoAPI is the subset of the table service used by the store.
type DynamoAPI interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// item is the persisted shape. Identifier is the partition key, Order the
// sort key; single-valued entries use a fixed Order. Value carries the
// payload as one JSON document, so a write either lands whole or not at
// all. Expiration is the absolute epoch second past which the provider
// reaps the item.
type item struct {
	Identifier string `dynamodbav:"Identifier"`
	Order      string `dynamodbav:"Order"`
	Value      string `dynamodbav:"Value"`
	Expiration int64  `dynamodbav:"Expiration,omitempty"`
}

const singleOrder = "-"

// Record is one enumerated entry of a date bucket.
type Record struct {
	Order string
	Value map[string]any
}

// Store reads and writes one table. It performs no retries of its own;
// transient provider failures surface to the caller.
type Store struct {
	client DynamoAPI
	table  string
	ttl    time.Duration
	logger *logrus.Logger
	now    func() time.Time
}

func New(client DynamoAPI, table string, ttlSeconds int64, logger *logrus.Logger) *Store {
	return &Store{
		client: client,
		table:  table,
		ttl:    time.Duration(ttlSeconds) * time.Second,
		logger: logger,
		now:    time.Now,
	}
}

// Assign upserts the value under key. A nil value deletes the key.
func (s *Store) Assign(ctx context.Context, key string, value map[string]any) error {
	if value == nil {
		s.logger.Debugf("Forgetting key '%s'", key)
		_, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
			TableName: aws.String(s.table),
			Key:       keyOf(key, singleOrder),
		})
		if err != nil {
			return fmt.Errorf("failed to delete key '%s': %w", key, err)
		}
		return nil
	}
	return s.put(ctx, key, singleOrder, value)
}

// Retrieve returns the value stored under key, or nil when the key was
// never written or has expired. Expiry is also enforced here because the
// provider reaps lazily.
func (s *Store) Retrieve(ctx context.Context, key string) (map[string]any, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.table),
		Key:       keyOf(key, singleOrder),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get key '%s': %w", key, err)
	}
	if out.Item == nil {
		return nil, nil
	}

	var stored item
	if err := attributevalue.UnmarshalMap(out.Item, &stored); err != nil {
		return nil, fmt.Errorf("failed to decode item for key '%s': %w", key, err)
	}
	if stored.Expiration > 0 && stored.Expiration <= s.now().Unix() {
		return nil, nil
	}

	value := map[string]any{}
	if err := json.Unmarshal([]byte(stored.Value), &value); err != nil {
		return nil, fmt.Errorf("failed to decode value for key '%s': %w", key, err)
	}
	return value, nil
}

// Remember appends one record to a date bucket, ordered by rng within the
// bucket.
func (s *Store) Remember(ctx context.Context, hash, rng string, value map[string]any) error {
	return s.put(ctx, hash, rng, value)
}

// Enumerate yields the records of one date bucket in ascending order-key
// order. The sequence is lazy and not restartable mid-iteration. Records
// past their expiration are skipped, same as in Retrieve.
func (s *Store) Enumerate(ctx context.Context, hash string) iter.Seq2[Record, error] {
	return func(yield func(Record, error) bool) {
		paginator := dynamodb.NewQueryPaginator(s.client, &dynamodb.QueryInput{
			TableName:              aws.String(s.table),
			KeyConditionExpression: aws.String("Identifier = :identifier"),
			ExpressionAttributeValues: map[string]ddbtypes.AttributeValue{
				":identifier": &ddbtypes.AttributeValueMemberS{Value: hash},
			},
		})
		for paginator.HasMorePages() {
			s.logger.Debugf("Enumerating bucket '%s'", hash)
			page, err := paginator.NextPage(ctx)
			if err != nil {
				yield(Record{}, fmt.Errorf("failed to enumerate bucket '%s': %w", hash, err))
				return
			}
			for _, raw := range page.Items {
				var stored item
				if err := attributevalue.UnmarshalMap(raw, &stored); err != nil {
					yield(Record{}, fmt.Errorf("failed to decode item in bucket '%s': %w", hash, err))
					return
				}
				if stored.Expiration > 0 && stored.Expiration <= s.now().Unix() {
					continue
				}
				value := map[string]any{}
				if err := json.Unmarshal([]byte(stored.Value), &value); err != nil {
					yield(Record{}, fmt.Errorf("failed to decode value in bucket '%s': %w", hash, err))
					return
				}
				if !yield(Record{Order: stored.Order, Value: value}, nil) {
					return
				}
			}
		}
	}
}

func (s *Store) put(ctx context.Context, identifier, order string, value map[string]any) error {
	text, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode value for key '%s': %w", identifier, err)
	}
	stored := item{
		Identifier: identifier,
		Order:      order,
		Value:      string(text),
	}
	if s.ttl > 0 {
		stored.Expiration = s.now().Add(s.ttl).Unix()
	}
	attributes, err := attributevalue.MarshalMap(stored)
	if err != nil {
		return fmt.Errorf("failed to encode item for key '%s': %w", identifier, err)
	}
	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.table),
		Item:      attributes,
	})
	if err != nil {
		return fmt.Errorf("failed to put key '%s': %w", identifier, err)
	}
	return nil
}

func keyOf(identifier, order string) map[string]ddbtypes.AttributeValue {
	return map[string]ddbtypes.AttributeValue{
		"Identifier": &ddbtypes.AttributeValueMemberS{Value: identifier},
		"Order":      &ddbtypes.AttributeValueMemberS{Value: order},
	}
}
