// Package dynamo provides a store.Backend over DynamoDB. Each database
// named in store.Config is a table keyed by "id"; deletes leave a tombstone
// that DynamoDB expires through its TTL attribute.
package dynamo

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"

	"github.com/jacentio/sofa/internal/revision"
	"github.com/jacentio/sofa/store"
)

// Item attribute names.
const (
	AttrID        = "id"
	AttrRev       = "rev"
	AttrDoc       = "doc"
	AttrDeleted   = "deleted"
	AttrTTL       = "ttl"
	AttrCreatedAt = "created_at"
	AttrUpdatedAt = "updated_at"
)

// Condition expressions used for writes.
const (
	condCreate = "attribute_not_exists(#id)"
	condRevive = "#deleted = :true AND #rev = :prev"
	condDelete = "attribute_exists(#id) AND #deleted = :false AND #rev = :rev"
)

// API is the subset of *dynamodb.Client used by the Backend.
type API interface {
	DescribeTable(ctx context.Context, params *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
}

// Config holds configuration for the Backend.
type Config struct {
	// TombstoneRetention is how long a deleted document's tombstone is
	// kept before its TTL expires.
	// Default: 24h
	TombstoneRetention time.Duration
}

// DefaultConfig returns the default tombstone retention.
func DefaultConfig() Config {
	return Config{TombstoneRetention: 24 * time.Hour}
}

// validate ensures config values are within acceptable bounds.
func (c *Config) validate() {
	if c.TombstoneRetention <= 0 {
		c.TombstoneRetention = 24 * time.Hour
	}
}

// Backend stores documents in DynamoDB tables.
type Backend struct {
	client API
	config Config
}

// New creates a Backend over client.
func New(client API, config Config) *Backend {
	config.validate()
	return &Backend{client: client, config: config}
}

// Connect opens a session on the table named by cfg.Database.
func (b *Backend) Connect(_ context.Context, cfg store.Config) (store.Session, error) {
	return &session{backend: b, table: cfg.Database}, nil
}

type session struct {
	backend *Backend
	table   string
}

func (s *session) key(id string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		AttrID: &types.AttributeValueMemberS{Value: id},
	}
}

func (s *session) DatabaseExists(ctx context.Context) (bool, error) {
	_, err := s.backend.client.DescribeTable(ctx, &dynamodb.DescribeTableInput{
		TableName: aws.String(s.table),
	})
	var notFound *types.ResourceNotFoundException
	if errors.As(err, &notFound) {
		return false, nil
	}
	if err != nil {
		return false, wrap(err, "describe table %s", s.table)
	}
	return true, nil
}

// get reads an item consistently, returning nil for absent items and tombstones.
func (s *session) get(ctx context.Context, id string) (map[string]types.AttributeValue, error) {
	result, err := s.backend.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.table),
		Key:            s.key(id),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, wrap(err, "get %q", id)
	}
	if result.Item == nil || IsDeleted(result.Item) {
		return nil, nil
	}
	return result.Item, nil
}

func (s *session) Revision(ctx context.Context, id string) (string, bool, error) {
	item, err := s.get(ctx, id)
	if err != nil || item == nil {
		return "", false, err
	}
	return stringAttr(item, AttrRev), true, nil
}

func (s *session) Fetch(ctx context.Context, id string) (store.Record, bool, error) {
	item, err := s.get(ctx, id)
	if err != nil || item == nil {
		return store.Record{}, false, err
	}

	fields := map[string]any{}
	if doc, ok := item[AttrDoc].(*types.AttributeValueMemberM); ok {
		err := attributevalue.UnmarshalMapWithOptions(doc.Value, &fields, func(o *attributevalue.DecoderOptions) {
			o.UseNumber = true
		})
		if err != nil {
			return store.Record{}, false, fmt.Errorf("dynamo: decode %q: %w", id, err)
		}
		fromAttrNumbers(fields)
	}
	return store.Record{ID: id, Rev: stringAttr(item, AttrRev), Fields: fields}, true, nil
}

func (s *session) Create(ctx context.Context, id string, fields map[string]any) (store.Record, error) {
	if id == "" {
		id = revision.NewID()
	}
	if fields == nil {
		fields = map[string]any{}
	}
	doc, err := attributevalue.MarshalMap(toAttrNumbers(fields))
	if err != nil {
		return store.Record{}, fmt.Errorf("dynamo: marshal %q: %w", id, err)
	}

	// A tombstone continues the revision history of the id.
	result, err := s.backend.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.table),
		Key:            s.key(id),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return store.Record{}, wrap(err, "get %q", id)
	}
	var prev string
	if result.Item != nil {
		if !IsDeleted(result.Item) {
			return store.Record{}, store.Errorf(http.StatusConflict, "document %q already exists", id)
		}
		prev = stringAttr(result.Item, AttrRev)
	}

	rev := revision.Next(prev, fields)
	nowISO := time.Now().UTC().Format(time.RFC3339)
	item := map[string]types.AttributeValue{
		AttrID:        &types.AttributeValueMemberS{Value: id},
		AttrRev:       &types.AttributeValueMemberS{Value: rev},
		AttrDoc:       &types.AttributeValueMemberM{Value: doc},
		AttrDeleted:   &types.AttributeValueMemberBOOL{Value: false},
		AttrCreatedAt: &types.AttributeValueMemberS{Value: nowISO},
		AttrUpdatedAt: &types.AttributeValueMemberS{Value: nowISO},
	}

	input := &dynamodb.PutItemInput{
		TableName:                aws.String(s.table),
		Item:                     item,
		ConditionExpression:      aws.String(condCreate),
		ExpressionAttributeNames: map[string]string{"#id": AttrID},
	}
	if result.Item != nil {
		input.ConditionExpression = aws.String(condRevive)
		input.ExpressionAttributeNames = map[string]string{
			"#deleted": AttrDeleted,
			"#rev":     AttrRev,
		}
		input.ExpressionAttributeValues = map[string]types.AttributeValue{
			":true": &types.AttributeValueMemberBOOL{Value: true},
			":prev": &types.AttributeValueMemberS{Value: prev},
		}
	}

	if _, err := s.backend.client.PutItem(ctx, input); err != nil {
		var condErr *types.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			return store.Record{}, store.Errorf(http.StatusConflict, "document %q already exists", id)
		}
		return store.Record{}, wrap(err, "put %q", id)
	}
	return store.Record{ID: id, Rev: rev, Fields: fields}, nil
}

func (s *session) Delete(ctx context.Context, id, rev string) (string, error) {
	now := time.Now()
	tombstone := revision.Tombstone(rev)

	_, err := s.backend.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(s.table),
		Key:                 s.key(id),
		UpdateExpression:    aws.String("SET #rev = :tomb, #deleted = :true, #ttl = :ttl, #updated_at = :now REMOVE #doc"),
		ConditionExpression: aws.String(condDelete),
		ExpressionAttributeNames: map[string]string{
			"#id":         AttrID,
			"#rev":        AttrRev,
			"#deleted":    AttrDeleted,
			"#ttl":        AttrTTL,
			"#updated_at": AttrUpdatedAt,
			"#doc":        AttrDoc,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":rev":   &types.AttributeValueMemberS{Value: rev},
			":tomb":  &types.AttributeValueMemberS{Value: tombstone},
			":true":  &types.AttributeValueMemberBOOL{Value: true},
			":false": &types.AttributeValueMemberBOOL{Value: false},
			":ttl":   tombstoneExpiry(now, s.backend.config.TombstoneRetention),
			":now":   &types.AttributeValueMemberS{Value: now.UTC().Format(time.RFC3339)},
		},
		ReturnValuesOnConditionCheckFailure: types.ReturnValuesOnConditionCheckFailureAllOld,
	})
	if err == nil {
		return tombstone, nil
	}

	var condErr *types.ConditionalCheckFailedException
	if errors.As(err, &condErr) {
		if condErr.Item == nil || IsDeleted(condErr.Item) {
			return "", store.Errorf(http.StatusNotFound, "document %q not found", id)
		}
		return "", store.Errorf(http.StatusConflict, "document %q is at revision %s, not %s",
			id, stringAttr(condErr.Item, AttrRev), rev)
	}
	return "", wrap(err, "delete %q", id)
}

func (s *session) Close() error { return nil }

// wrap attaches an HTTP status to err from the API error code or the
// HTTP response. Errors without a response carry no status.
func wrap(err error, format string, args ...any) error {
	err = fmt.Errorf("dynamo: "+format+": %w", append(args, err)...)

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "UnrecognizedClientException", "InvalidSignatureException", "MissingAuthenticationTokenException":
			return store.NewStatusError(http.StatusUnauthorized, err)
		case "AccessDeniedException", "ExpiredTokenException":
			return store.NewStatusError(http.StatusForbidden, err)
		}
	}
	var respErr *awshttp.ResponseError
	if errors.As(err, &respErr) {
		return store.NewStatusError(respErr.HTTPStatusCode(), err)
	}
	return err
}

// stringAttr extracts a string attribute from an item.
func stringAttr(item map[string]types.AttributeValue, key string) string {
	if v, ok := item[key].(*types.AttributeValueMemberS); ok {
		return v.Value
	}
	return ""
}
