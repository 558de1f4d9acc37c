// Package store provides storage backends for PromptCoach.
//
// This file implements a DynamoDB-backed session store. Active sessions live in a table
// keyed by user_id; completed sessions live in a table keyed by user_id and session_id.
package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awscfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	dbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/BTreeMap/PromptCoach/internal/models"
)

// DefaultRegion is used when no AWS region is configured.
const DefaultRegion = "ap-northeast-2"

// DynamoDBClient defines the DynamoDB operations used by the session store.
type DynamoDBClient interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// DynamoStore implements Store on top of two DynamoDB tables.
type DynamoStore struct {
	client         DynamoDBClient
	sessionsTable  string
	completedTable string
}

// NewDynamoStore loads the default AWS configuration and builds a DynamoDB-backed store.
func NewDynamoStore(ctx context.Context, opts ...Option) (*DynamoStore, error) {
	cfg := applyOpts(opts)
	region := cfg.Region
	if region == "" {
		region = DefaultRegion
	}

	loadOpts := []func(*awscfg.LoadOptions) error{awscfg.WithRegion(region)}
	if cfg.Endpoint != "" {
		// DynamoDB Local accepts any credentials but the SDK still requires some.
		loadOpts = append(loadOpts, awscfg.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider("local", "local", ""),
		))
	}
	awsConfig, err := awscfg.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		slog.Error("DynamoStore.NewDynamoStore: failed to load AWS config", "error", err)
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	var dbOpts []func(*dynamodb.Options)
	if cfg.Endpoint != "" {
		ep := cfg.Endpoint
		dbOpts = append(dbOpts, func(o *dynamodb.Options) {
			o.BaseEndpoint = &ep
		})
	}
	slog.Debug("DynamoStore.NewDynamoStore: created", "region", region, "sessionsTable", cfg.SessionsTable,
		"completedTable", cfg.CompletedSessionsTable, "endpoint", cfg.Endpoint)
	return NewDynamoStoreWithClient(dynamodb.NewFromConfig(awsConfig, dbOpts...), opts...), nil
}

// NewDynamoStoreWithClient builds a store around an existing client.
func NewDynamoStoreWithClient(client DynamoDBClient, opts ...Option) *DynamoStore {
	cfg := applyOpts(opts)
	return &DynamoStore{
		client:         client,
		sessionsTable:  cfg.SessionsTable,
		completedTable: cfg.CompletedSessionsTable,
	}
}

func (s *DynamoStore) GetSession(ctx context.Context, userID string) (*models.Session, error) {
	if err := validateUserID(userID); err != nil {
		return nil, err
	}
	result, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.sessionsTable),
		Key: map[string]dbtypes.AttributeValue{
			"user_id": &dbtypes.AttributeValueMemberS{Value: userID},
		},
	})
	if err != nil {
		slog.Error("DynamoStore.GetSession: get item failed", "error", err, "userID", userID)
		return nil, fmt.Errorf("dynamodb: get session: %w", err)
	}
	if result.Item == nil {
		return nil, nil
	}
	var sess models.Session
	if err := unmarshalItem(result.Item, &sess); err != nil {
		return nil, fmt.Errorf("dynamodb: decode session for %s: %w", userID, err)
	}
	if sess.ConversationHistory == nil {
		sess.ConversationHistory = []models.Message{}
	}
	return &sess, nil
}

func (s *DynamoStore) SaveSession(ctx context.Context, session models.Session) error {
	if err := validateUserID(session.UserID); err != nil {
		return err
	}
	item, err := attributevalue.MarshalMap(session)
	if err != nil {
		return fmt.Errorf("dynamodb: marshal session: %w", err)
	}
	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.sessionsTable),
		Item:      item,
	})
	if err != nil {
		slog.Error("DynamoStore.SaveSession: put item failed", "error", err, "userID", session.UserID)
		return fmt.Errorf("dynamodb: put session: %w", err)
	}
	slog.Debug("DynamoStore.SaveSession: saved", "userID", session.UserID, "stage", session.CurrentStage)
	return nil
}

func (s *DynamoStore) SaveCompletedSession(ctx context.Context, completed models.CompletedSession) error {
	if err := validateUserID(completed.UserID); err != nil {
		return err
	}
	item, err := attributevalue.MarshalMap(completed)
	if err != nil {
		return fmt.Errorf("dynamodb: marshal completed session: %w", err)
	}
	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.completedTable),
		Item:      item,
	})
	if err != nil {
		slog.Error("DynamoStore.SaveCompletedSession: put item failed", "error", err, "userID", completed.UserID)
		return fmt.Errorf("dynamodb: put completed session: %w", err)
	}
	return nil
}

func (s *DynamoStore) ListCompletedSessions(ctx context.Context, userID string, limit int) ([]models.CompletedSession, error) {
	if err := validateUserID(userID); err != nil {
		return nil, err
	}
	input := &dynamodb.QueryInput{
		TableName:              aws.String(s.completedTable),
		KeyConditionExpression: aws.String("user_id = :uid"),
		ExpressionAttributeValues: map[string]dbtypes.AttributeValue{
			":uid": &dbtypes.AttributeValueMemberS{Value: userID},
		},
		ScanIndexForward: aws.Bool(false),
	}
	if limit > 0 {
		input.Limit = aws.Int32(int32(limit))
	}
	result, err := s.client.Query(ctx, input)
	if err != nil {
		slog.Error("DynamoStore.ListCompletedSessions: query failed", "error", err, "userID", userID)
		return nil, fmt.Errorf("dynamodb: query completed sessions: %w", err)
	}

	var out []models.CompletedSession
	for _, item := range result.Items {
		var c models.CompletedSession
		if err := unmarshalItem(item, &c); err != nil {
			slog.Warn("DynamoStore.ListCompletedSessions: skipping malformed item", "error", err, "userID", userID)
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

// unmarshalItem decodes a DynamoDB item, accepting timestamps with or without a zone
// offset. Items written by older deployments carry naive UTC ISO-8601 strings.
func unmarshalItem(item map[string]dbtypes.AttributeValue, out any) error {
	return attributevalue.UnmarshalMapWithOptions(item, out, func(o *attributevalue.DecoderOptions) {
		o.DecodeTime.S = parseTimestamp
	})
}

// naiveTimestampLayout matches ISO-8601 timestamps without a zone offset.
const naiveTimestampLayout = "2006-01-02T15:04:05.999999999"

func parseTimestamp(v string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
		return t, nil
	}
	return time.ParseInLocation(naiveTimestampLayout, v, time.UTC)
}

// Close is a no-op; the SDK client holds no closable resources.
func (s *DynamoStore) Close() error {
	return nil
}
