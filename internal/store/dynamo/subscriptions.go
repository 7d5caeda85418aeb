// Package dynamo stores push subscriptions in a single DynamoDB table.
//
// Item layout:
//
//	PK=USER#<userId>       SK=SUB#<endpoint>  endpoint, p256dh, auth, createdAt
//	PK=ENDPOINT#<endpoint> SK=OWNER           userId
//
// The owner item keeps endpoints unique across users.
package dynamo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/Tyrowin/duochat/internal/domain"
	"github.com/Tyrowin/duochat/internal/store"
)

const (
	skPrefixSub = "SUB#"
	skOwner     = "OWNER"
)

// dynamodbAPI is the subset of *dynamodb.Client the store uses.
type dynamodbAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	TransactWriteItems(ctx context.Context, in *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
}

// Subscriptions implements store.Subscriptions.
type Subscriptions struct {
	api       dynamodbAPI
	tableName string
}

var _ store.Subscriptions = (*Subscriptions)(nil)

// New creates a subscription store on tableName.
func New(api dynamodbAPI, tableName string) (*Subscriptions, error) {
	if api == nil {
		return nil, errors.New("dynamo: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("dynamo: table name must not be empty")
	}
	return &Subscriptions{api: api, tableName: tableName}, nil
}

func userPK(userID string) string       { return "USER#" + userID }
func subSK(endpoint string) string      { return skPrefixSub + endpoint }
func endpointPK(endpoint string) string { return "ENDPOINT#" + endpoint }

// ListSubscriptions queries every SUB# item of the user.
func (s *Subscriptions) ListSubscriptions(ctx context.Context, userID string) ([]domain.PushSubscription, error) {
	var (
		subs  []domain.PushSubscription
		start map[string]types.AttributeValue
	)
	for {
		out, err := s.api.Query(ctx, &dynamodb.QueryInput{
			TableName:              aws.String(s.tableName),
			KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":pk":     &types.AttributeValueMemberS{Value: userPK(userID)},
				":prefix": &types.AttributeValueMemberS{Value: skPrefixSub},
			},
			ConsistentRead:    aws.Bool(true),
			ExclusiveStartKey: start,
		})
		if err != nil {
			return nil, fmt.Errorf("dynamo: ListSubscriptions query: %w", err)
		}
		for _, item := range out.Items {
			sub, err := itemToSubscription(item)
			if err != nil {
				return nil, fmt.Errorf("dynamo: ListSubscriptions unmarshal: %w", err)
			}
			subs = append(subs, sub)
		}
		if len(out.LastEvaluatedKey) == 0 {
			return subs, nil
		}
		start = out.LastEvaluatedKey
	}
}

// UpsertSubscription writes the subscription and its owner record in one
// transaction, deleting the previous owner's copy when the endpoint moves.
func (s *Subscriptions) UpsertSubscription(ctx context.Context, userID string, sub domain.PushSubscription) error {
	if sub.Endpoint == "" {
		return errors.New("dynamo: UpsertSubscription: endpoint is required")
	}
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = time.Now().UTC()
	}

	previous, err := s.owner(ctx, sub.Endpoint)
	if err != nil {
		return fmt.Errorf("dynamo: UpsertSubscription: %w", err)
	}

	items := []types.TransactWriteItem{
		{Put: &types.Put{TableName: aws.String(s.tableName), Item: subscriptionItem(userID, sub)}},
		{Put: &types.Put{TableName: aws.String(s.tableName), Item: ownerItem(userID, sub.Endpoint)}},
	}
	if previous != "" && previous != userID {
		items = append(items, s.deleteSub(previous, sub.Endpoint))
	}

	if _, err := s.api.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{TransactItems: items}); err != nil {
		return fmt.Errorf("dynamo: UpsertSubscription: %w", err)
	}
	return nil
}

// RemoveSubscription deletes one endpoint, or all of the user's when endpoint is empty.
func (s *Subscriptions) RemoveSubscription(ctx context.Context, userID, endpoint string) error {
	if endpoint != "" {
		return s.removeOne(ctx, userID, endpoint)
	}
	subs, err := s.ListSubscriptions(ctx, userID)
	if err != nil {
		return err
	}
	for _, sub := range subs {
		if err := s.removeOne(ctx, userID, sub.Endpoint); err != nil {
			return err
		}
	}
	return nil
}

// PruneSubscriptions deletes the listed endpoints from the user's set.
func (s *Subscriptions) PruneSubscriptions(ctx context.Context, userID string, endpoints []string) error {
	var errs []error
	for _, endpoint := range endpoints {
		if err := s.removeOne(ctx, userID, endpoint); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *Subscriptions) removeOne(ctx context.Context, userID, endpoint string) error {
	owner, err := s.owner(ctx, endpoint)
	if err != nil {
		return fmt.Errorf("dynamo: remove subscription: %w", err)
	}

	items := []types.TransactWriteItem{s.deleteSub(userID, endpoint)}
	if owner == userID {
		items = append(items, types.TransactWriteItem{Delete: &types.Delete{
			TableName: aws.String(s.tableName),
			Key: map[string]types.AttributeValue{
				"PK": &types.AttributeValueMemberS{Value: endpointPK(endpoint)},
				"SK": &types.AttributeValueMemberS{Value: skOwner},
			},
		}})
	}

	if _, err := s.api.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{TransactItems: items}); err != nil {
		return fmt.Errorf("dynamo: remove subscription: %w", err)
	}
	return nil
}

func (s *Subscriptions) owner(ctx context.Context, endpoint string) (string, error) {
	out, err := s.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: endpointPK(endpoint)},
			"SK": &types.AttributeValueMemberS{Value: skOwner},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return "", fmt.Errorf("get owner: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return "", nil
	}
	return strAttr(out.Item, "userId")
}

func (s *Subscriptions) deleteSub(userID, endpoint string) types.TransactWriteItem {
	return types.TransactWriteItem{Delete: &types.Delete{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: userPK(userID)},
			"SK": &types.AttributeValueMemberS{Value: subSK(endpoint)},
		},
	}}
}

func subscriptionItem(userID string, sub domain.PushSubscription) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK":        &types.AttributeValueMemberS{Value: userPK(userID)},
		"SK":        &types.AttributeValueMemberS{Value: subSK(sub.Endpoint)},
		"endpoint":  &types.AttributeValueMemberS{Value: sub.Endpoint},
		"p256dh":    &types.AttributeValueMemberS{Value: sub.Keys.P256dh},
		"auth":      &types.AttributeValueMemberS{Value: sub.Keys.Auth},
		"createdAt": &types.AttributeValueMemberS{Value: sub.CreatedAt.UTC().Format(time.RFC3339Nano)},
	}
}

func ownerItem(userID, endpoint string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK":     &types.AttributeValueMemberS{Value: endpointPK(endpoint)},
		"SK":     &types.AttributeValueMemberS{Value: skOwner},
		"userId": &types.AttributeValueMemberS{Value: userID},
	}
}

func itemToSubscription(item map[string]types.AttributeValue) (domain.PushSubscription, error) {
	endpoint, err := strAttr(item, "endpoint")
	if err != nil {
		return domain.PushSubscription{}, err
	}
	p256dh, err := strAttr(item, "p256dh")
	if err != nil {
		return domain.PushSubscription{}, err
	}
	auth, err := strAttr(item, "auth")
	if err != nil {
		return domain.PushSubscription{}, err
	}
	sub := domain.PushSubscription{
		Endpoint: endpoint,
		Keys:     domain.SubscriptionKeys{P256dh: p256dh, Auth: auth},
	}
	if created, err := strAttr(item, "createdAt"); err == nil {
		sub.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
	}
	return sub, nil
}

func strAttr(item map[string]types.AttributeValue, key string) (string, error) {
	v, ok := item[key]
	if !ok {
		return "", fmt.Errorf("dynamo: missing attribute %q", key)
	}
	s, ok := v.(*types.AttributeValueMemberS)
	if !ok {
		return "", fmt.Errorf("dynamo: attribute %q is not a string", key)
	}
	return s.Value, nil
}
