package dynamo

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/duochat/internal/domain"
)

type fakeDynamo struct {
	mu          sync.Mutex
	items       map[string]map[string]types.AttributeValue
	transactErr error
	transacts   int
}

func newFakeDynamo() *fakeDynamo {
	return &fakeDynamo{items: map[string]map[string]types.AttributeValue{}}
}

func keyOf(item map[string]types.AttributeValue) string {
	pk := item["PK"].(*types.AttributeValueMemberS).Value
	sk := item["SK"].(*types.AttributeValueMemberS).Value
	return pk + "|" + sk
}

func (f *fakeDynamo) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return &dynamodb.GetItemOutput{Item: f.items[keyOf(in.Key)]}, nil
}

func (f *fakeDynamo) Query(_ context.Context, in *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	pk := in.ExpressionAttributeValues[":pk"].(*types.AttributeValueMemberS).Value
	prefix := in.ExpressionAttributeValues[":prefix"].(*types.AttributeValueMemberS).Value

	var keys []string
	for k := range f.items {
		if strings.HasPrefix(k, pk+"|"+prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	out := &dynamodb.QueryOutput{}
	for _, k := range keys {
		out.Items = append(out.Items, f.items[k])
	}
	return out, nil
}

func (f *fakeDynamo) TransactWriteItems(_ context.Context, in *dynamodb.TransactWriteItemsInput, _ ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.transacts++
	if f.transactErr != nil {
		return nil, f.transactErr
	}
	for _, it := range in.TransactItems {
		switch {
		case it.Put != nil:
			f.items[keyOf(it.Put.Item)] = it.Put.Item
		case it.Delete != nil:
			delete(f.items, keyOf(it.Delete.Key))
		}
	}
	return &dynamodb.TransactWriteItemsOutput{}, nil
}

func sub(endpoint string) domain.PushSubscription {
	return domain.PushSubscription{
		Endpoint: endpoint,
		Keys:     domain.SubscriptionKeys{P256dh: "p-" + endpoint, Auth: "a-" + endpoint},
	}
}

func endpoints(subs []domain.PushSubscription) []string {
	out := make([]string, 0, len(subs))
	for _, s := range subs {
		out = append(out, s.Endpoint)
	}
	sort.Strings(out)
	return out
}

func TestNew_Validation(t *testing.T) {
	_, err := New(nil, "subs")
	require.Error(t, err)
	_, err = New(newFakeDynamo(), " ")
	require.Error(t, err)
}

func TestUpsertAndList(t *testing.T) {
	ctx := context.Background()
	s, err := New(newFakeDynamo(), "subs")
	require.NoError(t, err)

	require.NoError(t, s.UpsertSubscription(ctx, "alice", sub("https://push/1")))
	require.NoError(t, s.UpsertSubscription(ctx, "alice", sub("https://push/2")))
	require.NoError(t, s.UpsertSubscription(ctx, "alice", sub("https://push/1")))

	subs, err := s.ListSubscriptions(ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, []string{"https://push/1", "https://push/2"}, endpoints(subs))
	for _, got := range subs {
		require.Equal(t, "p-"+got.Endpoint, got.Keys.P256dh)
		require.False(t, got.CreatedAt.IsZero())
	}

	none, err := s.ListSubscriptions(ctx, "bob")
	require.NoError(t, err)
	require.Empty(t, none)
}

func TestUpsert_MovesEndpointBetweenUsers(t *testing.T) {
	ctx := context.Background()
	s, _ := New(newFakeDynamo(), "subs")

	require.NoError(t, s.UpsertSubscription(ctx, "alice", sub("https://push/shared")))
	require.NoError(t, s.UpsertSubscription(ctx, "bob", sub("https://push/shared")))

	alice, err := s.ListSubscriptions(ctx, "alice")
	require.NoError(t, err)
	require.Empty(t, alice)

	bob, err := s.ListSubscriptions(ctx, "bob")
	require.NoError(t, err)
	require.Equal(t, []string{"https://push/shared"}, endpoints(bob))
}

func TestRemoveSubscription(t *testing.T) {
	ctx := context.Background()
	fake := newFakeDynamo()
	s, _ := New(fake, "subs")

	for _, ep := range []string{"e1", "e2", "e3"} {
		require.NoError(t, s.UpsertSubscription(ctx, "alice", sub(ep)))
	}

	require.NoError(t, s.RemoveSubscription(ctx, "alice", "e2"))
	subs, _ := s.ListSubscriptions(ctx, "alice")
	require.Equal(t, []string{"e1", "e3"}, endpoints(subs))
	require.NotContains(t, fake.items, "ENDPOINT#e2|OWNER")

	require.NoError(t, s.RemoveSubscription(ctx, "alice", ""))
	subs, _ = s.ListSubscriptions(ctx, "alice")
	require.Empty(t, subs)
	require.Empty(t, fake.items)
}

func TestRemove_KeepsOwnerRecordOfOtherUser(t *testing.T) {
	ctx := context.Background()
	fake := newFakeDynamo()
	s, _ := New(fake, "subs")

	require.NoError(t, s.UpsertSubscription(ctx, "bob", sub("e1")))
	require.NoError(t, s.RemoveSubscription(ctx, "alice", "e1"))

	require.Contains(t, fake.items, "ENDPOINT#e1|OWNER")
	bob, _ := s.ListSubscriptions(ctx, "bob")
	require.Equal(t, []string{"e1"}, endpoints(bob))
}

func TestPruneSubscriptions(t *testing.T) {
	ctx := context.Background()
	s, _ := New(newFakeDynamo(), "subs")
	for _, ep := range []string{"e1", "e2", "e3"} {
		require.NoError(t, s.UpsertSubscription(ctx, "alice", sub(ep)))
	}

	require.NoError(t, s.PruneSubscriptions(ctx, "alice", []string{"e1", "e3", "missing"}))
	subs, _ := s.ListSubscriptions(ctx, "alice")
	require.Equal(t, []string{"e2"}, endpoints(subs))
}

func TestTransactFailureIsWrapped(t *testing.T) {
	fake := newFakeDynamo()
	fake.transactErr = errors.New("throttled")
	s, _ := New(fake, "subs")

	err := s.UpsertSubscription(context.Background(), "alice", sub("e1"))
	require.ErrorIs(t, err, fake.transactErr)

	err = s.UpsertSubscription(context.Background(), "alice", domain.PushSubscription{})
	require.Error(t, err)
}
