package push

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/duochat/internal/domain"
	"github.com/Tyrowin/duochat/internal/store"
)

type delivery struct {
	Endpoint string
	Payload  []byte
}

type fakeProvider struct {
	mu         sync.Mutex
	deliveries []delivery
	failures   map[string]error
	block      chan struct{}
}

func (f *fakeProvider) Deliver(ctx context.Context, sub domain.PushSubscription, payload []byte) error {
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return &DeliveryError{Endpoint: sub.Endpoint, Err: ctx.Err()}
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.failures[sub.Endpoint]; ok {
		return err
	}
	f.deliveries = append(f.deliveries, delivery{Endpoint: sub.Endpoint, Payload: payload})
	return nil
}

func (f *fakeProvider) PublicKey() string { return "public-key" }

func (f *fakeProvider) endpoints() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.deliveries))
	for _, d := range f.deliveries {
		out = append(out, d.Endpoint)
	}
	sort.Strings(out)
	return out
}

func subscription(endpoint string) domain.PushSubscription {
	return domain.PushSubscription{
		Endpoint: endpoint,
		Keys:     domain.SubscriptionKeys{P256dh: "p256dh", Auth: "auth"},
	}
}

func seed(t *testing.T, mem *store.Memory, userID string, endpoints ...string) {
	t.Helper()
	for _, ep := range endpoints {
		require.NoError(t, mem.UpsertSubscription(context.Background(), userID, subscription(ep)))
	}
}

func listEndpoints(t *testing.T, mem *store.Memory, userID string) []string {
	t.Helper()
	subs, err := mem.ListSubscriptions(context.Background(), userID)
	require.NoError(t, err)
	out := make([]string, 0, len(subs))
	for _, s := range subs {
		out = append(out, s.Endpoint)
	}
	sort.Strings(out)
	return out
}

func TestNotifyMessage_DeliversToEverySubscription(t *testing.T) {
	mem := store.NewMemory()
	bob := domain.User{ID: "bob", Name: "Bob", NotificationsEnabled: true}
	mem.PutUser(bob)
	seed(t, mem, "bob", "https://push/1", "https://push/2")

	fp := &fakeProvider{}
	d := NewDispatcher(fp, mem, mem, Options{})
	res := d.NotifyMessage(context.Background(), &bob, "Alice", "c1", "hello")

	require.Equal(t, Result{Sent: 2}, res)
	require.Equal(t, []string{"https://push/1", "https://push/2"}, fp.endpoints())

	var n map[string]any
	require.NoError(t, json.Unmarshal(fp.deliveries[0].Payload, &n))
	require.Equal(t, "New message from Alice", n["title"])
	require.Equal(t, "hello", n["body"])
	require.Equal(t, "message-c1", n["tag"])
	data := n["data"].(map[string]any)
	require.Equal(t, "c1", data["conversationId"])
	require.Equal(t, "Alice", data["senderName"])

	require.Equal(t, Stats{Sent: 2}, d.Stats())
}

func TestNotifyMessage_NoOps(t *testing.T) {
	mem := store.NewMemory()
	optedOut := domain.User{ID: "bob", NotificationsEnabled: false}
	noSubs := domain.User{ID: "carol", NotificationsEnabled: true}
	seed(t, mem, "bob", "https://push/bob")

	fp := &fakeProvider{}
	d := NewDispatcher(fp, mem, mem, Options{})
	require.Equal(t, Result{}, d.NotifyMessage(context.Background(), &optedOut, "A", "c1", "x"))
	require.Equal(t, Result{}, d.NotifyMessage(context.Background(), &noSubs, "A", "c1", "x"))
	require.Equal(t, Result{}, d.NotifyMessage(context.Background(), nil, "A", "c1", "x"))

	disabled := NewDispatcher(nil, mem, mem, Options{})
	enabled := domain.User{ID: "bob", NotificationsEnabled: true}
	require.Equal(t, Result{}, disabled.NotifyMessage(context.Background(), &enabled, "A", "c1", "x"))
	require.Empty(t, fp.endpoints())
}

func TestNotifyMessage_PrunesOnlyPermanentFailures(t *testing.T) {
	mem := store.NewMemory()
	bob := domain.User{ID: "bob", NotificationsEnabled: true}
	seed(t, mem, "bob", "https://push/ok", "https://push/gone", "https://push/flaky")

	fp := &fakeProvider{failures: map[string]error{
		"https://push/gone":  &DeliveryError{Endpoint: "https://push/gone", StatusCode: 410, Permanent: true, Err: errors.New("gone")},
		"https://push/flaky": &DeliveryError{Endpoint: "https://push/flaky", StatusCode: 503, Err: errors.New("unavailable")},
	}}
	d := NewDispatcher(fp, mem, mem, Options{Parallelism: 2})
	res := d.NotifyMessage(context.Background(), &bob, "Alice", "c1", "hello")

	require.Equal(t, Result{Sent: 1, Failed: 2, Pruned: 1}, res)
	require.Equal(t, []string{"https://push/flaky", "https://push/ok"}, listEndpoints(t, mem, "bob"))
	require.Equal(t, Stats{Sent: 1, Failed: 2, Pruned: 1}, d.Stats())
}

func TestNotifyMessage_DeliveryTimeout(t *testing.T) {
	mem := store.NewMemory()
	bob := domain.User{ID: "bob", NotificationsEnabled: true}
	seed(t, mem, "bob", "https://push/hung")

	fp := &fakeProvider{block: make(chan struct{})}
	defer close(fp.block)
	d := NewDispatcher(fp, mem, mem, Options{Timeout: 20 * time.Millisecond})

	start := time.Now()
	res := d.NotifyMessage(context.Background(), &bob, "Alice", "c1", "hello")
	require.Less(t, time.Since(start), 2*time.Second)
	require.Equal(t, Result{Failed: 1}, res)
	require.Equal(t, []string{"https://push/hung"}, listEndpoints(t, mem, "bob"))
}

func TestNotifyPresence_Payload(t *testing.T) {
	mem := store.NewMemory()
	bob := domain.User{ID: "bob", NotificationsEnabled: true}
	seed(t, mem, "bob", "https://push/1")

	fp := &fakeProvider{}
	d := NewDispatcher(fp, mem, mem, Options{})
	res := d.NotifyPresence(context.Background(), &bob, "", false)
	require.Equal(t, 1, res.Sent)

	var n map[string]any
	require.NoError(t, json.Unmarshal(fp.deliveries[0].Payload, &n))
	require.Equal(t, "Someone is offline", n["title"])
	require.Equal(t, "Someone went offline", n["body"])
	require.Equal(t, "presence-bob", n["tag"])
	require.Equal(t, "presence", n["data"].(map[string]any)["type"])
}

func TestProcess_MessageJobResolvesUsers(t *testing.T) {
	mem := store.NewMemory()
	mem.PutUser(domain.User{ID: "alice"})
	mem.PutUser(domain.User{ID: "bob", NotificationsEnabled: true})
	seed(t, mem, "bob", "https://push/1")

	fp := &fakeProvider{}
	d := NewDispatcher(fp, mem, mem, Options{})
	require.NoError(t, d.Process(context.Background(), MessageJob("bob", "alice", "c1", "hi")))

	var n map[string]any
	require.NoError(t, json.Unmarshal(fp.deliveries[0].Payload, &n))
	require.Equal(t, "New message from Someone", n["title"])

	job := MessageJob("bob", "alice", "c1", "see file")
	job.HasAttachment = true
	require.NoError(t, d.Process(context.Background(), job))
	require.NoError(t, json.Unmarshal(fp.deliveries[1].Payload, &n))
	require.Equal(t, "see file (Attachment)", n["body"])

	require.NoError(t, d.Process(context.Background(), MessageJob("ghost", "alice", "c1", "hi")))
	require.Error(t, d.Process(context.Background(), Job{Kind: "push:unknown"}))
}

func TestProcess_PresenceJobSkipsOnlineContacts(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	for _, id := range []string{"alice", "bob", "carol"} {
		mem.PutUser(domain.User{ID: id, Name: id, NotificationsEnabled: true})
	}
	_, err := mem.CreateConversation(ctx, "alice", "bob")
	require.NoError(t, err)
	_, err = mem.CreateConversation(ctx, "alice", "carol")
	require.NoError(t, err)
	seed(t, mem, "bob", "https://push/bob")
	seed(t, mem, "carol", "https://push/carol")

	fp := &fakeProvider{}
	online := func(id string) bool { return id == "carol" }

	off := NewDispatcher(fp, mem, mem, Options{Online: online})
	require.NoError(t, off.Process(ctx, PresenceJob("alice", true)))
	require.Empty(t, fp.endpoints())

	d := NewDispatcher(fp, mem, mem, Options{Online: online, PresenceNotifications: true})
	require.NoError(t, d.Process(ctx, PresenceJob("alice", true)))
	require.Equal(t, []string{"https://push/bob"}, fp.endpoints())

	var n map[string]any
	require.NoError(t, json.Unmarshal(fp.deliveries[0].Payload, &n))
	require.Equal(t, "alice is online", n["title"])
}

func TestSubscribe(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	mem.PutUser(domain.User{ID: "alice", NotificationsEnabled: true})
	mem.PutUser(domain.User{ID: "bob", NotificationsEnabled: true})
	mem.PutUser(domain.User{ID: "quiet", NotificationsEnabled: false})
	d := NewDispatcher(&fakeProvider{}, mem, mem, Options{})

	n, err := d.Subscribe(ctx, "alice", subscription("https://push/1"))
	require.NoError(t, err)
	require.Equal(t, 1, n)
	n, err = d.Subscribe(ctx, "alice", subscription("https://push/1"))
	require.NoError(t, err)
	require.Equal(t, 1, n)

	n, err = d.Subscribe(ctx, "bob", subscription("https://push/1"))
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Empty(t, listEndpoints(t, mem, "alice"))

	_, err = d.Subscribe(ctx, "quiet", subscription("https://push/2"))
	require.ErrorIs(t, err, ErrNotificationsDisabled)
	_, err = d.Subscribe(ctx, "ghost", subscription("https://push/3"))
	require.ErrorIs(t, err, store.ErrNotFound)
	_, err = d.Subscribe(ctx, "alice", domain.PushSubscription{Endpoint: "https://push/4"})
	require.ErrorIs(t, err, ErrInvalidSubscription)

	disabled := NewDispatcher(nil, mem, mem, Options{})
	_, err = disabled.Subscribe(ctx, "alice", subscription("https://push/5"))
	require.ErrorIs(t, err, ErrPushDisabled)
	_, err = disabled.PublicKey()
	require.ErrorIs(t, err, ErrPushDisabled)
}

// staleUsers serves cached profiles until they are invalidated.
type staleUsers struct {
	*store.Memory
	mu          sync.Mutex
	cached      map[string]domain.User
	invalidated []string
}

func (s *staleUsers) GetUser(ctx context.Context, id string) (*domain.User, error) {
	s.mu.Lock()
	u, ok := s.cached[id]
	s.mu.Unlock()
	if ok {
		return &u, nil
	}
	return s.Memory.GetUser(ctx, id)
}

func (s *staleUsers) Invalidate(_ context.Context, ids ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		delete(s.cached, id)
		s.invalidated = append(s.invalidated, id)
	}
	return nil
}

func TestSubscribe_RereadsStaleCachedSettings(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	mem.PutUser(domain.User{ID: "bob", NotificationsEnabled: true})
	mem.PutUser(domain.User{ID: "quiet", NotificationsEnabled: false})
	users := &staleUsers{Memory: mem, cached: map[string]domain.User{
		"bob":   {ID: "bob", NotificationsEnabled: false},
		"quiet": {ID: "quiet", NotificationsEnabled: false},
	}}
	d := NewDispatcher(&fakeProvider{}, users, mem, Options{})

	n, err := d.Subscribe(ctx, "bob", subscription("https://push/1"))
	require.NoError(t, err)
	require.Equal(t, 1, n)

	_, err = d.Subscribe(ctx, "quiet", subscription("https://push/2"))
	require.ErrorIs(t, err, ErrNotificationsDisabled)
	require.Equal(t, []string{"bob", "quiet"}, users.invalidated)
}

func TestUnsubscribe(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	seed(t, mem, "alice", "e1", "e2", "e3")
	d := NewDispatcher(&fakeProvider{}, mem, mem, Options{})

	require.NoError(t, d.Unsubscribe(ctx, "alice", "e2"))
	require.Equal(t, []string{"e1", "e3"}, listEndpoints(t, mem, "alice"))
	require.NoError(t, d.Unsubscribe(ctx, "alice", ""))
	require.Empty(t, listEndpoints(t, mem, "alice"))

	key, err := d.PublicKey()
	require.NoError(t, err)
	require.Equal(t, "public-key", key)
}
