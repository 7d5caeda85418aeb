package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/duochat/internal/domain"
	"github.com/Tyrowin/duochat/internal/push"
	"github.com/Tyrowin/duochat/internal/store"
)

type stubProvider struct{}

func (stubProvider) Deliver(context.Context, domain.PushSubscription, []byte) error { return nil }

func (stubProvider) PublicKey() string { return "BPublicKey" }

func (s *liveServer) request(t *testing.T, method, path, userID, body string) (int, map[string]any) {
	t.Helper()
	var reader io.Reader = http.NoBody
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, s.http.URL+path, reader)
	require.NoError(t, err)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if userID != "" {
		req.Header.Set("Authorization", "Bearer "+s.token(t, userID))
	}

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var out map[string]any
	if strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(raw, &out))
	}
	return resp.StatusCode, out
}

func newPushServer(t *testing.T) *liveServer {
	t.Helper()
	return newLiveServer(t, nil, func(mem *store.Memory) *push.Dispatcher {
		return push.NewDispatcher(stubProvider{}, mem, mem, push.Options{})
	})
}

func TestHealthHandler(t *testing.T) {
	s := newLiveServer(t, nil, nil)

	req, err := http.NewRequest(http.MethodGet, s.http.URL+"/", http.NoBody)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "duochat server is running!", string(body))
}

func TestStatusHandler(t *testing.T) {
	s := newLiveServer(t, nil, nil)
	s.dial(t, "alice")
	require.Eventually(t, func() bool { return s.hub.OnlineCount() == 1 }, time.Second, 10*time.Millisecond)

	code, body := s.request(t, http.MethodGet, "/healthz", "", "")
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "ok", body["status"])
	require.EqualValues(t, 1, body["connections"])
	require.EqualValues(t, 1, body["onlineUsers"])
	require.Equal(t, map[string]any{"enabled": false}, body["push"])
}

func TestWebSocketHandler_MethodNotAllowed(t *testing.T) {
	s := newLiveServer(t, nil, nil)
	for _, method := range []string{http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodPatch} {
		code, _ := s.request(t, method, "/ws", "alice", "")
		require.Equal(t, http.StatusMethodNotAllowed, code, method)
	}
}

func TestWebSocketHandler_GETWithoutUpgrade(t *testing.T) {
	s := newLiveServer(t, nil, nil)
	code, _ := s.request(t, http.MethodGet, "/ws", "alice", "")
	require.Equal(t, http.StatusBadRequest, code)
	require.Equal(t, 0, s.hub.OnlineCount())
}

func TestNotifications_RequireAuth(t *testing.T) {
	s := newLiveServer(t, nil, nil)
	code, body := s.request(t, http.MethodGet, "/api/notifications/public-key", "", "")
	require.Equal(t, http.StatusUnauthorized, code)
	require.Equal(t, "Not authenticated", body["error"])
}

func TestNotifications_PushDisabled(t *testing.T) {
	s := newLiveServer(t, nil, nil)

	code, _ := s.request(t, http.MethodGet, "/api/notifications/public-key", "bob", "")
	require.Equal(t, http.StatusServiceUnavailable, code)

	code, _ = s.request(t, http.MethodPost, "/api/notifications/subscribe", "bob",
		`{"endpoint":"https://push.example/1","keys":{"p256dh":"k","auth":"a"}}`)
	require.Equal(t, http.StatusServiceUnavailable, code)

	code, _ = s.request(t, http.MethodDelete, "/api/notifications/subscribe", "bob", "")
	require.Equal(t, http.StatusServiceUnavailable, code)
}

func TestNotifications_PublicKey(t *testing.T) {
	s := newPushServer(t)
	code, body := s.request(t, http.MethodGet, "/api/notifications/public-key", "bob", "")
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "BPublicKey", body["publicKey"])
}

func TestNotifications_Subscribe(t *testing.T) {
	s := newPushServer(t)
	ctx := context.Background()

	tests := []struct {
		name   string
		user   string
		body   string
		status int
	}{
		{name: "malformed body", user: "bob", body: `{"endpoint":`, status: http.StatusBadRequest},
		{name: "missing keys", user: "bob", body: `{"endpoint":"https://push.example/1"}`, status: http.StatusBadRequest},
		{name: "notifications disabled", user: "alice", body: `{"endpoint":"https://push.example/a","keys":{"p256dh":"k","auth":"a"}}`, status: http.StatusForbidden},
		{name: "unknown user", user: "ghost", body: `{"endpoint":"https://push.example/g","keys":{"p256dh":"k","auth":"a"}}`, status: http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, _ := s.request(t, http.MethodPost, "/api/notifications/subscribe", tt.user, tt.body)
			require.Equal(t, tt.status, code)
		})
	}

	for i, endpoint := range []string{"https://push.example/1", "https://push.example/2", "https://push.example/1"} {
		code, body := s.request(t, http.MethodPost, "/api/notifications/subscribe", "bob",
			`{"endpoint":"`+endpoint+`","keys":{"p256dh":"k","auth":"a"}}`)
		require.Equal(t, http.StatusOK, code)
		want := i + 1
		if i == 2 {
			want = 2
		}
		require.EqualValues(t, want, body["subscriptionCount"])
	}

	subs, err := s.mem.ListSubscriptions(ctx, "bob")
	require.NoError(t, err)
	require.Len(t, subs, 2)
}

func TestNotifications_Unsubscribe(t *testing.T) {
	s := newPushServer(t)
	ctx := context.Background()
	for _, endpoint := range []string{"https://push.example/1", "https://push.example/2", "https://push.example/3"} {
		require.NoError(t, s.mem.UpsertSubscription(ctx, "bob", domain.PushSubscription{
			Endpoint: endpoint,
			Keys:     domain.SubscriptionKeys{P256dh: "k", Auth: "a"},
		}))
	}

	code, body := s.request(t, http.MethodDelete, "/api/notifications/subscribe", "bob", `{"endpoint":"https://push.example/2"}`)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "Push subscription removed", body["message"])
	subs, err := s.mem.ListSubscriptions(ctx, "bob")
	require.NoError(t, err)
	require.Len(t, subs, 2)

	code, body = s.request(t, http.MethodDelete, "/api/notifications/subscribe", "bob", "")
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "All push subscriptions cleared", body["message"])
	subs, err = s.mem.ListSubscriptions(ctx, "bob")
	require.NoError(t, err)
	require.Empty(t, subs)

	code, _ = s.request(t, http.MethodDelete, "/api/notifications/subscribe", "bob", `[1,2]`)
	require.Equal(t, http.StatusBadRequest, code)
}
