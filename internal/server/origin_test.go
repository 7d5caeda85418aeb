package server

import (
	"log/slog"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/Tyrowin/duochat/internal/config"
)

func TestOriginPolicy(t *testing.T) {
	tests := []struct {
		name    string
		allowed []string
		origin  string
		want    bool
	}{
		{name: "exact match", allowed: []string{"https://chat.example"}, origin: "https://chat.example", want: true},
		{name: "case and path ignored", allowed: []string{"https://Chat.Example/app"}, origin: "HTTPS://CHAT.EXAMPLE", want: true},
		{name: "port must match", allowed: []string{"http://localhost:8080"}, origin: "http://localhost:3000", want: false},
		{name: "scheme must match", allowed: []string{"https://chat.example"}, origin: "http://chat.example", want: false},
		{name: "wildcard", allowed: []string{"*"}, origin: "https://anything.example", want: true},
		{name: "wildcard still needs a valid origin", allowed: []string{"*"}, origin: "null", want: false},
		{name: "missing header", allowed: []string{"*"}, origin: "", want: false},
		{name: "invalid entries ignored", allowed: []string{"not a url", " ", "https://ok.example"}, origin: "https://ok.example", want: true},
		{name: "empty allow-list", allowed: nil, origin: "https://chat.example", want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newOriginPolicy(tt.allowed, slog.Default())
			r := httptest.NewRequest("GET", "/ws", nil)
			if tt.origin != "" {
				r.Header.Set("Origin", tt.origin)
			}
			require.Equal(t, tt.want, p.checkOrigin(r))
		})
	}
}

func TestRateLimiter(t *testing.T) {
	l := newRateLimiter(config.RateLimitConfig{Burst: 3, RefillInterval: 3 * time.Second})
	require.Equal(t, 3, l.Burst())
	require.Equal(t, rate.Limit(1), l.Limit())

	l = newRateLimiter(config.RateLimitConfig{})
	require.Equal(t, 1, l.Burst())

	require.True(t, rateLimited("message:send"))
	require.True(t, rateLimited("message:markRead"))
	require.False(t, rateLimited("user:typing"))
	require.False(t, rateLimited("join:conversation"))
}
