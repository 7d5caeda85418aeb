package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

func newAuth(t *testing.T) *Authenticator {
	t.Helper()
	a, err := New("test-secret", "")
	require.NoError(t, err)
	return a
}

func TestNew_RequiresSecret(t *testing.T) {
	_, err := New("  ", "c")
	require.Error(t, err)

	a := newAuth(t)
	require.Equal(t, DefaultCookieName, a.CookieName())
}

func TestAuthenticate_Cookie(t *testing.T) {
	a := newAuth(t)
	token, err := a.Issue("alice", time.Hour)
	require.NoError(t, err)

	r := httptest.NewRequest(http.MethodGet, "/ws", nil)
	r.AddCookie(&http.Cookie{Name: DefaultCookieName, Value: token})

	uid, err := a.Authenticate(r)
	require.NoError(t, err)
	require.Equal(t, "alice", uid)
}

func TestAuthenticate_BearerHeader(t *testing.T) {
	a := newAuth(t)
	token, _ := a.Issue("bob", time.Hour)

	r := httptest.NewRequest(http.MethodGet, "/ws", nil)
	r.Header.Set("Authorization", "Bearer "+token)

	uid, err := a.Authenticate(r)
	require.NoError(t, err)
	require.Equal(t, "bob", uid)
}

func TestAuthenticate_CookieWinsOverHeader(t *testing.T) {
	a := newAuth(t)
	cookieTok, _ := a.Issue("alice", time.Hour)
	headerTok, _ := a.Issue("bob", time.Hour)

	r := httptest.NewRequest(http.MethodGet, "/ws", nil)
	r.AddCookie(&http.Cookie{Name: DefaultCookieName, Value: cookieTok})
	r.Header.Set("Authorization", "Bearer "+headerTok)

	uid, err := a.Authenticate(r)
	require.NoError(t, err)
	require.Equal(t, "alice", uid)
}

func TestAuthenticate_Rejections(t *testing.T) {
	a := newAuth(t)
	other, _ := New("another-secret", "")
	forged, _ := other.Issue("alice", time.Hour)

	expiredAuth := newAuth(t)
	expiredAuth.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	expired, _ := expiredAuth.Issue("alice", time.Hour)

	noSubject, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{}).SignedString([]byte("test-secret"))
	wrongAlg, _ := jwt.NewWithClaims(jwt.SigningMethodHS384, jwt.RegisteredClaims{Subject: "alice"}).SignedString([]byte("test-secret"))

	cases := map[string]string{
		"missing":    "",
		"garbage":    "not-a-jwt",
		"forged":     forged,
		"expired":    expired,
		"no subject": noSubject,
		"wrong alg":  wrongAlg,
	}
	for name, token := range cases {
		t.Run(name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/ws", nil)
			if token != "" {
				r.Header.Set("Authorization", "Bearer "+token)
			}
			_, err := a.Authenticate(r)
			require.ErrorIs(t, err, ErrUnauthenticated)
		})
	}
}

func TestIssue_RequiresUser(t *testing.T) {
	_, err := newAuth(t).Issue("", time.Hour)
	require.Error(t, err)
}
