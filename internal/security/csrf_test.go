package security

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storefront-hq/storefront/internal/token"
)

func newTestGuard(clock *testClock) (*CSRFGuard, *MemoryStore) {
	store := NewMemoryStore(clock.Now)
	return NewCSRFGuard(store, CSRFConfig{MaxAge: time.Hour, Now: clock.Now}), store
}

func TestCSRFIssueVerify(t *testing.T) {
	clock := newTestClock()
	guard, _ := newTestGuard(clock)
	ctx := context.Background()

	tok, err := guard.Issue(ctx, "sid:abc")
	require.NoError(t, err)
	assert.Len(t, tok, 43)

	ok, err := guard.Verify(ctx, "sid:abc", tok)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = guard.Verify(ctx, "sid:other", tok)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = guard.Verify(ctx, "sid:abc", tok+"x")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = guard.Verify(ctx, "sid:abc", "")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCSRFReissueInvalidatesPrevious(t *testing.T) {
	guard, _ := newTestGuard(newTestClock())
	ctx := context.Background()

	first, err := guard.Issue(ctx, "sid:abc")
	require.NoError(t, err)
	second, err := guard.Issue(ctx, "sid:abc")
	require.NoError(t, err)
	require.NotEqual(t, first, second)

	ok, _ := guard.Verify(ctx, "sid:abc", first)
	assert.False(t, ok)
	ok, _ = guard.Verify(ctx, "sid:abc", second)
	assert.True(t, ok)
}

func TestCSRFExpiredTokenIsEvicted(t *testing.T) {
	clock := newTestClock()
	guard, store := newTestGuard(clock)
	ctx := context.Background()

	tok, err := guard.Issue(ctx, "sid:abc")
	require.NoError(t, err)

	clock.Advance(time.Hour + time.Second)
	ok, err := guard.Verify(ctx, "sid:abc", tok)
	require.NoError(t, err)
	assert.False(t, ok)

	_, tokens := store.Size()
	assert.Equal(t, 0, tokens)
}

func TestCSRFRevoke(t *testing.T) {
	guard, _ := newTestGuard(newTestClock())
	ctx := context.Background()
	tok, err := guard.Issue(ctx, "sid:abc")
	require.NoError(t, err)
	require.NoError(t, guard.Revoke(ctx, "sid:abc"))
	ok, _ := guard.Verify(ctx, "sid:abc", tok)
	assert.False(t, ok)
}

func TestCSRFIssueRequiresSession(t *testing.T) {
	guard, _ := newTestGuard(newTestClock())
	_, err := guard.Issue(context.Background(), "")
	assert.Error(t, err)
}

func TestExtractCandidate(t *testing.T) {
	t.Run("header", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodPost, "/api/cart", nil)
		r.Header.Set(CSRFHeader, " tok-header ")
		v, ok := ExtractCandidate(r)
		assert.True(t, ok)
		assert.Equal(t, "tok-header", v)
	})

	t.Run("form field", func(t *testing.T) {
		form := url.Values{CSRFField: {"tok-form"}}
		r := httptest.NewRequest(http.MethodPost, "/api/cart", strings.NewReader(form.Encode()))
		r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		v, ok := ExtractCandidate(r)
		assert.True(t, ok)
		assert.Equal(t, "tok-form", v)
	})

	t.Run("json body is restored", func(t *testing.T) {
		body := `{"csrf_token":"tok-json","quantity":2}`
		r := httptest.NewRequest(http.MethodPost, "/api/cart", strings.NewReader(body))
		r.Header.Set("Content-Type", "application/json; charset=utf-8")
		v, ok := ExtractCandidate(r)
		assert.True(t, ok)
		assert.Equal(t, "tok-json", v)

		rest, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		assert.Equal(t, body, string(rest))
	})

	t.Run("oversized json body reaches the handler intact", func(t *testing.T) {
		body := `{"items":"` + strings.Repeat("x", 2*maxJSONPeek) + `"}`
		closed := &closeTracker{Reader: strings.NewReader(body)}
		r := httptest.NewRequest(http.MethodPost, "/api/products/import", nil)
		r.Body = closed
		r.Header.Set("Content-Type", "application/json")

		_, ok := ExtractCandidate(r)
		assert.False(t, ok)
		assert.False(t, closed.closed)

		rest, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		assert.Equal(t, len(body), len(rest))
		assert.True(t, string(rest) == body)
		require.NoError(t, r.Body.Close())
		assert.True(t, closed.closed)
	})

	t.Run("header wins over body", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodPost, "/api/cart", strings.NewReader(`{"csrf_token":"tok-json"}`))
		r.Header.Set("Content-Type", "application/json")
		r.Header.Set(CSRFHeader, "tok-header")
		v, _ := ExtractCandidate(r)
		assert.Equal(t, "tok-header", v)
	})

	t.Run("missing", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodPost, "/api/cart", strings.NewReader(`{"quantity":2}`))
		r.Header.Set("Content-Type", "application/json")
		_, ok := ExtractCandidate(r)
		assert.False(t, ok)
	})
}

type closeTracker struct {
	io.Reader
	closed bool
}

func (c *closeTracker) Close() error {
	c.closed = true
	return nil
}

func TestResolveSessionID(t *testing.T) {
	codec, err := token.NewCodec(token.Config{
		User:  token.KeySet{AccessSecret: []byte("user-access-secret-0123456789abcdef")},
		Admin: token.KeySet{AccessSecret: []byte("admin-access-secret-0123456789abcdef")},
	})
	require.NoError(t, err)

	t.Run("cookie preferred", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodPost, "/api/cart", nil)
		r.AddCookie(&http.Cookie{Name: CSRFSessionCookie, Value: "cookie-1"})
		r.Header.Set("Authorization", "Bearer whatever")
		sid, ok := ResolveSessionID(r)
		assert.True(t, ok)
		assert.Equal(t, SessionKey("cookie-1"), sid)
	})

	t.Run("bearer subject scoped by kind", func(t *testing.T) {
		raw, _, err := codec.IssueAccess(token.Subject{Kind: token.KindAdmin, ID: "adm-7", Role: "admin"})
		require.NoError(t, err)
		r := httptest.NewRequest(http.MethodPost, "/api/admin/products", nil)
		r.Header.Set("Authorization", "Bearer "+raw)
		sid, ok := ResolveSessionID(r)
		assert.True(t, ok)
		assert.Equal(t, "admin:adm-7", sid)

		r.Header.Set("Authorization", "  bearer   "+raw+" ")
		sid, ok = ResolveSessionID(r)
		assert.True(t, ok)
		assert.Equal(t, "admin:adm-7", sid)
	})

	t.Run("none", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodPost, "/api/cart", nil)
		_, ok := ResolveSessionID(r)
		assert.False(t, ok)

		r.Header.Set("Authorization", "Bearer not-a-jwt")
		_, ok = ResolveSessionID(r)
		assert.False(t, ok)
	})
}
