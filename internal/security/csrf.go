package security

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/storefront-hq/storefront/internal/token"
)

const (
	// CSRFHeader is the request header carrying the CSRF token.
	CSRFHeader = "X-CSRF-Token"
	// CSRFField is the form and JSON body field carrying the CSRF token.
	CSRFField = "csrf_token"
	// CSRFCookie delivers a newly issued token to the browser.
	CSRFCookie = "csrf_token"
	// CSRFSessionCookie correlates CSRF state for clients without a bearer token.
	CSRFSessionCookie = "csrf_session"

	defaultCSRFMaxAge = time.Hour
	csrfTokenBytes    = 32
	maxJSONPeek       = 1 << 20
)

// CSRFConfig configures a CSRFGuard.
type CSRFConfig struct {
	MaxAge time.Duration
	Now    func() time.Time
}

// CSRFGuard issues and verifies one anti-forgery token per session.
type CSRFGuard struct {
	store  TokenStore
	maxAge time.Duration
	now    func() time.Time
}

// NewCSRFGuard returns a CSRFGuard persisting records in store.
func NewCSRFGuard(store TokenStore, cfg CSRFConfig) *CSRFGuard {
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = defaultCSRFMaxAge
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &CSRFGuard{store: store, maxAge: cfg.MaxAge, now: cfg.Now}
}

// MaxAge is the lifetime of an issued token.
func (g *CSRFGuard) MaxAge() time.Duration {
	return g.maxAge
}

// Issue generates a random token for sessionID, replacing any earlier one.
func (g *CSRFGuard) Issue(ctx context.Context, sessionID string) (string, error) {
	if sessionID == "" {
		return "", errors.New("security: csrf session id required")
	}
	buf := make([]byte, csrfTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	tok := base64.RawURLEncoding.EncodeToString(buf)
	rec := CSRFRecord{Token: tok, ExpiresAt: g.now().Add(g.maxAge)}
	if err := g.store.Set(ctx, sessionID, rec); err != nil {
		return "", err
	}
	return tok, nil
}

// Verify reports whether candidate is the live token of sessionID. Missing or
// expired records fail, and expired ones are evicted. The error is non-nil
// only when the store fails, in which case the result is false.
func (g *CSRFGuard) Verify(ctx context.Context, sessionID, candidate string) (bool, error) {
	if sessionID == "" || candidate == "" {
		return false, nil
	}
	rec, ok, err := g.store.Get(ctx, sessionID)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	if g.now().After(rec.ExpiresAt) {
		if err := g.store.Delete(ctx, sessionID); err != nil {
			return false, err
		}
		return false, nil
	}
	return subtle.ConstantTimeCompare([]byte(rec.Token), []byte(candidate)) == 1, nil
}

// Revoke drops the record of sessionID.
func (g *CSRFGuard) Revoke(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return nil
	}
	return g.store.Delete(ctx, sessionID)
}

// ExtractCandidate looks for the token in the header, then a form field, then
// a JSON body field. The first match wins. A JSON body is restored for the
// next handler after reading.
func ExtractCandidate(r *http.Request) (string, bool) {
	if v := strings.TrimSpace(r.Header.Get(CSRFHeader)); v != "" {
		return v, true
	}
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch mediaType {
	case "application/x-www-form-urlencoded", "multipart/form-data":
		if v := strings.TrimSpace(r.PostFormValue(CSRFField)); v != "" {
			return v, true
		}
	case "application/json":
		if v := peekJSONField(r); v != "" {
			return v, true
		}
	}
	return "", false
}

func peekJSONField(r *http.Request) string {
	if r.Body == nil {
		return ""
	}
	orig := r.Body
	body, err := io.ReadAll(io.LimitReader(orig, maxJSONPeek+1))
	r.Body = replayBody{Reader: io.MultiReader(bytes.NewReader(body), orig), Closer: orig}
	if err != nil || len(body) > maxJSONPeek {
		return ""
	}
	var payload struct {
		Token string `json:"csrf_token"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return ""
	}
	return strings.TrimSpace(payload.Token)
}

// replayBody serves the peeked prefix and then the unread rest of the
// original body, closing the original.
type replayBody struct {
	io.Reader
	io.Closer
}

// ResolveSessionID prefers the CSRF session cookie and falls back to the
// unverified subject of a bearer token, scoped by token kind. The bearer path
// only correlates CSRF state with the principal; it grants nothing.
func ResolveSessionID(r *http.Request) (string, bool) {
	if c, err := r.Cookie(CSRFSessionCookie); err == nil && c.Value != "" {
		return "sid:" + c.Value, true
	}
	raw, ok := token.FromAuthorization(r.Header.Get("Authorization"))
	if !ok {
		return "", false
	}
	subject, ok := token.UnverifiedSubject(raw)
	if !ok {
		return "", false
	}
	return string(token.Classify(raw)) + ":" + subject, true
}

// NewSessionID returns a fresh value for the CSRF session cookie.
func NewSessionID() string {
	return uuid.NewString()
}

// SessionKey maps a CSRF session cookie value onto the store key ResolveSessionID yields.
func SessionKey(cookieValue string) string {
	return "sid:" + cookieValue
}
