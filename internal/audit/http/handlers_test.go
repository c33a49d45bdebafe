package audithttp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storefront-hq/storefront/internal/audit"
	"github.com/storefront-hq/storefront/internal/auth"
	"github.com/storefront-hq/storefront/internal/rbac"
	"github.com/storefront-hq/storefront/internal/token"
)

type stubService struct {
	filters []audit.TimelineFilters
	rows    []audit.TimelineRow
}

func (s *stubService) Timeline(_ context.Context, f audit.TimelineFilters) (audit.Result, error) {
	s.filters = append(s.filters, f)
	return audit.Result{Rows: s.rows, Paging: audit.PagingInfo{Page: 1, PageSize: 20}}, nil
}

func (s *stubService) Export(_ context.Context, f audit.TimelineFilters) ([]audit.TimelineRow, error) {
	s.filters = append(s.filters, f)
	return s.rows, nil
}

func newTestRouter(svc *stubService, principal *auth.Principal) http.Handler {
	h := NewHandler(nil, svc)
	h.now = func() time.Time { return time.Date(2026, 3, 10, 15, 30, 0, 0, time.UTC) }
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if principal != nil {
				req = req.WithContext(auth.ContextWithPrincipal(req.Context(), principal))
			}
			next.ServeHTTP(w, req)
		})
	})
	h.MountRoutes(r, rbac.Middleware{Resolve: auth.ResolvePrincipal})
	return r
}

func staff(m rbac.Matrix) *auth.Principal {
	return &auth.Principal{ID: "a-1", Role: "staff", Kind: token.KindAdmin, Permissions: &m}
}

func TestTimelineDefaultsToLastWeek(t *testing.T) {
	svc := &stubService{}
	router := newTestRouter(svc, staff(rbac.Matrix{Stats: rbac.Actions{View: true}}))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/audit?actor=a-9&page=2", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	require.Len(t, svc.filters, 1)
	f := svc.filters[0]
	assert.Equal(t, time.Date(2026, 3, 3, 0, 0, 0, 0, time.UTC), f.From)
	assert.Equal(t, time.Date(2026, 3, 11, 0, 0, 0, 0, time.UTC), f.To)
	assert.Equal(t, "a-9", f.Actor)
	assert.Equal(t, 2, f.Page)

	var body struct {
		Filters map[string]string `json:"filters"`
		Rows    []any             `json:"rows"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "2026-03-10", body.Filters["to"])
	assert.NotNil(t, body.Rows)
}

func TestTimelineRejectsBadFilters(t *testing.T) {
	router := newTestRouter(&stubService{}, staff(rbac.Matrix{Stats: rbac.Actions{View: true}}))
	for _, query := range []string{
		"from=03/01/2026",
		"from=2026-03-09&to=2026-03-01",
		"from=2025-01-01&to=2026-03-01",
		"page=0",
		"pageSize=abc",
	} {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/audit?"+query, nil))
		assert.Equal(t, http.StatusBadRequest, rec.Code, query)
	}
}

func TestExportRequiresExportGrant(t *testing.T) {
	svc := &stubService{rows: []audit.TimelineRow{{At: time.Date(2026, 3, 9, 8, 0, 0, 0, time.UTC), Action: "auth.signin", Entity: "customer", EntityID: "c-1"}}}

	rec := httptest.NewRecorder()
	newTestRouter(svc, staff(rbac.Matrix{Stats: rbac.Actions{View: true}})).
		ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/audit/export.csv", nil))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = httptest.NewRecorder()
	newTestRouter(svc, staff(rbac.Matrix{Stats: rbac.Actions{View: true, Export: true}})).
		ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/audit/export.csv", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/csv; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.True(t, strings.HasPrefix(rec.Body.String(), "occurred_at,actor,action"))
	assert.Contains(t, rec.Body.String(), "auth.signin,customer,c-1")
}

func TestExportIsRateLimitedPerAdmin(t *testing.T) {
	router := newTestRouter(&stubService{}, staff(rbac.Matrix{Stats: rbac.Actions{View: true, Export: true}}))
	for i := 0; i < rateLimit; i++ {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/audit/export.csv", nil))
		require.Equal(t, http.StatusOK, rec.Code)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/audit/export.csv", nil))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}
