package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storefront-hq/storefront/internal/auth"
	jobmetrics "github.com/storefront-hq/storefront/internal/jobs"
	"github.com/storefront-hq/storefront/internal/shared"
	"github.com/storefront-hq/storefront/internal/token"
)

type fakeClient struct {
	mu    sync.Mutex
	tasks []*asynq.Task
	err   error
}

func (c *fakeClient) EnqueueContext(_ context.Context, task *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return nil, c.err
	}
	c.tasks = append(c.tasks, task)
	return &asynq.TaskInfo{Type: task.Type()}, nil
}

func (c *fakeClient) Close() error { return nil }

type fakeAuditStore struct {
	logs   []shared.AuditLog
	cutoff time.Time
	pruned int64
	err    error
}

func (s *fakeAuditStore) Record(_ context.Context, log shared.AuditLog) error {
	if s.err != nil {
		return s.err
	}
	s.logs = append(s.logs, log)
	return nil
}

func (s *fakeAuditStore) PruneBefore(_ context.Context, cutoff time.Time) (int64, error) {
	if s.err != nil {
		return 0, s.err
	}
	s.cutoff = cutoff
	return s.pruned, nil
}

func TestEnqueuerProducesTasks(t *testing.T) {
	client := &fakeClient{}
	enq := NewEnqueuer(client, jobmetrics.NewMetrics(prometheus.NewRegistry()))
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	enq.now = func() time.Time { return fixed }
	ctx := context.Background()

	require.NoError(t, enq.SigninAttempted(ctx, auth.SigninEvent{
		Kind: token.KindAdmin, Email: "ops@example.com", AccountID: "a-1", Outcome: auth.OutcomeSuccess, IP: "10.0.0.1",
	}))
	require.NoError(t, enq.PasswordResetRequested(ctx, "jane@example.com"))
	require.NoError(t, enq.VerificationRequested(ctx, "c-1", "jane@example.com"))

	require.Len(t, client.tasks, 3)
	assert.Equal(t, TaskSigninAudit, client.tasks[0].Type())
	assert.Equal(t, TaskPasswordReset, client.tasks[1].Type())
	assert.Equal(t, TaskVerification, client.tasks[2].Type())

	var audit SigninAuditPayload
	require.NoError(t, json.Unmarshal(client.tasks[0].Payload(), &audit))
	assert.Equal(t, "admin", audit.Kind)
	assert.Equal(t, fixed, audit.At)
	assert.Equal(t, "10.0.0.1", audit.IP)
}

func TestEnqueuerDuplicateResetIsNotAnError(t *testing.T) {
	enq := NewEnqueuer(&fakeClient{err: asynq.ErrTaskIDConflict}, nil)
	assert.NoError(t, enq.PasswordResetRequested(context.Background(), "jane@example.com"))

	down := NewEnqueuer(&fakeClient{err: errors.New("dial tcp: refused")}, nil)
	assert.Error(t, down.PasswordResetRequested(context.Background(), "jane@example.com"))

	var unset *Enqueuer
	assert.Error(t, unset.VerificationRequested(context.Background(), "c-1", "x@example.com"))
}

func TestHandleSigninAuditWritesEntry(t *testing.T) {
	store := &fakeAuditStore{}
	jobs := NewAccountJobs(store, nil, nil)
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	task, err := NewSigninAuditTask(SigninAuditPayload{
		Kind: "user", Email: "ghost@example.com", Outcome: auth.OutcomeNotFound, At: at,
	})
	require.NoError(t, err)
	require.NoError(t, jobs.HandleSigninAudit(context.Background(), task))

	require.Len(t, store.logs, 1)
	entry := store.logs[0]
	assert.Equal(t, ActionSignin, entry.Action)
	assert.Equal(t, "customer", entry.Entity)
	assert.Equal(t, "ghost@example.com", entry.EntityID)
	assert.Empty(t, entry.ActorID)
	assert.Equal(t, auth.OutcomeNotFound, entry.Meta["outcome"])
	assert.Equal(t, at, entry.At)
}

func TestHandlersSkipRetryOnBadPayload(t *testing.T) {
	jobs := NewAccountJobs(&fakeAuditStore{}, nil, nil)
	bad := asynq.NewTask(TaskSigninAudit, []byte("{"))
	assert.ErrorIs(t, jobs.HandleSigninAudit(context.Background(), bad), asynq.SkipRetry)

	empty := asynq.NewTask(TaskPasswordReset, []byte(`{}`))
	assert.ErrorIs(t, jobs.HandlePasswordReset(context.Background(), empty), asynq.SkipRetry)
}

func TestHandleAccountRequests(t *testing.T) {
	store := &fakeAuditStore{}
	jobs := NewAccountJobs(store, nil, nil)

	reset, err := NewPasswordResetTask(PasswordResetPayload{Email: "jane@example.com"})
	require.NoError(t, err)
	require.NoError(t, jobs.HandlePasswordReset(context.Background(), reset))

	verify, err := NewVerificationTask(VerificationPayload{AccountID: "c-1", Email: "jane@example.com"})
	require.NoError(t, err)
	require.NoError(t, jobs.HandleVerification(context.Background(), verify))

	require.Len(t, store.logs, 2)
	assert.Equal(t, ActionPasswordResetRequested, store.logs[0].Action)
	assert.Equal(t, ActionVerificationRequested, store.logs[1].Action)
	assert.Equal(t, "c-1", store.logs[1].ActorID)

	store.err = errors.New("pg down")
	assert.Error(t, jobs.HandleVerification(context.Background(), verify))
}

func TestHandleAuditPrune(t *testing.T) {
	store := &fakeAuditStore{pruned: 4}
	jobs := NewAccountJobs(store, nil, jobmetrics.NewMetrics(prometheus.NewRegistry()))
	now := time.Date(2026, 6, 1, 3, 15, 0, 0, time.UTC)
	jobs.clock = func() time.Time { return now }

	task, err := NewAuditPruneTask(0)
	require.NoError(t, err)
	require.NoError(t, jobs.HandleAuditPrune(context.Background(), task))
	assert.Equal(t, now.Add(-DefaultAuditRetention), store.cutoff)

	task, err = NewAuditPruneTask(30)
	require.NoError(t, err)
	require.NoError(t, jobs.HandleAuditPrune(context.Background(), task))
	assert.Equal(t, now.AddDate(0, 0, -30), store.cutoff)
}

func TestHandlersCoverEveryTaskType(t *testing.T) {
	seen := map[string]bool{}
	for _, h := range NewAccountJobs(nil, nil, nil).Handlers() {
		seen[h.Type] = h.Handler != nil
	}
	for _, typ := range []string{TaskSigninAudit, TaskPasswordReset, TaskVerification, TaskAuditPrune} {
		assert.True(t, seen[typ], typ)
	}
}

type fakeInspector struct {
	infos map[string]*asynq.QueueInfo
	err   error
}

func (f fakeInspector) GetQueueInfo(queue string) (*asynq.QueueInfo, error) {
	if f.err != nil {
		return nil, f.err
	}
	info, ok := f.infos[queue]
	if !ok {
		return nil, asynq.ErrQueueNotFound
	}
	return info, nil
}

func TestHealthHandler(t *testing.T) {
	mount := func(i QueueInspector) http.Handler {
		r := chi.NewRouter()
		NewHandler(i, nil).MountRoutes(r)
		return r
	}

	rec := httptest.NewRecorder()
	mount(fakeInspector{infos: map[string]*asynq.QueueInfo{
		QueueCritical: {Queue: QueueCritical, Pending: 2, Latency: 1500 * time.Millisecond},
	}}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Queues []QueueStatus `json:"queues"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Queues, 2)
	assert.Equal(t, 2, body.Queues[0].Pending)
	assert.Equal(t, int64(1500), body.Queues[0].LatencyMS)
	assert.Equal(t, QueueDefault, body.Queues[1].Queue)

	rec = httptest.NewRecorder()
	mount(fakeInspector{err: errors.New("redis down")}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
