package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/storefront-hq/storefront/internal/jobs"
	"github.com/storefront-hq/storefront/internal/shared"
)

// Audit actions written to audit_logs.
const (
	ActionSignin                 = "auth.signin"
	ActionPasswordResetRequested = "auth.password_reset_requested"
	ActionVerificationRequested  = "auth.verification_requested"
)

// AuditStore persists and prunes audit entries. *shared.AuditLogger satisfies it.
type AuditStore interface {
	Record(ctx context.Context, log shared.AuditLog) error
	PruneBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// AccountJobs handles the account related tasks produced by the Enqueuer.
type AccountJobs struct {
	Store   AuditStore
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	clock   func() time.Time
}

// NewAccountJobs wires the audit store into the task handlers.
func NewAccountJobs(store AuditStore, logger *slog.Logger, metrics *jobmetrics.Metrics) *AccountJobs {
	return &AccountJobs{
		Store:   store,
		Logger:  logger,
		Metrics: metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handlers lists the task handlers to register with the worker.
func (j *AccountJobs) Handlers() []TaskHandler {
	return []TaskHandler{
		{Type: TaskSigninAudit, Handler: j.HandleSigninAudit},
		{Type: TaskPasswordReset, Handler: j.HandlePasswordReset},
		{Type: TaskVerification, Handler: j.HandleVerification},
		{Type: TaskAuditPrune, Handler: j.HandleAuditPrune},
	}
}

// HandleSigninAudit writes one signin attempt to audit_logs.
func (j *AccountJobs) HandleSigninAudit(ctx context.Context, t *asynq.Task) (err error) {
	var payload SigninAuditPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	tracker := j.Metrics.Track(TaskSigninAudit)
	defer func() { err = tracker.End(err) }()

	entityID := payload.AccountID
	if entityID == "" {
		entityID = payload.Email
	}
	return j.record(ctx, shared.AuditLog{
		ActorID:  payload.AccountID,
		Action:   ActionSignin,
		Entity:   entityFor(payload.Kind),
		EntityID: entityID,
		Meta: map[string]any{
			"email":      payload.Email,
			"outcome":    payload.Outcome,
			"ip":         payload.IP,
			"user_agent": payload.UserAgent,
		},
		At: payload.At,
	})
}

// HandlePasswordReset records the request. Mail delivery is owned by the
// notification service reading audit_logs.
func (j *AccountJobs) HandlePasswordReset(ctx context.Context, t *asynq.Task) (err error) {
	var payload PasswordResetPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil || payload.Email == "" {
		return asynq.SkipRetry
	}
	tracker := j.Metrics.Track(TaskPasswordReset)
	defer func() { err = tracker.End(err) }()

	j.logger().Info("password reset requested", slog.String("email", payload.Email))
	return j.record(ctx, shared.AuditLog{
		Action:   ActionPasswordResetRequested,
		Entity:   "customer",
		EntityID: payload.Email,
		At:       payload.RequestedAt,
	})
}

// HandleVerification records a verification resend request.
func (j *AccountJobs) HandleVerification(ctx context.Context, t *asynq.Task) (err error) {
	var payload VerificationPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil || payload.AccountID == "" {
		return asynq.SkipRetry
	}
	tracker := j.Metrics.Track(TaskVerification)
	defer func() { err = tracker.End(err) }()

	j.logger().Info("verification resend requested", slog.String("account_id", payload.AccountID))
	return j.record(ctx, shared.AuditLog{
		ActorID:  payload.AccountID,
		Action:   ActionVerificationRequested,
		Entity:   "customer",
		EntityID: payload.AccountID,
		Meta:     map[string]any{"email": payload.Email},
		At:       payload.RequestedAt,
	})
}

// HandleAuditPrune removes entries older than the retention window.
func (j *AccountJobs) HandleAuditPrune(ctx context.Context, t *asynq.Task) (err error) {
	var payload AuditPrunePayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}
	retention := DefaultAuditRetention
	if payload.RetentionDays > 0 {
		retention = time.Duration(payload.RetentionDays) * 24 * time.Hour
	}
	tracker := j.Metrics.Track(TaskAuditPrune)
	defer func() { err = tracker.End(err) }()

	if j.Store == nil {
		return errors.New("audit prune: store not configured")
	}
	cutoff := j.now().Add(-retention)
	removed, err := j.Store.PruneBefore(ctx, cutoff)
	if err != nil {
		j.logger().Error("audit prune failed", slog.Any("error", err))
		return err
	}
	j.Metrics.AddPruned(removed)
	j.logger().Info("audit prune completed",
		slog.Time("cutoff", cutoff),
		slog.Int64("removed", removed),
	)
	return nil
}

func (j *AccountJobs) record(ctx context.Context, log shared.AuditLog) error {
	if j.Store == nil {
		return errors.New("audit: store not configured")
	}
	if err := j.Store.Record(ctx, log); err != nil {
		j.logger().Error("audit write failed", slog.String("action", log.Action), slog.Any("error", err))
		return err
	}
	return nil
}

func (j *AccountJobs) now() time.Time {
	if j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}

func (j *AccountJobs) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}

func entityFor(kind string) string {
	if kind == "admin" {
		return "admin"
	}
	return "customer"
}
