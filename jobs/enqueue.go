package jobs

import (
	"context"
	"errors"
	"time"

	"github.com/hibiken/asynq"

	"github.com/storefront-hq/storefront/internal/auth"
	jobmetrics "github.com/storefront-hq/storefront/internal/jobs"
)

// TaskClient is the subset of *asynq.Client used to submit tasks.
type TaskClient interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
	Close() error
}

// Enqueuer turns account events into queued tasks. It satisfies auth.EventSink.
type Enqueuer struct {
	client  TaskClient
	metrics *jobmetrics.Metrics
	now     func() time.Time
}

var _ auth.EventSink = (*Enqueuer)(nil)

// NewEnqueuer wraps client. Pass an *asynq.Client in production.
func NewEnqueuer(client TaskClient, metrics *jobmetrics.Metrics) *Enqueuer {
	return &Enqueuer{client: client, metrics: metrics, now: func() time.Time { return time.Now().UTC() }}
}

// NewRedisEnqueuer connects an asynq client to Redis.
func NewRedisEnqueuer(opts asynq.RedisClientOpt, metrics *jobmetrics.Metrics) *Enqueuer {
	return NewEnqueuer(asynq.NewClient(opts), metrics)
}

// SigninAttempted queues the audit record of a signin attempt.
func (e *Enqueuer) SigninAttempted(ctx context.Context, ev auth.SigninEvent) error {
	at := ev.At
	if at.IsZero() {
		at = e.now()
	}
	task, err := NewSigninAuditTask(SigninAuditPayload{
		Kind:      string(ev.Kind),
		Email:     ev.Email,
		AccountID: ev.AccountID,
		Outcome:   ev.Outcome,
		IP:        ev.IP,
		UserAgent: ev.UserAgent,
		At:        at,
	})
	if err != nil {
		return err
	}
	return e.enqueue(ctx, task)
}

// PasswordResetRequested queues a reset for email.
func (e *Enqueuer) PasswordResetRequested(ctx context.Context, email string) error {
	task, err := NewPasswordResetTask(PasswordResetPayload{Email: email, RequestedAt: e.now()})
	if err != nil {
		return err
	}
	return e.enqueue(ctx, task)
}

// VerificationRequested queues a verification resend.
func (e *Enqueuer) VerificationRequested(ctx context.Context, accountID, email string) error {
	task, err := NewVerificationTask(VerificationPayload{AccountID: accountID, Email: email, RequestedAt: e.now()})
	if err != nil {
		return err
	}
	return e.enqueue(ctx, task)
}

// Close releases client resources.
func (e *Enqueuer) Close() error {
	if e == nil || e.client == nil {
		return nil
	}
	return e.client.Close()
}

func (e *Enqueuer) enqueue(ctx context.Context, task *asynq.Task) error {
	if e == nil || e.client == nil {
		return errors.New("jobs: enqueuer not configured")
	}
	_, err := e.client.EnqueueContext(ctx, task)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		err = nil
	}
	e.metrics.Enqueued(task.Type(), err)
	return err
}
