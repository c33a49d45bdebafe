package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// QueueCritical carries account mail requests ahead of audit writes.
	QueueCritical = "critical"

	// TaskSigninAudit records one signin attempt in audit_logs.
	TaskSigninAudit = "audit:signin"
	// TaskAuditPrune removes audit entries past retention.
	TaskAuditPrune = "audit:prune"
	// TaskPasswordReset handles a forgot-password request.
	TaskPasswordReset = "auth:password_reset"
	// TaskVerification handles a verification email resend.
	TaskVerification = "auth:verification"
)

// DefaultAuditRetention is how long audit entries are kept.
const DefaultAuditRetention = 90 * 24 * time.Hour

// SigninAuditPayload mirrors auth.SigninEvent on the wire.
type SigninAuditPayload struct {
	Kind      string    `json:"kind"`
	Email     string    `json:"email"`
	AccountID string    `json:"accountId,omitempty"`
	Outcome   string    `json:"outcome"`
	IP        string    `json:"ip,omitempty"`
	UserAgent string    `json:"userAgent,omitempty"`
	At        time.Time `json:"at"`
}

// PasswordResetPayload identifies the account that asked for a reset.
type PasswordResetPayload struct {
	Email       string    `json:"email"`
	RequestedAt time.Time `json:"requestedAt"`
}

// VerificationPayload identifies the account awaiting email verification.
type VerificationPayload struct {
	AccountID   string    `json:"accountId"`
	Email       string    `json:"email"`
	RequestedAt time.Time `json:"requestedAt"`
}

// AuditPrunePayload configures the retention window in days.
type AuditPrunePayload struct {
	RetentionDays int `json:"retentionDays"`
}

// NewSigninAuditTask constructs a signin audit task.
func NewSigninAuditTask(payload SigninAuditPayload) (*asynq.Task, error) {
	return newTask(TaskSigninAudit, payload, asynq.Queue(QueueDefault), asynq.MaxRetry(5))
}

// NewPasswordResetTask constructs a password reset task. Duplicate requests for
// the same email within ten minutes collapse into one task.
func NewPasswordResetTask(payload PasswordResetPayload) (*asynq.Task, error) {
	return newTask(TaskPasswordReset, payload,
		asynq.Queue(QueueCritical), asynq.MaxRetry(3),
		asynq.TaskID(TaskPasswordReset+":"+payload.Email), asynq.Retention(10*time.Minute))
}

// NewVerificationTask constructs a verification resend task.
func NewVerificationTask(payload VerificationPayload) (*asynq.Task, error) {
	return newTask(TaskVerification, payload, asynq.Queue(QueueCritical), asynq.MaxRetry(3))
}

// NewAuditPruneTask constructs the retention task registered with the scheduler.
func NewAuditPruneTask(retentionDays int) (*asynq.Task, error) {
	return newTask(TaskAuditPrune, AuditPrunePayload{RetentionDays: retentionDays}, asynq.Queue(QueueDefault))
}

func newTask(typ string, payload any, opts ...asynq.Option) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(typ, data, opts...), nil
}
