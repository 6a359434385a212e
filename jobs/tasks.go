package jobs

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/shopspring/decimal"

	"github.com/vereinskasse/vereinskasse/internal/obligations"
	"github.com/vereinskasse/vereinskasse/internal/shared"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskGenerateFees creates the yearly fee obligations for all active members.
	TaskGenerateFees = "obligations:generate_fees"
	// TaskOverdueScan reports obligations past their due date.
	TaskOverdueScan = "obligations:overdue_scan"
	// TaskLockIntegrity looks for unlocked transactions inside finalized periods.
	TaskLockIntegrity = "review:lock_integrity"
	// TaskIdempotencyCleanup removes expired idempotency keys.
	TaskIdempotencyCleanup = "maintenance:idempotency_cleanup"
)

// GenerateFeesPayload carries the bulk fee run and the actor who requested it.
type GenerateFeesPayload struct {
	ActorID int64           `json:"actor_id"`
	Roles   []string        `json:"roles"`
	Year    int             `json:"year"`
	Amount  decimal.Decimal `json:"amount"`
	DueDate string          `json:"due_date"`
}

func (p GenerateFeesPayload) actor() shared.Actor {
	return shared.Actor{ID: p.ActorID, Roles: p.Roles}
}

func (p GenerateFeesPayload) input() (obligations.GenerateFeesInput, error) {
	due, err := time.Parse(time.DateOnly, p.DueDate)
	if err != nil {
		return obligations.GenerateFeesInput{}, fmt.Errorf("generate fees: due date %q: %w", p.DueDate, err)
	}
	return obligations.GenerateFeesInput{Year: p.Year, Amount: p.Amount, DueDate: due}, nil
}

// NewGenerateFeesTask builds a fee generation task.
func NewGenerateFeesTask(actor shared.Actor, in obligations.GenerateFeesInput) (*asynq.Task, error) {
	body, err := json.Marshal(GenerateFeesPayload{
		ActorID: actor.ID,
		Roles:   actor.Roles,
		Year:    in.Year,
		Amount:  in.Amount,
		DueDate: in.DueDate.Format(time.DateOnly),
	})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskGenerateFees, body, asynq.Queue(QueueDefault), asynq.MaxRetry(3)), nil
}

// OverdueScanPayload optionally pins the reference date. Empty means today.
type OverdueScanPayload struct {
	AsOf string `json:"as_of,omitempty"`
}

// NewOverdueScanTask builds an overdue scan task.
func NewOverdueScanTask(asOf time.Time) (*asynq.Task, error) {
	var payload OverdueScanPayload
	if !asOf.IsZero() {
		payload.AsOf = asOf.Format(time.DateOnly)
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskOverdueScan, body, asynq.Queue(QueueDefault)), nil
}

// NewLockIntegrityTask builds a lock integrity task.
func NewLockIntegrityTask() *asynq.Task {
	return asynq.NewTask(TaskLockIntegrity, []byte("{}"), asynq.Queue(QueueDefault))
}

// IdempotencyCleanupPayload sets how long keys are retained.
type IdempotencyCleanupPayload struct {
	RetentionHours int `json:"retention_hours"`
}

// NewIdempotencyCleanupTask builds a cleanup task.
func NewIdempotencyCleanupTask(retention time.Duration) (*asynq.Task, error) {
	body, err := json.Marshal(IdempotencyCleanupPayload{RetentionHours: int(retention / time.Hour)})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskIdempotencyCleanup, body, asynq.Queue(QueueDefault)), nil
}

// NewTaskByName builds a task with default payload for manual triggering.
func NewTaskByName(name string, now time.Time) (*asynq.Task, error) {
	switch name {
	case TaskOverdueScan:
		return NewOverdueScanTask(now)
	case TaskLockIntegrity:
		return NewLockIntegrityTask(), nil
	case TaskIdempotencyCleanup:
		return NewIdempotencyCleanupTask(DefaultIdempotencyRetention)
	default:
		return nil, fmt.Errorf("jobs: unsupported job %s", name)
	}
}
