package jobs

import (
	"context"
	"errors"
	"log/slog"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/vereinskasse/vereinskasse/internal/jobs"
	"github.com/vereinskasse/vereinskasse/internal/review"
)

// LockVerifier reports finalized periods with unlocked transactions.
type LockVerifier interface {
	VerifyLocks(ctx context.Context) ([]review.LockViolation, error)
}

// LockIntegrityJob checks that finalized periods still lock every transaction
// in their range. Violations are reported, never repaired.
type LockIntegrityJob struct {
	Review  LockVerifier
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewLockIntegrityJob initialises the lock integrity handler.
func NewLockIntegrityJob(verifier LockVerifier, logger *slog.Logger, metrics *jobmetrics.Metrics) *LockIntegrityJob {
	return &LockIntegrityJob{Review: verifier, Logger: logger, Metrics: metrics}
}

// Handle executes the integrity check.
func (j *LockIntegrityJob) Handle(ctx context.Context, _ *asynq.Task) error {
	if j == nil || j.Review == nil {
		return errors.New("lock integrity: handler not configured")
	}
	_, err := j.Run(ctx)
	return err
}

// Run performs the check and returns the violations found.
func (j *LockIntegrityJob) Run(ctx context.Context) ([]review.LockViolation, error) {
	metrics := jobMetrics(j.Metrics)
	tracker := metrics.Track(TaskLockIntegrity)
	logger := jobLogger(j.Logger, TaskLockIntegrity)

	violations, err := j.Review.VerifyLocks(ctx)
	if err != nil {
		logger.Error("verify locks", slog.Any("error", err))
		return nil, tracker.End(err)
	}
	for _, v := range violations {
		logger.Warn("finalized period has unlocked transactions",
			slog.Int64("period_id", v.PeriodID),
			slog.String("period_name", v.PeriodName),
			slog.Int("unlocked", v.Unlocked),
		)
	}
	metrics.SetLockViolations(len(violations))
	logger.Info("completed lock integrity check", slog.Int("violations", len(violations)))
	return violations, tracker.End(nil)
}
