package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/vereinskasse/vereinskasse/internal/jobs"
	"github.com/vereinskasse/vereinskasse/internal/obligations"
	"github.com/vereinskasse/vereinskasse/internal/shared"
)

// OverdueLister lists obligations past their due date.
type OverdueLister interface {
	ListOverdue(ctx context.Context, asOf time.Time) (obligations.Overdue, error)
}

// OverdueScanJob logs overdue obligations for the reminder collaborator and
// publishes their count.
type OverdueScanJob struct {
	Obligations OverdueLister
	Logger      *slog.Logger
	Metrics     *jobmetrics.Metrics
	clock       func() time.Time
}

// NewOverdueScanJob initialises the overdue scan handler.
func NewOverdueScanJob(lister OverdueLister, logger *slog.Logger, metrics *jobmetrics.Metrics) *OverdueScanJob {
	return &OverdueScanJob{
		Obligations: lister,
		Logger:      logger,
		Metrics:     metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle executes the overdue scan.
func (j *OverdueScanJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Obligations == nil {
		return errors.New("overdue scan: handler not configured")
	}
	var payload OverdueScanPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}
	asOf := j.now()
	if payload.AsOf != "" {
		parsed, err := time.Parse(time.DateOnly, payload.AsOf)
		if err != nil {
			return asynq.SkipRetry
		}
		asOf = parsed
	}

	metrics := jobMetrics(j.Metrics)
	tracker := metrics.Track(TaskOverdueScan)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	logger := jobLogger(j.Logger, TaskOverdueScan).With(slog.String("as_of", asOf.Format(time.DateOnly)))
	logger.Info("starting overdue scan")

	overdue, err := j.Obligations.ListOverdue(ctx, asOf)
	if err != nil {
		resultErr = err
		logger.Error("list overdue obligations", slog.Any("error", err))
		return resultErr
	}

	for _, fee := range overdue.Fees {
		logger.Info("fee overdue",
			slog.Int64("obligation_id", fee.ID),
			slog.Int64("member_id", fee.MemberID),
			slog.Int("fee_year", fee.FeeYear),
			slog.String("outstanding", shared.FormatEUR(fee.Outstanding())),
			slog.String("due_date", fee.DueDate.Format(time.DateOnly)),
		)
	}
	for _, item := range overdue.Items {
		attrs := []any{
			slog.Int64("obligation_id", item.ID),
			slog.String("description", item.Description),
			slog.String("outstanding", shared.FormatEUR(item.Outstanding())),
			slog.String("due_date", item.DueDate.Format(time.DateOnly)),
		}
		if item.MemberID != nil {
			attrs = append(attrs, slog.Int64("member_id", *item.MemberID))
		} else {
			attrs = append(attrs, slog.String("receiver", item.ReceiverName))
		}
		logger.Info("item overdue", attrs...)
	}

	metrics.SetOverdue(obligations.KindFee, len(overdue.Fees))
	metrics.SetOverdue(obligations.KindItem, len(overdue.Items))
	logger.Info("completed overdue scan",
		slog.Int("fees", len(overdue.Fees)),
		slog.Int("items", len(overdue.Items)),
		slog.String("total_outstanding", shared.FormatEUR(overdue.Total())),
	)
	return resultErr
}

func (j *OverdueScanJob) now() time.Time {
	if j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}
