package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/vereinskasse/vereinskasse/internal/jobs"
	"github.com/vereinskasse/vereinskasse/internal/obligations"
	"github.com/vereinskasse/vereinskasse/internal/shared"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// FeeGenerator creates yearly fee obligations in bulk.
type FeeGenerator interface {
	GenerateFees(ctx context.Context, actor shared.Actor, in obligations.GenerateFeesInput) (obligations.GenerateFeesResult, error)
}

// FeeGenerationJob runs a requested bulk fee generation.
type FeeGenerationJob struct {
	Service FeeGenerator
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewFeeGenerationJob wires dependencies for the fee generation handler.
func NewFeeGenerationJob(service FeeGenerator, logger *slog.Logger, metrics *jobmetrics.Metrics) *FeeGenerationJob {
	return &FeeGenerationJob{Service: service, Logger: logger, Metrics: metrics}
}

// Handle processes fee generation tasks. Business rejections are not retried.
func (j *FeeGenerationJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Service == nil {
		return errors.New("fee generation: handler not configured")
	}
	var payload GenerateFeesPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	in, err := payload.input()
	if err != nil {
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}

	tracker := jobMetrics(j.Metrics).Track(TaskGenerateFees)
	logger := jobLogger(j.Logger, TaskGenerateFees).With(
		slog.Int("year", in.Year),
		slog.String("amount", shared.FormatEUR(in.Amount)),
		slog.Int64("actor_id", payload.ActorID),
	)
	logger.Info("starting fee generation")

	result, err := j.Service.GenerateFees(ctx, payload.actor(), in)
	if err != nil {
		err = tracker.End(err)
		if shared.IsBusiness(err) {
			logger.Warn("fee generation rejected", slog.Any("error", err))
			return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
		}
		logger.Error("fee generation failed", slog.Any("error", err))
		return err
	}

	logger.Info("completed fee generation",
		slog.Int("created", result.Created),
		slog.Int("skipped", result.Skipped),
	)
	return tracker.End(nil)
}
