package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	jobmetrics "github.com/vereinskasse/vereinskasse/internal/jobs"
	"github.com/vereinskasse/vereinskasse/internal/obligations"
	"github.com/vereinskasse/vereinskasse/internal/review"
	"github.com/vereinskasse/vereinskasse/internal/shared"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

type fakeGenerator struct {
	actor shared.Actor
	in    obligations.GenerateFeesInput
	err   error
}

func (f *fakeGenerator) GenerateFees(ctx context.Context, actor shared.Actor, in obligations.GenerateFeesInput) (obligations.GenerateFeesResult, error) {
	f.actor, f.in = actor, in
	if f.err != nil {
		return obligations.GenerateFeesResult{}, f.err
	}
	return obligations.GenerateFeesResult{Created: 3, Skipped: 1}, nil
}

type fakeEnqueuer struct {
	tasks []*asynq.Task
}

func (f *fakeEnqueuer) EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	f.tasks = append(f.tasks, task)
	return &asynq.TaskInfo{ID: "task-42", Queue: QueueDefault, Type: task.Type(), Payload: task.Payload()}, nil
}

func (f *fakeEnqueuer) Close() error { return nil }

func newMetrics() (*jobmetrics.Metrics, *prometheus.Registry) {
	reg := prometheus.NewRegistry()
	return jobmetrics.NewMetrics(reg), reg
}

func feeInput() obligations.GenerateFeesInput {
	return obligations.GenerateFeesInput{
		Year:    2025,
		Amount:  decimal.RequireFromString("120.00"),
		DueDate: time.Date(2025, 3, 31, 0, 0, 0, 0, time.UTC),
	}
}

func TestFeeGenerationRoundTrip(t *testing.T) {
	enqueuer := &fakeEnqueuer{}
	client := NewClientWith(enqueuer)
	treasurer := shared.Actor{ID: 5, Roles: []string{shared.RoleTreasurer}}

	id, err := client.EnqueueFeeGeneration(context.Background(), treasurer, feeInput())
	require.NoError(t, err)
	require.Equal(t, "task-42", id)
	require.Len(t, enqueuer.tasks, 1)
	require.Equal(t, TaskGenerateFees, enqueuer.tasks[0].Type())

	generator := &fakeGenerator{}
	metrics, _ := newMetrics()
	job := NewFeeGenerationJob(generator, discard, metrics)
	require.NoError(t, job.Handle(context.Background(), enqueuer.tasks[0]))

	require.Equal(t, treasurer, generator.actor)
	require.Equal(t, 2025, generator.in.Year)
	require.True(t, decimal.RequireFromString("120").Equal(generator.in.Amount))
	require.Equal(t, "2025-03-31", generator.in.DueDate.Format(time.DateOnly))
}

func TestFeeGenerationBusinessErrorSkipsRetry(t *testing.T) {
	task, err := NewGenerateFeesTask(shared.Actor{ID: 9}, feeInput())
	require.NoError(t, err)
	metrics, _ := newMetrics()

	job := NewFeeGenerationJob(&fakeGenerator{err: shared.ErrForbidden}, discard, metrics)
	err = job.Handle(context.Background(), task)
	require.ErrorIs(t, err, asynq.SkipRetry)

	storage := &shared.StorageError{Op: "insert", Err: errors.New("timeout")}
	job = NewFeeGenerationJob(&fakeGenerator{err: storage}, discard, metrics)
	err = job.Handle(context.Background(), task)
	require.ErrorIs(t, err, shared.ErrStorage)
	require.NotErrorIs(t, err, asynq.SkipRetry)
}

func TestFeeGenerationRecordsRunOutcome(t *testing.T) {
	task, err := NewGenerateFeesTask(shared.Actor{ID: 9}, feeInput())
	require.NoError(t, err)
	metrics, reg := newMetrics()

	require.NoError(t, NewFeeGenerationJob(&fakeGenerator{}, discard, metrics).Handle(context.Background(), task))
	require.Error(t, NewFeeGenerationJob(&fakeGenerator{err: shared.ErrForbidden}, discard, metrics).Handle(context.Background(), task))
	storage := &shared.StorageError{Op: "insert", Err: errors.New("timeout")}
	require.Error(t, NewFeeGenerationJob(&fakeGenerator{err: storage}, discard, metrics).Handle(context.Background(), task))

	expected := `
# HELP vereinskasse_job_runs_total Total job executions partitioned by job name and status.
# TYPE vereinskasse_job_runs_total counter
vereinskasse_job_runs_total{job="obligations:generate_fees",status="failure"} 2
vereinskasse_job_runs_total{job="obligations:generate_fees",status="success"} 1
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "vereinskasse_job_runs_total"))
}

func TestFeeGenerationRejectsBadPayload(t *testing.T) {
	job := NewFeeGenerationJob(&fakeGenerator{}, discard, nil)
	err := job.Handle(context.Background(), asynq.NewTask(TaskGenerateFees, []byte("not json")))
	require.ErrorIs(t, err, asynq.SkipRetry)
}

type fakeLister struct {
	asOf    time.Time
	overdue obligations.Overdue
	err     error
}

func (f *fakeLister) ListOverdue(ctx context.Context, asOf time.Time) (obligations.Overdue, error) {
	f.asOf = asOf
	return f.overdue, f.err
}

func TestOverdueScanPublishesCounts(t *testing.T) {
	member := int64(7)
	lister := &fakeLister{overdue: obligations.Overdue{
		Fees: []obligations.FeeObligation{
			{ID: 1, MemberID: 42, FeeYear: 2025, FeeAmount: decimal.NewFromInt(120), PaidAmount: decimal.NewFromInt(50), Status: obligations.FeeStatusPartial},
			{ID: 2, MemberID: 43, FeeYear: 2025, FeeAmount: decimal.NewFromInt(120), PaidAmount: decimal.Zero, Status: obligations.FeeStatusOpen},
		},
		Items: []obligations.ItemObligation{
			{ID: 3, MemberID: &member, Description: "Trikot", TotalAmount: decimal.NewFromInt(35), PaidAmount: decimal.Zero, Status: obligations.ItemStatusOpen},
		},
	}}
	metrics, reg := newMetrics()
	job := NewOverdueScanJob(lister, discard, metrics)

	task, err := NewOverdueScanTask(time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	require.Equal(t, "2025-04-01", lister.asOf.Format(time.DateOnly))

	count, err := testutil.GatherAndCount(reg, "vereinskasse_overdue_obligations")
	require.NoError(t, err)
	require.Equal(t, 2, count)

	lister.err = &shared.StorageError{Op: "list", Err: errors.New("down")}
	require.Error(t, job.Handle(context.Background(), task))
	failures, err := testutil.GatherAndCount(reg, "vereinskasse_job_failures_total")
	require.NoError(t, err)
	require.Equal(t, 1, failures)
}

type fakeVerifier struct {
	violations []review.LockViolation
}

func (f fakeVerifier) VerifyLocks(ctx context.Context) ([]review.LockViolation, error) {
	return f.violations, nil
}

func TestLockIntegritySetsGauge(t *testing.T) {
	metrics, reg := newMetrics()
	job := NewLockIntegrityJob(fakeVerifier{violations: []review.LockViolation{{PeriodID: 1, PeriodName: "Q1 2025", Unlocked: 2}}}, discard, metrics)

	require.NoError(t, job.Handle(context.Background(), NewLockIntegrityTask()))

	gauge, err := reg.Gather()
	require.NoError(t, err)
	var found bool
	for _, mf := range gauge {
		if mf.GetName() == "vereinskasse_lock_integrity_violations" {
			found = true
			require.Equal(t, float64(1), mf.GetMetric()[0].GetGauge().GetValue())
		}
	}
	require.True(t, found)
}

func TestNewTaskByName(t *testing.T) {
	now := time.Date(2025, 5, 2, 8, 0, 0, 0, time.UTC)
	for _, name := range []string{TaskOverdueScan, TaskLockIntegrity, TaskIdempotencyCleanup} {
		task, err := NewTaskByName(name, now)
		require.NoError(t, err, name)
		require.Equal(t, name, task.Type())
	}

	task, err := NewTaskByName(TaskIdempotencyCleanup, now)
	require.NoError(t, err)
	var payload IdempotencyCleanupPayload
	require.NoError(t, json.Unmarshal(task.Payload(), &payload))
	require.Equal(t, 168, payload.RetentionHours)

	_, err = NewTaskByName(TaskGenerateFees, now)
	require.Error(t, err)
}

type fakeInspector struct {
	info *asynq.QueueInfo
	err  error
}

func (f fakeInspector) GetQueueInfo(queue string) (*asynq.QueueInfo, error) {
	return f.info, f.err
}

func TestHealthEndpoint(t *testing.T) {
	r := chi.NewRouter()
	NewHandler(fakeInspector{info: &asynq.QueueInfo{Queue: QueueDefault, Pending: 4}}, discard).MountRoutes(r)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	require.JSONEq(t, `{"queue":"default","pending":4}`, rr.Body.String())

	r = chi.NewRouter()
	NewHandler(fakeInspector{err: errors.New("redis down")}, discard).MountRoutes(r)
	rr = httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestRedisOpt(t *testing.T) {
	opt, err := RedisOpt("redis://worker:pw@queue.internal:6379/3")
	require.NoError(t, err)
	require.Equal(t, "queue.internal:6379", opt.Addr)
	require.Equal(t, "worker", opt.Username)
	require.Equal(t, "pw", opt.Password)
	require.Equal(t, 3, opt.DB)

	opt, err = RedisOpt("127.0.0.1:6379")
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1:6379", opt.Addr)
}
