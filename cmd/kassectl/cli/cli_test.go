package cli

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"

	"github.com/vereinskasse/vereinskasse/internal/review"
	"github.com/vereinskasse/vereinskasse/internal/shared"
	"github.com/vereinskasse/vereinskasse/jobs"
)

type stubEnqueuer struct {
	tasks  []*asynq.Task
	closed bool
}

func (s *stubEnqueuer) EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	s.tasks = append(s.tasks, task)
	return &asynq.TaskInfo{ID: "t-1", Queue: jobs.QueueDefault, Type: task.Type()}, nil
}

func (s *stubEnqueuer) Close() error {
	s.closed = true
	return nil
}

type stubInspector struct {
	info      *asynq.QueueInfo
	scheduled []*asynq.TaskInfo
	closeErr  error
}

func (s *stubInspector) GetQueueInfo(queue string) (*asynq.QueueInfo, error) {
	return s.info, nil
}

func (s *stubInspector) ListScheduledTasks(queue string, opts ...asynq.ListOption) ([]*asynq.TaskInfo, error) {
	return s.scheduled, nil
}

func (s *stubInspector) Close() error { return s.closeErr }

func TestTriggerKnownJobs(t *testing.T) {
	enqueuer := &stubEnqueuer{}
	jobsCLI := NewJobsCLIWith(enqueuer, &stubInspector{})

	info, err := jobsCLI.Trigger(context.Background(), jobs.TaskLockIntegrity)
	require.NoError(t, err)
	require.Equal(t, jobs.TaskLockIntegrity, info.Type)
	require.Len(t, enqueuer.tasks, 1)

	_, err = jobsCLI.Trigger(context.Background(), "unknown:job")
	require.Error(t, err)
	require.Len(t, enqueuer.tasks, 1)
}

func TestCloseJoinsErrors(t *testing.T) {
	enqueuer := &stubEnqueuer{}
	jobsCLI := NewJobsCLIWith(enqueuer, &stubInspector{closeErr: errors.New("inspector gone")})
	err := jobsCLI.Close()
	require.ErrorContains(t, err, "inspector gone")
	require.True(t, enqueuer.closed)
}

func TestPrintStats(t *testing.T) {
	next := time.Date(2025, 5, 3, 6, 0, 0, 0, time.UTC)
	jobsCLI := NewJobsCLIWith(&stubEnqueuer{}, &stubInspector{
		info:      &asynq.QueueInfo{Queue: jobs.QueueDefault, Pending: 2, Retry: 1},
		scheduled: []*asynq.TaskInfo{{ID: "s-1", Type: jobs.TaskOverdueScan, NextProcessAt: next}},
	})

	var out bytes.Buffer
	cmd := &cobra.Command{}
	cmd.SetOut(&out)
	require.NoError(t, printStats(cmd, jobsCLI, 5))

	text := out.String()
	require.Contains(t, text, "pending:   2")
	require.Contains(t, text, "retry:     1")
	require.Contains(t, text, "2025-05-03T06:00:00Z  obligations:overdue_scan  s-1")
}

func TestReportViolations(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, reportViolations(&out, nil))
	require.Contains(t, out.String(), "all finalized periods are locked")

	out.Reset()
	err := reportViolations(&out, []review.LockViolation{{PeriodID: 3, PeriodName: "Q1 2025", Unlocked: 2}})
	require.ErrorIs(t, err, ErrIntegrityViolations)
	require.True(t, strings.HasPrefix(out.String(), "period 3 (Q1 2025): 2 unlocked transactions"))
}

func TestMigratePrintsSchema(t *testing.T) {
	var out bytes.Buffer
	root := NewRootCmd()
	root.SetOut(&out)
	root.SetArgs([]string{"migrate", "--print"})
	require.NoError(t, root.Execute())
	require.Contains(t, out.String(), "CREATE TABLE")
}

type stubSessions struct {
	issued map[string]shared.Actor
}

func (s *stubSessions) Issue(ctx context.Context, id string, actor shared.Actor) error {
	s.issued[id] = actor
	return nil
}

func (s *stubSessions) Revoke(ctx context.Context, id string) error {
	delete(s.issued, id)
	return nil
}

func TestIssueSession(t *testing.T) {
	store := &stubSessions{issued: map[string]shared.Actor{}}
	var out bytes.Buffer

	require.NoError(t, issueSession(context.Background(), &out, store, 4, []string{" Treasurer", "auditor"}))
	id := strings.TrimSpace(out.String())
	require.Len(t, id, 36)
	require.Equal(t, shared.Actor{ID: 4, Roles: []string{shared.RoleTreasurer, shared.RoleAuditor}}, store.issued[id])

	require.Error(t, issueSession(context.Background(), &out, store, 0, nil))
	require.ErrorContains(t, issueSession(context.Background(), &out, store, 4, []string{"root"}), "unknown role")
	require.Len(t, store.issued, 1)
}
