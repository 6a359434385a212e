package review

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vereinskasse/vereinskasse/internal/ledger"
	"github.com/vereinskasse/vereinskasse/internal/shared"
)

func checkAll(t *testing.T, svc *Service, periodID int64, ids ...int64) {
	t.Helper()
	for _, id := range ids {
		_, err := svc.RecordCheck(context.Background(), leader, RecordCheckInput{PeriodID: periodID, TransactionID: id, Verdict: VerdictApproved})
		require.NoError(t, err)
	}
}

func TestFinalizeLocksEveryReviewedTransaction(t *testing.T) {
	svc, repo, metrics, period := seedQ1(t)
	ctx := context.Background()

	checkAll(t, svc, period.ID, 1, 2)
	_, err := svc.RecordCheck(ctx, assistant, RecordCheckInput{PeriodID: period.ID, TransactionID: 3, Verdict: VerdictUnderInvestigation, Remarks: "duplicate booking?"})
	require.NoError(t, err)

	result, err := svc.Finalize(ctx, leader, period.ID)
	require.NoError(t, err)
	require.Equal(t, 3, result.Locked)
	require.Equal(t, PeriodFinalized, result.Period.Status)
	require.NotNil(t, result.Period.FinalizedAt)
	require.Equal(t, fixedNow, *result.Period.FinalizedAt)
	require.Equal(t, leader.ID, *result.Period.FinalizedBy)

	for _, id := range []int64{1, 2, 3} {
		require.NotNil(t, repo.txns[id].CheckedInPeriodID, "transaction %d", id)
		require.Equal(t, period.ID, *repo.txns[id].CheckedInPeriodID)
	}
	require.Equal(t, ledger.CheckStatusUnderInvestigation, repo.txns[3].CheckStatus)

	// outside the range
	require.Nil(t, repo.txns[4].CheckedInPeriodID)
	require.Nil(t, repo.txns[5].CheckedInPeriodID)

	require.Equal(t, 1, metrics.finalized)
	require.Equal(t, 3, metrics.locked)
	require.Equal(t, "period.finalize", repo.audits[len(repo.audits)-1].Action)
}

func TestFinalizeCountMismatch(t *testing.T) {
	svc, repo, metrics, period := seedQ1(t)
	checkAll(t, svc, period.ID, 1, 3)

	_, err := svc.Finalize(context.Background(), leader, period.ID)
	require.ErrorIs(t, err, shared.ErrCountMismatch)
	var mismatch *shared.CountMismatchError
	require.True(t, errors.As(err, &mismatch))
	require.Equal(t, 1, mismatch.Remaining)

	require.Equal(t, PeriodInProgress, repo.periods[period.ID].Status)
	for _, txn := range repo.txns {
		require.Nil(t, txn.CheckedInPeriodID)
	}
	require.Zero(t, metrics.finalized)
}

func TestFinalizeTwiceFails(t *testing.T) {
	svc, _, _, period := seedQ1(t)
	checkAll(t, svc, period.ID, 1, 2, 3)

	_, err := svc.Finalize(context.Background(), leader, period.ID)
	require.NoError(t, err)
	_, err = svc.Finalize(context.Background(), admin, period.ID)
	require.ErrorIs(t, err, shared.ErrInvalidState)
}

func TestFinalizedPeriodRejectsChecks(t *testing.T) {
	svc, _, _, period := seedQ1(t)
	checkAll(t, svc, period.ID, 1, 2, 3)
	_, err := svc.Finalize(context.Background(), leader, period.ID)
	require.NoError(t, err)

	_, err = svc.RecordCheck(context.Background(), leader, RecordCheckInput{PeriodID: period.ID, TransactionID: 1, Verdict: VerdictApproved})
	require.ErrorIs(t, err, shared.ErrInvalidState)
}

func TestFinalizeRequiresLeaderOrAdmin(t *testing.T) {
	svc, repo, _, period := seedQ1(t)
	checkAll(t, svc, period.ID, 1, 2, 3)

	for _, actor := range []shared.Actor{assistant, outsider, {}} {
		_, err := svc.Finalize(context.Background(), actor, period.ID)
		require.ErrorIs(t, err, shared.ErrForbidden)
	}
	require.Equal(t, PeriodInProgress, repo.periods[period.ID].Status)

	_, err := svc.Finalize(context.Background(), admin, period.ID)
	require.NoError(t, err)
	require.Equal(t, admin.ID, *repo.periods[period.ID].FinalizedBy)
}

func TestFinalizeRollsBackOnWriteFailure(t *testing.T) {
	svc, repo, metrics, period := seedQ1(t)
	checkAll(t, svc, period.ID, 1, 2, 3)
	repo.failNext = true

	_, err := svc.Finalize(context.Background(), leader, period.ID)
	require.ErrorIs(t, err, shared.ErrStorage)
	require.Equal(t, PeriodInProgress, repo.periods[period.ID].Status)
	require.Nil(t, repo.periods[period.ID].FinalizedAt)
	require.Zero(t, metrics.finalized)
}

func TestFinalizeSkipsTransactionsLockedByOverlappingPeriod(t *testing.T) {
	svc, repo, _, period := seedQ1(t)
	ctx := context.Background()
	checkAll(t, svc, period.ID, 1, 2, 3)
	_, err := svc.Finalize(ctx, leader, period.ID)
	require.NoError(t, err)

	overlap := q1Input()
	overlap.Name = "Feb-Apr 2025"
	overlap.DateFrom = day("2025-02-01")
	overlap.DateTo = day("2025-04-30")
	second, err := svc.CreatePeriod(ctx, admin, overlap)
	require.NoError(t, err)

	_, err = svc.RecordCheck(ctx, leader, RecordCheckInput{PeriodID: second.ID, TransactionID: 2, Verdict: VerdictApproved})
	require.ErrorIs(t, err, shared.ErrLocked)

	checkAll(t, svc, second.ID, 5)
	result, err := svc.Finalize(ctx, leader, second.ID)
	require.NoError(t, err)
	require.Equal(t, 1, result.Locked)
	require.Equal(t, period.ID, *repo.txns[2].CheckedInPeriodID)
	require.Equal(t, second.ID, *repo.txns[5].CheckedInPeriodID)
}

func TestVerifyLocksReportsLateImports(t *testing.T) {
	svc, repo, _, period := seedQ1(t)
	checkAll(t, svc, period.ID, 1, 2, 3)
	_, err := svc.Finalize(context.Background(), leader, period.ID)
	require.NoError(t, err)

	violations, err := svc.VerifyLocks(context.Background())
	require.NoError(t, err)
	require.Empty(t, violations)

	repo.addTxn(6, "2025-02-14")
	violations, err = svc.VerifyLocks(context.Background())
	require.NoError(t, err)
	require.Equal(t, []LockViolation{{PeriodID: period.ID, PeriodName: "Q1 2025", Unlocked: 1}}, violations)
}
