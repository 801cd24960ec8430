package workflow

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func TestCheckTransitionHappyPath(t *testing.T) {
	cases := []struct {
		op     Operation
		role   Role
		status Status
	}{
		{OpManagerApprove, RoleManager, StatusPending},
		{OpManagerApprove, RoleSuperAdmin, StatusPending},
		{OpSubmitQuote, RoleProcurement, StatusApprovedByManager},
		{OpSubmitQuote, RoleProcurement, StatusQuoteSubmitted},
		{OpApproveQuote, RoleManager, StatusQuoteSubmitted},
		{OpApproveMixedQuote, RoleAdmin, StatusQuoteSubmitted},
		{OpCompletePayment, RoleFinanceManager, StatusQuoteApprovedByManager},
		{OpComplete, RoleFinanceManager, StatusPaymentCompleted},
		{OpComplete, RoleFinanceManager, StatusApprovedByFinance},
		{OpSubmitRevision, RoleOperator, StatusRevisionByManager},
		{OpSplitAndApprove, RoleManager, StatusPending},
	}
	for _, tc := range cases {
		require.NoError(t, CheckTransition(tc.op, tc.role, tc.status),
			"%s by %s from %s", tc.op, tc.role, tc.status)
	}
}

func TestCheckTransitionRoleMismatch(t *testing.T) {
	cases := []struct {
		op     Operation
		role   Role
		status Status
	}{
		{OpManagerApprove, RoleProcurement, StatusPending},
		{OpSubmitQuote, RoleManager, StatusApprovedByManager},
		{OpCompletePayment, RoleManager, StatusQuoteApprovedByManager},
		{OpDelete, RoleAdmin, StatusPending},
		{OpSplitAndApprove, RoleFinanceManager, StatusPending},
	}
	for _, tc := range cases {
		err := CheckTransition(tc.op, tc.role, tc.status)
		require.Error(t, err, "%s by %s", tc.op, tc.role)
		require.Equal(t, KindForbidden, KindOf(err))
	}
}

func TestCheckTransitionStatusMismatch(t *testing.T) {
	cases := []struct {
		op     Operation
		role   Role
		status Status
	}{
		{OpManagerApprove, RoleManager, StatusApprovedByManager},
		{OpSubmitQuote, RoleProcurement, StatusPending},
		{OpApproveQuote, RoleManager, StatusQuoteApprovedByManager},
		{OpCompletePayment, RoleFinanceManager, StatusPaymentCompleted},
		{OpComplete, RoleFinanceManager, StatusCompleted},
		{OpSubmitRevision, RoleOperator, StatusPending},
		{OpSplitAndApprove, RoleManager, StatusRejected},
	}
	for _, tc := range cases {
		err := CheckTransition(tc.op, tc.role, tc.status)
		require.Error(t, err, "%s from %s", tc.op, tc.status)
		require.Equal(t, KindPrecondition, KindOf(err))
	}
}

func TestCheckTransitionRoleCheckedBeforeStatus(t *testing.T) {
	// A viewer poking a completed order gets forbidden, not precondition
	err := CheckTransition(OpManagerApprove, RoleViewer, StatusCompleted)
	require.Equal(t, KindForbidden, KindOf(err))
}

func TestCheckTransitionUnknownOperation(t *testing.T) {
	err := CheckTransition(Operation("launch"), RoleSuperAdmin, StatusPending)
	require.Equal(t, KindValidation, KindOf(err))
}

func TestUngatedOperations(t *testing.T) {
	// Creation and commenting are open to every role at any status
	for _, role := range anyRole {
		require.NoError(t, CheckTransition(OpCreate, role, ""))
		require.NoError(t, CheckTransition(OpAddComment, role, StatusCompleted))
	}
	require.Empty(t, RequiredStatuses(OpCreate))
}

func TestRequiredStatuses(t *testing.T) {
	require.Equal(t, []Status{StatusPending}, RequiredStatuses(OpManagerApprove))
	require.ElementsMatch(t,
		[]Status{StatusPaymentCompleted, StatusApprovedByFinance},
		RequiredStatuses(OpComplete))
}

func TestStatusPredicates(t *testing.T) {
	for _, s := range AllStatuses {
		require.True(t, s.IsValid())
	}
	require.False(t, Status("shipped").IsValid())

	require.True(t, StatusCompleted.IsTerminal())
	require.True(t, StatusRejected.IsTerminal())
	require.True(t, StatusCancelled.IsTerminal())
	require.False(t, StatusPending.IsTerminal())

	require.True(t, StatusRevisionByProcurement.NeedsRevision())
	require.False(t, StatusApprovedByManager.NeedsRevision())
}

func TestKindOfWalksWrappedErrors(t *testing.T) {
	base := Errorf(KindConflict, "order changed underneath the update")
	wrapped := errors.Wrap(base, "transition failed")

	require.Equal(t, KindConflict, KindOf(wrapped))
	require.True(t, IsRetryable(wrapped))

	require.Equal(t, Kind(""), KindOf(errors.New("connection refused")))
	require.False(t, IsRetryable(nil))
}
