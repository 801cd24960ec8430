package services

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"example.com/farmgate/services/orders/internal/models"
	"example.com/farmgate/services/orders/internal/workflow"
)

// quoteApprovedOrder drives a fresh order through manager approval, quote
// submission and quote selection.
func quoteApprovedOrder(t *testing.T, svc *OrderService, users *testUsers) *models.Order {
	t.Helper()
	ctx := context.Background()

	order := createTestOrder(t, svc, users)
	approveTestOrder(t, svc, users, order.ID)
	quoted, err := svc.SubmitQuote(ctx, users.Procurement, order.ID, testQuoteSet(order), RequestContext{})
	require.NoError(t, err)

	var recommended models.QuoteOption
	for _, q := range quoted.QuoteOptions {
		if q.IsRecommended {
			recommended = q
		}
	}
	approved, err := svc.ApproveQuote(ctx, users.Manager, order.ID, ApproveQuoteInput{
		Action:          workflow.ActionApproved,
		SelectedQuoteID: recommended.ID,
	}, RequestContext{})
	require.NoError(t, err)
	return approved
}

func TestCompletePayment(t *testing.T) {
	svc, db, users := newTestService(t)
	ctx := context.Background()

	order := quoteApprovedOrder(t, svc, users)

	paid, err := svc.CompletePayment(ctx, users.Finance, order.ID, PaymentInput{
		Amount:    decimal.NewFromInt(400),
		Method:    "bank_transfer",
		Reference: "TX-7781",
	}, RequestContext{})
	require.NoError(t, err)

	require.Equal(t, workflow.StatusPaymentCompleted, paid.Status)
	require.True(t, paid.PaymentAmount.Equal(decimal.NewFromInt(400)))
	require.Equal(t, users.Finance.ID, *paid.PaidByID)
	require.NotNil(t, paid.PaidAt)

	ledger := ledgerByStage(t, db, order.ID)
	require.Equal(t, workflow.ActionApproved, ledger[workflow.StageFinance].Action)
	require.Equal(t, users.Finance.ID, ledger[workflow.StageFinance].ApproverID)

	require.NotEmpty(t, notificationsFor(t, db, users.Requester.ID))
}

func TestCompletePaymentGates(t *testing.T) {
	svc, _, users := newTestService(t)
	ctx := context.Background()

	order := createTestOrder(t, svc, users)
	payment := PaymentInput{Amount: decimal.NewFromInt(400)}

	// Pending orders cannot be paid
	_, err := svc.CompletePayment(ctx, users.Finance, order.ID, payment, RequestContext{})
	require.Error(t, err)
	require.Equal(t, workflow.KindPrecondition, workflow.KindOf(err))

	approved := quoteApprovedOrder(t, svc, users)

	// Manager cannot record payments
	_, err = svc.CompletePayment(ctx, users.Manager, approved.ID, payment, RequestContext{})
	require.Error(t, err)
	require.Equal(t, workflow.KindForbidden, workflow.KindOf(err))

	// Zero amount is rejected before any state is touched
	_, err = svc.CompletePayment(ctx, users.Finance, approved.ID, PaymentInput{}, RequestContext{})
	require.Error(t, err)
	require.Equal(t, workflow.KindValidation, workflow.KindOf(err))
}

func TestCompleteOrder(t *testing.T) {
	svc, db, users := newTestService(t)
	ctx := context.Background()

	order := quoteApprovedOrder(t, svc, users)
	_, err := svc.CompletePayment(ctx, users.Finance, order.ID,
		PaymentInput{Amount: decimal.NewFromInt(400)}, RequestContext{})
	require.NoError(t, err)

	done, err := svc.CompleteOrder(ctx, users.Finance, order.ID, RequestContext{})
	require.NoError(t, err)
	require.Equal(t, workflow.StatusCompleted, done.Status)
	require.NotNil(t, done.CompletionDate)
	require.True(t, done.Status.IsTerminal())

	var completions []models.OrderNotification
	require.NoError(t, db.Where("recipient_id = ? AND notification_type = ?",
		users.Requester.ID, models.NotifyCompleted).Find(&completions).Error)
	require.Len(t, completions, 1)

	// Completed is terminal
	_, err = svc.CompleteOrder(ctx, users.Finance, order.ID, RequestContext{})
	require.Error(t, err)
	require.Equal(t, workflow.KindPrecondition, workflow.KindOf(err))
}

func TestCompleteOrderAcceptsLegacyFinanceStatus(t *testing.T) {
	svc, db, users := newTestService(t)
	ctx := context.Background()

	order := createTestOrder(t, svc, users)
	// Rows migrated from the older workflow carry approved_by_finance
	require.NoError(t, db.Model(&models.Order{}).
		Where("id = ?", order.ID).
		Update("status", workflow.StatusApprovedByFinance).Error)

	done, err := svc.CompleteOrder(ctx, users.Finance, order.ID, RequestContext{})
	require.NoError(t, err)
	require.Equal(t, workflow.StatusCompleted, done.Status)
}

func TestComments(t *testing.T) {
	svc, _, users := newTestService(t)
	ctx := context.Background()

	order := createTestOrder(t, svc, users)

	_, err := svc.AddComment(ctx, users.Requester, order.ID,
		CommentInput{Comment: "needed before the rains start"}, RequestContext{})
	require.NoError(t, err)

	_, err = svc.AddComment(ctx, users.Manager, order.ID,
		CommentInput{Comment: "check last quarter's supplier first", IsInternal: true}, RequestContext{})
	require.NoError(t, err)

	_, err = svc.AddComment(ctx, users.Requester, order.ID, CommentInput{}, RequestContext{})
	require.Error(t, err)
	require.Equal(t, workflow.KindValidation, workflow.KindOf(err))

	managerView, err := svc.ListComments(ctx, users.Manager, order.ID)
	require.NoError(t, err)
	require.Len(t, managerView, 2)

	// The internal note is hidden from the requester
	requesterView, err := svc.ListComments(ctx, users.Requester, order.ID)
	require.NoError(t, err)
	require.Len(t, requesterView, 1)
	require.Equal(t, "needed before the rains start", requesterView[0].Comment)

	_, err = svc.ListComments(ctx, users.Stranger, order.ID)
	require.Error(t, err)
	require.Equal(t, workflow.KindForbidden, workflow.KindOf(err))
}

func TestApprovalLedgerReadback(t *testing.T) {
	svc, _, users := newTestService(t)
	ctx := context.Background()

	order := quoteApprovedOrder(t, svc, users)

	ledger, err := svc.GetApprovalLedger(ctx, users.Requester, order.ID)
	require.NoError(t, err)
	require.Len(t, ledger, 3)
	require.Equal(t, workflow.ActionApproved, ledger[workflow.StageManagerInitial].Action)
	require.Equal(t, workflow.ActionApproved, ledger[workflow.StageProcurement].Action)
	require.Equal(t, workflow.ActionApproved, ledger[workflow.StageManagerQuote].Action)

	_, err = svc.GetApprovalLedger(ctx, users.Stranger, order.ID)
	require.Error(t, err)
	require.Equal(t, workflow.KindForbidden, workflow.KindOf(err))
}

func TestActivityFeeds(t *testing.T) {
	svc, _, users := newTestService(t)
	ctx := context.Background()

	order := quoteApprovedOrder(t, svc, users)

	trail, err := svc.GetOrderActivity(ctx, users.Requester, order.ID)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(trail), 3)

	feed, err := svc.RecentActivity(ctx, users.Manager, 10)
	require.NoError(t, err)
	require.NotEmpty(t, feed)

	_, err = svc.RecentActivity(ctx, users.Requester, 10)
	require.Error(t, err)
	require.Equal(t, workflow.KindForbidden, workflow.KindOf(err))
}
