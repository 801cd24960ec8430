package services

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"example.com/farmgate/services/orders/internal/models"
	"example.com/farmgate/services/orders/internal/workflow"
)

func TestSubmitQuote(t *testing.T) {
	svc, db, users := newTestService(t)
	ctx := context.Background()

	order := createTestOrder(t, svc, users)
	approveTestOrder(t, svc, users, order.ID)

	quoted, err := svc.SubmitQuote(ctx, users.Procurement, order.ID, testQuoteSet(order), RequestContext{})
	require.NoError(t, err)
	require.Equal(t, workflow.StatusQuoteSubmitted, quoted.Status)
	require.Len(t, quoted.QuoteOptions, 2)

	ledger := ledgerByStage(t, db, order.ID)
	require.Equal(t, workflow.ActionApproved, ledger[workflow.StageProcurement].Action)
	require.Equal(t, users.Procurement.ID, ledger[workflow.StageProcurement].ApproverID)

	// Each quote carries per-item lines
	var itemQuotes []models.QuoteOptionItem
	require.NoError(t, db.Find(&itemQuotes).Error)
	require.Len(t, itemQuotes, 4)
}

func TestSubmitQuoteRecommendedInvariant(t *testing.T) {
	svc, _, users := newTestService(t)
	ctx := context.Background()

	order := createTestOrder(t, svc, users)
	approveTestOrder(t, svc, users, order.ID)

	none := testQuoteSet(order)
	none.Quotes[0].IsRecommended = false
	_, err := svc.SubmitQuote(ctx, users.Procurement, order.ID, none, RequestContext{})
	require.Error(t, err)
	require.Equal(t, workflow.KindValidation, workflow.KindOf(err))

	both := testQuoteSet(order)
	both.Quotes[1].IsRecommended = true
	_, err = svc.SubmitQuote(ctx, users.Procurement, order.ID, both, RequestContext{})
	require.Error(t, err)
	require.Equal(t, workflow.KindValidation, workflow.KindOf(err))
}

func TestSubmitQuoteReplacesExistingSet(t *testing.T) {
	svc, db, users := newTestService(t)
	ctx := context.Background()

	order := createTestOrder(t, svc, users)
	approveTestOrder(t, svc, users, order.ID)

	first, err := svc.SubmitQuote(ctx, users.Procurement, order.ID, testQuoteSet(order), RequestContext{})
	require.NoError(t, err)
	oldIDs := make([]uuid.UUID, 0, len(first.QuoteOptions))
	for _, q := range first.QuoteOptions {
		oldIDs = append(oldIDs, q.ID)
	}

	replacement := testQuoteSet(order)
	replacement.Quotes = append(replacement.Quotes, QuoteInput{
		SupplierName: "Rural Traders",
		QuotedAmount: decimal.NewFromInt(470),
	})
	second, err := svc.SubmitQuote(ctx, users.Procurement, order.ID, replacement, RequestContext{})
	require.NoError(t, err)
	require.Len(t, second.QuoteOptions, 3)

	var survivors int64
	require.NoError(t, db.Model(&models.QuoteOption{}).
		Where("id IN ?", oldIDs).Count(&survivors).Error)
	require.Zero(t, survivors)

	// The procurement ledger entry remains a single upserted row
	ledgerByStage(t, db, order.ID)
}

func TestApproveQuote(t *testing.T) {
	svc, db, users := newTestService(t)
	ctx := context.Background()

	order := createTestOrder(t, svc, users)
	approveTestOrder(t, svc, users, order.ID)
	quoted, err := svc.SubmitQuote(ctx, users.Procurement, order.ID, testQuoteSet(order), RequestContext{})
	require.NoError(t, err)

	var selected models.QuoteOption
	for _, q := range quoted.QuoteOptions {
		if q.SupplierName == "AgroVet Supplies" {
			selected = q
		}
	}

	approved, err := svc.ApproveQuote(ctx, users.Manager, order.ID, ApproveQuoteInput{
		Action:          workflow.ActionApproved,
		SelectedQuoteID: selected.ID,
	}, RequestContext{})
	require.NoError(t, err)

	require.Equal(t, workflow.StatusQuoteApprovedByManager, approved.Status)
	require.True(t, approved.QuoteAmount.Equal(decimal.NewFromInt(400)))
	require.Equal(t, "AgroVet Supplies", *approved.QuoteSupplier)
	// Estimated cost is overwritten by the quoted amount
	require.True(t, approved.EstimatedCost.Equal(decimal.NewFromInt(400)))

	var stored models.QuoteOption
	require.NoError(t, db.First(&stored, "id = ?", selected.ID).Error)
	require.True(t, stored.IsSelected)

	ledger := ledgerByStage(t, db, order.ID)
	require.Equal(t, workflow.ActionApproved, ledger[workflow.StageManagerQuote].Action)

	require.NotEmpty(t, notificationsFor(t, db, users.Finance.ID))
}

func TestApproveQuoteRequiresSelection(t *testing.T) {
	svc, _, users := newTestService(t)
	ctx := context.Background()

	order := createTestOrder(t, svc, users)

	_, err := svc.ApproveQuote(ctx, users.Manager, order.ID,
		ApproveQuoteInput{Action: workflow.ActionApproved}, RequestContext{})
	require.Error(t, err)
	require.Equal(t, workflow.KindValidation, workflow.KindOf(err))
}

func TestRejectQuoteSet(t *testing.T) {
	svc, db, users := newTestService(t)
	ctx := context.Background()

	order := createTestOrder(t, svc, users)
	approveTestOrder(t, svc, users, order.ID)
	_, err := svc.SubmitQuote(ctx, users.Procurement, order.ID, testQuoteSet(order), RequestContext{})
	require.NoError(t, err)

	rejected, err := svc.ApproveQuote(ctx, users.Manager, order.ID, ApproveQuoteInput{
		Action: workflow.ActionRejected,
		Notes:  "prices too high, renegotiate",
	}, RequestContext{})
	require.NoError(t, err)
	require.Equal(t, workflow.StatusApprovedByManager, rejected.Status)

	ledger := ledgerByStage(t, db, order.ID)
	require.Equal(t, workflow.ActionRejected, ledger[workflow.StageManagerQuote].Action)

	var selectedCount int64
	require.NoError(t, db.Model(&models.QuoteOption{}).
		Where("order_id = ? AND is_selected = ?", order.ID, true).
		Count(&selectedCount).Error)
	require.Zero(t, selectedCount)

	// Procurement can resubmit after the rejection
	_, err = svc.SubmitQuote(ctx, users.Procurement, order.ID, testQuoteSet(order), RequestContext{})
	require.NoError(t, err)
}

func TestApproveMixedQuote(t *testing.T) {
	svc, db, users := newTestService(t)
	ctx := context.Background()

	order := createTestOrder(t, svc, users)
	approveTestOrder(t, svc, users, order.ID)
	quoted, err := svc.SubmitQuote(ctx, users.Procurement, order.ID, testQuoteSet(order), RequestContext{})
	require.NoError(t, err)

	// Pick item one from the first supplier and item two from the second
	var selection []uuid.UUID
	for _, q := range quoted.QuoteOptions {
		for _, iq := range q.ItemQuotes {
			if q.SupplierName == "AgroVet Supplies" && iq.OrderItemID == order.Items[0].ID {
				selection = append(selection, iq.ID)
			}
			if q.SupplierName == "FarmChem Ltd" && iq.OrderItemID == order.Items[1].ID {
				selection = append(selection, iq.ID)
			}
		}
	}
	require.Len(t, selection, 2)

	approved, err := svc.ApproveMixedQuote(ctx, users.Manager, order.ID,
		MixedQuoteInput{SelectedItemQuoteIDs: selection}, RequestContext{})
	require.NoError(t, err)

	require.Equal(t, workflow.StatusQuoteApprovedByManager, approved.Status)
	// 400/2 from one supplier plus 440/2 from the other
	require.True(t, approved.QuoteAmount.Equal(decimal.NewFromInt(420)))
	require.Contains(t, *approved.QuoteSupplier, "AgroVet Supplies")
	require.Contains(t, *approved.QuoteSupplier, "FarmChem Ltd")

	var selectedItems int64
	require.NoError(t, db.Model(&models.QuoteOptionItem{}).
		Where("is_selected = ?", true).Count(&selectedItems).Error)
	require.EqualValues(t, 2, selectedItems)

	var selectedOptions int64
	require.NoError(t, db.Model(&models.QuoteOption{}).
		Where("order_id = ? AND is_selected = ?", order.ID, true).
		Count(&selectedOptions).Error)
	require.EqualValues(t, 2, selectedOptions)
}

func TestApproveMixedQuoteRejectsDoubleItemSelection(t *testing.T) {
	svc, _, users := newTestService(t)
	ctx := context.Background()

	order := createTestOrder(t, svc, users)
	approveTestOrder(t, svc, users, order.ID)
	quoted, err := svc.SubmitQuote(ctx, users.Procurement, order.ID, testQuoteSet(order), RequestContext{})
	require.NoError(t, err)

	// Two different suppliers quoting the same item
	var selection []uuid.UUID
	for _, q := range quoted.QuoteOptions {
		for _, iq := range q.ItemQuotes {
			if iq.OrderItemID == order.Items[0].ID {
				selection = append(selection, iq.ID)
			}
		}
	}
	require.Len(t, selection, 2)

	_, err = svc.ApproveMixedQuote(ctx, users.Manager, order.ID,
		MixedQuoteInput{SelectedItemQuoteIDs: selection}, RequestContext{})
	require.Error(t, err)
	require.Equal(t, workflow.KindValidation, workflow.KindOf(err))
}

func TestSubmitQuoteRoleAndStatusGates(t *testing.T) {
	svc, _, users := newTestService(t)
	ctx := context.Background()

	order := createTestOrder(t, svc, users)

	// Quotes cannot land on a pending order
	_, err := svc.SubmitQuote(ctx, users.Procurement, order.ID, testQuoteSet(order), RequestContext{})
	require.Error(t, err)
	require.Equal(t, workflow.KindPrecondition, workflow.KindOf(err))

	approveTestOrder(t, svc, users, order.ID)

	// Only procurement may quote
	_, err = svc.SubmitQuote(ctx, users.Finance, order.ID, testQuoteSet(order), RequestContext{})
	require.Error(t, err)
	require.Equal(t, workflow.KindForbidden, workflow.KindOf(err))
}
