package services

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"example.com/farmgate/services/orders/internal/models"
	"example.com/farmgate/services/orders/internal/workflow"
)

func TestCreateOrder(t *testing.T) {
	svc, db, users := newTestService(t)
	ctx := context.Background()

	order := createTestOrder(t, svc, users)

	require.Equal(t, workflow.StatusPending, order.Status)
	require.Equal(t, fmt.Sprintf("MED-%d-0001", time.Now().Year()), order.OrderNumber)
	require.Len(t, order.Items, 2)
	require.Equal(t, users.Requester.ID, order.RequestedByID)

	var activities []models.OrderActivity
	require.NoError(t, db.Where("order_id = ?", order.ID).Find(&activities).Error)
	require.Len(t, activities, 1)
	require.Equal(t, workflow.ActivityCreated, activities[0].ActivityType)
	require.Nil(t, activities[0].PreviousStatus)
	require.Equal(t, workflow.StatusPending, *activities[0].NewStatus)

	var meta map[string]interface{}
	require.NoError(t, json.Unmarshal(activities[0].Metadata, &meta))
	require.Equal(t, "Ivermectin restock", meta["title"])
	require.EqualValues(t, 2, meta["item_count"])

	// Managerial roles are notified, the requester is not
	require.NotEmpty(t, notificationsFor(t, db, users.Manager.ID))
	require.NotEmpty(t, notificationsFor(t, db, users.SuperAdmin.ID))
	require.Empty(t, notificationsFor(t, db, users.Requester.ID))

	// Sequence advances per type and year
	second, err := svc.CreateOrder(ctx, users.Requester, testCreateInput(), RequestContext{})
	require.NoError(t, err)
	require.Equal(t, fmt.Sprintf("MED-%d-0002", time.Now().Year()), second.OrderNumber)
}

func TestCreateOrderValidation(t *testing.T) {
	svc, _, users := newTestService(t)
	ctx := context.Background()

	cases := []struct {
		name   string
		mutate func(*CreateOrderInput)
	}{
		{"unknown order type", func(in *CreateOrderInput) { in.OrderType = "livestock" }},
		{"missing title", func(in *CreateOrderInput) { in.Title = "" }},
		{"zero quantity", func(in *CreateOrderInput) { in.Quantity = 0 }},
		{"zero cost", func(in *CreateOrderInput) { in.EstimatedCost = decimal.Zero }},
		{"no items", func(in *CreateOrderInput) { in.Items = nil }},
		{"item without name", func(in *CreateOrderInput) { in.Items[0].Name = "" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			in := testCreateInput()
			tc.mutate(&in)
			_, err := svc.CreateOrder(ctx, users.Requester, in, RequestContext{})
			require.Error(t, err)
			require.Equal(t, workflow.KindValidation, workflow.KindOf(err))
		})
	}
}

func TestManagerApprove(t *testing.T) {
	svc, db, users := newTestService(t)
	ctx := context.Background()

	order := createTestOrder(t, svc, users)
	approved := approveTestOrder(t, svc, users, order.ID)
	require.Equal(t, workflow.StatusApprovedByManager, approved.Status)

	ledger := ledgerByStage(t, db, order.ID)
	entry, ok := ledger[workflow.StageManagerInitial]
	require.True(t, ok)
	require.Equal(t, workflow.ActionApproved, entry.Action)
	require.Equal(t, users.Manager.ID, entry.ApproverID)

	// Procurement and the requester both hear about it
	require.NotEmpty(t, notificationsFor(t, db, users.Procurement.ID))
	require.NotEmpty(t, notificationsFor(t, db, users.Requester.ID))

	// A second approval fails the precondition, not the role gate
	_, err := svc.ManagerApprove(ctx, users.Manager, order.ID,
		DecisionInput{Action: workflow.ActionApproved}, RequestContext{})
	require.Error(t, err)
	require.Equal(t, workflow.KindPrecondition, workflow.KindOf(err))
}

func TestManagerApproveRoleGate(t *testing.T) {
	svc, _, users := newTestService(t)
	ctx := context.Background()

	order := createTestOrder(t, svc, users)

	_, err := svc.ManagerApprove(ctx, users.Procurement, order.ID,
		DecisionInput{Action: workflow.ActionApproved}, RequestContext{})
	require.Error(t, err)
	require.Equal(t, workflow.KindForbidden, workflow.KindOf(err))
}

func TestManagerReject(t *testing.T) {
	svc, db, users := newTestService(t)
	ctx := context.Background()

	order := createTestOrder(t, svc, users)

	// Rejection without notes is refused
	_, err := svc.ManagerApprove(ctx, users.Manager, order.ID,
		DecisionInput{Action: workflow.ActionRejected}, RequestContext{})
	require.Error(t, err)
	require.Equal(t, workflow.KindValidation, workflow.KindOf(err))

	rejected, err := svc.ManagerApprove(ctx, users.Manager, order.ID,
		DecisionInput{Action: workflow.ActionRejected, Notes: "over budget"}, RequestContext{})
	require.NoError(t, err)
	require.Equal(t, workflow.StatusRejected, rejected.Status)
	require.Equal(t, "over budget", *rejected.RejectionReason)
	require.True(t, rejected.Status.IsTerminal())

	ledger := ledgerByStage(t, db, order.ID)
	require.Equal(t, workflow.ActionRejected, ledger[workflow.StageManagerInitial].Action)

	var notifications []models.OrderNotification
	require.NoError(t, db.Where("recipient_id = ? AND notification_type = ?",
		users.Requester.ID, models.NotifyRejected).Find(&notifications).Error)
	require.Len(t, notifications, 1)
}

func TestRevisionLoop(t *testing.T) {
	svc, db, users := newTestService(t)
	ctx := context.Background()

	order := createTestOrder(t, svc, users)

	revised, err := svc.ManagerApprove(ctx, users.Manager, order.ID,
		DecisionInput{Action: workflow.ActionRevisionRequested, Notes: "fix quantity"}, RequestContext{})
	require.NoError(t, err)
	require.Equal(t, workflow.StatusRevisionByManager, revised.Status)
	require.Equal(t, "fix quantity", *revised.RevisionReason)
	require.Equal(t, users.Manager.ID, *revised.RevisionRequestedBy)

	ledger := ledgerByStage(t, db, order.ID)
	require.Equal(t, workflow.ActionRevisionRequested, ledger[workflow.StageManagerInitial].Action)
	require.True(t, ledger[workflow.StageManagerInitial].RequiresRevision)
	require.False(t, ledger[workflow.StageManagerInitial].RevisionCompleted)

	quantity := 30
	resubmitted, err := svc.SubmitRevision(ctx, users.Requester, order.ID,
		RevisionInput{Quantity: &quantity}, RequestContext{})
	require.NoError(t, err)
	require.Equal(t, workflow.StatusPending, resubmitted.Status)
	require.Equal(t, 30, resubmitted.Quantity)
	require.Nil(t, resubmitted.RevisionReason)
	require.Nil(t, resubmitted.RevisionRequestedBy)

	ledger = ledgerByStage(t, db, order.ID)
	require.True(t, ledger[workflow.StageManagerInitial].RevisionCompleted)

	// Re-approval replaces the ledger row in place, never adds a second
	approveTestOrder(t, svc, users, order.ID)
	ledger = ledgerByStage(t, db, order.ID)
	require.Equal(t, workflow.ActionApproved, ledger[workflow.StageManagerInitial].Action)
}

func TestSubmitRevisionObjectGate(t *testing.T) {
	svc, _, users := newTestService(t)
	ctx := context.Background()

	order := createTestOrder(t, svc, users)
	_, err := svc.ManagerApprove(ctx, users.Manager, order.ID,
		DecisionInput{Action: workflow.ActionRevisionRequested, Notes: "wrong supplier"}, RequestContext{})
	require.NoError(t, err)

	quantity := 5
	_, err = svc.SubmitRevision(ctx, users.Stranger, order.ID,
		RevisionInput{Quantity: &quantity}, RequestContext{})
	require.Error(t, err)
	require.Equal(t, workflow.KindForbidden, workflow.KindOf(err))

	// Veterinary staff may revise medicine orders on the requester's behalf
	_, err = svc.SubmitRevision(ctx, users.Vet, order.ID,
		RevisionInput{Quantity: &quantity}, RequestContext{})
	require.NoError(t, err)
}

func TestDeleteOrder(t *testing.T) {
	svc, db, users := newTestService(t)
	ctx := context.Background()

	order := createTestOrder(t, svc, users)

	err := svc.DeleteOrder(ctx, users.Manager, order.ID, "cleanup", RequestContext{})
	require.Error(t, err)
	require.Equal(t, workflow.KindForbidden, workflow.KindOf(err))

	require.NoError(t, svc.DeleteOrder(ctx, users.SuperAdmin, order.ID, "duplicate entry", RequestContext{}))

	_, err = svc.GetOrder(ctx, users.SuperAdmin, order.ID)
	require.Error(t, err)
	require.Equal(t, workflow.KindNotFound, workflow.KindOf(err))

	// The deletion itself stays on the audit trail
	var activities []models.OrderActivity
	require.NoError(t, db.Where("order_id = ? AND activity_type = ?",
		order.ID, workflow.ActivityDeleted).Find(&activities).Error)
	require.Len(t, activities, 1)
}

func TestGetOrderVisibility(t *testing.T) {
	svc, _, users := newTestService(t)
	ctx := context.Background()

	order := createTestOrder(t, svc, users)

	// Requester and managers see a pending order, procurement does not yet
	_, err := svc.GetOrder(ctx, users.Requester, order.ID)
	require.NoError(t, err)
	_, err = svc.GetOrder(ctx, users.Manager, order.ID)
	require.NoError(t, err)
	_, err = svc.GetOrder(ctx, users.Procurement, order.ID)
	require.Error(t, err)
	require.Equal(t, workflow.KindForbidden, workflow.KindOf(err))
	_, err = svc.GetOrder(ctx, users.Stranger, order.ID)
	require.Error(t, err)

	approveTestOrder(t, svc, users, order.ID)
	_, err = svc.GetOrder(ctx, users.Procurement, order.ID)
	require.NoError(t, err)
}

func TestDashboardStats(t *testing.T) {
	svc, _, users := newTestService(t)
	ctx := context.Background()

	first := createTestOrder(t, svc, users)
	createTestOrder(t, svc, users)
	approveTestOrder(t, svc, users, first.ID)

	stats, err := svc.GetDashboardStats(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 2, stats.TotalOrders)
	require.EqualValues(t, 1, stats.Pending)
	require.EqualValues(t, 1, stats.ManagerApproved)
	require.EqualValues(t, 0, stats.Completed)
}
