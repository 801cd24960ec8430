package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"example.com/farmgate/services/orders/internal/models"
	"example.com/farmgate/services/orders/internal/workflow"
)

func TestSweepOverdue(t *testing.T) {
	svc, db, users := newTestService(t)
	ctx := context.Background()

	stale := createTestOrder(t, svc, users)
	fresh := createTestOrder(t, svc, users)
	require.NoError(t, db.Model(&models.Order{}).
		Where("id = ?", stale.ID).
		Update("created_at", time.Now().Add(-72*time.Hour)).Error)

	flagged, err := svc.SweepOverdue(ctx, 48*time.Hour)
	require.NoError(t, err)
	require.Equal(t, 1, flagged)

	var overdue []models.OrderNotification
	require.NoError(t, db.Where("notification_type = ?", models.NotifyOverdue).
		Find(&overdue).Error)
	// One notification per managerial user, only for the stale order
	require.Len(t, overdue, 2)
	for _, n := range overdue {
		require.Equal(t, stale.ID, n.OrderID)
	}

	var freshFlags int64
	require.NoError(t, db.Model(&models.OrderNotification{}).
		Where("order_id = ? AND notification_type = ?", fresh.ID, models.NotifyOverdue).
		Count(&freshFlags).Error)
	require.Zero(t, freshFlags)

	// A second run within a day does not nag again
	flagged, err = svc.SweepOverdue(ctx, 48*time.Hour)
	require.NoError(t, err)
	require.Zero(t, flagged)
}

func TestOverdueAge(t *testing.T) {
	base := 48 * time.Hour
	require.Equal(t, 12*time.Hour, overdueAge(workflow.UrgencyCritical, base))
	require.Equal(t, 24*time.Hour, overdueAge(workflow.UrgencyHigh, base))
	require.Equal(t, 48*time.Hour, overdueAge(workflow.UrgencyMedium, base))
	require.Equal(t, 96*time.Hour, overdueAge(workflow.UrgencyLow, base))
}

func TestSweepOverdueScalesByUrgency(t *testing.T) {
	svc, db, users := newTestService(t)
	ctx := context.Background()

	critical := createTestOrder(t, svc, users)
	high := createTestOrder(t, svc, users)
	backdated := time.Now().Add(-13 * time.Hour)
	require.NoError(t, db.Model(&models.Order{}).
		Where("id = ?", critical.ID).
		Updates(map[string]interface{}{
			"urgency":    workflow.UrgencyCritical,
			"created_at": backdated,
		}).Error)
	require.NoError(t, db.Model(&models.Order{}).
		Where("id = ?", high.ID).
		Update("created_at", backdated).Error)

	// At a 48h base the critical order crossed its 12h threshold, the
	// high-urgency one still has 24h.
	flagged, err := svc.SweepOverdue(ctx, 48*time.Hour)
	require.NoError(t, err)
	require.Equal(t, 1, flagged)

	var overdue []models.OrderNotification
	require.NoError(t, db.Where("notification_type = ?", models.NotifyOverdue).
		Find(&overdue).Error)
	require.NotEmpty(t, overdue)
	for _, n := range overdue {
		require.Equal(t, critical.ID, n.OrderID)
	}
}

func TestSweepOverdueSkipsDecidedOrders(t *testing.T) {
	svc, db, users := newTestService(t)
	ctx := context.Background()

	order := createTestOrder(t, svc, users)
	require.NoError(t, db.Model(&models.Order{}).
		Where("id = ?", order.ID).
		Update("created_at", time.Now().Add(-72*time.Hour)).Error)
	approveTestOrder(t, svc, users, order.ID)

	flagged, err := svc.SweepOverdue(ctx, 48*time.Hour)
	require.NoError(t, err)
	require.Zero(t, flagged)
}

func TestReindexUpdatedWithoutSearch(t *testing.T) {
	svc, _, users := newTestService(t)
	ctx := context.Background()

	createTestOrder(t, svc, users)

	// The test service runs without an elasticsearch client
	indexed, err := svc.ReindexUpdated(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	require.Zero(t, indexed)
}

func TestNotificationReads(t *testing.T) {
	svc, _, users := newTestService(t)
	ctx := context.Background()

	createTestOrder(t, svc, users)

	unread, err := svc.UnreadNotificationCount(ctx, users.Manager)
	require.NoError(t, err)
	require.EqualValues(t, 1, unread)

	notifications, err := svc.ListNotifications(ctx, users.Manager, true)
	require.NoError(t, err)
	require.Len(t, notifications, 1)

	// Another recipient cannot read someone's notification away
	err = svc.MarkNotificationRead(ctx, users.Requester, notifications[0].ID)
	require.Error(t, err)
	require.Equal(t, workflow.KindNotFound, workflow.KindOf(err))

	require.NoError(t, svc.MarkNotificationRead(ctx, users.Manager, notifications[0].ID))

	unread, err = svc.UnreadNotificationCount(ctx, users.Manager)
	require.NoError(t, err)
	require.Zero(t, unread)

	all, err := svc.ListNotifications(ctx, users.Manager, false)
	require.NoError(t, err)
	require.Len(t, all, 1)
	require.True(t, all[0].IsRead)
	require.NotNil(t, all[0].ReadAt)
}
