package services

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"example.com/farmgate/services/orders/internal/cache"
	"example.com/farmgate/services/orders/internal/models"
	"example.com/farmgate/services/orders/internal/workflow"
)

// ListNotifications returns the actor's notifications, newest first
func (s *OrderService) ListNotifications(ctx context.Context, actor *models.User, unreadOnly bool) ([]models.OrderNotification, error) {
	return s.notificationRepo.ListForRecipient(ctx, actor.ID, unreadOnly)
}

// MarkNotificationRead marks one of the actor's notifications as read.
// Another user's notification id comes back not-found rather than
// forbidden, so ids cannot be probed.
func (s *OrderService) MarkNotificationRead(ctx context.Context, actor *models.User, notificationID uuid.UUID) error {
	if err := s.notificationRepo.MarkRead(ctx, notificationID, actor.ID); err != nil {
		return err
	}
	if s.cache != nil {
		if err := s.cache.Delete(ctx, cache.UnreadCountKey(actor.ID)); err != nil {
			log.Debug().Err(err).Msg("Failed to invalidate unread count cache")
		}
	}
	return nil
}

// UnreadNotificationCount returns the actor's unread notification count,
// cached briefly since the badge is polled far more often than it changes.
func (s *OrderService) UnreadNotificationCount(ctx context.Context, actor *models.User) (int64, error) {
	if s.cache != nil {
		var cached int64
		if err := s.cache.Get(ctx, cache.UnreadCountKey(actor.ID), &cached); err == nil {
			return cached, nil
		}
	}

	count, err := s.notificationRepo.UnreadCount(ctx, actor.ID)
	if err != nil {
		return 0, err
	}
	if s.cache != nil {
		if err := s.cache.Set(ctx, cache.UnreadCountKey(actor.ID), count, 15*time.Second); err != nil {
			log.Debug().Err(err).Msg("Failed to cache unread count")
		}
	}
	return count, nil
}

// GetOrderActivity returns the audit trail of an order the actor may view
func (s *OrderService) GetOrderActivity(ctx context.Context, actor *models.User, orderID uuid.UUID) ([]models.OrderActivity, error) {
	order, err := s.orderRepo.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !s.canView(actor, order) {
		return nil, workflow.Errorf(workflow.KindForbidden,
			"role %q may not view order %s", actor.Role, order.OrderNumber)
	}
	return s.activityRepo.ListForOrder(ctx, orderID)
}

// GetApprovalLedger returns the latest ruling per stage for an order
func (s *OrderService) GetApprovalLedger(ctx context.Context, actor *models.User, orderID uuid.UUID) (map[workflow.Stage]models.OrderApproval, error) {
	order, err := s.orderRepo.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !s.canView(actor, order) {
		return nil, workflow.Errorf(workflow.KindForbidden,
			"role %q may not view order %s", actor.Role, order.OrderNumber)
	}
	return s.approvalRepo.LatestByStage(ctx, orderID)
}

// RecentActivity returns the newest audit entries across all orders.
// Restricted to managerial roles.
func (s *OrderService) RecentActivity(ctx context.Context, actor *models.User, limit int) ([]models.OrderActivity, error) {
	switch actor.Role {
	case workflow.RoleSuperAdmin, workflow.RoleAdmin, workflow.RoleManager:
	default:
		return nil, workflow.Errorf(workflow.KindForbidden,
			"role %q may not view the activity feed", actor.Role)
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.activityRepo.Recent(ctx, limit)
}

// ListComments returns an order's comments. Internal comments are
// filtered out for the plain requester.
func (s *OrderService) ListComments(ctx context.Context, actor *models.User, orderID uuid.UUID) ([]models.OrderComment, error) {
	order, err := s.orderRepo.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !s.canView(actor, order) {
		return nil, workflow.Errorf(workflow.KindForbidden,
			"role %q may not view order %s", actor.Role, order.OrderNumber)
	}

	var comments []models.OrderComment
	err = s.readOnlyDB.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("created_at ASC").
		Find(&comments).Error
	if err != nil {
		return nil, err
	}

	switch actor.Role {
	case workflow.RoleSuperAdmin, workflow.RoleAdmin, workflow.RoleManager,
		workflow.RoleProcurement, workflow.RoleFinanceManager:
		return comments, nil
	}

	visible := comments[:0]
	for _, c := range comments {
		if !c.IsInternal || c.UserID == actor.ID {
			visible = append(visible, c)
		}
	}
	return visible, nil
}
