package services

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"example.com/farmgate/services/orders/internal/models"
	"example.com/farmgate/services/orders/internal/workflow"
)

// overdueAge scales the base overdue threshold by urgency, so urgent
// orders are flagged sooner than routine ones.
func overdueAge(urgency workflow.Urgency, base time.Duration) time.Duration {
	switch urgency {
	case workflow.UrgencyCritical:
		return base / 4
	case workflow.UrgencyHigh:
		return base / 2
	case workflow.UrgencyLow:
		return base * 2
	default:
		return base
	}
}

// SweepOverdue notifies managers about pending orders that have waited
// longer than their urgency-scaled share of the base age. Orders already
// flagged within the last day are skipped so the sweep does not repeat
// itself every run.
func (s *OrderService) SweepOverdue(ctx context.Context, maxAge time.Duration) (int, error) {
	now := time.Now()
	// The critical tier has the tightest cutoff, so this query covers
	// every tier; the per-order check below applies the real threshold.
	orders, err := s.orderRepo.PendingOlderThan(ctx, now.Add(-overdueAge(workflow.UrgencyCritical, maxAge)))
	if err != nil {
		return 0, err
	}
	if len(orders) == 0 {
		return 0, nil
	}

	managers, err := s.userRepo.ListByRole(ctx,
		workflow.RoleManager, workflow.RoleAdmin, workflow.RoleSuperAdmin)
	if err != nil {
		return 0, err
	}

	flagged := 0
	for i := range orders {
		order := &orders[i]
		if now.Sub(order.CreatedAt) < overdueAge(order.Urgency, maxAge) {
			continue
		}
		recent, err := s.notificationRepo.HasRecentOverdue(ctx, order.ID, time.Now().Add(-24*time.Hour))
		if err != nil {
			return flagged, err
		}
		if recent {
			continue
		}

		age := time.Since(order.CreatedAt).Round(time.Hour)
		notifications := make([]models.OrderNotification, 0, len(managers))
		for _, m := range managers {
			notifications = append(notifications, models.OrderNotification{
				OrderID:          order.ID,
				RecipientID:      m.ID,
				NotificationType: models.NotifyOverdue,
				Title:            fmt.Sprintf("Order Overdue: %s", order.OrderNumber),
				Message: fmt.Sprintf("Order %s has been awaiting approval for %s",
					order.Title, age),
			})
		}
		if err := s.notificationRepo.CreateOverdue(ctx, notifications); err != nil {
			return flagged, err
		}
		flagged++

		if s.metrics != nil {
			s.metrics.IncrementCounter("orders.overdue.flagged")
		}
	}

	if flagged > 0 {
		log.Info().
			Int("orders", flagged).
			Dur("max_age", maxAge).
			Msg("Overdue sweep flagged pending orders")
	}
	return flagged, nil
}

// ReindexUpdated pushes orders touched since the given time into the
// search index. This is the fallback for index writes that failed after
// a transition committed.
func (s *OrderService) ReindexUpdated(ctx context.Context, since time.Time) (int, error) {
	if s.elasticClient == nil {
		return 0, nil
	}

	orders, err := s.orderRepo.UpdatedSince(ctx, since)
	if err != nil {
		return 0, err
	}

	indexed := 0
	for i := range orders {
		if err := s.elasticClient.IndexOrder(ctx, &orders[i]); err != nil {
			log.Warn().Err(err).
				Str("order_number", orders[i].OrderNumber).
				Msg("Reindex failed for order")
			continue
		}
		indexed++
	}

	if indexed > 0 {
		log.Debug().Int("orders", indexed).Msg("Reindexed recently updated orders")
	}
	return indexed, nil
}
