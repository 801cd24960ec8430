package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"example.com/farmgate/services/orders/internal/models"
	"example.com/farmgate/services/orders/internal/repositories"
	"example.com/farmgate/services/orders/internal/workflow"
)

// PaymentInput is the finance payment record for an approved quote
type PaymentInput struct {
	Amount    decimal.Decimal `json:"amount"`
	Method    string          `json:"method"`
	Reference string          `json:"reference"`
	Notes     string          `json:"notes"`
}

func (in *PaymentInput) validate() error {
	if in.Amount.LessThanOrEqual(decimal.Zero) {
		return workflow.Errorf(workflow.KindValidation, "payment amount must be positive")
	}
	return nil
}

// CompletePayment records payment for the approved quote and moves the
// order to payment_completed. The finance ruling lands on the finance
// ledger stage.
func (s *OrderService) CompletePayment(ctx context.Context, actor *models.User, orderID uuid.UUID, in PaymentInput, reqCtx RequestContext) (*models.Order, error) {
	txn := s.tracer.StartTransaction("complete-order-payment")
	defer s.tracer.EndTransaction(txn)

	if err := in.validate(); err != nil {
		return nil, err
	}

	order, err := s.orderRepo.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if err := workflow.CheckTransition(workflow.OpCompletePayment, actor.Role, order.Status); err != nil {
		s.tracer.RecordError(txn, err)
		return nil, err
	}

	now := time.Now()
	previous := order.Status
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		updates := map[string]interface{}{
			"status":         workflow.StatusPaymentCompleted,
			"payment_amount": in.Amount,
			"paid_by_id":     actor.ID,
			"paid_at":        now,
		}
		if in.Method != "" {
			updates["payment_method"] = in.Method
		}
		if in.Reference != "" {
			updates["payment_reference"] = in.Reference
		}
		if in.Notes != "" {
			updates["payment_notes"] = in.Notes
		}
		if err := repositories.TransitionStatus(tx, order.ID,
			workflow.RequiredStatuses(workflow.OpCompletePayment), updates); err != nil {
			return err
		}
		order.Status = workflow.StatusPaymentCompleted
		order.PaymentAmount = &in.Amount
		order.PaidByID = &actor.ID
		order.PaidAt = &now

		if err := repositories.UpsertDecision(tx, &models.OrderApproval{
			OrderID:    order.ID,
			Stage:      workflow.StageFinance,
			ApproverID: actor.ID,
			Action:     workflow.ActionApproved,
			Notes:      in.Notes,
		}); err != nil {
			return err
		}

		if err := s.logActivity(tx, order, actor, reqCtx, &previous, &order.Status,
			fmt.Sprintf("Payment of $%s completed by %s", in.Amount.StringFixed(2), actor.FullName),
			workflow.PaymentPayload{
				Amount:    workflow.JSONAmount(in.Amount),
				Method:    in.Method,
				Reference: in.Reference,
			}); err != nil {
			return err
		}

		if err := s.notifyRequester(tx, order, models.NotifyApproved,
			fmt.Sprintf("Payment Completed: %s", order.OrderNumber),
			fmt.Sprintf("Payment of $%s was completed for your order %s",
				in.Amount.StringFixed(2), order.Title)); err != nil {
			return err
		}
		return s.notifyRoles(tx, order, models.NotifyApproved,
			fmt.Sprintf("Payment Completed: %s", order.OrderNumber),
			fmt.Sprintf("Payment of $%s was completed for %s; delivery can proceed",
				in.Amount.StringFixed(2), order.Title),
			workflow.RoleProcurement)
	})
	if err != nil {
		s.tracer.RecordError(txn, err)
		return nil, err
	}

	log.Info().
		Str("order_number", order.OrderNumber).
		Str("amount", in.Amount.String()).
		Str("paid_by", actor.Username).
		Msg("Order payment completed")

	s.afterTransition(ctx, order, workflow.OpCompletePayment)
	return order, nil
}

// CompleteOrder marks a paid order delivered and closes the workflow.
// Orders carrying the older approved_by_finance status complete the same
// way.
func (s *OrderService) CompleteOrder(ctx context.Context, actor *models.User, orderID uuid.UUID, reqCtx RequestContext) (*models.Order, error) {
	txn := s.tracer.StartTransaction("complete-order")
	defer s.tracer.EndTransaction(txn)

	order, err := s.orderRepo.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if err := workflow.CheckTransition(workflow.OpComplete, actor.Role, order.Status); err != nil {
		s.tracer.RecordError(txn, err)
		return nil, err
	}

	now := time.Now()
	previous := order.Status
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := repositories.TransitionStatus(tx, order.ID,
			workflow.RequiredStatuses(workflow.OpComplete),
			map[string]interface{}{
				"status":          workflow.StatusCompleted,
				"completion_date": now,
			}); err != nil {
			return err
		}
		order.Status = workflow.StatusCompleted
		order.CompletionDate = &now

		if err := s.logActivity(tx, order, actor, reqCtx, &previous, &order.Status,
			fmt.Sprintf("Order %s marked completed by %s", order.OrderNumber, actor.FullName),
			workflow.CompletionPayload{
				CompletionDate: now.Format(time.RFC3339),
			}); err != nil {
			return err
		}

		return s.notifyRequester(tx, order, models.NotifyCompleted,
			fmt.Sprintf("Order Completed: %s", order.OrderNumber),
			fmt.Sprintf("Your order %s has been delivered and completed", order.Title))
	})
	if err != nil {
		s.tracer.RecordError(txn, err)
		return nil, err
	}

	log.Info().
		Str("order_number", order.OrderNumber).
		Str("completed_by", actor.Username).
		Msg("Order completed")

	s.afterTransition(ctx, order, workflow.OpComplete)
	return order, nil
}

// CommentInput is a note attached to an order
type CommentInput struct {
	Comment    string `json:"comment"`
	IsInternal bool   `json:"is_internal"`
}

// AddComment attaches a comment to an order. Internal comments stay
// hidden from the requester when the order is read back.
func (s *OrderService) AddComment(ctx context.Context, actor *models.User, orderID uuid.UUID, in CommentInput, reqCtx RequestContext) (*models.OrderComment, error) {
	if in.Comment == "" {
		return nil, workflow.Errorf(workflow.KindValidation, "comment text is required")
	}
	if err := workflow.CheckTransition(workflow.OpAddComment, actor.Role, ""); err != nil {
		return nil, err
	}

	order, err := s.orderRepo.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !s.canView(actor, order) {
		return nil, workflow.Errorf(workflow.KindForbidden,
			"role %q may not comment on order %s", actor.Role, order.OrderNumber)
	}

	comment := &models.OrderComment{
		ID:         uuid.New(),
		OrderID:    order.ID,
		UserID:     actor.ID,
		Comment:    in.Comment,
		IsInternal: in.IsInternal,
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(comment).Error; err != nil {
			return errors.Wrap(err, "failed to create comment")
		}
		return s.logActivity(tx, order, actor, reqCtx, nil, nil,
			fmt.Sprintf("Comment added by %s", actor.FullName),
			workflow.CommentPayload{
				Comment:    in.Comment,
				IsInternal: in.IsInternal,
			})
	})
	if err != nil {
		return nil, err
	}
	return comment, nil
}
