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

// DecisionInput is a manager's ruling on a pending order
type DecisionInput struct {
	Action workflow.DecisionAction `json:"action"`
	Notes  string                  `json:"notes"`
}

func (in *DecisionInput) validate() error {
	switch in.Action {
	case workflow.ActionApproved:
		return nil
	case workflow.ActionRejected, workflow.ActionRevisionRequested:
		if in.Notes == "" {
			return workflow.Errorf(workflow.KindValidation,
				"notes are required when the action is %s", in.Action)
		}
		return nil
	default:
		return workflow.Errorf(workflow.KindValidation, "unknown action %q", in.Action)
	}
}

// ManagerApprove records the initial managerial ruling on a pending
// order: approve it into the procurement stage, reject it terminally, or
// send it back to the requester for revision.
func (s *OrderService) ManagerApprove(ctx context.Context, actor *models.User, orderID uuid.UUID, in DecisionInput, reqCtx RequestContext) (*models.Order, error) {
	txn := s.tracer.StartTransaction("manager-approve-order")
	defer s.tracer.EndTransaction(txn)

	if err := in.validate(); err != nil {
		return nil, err
	}

	order, err := s.orderRepo.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if err := workflow.CheckTransition(workflow.OpManagerApprove, actor.Role, order.Status); err != nil {
		s.tracer.RecordError(txn, err)
		return nil, err
	}

	previous := order.Status
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		switch in.Action {
		case workflow.ActionApproved:
			return s.applyInitialApproval(tx, order, actor, in, reqCtx, previous)
		case workflow.ActionRejected:
			return s.applyRejection(tx, order, actor, workflow.StageManagerInitial,
				workflow.ActivityManagerRejected, in, reqCtx, previous)
		default:
			return s.applyRevisionRequest(tx, order, actor, workflow.StageManagerInitial,
				workflow.StatusRevisionByManager, in, reqCtx, previous)
		}
	})
	if err != nil {
		s.tracer.RecordError(txn, err)
		return nil, err
	}

	log.Info().
		Str("order_number", order.OrderNumber).
		Str("action", string(in.Action)).
		Str("approver", actor.Username).
		Msg("Manager decision recorded")

	s.afterTransition(ctx, order, workflow.OpManagerApprove)
	return order, nil
}

func (s *OrderService) applyInitialApproval(tx *gorm.DB, order *models.Order, actor *models.User, in DecisionInput, reqCtx RequestContext, previous workflow.Status) error {
	if err := repositories.TransitionStatus(tx, order.ID,
		workflow.RequiredStatuses(workflow.OpManagerApprove),
		map[string]interface{}{"status": workflow.StatusApprovedByManager}); err != nil {
		return err
	}
	order.Status = workflow.StatusApprovedByManager

	if err := repositories.UpsertDecision(tx, &models.OrderApproval{
		OrderID:    order.ID,
		Stage:      workflow.StageManagerInitial,
		ApproverID: actor.ID,
		Action:     workflow.ActionApproved,
		Notes:      in.Notes,
	}); err != nil {
		return err
	}

	if err := s.logActivity(tx, order, actor, reqCtx, &previous, &order.Status,
		fmt.Sprintf("Order approved by %s", actor.FullName),
		workflow.DecisionPayload{
			Type:   workflow.ActivityManagerApproved,
			Stage:  string(workflow.StageManagerInitial),
			Action: string(workflow.ActionApproved),
			Notes:  in.Notes,
		}); err != nil {
		return err
	}

	if err := s.notifyRoles(tx, order, models.NotifyApprovalNeeded,
		fmt.Sprintf("Quotes Needed: %s", order.OrderNumber),
		fmt.Sprintf("Approved order for %s needs supplier quotes (estimated cost: $%s)",
			order.Title, order.EstimatedCost.StringFixed(2)),
		workflow.RoleProcurement); err != nil {
		return err
	}
	return s.notifyRequester(tx, order, models.NotifyApproved,
		fmt.Sprintf("Order Approved: %s", order.OrderNumber),
		fmt.Sprintf("Your order for %s has been approved and moved to procurement", order.Title))
}

func (s *OrderService) applyRejection(tx *gorm.DB, order *models.Order, actor *models.User, stage workflow.Stage, activityType workflow.ActivityType, in DecisionInput, reqCtx RequestContext, previous workflow.Status) error {
	if err := repositories.TransitionStatus(tx, order.ID,
		[]workflow.Status{previous},
		map[string]interface{}{
			"status":           workflow.StatusRejected,
			"rejection_reason": in.Notes,
		}); err != nil {
		return err
	}
	order.Status = workflow.StatusRejected
	order.RejectionReason = &in.Notes

	if err := repositories.UpsertDecision(tx, &models.OrderApproval{
		OrderID:    order.ID,
		Stage:      stage,
		ApproverID: actor.ID,
		Action:     workflow.ActionRejected,
		Notes:      in.Notes,
	}); err != nil {
		return err
	}

	if err := s.logActivity(tx, order, actor, reqCtx, &previous, &order.Status,
		fmt.Sprintf("Order rejected by %s: %s", actor.FullName, in.Notes),
		workflow.DecisionPayload{
			Type:   activityType,
			Stage:  string(stage),
			Action: string(workflow.ActionRejected),
			Notes:  in.Notes,
		}); err != nil {
		return err
	}

	return s.notifyRequester(tx, order, models.NotifyRejected,
		fmt.Sprintf("Order Rejected: %s", order.OrderNumber),
		fmt.Sprintf("Your order for %s has been rejected. Reason: %s", order.Title, in.Notes))
}

func (s *OrderService) applyRevisionRequest(tx *gorm.DB, order *models.Order, actor *models.User, stage workflow.Stage, target workflow.Status, in DecisionInput, reqCtx RequestContext, previous workflow.Status) error {
	now := time.Now()
	if err := repositories.TransitionStatus(tx, order.ID,
		[]workflow.Status{previous},
		map[string]interface{}{
			"status":                target,
			"revision_reason":       in.Notes,
			"revision_requested_by": actor.ID,
			"revision_requested_at": &now,
		}); err != nil {
		return err
	}
	order.Status = target
	order.RevisionReason = &in.Notes
	order.RevisionRequestedBy = &actor.ID
	order.RevisionRequestedAt = &now

	if err := repositories.UpsertDecision(tx, &models.OrderApproval{
		OrderID:          order.ID,
		Stage:            stage,
		ApproverID:       actor.ID,
		Action:           workflow.ActionRevisionRequested,
		Notes:            in.Notes,
		RequiresRevision: true,
	}); err != nil {
		return err
	}

	if err := s.logActivity(tx, order, actor, reqCtx, &previous, &order.Status,
		fmt.Sprintf("Revision requested by %s: %s", actor.FullName, in.Notes),
		workflow.RevisionPayload{
			Type:  workflow.ActivityRevisionRequested,
			Stage: string(stage),
			Notes: in.Notes,
		}); err != nil {
		return err
	}

	return s.notifyRequester(tx, order, models.NotifyRevisionRequested,
		fmt.Sprintf("Order Revision Required: %s", order.OrderNumber),
		fmt.Sprintf("Revisions were requested for your order %s. Notes: %s", order.Title, in.Notes))
}

// RevisionInput carries the requester's corrections
type RevisionInput struct {
	Title         *string           `json:"title"`
	Description   *string           `json:"description"`
	Quantity      *int              `json:"quantity"`
	Unit          *string           `json:"unit"`
	Urgency       *workflow.Urgency `json:"urgency"`
	EstimatedCost *decimal.Decimal  `json:"estimated_cost"`
	Supplier      *string           `json:"supplier"`
}

func (in *RevisionInput) validate() error {
	if in.Quantity != nil && *in.Quantity < 1 {
		return workflow.Errorf(workflow.KindValidation, "quantity must be at least 1")
	}
	if in.EstimatedCost != nil && in.EstimatedCost.LessThanOrEqual(decimal.Zero) {
		return workflow.Errorf(workflow.KindValidation, "estimated cost must be positive")
	}
	if in.Urgency != nil && !in.Urgency.IsValid() {
		return workflow.Errorf(workflow.KindValidation, "unknown urgency %q", *in.Urgency)
	}
	return nil
}

// SubmitRevision applies the requester's corrections to an order sitting
// in a revision-requested status and puts it back in the approval queue.
// Only the original requester may do this, except that veterinary staff
// may revise medicine orders on the requester's behalf.
func (s *OrderService) SubmitRevision(ctx context.Context, actor *models.User, orderID uuid.UUID, in RevisionInput, reqCtx RequestContext) (*models.Order, error) {
	txn := s.tracer.StartTransaction("submit-order-revision")
	defer s.tracer.EndTransaction(txn)

	if err := in.validate(); err != nil {
		return nil, err
	}

	order, err := s.orderRepo.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if err := workflow.CheckTransition(workflow.OpSubmitRevision, actor.Role, order.Status); err != nil {
		s.tracer.RecordError(txn, err)
		return nil, err
	}
	if !canRevise(actor, order) {
		return nil, workflow.Errorf(workflow.KindForbidden,
			"only the requester may revise order %s", order.OrderNumber)
	}

	previous := order.Status
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		updates := map[string]interface{}{
			"status":                workflow.StatusPending,
			"revision_reason":       nil,
			"revision_requested_by": nil,
			"revision_requested_at": nil,
		}
		if in.Title != nil {
			updates["title"] = *in.Title
			order.Title = *in.Title
		}
		if in.Description != nil {
			updates["description"] = *in.Description
			order.Description = *in.Description
		}
		if in.Quantity != nil {
			updates["quantity"] = *in.Quantity
			order.Quantity = *in.Quantity
		}
		if in.Unit != nil {
			updates["unit"] = *in.Unit
			order.Unit = *in.Unit
		}
		if in.Urgency != nil {
			updates["urgency"] = *in.Urgency
			order.Urgency = *in.Urgency
		}
		if in.EstimatedCost != nil {
			updates["estimated_cost"] = *in.EstimatedCost
			order.EstimatedCost = *in.EstimatedCost
		}
		if in.Supplier != nil {
			updates["supplier"] = *in.Supplier
			order.Supplier = in.Supplier
		}

		if err := repositories.TransitionStatus(tx, order.ID,
			workflow.RequiredStatuses(workflow.OpSubmitRevision), updates); err != nil {
			return err
		}
		order.Status = workflow.StatusPending
		order.RevisionReason = nil
		order.RevisionRequestedBy = nil
		order.RevisionRequestedAt = nil

		// Close out the revision flag on the stage that asked for it
		if err := tx.Model(&models.OrderApproval{}).
			Where("order_id = ? AND requires_revision = ? AND revision_completed = ?",
				order.ID, true, false).
			Update("revision_completed", true).Error; err != nil {
			return errors.Wrap(err, "failed to close revision flag")
		}

		if err := s.logActivity(tx, order, actor, reqCtx, &previous, &order.Status,
			fmt.Sprintf("Revised order resubmitted by %s", actor.FullName),
			workflow.RevisionPayload{Type: workflow.ActivityRevisionSubmitted}); err != nil {
			return err
		}

		return s.notifyRoles(tx, order, models.NotifyApprovalNeeded,
			fmt.Sprintf("Revised Order Submitted: %s", order.OrderNumber),
			fmt.Sprintf("Revised order for %s has been resubmitted and requires approval", order.Title),
			workflow.RoleManager, workflow.RoleAdmin, workflow.RoleSuperAdmin)
	})
	if err != nil {
		s.tracer.RecordError(txn, err)
		return nil, err
	}

	log.Info().
		Str("order_number", order.OrderNumber).
		Str("submitted_by", actor.Username).
		Msg("Order revision submitted")

	s.afterTransition(ctx, order, workflow.OpSubmitRevision)
	return order, nil
}

// canRevise gates revision submission to the original requester, or to
// veterinary staff for medicine orders.
func canRevise(actor *models.User, order *models.Order) bool {
	if order.RequestedByID == actor.ID || actor.Role == workflow.RoleSuperAdmin {
		return true
	}
	if order.OrderType == workflow.TypeMedicine {
		return actor.Role == workflow.RoleHeadVeterinary || actor.Role == workflow.RoleVeterinary
	}
	return false
}
