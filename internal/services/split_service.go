package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"example.com/farmgate/services/orders/internal/models"
	"example.com/farmgate/services/orders/internal/repositories"
	"example.com/farmgate/services/orders/internal/workflow"
)

// SplitGroupInput is one child order of a split
type SplitGroupInput struct {
	Title   string      `json:"title"`
	ItemIDs []uuid.UUID `json:"item_ids"`
}

// SplitInput partitions a pending order's items into child orders
type SplitInput struct {
	Groups []SplitGroupInput `json:"groups"`
	Notes  string            `json:"notes"`
}

// validate checks the groups form an exact partition of the order's
// items: every item appears in exactly one group, no stray ids.
func (in *SplitInput) validate(order *models.Order) error {
	if len(in.Groups) < 2 {
		return workflow.Errorf(workflow.KindValidation,
			"a split needs at least two groups, got %d", len(in.Groups))
	}

	remaining := make(map[uuid.UUID]bool, len(order.Items))
	for _, item := range order.Items {
		remaining[item.ID] = true
	}

	for i, g := range in.Groups {
		if len(g.ItemIDs) == 0 {
			return workflow.Errorf(workflow.KindValidation, "group %d has no items", i+1)
		}
		for _, id := range g.ItemIDs {
			if !remaining[id] {
				return workflow.Errorf(workflow.KindValidation,
					"group %d: item %s is not an unassigned item of order %s",
					i+1, id, order.OrderNumber)
			}
			delete(remaining, id)
		}
	}
	if len(remaining) != 0 {
		return workflow.Errorf(workflow.KindValidation,
			"%d items of order %s were not assigned to any group",
			len(remaining), order.OrderNumber)
	}
	return nil
}

// SplitAndApprove splits a pending order into per-group child orders,
// each created directly in approved_by_manager with its own order number
// and a manager approval on its ledger. The original order is closed as
// completed with a split activity pointing at the children.
func (s *OrderService) SplitAndApprove(ctx context.Context, actor *models.User, orderID uuid.UUID, in SplitInput, reqCtx RequestContext) ([]models.Order, error) {
	txn := s.tracer.StartTransaction("split-and-approve-order")
	defer s.tracer.EndTransaction(txn)

	order, err := s.orderRepo.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if err := workflow.CheckTransition(workflow.OpSplitAndApprove, actor.Role, order.Status); err != nil {
		s.tracer.RecordError(txn, err)
		return nil, err
	}
	if err := in.validate(order); err != nil {
		return nil, err
	}

	itemsByID := make(map[uuid.UUID]models.OrderItem, len(order.Items))
	for _, item := range order.Items {
		itemsByID[item.ID] = item
	}

	now := time.Now()
	previous := order.Status
	var children []models.Order

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		childNumbers := make([]string, 0, len(in.Groups))
		groupSizes := make([]int, 0, len(in.Groups))

		for i, g := range in.Groups {
			child := models.Order{
				ID:            uuid.New(),
				OrderType:     order.OrderType,
				Title:         g.Title,
				Description:   order.Description,
				Unit:          order.Unit,
				Urgency:       order.Urgency,
				Supplier:      order.Supplier,
				RequestedByID: order.RequestedByID,
				Status:        workflow.StatusApprovedByManager,
			}
			if child.Title == "" {
				child.Title = fmt.Sprintf("%s (part %d)", order.Title, i+1)
			}

			cost := decimal.Zero
			for _, id := range g.ItemIDs {
				item := itemsByID[id]
				child.Items = append(child.Items, models.OrderItem{
					ID:            uuid.New(),
					Name:          item.Name,
					Quantity:      item.Quantity,
					Unit:          item.Unit,
					EstimatedCost: item.EstimatedCost,
					IsCustom:      item.IsCustom,
				})
				child.Quantity += item.Quantity
				if item.EstimatedCost != nil {
					cost = cost.Add(*item.EstimatedCost)
				}
			}
			if cost.IsZero() {
				cost = order.EstimatedCost
			}
			child.EstimatedCost = cost

			number, err := GenerateOrderNumber(tx, child.OrderType, now)
			if err != nil {
				return err
			}
			child.OrderNumber = number

			if err := tx.Create(&child).Error; err != nil {
				return duplicateNumberConflict(err, child.OrderNumber)
			}

			if err := repositories.UpsertDecision(tx, &models.OrderApproval{
				OrderID:    child.ID,
				Stage:      workflow.StageManagerInitial,
				ApproverID: actor.ID,
				Action:     workflow.ActionApproved,
				Notes:      fmt.Sprintf("Approved on split of %s", order.OrderNumber),
			}); err != nil {
				return err
			}

			approved := workflow.StatusApprovedByManager
			if err := s.logActivity(tx, &child, actor, reqCtx, nil, &approved,
				fmt.Sprintf("Order %s created by splitting %s", child.OrderNumber, order.OrderNumber),
				workflow.DecisionPayload{
					Type:   workflow.ActivityManagerApproved,
					Stage:  string(workflow.StageManagerInitial),
					Action: string(workflow.ActionApproved),
					Notes:  fmt.Sprintf("split of %s", order.OrderNumber),
				}); err != nil {
				return err
			}

			children = append(children, child)
			childNumbers = append(childNumbers, child.OrderNumber)
			groupSizes = append(groupSizes, len(g.ItemIDs))
		}

		if err := repositories.TransitionStatus(tx, order.ID,
			workflow.RequiredStatuses(workflow.OpSplitAndApprove),
			map[string]interface{}{
				"status":          workflow.StatusCompleted,
				"completion_date": now,
			}); err != nil {
			return err
		}
		order.Status = workflow.StatusCompleted
		order.CompletionDate = &now

		if err := s.logActivity(tx, order, actor, reqCtx, &previous, &order.Status,
			fmt.Sprintf("Order %s split into %d orders by %s",
				order.OrderNumber, len(children), actor.FullName),
			workflow.SplitPayload{
				ChildOrderNumbers: childNumbers,
				GroupSizes:        groupSizes,
				Notes:             in.Notes,
			}); err != nil {
			return err
		}

		if err := s.notifyRequester(tx, order, models.NotifyApproved,
			fmt.Sprintf("Order Split and Approved: %s", order.OrderNumber),
			fmt.Sprintf("Your order %s was split into %d approved orders",
				order.Title, len(children))); err != nil {
			return err
		}
		for i := range children {
			if err := s.notifyRoles(tx, &children[i], models.NotifyApprovalNeeded,
				fmt.Sprintf("Quote Needed: %s", children[i].OrderNumber),
				fmt.Sprintf("Order %s was approved on split; supplier quotes are needed",
					children[i].Title),
				workflow.RoleProcurement); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		s.tracer.RecordError(txn, err)
		return nil, err
	}

	log.Info().
		Str("order_number", order.OrderNumber).
		Int("children", len(children)).
		Str("split_by", actor.Username).
		Msg("Order split and approved")

	s.afterTransition(ctx, order, workflow.OpSplitAndApprove)
	for i := range children {
		s.afterTransition(ctx, &children[i], workflow.OpManagerApprove)
	}
	return children, nil
}
