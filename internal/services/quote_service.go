package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"example.com/farmgate/services/orders/internal/models"
	"example.com/farmgate/services/orders/internal/repositories"
	"example.com/farmgate/services/orders/internal/workflow"
)

// ItemQuoteInput is a per-line-item price inside one supplier quote
type ItemQuoteInput struct {
	OrderItemID    uuid.UUID        `json:"order_item_id"`
	UnitPrice      *decimal.Decimal `json:"unit_price"`
	TotalPrice     *decimal.Decimal `json:"total_price"`
	Availability   string           `json:"availability"`
	Notes          string           `json:"notes"`
	IsNotAvailable bool             `json:"is_not_available"`
}

// QuoteInput is one supplier's bid
type QuoteInput struct {
	SupplierName    string           `json:"supplier_name"`
	SupplierAddress string           `json:"supplier_address"`
	BuyingCompany   string           `json:"buying_company"`
	QuotedAmount    decimal.Decimal  `json:"quoted_amount"`
	DeliveryTime    string           `json:"delivery_time"`
	Notes           string           `json:"notes"`
	IsRecommended   bool             `json:"is_recommended"`
	ItemQuotes      []ItemQuoteInput `json:"item_quotes"`
}

// QuoteSetInput is the full quote submission for an order
type QuoteSetInput struct {
	Quotes []QuoteInput `json:"quotes"`
}

// validate enforces the quote-set invariants: at least one quote,
// positive amounts, and exactly one recommended option.
func (in *QuoteSetInput) validate(order *models.Order) error {
	if len(in.Quotes) == 0 {
		return workflow.Errorf(workflow.KindValidation, "at least one quote is required")
	}

	itemIDs := make(map[uuid.UUID]bool, len(order.Items))
	for _, item := range order.Items {
		itemIDs[item.ID] = true
	}

	recommended := 0
	for i, q := range in.Quotes {
		if q.SupplierName == "" {
			return workflow.Errorf(workflow.KindValidation, "quote %d: supplier name is required", i+1)
		}
		if q.QuotedAmount.LessThanOrEqual(decimal.Zero) {
			return workflow.Errorf(workflow.KindValidation, "quote %d: quoted amount must be positive", i+1)
		}
		if q.IsRecommended {
			recommended++
		}
		for _, iq := range q.ItemQuotes {
			if !itemIDs[iq.OrderItemID] {
				return workflow.Errorf(workflow.KindNotFound,
					"quote %d references item %s which does not belong to order %s",
					i+1, iq.OrderItemID, order.OrderNumber)
			}
		}
	}
	if recommended != 1 {
		return workflow.Errorf(workflow.KindValidation,
			"exactly one quote must be marked recommended, got %d", recommended)
	}
	return nil
}

// SubmitQuote replaces an order's quote set with the submitted one and
// moves it to the quote-submitted stage. A resubmission fully replaces
// the previous set.
func (s *OrderService) SubmitQuote(ctx context.Context, actor *models.User, orderID uuid.UUID, in QuoteSetInput, reqCtx RequestContext) (*models.Order, error) {
	txn := s.tracer.StartTransaction("submit-order-quotes")
	defer s.tracer.EndTransaction(txn)

	order, err := s.orderRepo.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if err := workflow.CheckTransition(workflow.OpSubmitQuote, actor.Role, order.Status); err != nil {
		s.tracer.RecordError(txn, err)
		return nil, err
	}
	if err := in.validate(order); err != nil {
		return nil, err
	}

	quotes := make([]models.QuoteOption, 0, len(in.Quotes))
	suppliers := make([]string, 0, len(in.Quotes))
	recommended := ""
	for _, q := range in.Quotes {
		option := models.QuoteOption{
			ID:              uuid.New(),
			SupplierName:    q.SupplierName,
			SupplierAddress: q.SupplierAddress,
			BuyingCompany:   q.BuyingCompany,
			QuotedAmount:    q.QuotedAmount,
			DeliveryTime:    q.DeliveryTime,
			Notes:           q.Notes,
			IsRecommended:   q.IsRecommended,
			SubmittedByID:   actor.ID,
		}
		for _, iq := range q.ItemQuotes {
			option.ItemQuotes = append(option.ItemQuotes, models.QuoteOptionItem{
				ID:             uuid.New(),
				OrderItemID:    iq.OrderItemID,
				UnitPrice:      iq.UnitPrice,
				TotalPrice:     iq.TotalPrice,
				Availability:   iq.Availability,
				Notes:          iq.Notes,
				IsNotAvailable: iq.IsNotAvailable,
			})
		}
		quotes = append(quotes, option)
		suppliers = append(suppliers, q.SupplierName)
		if q.IsRecommended {
			recommended = q.SupplierName
		}
	}

	previous := order.Status
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := repositories.TransitionStatus(tx, order.ID,
			workflow.RequiredStatuses(workflow.OpSubmitQuote),
			map[string]interface{}{"status": workflow.StatusQuoteSubmitted}); err != nil {
			return err
		}
		order.Status = workflow.StatusQuoteSubmitted

		if err := repositories.ReplaceForOrder(tx, order.ID, quotes); err != nil {
			return err
		}

		if err := repositories.UpsertDecision(tx, &models.OrderApproval{
			OrderID:    order.ID,
			Stage:      workflow.StageProcurement,
			ApproverID: actor.ID,
			Action:     workflow.ActionApproved,
			Notes:      fmt.Sprintf("%d quotes submitted", len(quotes)),
		}); err != nil {
			return err
		}

		if err := s.logActivity(tx, order, actor, reqCtx, &previous, &order.Status,
			fmt.Sprintf("%d supplier quotes submitted by %s", len(quotes), actor.FullName),
			workflow.QuoteSetPayload{
				QuoteCount:  len(quotes),
				Suppliers:   suppliers,
				Recommended: recommended,
			}); err != nil {
			return err
		}

		return s.notifyRoles(tx, order, models.NotifyApprovalNeeded,
			fmt.Sprintf("Quote Selection Needed: %s", order.OrderNumber),
			fmt.Sprintf("Procurement submitted %d quotes for %s; a quote must be selected",
				len(quotes), order.Title),
			workflow.RoleManager, workflow.RoleAdmin, workflow.RoleSuperAdmin)
	})
	if err != nil {
		s.tracer.RecordError(txn, err)
		return nil, err
	}

	order.QuoteOptions = quotes
	log.Info().
		Str("order_number", order.OrderNumber).
		Int("quotes", len(quotes)).
		Str("submitted_by", actor.Username).
		Msg("Quote set submitted")

	s.afterTransition(ctx, order, workflow.OpSubmitQuote)
	return order, nil
}

// ApproveQuoteInput is a manager's ruling on a submitted quote set
type ApproveQuoteInput struct {
	Action          workflow.DecisionAction `json:"action"`
	SelectedQuoteID uuid.UUID               `json:"selected_quote_id"`
	Notes           string                  `json:"notes"`
}

func (in *ApproveQuoteInput) validate() error {
	switch in.Action {
	case workflow.ActionApproved:
		if in.SelectedQuoteID == uuid.Nil {
			return workflow.Errorf(workflow.KindValidation,
				"selected_quote_id is required when approving a quote")
		}
		return nil
	case workflow.ActionRejected:
		if in.Notes == "" {
			return workflow.Errorf(workflow.KindValidation,
				"notes are required when rejecting the quote set")
		}
		return nil
	default:
		return workflow.Errorf(workflow.KindValidation, "unknown action %q", in.Action)
	}
}

// ApproveQuote selects one full supplier quote, copying its amount and
// supplier onto the order and overwriting the estimated cost with the
// quoted amount, or rejects the quote set back to procurement.
func (s *OrderService) ApproveQuote(ctx context.Context, actor *models.User, orderID uuid.UUID, in ApproveQuoteInput, reqCtx RequestContext) (*models.Order, error) {
	txn := s.tracer.StartTransaction("approve-order-quote")
	defer s.tracer.EndTransaction(txn)

	if err := in.validate(); err != nil {
		return nil, err
	}

	order, err := s.orderRepo.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if err := workflow.CheckTransition(workflow.OpApproveQuote, actor.Role, order.Status); err != nil {
		s.tracer.RecordError(txn, err)
		return nil, err
	}

	previous := order.Status
	if in.Action == workflow.ActionRejected {
		err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			return s.applyQuoteRejection(tx, order, actor, in, reqCtx, previous)
		})
		if err != nil {
			s.tracer.RecordError(txn, err)
			return nil, err
		}
		s.afterTransition(ctx, order, workflow.OpApproveQuote)
		return order, nil
	}

	quote, err := s.quoteRepo.GetOption(ctx, order.ID, in.SelectedQuoteID)
	if err != nil {
		return nil, err
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := repositories.TransitionStatus(tx, order.ID,
			workflow.RequiredStatuses(workflow.OpApproveQuote),
			map[string]interface{}{
				"status":         workflow.StatusQuoteApprovedByManager,
				"quote_amount":   quote.QuotedAmount,
				"quote_supplier": quote.SupplierName,
				"quote_notes":    quote.Notes,
				"estimated_cost": quote.QuotedAmount,
				"supplier":       quote.SupplierName,
			}); err != nil {
			return err
		}
		order.Status = workflow.StatusQuoteApprovedByManager
		order.QuoteAmount = &quote.QuotedAmount
		order.QuoteSupplier = &quote.SupplierName
		order.QuoteNotes = &quote.Notes
		order.EstimatedCost = quote.QuotedAmount
		order.Supplier = &quote.SupplierName

		if err := tx.Model(&models.QuoteOption{}).
			Where("order_id = ?", order.ID).
			Update("is_selected", false).Error; err != nil {
			return errors.Wrap(err, "failed to clear quote selection")
		}
		if err := tx.Model(&models.QuoteOption{}).
			Where("id = ?", quote.ID).
			Update("is_selected", true).Error; err != nil {
			return errors.Wrap(err, "failed to mark quote selected")
		}

		if err := repositories.UpsertDecision(tx, &models.OrderApproval{
			OrderID:    order.ID,
			Stage:      workflow.StageManagerQuote,
			ApproverID: actor.ID,
			Action:     workflow.ActionApproved,
			Notes:      in.Notes,
		}); err != nil {
			return err
		}

		if err := s.logActivity(tx, order, actor, reqCtx, &previous, &order.Status,
			fmt.Sprintf("Quote from %s ($%s) selected by %s",
				quote.SupplierName, quote.QuotedAmount.StringFixed(2), actor.FullName),
			workflow.QuoteSelectionPayload{
				Supplier:    quote.SupplierName,
				QuoteAmount: workflow.JSONAmount(quote.QuotedAmount),
			}); err != nil {
			return err
		}

		if err := s.notifyRoles(tx, order, models.NotifyApprovalNeeded,
			fmt.Sprintf("Payment Needed: %s", order.OrderNumber),
			fmt.Sprintf("Quote for %s approved at $%s from %s; payment is due",
				order.Title, quote.QuotedAmount.StringFixed(2), quote.SupplierName),
			workflow.RoleFinanceManager); err != nil {
			return err
		}
		if err := s.notifyRoles(tx, order, models.NotifyApproved,
			fmt.Sprintf("Quote Selected: %s", order.OrderNumber),
			fmt.Sprintf("The %s quote was selected for %s", quote.SupplierName, order.Title),
			workflow.RoleProcurement); err != nil {
			return err
		}
		return s.notifyRequester(tx, order, models.NotifyApproved,
			fmt.Sprintf("Quote Approved: %s", order.OrderNumber),
			fmt.Sprintf("A quote for your order %s was approved at $%s",
				order.Title, quote.QuotedAmount.StringFixed(2)))
	})
	if err != nil {
		s.tracer.RecordError(txn, err)
		return nil, err
	}

	log.Info().
		Str("order_number", order.OrderNumber).
		Str("supplier", quote.SupplierName).
		Str("amount", quote.QuotedAmount.String()).
		Msg("Quote approved")

	s.afterTransition(ctx, order, workflow.OpApproveQuote)
	return order, nil
}

// applyQuoteRejection sends the order back to procurement for a fresh
// quote set. The ruling is recorded on the manager_quote ledger stage as
// well as the activity log.
func (s *OrderService) applyQuoteRejection(tx *gorm.DB, order *models.Order, actor *models.User, in ApproveQuoteInput, reqCtx RequestContext, previous workflow.Status) error {
	if err := repositories.TransitionStatus(tx, order.ID,
		workflow.RequiredStatuses(workflow.OpApproveQuote),
		map[string]interface{}{"status": workflow.StatusApprovedByManager}); err != nil {
		return err
	}
	order.Status = workflow.StatusApprovedByManager

	if err := tx.Model(&models.QuoteOption{}).
		Where("order_id = ?", order.ID).
		Update("is_selected", false).Error; err != nil {
		return errors.Wrap(err, "failed to clear quote selection")
	}

	if err := repositories.UpsertDecision(tx, &models.OrderApproval{
		OrderID:    order.ID,
		Stage:      workflow.StageManagerQuote,
		ApproverID: actor.ID,
		Action:     workflow.ActionRejected,
		Notes:      in.Notes,
	}); err != nil {
		return err
	}

	if err := s.logActivity(tx, order, actor, reqCtx, &previous, &order.Status,
		fmt.Sprintf("Quote set rejected by %s: %s", actor.FullName, in.Notes),
		workflow.DecisionPayload{
			Type:   workflow.ActivityQuoteRejected,
			Stage:  string(workflow.StageManagerQuote),
			Action: string(workflow.ActionRejected),
			Notes:  in.Notes,
		}); err != nil {
		return err
	}

	return s.notifyRoles(tx, order, models.NotifyRejected,
		fmt.Sprintf("Quotes Rejected: %s", order.OrderNumber),
		fmt.Sprintf("The quote set for %s was rejected: %s. New quotes are needed.",
			order.Title, in.Notes),
		workflow.RoleProcurement)
}

// MixedQuoteInput selects item-level quotes spanning multiple suppliers
type MixedQuoteInput struct {
	SelectedItemQuoteIDs []uuid.UUID `json:"selected_item_quotes"`
	Notes                string      `json:"notes"`
}

// ApproveMixedQuote approves a per-item selection across quote options.
// The order's quote amount becomes the sum of the selected item totals
// and the supplier field joins the distinct contributing suppliers.
func (s *OrderService) ApproveMixedQuote(ctx context.Context, actor *models.User, orderID uuid.UUID, in MixedQuoteInput, reqCtx RequestContext) (*models.Order, error) {
	txn := s.tracer.StartTransaction("approve-mixed-quote")
	defer s.tracer.EndTransaction(txn)

	if len(in.SelectedItemQuoteIDs) == 0 {
		return nil, workflow.Errorf(workflow.KindValidation,
			"at least one item quote must be selected")
	}

	order, err := s.orderRepo.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if err := workflow.CheckTransition(workflow.OpApproveMixedQuote, actor.Role, order.Status); err != nil {
		s.tracer.RecordError(txn, err)
		return nil, err
	}

	quotes, err := s.quoteRepo.ListForOrder(ctx, order.ID)
	if err != nil {
		return nil, err
	}
	selection, err := resolveMixedSelection(order, quotes, in.SelectedItemQuoteIDs)
	if err != nil {
		return nil, err
	}

	previous := order.Status
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := repositories.TransitionStatus(tx, order.ID,
			workflow.RequiredStatuses(workflow.OpApproveMixedQuote),
			map[string]interface{}{
				"status":         workflow.StatusQuoteApprovedByManager,
				"quote_amount":   selection.Total,
				"quote_supplier": selection.Suppliers,
				"estimated_cost": selection.Total,
				"supplier":       selection.Suppliers,
			}); err != nil {
			return err
		}
		order.Status = workflow.StatusQuoteApprovedByManager
		order.QuoteAmount = &selection.Total
		order.QuoteSupplier = &selection.Suppliers
		order.EstimatedCost = selection.Total
		order.Supplier = &selection.Suppliers

		if err := tx.Model(&models.QuoteOptionItem{}).
			Where("id IN ?", in.SelectedItemQuoteIDs).
			Update("is_selected", true).Error; err != nil {
			return errors.Wrap(err, "failed to mark item quotes selected")
		}
		if err := tx.Model(&models.QuoteOption{}).
			Where("id IN ?", selection.QuoteOptionIDs).
			Update("is_selected", true).Error; err != nil {
			return errors.Wrap(err, "failed to mark contributing quotes selected")
		}

		if err := repositories.UpsertDecision(tx, &models.OrderApproval{
			OrderID:    order.ID,
			Stage:      workflow.StageManagerQuote,
			ApproverID: actor.ID,
			Action:     workflow.ActionApproved,
			Notes:      in.Notes,
		}); err != nil {
			return err
		}

		if err := s.logActivity(tx, order, actor, reqCtx, &previous, &order.Status,
			fmt.Sprintf("Mixed quote across %s selected by %s ($%s)",
				selection.Suppliers, actor.FullName, selection.Total.StringFixed(2)),
			workflow.QuoteSelectionPayload{
				Supplier:      selection.Suppliers,
				QuoteAmount:   workflow.JSONAmount(selection.Total),
				Mixed:         true,
				SelectedItems: len(in.SelectedItemQuoteIDs),
			}); err != nil {
			return err
		}

		if err := s.notifyRoles(tx, order, models.NotifyApprovalNeeded,
			fmt.Sprintf("Payment Needed: %s", order.OrderNumber),
			fmt.Sprintf("Mixed quote for %s approved at $%s; payment is due",
				order.Title, selection.Total.StringFixed(2)),
			workflow.RoleFinanceManager); err != nil {
			return err
		}
		if err := s.notifyRoles(tx, order, models.NotifyApproved,
			fmt.Sprintf("Mixed Quote Selected: %s", order.OrderNumber),
			fmt.Sprintf("A mixed quote was selected for %s across %s",
				order.Title, selection.Suppliers),
			workflow.RoleProcurement); err != nil {
			return err
		}
		return s.notifyRequester(tx, order, models.NotifyApproved,
			fmt.Sprintf("Quote Approved: %s", order.OrderNumber),
			fmt.Sprintf("A mixed quote for your order %s was approved at $%s",
				order.Title, selection.Total.StringFixed(2)))
	})
	if err != nil {
		s.tracer.RecordError(txn, err)
		return nil, err
	}

	log.Info().
		Str("order_number", order.OrderNumber).
		Str("suppliers", selection.Suppliers).
		Str("amount", selection.Total.String()).
		Msg("Mixed quote approved")

	s.afterTransition(ctx, order, workflow.OpApproveMixedQuote)
	return order, nil
}

// mixedSelection is the outcome of resolving a per-item quote selection
type mixedSelection struct {
	Total          decimal.Decimal
	Suppliers      string
	QuoteOptionIDs []uuid.UUID
}

// resolveMixedSelection validates the selected item-quote ids against
// the order's quote set and sums only the selected item totals. Items on
// a touched quote option that were not selected contribute nothing.
func resolveMixedSelection(order *models.Order, quotes []models.QuoteOption, selectedIDs []uuid.UUID) (*mixedSelection, error) {
	type itemRef struct {
		item  models.QuoteOptionItem
		quote *models.QuoteOption
	}
	index := make(map[uuid.UUID]itemRef)
	for i := range quotes {
		for _, iq := range quotes[i].ItemQuotes {
			index[iq.ID] = itemRef{item: iq, quote: &quotes[i]}
		}
	}

	total := decimal.Zero
	seenItems := make(map[uuid.UUID]bool, len(selectedIDs))
	seenQuotes := make(map[uuid.UUID]bool)
	var quoteIDs []uuid.UUID
	var suppliers []string

	for _, id := range selectedIDs {
		ref, ok := index[id]
		if !ok {
			return nil, workflow.Errorf(workflow.KindNotFound,
				"item quote %s not found on order %s", id, order.OrderNumber)
		}
		if seenItems[ref.item.OrderItemID] {
			return nil, workflow.Errorf(workflow.KindValidation,
				"more than one quote selected for item %s", ref.item.OrderItemID)
		}
		seenItems[ref.item.OrderItemID] = true

		if ref.item.IsNotAvailable {
			return nil, workflow.Errorf(workflow.KindValidation,
				"selected item quote %s is marked not available", id)
		}
		if ref.item.TotalPrice == nil {
			return nil, workflow.Errorf(workflow.KindValidation,
				"selected item quote %s has no total price", id)
		}
		total = total.Add(*ref.item.TotalPrice)

		if !seenQuotes[ref.quote.ID] {
			seenQuotes[ref.quote.ID] = true
			quoteIDs = append(quoteIDs, ref.quote.ID)
			suppliers = append(suppliers, ref.quote.SupplierName)
		}
	}

	return &mixedSelection{
		Total:          total,
		Suppliers:      strings.Join(suppliers, ", "),
		QuoteOptionIDs: quoteIDs,
	}, nil
}
