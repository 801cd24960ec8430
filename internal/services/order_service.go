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

	"example.com/farmgate/services/orders/internal/cache"
	"example.com/farmgate/services/orders/internal/messaging"
	"example.com/farmgate/services/orders/internal/metrics"
	"example.com/farmgate/services/orders/internal/models"
	"example.com/farmgate/services/orders/internal/repositories"
	"example.com/farmgate/services/orders/internal/search"
	"example.com/farmgate/services/orders/internal/tracing"
	"example.com/farmgate/services/orders/internal/workflow"
)

// OrderService is the transition engine for the procurement workflow.
// Every mutating operation validates role and status up front, applies
// the transition in one database transaction together with its ledger,
// activity and notification writes, and only then touches the search
// index and event bus.
type OrderService struct {
	db         *gorm.DB // Write database
	readOnlyDB *gorm.DB // Read-only database

	orderRepo        *repositories.OrderRepository
	userRepo         *repositories.UserRepository
	approvalRepo     *repositories.ApprovalRepository
	activityRepo     *repositories.ActivityRepository
	notificationRepo *repositories.NotificationRepository
	quoteRepo        *repositories.QuoteRepository

	cache         *cache.RedisCache
	elasticClient *search.ElasticClient
	metrics       *metrics.Metrics
	tracer        tracing.Tracer
	bus           messaging.ServiceBusClient
}

// NewOrderService creates a new order workflow service
func NewOrderService(
	db *gorm.DB,
	readOnlyDB *gorm.DB,
	cache *cache.RedisCache,
	elasticClient *search.ElasticClient,
	metricsCollector *metrics.Metrics,
	tracer tracing.Tracer,
	bus messaging.ServiceBusClient,
) *OrderService {
	return &OrderService{
		db:               db,
		readOnlyDB:       readOnlyDB,
		orderRepo:        repositories.NewOrderRepository(db, readOnlyDB),
		userRepo:         repositories.NewUserRepository(db, readOnlyDB),
		approvalRepo:     repositories.NewApprovalRepository(db, readOnlyDB),
		activityRepo:     repositories.NewActivityRepository(db, readOnlyDB),
		notificationRepo: repositories.NewNotificationRepository(db, readOnlyDB),
		quoteRepo:        repositories.NewQuoteRepository(db, readOnlyDB),
		cache:            cache,
		elasticClient:    elasticClient,
		metrics:          metricsCollector,
		tracer:           tracer,
		bus:              bus,
	}
}

// RequestContext carries caller provenance into the activity log
type RequestContext struct {
	IPAddress string
	UserAgent string
}

// ItemInput is one requested line item
type ItemInput struct {
	Name          string           `json:"name"`
	Quantity      int              `json:"quantity"`
	Unit          string           `json:"unit"`
	EstimatedCost *decimal.Decimal `json:"estimated_cost"`
	IsCustom      bool             `json:"is_custom"`
}

// CreateOrderInput is the payload for a new purchase request
type CreateOrderInput struct {
	OrderType     workflow.OrderType `json:"order_type" binding:"required,ordertype"`
	Title         string             `json:"title" binding:"required"`
	Description   string             `json:"description"`
	Quantity      int                `json:"quantity"`
	Unit          string             `json:"unit"`
	Urgency       workflow.Urgency   `json:"urgency" binding:"omitempty,urgency"`
	EstimatedCost decimal.Decimal    `json:"estimated_cost"`
	Supplier      *string            `json:"supplier"`
	Items         []ItemInput        `json:"items"`
}

func (in *CreateOrderInput) validate() error {
	if !in.OrderType.IsValid() {
		return workflow.Errorf(workflow.KindValidation, "unknown order type %q", in.OrderType)
	}
	if in.Title == "" {
		return workflow.Errorf(workflow.KindValidation, "title is required")
	}
	if in.Quantity < 1 {
		return workflow.Errorf(workflow.KindValidation, "quantity must be at least 1")
	}
	if in.Urgency == "" {
		in.Urgency = workflow.UrgencyMedium
	}
	if !in.Urgency.IsValid() {
		return workflow.Errorf(workflow.KindValidation, "unknown urgency %q", in.Urgency)
	}
	if in.EstimatedCost.LessThanOrEqual(decimal.Zero) {
		return workflow.Errorf(workflow.KindValidation, "estimated cost must be positive")
	}
	if len(in.Items) == 0 {
		return workflow.Errorf(workflow.KindValidation, "at least one item is required")
	}
	for i, item := range in.Items {
		if item.Name == "" {
			return workflow.Errorf(workflow.KindValidation, "item %d: name is required", i+1)
		}
		if item.Quantity < 1 {
			return workflow.Errorf(workflow.KindValidation, "item %d: quantity must be positive", i+1)
		}
	}
	if in.Unit == "" {
		in.Unit = "pieces"
	}
	return nil
}

// CreateOrder creates a purchase request in pending status, generating
// its order number inside the same transaction, and notifies managers.
func (s *OrderService) CreateOrder(ctx context.Context, actor *models.User, in CreateOrderInput, reqCtx RequestContext) (*models.Order, error) {
	txn := s.tracer.StartTransaction("create-order")
	defer s.tracer.EndTransaction(txn)

	if err := workflow.CheckTransition(workflow.OpCreate, actor.Role, ""); err != nil {
		return nil, err
	}
	if err := in.validate(); err != nil {
		return nil, err
	}

	order := &models.Order{
		ID:            uuid.New(),
		OrderType:     in.OrderType,
		Title:         in.Title,
		Description:   in.Description,
		Quantity:      in.Quantity,
		Unit:          in.Unit,
		Urgency:       in.Urgency,
		EstimatedCost: in.EstimatedCost,
		Supplier:      in.Supplier,
		RequestedByID: actor.ID,
		Status:        workflow.StatusPending,
	}
	for _, item := range in.Items {
		unit := item.Unit
		if unit == "" {
			unit = in.Unit
		}
		order.Items = append(order.Items, models.OrderItem{
			ID:            uuid.New(),
			Name:          item.Name,
			Quantity:      item.Quantity,
			Unit:          unit,
			EstimatedCost: item.EstimatedCost,
			IsCustom:      item.IsCustom,
		})
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		number, err := GenerateOrderNumber(tx, in.OrderType, time.Now())
		if err != nil {
			return err
		}
		order.OrderNumber = number

		if err := tx.Create(order).Error; err != nil {
			return duplicateNumberConflict(err, order.OrderNumber)
		}

		if err := s.logActivity(tx, order, actor, reqCtx, nil, &order.Status,
			fmt.Sprintf("Order %s created for %s", order.OrderNumber, order.Title),
			workflow.CreatedPayload{
				Title:         order.Title,
				OrderType:     string(order.OrderType),
				Quantity:      order.Quantity,
				EstimatedCost: workflow.JSONAmount(order.EstimatedCost),
				ItemCount:     len(order.Items),
			}); err != nil {
			return err
		}

		return s.notifyRoles(tx, order, models.NotifyApprovalNeeded,
			fmt.Sprintf("New Order Requires Approval: %s", order.OrderNumber),
			fmt.Sprintf("%s has requested approval for %s (estimated cost: $%s)",
				actor.FullName, order.Title, order.EstimatedCost.StringFixed(2)),
			workflow.RoleManager, workflow.RoleAdmin, workflow.RoleSuperAdmin)
	})
	if err != nil {
		s.tracer.RecordError(txn, err)
		return nil, err
	}

	log.Info().
		Str("order_number", order.OrderNumber).
		Str("order_type", string(order.OrderType)).
		Str("requested_by", actor.Username).
		Msg("Order created")

	s.afterTransition(ctx, order, workflow.OpCreate)
	return order, nil
}

// GetOrder loads one order, enforcing the role-based visibility rules.
// Reads go through the cache; transitions and deletions evict the entry.
func (s *OrderService) GetOrder(ctx context.Context, actor *models.User, orderID uuid.UUID) (*models.Order, error) {
	if s.cache != nil {
		var cached models.Order
		if err := s.cache.Get(ctx, cache.OrderCacheKey(orderID), &cached); err == nil {
			if !s.canView(actor, &cached) {
				return nil, workflow.Errorf(workflow.KindForbidden,
					"role %q may not view order %s", actor.Role, cached.OrderNumber)
			}
			return &cached, nil
		}
	}

	order, err := s.orderRepo.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		if err := s.cache.Set(ctx, cache.OrderCacheKey(orderID), order, time.Minute); err != nil {
			log.Debug().Err(err).Msg("Failed to cache order")
		}
	}
	if !s.canView(actor, order) {
		return nil, workflow.Errorf(workflow.KindForbidden,
			"role %q may not view order %s", actor.Role, order.OrderNumber)
	}
	return order, nil
}

// SearchOrders resolves a free-text search against the search index and
// loads the matching rows, filtered down to what the actor may view.
// Without a search client the repository's filter search answers instead.
func (s *OrderService) SearchOrders(ctx context.Context, actor *models.User, term string) ([]models.Order, error) {
	if term == "" {
		return nil, workflow.Errorf(workflow.KindValidation, "search term is required")
	}
	if s.elasticClient == nil {
		return s.orderRepo.ListForUser(ctx, actor, repositories.ListFilter{Search: term})
	}

	query := map[string]interface{}{
		"query": map[string]interface{}{
			"multi_match": map[string]interface{}{
				"query":  term,
				"fields": []string{"order_number", "title", "description", "items", "supplier"},
			},
		},
	}
	docs, err := s.elasticClient.SearchOrders(ctx, query)
	if err != nil {
		return nil, err
	}

	numbers := make([]string, 0, len(docs))
	for _, doc := range docs {
		if number, ok := doc["order_number"].(string); ok {
			numbers = append(numbers, number)
		}
	}
	orders, err := s.orderRepo.ListByNumbers(ctx, numbers)
	if err != nil {
		return nil, err
	}

	visible := orders[:0]
	for i := range orders {
		if s.canView(actor, &orders[i]) {
			visible = append(visible, orders[i])
		}
	}
	return visible, nil
}

// ListOrders returns the orders visible to the actor
func (s *OrderService) ListOrders(ctx context.Context, actor *models.User, filter repositories.ListFilter) ([]models.Order, error) {
	return s.orderRepo.ListForUser(ctx, actor, filter)
}

// canView mirrors the repository's list scoping for single-order reads
func (s *OrderService) canView(actor *models.User, order *models.Order) bool {
	switch actor.Role {
	case workflow.RoleSuperAdmin, workflow.RoleAdmin, workflow.RoleManager:
		return true
	case workflow.RoleProcurement, workflow.RoleFinanceManager:
		if order.RequestedByID == actor.ID {
			return true
		}
		return !order.Status.NeedsRevision() &&
			order.Status != workflow.StatusPending &&
			order.Status != workflow.StatusRejected &&
			order.Status != workflow.StatusCancelled
	default:
		return order.RequestedByID == actor.ID
	}
}

// DashboardStats summarizes order counts and approved value
type DashboardStats struct {
	TotalOrders     int64   `json:"total_orders"`
	Pending         int64   `json:"pending"`
	ManagerApproved int64   `json:"manager_approved"`
	QuoteSubmitted  int64   `json:"quote_submitted"`
	QuoteApproved   int64   `json:"quote_approved"`
	PaymentDone     int64   `json:"payment_done"`
	Completed       int64   `json:"completed"`
	Rejected        int64   `json:"rejected"`
	NeedsRevision   int64   `json:"needs_revision"`
	ApprovedValue   float64 `json:"approved_value"`
}

// GetDashboardStats aggregates order statistics, cached briefly in redis
func (s *OrderService) GetDashboardStats(ctx context.Context) (*DashboardStats, error) {
	var stats DashboardStats
	if s.cache != nil {
		if err := s.cache.Get(ctx, cache.DashboardStatsKey(), &stats); err == nil {
			return &stats, nil
		}
	}

	counts, err := s.orderRepo.StatusCounts(ctx)
	if err != nil {
		return nil, err
	}
	value, err := s.orderRepo.ApprovedValue(ctx)
	if err != nil {
		return nil, err
	}

	for status, n := range counts {
		stats.TotalOrders += n
		switch status {
		case workflow.StatusPending:
			stats.Pending += n
		case workflow.StatusApprovedByManager:
			stats.ManagerApproved += n
		case workflow.StatusQuoteSubmitted:
			stats.QuoteSubmitted += n
		case workflow.StatusQuoteApprovedByManager:
			stats.QuoteApproved += n
		case workflow.StatusPaymentCompleted, workflow.StatusApprovedByFinance:
			stats.PaymentDone += n
		case workflow.StatusCompleted:
			stats.Completed += n
		case workflow.StatusRejected:
			stats.Rejected += n
		}
		if status.NeedsRevision() {
			stats.NeedsRevision += n
		}
	}
	stats.ApprovedValue = value

	if s.cache != nil {
		if err := s.cache.Set(ctx, cache.DashboardStatsKey(), &stats, 30*time.Second); err != nil {
			log.Warn().Err(err).Msg("Failed to cache dashboard stats")
		}
	}
	return &stats, nil
}

// DeleteOrder removes an order and its owned records. Only the super
// admin may do this; the deletion is recorded on the audit trail first.
func (s *OrderService) DeleteOrder(ctx context.Context, actor *models.User, orderID uuid.UUID, reason string, reqCtx RequestContext) error {
	if err := workflow.CheckTransition(workflow.OpDelete, actor.Role, ""); err != nil {
		return err
	}

	order, err := s.orderRepo.GetByID(ctx, orderID)
	if err != nil {
		return err
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.logActivity(tx, order, actor, reqCtx, &order.Status, nil,
			fmt.Sprintf("Order %s deleted by %s", order.OrderNumber, actor.FullName),
			workflow.DeletionPayload{OrderNumber: order.OrderNumber, Reason: reason}); err != nil {
			return err
		}
		if err := tx.Delete(&models.Order{}, "id = ?", order.ID).Error; err != nil {
			return errors.Wrap(err, "failed to delete order")
		}
		return nil
	})
	if err != nil {
		return err
	}

	log.Info().
		Str("order_number", order.OrderNumber).
		Str("deleted_by", actor.Username).
		Msg("Order deleted")
	s.invalidateStats(ctx)
	s.invalidateOrder(ctx, order.ID)
	return nil
}

// logActivity appends one audit entry inside the transition transaction.
// The typed payload is encoded at this boundary only.
func (s *OrderService) logActivity(
	tx *gorm.DB,
	order *models.Order,
	actor *models.User,
	reqCtx RequestContext,
	previous, next *workflow.Status,
	description string,
	payload workflow.ActivityPayload,
) error {
	metadata, err := workflow.EncodePayload(payload)
	if err != nil {
		return err
	}

	activity := &models.OrderActivity{
		ID:             uuid.New(),
		OrderID:        order.ID,
		ActivityType:   payload.ActivityType(),
		UserID:         actor.ID,
		Description:    description,
		PreviousStatus: previous,
		NewStatus:      next,
		Metadata:       metadata,
	}
	if reqCtx.IPAddress != "" {
		activity.IPAddress = &reqCtx.IPAddress
	}
	if reqCtx.UserAgent != "" {
		ua := reqCtx.UserAgent
		if len(ua) > 500 {
			ua = ua[:500]
		}
		activity.UserAgent = &ua
	}
	return repositories.Append(tx, activity)
}

// notifyRoles fans one notification out to every user currently holding
// one of the given roles. Recipients are resolved inside the transaction
// so the fan-out reflects the directory at the moment of the transition.
func (s *OrderService) notifyRoles(
	tx *gorm.DB,
	order *models.Order,
	notificationType models.NotificationType,
	title, message string,
	roles ...workflow.Role,
) error {
	var recipients []models.User
	if err := tx.Where("role IN ?", roles).Find(&recipients).Error; err != nil {
		return errors.Wrap(err, "failed to resolve notification recipients")
	}
	return s.notifyUsers(tx, order, notificationType, title, message, recipients...)
}

// notifyUsers creates one notification row per recipient
func (s *OrderService) notifyUsers(
	tx *gorm.DB,
	order *models.Order,
	notificationType models.NotificationType,
	title, message string,
	recipients ...models.User,
) error {
	seen := make(map[uuid.UUID]bool, len(recipients))
	notifications := make([]models.OrderNotification, 0, len(recipients))
	for _, u := range recipients {
		if seen[u.ID] {
			continue
		}
		seen[u.ID] = true
		notifications = append(notifications, models.OrderNotification{
			OrderID:          order.ID,
			RecipientID:      u.ID,
			NotificationType: notificationType,
			Title:            title,
			Message:          message,
		})
	}
	return repositories.CreateBatch(tx, notifications)
}

// notifyRequester notifies the order's requester
func (s *OrderService) notifyRequester(tx *gorm.DB, order *models.Order, notificationType models.NotificationType, title, message string) error {
	return s.notifyUsers(tx, order, notificationType, title, message,
		models.User{ID: order.RequestedByID})
}

// afterTransition runs the non-transactional side effects of a committed
// transition: metrics, search indexing, event publication and cache
// invalidation. None of these may fail the transition.
func (s *OrderService) afterTransition(ctx context.Context, order *models.Order, op workflow.Operation) {
	if s.metrics != nil {
		s.metrics.IncrementCounter("orders.transition." + string(op))
	}
	s.invalidateStats(ctx)
	s.invalidateOrder(ctx, order.ID)

	if s.elasticClient != nil {
		if err := s.elasticClient.IndexOrder(ctx, order); err != nil {
			log.Warn().Err(err).
				Str("order_number", order.OrderNumber).
				Msg("Failed to index order, reindex fallback will retry")
		}
	}

	if s.bus != nil {
		event := messaging.OrderEvent{
			OrderID:     order.ID.String(),
			OrderNumber: order.OrderNumber,
			Operation:   string(op),
			Status:      string(order.Status),
			OccurredAt:  time.Now().UTC(),
		}
		if err := s.bus.SendMessage(ctx, event); err != nil {
			log.Warn().Err(err).
				Str("order_number", order.OrderNumber).
				Msg("Failed to publish order event")
		}
	}
}

func (s *OrderService) invalidateStats(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, cache.DashboardStatsKey()); err != nil {
		log.Debug().Err(err).Msg("Failed to invalidate dashboard stats cache")
	}
}

func (s *OrderService) invalidateOrder(ctx context.Context, orderID uuid.UUID) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, cache.OrderCacheKey(orderID)); err != nil {
		log.Debug().Err(err).Msg("Failed to invalidate order cache")
	}
}
