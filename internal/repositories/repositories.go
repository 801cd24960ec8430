package repositories

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"example.com/farmgate/services/orders/internal/models"
	"example.com/farmgate/services/orders/internal/workflow"
)

// UserRepository provides access to the user directory projection
type UserRepository struct {
	db         *gorm.DB // Write database
	readOnlyDB *gorm.DB // Read-only database
}

// NewUserRepository creates a new user repository
func NewUserRepository(db *gorm.DB, readOnlyDB *gorm.DB) *UserRepository {
	return &UserRepository{
		db:         db,
		readOnlyDB: readOnlyDB,
	}
}

// GetByID gets a user by ID
func (r *UserRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	var user models.User
	err := r.readOnlyDB.WithContext(ctx).First(&user, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, workflow.Errorf(workflow.KindNotFound, "user %s not found", id)
		}
		return nil, errors.Wrap(err, "failed to get user by ID")
	}
	return &user, nil
}

// ListByRole gets all users holding any of the given roles
func (r *UserRepository) ListByRole(ctx context.Context, roles ...workflow.Role) ([]models.User, error) {
	var users []models.User
	err := r.readOnlyDB.WithContext(ctx).
		Where("role IN ?", roles).
		Find(&users).Error
	if err != nil {
		return nil, errors.Wrap(err, "failed to list users by role")
	}
	return users, nil
}

// OrderRepository provides access to order data
type OrderRepository struct {
	db         *gorm.DB
	readOnlyDB *gorm.DB
}

// NewOrderRepository creates a new order repository
func NewOrderRepository(db *gorm.DB, readOnlyDB *gorm.DB) *OrderRepository {
	return &OrderRepository{
		db:         db,
		readOnlyDB: readOnlyDB,
	}
}

// GetByID gets an order with its items and quote options
func (r *OrderRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	var order models.Order
	err := r.readOnlyDB.WithContext(ctx).
		Preload("Items").
		Preload("QuoteOptions").
		Preload("QuoteOptions.ItemQuotes").
		Preload("Approvals").
		First(&order, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, workflow.Errorf(workflow.KindNotFound, "order %s not found", id)
		}
		return nil, errors.Wrap(err, "failed to get order by ID")
	}
	return &order, nil
}

// ListFilter narrows the order list
type ListFilter struct {
	Status    workflow.Status
	OrderType workflow.OrderType
	Urgency   workflow.Urgency
	Search    string
}

// ListForUser returns the orders visible to a user, scoped by role:
// requesters see their own, managerial roles see everything, procurement
// and finance see orders at or past manager approval plus their own.
func (r *OrderRepository) ListForUser(ctx context.Context, user *models.User, filter ListFilter) ([]models.Order, error) {
	q := r.readOnlyDB.WithContext(ctx).Model(&models.Order{}).Preload("Items")

	switch user.Role {
	case workflow.RoleSuperAdmin, workflow.RoleAdmin, workflow.RoleManager:
		// full visibility
	case workflow.RoleProcurement, workflow.RoleFinanceManager:
		visible := []workflow.Status{
			workflow.StatusApprovedByManager,
			workflow.StatusQuoteSubmitted,
			workflow.StatusQuoteApprovedByManager,
			workflow.StatusPaymentCompleted,
			workflow.StatusApprovedByFinance,
			workflow.StatusCompleted,
		}
		q = q.Where("status IN ? OR requested_by_id = ?", visible, user.ID)
	default:
		q = q.Where("requested_by_id = ?", user.ID)
	}

	if filter.Status != "" {
		q = q.Where("status = ?", filter.Status)
	}
	if filter.OrderType != "" {
		q = q.Where("order_type = ?", filter.OrderType)
	}
	if filter.Urgency != "" {
		q = q.Where("urgency = ?", filter.Urgency)
	}
	if filter.Search != "" {
		pattern := "%" + strings.ToLower(filter.Search) + "%"
		q = q.Where(
			"LOWER(order_number) LIKE ? OR LOWER(title) LIKE ? OR LOWER(description) LIKE ?",
			pattern, pattern, pattern,
		)
	}

	var orders []models.Order
	if err := q.Order("created_at DESC").Find(&orders).Error; err != nil {
		return nil, errors.Wrap(err, "failed to list orders")
	}
	return orders, nil
}

// IsDuplicateKey reports whether an error is a unique-constraint
// violation, covering gorm's translated error and the raw postgres and
// sqlite driver messages.
func IsDuplicateKey(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "duplicate key value") ||
		strings.Contains(msg, "UNIQUE constraint failed")
}

// StatusCounts aggregates per-status order counts for the dashboard
func (r *OrderRepository) StatusCounts(ctx context.Context) (map[workflow.Status]int64, error) {
	type row struct {
		Status workflow.Status
		Count  int64
	}
	var rows []row
	err := r.readOnlyDB.WithContext(ctx).
		Model(&models.Order{}).
		Select("status, COUNT(*) AS count").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, errors.Wrap(err, "failed to aggregate status counts")
	}

	counts := make(map[workflow.Status]int64, len(rows))
	for _, r := range rows {
		counts[r.Status] = r.Count
	}
	return counts, nil
}

// ApprovedValue sums the estimated cost of orders at or past quote
// approval.
func (r *OrderRepository) ApprovedValue(ctx context.Context) (float64, error) {
	var total *float64
	err := r.readOnlyDB.WithContext(ctx).
		Model(&models.Order{}).
		Where("status IN ?", []workflow.Status{
			workflow.StatusQuoteApprovedByManager,
			workflow.StatusPaymentCompleted,
			workflow.StatusApprovedByFinance,
			workflow.StatusCompleted,
		}).
		Select("SUM(estimated_cost)").
		Scan(&total).Error
	if err != nil {
		return 0, errors.Wrap(err, "failed to sum approved order value")
	}
	if total == nil {
		return 0, nil
	}
	return *total, nil
}

// PendingOlderThan returns pending orders created before the cutoff,
// used by the overdue sweep.
func (r *OrderRepository) PendingOlderThan(ctx context.Context, cutoff time.Time) ([]models.Order, error) {
	var orders []models.Order
	err := r.readOnlyDB.WithContext(ctx).
		Where("status = ? AND created_at < ?", workflow.StatusPending, cutoff).
		Find(&orders).Error
	if err != nil {
		return nil, errors.Wrap(err, "failed to list overdue pending orders")
	}
	return orders, nil
}

// ListByNumbers loads orders by their order numbers, used to resolve
// search index hits back to rows.
func (r *OrderRepository) ListByNumbers(ctx context.Context, numbers []string) ([]models.Order, error) {
	if len(numbers) == 0 {
		return nil, nil
	}
	var orders []models.Order
	err := r.readOnlyDB.WithContext(ctx).
		Preload("Items").
		Where("order_number IN ?", numbers).
		Find(&orders).Error
	if err != nil {
		return nil, errors.Wrap(err, "failed to load orders by number")
	}
	return orders, nil
}

// UpdatedSince returns orders touched after the given time, used by the
// search reindex fallback.
func (r *OrderRepository) UpdatedSince(ctx context.Context, since time.Time) ([]models.Order, error) {
	var orders []models.Order
	err := r.readOnlyDB.WithContext(ctx).
		Preload("Items").
		Where("updated_at > ?", since).
		Find(&orders).Error
	if err != nil {
		return nil, errors.Wrap(err, "failed to list recently updated orders")
	}
	return orders, nil
}

// TransitionStatus flips an order's status guarded by the expected
// current statuses. A zero rows-affected result means another writer won
// the race and the caller receives a conflict.
func TransitionStatus(tx *gorm.DB, orderID uuid.UUID, from []workflow.Status, updates map[string]interface{}) error {
	result := tx.Model(&models.Order{}).
		Where("id = ? AND status IN ?", orderID, from).
		Updates(updates)
	if result.Error != nil {
		return errors.Wrap(result.Error, "failed to update order status")
	}
	if result.RowsAffected == 0 {
		return workflow.Errorf(workflow.KindConflict,
			"order %s was modified concurrently", orderID)
	}
	return nil
}

// ApprovalRepository provides access to the approval ledger
type ApprovalRepository struct {
	db         *gorm.DB
	readOnlyDB *gorm.DB
}

// NewApprovalRepository creates a new approval repository
func NewApprovalRepository(db *gorm.DB, readOnlyDB *gorm.DB) *ApprovalRepository {
	return &ApprovalRepository{
		db:         db,
		readOnlyDB: readOnlyDB,
	}
}

// UpsertDecision records the latest ruling for (order, stage). A second
// decision at the same stage replaces the existing row.
func UpsertDecision(tx *gorm.DB, approval *models.OrderApproval) error {
	if approval.ID == uuid.Nil {
		approval.ID = uuid.New()
	}
	err := tx.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "order_id"}, {Name: "stage"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"approver_id", "action", "notes",
			"requires_revision", "revision_completed", "updated_at",
		}),
	}).Create(approval).Error
	if err != nil {
		return errors.Wrap(err, "failed to upsert approval decision")
	}
	return nil
}

// LatestByStage returns the current ruling per stage for an order
func (r *ApprovalRepository) LatestByStage(ctx context.Context, orderID uuid.UUID) (map[workflow.Stage]models.OrderApproval, error) {
	var approvals []models.OrderApproval
	err := r.readOnlyDB.WithContext(ctx).
		Where("order_id = ?", orderID).
		Find(&approvals).Error
	if err != nil {
		return nil, errors.Wrap(err, "failed to load approval ledger")
	}

	ledger := make(map[workflow.Stage]models.OrderApproval, len(approvals))
	for _, a := range approvals {
		ledger[a.Stage] = a
	}
	return ledger, nil
}

// ActivityRepository provides access to the append-only audit trail
type ActivityRepository struct {
	db         *gorm.DB
	readOnlyDB *gorm.DB
}

// NewActivityRepository creates a new activity repository
func NewActivityRepository(db *gorm.DB, readOnlyDB *gorm.DB) *ActivityRepository {
	return &ActivityRepository{
		db:         db,
		readOnlyDB: readOnlyDB,
	}
}

// Append writes one audit trail entry inside the caller's transaction
func Append(tx *gorm.DB, activity *models.OrderActivity) error {
	if activity.ID == uuid.Nil {
		activity.ID = uuid.New()
	}
	if err := tx.Create(activity).Error; err != nil {
		return errors.Wrap(err, "failed to append order activity")
	}
	return nil
}

// ListForOrder returns the audit trail of one order, newest first
func (r *ActivityRepository) ListForOrder(ctx context.Context, orderID uuid.UUID) ([]models.OrderActivity, error) {
	var activities []models.OrderActivity
	err := r.readOnlyDB.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("created_at DESC").
		Find(&activities).Error
	if err != nil {
		return nil, errors.Wrap(err, "failed to list order activities")
	}
	return activities, nil
}

// Recent returns the newest activities across all orders
func (r *ActivityRepository) Recent(ctx context.Context, limit int) ([]models.OrderActivity, error) {
	var activities []models.OrderActivity
	err := r.readOnlyDB.WithContext(ctx).
		Order("created_at DESC").
		Limit(limit).
		Find(&activities).Error
	if err != nil {
		return nil, errors.Wrap(err, "failed to list recent activities")
	}
	return activities, nil
}

// NotificationRepository provides access to workflow notifications
type NotificationRepository struct {
	db         *gorm.DB
	readOnlyDB *gorm.DB
}

// NewNotificationRepository creates a new notification repository
func NewNotificationRepository(db *gorm.DB, readOnlyDB *gorm.DB) *NotificationRepository {
	return &NotificationRepository{
		db:         db,
		readOnlyDB: readOnlyDB,
	}
}

// CreateBatch inserts one notification row per recipient inside the
// caller's transaction.
func CreateBatch(tx *gorm.DB, notifications []models.OrderNotification) error {
	if len(notifications) == 0 {
		return nil
	}
	for i := range notifications {
		if notifications[i].ID == uuid.Nil {
			notifications[i].ID = uuid.New()
		}
	}
	if err := tx.Create(&notifications).Error; err != nil {
		return errors.Wrap(err, "failed to create notifications")
	}
	return nil
}

// ListForRecipient returns a user's notifications, newest first
func (r *NotificationRepository) ListForRecipient(ctx context.Context, recipientID uuid.UUID, unreadOnly bool) ([]models.OrderNotification, error) {
	q := r.readOnlyDB.WithContext(ctx).Where("recipient_id = ?", recipientID)
	if unreadOnly {
		q = q.Where("is_read = ?", false)
	}

	var notifications []models.OrderNotification
	if err := q.Order("created_at DESC").Find(&notifications).Error; err != nil {
		return nil, errors.Wrap(err, "failed to list notifications")
	}
	return notifications, nil
}

// MarkRead marks one notification read for its recipient
func (r *NotificationRepository) MarkRead(ctx context.Context, id, recipientID uuid.UUID) error {
	now := time.Now()
	result := r.db.WithContext(ctx).
		Model(&models.OrderNotification{}).
		Where("id = ? AND recipient_id = ?", id, recipientID).
		Updates(map[string]interface{}{"is_read": true, "read_at": &now})
	if result.Error != nil {
		return errors.Wrap(result.Error, "failed to mark notification read")
	}
	if result.RowsAffected == 0 {
		return workflow.Errorf(workflow.KindNotFound, "notification %s not found", id)
	}
	return nil
}

// UnreadCount returns the number of unread notifications for a user
func (r *NotificationRepository) UnreadCount(ctx context.Context, recipientID uuid.UUID) (int64, error) {
	var count int64
	err := r.readOnlyDB.WithContext(ctx).
		Model(&models.OrderNotification{}).
		Where("recipient_id = ? AND is_read = ?", recipientID, false).
		Count(&count).Error
	if err != nil {
		return 0, errors.Wrap(err, "failed to count unread notifications")
	}
	return count, nil
}

// HasRecentOverdue reports whether an overdue notification was already
// raised for the order after the given time, so the sweep does not nag.
func (r *NotificationRepository) HasRecentOverdue(ctx context.Context, orderID uuid.UUID, since time.Time) (bool, error) {
	var count int64
	err := r.readOnlyDB.WithContext(ctx).
		Model(&models.OrderNotification{}).
		Where("order_id = ? AND notification_type = ? AND created_at > ?",
			orderID, models.NotifyOverdue, since).
		Count(&count).Error
	if err != nil {
		return false, errors.Wrap(err, "failed to probe overdue notifications")
	}
	return count > 0, nil
}

// CreateOverdue inserts overdue notifications outside any transition
func (r *NotificationRepository) CreateOverdue(ctx context.Context, notifications []models.OrderNotification) error {
	return CreateBatch(r.db.WithContext(ctx), notifications)
}

// QuoteRepository provides access to supplier quote options
type QuoteRepository struct {
	db         *gorm.DB
	readOnlyDB *gorm.DB
}

// NewQuoteRepository creates a new quote repository
func NewQuoteRepository(db *gorm.DB, readOnlyDB *gorm.DB) *QuoteRepository {
	return &QuoteRepository{
		db:         db,
		readOnlyDB: readOnlyDB,
	}
}

// ReplaceForOrder deletes the order's existing quote set and stores the
// new one. Runs inside the caller's transaction so a failed replacement
// leaves the prior set untouched.
func ReplaceForOrder(tx *gorm.DB, orderID uuid.UUID, quotes []models.QuoteOption) error {
	var existing []models.QuoteOption
	if err := tx.Where("order_id = ?", orderID).Find(&existing).Error; err != nil {
		return errors.Wrap(err, "failed to load existing quotes")
	}
	for _, q := range existing {
		if err := tx.Where("quote_option_id = ?", q.ID).Delete(&models.QuoteOptionItem{}).Error; err != nil {
			return errors.Wrap(err, "failed to delete existing quote items")
		}
	}
	if len(existing) > 0 {
		if err := tx.Where("order_id = ?", orderID).Delete(&models.QuoteOption{}).Error; err != nil {
			return errors.Wrap(err, "failed to delete existing quotes")
		}
	}

	for i := range quotes {
		quotes[i].OrderID = orderID
		if quotes[i].ID == uuid.Nil {
			quotes[i].ID = uuid.New()
		}
		for j := range quotes[i].ItemQuotes {
			quotes[i].ItemQuotes[j].QuoteOptionID = quotes[i].ID
			if quotes[i].ItemQuotes[j].ID == uuid.Nil {
				quotes[i].ItemQuotes[j].ID = uuid.New()
			}
		}
	}
	if len(quotes) > 0 {
		if err := tx.Create(&quotes).Error; err != nil {
			return errors.Wrap(err, "failed to store quote set")
		}
	}
	return nil
}

// GetOption gets one quote option with its item quotes, scoped to an
// order so foreign quote ids come back not-found.
func (r *QuoteRepository) GetOption(ctx context.Context, orderID, quoteID uuid.UUID) (*models.QuoteOption, error) {
	var quote models.QuoteOption
	err := r.readOnlyDB.WithContext(ctx).
		Preload("ItemQuotes").
		First(&quote, "id = ? AND order_id = ?", quoteID, orderID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, workflow.Errorf(workflow.KindNotFound,
				"quote %s not found on order %s", quoteID, orderID)
		}
		return nil, errors.Wrap(err, "failed to get quote option")
	}
	return &quote, nil
}

// ListForOrder returns all quote options of an order
func (r *QuoteRepository) ListForOrder(ctx context.Context, orderID uuid.UUID) ([]models.QuoteOption, error) {
	var quotes []models.QuoteOption
	err := r.readOnlyDB.WithContext(ctx).
		Preload("ItemQuotes").
		Where("order_id = ?", orderID).
		Find(&quotes).Error
	if err != nil {
		return nil, errors.Wrap(err, "failed to list quote options")
	}
	return quotes, nil
}
