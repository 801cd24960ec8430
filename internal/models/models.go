package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"example.com/farmgate/services/orders/internal/workflow"
)

// User is a minimal projection of the farm user directory, kept locally
// for role-based recipient resolution and authorization checks.
type User struct {
	ID        uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	CreatedAt time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
	Username  string         `gorm:"not null;uniqueIndex" json:"username"`
	FullName  string         `gorm:"not null" json:"full_name"`
	Email     string         `json:"email"`
	Role      workflow.Role  `gorm:"not null;index" json:"role"`
}

// Order is one purchase request moving through the approval workflow
type Order struct {
	ID        uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	CreatedAt time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	OrderNumber string             `gorm:"not null;uniqueIndex" json:"order_number"`
	OrderType   workflow.OrderType `gorm:"not null;index" json:"order_type"`
	Title       string             `gorm:"not null" json:"title"`
	Description string             `json:"description"`
	Quantity    int                `gorm:"not null" json:"quantity"`
	Unit        string             `gorm:"not null;default:pieces" json:"unit"`
	Urgency     workflow.Urgency   `gorm:"not null;default:medium" json:"urgency"`

	EstimatedCost decimal.Decimal `gorm:"type:numeric(12,2);not null" json:"estimated_cost"`
	Supplier      *string         `json:"supplier"`

	RequestedByID uuid.UUID `gorm:"type:uuid;not null;index" json:"requested_by_id"`
	RequestedBy   User      `gorm:"foreignKey:RequestedByID" json:"-"`

	Status          workflow.Status `gorm:"not null;default:pending;index" json:"status"`
	RejectionReason *string         `json:"rejection_reason"`

	RevisionReason      *string    `json:"revision_reason"`
	RevisionRequestedBy *uuid.UUID `gorm:"type:uuid" json:"revision_requested_by"`
	RevisionRequestedAt *time.Time `json:"revision_requested_at"`

	// Selected quote snapshot, populated once a quote is approved
	QuoteAmount   *decimal.Decimal `gorm:"type:numeric(12,2)" json:"quote_amount"`
	QuoteSupplier *string          `json:"quote_supplier"`
	QuoteNotes    *string          `json:"quote_notes"`

	// Payment snapshot, populated by finance
	PaymentAmount    *decimal.Decimal `gorm:"type:numeric(12,2)" json:"payment_amount"`
	PaymentMethod    *string          `json:"payment_method"`
	PaymentReference *string          `json:"payment_reference"`
	PaymentNotes     *string          `json:"payment_notes"`
	PaidByID         *uuid.UUID       `gorm:"type:uuid" json:"paid_by_id"`
	PaidAt           *time.Time       `json:"paid_at"`

	CompletionDate *time.Time `json:"completion_date"`

	Items         []OrderItem         `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE" json:"items,omitempty"`
	QuoteOptions  []QuoteOption       `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE" json:"quote_options,omitempty"`
	Approvals     []OrderApproval     `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE" json:"approvals,omitempty"`
	Activities    []OrderActivity     `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE" json:"-"`
	Comments      []OrderComment      `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE" json:"comments,omitempty"`
	Notifications []OrderNotification `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE" json:"-"`
}

// OrderItem is one line item of a multi-item order
type OrderItem struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`

	OrderID       uuid.UUID        `gorm:"type:uuid;not null;index" json:"order_id"`
	Name          string           `gorm:"not null" json:"name"`
	Quantity      int              `gorm:"not null" json:"quantity"`
	Unit          string           `gorm:"not null;default:pieces" json:"unit"`
	EstimatedCost *decimal.Decimal `gorm:"type:numeric(12,2)" json:"estimated_cost"`
	IsCustom      bool             `gorm:"not null;default:false" json:"is_custom"`
}

// QuoteOption is one supplier's bid for an order
type QuoteOption struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`

	OrderID         uuid.UUID       `gorm:"type:uuid;not null;index" json:"order_id"`
	SupplierName    string          `gorm:"not null" json:"supplier_name"`
	SupplierAddress string          `json:"supplier_address"`
	BuyingCompany   string          `json:"buying_company"`
	QuotedAmount    decimal.Decimal `gorm:"type:numeric(12,2);not null" json:"quoted_amount"`
	DeliveryTime    string          `json:"delivery_time"`
	Notes           string          `json:"notes"`
	IsRecommended   bool            `gorm:"not null;default:false" json:"is_recommended"`
	IsSelected      bool            `gorm:"not null;default:false" json:"is_selected"`
	SubmittedByID   uuid.UUID       `gorm:"type:uuid;not null" json:"submitted_by_id"`

	ItemQuotes []QuoteOptionItem `gorm:"foreignKey:QuoteOptionID;constraint:OnDelete:CASCADE" json:"item_quotes,omitempty"`
}

// QuoteOptionItem is a per-line-item price inside a quote option. The
// (quote option, order item) pair is unique.
type QuoteOptionItem struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`

	QuoteOptionID  uuid.UUID        `gorm:"type:uuid;not null;index;uniqueIndex:idx_quote_item" json:"quote_option_id"`
	OrderItemID    uuid.UUID        `gorm:"type:uuid;not null;uniqueIndex:idx_quote_item" json:"order_item_id"`
	UnitPrice      *decimal.Decimal `gorm:"type:numeric(12,2)" json:"unit_price"`
	TotalPrice     *decimal.Decimal `gorm:"type:numeric(12,2)" json:"total_price"`
	Availability   string           `json:"availability"`
	Notes          string           `json:"notes"`
	IsNotAvailable bool             `gorm:"not null;default:false" json:"is_not_available"`
	IsSelected     bool             `gorm:"not null;default:false" json:"is_selected"`
}

// OrderApproval is the approval ledger: one row per (order, stage) at any
// time, re-decisions overwrite via upsert.
type OrderApproval struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`

	OrderID    uuid.UUID               `gorm:"type:uuid;not null;uniqueIndex:idx_order_stage" json:"order_id"`
	Stage      workflow.Stage          `gorm:"not null;uniqueIndex:idx_order_stage" json:"stage"`
	ApproverID uuid.UUID               `gorm:"type:uuid;not null;index" json:"approver_id"`
	Approver   User                    `gorm:"foreignKey:ApproverID" json:"-"`
	Action     workflow.DecisionAction `gorm:"not null" json:"action"`
	Notes      string                  `json:"notes"`

	RequiresRevision  bool `gorm:"not null;default:false" json:"requires_revision"`
	RevisionCompleted bool `gorm:"not null;default:false" json:"revision_completed"`
}

// OrderActivity is the append-only audit trail. Metadata is the typed
// workflow payload encoded as JSONB at the repository boundary.
type OrderActivity struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	CreatedAt time.Time `gorm:"autoCreateTime;index" json:"created_at"`

	OrderID        uuid.UUID             `gorm:"type:uuid;not null;index" json:"order_id"`
	ActivityType   workflow.ActivityType `gorm:"not null;index" json:"activity_type"`
	UserID         uuid.UUID             `gorm:"type:uuid;not null;index" json:"user_id"`
	User           User                  `gorm:"foreignKey:UserID" json:"-"`
	Description    string                `gorm:"not null" json:"description"`
	PreviousStatus *workflow.Status      `json:"previous_status"`
	NewStatus      *workflow.Status      `json:"new_status"`
	Metadata       []byte                `gorm:"type:jsonb" json:"metadata"`
	IPAddress      *string               `json:"ip_address"`
	UserAgent      *string               `json:"user_agent"`
}

// OrderComment is a note on an order; internal comments are hidden from
// the requester.
type OrderComment struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`

	OrderID    uuid.UUID `gorm:"type:uuid;not null;index" json:"order_id"`
	UserID     uuid.UUID `gorm:"type:uuid;not null" json:"user_id"`
	User       User      `gorm:"foreignKey:UserID" json:"-"`
	Comment    string    `gorm:"not null" json:"comment"`
	IsInternal bool      `gorm:"not null;default:false" json:"is_internal"`
}

// NotificationType classifies a workflow notification
type NotificationType string

// Notification types
const (
	NotifyApprovalNeeded    NotificationType = "approval_needed"
	NotifyApproved          NotificationType = "approved"
	NotifyRejected          NotificationType = "rejected"
	NotifyRevisionRequested NotificationType = "revision_requested"
	NotifyCompleted         NotificationType = "completed"
	NotifyOverdue           NotificationType = "overdue"
)

// OrderNotification is one fan-out row per (order, recipient) per event
type OrderNotification struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	CreatedAt time.Time `gorm:"autoCreateTime;index" json:"created_at"`

	OrderID          uuid.UUID        `gorm:"type:uuid;not null;index" json:"order_id"`
	RecipientID      uuid.UUID        `gorm:"type:uuid;not null;index:idx_recipient_read" json:"recipient_id"`
	Recipient        User             `gorm:"foreignKey:RecipientID" json:"-"`
	NotificationType NotificationType `gorm:"not null" json:"notification_type"`
	Title            string           `gorm:"not null" json:"title"`
	Message          string           `json:"message"`
	IsRead           bool             `gorm:"not null;default:false;index:idx_recipient_read" json:"is_read"`
	ReadAt           *time.Time       `json:"read_at"`
}

// SetupModels configures GORM models and runs migrations
func SetupModels(db *gorm.DB) error {
	err := db.AutoMigrate(
		&User{},
		&Order{},
		&OrderItem{},
		&QuoteOption{},
		&QuoteOptionItem{},
		&OrderApproval{},
		&OrderActivity{},
		&OrderComment{},
		&OrderNotification{},
	)

	if err != nil {
		return errors.Wrap(err, "failed to run auto migrations")
	}

	return nil
}
