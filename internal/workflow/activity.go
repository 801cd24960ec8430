package workflow

import (
	"encoding/json"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// ActivityType names an audit log event
type ActivityType string

// Audit log event types
const (
	ActivityCreated           ActivityType = "created"
	ActivityManagerApproved   ActivityType = "manager_approved"
	ActivityManagerRejected   ActivityType = "manager_rejected"
	ActivityQuoteSubmitted    ActivityType = "quote_submitted"
	ActivityQuoteApproved     ActivityType = "quote_approved"
	ActivityQuoteRejected     ActivityType = "quote_rejected"
	ActivityPaymentCompleted  ActivityType = "payment_completed"
	ActivityRevisionRequested ActivityType = "revision_requested"
	ActivityRevisionSubmitted ActivityType = "revision_submitted"
	ActivityCompleted         ActivityType = "completed"
	ActivitySplit             ActivityType = "split"
	ActivityCommentAdded      ActivityType = "comment_added"
	ActivityDeleted           ActivityType = "deleted"
)

// ActivityPayload is the typed metadata attached to one audit log entry.
// Each activity type has its own variant; the payload is encoded to JSON
// only at the storage boundary.
type ActivityPayload interface {
	ActivityType() ActivityType
}

// CreatedPayload records the order as requested
type CreatedPayload struct {
	Title         string  `json:"title"`
	OrderType     string  `json:"order_type"`
	Quantity      int     `json:"quantity"`
	EstimatedCost float64 `json:"estimated_cost"`
	ItemCount     int     `json:"item_count"`
}

func (CreatedPayload) ActivityType() ActivityType { return ActivityCreated }

// DecisionPayload records an approval-ledger ruling
type DecisionPayload struct {
	Type   ActivityType `json:"-"`
	Stage  string       `json:"stage"`
	Action string       `json:"action"`
	Notes  string       `json:"notes,omitempty"`
}

func (p DecisionPayload) ActivityType() ActivityType { return p.Type }

// QuoteSetPayload records a procurement quote submission
type QuoteSetPayload struct {
	QuoteCount  int      `json:"quote_count"`
	Suppliers   []string `json:"suppliers"`
	Recommended string   `json:"recommended_supplier"`
}

func (QuoteSetPayload) ActivityType() ActivityType { return ActivityQuoteSubmitted }

// QuoteSelectionPayload records a manager quote selection, full or mixed
type QuoteSelectionPayload struct {
	Supplier      string  `json:"supplier"`
	QuoteAmount   float64 `json:"quote_amount"`
	Mixed         bool    `json:"mixed"`
	SelectedItems int     `json:"selected_items,omitempty"`
}

func (QuoteSelectionPayload) ActivityType() ActivityType { return ActivityQuoteApproved }

// PaymentPayload records the finance payment details
type PaymentPayload struct {
	Amount    float64 `json:"amount"`
	Method    string  `json:"method,omitempty"`
	Reference string  `json:"reference,omitempty"`
}

func (PaymentPayload) ActivityType() ActivityType { return ActivityPaymentCompleted }

// RevisionPayload records a revision request or resubmission
type RevisionPayload struct {
	Type  ActivityType `json:"-"`
	Stage string       `json:"stage,omitempty"`
	Notes string       `json:"notes,omitempty"`
}

func (p RevisionPayload) ActivityType() ActivityType { return p.Type }

// SplitPayload records an order split on the original order
type SplitPayload struct {
	ChildOrderNumbers []string `json:"child_order_numbers"`
	GroupSizes        []int    `json:"group_sizes"`
	Notes             string   `json:"notes,omitempty"`
}

func (SplitPayload) ActivityType() ActivityType { return ActivitySplit }

// CommentPayload records an added comment
type CommentPayload struct {
	Comment    string `json:"comment"`
	IsInternal bool   `json:"is_internal"`
}

func (CommentPayload) ActivityType() ActivityType { return ActivityCommentAdded }

// DeletionPayload records a superadmin deletion
type DeletionPayload struct {
	OrderNumber string `json:"order_number"`
	Reason      string `json:"reason,omitempty"`
}

func (DeletionPayload) ActivityType() ActivityType { return ActivityDeleted }

// CompletionPayload records final completion
type CompletionPayload struct {
	CompletionDate string `json:"completion_date"`
}

func (CompletionPayload) ActivityType() ActivityType { return ActivityCompleted }

// EncodePayload serializes a typed payload for JSONB storage
func EncodePayload(p ActivityPayload) ([]byte, error) {
	if p == nil {
		return []byte("{}"), nil
	}
	data, err := json.Marshal(p)
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode activity payload")
	}
	return data, nil
}

// JSONAmount converts a high-precision decimal to the float64
// representation stored inside activity metadata.
func JSONAmount(d decimal.Decimal) float64 {
	f, _ := d.Float64()
	return f
}
