package workflow

// Status is the lifecycle state of an order
type Status string

// Order statuses
const (
	StatusPending                Status = "pending"
	StatusApprovedByManager      Status = "approved_by_manager"
	StatusQuoteSubmitted         Status = "procurement_quote_submitted"
	StatusQuoteApprovedByManager Status = "quote_approved_by_manager"
	StatusPaymentCompleted       Status = "payment_completed"
	StatusCompleted              Status = "completed"
	StatusRejected               Status = "rejected"
	StatusCancelled              Status = "cancelled"

	StatusRevisionByManager     Status = "revision_requested_by_manager"
	StatusRevisionByProcurement Status = "revision_requested_by_procurement"
	StatusRevisionByFinance     Status = "revision_requested_by_finance"

	// StatusApprovedByFinance is a legacy status still accepted as a
	// precondition for completion.
	StatusApprovedByFinance Status = "approved_by_finance"
)

// AllStatuses is the closed set of valid order statuses
var AllStatuses = []Status{
	StatusPending,
	StatusApprovedByManager,
	StatusQuoteSubmitted,
	StatusQuoteApprovedByManager,
	StatusPaymentCompleted,
	StatusCompleted,
	StatusRejected,
	StatusCancelled,
	StatusRevisionByManager,
	StatusRevisionByProcurement,
	StatusRevisionByFinance,
	StatusApprovedByFinance,
}

// IsValid reports whether s belongs to the closed status set
func (s Status) IsValid() bool {
	for _, known := range AllStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transitions are possible
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCancelled || s == StatusRejected
}

// NeedsRevision reports whether the order is waiting on the requester
func (s Status) NeedsRevision() bool {
	return s == StatusRevisionByManager ||
		s == StatusRevisionByProcurement ||
		s == StatusRevisionByFinance
}

// Role is a user role from the farm user directory
type Role string

// User roles
const (
	RoleSuperAdmin      Role = "super_admin"
	RoleAdmin           Role = "admin"
	RoleManager         Role = "manager"
	RoleFinanceManager  Role = "finance_manager"
	RoleProcurement     Role = "procurement"
	RoleHeadVeterinary  Role = "head_veterinary"
	RoleVeterinary      Role = "veterinary"
	RoleOperator        Role = "operator"
	RoleWarehouseWorker Role = "warehouse_worker"
	RoleViewer          Role = "viewer"
)

// OrderType classifies what is being procured
type OrderType string

// Order types
const (
	TypeMedicine  OrderType = "medicine"
	TypeEquipment OrderType = "equipment"
	TypeSupplies  OrderType = "supplies"
)

// IsValid reports whether t is a known order type
func (t OrderType) IsValid() bool {
	return t == TypeMedicine || t == TypeEquipment || t == TypeSupplies
}

// Urgency tiers
type Urgency string

const (
	UrgencyLow      Urgency = "low"
	UrgencyMedium   Urgency = "medium"
	UrgencyHigh     Urgency = "high"
	UrgencyCritical Urgency = "critical"
)

// IsValid reports whether u is a known urgency tier
func (u Urgency) IsValid() bool {
	return u == UrgencyLow || u == UrgencyMedium || u == UrgencyHigh || u == UrgencyCritical
}

// Stage identifies one slot of the approval ledger
type Stage string

// Approval ledger stages
const (
	StageManagerInitial Stage = "manager_initial"
	StageProcurement    Stage = "procurement"
	StageManagerQuote   Stage = "manager_quote"
	StageFinance        Stage = "finance"
)

// DecisionAction is the ruling recorded at a ledger stage
type DecisionAction string

// Ledger decision actions
const (
	ActionApproved          DecisionAction = "approved"
	ActionRejected          DecisionAction = "rejected"
	ActionRevisionRequested DecisionAction = "revision_requested"
)
