package workflow

// Operation is a boundary operation of the transition engine
type Operation string

// Engine operations
const (
	OpCreate            Operation = "create"
	OpManagerApprove    Operation = "manager_approve"
	OpSubmitQuote       Operation = "submit_quote"
	OpApproveQuote      Operation = "approve_quote"
	OpApproveMixedQuote Operation = "approve_mixed_quote"
	OpCompletePayment   Operation = "complete_payment"
	OpComplete          Operation = "complete"
	OpSubmitRevision    Operation = "submit_revision"
	OpSplitAndApprove   Operation = "split_and_approve"
	OpAddComment        Operation = "add_comment"
	OpDelete            Operation = "delete"
)

// Rule describes one row of the transition table: which roles may invoke
// the operation and which statuses it accepts as a precondition. An empty
// From set means the operation is not status-gated.
type Rule struct {
	Roles []Role
	From  []Status
}

var managerial = []Role{RoleManager, RoleAdmin, RoleSuperAdmin}
var anyRole = []Role{
	RoleSuperAdmin, RoleAdmin, RoleManager, RoleFinanceManager,
	RoleProcurement, RoleHeadVeterinary, RoleVeterinary,
	RoleOperator, RoleWarehouseWorker, RoleViewer,
}

// transitionTable maps each operation to its required roles and the
// statuses it may be applied from. Resulting statuses depend on the
// submitted action, so they live with the engine, not here.
var transitionTable = map[Operation]Rule{
	OpCreate:         {Roles: anyRole},
	OpManagerApprove: {Roles: managerial, From: []Status{StatusPending}},
	OpSubmitQuote: {
		Roles: []Role{RoleProcurement, RoleSuperAdmin},
		From:  []Status{StatusApprovedByManager, StatusQuoteSubmitted},
	},
	OpApproveQuote:      {Roles: managerial, From: []Status{StatusQuoteSubmitted}},
	OpApproveMixedQuote: {Roles: managerial, From: []Status{StatusQuoteSubmitted}},
	OpCompletePayment: {
		Roles: []Role{RoleFinanceManager, RoleSuperAdmin},
		From:  []Status{StatusQuoteApprovedByManager},
	},
	OpComplete: {
		Roles: []Role{RoleFinanceManager, RoleSuperAdmin},
		From:  []Status{StatusPaymentCompleted, StatusApprovedByFinance},
	},
	OpSubmitRevision: {
		Roles: anyRole,
		From: []Status{
			StatusRevisionByManager,
			StatusRevisionByProcurement,
			StatusRevisionByFinance,
		},
	},
	OpSplitAndApprove: {Roles: managerial, From: []Status{StatusPending}},
	OpAddComment:      {Roles: anyRole},
	OpDelete:          {Roles: []Role{RoleSuperAdmin}},
}

// Allowed reports whether role may invoke op at all, independent of the
// order's current status.
func Allowed(role Role, op Operation) bool {
	rule, ok := transitionTable[op]
	if !ok {
		return false
	}
	for _, r := range rule.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// CheckTransition validates role and current status for op. It returns a
// forbidden error for a role mismatch and a precondition error when the
// order is not in an accepted status.
func CheckTransition(op Operation, role Role, current Status) error {
	rule, ok := transitionTable[op]
	if !ok {
		return Errorf(KindValidation, "unknown operation %q", op)
	}
	if !Allowed(role, op) {
		return Errorf(KindForbidden, "role %q may not perform %s", role, op)
	}
	if len(rule.From) == 0 {
		return nil
	}
	for _, s := range rule.From {
		if s == current {
			return nil
		}
	}
	return Errorf(KindPrecondition,
		"operation %s requires status %v, order is %q", op, rule.From, current)
}

// RequiredStatuses returns the accepted preconditions for op
func RequiredStatuses(op Operation) []Status {
	return transitionTable[op].From
}
