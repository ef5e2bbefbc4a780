package workflow

import (
	"github.com/google/uuid"

	"github.com/angelmondragon/orderflow-backend/internal/lifecycle"
	"github.com/angelmondragon/orderflow-backend/pkg/db/models"
	"github.com/angelmondragon/orderflow-backend/pkg/enums"
)

// Reason classifies why a status change did not happen.
type Reason string

const (
	ReasonInvalidTransition      Reason = "invalid_transition"
	ReasonRoleNotAllowed         Reason = "role_not_allowed"
	ReasonBusinessRuleViolation  Reason = "business_rule_violation"
	ReasonNotFound               Reason = "not_found"
	ReasonStoreWriteFailure      Reason = "store_write_failure"
	ReasonInsufficientPermission Reason = "insufficient_permission"
)

// Validation is the outcome of checking one transition against the graph.
type Validation struct {
	Valid   bool                   `json:"valid"`
	Reason  Reason                 `json:"reason,omitempty"`
	Rule    lifecycle.BusinessRule `json:"rule,omitempty"`
	Message string                 `json:"message,omitempty"`
}

var ruleMessages = map[lifecycle.BusinessRule]string{
	lifecycle.RuleHasTotalAmount: "order must have a total amount before it can be priced",
	lifecycle.RuleHasDriver:      "a driver must be assigned to the order",
	lifecycle.RuleDriverAssigned: "only the assigned driver can perform this transition",
}

// ValidateTransition checks (current, next) for role and actorID against
// graph. It has no side effects.
func ValidateTransition(graph *lifecycle.Graph, current, next enums.OrderStatus, role enums.Role, actorID string, order models.Order) Validation {
	rule, ok := graph.Lookup(current, next)
	if !ok {
		return Validation{
			Reason:  ReasonInvalidTransition,
			Message: "cannot move an order from " + string(current) + " to " + string(next),
		}
	}
	if !rule.Allows(role) {
		return Validation{
			Reason:  ReasonRoleNotAllowed,
			Message: "role " + string(role) + " cannot move an order to " + string(next),
		}
	}
	for _, br := range rule.BusinessRules {
		if holds(br, actorID, order) {
			continue
		}
		return Validation{
			Reason:  ReasonBusinessRuleViolation,
			Rule:    br,
			Message: ruleMessages[br],
		}
	}
	return Validation{Valid: true}
}

// AllowedTransitions lists the statuses role can move order to right now.
func AllowedTransitions(graph *lifecycle.Graph, current enums.OrderStatus, role enums.Role, actorID string, order models.Order) []enums.OrderStatus {
	allowed := []enums.OrderStatus{}
	for _, rule := range graph.From(current) {
		if !rule.Allows(role) {
			continue
		}
		if ValidateTransition(graph, current, rule.To, role, actorID, order).Valid {
			allowed = append(allowed, rule.To)
		}
	}
	return allowed
}

func holds(rule lifecycle.BusinessRule, actorID string, order models.Order) bool {
	switch rule {
	case lifecycle.RuleHasTotalAmount:
		return order.TotalAmount != nil
	case lifecycle.RuleHasDriver:
		return order.HasDriver()
	case lifecycle.RuleDriverAssigned:
		if !order.HasDriver() {
			return false
		}
		actor, err := uuid.Parse(actorID)
		return err == nil && actor == *order.DriverID
	default:
		return false
	}
}
