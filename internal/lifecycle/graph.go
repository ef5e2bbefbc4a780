// Package lifecycle declares the order status graph: which edges exist,
// who may take them, what must hold before they are taken and who hears
// about it afterwards.
package lifecycle

import (
	"github.com/angelmondragon/orderflow-backend/pkg/enums"
)

// BusinessRule names a predicate that must hold before an edge is taken.
type BusinessRule string

const (
	RuleHasTotalAmount BusinessRule = "has_total_amount"
	RuleHasDriver      BusinessRule = "has_driver"
	RuleDriverAssigned BusinessRule = "driver_assigned"
)

// Channels selects the delivery surfaces for a notification policy.
type Channels struct {
	Realtime bool
	Browser  bool
	Email    bool
}

// NotifyPolicy describes who is told about a transition and how.
type NotifyPolicy struct {
	Recipients []enums.Role
	Priority   enums.NotificationPriority
	Type       enums.NotificationType
	Channels   Channels
}

// Automation flags attach delayed follow-ups to an edge.
type Automation struct {
	ScheduleAutoComplete bool
	ScheduleEscalation   bool
}

// Edge is a directed pair of statuses.
type Edge struct {
	From enums.OrderStatus
	To   enums.OrderStatus
}

// Rule is the single definition of one edge.
type Rule struct {
	Edge
	AllowedRoles  []enums.Role
	BusinessRules []BusinessRule
	Automation    Automation
	Notify        NotifyPolicy
	// ClearsDriver detaches the driver when the edge is taken.
	ClearsDriver bool
	// AttachesDriver requires the change request to carry a driver id.
	AttachesDriver bool
	// SetsTotalAmount lets the edge write the request's total amount. No other edge may.
	SetsTotalAmount bool
}

// Allows reports whether role may take the edge.
func (r Rule) Allows(role enums.Role) bool {
	for _, allowed := range r.AllowedRoles {
		if allowed == role {
			return true
		}
	}
	return false
}

// Graph is an immutable rule table keyed by edge.
type Graph struct {
	rules map[Edge]Rule
	order []Edge
}

// NewGraph builds a graph from rules. Later duplicates of an edge are ignored.
func NewGraph(rules ...Rule) *Graph {
	g := &Graph{rules: make(map[Edge]Rule, len(rules))}
	for _, rule := range rules {
		if _, exists := g.rules[rule.Edge]; exists {
			continue
		}
		g.rules[rule.Edge] = rule
		g.order = append(g.order, rule.Edge)
	}
	return g
}

// Lookup returns the rule for (from, to).
func (g *Graph) Lookup(from, to enums.OrderStatus) (Rule, bool) {
	rule, ok := g.rules[Edge{From: from, To: to}]
	return rule, ok
}

// From returns every rule leaving status, in declaration order.
func (g *Graph) From(status enums.OrderStatus) []Rule {
	var out []Rule
	for _, edge := range g.order {
		if edge.From == status {
			out = append(out, g.rules[edge])
		}
	}
	return out
}

// Edges returns every declared edge, in declaration order.
func (g *Graph) Edges() []Edge {
	out := make([]Edge, len(g.order))
	copy(out, g.order)
	return out
}

var (
	realtimeOnly    = Channels{Realtime: true}
	realtimeBrowser = Channels{Realtime: true, Browser: true}
)

// Default is the production order lifecycle.
var Default = NewGraph(
	Rule{
		Edge:         Edge{From: enums.OrderStatusPending, To: enums.OrderStatusConfirmed},
		AllowedRoles: []enums.Role{enums.RoleRestaurant, enums.RoleAdmin},
		Notify: NotifyPolicy{
			Recipients: []enums.Role{enums.RoleAdmin},
			Priority:   enums.NotificationPriorityNormal,
			Type:       enums.NotificationTypeStatusChange,
			Channels:   realtimeOnly,
		},
	},
	Rule{
		Edge:         Edge{From: enums.OrderStatusPending, To: enums.OrderStatusCancelled},
		AllowedRoles: []enums.Role{enums.RoleRestaurant, enums.RoleAdmin},
		Notify: NotifyPolicy{
			Recipients: []enums.Role{enums.RoleAdmin, enums.RoleRestaurant},
			Priority:   enums.NotificationPriorityNormal,
			Type:       enums.NotificationTypeCancelled,
			Channels:   realtimeOnly,
		},
	},
	Rule{
		Edge:            Edge{From: enums.OrderStatusConfirmed, To: enums.OrderStatusPriced},
		AllowedRoles:    []enums.Role{enums.RoleAdmin},
		BusinessRules:   []BusinessRule{RuleHasTotalAmount},
		SetsTotalAmount: true,
		Notify: NotifyPolicy{
			Recipients: []enums.Role{enums.RoleRestaurant},
			Priority:   enums.NotificationPriorityNormal,
			Type:       enums.NotificationTypeStatusChange,
			Channels:   realtimeOnly,
		},
	},
	Rule{
		Edge:         Edge{From: enums.OrderStatusConfirmed, To: enums.OrderStatusCancelled},
		AllowedRoles: []enums.Role{enums.RoleRestaurant, enums.RoleAdmin},
		Notify: NotifyPolicy{
			Recipients: []enums.Role{enums.RoleAdmin, enums.RoleRestaurant},
			Priority:   enums.NotificationPriorityNormal,
			Type:       enums.NotificationTypeCancelled,
			Channels:   realtimeOnly,
		},
	},
	Rule{
		Edge:           Edge{From: enums.OrderStatusPriced, To: enums.OrderStatusAssigned},
		AllowedRoles:   []enums.Role{enums.RoleAdmin},
		BusinessRules:  []BusinessRule{RuleHasDriver},
		AttachesDriver: true,
		Notify: NotifyPolicy{
			Recipients: []enums.Role{enums.RoleDriver, enums.RoleRestaurant},
			Priority:   enums.NotificationPriorityHigh,
			Type:       enums.NotificationTypeAssigned,
			Channels:   realtimeBrowser,
		},
	},
	Rule{
		Edge:         Edge{From: enums.OrderStatusPriced, To: enums.OrderStatusCancelled},
		AllowedRoles: []enums.Role{enums.RoleAdmin},
		Notify: NotifyPolicy{
			Recipients: []enums.Role{enums.RoleRestaurant},
			Priority:   enums.NotificationPriorityNormal,
			Type:       enums.NotificationTypeCancelled,
			Channels:   realtimeOnly,
		},
	},
	Rule{
		Edge:          Edge{From: enums.OrderStatusAssigned, To: enums.OrderStatusOutForDelivery},
		AllowedRoles:  []enums.Role{enums.RoleDriver},
		BusinessRules: []BusinessRule{RuleDriverAssigned},
		Automation:    Automation{ScheduleEscalation: true},
		Notify: NotifyPolicy{
			Recipients: []enums.Role{enums.RoleRestaurant, enums.RoleAdmin},
			Priority:   enums.NotificationPriorityNormal,
			Type:       enums.NotificationTypeDeliveryUpdate,
			Channels:   realtimeOnly,
		},
	},
	Rule{
		Edge:         Edge{From: enums.OrderStatusAssigned, To: enums.OrderStatusCancelled},
		AllowedRoles: []enums.Role{enums.RoleAdmin},
		ClearsDriver: true,
		Notify: NotifyPolicy{
			Recipients: []enums.Role{enums.RoleRestaurant, enums.RoleDriver},
			Priority:   enums.NotificationPriorityHigh,
			Type:       enums.NotificationTypeCancelled,
			Channels:   realtimeBrowser,
		},
	},
	Rule{
		Edge:          Edge{From: enums.OrderStatusOutForDelivery, To: enums.OrderStatusDelivered},
		AllowedRoles:  []enums.Role{enums.RoleDriver},
		BusinessRules: []BusinessRule{RuleDriverAssigned},
		Automation:    Automation{ScheduleAutoComplete: true},
		Notify: NotifyPolicy{
			Recipients: []enums.Role{enums.RoleRestaurant, enums.RoleAdmin},
			Priority:   enums.NotificationPriorityHigh,
			Type:       enums.NotificationTypeDeliveryUpdate,
			Channels:   realtimeBrowser,
		},
	},
	Rule{
		Edge:         Edge{From: enums.OrderStatusDelivered, To: enums.OrderStatusCompleted},
		AllowedRoles: []enums.Role{enums.RoleAdmin, enums.RoleRestaurant},
		Notify: NotifyPolicy{
			Recipients: []enums.Role{enums.RoleRestaurant, enums.RoleDriver},
			Priority:   enums.NotificationPriorityLow,
			Type:       enums.NotificationTypeStatusChange,
			Channels:   realtimeOnly,
		},
	},
)
