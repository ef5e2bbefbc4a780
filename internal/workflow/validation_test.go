package workflow

import (
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/angelmondragon/orderflow-backend/internal/lifecycle"
	"github.com/angelmondragon/orderflow-backend/pkg/db/models"
	"github.com/angelmondragon/orderflow-backend/pkg/enums"
)

var allRoles = []enums.Role{enums.RoleAdmin, enums.RoleRestaurant, enums.RoleDriver}

// satisfiedOrder returns an order and actor for which every business rule holds.
func satisfiedOrder() (models.Order, string) {
	driver := uuid.New()
	amount := decimal.RequireFromString("10.00")
	return models.Order{ID: uuid.New(), RestaurantID: uuid.New(), DriverID: &driver, TotalAmount: &amount}, driver.String()
}

func TestUnmappedPairsAreInvalidTransitions(t *testing.T) {
	order, actor := satisfiedOrder()
	for _, from := range enums.OrderStatuses() {
		for _, to := range enums.OrderStatuses() {
			if _, ok := lifecycle.Default.Lookup(from, to); ok {
				continue
			}
			for _, role := range allRoles {
				v := ValidateTransition(lifecycle.Default, from, to, role, actor, order)
				assert.Falsef(t, v.Valid, "%s -> %s as %s", from, to, role)
				assert.Equalf(t, ReasonInvalidTransition, v.Reason, "%s -> %s as %s", from, to, role)
			}
		}
	}
}

func TestOnlyListedRolesMayTakeAnEdge(t *testing.T) {
	order, actor := satisfiedOrder()
	for _, edge := range lifecycle.Default.Edges() {
		rule, _ := lifecycle.Default.Lookup(edge.From, edge.To)
		for _, role := range allRoles {
			v := ValidateTransition(lifecycle.Default, edge.From, edge.To, role, actor, order)
			if rule.Allows(role) {
				assert.Truef(t, v.Valid, "%s -> %s as %s: %s", edge.From, edge.To, role, v.Message)
				continue
			}
			assert.Equalf(t, ReasonRoleNotAllowed, v.Reason, "%s -> %s as %s", edge.From, edge.To, role)
		}
	}
}

func TestAssignWithoutDriverViolatesHasDriver(t *testing.T) {
	order := models.Order{ID: uuid.New(), Status: enums.OrderStatusPriced}
	v := ValidateTransition(lifecycle.Default, enums.OrderStatusPriced, enums.OrderStatusAssigned, enums.RoleAdmin, "admin-1", order)
	assert.False(t, v.Valid)
	assert.Equal(t, ReasonBusinessRuleViolation, v.Reason)
	assert.Equal(t, lifecycle.RuleHasDriver, v.Rule)
	assert.NotEmpty(t, v.Message)
}

func TestPricingRequiresTotalAmount(t *testing.T) {
	order := models.Order{ID: uuid.New(), Status: enums.OrderStatusConfirmed}
	v := ValidateTransition(lifecycle.Default, enums.OrderStatusConfirmed, enums.OrderStatusPriced, enums.RoleAdmin, "admin-1", order)
	assert.Equal(t, lifecycle.RuleHasTotalAmount, v.Rule)

	amount := decimal.RequireFromString("42.00")
	order.TotalAmount = &amount
	assert.True(t, ValidateTransition(lifecycle.Default, enums.OrderStatusConfirmed, enums.OrderStatusPriced, enums.RoleAdmin, "admin-1", order).Valid)
}

func TestDeliveryRequiresTheAssignedDriver(t *testing.T) {
	driver := uuid.New()
	order := models.Order{ID: uuid.New(), DriverID: &driver, Status: enums.OrderStatusOutForDelivery}

	v := ValidateTransition(lifecycle.Default, enums.OrderStatusOutForDelivery, enums.OrderStatusDelivered, enums.RoleDriver, driver.String(), order)
	assert.True(t, v.Valid)

	v = ValidateTransition(lifecycle.Default, enums.OrderStatusOutForDelivery, enums.OrderStatusDelivered, enums.RoleDriver, uuid.NewString(), order)
	assert.Equal(t, ReasonBusinessRuleViolation, v.Reason)
	assert.Equal(t, lifecycle.RuleDriverAssigned, v.Rule)

	v = ValidateTransition(lifecycle.Default, enums.OrderStatusOutForDelivery, enums.OrderStatusDelivered, enums.RoleAdmin, driver.String(), order)
	assert.Equal(t, ReasonRoleNotAllowed, v.Reason)

	v = ValidateTransition(lifecycle.Default, enums.OrderStatusOutForDelivery, enums.OrderStatusDelivered, enums.RoleDriver, "not-a-uuid", order)
	assert.False(t, v.Valid)
}

func TestAllowedTransitionsFiltersByRoleAndRules(t *testing.T) {
	order := models.Order{ID: uuid.New(), Status: enums.OrderStatusPriced}
	assert.ElementsMatch(t,
		[]enums.OrderStatus{enums.OrderStatusCancelled},
		AllowedTransitions(lifecycle.Default, enums.OrderStatusPriced, enums.RoleAdmin, "admin-1", order),
		"assignment needs a driver first")

	driver := uuid.New()
	order.DriverID = &driver
	assert.ElementsMatch(t,
		[]enums.OrderStatus{enums.OrderStatusAssigned, enums.OrderStatusCancelled},
		AllowedTransitions(lifecycle.Default, enums.OrderStatusPriced, enums.RoleAdmin, "admin-1", order))

	assert.Empty(t, AllowedTransitions(lifecycle.Default, enums.OrderStatusPriced, enums.RoleRestaurant, "r1", order))
	assert.Empty(t, AllowedTransitions(lifecycle.Default, enums.OrderStatusCompleted, enums.RoleAdmin, "admin-1", order))
}

func TestReasonOf(t *testing.T) {
	err := validationError(Validation{Reason: ReasonBusinessRuleViolation, Rule: lifecycle.RuleHasDriver, Message: "x"})
	assert.Equal(t, ReasonBusinessRuleViolation, ReasonOf(err))
	assert.Equal(t, ReasonInsufficientPermission, ReasonOf(ReasonError(ReasonInsufficientPermission, "admins only")))
	assert.Equal(t, Reason(""), ReasonOf(assert.AnError))
	assert.Equal(t, Reason(""), ReasonOf(nil))
}
