// Package automation keeps the delayed follow-ups of the order lifecycle
// in the database and fires them from the cron worker.
package automation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/orderflow-backend/pkg/db/models"
	"github.com/angelmondragon/orderflow-backend/pkg/enums"
)

// Scheduler records automations that should fire after a delay.
type Scheduler struct {
	repo Repository
	now  func() time.Time
}

// NewScheduler builds a Scheduler over repo.
func NewScheduler(repo Repository) (*Scheduler, error) {
	if repo == nil {
		return nil, fmt.Errorf("automation repository required")
	}
	return &Scheduler{repo: repo, now: time.Now}, nil
}

// Schedule inserts a pending automation for orderID that wakes after delay
// and only acts if the order is still in expected. An order holds at most
// one pending automation per kind.
func (s *Scheduler) Schedule(ctx context.Context, orderID uuid.UUID, kind enums.AutomationKind, expected enums.OrderStatus, delay time.Duration) error {
	if orderID == uuid.Nil {
		return fmt.Errorf("order id required")
	}
	if !kind.IsValid() {
		return fmt.Errorf("unknown automation kind %q", kind)
	}
	if !expected.IsValid() {
		return fmt.Errorf("unknown expected status %q", expected)
	}
	if delay < 0 {
		delay = 0
	}
	now := s.now().UTC()
	row := &models.ScheduledAutomation{
		ID:             uuid.New(),
		OrderID:        orderID,
		Kind:           kind,
		ExpectedStatus: expected,
		WakeAt:         now.Add(delay),
		Status:         enums.AutomationStatusPending,
		CreatedAt:      now,
	}
	err := s.repo.Insert(ctx, row)
	switch {
	case errors.Is(err, ErrAlreadyScheduled):
		// the earlier wake time stands
		return nil
	case err != nil:
		return fmt.Errorf("insert automation: %w", err)
	}
	return nil
}
