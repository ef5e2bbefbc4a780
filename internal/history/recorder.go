// Package history keeps the append-only status history and audit log of
// orders and merges them into a readable timeline.
package history

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/orderflow-backend/pkg/db/models"
	"github.com/angelmondragon/orderflow-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/orderflow-backend/pkg/errors"
	"github.com/angelmondragon/orderflow-backend/pkg/logger"
	"github.com/angelmondragon/orderflow-backend/pkg/types"
)

// Audit actions written by the platform.
const (
	ActionStatusChanged = "status_changed"
	ActionBulkOperation = "bulk_operation"
)

// DefaultRetentionDays is the cleanup horizon when none is configured.
const DefaultRetentionDays = 365

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// StatusChange is one status write to record.
type StatusChange struct {
	OrderID   uuid.UUID
	OldStatus *enums.OrderStatus
	NewStatus enums.OrderStatus
	ActorID   string
	ActorRole enums.Role
	Notes     *string
	Metadata  map[string]any
	// Before and After are row snapshots stored on the audit entry.
	Before map[string]any
	After  map[string]any
}

// AuditEntry is a generic audited action.
type AuditEntry struct {
	OrderID   *uuid.UUID
	Action    string
	ActorID   string
	ActorRole enums.Role
	OldValues map[string]any
	NewValues map[string]any
}

// Actor identifies who caused a timeline entry.
type Actor struct {
	ID   string     `json:"id"`
	Role enums.Role `json:"role"`
}

// TimelineEntryType distinguishes the two sources of a timeline.
type TimelineEntryType string

const (
	EntryStatusChange TimelineEntryType = "status_change"
	EntryAudit        TimelineEntryType = "audit"
)

// TimelineEntry is one line of an order's merged history.
type TimelineEntry struct {
	Type        TimelineEntryType `json:"type"`
	Timestamp   time.Time         `json:"timestamp"`
	Description string            `json:"description"`
	Actor       Actor             `json:"actor"`
	Metadata    map[string]any    `json:"metadata,omitempty"`
}

// Recorder writes and reads order history.
type Recorder struct {
	db   txRunner
	repo Repository
	logg *logger.Logger
	now  func() time.Time
}

// NewRecorder wires the history recorder.
func NewRecorder(db txRunner, repo Repository, logg *logger.Logger) (*Recorder, error) {
	if db == nil {
		return nil, fmt.Errorf("db runner required")
	}
	if repo == nil {
		return nil, fmt.Errorf("history repository required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Recorder{db: db, repo: repo, logg: logg, now: time.Now}, nil
}

// RecordStatusChange appends a history row and a matching audit row.
// Failures are logged and swallowed; the status write has already happened.
func (r *Recorder) RecordStatusChange(ctx context.Context, change StatusChange) {
	now := r.now().UTC()
	ctx = r.logg.WithOrderID(ctx, change.OrderID.String())

	row := &models.OrderStatusHistory{
		ID:        uuid.New(),
		OrderID:   change.OrderID,
		OldStatus: change.OldStatus,
		NewStatus: change.NewStatus,
		ActorID:   change.ActorID,
		ActorRole: change.ActorRole,
		Notes:     change.Notes,
		Metadata:  types.JSONMap(change.Metadata).Clone(),
		CreatedAt: now,
	}
	if err := r.repo.CreateStatusHistory(ctx, row); err != nil {
		r.logg.Error(ctx, "failed to record status history", err)
	}

	orderID := change.OrderID
	audit := &models.AuditLog{
		ID:        uuid.New(),
		OrderID:   &orderID,
		Action:    ActionStatusChanged,
		ActorID:   change.ActorID,
		ActorRole: change.ActorRole,
		OldValues: types.JSONMap(change.Before).Clone(),
		NewValues: types.JSONMap(change.After).Clone(),
		CreatedAt: now,
	}
	if err := r.repo.CreateAuditLog(ctx, audit); err != nil {
		r.logg.Error(ctx, "failed to record audit entry", err)
	}
}

// RecordAction appends a generic audit row.
func (r *Recorder) RecordAction(ctx context.Context, entry AuditEntry) error {
	if strings.TrimSpace(entry.Action) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "audit action required")
	}
	row := &models.AuditLog{
		ID:        uuid.New(),
		OrderID:   entry.OrderID,
		Action:    entry.Action,
		ActorID:   entry.ActorID,
		ActorRole: entry.ActorRole,
		OldValues: types.JSONMap(entry.OldValues).Clone(),
		NewValues: types.JSONMap(entry.NewValues).Clone(),
		CreatedAt: r.now().UTC(),
	}
	if err := r.repo.CreateAuditLog(ctx, row); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record audit entry")
	}
	return nil
}

// OrderTimeline merges an order's status history with its audit log. Audit
// rows describing status changes are dropped since the history already
// carries them.
func (r *Recorder) OrderTimeline(ctx context.Context, orderID uuid.UUID) ([]TimelineEntry, error) {
	if orderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	historyRows, err := r.repo.ListStatusHistory(ctx, orderID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list status history")
	}
	auditRows, err := r.repo.ListAuditLogs(ctx, orderID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list audit log")
	}

	entries := make([]TimelineEntry, 0, len(historyRows)+len(auditRows))
	for _, row := range historyRows {
		metadata := row.Metadata.Clone()
		if row.Notes != nil && *row.Notes != "" {
			if metadata == nil {
				metadata = types.JSONMap{}
			}
			metadata["notes"] = *row.Notes
		}
		entries = append(entries, TimelineEntry{
			Type:        EntryStatusChange,
			Timestamp:   row.CreatedAt,
			Description: describeStatusChange(row.OldStatus, row.NewStatus),
			Actor:       Actor{ID: row.ActorID, Role: row.ActorRole},
			Metadata:    metadata,
		})
	}
	for _, row := range auditRows {
		if row.Action == ActionStatusChanged {
			continue
		}
		metadata := map[string]any{}
		if len(row.OldValues) > 0 {
			metadata["old_values"] = map[string]any(row.OldValues)
		}
		if len(row.NewValues) > 0 {
			metadata["new_values"] = map[string]any(row.NewValues)
		}
		entries = append(entries, TimelineEntry{
			Type:        EntryAudit,
			Timestamp:   row.CreatedAt,
			Description: strings.ReplaceAll(row.Action, "_", " "),
			Actor:       Actor{ID: row.ActorID, Role: row.ActorRole},
			Metadata:    metadata,
		})
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Timestamp.Before(entries[j].Timestamp)
	})
	return entries, nil
}

// CleanupOldHistory deletes history and audit rows older than daysToKeep
// days and returns how many rows went away.
func (r *Recorder) CleanupOldHistory(ctx context.Context, daysToKeep int) (int64, error) {
	if daysToKeep <= 0 {
		daysToKeep = DefaultRetentionDays
	}
	cutoff := r.now().UTC().Add(-time.Duration(daysToKeep) * 24 * time.Hour)

	var deleted int64
	err := r.db.WithTx(ctx, func(tx *gorm.DB) error {
		rows, err := r.repo.WithTx(tx).DeleteOlderThan(ctx, cutoff)
		if err != nil {
			return err
		}
		deleted = rows
		return nil
	})
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "cleanup history")
	}
	return deleted, nil
}

func describeStatusChange(oldStatus *enums.OrderStatus, newStatus enums.OrderStatus) string {
	if oldStatus == nil {
		return fmt.Sprintf("Order created as %s", label(newStatus))
	}
	return fmt.Sprintf("Status changed from %s to %s", label(*oldStatus), label(newStatus))
}

func label(status enums.OrderStatus) string {
	return strings.ReplaceAll(string(status), "_", " ")
}
