package outbox

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/orderflow-backend/pkg/db/models"
	"github.com/angelmondragon/orderflow-backend/pkg/enums"
	"github.com/angelmondragon/orderflow-backend/pkg/logger"
)

const maxErrorLen = 1024

var ErrDeadLetterNotFound = errors.New("dead letter not found")

// Store owns outbox_events and outbox_dead_letters.
type Store struct {
	db   *gorm.DB
	logg *logger.Logger
	now  func() time.Time
}

// NewStore accepts a nil logger.
func NewStore(db *gorm.DB, logg *logger.Logger) *Store {
	return &Store{db: db, logg: logg, now: time.Now}
}

// Enqueue writes event with tx so it commits or rolls back with the caller.
func (s *Store) Enqueue(ctx context.Context, tx *gorm.DB, event Event) error {
	if tx == nil {
		return errors.New("outbox: transaction required")
	}
	row, err := event.row(uuid.New(), s.now().UTC())
	if err != nil {
		return err
	}
	if err := tx.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("outbox: insert %s: %w", event.Type, err)
	}
	if s.logg != nil {
		s.logg.Debug(s.logg.WithFields(ctx, map[string]any{
			"event_id":     row.ID.String(),
			"event_type":   row.EventType,
			"aggregate_id": row.AggregateID.String(),
		}), "outbox event queued")
	}
	return nil
}

// Claim returns up to limit unpublished events, oldest first. On postgres the
// rows stay locked until tx ends and other publishers skip them.
func (s *Store) Claim(ctx context.Context, tx *gorm.DB, limit int) ([]models.OutboxEvent, error) {
	query := tx.WithContext(ctx).
		Where("published_at IS NULL").
		Order("created_at ASC").
		Order("id ASC").
		Limit(limit)
	if tx.Dialector != nil && tx.Dialector.Name() == "postgres" {
		query = query.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
	}
	var rows []models.OutboxEvent
	if err := query.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("outbox: claim: %w", err)
	}
	return rows, nil
}

func (s *Store) MarkPublished(ctx context.Context, tx *gorm.DB, id uuid.UUID) error {
	return tx.WithContext(ctx).Model(&models.OutboxEvent{}).
		Where("id = ?", id).
		Update("published_at", s.now().UTC()).Error
}

// MarkFailed counts one failed attempt against the event.
func (s *Store) MarkFailed(ctx context.Context, tx *gorm.DB, id uuid.UUID, cause error) error {
	return tx.WithContext(ctx).Model(&models.OutboxEvent{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"attempts":   gorm.Expr("attempts + 1"),
			"last_error": clip(cause),
		}).Error
}

// Park moves row into the dead letters. The failed attempt that parked it is
// included in the recorded count.
func (s *Store) Park(ctx context.Context, tx *gorm.DB, row models.OutboxEvent, reason enums.DeadLetterReason, cause error) error {
	letter := models.OutboxDeadLetter{
		EventID:       row.ID,
		EventType:     row.EventType,
		AggregateType: row.AggregateType,
		AggregateID:   row.AggregateID,
		Envelope:      row.Envelope,
		Reason:        reason,
		LastError:     clip(cause),
		Attempts:      row.Attempts + 1,
		CreatedAt:     row.CreatedAt,
		ParkedAt:      s.now().UTC(),
	}
	db := tx.WithContext(ctx)
	if err := db.Create(&letter).Error; err != nil {
		return fmt.Errorf("outbox: park %s: %w", row.ID, err)
	}
	if err := db.Where("id = ?", row.ID).Delete(&models.OutboxEvent{}).Error; err != nil {
		return fmt.Errorf("outbox: retire %s: %w", row.ID, err)
	}
	return nil
}

func (s *Store) DeadLetter(ctx context.Context, eventID uuid.UUID) (*models.OutboxDeadLetter, error) {
	var letter models.OutboxDeadLetter
	err := s.db.WithContext(ctx).Where("event_id = ?", eventID).First(&letter).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrDeadLetterNotFound
	}
	if err != nil {
		return nil, err
	}
	return &letter, nil
}

// DeadLetters lists the most recently parked events first.
func (s *Store) DeadLetters(ctx context.Context, limit int) ([]models.OutboxDeadLetter, error) {
	var letters []models.OutboxDeadLetter
	err := s.db.WithContext(ctx).
		Order("parked_at DESC").
		Limit(limit).
		Find(&letters).Error
	return letters, err
}

func (s *Store) CountDeadLetters(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&models.OutboxDeadLetter{}).Count(&n).Error
	return n, err
}

// Replay puts a dead letter back in the queue with a fresh attempt budget.
// The event keeps its id so consumers can deduplicate.
func (s *Store) Replay(ctx context.Context, eventID uuid.UUID) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var letter models.OutboxDeadLetter
		err := tx.Where("event_id = ?", eventID).First(&letter).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrDeadLetterNotFound
		}
		if err != nil {
			return err
		}
		row := models.OutboxEvent{
			ID:            letter.EventID,
			EventType:     letter.EventType,
			AggregateType: letter.AggregateType,
			AggregateID:   letter.AggregateID,
			Envelope:      letter.Envelope,
			CreatedAt:     s.now().UTC(),
		}
		if err := tx.Create(&row).Error; err != nil {
			return fmt.Errorf("outbox: requeue %s: %w", eventID, err)
		}
		return tx.Where("event_id = ?", eventID).Delete(&models.OutboxDeadLetter{}).Error
	})
}

// PurgePublished deletes events published before cutoff.
func (s *Store) PurgePublished(ctx context.Context, cutoff time.Time) (int64, error) {
	result := s.db.WithContext(ctx).
		Where("published_at IS NOT NULL AND published_at < ?", cutoff).
		Delete(&models.OutboxEvent{})
	return result.RowsAffected, result.Error
}

func clip(err error) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	if len(msg) > maxErrorLen {
		msg = strings.ToValidUTF8(msg[:maxErrorLen], "")
	}
	return msg
}
