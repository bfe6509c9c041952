package outbox

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/packfinderz-stock/pkg/db/models"
)

const maxLastErrorBytes = 1024

var errTxRequired = errors.New("outbox: transaction required")

// Repository owns outbox_events. Writes that must commit with a ledger
// change take the caller's transaction.
type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) Insert(tx *gorm.DB, event models.OutboxEvent) error {
	if tx == nil {
		return errTxRequired
	}
	return tx.Create(&event).Error
}

// ClaimPending locks up to limit undelivered rows, oldest first. Rows
// another relay already holds are skipped rather than waited on.
func (r *Repository) ClaimPending(ctx context.Context, tx *gorm.DB, limit, maxAttempts int) ([]models.OutboxEvent, error) {
	if tx == nil {
		return nil, errTxRequired
	}
	var rows []models.OutboxEvent
	err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: clause.LockingStrengthUpdate, Options: clause.LockingOptionsSkipLocked}).
		Where("published_at IS NULL AND attempt_count < ?", maxAttempts).
		Order("created_at ASC, id ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

func (r *Repository) MarkPublished(ctx context.Context, tx *gorm.DB, id uuid.UUID, at time.Time) error {
	return r.update(ctx, tx, id, map[string]any{"published_at": at.UTC()})
}

// RecordFailure bumps attempt_count and keeps the latest broker error.
func (r *Repository) RecordFailure(ctx context.Context, tx *gorm.DB, id uuid.UUID, cause error) error {
	return r.update(ctx, tx, id, map[string]any{
		"last_error":    clipUTF8(cause.Error(), maxLastErrorBytes),
		"attempt_count": gorm.Expr("attempt_count + ?", 1),
	})
}

// Park pins attempt_count at attempts so ClaimPending never returns the
// row again. Used once the row is copied to the DLQ.
func (r *Repository) Park(ctx context.Context, tx *gorm.DB, id uuid.UUID, cause error, attempts int) error {
	return r.update(ctx, tx, id, map[string]any{
		"last_error":    clipUTF8(cause.Error(), maxLastErrorBytes),
		"attempt_count": attempts,
	})
}

func (r *Repository) update(ctx context.Context, tx *gorm.DB, id uuid.UUID, values map[string]any) error {
	if tx == nil {
		return errTxRequired
	}
	res := tx.WithContext(ctx).Model(&models.OutboxEvent{}).Where("id = ?", id).Updates(values)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// ListByAggregate returns the events recorded for one aggregate, oldest first.
func (r *Repository) ListByAggregate(ctx context.Context, aggregateID uuid.UUID) ([]models.OutboxEvent, error) {
	var rows []models.OutboxEvent
	err := r.db.WithContext(ctx).
		Where("aggregate_id = ?", aggregateID).
		Order("created_at ASC, id ASC").
		Find(&rows).Error
	return rows, err
}

// DeletePublishedBefore removes up to limit rows published before cutoff,
// plus rows that exhausted minAttemptCount attempts before cutoff (those
// already sit in the DLQ).
func (r *Repository) DeletePublishedBefore(ctx context.Context, tx *gorm.DB, cutoff time.Time, minAttemptCount, limit int) (int64, error) {
	conn := tx
	if conn == nil {
		conn = r.db
	}
	conn = conn.WithContext(ctx)
	ids := conn.Model(&models.OutboxEvent{}).
		Select("id").
		Where("(published_at IS NOT NULL AND published_at < ?) OR (published_at IS NULL AND attempt_count >= ? AND created_at < ?)", cutoff, minAttemptCount, cutoff).
		Order("created_at ASC").
		Limit(limit)
	res := conn.Where("id IN (?)", ids).Delete(&models.OutboxEvent{})
	return res.RowsAffected, res.Error
}
