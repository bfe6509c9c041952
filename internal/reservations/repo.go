package reservations

import (
	"context"
	"time"

	"github.com/angelmondragon/packfinderz-stock/pkg/db/models"
	"github.com/angelmondragon/packfinderz-stock/pkg/enums"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repository manages persistence for stock reservations.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	CreateMany(ctx context.Context, rows []models.StockReservation) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.StockReservation, error)
	LockByID(ctx context.Context, id uuid.UUID) (*models.StockReservation, error)
	LockActiveByOrder(ctx context.Context, orderID uuid.UUID) ([]models.StockReservation, error)
	LockExpired(ctx context.Context, now time.Time, limit int) ([]models.StockReservation, error)
	ListByOrder(ctx context.Context, orderID uuid.UUID) ([]models.StockReservation, error)
	Transition(ctx context.Context, ids []uuid.UUID, updates map[string]any) (int64, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a reservation repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) CreateMany(ctx context.Context, rows []models.StockReservation) error {
	if len(rows) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Create(&rows).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.StockReservation, error) {
	var row models.StockReservation
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&row).Error; err != nil {
		return nil, err
	}
	return &row, nil
}

func (r *repository) LockByID(ctx context.Context, id uuid.UUID) (*models.StockReservation, error) {
	var row models.StockReservation
	if err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		First(&row).Error; err != nil {
		return nil, err
	}
	return &row, nil
}

// LockActiveByOrder locks the order's RESERVED rows in ledger lock order.
func (r *repository) LockActiveByOrder(ctx context.Context, orderID uuid.UUID) ([]models.StockReservation, error) {
	var rows []models.StockReservation
	if err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("order_id = ? AND status = ?", orderID, enums.ReservationStatusReserved).
		Order("warehouse_id ASC").
		Order("product_id ASC").
		Order("id ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// LockExpired claims up to limit overdue holds. Rows already locked by a
// concurrent confirm or sweeper are skipped.
func (r *repository) LockExpired(ctx context.Context, now time.Time, limit int) ([]models.StockReservation, error) {
	var rows []models.StockReservation
	if err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
		Where("status = ? AND expires_at <= ?", enums.ReservationStatusReserved, now).
		Order("expires_at ASC").
		Order("id ASC").
		Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repository) ListByOrder(ctx context.Context, orderID uuid.UUID) ([]models.StockReservation, error) {
	var rows []models.StockReservation
	if err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("reserved_at ASC").
		Order("warehouse_id ASC").
		Order("product_id ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// Transition updates rows that are still RESERVED.
func (r *repository) Transition(ctx context.Context, ids []uuid.UUID, updates map[string]any) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res := r.db.WithContext(ctx).
		Model(&models.StockReservation{}).
		Where("id IN ? AND status = ?", ids, enums.ReservationStatusReserved).
		Updates(updates)
	return res.RowsAffected, res.Error
}
