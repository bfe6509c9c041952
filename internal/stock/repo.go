package stock

import (
	"context"
	"errors"

	"github.com/angelmondragon/packfinderz-stock/pkg/db/models"
	"github.com/angelmondragon/packfinderz-stock/pkg/enums"
	"github.com/angelmondragon/packfinderz-stock/pkg/pagination"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repository manages persistence for ledger entries.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindByID(ctx context.Context, id uuid.UUID) (*models.StockItem, error)
	LockByID(ctx context.Context, id uuid.UUID) (*models.StockItem, error)
	FindByProductWarehouse(ctx context.Context, productID, warehouseID uuid.UUID) (*models.StockItem, error)
	ListActiveByProducts(ctx context.Context, productIDs []uuid.UUID) ([]models.StockItem, error)
	Create(ctx context.Context, item *models.StockItem) error
	SaveCounters(ctx context.Context, item *models.StockItem) error
	List(ctx context.Context, filter ListFilter) ([]models.StockItem, error)
	FindWarehouse(ctx context.Context, id uuid.UUID) (*models.Warehouse, error)
	CreateWarehouse(ctx context.Context, warehouse *models.Warehouse) error
}

// ListFilter narrows admin listings. Rows are ordered by (sku, id).
type ListFilter struct {
	WarehouseID *uuid.UUID
	ProductID   *uuid.UUID
	Statuses    []enums.StockStatus
	Cursor      *pagination.Cursor
	Limit       int
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a ledger repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.StockItem, error) {
	var item models.StockItem
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&item).Error; err != nil {
		return nil, err
	}
	return &item, nil
}

// LockByID reads the entry with a row lock held until the transaction ends.
func (r *repository) LockByID(ctx context.Context, id uuid.UUID) (*models.StockItem, error) {
	var item models.StockItem
	if err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		First(&item).Error; err != nil {
		return nil, err
	}
	return &item, nil
}

func (r *repository) FindByProductWarehouse(ctx context.Context, productID, warehouseID uuid.UUID) (*models.StockItem, error) {
	var item models.StockItem
	err := r.db.WithContext(ctx).
		Where("product_id = ? AND warehouse_id = ?", productID, warehouseID).
		First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// ListActiveByProducts returns the entries of the given products that sit in
// active warehouses.
func (r *repository) ListActiveByProducts(ctx context.Context, productIDs []uuid.UUID) ([]models.StockItem, error) {
	if len(productIDs) == 0 {
		return []models.StockItem{}, nil
	}
	var items []models.StockItem
	if err := r.db.WithContext(ctx).
		Model(&models.StockItem{}).
		Joins("JOIN warehouses ON warehouses.id = stock_items.warehouse_id").
		Where("warehouses.is_active = ?", true).
		Where("stock_items.product_id IN ?", productIDs).
		Order("stock_items.product_id ASC").
		Order("stock_items.warehouse_id ASC").
		Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repository) Create(ctx context.Context, item *models.StockItem) error {
	return r.db.WithContext(ctx).Create(item).Error
}

// SaveCounters persists the mutable counters of an entry the caller has locked.
func (r *repository) SaveCounters(ctx context.Context, item *models.StockItem) error {
	return r.db.WithContext(ctx).
		Model(&models.StockItem{}).
		Where("id = ?", item.ID).
		Updates(map[string]any{
			"quantity_on_hand":    item.QuantityOnHand,
			"quantity_reserved":   item.QuantityReserved,
			"low_stock_threshold": item.LowStockThreshold,
			"backorderable":       item.Backorderable,
			"stock_status":        item.StockStatus,
			"version":             item.Version,
		}).Error
}

func (r *repository) List(ctx context.Context, filter ListFilter) ([]models.StockItem, error) {
	query := r.db.WithContext(ctx).Model(&models.StockItem{})
	if filter.WarehouseID != nil {
		query = query.Where("warehouse_id = ?", *filter.WarehouseID)
	}
	if filter.ProductID != nil {
		query = query.Where("product_id = ?", *filter.ProductID)
	}
	if len(filter.Statuses) > 0 {
		query = query.Where("stock_status IN ?", filter.Statuses)
	}
	if filter.Cursor != nil {
		query = query.Where("((sku > ?) OR (sku = ? AND id > ?))", filter.Cursor.Key, filter.Cursor.Key, filter.Cursor.ID)
	}
	var items []models.StockItem
	if err := query.
		Order("sku ASC").
		Order("id ASC").
		Limit(pagination.LimitWithBuffer(filter.Limit)).
		Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repository) FindWarehouse(ctx context.Context, id uuid.UUID) (*models.Warehouse, error) {
	var warehouse models.Warehouse
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&warehouse).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &warehouse, nil
}

func (r *repository) CreateWarehouse(ctx context.Context, warehouse *models.Warehouse) error {
	return r.db.WithContext(ctx).Create(warehouse).Error
}
