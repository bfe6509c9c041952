package stock

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/angelmondragon/packfinderz-stock/internal/movements"
	"github.com/angelmondragon/packfinderz-stock/pkg/db"
	"github.com/angelmondragon/packfinderz-stock/pkg/db/models"
	"github.com/angelmondragon/packfinderz-stock/pkg/enums"
	pkgerrors "github.com/angelmondragon/packfinderz-stock/pkg/errors"
	"github.com/angelmondragon/packfinderz-stock/pkg/logger"
	"github.com/angelmondragon/packfinderz-stock/pkg/metrics"
	"github.com/angelmondragon/packfinderz-stock/pkg/outbox"
	"github.com/angelmondragon/packfinderz-stock/pkg/outbox/payloads"
	"github.com/angelmondragon/packfinderz-stock/pkg/pagination"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// MaxBatchProducts caps one batch availability lookup.
const MaxBatchProducts = 100

// Service exposes the stock ledger.
type Service interface {
	GetAvailability(ctx context.Context, productID uuid.UUID) (*Availability, error)
	BatchAvailability(ctx context.Context, productIDs []uuid.UUID) (map[uuid.UUID]Availability, error)
	GetItem(ctx context.Context, stockItemID uuid.UUID) (*ItemView, error)
	Adjust(ctx context.Context, input AdjustInput) (*ItemView, error)
	UpsertFromImport(ctx context.Context, items []ImportItem, actor movements.Actor) (*ImportResult, error)
	ListItems(ctx context.Context, input ListItemsInput) (*ItemPage, error)
	ListLowStock(ctx context.Context, warehouseID *uuid.UUID, cursor string, limit int) (*ItemPage, error)
	Reconcile(ctx context.Context, stockItemID uuid.UUID) (*movements.ReconcileResult, error)
}

// ServiceParams wires the stock ledger service.
type ServiceParams struct {
	DB        db.TxRunner
	Repo      Repository
	Ledger    *Ledger
	Movements movements.Service
	Outbox    outbox.Emitter
	Cache     AvailabilityCache
	Metrics   *metrics.ReservationMetrics
	Logger    *logger.Logger
}

type service struct {
	db        db.TxRunner
	repo      Repository
	ledger    *Ledger
	movements movements.Service
	outbox    outbox.Emitter
	cache     AvailabilityCache
	metrics   *metrics.ReservationMetrics
	logg      *logger.Logger
}

// NewService builds the ledger service. Cache and Metrics are optional.
func NewService(params ServiceParams) (Service, error) {
	if params.DB == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Repo == nil {
		return nil, fmt.Errorf("stock repository required")
	}
	if params.Ledger == nil {
		return nil, fmt.Errorf("ledger writer required")
	}
	if params.Movements == nil {
		return nil, fmt.Errorf("movement service required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox emitter required")
	}
	logg := params.Logger
	if logg == nil {
		logg = logger.Nop()
	}
	return &service{
		db:        params.DB,
		repo:      params.Repo,
		ledger:    params.Ledger,
		movements: params.Movements,
		outbox:    params.Outbox,
		cache:     params.Cache,
		metrics:   params.Metrics,
		logg:      logg,
	}, nil
}

func (s *service) GetAvailability(ctx context.Context, productID uuid.UUID) (*Availability, error) {
	if productID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "product id is required")
	}
	if s.cache != nil {
		cached, ok, err := s.cache.Get(ctx, productID)
		switch {
		case err != nil:
			s.metrics.CacheResult("error")
			s.logg.Warn(s.logg.WithField(ctx, "product_id", productID.String()), "availability cache read failed")
		case ok:
			s.metrics.CacheResult("hit")
			return cached, nil
		default:
			s.metrics.CacheResult("miss")
		}
	}

	items, err := s.repo.ListActiveByProducts(ctx, []uuid.UUID{productID})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load availability")
	}
	availability := summarize(productID, items)

	if s.cache != nil {
		if err := s.cache.Set(ctx, availability); err != nil {
			s.logg.Warn(s.logg.WithField(ctx, "product_id", productID.String()), "availability cache write failed")
		}
	}
	return &availability, nil
}

func (s *service) BatchAvailability(ctx context.Context, productIDs []uuid.UUID) (map[uuid.UUID]Availability, error) {
	if len(productIDs) == 0 {
		return map[uuid.UUID]Availability{}, nil
	}
	if len(productIDs) > MaxBatchProducts {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("at most %d products per batch", MaxBatchProducts))
	}
	unique := make([]uuid.UUID, 0, len(productIDs))
	seen := make(map[uuid.UUID]struct{}, len(productIDs))
	for _, id := range productIDs {
		if id == uuid.Nil {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "product id is required")
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		unique = append(unique, id)
	}

	items, err := s.repo.ListActiveByProducts(ctx, unique)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load availability")
	}
	grouped := make(map[uuid.UUID][]models.StockItem, len(unique))
	for _, item := range items {
		grouped[item.ProductID] = append(grouped[item.ProductID], item)
	}
	out := make(map[uuid.UUID]Availability, len(unique))
	for _, id := range unique {
		out[id] = summarize(id, grouped[id])
	}
	return out, nil
}

func (s *service) GetItem(ctx context.Context, stockItemID uuid.UUID) (*ItemView, error) {
	item, err := s.findItem(ctx, stockItemID)
	if err != nil {
		return nil, err
	}
	view := toItemView(*item)
	return &view, nil
}

func (s *service) findItem(ctx context.Context, stockItemID uuid.UUID) (*models.StockItem, error) {
	if stockItemID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "stock item id is required")
	}
	item, err := s.repo.FindByID(ctx, stockItemID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "stock item not found")
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load stock item")
	}
	return item, nil
}

// Adjust corrects on-hand stock of a single entry under its row lock.
func (s *service) Adjust(ctx context.Context, input AdjustInput) (*ItemView, error) {
	if input.StockItemID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "stock item id is required")
	}
	reason := strings.TrimSpace(input.Reason)
	if reason == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "adjustment reason is required")
	}
	if input.QuantityChange == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidAdjustment, "quantity change must be non-zero")
	}
	ctx = s.logg.WithStockItemID(ctx, input.StockItemID.String())

	var applied *Applied
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		item, err := s.repo.WithTx(tx).LockByID(ctx, input.StockItemID)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return pkgerrors.New(pkgerrors.CodeNotFound, "stock item not found")
		}
		if err != nil {
			return WrapLockError(err, "lock stock item")
		}
		applied, err = s.ledger.Apply(ctx, tx, item, Change{
			OnHandDelta:   input.QuantityChange,
			Type:          enums.MovementTypeAdjustment,
			ReferenceType: enums.ReferenceAdjustment,
			ReferenceID:   uuid.NewString(),
			Actor:         input.Actor,
			Note:          reason,
		})
		if err != nil {
			return err
		}
		if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventStockAdjusted,
			AggregateType: enums.AggregateStockItem,
			AggregateID:   item.ID,
			Actor:         input.Actor.Ref(),
			Data: payloads.StockAdjustedEvent{
				StockItemID:    item.ID,
				ProductID:      item.ProductID,
				WarehouseID:    item.WarehouseID,
				QuantityChange: input.QuantityChange,
				OnHand:         item.QuantityOnHand,
				Reserved:       item.QuantityReserved,
				Status:         item.StockStatus,
				Reason:         reason,
			},
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "emit stock adjusted")
		}
		return EmitIfDegraded(ctx, tx, s.outbox, *applied, input.Actor)
	})
	if err != nil {
		return nil, err
	}

	InvalidateQuietly(ctx, s.cache, s.logg, applied.After.ProductID)
	s.logg.Info(s.logg.WithField(ctx, "quantity_change", input.QuantityChange), "stock adjusted")
	view := toItemView(applied.After)
	return &view, nil
}

// UpsertFromImport sets absolute on-hand counts in one transaction. Entries
// are created or locked in (warehouse, product) order.
func (s *service) UpsertFromImport(ctx context.Context, items []ImportItem, actor movements.Actor) (*ImportResult, error) {
	if len(items) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "at least one import item is required")
	}
	sorted := make([]ImportItem, len(items))
	copy(sorted, items)
	seen := make(map[[2]uuid.UUID]struct{}, len(items))
	for _, item := range sorted {
		if item.ProductID == uuid.Nil || item.WarehouseID == uuid.Nil || item.VendorID == uuid.Nil {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "product, vendor and warehouse ids are required")
		}
		if strings.TrimSpace(item.SKU) == "" {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "sku is required")
		}
		if item.QuantityOnHand < 0 {
			return nil, pkgerrors.New(pkgerrors.CodeInvalidAdjustment, "on-hand quantity cannot be negative")
		}
		key := [2]uuid.UUID{item.ProductID, item.WarehouseID}
		if _, dup := seen[key]; dup {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "duplicate product and warehouse in import")
		}
		seen[key] = struct{}{}
	}
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].WarehouseID != sorted[j].WarehouseID {
			return sorted[i].WarehouseID.String() < sorted[j].WarehouseID.String()
		}
		return sorted[i].ProductID.String() < sorted[j].ProductID.String()
	})

	result := &ImportResult{ImportID: uuid.New(), Items: make([]ItemView, 0, len(sorted))}
	var touched []uuid.UUID
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		for _, in := range sorted {
			if err := s.ensureWarehouse(ctx, repo, in.WarehouseID); err != nil {
				return err
			}
			item, created, err := s.lockOrCreate(ctx, repo, in)
			if err != nil {
				return err
			}
			change := Change{
				OnHandDelta:       in.QuantityOnHand - item.QuantityOnHand,
				Type:              enums.MovementTypeImport,
				ReferenceType:     enums.ReferenceImport,
				ReferenceID:       result.ImportID.String(),
				Actor:             actor,
				LowStockThreshold: in.LowStockThreshold,
				Backorderable:     in.Backorderable,
			}
			if !created && !importChanges(*item, change) {
				result.Unchanged++
				result.Items = append(result.Items, toItemView(*item))
				continue
			}
			applied, err := s.ledger.Apply(ctx, tx, item, change)
			if err != nil {
				return err
			}
			if created {
				result.Created++
			} else {
				result.Updated++
			}
			if err := EmitIfDegraded(ctx, tx, s.outbox, *applied, actor); err != nil {
				return err
			}
			touched = append(touched, item.ProductID)
			result.Items = append(result.Items, toItemView(*item))
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventStockImported,
			AggregateType: enums.AggregateStockItem,
			AggregateID:   result.ImportID,
			Actor:         actor.Ref(),
			Data: payloads.StockImportedEvent{
				ImportID: result.ImportID,
				Created:  result.Created,
				Updated:  result.Updated,
			},
		})
	})
	if err != nil {
		return nil, err
	}

	InvalidateQuietly(ctx, s.cache, s.logg, touched...)
	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"import_id": result.ImportID.String(),
		"created":   result.Created,
		"updated":   result.Updated,
	}), "stock import applied")
	return result, nil
}

func importChanges(item models.StockItem, change Change) bool {
	if change.OnHandDelta != 0 {
		return true
	}
	if change.LowStockThreshold != nil && *change.LowStockThreshold != item.LowStockThreshold {
		return true
	}
	return change.Backorderable != nil && *change.Backorderable != item.Backorderable
}

func (s *service) ensureWarehouse(ctx context.Context, repo Repository, warehouseID uuid.UUID) error {
	warehouse, err := repo.FindWarehouse(ctx, warehouseID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load warehouse")
	}
	if warehouse != nil {
		return nil
	}
	code := warehouseID.String()
	if err := repo.CreateWarehouse(ctx, &models.Warehouse{ID: warehouseID, Code: code, Name: code, IsActive: true}); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "register warehouse")
	}
	return nil
}

func (s *service) lockOrCreate(ctx context.Context, repo Repository, in ImportItem) (*models.StockItem, bool, error) {
	existing, err := repo.FindByProductWarehouse(ctx, in.ProductID, in.WarehouseID)
	if err != nil {
		return nil, false, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load stock item")
	}
	if existing != nil {
		locked, err := repo.LockByID(ctx, existing.ID)
		if err != nil {
			return nil, false, WrapLockError(err, "lock stock item")
		}
		return locked, false, nil
	}
	item := &models.StockItem{
		ProductID:   in.ProductID,
		VendorID:    in.VendorID,
		WarehouseID: in.WarehouseID,
		SKU:         strings.TrimSpace(in.SKU),
	}
	if err := repo.Create(ctx, item); err != nil {
		if db.IsUniqueViolation(err, "") {
			return nil, false, pkgerrors.Wrap(pkgerrors.CodeConcurrentModification, err, "stock item created concurrently")
		}
		return nil, false, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "create stock item")
	}
	return item, true, nil
}

func (s *service) ListItems(ctx context.Context, input ListItemsInput) (*ItemPage, error) {
	filter := ListFilter{
		WarehouseID: input.WarehouseID,
		ProductID:   input.ProductID,
		Limit:       input.Limit,
	}
	if input.Status != nil {
		if !input.Status.IsValid() {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid stock status")
		}
		filter.Statuses = []enums.StockStatus{*input.Status}
	}
	return s.list(ctx, filter, input.Cursor)
}

// ListLowStock returns entries that are low, empty or backordered.
func (s *service) ListLowStock(ctx context.Context, warehouseID *uuid.UUID, cursor string, limit int) (*ItemPage, error) {
	return s.list(ctx, ListFilter{
		WarehouseID: warehouseID,
		Statuses: []enums.StockStatus{
			enums.StockStatusLowStock,
			enums.StockStatusOutOfStock,
			enums.StockStatusBackorder,
		},
		Limit: limit,
	}, cursor)
}

func (s *service) list(ctx context.Context, filter ListFilter, cursor string) (*ItemPage, error) {
	parsed, err := pagination.ParseCursor(cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	filter.Cursor = parsed
	rows, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list stock items")
	}
	page, next := pagination.Split(rows, filter.Limit, func(item models.StockItem) pagination.Cursor {
		return pagination.Cursor{Key: item.SKU, ID: item.ID}
	})
	out := &ItemPage{Items: make([]ItemView, 0, len(page)), NextCursor: next}
	for _, item := range page {
		out.Items = append(out.Items, toItemView(item))
	}
	return out, nil
}

func (s *service) Reconcile(ctx context.Context, stockItemID uuid.UUID) (*movements.ReconcileResult, error) {
	item, err := s.findItem(ctx, stockItemID)
	if err != nil {
		return nil, err
	}
	result, err := s.movements.Reconcile(ctx, *item)
	if err != nil {
		return nil, err
	}
	if !result.Consistent {
		s.logg.Warn(s.logg.WithFields(ctx, map[string]any{
			"stock_item_id": stockItemID.String(),
			"problem":       result.Problem,
		}), "movement chain does not reconcile")
	}
	return result, nil
}

// EmitIfDegraded queues a stock_low event when a change pushed the entry
// into a worse, non-healthy status.
func EmitIfDegraded(ctx context.Context, tx *gorm.DB, emitter outbox.Emitter, applied Applied, actor movements.Actor) error {
	if !applied.StatusDegraded() || applied.After.StockStatus == enums.StockStatusInStock {
		return nil
	}
	after := applied.After
	if err := emitter.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventStockLow,
		AggregateType: enums.AggregateStockItem,
		AggregateID:   after.ID,
		Actor:         actor.Ref(),
		Data: payloads.StockLowEvent{
			StockItemID:    after.ID,
			ProductID:      after.ProductID,
			WarehouseID:    after.WarehouseID,
			SKU:            after.SKU,
			Available:      after.QuantityAvailable(),
			Threshold:      after.LowStockThreshold,
			PreviousStatus: applied.Before.StockStatus,
			Status:         after.StockStatus,
		},
	}); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "emit stock low")
	}
	return nil
}

// WrapLockError maps row-lock failures to ConcurrentModification.
func WrapLockError(err error, message string) error {
	if db.IsLockContention(err) {
		return pkgerrors.Wrap(pkgerrors.CodeConcurrentModification, err, message)
	}
	return pkgerrors.Wrap(pkgerrors.CodeInternal, err, message)
}
