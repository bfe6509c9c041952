package reservations

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/angelmondragon/packfinderz-stock/internal/allocation"
	"github.com/angelmondragon/packfinderz-stock/internal/movements"
	"github.com/angelmondragon/packfinderz-stock/internal/stock"
	"github.com/angelmondragon/packfinderz-stock/pkg/config"
	"github.com/angelmondragon/packfinderz-stock/pkg/db"
	"github.com/angelmondragon/packfinderz-stock/pkg/db/models"
	"github.com/angelmondragon/packfinderz-stock/pkg/enums"
	pkgerrors "github.com/angelmondragon/packfinderz-stock/pkg/errors"
	"github.com/angelmondragon/packfinderz-stock/pkg/logger"
	"github.com/angelmondragon/packfinderz-stock/pkg/metrics"
	"github.com/angelmondragon/packfinderz-stock/pkg/outbox"
	"github.com/angelmondragon/packfinderz-stock/pkg/outbox/payloads"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Manager runs the reserve → confirm | release | expire state machine. It
// is the only writer of reserved quantities.
type Manager interface {
	Reserve(ctx context.Context, input ReserveInput) (*ReservationSet, error)
	Confirm(ctx context.Context, orderID uuid.UUID, actor movements.Actor) (*TransitionResult, error)
	Release(ctx context.Context, orderID uuid.UUID, reason string, actor movements.Actor) (*TransitionResult, error)
	ReleaseReservation(ctx context.Context, reservationID uuid.UUID, reason string, actor movements.Actor) (*ReservationView, error)
	ExpireStale(ctx context.Context) (int, error)
	ListByOrder(ctx context.Context, orderID uuid.UUID) ([]ReservationView, error)
}

// ManagerParams wires the reservation manager. Cache, Metrics, Logger and
// Clock are optional.
type ManagerParams struct {
	DB        db.TxRunner
	Repo      Repository
	StockRepo stock.Repository
	Ledger    *stock.Ledger
	Outbox    outbox.Emitter
	Cache     stock.AvailabilityCache
	Metrics   *metrics.ReservationMetrics
	Logger    *logger.Logger
	Config    config.ReservationConfig
	Clock     func() time.Time
}

type manager struct {
	db        db.TxRunner
	repo      Repository
	stockRepo stock.Repository
	ledger    *stock.Ledger
	outbox    outbox.Emitter
	cache     stock.AvailabilityCache
	metrics   *metrics.ReservationMetrics
	logg      *logger.Logger
	cfg       config.ReservationConfig
	now       func() time.Time
}

// NewManager validates params and builds the manager.
func NewManager(params ManagerParams) (Manager, error) {
	if params.DB == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Repo == nil {
		return nil, fmt.Errorf("reservation repository required")
	}
	if params.StockRepo == nil {
		return nil, fmt.Errorf("stock repository required")
	}
	if params.Ledger == nil {
		return nil, fmt.Errorf("ledger writer required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox emitter required")
	}
	if params.Config.HoldDuration <= 0 {
		return nil, fmt.Errorf("hold duration must be positive")
	}
	if params.Config.ConflictRetries < 0 {
		return nil, fmt.Errorf("conflict retries cannot be negative")
	}
	if params.Config.SweepBatchSize <= 0 {
		return nil, fmt.Errorf("sweep batch size must be positive")
	}
	logg := params.Logger
	if logg == nil {
		logg = logger.Nop()
	}
	clock := params.Clock
	if clock == nil {
		clock = time.Now
	}
	return &manager{
		db:        params.DB,
		repo:      params.Repo,
		stockRepo: params.StockRepo,
		ledger:    params.Ledger,
		outbox:    params.Outbox,
		cache:     params.Cache,
		metrics:   params.Metrics,
		logg:      logg,
		cfg:       params.Config,
		now:       func() time.Time { return clock().UTC() },
	}, nil
}

// Reserve allocates and holds every line of the order atomically. Lost
// races on a ledger entry are retried from a fresh allocation.
func (m *manager) Reserve(ctx context.Context, input ReserveInput) (*ReservationSet, error) {
	requests, err := normalizeItems(input)
	if err != nil {
		m.metrics.Outcome("reserve", "invalid")
		return nil, err
	}
	hold := input.HoldDuration
	if hold <= 0 {
		hold = m.cfg.HoldDuration
	}
	ctx = m.logg.WithOrderID(ctx, input.OrderID.String())

	var set *ReservationSet
	for attempt := 0; ; attempt++ {
		set, err = m.reserveOnce(ctx, input.OrderID, requests, hold, input.Actor)
		if err == nil || !pkgerrors.HasCode(err, pkgerrors.CodeConcurrentModification) || attempt >= m.cfg.ConflictRetries {
			break
		}
		m.metrics.IncRetry()
		m.logg.Debug(m.logg.WithField(ctx, "attempt", attempt+1), "reserve lost a race, retrying")
	}
	if err != nil {
		m.metrics.Outcome("reserve", outcomeFor(err))
		return nil, err
	}

	total := 0
	productIDs := make([]uuid.UUID, 0, len(requests))
	for _, r := range requests {
		total += r.Quantity
		productIDs = append(productIDs, r.ProductID)
	}
	stock.InvalidateQuietly(ctx, m.cache, m.logg, productIDs...)
	m.metrics.Outcome("reserve", "success")
	m.metrics.Units("reserve", total)
	m.logg.Info(m.logg.WithFields(ctx, map[string]any{
		"reservations": len(set.Reservations),
		"units":        total,
		"expires_at":   set.ExpiresAt,
	}), "stock reserved")
	return set, nil
}

func (m *manager) reserveOnce(ctx context.Context, orderID uuid.UUID, requests []allocation.Request, hold time.Duration, actor movements.Actor) (*ReservationSet, error) {
	now := m.now()
	set := &ReservationSet{OrderID: orderID, ExpiresAt: now.Add(hold)}

	err := m.db.WithTx(ctx, func(tx *gorm.DB) error {
		stockRepo := m.stockRepo.WithTx(tx)
		plan, err := allocation.PlanWith(ctx, stockRepo, requests)
		if err != nil {
			return err
		}
		sortAllocations(plan)

		rows := make([]models.StockReservation, 0, len(plan))
		for _, alloc := range plan {
			item, err := stockRepo.LockByID(ctx, alloc.StockItemID)
			if err != nil {
				return lockError(err)
			}
			covered := min(alloc.Quantity, max(item.QuantityAvailable(), 0))
			backordered := alloc.Quantity - covered
			if backordered > 0 && !item.Backorderable {
				return pkgerrors.New(pkgerrors.CodeConcurrentModification, "stock changed while allocating")
			}
			applied, err := m.ledger.Apply(ctx, tx, item, stock.Change{
				ReservedDelta: alloc.Quantity,
				Type:          enums.MovementTypeReserve,
				ReferenceType: enums.ReferenceOrder,
				ReferenceID:   orderID.String(),
				Actor:         actor,
			})
			if err != nil {
				return err
			}
			if err := stock.EmitIfDegraded(ctx, tx, m.outbox, *applied, actor); err != nil {
				return err
			}
			rows = append(rows, models.StockReservation{
				OrderID:             orderID,
				ProductID:           alloc.ProductID,
				StockItemID:         alloc.StockItemID,
				WarehouseID:         alloc.WarehouseID,
				QuantityReserved:    alloc.Quantity,
				QuantityBackordered: backordered,
				Status:              enums.ReservationStatusReserved,
				ReservedAt:          now,
				ExpiresAt:           set.ExpiresAt,
			})
		}

		if err := m.repo.WithTx(tx).CreateMany(ctx, rows); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "persist reservations")
		}
		if err := m.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventStockReserved,
			AggregateType: enums.AggregateOrder,
			AggregateID:   orderID,
			Actor:         actor.Ref(),
			OccurredAt:    now,
			Data: payloads.StockReservedEvent{
				OrderID:   orderID,
				ExpiresAt: set.ExpiresAt,
				Lines:     toLines(rows),
			},
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "emit stock reserved")
		}
		set.Reservations = toViews(rows)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return set, nil
}

// Confirm turns the order's live holds into sales. An order with no live
// holds is a no-op.
func (m *manager) Confirm(ctx context.Context, orderID uuid.UUID, actor movements.Actor) (*TransitionResult, error) {
	if orderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id is required")
	}
	ctx = m.logg.WithOrderID(ctx, orderID.String())

	result, err := m.transitionOrder(ctx, orderID, func(tx *gorm.DB, rows []models.StockReservation) (map[uuid.UUID]struct{}, error) {
		now := m.now()
		touched, err := m.applyToLedger(ctx, tx, rows, actor, enums.MovementTypeSale)
		if err != nil {
			return nil, err
		}
		if err := m.finish(ctx, tx, rows, map[string]any{
			"status":       enums.ReservationStatusConfirmed,
			"confirmed_at": now,
		}); err != nil {
			return nil, err
		}
		for i := range rows {
			rows[i].Status = enums.ReservationStatusConfirmed
			rows[i].ConfirmedAt = &now
		}
		return touched, m.emit(ctx, tx, enums.EventReservationConfirmed, orderID, actor, now, payloads.ReservationConfirmedEvent{
			OrderID:     orderID,
			ConfirmedAt: now,
			Lines:       toLines(rows),
		})
	})
	if err != nil {
		m.metrics.Outcome("confirm", outcomeFor(err))
		return nil, err
	}
	m.recordTransition(ctx, "confirm", result)
	return result, nil
}

// Release hands the order's live holds back to available stock.
func (m *manager) Release(ctx context.Context, orderID uuid.UUID, reason string, actor movements.Actor) (*TransitionResult, error) {
	if orderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id is required")
	}
	reason = releaseReason(reason)
	ctx = m.logg.WithOrderID(ctx, orderID.String())

	result, err := m.transitionOrder(ctx, orderID, func(tx *gorm.DB, rows []models.StockReservation) (map[uuid.UUID]struct{}, error) {
		return m.releaseRows(ctx, tx, rows, reason, actor, enums.ReservationStatusReleased)
	})
	if err != nil {
		m.metrics.Outcome("release", outcomeFor(err))
		return nil, err
	}
	m.recordTransition(ctx, "release", result)
	return result, nil
}

// ReleaseReservation releases a single hold. Releasing a hold that is
// already terminal returns it unchanged.
func (m *manager) ReleaseReservation(ctx context.Context, reservationID uuid.UUID, reason string, actor movements.Actor) (*ReservationView, error) {
	if reservationID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "reservation id is required")
	}
	reason = releaseReason(reason)

	var (
		row     *models.StockReservation
		touched map[uuid.UUID]struct{}
	)
	err := m.db.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		row, err = m.repo.WithTx(tx).LockByID(ctx, reservationID)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return pkgerrors.New(pkgerrors.CodeNotFound, "reservation not found")
		}
		if err != nil {
			return lockError(err)
		}
		if row.Status.IsTerminal() {
			return nil
		}
		rows := []models.StockReservation{*row}
		touched, err = m.releaseRows(ctx, tx, rows, reason, actor, enums.ReservationStatusReleased)
		if err != nil {
			return err
		}
		*row = rows[0]
		return nil
	})
	if err != nil {
		m.metrics.Outcome("release", outcomeFor(err))
		return nil, err
	}

	if len(touched) == 0 {
		m.metrics.Outcome("release", "noop")
	} else {
		m.metrics.Outcome("release", "success")
		m.metrics.Units("release", row.QuantityReserved)
		stock.InvalidateQuietly(ctx, m.cache, m.logg, keys(touched)...)
	}
	view := toView(*row)
	return &view, nil
}

// ExpireStale reclaims overdue holds in bounded batches and returns how many
// it expired. Each batch commits on its own.
func (m *manager) ExpireStale(ctx context.Context) (int, error) {
	maxBatches := m.cfg.SweepMaxBatches
	if maxBatches <= 0 {
		maxBatches = 1
	}

	expired := 0
	for batch := 0; batch < maxBatches; batch++ {
		if err := ctx.Err(); err != nil {
			return expired, err
		}
		var (
			claimed int
			touched map[uuid.UUID]struct{}
		)
		err := m.db.WithTx(ctx, func(tx *gorm.DB) error {
			rows, err := m.repo.WithTx(tx).LockExpired(ctx, m.now(), m.cfg.SweepBatchSize)
			if err != nil {
				return lockError(err)
			}
			claimed = len(rows)
			if claimed == 0 {
				return nil
			}
			touched, err = m.releaseRows(ctx, tx, rows, ReleaseReasonExpired, movements.SystemActor, enums.ReservationStatusExpired)
			return err
		})
		if err != nil {
			m.metrics.Outcome("expire", outcomeFor(err))
			return expired, err
		}
		m.metrics.ObserveSweepBatch(claimed)
		if claimed == 0 {
			break
		}
		expired += claimed
		stock.InvalidateQuietly(ctx, m.cache, m.logg, keys(touched)...)
		if claimed < m.cfg.SweepBatchSize {
			break
		}
	}

	if expired > 0 {
		m.metrics.Outcome("expire", "success")
		m.logg.Info(m.logg.WithField(ctx, "expired", expired), "expired stale reservations")
	}
	return expired, nil
}

func (m *manager) ListByOrder(ctx context.Context, orderID uuid.UUID) ([]ReservationView, error) {
	if orderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id is required")
	}
	rows, err := m.repo.ListByOrder(ctx, orderID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list reservations")
	}
	return toViews(rows), nil
}

type transitionFunc func(tx *gorm.DB, rows []models.StockReservation) (map[uuid.UUID]struct{}, error)

// transitionOrder locks the order's live holds, applies fn to them and
// returns every row of the order afterwards.
func (m *manager) transitionOrder(ctx context.Context, orderID uuid.UUID, fn transitionFunc) (*TransitionResult, error) {
	result := &TransitionResult{OrderID: orderID}
	var touched map[uuid.UUID]struct{}
	err := m.db.WithTx(ctx, func(tx *gorm.DB) error {
		repo := m.repo.WithTx(tx)
		rows, err := repo.LockActiveByOrder(ctx, orderID)
		if err != nil {
			return lockError(err)
		}
		if len(rows) > 0 {
			if touched, err = fn(tx, rows); err != nil {
				return err
			}
			result.Changed = len(rows)
			for _, row := range rows {
				result.Units += row.QuantityReserved
			}
		}
		all, err := repo.ListByOrder(ctx, orderID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list reservations")
		}
		result.Reservations = toViews(all)
		return nil
	})
	if err != nil {
		return nil, err
	}
	stock.InvalidateQuietly(ctx, m.cache, m.logg, keys(touched)...)
	return result, nil
}

// releaseRows returns held units to the ledger and closes the rows with
// status. One event is emitted per order.
func (m *manager) releaseRows(ctx context.Context, tx *gorm.DB, rows []models.StockReservation, reason string, actor movements.Actor, status enums.ReservationStatus) (map[uuid.UUID]struct{}, error) {
	now := m.now()
	movementType := enums.MovementTypeRelease
	eventType := enums.EventReservationReleased
	if status == enums.ReservationStatusExpired {
		movementType = enums.MovementTypeExpire
		eventType = enums.EventReservationExpired
	}

	touched, err := m.applyToLedger(ctx, tx, rows, actor, movementType)
	if err != nil {
		return nil, err
	}

	if err := m.finish(ctx, tx, rows, map[string]any{
		"status":         status,
		"released_at":    now,
		"release_reason": reason,
	}); err != nil {
		return nil, err
	}
	byOrder := make(map[uuid.UUID][]models.StockReservation)
	var orders []uuid.UUID
	for i := range rows {
		rows[i].Status = status
		rows[i].ReleasedAt = &now
		rows[i].ReleaseReason = &reason
		if _, seen := byOrder[rows[i].OrderID]; !seen {
			orders = append(orders, rows[i].OrderID)
		}
		byOrder[rows[i].OrderID] = append(byOrder[rows[i].OrderID], rows[i])
	}

	for _, orderID := range orders {
		if err := m.emit(ctx, tx, eventType, orderID, actor, now, payloads.ReservationReleasedEvent{
			OrderID:    orderID,
			Status:     status,
			Reason:     reason,
			ReleasedAt: now,
			Lines:      toLines(byOrder[orderID]),
		}); err != nil {
			return nil, err
		}
	}
	return touched, nil
}

// applyToLedger locks each row's ledger entry in (warehouse, product) order
// and undoes its hold. SALE also removes the covered units from on-hand;
// backordered units were never on the shelf and stay owed.
func (m *manager) applyToLedger(ctx context.Context, tx *gorm.DB, rows []models.StockReservation, actor movements.Actor, movementType enums.MovementType) (map[uuid.UUID]struct{}, error) {
	touched := make(map[uuid.UUID]struct{}, len(rows))
	stockRepo := m.stockRepo.WithTx(tx)
	for _, row := range sortedRows(rows) {
		item, err := stockRepo.LockByID(ctx, row.StockItemID)
		if err != nil {
			return nil, lockError(err)
		}
		change := stock.Change{
			ReservedDelta: -row.QuantityReserved,
			Type:          movementType,
			ReferenceType: enums.ReferenceOrder,
			ReferenceID:   row.OrderID.String(),
			Actor:         actor,
		}
		if movementType == enums.MovementTypeSale {
			covered := max(row.QuantityReserved-row.QuantityBackordered, 0)
			change.OnHandDelta = -min(covered, item.QuantityOnHand)
		}
		applied, err := m.ledger.Apply(ctx, tx, item, change)
		if err != nil {
			return nil, err
		}
		if err := stock.EmitIfDegraded(ctx, tx, m.outbox, *applied, actor); err != nil {
			return nil, err
		}
		touched[row.ProductID] = struct{}{}
	}
	return touched, nil
}

func (m *manager) finish(ctx context.Context, tx *gorm.DB, rows []models.StockReservation, updates map[string]any) error {
	ids := make([]uuid.UUID, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, row.ID)
	}
	updated, err := m.repo.WithTx(tx).Transition(ctx, ids, updates)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "update reservations")
	}
	if int(updated) != len(ids) {
		return pkgerrors.New(pkgerrors.CodeConcurrentModification, "reservation changed concurrently")
	}
	return nil
}

func (m *manager) emit(ctx context.Context, tx *gorm.DB, eventType enums.OutboxEventType, orderID uuid.UUID, actor movements.Actor, at time.Time, data any) error {
	if err := m.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     eventType,
		AggregateType: enums.AggregateOrder,
		AggregateID:   orderID,
		Actor:         actor.Ref(),
		OccurredAt:    at,
		Data:          data,
	}); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "emit "+string(eventType))
	}
	return nil
}

func (m *manager) recordTransition(ctx context.Context, op string, result *TransitionResult) {
	if result.Changed == 0 {
		m.metrics.Outcome(op, "noop")
		return
	}
	m.metrics.Outcome(op, "success")
	m.metrics.Units(op, result.Units)
	m.logg.Info(m.logg.WithField(ctx, "reservations", result.Changed), "reservations "+op+"ed")
}

func normalizeItems(input ReserveInput) ([]allocation.Request, error) {
	if input.OrderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id is required")
	}
	if len(input.Items) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "at least one item is required")
	}
	merged := make(map[uuid.UUID]int, len(input.Items))
	var order []uuid.UUID
	for _, item := range input.Items {
		if item.ProductID == uuid.Nil {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "product id is required")
		}
		if item.Quantity <= 0 {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "quantity must be positive")
		}
		if _, ok := merged[item.ProductID]; !ok {
			order = append(order, item.ProductID)
		}
		merged[item.ProductID] += item.Quantity
	}
	out := make([]allocation.Request, 0, len(order))
	for _, id := range order {
		out = append(out, allocation.Request{ProductID: id, Quantity: merged[id]})
	}
	return out, nil
}

func sortAllocations(plan []allocation.Allocation) {
	sort.SliceStable(plan, func(i, j int) bool {
		return lockKey(plan[i].WarehouseID, plan[i].ProductID, plan[i].StockItemID) <
			lockKey(plan[j].WarehouseID, plan[j].ProductID, plan[j].StockItemID)
	})
}

func sortedRows(rows []models.StockReservation) []models.StockReservation {
	out := make([]models.StockReservation, len(rows))
	copy(out, rows)
	sort.SliceStable(out, func(i, j int) bool {
		return lockKey(out[i].WarehouseID, out[i].ProductID, out[i].StockItemID) <
			lockKey(out[j].WarehouseID, out[j].ProductID, out[j].StockItemID)
	})
	return out
}

func lockKey(warehouseID, productID, stockItemID uuid.UUID) string {
	return warehouseID.String() + "/" + productID.String() + "/" + stockItemID.String()
}

func keys(set map[uuid.UUID]struct{}) []uuid.UUID {
	out := make([]uuid.UUID, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	return out
}

func releaseReason(reason string) string {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return DefaultReleaseReason
	}
	return reason
}

func lockError(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return pkgerrors.Wrap(pkgerrors.CodeConcurrentModification, err, "stock item disappeared")
	}
	return stock.WrapLockError(err, "acquire row lock")
}

func outcomeFor(err error) string {
	typed := pkgerrors.As(err)
	if typed == nil {
		return "error"
	}
	switch typed.Code() {
	case pkgerrors.CodeInsufficientStock:
		return "insufficient"
	case pkgerrors.CodeConcurrentModification:
		return "conflict"
	case pkgerrors.CodeValidation:
		return "invalid"
	case pkgerrors.CodeNotFound:
		return "not_found"
	default:
		return "error"
	}
}
