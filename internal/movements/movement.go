package movements

import (
	"time"

	"github.com/angelmondragon/packfinderz-stock/pkg/db/models"
	"github.com/angelmondragon/packfinderz-stock/pkg/enums"
	"github.com/angelmondragon/packfinderz-stock/pkg/outbox"
	"github.com/google/uuid"
)

// Actor identifies who caused a ledger mutation.
type Actor struct {
	Type enums.ActorType `json:"type"`
	ID   string          `json:"id,omitempty"`
}

// SystemActor is used by background jobs such as the expiry sweeper.
var SystemActor = Actor{Type: enums.ActorSystem, ID: "reservation-sweeper"}

// Normalize defaults an empty actor to the calling service.
func (a Actor) Normalize() Actor {
	if !a.Type.IsValid() {
		a.Type = enums.ActorService
	}
	return a
}

// Ref converts the actor for outbox envelopes.
func (a Actor) Ref() *outbox.ActorRef {
	n := a.Normalize()
	return &outbox.ActorRef{Type: n.Type, ID: n.ID}
}

// Entry describes why a ledger entry changed.
type Entry struct {
	Type          enums.MovementType
	ReferenceType enums.MovementReferenceType
	ReferenceID   string
	Actor         Actor
	Note          string
}

// Build derives the movement for a mutation from the entry's state before and
// after it. The primary quantity triple tracks available stock.
func Build(before, after models.StockItem, entry Entry) models.StockMovement {
	actor := entry.Actor.Normalize()
	movement := models.StockMovement{
		StockItemID:    after.ID,
		ProductID:      after.ProductID,
		WarehouseID:    after.WarehouseID,
		Sequence:       after.Version,
		MovementType:   entry.Type,
		QuantityBefore: before.QuantityAvailable(),
		QuantityAfter:  after.QuantityAvailable(),
		OnHandBefore:   before.QuantityOnHand,
		OnHandAfter:    after.QuantityOnHand,
		ReservedBefore: before.QuantityReserved,
		ReservedAfter:  after.QuantityReserved,
		ReferenceType:  entry.ReferenceType,
		ReferenceID:    entry.ReferenceID,
		ActorType:      actor.Type,
		ActorID:        actor.ID,
	}
	movement.QuantityChange = movement.QuantityAfter - movement.QuantityBefore
	if entry.Note != "" {
		note := entry.Note
		movement.Note = &note
	}
	return movement
}

// View is the API shape of a movement.
type View struct {
	ID             uuid.UUID                   `json:"id"`
	StockItemID    uuid.UUID                   `json:"stock_item_id"`
	ProductID      uuid.UUID                   `json:"product_id"`
	WarehouseID    uuid.UUID                   `json:"warehouse_id"`
	Sequence       int64                       `json:"sequence"`
	Type           enums.MovementType          `json:"type"`
	QuantityChange int                         `json:"quantity_change"`
	QuantityBefore int                         `json:"quantity_before"`
	QuantityAfter  int                         `json:"quantity_after"`
	OnHandAfter    int                         `json:"on_hand_after"`
	ReservedAfter  int                         `json:"reserved_after"`
	ReferenceType  enums.MovementReferenceType `json:"reference_type"`
	ReferenceID    string                      `json:"reference_id"`
	Actor          Actor                       `json:"actor"`
	Note           *string                     `json:"note,omitempty"`
	CreatedAt      time.Time                   `json:"created_at"`
}

// ToViews converts stored movements for API responses.
func ToViews(rows []models.StockMovement) []View {
	out := make([]View, 0, len(rows))
	for _, m := range rows {
		out = append(out, View{
			ID:             m.ID,
			StockItemID:    m.StockItemID,
			ProductID:      m.ProductID,
			WarehouseID:    m.WarehouseID,
			Sequence:       m.Sequence,
			Type:           m.MovementType,
			QuantityChange: m.QuantityChange,
			QuantityBefore: m.QuantityBefore,
			QuantityAfter:  m.QuantityAfter,
			OnHandAfter:    m.OnHandAfter,
			ReservedAfter:  m.ReservedAfter,
			ReferenceType:  m.ReferenceType,
			ReferenceID:    m.ReferenceID,
			Actor:          Actor{Type: m.ActorType, ID: m.ActorID},
			Note:           m.Note,
			CreatedAt:      m.CreatedAt,
		})
	}
	return out
}
