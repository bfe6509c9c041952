package movements

import (
	"testing"

	"github.com/angelmondragon/packfinderz-stock/pkg/db/models"
	"github.com/angelmondragon/packfinderz-stock/pkg/enums"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mutate(t *testing.T, item *models.StockItem, onHand, reserved int, typ enums.MovementType) models.StockMovement {
	t.Helper()
	before := *item
	item.QuantityOnHand += onHand
	item.QuantityReserved += reserved
	item.RefreshStatus()
	return Build(before, *item, Entry{Type: typ, ReferenceType: enums.ReferenceOrder, ReferenceID: "order-1"})
}

func TestBuildTracksAvailableAndSnapshots(t *testing.T) {
	item := &models.StockItem{ID: uuid.New(), ProductID: uuid.New(), WarehouseID: uuid.New(), QuantityOnHand: 10}

	m := mutate(t, item, 0, 3, enums.MovementTypeReserve)

	assert.Equal(t, -3, m.QuantityChange)
	assert.Equal(t, 10, m.QuantityBefore)
	assert.Equal(t, 7, m.QuantityAfter)
	assert.Equal(t, 10, m.OnHandAfter)
	assert.Equal(t, 3, m.ReservedAfter)
	assert.Equal(t, int64(1), m.Sequence)
	assert.Equal(t, enums.ActorService, m.ActorType)
	assert.Nil(t, m.Note)
}

func TestReplayReproducesCounters(t *testing.T) {
	item := &models.StockItem{ID: uuid.New(), ProductID: uuid.New(), WarehouseID: uuid.New(), Backorderable: true}
	chain := []models.StockMovement{
		mutate(t, item, 10, 0, enums.MovementTypeImport),
		mutate(t, item, 0, 4, enums.MovementTypeReserve),
		mutate(t, item, 0, 9, enums.MovementTypeReserve),
		mutate(t, item, -4, -4, enums.MovementTypeSale),
		mutate(t, item, 0, -2, enums.MovementTypeExpire),
	}

	snap, err := Replay(chain)
	require.NoError(t, err)
	assert.Equal(t, item.QuantityOnHand, snap.OnHand)
	assert.Equal(t, item.QuantityReserved, snap.Reserved)
	assert.Equal(t, item.QuantityAvailable(), snap.Available)
	assert.Equal(t, item.Version, snap.Sequence)
}

func TestReplayEmptyChain(t *testing.T) {
	snap, err := Replay(nil)
	require.NoError(t, err)
	assert.Equal(t, Snapshot{}, snap)
}

func TestVerifyChainDetectsGap(t *testing.T) {
	item := &models.StockItem{ID: uuid.New(), QuantityOnHand: 5}
	first := mutate(t, item, 0, 1, enums.MovementTypeReserve)
	item.QuantityReserved++ // untracked write
	second := mutate(t, item, 0, 1, enums.MovementTypeReserve)

	err := VerifyChain([]models.StockMovement{first, second})
	var chainErr *ChainError
	require.ErrorAs(t, err, &chainErr)
	assert.Equal(t, second.Sequence, chainErr.Sequence)
}

func TestVerifyChainDetectsBadArithmetic(t *testing.T) {
	item := &models.StockItem{ID: uuid.New(), QuantityOnHand: 5}
	m := mutate(t, item, 0, 1, enums.MovementTypeReserve)
	m.QuantityChange = 7

	require.Error(t, VerifyChain([]models.StockMovement{m}))
}

func TestActorNormalize(t *testing.T) {
	assert.Equal(t, enums.ActorService, Actor{}.Normalize().Type)
	ref := SystemActor.Ref()
	assert.Equal(t, enums.ActorSystem, ref.Type)
	assert.Equal(t, "reservation-sweeper", ref.ID)
}
