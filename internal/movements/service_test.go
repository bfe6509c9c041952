package movements

import (
	"context"
	"testing"

	"github.com/angelmondragon/packfinderz-stock/pkg/db/dbtest"
	"github.com/angelmondragon/packfinderz-stock/pkg/db/models"
	"github.com/angelmondragon/packfinderz-stock/pkg/enums"
	pkgerrors "github.com/angelmondragon/packfinderz-stock/pkg/errors"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedItem(t *testing.T, svc Service, ctx context.Context) models.StockItem {
	t.Helper()
	item := models.StockItem{ID: uuid.New(), ProductID: uuid.New(), WarehouseID: uuid.New(), SKU: "SKU-1"}
	for _, delta := range []struct{ onHand, reserved int }{{12, 0}, {0, 5}, {-2, -2}} {
		before := item
		item.QuantityOnHand += delta.onHand
		item.QuantityReserved += delta.reserved
		item.RefreshStatus()
		_, err := svc.Append(ctx, nil, before, item, Entry{
			Type:          enums.MovementTypeAdjustment,
			ReferenceType: enums.ReferenceAdjustment,
			ReferenceID:   "adj",
			Note:          "seed",
		})
		require.NoError(t, err)
	}
	return item
}

func TestServiceAppendListAndReconcile(t *testing.T) {
	ctx := context.Background()
	conn := dbtest.Open(t)
	svc, err := NewService(NewRepository(conn))
	require.NoError(t, err)

	item := seedItem(t, svc, ctx)

	rows, err := svc.List(ctx, item.ID, 0, 0)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, []int64{1, 2, 3}, []int64{rows[0].Sequence, rows[1].Sequence, rows[2].Sequence})
	require.NotNil(t, rows[0].Note)
	assert.Equal(t, "seed", *rows[0].Note)

	page, err := svc.List(ctx, item.ID, 1, 1)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, int64(2), page[0].Sequence)

	result, err := svc.Reconcile(ctx, item)
	require.NoError(t, err)
	assert.True(t, result.Consistent, result.Problem)
	assert.Equal(t, 10, result.Replayed.OnHand)
	assert.Equal(t, 3, result.Replayed.Reserved)

	drifted := item
	drifted.QuantityReserved = 9
	result, err = svc.Reconcile(ctx, drifted)
	require.NoError(t, err)
	assert.False(t, result.Consistent)
}

func TestServiceAppendValidatesEntry(t *testing.T) {
	conn := dbtest.Open(t)
	svc, err := NewService(NewRepository(conn))
	require.NoError(t, err)

	_, err = svc.Append(context.Background(), nil, models.StockItem{}, models.StockItem{}, Entry{Type: "BOGUS"})
	require.Error(t, err)

	_, err = svc.List(context.Background(), uuid.Nil, 0, 10)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeValidation))
}

func TestListByReference(t *testing.T) {
	ctx := context.Background()
	conn := dbtest.Open(t)
	repo := NewRepository(conn)
	svc, err := NewService(repo)
	require.NoError(t, err)
	seedItem(t, svc, ctx)

	rows, err := repo.ListByReference(ctx, enums.ReferenceAdjustment, "adj")
	require.NoError(t, err)
	assert.Len(t, rows, 3)
}

func TestServiceListByReferenceValidates(t *testing.T) {
	ctx := context.Background()
	conn := dbtest.Open(t)
	svc, err := NewService(NewRepository(conn))
	require.NoError(t, err)
	seedItem(t, svc, ctx)

	rows, err := svc.ListByReference(ctx, enums.ReferenceAdjustment, " adj ")
	require.NoError(t, err)
	assert.Len(t, rows, 3)

	_, err = svc.ListByReference(ctx, "shipment", "adj")
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeValidation))

	_, err = svc.ListByReference(ctx, enums.ReferenceOrder, "  ")
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeValidation))
}
