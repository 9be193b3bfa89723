package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"poscore/backend/internal/domain"
	"poscore/backend/internal/store"
)

func openShiftRow(id string) domain.CashShift {
	return domain.CashShift{
		ID:         id,
		StoreID:    SeedStoreID,
		RegisterID: "reg-9",
		OpenedBy:   "cashier",
		OpenedAt:   time.Now().UTC(),
		Status:     domain.ShiftStatusOpen,
	}
}

func TestReadsOutsideTxSeeOnlyCommittedState(t *testing.T) {
	repo := NewSeeded()
	ctx := context.Background()
	errAbort := errors.New("abort")

	err := repo.WithinTx(ctx, func(tx store.Tx) error {
		require.NoError(t, tx.InsertShift(ctx, openShiftRow("shift-a")))
		positions, err := tx.LockInventory(ctx, SeedStoreID, []string{"ITEM-PAN"})
		require.NoError(t, err)
		pos := positions["ITEM-PAN"]
		pos.Quantity = decimal.NewFromInt(1)
		require.NoError(t, tx.UpdateInventory(ctx, pos))

		_, err = repo.GetActiveShift(ctx, SeedStoreID, "reg-9")
		assert.ErrorIs(t, err, store.ErrNotFound)
		committed, err := repo.GetInventory(ctx, SeedStoreID, "ITEM-PAN")
		require.NoError(t, err)
		assert.True(t, committed.Quantity.Equal(decimal.NewFromInt(200)))
		return errAbort
	})
	require.ErrorIs(t, err, errAbort)

	_, err = repo.GetActiveShift(ctx, SeedStoreID, "reg-9")
	assert.ErrorIs(t, err, store.ErrNotFound)

	require.NoError(t, repo.WithinTx(ctx, func(tx store.Tx) error {
		return tx.InsertShift(ctx, openShiftRow("shift-b"))
	}))
	active, err := repo.GetActiveShift(ctx, SeedStoreID, "reg-9")
	require.NoError(t, err)
	assert.Equal(t, "shift-b", active.ID)
}

func TestNestedKeepsOuterWritesOnInnerFailure(t *testing.T) {
	repo := New()
	ctx := context.Background()

	err := repo.WithinTx(ctx, func(tx store.Tx) error {
		if _, err := tx.NextCounter(ctx, "s1", "sale"); err != nil {
			return err
		}
		inner := tx.Nested(ctx, func(ntx store.Tx) error {
			if _, err := ntx.NextCounter(ctx, "s1", "sale"); err != nil {
				return err
			}
			return store.Conflict(store.CodeSequenceExhausted, "exhausted", nil)
		})
		assert.ErrorIs(t, inner, store.ErrConflict)
		next, err := tx.NextCounter(ctx, "s1", "sale")
		assert.Equal(t, int64(2), next)
		return err
	})
	require.NoError(t, err)
}
