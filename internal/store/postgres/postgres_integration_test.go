package postgres

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"poscore/backend/internal/domain"
	"poscore/backend/internal/ledger"
	"poscore/backend/internal/store"
)

func openTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	databaseURL := os.Getenv("POSCORE_TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("set POSCORE_TEST_DATABASE_URL to run postgres integration tests")
	}

	ctx := context.Background()
	s, err := New(ctx, databaseURL)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = s.Close()
	})
	require.NoError(t, s.EnsureSchema(ctx))

	// Every test works in its own store id so runs never collide.
	return s, fmt.Sprintf("it-%d", time.Now().UnixNano())
}

func d(value string) decimal.Decimal {
	return decimal.RequireFromString(value)
}

func TestWeightedAverageSurvivesSale(t *testing.T) {
	s, storeID := openTestStore(t)
	ctx := context.Background()

	for _, receipt := range []struct{ qty, cost string }{{"10", "5"}, {"10", "7"}} {
		err := s.WithinTx(ctx, func(tx store.Tx) error {
			positions, err := tx.LockInventory(ctx, storeID, []string{"ITEM-X"})
			if err != nil {
				return err
			}
			pos := positions["ITEM-X"]
			_, err = ledger.Increase(ctx, tx, &pos, ledger.StockChange{
				Quantity: d(receipt.qty),
				UnitCost: d(receipt.cost),
				Kind:     domain.MovementPurchaseIn,
				Source:   domain.SourceRef{Kind: domain.SourcePurchase, ID: "PO-IT"},
				Actor:    "it",
			})
			return err
		})
		require.NoError(t, err)
	}

	err := s.WithinTx(ctx, func(tx store.Tx) error {
		positions, err := tx.LockInventory(ctx, storeID, []string{"ITEM-X"})
		if err != nil {
			return err
		}
		pos := positions["ITEM-X"]
		_, err = ledger.Decrease(ctx, tx, &pos, ledger.StockChange{
			Quantity: d("4"),
			Kind:     domain.MovementSaleOut,
			Source:   domain.SourceRef{Kind: domain.SourceSale, ID: "S-IT"},
			Actor:    "it",
		})
		return err
	})
	require.NoError(t, err)

	pos, err := s.GetInventory(ctx, storeID, "ITEM-X")
	require.NoError(t, err)
	assert.True(t, pos.Quantity.Equal(d("16")), "quantity %s", pos.Quantity)
	assert.True(t, pos.AverageCost.Equal(d("6")), "average %s", pos.AverageCost)

	movements, err := s.ListStockMovements(ctx, storeID, "ITEM-X")
	require.NoError(t, err)
	assert.Len(t, movements, 3)
}

func TestConcurrentAllocationIsGapless(t *testing.T) {
	s, storeID := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.SaveSequence(ctx, domain.FiscalSequence{
		StoreID: storeID, DocumentType: "B02", Prefix: "B02", NextNumber: 100, PadLength: 8, Active: true,
	}))

	const n = 20
	var (
		mu  sync.Mutex
		wg  sync.WaitGroup
		got = make(map[int64]bool, n)
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var number domain.FiscalNumber
			err := s.WithinTx(ctx, func(tx store.Tx) error {
				var err error
				number, err = ledger.Allocate(ctx, tx, storeID, "B02")
				return err
			})
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			got[number.Raw] = true
			mu.Unlock()
		}()
	}
	wg.Wait()

	require.Len(t, got, n)
	for raw := int64(100); raw < 100+n; raw++ {
		assert.True(t, got[raw], "missing %d", raw)
	}
	seq, err := s.PeekSequence(ctx, storeID, "B02")
	require.NoError(t, err)
	assert.Equal(t, int64(100+n), seq.NextNumber)
}

func TestOneOpenShiftPerRegister(t *testing.T) {
	s, storeID := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	insert := func(id string) error {
		return s.WithinTx(ctx, func(tx store.Tx) error {
			return tx.InsertShift(ctx, domain.CashShift{
				ID: id, StoreID: storeID, RegisterID: "R1", OpenedBy: "it", OpenedAt: now, Status: domain.ShiftStatusOpen,
			})
		})
	}
	require.NoError(t, insert(storeID+"-a"))

	err := insert(storeID + "-b")
	require.ErrorIs(t, err, store.ErrConflict)
	assert.Equal(t, store.CodeShiftAlreadyOpen, store.CodeOf(err))

	shift, err := s.GetActiveShift(ctx, storeID, "R1")
	require.NoError(t, err)
	assert.Equal(t, storeID+"-a", shift.ID)
}

func TestNestedRollsBackOnlyInnerWrites(t *testing.T) {
	s, storeID := openTestStore(t)
	ctx := context.Background()

	err := s.WithinTx(ctx, func(tx store.Tx) error {
		if _, err := tx.NextCounter(ctx, storeID, "sale"); err != nil {
			return err
		}
		nestedErr := tx.Nested(ctx, func(inner store.Tx) error {
			if _, err := inner.NextCounter(ctx, storeID, "sale"); err != nil {
				return err
			}
			_, err := ledger.Allocate(ctx, inner, storeID, "B99")
			return err
		})
		assert.ErrorIs(t, nestedErr, store.ErrNotFound)
		return nil
	})
	require.NoError(t, err)

	var next int64
	err = s.WithinTx(ctx, func(tx store.Tx) error {
		var err error
		next, err = tx.NextCounter(ctx, storeID, "sale")
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), next)
}

func TestCheckConstraintBlocksNegativeStock(t *testing.T) {
	s, storeID := openTestStore(t)
	ctx := context.Background()

	_, err := s.pool.Exec(ctx, `
		INSERT INTO inventory_positions (store_id, item_id, quantity) VALUES ($1, 'ITEM-NEG', -1)
	`, storeID)
	require.Error(t, err)
	assert.ErrorIs(t, mapWriteError(err), store.ErrConflict)
}
