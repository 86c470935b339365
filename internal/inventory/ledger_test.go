package inventory_test

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/ariefcatur/go-commerce-saga/internal/apperr"
	"github.com/ariefcatur/go-commerce-saga/internal/events"
	"github.com/ariefcatur/go-commerce-saga/internal/inventory"
	"github.com/ariefcatur/go-commerce-saga/internal/memstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newLedger(t *testing.T) *inventory.Ledger {
	t.Helper()
	return inventory.NewLedger(memstore.New().Inventory(), zap.NewNop())
}

func provision(t *testing.T, l *inventory.Ledger, pid string, qty int) {
	t.Helper()
	_, err := l.Provision(context.Background(), pid, qty)
	require.NoError(t, err)
}

func TestReserveThenCommit(t *testing.T) {
	ctx := context.Background()
	l := newLedger(t)
	provision(t, l, "p1", 10)

	e, err := l.Reserve(ctx, "p1", 4)
	require.NoError(t, err)
	assert.Equal(t, 6, e.Available())

	e, err = l.Commit(ctx, "p1", 4)
	require.NoError(t, err)
	assert.Equal(t, 6, e.Quantity)
	assert.Equal(t, 0, e.ReservedQuantity)
	assert.Equal(t, 6, e.Available())
}

func TestReserveThenReleaseRestoresAvailable(t *testing.T) {
	ctx := context.Background()
	l := newLedger(t)
	provision(t, l, "p1", 7)

	before, err := l.Get(ctx, "p1")
	require.NoError(t, err)

	_, err = l.Reserve(ctx, "p1", 5)
	require.NoError(t, err)
	after, found, err := l.Release(ctx, "p1", 5)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, before.Available(), after.Available())
	assert.Equal(t, before.Quantity, after.Quantity)
}

func TestFailedReserveLeavesEntryUntouched(t *testing.T) {
	ctx := context.Background()
	l := newLedger(t)
	provision(t, l, "p1", 3)
	_, err := l.Reserve(ctx, "p1", 1)
	require.NoError(t, err)

	before, err := l.Get(ctx, "p1")
	require.NoError(t, err)

	_, err = l.Reserve(ctx, "p1", 3)
	assert.True(t, apperr.Is(err, apperr.KindInsufficientStock))

	after, err := l.Get(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestProvisionDuplicate(t *testing.T) {
	l := newLedger(t)
	provision(t, l, "p1", 1)
	_, err := l.Provision(context.Background(), "p1", 5)
	assert.True(t, apperr.Is(err, apperr.KindDuplicateEntry))
}

func TestAdjust(t *testing.T) {
	ctx := context.Background()
	l := newLedger(t)
	provision(t, l, "p1", 10)
	_, err := l.Reserve(ctx, "p1", 4)
	require.NoError(t, err)

	e, err := l.Adjust(ctx, "p1", inventory.OpIncrement, 5)
	require.NoError(t, err)
	assert.Equal(t, 15, e.Quantity)

	_, err = l.Adjust(ctx, "p1", inventory.OpDecrement, 12)
	assert.True(t, apperr.Is(err, apperr.KindInsufficientStock))

	e, err = l.Adjust(ctx, "p1", inventory.OpDecrement, 11)
	require.NoError(t, err)
	assert.Equal(t, 4, e.Quantity)
	assert.Equal(t, 0, e.Available())

	_, err = l.Adjust(ctx, "p1", inventory.OpSet, 3)
	assert.True(t, apperr.Is(err, apperr.KindInsufficientStock), "SET below reserved must be rejected")

	e, err = l.Adjust(ctx, "p1", inventory.OpSet, 20)
	require.NoError(t, err)
	assert.Equal(t, 20, e.Quantity)

	_, err = l.Adjust(ctx, "missing", inventory.OpIncrement, 1)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))

	_, err = l.Adjust(ctx, "p1", inventory.OpIncrement, -1)
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	_, err = l.Adjust(ctx, "p1", inventory.Op("DOUBLE"), 1)
	assert.True(t, apperr.Is(err, apperr.KindValidation))
}

func TestCommitBeyondReserved(t *testing.T) {
	ctx := context.Background()
	l := newLedger(t)
	provision(t, l, "p1", 10)
	_, err := l.Reserve(ctx, "p1", 2)
	require.NoError(t, err)

	_, err = l.Commit(ctx, "p1", 3)
	assert.True(t, apperr.Is(err, apperr.KindOverCommit))

	_, err = l.Commit(ctx, "nope", 1)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}

func TestReleaseClampsAndToleratesMissing(t *testing.T) {
	ctx := context.Background()
	l := newLedger(t)
	provision(t, l, "p1", 10)
	_, err := l.Reserve(ctx, "p1", 2)
	require.NoError(t, err)

	e, found, err := l.Release(ctx, "p1", 5)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, 0, e.ReservedQuantity)
	assert.Equal(t, 10, e.Quantity)

	_, found, err = l.Release(ctx, "ghost", 1)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestReserveForOrderIsAllOrNothing(t *testing.T) {
	ctx := context.Background()
	l := newLedger(t)
	provision(t, l, "p1", 10)
	provision(t, l, "p2", 1)

	_, err := l.ReserveForOrder(ctx, "o-1", []events.LineItem{
		{ProductID: "p1", Quantity: 5},
		{ProductID: "p2", Quantity: 2},
	})
	assert.True(t, apperr.Is(err, apperr.KindInsufficientStock))

	p1, err := l.Get(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 0, p1.ReservedQuantity, "earlier line must not leak a hold")

	_, err = l.ReserveForOrder(ctx, "o-2", []events.LineItem{
		{ProductID: "p1", Quantity: 5},
		{ProductID: "missing", Quantity: 1},
	})
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
	p1, _ = l.Get(ctx, "p1")
	assert.Equal(t, 0, p1.ReservedQuantity)
}

func TestReserveForOrderMergesDuplicateLines(t *testing.T) {
	ctx := context.Background()
	l := newLedger(t)
	provision(t, l, "p1", 5)

	_, err := l.ReserveForOrder(ctx, "o-1", []events.LineItem{
		{ProductID: "p1", Quantity: 3},
		{ProductID: "p1", Quantity: 3},
	})
	assert.True(t, apperr.Is(err, apperr.KindInsufficientStock))

	applied, err := l.ReserveForOrder(ctx, "o-2", []events.LineItem{
		{ProductID: "p1", Quantity: 2},
		{ProductID: "p1", Quantity: 3},
	})
	require.NoError(t, err)
	assert.True(t, applied)
	p1, _ := l.Get(ctx, "p1")
	assert.Equal(t, 5, p1.ReservedQuantity)
}

func TestOrderEventsAreIdempotent(t *testing.T) {
	ctx := context.Background()
	l := newLedger(t)
	provision(t, l, "p1", 10)
	items := []events.LineItem{{ProductID: "p1", Quantity: 4}}

	applied, err := l.ReserveForOrder(ctx, "o-1", items)
	require.NoError(t, err)
	assert.True(t, applied)
	applied, err = l.ReserveForOrder(ctx, "o-1", items)
	require.NoError(t, err)
	assert.False(t, applied)

	applied, err = l.CommitForOrder(ctx, "o-1", items)
	require.NoError(t, err)
	assert.True(t, applied)
	applied, err = l.CommitForOrder(ctx, "o-1", items)
	require.NoError(t, err)
	assert.False(t, applied)

	p1, _ := l.Get(ctx, "p1")
	assert.Equal(t, 6, p1.Quantity)
	assert.Equal(t, 0, p1.ReservedQuantity)
}

func TestConfirmBeforeCreatedIsRetryable(t *testing.T) {
	ctx := context.Background()
	l := newLedger(t)
	provision(t, l, "p1", 10)
	items := []events.LineItem{{ProductID: "p1", Quantity: 4}}

	_, err := l.CommitForOrder(ctx, "o-1", items)
	require.Error(t, err)
	assert.True(t, apperr.IsRetryable(err))

	p1, _ := l.Get(ctx, "p1")
	assert.Equal(t, 10, p1.Quantity)

	_, err = l.ReserveForOrder(ctx, "o-1", items)
	require.NoError(t, err)
	applied, err := l.CommitForOrder(ctx, "o-1", items)
	require.NoError(t, err)
	assert.True(t, applied)
}

func TestCancelBeforeCreatedBlocksReservation(t *testing.T) {
	ctx := context.Background()
	l := newLedger(t)
	provision(t, l, "p1", 10)
	items := []events.LineItem{{ProductID: "p1", Quantity: 4}}

	applied, err := l.ReleaseForOrder(ctx, "o-1", items)
	require.NoError(t, err)
	assert.True(t, applied)

	_, err = l.ReserveForOrder(ctx, "o-1", items)
	require.NoError(t, err)

	p1, _ := l.Get(ctx, "p1")
	assert.Equal(t, 0, p1.ReservedQuantity)
}

func TestCancelAfterConfirmDoesNotRestock(t *testing.T) {
	ctx := context.Background()
	l := newLedger(t)
	provision(t, l, "p1", 10)
	items := []events.LineItem{{ProductID: "p1", Quantity: 4}}

	_, err := l.ReserveForOrder(ctx, "o-1", items)
	require.NoError(t, err)
	_, err = l.CommitForOrder(ctx, "o-1", items)
	require.NoError(t, err)
	_, err = l.ReleaseForOrder(ctx, "o-1", items)
	require.NoError(t, err)

	p1, _ := l.Get(ctx, "p1")
	assert.Equal(t, 6, p1.Quantity)
	assert.Equal(t, 0, p1.ReservedQuantity)
}

func TestCancelReleasesReservation(t *testing.T) {
	ctx := context.Background()
	l := newLedger(t)
	provision(t, l, "p1", 10)
	items := []events.LineItem{{ProductID: "p1", Quantity: 4}, {ProductID: "gone", Quantity: 1}}

	_, err := l.ReserveForOrder(ctx, "o-1", items[:1])
	require.NoError(t, err)
	_, err = l.ReleaseForOrder(ctx, "o-1", items)
	require.NoError(t, err)

	p1, _ := l.Get(ctx, "p1")
	assert.Equal(t, 10, p1.Available())
}

func TestLedgerInvariantHoldsUnderRandomOps(t *testing.T) {
	ctx := context.Background()
	l := newLedger(t)
	products := []string{"a", "b", "c"}
	for _, p := range products {
		provision(t, l, p, 20)
	}

	rng := rand.New(rand.NewSource(42))
	ops := []inventory.Op{inventory.OpIncrement, inventory.OpDecrement, inventory.OpSet}
	for i := 0; i < 2000; i++ {
		pid := products[rng.Intn(len(products))]
		n := rng.Intn(15) + 1
		switch rng.Intn(5) {
		case 0:
			_, _ = l.Reserve(ctx, pid, n)
		case 1:
			_, _ = l.Commit(ctx, pid, n)
		case 2:
			_, _, _ = l.Release(ctx, pid, n)
		case 3:
			_, _ = l.Adjust(ctx, pid, ops[rng.Intn(len(ops))], n)
		case 4:
			_, _ = l.ReserveForOrder(ctx, pid+string(rune('0'+i%10)), []events.LineItem{
				{ProductID: products[rng.Intn(3)], Quantity: n},
				{ProductID: products[rng.Intn(3)], Quantity: 1},
			})
		}

		entries, err := l.List(ctx)
		require.NoError(t, err)
		for _, e := range entries {
			require.GreaterOrEqual(t, e.ReservedQuantity, 0, "op %d product %s", i, e.ProductID)
			require.LessOrEqual(t, e.ReservedQuantity, e.Quantity, "op %d product %s", i, e.ProductID)
		}
	}
}

func TestConcurrentReservationsNeverOversell(t *testing.T) {
	ctx := context.Background()
	l := newLedger(t)
	provision(t, l, "p1", 10)

	const workers = 40
	var (
		wg       sync.WaitGroup
		ok, short atomic.Int32
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			var err error
			if i%2 == 0 {
				_, err = l.Reserve(ctx, "p1", 1)
			} else {
				_, err = l.ReserveForOrder(ctx, fmt.Sprintf("o-%d", i), []events.LineItem{{ProductID: "p1", Quantity: 1}})
			}
			switch {
			case err == nil:
				ok.Add(1)
			case apperr.Is(err, apperr.KindInsufficientStock):
				short.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	assert.EqualValues(t, 10, ok.Load())
	assert.EqualValues(t, workers-10, short.Load())
	e, err := l.Get(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 10, e.Quantity)
	assert.Equal(t, 10, e.ReservedQuantity)
	assert.Equal(t, 0, e.Available())
}
