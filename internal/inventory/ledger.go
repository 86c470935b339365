package inventory

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/ariefcatur/go-commerce-saga/internal/apperr"
	"github.com/ariefcatur/go-commerce-saga/internal/events"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Ledger owns stock and reservation counts per product.
// Every mutation keeps 0 <= ReservedQuantity <= Quantity.
type Ledger struct {
	store Store
	log   *zap.Logger
	now   func() time.Time
}

func NewLedger(store Store, log *zap.Logger) *Ledger {
	return &Ledger{store: store, log: log, now: func() time.Time { return time.Now().UTC() }}
}

func (l *Ledger) Provision(ctx context.Context, productID string, qty int) (Entry, error) {
	if strings.TrimSpace(productID) == "" {
		return Entry{}, apperr.New(apperr.KindValidation, "product id is required")
	}
	if qty < 0 {
		return Entry{}, apperr.New(apperr.KindValidation, "initial quantity must not be negative")
	}
	now := l.now()
	e := Entry{
		ID:        uuid.NewString(),
		ProductID: productID,
		Quantity:  qty,
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := l.store.Create(ctx, e); err != nil {
		return Entry{}, err
	}
	l.log.Info("inventory provisioned", zap.String("product_id", productID), zap.Int("quantity", qty))
	return e, nil
}

func (l *Ledger) Adjust(ctx context.Context, productID string, op Op, amount int) (Entry, error) {
	if amount < 0 {
		return Entry{}, apperr.New(apperr.KindValidation, "amount must not be negative")
	}
	return l.single(ctx, productID, func(e *Entry) error { return adjust(e, op, amount) })
}

func (l *Ledger) Reserve(ctx context.Context, productID string, qty int) (Entry, error) {
	if qty <= 0 {
		return Entry{}, apperr.New(apperr.KindValidation, "quantity must be positive")
	}
	return l.single(ctx, productID, func(e *Entry) error { return reserve(e, qty) })
}

func (l *Ledger) Commit(ctx context.Context, productID string, qty int) (Entry, error) {
	if qty <= 0 {
		return Entry{}, apperr.New(apperr.KindValidation, "quantity must be positive")
	}
	return l.single(ctx, productID, func(e *Entry) error { return commit(e, qty) })
}

// Release returns up to qty reserved units to the available pool. A missing
// entry is not an error; found reports whether the product exists.
func (l *Ledger) Release(ctx context.Context, productID string, qty int) (e Entry, found bool, err error) {
	if qty <= 0 {
		return Entry{}, false, apperr.New(apperr.KindValidation, "quantity must be positive")
	}
	_, err = l.store.Apply(ctx, nil, []string{productID}, func(tx *Tx) error {
		cur, ok := tx.Entries[productID]
		if !ok {
			return nil
		}
		release(cur, qty)
		l.touch(cur)
		e, found = *cur, true
		return nil
	})
	if err != nil {
		return Entry{}, false, err
	}
	return e, found, nil
}

func (l *Ledger) Get(ctx context.Context, productID string) (Entry, error) {
	return l.store.Get(ctx, productID)
}

func (l *Ledger) List(ctx context.Context) ([]Entry, error) {
	return l.store.List(ctx)
}

// ReserveForOrder reserves every line of the order or none of them.
func (l *Ledger) ReserveForOrder(ctx context.Context, orderID string, items []events.LineItem) (bool, error) {
	lines, err := mergeLines(items)
	if err != nil {
		return false, err
	}
	key := &ProcessedKey{OrderID: orderID, EventType: events.EventOrderCreated}
	return l.store.Apply(ctx, key, productIDs(lines), func(tx *Tx) error {
		if tx.Processed[events.EventOrderCancelled] {
			l.log.Info("order already cancelled, skipping reservation", zap.String("order_id", orderID))
			return nil
		}
		for _, ln := range lines {
			e, ok := tx.Entries[ln.ProductID]
			if !ok {
				return apperr.New(apperr.KindNotFound, "no inventory for product %s", ln.ProductID)
			}
			if e.Available() < ln.Quantity {
				return apperr.New(apperr.KindInsufficientStock,
					"product %s: requested %d, available %d", ln.ProductID, ln.Quantity, e.Available())
			}
		}
		for _, ln := range lines {
			e := tx.Entries[ln.ProductID]
			e.ReservedQuantity += ln.Quantity
			l.touch(e)
		}
		return nil
	})
}

// CommitForOrder turns the order's reservations into permanent deductions.
func (l *Ledger) CommitForOrder(ctx context.Context, orderID string, items []events.LineItem) (bool, error) {
	lines, err := mergeLines(items)
	if err != nil {
		return false, err
	}
	key := &ProcessedKey{OrderID: orderID, EventType: events.EventOrderConfirmed}
	return l.store.Apply(ctx, key, productIDs(lines), func(tx *Tx) error {
		if tx.Processed[events.EventOrderCancelled] {
			l.log.Warn("confirmation after cancellation, nothing to commit", zap.String("order_id", orderID))
			return nil
		}
		if !tx.Processed[events.EventOrderCreated] {
			return apperr.Retryable(apperr.New(apperr.KindNotFound, "reservation for order %s not applied yet", orderID))
		}
		for _, ln := range lines {
			e, ok := tx.Entries[ln.ProductID]
			if !ok {
				return apperr.New(apperr.KindNotFound, "no inventory for product %s", ln.ProductID)
			}
			if e.ReservedQuantity < ln.Quantity {
				return apperr.New(apperr.KindOverCommit,
					"product %s: commit %d exceeds reserved %d", ln.ProductID, ln.Quantity, e.ReservedQuantity)
			}
		}
		for _, ln := range lines {
			e := tx.Entries[ln.ProductID]
			e.Quantity -= ln.Quantity
			e.ReservedQuantity -= ln.Quantity
			l.touch(e)
		}
		return nil
	})
}

// ReleaseForOrder returns the order's reservations. Missing products are
// skipped; a committed order is never restocked.
func (l *Ledger) ReleaseForOrder(ctx context.Context, orderID string, items []events.LineItem) (bool, error) {
	lines, err := mergeLines(items)
	if err != nil {
		return false, err
	}
	key := &ProcessedKey{OrderID: orderID, EventType: events.EventOrderCancelled}
	return l.store.Apply(ctx, key, productIDs(lines), func(tx *Tx) error {
		if tx.Processed[events.EventOrderConfirmed] {
			l.log.Info("order already committed, nothing to release", zap.String("order_id", orderID))
			return nil
		}
		if !tx.Processed[events.EventOrderCreated] {
			l.log.Info("cancellation before reservation, recording only", zap.String("order_id", orderID))
			return nil
		}
		for _, ln := range lines {
			e, ok := tx.Entries[ln.ProductID]
			if !ok {
				l.log.Warn("release for unknown product", zap.String("order_id", orderID), zap.String("product_id", ln.ProductID))
				continue
			}
			release(e, ln.Quantity)
			l.touch(e)
		}
		return nil
	})
}

func (l *Ledger) single(ctx context.Context, productID string, mutate func(*Entry) error) (Entry, error) {
	var out Entry
	_, err := l.store.Apply(ctx, nil, []string{productID}, func(tx *Tx) error {
		e, ok := tx.Entries[productID]
		if !ok {
			return apperr.New(apperr.KindNotFound, "no inventory for product %s", productID)
		}
		if err := mutate(e); err != nil {
			return err
		}
		l.touch(e)
		out = *e
		return nil
	})
	if err != nil {
		return Entry{}, err
	}
	return out, nil
}

func (l *Ledger) touch(e *Entry) {
	e.Version++
	e.UpdatedAt = l.now()
}

func adjust(e *Entry, op Op, amount int) error {
	switch op {
	case OpIncrement:
		e.Quantity += amount
	case OpDecrement:
		if e.Available() < amount {
			return apperr.New(apperr.KindInsufficientStock,
				"product %s: decrement %d exceeds available %d", e.ProductID, amount, e.Available())
		}
		e.Quantity -= amount
	case OpSet:
		if amount < e.ReservedQuantity {
			return apperr.New(apperr.KindInsufficientStock,
				"product %s: quantity %d below reserved %d", e.ProductID, amount, e.ReservedQuantity)
		}
		e.Quantity = amount
	default:
		return apperr.New(apperr.KindValidation, "unknown adjustment %q", op)
	}
	return nil
}

func reserve(e *Entry, qty int) error {
	if e.Available() < qty {
		return apperr.New(apperr.KindInsufficientStock,
			"product %s: requested %d, available %d", e.ProductID, qty, e.Available())
	}
	e.ReservedQuantity += qty
	return nil
}

func commit(e *Entry, qty int) error {
	if e.ReservedQuantity < qty {
		return apperr.New(apperr.KindOverCommit,
			"product %s: commit %d exceeds reserved %d", e.ProductID, qty, e.ReservedQuantity)
	}
	e.Quantity -= qty
	e.ReservedQuantity -= qty
	return nil
}

func release(e *Entry, qty int) {
	e.ReservedQuantity -= min(qty, e.ReservedQuantity)
}

// mergeLines sums duplicate products and sorts by product id so locks are
// always taken in the same order.
func mergeLines(items []events.LineItem) ([]events.LineItem, error) {
	if len(items) == 0 {
		return nil, apperr.New(apperr.KindValidation, "order has no items")
	}
	sums := make(map[string]int, len(items))
	for _, it := range items {
		if strings.TrimSpace(it.ProductID) == "" || it.Quantity <= 0 {
			return nil, apperr.New(apperr.KindValidation, "invalid line %q x %d", it.ProductID, it.Quantity)
		}
		sums[it.ProductID] += it.Quantity
	}
	out := make([]events.LineItem, 0, len(sums))
	for pid, q := range sums {
		out = append(out, events.LineItem{ProductID: pid, Quantity: q})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProductID < out[j].ProductID })
	return out, nil
}

func productIDs(lines []events.LineItem) []string {
	ids := make([]string, len(lines))
	for i, ln := range lines {
		ids[i] = ln.ProductID
	}
	return ids
}
