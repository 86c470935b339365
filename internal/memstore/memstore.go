// Package memstore keeps every store contract in process memory behind one
// mutex, so aggregate writes and their outbox records stay atomic. It backs
// tests and STORE_DRIVER=memory.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ariefcatur/go-commerce-saga/internal/apperr"
	"github.com/ariefcatur/go-commerce-saga/internal/events"
	"github.com/ariefcatur/go-commerce-saga/internal/inventory"
	"github.com/ariefcatur/go-commerce-saga/internal/notifications"
	"github.com/ariefcatur/go-commerce-saga/internal/orders"
	"github.com/ariefcatur/go-commerce-saga/internal/outbox"
	"github.com/ariefcatur/go-commerce-saga/internal/payments"
	"github.com/ariefcatur/go-commerce-saga/internal/saga"
)

type DB struct {
	mu sync.Mutex

	orders        map[string]orders.Order
	inventory     map[string]inventory.Entry
	processed     map[string]map[string]bool // order id -> event types
	payments      map[string]payments.Payment
	notifications map[string]notifications.Notification
	outbox        []events.OutboxRecord
	dead          map[string]saga.DeadLetter
	marks         map[string]time.Time
}

func New() *DB {
	return &DB{
		orders:        map[string]orders.Order{},
		inventory:     map[string]inventory.Entry{},
		processed:     map[string]map[string]bool{},
		payments:      map[string]payments.Payment{},
		notifications: map[string]notifications.Notification{},
		dead:          map[string]saga.DeadLetter{},
		marks:         map[string]time.Time{},
	}
}

func (db *DB) Orders() *Orders               { return &Orders{db} }
func (db *DB) Inventory() *Inventory         { return &Inventory{db} }
func (db *DB) Payments() *Payments           { return &Payments{db} }
func (db *DB) Notifications() *Notifications { return &Notifications{db} }
func (db *DB) Outbox() *Outbox               { return &Outbox{db} }
func (db *DB) DeadLetters() *DeadLetters     { return &DeadLetters{db} }
func (db *DB) Dedup() *Dedup                 { return &Dedup{db} }

// ---- orders ----

type Orders struct{ db *DB }

var _ orders.Store = (*Orders)(nil)

func (s *Orders) Create(_ context.Context, o orders.Order, out ...events.OutboxRecord) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if _, ok := s.db.orders[o.ID]; ok {
		return apperr.New(apperr.KindDuplicateEntry, "order %s exists", o.ID)
	}
	for _, ex := range s.db.orders {
		if ex.OrderNumber == o.OrderNumber {
			return apperr.New(apperr.KindDuplicateEntry, "order number %s exists", o.OrderNumber)
		}
	}
	s.db.orders[o.ID] = copyOrder(o)
	s.db.outbox = append(s.db.outbox, out...)
	return nil
}

func (s *Orders) Get(_ context.Context, id string) (orders.Order, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	o, ok := s.db.orders[id]
	if !ok {
		return orders.Order{}, apperr.New(apperr.KindNotFound, "order %s not found", id)
	}
	return copyOrder(o), nil
}

func (s *Orders) GetByNumber(_ context.Context, number string) (orders.Order, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	for _, o := range s.db.orders {
		if o.OrderNumber == number {
			return copyOrder(o), nil
		}
	}
	return orders.Order{}, apperr.New(apperr.KindNotFound, "order %s not found", number)
}

func (s *Orders) ListByUser(_ context.Context, userID string) ([]orders.Order, error) {
	return s.filter(func(o orders.Order) bool { return o.UserID == userID }), nil
}

func (s *Orders) List(_ context.Context) ([]orders.Order, error) {
	return s.filter(func(orders.Order) bool { return true }), nil
}

func (s *Orders) UpdateStatus(_ context.Context, id string, from, to orders.Status, at time.Time, out ...events.OutboxRecord) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	o, ok := s.db.orders[id]
	if !ok {
		return apperr.New(apperr.KindNotFound, "order %s not found", id)
	}
	if o.Status != from {
		return orders.ErrStatusMismatch
	}
	o.Status, o.UpdatedAt = to, at
	s.db.orders[id] = o
	s.db.outbox = append(s.db.outbox, out...)
	return nil
}

func (s *Orders) filter(keep func(orders.Order) bool) []orders.Order {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	var out []orders.Order
	for _, o := range s.db.orders {
		if keep(o) {
			out = append(out, copyOrder(o))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

func copyOrder(o orders.Order) orders.Order {
	o.Items = append([]orders.LineItem(nil), o.Items...)
	return o
}

// ---- inventory ----

type Inventory struct{ db *DB }

var _ inventory.Store = (*Inventory)(nil)

func (s *Inventory) Create(_ context.Context, e inventory.Entry) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if _, ok := s.db.inventory[e.ProductID]; ok {
		return apperr.New(apperr.KindDuplicateEntry, "inventory for product %s already exists", e.ProductID)
	}
	s.db.inventory[e.ProductID] = e
	return nil
}

func (s *Inventory) Get(_ context.Context, productID string) (inventory.Entry, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	e, ok := s.db.inventory[productID]
	if !ok {
		return inventory.Entry{}, apperr.New(apperr.KindNotFound, "no inventory for product %s", productID)
	}
	return e, nil
}

func (s *Inventory) List(_ context.Context) ([]inventory.Entry, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	out := make([]inventory.Entry, 0, len(s.db.inventory))
	for _, e := range s.db.inventory {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProductID < out[j].ProductID })
	return out, nil
}

func (s *Inventory) Apply(_ context.Context, key *inventory.ProcessedKey, productIDs []string, fn func(*inventory.Tx) error) (bool, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	tx := &inventory.Tx{Entries: map[string]*inventory.Entry{}, Processed: map[string]bool{}}
	if key != nil {
		for et := range s.db.processed[key.OrderID] {
			tx.Processed[et] = true
		}
		if tx.Processed[key.EventType] {
			return false, nil
		}
	}
	for _, pid := range productIDs {
		if e, ok := s.db.inventory[pid]; ok {
			tx.Entries[pid] = &e
		}
	}

	if err := fn(tx); err != nil {
		return false, err
	}

	for pid, e := range tx.Entries {
		if e.ReservedQuantity < 0 || e.ReservedQuantity > e.Quantity {
			return false, apperr.New(apperr.KindInsufficientStock, "ledger invariant violated for %s", pid)
		}
	}
	for pid, e := range tx.Entries {
		s.db.inventory[pid] = *e
	}
	if key != nil {
		if s.db.processed[key.OrderID] == nil {
			s.db.processed[key.OrderID] = map[string]bool{}
		}
		s.db.processed[key.OrderID][key.EventType] = true
	}
	return true, nil
}

// ---- payments ----

type Payments struct{ db *DB }

var _ payments.Store = (*Payments)(nil)

func (s *Payments) Create(_ context.Context, p payments.Payment) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	for _, ex := range s.db.payments {
		if ex.ID == p.ID || ex.TransactionID == p.TransactionID {
			return apperr.New(apperr.KindDuplicateEntry, "payment %s exists", p.TransactionID)
		}
	}
	s.db.payments[p.ID] = p
	return nil
}

func (s *Payments) Save(_ context.Context, p payments.Payment, expect payments.Status, out ...events.OutboxRecord) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	cur, ok := s.db.payments[p.ID]
	if !ok || cur.Status != expect {
		return payments.ErrStatusMismatch
	}
	s.db.payments[p.ID] = p
	s.db.outbox = append(s.db.outbox, out...)
	return nil
}

func (s *Payments) Get(_ context.Context, id string) (payments.Payment, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	p, ok := s.db.payments[id]
	if !ok {
		return payments.Payment{}, apperr.New(apperr.KindNotFound, "payment %s not found", id)
	}
	return p, nil
}

func (s *Payments) ListByOrder(_ context.Context, orderID string) ([]payments.Payment, error) {
	return s.filter(func(p payments.Payment) bool { return p.OrderID == orderID }), nil
}

func (s *Payments) ListByUser(_ context.Context, userID string) ([]payments.Payment, error) {
	return s.filter(func(p payments.Payment) bool { return p.UserID == userID }), nil
}

func (s *Payments) filter(keep func(payments.Payment) bool) []payments.Payment {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	var out []payments.Payment
	for _, p := range s.db.payments {
		if keep(p) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// ---- notifications ----

type Notifications struct{ db *DB }

var _ notifications.Store = (*Notifications)(nil)

func (s *Notifications) Create(_ context.Context, n notifications.Notification) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if _, ok := s.db.notifications[n.ID]; ok {
		return apperr.New(apperr.KindDuplicateEntry, "notification %s exists", n.ID)
	}
	s.db.notifications[n.ID] = copyNotification(n)
	return nil
}

func (s *Notifications) Update(_ context.Context, n notifications.Notification) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if _, ok := s.db.notifications[n.ID]; !ok {
		return apperr.New(apperr.KindNotFound, "notification %s not found", n.ID)
	}
	s.db.notifications[n.ID] = copyNotification(n)
	return nil
}

func (s *Notifications) ListByUser(_ context.Context, userID string) ([]notifications.Notification, error) {
	return s.filter(func(n notifications.Notification) bool { return n.UserID == userID }), nil
}

func (s *Notifications) ListByStatus(_ context.Context, status notifications.Status) ([]notifications.Notification, error) {
	return s.filter(func(n notifications.Notification) bool { return n.Status == status }), nil
}

func (s *Notifications) ListRetryable(_ context.Context, maxRetries int) ([]notifications.Notification, error) {
	return s.filter(func(n notifications.Notification) bool {
		return n.Status == notifications.StatusFailed && n.RetryCount < maxRetries
	}), nil
}

func (s *Notifications) filter(keep func(notifications.Notification) bool) []notifications.Notification {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	var out []notifications.Notification
	for _, n := range s.db.notifications {
		if keep(n) {
			out = append(out, copyNotification(n))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func copyNotification(n notifications.Notification) notifications.Notification {
	if n.SentAt != nil {
		at := *n.SentAt
		n.SentAt = &at
	}
	return n
}

// ---- outbox ----

type Outbox struct{ db *DB }

var _ outbox.Store = (*Outbox)(nil)

func (s *Outbox) Pending(_ context.Context, limit int) ([]events.OutboxRecord, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	var out []events.OutboxRecord
	for _, r := range s.db.outbox {
		if r.PublishedAt == nil {
			out = append(out, r)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (s *Outbox) MarkPublished(_ context.Context, ids []string, at time.Time) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	for i := range s.db.outbox {
		if set[s.db.outbox[i].ID] {
			t := at
			s.db.outbox[i].PublishedAt = &t
		}
	}
	return nil
}

// Append adds records outside any aggregate write.
func (s *Outbox) Append(recs ...events.OutboxRecord) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	s.db.outbox = append(s.db.outbox, recs...)
}

// Records returns every outbox record in insertion order.
func (s *Outbox) Records() []events.OutboxRecord {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	return append([]events.OutboxRecord(nil), s.db.outbox...)
}

// ---- dead letters ----

type DeadLetters struct{ db *DB }

var _ saga.DeadLetterStore = (*DeadLetters)(nil)

func (s *DeadLetters) Put(_ context.Context, d saga.DeadLetter) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	s.db.dead[d.ID] = d
	return nil
}

func (s *DeadLetters) List(_ context.Context, limit int) ([]saga.DeadLetter, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	out := make([]saga.DeadLetter, 0, len(s.db.dead))
	for _, d := range s.db.dead {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *DeadLetters) Get(_ context.Context, id string) (saga.DeadLetter, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	d, ok := s.db.dead[id]
	if !ok {
		return saga.DeadLetter{}, apperr.New(apperr.KindNotFound, "dead letter %s not found", id)
	}
	return d, nil
}

func (s *DeadLetters) Delete(_ context.Context, id string) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	delete(s.db.dead, id)
	return nil
}

// ---- dedup ----

type Dedup struct{ db *DB }

var _ events.Deduper = (*Dedup)(nil)

func (s *Dedup) Seen(_ context.Context, key string) (bool, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	_, ok := s.db.marks[key]
	return ok, nil
}

func (s *Dedup) Mark(_ context.Context, key string) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	s.db.marks[key] = time.Now()
	return nil
}
