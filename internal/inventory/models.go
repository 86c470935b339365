package inventory

import (
	"context"
	"time"
)

type Entry struct {
	ID               string    `json:"id"`
	ProductID        string    `json:"product_id"`
	Quantity         int       `json:"quantity"`
	ReservedQuantity int       `json:"reserved_quantity"`
	Version          int64     `json:"version"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

func (e Entry) Available() int { return e.Quantity - e.ReservedQuantity }

type Op string

const (
	OpIncrement Op = "INCREMENT"
	OpDecrement Op = "DECREMENT"
	OpSet       Op = "SET"
)

// ProcessedKey identifies one saga event applied to the ledger.
type ProcessedKey struct {
	OrderID   string
	EventType string
}

// Tx is the locked working set handed to Store.Apply callbacks.
type Tx struct {
	// Entries holds the requested products that exist, keyed by product id.
	Entries map[string]*Entry
	// Processed lists event types already applied for the order of the key.
	Processed map[string]bool
}

type Store interface {
	Create(ctx context.Context, e Entry) error
	Get(ctx context.Context, productID string) (Entry, error)
	List(ctx context.Context) ([]Entry, error)

	// Apply locks the entries of productIDs, runs fn and persists every entry
	// fn changed in one atomic step. With a non-nil key the order is locked,
	// fn is skipped when the key was already processed (applied=false), and
	// the key is recorded together with the mutation. An error from fn
	// discards all changes.
	Apply(ctx context.Context, key *ProcessedKey, productIDs []string, fn func(*Tx) error) (applied bool, err error)
}
