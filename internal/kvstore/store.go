package kvstore

import (
	"context"
	"errors"
	"sync"
)

// ErrNotFound is returned by Get when the key has never been written or
// has been deleted.
var ErrNotFound = errors.New("kvstore: key not found")

// UpdateFunc transforms the current value of a key into its next value.
// A nil input means the key is absent. Returning nil deletes the key.
type UpdateFunc func(current []byte) ([]byte, error)

// Store is the durable key/value abstraction backing the ledger, the
// sequence counter and the order list. Keys are independent: no cross-key
// transactions are offered, and callers must re-read before writing
// rather than trust a cached copy.
//
// Update serializes read-modify-write per key within one process. Across
// processes sharing the same backing file nothing is serialized; callers
// that need stronger guarantees use verify-after-write on top.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Update(ctx context.Context, key string, fn UpdateFunc) error
	Close() error
}

// Well-known keys.
const (
	KeyReservationLedger = "reservation_ledger"
	KeySequenceCounter   = "order_sequence_counter"
	KeyOrders            = "orders"
	KeyProductCatalog    = "product_catalog"
	KeyPendingActions    = "pending_actions"
)

// Memory is an in-process Store used in tests and single-process
// deployments.
type Memory struct {
	mu   sync.Mutex
	data map[string][]byte
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{data: make(map[string][]byte)}
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	v, ok := m.data[key]
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

func (m *Memory) Set(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	v := make([]byte, len(value))
	copy(v, value)
	m.data[key] = v
	return nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.data, key)
	return nil
}

func (m *Memory) Update(_ context.Context, key string, fn UpdateFunc) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var current []byte
	if v, ok := m.data[key]; ok {
		current = make([]byte, len(v))
		copy(current, v)
	}

	next, err := fn(current)
	if err != nil {
		return err
	}
	if next == nil {
		delete(m.data, key)
		return nil
	}
	m.data[key] = next
	return nil
}

func (m *Memory) Close() error {
	return nil
}
