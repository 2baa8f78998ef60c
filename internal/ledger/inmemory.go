package ledger

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/rapidroute/cashbox/internal/money"
	"github.com/rapidroute/cashbox/internal/order"
)

// MemoryStore is a concurrency-safe in-memory Store for tests and local runs. One
// mutex serializes every transaction; a failed transaction restores a snapshot.
type MemoryStore struct {
	mu       sync.RWMutex
	balances map[AccountRef]money.Amount
	entries  []Entry
	cashbox  Cashbox
	orders   map[int64]order.Order
	seq      int64
	orderSeq int64
}

// NewInMemory creates an empty in-memory store.
func NewInMemory() *MemoryStore {
	return &MemoryStore{
		balances: make(map[AccountRef]money.Amount),
		orders:   make(map[int64]order.Order),
		cashbox:  Cashbox{Cash: money.Zero(), Wish: money.Zero(), Capital: money.Zero()},
	}
}

type memorySnapshot struct {
	balances map[AccountRef]money.Amount
	entries  int
	cashbox  Cashbox
	orders   map[int64]order.Order
	seq      int64
	orderSeq int64
}

func (m *MemoryStore) snapshot() memorySnapshot {
	balances := make(map[AccountRef]money.Amount, len(m.balances))
	for k, v := range m.balances {
		balances[k] = v
	}
	orders := make(map[int64]order.Order, len(m.orders))
	for k, v := range m.orders {
		orders[k] = v
	}
	return memorySnapshot{
		balances: balances,
		entries:  len(m.entries),
		cashbox:  m.cashbox,
		orders:   orders,
		seq:      m.seq,
		orderSeq: m.orderSeq,
	}
}

func (m *MemoryStore) restore(s memorySnapshot) {
	m.balances = s.balances
	m.entries = m.entries[:s.entries]
	m.cashbox = s.cashbox
	m.orders = s.orders
	m.seq = s.seq
	m.orderSeq = s.orderSeq
}

// WithTx runs fn under the store lock and rolls back on error.
func (m *MemoryStore) WithTx(ctx context.Context, fn func(Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := m.snapshot()
	if err := fn(&memoryTx{store: m}); err != nil {
		m.restore(snap)
		return err
	}
	return nil
}

func (m *MemoryStore) Balance(_ context.Context, ref AccountRef) (money.Amount, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if bal, ok := m.balances[ref]; ok {
		return bal, nil
	}
	return money.Zero(), nil
}

func (m *MemoryStore) Balances(_ context.Context) ([]AccountBalance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]AccountBalance, 0, len(m.balances))
	for ref, bal := range m.balances {
		out = append(out, AccountBalance{Account: ref, Balance: bal})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Account.Less(out[j].Account) })
	return out, nil
}

func (m *MemoryStore) Cashbox(_ context.Context) (Cashbox, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cashbox, nil
}

func (m *MemoryStore) Entries(_ context.Context, filter EntryFilter) ([]Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Entry
	for _, e := range m.entries {
		if filter.Match(e) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *MemoryStore) Order(_ context.Context, id int64) (order.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.orders[id]
	if !ok {
		return order.Order{}, fmt.Errorf("%w: %d", ErrOrderNotFound, id)
	}
	return o, nil
}

// memoryTx writes straight into the store; the caller already holds the lock.
type memoryTx struct {
	store *MemoryStore
}

func (t *memoryTx) ApplyDelta(_ context.Context, ref AccountRef, delta money.Amount) (money.Amount, error) {
	bal, ok := t.store.balances[ref]
	if !ok {
		bal = money.Zero()
	}
	bal = bal.Add(delta)
	t.store.balances[ref] = bal
	return bal, nil
}

func (t *memoryTx) AppendEntries(_ context.Context, entries []Entry) ([]Entry, error) {
	out := make([]Entry, len(entries))
	for i, e := range entries {
		t.store.seq++
		e.Seq = t.store.seq
		out[i] = e
	}
	t.store.entries = append(t.store.entries, out...)
	return out, nil
}

func (t *memoryTx) Cashbox(_ context.Context) (Cashbox, error) {
	return t.store.cashbox, nil
}

func (t *memoryTx) SaveCashbox(_ context.Context, cb Cashbox) error {
	t.store.cashbox = cb
	return nil
}

func (t *memoryTx) Order(_ context.Context, id int64) (order.Order, error) {
	o, ok := t.store.orders[id]
	if !ok {
		return order.Order{}, fmt.Errorf("%w: %d", ErrOrderNotFound, id)
	}
	return o, nil
}

func (t *memoryTx) InsertOrder(_ context.Context, o order.Order) (order.Order, error) {
	t.store.orderSeq++
	o.ID = t.store.orderSeq
	t.store.orders[o.ID] = o
	return o, nil
}

func (t *memoryTx) UpdateOrder(_ context.Context, o order.Order) error {
	if _, ok := t.store.orders[o.ID]; !ok {
		return fmt.Errorf("%w: %d", ErrOrderNotFound, o.ID)
	}
	t.store.orders[o.ID] = o
	return nil
}

func (t *memoryTx) OrderEntries(_ context.Context, orderID int64) ([]Entry, error) {
	var out []Entry
	for _, e := range t.store.entries {
		if e.OrderID == orderID {
			out = append(out, e)
		}
	}
	return out, nil
}
