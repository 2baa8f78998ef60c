package ledger

import (
	"context"
	"errors"
	"sync/atomic"
)

// ErrInjectedFailure is returned by stores wrapped with FailAppendAfter.
var ErrInjectedFailure = errors.New("injected store failure")

// FailAppendAfter is a test helper that wraps a store so the transaction performing
// the (n+1)-th AppendEntries call fails after its balance updates were applied.
func FailAppendAfter(store Store, n int64) Store {
	return &faultyStore{Store: store, remaining: n}
}

type faultyStore struct {
	Store
	remaining int64
}

func (f *faultyStore) WithTx(ctx context.Context, fn func(Tx) error) error {
	return f.Store.WithTx(ctx, func(tx Tx) error {
		return fn(&faultyTx{Tx: tx, parent: f})
	})
}

type faultyTx struct {
	Tx
	parent *faultyStore
}

func (t *faultyTx) AppendEntries(ctx context.Context, entries []Entry) ([]Entry, error) {
	if atomic.AddInt64(&t.parent.remaining, -1) < 0 {
		return nil, ErrInjectedFailure
	}
	return t.Tx.AppendEntries(ctx, entries)
}
