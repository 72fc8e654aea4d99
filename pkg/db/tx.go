package db

import (
	"context"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5"
)

// Transactor runs a function as one unit of work. Nested calls join the
// outer unit instead of starting a new one.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type txKey struct{}

type txState struct {
	tx    pgx.Tx
	hooks []func()
}

func stateFrom(ctx context.Context) *txState {
	st, _ := ctx.Value(txKey{}).(*txState)
	return st
}

func txFrom(ctx context.Context) pgx.Tx {
	if st := stateFrom(ctx); st != nil {
		return st.tx
	}
	return nil
}

// AfterCommit schedules fn to run once the surrounding unit of work commits.
// Outside a unit of work fn runs immediately. Hooks are dropped on rollback.
func AfterCommit(ctx context.Context, fn func()) {
	if st := stateFrom(ctx); st != nil {
		st.hooks = append(st.hooks, fn)
		return
	}
	fn()
}

// WithinTx runs fn inside a pgx transaction bound to ctx.
func (d *DB) WithinTx(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if stateFrom(ctx) != nil {
		return fn(ctx)
	}
	tx, err := d.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	st := &txState{tx: tx}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if err = fn(context.WithValue(ctx, txKey{}, st)); err != nil {
		return err
	}
	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	for _, h := range st.hooks {
		h()
	}
	return nil
}

// MemTx serializes units of work for the in-memory repositories. Every
// multi-step mutation goes through it, so preconditions checked inside fn
// still hold when its writes land.
type MemTx struct {
	mu sync.Mutex
}

// NewMemTx returns a Transactor for in-memory storage.
func NewMemTx() *MemTx { return &MemTx{} }

func (m *MemTx) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if stateFrom(ctx) != nil {
		return fn(ctx)
	}
	m.mu.Lock()
	st := &txState{}
	err := fn(context.WithValue(ctx, txKey{}, st))
	m.mu.Unlock()
	if err != nil {
		return err
	}
	for _, h := range st.hooks {
		h()
	}
	return nil
}
