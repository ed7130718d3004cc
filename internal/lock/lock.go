// Package lock provides the per-key serialization point used around
// check-then-write sequences on slots and billing records.
package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/hackgods/clinic-scheduling/internal/apperr"
)

var ErrNotAcquired = apperr.New(apperr.KindUnavailable, "resource is busy, please retry")

// Locker runs fn while holding an exclusive lock on key.
type Locker interface {
	WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error
}

func SlotKey(date, clock string) string {
	return fmt.Sprintf("slot:%s:%s", date, clock)
}

func LedgerKey(billingID fmt.Stringer) string {
	return "ledger:" + billingID.String()
}

// Local is an in-process Locker keyed by string. Waiters give up when ctx
// is done.
type Local struct {
	mu    sync.Mutex
	locks map[string]*entry
}

type entry struct {
	ch   chan struct{}
	refs int
}

func NewLocal() *Local {
	return &Local{locks: make(map[string]*entry)}
}

func (l *Local) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	e := l.acquireEntry(key)
	defer l.releaseEntry(key, e)

	select {
	case e.ch <- struct{}{}:
	case <-ctx.Done():
		return errors.Join(ErrNotAcquired, ctx.Err())
	}
	defer func() { <-e.ch }()

	return fn(ctx)
}

func (l *Local) acquireEntry(key string) *entry {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.locks[key]
	if !ok {
		e = &entry{ch: make(chan struct{}, 1)}
		l.locks[key] = e
	}
	e.refs++
	return e
}

func (l *Local) releaseEntry(key string, e *entry) {
	l.mu.Lock()
	defer l.mu.Unlock()

	e.refs--
	if e.refs == 0 {
		delete(l.locks, key)
	}
}
