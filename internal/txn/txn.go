// Package txn carries a transaction journal through a context so that
// in-process state (memory stores, the memory asset registry, the memory
// wallet) and database transactions commit or roll back together.
//
// A journal is opened by the outermost Run. Nested Run calls open savepoints:
// an error inside the nested fn undoes the work recorded since the savepoint
// and nothing else. Undo actions run in reverse order of registration.
package txn

import (
	"context"
	"sync"
)

type ctxKey struct{}

type journal struct {
	mu    sync.Mutex
	undo  []func()
	after []func()
}

type mark struct {
	undo  int
	after int
}

func (j *journal) mark() mark {
	j.mu.Lock()
	defer j.mu.Unlock()
	return mark{undo: len(j.undo), after: len(j.after)}
}

// rollbackTo runs and discards every undo action recorded after m, and drops
// the after-commit hooks registered after m. Undo actions run without holding
// the journal lock because they take their owners' locks.
func (j *journal) rollbackTo(m mark) {
	j.mu.Lock()
	pending := j.undo[m.undo:]
	j.undo = j.undo[:m.undo]
	j.after = j.after[:m.after]
	j.mu.Unlock()

	for i := len(pending) - 1; i >= 0; i-- {
		pending[i]()
	}
}

func (j *journal) commit() []func() {
	j.mu.Lock()
	defer j.mu.Unlock()
	hooks := j.after
	j.undo = nil
	j.after = nil
	return hooks
}

func from(ctx context.Context) *journal {
	j, _ := ctx.Value(ctxKey{}).(*journal)
	return j
}

// Active reports whether ctx carries an open transaction.
func Active(ctx context.Context) bool {
	return from(ctx) != nil
}

// Run executes fn inside a transaction, or inside a savepoint when ctx already
// carries one. fn must use the ctx it is given.
func Run(ctx context.Context, fn func(ctx context.Context) error) error {
	return run(ctx, nil, fn)
}

// RunExclusive is Run with gate held by the outermost call until it has
// committed or rolled back. Nested calls join the open transaction without
// touching gate. After-commit hooks run once gate is released.
func RunExclusive(ctx context.Context, gate sync.Locker, fn func(ctx context.Context) error) error {
	return run(ctx, gate, fn)
}

func run(ctx context.Context, gate sync.Locker, fn func(ctx context.Context) error) error {
	j := from(ctx)
	outer := j == nil
	if outer {
		j = &journal{}
		ctx = context.WithValue(ctx, ctxKey{}, j)
		if gate != nil {
			gate.Lock()
		}
	}
	release := func() {
		if outer && gate != nil {
			gate.Unlock()
		}
	}
	m := j.mark()

	panicked := true
	defer func() {
		if panicked {
			j.rollbackTo(m)
			release()
		}
	}()

	err := fn(ctx)
	panicked = false
	if err != nil {
		j.rollbackTo(m)
		release()
		return err
	}

	if outer {
		hooks := j.commit()
		release()
		for _, hook := range hooks {
			hook()
		}
	}
	return nil
}

// Record registers undo to run if the enclosing transaction or savepoint rolls
// back. Outside a transaction the change is final and Record does nothing.
func Record(ctx context.Context, undo func()) {
	if j := from(ctx); j != nil {
		j.mu.Lock()
		j.undo = append(j.undo, undo)
		j.mu.Unlock()
	}
}

// AfterCommit runs hook once the outermost transaction commits. Hooks
// registered inside a savepoint that later rolls back are dropped. Outside a
// transaction hook runs immediately.
func AfterCommit(ctx context.Context, hook func()) {
	j := from(ctx)
	if j == nil {
		hook()
		return
	}
	j.mu.Lock()
	j.after = append(j.after, hook)
	j.mu.Unlock()
}

// Detach returns a context that keeps ctx's values and deadline but no longer
// carries the transaction. Work started with it is not undone on rollback.
func Detach(ctx context.Context) context.Context {
	if from(ctx) == nil {
		return ctx
	}
	return context.WithValue(ctx, ctxKey{}, (*journal)(nil))
}
