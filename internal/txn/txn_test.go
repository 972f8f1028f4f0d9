package txn

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRun_RollbackUndoesInReverseOrder(t *testing.T) {
	var order []int
	err := Run(context.Background(), func(ctx context.Context) error {
		Record(ctx, func() { order = append(order, 1) })
		Record(ctx, func() { order = append(order, 2) })
		return errors.New("boom")
	})

	require.Error(t, err)
	assert.Equal(t, []int{2, 1}, order)
}

func TestRun_CommitDiscardsUndoAndRunsHooks(t *testing.T) {
	undone := false
	hooked := 0
	err := Run(context.Background(), func(ctx context.Context) error {
		Record(ctx, func() { undone = true })
		AfterCommit(ctx, func() { hooked++ })
		assert.Equal(t, 0, hooked, "hook must wait for commit")
		return nil
	})

	require.NoError(t, err)
	assert.False(t, undone)
	assert.Equal(t, 1, hooked)
}

func TestRun_SavepointRollsBackOnlyNestedWork(t *testing.T) {
	var undone []string
	hooks := 0
	err := Run(context.Background(), func(ctx context.Context) error {
		Record(ctx, func() { undone = append(undone, "outer") })

		nestedErr := Run(ctx, func(ctx context.Context) error {
			Record(ctx, func() { undone = append(undone, "inner") })
			AfterCommit(ctx, func() { hooks++ })
			return errors.New("inner failed")
		})
		assert.Error(t, nestedErr)
		assert.Equal(t, []string{"inner"}, undone)
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, []string{"inner"}, undone)
	assert.Equal(t, 0, hooks, "hooks from a rolled back savepoint are dropped")
}

func TestRun_OuterRollbackUndoesCommittedSavepoint(t *testing.T) {
	var undone []string
	hooks := 0
	err := Run(context.Background(), func(ctx context.Context) error {
		require.NoError(t, Run(ctx, func(ctx context.Context) error {
			Record(ctx, func() { undone = append(undone, "inner") })
			AfterCommit(ctx, func() { hooks++ })
			return nil
		}))
		return errors.New("outer failed")
	})

	require.Error(t, err)
	assert.Equal(t, []string{"inner"}, undone)
	assert.Equal(t, 0, hooks)
}

func TestRun_PanicRollsBack(t *testing.T) {
	undone := false
	assert.Panics(t, func() {
		_ = Run(context.Background(), func(ctx context.Context) error {
			Record(ctx, func() { undone = true })
			panic("boom")
		})
	})
	assert.True(t, undone)
}

func TestOutsideTransaction(t *testing.T) {
	ctx := context.Background()
	assert.False(t, Active(ctx))

	ran := false
	AfterCommit(ctx, func() { ran = true })
	assert.True(t, ran)

	Record(ctx, func() { t.Fatal("undo must not run outside a transaction") })
}

func TestDetach(t *testing.T) {
	_ = Run(context.Background(), func(ctx context.Context) error {
		assert.True(t, Active(ctx))
		assert.False(t, Active(Detach(ctx)))
		return nil
	})
}

func TestRunExclusive_NestedJoinsAndHooksRunUnlocked(t *testing.T) {
	var gate sync.Mutex
	hookRan := false
	err := RunExclusive(context.Background(), &gate, func(ctx context.Context) error {
		assert.False(t, gate.TryLock(), "gate held by the outer call")
		AfterCommit(ctx, func() {
			// The gate is free again, so hooks may start new transactions.
			require.True(t, gate.TryLock())
			gate.Unlock()
			hookRan = true
		})
		return RunExclusive(ctx, &gate, func(context.Context) error { return nil })
	})
	require.NoError(t, err)
	assert.True(t, hookRan)
}

func TestRunExclusive_RollbackCompletesBeforeNextTransaction(t *testing.T) {
	var (
		gate    sync.Mutex
		mu      sync.Mutex
		balance int
	)
	entered := make(chan struct{})
	seen := make(chan int, 1)

	go func() {
		<-entered
		_ = RunExclusive(context.Background(), &gate, func(context.Context) error {
			mu.Lock()
			seen <- balance
			mu.Unlock()
			return nil
		})
	}()

	err := RunExclusive(context.Background(), &gate, func(ctx context.Context) error {
		mu.Lock()
		balance += 10
		mu.Unlock()
		Record(ctx, func() {
			mu.Lock()
			balance -= 10
			mu.Unlock()
		})
		close(entered)
		time.Sleep(20 * time.Millisecond)
		return errors.New("boom")
	})
	require.Error(t, err)
	assert.Equal(t, 0, <-seen)
}

func TestRunExclusive_PanicReleasesGate(t *testing.T) {
	var gate sync.Mutex
	assert.Panics(t, func() {
		_ = RunExclusive(context.Background(), &gate, func(context.Context) error { panic("boom") })
	})
	require.True(t, gate.TryLock())
	gate.Unlock()
}
