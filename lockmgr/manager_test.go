package lockmgr

import (
	"context"
	"testing"
	"time"
)

func TestCompatibilityMatrix(t *testing.T) {
	cases := []struct {
		held, requested Mode
		want            bool
	}{
		{IS, IS, true}, {IS, IX, true}, {IS, S, true}, {IS, X, false},
		{IX, IS, true}, {IX, IX, true}, {IX, S, false}, {IX, X, false},
		{S, IS, true}, {S, IX, false}, {S, S, true}, {S, X, false},
		{X, IS, false}, {X, IX, false}, {X, S, false}, {X, X, false},
	}
	for _, c := range cases {
		if got := Compatible(c.held, c.requested); got != c.want {
			t.Errorf("Compatible(%v, %v) = %v, want %v", c.held, c.requested, got, c.want)
		}
	}
}

func TestAcquireReleaseSameResource(t *testing.T) {
	m := New(Config{})
	defer m.Close()

	ctx := context.Background()
	table := TableResource("employees")

	if err := m.Acquire(ctx, 1, table, S); err != nil {
		t.Fatalf("Acquire S: %v", err)
	}
	if err := m.Acquire(ctx, 2, table, S); err != nil {
		t.Fatalf("second shared Acquire: %v", err)
	}
	m.ReleaseAll(1)
	m.ReleaseAll(2)

	if err := m.Acquire(ctx, 3, table, X); err != nil {
		t.Fatalf("Acquire X after release: %v", err)
	}
	m.ReleaseAll(3)
}

func TestExclusiveBlocksShared(t *testing.T) {
	m := New(Config{})
	defer m.Close()

	ctx := context.Background()
	row := RowResource("employees", 42)

	if err := m.Acquire(ctx, 1, row, X); err != nil {
		t.Fatalf("Acquire X: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		done <- m.Acquire(ctx, 2, row, S)
	}()

	select {
	case <-done:
		t.Fatal("second Acquire should have blocked behind X")
	case <-time.After(50 * time.Millisecond):
	}

	m.ReleaseAll(1)

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Acquire S after release: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("second Acquire never unblocked")
	}
	m.ReleaseAll(2)
}

func TestDeadlockVictimSelection(t *testing.T) {
	m := New(Config{DetectInterval: 20 * time.Millisecond})
	defer m.Close()

	ctx := context.Background()
	a := TableResource("a")
	b := TableResource("b")

	const t1, t2 TxnID = 1, 2 // t2 is younger

	if err := m.Acquire(ctx, t1, a, X); err != nil {
		t.Fatalf("t1 acquire a: %v", err)
	}
	if err := m.Acquire(ctx, t2, b, X); err != nil {
		t.Fatalf("t2 acquire b: %v", err)
	}

	t1Blocked := make(chan error, 1)
	t2Blocked := make(chan error, 1)
	go func() { t1Blocked <- m.Acquire(ctx, t1, b, X) }()
	go func() { t2Blocked <- m.Acquire(ctx, t2, a, X) }()

	var t1Err, t2Err error
	select {
	case t1Err = <-t1Blocked:
	case t2Err = <-t2Blocked:
	case <-time.After(5 * time.Second):
		t.Fatal("deadlock was never detected")
	}

	if t2Err == nil {
		select {
		case t2Err = <-t2Blocked:
		case <-time.After(5 * time.Second):
			t.Fatal("t2 never resolved")
		}
	}
	if t2Err == nil {
		t.Fatal("younger transaction t2 should have been aborted as deadlock victim")
	}

	// Simulate the txn layer's reaction to a TxnConflict: roll back and
	// release every lock the victim held, unblocking the survivor.
	m.ReleaseAll(t2)

	if t1Err == nil {
		select {
		case t1Err = <-t1Blocked:
		case <-time.After(5 * time.Second):
			t.Fatal("t1 never resolved")
		}
	}
	if t1Err != nil {
		t.Fatalf("older transaction t1 should have won, got error: %v", t1Err)
	}

	m.ReleaseAll(t1)
}

func TestAcquireTimeout(t *testing.T) {
	m := New(Config{LockTimeout: 30 * time.Millisecond})
	defer m.Close()

	ctx := context.Background()
	row := RowResource("t", 1)

	if err := m.Acquire(ctx, 1, row, X); err != nil {
		t.Fatalf("Acquire X: %v", err)
	}
	defer m.ReleaseAll(1)

	err := m.Acquire(ctx, 2, row, X)
	if err == nil {
		t.Fatal("expected timeout error")
	}
	m.ReleaseAll(2)
}

func TestAcquireContextCancel(t *testing.T) {
	m := New(Config{LockTimeout: 10 * time.Second})
	defer m.Close()

	row := RowResource("t", 1)
	if err := m.Acquire(context.Background(), 1, row, X); err != nil {
		t.Fatalf("Acquire X: %v", err)
	}
	defer m.ReleaseAll(1)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := m.Acquire(ctx, 2, row, X); err == nil {
		t.Fatal("expected context cancellation error")
	}
	m.ReleaseAll(2)
}
