package server

import (
	"strings"
	"sync"
	"testing"
	"time"
)

func mustPanic(t *testing.T, contains string, fn func()) {
	t.Helper()
	defer func() {
		t.Helper()
		r := recover()
		if r == nil {
			t.Fatalf("expected panic containing %q", contains)
		}
		if msg, _ := r.(string); !strings.Contains(msg, contains) {
			t.Fatalf("panic %v does not mention %q", r, contains)
		}
	}()
	fn()
}

func opened(t *testing.T) *LifecycleGuard {
	t.Helper()
	g := NewLifecycleGuard()
	g.BeginHandshake()(true)
	if g.Phase() != PhaseReady {
		t.Fatalf("phase after handshake = %s", g.Phase())
	}
	return g
}

func TestLifecycleGuard_BlockCycles(t *testing.T) {
	g := opened(t)
	for i := 0; i < 3; i++ {
		done := g.BeginExecute()
		if g.Phase() != PhaseExecuting {
			t.Fatalf("cycle %d: phase %s, want Executing", i, g.Phase())
		}
		done(true)
		if g.Phase() != PhaseExecuted {
			t.Fatalf("cycle %d: phase %s, want Executed", i, g.Phase())
		}
		g.BeginCommit()()
		if g.Phase() != PhaseReady {
			t.Fatalf("cycle %d: phase %s, want Ready", i, g.Phase())
		}
	}
}

func TestLifecycleGuard_OutOfOrder(t *testing.T) {
	mustPanic(t, "before Handshake", func() { NewLifecycleGuard().CheckConcurrent() })

	mustPanic(t, "Handshake called in phase Ready", func() {
		opened(t).BeginHandshake()
	})

	mustPanic(t, "Commit called in phase Ready", func() {
		opened(t).BeginCommit()
	})

	mustPanic(t, "ExecuteBlock called in phase Executed", func() {
		g := opened(t)
		g.BeginExecute()(true)
		g.BeginExecute()
	})

	mustPanic(t, "ExecuteBlock called in phase Init", func() {
		NewLifecycleGuard().BeginExecute()
	})
}

func TestLifecycleGuard_PanicReleasesSequence(t *testing.T) {
	g := opened(t)
	mustPanic(t, "Commit", func() { g.BeginCommit() })

	// The failed Commit must not leave the sequence lock held.
	g.BeginExecute()(true)
	g.BeginCommit()()
}

func TestLifecycleGuard_Rollbacks(t *testing.T) {
	g := NewLifecycleGuard()
	g.BeginHandshake()(false)
	if g.Phase() != PhaseInit {
		t.Fatalf("failed handshake left phase %s", g.Phase())
	}
	mustPanic(t, "before Handshake", g.CheckConcurrent)

	g.BeginHandshake()(true)
	g.CheckConcurrent()

	g.BeginExecute()(false)
	if g.Phase() != PhaseReady {
		t.Fatalf("failed execute left phase %s", g.Phase())
	}
	g.BeginExecute()(true)
	g.BeginCommit()()
}

func TestLifecycleGuard_ExecuteWaitsForCommit(t *testing.T) {
	g := opened(t)
	g.BeginExecute()(true)
	commitDone := g.BeginCommit()

	var wg sync.WaitGroup
	started := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		close(started)
		g.BeginExecute()(true)
	}()

	<-started
	time.Sleep(10 * time.Millisecond)
	if g.Phase() != PhaseCommitting {
		t.Fatalf("execute ran during commit: phase %s", g.Phase())
	}
	commitDone()
	wg.Wait()
	if g.Phase() != PhaseExecuted {
		t.Fatalf("phase %s, want Executed", g.Phase())
	}
}

func TestPhase_String(t *testing.T) {
	if PhaseCommitting.String() != "Committing" {
		t.Errorf("got %s", PhaseCommitting)
	}
	if s := Phase(9).String(); s != "Phase(9)" {
		t.Errorf("got %s", s)
	}
}
