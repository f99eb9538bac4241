// Package server provides the engine-side wrapper that enforces the
// application lifecycle and routes capability-gated calls.
package server

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// Phase is a position in the application lifecycle.
//
//	Init --Handshake--> Ready --ExecuteBlock--> Executed --Commit--> Ready
//
// Executing and Committing are held while the application call is in
// flight. A failed Handshake returns to Init and a failed ExecuteBlock
// returns to Ready; Commit always returns to Ready.
type Phase uint32

const (
	PhaseInit Phase = iota
	PhaseReady
	PhaseExecuting
	PhaseExecuted
	PhaseCommitting
)

var phaseNames = [...]string{"Init", "Ready", "Executing", "Executed", "Committing"}

func (p Phase) String() string {
	if int(p) < len(phaseNames) {
		return phaseNames[p]
	}
	return fmt.Sprintf("Phase(%d)", uint32(p))
}

// LifecycleGuard serializes ExecuteBlock and Commit and panics on
// any call that is out of order. Out-of-order calls are engine bugs,
// not runtime conditions.
type LifecycleGuard struct {
	phase atomic.Uint32
	seq   sync.Mutex
	open  atomic.Bool
}

// NewLifecycleGuard returns a guard in PhaseInit.
func NewLifecycleGuard() *LifecycleGuard {
	return &LifecycleGuard{}
}

// Phase returns the current phase.
func (g *LifecycleGuard) Phase() Phase {
	return Phase(g.phase.Load())
}

// BeginHandshake enters Ready from Init. Handshake is only ever
// accepted once per guard; finish(false) rolls back to Init so a failed
// attempt can be retried.
func (g *LifecycleGuard) BeginHandshake() (finish func(ok bool)) {
	if !g.phase.CompareAndSwap(uint32(PhaseInit), uint32(PhaseReady)) {
		panic(fmt.Sprintf("vault: Handshake called in phase %s (expected Init)", g.Phase()))
	}
	return func(ok bool) {
		if !ok {
			g.phase.Store(uint32(PhaseInit))
			return
		}
		g.open.Store(true)
	}
}

// BeginExecute waits for any in-flight sequential call and enters
// Executing. finish(true) moves to Executed, finish(false) back to Ready.
func (g *LifecycleGuard) BeginExecute() (finish func(ok bool)) {
	g.enter("ExecuteBlock", PhaseReady, PhaseExecuting)
	return func(ok bool) {
		if ok {
			g.leave(PhaseExecuted)
		} else {
			g.leave(PhaseReady)
		}
	}
}

// BeginCommit enters Committing from Executed. finish returns to
// Ready regardless of the commit's result.
func (g *LifecycleGuard) BeginCommit() (finish func()) {
	g.enter("Commit", PhaseExecuted, PhaseCommitting)
	return func() { g.leave(PhaseReady) }
}

// CheckConcurrent panics unless a handshake has succeeded. CheckTx,
// Query and the optional capabilities may run in any later phase.
func (g *LifecycleGuard) CheckConcurrent() {
	if !g.open.Load() {
		panic("vault: concurrent call before Handshake completed")
	}
}

func (g *LifecycleGuard) enter(op string, from, to Phase) {
	g.seq.Lock()
	if cur := g.Phase(); cur != from {
		g.seq.Unlock()
		panic(fmt.Sprintf("vault: %s called in phase %s (expected %s)", op, cur, from))
	}
	g.phase.Store(uint32(to))
}

func (g *LifecycleGuard) leave(to Phase) {
	g.phase.Store(uint32(to))
	g.seq.Unlock()
}
