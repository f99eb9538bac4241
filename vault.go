// Package vault hosts a custodial vault program on top of a block
// application interface: an external engine hands finalized blocks to the
// application, which executes every transaction atomically against a
// keyed account ledger.
//
// The core [Lifecycle] interface is required. [StateSync] and [Simulator]
// are optional capabilities discovered via Go type assertion at handshake
// time.
package vault

import (
	"context"

	"github.com/blockberries/vault/types"
)

// Lifecycle is the core interface every application must implement.
// It covers the complete happy-path from boot to steady-state block
// production.
//
// The engine guarantees the following call order:
//  1. Handshake is called exactly once, before anything else.
//  2. ExecuteBlock(h) is called exactly once per committed height h.
//  3. Commit is called exactly once after each ExecuteBlock.
//  4. CheckTx, Query may be called concurrently at any time after Handshake.
type Lifecycle interface {
	// Handshake is called once on every startup (cold start or restart).
	//
	// If LastCommitted is nil, this is a fresh genesis and Genesis will be
	// populated. Otherwise the application reports the state it last
	// persisted so the engine can detect divergence.
	Handshake(ctx context.Context, req types.HandshakeRequest) (types.HandshakeResponse, error)

	// CheckTx gate-checks a transaction before it enters the mempool.
	//
	// This method MUST be safe for concurrent use.
	CheckTx(ctx context.Context, tx types.Tx, mctx types.MempoolContext) (types.GateVerdict, error)

	// ExecuteBlock deterministically executes a finalized block.
	//
	// Every transaction is executed in order and either fully applies or
	// leaves no trace. This method MUST NOT persist state; that happens in
	// Commit. The AppHash in the returned BlockOutcome is deterministic.
	ExecuteBlock(ctx context.Context, block types.FinalizedBlock) (types.BlockOutcome, error)

	// Commit persists all state changes from the last ExecuteBlock.
	//
	// Called exactly once after each ExecuteBlock. Either all changes land,
	// or none do.
	Commit(ctx context.Context) (types.CommitResult, error)

	// Query reads the last committed application state.
	//
	// This method MUST be safe for concurrent use, including concurrent
	// with ExecuteBlock.
	Query(ctx context.Context, req types.StateQuery) (types.StateQueryResult, error)
}

// StateSync enables snapshot-based state synchronization for fast node
// bootstrapping.
//
// Declared via: types.CapStateSync in HandshakeResponse.Capabilities
type StateSync interface {
	// AvailableSnapshots lists snapshots the application can export.
	AvailableSnapshots(ctx context.Context) ([]types.SnapshotDescriptor, error)

	// ExportSnapshot exports a snapshot as a pull-based stream of chunks.
	// The returned channel is closed after the last chunk.
	ExportSnapshot(ctx context.Context, height uint64, format uint32) (<-chan types.SnapshotChunk, *types.SnapshotDescriptor, error)

	// ImportSnapshot rebuilds state from a push-based stream of chunks and
	// returns the resulting AppHash.
	ImportSnapshot(ctx context.Context, descriptor types.SnapshotDescriptor, chunks <-chan types.SnapshotChunk) (types.ImportResult, error)
}

// Simulator provides a dedicated dry-run path.
//
// Declared via: types.CapSimulation in HandshakeResponse.Capabilities
type Simulator interface {
	// Simulate dry-runs a transaction against current committed state
	// without persisting any changes.
	//
	// This method MUST be safe for concurrent use.
	Simulate(ctx context.Context, tx types.Tx) (types.TxOutcome, error)
}

// Application embeds every interface. Most applications implement only
// Lifecycle plus the optional interfaces they need.
type Application interface {
	Lifecycle
	StateSync
	Simulator
}

// Connection represents a transport-agnostic connection to an
// application. Both gRPC clients and in-process adapters implement this.
type Connection interface {
	Lifecycle

	// Capabilities returns the capabilities discovered at handshake.
	// Must only be called after Handshake completes.
	Capabilities() types.Capabilities

	// AsStateSync returns the StateSync interface if available.
	AsStateSync() StateSync

	// AsSimulator returns the Simulator interface if available.
	AsSimulator() Simulator

	// Close terminates the connection.
	Close() error
}
