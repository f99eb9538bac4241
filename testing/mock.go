// Package vaulttest provides helpers for testing applications and the
// engines that drive them: a scriptable mock application, a harness
// that runs calls through the lifecycle guard, and a compliance suite.
package vaulttest

import (
	"context"
	"encoding/binary"
	"sync"

	"github.com/blockberries/vault"
	"github.com/blockberries/vault/types"
)

var (
	_ vault.Lifecycle = (*MockApp)(nil)
	_ vault.StateSync = (*MockApp)(nil)
	_ vault.Simulator = (*MockApp)(nil)
)

// MockApp is an application whose behavior is scripted through the
// Fn fields. Unset fields accept every transaction and produce an app
// hash derived from the block height. Capabilities is what a default
// Handshake declares.
type MockApp struct {
	Capabilities types.Capabilities

	HandshakeFn          func(context.Context, types.HandshakeRequest) (types.HandshakeResponse, error)
	CheckTxFn            func(context.Context, types.Tx, types.MempoolContext) (types.GateVerdict, error)
	ExecuteBlockFn       func(context.Context, types.FinalizedBlock) (types.BlockOutcome, error)
	CommitFn             func(context.Context) (types.CommitResult, error)
	QueryFn              func(context.Context, types.StateQuery) (types.StateQueryResult, error)
	AvailableSnapshotsFn func(context.Context) ([]types.SnapshotDescriptor, error)
	ExportSnapshotFn     func(context.Context, uint64, uint32) (<-chan types.SnapshotChunk, *types.SnapshotDescriptor, error)
	ImportSnapshotFn     func(context.Context, types.SnapshotDescriptor, <-chan types.SnapshotChunk) (types.ImportResult, error)
	SimulateFn           func(context.Context, types.Tx) (types.TxOutcome, error)

	mu    sync.Mutex
	calls map[string]int
}

// Calls returns how many times method has been invoked.
func (m *MockApp) Calls(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[method]
}

func (m *MockApp) record(method string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.calls == nil {
		m.calls = make(map[string]int)
	}
	m.calls[method]++
}

// HeightHash is the app hash a default MockApp reports after height.
func HeightHash(height uint64) types.AppHash {
	var h types.AppHash
	binary.BigEndian.PutUint64(h[len(h)-8:], height)
	return h
}

func (m *MockApp) Handshake(ctx context.Context, req types.HandshakeRequest) (types.HandshakeResponse, error) {
	m.record("Handshake")
	if m.HandshakeFn != nil {
		return m.HandshakeFn(ctx, req)
	}
	h := HeightHash(0)
	return types.HandshakeResponse{AppHash: &h, Capabilities: m.Capabilities}, nil
}

func (m *MockApp) CheckTx(ctx context.Context, tx types.Tx, mctx types.MempoolContext) (types.GateVerdict, error) {
	m.record("CheckTx")
	if m.CheckTxFn != nil {
		return m.CheckTxFn(ctx, tx, mctx)
	}
	return types.GateVerdict{}, nil
}

func (m *MockApp) ExecuteBlock(ctx context.Context, block types.FinalizedBlock) (types.BlockOutcome, error) {
	m.record("ExecuteBlock")
	if m.ExecuteBlockFn != nil {
		return m.ExecuteBlockFn(ctx, block)
	}
	outcomes := make([]types.TxOutcome, len(block.Txs))
	for i := range outcomes {
		outcomes[i].Index = uint32(i)
	}
	return types.BlockOutcome{TxOutcomes: outcomes, AppHash: HeightHash(block.Height)}, nil
}

func (m *MockApp) Commit(ctx context.Context) (types.CommitResult, error) {
	m.record("Commit")
	if m.CommitFn != nil {
		return m.CommitFn(ctx)
	}
	return types.CommitResult{}, nil
}

func (m *MockApp) Query(ctx context.Context, req types.StateQuery) (types.StateQueryResult, error) {
	m.record("Query")
	if m.QueryFn != nil {
		return m.QueryFn(ctx, req)
	}
	return types.StateQueryResult{}, nil
}

func (m *MockApp) AvailableSnapshots(ctx context.Context) ([]types.SnapshotDescriptor, error) {
	m.record("AvailableSnapshots")
	if m.AvailableSnapshotsFn != nil {
		return m.AvailableSnapshotsFn(ctx)
	}
	return nil, nil
}

func (m *MockApp) ExportSnapshot(ctx context.Context, height uint64, format uint32) (<-chan types.SnapshotChunk, *types.SnapshotDescriptor, error) {
	m.record("ExportSnapshot")
	if m.ExportSnapshotFn != nil {
		return m.ExportSnapshotFn(ctx, height, format)
	}
	ch := make(chan types.SnapshotChunk)
	close(ch)
	return ch, &types.SnapshotDescriptor{Height: height, Format: format}, nil
}

func (m *MockApp) ImportSnapshot(ctx context.Context, desc types.SnapshotDescriptor, chunks <-chan types.SnapshotChunk) (types.ImportResult, error) {
	m.record("ImportSnapshot")
	if m.ImportSnapshotFn != nil {
		return m.ImportSnapshotFn(ctx, desc, chunks)
	}
	for range chunks {
	}
	h := HeightHash(desc.Height)
	return types.ImportResult{Status: types.ImportOK, AppHash: &h}, nil
}

func (m *MockApp) Simulate(ctx context.Context, tx types.Tx) (types.TxOutcome, error) {
	m.record("Simulate")
	if m.SimulateFn != nil {
		return m.SimulateFn(ctx, tx)
	}
	return types.TxOutcome{}, nil
}
