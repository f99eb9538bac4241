package server

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/blockberries/vault"
	"github.com/blockberries/vault/types"
)

var (
	// ErrStateSyncUnsupported is returned by the snapshot methods when
	// the application does not implement vault.StateSync.
	ErrStateSyncUnsupported = errors.New("vault: StateSync not supported")
	// ErrSimulationUnsupported is returned by Simulate when the
	// application does not implement vault.Simulator.
	ErrSimulationUnsupported = errors.New("vault: Simulator not supported")
)

// Server wraps an application with lifecycle enforcement and
// capability routing. The engine interacts with the application
// exclusively through this server.
type Server struct {
	app    vault.Lifecycle
	guard  *LifecycleGuard
	caps   types.Capabilities
	logger *zap.Logger

	// Optional interfaces (nil if not supported).
	stateSync vault.StateSync
	simulator vault.Simulator

	// Last block outcome (held between ExecuteBlock and Commit).
	mu             sync.Mutex
	lastOutcome    *types.BlockOutcome
	lastExecHeight uint64
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger used for capability warnings.
func WithLogger(l *zap.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// New creates a new Server wrapping the given application.
func New(app vault.Lifecycle, opts ...Option) *Server {
	s := &Server{
		app:    app,
		guard:  NewLifecycleGuard(),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	// Pre-discover optional interfaces (validated after handshake).
	s.stateSync, _ = app.(vault.StateSync)
	s.simulator, _ = app.(vault.Simulator)
	return s
}

// Handshake performs the startup handshake, validates capability
// declarations, and transitions the state machine to Ready.
func (s *Server) Handshake(ctx context.Context, req types.HandshakeRequest) (types.HandshakeResponse, error) {
	finish := s.guard.BeginHandshake()

	resp, err := s.app.Handshake(ctx, req)
	if err == nil {
		err = s.discoverCapabilities(resp.Capabilities)
	}
	if err != nil {
		finish(false)
		return resp, err
	}

	s.caps = resp.Capabilities
	finish(true)
	return resp, nil
}

// CheckTx gate-checks a transaction for mempool admission.
// Safe for concurrent use.
func (s *Server) CheckTx(ctx context.Context, tx types.Tx, mctx types.MempoolContext) (types.GateVerdict, error) {
	s.guard.CheckConcurrent()
	return s.app.CheckTx(ctx, tx, mctx)
}

// ExecuteBlock deterministically executes a finalized block.
func (s *Server) ExecuteBlock(ctx context.Context, block types.FinalizedBlock) (types.BlockOutcome, error) {
	finish := s.guard.BeginExecute()

	outcome, err := s.app.ExecuteBlock(ctx, block)
	if err != nil {
		finish(false)
		return outcome, err
	}

	s.mu.Lock()
	s.lastOutcome = &outcome
	s.lastExecHeight = block.Height
	s.mu.Unlock()

	finish(true)
	return outcome, nil
}

// Commit persists state changes from the last ExecuteBlock.
func (s *Server) Commit(ctx context.Context) (types.CommitResult, error) {
	defer s.guard.BeginCommit()()

	result, err := s.app.Commit(ctx)

	s.mu.Lock()
	s.lastOutcome = nil
	s.mu.Unlock()
	return result, err
}

// Query reads application state. Safe for concurrent use.
func (s *Server) Query(ctx context.Context, req types.StateQuery) (types.StateQueryResult, error) {
	s.guard.CheckConcurrent()
	return s.app.Query(ctx, req)
}

// Capabilities returns the application's declared capabilities.
// Only valid after Handshake completes.
func (s *Server) Capabilities() types.Capabilities {
	return s.caps
}

// AvailableSnapshots delegates to StateSync if supported.
func (s *Server) AvailableSnapshots(ctx context.Context) ([]types.SnapshotDescriptor, error) {
	if s.stateSync == nil {
		return nil, ErrStateSyncUnsupported
	}
	return s.stateSync.AvailableSnapshots(ctx)
}

// ExportSnapshot delegates to StateSync if supported.
func (s *Server) ExportSnapshot(ctx context.Context, height uint64, format uint32) (<-chan types.SnapshotChunk, *types.SnapshotDescriptor, error) {
	if s.stateSync == nil {
		return nil, nil, ErrStateSyncUnsupported
	}
	return s.stateSync.ExportSnapshot(ctx, height, format)
}

// ImportSnapshot delegates to StateSync if supported.
func (s *Server) ImportSnapshot(ctx context.Context, desc types.SnapshotDescriptor, chunks <-chan types.SnapshotChunk) (types.ImportResult, error) {
	if s.stateSync == nil {
		return types.ImportResult{}, ErrStateSyncUnsupported
	}
	return s.stateSync.ImportSnapshot(ctx, desc, chunks)
}

// Simulate delegates to Simulator if supported.
// Safe for concurrent use.
func (s *Server) Simulate(ctx context.Context, tx types.Tx) (types.TxOutcome, error) {
	if s.simulator == nil {
		return types.TxOutcome{}, ErrSimulationUnsupported
	}
	s.guard.CheckConcurrent()
	return s.simulator.Simulate(ctx, tx)
}

// AsStateSync returns the StateSync interface or nil.
func (s *Server) AsStateSync() vault.StateSync {
	if s.caps.Has(types.CapStateSync) {
		return s.stateSync
	}
	return nil
}

// AsSimulator returns the Simulator interface or nil.
func (s *Server) AsSimulator() vault.Simulator {
	if s.caps.Has(types.CapSimulation) {
		return s.simulator
	}
	return nil
}

// LastOutcome returns the most recent BlockOutcome (between
// ExecuteBlock and Commit). Returns nil if no outcome is pending.
func (s *Server) LastOutcome() *types.BlockOutcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastOutcome
}

// Close is a no-op for the server wrapper.
func (s *Server) Close() error { return nil }

// discoverCapabilities checks which optional interfaces the app
// implements and verifies consistency with declared capabilities.
func (s *Server) discoverCapabilities(declared types.Capabilities) error {
	hasStateSync := s.stateSync != nil
	hasSimulator := s.simulator != nil

	if declared.Has(types.CapStateSync) && !hasStateSync {
		return errors.New("vault: app declared CapStateSync but does not implement StateSync")
	}
	if declared.Has(types.CapSimulation) && !hasSimulator {
		return errors.New("vault: app declared CapSimulation but does not implement Simulator")
	}

	// Warn (but don't error) if the app implements an interface but didn't declare it.
	if !declared.Has(types.CapStateSync) && hasStateSync {
		s.logger.Warn("app implements StateSync but did not declare it; capability will not be used")
	}
	if !declared.Has(types.CapSimulation) && hasSimulator {
		s.logger.Warn("app implements Simulator but did not declare it; capability will not be used")
	}
	return nil
}
