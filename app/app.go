// Package app hosts the vault program as a block application. It decodes
// and authenticates transactions, enforces signer nonces, executes each
// transaction in its own ledger batch, and persists committed state.
package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/blockberries/vault"
	"github.com/blockberries/vault/ledger"
	"github.com/blockberries/vault/program"
	"github.com/blockberries/vault/store"
	"github.com/blockberries/vault/types"
)

// Compile-time interface checks.
var (
	_ vault.Lifecycle = (*App)(nil)
	_ vault.StateSync = (*App)(nil)
	_ vault.Simulator = (*App)(nil)
)

const capabilities = types.CapStateSync | types.CapSimulation

// App is the vault application.
type App struct {
	program *program.Program
	store   store.Store
	metrics *Metrics
	logger  *zap.Logger

	mu         sync.RWMutex
	current    *ledger.Ledger
	height     uint64
	appHash    types.AppHash
	maxTxBytes uint64

	// Set by ExecuteBlock, consumed by Commit.
	staged *stagedBlock
}

type stagedBlock struct {
	ledger   *ledger.Ledger
	height   uint64
	appHash  types.AppHash
	outcomes []types.TxOutcome
}

// Option configures an App.
type Option func(*App)

// WithLogger sets the logger. Defaults to a no-op logger.
func WithLogger(l *zap.Logger) Option {
	return func(a *App) { a.logger = l }
}

// WithStore persists committed state to s and restores it on restart.
func WithStore(s store.Store) Option {
	return func(a *App) { a.store = s }
}

// WithMetrics records execution metrics.
func WithMetrics(m *Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithProgramID deploys the vault program at id instead of
// program.DefaultProgramID.
func WithProgramID(id types.Pubkey) Option {
	return func(a *App) { a.program = program.New(id) }
}

// New creates an application with an empty ledger.
func New(opts ...Option) *App {
	a := &App{
		program: program.New(program.DefaultProgramID),
		logger:  zap.NewNop(),
		current: ledger.New(),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.logger = a.logger.Named("app")
	return a
}

// ProgramID returns the address the vault program is deployed at.
func (a *App) ProgramID() types.Pubkey { return a.program.ID() }

func (a *App) Handshake(ctx context.Context, req types.HandshakeRequest) (types.HandshakeResponse, error) {
	if req.LastCommitted == nil {
		return a.genesis(ctx, req.Genesis)
	}
	return a.restart(ctx, *req.LastCommitted)
}

func (a *App) genesis(ctx context.Context, doc *types.GenesisDoc) (types.HandshakeResponse, error) {
	if doc == nil {
		return types.HandshakeResponse{}, errors.New("genesis handshake without a genesis document")
	}
	g, err := ParseGenesis(doc.AppState)
	if err != nil {
		return types.HandshakeResponse{}, err
	}
	l := g.Ledger()
	h, err := l.Hash()
	if err != nil {
		return types.HandshakeResponse{}, err
	}

	if a.store != nil {
		prev, err := a.store.Load(ctx)
		switch {
		case err == nil:
			return types.HandshakeResponse{}, fmt.Errorf("genesis requested but store holds state at height %d", prev.Height)
		case !errors.Is(err, store.ErrEmpty):
			return types.HandshakeResponse{}, fmt.Errorf("load store: %w", err)
		}
		if err := a.store.Replace(ctx, 0, h, l.Accounts()); err != nil {
			return types.HandshakeResponse{}, fmt.Errorf("persist genesis: %w", err)
		}
	}

	a.mu.Lock()
	a.current = l
	a.height = 0
	a.appHash = h
	a.maxTxBytes = doc.ConsensusParams.MaxTxBytes
	a.mu.Unlock()

	a.metrics.observeCommit(0, l.Len(), nil)
	a.logger.Info("genesis",
		zap.String("chain_id", doc.ChainID),
		zap.Int("accounts", len(g.Accounts)),
		zap.String("app_hash", types.Hash(h).String()),
		zap.String("program_id", a.program.ID().String()))

	return types.HandshakeResponse{AppHash: &h, Capabilities: capabilities}, nil
}

func (a *App) restart(ctx context.Context, last types.BlockID) (types.HandshakeResponse, error) {
	if a.store != nil {
		c, err := a.store.Load(ctx)
		switch {
		case errors.Is(err, store.ErrEmpty):
			a.logger.Warn("restart requested but store is empty", zap.Uint64("engine_height", last.Height))
			return types.HandshakeResponse{Capabilities: capabilities}, nil
		case err != nil:
			return types.HandshakeResponse{}, fmt.Errorf("load store: %w", err)
		}
		l := ledger.FromAccounts(c.Accounts)
		h, err := l.Hash()
		if err != nil {
			return types.HandshakeResponse{}, err
		}
		if h != c.AppHash {
			return types.HandshakeResponse{}, vault.NewHaltError(c.Height,
				fmt.Sprintf("stored app hash %s does not match recomputed %s", types.Hash(c.AppHash), types.Hash(h)))
		}
		a.mu.Lock()
		a.current = l
		a.height = c.Height
		a.appHash = h
		a.mu.Unlock()
		a.metrics.observeCommit(c.Height, l.Len(), nil)
		a.logger.Info("restored state",
			zap.Uint64("height", c.Height),
			zap.Uint64("engine_height", last.Height),
			zap.Int("accounts", l.Len()))
	}

	a.mu.RLock()
	defer a.mu.RUnlock()
	h := a.appHash
	return types.HandshakeResponse{
		LastBlock:    &types.BlockID{Height: a.height},
		AppHash:      &h,
		Capabilities: capabilities,
	}, nil
}

func (a *App) CheckTx(_ context.Context, tx types.Tx, _ types.MempoolContext) (types.GateVerdict, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	txn, err := a.decode(tx)
	if err == nil {
		err = a.checkAdmission(txn)
	}
	if err != nil {
		return types.GateVerdict{Code: vault.Code(err), Info: err.Error()}, nil
	}
	return types.GateVerdict{Sender: txn.Message.Signer.String(), Nonce: txn.Message.Nonce}, nil
}

// checkAdmission is the stateless part of execution plus a nonce check
// that still admits transactions queued behind others from the same
// signer.
func (a *App) checkAdmission(txn types.Transaction) error {
	if err := txn.Verify(); err != nil {
		return fmt.Errorf("%w: %v", vault.ErrUnauthorized, err)
	}
	acct, _ := a.current.Get(txn.Message.Signer)
	if txn.Message.Nonce < acct.Nonce {
		return fmt.Errorf("%w: nonce %d already used (next %d)", vault.ErrBadNonce, txn.Message.Nonce, acct.Nonce)
	}
	if txn.Message.Instruction.ProgramID != a.program.ID() {
		return fmt.Errorf("%w: %s", vault.ErrUnknownProgram, txn.Message.Instruction.ProgramID)
	}
	return nil
}

func (a *App) ExecuteBlock(_ context.Context, block types.FinalizedBlock) (types.BlockOutcome, error) {
	start := time.Now()

	a.mu.RLock()
	l := a.current.Clone()
	a.mu.RUnlock()

	outcomes := make([]types.TxOutcome, len(block.Txs))
	for i, tx := range block.Txs {
		outcomes[i] = a.executeTx(l, uint32(i), tx)
	}

	h, err := l.Hash()
	if err != nil {
		return types.BlockOutcome{}, fmt.Errorf("hash state at height %d: %w", block.Height, err)
	}
	a.staged = &stagedBlock{
		ledger:   l,
		height:   block.Height,
		appHash:  h,
		outcomes: outcomes,
	}
	if a.metrics != nil {
		a.metrics.BlockExecution.Observe(time.Since(start).Seconds())
	}

	return types.BlockOutcome{TxOutcomes: outcomes, AppHash: h}, nil
}

func (a *App) Commit(ctx context.Context) (types.CommitResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	s := a.staged
	if s == nil {
		return types.CommitResult{}, errors.New("commit without an executed block")
	}
	if a.store != nil {
		if err := a.store.Save(ctx, s.height, s.appHash, s.ledger.Dirty()); err != nil {
			return types.CommitResult{}, vault.NewHaltError(s.height, fmt.Sprintf("persist state: %v", err))
		}
	}
	s.ledger.ClearDirty()

	a.current = s.ledger
	a.height = s.height
	a.appHash = s.appHash
	a.staged = nil

	a.metrics.observeCommit(s.height, s.ledger.Len(), s.outcomes)
	a.logger.Debug("committed",
		zap.Uint64("height", s.height),
		zap.Int("txs", len(s.outcomes)),
		zap.String("app_hash", types.Hash(s.appHash).String()))

	return types.CommitResult{}, nil
}

func (a *App) Simulate(_ context.Context, tx types.Tx) (types.TxOutcome, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	txn, err := a.decode(tx)
	if err != nil {
		return failed(0, err), nil
	}
	_, events, err := a.apply(a.current, txn)
	if err != nil {
		return failed(0, err), nil
	}
	return types.TxOutcome{Events: events}, nil
}

// executeTx runs one transaction against l, applying its writes only if
// every step succeeds.
func (a *App) executeTx(l *ledger.Ledger, index uint32, tx types.Tx) types.TxOutcome {
	txn, err := a.decode(tx)
	if err != nil {
		return failed(index, err)
	}
	b, events, err := a.apply(l, txn)
	if err != nil {
		a.logger.Debug("tx failed",
			zap.Uint32("index", index),
			zap.Stringer("signer", txn.Message.Signer),
			zap.Error(err))
		return failed(index, err)
	}
	b.Write()
	return types.TxOutcome{Index: index, Events: events}
}

// apply authenticates txn and runs its instruction in a new batch over
// l. The caller decides whether to write the batch.
func (a *App) apply(l *ledger.Ledger, txn types.Transaction) (*ledger.Batch, []types.Event, error) {
	msg := txn.Message
	if err := txn.Verify(); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", vault.ErrUnauthorized, err)
	}

	b := ledger.NewBatch(l)
	signer, _ := b.Get(msg.Signer)
	if msg.Nonce != signer.Nonce {
		return nil, nil, fmt.Errorf("%w: got %d, want %d", vault.ErrBadNonce, msg.Nonce, signer.Nonce)
	}
	if msg.Instruction.ProgramID != a.program.ID() {
		return nil, nil, fmt.Errorf("%w: %s", vault.ErrUnknownProgram, msg.Instruction.ProgramID)
	}

	events, err := a.program.Execute(b, msg.Signer, msg.Instruction)
	if err != nil {
		return nil, nil, err
	}

	signer, _ = b.Get(msg.Signer)
	signer.Nonce++
	b.Set(msg.Signer, signer)
	return b, events, nil
}

func (a *App) decode(tx types.Tx) (types.Transaction, error) {
	if a.maxTxBytes > 0 && uint64(len(tx)) > a.maxTxBytes {
		return types.Transaction{}, fmt.Errorf("%w: %d bytes exceeds limit %d", vault.ErrInvalidTransaction, len(tx), a.maxTxBytes)
	}
	txn, err := types.DecodeTransaction(tx)
	if err != nil {
		return txn, fmt.Errorf("%w: %v", vault.ErrInvalidTransaction, err)
	}
	return txn, nil
}

func failed(index uint32, err error) types.TxOutcome {
	return types.TxOutcome{Index: index, Code: vault.Code(err), Info: err.Error()}
}
