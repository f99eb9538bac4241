// Package devnet runs a single-node chain in front of an application
// connection. It admits transactions into a mempool through CheckTx,
// produces blocks on demand or at a fixed interval, and records a receipt
// for every transaction it executes.
package devnet

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/blockberries/cramberry/pkg/cramberry"
	"go.uber.org/zap"

	"github.com/blockberries/vault"
	"github.com/blockberries/vault/types"
)

var (
	// ErrNotStarted is returned before Start completed.
	ErrNotStarted = errors.New("devnet: engine not started")
	// ErrHalted is returned once the application requested a halt or a
	// block could not be committed.
	ErrHalted = errors.New("devnet: engine halted")
	// ErrDuplicateTx is returned when the transaction is already pending.
	ErrDuplicateTx = errors.New("devnet: transaction already in mempool")
	// ErrTxTooLarge is returned for transactions above MaxTxBytes or
	// larger than a whole block.
	ErrTxTooLarge = errors.New("devnet: transaction too large")
)

// Engine is a single-node block producer. Block production is serialized:
// at most one block is executed and committed at a time.
type Engine struct {
	conn    vault.Connection
	genesis types.GenesisDoc
	logger  *zap.Logger
	now     func() time.Time
	resume  bool

	mu       sync.Mutex
	started  bool
	halted   error
	mempool  []pendingTx
	pending  map[types.Hash]struct{}
	height   uint64
	lastHash types.Hash
	appHash  types.AppHash

	rmu      sync.Mutex
	receipts map[types.Hash]types.Receipt
	// Closed and replaced whenever receipts are added.
	notify chan struct{}
}

type pendingTx struct {
	id types.Hash
	tx types.Tx
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger. Defaults to a no-op logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithClock sets the source of block timestamps.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithResume makes Start perform a restart handshake, continuing from
// the height the application reports. Start fails if the application has
// no committed state.
func WithResume() Option {
	return func(e *Engine) { e.resume = true }
}

// New creates an engine that drives conn from genesis.
func New(conn vault.Connection, genesis types.GenesisDoc, opts ...Option) *Engine {
	e := &Engine{
		conn:     conn,
		genesis:  genesis,
		logger:   zap.NewNop(),
		now:      time.Now,
		pending:  make(map[types.Hash]struct{}),
		receipts: make(map[types.Hash]types.Receipt),
		notify:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.Named("devnet")
	return e
}

// Start performs the handshake. It must be called once before any other
// method.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.started {
		return errors.New("devnet: engine already started")
	}

	if e.resume {
		resp, err := e.conn.Handshake(ctx, types.HandshakeRequest{LastCommitted: &types.BlockID{}})
		if err != nil {
			return fmt.Errorf("devnet: restart handshake: %w", err)
		}
		if resp.LastBlock == nil || resp.AppHash == nil {
			return errors.New("devnet: application has no state to resume from")
		}
		e.height = resp.LastBlock.Height
		e.lastHash = resp.LastBlock.Hash
		e.appHash = *resp.AppHash
		e.started = true
		e.logger.Info("resumed",
			zap.Uint64("height", e.height),
			zap.String("app_hash", types.Hash(e.appHash).String()),
			zap.Stringer("capabilities", resp.Capabilities))
		return nil
	}

	genesis := e.genesis
	resp, err := e.conn.Handshake(ctx, types.HandshakeRequest{Genesis: &genesis})
	if err != nil {
		return fmt.Errorf("devnet: genesis handshake: %w", err)
	}
	if resp.AppHash != nil {
		e.appHash = *resp.AppHash
	}
	if e.genesis.InitialHeight > 1 {
		e.height = e.genesis.InitialHeight - 1
	}
	e.started = true
	e.logger.Info("genesis",
		zap.String("chain_id", e.genesis.ChainID),
		zap.String("app_hash", types.Hash(e.appHash).String()),
		zap.Stringer("capabilities", resp.Capabilities))
	return nil
}

// Submit gate-checks tx and admits it to the mempool when the
// application accepts it. A rejection is reported in the verdict, not as
// an error.
func (e *Engine) Submit(ctx context.Context, tx types.Tx) (types.GateVerdict, error) {
	if limit := e.txLimit(); limit > 0 && uint64(len(tx)) > limit {
		return types.GateVerdict{}, fmt.Errorf("%w: %d > %d bytes", ErrTxTooLarge, len(tx), limit)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.usable(); err != nil {
		return types.GateVerdict{}, err
	}

	id := tx.ID()
	if _, ok := e.pending[id]; ok {
		return types.GateVerdict{}, ErrDuplicateTx
	}
	verdict, err := e.conn.CheckTx(ctx, tx, types.MempoolFirstSeen)
	if err != nil {
		return types.GateVerdict{}, fmt.Errorf("devnet: check tx: %w", err)
	}
	if !verdict.Accepted() {
		e.logger.Debug("tx rejected",
			zap.Stringer("tx", id),
			zap.Uint32("code", verdict.Code),
			zap.String("info", verdict.Info))
		return verdict, nil
	}
	e.mempool = append(e.mempool, pendingTx{id: id, tx: tx})
	e.pending[id] = struct{}{}
	// A resubmitted tx must not be answered by the receipt of its last run.
	e.rmu.Lock()
	delete(e.receipts, id)
	e.rmu.Unlock()
	e.logger.Debug("tx admitted", zap.Stringer("tx", id), zap.String("sender", verdict.Sender), zap.Uint64("nonce", verdict.Nonce))
	return verdict, nil
}

// ProduceBlock executes and commits one block holding as many pending
// transactions as fit in MaxBlockBytes, in admission order. The block may
// be empty.
func (e *Engine) ProduceBlock(ctx context.Context) (types.FinalizedBlock, types.BlockOutcome, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.usable(); err != nil {
		return types.FinalizedBlock{}, types.BlockOutcome{}, err
	}

	included := e.selectTxs()
	txs := make([]types.Tx, len(included))
	for i, p := range included {
		txs[i] = p.tx
	}
	block := types.FinalizedBlock{
		Height:        e.height + 1,
		Time:          types.NewTimestamp(e.now()),
		Txs:           txs,
		LastBlockHash: e.lastHash,
	}

	start := time.Now()
	outcome, err := e.conn.ExecuteBlock(ctx, block)
	if err != nil {
		if h, ok := vault.IsHalt(err); ok {
			return block, outcome, e.halt(h)
		}
		// The block was not executed; its transactions stay pending.
		return block, outcome, fmt.Errorf("devnet: execute block %d: %w", block.Height, err)
	}
	if len(outcome.TxOutcomes) != len(txs) {
		return block, outcome, e.halt(fmt.Errorf("block %d: %d outcomes for %d txs",
			block.Height, len(outcome.TxOutcomes), len(txs)))
	}
	if _, err := e.conn.Commit(ctx); err != nil {
		return block, outcome, e.halt(fmt.Errorf("commit block %d: %w", block.Height, err))
	}

	blockHash, err := hashBlock(block)
	if err != nil {
		return block, outcome, e.halt(err)
	}
	e.height = block.Height
	e.lastHash = blockHash
	e.appHash = outcome.AppHash
	e.removePending(len(included))

	receipts := make([]types.Receipt, len(included))
	failed := 0
	for i, p := range included {
		receipts[i] = types.Receipt{TxID: p.id, Height: block.Height, Outcome: outcome.TxOutcomes[i]}
		if !outcome.TxOutcomes[i].OK() {
			failed++
		}
	}
	receipts = append(receipts, e.revalidate(ctx)...)
	e.publish(receipts)

	e.logger.Info("block committed",
		zap.Uint64("height", block.Height),
		zap.Int("txs", len(txs)),
		zap.Int("failed", failed),
		zap.Int("pending", len(e.mempool)),
		zap.String("app_hash", types.Hash(outcome.AppHash).String()),
		zap.Duration("took", time.Since(start)))
	return block, outcome, nil
}

// Run produces a block every interval while transactions are pending,
// until ctx is done or the engine halts.
func (e *Engine) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if e.Pending() == 0 {
				continue
			}
			if _, _, err := e.ProduceBlock(ctx); err != nil {
				if errors.Is(err, ErrHalted) {
					return err
				}
				if ctx.Err() != nil {
					return nil
				}
				e.logger.Warn("block production failed", zap.Error(err))
			}
		}
	}
}

// Receipt returns the receipt for a transaction, if one was recorded.
func (e *Engine) Receipt(id types.Hash) (types.Receipt, bool) {
	e.rmu.Lock()
	defer e.rmu.Unlock()
	r, ok := e.receipts[id]
	return r, ok
}

// WaitForReceipt blocks until a receipt for id is recorded or ctx is done.
func (e *Engine) WaitForReceipt(ctx context.Context, id types.Hash) (types.Receipt, error) {
	for {
		e.rmu.Lock()
		r, ok := e.receipts[id]
		notify := e.notify
		e.rmu.Unlock()
		if ok {
			return r, nil
		}
		select {
		case <-ctx.Done():
			return types.Receipt{}, ctx.Err()
		case <-notify:
		}
	}
}

// Query forwards a state query to the application.
func (e *Engine) Query(ctx context.Context, req types.StateQuery) (types.StateQueryResult, error) {
	e.mu.Lock()
	started := e.started
	e.mu.Unlock()
	if !started {
		return types.StateQueryResult{}, ErrNotStarted
	}
	return e.conn.Query(ctx, req)
}

// Height returns the last committed height.
func (e *Engine) Height() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.height
}

// AppHash returns the application hash after the last committed block.
func (e *Engine) AppHash() types.AppHash {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.appHash
}

// Pending returns the number of transactions waiting in the mempool.
func (e *Engine) Pending() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.mempool)
}

// Halted returns the reason the engine halted, or nil.
func (e *Engine) Halted() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.halted
}

// usable must be called with e.mu held.
func (e *Engine) usable() error {
	if !e.started {
		return ErrNotStarted
	}
	return e.halted
}

// halt must be called with e.mu held.
func (e *Engine) halt(cause error) error {
	e.halted = fmt.Errorf("%w: %v", ErrHalted, cause)
	e.logger.Error("halted", zap.Uint64("height", e.height), zap.Error(cause))
	return e.halted
}

// selectTxs must be called with e.mu held.
func (e *Engine) selectTxs() []pendingTx {
	limit := e.genesis.ConsensusParams.MaxBlockBytes
	var size uint64
	n := 0
	for _, p := range e.mempool {
		if limit > 0 && size+uint64(len(p.tx)) > limit {
			break
		}
		size += uint64(len(p.tx))
		n++
	}
	return e.mempool[:n:n]
}

// txLimit is the largest transaction that can ever be included: a tx
// larger than a whole block would sit at the head of the mempool forever.
func (e *Engine) txLimit() uint64 {
	p := e.genesis.ConsensusParams
	switch {
	case p.MaxTxBytes == 0:
		return p.MaxBlockBytes
	case p.MaxBlockBytes == 0:
		return p.MaxTxBytes
	}
	return min(p.MaxTxBytes, p.MaxBlockBytes)
}

// removePending must be called with e.mu held.
func (e *Engine) removePending(n int) {
	for _, p := range e.mempool[:n] {
		delete(e.pending, p.id)
	}
	e.mempool = append([]pendingTx(nil), e.mempool[n:]...)
}

// revalidate re-checks the remaining mempool against the new state and
// evicts what the application no longer accepts. Evicted transactions
// get a receipt at height 0 carrying the rejection. Must be called with
// e.mu held.
func (e *Engine) revalidate(ctx context.Context) []types.Receipt {
	var (
		kept    = e.mempool[:0]
		evicted []types.Receipt
	)
	for _, p := range e.mempool {
		verdict, err := e.conn.CheckTx(ctx, p.tx, types.MempoolRevalidation)
		if err != nil {
			e.logger.Warn("revalidation failed", zap.Stringer("tx", p.id), zap.Error(err))
			kept = append(kept, p)
			continue
		}
		if verdict.Accepted() {
			kept = append(kept, p)
			continue
		}
		delete(e.pending, p.id)
		evicted = append(evicted, types.Receipt{
			TxID:    p.id,
			Outcome: types.TxOutcome{Code: verdict.Code, Info: verdict.Info},
		})
		e.logger.Debug("tx evicted", zap.Stringer("tx", p.id), zap.Uint32("code", verdict.Code))
	}
	e.mempool = kept
	return evicted
}

func (e *Engine) publish(receipts []types.Receipt) {
	if len(receipts) == 0 {
		return
	}
	e.rmu.Lock()
	defer e.rmu.Unlock()
	for _, r := range receipts {
		e.receipts[r.TxID] = r
	}
	close(e.notify)
	e.notify = make(chan struct{})
}

func hashBlock(b types.FinalizedBlock) (types.Hash, error) {
	data, err := cramberry.Marshal(b)
	if err != nil {
		return types.Hash{}, fmt.Errorf("marshal block: %w", err)
	}
	return types.HashBytes(data), nil
}
