package devnet_test

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/blockberries/vault"
	"github.com/blockberries/vault/app"
	"github.com/blockberries/vault/devnet"
	"github.com/blockberries/vault/ledger"
	"github.com/blockberries/vault/local"
	"github.com/blockberries/vault/program"
	vaulttest "github.com/blockberries/vault/testing"
	"github.com/blockberries/vault/types"
)

type signer struct {
	key      ed25519.PrivateKey
	identity types.Pubkey
	nonce    uint64
}

func newSigner(t *testing.T) *signer {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	return &signer{key: priv, identity: types.PubkeyFromPublicKey(pub)}
}

func (s *signer) tx(t *testing.T, ix types.Instruction) types.Tx {
	t.Helper()
	txn, err := types.NewTransaction(s.key, s.nonce, ix)
	require.NoError(t, err)
	tx, err := txn.Encode()
	require.NoError(t, err)
	s.nonce++
	return tx
}

func (s *signer) initialize(t *testing.T) types.Tx {
	t.Helper()
	ix, err := program.NewInitializeInstruction(program.DefaultProgramID, s.identity)
	require.NoError(t, err)
	return s.tx(t, ix)
}

func (s *signer) deposit(t *testing.T, amount uint64) types.Tx {
	t.Helper()
	ix, err := program.NewDepositInstruction(program.DefaultProgramID, s.identity, amount)
	require.NoError(t, err)
	return s.tx(t, ix)
}

func vaultEngine(t *testing.T, funded ...*signer) *devnet.Engine {
	t.Helper()
	return vaultEngineWith(t, vaulttest.DefaultGenesis(), funded...)
}

func vaultEngineWith(t *testing.T, doc types.GenesisDoc, funded ...*signer) *devnet.Engine {
	t.Helper()
	g := app.Genesis{}
	for _, s := range funded {
		g.Accounts = append(g.Accounts, app.GenesisAccount{Address: s.identity, Lamports: 10_000_000_000})
	}
	state, err := g.Encode()
	require.NoError(t, err)

	doc.AppState = state
	e := devnet.New(local.NewConnection(app.New()), doc, devnet.WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, e.Start(context.Background()))
	return e
}

func balance(t *testing.T, e *devnet.Engine, addr types.Pubkey) uint64 {
	t.Helper()
	res, err := e.Query(context.Background(), types.StateQuery{Path: app.PathBalance, Data: addr.Bytes()})
	require.NoError(t, err)
	require.True(t, res.OK(), res.Info)
	return binary.BigEndian.Uint64(res.Value)
}

func TestEngine_InitializeAndDeposit(t *testing.T) {
	ctx := context.Background()
	alice := newSigner(t)
	e := vaultEngine(t, alice)

	initTx := alice.initialize(t)
	v, err := e.Submit(ctx, initTx)
	require.NoError(t, err)
	require.True(t, v.Accepted(), v.Info)
	require.Equal(t, alice.identity.String(), v.Sender)

	depositTx := alice.deposit(t, 1_000_000_000)
	v, err = e.Submit(ctx, depositTx)
	require.NoError(t, err)
	require.True(t, v.Accepted(), v.Info)
	require.Equal(t, 2, e.Pending())

	block, outcome, err := e.ProduceBlock(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(1), block.Height)
	require.Len(t, outcome.TxOutcomes, 2)
	require.Equal(t, uint64(1), e.Height())
	require.Equal(t, outcome.AppHash, e.AppHash())
	require.Zero(t, e.Pending())

	for _, tx := range []types.Tx{initTx, depositTx} {
		r, ok := e.Receipt(tx.ID())
		require.True(t, ok)
		require.Equal(t, uint64(1), r.Height)
		require.True(t, r.Outcome.OK(), r.Outcome.Info)
	}

	addrs, err := program.Derive(program.DefaultProgramID, alice.identity)
	require.NoError(t, err)
	require.Equal(t, ledger.MinimumBalance(0)+1_000_000_000, balance(t, e, addrs.Vault))
}

func TestEngine_FailedTxGetsReceipt(t *testing.T) {
	ctx := context.Background()
	alice := newSigner(t)
	e := vaultEngine(t, alice)

	tx := alice.deposit(t, 5)
	_, err := e.Submit(ctx, tx)
	require.NoError(t, err)
	_, _, err = e.ProduceBlock(ctx)
	require.NoError(t, err)

	r, err := e.WaitForReceipt(ctx, tx.ID())
	require.NoError(t, err)
	require.Equal(t, vault.CodeVaultNotInitialized, r.Outcome.Code)
}

func TestEngine_SubmitRejected(t *testing.T) {
	ctx := context.Background()
	e := vaultEngine(t)

	v, err := e.Submit(ctx, types.Tx{})
	require.NoError(t, err)
	require.False(t, v.Accepted())
	require.Equal(t, vault.CodeInvalidTransaction, v.Code)
	require.Zero(t, e.Pending())
}

func TestEngine_SubmitDuplicate(t *testing.T) {
	ctx := context.Background()
	alice := newSigner(t)
	e := vaultEngine(t, alice)

	tx := alice.initialize(t)
	_, err := e.Submit(ctx, tx)
	require.NoError(t, err)
	_, err = e.Submit(ctx, tx)
	require.ErrorIs(t, err, devnet.ErrDuplicateTx)
}

func TestEngine_SubmitTooLarge(t *testing.T) {
	doc := vaulttest.DefaultGenesis()
	doc.ConsensusParams.MaxTxBytes = 4
	e := devnet.New(local.NewConnection(&vaulttest.MockApp{}), doc)
	require.NoError(t, e.Start(context.Background()))

	_, err := e.Submit(context.Background(), types.Tx{1, 2, 3, 4, 5})
	require.ErrorIs(t, err, devnet.ErrTxTooLarge)
}

func TestEngine_SubmitLargerThanBlock(t *testing.T) {
	doc := vaulttest.DefaultGenesis()
	doc.ConsensusParams.MaxTxBytes = 0
	doc.ConsensusParams.MaxBlockBytes = 4
	e := devnet.New(local.NewConnection(&vaulttest.MockApp{}), doc)
	require.NoError(t, e.Start(context.Background()))

	_, err := e.Submit(context.Background(), types.Tx{1, 2, 3, 4, 5})
	require.ErrorIs(t, err, devnet.ErrTxTooLarge)
	require.Zero(t, e.Pending())

	_, err = e.Submit(context.Background(), types.Tx{1, 2, 3, 4})
	require.NoError(t, err)
	block, _, err := e.ProduceBlock(context.Background())
	require.NoError(t, err)
	require.Len(t, block.Txs, 1)
}

func TestEngine_ResubmitClearsOldReceipt(t *testing.T) {
	ctx := context.Background()
	alice := newSigner(t)
	e := vaultEngine(t, alice)

	// Fails without using up the nonce, so the same bytes are admissible again.
	tx := alice.deposit(t, 5)
	_, err := e.Submit(ctx, tx)
	require.NoError(t, err)
	_, _, err = e.ProduceBlock(ctx)
	require.NoError(t, err)
	first, ok := e.Receipt(tx.ID())
	require.True(t, ok)
	require.Equal(t, uint64(1), first.Height)

	v, err := e.Submit(ctx, tx)
	require.NoError(t, err)
	require.True(t, v.Accepted(), v.Info)
	_, ok = e.Receipt(tx.ID())
	require.False(t, ok, "old receipt must be dropped on resubmission")

	_, _, err = e.ProduceBlock(ctx)
	require.NoError(t, err)
	second, err := e.WaitForReceipt(ctx, tx.ID())
	require.NoError(t, err)
	require.Equal(t, uint64(2), second.Height)
}

func TestEngine_NotStarted(t *testing.T) {
	e := devnet.New(local.NewConnection(&vaulttest.MockApp{}), vaulttest.DefaultGenesis())

	_, err := e.Submit(context.Background(), types.Tx{1})
	require.ErrorIs(t, err, devnet.ErrNotStarted)
	_, _, err = e.ProduceBlock(context.Background())
	require.ErrorIs(t, err, devnet.ErrNotStarted)
	_, err = e.Query(context.Background(), types.StateQuery{})
	require.ErrorIs(t, err, devnet.ErrNotStarted)
}

func TestEngine_BlockSizeLimit(t *testing.T) {
	doc := vaulttest.DefaultGenesis()
	doc.ConsensusParams.MaxBlockBytes = 8
	mock := &vaulttest.MockApp{}
	e := devnet.New(local.NewConnection(mock), doc)
	require.NoError(t, e.Start(context.Background()))

	for i := byte(0); i < 3; i++ {
		_, err := e.Submit(context.Background(), types.Tx{i, 0, 0, 0})
		require.NoError(t, err)
	}

	block, _, err := e.ProduceBlock(context.Background())
	require.NoError(t, err)
	require.Len(t, block.Txs, 2)
	require.Equal(t, 1, e.Pending())

	block, _, err = e.ProduceBlock(context.Background())
	require.NoError(t, err)
	require.Len(t, block.Txs, 1)
	require.Equal(t, types.Tx{2, 0, 0, 0}, block.Txs[0])
}

func TestEngine_BlocksChain(t *testing.T) {
	e := devnet.New(local.NewConnection(&vaulttest.MockApp{}), vaulttest.DefaultGenesis())
	require.NoError(t, e.Start(context.Background()))

	first, _, err := e.ProduceBlock(context.Background())
	require.NoError(t, err)
	second, _, err := e.ProduceBlock(context.Background())
	require.NoError(t, err)

	require.Equal(t, uint64(1), first.Height)
	require.Equal(t, uint64(2), second.Height)
	require.Equal(t, types.Hash{}, first.LastBlockHash)
	require.NotEqual(t, types.Hash{}, second.LastBlockHash)
}

func TestEngine_ExecuteErrorKeepsTxs(t *testing.T) {
	calls := 0
	mock := &vaulttest.MockApp{
		ExecuteBlockFn: func(_ context.Context, b types.FinalizedBlock) (types.BlockOutcome, error) {
			calls++
			if calls == 1 {
				return types.BlockOutcome{}, errors.New("transient")
			}
			return types.BlockOutcome{TxOutcomes: make([]types.TxOutcome, len(b.Txs))}, nil
		},
	}
	e := devnet.New(local.NewConnection(mock), vaulttest.DefaultGenesis())
	require.NoError(t, e.Start(context.Background()))
	_, err := e.Submit(context.Background(), types.Tx{1})
	require.NoError(t, err)

	_, _, err = e.ProduceBlock(context.Background())
	require.Error(t, err)
	require.NotErrorIs(t, err, devnet.ErrHalted)
	require.Equal(t, 1, e.Pending())
	require.Zero(t, e.Height())

	block, _, err := e.ProduceBlock(context.Background())
	require.NoError(t, err)
	require.Equal(t, uint64(1), block.Height)
	require.Len(t, block.Txs, 1)
}

func TestEngine_HaltOnCommitFailure(t *testing.T) {
	mock := &vaulttest.MockApp{
		CommitFn: func(context.Context) (types.CommitResult, error) {
			return types.CommitResult{}, vault.NewHaltError(1, "disk gone")
		},
	}
	e := devnet.New(local.NewConnection(mock), vaulttest.DefaultGenesis())
	require.NoError(t, e.Start(context.Background()))

	_, _, err := e.ProduceBlock(context.Background())
	require.ErrorIs(t, err, devnet.ErrHalted)
	require.ErrorIs(t, e.Halted(), devnet.ErrHalted)

	_, err = e.Submit(context.Background(), types.Tx{1})
	require.ErrorIs(t, err, devnet.ErrHalted)
}

func TestEngine_HaltOnExecuteHaltError(t *testing.T) {
	mock := &vaulttest.MockApp{
		ExecuteBlockFn: func(context.Context, types.FinalizedBlock) (types.BlockOutcome, error) {
			return types.BlockOutcome{}, vault.NewHaltError(1, "corrupt state")
		},
	}
	e := devnet.New(local.NewConnection(mock), vaulttest.DefaultGenesis())
	require.NoError(t, e.Start(context.Background()))

	_, _, err := e.ProduceBlock(context.Background())
	require.ErrorIs(t, err, devnet.ErrHalted)
	require.Equal(t, 0, int(e.Height()))
}

func TestEngine_StaleNonceRejectedAtGate(t *testing.T) {
	ctx := context.Background()
	alice := newSigner(t)
	e := vaultEngine(t, alice)

	_, err := e.Submit(ctx, alice.initialize(t))
	require.NoError(t, err)
	_, _, err = e.ProduceBlock(ctx)
	require.NoError(t, err)

	alice.nonce = 0
	v, err := e.Submit(ctx, alice.deposit(t, 10))
	require.NoError(t, err)
	require.Equal(t, vault.CodeBadNonce, v.Code)
}

func TestEngine_RevalidationEvicts(t *testing.T) {
	ctx := context.Background()
	alice := newSigner(t)

	initTx := alice.initialize(t)
	alice.nonce = 0
	conflicting := alice.deposit(t, 10)

	// Each tx fits a block on its own but not together, so the
	// conflicting deposit stays pending and is re-checked after the block.
	doc := vaulttest.DefaultGenesis()
	doc.ConsensusParams.MaxBlockBytes = uint64(len(initTx) + len(conflicting) - 1)
	e := vaultEngineWith(t, doc, alice)

	for _, tx := range []types.Tx{initTx, conflicting} {
		v, err := e.Submit(ctx, tx)
		require.NoError(t, err)
		require.True(t, v.Accepted(), v.Info)
	}

	block, _, err := e.ProduceBlock(ctx)
	require.NoError(t, err)
	require.Len(t, block.Txs, 1)
	require.Zero(t, e.Pending())

	r, ok := e.Receipt(conflicting.ID())
	require.True(t, ok)
	require.Zero(t, r.Height)
	require.Equal(t, vault.CodeBadNonce, r.Outcome.Code)
}

func TestEngine_WaitForReceiptTimeout(t *testing.T) {
	e := devnet.New(local.NewConnection(&vaulttest.MockApp{}), vaulttest.DefaultGenesis())
	require.NoError(t, e.Start(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := e.WaitForReceipt(ctx, types.HashBytes([]byte("missing")))
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestEngine_Run(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	alice := newSigner(t)
	e := vaultEngine(t, alice)

	done := make(chan error, 1)
	go func() { done <- e.Run(ctx, 5*time.Millisecond) }()

	tx := alice.initialize(t)
	_, err := e.Submit(ctx, tx)
	require.NoError(t, err)

	waitCtx, waitCancel := context.WithTimeout(ctx, 5*time.Second)
	defer waitCancel()
	r, err := e.WaitForReceipt(waitCtx, tx.ID())
	require.NoError(t, err)
	require.True(t, r.Outcome.OK(), r.Outcome.Info)

	cancel()
	require.NoError(t, <-done)
}

func TestEngine_Resume(t *testing.T) {
	mock := &vaulttest.MockApp{
		HandshakeFn: func(_ context.Context, req types.HandshakeRequest) (types.HandshakeResponse, error) {
			require.NotNil(t, req.LastCommitted)
			h := types.AppHash{0x07}
			return types.HandshakeResponse{LastBlock: &types.BlockID{Height: 41}, AppHash: &h}, nil
		},
	}
	e := devnet.New(local.NewConnection(mock), vaulttest.DefaultGenesis(), devnet.WithResume())
	require.NoError(t, e.Start(context.Background()))
	require.Equal(t, uint64(41), e.Height())

	block, _, err := e.ProduceBlock(context.Background())
	require.NoError(t, err)
	require.Equal(t, uint64(42), block.Height)
}

func TestEngine_ResumeWithoutState(t *testing.T) {
	e := devnet.New(local.NewConnection(&vaulttest.MockApp{}), vaulttest.DefaultGenesis(), devnet.WithResume())
	require.Error(t, e.Start(context.Background()))
}
