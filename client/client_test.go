package client_test

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/blockberries/vault"
	"github.com/blockberries/vault/app"
	"github.com/blockberries/vault/client"
	"github.com/blockberries/vault/devnet"
	vaultgrpc "github.com/blockberries/vault/grpc"
	"github.com/blockberries/vault/ledger"
	"github.com/blockberries/vault/local"
	vaulttest "github.com/blockberries/vault/testing"
	"github.com/blockberries/vault/types"
)

const (
	funding  = 10_000_000_000
	solLamps = 1_000_000_000
)

func newKey(t *testing.T) (ed25519.PrivateKey, types.Pubkey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	return priv, types.PubkeyFromPublicKey(pub)
}

// runEngine starts a devnet producing blocks every few milliseconds
// until the test ends.
func runEngine(t *testing.T, funded ...types.Pubkey) *devnet.Engine {
	t.Helper()
	g := app.Genesis{}
	for _, id := range funded {
		g.Accounts = append(g.Accounts, app.GenesisAccount{Address: id, Lamports: funding})
	}
	state, err := g.Encode()
	require.NoError(t, err)
	doc := vaulttest.DefaultGenesis()
	doc.AppState = state

	e := devnet.New(local.NewConnection(app.New()), doc, devnet.WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, e.Start(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx, 2*time.Millisecond) }()
	t.Cleanup(func() {
		cancel()
		require.NoError(t, <-done)
	})
	return e
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// The vault lifecycle as a user drives it: initialize, inspect the
// bumps, deposit one SOL and compare balances.
func checkInitializeAndDeposit(t *testing.T, c *client.Client, key ed25519.PrivateKey, identity types.Pubkey) {
	ctx := testContext(t)

	addrs, err := c.Addresses(identity)
	require.NoError(t, err)

	_, err = c.VaultState(ctx, identity)
	require.ErrorIs(t, err, client.ErrNotFound)

	r, err := c.Initialize(ctx, key)
	require.NoError(t, err)
	assert.NotZero(t, r.Height)

	state, err := c.VaultState(ctx, identity)
	require.NoError(t, err)
	assert.Greater(t, state.VaultBump, uint8(0))
	assert.Greater(t, state.StateBump, uint8(0))
	assert.Equal(t, addrs.VaultBump, state.VaultBump)
	assert.Equal(t, addrs.StateBump, state.StateBump)

	userBefore, err := c.Balance(ctx, identity)
	require.NoError(t, err)
	vaultBefore, err := c.Balance(ctx, addrs.Vault)
	require.NoError(t, err)
	assert.Equal(t, ledger.MinimumBalance(0), vaultBefore)

	_, err = c.Deposit(ctx, key, solLamps)
	require.NoError(t, err)

	userAfter, err := c.Balance(ctx, identity)
	require.NoError(t, err)
	vaultAfter, err := c.Balance(ctx, addrs.Vault)
	require.NoError(t, err)
	assert.Equal(t, uint64(solLamps), vaultAfter-vaultBefore)
	assert.Equal(t, uint64(solLamps), userBefore-userAfter)

	acct, err := c.Account(ctx, identity)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), acct.Nonce)
}

func TestClient_InitializeAndDeposit(t *testing.T) {
	key, identity := newKey(t)
	e := runEngine(t, identity)
	checkInitializeAndDeposit(t, client.New(e), key, identity)
}

func TestClient_OverGRPC(t *testing.T) {
	key, identity := newKey(t)
	e := runEngine(t, identity)

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	gs := vaultgrpc.NewServer(zaptest.NewLogger(t))
	vaultgrpc.NewNodeServer(e, zaptest.NewLogger(t)).Register(gs)
	go func() { _ = gs.Serve(lis) }()
	t.Cleanup(gs.GracefulStop)

	nc, err := vaultgrpc.DialNode(lis.Addr().String(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = nc.Close() })

	checkInitializeAndDeposit(t, client.New(nc), key, identity)
}

func TestClient_Errors(t *testing.T) {
	key, identity := newKey(t)
	poor, poorID := newKey(t)
	e := runEngine(t, identity)
	c := client.New(e)
	ctx := testContext(t)

	_, err := c.Deposit(ctx, key, 10)
	require.ErrorIs(t, err, vault.ErrVaultNotInitialized)
	var txErr *client.TxError
	require.True(t, errors.As(err, &txErr))
	assert.NotZero(t, txErr.Height)
	assert.Equal(t, vault.CodeVaultNotInitialized, txErr.Code)

	// The failed deposit did not consume the nonce.
	nonce, err := c.Nonce(ctx, identity)
	require.NoError(t, err)
	assert.Zero(t, nonce)

	_, err = c.Initialize(ctx, key)
	require.NoError(t, err)

	_, err = c.Initialize(ctx, key)
	require.ErrorIs(t, err, vault.ErrAlreadyInitialized)

	_, err = c.Deposit(ctx, key, 0)
	require.ErrorIs(t, err, vault.ErrInvalidAmount)

	_, err = c.Deposit(ctx, key, funding)
	require.ErrorIs(t, err, vault.ErrInsufficientFunds)

	_, err = c.Initialize(ctx, poor)
	require.ErrorIs(t, err, vault.ErrInsufficientFunds)
	_, err = c.VaultState(ctx, poorID)
	require.ErrorIs(t, err, client.ErrNotFound)
}

func TestClient_BalanceOfUnknownAccount(t *testing.T) {
	e := runEngine(t)
	_, nobody := newKey(t)

	bal, err := client.New(e).Balance(testContext(t), nobody)
	require.NoError(t, err)
	assert.Zero(t, bal)
}

func TestTxError_Is(t *testing.T) {
	err := error(&client.TxError{Code: vault.CodeUnauthorized, Info: "bad signature"})
	assert.ErrorIs(t, err, vault.ErrUnauthorized)
	assert.NotErrorIs(t, err, vault.ErrInvalidAmount)

	unknown := error(&client.TxError{Code: vault.CodeInternal})
	assert.NotErrorIs(t, unknown, vault.ErrUnauthorized)
	assert.Contains(t, unknown.Error(), "rejected")
}
