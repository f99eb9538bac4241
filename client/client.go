// Package client builds, signs and submits vault transactions and reads
// vault state through a node.
package client

import (
	"context"
	"crypto/ed25519"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/blockberries/cramberry/pkg/cramberry"

	"github.com/blockberries/vault"
	"github.com/blockberries/vault/app"
	"github.com/blockberries/vault/program"
	"github.com/blockberries/vault/types"
)

// Node is the chain a Client talks to. *devnet.Engine and
// *vaultgrpc.NodeClient satisfy it.
type Node interface {
	Submit(ctx context.Context, tx types.Tx) (types.GateVerdict, error)
	Query(ctx context.Context, req types.StateQuery) (types.StateQueryResult, error)
	WaitForReceipt(ctx context.Context, id types.Hash) (types.Receipt, error)
}

// ErrNotFound is returned when the queried account or vault does not exist.
var ErrNotFound = errors.New("not found")

// TxError reports a transaction the chain rejected, either at the
// mempool gate or during execution. It matches the vault sentinel error
// for its code under errors.Is.
type TxError struct {
	TxID types.Hash
	// Height is 0 when the transaction never executed.
	Height uint64
	Code   uint32
	Info   string
}

func (e *TxError) Error() string {
	if e.Height == 0 {
		return fmt.Sprintf("tx %s rejected (code %d): %s", e.TxID, e.Code, e.Info)
	}
	return fmt.Sprintf("tx %s failed at height %d (code %d): %s", e.TxID, e.Height, e.Code, e.Info)
}

// Is matches the sentinel error for the code.
func (e *TxError) Is(target error) bool {
	sentinel := vault.ErrorForCode(e.Code)
	return sentinel != nil && sentinel == target
}

// Client submits vault instructions for the holder of a key.
type Client struct {
	node      Node
	programID types.Pubkey
}

// Option configures a Client.
type Option func(*Client)

// WithProgramID targets a vault program deployed at id.
func WithProgramID(id types.Pubkey) Option {
	return func(c *Client) { c.programID = id }
}

// New creates a client for node.
func New(node Node, opts ...Option) *Client {
	c := &Client{node: node, programID: program.DefaultProgramID}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Addresses derives the vault and vault state addresses of identity.
func (c *Client) Addresses(identity types.Pubkey) (program.Addresses, error) {
	return program.Derive(c.programID, identity)
}

// Initialize creates the vault of the key's identity and waits for the
// transaction to execute.
func (c *Client) Initialize(ctx context.Context, key ed25519.PrivateKey) (types.Receipt, error) {
	identity := identityOf(key)
	ix, err := program.NewInitializeInstruction(c.programID, identity)
	if err != nil {
		return types.Receipt{}, err
	}
	return c.Send(ctx, key, ix)
}

// Deposit moves amount lamports from the key's identity into its vault
// and waits for the transaction to execute.
func (c *Client) Deposit(ctx context.Context, key ed25519.PrivateKey, amount uint64) (types.Receipt, error) {
	identity := identityOf(key)
	ix, err := program.NewDepositInstruction(c.programID, identity, amount)
	if err != nil {
		return types.Receipt{}, err
	}
	return c.Send(ctx, key, ix)
}

// Send signs ix at the signer's current nonce, submits it and waits for
// its receipt. A transaction that fails is reported as a *TxError.
func (c *Client) Send(ctx context.Context, key ed25519.PrivateKey, ix types.Instruction) (types.Receipt, error) {
	signer := identityOf(key)
	nonce, err := c.Nonce(ctx, signer)
	if err != nil {
		return types.Receipt{}, err
	}
	txn, err := types.NewTransaction(key, nonce, ix)
	if err != nil {
		return types.Receipt{}, err
	}
	tx, err := txn.Encode()
	if err != nil {
		return types.Receipt{}, err
	}
	id := tx.ID()

	verdict, err := c.node.Submit(ctx, tx)
	if err != nil {
		return types.Receipt{}, fmt.Errorf("submit: %w", err)
	}
	if !verdict.Accepted() {
		return types.Receipt{}, &TxError{TxID: id, Code: verdict.Code, Info: verdict.Info}
	}

	r, err := c.node.WaitForReceipt(ctx, id)
	if err != nil {
		return types.Receipt{}, fmt.Errorf("wait for %s: %w", id, err)
	}
	if !r.Outcome.OK() {
		return r, &TxError{TxID: id, Height: r.Height, Code: r.Outcome.Code, Info: r.Outcome.Info}
	}
	return r, nil
}

// Account reads an account.
func (c *Client) Account(ctx context.Context, addr types.Pubkey) (types.Account, error) {
	var acct types.Account
	if err := c.query(ctx, app.PathAccount, addr, &acct); err != nil {
		return types.Account{}, err
	}
	return acct, nil
}

// Nonce returns the nonce the signer's next transaction must carry.
func (c *Client) Nonce(ctx context.Context, signer types.Pubkey) (uint64, error) {
	acct, err := c.Account(ctx, signer)
	if errors.Is(err, ErrNotFound) {
		return 0, nil
	}
	return acct.Nonce, err
}

// Balance returns the lamports held at addr. A missing account holds 0.
func (c *Client) Balance(ctx context.Context, addr types.Pubkey) (uint64, error) {
	res, err := c.raw(ctx, app.PathBalance, addr)
	if err != nil {
		return 0, err
	}
	if len(res.Value) != 8 {
		return 0, fmt.Errorf("balance of %s: malformed %d-byte value", addr, len(res.Value))
	}
	return binary.BigEndian.Uint64(res.Value), nil
}

// VaultState reads the vault state of identity. It returns ErrNotFound
// before the vault is initialized.
func (c *Client) VaultState(ctx context.Context, identity types.Pubkey) (program.VaultState, error) {
	var state program.VaultState
	if err := c.query(ctx, app.PathVaultState, identity, &state); err != nil {
		return program.VaultState{}, err
	}
	return state, nil
}

func (c *Client) query(ctx context.Context, path types.QueryPath, key types.Pubkey, v any) error {
	res, err := c.raw(ctx, path, key)
	if err != nil {
		return err
	}
	if err := cramberry.Unmarshal(res.Value, v); err != nil {
		return fmt.Errorf("query %s: %w", path, err)
	}
	return nil
}

func (c *Client) raw(ctx context.Context, path types.QueryPath, key types.Pubkey) (types.StateQueryResult, error) {
	res, err := c.node.Query(ctx, types.StateQuery{Path: path, Data: key.Bytes()})
	if err != nil {
		return res, fmt.Errorf("query %s: %w", path, err)
	}
	switch res.Code {
	case types.QueryOK:
		return res, nil
	case types.QueryNotFound:
		return res, fmt.Errorf("%w: %s %s", ErrNotFound, path, key)
	default:
		return res, fmt.Errorf("query %s: code %d: %s", path, res.Code, res.Info)
	}
}

func identityOf(key ed25519.PrivateKey) types.Pubkey {
	return types.PubkeyFromPublicKey(key.Public().(ed25519.PublicKey))
}
