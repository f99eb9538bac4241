// Package program implements the vault program: per-identity custody
// accounts at derived addresses, created by initialize and funded by
// deposit.
package program

import (
	"fmt"
	"strconv"

	"github.com/blockberries/vault"
	"github.com/blockberries/vault/ledger"
	"github.com/blockberries/vault/types"
)

// Account positions in an instruction's account list.
const (
	accIdentity = iota
	accState
	accVault
	accSystem
	numAccounts
)

// Program executes vault instructions. It holds no mutable state; all
// reads and writes go through the batch it is handed.
type Program struct {
	id types.Pubkey
}

// New returns the program deployed at id.
func New(id types.Pubkey) *Program {
	return &Program{id: id}
}

// ID returns the program's address.
func (p *Program) ID() types.Pubkey { return p.id }

// Execute runs ix signed by signer against b. On error the caller must
// drop the batch; writes made before the failure are not undone here.
func (p *Program) Execute(b *ledger.Batch, signer types.Pubkey, ix types.Instruction) ([]types.Event, error) {
	if ix.ProgramID != p.id {
		return nil, fmt.Errorf("%w: %s", vault.ErrUnknownProgram, ix.ProgramID)
	}
	if len(ix.Accounts) != numAccounts {
		return nil, fmt.Errorf("%w: want %d accounts, got %d", vault.ErrInvalidAccounts, numAccounts, len(ix.Accounts))
	}
	identity := ix.Accounts[accIdentity]
	if !identity.IsSigner || identity.Pubkey != signer {
		return nil, fmt.Errorf("%w: %s did not sign", vault.ErrUnauthorized, identity.Pubkey)
	}
	if !identity.IsWritable || !ix.Accounts[accState].IsWritable || !ix.Accounts[accVault].IsWritable {
		return nil, fmt.Errorf("%w: identity, state and vault must be writable", vault.ErrInvalidAccounts)
	}
	if ix.Accounts[accSystem].Pubkey != SystemProgramID {
		return nil, fmt.Errorf("%w: expected system program, got %s", vault.ErrInvalidAccounts, ix.Accounts[accSystem].Pubkey)
	}

	d, err := decodeInstruction(ix.Data)
	if err != nil {
		return nil, err
	}
	switch d.name {
	case InitializeName:
		return p.initialize(b, ix.Accounts)
	default:
		return p.deposit(b, ix.Accounts, d.amount)
	}
}

func (p *Program) initialize(b *ledger.Batch, accounts []types.AccountMeta) ([]types.Event, error) {
	identity := accounts[accIdentity].Pubkey
	addrs, err := Derive(p.id, identity)
	if err != nil {
		return nil, err
	}
	if accounts[accState].Pubkey != addrs.State || accounts[accVault].Pubkey != addrs.Vault {
		return nil, fmt.Errorf("%w: state or vault does not match the derivation for %s", vault.ErrInvalidAccounts, identity)
	}
	if b.Exists(addrs.State) || b.Exists(addrs.Vault) {
		return nil, fmt.Errorf("%w: %s", vault.ErrAlreadyInitialized, identity)
	}

	data, err := VaultState{VaultBump: addrs.VaultBump, StateBump: addrs.StateBump}.Encode()
	if err != nil {
		return nil, err
	}
	cost := ledger.MinimumBalance(len(data)) + ledger.MinimumBalance(0)
	if have := b.Balance(identity); have < cost {
		return nil, fmt.Errorf("%w: %s has %d, initialize costs %d", vault.ErrInsufficientFunds, identity, have, cost)
	}
	if _, err := b.CreateAccount(identity, addrs.State, p.id, data); err != nil {
		return nil, err
	}
	if _, err := b.CreateAccount(identity, addrs.Vault, p.id, nil); err != nil {
		return nil, err
	}

	return []types.Event{types.NewEvent(InitializeName,
		"#identity", identity.String(),
		"#vault", addrs.Vault.String(),
		"state", addrs.State.String(),
		"vault_bump", strconv.Itoa(int(addrs.VaultBump)),
		"state_bump", strconv.Itoa(int(addrs.StateBump)),
		"cost", strconv.FormatUint(cost, 10),
	)}, nil
}

func (p *Program) deposit(b *ledger.Batch, accounts []types.AccountMeta, amount uint64) ([]types.Event, error) {
	identity := accounts[accIdentity].Pubkey
	stateAddr := accounts[accState].Pubkey
	vaultAddr := accounts[accVault].Pubkey

	state, err := p.loadState(b, identity, stateAddr, vaultAddr)
	if err != nil {
		return nil, err
	}
	if amount == 0 {
		return nil, fmt.Errorf("%w: deposit must be positive", vault.ErrInvalidAmount)
	}
	if err := b.Transfer(identity, vaultAddr, amount); err != nil {
		return nil, err
	}

	return []types.Event{types.NewEvent(DepositName,
		"#identity", identity.String(),
		"#vault", vaultAddr.String(),
		"amount", strconv.FormatUint(amount, 10),
		"vault_bump", strconv.Itoa(int(state.VaultBump)),
	)}, nil
}

// loadState reads identity's vault state and verifies that the passed
// state and vault addresses are the ones its stored bumps derive.
func (p *Program) loadState(b *ledger.Batch, identity, stateAddr, vaultAddr types.Pubkey) (VaultState, error) {
	acct, ok := b.Get(stateAddr)
	if !ok {
		return VaultState{}, fmt.Errorf("%w: no state account for %s", vault.ErrVaultNotInitialized, identity)
	}
	if acct.Owner != p.id {
		return VaultState{}, fmt.Errorf("%w: state account %s is not owned by the program", vault.ErrVaultNotInitialized, stateAddr)
	}
	state, err := DecodeVaultState(acct.Data)
	if err != nil {
		return VaultState{}, fmt.Errorf("%w: %v", vault.ErrVaultNotInitialized, err)
	}
	if !rederive(p.id, StateSeed, identity, state.StateBump, stateAddr) {
		return VaultState{}, fmt.Errorf("%w: state account %s does not belong to %s", vault.ErrVaultNotInitialized, stateAddr, identity)
	}
	if !rederive(p.id, VaultSeed, identity, state.VaultBump, vaultAddr) {
		return VaultState{}, fmt.Errorf("%w: vault %s does not belong to %s", vault.ErrVaultNotInitialized, vaultAddr, identity)
	}
	if !b.Exists(vaultAddr) {
		return VaultState{}, fmt.Errorf("%w: vault %s missing", vault.ErrVaultNotInitialized, vaultAddr)
	}
	return state, nil
}
