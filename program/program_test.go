package program

import (
	"crypto/ed25519"
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/blockberries/vault"
	"github.com/blockberries/vault/ledger"
	"github.com/blockberries/vault/types"
)

const startingBalance = 10_000_000_000

type fixture struct {
	prog     *Program
	ledger   *ledger.Ledger
	identity types.Pubkey
	addrs    Addresses
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	identity := types.PubkeyFromPublicKey(pub)

	addrs, err := Derive(DefaultProgramID, identity)
	require.NoError(t, err)

	return &fixture{
		prog: New(DefaultProgramID),
		ledger: ledger.FromAccounts([]types.KeyedAccount{
			{Address: identity, Account: types.Account{Lamports: startingBalance}},
		}),
		identity: identity,
		addrs:    addrs,
	}
}

// exec runs ix in its own batch and applies it only on success.
func (f *fixture) exec(t *testing.T, signer types.Pubkey, ix types.Instruction) error {
	t.Helper()
	b := ledger.NewBatch(f.ledger)
	if _, err := f.prog.Execute(b, signer, ix); err != nil {
		return err
	}
	b.Write()
	return nil
}

func (f *fixture) initialize(t *testing.T) {
	t.Helper()
	ix, err := NewInitializeInstruction(DefaultProgramID, f.identity)
	require.NoError(t, err)
	require.NoError(t, f.exec(t, f.identity, ix))
}

func (f *fixture) deposit(t *testing.T, amount uint64) error {
	t.Helper()
	ix, err := NewDepositInstruction(DefaultProgramID, f.identity, amount)
	require.NoError(t, err)
	return f.exec(t, f.identity, ix)
}

func (f *fixture) balance(addr types.Pubkey) uint64 {
	a, _ := f.ledger.Get(addr)
	return a.Lamports
}

func (f *fixture) hash(t *testing.T) types.AppHash {
	t.Helper()
	h, err := f.ledger.Hash()
	require.NoError(t, err)
	return h
}

func TestInitialize(t *testing.T) {
	f := newFixture(t)
	f.initialize(t)

	acct, ok := f.ledger.Get(f.addrs.State)
	require.True(t, ok)
	require.Equal(t, DefaultProgramID, acct.Owner)

	state, err := DecodeVaultState(acct.Data)
	require.NoError(t, err)
	require.Greater(t, state.VaultBump, uint8(0))
	require.Greater(t, state.StateBump, uint8(0))
	require.Equal(t, f.addrs.VaultBump, state.VaultBump)
	require.Equal(t, f.addrs.StateBump, state.StateBump)

	vaultAcct, ok := f.ledger.Get(f.addrs.Vault)
	require.True(t, ok)
	require.Empty(t, vaultAcct.Data)
	require.Equal(t, ledger.MinimumBalance(0), vaultAcct.Lamports)

	cost := ledger.MinimumBalance(len(acct.Data)) + ledger.MinimumBalance(0)
	require.Equal(t, uint64(startingBalance)-cost, f.balance(f.identity))
}

func TestInitialize_Twice(t *testing.T) {
	f := newFixture(t)
	f.initialize(t)
	before := f.hash(t)

	ix, err := NewInitializeInstruction(DefaultProgramID, f.identity)
	require.NoError(t, err)
	err = f.exec(t, f.identity, ix)
	require.ErrorIs(t, err, vault.ErrAlreadyInitialized)
	require.Equal(t, before, f.hash(t))
}

func TestInitialize_VaultAddressOccupied(t *testing.T) {
	f := newFixture(t)
	f.ledger.Set(f.addrs.Vault, types.Account{Lamports: 1})

	ix, err := NewInitializeInstruction(DefaultProgramID, f.identity)
	require.NoError(t, err)
	require.ErrorIs(t, f.exec(t, f.identity, ix), vault.ErrAlreadyInitialized)
	require.False(t, f.ledger.Exists(f.addrs.State))
}

func TestInitialize_NotSigner(t *testing.T) {
	f := newFixture(t)
	ix, err := NewInitializeInstruction(DefaultProgramID, f.identity)
	require.NoError(t, err)

	require.ErrorIs(t, f.exec(t, types.Pubkey{0xEE}, ix), vault.ErrUnauthorized)

	ix.Accounts[0].IsSigner = false
	require.ErrorIs(t, f.exec(t, f.identity, ix), vault.ErrUnauthorized)
	require.False(t, f.ledger.Exists(f.addrs.State))
}

func TestInitialize_InsufficientFunds(t *testing.T) {
	f := newFixture(t)
	f.ledger.Set(f.identity, types.Account{Lamports: ledger.MinimumBalance(0)})
	before := f.hash(t)

	ix, err := NewInitializeInstruction(DefaultProgramID, f.identity)
	require.NoError(t, err)
	require.ErrorIs(t, f.exec(t, f.identity, ix), vault.ErrInsufficientFunds)
	require.Equal(t, before, f.hash(t))
}

func TestInitialize_WrongDerivedAccounts(t *testing.T) {
	f := newFixture(t)
	ix, err := NewInitializeInstruction(DefaultProgramID, f.identity)
	require.NoError(t, err)

	ix.Accounts[2].Pubkey = types.Pubkey{0x66}
	require.ErrorIs(t, f.exec(t, f.identity, ix), vault.ErrInvalidAccounts)
}

func TestDeposit(t *testing.T) {
	f := newFixture(t)
	f.initialize(t)

	stateBefore, _ := f.ledger.Get(f.addrs.State)
	userBefore := f.balance(f.identity)
	vaultBefore := f.balance(f.addrs.Vault)

	require.NoError(t, f.deposit(t, 1_000_000_000))

	require.Equal(t, userBefore-1_000_000_000, f.balance(f.identity))
	require.Equal(t, vaultBefore+1_000_000_000, f.balance(f.addrs.Vault))

	stateAfter, _ := f.ledger.Get(f.addrs.State)
	require.Equal(t, stateBefore, stateAfter)
}

func TestDeposit_Repeated(t *testing.T) {
	f := newFixture(t)
	f.initialize(t)
	vaultBefore := f.balance(f.addrs.Vault)

	for range 3 {
		require.NoError(t, f.deposit(t, 100))
	}
	require.Equal(t, vaultBefore+300, f.balance(f.addrs.Vault))
}

func TestDeposit_NotInitialized(t *testing.T) {
	f := newFixture(t)
	before := f.hash(t)

	require.ErrorIs(t, f.deposit(t, 100), vault.ErrVaultNotInitialized)
	require.Equal(t, before, f.hash(t))
}

func TestDeposit_ZeroAmount(t *testing.T) {
	f := newFixture(t)
	f.initialize(t)
	before := f.hash(t)

	require.ErrorIs(t, f.deposit(t, 0), vault.ErrInvalidAmount)
	require.Equal(t, before, f.hash(t))
}

func TestDeposit_InsufficientFunds(t *testing.T) {
	f := newFixture(t)
	f.initialize(t)
	vaultBefore := f.balance(f.addrs.Vault)

	err := f.deposit(t, f.balance(f.identity)+1)
	require.ErrorIs(t, err, vault.ErrInsufficientFunds)
	require.Equal(t, vaultBefore, f.balance(f.addrs.Vault))
}

func TestDeposit_RedirectedVault(t *testing.T) {
	victim := newFixture(t)
	victim.initialize(t)

	// An attacker passes their own vault while depositing against the
	// victim's state account.
	attacker := newFixture(t)
	victim.ledger.Set(attacker.identity, types.Account{Lamports: startingBalance})
	victim.ledger.Set(attacker.addrs.Vault, types.Account{Owner: DefaultProgramID})

	ix, err := NewDepositInstruction(DefaultProgramID, victim.identity, 500)
	require.NoError(t, err)
	ix.Accounts[2].Pubkey = attacker.addrs.Vault
	require.ErrorIs(t, victim.exec(t, victim.identity, ix), vault.ErrVaultNotInitialized)

	// The attacker's own identity against the victim's accounts.
	ix, err = NewDepositInstruction(DefaultProgramID, victim.identity, 500)
	require.NoError(t, err)
	ix.Accounts[0].Pubkey = attacker.identity
	require.ErrorIs(t, victim.exec(t, attacker.identity, ix), vault.ErrVaultNotInitialized)
}

func TestDeposit_ForgedStateAccount(t *testing.T) {
	f := newFixture(t)
	data, err := VaultState{VaultBump: f.addrs.VaultBump, StateBump: f.addrs.StateBump}.Encode()
	require.NoError(t, err)
	f.ledger.Set(f.addrs.State, types.Account{Owner: types.Pubkey{0x99}, Data: data})
	f.ledger.Set(f.addrs.Vault, types.Account{Owner: DefaultProgramID})

	require.ErrorIs(t, f.deposit(t, 100), vault.ErrVaultNotInitialized)
}

func TestExecute_Malformed(t *testing.T) {
	f := newFixture(t)
	ix, err := NewDepositInstruction(DefaultProgramID, f.identity, 1)
	require.NoError(t, err)

	bad := ix
	bad.ProgramID = types.Pubkey{1}
	require.ErrorIs(t, f.exec(t, f.identity, bad), vault.ErrUnknownProgram)

	bad = ix
	bad.Accounts = ix.Accounts[:3]
	require.ErrorIs(t, f.exec(t, f.identity, bad), vault.ErrInvalidAccounts)

	bad = ix
	bad.Data = []byte{1, 2, 3, 4, 5, 6, 7, 8}
	require.ErrorIs(t, f.exec(t, f.identity, bad), vault.ErrInvalidInstruction)

	bad = ix
	bad.Data = nil
	require.ErrorIs(t, f.exec(t, f.identity, bad), vault.ErrInvalidInstruction)
}

func TestVaultState_Codec(t *testing.T) {
	data, err := VaultState{VaultBump: 254, StateBump: 253}.Encode()
	require.NoError(t, err)

	got, err := DecodeVaultState(data)
	require.NoError(t, err)
	require.Equal(t, VaultState{VaultBump: 254, StateBump: 253}, got)

	_, err = DecodeVaultState(data[:4])
	require.ErrorIs(t, err, ErrNotVaultState)
}

func TestDerive_Stable(t *testing.T) {
	f := newFixture(t)
	again, err := Derive(DefaultProgramID, f.identity)
	require.NoError(t, err)
	require.Equal(t, f.addrs, again)
	require.Equal(t, f.identity, again.Identity)
}

func TestDeposit_Event(t *testing.T) {
	f := newFixture(t)
	f.initialize(t)

	ix, err := NewDepositInstruction(DefaultProgramID, f.identity, 42)
	require.NoError(t, err)
	events, err := f.prog.Execute(ledger.NewBatch(f.ledger), f.identity, ix)
	require.NoError(t, err)
	require.Len(t, events, 1)

	ev := events[0]
	require.Equal(t, DepositName, ev.Kind)
	amount, ok := ev.Attr("amount")
	require.True(t, ok)
	require.Equal(t, "42", amount)
	vaultAddr, _ := ev.Attr("vault")
	require.Equal(t, f.addrs.Vault.String(), vaultAddr)
	require.True(t, ev.Attributes[0].Indexed)
}
