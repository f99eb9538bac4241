// Package ledger holds the keyed account state the vault program runs
// against, and the per-transaction write batches that make execution
// all-or-nothing.
package ledger

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"sort"

	"github.com/blockberries/cramberry/pkg/cramberry"

	"github.com/blockberries/vault/types"
)

// State is the canonical encoding of a ledger: every account, sorted by
// address. It is what Hash covers and what snapshots carry.
type State struct {
	Accounts []types.KeyedAccount `cramberry:"1"`
}

// Ledger is an in-memory account map with dirty tracking. It is not safe
// for concurrent use; the application guards it.
type Ledger struct {
	accounts map[types.Pubkey]types.Account
	dirty    map[types.Pubkey]struct{}
}

// New returns an empty ledger.
func New() *Ledger {
	return &Ledger{
		accounts: make(map[types.Pubkey]types.Account),
		dirty:    make(map[types.Pubkey]struct{}),
	}
}

// FromAccounts builds a clean ledger from a list of accounts.
func FromAccounts(accounts []types.KeyedAccount) *Ledger {
	l := New()
	for _, ka := range accounts {
		l.accounts[ka.Address] = ka.Account.Clone()
	}
	return l
}

// Get returns a copy of the account at addr.
func (l *Ledger) Get(addr types.Pubkey) (types.Account, bool) {
	a, ok := l.accounts[addr]
	if !ok {
		return types.Account{}, false
	}
	return a.Clone(), true
}

// Exists reports whether addr holds an account.
func (l *Ledger) Exists(addr types.Pubkey) bool {
	_, ok := l.accounts[addr]
	return ok
}

// Set stores acct at addr and marks it dirty.
func (l *Ledger) Set(addr types.Pubkey, acct types.Account) {
	l.accounts[addr] = acct.Clone()
	l.dirty[addr] = struct{}{}
}

// Len returns the number of accounts.
func (l *Ledger) Len() int { return len(l.accounts) }

// Clone returns a deep copy with an empty dirty set.
func (l *Ledger) Clone() *Ledger {
	c := New()
	for addr, a := range l.accounts {
		c.accounts[addr] = a.Clone()
	}
	return c
}

// Accounts returns every account sorted by address.
func (l *Ledger) Accounts() []types.KeyedAccount {
	out := make([]types.KeyedAccount, 0, len(l.accounts))
	for addr, a := range l.accounts {
		out = append(out, types.KeyedAccount{Address: addr, Account: a.Clone()})
	}
	sortKeyed(out)
	return out
}

// Dirty returns the accounts written since the ledger was created or
// last cleaned, sorted by address.
func (l *Ledger) Dirty() []types.KeyedAccount {
	out := make([]types.KeyedAccount, 0, len(l.dirty))
	for addr := range l.dirty {
		out = append(out, types.KeyedAccount{Address: addr, Account: l.accounts[addr].Clone()})
	}
	sortKeyed(out)
	return out
}

// ClearDirty forgets which accounts were written.
func (l *Ledger) ClearDirty() {
	clear(l.dirty)
}

// State returns the canonical form of the ledger.
func (l *Ledger) State() State {
	return State{Accounts: l.Accounts()}
}

// Hash returns sha256 over the canonical encoding. Equal ledgers hash
// equal on every node.
func (l *Ledger) Hash() (types.AppHash, error) {
	data, err := cramberry.Marshal(l.State())
	if err != nil {
		return types.AppHash{}, fmt.Errorf("marshal ledger state: %w", err)
	}
	return types.AppHash(sha256.Sum256(data)), nil
}

func sortKeyed(accounts []types.KeyedAccount) {
	sort.Slice(accounts, func(i, j int) bool {
		return bytes.Compare(accounts[i].Address[:], accounts[j].Address[:]) < 0
	})
}
