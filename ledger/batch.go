package ledger

import (
	"errors"
	"fmt"
	"math"

	"github.com/blockberries/vault"
	"github.com/blockberries/vault/types"
)

// ErrOverflow is returned when a credit would overflow an account balance.
var ErrOverflow = errors.New("lamports overflow")

// Batch is a write overlay over a Ledger. Reads see the overlay first;
// nothing reaches the ledger until Write. Dropping a batch discards it.
type Batch struct {
	base   *Ledger
	writes map[types.Pubkey]types.Account
}

// NewBatch opens a batch over l.
func NewBatch(l *Ledger) *Batch {
	return &Batch{base: l, writes: make(map[types.Pubkey]types.Account)}
}

// Get returns the account at addr as seen through the batch.
func (b *Batch) Get(addr types.Pubkey) (types.Account, bool) {
	if a, ok := b.writes[addr]; ok {
		return a.Clone(), true
	}
	return b.base.Get(addr)
}

// Exists reports whether addr holds an account.
func (b *Batch) Exists(addr types.Pubkey) bool {
	if _, ok := b.writes[addr]; ok {
		return true
	}
	return b.base.Exists(addr)
}

// Balance returns the lamports at addr, zero if absent.
func (b *Batch) Balance(addr types.Pubkey) uint64 {
	a, _ := b.Get(addr)
	return a.Lamports
}

// Set stages acct at addr.
func (b *Batch) Set(addr types.Pubkey, acct types.Account) {
	b.writes[addr] = acct.Clone()
}

// Write applies every staged account to the underlying ledger.
func (b *Batch) Write() {
	for addr, a := range b.writes {
		b.base.Set(addr, a)
	}
	clear(b.writes)
}

// Transfer moves lamports from one account to another. Either both
// sides change or neither does.
func (b *Batch) Transfer(from, to types.Pubkey, lamports uint64) error {
	src, _ := b.Get(from)
	if src.Lamports < lamports {
		return fmt.Errorf("%w: %s has %d, needs %d", vault.ErrInsufficientFunds, from, src.Lamports, lamports)
	}
	if from == to {
		return nil
	}
	dst, _ := b.Get(to)
	if dst.Lamports > math.MaxUint64-lamports {
		return fmt.Errorf("%w: crediting %s", ErrOverflow, to)
	}
	src.Lamports -= lamports
	dst.Lamports += lamports
	b.Set(from, src)
	b.Set(to, dst)
	return nil
}

// CreateAccount allocates a new account at addr owned by owner, funded by
// payer with the rent-exempt minimum for len(data). It returns the
// amount charged.
func (b *Batch) CreateAccount(payer, addr, owner types.Pubkey, data []byte) (uint64, error) {
	if b.Exists(addr) {
		return 0, fmt.Errorf("account %s already in use", addr)
	}
	cost := MinimumBalance(len(data))
	src, _ := b.Get(payer)
	if src.Lamports < cost {
		return 0, fmt.Errorf("%w: %s has %d, allocation of %s needs %d",
			vault.ErrInsufficientFunds, payer, src.Lamports, addr, cost)
	}
	src.Lamports -= cost
	b.Set(payer, src)
	b.Set(addr, types.Account{
		Lamports: cost,
		Owner:    owner,
		Data:     append([]byte(nil), data...),
	})
	return cost, nil
}
