// Package store persists committed ledger state so the application can
// resume after a restart.
package store

import (
	"context"
	"errors"
	"sync"

	"github.com/blockberries/vault/types"
)

// ErrEmpty is returned by Load when nothing has been committed yet.
var ErrEmpty = errors.New("store: no committed state")

// Committed is the state as of the last successful Save.
type Committed struct {
	Height   uint64
	AppHash  types.AppHash
	Accounts []types.KeyedAccount
}

// Store persists committed state. Save is atomic: either the height, the
// hash and every changed account land, or none do.
type Store interface {
	// Load returns the latest committed state, or ErrEmpty.
	Load(ctx context.Context) (Committed, error)
	// Save records the accounts that changed at height along with the
	// resulting app hash.
	Save(ctx context.Context, height uint64, appHash types.AppHash, changed []types.KeyedAccount) error
	// Replace discards every stored account and records accounts as the
	// complete state at height.
	Replace(ctx context.Context, height uint64, appHash types.AppHash, accounts []types.KeyedAccount) error
	// Close releases resources.
	Close() error
}

// Memory is an in-process Store. Its contents do not survive the process.
type Memory struct {
	mu       sync.RWMutex
	height   uint64
	appHash  types.AppHash
	saved    bool
	accounts map[types.Pubkey]types.Account
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{accounts: make(map[types.Pubkey]types.Account)}
}

// Load implements Store.
func (m *Memory) Load(_ context.Context) (Committed, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.saved {
		return Committed{}, ErrEmpty
	}
	c := Committed{Height: m.height, AppHash: m.appHash}
	for addr, a := range m.accounts {
		c.Accounts = append(c.Accounts, types.KeyedAccount{Address: addr, Account: a.Clone()})
	}
	return c, nil
}

// Save implements Store.
func (m *Memory) Save(_ context.Context, height uint64, appHash types.AppHash, changed []types.KeyedAccount) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.apply(height, appHash, changed)
	return nil
}

// Replace implements Store.
func (m *Memory) Replace(_ context.Context, height uint64, appHash types.AppHash, accounts []types.KeyedAccount) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	clear(m.accounts)
	m.apply(height, appHash, accounts)
	return nil
}

func (m *Memory) apply(height uint64, appHash types.AppHash, accounts []types.KeyedAccount) {
	for _, ka := range accounts {
		m.accounts[ka.Address] = ka.Account.Clone()
	}
	m.height = height
	m.appHash = appHash
	m.saved = true
}

// Close implements Store.
func (m *Memory) Close() error { return nil }
