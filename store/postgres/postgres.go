// Package postgres persists committed ledger state in PostgreSQL.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/blockberries/vault/store"
	"github.com/blockberries/vault/types"
)

// PgxPool is the subset of a connection pool the store needs. It is
// implemented by *pgxpool.Pool and pgxmock.PgxPoolIface.
type PgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
	Close()
}

// Store implements store.Store.
type Store struct{ pool PgxPool }

var _ store.Store = (*Store)(nil)

// New connects to dsn. Run Migrate first on a fresh database.
func New(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: pool}, nil
}

// NewWithPool wraps an existing pool.
func NewWithPool(pool PgxPool) *Store { return &Store{pool: pool} }

const (
	selectChainState = `SELECT height, app_hash FROM chain_state WHERE id=1`
	deleteAccounts   = `DELETE FROM accounts`
	selectAccounts   = `SELECT address, lamports, owner, data, nonce FROM accounts ORDER BY address`
	upsertAccount    = `INSERT INTO accounts (address, lamports, owner, data, nonce, updated_height) VALUES ($1,$2,$3,$4,$5,$6)
ON CONFLICT (address) DO UPDATE SET lamports=EXCLUDED.lamports, owner=EXCLUDED.owner, data=EXCLUDED.data, nonce=EXCLUDED.nonce, updated_height=EXCLUDED.updated_height`
	upsertChainState = `INSERT INTO chain_state (id, height, app_hash) VALUES (1,$1,$2)
ON CONFLICT (id) DO UPDATE SET height=EXCLUDED.height, app_hash=EXCLUDED.app_hash, updated_at=now()`
)

// Load implements store.Store.
func (s *Store) Load(ctx context.Context) (store.Committed, error) {
	var (
		c      store.Committed
		height int64
		hash   []byte
	)
	if err := s.pool.QueryRow(ctx, selectChainState).Scan(&height, &hash); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return c, store.ErrEmpty
		}
		return c, fmt.Errorf("load chain state: %w", err)
	}
	if len(hash) != len(c.AppHash) {
		return c, fmt.Errorf("load chain state: app hash is %d bytes", len(hash))
	}
	c.Height = uint64(height)
	copy(c.AppHash[:], hash)

	rows, err := s.pool.Query(ctx, selectAccounts)
	if err != nil {
		return c, fmt.Errorf("load accounts: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			addr, owner     []byte
			data            []byte
			lamports, nonce int64
		)
		if err := rows.Scan(&addr, &lamports, &owner, &data, &nonce); err != nil {
			return c, fmt.Errorf("scan account: %w", err)
		}
		ka, err := keyedAccount(addr, owner, data, lamports, nonce)
		if err != nil {
			return c, err
		}
		c.Accounts = append(c.Accounts, ka)
	}
	return c, rows.Err()
}

// Save implements store.Store.
func (s *Store) Save(ctx context.Context, height uint64, appHash types.AppHash, changed []types.KeyedAccount) error {
	return s.write(ctx, height, appHash, changed, false)
}

// Replace implements store.Store.
func (s *Store) Replace(ctx context.Context, height uint64, appHash types.AppHash, accounts []types.KeyedAccount) error {
	return s.write(ctx, height, appHash, accounts, true)
}

func (s *Store) write(ctx context.Context, height uint64, appHash types.AppHash, accounts []types.KeyedAccount, replace bool) (err error) {
	if height > math.MaxInt64 {
		return fmt.Errorf("height %d out of range", height)
	}
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
			return
		}
		if e := tx.Commit(ctx); e != nil {
			err = fmt.Errorf("commit: %w", e)
		}
	}()

	if replace {
		if _, err = tx.Exec(ctx, deleteAccounts); err != nil {
			return fmt.Errorf("clear accounts: %w", err)
		}
	}
	for _, ka := range accounts {
		a := ka.Account
		if a.Lamports > math.MaxInt64 || a.Nonce > math.MaxInt64 {
			return fmt.Errorf("account %s: value out of range", ka.Address)
		}
		data := a.Data
		if data == nil {
			data = []byte{}
		}
		if _, err = tx.Exec(ctx, upsertAccount,
			ka.Address.Bytes(), int64(a.Lamports), a.Owner.Bytes(), data, int64(a.Nonce), int64(height),
		); err != nil {
			return fmt.Errorf("upsert account %s: %w", ka.Address, err)
		}
	}
	if _, err = tx.Exec(ctx, upsertChainState, int64(height), appHash[:]); err != nil {
		return fmt.Errorf("upsert chain state: %w", err)
	}
	return nil
}

// Close implements store.Store.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func keyedAccount(addr, owner, data []byte, lamports, nonce int64) (types.KeyedAccount, error) {
	address, err := types.PubkeyFromBytes(addr)
	if err != nil {
		return types.KeyedAccount{}, fmt.Errorf("account address: %w", err)
	}
	ownerKey, err := types.PubkeyFromBytes(owner)
	if err != nil {
		return types.KeyedAccount{}, fmt.Errorf("account %s owner: %w", address, err)
	}
	if lamports < 0 || nonce < 0 {
		return types.KeyedAccount{}, fmt.Errorf("account %s: negative value", address)
	}
	if len(data) == 0 {
		data = nil
	}
	return types.KeyedAccount{
		Address: address,
		Account: types.Account{
			Lamports: uint64(lamports),
			Owner:    ownerKey,
			Data:     data,
			Nonce:    uint64(nonce),
		},
	}, nil
}
