package app

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/blockberries/cramberry/pkg/cramberry"

	"github.com/blockberries/vault/program"
	"github.com/blockberries/vault/types"
)

// Query paths. Each takes a 32-byte address or identity as Data.
const (
	PathAccount    types.QueryPath = "/account"
	PathBalance    types.QueryPath = "/balance"
	PathVaultState types.QueryPath = "/vault_state"
	PathDerive     types.QueryPath = "/derive"
)

func (a *App) Query(_ context.Context, req types.StateQuery) (types.StateQueryResult, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if req.Height != nil && *req.Height != a.height {
		return a.queryResult(types.QueryUnsupported, nil, nil,
			fmt.Sprintf("only the latest height %d is queryable", a.height)), nil
	}
	key, err := types.PubkeyFromBytes(req.Data)
	if err != nil {
		return a.queryResult(types.QueryBadRequest, req.Data, nil, err.Error()), nil
	}

	switch req.Path {
	case PathAccount:
		acct, ok := a.current.Get(key)
		if !ok {
			return a.queryResult(types.QueryNotFound, req.Data, nil, "account not found"), nil
		}
		return a.encodedResult(req.Data, acct)

	case PathBalance:
		acct, _ := a.current.Get(key)
		buf := make([]byte, 8)
		binary.BigEndian.PutUint64(buf, acct.Lamports)
		return a.queryResult(types.QueryOK, req.Data, buf, ""), nil

	case PathVaultState:
		addrs, err := program.Derive(a.program.ID(), key)
		if err != nil {
			return types.StateQueryResult{}, err
		}
		acct, ok := a.current.Get(addrs.State)
		if !ok || acct.Owner != a.program.ID() {
			return a.queryResult(types.QueryNotFound, req.Data, nil, "vault not initialized"), nil
		}
		state, err := program.DecodeVaultState(acct.Data)
		if err != nil {
			return a.queryResult(types.QueryNotFound, req.Data, nil, err.Error()), nil
		}
		return a.encodedResult(req.Data, state)

	case PathDerive:
		addrs, err := program.Derive(a.program.ID(), key)
		if err != nil {
			return types.StateQueryResult{}, err
		}
		return a.encodedResult(req.Data, addrs)

	default:
		return a.queryResult(types.QueryUnsupported, req.Data, nil, fmt.Sprintf("unknown query path %q", req.Path)), nil
	}
}

func (a *App) encodedResult(key []byte, v any) (types.StateQueryResult, error) {
	data, err := cramberry.Marshal(v)
	if err != nil {
		return types.StateQueryResult{}, fmt.Errorf("marshal query result: %w", err)
	}
	return a.queryResult(types.QueryOK, key, data, ""), nil
}

// queryResult must be called with a.mu held.
func (a *App) queryResult(code uint32, key, value []byte, info string) types.StateQueryResult {
	return types.StateQueryResult{
		Code:   code,
		Key:    key,
		Value:  value,
		Height: a.height,
		Info:   info,
	}
}
