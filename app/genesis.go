package app

import (
	"encoding/json"
	"fmt"

	"github.com/blockberries/vault/ledger"
	"github.com/blockberries/vault/types"
)

// Genesis is the application state carried in GenesisDoc.AppState.
type Genesis struct {
	Accounts []GenesisAccount `json:"accounts"`
}

// GenesisAccount funds an address at genesis.
type GenesisAccount struct {
	Address  types.Pubkey `json:"address"`
	Lamports uint64       `json:"lamports"`
}

// Encode returns the JSON form for GenesisDoc.AppState.
func (g Genesis) Encode() ([]byte, error) {
	return json.Marshal(g)
}

// ParseGenesis decodes GenesisDoc.AppState. Empty input is an empty
// ledger.
func ParseGenesis(appState []byte) (Genesis, error) {
	var g Genesis
	if len(appState) == 0 {
		return g, nil
	}
	if err := json.Unmarshal(appState, &g); err != nil {
		return g, fmt.Errorf("parse genesis app state: %w", err)
	}
	seen := make(map[types.Pubkey]struct{}, len(g.Accounts))
	for _, a := range g.Accounts {
		if _, dup := seen[a.Address]; dup {
			return g, fmt.Errorf("genesis account %s listed twice", a.Address)
		}
		seen[a.Address] = struct{}{}
	}
	return g, nil
}

// Ledger builds the initial ledger.
func (g Genesis) Ledger() *ledger.Ledger {
	accounts := make([]types.KeyedAccount, 0, len(g.Accounts))
	for _, a := range g.Accounts {
		accounts = append(accounts, types.KeyedAccount{
			Address: a.Address,
			Account: types.Account{Lamports: a.Lamports},
		})
	}
	return ledger.FromAccounts(accounts)
}
