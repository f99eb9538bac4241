package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/blockberries/vault/app"
	"github.com/blockberries/vault/types"
)

// genesisFile is the on-disk genesis format.
type genesisFile struct {
	ChainID       string               `json:"chain_id"`
	GenesisTime   time.Time            `json:"genesis_time"`
	InitialHeight uint64               `json:"initial_height,omitempty"`
	MaxBlockBytes uint64               `json:"max_block_bytes,omitempty"`
	MaxTxBytes    uint64               `json:"max_tx_bytes,omitempty"`
	Accounts      []app.GenesisAccount `json:"accounts"`
}

const (
	defaultChainID       = "vault-devnet"
	defaultMaxBlockBytes = 1 << 20
	defaultMaxTxBytes    = 64 << 10
)

// loadGenesis reads a genesis file. An empty path yields a chain with no
// funded accounts.
func loadGenesis(path string) (types.GenesisDoc, error) {
	g := genesisFile{ChainID: defaultChainID, GenesisTime: time.Now().UTC()}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return types.GenesisDoc{}, fmt.Errorf("read genesis: %w", err)
		}
		if err := json.Unmarshal(data, &g); err != nil {
			return types.GenesisDoc{}, fmt.Errorf("parse genesis %s: %w", path, err)
		}
	}
	if g.MaxBlockBytes == 0 {
		g.MaxBlockBytes = defaultMaxBlockBytes
	}
	if g.MaxTxBytes == 0 {
		g.MaxTxBytes = defaultMaxTxBytes
	}
	if g.MaxTxBytes > g.MaxBlockBytes {
		return types.GenesisDoc{}, fmt.Errorf("max_tx_bytes %d exceeds max_block_bytes %d", g.MaxTxBytes, g.MaxBlockBytes)
	}

	appState := app.Genesis{Accounts: g.Accounts}
	if _, err := app.ParseGenesis(mustJSON(appState)); err != nil {
		return types.GenesisDoc{}, err
	}
	return types.GenesisDoc{
		ChainID:       g.ChainID,
		GenesisTime:   types.NewTimestamp(g.GenesisTime),
		InitialHeight: g.InitialHeight,
		ConsensusParams: types.ConsensusParams{
			MaxBlockBytes: g.MaxBlockBytes,
			MaxTxBytes:    g.MaxTxBytes,
		},
		AppState: mustJSON(appState),
	}, nil
}

func mustJSON(g app.Genesis) []byte {
	data, err := g.Encode()
	if err != nil {
		// Pubkeys and integers always encode.
		panic(err)
	}
	return data
}
