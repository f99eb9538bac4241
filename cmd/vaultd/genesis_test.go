package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/blockberries/vault/app"
	"github.com/blockberries/vault/types"
)

func TestLoadGenesis_Default(t *testing.T) {
	doc, err := loadGenesis("")
	require.NoError(t, err)
	require.Equal(t, defaultChainID, doc.ChainID)
	require.Equal(t, uint64(defaultMaxTxBytes), doc.ConsensusParams.MaxTxBytes)

	g, err := app.ParseGenesis(doc.AppState)
	require.NoError(t, err)
	require.Empty(t, g.Accounts)
}

func TestLoadGenesis_File(t *testing.T) {
	id := types.Pubkey{9}
	path := filepath.Join(t.TempDir(), "genesis.json")
	body := `{
		"chain_id": "local",
		"genesis_time": "2024-01-01T00:00:00Z",
		"accounts": [{"address": "` + id.String() + `", "lamports": 5000000000}]
	}`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	doc, err := loadGenesis(path)
	require.NoError(t, err)
	require.Equal(t, "local", doc.ChainID)
	require.Equal(t, int64(1704067200), doc.GenesisTime.Seconds)

	g, err := app.ParseGenesis(doc.AppState)
	require.NoError(t, err)
	require.Equal(t, []app.GenesisAccount{{Address: id, Lamports: 5_000_000_000}}, g.Accounts)
}

func TestLoadGenesis_Rejects(t *testing.T) {
	dir := t.TempDir()
	write := func(name, body string) string {
		p := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
		return p
	}
	id := types.Pubkey{1}.String()

	_, err := loadGenesis(write("dup.json", `{"accounts":[{"address":"`+id+`","lamports":1},{"address":"`+id+`","lamports":2}]}`))
	require.Error(t, err)

	_, err = loadGenesis(write("limits.json", `{"max_block_bytes": 10, "max_tx_bytes": 20}`))
	require.Error(t, err)

	_, err = loadGenesis(write("bad.json", `{`))
	require.Error(t, err)

	_, err = loadGenesis(filepath.Join(dir, "missing.json"))
	require.Error(t, err)
}
