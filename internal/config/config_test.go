package config

import (
	"flag"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blockberries/vault/program"
	"github.com/blockberries/vault/types"
)

func parse(t *testing.T, args ...string) (Config, error) {
	t.Helper()
	fs := flag.NewFlagSet("vaultd", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	return Parse(fs, args)
}

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestParse_Defaults(t *testing.T) {
	cfg, err := parse(t)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	assert.Equal(t, program.DefaultProgramID, cfg.ProgramID)
	assert.Equal(t, 400*time.Millisecond, cfg.BlockInterval.Duration)
}

func TestParse_Flags(t *testing.T) {
	id := types.Pubkey{1, 2, 3}
	cfg, err := parse(t,
		"-node-addr", ":1",
		"-block-interval", "2s",
		"-program-id", id.String(),
		"-dsn", "postgres://localhost/vault",
	)
	require.NoError(t, err)
	assert.Equal(t, ":1", cfg.NodeAddr)
	assert.Equal(t, 2*time.Second, cfg.BlockInterval.Duration)
	assert.Equal(t, id, cfg.ProgramID)
	assert.Equal(t, "postgres://localhost/vault", cfg.PostgresDSN)
}

func TestParse_FileThenFlags(t *testing.T) {
	path := writeFile(t, `{
		"node_addr": ":7000",
		"metrics_addr": "",
		"block_interval": "1s",
		"log_level": "debug"
	}`)

	cfg, err := parse(t, "-config", path, "-log-level", "warn")
	require.NoError(t, err)
	assert.Equal(t, ":7000", cfg.NodeAddr)
	assert.Empty(t, cfg.MetricsAddr)
	assert.Equal(t, time.Second, cfg.BlockInterval.Duration)
	assert.Equal(t, "warn", cfg.LogLevel, "flags win over the file")
	assert.Equal(t, program.DefaultProgramID, cfg.ProgramID, "absent fields keep defaults")
}

func TestParse_BadFile(t *testing.T) {
	_, err := parse(t, "-config", writeFile(t, `{"block_interval": "soon"}`))
	require.Error(t, err)

	_, err = parse(t, "-config", filepath.Join(t.TempDir(), "missing.json"))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	_, err := parse(t, "-app-remote", "a:1", "-serve-app", "b:2")
	require.Error(t, err)

	_, err = parse(t, "-block-interval", "0s")
	require.Error(t, err)

	_, err = parse(t, "-serve-app", "b:2", "-block-interval", "0s")
	require.NoError(t, err)

	_, err = parse(t, "-app-remote", "a:1", "-dsn", "postgres://x")
	require.Error(t, err)
}
