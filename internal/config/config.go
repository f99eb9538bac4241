// Package config holds vaultd settings. Values come from defaults, then
// an optional JSON file, then command-line flags.
package config

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/blockberries/vault/program"
	"github.com/blockberries/vault/types"
)

// Duration is a time.Duration that reads and writes as text ("500ms").
type Duration struct {
	time.Duration
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// Config is the vaultd configuration.
type Config struct {
	// NodeAddr serves the node gRPC service. Empty disables it.
	NodeAddr string `json:"node_addr"`
	// MetricsAddr serves Prometheus metrics over HTTP. Empty disables it.
	MetricsAddr string `json:"metrics_addr"`
	// AppRemote drives an application served elsewhere instead of the
	// in-process one.
	AppRemote string `json:"app_remote"`
	// ServeApp only serves the application service on this address; no
	// engine runs.
	ServeApp      string   `json:"serve_app"`
	BlockInterval Duration `json:"block_interval"`
	// Genesis is a genesis file. Empty starts a chain with no accounts.
	Genesis     string       `json:"genesis"`
	PostgresDSN string       `json:"postgres_dsn"`
	ProgramID   types.Pubkey `json:"program_id"`
	LogLevel    string       `json:"log_level"`
	LogPath     string       `json:"log_path"`
	LogDev      bool         `json:"log_dev"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		NodeAddr:      "127.0.0.1:8899",
		MetricsAddr:   "127.0.0.1:9464",
		BlockInterval: Duration{400 * time.Millisecond},
		ProgramID:     program.DefaultProgramID,
		LogLevel:      "info",
	}
}

// Load reads a JSON file over cfg. Fields absent from the file keep
// their value.
func Load(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func bind(fs *flag.FlagSet, cfg *Config) {
	fs.StringVar(&cfg.NodeAddr, "node-addr", cfg.NodeAddr, "node gRPC listen address (empty disables)")
	fs.StringVar(&cfg.MetricsAddr, "metrics-addr", cfg.MetricsAddr, "Prometheus metrics listen address (empty disables)")
	fs.StringVar(&cfg.AppRemote, "app-remote", cfg.AppRemote, "address of a remote application service to drive")
	fs.StringVar(&cfg.ServeApp, "serve-app", cfg.ServeApp, "serve only the application service on this address")
	fs.DurationVar(&cfg.BlockInterval.Duration, "block-interval", cfg.BlockInterval.Duration, "block production interval")
	fs.StringVar(&cfg.Genesis, "genesis", cfg.Genesis, "genesis file")
	fs.StringVar(&cfg.PostgresDSN, "dsn", cfg.PostgresDSN, "PostgreSQL DSN for committed state (empty keeps state in memory)")
	fs.TextVar(&cfg.ProgramID, "program-id", cfg.ProgramID, "vault program address (base58)")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level")
	fs.StringVar(&cfg.LogPath, "log-path", cfg.LogPath, "append logs to this file")
	fs.BoolVar(&cfg.LogDev, "log-dev", cfg.LogDev, "human-readable logs")
}

// Parse builds the configuration from args (without the program name).
// A -config flag names a JSON file applied before the other flags.
func Parse(fs *flag.FlagSet, args []string) (Config, error) {
	// First pass finds the config file; flags are applied again over it.
	cfg := Default()
	var path string
	fs.StringVar(&path, "config", "", "JSON configuration file")
	bind(fs, &cfg)
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	if path == "" {
		return cfg, cfg.Validate()
	}

	cfg = Default()
	if err := Load(path, &cfg); err != nil {
		return Config{}, err
	}
	second := flag.NewFlagSet(fs.Name(), flag.ContinueOnError)
	second.SetOutput(fs.Output())
	second.String("config", "", "")
	bind(second, &cfg)
	if err := second.Parse(args); err != nil {
		return Config{}, err
	}
	return cfg, cfg.Validate()
}

// Validate rejects inconsistent settings.
func (c Config) Validate() error {
	if c.AppRemote != "" && c.ServeApp != "" {
		return errors.New("app-remote and serve-app are mutually exclusive")
	}
	if c.ServeApp == "" && c.BlockInterval.Duration <= 0 {
		return fmt.Errorf("block interval must be positive, got %s", c.BlockInterval)
	}
	if c.AppRemote != "" && c.PostgresDSN != "" {
		return errors.New("dsn configures the in-process application and cannot be combined with app-remote")
	}
	return nil
}
