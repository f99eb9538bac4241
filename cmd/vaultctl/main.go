// Command vaultctl manages a vault through a vaultd node.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/blockberries/vault/app"
	"github.com/blockberries/vault/client"
	vaultgrpc "github.com/blockberries/vault/grpc"
	"github.com/blockberries/vault/types"
)

func usage(w io.Writer) {
	fmt.Fprint(w, `usage: vaultctl [flags] <command> [args]

commands:
  keygen                      create a keypair at -key
  address                     print the keypair's identity
  init                        initialize the identity's vault
  deposit <lamports>          deposit into the identity's vault
  show [identity]             print vault addresses, bumps and balances
  balance <address>           print the lamports held at an address
  status                      print the node's chain head
  genesis <lamports> <id>...  print a genesis file funding identities

flags:
`)
}

func main() {
	if err := run(context.Background(), os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "vaultctl:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("vaultctl", flag.ContinueOnError)
	node := fs.String("node", "127.0.0.1:8899", "node gRPC address")
	keyPath := fs.String("key", defaultKeyPath(), "keypair file")
	programID := fs.String("program-id", "", "vault program address (base58); empty uses the default")
	timeout := fs.Duration("timeout", 30*time.Second, "time to wait for a transaction to execute")
	fs.Usage = func() {
		usage(fs.Output())
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return errors.New("missing command")
	}
	cmd, rest := fs.Arg(0), fs.Args()[1:]

	switch cmd {
	case "keygen":
		key, err := writeKey(*keyPath)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "wrote %s\nidentity: %s\n", *keyPath, identityOf(key))
		return nil

	case "address":
		key, err := readKey(*keyPath)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, identityOf(key))
		return nil

	case "genesis":
		return printGenesis(out, rest)
	}

	var opts []client.Option
	if *programID != "" {
		id, err := types.ParsePubkey(*programID)
		if err != nil {
			return fmt.Errorf("program-id: %w", err)
		}
		opts = append(opts, client.WithProgramID(id))
	}
	nc, err := vaultgrpc.DialNode(*node, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return err
	}
	defer nc.Close()
	c := client.New(nc, opts...)

	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()

	switch cmd {
	case "init":
		key, err := readKey(*keyPath)
		if err != nil {
			return err
		}
		r, err := c.Initialize(ctx, key)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "initialized at height %d (tx %s)\n", r.Height, r.TxID)
		return show(ctx, out, c, identityOf(key))

	case "deposit":
		if len(rest) != 1 {
			return errors.New("deposit takes one amount in lamports")
		}
		amount, err := strconv.ParseUint(rest[0], 10, 64)
		if err != nil {
			return fmt.Errorf("amount: %w", err)
		}
		key, err := readKey(*keyPath)
		if err != nil {
			return err
		}
		r, err := c.Deposit(ctx, key, amount)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "deposited %d lamports at height %d (tx %s)\n", amount, r.Height, r.TxID)
		return show(ctx, out, c, identityOf(key))

	case "show":
		var identity types.Pubkey
		if len(rest) > 0 {
			identity, err = types.ParsePubkey(rest[0])
		} else {
			var key []byte
			key, err = readKey(*keyPath)
			if err == nil {
				identity = identityOf(key)
			}
		}
		if err != nil {
			return err
		}
		return show(ctx, out, c, identity)

	case "balance":
		if len(rest) != 1 {
			return errors.New("balance takes one address")
		}
		addr, err := types.ParsePubkey(rest[0])
		if err != nil {
			return err
		}
		bal, err := c.Balance(ctx, addr)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, bal)
		return nil

	case "status":
		st, err := nc.Status(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "height:   %d\napp hash: %s\npending:  %d\n", st.Height, types.Hash(st.AppHash), st.Pending)
		return nil

	default:
		fs.Usage()
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func show(ctx context.Context, out io.Writer, c *client.Client, identity types.Pubkey) error {
	addrs, err := c.Addresses(identity)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "identity: %s\n", identity)
	fmt.Fprintf(out, "vault:    %s (bump %d)\n", addrs.Vault, addrs.VaultBump)
	fmt.Fprintf(out, "state:    %s (bump %d)\n", addrs.State, addrs.StateBump)

	state, err := c.VaultState(ctx, identity)
	switch {
	case errors.Is(err, client.ErrNotFound):
		fmt.Fprintln(out, "status:   not initialized")
	case err != nil:
		return err
	default:
		fmt.Fprintf(out, "status:   initialized (stored bumps %d/%d)\n", state.VaultBump, state.StateBump)
	}

	for _, a := range []struct {
		label string
		addr  types.Pubkey
	}{{"identity balance", identity}, {"vault balance", addrs.Vault}} {
		bal, err := c.Balance(ctx, a.addr)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "%s: %d\n", a.label, bal)
	}
	return nil
}

func printGenesis(out io.Writer, args []string) error {
	if len(args) < 2 {
		return errors.New("genesis takes an amount and at least one identity")
	}
	lamports, err := strconv.ParseUint(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("amount: %w", err)
	}
	type file struct {
		ChainID     string               `json:"chain_id"`
		GenesisTime time.Time            `json:"genesis_time"`
		Accounts    []app.GenesisAccount `json:"accounts"`
	}
	g := file{ChainID: "vault-devnet", GenesisTime: time.Now().UTC().Truncate(time.Second)}
	for _, s := range args[1:] {
		id, err := types.ParsePubkey(s)
		if err != nil {
			return fmt.Errorf("identity %q: %w", s, err)
		}
		g.Accounts = append(g.Accounts, app.GenesisAccount{Address: id, Lamports: lamports})
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(g)
}

func identityOf(key []byte) types.Pubkey {
	var id types.Pubkey
	copy(id[:], key[32:])
	return id
}
