package program

import (
	"fmt"

	"github.com/blockberries/vault/pda"
	"github.com/blockberries/vault/types"
)

// Seed labels for the two per-identity accounts.
const (
	VaultSeed = "vault"
	StateSeed = "state"
)

var (
	// DefaultProgramID is the address the vault program is deployed at.
	DefaultProgramID = types.MustParsePubkey("CBk5WRtN2Zhm8BGUSdH2WHwDaUJ8JNtCdbNGsD34a9oQ")
	// SystemProgramID is the runtime's native transfer program.
	SystemProgramID = types.MustParsePubkey("11111111111111111111111111111111")
)

// Addresses are the derived accounts of one identity.
type Addresses struct {
	Identity  types.Pubkey `cramberry:"1"`
	Vault     types.Pubkey `cramberry:"2"`
	VaultBump uint8        `cramberry:"3"`
	State     types.Pubkey `cramberry:"4"`
	StateBump uint8        `cramberry:"5"`
}

// Derive computes the vault and state addresses of identity under
// programID. It is a pure function of its inputs.
func Derive(programID, identity types.Pubkey) (Addresses, error) {
	vault, vaultBump, err := pda.FindProgramAddress(seeds(VaultSeed, identity), programID)
	if err != nil {
		return Addresses{}, fmt.Errorf("derive vault address: %w", err)
	}
	state, stateBump, err := pda.FindProgramAddress(seeds(StateSeed, identity), programID)
	if err != nil {
		return Addresses{}, fmt.Errorf("derive state address: %w", err)
	}
	return Addresses{
		Identity:  identity,
		Vault:     vault,
		VaultBump: vaultBump,
		State:     state,
		StateBump: stateBump,
	}, nil
}

// rederive checks that label, identity and a stored bump produce want.
func rederive(programID types.Pubkey, label string, identity types.Pubkey, bump uint8, want types.Pubkey) bool {
	got, err := pda.CreateProgramAddress(append(seeds(label, identity), []byte{bump}), programID)
	return err == nil && got == want
}

func seeds(label string, identity types.Pubkey) [][]byte {
	return [][]byte{[]byte(label), identity.Bytes()}
}
