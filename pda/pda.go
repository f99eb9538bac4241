// Package pda derives program addresses: 32-byte account addresses that
// are deterministically computed from a list of seeds and a program ID
// and that are guaranteed to have no ed25519 private key.
//
// The derivation is bit-compatible with the Solana runtime:
//
//	sha256(seed_0 || ... || seed_n || programID || "ProgramDerivedAddress")
//
// and a result is only valid if it does not decode as a point on the
// ed25519 curve.
package pda

import (
	"crypto/sha256"
	"errors"
	"fmt"

	"filippo.io/edwards25519"

	"github.com/blockberries/vault/types"
)

const (
	// MaxSeeds is the maximum number of seeds, including the bump.
	MaxSeeds = 16
	// MaxSeedLength is the maximum length of a single seed.
	MaxSeedLength = 32

	marker = "ProgramDerivedAddress"
)

var (
	// ErrOnCurve is returned when the hashed seeds land on the curve.
	ErrOnCurve = errors.New("derived address is on the ed25519 curve")
	// ErrNoViableBump is returned when no bump in 255..1 yields an
	// off-curve address.
	ErrNoViableBump = errors.New("unable to find a viable bump seed")
	// ErrMaxSeedLength is returned for a seed longer than MaxSeedLength.
	ErrMaxSeedLength = errors.New("seed exceeds max length")
	// ErrTooManySeeds is returned for more than MaxSeeds seeds.
	ErrTooManySeeds = errors.New("too many seeds")
)

// CreateProgramAddress hashes seeds under programID and returns the
// address, or ErrOnCurve if the result could be someone's public key.
func CreateProgramAddress(seeds [][]byte, programID types.Pubkey) (types.Pubkey, error) {
	if len(seeds) > MaxSeeds {
		return types.Pubkey{}, fmt.Errorf("%w: %d > %d", ErrTooManySeeds, len(seeds), MaxSeeds)
	}
	h := sha256.New()
	for i, s := range seeds {
		if len(s) > MaxSeedLength {
			return types.Pubkey{}, fmt.Errorf("%w: seed %d is %d bytes", ErrMaxSeedLength, i, len(s))
		}
		h.Write(s)
	}
	h.Write(programID[:])
	h.Write([]byte(marker))

	var addr types.Pubkey
	copy(addr[:], h.Sum(nil))
	if IsOnCurve(addr) {
		return types.Pubkey{}, ErrOnCurve
	}
	return addr, nil
}

// FindProgramAddress searches bumps from 255 down to 1, appending each as
// a final one-byte seed, and returns the first off-curve address along
// with the bump that produced it.
func FindProgramAddress(seeds [][]byte, programID types.Pubkey) (types.Pubkey, uint8, error) {
	if len(seeds) >= MaxSeeds {
		return types.Pubkey{}, 0, fmt.Errorf("%w: %d seeds leave no room for the bump", ErrTooManySeeds, len(seeds))
	}
	withBump := make([][]byte, len(seeds)+1)
	copy(withBump, seeds)
	bump := []byte{0}

	for b := 255; b > 0; b-- {
		bump[0] = uint8(b)
		withBump[len(seeds)] = bump
		addr, err := CreateProgramAddress(withBump, programID)
		switch {
		case err == nil:
			return addr, uint8(b), nil
		case errors.Is(err, ErrOnCurve):
			continue
		default:
			return types.Pubkey{}, 0, err
		}
	}
	return types.Pubkey{}, 0, ErrNoViableBump
}

// IsOnCurve reports whether p decodes as an ed25519 point.
func IsOnCurve(p types.Pubkey) bool {
	_, err := new(edwards25519.Point).SetBytes(p[:])
	return err == nil
}
