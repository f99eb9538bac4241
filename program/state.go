package program

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"fmt"

	"github.com/blockberries/cramberry/pkg/cramberry"
)

// DiscriminatorSize is the length of the type tag that prefixes account
// and instruction data.
const DiscriminatorSize = 8

var vaultStateDiscriminator = discriminator("account", "VaultState")

// ErrNotVaultState is returned when account data does not carry the
// VaultState tag.
var ErrNotVaultState = errors.New("account data is not a vault state")

// VaultState is the data of an identity's state account: the bumps that
// derived its two addresses.
type VaultState struct {
	VaultBump uint8 `cramberry:"1"`
	StateBump uint8 `cramberry:"2"`
}

// Encode returns the tagged account data.
func (s VaultState) Encode() ([]byte, error) {
	body, err := cramberry.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("marshal vault state: %w", err)
	}
	out := make([]byte, 0, DiscriminatorSize+len(body))
	out = append(out, vaultStateDiscriminator[:]...)
	return append(out, body...), nil
}

// DecodeVaultState parses tagged account data.
func DecodeVaultState(data []byte) (VaultState, error) {
	var s VaultState
	if len(data) < DiscriminatorSize || !bytes.Equal(data[:DiscriminatorSize], vaultStateDiscriminator[:]) {
		return s, ErrNotVaultState
	}
	if err := cramberry.Unmarshal(data[DiscriminatorSize:], &s); err != nil {
		return s, fmt.Errorf("unmarshal vault state: %w", err)
	}
	return s, nil
}

// discriminator returns the first 8 bytes of sha256("namespace:name").
func discriminator(namespace, name string) [DiscriminatorSize]byte {
	sum := sha256.Sum256([]byte(namespace + ":" + name))
	var d [DiscriminatorSize]byte
	copy(d[:], sum[:DiscriminatorSize])
	return d
}
