package types

import (
	"crypto/ed25519"
	"fmt"

	"github.com/mr-tron/base58"
)

// PubkeyLength is the size of an ed25519 public key or derived address.
const PubkeyLength = 32

// Pubkey identifies an account: either an ed25519 public key or a
// program-derived address with no private key. Its text form is base58.
type Pubkey [PubkeyLength]byte

// PubkeyFromBytes copies b into a Pubkey.
func PubkeyFromBytes(b []byte) (Pubkey, error) {
	var p Pubkey
	if len(b) != PubkeyLength {
		return p, fmt.Errorf("pubkey must be %d bytes, got %d", PubkeyLength, len(b))
	}
	copy(p[:], b)
	return p, nil
}

// PubkeyFromPublicKey converts an ed25519 public key.
func PubkeyFromPublicKey(k ed25519.PublicKey) Pubkey {
	var p Pubkey
	copy(p[:], k)
	return p
}

// ParsePubkey decodes a base58 address.
func ParsePubkey(s string) (Pubkey, error) {
	b, err := base58.Decode(s)
	if err != nil {
		return Pubkey{}, fmt.Errorf("decode pubkey %q: %w", s, err)
	}
	return PubkeyFromBytes(b)
}

// MustParsePubkey is ParsePubkey for constants; it panics on error.
func MustParsePubkey(s string) Pubkey {
	p, err := ParsePubkey(s)
	if err != nil {
		panic(err)
	}
	return p
}

// Bytes returns a copy of the key bytes.
func (p Pubkey) Bytes() []byte {
	b := make([]byte, PubkeyLength)
	copy(b, p[:])
	return b
}

// IsZero reports whether p is all zeros.
func (p Pubkey) IsZero() bool { return p == Pubkey{} }

func (p Pubkey) String() string { return base58.Encode(p[:]) }

// MarshalText implements encoding.TextMarshaler.
func (p Pubkey) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *Pubkey) UnmarshalText(text []byte) error {
	v, err := ParsePubkey(string(text))
	if err != nil {
		return err
	}
	*p = v
	return nil
}
