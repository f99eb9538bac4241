// Package types defines the core data types shared by the vault
// application, its engine and its clients.
//
// These are plain Go structs with cramberry struct tags for
// deterministic binary serialization. Transport concerns
// (gRPC codec registration) are handled in the transport packages.
package types

import (
	"crypto/sha256"
	"encoding/hex"
)

// Hash is a 32-byte cryptographic hash.
type Hash [32]byte

// HashBytes returns the sha256 of b.
func HashBytes(b []byte) Hash {
	return Hash(sha256.Sum256(b))
}

// String returns the lowercase hex form.
func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// AppHash is a deterministic fingerprint of the application
// state after execution.
type AppHash [32]byte

// Tx is an opaque application transaction.
// The engine never inspects its contents.
type Tx []byte

// ID returns the identifier the engine uses for receipts.
func (tx Tx) ID() Hash {
	return HashBytes(tx)
}

// QueryPath is a structured key for state queries (e.g., "/balance").
type QueryPath string

// BlockID uniquely identifies a point in the chain.
type BlockID struct {
	Height uint64 `cramberry:"1"`
	Hash   Hash   `cramberry:"2"`
}
