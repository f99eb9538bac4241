package types

import (
	"crypto/ed25519"
	"errors"
	"fmt"

	"github.com/blockberries/cramberry/pkg/cramberry"
	"github.com/mr-tron/base58"
)

// ErrBadSignature is returned by Transaction.Verify.
var ErrBadSignature = errors.New("signature verification failed")

// Signature is an ed25519 signature over a Message.
type Signature [ed25519.SignatureSize]byte

func (s Signature) String() string { return base58.Encode(s[:]) }

// AccountMeta names an account an instruction touches.
type AccountMeta struct {
	Pubkey     Pubkey `cramberry:"1"`
	IsSigner   bool   `cramberry:"2"`
	IsWritable bool   `cramberry:"3"`
}

// Instruction is a single program invocation.
type Instruction struct {
	ProgramID Pubkey        `cramberry:"1"`
	Accounts  []AccountMeta `cramberry:"2"`
	Data      []byte        `cramberry:"3"`
}

// Message is the signed body of a transaction.
type Message struct {
	Signer Pubkey `cramberry:"1"`
	// Must equal the signer account's Nonce at execution time.
	Nonce       uint64      `cramberry:"2"`
	Instruction Instruction `cramberry:"3"`
}

// SigningBytes returns the deterministic encoding the signature covers.
func (m Message) SigningBytes() ([]byte, error) {
	data, err := cramberry.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal message: %w", err)
	}
	return data, nil
}

// Transaction is a signed message.
type Transaction struct {
	Message   Message   `cramberry:"1"`
	Signature Signature `cramberry:"2"`
}

// NewTransaction builds and signs a transaction. The signer is the
// public half of key.
func NewTransaction(key ed25519.PrivateKey, nonce uint64, ix Instruction) (Transaction, error) {
	msg := Message{
		Signer:      PubkeyFromPublicKey(key.Public().(ed25519.PublicKey)),
		Nonce:       nonce,
		Instruction: ix,
	}
	data, err := msg.SigningBytes()
	if err != nil {
		return Transaction{}, err
	}
	var sig Signature
	copy(sig[:], ed25519.Sign(key, data))
	return Transaction{Message: msg, Signature: sig}, nil
}

// Verify checks the signature against the message signer.
func (t Transaction) Verify() error {
	data, err := t.Message.SigningBytes()
	if err != nil {
		return err
	}
	if !ed25519.Verify(ed25519.PublicKey(t.Message.Signer[:]), data, t.Signature[:]) {
		return ErrBadSignature
	}
	return nil
}

// Encode returns the wire form.
func (t Transaction) Encode() (Tx, error) {
	data, err := cramberry.Marshal(t)
	if err != nil {
		return nil, fmt.Errorf("marshal transaction: %w", err)
	}
	return data, nil
}

// DecodeTransaction parses the wire form.
func DecodeTransaction(tx Tx) (Transaction, error) {
	var t Transaction
	if len(tx) == 0 {
		return t, errors.New("empty transaction")
	}
	if err := cramberry.Unmarshal(tx, &t); err != nil {
		return t, fmt.Errorf("unmarshal transaction: %w", err)
	}
	return t, nil
}
