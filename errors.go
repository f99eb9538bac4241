package vault

import (
	"errors"
	"fmt"
)

// Transaction failures. Each maps to a stable outcome code reported in
// types.TxOutcome.Code, so clients can recover the kind across the wire.
var (
	// ErrUnauthorized indicates a missing or invalid signature, or an
	// identity account that is not the transaction signer.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrAlreadyInitialized indicates the vault or its state account already exists.
	ErrAlreadyInitialized = errors.New("vault already initialized")

	// ErrVaultNotInitialized indicates a missing vault state, or accounts
	// that do not match the identity's derivation.
	ErrVaultNotInitialized = errors.New("vault not initialized")

	// ErrInvalidAmount indicates a zero deposit.
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrInsufficientFunds indicates a balance too low for the operation's cost.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrInvalidTransaction indicates an undecodable transaction.
	ErrInvalidTransaction = errors.New("invalid transaction")

	// ErrBadNonce indicates a replayed or out-of-order transaction.
	ErrBadNonce = errors.New("bad nonce")

	// ErrUnknownProgram indicates an instruction addressed to no known program.
	ErrUnknownProgram = errors.New("unknown program")

	// ErrInvalidInstruction indicates unknown or malformed instruction data.
	ErrInvalidInstruction = errors.New("invalid instruction")

	// ErrInvalidAccounts indicates a malformed account list.
	ErrInvalidAccounts = errors.New("invalid accounts")
)

// Outcome codes. CodeOK is success; CodeInternal covers any error that
// is not one of the sentinels above.
const (
	CodeOK                  uint32 = 0
	CodeUnauthorized        uint32 = 1
	CodeAlreadyInitialized  uint32 = 2
	CodeVaultNotInitialized uint32 = 3
	CodeInvalidAmount       uint32 = 4
	CodeInsufficientFunds   uint32 = 5
	CodeInvalidTransaction  uint32 = 6
	CodeBadNonce            uint32 = 7
	CodeUnknownProgram      uint32 = 8
	CodeInvalidInstruction  uint32 = 9
	CodeInvalidAccounts     uint32 = 10
	CodeInternal            uint32 = 255
)

var codeTable = []struct {
	err  error
	code uint32
}{
	{ErrUnauthorized, CodeUnauthorized},
	{ErrAlreadyInitialized, CodeAlreadyInitialized},
	{ErrVaultNotInitialized, CodeVaultNotInitialized},
	{ErrInvalidAmount, CodeInvalidAmount},
	{ErrInsufficientFunds, CodeInsufficientFunds},
	{ErrInvalidTransaction, CodeInvalidTransaction},
	{ErrBadNonce, CodeBadNonce},
	{ErrUnknownProgram, CodeUnknownProgram},
	{ErrInvalidInstruction, CodeInvalidInstruction},
	{ErrInvalidAccounts, CodeInvalidAccounts},
}

// Code returns the outcome code for err. A nil error is CodeOK.
func Code(err error) uint32 {
	if err == nil {
		return CodeOK
	}
	for _, e := range codeTable {
		if errors.Is(err, e.err) {
			return e.code
		}
	}
	return CodeInternal
}

// ErrorForCode returns the sentinel error for an outcome code, or nil for
// CodeOK and unknown codes.
func ErrorForCode(code uint32) error {
	for _, e := range codeTable {
		if e.code == code {
			return e.err
		}
	}
	return nil
}

// HaltError signals that the application detected an irrecoverable
// inconsistency and requests an immediate chain halt.
//
// When the engine receives a HaltError from ExecuteBlock or Commit, it
// must stop producing blocks and not proceed.
type HaltError struct {
	Reason string
	Height uint64
}

func (e *HaltError) Error() string {
	return fmt.Sprintf("HALT at height %d: %s", e.Height, e.Reason)
}

// NewHaltError creates a new HaltError.
func NewHaltError(height uint64, reason string) *HaltError {
	return &HaltError{Height: height, Reason: reason}
}

// IsHalt checks whether an error is a HaltError and returns it.
func IsHalt(err error) (*HaltError, bool) {
	var h *HaltError
	if errors.As(err, &h) {
		return h, true
	}
	return nil, false
}
