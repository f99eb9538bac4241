package program

import (
	"fmt"

	"github.com/blockberries/cramberry/pkg/cramberry"

	"github.com/blockberries/vault"
	"github.com/blockberries/vault/types"
)

// Instruction names.
const (
	InitializeName = "initialize"
	DepositName    = "deposit"
)

var (
	initializeDiscriminator = discriminator("global", InitializeName)
	depositDiscriminator    = discriminator("global", DepositName)
)

// DepositArgs are the arguments of a deposit instruction.
type DepositArgs struct {
	Amount uint64 `cramberry:"1"`
}

// NewInitializeInstruction builds the instruction that creates identity's
// vault and state accounts.
func NewInitializeInstruction(programID, identity types.Pubkey) (types.Instruction, error) {
	addrs, err := Derive(programID, identity)
	if err != nil {
		return types.Instruction{}, err
	}
	return types.Instruction{
		ProgramID: programID,
		Accounts:  accountMetas(addrs),
		Data:      append([]byte(nil), initializeDiscriminator[:]...),
	}, nil
}

// NewDepositInstruction builds the instruction that moves amount from
// identity into its vault.
func NewDepositInstruction(programID, identity types.Pubkey, amount uint64) (types.Instruction, error) {
	addrs, err := Derive(programID, identity)
	if err != nil {
		return types.Instruction{}, err
	}
	args, err := cramberry.Marshal(DepositArgs{Amount: amount})
	if err != nil {
		return types.Instruction{}, fmt.Errorf("marshal deposit args: %w", err)
	}
	data := make([]byte, 0, DiscriminatorSize+len(args))
	data = append(data, depositDiscriminator[:]...)
	return types.Instruction{
		ProgramID: programID,
		Accounts:  accountMetas(addrs),
		Data:      append(data, args...),
	}, nil
}

// accountMetas is the account list both instructions take:
// identity, vault state, vault, system program.
func accountMetas(addrs Addresses) []types.AccountMeta {
	return []types.AccountMeta{
		{Pubkey: addrs.Identity, IsSigner: true, IsWritable: true},
		{Pubkey: addrs.State, IsWritable: true},
		{Pubkey: addrs.Vault, IsWritable: true},
		{Pubkey: SystemProgramID},
	}
}

type decoded struct {
	name   string
	amount uint64
}

func decodeInstruction(data []byte) (decoded, error) {
	if len(data) < DiscriminatorSize {
		return decoded{}, fmt.Errorf("%w: data is %d bytes", vault.ErrInvalidInstruction, len(data))
	}
	var d [DiscriminatorSize]byte
	copy(d[:], data)
	switch d {
	case initializeDiscriminator:
		return decoded{name: InitializeName}, nil
	case depositDiscriminator:
		var args DepositArgs
		if err := cramberry.Unmarshal(data[DiscriminatorSize:], &args); err != nil {
			return decoded{}, fmt.Errorf("%w: deposit args: %v", vault.ErrInvalidInstruction, err)
		}
		return decoded{name: DepositName, amount: args.Amount}, nil
	default:
		return decoded{}, fmt.Errorf("%w: unknown discriminator %x", vault.ErrInvalidInstruction, d)
	}
}
