package ledger

// Rent parameters: an account is exempt once it holds two years of rent
// for its storage, including a fixed per-account overhead.
const (
	AccountStorageOverhead = 128
	LamportsPerByteYear    = 3480
	ExemptionYears         = 2
)

// MinimumBalance returns the rent-exempt minimum for an account with
// dataLen bytes of data.
func MinimumBalance(dataLen int) uint64 {
	return uint64(AccountStorageOverhead+dataLen) * LamportsPerByteYear * ExemptionYears
}
