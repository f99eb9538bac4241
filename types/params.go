package types

// ConsensusParams bounds block and transaction sizes.
type ConsensusParams struct {
	MaxBlockBytes uint64 `cramberry:"1"`
	MaxTxBytes    uint64 `cramberry:"2"`
}
