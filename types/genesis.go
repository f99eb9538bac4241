package types

// GenesisDoc is the raw genesis document for chain initialization.
type GenesisDoc struct {
	ChainID         string          `cramberry:"1"`
	GenesisTime     Timestamp       `cramberry:"2"`
	InitialHeight   uint64          `cramberry:"3"`
	ConsensusParams ConsensusParams `cramberry:"4"`
	// Application-specific genesis state (JSON).
	AppState []byte `cramberry:"5"`
}
