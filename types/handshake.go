package types

// HandshakeRequest opens a session with the application. A nil
// LastCommitted asks for a fresh start from Genesis; otherwise the
// engine is resuming and Genesis is nil.
type HandshakeRequest struct {
	LastCommitted *BlockID    `cramberry:"1"`
	Genesis       *GenesisDoc `cramberry:"2"`
}

// HandshakeResponse reports what the application has committed.
type HandshakeResponse struct {
	// Nil when the application holds no committed block.
	LastBlock    *BlockID     `cramberry:"1"`
	AppHash      *AppHash     `cramberry:"2"`
	Capabilities Capabilities `cramberry:"3"`
}
