package types

// Query result codes.
const (
	QueryOK          uint32 = 0
	QueryNotFound    uint32 = 1
	QueryBadRequest  uint32 = 2
	QueryUnsupported uint32 = 3
)

// StateQuery is a request to read application state.
type StateQuery struct {
	Path QueryPath `cramberry:"1"`
	Data []byte    `cramberry:"2"`
	// Height to query at. Nil = latest committed state.
	Height *uint64 `cramberry:"3"`
}

// StateQueryResult is the application's response to a state query.
type StateQueryResult struct {
	Code   uint32 `cramberry:"1"`
	Key    []byte `cramberry:"2"`
	Value  []byte `cramberry:"3"`
	Height uint64 `cramberry:"4"`
	Info   string `cramberry:"5"`
}

// OK returns true if the query succeeded.
func (r StateQueryResult) OK() bool { return r.Code == QueryOK }
