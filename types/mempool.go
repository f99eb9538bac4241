package types

// MempoolContext says why CheckTx is being called.
type MempoolContext uint8

const (
	// MempoolFirstSeen is a transaction just submitted to the node.
	MempoolFirstSeen MempoolContext = 1
	// MempoolRevalidation is a pending transaction re-checked after
	// a block was committed.
	MempoolRevalidation MempoolContext = 2
)

// GateVerdict is the admission decision for a pending transaction.
// A zero Code admits it; any other Code is an outcome code and Info
// explains the rejection.
type GateVerdict struct {
	Code uint32 `cramberry:"1"`
	Info string `cramberry:"2"`
	// Signer and Nonce are only set for admitted transactions.
	Sender string `cramberry:"3"`
	Nonce  uint64 `cramberry:"4"`
}

// Accepted reports whether the transaction was admitted.
func (v GateVerdict) Accepted() bool { return v.Code == 0 }
