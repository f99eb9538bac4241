package vaultgrpc

import "github.com/blockberries/vault/types"

// Request and response wrappers for RPCs whose Go signatures do not map
// to a single struct. They exist only at the serialization boundary.

// CheckTxRequest wraps the parameters for Lifecycle.CheckTx.
type CheckTxRequest struct {
	Tx      types.Tx             `cramberry:"1"`
	Context types.MempoolContext `cramberry:"2"`
}

// CommitRequest is the (empty) request for Lifecycle.Commit.
type CommitRequest struct{}

// AvailableSnapshotsRequest is the (empty) request for StateSync.AvailableSnapshots.
type AvailableSnapshotsRequest struct{}

// AvailableSnapshotsResponse wraps the return value of StateSync.AvailableSnapshots.
type AvailableSnapshotsResponse struct {
	Snapshots []types.SnapshotDescriptor `cramberry:"1"`
}

// ExportSnapshotRequest wraps parameters for StateSync.ExportSnapshot.
type ExportSnapshotRequest struct {
	Height uint64 `cramberry:"1"`
	Format uint32 `cramberry:"2"`
}

// ImportSnapshotMessage is a tagged union carrying either a descriptor
// (first message) or a chunk (subsequent messages) for the
// ImportSnapshot client-streaming RPC.
type ImportSnapshotMessage struct {
	Descriptor *types.SnapshotDescriptor `cramberry:"1"`
	Chunk      *types.SnapshotChunk      `cramberry:"2"`
}

// SimulateRequest wraps the parameter for Simulator.Simulate.
type SimulateRequest struct {
	Tx types.Tx `cramberry:"1"`
}

// SubmitRequest carries a signed transaction to the node.
type SubmitRequest struct {
	Tx types.Tx `cramberry:"1"`
}

// SubmitResponse reports the mempool verdict and the id to wait on.
type SubmitResponse struct {
	TxID    types.Hash        `cramberry:"1"`
	Verdict types.GateVerdict `cramberry:"2"`
}

// ReceiptRequest asks for the receipt of a submitted transaction. The
// node waits for it until the call's deadline.
type ReceiptRequest struct {
	TxID types.Hash `cramberry:"1"`
}

// StatusRequest is the (empty) request for Node.Status.
type StatusRequest struct{}

// StatusResponse describes the node's chain head.
type StatusResponse struct {
	Height  uint64        `cramberry:"1"`
	AppHash types.AppHash `cramberry:"2"`
	Pending uint32        `cramberry:"3"`
}
