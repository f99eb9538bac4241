package types

// SnapshotDescriptor identifies a ledger snapshot taken at a
// committed height.
type SnapshotDescriptor struct {
	Height uint64 `cramberry:"1"`
	Format uint32 `cramberry:"2"`
	Chunks uint32 `cramberry:"3"`
	// sha256 of the concatenated chunk data.
	Hash Hash `cramberry:"4"`
	// Number of ledger accounts the snapshot restores.
	Accounts uint32 `cramberry:"5"`
}

// SnapshotChunk is one slice of an encoded snapshot.
type SnapshotChunk struct {
	Index uint32 `cramberry:"1"`
	Data  []byte `cramberry:"2"`
}

// ImportStatus is the verdict on an imported snapshot.
type ImportStatus uint8

const (
	ImportOK ImportStatus = 1
	// ImportReject means the snapshot is unusable; pick another.
	ImportReject ImportStatus = 2
	// ImportRetryChunks lists chunk indices that never arrived.
	ImportRetryChunks ImportStatus = 3
)

// ImportResult reports the outcome of ImportSnapshot. AppHash is set
// for ImportOK, Reason for ImportReject and RetryIndices for
// ImportRetryChunks.
type ImportResult struct {
	Status       ImportStatus `cramberry:"1"`
	AppHash      *AppHash     `cramberry:"2"`
	Reason       string       `cramberry:"3"`
	RetryIndices []uint32     `cramberry:"4"`
}
