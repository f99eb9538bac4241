package app

import (
	"context"
	"crypto/sha256"
	"fmt"

	"github.com/blockberries/cramberry/pkg/cramberry"
	"go.uber.org/zap"

	"github.com/blockberries/vault/ledger"
	"github.com/blockberries/vault/types"
)

const (
	snapshotFormat    uint32 = 1
	snapshotChunkSize        = 64 * 1024
)

// snapshot is the payload carried by state sync chunks.
type snapshot struct {
	Height uint64       `cramberry:"1"`
	State  ledger.State `cramberry:"2"`
}

// encodeSnapshot must be called with a.mu held.
func (a *App) encodeSnapshot() ([]byte, *types.SnapshotDescriptor, error) {
	data, err := cramberry.Marshal(snapshot{Height: a.height, State: a.current.State()})
	if err != nil {
		return nil, nil, fmt.Errorf("marshal snapshot: %w", err)
	}
	return data, &types.SnapshotDescriptor{
		Height:   a.height,
		Format:   snapshotFormat,
		Chunks:   uint32((len(data) + snapshotChunkSize - 1) / snapshotChunkSize),
		Hash:     types.Hash(sha256.Sum256(data)),
		Accounts: uint32(a.current.Len()),
	}, nil
}

func (a *App) AvailableSnapshots(_ context.Context) ([]types.SnapshotDescriptor, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.height == 0 {
		return nil, nil
	}
	_, desc, err := a.encodeSnapshot()
	if err != nil {
		return nil, err
	}
	return []types.SnapshotDescriptor{*desc}, nil
}

func (a *App) ExportSnapshot(_ context.Context, height uint64, format uint32) (<-chan types.SnapshotChunk, *types.SnapshotDescriptor, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if format != snapshotFormat {
		return nil, nil, fmt.Errorf("unsupported snapshot format %d", format)
	}
	if height != a.height {
		return nil, nil, fmt.Errorf("snapshot at height %d not available (current: %d)", height, a.height)
	}
	data, desc, err := a.encodeSnapshot()
	if err != nil {
		return nil, nil, err
	}

	ch := make(chan types.SnapshotChunk, desc.Chunks)
	go func() {
		defer close(ch)
		for i := uint32(0); i < desc.Chunks; i++ {
			start := int(i) * snapshotChunkSize
			end := min(start+snapshotChunkSize, len(data))
			ch <- types.SnapshotChunk{Index: i, Data: data[start:end]}
		}
	}()
	return ch, desc, nil
}

func (a *App) ImportSnapshot(ctx context.Context, desc types.SnapshotDescriptor, chunks <-chan types.SnapshotChunk) (types.ImportResult, error) {
	if desc.Format != snapshotFormat {
		return reject(fmt.Sprintf("unsupported format %d", desc.Format)), nil
	}

	received := make(map[uint32][]byte, desc.Chunks)
	var outOfRange []uint32
	for chunk := range chunks {
		if chunk.Index >= desc.Chunks {
			outOfRange = append(outOfRange, chunk.Index)
			continue
		}
		received[chunk.Index] = chunk.Data
	}
	if len(outOfRange) > 0 {
		return reject(fmt.Sprintf("chunk indices %v out of range", outOfRange)), nil
	}
	if uint32(len(received)) != desc.Chunks {
		var missing []uint32
		for i := uint32(0); i < desc.Chunks; i++ {
			if _, ok := received[i]; !ok {
				missing = append(missing, i)
			}
		}
		return types.ImportResult{Status: types.ImportRetryChunks, RetryIndices: missing}, nil
	}

	var full []byte
	for i := uint32(0); i < desc.Chunks; i++ {
		full = append(full, received[i]...)
	}
	if types.Hash(sha256.Sum256(full)) != desc.Hash {
		return reject("snapshot hash mismatch"), nil
	}

	var snap snapshot
	if err := cramberry.Unmarshal(full, &snap); err != nil {
		return reject(fmt.Sprintf("unmarshal snapshot: %v", err)), nil
	}
	if snap.Height != desc.Height {
		return reject(fmt.Sprintf("snapshot height %d does not match descriptor %d", snap.Height, desc.Height)), nil
	}

	l := ledger.FromAccounts(snap.State.Accounts)
	if uint32(l.Len()) != desc.Accounts {
		return reject(fmt.Sprintf("snapshot holds %d accounts, descriptor says %d", l.Len(), desc.Accounts)), nil
	}
	h, err := l.Hash()
	if err != nil {
		return types.ImportResult{}, err
	}
	if a.store != nil {
		if err := a.store.Replace(ctx, snap.Height, h, l.Accounts()); err != nil {
			return types.ImportResult{}, fmt.Errorf("persist snapshot: %w", err)
		}
	}

	a.mu.Lock()
	a.current = l
	a.height = snap.Height
	a.appHash = h
	a.mu.Unlock()

	a.metrics.observeCommit(snap.Height, l.Len(), nil)
	a.logger.Info("imported snapshot", zap.Uint64("height", snap.Height), zap.Int("accounts", l.Len()))
	return types.ImportResult{Status: types.ImportOK, AppHash: &h}, nil
}

func reject(reason string) types.ImportResult {
	return types.ImportResult{Status: types.ImportReject, Reason: reason}
}
