package vaultgrpc

import (
	"context"
	"errors"
	"fmt"
	"io"

	"google.golang.org/grpc"

	"github.com/blockberries/vault"
	"github.com/blockberries/vault/server"
	"github.com/blockberries/vault/types"
)

// Compile-time interface check.
var _ vault.Connection = (*Client)(nil)

// Client implements vault.Connection for a remote application served by
// an AppServer. It enforces the lifecycle locally as well, so ordering
// bugs surface in the engine rather than across the wire.
type Client struct {
	cc    *grpc.ClientConn
	caps  types.Capabilities
	guard *server.LifecycleGuard
}

// Dial connects to a remote application. The connection is established
// lazily on the first call.
func Dial(addr string, opts ...grpc.DialOption) (*Client, error) {
	opts = append(opts, grpc.WithDefaultCallOptions(grpc.ForceCodec(CramberryCodec{})))
	cc, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("vault client: dial %s: %w", addr, err)
	}
	return &Client{
		cc:    cc,
		guard: server.NewLifecycleGuard(),
	}, nil
}

func (c *Client) Close() error {
	return c.cc.Close()
}

func (c *Client) invoke(ctx context.Context, method string, req, resp any) error {
	return fromStatus(c.cc.Invoke(ctx, fullMethod(appServiceName, method), req, resp))
}

// --- Lifecycle ---

func (c *Client) Handshake(ctx context.Context, req types.HandshakeRequest) (types.HandshakeResponse, error) {
	finish := c.guard.BeginHandshake()

	resp := new(types.HandshakeResponse)
	if err := c.invoke(ctx, "Handshake", &req, resp); err != nil {
		finish(false)
		return types.HandshakeResponse{}, err
	}

	c.caps = resp.Capabilities
	finish(true)
	return *resp, nil
}

func (c *Client) CheckTx(ctx context.Context, tx types.Tx, mctx types.MempoolContext) (types.GateVerdict, error) {
	c.guard.CheckConcurrent()

	resp := new(types.GateVerdict)
	if err := c.invoke(ctx, "CheckTx", &CheckTxRequest{Tx: tx, Context: mctx}, resp); err != nil {
		return types.GateVerdict{}, err
	}
	return *resp, nil
}

func (c *Client) ExecuteBlock(ctx context.Context, block types.FinalizedBlock) (types.BlockOutcome, error) {
	finish := c.guard.BeginExecute()

	resp := new(types.BlockOutcome)
	if err := c.invoke(ctx, "ExecuteBlock", &block, resp); err != nil {
		finish(false)
		return types.BlockOutcome{}, err
	}

	finish(true)
	return *resp, nil
}

func (c *Client) Commit(ctx context.Context) (types.CommitResult, error) {
	defer c.guard.BeginCommit()()

	resp := new(types.CommitResult)
	if err := c.invoke(ctx, "Commit", &CommitRequest{}, resp); err != nil {
		return types.CommitResult{}, err
	}
	return *resp, nil
}

func (c *Client) Query(ctx context.Context, req types.StateQuery) (types.StateQueryResult, error) {
	c.guard.CheckConcurrent()

	resp := new(types.StateQueryResult)
	if err := c.invoke(ctx, "Query", &req, resp); err != nil {
		return types.StateQueryResult{}, err
	}
	return *resp, nil
}

// --- Capability Accessors ---

func (c *Client) Capabilities() types.Capabilities { return c.caps }

func (c *Client) AsStateSync() vault.StateSync {
	if c.caps.Has(types.CapStateSync) {
		return &clientStateSync{c}
	}
	return nil
}

func (c *Client) AsSimulator() vault.Simulator {
	if c.caps.Has(types.CapSimulation) {
		return &clientSimulator{c}
	}
	return nil
}

// --- StateSync wrapper ---

type clientStateSync struct{ c *Client }

func (w *clientStateSync) AvailableSnapshots(ctx context.Context) ([]types.SnapshotDescriptor, error) {
	resp := new(AvailableSnapshotsResponse)
	if err := w.c.invoke(ctx, "AvailableSnapshots", &AvailableSnapshotsRequest{}, resp); err != nil {
		return nil, err
	}
	return resp.Snapshots, nil
}

func (w *clientStateSync) ExportSnapshot(ctx context.Context, height uint64, format uint32) (<-chan types.SnapshotChunk, *types.SnapshotDescriptor, error) {
	stream, err := w.c.cc.NewStream(ctx, &appServiceDesc.Streams[0], fullMethod(appServiceName, "ExportSnapshot"))
	if err != nil {
		return nil, nil, fromStatus(err)
	}
	if err := stream.SendMsg(&ExportSnapshotRequest{Height: height, Format: format}); err != nil {
		return nil, nil, fromStatus(err)
	}
	if err := stream.CloseSend(); err != nil {
		return nil, nil, fromStatus(err)
	}

	first := new(ImportSnapshotMessage)
	if err := stream.RecvMsg(first); err != nil {
		return nil, nil, fromStatus(err)
	}
	if first.Descriptor == nil {
		return nil, nil, errors.New("vault client: snapshot stream did not start with a descriptor")
	}

	ch := make(chan types.SnapshotChunk)
	go func() {
		defer close(ch)
		for {
			msg := new(ImportSnapshotMessage)
			if err := stream.RecvMsg(msg); err != nil {
				// io.EOF ends the stream; other errors surface to the
				// importer as missing chunks.
				return
			}
			if msg.Chunk == nil {
				continue
			}
			select {
			case ch <- *msg.Chunk:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, first.Descriptor, nil
}

func (w *clientStateSync) ImportSnapshot(ctx context.Context, desc types.SnapshotDescriptor, chunks <-chan types.SnapshotChunk) (types.ImportResult, error) {
	stream, err := w.c.cc.NewStream(ctx, &appServiceDesc.Streams[1], fullMethod(appServiceName, "ImportSnapshot"))
	if err != nil {
		return types.ImportResult{}, fromStatus(err)
	}

	if err := stream.SendMsg(&ImportSnapshotMessage{Descriptor: &desc}); err != nil {
		return types.ImportResult{}, fromStatus(err)
	}
	for chunk := range chunks {
		if err := stream.SendMsg(&ImportSnapshotMessage{Chunk: &chunk}); err != nil {
			if errors.Is(err, io.EOF) {
				// The server closed the stream; its status is read below.
				break
			}
			return types.ImportResult{}, fromStatus(err)
		}
	}
	if err := stream.CloseSend(); err != nil {
		return types.ImportResult{}, fromStatus(err)
	}

	result := new(types.ImportResult)
	if err := stream.RecvMsg(result); err != nil {
		return types.ImportResult{}, fromStatus(err)
	}
	return *result, nil
}

// --- Simulator wrapper ---

type clientSimulator struct{ c *Client }

func (w *clientSimulator) Simulate(ctx context.Context, tx types.Tx) (types.TxOutcome, error) {
	resp := new(types.TxOutcome)
	if err := w.c.invoke(ctx, "Simulate", &SimulateRequest{Tx: tx}, resp); err != nil {
		return types.TxOutcome{}, err
	}
	return *resp, nil
}
