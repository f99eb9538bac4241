package vaultgrpc

import (
	"context"
	"errors"
	"io"
	"net"

	"go.uber.org/zap"
	"google.golang.org/grpc"

	"github.com/blockberries/vault"
	"github.com/blockberries/vault/server"
	"github.com/blockberries/vault/types"
)

// Compile-time interface check.
var _ ApplicationServiceServer = (*AppServer)(nil)

// AppServer exposes an application to a remote engine. Calls pass
// through a lifecycle server, so a misbehaving engine cannot drive the
// application out of order.
type AppServer struct {
	srv    *server.Server
	logger *zap.Logger
}

// NewAppServer creates a gRPC application server wrapping app.
func NewAppServer(app vault.Lifecycle, logger *zap.Logger) *AppServer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AppServer{
		srv:    server.New(app, server.WithLogger(logger)),
		logger: logger.Named("grpc.app"),
	}
}

// Register adds the application service to a gRPC server.
func (s *AppServer) Register(gs grpc.ServiceRegistrar) {
	RegisterApplicationServiceServer(gs, s)
}

// Serve starts a gRPC server with logging and recovery interceptors on
// lis. It returns when the server stops.
func (s *AppServer) Serve(lis net.Listener, opts ...grpc.ServerOption) error {
	gs := NewServer(s.logger, opts...)
	s.Register(gs)
	return gs.Serve(lis)
}

// Server returns the underlying lifecycle server.
func (s *AppServer) Server() *server.Server {
	return s.srv
}

// --- Lifecycle RPCs ---

func (s *AppServer) Handshake(ctx context.Context, req *types.HandshakeRequest) (*types.HandshakeResponse, error) {
	resp, err := s.srv.Handshake(ctx, *req)
	if err != nil {
		return nil, toStatus(err)
	}
	return &resp, nil
}

func (s *AppServer) CheckTx(ctx context.Context, req *CheckTxRequest) (*types.GateVerdict, error) {
	verdict, err := s.srv.CheckTx(ctx, req.Tx, req.Context)
	if err != nil {
		return nil, toStatus(err)
	}
	return &verdict, nil
}

func (s *AppServer) ExecuteBlock(ctx context.Context, block *types.FinalizedBlock) (*types.BlockOutcome, error) {
	outcome, err := s.srv.ExecuteBlock(ctx, *block)
	if err != nil {
		return nil, toStatus(err)
	}
	return &outcome, nil
}

func (s *AppServer) Commit(ctx context.Context, _ *CommitRequest) (*types.CommitResult, error) {
	result, err := s.srv.Commit(ctx)
	if err != nil {
		return nil, toStatus(err)
	}
	return &result, nil
}

func (s *AppServer) Query(ctx context.Context, req *types.StateQuery) (*types.StateQueryResult, error) {
	result, err := s.srv.Query(ctx, *req)
	if err != nil {
		return nil, toStatus(err)
	}
	return &result, nil
}

// --- StateSync RPCs ---

func (s *AppServer) AvailableSnapshots(ctx context.Context, _ *AvailableSnapshotsRequest) (*AvailableSnapshotsResponse, error) {
	snaps, err := s.srv.AvailableSnapshots(ctx)
	if err != nil {
		return nil, toStatus(err)
	}
	return &AvailableSnapshotsResponse{Snapshots: snaps}, nil
}

// ExportSnapshot streams the descriptor first, then the chunks.
func (s *AppServer) ExportSnapshot(req *ExportSnapshotRequest, stream grpc.ServerStream) error {
	ch, desc, err := s.srv.ExportSnapshot(stream.Context(), req.Height, req.Format)
	if err != nil {
		return toStatus(err)
	}
	if desc == nil {
		desc = &types.SnapshotDescriptor{Height: req.Height, Format: req.Format}
	}
	if err := stream.SendMsg(&ImportSnapshotMessage{Descriptor: desc}); err != nil {
		return err
	}
	for chunk := range ch {
		if err := stream.SendMsg(&ImportSnapshotMessage{Chunk: &chunk}); err != nil {
			return err
		}
	}
	return nil
}

func (s *AppServer) ImportSnapshot(stream grpc.ServerStream) error {
	first := new(ImportSnapshotMessage)
	if err := stream.RecvMsg(first); err != nil {
		return err
	}
	if first.Descriptor == nil {
		return toStatus(errors.New("first ImportSnapshot message must contain a descriptor"))
	}

	desc := *first.Descriptor
	chunks := make(chan types.SnapshotChunk)
	recvErr := make(chan error, 1)

	go func() {
		defer close(chunks)
		for {
			msg := new(ImportSnapshotMessage)
			if err := stream.RecvMsg(msg); err != nil {
				if !errors.Is(err, io.EOF) {
					recvErr <- err
				}
				return
			}
			if msg.Chunk == nil {
				continue
			}
			select {
			case chunks <- *msg.Chunk:
			case <-stream.Context().Done():
				return
			}
		}
	}()

	result, err := s.srv.ImportSnapshot(stream.Context(), desc, chunks)
	if err != nil {
		return toStatus(err)
	}
	select {
	case err := <-recvErr:
		s.logger.Warn("snapshot stream broken", zap.Uint64("height", desc.Height), zap.Error(err))
		return err
	default:
	}
	return stream.SendMsg(&result)
}

// --- Simulator RPC ---

func (s *AppServer) Simulate(ctx context.Context, req *SimulateRequest) (*types.TxOutcome, error) {
	outcome, err := s.srv.Simulate(ctx, req.Tx)
	if err != nil {
		return nil, toStatus(err)
	}
	return &outcome, nil
}
