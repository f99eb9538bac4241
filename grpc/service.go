package vaultgrpc

import (
	"context"
	"fmt"

	"google.golang.org/grpc"

	"github.com/blockberries/vault/types"
)

const appServiceName = "vault.v1.Application"

// ApplicationServiceServer is the server-side interface for the
// application service.
type ApplicationServiceServer interface {
	Handshake(context.Context, *types.HandshakeRequest) (*types.HandshakeResponse, error)
	CheckTx(context.Context, *CheckTxRequest) (*types.GateVerdict, error)
	ExecuteBlock(context.Context, *types.FinalizedBlock) (*types.BlockOutcome, error)
	Commit(context.Context, *CommitRequest) (*types.CommitResult, error)
	Query(context.Context, *types.StateQuery) (*types.StateQueryResult, error)
	AvailableSnapshots(context.Context, *AvailableSnapshotsRequest) (*AvailableSnapshotsResponse, error)
	ExportSnapshot(*ExportSnapshotRequest, grpc.ServerStream) error
	ImportSnapshot(grpc.ServerStream) error
	Simulate(context.Context, *SimulateRequest) (*types.TxOutcome, error)
}

// RegisterApplicationServiceServer registers srv on a gRPC server.
func RegisterApplicationServiceServer(s grpc.ServiceRegistrar, srv ApplicationServiceServer) {
	s.RegisterService(&appServiceDesc, srv)
}

// unary adapts a typed method to a grpc.MethodDesc handler, running the
// server's interceptor chain when one is installed.
func unary[S any, Req any, Resp any](service, method string, call func(S, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			req := new(Req)
			if err := dec(req); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(S), ctx, req)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod(service, method)}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(S), ctx, req.(*Req))
			}
			return interceptor(ctx, req, info, handler)
		},
	}
}

func handlerExportSnapshot(srv any, stream grpc.ServerStream) error {
	req := new(ExportSnapshotRequest)
	if err := stream.RecvMsg(req); err != nil {
		return err
	}
	return srv.(ApplicationServiceServer).ExportSnapshot(req, stream)
}

func handlerImportSnapshot(srv any, stream grpc.ServerStream) error {
	return srv.(ApplicationServiceServer).ImportSnapshot(stream)
}

// fullMethod builds the full gRPC method path.
func fullMethod(service, method string) string {
	return fmt.Sprintf("/%s/%s", service, method)
}

// appServiceDesc is the manual gRPC service descriptor for the
// application service.
var appServiceDesc = grpc.ServiceDesc{
	ServiceName: appServiceName,
	HandlerType: (*ApplicationServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		unary(appServiceName, "Handshake", ApplicationServiceServer.Handshake),
		unary(appServiceName, "CheckTx", ApplicationServiceServer.CheckTx),
		unary(appServiceName, "ExecuteBlock", ApplicationServiceServer.ExecuteBlock),
		unary(appServiceName, "Commit", ApplicationServiceServer.Commit),
		unary(appServiceName, "Query", ApplicationServiceServer.Query),
		unary(appServiceName, "AvailableSnapshots", ApplicationServiceServer.AvailableSnapshots),
		unary(appServiceName, "Simulate", ApplicationServiceServer.Simulate),
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "ExportSnapshot",
			Handler:       handlerExportSnapshot,
			ServerStreams: true,
		},
		{
			StreamName:    "ImportSnapshot",
			Handler:       handlerImportSnapshot,
			ClientStreams: true,
		},
	},
	Metadata: "vault/v1/application.cram",
}
