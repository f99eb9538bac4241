package vaultgrpc

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"google.golang.org/grpc"

	"github.com/blockberries/vault/types"
)

const nodeServiceName = "vault.v1.Node"

// NodeBackend is the chain a NodeServer fronts. *devnet.Engine
// satisfies it.
type NodeBackend interface {
	Submit(ctx context.Context, tx types.Tx) (types.GateVerdict, error)
	Query(ctx context.Context, req types.StateQuery) (types.StateQueryResult, error)
	WaitForReceipt(ctx context.Context, id types.Hash) (types.Receipt, error)
	Height() uint64
	AppHash() types.AppHash
	Pending() int
}

// NodeServiceServer is the server-side interface for the node service.
type NodeServiceServer interface {
	Submit(context.Context, *SubmitRequest) (*SubmitResponse, error)
	Query(context.Context, *types.StateQuery) (*types.StateQueryResult, error)
	Receipt(context.Context, *ReceiptRequest) (*types.Receipt, error)
	Status(context.Context, *StatusRequest) (*StatusResponse, error)
}

// RegisterNodeServiceServer registers srv on a gRPC server.
func RegisterNodeServiceServer(s grpc.ServiceRegistrar, srv NodeServiceServer) {
	s.RegisterService(&nodeServiceDesc, srv)
}

var nodeServiceDesc = grpc.ServiceDesc{
	ServiceName: nodeServiceName,
	HandlerType: (*NodeServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		unary(nodeServiceName, "Submit", NodeServiceServer.Submit),
		unary(nodeServiceName, "Query", NodeServiceServer.Query),
		unary(nodeServiceName, "Receipt", NodeServiceServer.Receipt),
		unary(nodeServiceName, "Status", NodeServiceServer.Status),
	},
	Metadata: "vault/v1/node.cram",
}

// Compile-time interface check.
var _ NodeServiceServer = (*NodeServer)(nil)

// NodeServer serves the node service over a NodeBackend.
type NodeServer struct {
	node   NodeBackend
	logger *zap.Logger
}

// NewNodeServer creates a node server.
func NewNodeServer(node NodeBackend, logger *zap.Logger) *NodeServer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NodeServer{node: node, logger: logger.Named("grpc.node")}
}

// Register adds the node service to a gRPC server.
func (s *NodeServer) Register(gs grpc.ServiceRegistrar) {
	RegisterNodeServiceServer(gs, s)
}

func (s *NodeServer) Submit(ctx context.Context, req *SubmitRequest) (*SubmitResponse, error) {
	verdict, err := s.node.Submit(ctx, req.Tx)
	if err != nil {
		return nil, toStatus(err)
	}
	return &SubmitResponse{TxID: req.Tx.ID(), Verdict: verdict}, nil
}

func (s *NodeServer) Query(ctx context.Context, req *types.StateQuery) (*types.StateQueryResult, error) {
	res, err := s.node.Query(ctx, *req)
	if err != nil {
		return nil, toStatus(err)
	}
	return &res, nil
}

// Receipt waits for the transaction's receipt until the call's deadline.
func (s *NodeServer) Receipt(ctx context.Context, req *ReceiptRequest) (*types.Receipt, error) {
	r, err := s.node.WaitForReceipt(ctx, req.TxID)
	if err != nil {
		return nil, toStatus(err)
	}
	return &r, nil
}

func (s *NodeServer) Status(_ context.Context, _ *StatusRequest) (*StatusResponse, error) {
	return &StatusResponse{
		Height:  s.node.Height(),
		AppHash: s.node.AppHash(),
		Pending: uint32(s.node.Pending()),
	}, nil
}

// NodeClient calls a remote node service.
type NodeClient struct {
	cc *grpc.ClientConn
}

// DialNode connects to a node service.
func DialNode(addr string, opts ...grpc.DialOption) (*NodeClient, error) {
	opts = append(opts, grpc.WithDefaultCallOptions(grpc.ForceCodec(CramberryCodec{})))
	cc, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("node client: dial %s: %w", addr, err)
	}
	return &NodeClient{cc: cc}, nil
}

func (c *NodeClient) Close() error { return c.cc.Close() }

func (c *NodeClient) invoke(ctx context.Context, method string, req, resp any) error {
	return fromStatus(c.cc.Invoke(ctx, fullMethod(nodeServiceName, method), req, resp))
}

// Submit sends tx to the node's mempool.
func (c *NodeClient) Submit(ctx context.Context, tx types.Tx) (types.GateVerdict, error) {
	resp := new(SubmitResponse)
	if err := c.invoke(ctx, "Submit", &SubmitRequest{Tx: tx}, resp); err != nil {
		return types.GateVerdict{}, err
	}
	return resp.Verdict, nil
}

// Query reads state through the node.
func (c *NodeClient) Query(ctx context.Context, req types.StateQuery) (types.StateQueryResult, error) {
	resp := new(types.StateQueryResult)
	if err := c.invoke(ctx, "Query", &req, resp); err != nil {
		return types.StateQueryResult{}, err
	}
	return *resp, nil
}

// WaitForReceipt blocks until the node reports the receipt for id or ctx
// is done.
func (c *NodeClient) WaitForReceipt(ctx context.Context, id types.Hash) (types.Receipt, error) {
	resp := new(types.Receipt)
	if err := c.invoke(ctx, "Receipt", &ReceiptRequest{TxID: id}, resp); err != nil {
		return types.Receipt{}, err
	}
	return *resp, nil
}

// Status returns the node's chain head.
func (c *NodeClient) Status(ctx context.Context) (StatusResponse, error) {
	resp := new(StatusResponse)
	if err := c.invoke(ctx, "Status", &StatusRequest{}, resp); err != nil {
		return StatusResponse{}, err
	}
	return *resp, nil
}
