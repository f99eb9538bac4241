package vaultgrpc

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/blockberries/vault"
	"github.com/blockberries/vault/devnet"
	"github.com/blockberries/vault/server"
)

var statusTable = []struct {
	err  error
	code codes.Code
}{
	{server.ErrStateSyncUnsupported, codes.Unimplemented},
	{server.ErrSimulationUnsupported, codes.Unimplemented},
	{devnet.ErrNotStarted, codes.Unavailable},
	{devnet.ErrHalted, codes.FailedPrecondition},
	{devnet.ErrDuplicateTx, codes.AlreadyExists},
	{devnet.ErrTxTooLarge, codes.InvalidArgument},
	{context.Canceled, codes.Canceled},
	{context.DeadlineExceeded, codes.DeadlineExceeded},
}

// toStatus converts a handler error into a gRPC status error.
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	if _, ok := vault.IsHalt(err); ok {
		return status.Error(codes.Aborted, err.Error())
	}
	for _, e := range statusTable {
		if errors.Is(err, e.err) {
			return status.Error(e.code, err.Error())
		}
	}
	return status.Error(codes.Unknown, err.Error())
}

// fromStatus recovers a sentinel from a gRPC status error so callers can
// match it with errors.Is. A status carrying codes.Aborted becomes a
// *vault.HaltError.
func fromStatus(err error) error {
	if err == nil {
		return nil
	}
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	switch st.Code() {
	case codes.Aborted:
		return &vault.HaltError{Reason: st.Message()}
	case codes.Unknown:
		return err
	}
	for _, e := range statusTable {
		if e.code == st.Code() && strings.Contains(st.Message(), e.err.Error()) {
			return fmt.Errorf("%w: %s", e.err, st.Message())
		}
	}
	return err
}
