// Command vaultd runs a single-node vault chain: the vault application,
// a block-producing engine and the node gRPC service clients submit
// transactions to. It can also serve only the application, or drive an
// application served by another vaultd.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/blockberries/vault"
	"github.com/blockberries/vault/app"
	"github.com/blockberries/vault/devnet"
	vaultgrpc "github.com/blockberries/vault/grpc"
	"github.com/blockberries/vault/internal/config"
	"github.com/blockberries/vault/internal/logger"
	"github.com/blockberries/vault/local"
	"github.com/blockberries/vault/server"
	"github.com/blockberries/vault/store"
	"github.com/blockberries/vault/store/postgres"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

const shutdownTimeout = 5 * time.Second

func main() {
	cfg, err := config.Parse(flag.CommandLine, os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, "vaultd:", err)
		os.Exit(2)
	}

	log, sync, err := logger.New(logger.Config{Path: cfg.LogPath, Level: cfg.LogLevel, Development: cfg.LogDev})
	if err != nil {
		fmt.Fprintln(os.Stderr, "vaultd:", err)
		os.Exit(2)
	}
	defer sync()
	log.Info("starting",
		zap.String("version", version),
		zap.String("buildDate", buildDate),
		zap.Stringer("program_id", cfg.ProgramID))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("exit", zap.Error(err))
		sync()
		os.Exit(1)
	}
	log.Info("shutdown complete")
}

func run(ctx context.Context, cfg config.Config, log *zap.Logger) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	stopMetrics, err := serveMetrics(cfg.MetricsAddr, reg, log)
	if err != nil {
		return err
	}
	defer stopMetrics()

	if cfg.ServeApp != "" {
		a, st, err := buildApp(ctx, cfg, reg, log)
		if err != nil {
			return err
		}
		defer st.Close()
		return serveApp(ctx, cfg.ServeApp, a, log)
	}

	genesis, err := loadGenesis(cfg.Genesis)
	if err != nil {
		return err
	}

	var (
		conn   vault.Connection
		resume bool
	)
	if cfg.AppRemote != "" {
		c, err := vaultgrpc.Dial(cfg.AppRemote, grpc.WithTransportCredentials(insecure.NewCredentials()))
		if err != nil {
			return err
		}
		conn = c
		log.Info("driving remote application", zap.String("addr", cfg.AppRemote))
	} else {
		a, st, err := buildApp(ctx, cfg, reg, log)
		if err != nil {
			return err
		}
		defer st.Close()
		if _, err := st.Load(ctx); err == nil {
			resume = true
		} else if !errors.Is(err, store.ErrEmpty) {
			return fmt.Errorf("load committed state: %w", err)
		}
		conn = local.NewConnection(a, server.WithLogger(log))
	}
	defer conn.Close()

	opts := []devnet.Option{devnet.WithLogger(log)}
	if resume {
		opts = append(opts, devnet.WithResume())
	}
	engine := devnet.New(conn, genesis, opts...)
	if err := engine.Start(ctx); err != nil {
		return err
	}

	gs := vaultgrpc.NewServer(log)
	vaultgrpc.NewNodeServer(engine, log).Register(gs)
	hs := health.NewServer()
	healthpb.RegisterHealthServer(gs, hs)

	errCh := make(chan error, 2)
	if cfg.NodeAddr != "" {
		lis, err := net.Listen("tcp", cfg.NodeAddr)
		if err != nil {
			return fmt.Errorf("listen %s: %w", cfg.NodeAddr, err)
		}
		go func() {
			log.Info("node service listening", zap.String("addr", lis.Addr().String()))
			errCh <- gs.Serve(lis)
		}()
		defer gracefulStop(gs)
	}
	go func() {
		errCh <- engine.Run(ctx, cfg.BlockInterval.Duration)
	}()

	select {
	case <-ctx.Done():
		hs.Shutdown()
		return nil
	case err := <-errCh:
		hs.Shutdown()
		if err == nil {
			return nil
		}
		return err
	}
}

// buildApp creates the in-process application. With a DSN, committed
// state lives in PostgreSQL; otherwise in memory.
func buildApp(ctx context.Context, cfg config.Config, reg prometheus.Registerer, log *zap.Logger) (*app.App, store.Store, error) {
	var st store.Store = store.NewMemory()
	if cfg.PostgresDSN != "" {
		if err := postgres.Migrate(ctx, cfg.PostgresDSN); err != nil {
			return nil, nil, fmt.Errorf("migrate: %w", err)
		}
		pg, err := postgres.New(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, nil, err
		}
		st = pg
		log.Info("committed state in postgres")
	}
	a := app.New(
		app.WithLogger(log),
		app.WithStore(st),
		app.WithMetrics(app.NewMetrics(reg)),
		app.WithProgramID(cfg.ProgramID),
	)
	return a, st, nil
}

// serveApp serves only the application service until ctx is done.
func serveApp(ctx context.Context, addr string, a *app.App, log *zap.Logger) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	gs := vaultgrpc.NewServer(log)
	vaultgrpc.NewAppServer(a, log).Register(gs)
	healthpb.RegisterHealthServer(gs, health.NewServer())

	errCh := make(chan error, 1)
	go func() {
		log.Info("application service listening", zap.String("addr", lis.Addr().String()))
		errCh <- gs.Serve(lis)
	}()
	select {
	case <-ctx.Done():
		gracefulStop(gs)
		return nil
	case err := <-errCh:
		return err
	}
}

func serveMetrics(addr string, reg *prometheus.Registry, log *zap.Logger) (func(), error) {
	if addr == "" {
		return func() {}, nil
	}
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		log.Info("metrics listening", zap.String("addr", lis.Addr().String()))
		if err := srv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server", zap.Error(err))
		}
	}()
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}, nil
}

func gracefulStop(gs *grpc.Server) {
	done := make(chan struct{})
	go func() {
		gs.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(shutdownTimeout):
		gs.Stop()
	}
}
