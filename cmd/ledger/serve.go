package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"google.golang.org/grpc"

	grpcadapter "github.com/JoeShih716/go-credit-ledger/internal/app/credit/adapter/in/grpc"
	"github.com/JoeShih716/go-credit-ledger/pkg/logger"
)

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the gRPC ledger service",
	Long: `Start the gRPC ledger service and, when enabled, the Prometheus
metrics endpoint. SIGINT or SIGTERM triggers a graceful shutdown that
drains background workers before closing storage.`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	// 1. 載入設定
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	log, err := logger.New(cfg.Log)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	// 2. 組裝元件
	a, err := newApp(cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			log.Warn("shutdown cleanup failed", zap.Error(err))
		}
	}()

	// 3. gRPC Server
	lis, err := net.Listen("tcp", cfg.GRPC.Addr)
	if err != nil {
		return err
	}
	srv := grpc.NewServer()
	grpcadapter.RegisterLedgerServiceServer(srv, grpcadapter.NewServer(a.ledger, log))

	errCh := make(chan error, 2)
	go func() {
		log.Info("starting gRPC server", zap.String("addr", cfg.GRPC.Addr), zap.String("store", cfg.Ledger.Store))
		if err := srv.Serve(lis); err != nil {
			errCh <- err
		}
	}()

	// 4. Metrics
	var metricsSrv *http.Server
	if cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle(cfg.Metrics.Path, promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}))
		metricsSrv = &http.Server{
			Addr:              cfg.Metrics.Addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			log.Info("starting metrics server", zap.String("addr", cfg.Metrics.Addr))
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
		}()
	}

	// Graceful Shutdown
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	var serveErr error
	select {
	case <-ctx.Done():
		log.Info("shutting down server")
	case serveErr = <-errCh:
		log.Error("server failed", zap.Error(serveErr))
	}

	srv.GracefulStop()
	if metricsSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsSrv.Shutdown(shutdownCtx)
	}
	log.Info("server exited")
	return serveErr
}
