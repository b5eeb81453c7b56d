package main

import (
	"context"
	"net"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"google.golang.org/grpc"

	"papertrade-core/internal/audit"
	"papertrade-core/pkg/logger"
)

// compliance_sink is a minimal receiver for the gRPC audit sink. Point
// COMPLIANCE_GRPC_ADDR at it to watch audit events leave the core.
//
// Usage:
//   go run ./scripts/compliance_sink [addr]   (default :9090)

func main() {
	log := logger.Must(logger.ConfigFromEnv())
	defer func() { _ = log.Sync() }()

	addr := ":9090"
	if len(os.Args) > 1 {
		addr = os.Args[1]
	}
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		log.Fatal("listen failed", zap.String("addr", addr), zap.Error(err))
	}

	srv := grpc.NewServer()
	audit.RegisterComplianceService(srv, func(_ context.Context, e audit.Event) error {
		log.Info("audit event received",
			zap.String("id", e.ID),
			zap.String("event", e.Name),
			zap.String("user_id", e.UserID),
			zap.String("risk", string(e.RiskLevel)),
			zap.Any("details", e.Details),
		)
		return nil
	})

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		srv.GracefulStop()
	}()

	log.Info("compliance sink listening", zap.String("addr", addr))
	if err := srv.Serve(lis); err != nil {
		log.Error("serve failed", zap.Error(err))
	}
}
