package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mama165/sdk-go/logs"

	"github.com/xiaot623/chatline/internal/auth"
	"github.com/xiaot623/chatline/internal/config"
	"github.com/xiaot623/chatline/internal/hub"
	"github.com/xiaot623/chatline/internal/notify"
	"github.com/xiaot623/chatline/internal/policy"
	"github.com/xiaot623/chatline/internal/repository"
	"github.com/xiaot623/chatline/internal/service"
	internalhttp "github.com/xiaot623/chatline/internal/transport/http"
	"github.com/xiaot623/chatline/internal/transport/rpc"
	"github.com/xiaot623/chatline/internal/transport/ws"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Configuration & logger
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log := logs.GetLoggerFromString(cfg.LogLevel)
	if cfg.DevMode {
		log.Warn("DEV_MODE is on: tokens are signed with a development secret")
	}

	// Durable store
	store, err := repository.NewSQLiteStore(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() {
		log.Info("Closing store...")
		_ = store.Close()
	}()

	// Offline push hand-off
	var notifier notify.Notifier = notify.NopNotifier{}
	if cfg.RedisURL != "" {
		asynqNotifier, err := notify.NewAsynqNotifier(cfg.RedisURL, cfg.NotifyQueue, cfg.NotifyMaxRetry)
		if err != nil {
			return fmt.Errorf("offline notifier: %w", err)
		}
		notifier = asynqNotifier
		log.Info("Offline push enabled", "queue", cfg.NotifyQueue)
	}
	defer func() { _ = notifier.Close() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	policyEngine, err := policy.NewEngine(ctx, policy.DefaultPolicy)
	if err != nil {
		return fmt.Errorf("send policy: %w", err)
	}
	tokens, err := auth.NewIssuer(cfg.JWTSecret, cfg.TokenTTL)
	if err != nil {
		return err
	}

	// Core
	connectionHub := hub.NewHub(log)
	svc := service.New(store, connectionHub, notifier, policyEngine, tokens, cfg, log)

	// Transports
	gateway := ws.NewServer(cfg, svc, log)
	externalServer := internalhttp.NewExternalServer(cfg, svc, gateway)
	internalServer := internalhttp.NewInternalServer(svc)
	rpcServer, err := rpc.NewServer(svc, log)
	if err != nil {
		return fmt.Errorf("rpc server: %w", err)
	}

	errCh := make(chan error, 3)
	go func() {
		addr := fmt.Sprintf(":%d", cfg.HTTPPort)
		log.Info("External HTTP server started", "addr", addr)
		if err := externalServer.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("external server: %w", err)
		}
	}()
	go func() {
		addr := fmt.Sprintf(":%d", cfg.InternalPort)
		log.Info("Internal HTTP server started", "addr", addr)
		if err := internalServer.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("internal server: %w", err)
		}
	}()
	go func() {
		addr := fmt.Sprintf(":%d", cfg.RPCPort)
		log.Info("RPC server started", "addr", addr)
		if err := rpcServer.Start(addr); err != nil {
			errCh <- fmt.Errorf("rpc server: %w", err)
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		log.Info("Shutting down...")
	case runErr = <-errCh:
		log.Error("Server failed, shutting down", "error", runErr)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := externalServer.Shutdown(shutdownCtx); err != nil {
		log.Warn("Failed to shutdown external server gracefully", "error", err)
	}
	if err := internalServer.Shutdown(shutdownCtx); err != nil {
		log.Warn("Failed to shutdown internal server gracefully", "error", err)
	}
	if err := rpcServer.Shutdown(shutdownCtx); err != nil {
		log.Warn("Failed to shutdown RPC server gracefully", "error", err)
	}
	// Hijacked sockets outlive the HTTP servers; close them explicitly.
	evicted := connectionHub.Shutdown()
	log.Info("Chat server stopped", "connections_closed", evicted)
	return runErr
}
