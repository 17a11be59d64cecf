package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gymchain/gymchain-ledger/internal/app"
	"github.com/gymchain/gymchain-ledger/internal/config"
	"github.com/gymchain/gymchain-ledger/internal/logging"
)

func main() {
	configPath := flag.String("config", "configs/gymledger.yaml", "path to ledger config")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	logger := logging.NewJSONLogger(cfg.Logging.Level)
	if !cfg.ListensOnLoopback() && !cfg.WriteAuthEnabled() {
		logger.Warn("write auth disabled on a non-loopback listener", slog.String("addr", cfg.Server.Listen))
	}

	application, err := app.New(context.Background(), cfg, logger)
	if err != nil {
		logger.Error("startup failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	if err := application.Ledger.Verify(); err != nil {
		logger.Warn("stored chain failed integrity check", slog.String("error", err.Error()))
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("gymledger listening",
			slog.String("addr", cfg.Server.Listen),
			slog.String("issuer", cfg.Issuer.Name),
			slog.String("backend", cfg.Storage.Backend),
			slog.Int("length", application.Ledger.Len()))
		if err := application.Server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("shutdown signal received", slog.String("signal", sig.String()))
	case err := <-errCh:
		logger.Error("server stopped unexpectedly", slog.String("error", err.Error()))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Server.ShutdownTimeoutSeconds)*time.Second)
	defer cancel()
	if err := application.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}
