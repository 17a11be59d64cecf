package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gymchain/gymchain-ledger/internal/api"
	"github.com/gymchain/gymchain-ledger/internal/config"
	"github.com/gymchain/gymchain-ledger/internal/crypto"
	"github.com/gymchain/gymchain-ledger/internal/events"
	"github.com/gymchain/gymchain-ledger/internal/ledger"
	"github.com/gymchain/gymchain-ledger/internal/logging"
	"github.com/gymchain/gymchain-ledger/internal/observability"
	"github.com/gymchain/gymchain-ledger/internal/service"
	"github.com/gymchain/gymchain-ledger/internal/storage"
	"github.com/gymchain/gymchain-ledger/internal/storage/badgerstore"
	"github.com/gymchain/gymchain-ledger/internal/storage/ledgerpostgres"
	"github.com/gymchain/gymchain-ledger/internal/storage/sqlitestore"
)

type Application struct {
	Server    *http.Server
	Ledger    *ledger.Ledger
	Store     storage.BlockStore
	Publisher events.Publisher
}

// OpenStore returns the configured block store, or nil for the in-memory
// backend.
func OpenStore(ctx context.Context, cfg *config.Config) (storage.BlockStore, error) {
	switch cfg.Storage.Backend {
	case config.BackendMemory:
		return nil, nil
	case config.BackendPostgres:
		s, err := ledgerpostgres.Open(ctx, cfg.Storage.PostgresDSN, cfg.Storage.MaxConns, cfg.Storage.MinConns, cfg.Issuer.Name)
		if err != nil {
			return nil, fmt.Errorf("open postgres store: %w", err)
		}
		return s, nil
	case config.BackendBadger:
		s, err := badgerstore.Open(badgerstore.Options{
			Path:       cfg.Storage.Badger.Path,
			InMemory:   cfg.Storage.Badger.InMemory,
			SyncWrites: cfg.Storage.Badger.SyncWrites,
		})
		if err != nil {
			return nil, fmt.Errorf("open badger store: %w", err)
		}
		return s, nil
	case config.BackendSQLite:
		s, err := sqlitestore.Open(ctx, cfg.Storage.SQLite.Path)
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unsupported storage backend %q", cfg.Storage.Backend)
	}
}

// OpenLedger loads the issuer key and the chain behind it. The returned store
// is nil for the in-memory backend; callers close it otherwise.
func OpenLedger(ctx context.Context, cfg *config.Config) (*ledger.Ledger, storage.BlockStore, error) {
	issuer, err := crypto.LoadIssuer(cfg.Issuer.Name, cfg.Issuer.Key, cfg.Issuer.KeyPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load issuer key: %w", err)
	}
	loc, err := cfg.Location()
	if err != nil {
		return nil, nil, fmt.Errorf("load issuer timezone: %w", err)
	}
	store, err := OpenStore(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	var ledgerStore ledger.Store
	if store != nil {
		ledgerStore = store
	}
	l, err := ledger.Open(ctx, issuer, ledgerStore, ledger.WithLocation(loc))
	if err != nil {
		closeStore(store)
		return nil, nil, fmt.Errorf("open ledger: %w", err)
	}
	return l, store, nil
}

func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Application, error) {
	l, store, err := OpenLedger(ctx, cfg)
	if err != nil {
		return nil, err
	}

	var publisher events.Publisher = events.Nop{}
	if cfg.Events.RedisAddr != "" {
		p, err := events.NewRedisPublisher(ctx, events.RedisOptions{
			Addr:     cfg.Events.RedisAddr,
			Password: cfg.Events.Password,
			DB:       cfg.Events.DB,
			Channel:  cfg.Events.Channel,
			Issuer:   cfg.Issuer.Name,
		})
		if err != nil {
			closeStore(store)
			return nil, fmt.Errorf("connect block event publisher: %w", err)
		}
		publisher = p
	}

	metrics := observability.NewMetrics()
	writeToken := ""
	if cfg.WriteAuthEnabled() {
		writeToken = cfg.Security.WriteToken
	}
	svc, err := service.NewMembership(service.MembershipParams{
		Ledger:     l,
		Publisher:  publisher,
		Metrics:    metrics,
		Logger:     logger,
		WriteToken: writeToken,
		Issuer:     cfg.Issuer.Name,
		Service:    cfg.Logging.Service,
		Version:    cfg.Logging.Version,
	})
	if err != nil {
		publisher.Close()
		closeStore(store)
		return nil, fmt.Errorf("build membership service: %w", err)
	}

	opts := api.HandlerOptions{
		MaxBodyBytes: cfg.API.MaxBodyBytes,
		DefaultLastN: cfg.API.DefaultLastN,
		MaxLastN:     cfg.API.MaxLastN,
	}
	if cfg.MetricsEnabled() {
		opts.Metrics = metrics.Handler()
	}
	router := api.NewMembershipHandler(svc, opts).Router()
	router = api.CORSMiddleware(cfg.Security.CORSAllowedOrigins)(router)
	if *cfg.Security.EnableIPAllow {
		mw, err := api.IPAllowListMiddleware(cfg.Security.TrustedCIDRs)
		if err != nil {
			publisher.Close()
			closeStore(store)
			return nil, fmt.Errorf("configure ip allow list: %w", err)
		}
		router = mw(router)
	}
	env := logging.Environment{
		Service: cfg.Logging.Service,
		Version: cfg.Logging.Version,
		Commit:  cfg.Logging.Commit,
		Region:  cfg.Logging.Region,
		Issuer:  cfg.Issuer.Name,
	}
	root := logging.Middleware(logger, env)(router)

	server := &http.Server{
		Addr:              cfg.Server.Listen,
		Handler:           root,
		ReadTimeout:       time.Duration(cfg.Server.ReadTimeoutSeconds) * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      time.Duration(cfg.Server.WriteTimeoutSeconds) * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	return &Application{Server: server, Ledger: l, Store: store, Publisher: publisher}, nil
}

func (a *Application) Shutdown(ctx context.Context) error {
	err := a.Server.Shutdown(ctx)
	if a.Publisher != nil {
		err = errors.Join(err, a.Publisher.Close())
	}
	return errors.Join(err, closeStore(a.Store))
}

func closeStore(s storage.BlockStore) error {
	if s == nil {
		return nil
	}
	return s.Close()
}
