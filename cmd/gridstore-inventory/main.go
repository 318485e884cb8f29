package main

import (
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cordum/gridstore/core/admin"
	"github.com/cordum/gridstore/core/assets"
	"github.com/cordum/gridstore/core/billing"
	"github.com/cordum/gridstore/core/directory"
	"github.com/cordum/gridstore/core/infra/buildinfo"
	"github.com/cordum/gridstore/core/infra/bus"
	"github.com/cordum/gridstore/core/infra/config"
	"github.com/cordum/gridstore/core/infra/locks"
	infraMetrics "github.com/cordum/gridstore/core/infra/metrics"
	"github.com/cordum/gridstore/core/inventory"
	"github.com/cordum/gridstore/core/inventory/store"
	"github.com/cordum/gridstore/core/library"
	"github.com/cordum/gridstore/core/session"
	"github.com/cordum/gridstore/core/transactions"
)

const serviceName = "gridstore-inventory"

// backend is everything that differs between the redis and memory modes.
type backend struct {
	repo      inventory.Repository
	shared    assets.Store
	directory directory.Resolver
	billing   billing.Gate
	locks     locks.Store
	closers   []func() error
}

func (b *backend) Close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i](); err != nil {
			log.Printf("close: %v", err)
		}
	}
}

func main() {
	cfg := config.Load()
	buildinfo.Log(serviceName, "backend", cfg.RepoBackend, "nats", cfg.NatsURL)

	invCfg, err := config.LoadInventory(cfg.InventoryConfigPath)
	if err != nil {
		log.Printf("using default inventory config (could not load %s): %v", cfg.InventoryConfigPath, err)
	}
	lib, err := library.New(invCfg.Library)
	if err != nil {
		log.Fatalf("library init failed: %v", err)
	}

	metrics := infraMetrics.NewProm("gridstore")
	go serveMetrics(cfg.MetricsAddr)

	be, err := openBackend(cfg)
	if err != nil {
		log.Fatalf("%s backend init failed: %v", cfg.RepoBackend, err)
	}
	defer be.Close()

	local, err := assets.OpenLevelStore(cfg.LocalAssetDir)
	if err != nil {
		log.Fatalf("local asset store init failed: %v", err)
	}
	defer local.Close()
	blobs := &assets.Tiered{Shared: be.shared, Local: local}

	natsBus, err := bus.NewNatsBus(cfg.NatsURL)
	if err != nil {
		log.Fatalf("failed to connect to NATS: %v", err)
	}
	defer natsBus.Close()

	engine := inventory.NewEngine(be.repo, inventory.Options{
		DisableDelete: !invCfg.Deletion(),
		Directory:     be.directory,
		Assets:        blobs,
		Library:       lib,
		Metrics:       metrics,
		Locks:         be.locks,
		LockTTL:       invCfg.RepairLockTTL(),
	})

	registry := transactions.NewRegistry(transactions.Deps{
		Assets:       blobs,
		Inventory:    engine,
		Notifier:     session.NewBusNotifier(natsBus),
		Billing:      be.billing,
		Metrics:      metrics,
		UploadCharge: invCfg.UploadCharge,
	})
	adapter := session.NewAdapter(natsBus, registry, invCfg.FinalChunkMask)
	if invCfg.Provisioning() {
		adapter.WithProvisioner(engine, invCfg.DefaultItems(), invCfg.ConnectRetry())
	}
	if err := adapter.Start(); err != nil {
		log.Fatalf("session adapter: %v", err)
	}
	if err := admin.NewService(natsBus, engine, be.directory, invCfg.DefaultItems()).Start(); err != nil {
		log.Fatalf("admin service: %v", err)
	}

	log.Printf("%s running (backend=%s nats=%s)", serviceName, cfg.RepoBackend, cfg.NatsURL)
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Printf("%s shutting down (%d open collections)", serviceName, registry.Len())
}

func openBackend(cfg *config.Config) (*backend, error) {
	if cfg.RepoBackend == config.BackendMemory {
		return &backend{
			repo:      inventory.NewMemoryRepository(),
			shared:    assets.NewMemoryStore(),
			directory: directory.NewStatic(nil),
			billing:   billing.Unlimited{},
			locks:     locks.NewLocalStore(),
		}, nil
	}

	be := &backend{}
	repo, err := store.NewRedisRepository(cfg.RedisURL)
	if err != nil {
		return nil, err
	}
	be.repo = repo
	be.closers = append(be.closers, repo.Close)

	shared, err := assets.NewRedisStore(cfg.RedisURL)
	if err != nil {
		be.Close()
		return nil, err
	}
	be.shared = shared
	be.closers = append(be.closers, shared.Close)

	dir, err := directory.NewRedis(cfg.RedisURL)
	if err != nil {
		be.Close()
		return nil, err
	}
	be.directory = directory.NewCached(dir, 0)
	be.closers = append(be.closers, dir.Close)

	ledger, err := billing.NewRedisLedger(cfg.RedisURL)
	if err != nil {
		be.Close()
		return nil, err
	}
	be.billing = ledger
	be.closers = append(be.closers, ledger.Close)

	lockStore, err := locks.NewRedisStore(cfg.RedisURL)
	if err != nil {
		be.Close()
		return nil, err
	}
	be.locks = lockStore
	be.closers = append(be.closers, lockStore.Close)
	return be, nil
}

func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", infraMetrics.Handler())
	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	log.Printf("metrics on %s/metrics", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Printf("metrics server error: %v", err)
	}
}
