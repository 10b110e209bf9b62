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

	"go.uber.org/zap"

	"github.com/kieracarman/canteen/internal/api"
	"github.com/kieracarman/canteen/internal/billing"
	"github.com/kieracarman/canteen/internal/cart"
	"github.com/kieracarman/canteen/internal/catalog"
	"github.com/kieracarman/canteen/internal/config"
	"github.com/kieracarman/canteen/internal/healthcheck"
	"github.com/kieracarman/canteen/internal/inventory"
	"github.com/kieracarman/canteen/internal/loadtest"
	"github.com/kieracarman/canteen/internal/menu"
	"github.com/kieracarman/canteen/internal/notify"
	"github.com/kieracarman/canteen/internal/storage"
	"github.com/kieracarman/canteen/internal/storage/memstore"
	"github.com/kieracarman/canteen/internal/storage/mongostore"
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logger, err := newLogger(cfg.LogDev)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("canteen exited", zap.Error(err))
	}
}

func newLogger(dev bool) (*zap.Logger, error) {
	if dev {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func openStore(ctx context.Context, cfg config.Config) (storage.Store, error) {
	switch cfg.StoreBackend {
	case config.BackendMongo:
		connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		return mongostore.Connect(connectCtx, cfg.MongoURI, cfg.MongoDatabase)
	default:
		return memstore.New()
	}
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	store, err := openStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to open %s store: %w", cfg.StoreBackend, err)
	}
	defer func() {
		if err := store.Close(context.Background()); err != nil {
			logger.Warn("failed to close store", zap.Error(err))
		}
	}()

	menuSvc, err := menu.New(store.Catalog(), cfg.MenuCacheSize, cfg.MenuCacheTTL, menu.WithLogger(logger))
	if err != nil {
		return err
	}
	ledger := inventory.New(store.Catalog(), store.Snapshots(),
		inventory.WithLogger(logger),
		inventory.WithCeiling(cfg.MaxStock),
		inventory.WithAbandonTimeout(cfg.AbandonTimeout),
		inventory.WithSweepInterval(cfg.SweepInterval),
		inventory.WithInvalidator(menuSvc))

	if cfg.LoadTest {
		return runLoadTest(ctx, cfg, ledger, store.Catalog(), logger)
	}

	cat := catalog.New(store.Catalog(), cfg.Floors,
		catalog.WithLogger(logger),
		catalog.WithDefaultStock(cfg.DefaultStock),
		catalog.WithInvalidator(menuSvc))
	carts := cart.NewRegistry(ledger, logger)
	orders := notify.New(store.Orders(), notify.NewLogAlerter(logger), logger)
	engine := billing.New(store.Bills(), carts, orders,
		billing.WithLogger(logger),
		billing.WithTaxRate(cfg.TaxRate))

	if cfg.SeedDefaults {
		n, err := cat.SeedDefaults(ctx)
		if err != nil {
			return fmt.Errorf("failed to seed default menus: %w", err)
		}
		logger.Info("default menus seeded", zap.Int("items", n))
	}

	// Stock held by carts abandoned before a restart is returned first.
	ledger.Sweep(ctx)
	ledger.StartSweeper()
	defer ledger.Stop()

	httpServer := &http.Server{
		Addr: ":" + cfg.Port,
		Handler: api.New(api.Deps{
			Catalog: cat,
			Menu:    menuSvc,
			Ledger:  ledger,
			Carts:   carts,
			Billing: engine,
			Orders:  orders,
		}, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}
	health := healthcheck.New(logger)

	errc := make(chan error, 2)
	go func() {
		logger.Info("http server started", zap.String("port", cfg.Port))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- fmt.Errorf("http server: %w", err)
		}
	}()
	go func() {
		if err := health.ListenAndServe(cfg.GRPCHealthPort); err != nil {
			errc <- fmt.Errorf("grpc health server: %w", err)
		}
	}()
	health.SetServing(true)

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err = <-errc:
	}

	health.Stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if shutdownErr := httpServer.Shutdown(shutdownCtx); shutdownErr != nil {
		logger.Warn("http shutdown", zap.Error(shutdownErr))
	}
	return err
}

func runLoadTest(ctx context.Context, cfg config.Config, ledger *inventory.Ledger, items storage.CatalogStore, logger *zap.Logger) error {
	tester := loadtest.New(ledger, items,
		loadtest.WithClients(cfg.Clients),
		loadtest.WithStock(cfg.Stock),
		loadtest.WithLogger(logger))
	res, err := tester.Run(ctx)
	if err != nil {
		return err
	}
	res.Report(os.Stdout)
	if !res.Consistent() {
		return errors.New("load test found an inconsistent stock count")
	}
	return nil
}
