package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/colonyforge/market-engine/internal/colony"
	"github.com/colonyforge/market-engine/internal/conditions"
	"github.com/colonyforge/market-engine/internal/config"
	"github.com/colonyforge/market-engine/internal/inventory"
	"github.com/colonyforge/market-engine/internal/ledger"
	"github.com/colonyforge/market-engine/internal/logistics"
	"github.com/colonyforge/market-engine/internal/market"
	"github.com/colonyforge/market-engine/internal/materials"
	"github.com/colonyforge/market-engine/internal/metrics"
	"github.com/colonyforge/market-engine/internal/pricing"
	"github.com/colonyforge/market-engine/internal/settle"
	"github.com/colonyforge/market-engine/internal/store"
	"github.com/colonyforge/market-engine/internal/tax"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	// --- Economic parameters ---
	eco := config.Default()
	if path := os.Getenv("ECONOMY_CONFIG"); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			slog.Error("economy config failed", "path", path, "err", err)
			os.Exit(1)
		}
		eco = loaded
		slog.Info("economy config loaded", "path", path)
	}

	// --- Initialize store ---
	var st store.Store
	var cleanup []func()

	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		pool, err := pgxpool.New(context.Background(), dbURL)
		if err != nil {
			slog.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pool.Close)
		st = store.NewPostgresStore(pool)
		slog.Info("connected to PostgreSQL")

		// Wrap with Redis read-through cache if configured.
		if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
			opt, err := redis.ParseURL(redisURL)
			if err != nil {
				slog.Error("invalid REDIS_URL", "err", err)
				os.Exit(1)
			}
			rdb := redis.NewClient(opt)
			cleanup = append(cleanup, func() { rdb.Close() })
			st = store.NewCachedStore(st, rdb, 30*time.Second)
			slog.Info("Redis cache enabled")
		}
	} else {
		slog.Warn("DATABASE_URL not set, using in-memory store (data will not persist)")
		st = store.NewMemoryStore()
	}

	defer func() {
		for _, fn := range cleanup {
			fn()
		}
	}()

	// --- Materials and logistics ---
	rates := logistics.NewRateCard(eco)
	catalog := materials.NewCatalog(eco, rates, materials.DefaultMaterials())
	if path := os.Getenv("MATERIALS_CONFIG"); path != "" {
		loaded, err := materials.LoadCatalog(eco, rates, path)
		if err != nil {
			slog.Error("materials config failed", "path", path, "err", err)
			os.Exit(1)
		}
		catalog = loaded
		slog.Info("materials config loaded", "path", path)
	}

	// --- Settlements ---
	dir := colony.NewDirectory()
	if path := os.Getenv("SETTLEMENTS_CONFIG"); path != "" {
		loaded, err := colony.LoadDirectory(path)
		if err != nil {
			slog.Error("settlements config failed", "path", path, "err", err)
			os.Exit(1)
		}
		dir = loaded
		slog.Info("settlements loaded", "path", path, "count", len(dir.All()))
	}

	funds := ledger.New()
	inv := inventory.New()
	colony.Bootstrap(dir, funds, inv, eco.Currency)

	// --- Engine wiring ---
	taxPolicy := tax.NewPolicy(eco.SalesTaxRate)
	pricer := pricing.NewEngine(st, catalog, inv, funds, dir, eco)
	protocol := settle.NewProtocol(st, funds, taxPolicy, inv, eco.Currency)
	tracker := logistics.NewTracker(st, inv)
	updater := conditions.NewUpdater(st, dir, eco)

	wsHub := market.NewWSHub()
	go wsHub.Run()

	engine := market.NewEngine(st, pricer, protocol, dir, inv, funds, eco, wsHub)
	marketSvc := market.NewService(engine, pricer, st, tracker)

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)

	// CORS middleware for frontend cross-origin requests.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"market-engine"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// WebSocket endpoint for real-time trade updates.
		r.Get("/ws", wsHub.HandleWS)

		// Order placement and matching.
		r.Post("/orders", marketSvc.PlaceOrder)
		r.Post("/projects/{projectID}/orders", marketSvc.CreateProjectOrder)

		// Market state queries.
		r.Get("/settlements/{settlementID}/quotes/{resource}", marketSvc.GetQuote)
		r.Get("/settlements/{settlementID}/conditions", marketSvc.ListConditions)
		r.Get("/settlements/{settlementID}/trades", marketSvc.ListTrades)

		// Supply chain fulfillment.
		r.Get("/supply-chains/{chainID}", marketSvc.GetSupplyChain)
		r.Post("/supply-chains/{chainID}/status", marketSvc.UpdateSupplyChain)

		// Maintenance ticks (also run on timers below).
		r.Post("/ticks/conditions", updater.HandleTick)
		r.Post("/ticks/order-expiry", marketSvc.SweepExpired)
	})

	// --- Background ticks ---
	tickCtx, stopTicks := context.WithCancel(context.Background())
	defer stopTicks()

	tickInterval := time.Hour
	if raw := os.Getenv("CONDITION_TICK_INTERVAL"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			slog.Error("invalid CONDITION_TICK_INTERVAL", "value", raw, "err", err)
			os.Exit(1)
		}
		tickInterval = d
	}

	go func() {
		ticker := time.NewTicker(tickInterval)
		defer ticker.Stop()
		for {
			select {
			case <-tickCtx.Done():
				return
			case <-ticker.C:
				if _, err := updater.RunTick(tickCtx); err != nil {
					slog.Error("condition tick failed", "err", err)
				}
				if _, err := engine.SweepExpired(tickCtx); err != nil {
					slog.Error("expiry sweep failed", "err", err)
				}
			}
		}
	}()

	// --- Server ---
	srv := &http.Server{
		Addr:         ":" + port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("market-engine listening", "port", port, "tick_interval", tickInterval)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	stopTicks()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	slog.Info("shutting down market-engine...")
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	fmt.Println("market-engine stopped")
}
