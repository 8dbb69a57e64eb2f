// Package main runs the raffle engine as an HTTP daemon.
package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"

	"github.com/R3E-Network/raffle_engine/internal/config"
	"github.com/R3E-Network/raffle_engine/internal/httputil"
	"github.com/R3E-Network/raffle_engine/internal/metrics"
	"github.com/R3E-Network/raffle_engine/internal/middleware"
	"github.com/R3E-Network/raffle_engine/pkg/logger"
	"github.com/R3E-Network/raffle_engine/services/raffle"
	"github.com/R3E-Network/raffle_engine/services/raffle/feeds"
	"github.com/R3E-Network/raffle_engine/services/raffle/postgres"
	"github.com/R3E-Network/raffle_engine/services/raffle/redisbus"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "raffled: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	log := logger.New("raffled", cfg.Log.Level, cfg.Log.Format)
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	collector := metrics.NewCollector("raffle")

	store, closeStore, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeStore()

	publishers := raffle.MultiPublisher{raffle.NewLogPublisher(log)}
	if cfg.Redis.Addr != "" {
		bus, err := redisbus.Connect(ctx, redisbus.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Prefix:   cfg.Redis.Prefix,
			History:  cfg.Redis.History,
		}, log)
		if err != nil {
			return err
		}
		defer bus.Close()
		publishers = append(publishers, bus)
		log.WithField("addr", cfg.Redis.Addr).Info("redis event bus enabled")
	}

	engineCfg := cfg.Engine()
	if cfg.DevMode {
		applyDevIdentities(&engineCfg)
	}

	vault := raffle.NewMemoryVault(engineCfg.Engine.Normalize())
	coordinator := raffle.NewLocalCoordinator(engineCfg.Coordinator)
	router := raffle.NewFixedRateRouter(vault)

	svc, err := raffle.New(engineCfg, raffle.Dependencies{
		Randomness: coordinator,
		Router:     router,
		Vault:      vault,
		Permitter:  vault,
		Publisher:  publishers,
		Store:      store,
		Recorder:   collector,
	}, log)
	if err != nil {
		return err
	}

	if err := allowTokens(ctx, svc, cfg, engineCfg.Owner, log); err != nil {
		return err
	}
	for _, t := range cfg.Tokens {
		if t.SwapRate.Den > 0 {
			router.SetRate(raffle.Address(t.Address).Normalize(), t.SwapRate)
		}
	}

	restored, err := svc.Restore(ctx)
	if err != nil {
		return fmt.Errorf("restore games: %w", err)
	}
	log.WithField("games", restored).Info("raffle state restored")

	secret := []byte(cfg.Auth.JWTSecret)
	if len(secret) == 0 {
		secret = randomSecret()
		logDevTokens(log, secret, engineCfg)
	}

	upkeep := raffle.NewUpkeepScheduler(svc, cfg.Raffle.UpkeepSchedule, log)
	if err := upkeep.Start(ctx); err != nil {
		return err
	}
	defer upkeep.Stop(context.Background())

	if cfg.DevMode {
		if _, err := svc.CurrentGame(); errors.Is(err, raffle.ErrNoGame) {
			if _, err := svc.StartNewGame(ctx, engineCfg.Owner); err != nil {
				return fmt.Errorf("start first game: %w", err)
			}
		}
		go autoFulfill(ctx, coordinator, svc, log)
	}

	var limiter *middleware.RateLimiter
	if cfg.Server.RateLimitRPS > 0 {
		limiter = middleware.NewRateLimiter(cfg.Server.RateLimitRPS, cfg.Server.RateLimitBurst, log)
		cleanupStop := make(chan struct{})
		defer close(cleanupStop)
		limiter.StartCleanup(5*time.Minute, cleanupStop)
	}

	handler := newRouter(cfg, svc, vault, collector, secret, limiter, log)
	server := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", cfg.Server.Addr).WithField("dev_mode", cfg.DevMode).Info("raffled listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("http shutdown")
	}
	return nil
}

func newRouter(
	cfg *config.Config,
	svc *raffle.Service,
	vault *raffle.MemoryVault,
	collector *metrics.Collector,
	secret []byte,
	limiter *middleware.RateLimiter,
	log *logger.Logger,
) http.Handler {
	root := mux.NewRouter()
	root.Use(middleware.LoggingMiddleware(log))
	root.Use(middleware.MetricsMiddleware(collector))
	root.Use(middleware.CORS(cfg.Server.CORSOrigins))

	root.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteJSON(w, http.StatusOK, map[string]any{"status": "ok", "stats": svc.Stats()})
	}).Methods(http.MethodGet)
	root.Handle("/metrics", collector.Handler()).Methods(http.MethodGet)

	api := root.PathPrefix("/v1").Subrouter()
	api.Use(middleware.NewAuthMiddleware(secret, log, nil).Handler)
	if limiter != nil {
		api.Use(limiter.Handler)
	}
	raffle.NewAPI(svc, log).Register(api)

	if cfg.DevMode {
		dev := api.PathPrefix("/dev").Subrouter()
		dev.Use(middleware.RequireRole(middleware.RoleOperator))
		dev.HandleFunc("/mint", mintHandler(vault)).Methods(http.MethodPost)
	}
	return root
}

func openStore(ctx context.Context, cfg *config.Config, log *logger.Logger) (raffle.Store, func(), error) {
	if cfg.Database.DSN == "" {
		log.Warn("database.dsn not set; game snapshots are kept in memory")
		return raffle.NewMemoryStore(), func() {}, nil
	}
	db, err := postgres.Open(ctx, cfg.Database.DSN)
	if err != nil {
		return nil, nil, err
	}
	log.Info("postgres snapshot store enabled")
	return postgres.New(db, log), func() { db.Close() }, nil
}

func allowTokens(ctx context.Context, svc *raffle.Service, cfg *config.Config, owner raffle.Address, log *logger.Logger) error {
	for _, t := range cfg.Tokens {
		var feed raffle.PriceFeed
		if t.Feed.URL != "" {
			src := t.Feed
			if src.Name == "" {
				src.Name = t.Address
			}
			httpFeed, err := feeds.NewHTTPFeed(src, log)
			if err != nil {
				return err
			}
			feed = httpFeed
		} else {
			// dev mode only: a fixed $1 quote
			feed = raffle.NewStaticPriceFeed(big.NewInt(100_000_000), 8)
		}
		if err := svc.SetAllowedToken(ctx, owner, raffle.Address(t.Address), raffle.TokenConfig{Feed: feed, Decimals: t.Decimals}); err != nil {
			return fmt.Errorf("allow token %s: %w", t.Address, err)
		}
	}
	return nil
}

func applyDevIdentities(c *raffle.Config) {
	defaults := map[*raffle.Address]raffle.Address{
		&c.Owner:       "0xoperator",
		&c.Coordinator: "0xcoordinator",
		&c.Engine:      "0xengine",
		&c.PayoutToken: "0xusdc",
	}
	for field, value := range defaults {
		if field.IsZero() {
			*field = value
		}
	}
}

func randomSecret() []byte {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		panic(err)
	}
	return []byte(hex.EncodeToString(b))
}

func logDevTokens(log *logger.Logger, secret []byte, c raffle.Config) {
	for role, addr := range map[string]raffle.Address{
		middleware.RoleOperator:    c.Owner,
		middleware.RoleCoordinator: c.Coordinator,
	} {
		token, err := middleware.IssueToken(secret, string(addr.Normalize()), role, 24*time.Hour)
		if err != nil {
			log.WithError(err).Warn("issue dev token")
			continue
		}
		log.WithField("role", role).WithField("address", addr).WithField("token", token).Info("dev token issued")
	}
}

// autoFulfill answers pending draws with local randomness.
func autoFulfill(ctx context.Context, coordinator *raffle.LocalCoordinator, svc *raffle.Service, log *logger.Logger) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := coordinator.FulfillPending(ctx, svc)
			if err != nil {
				log.WithError(err).Warn("dev fulfillment failed")
			}
			if n > 0 {
				log.WithField("fulfilled", n).Info("dev randomness delivered")
			}
		}
	}
}

type mintRequest struct {
	Token  raffle.Address `json:"token"`
	Holder raffle.Address `json:"holder"`
	Amount string         `json:"amount"`
}

func mintHandler(vault *raffle.MemoryVault) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req mintRequest
		if err := httputil.ReadJSON(r, &req); err != nil {
			httputil.BadRequest(w, err.Error())
			return
		}
		amount, ok := new(big.Int).SetString(req.Amount, 10)
		if !ok || amount.Sign() <= 0 {
			httputil.BadRequest(w, "amount must be a positive integer")
			return
		}
		vault.Mint(req.Token.Normalize(), req.Holder.Normalize(), amount)
		httputil.WriteJSON(w, http.StatusOK, map[string]string{
			"holder":  string(req.Holder.Normalize()),
			"balance": vault.BalanceOf(req.Token.Normalize(), req.Holder.Normalize()).String(),
		})
	}
}
