package main

import (
	"context"
	"database/sql"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"

	"passport.org/internal/audit"
	"passport.org/internal/auth"
	"passport.org/internal/config"
	"passport.org/internal/httpapi"
	"passport.org/internal/obs"
	"passport.org/internal/throttle"
)

var (
	version = "0.3.0"
	commit  = "dev"
)

func main() {
	// Local development convenience; a missing .env is not an error.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		obs.Logger().Fatal().Err(err).Msg("load config")
	}
	obs.SetLevel(cfg.LogLevel)
	obs.Init()
	obs.InitBuildInfo(version, commit)

	log := obs.Logger()

	// Store: PostgreSQL when a DSN is configured, in-memory otherwise. The
	// in-memory store is for development; it forgets everything on restart.
	var (
		db    *sql.DB
		store auth.Store
	)
	if cfg.PostgresDSN != "" {
		db, err = sql.Open("pgx", cfg.PostgresDSN)
		if err != nil {
			log.Fatal().Err(err).Msg("open db")
		}
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(10)
		db.SetConnMaxLifetime(30 * time.Minute)
		store = auth.NewPGStore(db)
	} else {
		log.Warn().Msg("no PASSPORT_PG_DSN set, using in-memory store")
		store = auth.NewMemoryStore()
	}

	// Login throttle: shared Redis counters when an address is configured,
	// sharded in-process counters otherwise.
	var (
		throttleStore throttle.Store
		redisClient   *redis.Client
	)
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		throttleStore = throttle.NewRedisStore(redisClient, cfg.ThrottleWindow)
	} else {
		throttleStore = throttle.NewMemoryStore(cfg.ThrottleWindow)
	}
	loginThrottle := throttle.New(throttleStore, cfg.ThrottleLimit)

	issuer, err := auth.NewIssuer(cfg.TokenSecret, cfg.Issuer, cfg.Audience, cfg.AccessTTL)
	if err != nil {
		log.Fatal().Err(err).Msg("token issuer")
	}
	ledger := auth.NewLedger(store.RefreshTokens(), cfg.RefreshTTL)
	recorder := audit.NewRecorder(cfg.AuditBufferSize, store)
	hasher := auth.NewBcryptHasher(bcrypt.DefaultCost)

	authSvc := auth.NewService(store, hasher, issuer, ledger, recorder)
	sessionSvc := auth.NewSessionService(store, issuer, ledger, recorder)

	startCtx, cancelStart := context.WithTimeout(context.Background(), 10*time.Second)
	if err := authSvc.EnsureRoles(startCtx); err != nil {
		log.Fatal().Err(err).Msg("seed roles")
	}
	cancelStart()

	api := httpapi.New(httpapi.Options{
		Auth:          authSvc,
		Sessions:      sessionSvc,
		Issuer:        issuer,
		Throttle:      loginThrottle,
		Ready:         httpapi.ReadyProbe{DB: db},
		Version:       version,
		RateBurst:     cfg.RequestRateBurst,
		RatePerSecond: cfg.RequestRatePerS,
	})

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Info().Str("addr", cfg.Addr).Str("version", version).Msg("starting passport-api")

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("listen")
		}
	}()

	// gRPC health endpoint alongside HTTP.
	grpcCtx, cancelGRPC := context.WithCancel(context.Background())
	grpcHealth := httpapi.NewGRPCHealth(httpapi.ReadyProbe{DB: db})
	go func() {
		lis, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			log.Error().Err(err).Str("addr", cfg.GRPCAddr).Msg("grpc listen")
			return
		}
		go grpcHealth.Watch(grpcCtx, 15*time.Second)
		if err := grpcHealth.Server().Serve(lis); err != nil {
			log.Error().Err(err).Msg("grpc serve")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Info().Msg("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	_ = srv.Shutdown(ctx)
	cancelGRPC()
	grpcHealth.Server().GracefulStop()

	// Drain pending audit writes before closing the stores under them.
	recorder.Close()

	if redisClient != nil {
		_ = redisClient.Close()
	}
	if db != nil {
		_ = db.Close()
	}
	log.Info().Msg("stopped")
}
