package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"tisp.org/internal/auth"
	"tisp.org/internal/config"
	"tisp.org/internal/grpcapi"
	"tisp.org/internal/httpapi"
	"tisp.org/internal/notify"
	"tisp.org/internal/obs"
	"tisp.org/internal/store/pg"
	"tisp.org/internal/trust"
	"tisp.org/internal/trust/memstore"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logger, err := obs.NewLogger(cfg.Environment)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Error("trustd stopped", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	obs.Init()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, ready, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()
	backend := "memory"
	if cfg.PostgresDSN != "" {
		backend = "postgres"
	}
	obs.InitBuildInfo(version, commit, backend)

	broker := notify.NewBroker(64)
	sinks := notify.Multi{notify.LogSink{Logger: logger}, broker}
	if cfg.RedisURL != "" {
		redisSink, err := notify.NewRedisSink(cfg.RedisURL, cfg.NotifyChannel)
		if err != nil {
			return fmt.Errorf("redis sink: %w", err)
		}
		defer func() { _ = redisSink.Close() }()
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if err := redisSink.Ping(pingCtx); err != nil {
			logger.Warn("redis unreachable at startup", zap.Error(err))
		}
		cancel()
		sinks = append(sinks, redisSink)
	}

	opts := []trust.Option{
		trust.WithNotifier(sinks),
		trust.WithLogger(logger),
		trust.WithStrictLevels(cfg.StrictLevels),
		trust.WithFallbackLevel(cfg.FallbackLevel),
	}
	svc, err := trust.NewService(store, opts...)
	if err != nil {
		return fmt.Errorf("trust service: %w", err)
	}
	groups, err := trust.NewGroupService(store, opts...)
	if err != nil {
		return fmt.Errorf("group service: %w", err)
	}

	issuer, err := auth.NewIssuer(cfg.AuthSecret, auth.WithIssuer(cfg.AuthIssuer))
	if err != nil {
		return fmt.Errorf("auth issuer: %w", err)
	}

	api := httpapi.New(httpapi.Options{
		Trust:          svc,
		Groups:         groups,
		Issuer:         issuer,
		Broker:         broker,
		Ready:          ready,
		Logger:         logger,
		Version:        version,
		AllowedOrigins: cfg.AllowedOrigins,
		DevTokens:      cfg.Development(),
	})
	httpSrv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		// SSE responses stay open; per-write deadlines are not used.
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}

	grpcSrv, health := grpcapi.NewGRPCServer(grpcapi.NewServer(svc, issuer, logger))
	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return fmt.Errorf("listen grpc: %w", err)
	}

	errs := make(chan error, 2)
	go func() {
		logger.Info("http listening", zap.String("addr", cfg.HTTPAddr), zap.String("version", version))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs <- fmt.Errorf("http: %w", err)
		}
	}()
	go func() {
		logger.Info("grpc listening", zap.String("addr", cfg.GRPCAddr))
		if err := grpcSrv.Serve(lis); err != nil {
			errs <- fmt.Errorf("grpc: %w", err)
		}
	}()

	sweepDone := make(chan struct{})
	go func() {
		defer close(sweepDone)
		sweepExpired(ctx, svc, cfg.ExpirySweep, logger)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case runErr = <-errs:
		logger.Error("server failed", zap.Error(runErr))
		stop()
	}

	health.SetServingStatus(grpcapi.ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	grpcSrv.GracefulStop()
	<-sweepDone
	logger.Info("stopped")
	return runErr
}

// openStore selects Postgres when a DSN is configured and an in-memory store
// seeded with the default tiers otherwise.
func openStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (trust.Store, httpapi.ReadyProbe, func(), error) {
	if cfg.PostgresDSN == "" {
		store := memstore.New()
		if err := store.Seed(ctx, trust.DefaultLevels()...); err != nil {
			return nil, nil, nil, fmt.Errorf("seed memstore: %w", err)
		}
		logger.Warn("TRUST_PG_DSN not set, using in-memory store")
		return store, nil, func() {}, nil
	}
	store, err := pg.Open(cfg.PostgresDSN)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("open postgres: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := store.Ping(pingCtx); err != nil {
		_ = store.Close()
		return nil, nil, nil, fmt.Errorf("ping postgres: %w", err)
	}
	return store, httpapi.ReadyFunc(store.Ping), func() { _ = store.Close() }, nil
}

// sweepExpired periodically moves relationships past valid_until to expired.
func sweepExpired(ctx context.Context, svc *trust.Service, every time.Duration, logger *zap.Logger) {
	if every <= 0 {
		return
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := svc.ExpireRelationships(ctx)
			if err != nil {
				if ctx.Err() == nil {
					logger.Error("expiry sweep failed", zap.Error(err))
				}
				continue
			}
			if n > 0 {
				logger.Info("expired relationships", zap.Int("count", n))
			}
		}
	}
}
