package main

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"go.uber.org/zap"
	"google.golang.org/grpc"

	"postdesk.io/internal/auth"
	"postdesk.io/internal/collab"
	"postdesk.io/internal/config"
	"postdesk.io/internal/httpapi"
	"postdesk.io/internal/migrate"
	"postdesk.io/internal/notify"
	"postdesk.io/internal/obs"
	"postdesk.io/internal/store/pg"
	"postdesk.io/ops/migrations"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	obs.Init()
	obs.InitBuildInfo(version, commit)
	logger := obs.InitLogger(cfg.Environment, "postdesk-api")
	defer func() { _ = logger.Sync() }()

	if cfg.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:         cfg.SentryDSN,
			Environment: cfg.Environment,
			Release:     version,
		}); err != nil {
			logger.Warn("sentry init failed", zap.Error(err))
		}
		defer sentry.Flush(2 * time.Second)
	}

	// Store: Postgres when a DSN is configured, otherwise the in-memory store.
	var (
		store collab.Store
		ready httpapi.ReadyProbe
		pgdb  *pg.Store
	)
	if cfg.UsesPostgres() {
		pgdb, err = pg.Open(cfg.PGDSN, pg.Options{MaxOpenConns: cfg.PGMaxOpenConns})
		if err != nil {
			logger.Fatal("open postgres", zap.Error(err))
		}
		if cfg.AutoMigrate {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			mgr := migrate.NewManager(pgdb.DB(), migrations.SQL, migrations.Seeds, migrate.WithLogf(logger.Sugar().Infof))
			err := mgr.Up(ctx)
			cancel()
			if err != nil {
				logger.Fatal("apply migrations", zap.Error(err))
			}
		}
		store = pgdb
		ready.Store = pgdb
	} else {
		logger.Warn("PG_DSN not set, using in-memory store")
		store = collab.NewMemory()
	}

	// Notifications: SSE hub and log always, Redis when configured, all behind a queue.
	hub := notify.NewHub()
	sinks := notify.Fanout{hub, notify.Logger{L: logger.Named("notify")}}
	if cfg.RedisAddr != "" {
		client := notify.NewRedisClient(notify.RedisConfig{
			Address:  cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			Channel:  cfg.RedisChannel,
		})
		defer func() { _ = client.Close() }()
		sinks = append(sinks, notify.NewRedisPublisher(client, cfg.RedisChannel))
	}
	queue := notify.NewQueue(sinks, cfg.NotifyQueueSize, logger)

	signer, err := auth.NewSigner(cfg.AuthSecret, cfg.AuthIssuer)
	if err != nil {
		logger.Fatal("auth signer", zap.Error(err))
	}

	svc := collab.NewService(store,
		collab.WithNotifier(queue),
		collab.WithInvitationTTL(cfg.InvitationTTL),
		collab.WithLogger(logger.Named("collab")),
	)

	api := httpapi.New(svc, signer, httpapi.Options{
		Version:        version,
		Ready:          ready,
		Hub:            hub,
		Logger:         logger,
		RateBurst:      cfg.RateBurst,
		RatePerSec:     cfg.RatePerSec,
		MaxBodyBytes:   cfg.MaxBodyBytes,
		AllowedOrigins: cfg.AllowedOrigins,
		DevTokens:      !cfg.Production(),
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		// notification streams stay open, so no write deadline
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}

	// Shutdown waits for active handlers; ending the hub lets open
	// notification streams return instead of holding it to the deadline.
	srv.RegisterOnShutdown(hub.Close)

	grpcSrv := grpc.NewServer()
	httpapi.NewGRPCServer(ready).Register(grpcSrv)
	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		logger.Fatal("grpc listen", zap.String("addr", cfg.GRPCAddr), zap.Error(err))
	}

	logger.Info("starting postdesk-api",
		zap.String("version", version),
		zap.String("http_addr", srv.Addr),
		zap.String("grpc_addr", cfg.GRPCAddr),
		zap.Bool("postgres", pgdb != nil),
	)

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("http listen", zap.Error(err))
		}
	}()
	go func() {
		if err := grpcSrv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			logger.Fatal("grpc serve", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	logger.Info("shutting down")

	obs.SetReady(false)
	grpcSrv.GracefulStop()

	httpCtx, cancelHTTP := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelHTTP()
	if err := srv.Shutdown(httpCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}

	// The queue drains after HTTP so events from the last requests are kept.
	drainCtx, cancelDrain := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelDrain()
	if err := queue.Close(drainCtx); err != nil {
		logger.Warn("notification queue drain", zap.Error(err))
	}
	if pgdb != nil {
		_ = pgdb.Close()
	}
	logger.Info("stopped")
}
