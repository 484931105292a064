package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"pentestdesk/internal/adminfn"
	"pentestdesk/internal/auth"
	"pentestdesk/internal/config"
	"pentestdesk/internal/directory"
	"pentestdesk/internal/httpserver"
	"pentestdesk/internal/jobs"
	"pentestdesk/internal/logger"
	"pentestdesk/internal/metrics"
	"pentestdesk/internal/notify"
	"pentestdesk/internal/realtime"
	"pentestdesk/internal/roles"
	"pentestdesk/internal/storage"
	"pentestdesk/internal/store/postgres"
)

func main() {
	_ = godotenv.Load()
	cfg, err := config.Load()
	lg := logger.New(cfg.LogLevel)
	defer lg.Sync()
	if err != nil {
		lg.Fatalw("invalid configuration", "error", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := postgres.Connect(cfg.DatabaseURL)
	if err != nil {
		lg.Fatalw("db connect failed", "error", err)
	}
	if err := postgres.Migrate(db); err != nil {
		lg.Fatalw("automigrate failed", "error", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		lg.Fatalw("db handle", "error", err)
	}

	m := metrics.New()

	var (
		bus realtime.Bus
		rdb *redis.Client
	)
	if cfg.RedisURL != "" {
		rdb, err = realtime.DialRedis(ctx, cfg.RedisURL)
		if err != nil {
			lg.Fatalw("redis connect failed", "error", err)
		}
		defer rdb.Close()
		bus = realtime.NewRedisBus(rdb, lg, m)
	} else {
		lg.Warnw("REDIS_URL not set; change events stay in this process")
		bus = realtime.NewMemoryBus(lg, m)
	}

	st := postgres.New(db, bus, lg)
	provider := auth.NewProvider(st, auth.NewSigner(cfg.JWTSecret, cfg.JWTTTL), cfg.ServiceRoleKey, lg)
	resolver, err := roles.NewResolver(st, bus, cfg.RoleCacheSize, lg)
	if err != nil {
		lg.Fatalw("role resolver", "error", err)
	}
	seedDefaultAdmin(ctx, provider, cfg, lg)

	objects, err := newObjectStore(ctx, cfg, lg)
	if err != nil {
		lg.Fatalw("object storage", "error", err)
	}

	dd := directory.Deps{
		Store:         st,
		Admin:         adminfn.NewClient(cfg.AdminFunctionURL, &http.Client{Timeout: 15 * time.Second}),
		Objects:       objects,
		Logger:        lg,
		InvitationTTL: cfg.InvitationTTL,
	}
	hub := notify.NewHub(ctx, bus, directory.NotificationAdmit(dd, resolver), m, lg)
	defer hub.Close()
	provider.OnSignOut(hub.Release)

	deps := httpserver.Deps{
		Directory: dd,
		Provider:  provider,
		Resolver:  resolver,
		Hub:       hub,
		AdminFn:   adminfn.NewHandler(st, provider, resolver, cfg.AdminEmail, m, lg),
		Health:    httpserver.NewHealthChecker(sqlDB, rdb),
		Logger:    lg,
	}
	if cfg.MetricsEnabled {
		deps.Metrics = m
	}
	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           httpserver.NewRouter(deps),
		ReadHeaderTimeout: 10 * time.Second,
	}

	sched := jobs.NewScheduler(ctx, lg)
	purger := &jobs.InvitationPurger{Store: st, Retention: cfg.InvitationRetention, Observer: m, Logger: lg}
	if err := sched.Add("purge-invitations", cfg.InvitationPurgeSchedule, time.Minute, func(ctx context.Context) error {
		_, err := purger.Run(ctx)
		return err
	}); err != nil {
		lg.Fatalw("schedule invitation purge", "error", err)
	}
	sched.Start()
	defer sched.Stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return resolver.Run(gctx) })
	g.Go(func() error {
		lg.Infow("listening", "port", cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		lg.Errorw("server stopped", "error", err)
	}
	lg.Infow("shutdown complete")
}

func seedDefaultAdmin(ctx context.Context, p *auth.Provider, cfg config.Config, lg *zap.SugaredLogger) {
	if cfg.AdminPassword == "" {
		lg.Warnw("ADMIN_PASSWORD not set; skipping admin seed", "email", cfg.AdminEmail)
		return
	}
	u, created, err := p.EnsureAdmin(ctx, cfg.AdminEmail, cfg.AdminPassword)
	if err != nil {
		lg.Errorw("seed default admin failed", "email", cfg.AdminEmail, "error", err)
		return
	}
	if created {
		lg.Infow("seeded default admin", "email", u.Email)
	}
}

func newObjectStore(ctx context.Context, cfg config.Config, lg *zap.SugaredLogger) (storage.ObjectStore, error) {
	if cfg.S3Bucket == "" {
		lg.Warnw("S3_BUCKET not set; attachments are kept in memory")
		return storage.NewMemory(), nil
	}
	return storage.NewS3(ctx, storage.S3Config{
		Bucket:          cfg.S3Bucket,
		Region:          cfg.S3Region,
		Endpoint:        cfg.S3Endpoint,
		AccessKeyID:     cfg.S3AccessKeyID,
		SecretAccessKey: cfg.S3SecretAccessKey,
	}, lg)
}
