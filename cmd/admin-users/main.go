// Command admin-users runs the administrative user-management function on
// AWS Lambda behind API Gateway.
package main

import (
	"context"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/joho/godotenv"

	"pentestdesk/internal/adminfn"
	"pentestdesk/internal/auth"
	"pentestdesk/internal/config"
	"pentestdesk/internal/logger"
	"pentestdesk/internal/realtime"
	"pentestdesk/internal/roles"
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

	db, err := postgres.Connect(cfg.DatabaseURL)
	if err != nil {
		lg.Fatalw("db connect failed", "error", err)
	}

	var bus realtime.Bus = realtime.NewMemoryBus(lg, nil)
	if cfg.RedisURL != "" {
		rdb, err := realtime.DialRedis(context.Background(), cfg.RedisURL)
		if err != nil {
			lg.Fatalw("redis connect failed", "error", err)
		}
		bus = realtime.NewRedisBus(rdb, lg, nil)
	}

	st := postgres.New(db, bus, lg)
	provider := auth.NewProvider(st, auth.NewSigner(cfg.JWTSecret, cfg.JWTTTL), cfg.ServiceRoleKey, lg)
	resolver, err := roles.NewResolver(st, bus, cfg.RoleCacheSize, lg)
	if err != nil {
		lg.Fatalw("role resolver", "error", err)
	}

	h := adminfn.NewHandler(st, provider, resolver, cfg.AdminEmail, nil, lg)
	lambda.Start(h.HandleAPIGateway)
}
