package app

import (
	"context"
	"database/sql"

	_ "github.com/lib/pq"

	"github.com/jorgecotillo/salesianos-openid-connect/internal/config"
	"github.com/jorgecotillo/salesianos-openid-connect/internal/db"
	"github.com/jorgecotillo/salesianos-openid-connect/internal/logger"
	"github.com/jorgecotillo/salesianos-openid-connect/internal/redis"
)

type Infra struct {
	DB    *db.DB
	Redis *redis.Client
}

func setupInfra(ctx context.Context, cfg config.Config) (*Infra, error) {
	sqlDB, err := sql.Open("postgres", cfg.DatabaseDSN)
	if err != nil {
		return nil, err
	}

	if err := sqlDB.PingContext(ctx); err != nil {
		return nil, err
	}

	if err := db.RunBootstrapMigration(ctx, sqlDB); err != nil {
		return nil, err
	}

	logger.Info("database ready")

	redisClient, err := redis.New(cfg.RedisAddr, cfg.RedisPassword)
	if err != nil {
		return nil, err
	}

	logger.Info("redis ready")

	return &Infra{
		DB:    &db.DB{DB: sqlDB},
		Redis: redisClient,
	}, nil
}
