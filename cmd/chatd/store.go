package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vnmchuo/chat-backend/config"
	"github.com/vnmchuo/chat-backend/internal/store"
	"github.com/vnmchuo/chat-backend/internal/store/postgres"
	"github.com/vnmchuo/chat-backend/internal/store/sqlite"
)

// openStore selects the backend from DATABASE_URL. The returned func
// releases it.
func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (store.Store, func(), error) {
	driver, target, err := cfg.DatabaseDriver()
	if err != nil {
		return nil, nil, err
	}

	switch driver {
	case "postgres":
		pool, err := pgxpool.New(ctx, target)
		if err != nil {
			return nil, nil, fmt.Errorf("connect postgres: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("ping postgres: %w", err)
		}

		st := postgres.NewPostgresStore(pool)
		if err := st.Migrate(ctx); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("migrate postgres: %w", err)
		}
		logger.Info("postgres connected")
		return st, pool.Close, nil

	default:
		st, err := sqlite.New(target)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("sqlite opened", "path", target)
		return st, func() {
			if err := st.Close(); err != nil {
				logger.Error("sqlite close failed", "error", err)
			}
		}, nil
	}
}
