// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

package main

import (
	"context"
	"errors"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/samber/oops"

	"github.com/gatehouse-auth/gatehouse/internal/auth"
	"github.com/gatehouse-auth/gatehouse/internal/auth/memstore"
	"github.com/gatehouse-auth/gatehouse/internal/auth/postgres"
	"github.com/gatehouse-auth/gatehouse/internal/auth/redisstore"
	"github.com/gatehouse-auth/gatehouse/internal/auth/sqlite"
	"github.com/gatehouse-auth/gatehouse/internal/config"
	"github.com/gatehouse-auth/gatehouse/internal/store"
)

// backends holds the stores selected by configuration.
type backends struct {
	users    auth.UserRepository
	sessions auth.SessionStore
	closers  []func() error
}

// Close releases backend resources in reverse order of acquisition.
func (b *backends) Close() error {
	var errs []error
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	b.closers = nil
	return errors.Join(errs...)
}

// openBackends builds the user store and then the session store. The sqlite
// and postgres session drivers reuse the user store's connection.
func openBackends(ctx context.Context, cfg config.Config, logger *slog.Logger) (*backends, error) {
	b := &backends{}
	var (
		sqliteDB *sqlite.DB
		pool     *pgxpool.Pool
	)

	switch cfg.Store.Driver {
	case config.DriverMemory:
		b.users = memstore.NewUserRepository()
	case config.DriverSQLite:
		db, err := sqlite.Open(ctx, cfg.Store.DSN)
		if err != nil {
			return nil, oops.Code("BACKEND_OPEN_FAILED").With("driver", cfg.Store.Driver).Wrap(err)
		}
		b.closers = append(b.closers, db.Close)
		sqliteDB = db
		b.users = sqlite.NewUserRepository(db)
	case config.DriverPostgres:
		p, err := store.Connect(ctx, cfg.Store.DSN, store.ConnectOptions{Logger: logger})
		if err != nil {
			return nil, oops.Code("BACKEND_OPEN_FAILED").With("driver", cfg.Store.Driver).Wrap(err)
		}
		b.closers = append(b.closers, func() error { p.Close(); return nil })
		pool = p
		b.users = postgres.NewUserRepository(p)
	default:
		return nil, oops.Code("BACKEND_UNKNOWN_DRIVER").With("driver", cfg.Store.Driver).
			Errorf("unknown store driver %q", cfg.Store.Driver)
	}

	switch cfg.Sessions.Driver {
	case config.DriverMemory:
		b.sessions = memstore.NewSessionStore()
	case config.DriverSQLite:
		if sqliteDB == nil {
			return nil, b.fail(oops.Code("BACKEND_UNKNOWN_DRIVER").Errorf("sqlite sessions require the sqlite store"))
		}
		b.sessions = sqlite.NewSessionStore(sqliteDB)
	case config.DriverPostgres:
		if pool == nil {
			return nil, b.fail(oops.Code("BACKEND_UNKNOWN_DRIVER").Errorf("postgres sessions require the postgres store"))
		}
		b.sessions = postgres.NewSessionStore(pool)
	case config.DriverRedis:
		client := redis.NewClient(&redis.Options{Addr: cfg.Sessions.RedisAddr})
		b.closers = append(b.closers, client.Close)
		rs := redisstore.NewSessionStore(client, redisstore.DefaultKeyPrefix)
		if err := rs.Ping(ctx); err != nil {
			return nil, b.fail(oops.Code("BACKEND_OPEN_FAILED").With("driver", cfg.Sessions.Driver).Wrap(err))
		}
		b.sessions = rs
	default:
		return nil, b.fail(oops.Code("BACKEND_UNKNOWN_DRIVER").With("driver", cfg.Sessions.Driver).
			Errorf("unknown session driver %q", cfg.Sessions.Driver))
	}

	logger.Info("backends ready",
		"store_driver", cfg.Store.Driver,
		"sessions_driver", cfg.Sessions.Driver,
	)
	return b, nil
}

// fail closes what was opened so far and returns err.
func (b *backends) fail(err error) error {
	if closeErr := b.Close(); closeErr != nil {
		slog.Warn("closing backends after failure", "error", closeErr)
	}
	return err
}
