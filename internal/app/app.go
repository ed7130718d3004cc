// Package app wires stores, locks and services for the binaries under cmd/.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/hackgods/clinic-scheduling/internal/api"
	"github.com/hackgods/clinic-scheduling/internal/appointment"
	"github.com/hackgods/clinic-scheduling/internal/billing"
	"github.com/hackgods/clinic-scheduling/internal/calendar"
	"github.com/hackgods/clinic-scheduling/internal/config"
	"github.com/hackgods/clinic-scheduling/internal/db"
	"github.com/hackgods/clinic-scheduling/internal/inventory"
	"github.com/hackgods/clinic-scheduling/internal/lock"
	"github.com/hackgods/clinic-scheduling/internal/memstore"
	redisclient "github.com/hackgods/clinic-scheduling/internal/redis"
	"github.com/hackgods/clinic-scheduling/internal/report"
	"github.com/hackgods/clinic-scheduling/internal/treatment"
)

// StockSeeder creates or resets inventory items.
type StockSeeder interface {
	Upsert(ctx context.Context, it inventory.Item) error
}

type App struct {
	Config       config.Config
	Calendar     *calendar.Service
	Appointments *appointment.Service
	Treatments   *treatment.Handler
	Ledger       *billing.Ledger
	Reports      *report.Service
	Stock        StockSeeder
	Dependencies []api.Dependency

	closers []func()
}

// Open connects the configured store. The postgres store also needs Redis
// for cross-process locks; the memory store uses in-process locks.
func Open(ctx context.Context, cfg config.Config) (*App, error) {
	defaults := calendar.DefaultPolicy(cfg.DefaultCapacity)
	a := &App{Config: cfg}

	if cfg.Store == config.StoreMemory {
		store := memstore.New(defaults)
		a.wire(store, store, store, store, store, lock.NewLocal())
		a.Stock = store
		log.Info().Msg("using in-memory store")
		return a, nil
	}

	pgCtx, cancelPg := context.WithTimeout(ctx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN, db.PoolOptions{MaxConns: cfg.PostgresMaxConn})
	cancelPg()
	if err != nil {
		return nil, fmt.Errorf("postgres connection error: %w", err)
	}
	a.closers = append(a.closers, pgPool.Close)
	log.Info().Msg("connected to Postgres")

	if err := db.Migrate(ctx, pgPool); err != nil {
		a.Close()
		return nil, err
	}

	rdb, err := redisclient.NewRedisClient(ctx, cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("redis connection error: %w", err)
	}
	a.closers = append(a.closers, func() {
		if err := rdb.Close(); err != nil {
			log.Warn().Err(err).Msg("error closing redis")
		}
	})
	log.Info().Str("addr", cfg.RedisAddr).Msg("connected to Redis")

	stock := inventory.NewPgAdjuster(pgPool)
	a.wire(
		calendar.NewPgStore(pgPool, defaults),
		appointment.NewPgRepository(pgPool),
		billing.NewPgRepository(pgPool),
		stock,
		db.NewTxRunner(pgPool),
		redisclient.NewRedisLocker(rdb, cfg.LockTTL, cfg.LockWait),
	)
	a.Stock = stock
	a.Dependencies = dependencies(pgPool, rdb)
	return a, nil
}

func (a *App) wire(
	policy calendar.Store,
	appts appointment.Repository,
	ledger billing.Repository,
	stock inventory.Adjuster,
	tx db.TxRunner,
	locker lock.Locker,
) {
	a.Calendar = calendar.NewService(policy)
	a.Appointments = appointment.NewService(appts, a.Calendar, locker, tx)
	a.Ledger = billing.NewLedger(ledger, tx, locker, billing.WithLocation(a.Config.Location))
	a.Treatments = treatment.NewHandler(a.Appointments, appts, a.Ledger, stock, tx)
	a.Reports = report.NewService(ledger, appts)
}

// Close releases connections in reverse order of acquisition.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// dependencies lists what readiness pings. Both are critical: every booking
// and ledger write takes a Redis lock before it reaches Postgres.
func dependencies(pool *pgxpool.Pool, rdb *redis.Client) []api.Dependency {
	return []api.Dependency{
		{Name: "postgres", Critical: true, Ping: pool.Ping},
		{Name: "redis", Critical: true, Ping: func(ctx context.Context) error { return rdb.Ping(ctx).Err() }},
	}
}
