// Package app is the composition root shared by the server and the CLI.
// It opens the Profile Store selected by configuration, connects the
// optional Redis services and builds every command and query handler.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/arcs-classroom/motivation-hub/config"
	"github.com/arcs-classroom/motivation-hub/internal/application/command"
	"github.com/arcs-classroom/motivation-hub/internal/application/query"
	"github.com/arcs-classroom/motivation-hub/internal/domain/clustering"
	"github.com/arcs-classroom/motivation-hub/internal/domain/grouping"
	"github.com/arcs-classroom/motivation-hub/internal/infrastructure/messaging"
	"github.com/arcs-classroom/motivation-hub/internal/infrastructure/persistence"
	"github.com/arcs-classroom/motivation-hub/internal/infrastructure/persistence/memory"
	"github.com/arcs-classroom/motivation-hub/internal/infrastructure/persistence/postgres"
	"github.com/arcs-classroom/motivation-hub/internal/infrastructure/persistence/redis"
	"github.com/arcs-classroom/motivation-hub/internal/infrastructure/persistence/sqlite"
	"github.com/arcs-classroom/motivation-hub/internal/infrastructure/report"
	apihttp "github.com/arcs-classroom/motivation-hub/internal/interface/http"
	"github.com/arcs-classroom/motivation-hub/internal/interface/http/handlers"
	"github.com/arcs-classroom/motivation-hub/pkg/logger"
	"github.com/arcs-classroom/motivation-hub/pkg/retry"
	"github.com/arcs-classroom/motivation-hub/pkg/timeutil"
)

// App holds the wired application.
type App struct {
	Config *config.Config
	Logger *logger.Logger

	Store  persistence.Store
	Bus    *messaging.Bus
	Cache  *redis.Cache // nil without Redis
	Health *handlers.Health

	// Commands
	Ingest    *command.IngestARCSCSVHandler
	Submit    *command.SubmitQuestionnaireHandler
	Recluster *command.ReclusterAllHandler
	Form      *command.FormGroupsHandler

	// Queries
	Analyze   *query.AnalyzeClassHandler
	GetGroups *query.GetGroupsHandler
	Export    *query.ExportGroupReportHandler

	closers []func()
}

// NewLogger builds the process logger from the observability settings.
func NewLogger(cfg config.ObservabilityConfig) *logger.Logger {
	return logger.New(logger.Options{
		Output: os.Stdout,
		Format: logger.ParseFormat(cfg.LogFormat),
		Level:  logger.ParseLevel(cfg.LogLevel),
	})
}

// New wires the application. The caller must Close it.
func New(ctx context.Context, cfg *config.Config, log *logger.Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.Observability)
	}
	a := &App{
		Config: cfg,
		Logger: log,
		Health: handlers.NewHealth(cfg.App.Version),
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 1. Profile Store
	// ─────────────────────────────────────────────────────────────────────────
	if err := a.openStore(ctx); err != nil {
		a.Close()
		return nil, err
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 2. Event bus (synchronous, so cache invalidation precedes the response)
	// ─────────────────────────────────────────────────────────────────────────
	features := cfg.Features
	if features == nil {
		features = config.NewFeatureFlags()
	}

	busOpts := messaging.DefaultOptions()
	busOpts.Logger = log.With(logger.Component("eventbus"))
	a.Bus = messaging.New(busOpts)
	a.closers = append(a.closers, func() { _ = a.Bus.Close() })
	if err := a.Bus.SubscribeAll(EventLog(log, features)); err != nil {
		a.Close()
		return nil, fmt.Errorf("subscribe event log: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 3. Redis (optional): analysis cache and cross-node material lock
	// ─────────────────────────────────────────────────────────────────────────
	a.connectRedis(ctx)

	var analysisCache query.AnalysisCache
	var distributed grouping.MaterialLocker
	if a.Cache != nil {
		ac := redis.NewAnalysisCache(a.Cache, cfg.Redis.CacheTTL, log)
		if err := ac.Subscribe(a.Bus); err != nil {
			a.Close()
			return nil, fmt.Errorf("subscribe analysis cache: %w", err)
		}
		analysisCache = ac
		distributed = redis.NewMaterialLock(a.Cache, cfg.Redis.LockTTL)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 4. Handlers
	// ─────────────────────────────────────────────────────────────────────────
	e := cfg.Engine

	a.Recluster = command.NewReclusterAllHandler(a.Store, a.Bus, clustering.Options{
		Seed:    e.Seed,
		NInit:   e.KMeansInit,
		MaxIter: e.KMeansMaxIter,
	}, log)
	a.Ingest = command.NewIngestARCSCSVHandler(a.Store, a.Store, a.Recluster, features, a.Bus,
		command.IngestARCSCSVHandlerConfig{MaxBytes: cfg.HTTP.MaxUploadBytes}, log)
	a.Submit = command.NewSubmitQuestionnaireHandler(a.Store, a.Bus, log)
	a.Form = command.NewFormGroupsHandler(a.Store, a.Store, a.Store,
		NewFormationLocker(a.Store, distributed, features), a.Bus, grouping.GAConfig{
			Seed:           e.Seed,
			Population:     e.Population,
			Generations:    e.Generations,
			TournamentSize: e.TournamentSize,
			CrossoverRate:  e.CrossoverRate,
			MutationRate:   e.MutationRate,
			Elitism:        e.Elitism,
			Patience:       e.Patience,
		}, log)

	a.Analyze = query.NewAnalyzeClassHandler(a.Store, a.Store, analysisCache, features, log)
	a.GetGroups = query.NewGetGroupsHandler(a.Store)
	loc, err := timeutil.LoadLocation(cfg.App.Timezone)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Export = query.NewExportGroupReportHandler(a.Store, report.NewTextRenderer(loc), log)

	log.Info("application wired",
		logger.String("driver", cfg.Database.Driver),
		logger.Bool("redis", a.Cache != nil),
	)
	return a, nil
}

// HTTPDependencies returns the handler set of the REST transport.
func (a *App) HTTPDependencies() apihttp.Dependencies {
	return apihttp.Dependencies{
		IngestARCSCSV:       a.Ingest,
		SubmitQuestionnaire: a.Submit,
		ReclusterAll:        a.Recluster,
		FormGroups:          a.Form,
		AnalyzeClass:        a.Analyze,
		GetGroups:           a.GetGroups,
		ExportGroupReport:   a.Export,
		Logger:              a.Logger,
		HealthChecker:       a.Health,
		Version:             a.Config.App.Version,
	}
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// ══════════════════════════════════════════════════════════════════════════════
// BACKENDS
// ══════════════════════════════════════════════════════════════════════════════

func (a *App) openStore(ctx context.Context) error {
	db := a.Config.Database
	log := a.Logger.With(logger.Component("store"))

	switch db.Driver {
	case config.DriverPostgres:
		pgCfg := postgres.DefaultConfig(db.URL)
		if db.MaxOpenConns > 0 {
			pgCfg.MaxConns = int32(db.MaxOpenConns)
		}
		if db.MaxIdleConns > 0 && db.MaxIdleConns <= db.MaxOpenConns {
			pgCfg.MinConns = int32(db.MaxIdleConns)
		}
		if db.ConnMaxLifetime > 0 {
			pgCfg.MaxConnLifetime = db.ConnMaxLifetime
		}
		if db.ConnMaxIdleTime > 0 {
			pgCfg.MaxConnIdleTime = db.ConnMaxIdleTime
		}

		var conn *postgres.Connection
		policy := retry.Database(func(attempt int, err error, delay time.Duration) {
			log.Warn("database not reachable, retrying",
				logger.Int("attempt", attempt), logger.Err(err), logger.Duration("delay", delay))
		})
		err := policy.Do(ctx, func(ctx context.Context) error {
			var err error
			conn, err = postgres.NewConnection(ctx, pgCfg)
			if errors.Is(err, postgres.ErrInvalidURL) {
				return retry.Stop(err)
			}
			return err
		})
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		a.closers = append(a.closers, conn.Close)

		if db.AutoMigrate {
			if err := postgres.NewMigrator(conn).Migrate(ctx); err != nil {
				return fmt.Errorf("migrate postgres: %w", err)
			}
			log.Info("database schema is up to date")
		}

		a.Store = postgres.NewStore(conn)
		a.Health.AddCheck("database", true, handlers.PingCheck(conn))

	case config.DriverSQLite:
		store, err := sqlite.Open(db.SQLitePath)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, func() { _ = store.Close() })
		a.Store = store
		a.Health.AddCheck("database", true, handlers.PingCheck(store))

	case config.DriverMemory:
		a.Store = memory.NewStore()

	default:
		return fmt.Errorf("unknown database driver %q", db.Driver)
	}

	log.Info("profile store ready", logger.String("driver", db.Driver))
	return nil
}

// connectRedis leaves a.Cache nil when Redis is disabled or unreachable;
// the application then runs on store locks and without the analysis cache.
func (a *App) connectRedis(ctx context.Context) {
	rc := a.Config.Redis
	if rc.Disabled {
		return
	}
	log := a.Logger.With(logger.Component("redis"))

	cfg := redis.Config{
		URL:          rc.URL,
		Host:         rc.Host,
		Port:         rc.Port,
		Password:     rc.Password,
		DB:           rc.DB,
		PoolSize:     rc.PoolSize,
		MinIdleConns: rc.MinIdleConns,
		DialTimeout:  rc.DialTimeout,
		ReadTimeout:  rc.ReadTimeout,
		WriteTimeout: rc.WriteTimeout,
	}

	policy := retry.Redis(func(attempt int, err error, delay time.Duration) {
		log.Warn("redis not reachable, retrying",
			logger.Int("attempt", attempt), logger.Err(err), logger.Duration("delay", delay))
	})
	var cache *redis.Cache
	err := policy.Do(ctx, func(context.Context) error {
		var err error
		cache, err = redis.NewCache(cfg)
		if errors.Is(err, redis.ErrInvalidURL) {
			return retry.Stop(err)
		}
		return err
	})
	if err != nil {
		log.Warn("redis unavailable, cache and distributed lock disabled", logger.Err(err))
		return
	}

	a.Cache = cache
	a.closers = append(a.closers, func() { _ = cache.Close() })
	a.Health.AddCheck("redis", false, handlers.PingCheck(cache))
	log.Info("redis connection established")
}
