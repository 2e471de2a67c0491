// Package config loads the hub's settings from the environment, after an
// optional .env file, and validates them as a whole.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/arcs-classroom/motivation-hub/pkg/timeutil"
)

// Environment is the deployment stage.
type Environment string

const (
	EnvDevelopment Environment = "development"
	EnvStaging     Environment = "staging"
	EnvProduction  Environment = "production"
)

// Profile Store drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverMemory   = "memory"
)

// Config is the full application configuration.
type Config struct {
	App           AppConfig
	Database      DatabaseConfig
	Redis         RedisConfig
	HTTP          HTTPConfig
	Engine        EngineConfig
	Features      *FeatureFlags
	Observability ObservabilityConfig
}

type AppConfig struct {
	Name        string
	Environment Environment
	Version     string

	// Timezone is the IANA zone reports are shown in. Storage is UTC.
	Timezone        string
	ShutdownTimeout time.Duration
}

type DatabaseConfig struct {
	Driver string

	// URL is the postgres DSN. When empty it is assembled from DB_HOST,
	// DB_USER and friends.
	URL        string
	SQLitePath string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration

	AutoMigrate bool
}

// RedisConfig is optional: with Disabled set the hub runs without the
// analysis cache and the cross-node material lock.
type RedisConfig struct {
	Disabled bool

	URL      string // wins over Host/Port
	Host     string
	Port     int
	Password string
	DB       int

	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	LockTTL  time.Duration
	CacheTTL time.Duration
}

type HTTPConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	RequestDeadline time.Duration
	MaxUploadBytes  int64
	RateLimit       int // requests per minute per client, 0 = off
	AllowedOrigins  []string
}

// Addr returns host:port.
func (h HTTPConfig) Addr() string {
	return fmt.Sprintf("%s:%d", h.Host, h.Port)
}

// EngineConfig parameterizes k-means and the genetic algorithm.
type EngineConfig struct {
	Seed int64

	KMeansInit    int
	KMeansMaxIter int

	Population     int
	Generations    int
	TournamentSize int
	CrossoverRate  float64
	MutationRate   float64
	Elitism        int
	Patience       int
}

type ObservabilityConfig struct {
	LogLevel  string // debug, info, warn, error
	LogFormat string // json, text
}

// Load reads .env when present, then the environment. Real environment
// variables win over .env. Malformed values and invalid combinations are
// reported together.
func Load() (*Config, error) {
	_ = godotenv.Load()

	r := &envReader{lookup: os.LookupEnv}
	cfg := &Config{
		App:           r.app(),
		Database:      r.database(),
		Redis:         r.redis(),
		HTTP:          r.http(),
		Engine:        r.engine(),
		Features:      LoadFeatureFlags(),
		Observability: ObservabilityConfig{LogLevel: r.str("LOG_LEVEL", "info"), LogFormat: r.str("LOG_FORMAT", "json")},
	}

	problems := append(r.problems, cfg.problems()...)
	if len(problems) > 0 {
		return nil, fmt.Errorf("config: %w", errors.New(strings.Join(problems, "; ")))
	}
	return cfg, nil
}

// Validate reports every invalid setting of c.
func (c *Config) Validate() error {
	if p := c.problems(); len(p) > 0 {
		return errors.New(strings.Join(p, "; "))
	}
	return nil
}

func (c *Config) problems() []string {
	var out []string
	add := func(format string, args ...any) { out = append(out, fmt.Sprintf(format, args...)) }

	switch c.Database.Driver {
	case DriverPostgres:
		if c.Database.URL == "" {
			add("DATABASE_URL is required for the postgres driver")
		}
	case DriverSQLite:
		if c.Database.SQLitePath == "" {
			add("SQLITE_PATH is required for the sqlite driver")
		}
	case DriverMemory:
		if c.App.Environment == EnvProduction {
			add("DB_DRIVER=memory is not allowed in production")
		}
	default:
		add("DB_DRIVER %q must be postgres, sqlite or memory", c.Database.Driver)
	}

	if _, err := timeutil.LoadLocation(c.App.Timezone); err != nil {
		add("APP_TIMEZONE %q is not a known time zone", c.App.Timezone)
	}

	if c.HTTP.Port < 1 || c.HTTP.Port > 65535 {
		add("HTTP_PORT %d must be 1-65535", c.HTTP.Port)
	}
	if c.HTTP.MaxUploadBytes <= 0 {
		add("HTTP_MAX_UPLOAD_BYTES must be positive")
	}

	e := c.Engine
	if e.KMeansInit < 1 || e.KMeansMaxIter < 1 {
		add("ENGINE_KMEANS_N_INIT and ENGINE_KMEANS_MAX_ITER must be positive")
	}
	if e.Population < 2 {
		add("ENGINE_GA_POPULATION must be at least 2")
	}
	if e.Elitism < 0 || e.Elitism > e.Population {
		add("ENGINE_GA_ELITISM must be within 0..population")
	}
	if !unit(e.CrossoverRate) || !unit(e.MutationRate) {
		add("ENGINE_GA_CROSSOVER and ENGINE_GA_MUTATION must be in [0,1]")
	}
	return out
}

func unit(f float64) bool { return f >= 0 && f <= 1 }

// ─────────────────────────────────────────────────────────────────────────────
// Sections
// ─────────────────────────────────────────────────────────────────────────────

func (r *envReader) app() AppConfig {
	return AppConfig{
		Name:            r.str("APP_NAME", "motivation-hub"),
		Environment:     Environment(r.str("APP_ENV", string(EnvDevelopment))),
		Version:         r.str("APP_VERSION", "0.1.0"),
		Timezone:        r.str("APP_TIMEZONE", "UTC"),
		ShutdownTimeout: r.duration("APP_SHUTDOWN_TIMEOUT", 30*time.Second),
	}
}

func (r *envReader) database() DatabaseConfig {
	url := r.str("DATABASE_URL", "")
	if url == "" {
		host, user := r.str("DB_HOST", ""), r.str("DB_USER", "")
		if host != "" && user != "" {
			url = fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
				user, r.str("DB_PASSWORD", ""), host, r.str("DB_PORT", "5432"),
				r.str("DB_NAME", "postgres"), r.str("DB_SSLMODE", "disable"))
		}
	}

	// Without DB_DRIVER a configured DSN means postgres, else a local file.
	driver := DriverSQLite
	if url != "" {
		driver = DriverPostgres
	}
	driver = strings.ToLower(r.str("DB_DRIVER", driver))

	return DatabaseConfig{
		Driver:          driver,
		URL:             url,
		SQLitePath:      r.str("SQLITE_PATH", "motivation.db"),
		MaxOpenConns:    r.int("DB_MAX_OPEN_CONNS", 25),
		MaxIdleConns:    r.int("DB_MAX_IDLE_CONNS", 5),
		ConnMaxLifetime: r.duration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
		ConnMaxIdleTime: r.duration("DB_CONN_MAX_IDLE_TIME", time.Minute),
		AutoMigrate:     r.bool("DB_AUTO_MIGRATE", true),
	}
}

func (r *envReader) redis() RedisConfig {
	return RedisConfig{
		Disabled:     r.bool("REDIS_DISABLED", true),
		URL:          r.str("REDIS_URL", ""),
		Host:         r.str("REDIS_HOST", "localhost"),
		Port:         r.int("REDIS_PORT", 6379),
		Password:     r.str("REDIS_PASSWORD", ""),
		DB:           r.int("REDIS_DB", 0),
		PoolSize:     r.int("REDIS_POOL_SIZE", 10),
		MinIdleConns: r.int("REDIS_MIN_IDLE_CONNS", 2),
		DialTimeout:  r.duration("REDIS_DIAL_TIMEOUT", 5*time.Second),
		ReadTimeout:  r.duration("REDIS_READ_TIMEOUT", 3*time.Second),
		WriteTimeout: r.duration("REDIS_WRITE_TIMEOUT", 3*time.Second),
		LockTTL:      r.duration("REDIS_LOCK_TTL", 2*time.Minute),
		CacheTTL:     r.duration("REDIS_CACHE_TTL", 10*time.Minute),
	}
}

func (r *envReader) http() HTTPConfig {
	return HTTPConfig{
		Host:            r.str("HTTP_HOST", "0.0.0.0"),
		Port:            r.int("HTTP_PORT", 8080),
		ReadTimeout:     r.duration("HTTP_READ_TIMEOUT", 30*time.Second),
		WriteTimeout:    r.duration("HTTP_WRITE_TIMEOUT", time.Minute),
		IdleTimeout:     r.duration("HTTP_IDLE_TIMEOUT", 2*time.Minute),
		RequestDeadline: r.duration("HTTP_REQUEST_DEADLINE", 50*time.Second),
		MaxUploadBytes:  int64(r.int("HTTP_MAX_UPLOAD_BYTES", 5<<20)),
		RateLimit:       r.int("HTTP_RATE_LIMIT", 120),
		AllowedOrigins:  r.list("HTTP_ALLOWED_ORIGINS", []string{"*"}),
	}
}

func (r *envReader) engine() EngineConfig {
	return EngineConfig{
		Seed:           int64(r.int("ENGINE_SEED", 42)),
		KMeansInit:     r.int("ENGINE_KMEANS_N_INIT", 10),
		KMeansMaxIter:  r.int("ENGINE_KMEANS_MAX_ITER", 300),
		Population:     r.int("ENGINE_GA_POPULATION", 80),
		Generations:    r.int("ENGINE_GA_GENERATIONS", 120),
		TournamentSize: r.int("ENGINE_GA_TOURNAMENT", 3),
		CrossoverRate:  r.float("ENGINE_GA_CROSSOVER", 0.7),
		MutationRate:   r.float("ENGINE_GA_MUTATION", 0.2),
		Elitism:        r.int("ENGINE_GA_ELITISM", 2),
		Patience:       r.int("ENGINE_GA_PATIENCE", 25),
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Environment reader
// ─────────────────────────────────────────────────────────────────────────────

// envReader returns the default for unset or blank variables and records
// a problem for values that do not parse.
type envReader struct {
	lookup   func(string) (string, bool)
	problems []string
}

func (r *envReader) raw(key string) (string, bool) {
	v, ok := r.lookup(key)
	v = strings.TrimSpace(v)
	return v, ok && v != ""
}

func (r *envReader) str(key, def string) string {
	if v, ok := r.raw(key); ok {
		return v
	}
	return def
}

func parsed[T any](r *envReader, key string, def T, parse func(string) (T, error)) T {
	v, ok := r.raw(key)
	if !ok {
		return def
	}
	out, err := parse(v)
	if err != nil {
		r.problems = append(r.problems, fmt.Sprintf("%s=%q: %v", key, v, unwrapNum(err)))
		return def
	}
	return out
}

// unwrapNum drops strconv's repetition of the input.
func unwrapNum(err error) error {
	var ne *strconv.NumError
	if errors.As(err, &ne) {
		return ne.Err
	}
	return err
}

func (r *envReader) int(key string, def int) int { return parsed(r, key, def, strconv.Atoi) }

func (r *envReader) bool(key string, def bool) bool { return parsed(r, key, def, strconv.ParseBool) }

func (r *envReader) duration(key string, def time.Duration) time.Duration {
	return parsed(r, key, def, time.ParseDuration)
}

func (r *envReader) float(key string, def float64) float64 {
	return parsed(r, key, def, func(s string) (float64, error) { return strconv.ParseFloat(s, 64) })
}

func (r *envReader) list(key string, def []string) []string {
	v, ok := r.raw(key)
	if !ok {
		return def
	}
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
