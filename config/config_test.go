package config

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("DB_DRIVER", "memory")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, DriverMemory, cfg.Database.Driver)
	assert.Equal(t, int64(5<<20), cfg.HTTP.MaxUploadBytes)
	assert.Equal(t, int64(42), cfg.Engine.Seed)
	assert.Equal(t, 10, cfg.Engine.KMeansInit)
	assert.Equal(t, 300, cfg.Engine.KMeansMaxIter)
	assert.Equal(t, 80, cfg.Engine.Population)
	assert.Equal(t, 120, cfg.Engine.Generations)
	assert.Equal(t, 0.7, cfg.Engine.CrossoverRate)
	assert.Equal(t, 25, cfg.Engine.Patience)
	assert.True(t, cfg.Redis.Disabled)
	assert.True(t, cfg.Features.Enabled(FeatureIngestAutoRecluster, ""))
}

func TestLoad_PostgresFromParts(t *testing.T) {
	t.Setenv("DB_DRIVER", "")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("DB_HOST", "db")
	t.Setenv("DB_USER", "arcs")
	t.Setenv("DB_PASSWORD", "secret")
	t.Setenv("DB_NAME", "hub")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, DriverPostgres, cfg.Database.Driver)
	assert.Equal(t, "postgres://arcs:secret@db:5432/hub?sslmode=disable", cfg.Database.URL)
}

func TestValidate_CollectsErrors(t *testing.T) {
	t.Setenv("DB_DRIVER", "oracle")
	t.Setenv("HTTP_PORT", "70000")
	t.Setenv("ENGINE_GA_POPULATION", "1")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DB_DRIVER")
	assert.Contains(t, err.Error(), "HTTP_PORT")
	assert.Contains(t, err.Error(), "ENGINE_GA_POPULATION")
}

func TestLoad_MalformedValuesAreReported(t *testing.T) {
	t.Setenv("DB_DRIVER", "memory")
	t.Setenv("HTTP_PORT", "eighty")
	t.Setenv("REDIS_LOCK_TTL", "2 minutes")
	t.Setenv("APP_TIMEZONE", "Mars/Olympus")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), `HTTP_PORT="eighty": invalid syntax`)
	assert.Contains(t, err.Error(), "REDIS_LOCK_TTL")
	assert.Contains(t, err.Error(), "APP_TIMEZONE")
}

func TestLoad_BlankValuesKeepDefaults(t *testing.T) {
	t.Setenv("DB_DRIVER", "memory")
	t.Setenv("HTTP_PORT", "  ")
	t.Setenv("HTTP_ALLOWED_ORIGINS", "https://a.example, ,https://b.example")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.HTTP.Port)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.HTTP.AllowedOrigins)
	assert.Equal(t, "0.0.0.0:8080", cfg.HTTP.Addr())
}

func TestFeatureFlags(t *testing.T) {
	t.Setenv("FEATURE_ANALYSIS_CACHE", "false")
	t.Setenv("FEATURE_EVENTS_LOG", "40%")
	t.Setenv("FEATURE_INGEST_AUTO_RECLUSTER", "maybe")
	ff := LoadFeatureFlags()

	assert.False(t, ff.Enabled(FeatureAnalysisCache, ""))
	assert.True(t, ff.Enabled(FeatureIngestAutoRecluster, ""), "unparsable values keep the default")
	assert.True(t, ff.Enabled(FeatureFormationDistributedLock, "m1"))
	assert.False(t, ff.Enabled("no.such.flag", "m1"))

	ff.Override("m1", FeatureAnalysisCache, true)
	assert.True(t, ff.Enabled(FeatureAnalysisCache, "m1"))
	assert.False(t, ff.Enabled(FeatureAnalysisCache, "m2"))

	// Partial rollout: stable per material, and some materials land on
	// each side.
	var on, off int
	for i := 0; i < 200; i++ {
		id := fmt.Sprintf("m-%d", i)
		got := ff.Enabled(FeatureEventLog, id)
		assert.Equal(t, got, ff.Enabled(FeatureEventLog, id))
		if got {
			on++
		} else {
			off++
		}
	}
	assert.Positive(t, on)
	assert.Positive(t, off)
	assert.True(t, ff.Enabled(FeatureEventLog, ""))

	assert.ErrorIs(t, ff.SetRollout("nope", 10), ErrFeatureNotFound)
	assert.ErrorIs(t, ff.SetRollout(FeatureAnalysisCache, 101), ErrInvalidRolloutPercent)
	require.NoError(t, ff.Disable(FeatureIngestAutoRecluster))
	assert.False(t, ff.Enabled(FeatureIngestAutoRecluster, "m1"))

	snap := ff.Snapshot()
	require.Len(t, snap, 4)
	assert.Equal(t, FeatureAnalysisCache, snap[0].Name)
	assert.Equal(t, 40, snap[1].Rollout)

	var nilFlags *FeatureFlags
	assert.False(t, nilFlags.Enabled(FeatureAnalysisCache, ""))
	assert.Nil(t, nilFlags.Snapshot())
}

func TestEnvKey(t *testing.T) {
	assert.Equal(t, "FEATURE_FORMATION_DISTRIBUTED_LOCK", EnvKey(FeatureFormationDistributedLock))
}
