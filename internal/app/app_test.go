package app

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arcs-classroom/motivation-hub/config"
	"github.com/arcs-classroom/motivation-hub/internal/application/command"
	"github.com/arcs-classroom/motivation-hub/internal/application/query"
	"github.com/arcs-classroom/motivation-hub/internal/domain/motivation"
	"github.com/arcs-classroom/motivation-hub/internal/domain/shared"
	"github.com/arcs-classroom/motivation-hub/internal/infrastructure/persistence/memory"
	"github.com/arcs-classroom/motivation-hub/pkg/logger"
)

func testConfig(driver string) *config.Config {
	return &config.Config{
		App:      config.AppConfig{Name: "test", Environment: config.EnvDevelopment, Version: "test"},
		Database: config.DatabaseConfig{Driver: driver},
		Redis:    config.RedisConfig{Disabled: true},
		HTTP:     config.HTTPConfig{Host: "127.0.0.1", Port: 8080, MaxUploadBytes: 1 << 20},
		Engine: config.EngineConfig{
			Seed: 42, KMeansInit: 10, KMeansMaxIter: 300,
			Population: 40, Generations: 40, TournamentSize: 3,
			CrossoverRate: 0.7, MutationRate: 0.2, Elitism: 2, Patience: 10,
		},
		Features: config.NewFeatureFlags(),
	}
}

func TestNew_Drivers(t *testing.T) {
	tests := []struct {
		name   string
		driver string
		path   string
		checks int
	}{
		{"memory", config.DriverMemory, "", 0},
		{"sqlite", config.DriverSQLite, filepath.Join(t.TempDir(), "arcs.db"), 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(tt.driver)
			cfg.Database.SQLitePath = tt.path

			a, err := New(context.Background(), cfg, logger.Nop())
			require.NoError(t, err)
			t.Cleanup(a.Close)

			assert.Nil(t, a.Cache)
			status := a.Health.Check(context.Background())
			assert.True(t, status.Ready)
			assert.Len(t, status.Checks, tt.checks)

			deps := a.HTTPDependencies()
			assert.NotNil(t, deps.IngestARCSCSV)
			assert.NotNil(t, deps.FormGroups)
			assert.NotNil(t, deps.ExportGroupReport)
		})
	}
}

func TestNew_UnknownDriver(t *testing.T) {
	_, err := New(context.Background(), testConfig("oracle"), logger.Nop())
	assert.Error(t, err)
}

// End to end on the sqlite backend: roster, ingest with automatic
// clustering, then a formation run.
func TestApp_PipelineOnSQLite(t *testing.T) {
	cfg := testConfig(config.DriverSQLite)
	cfg.Database.SQLitePath = filepath.Join(t.TempDir(), "arcs.db")
	a, err := New(context.Background(), cfg, logger.Nop())
	require.NoError(t, err)
	t.Cleanup(a.Close)
	ctx := context.Background()

	require.NoError(t, a.Store.AddMaterial(ctx, "m1", "Algebra"))
	var ids []string
	csv := "username,attention,relevance,confidence,satisfaction\n"
	for i, v := range []string{"1", "2", "3", "4", "5", "6", "7", "2", "4", "6"} {
		id := "s" + string(rune('a'+i))
		ids = append(ids, id)
		require.NoError(t, a.Store.AddStudent(ctx, motivation.Student{ID: id, Username: "u" + id}))
		csv += "u" + id + "," + v + "," + v + "," + v + "," + v + "\n"
	}
	require.NoError(t, a.Store.Enroll(ctx, "m1", ids))

	ingest, err := a.Ingest.Handle(ctx, command.IngestARCSCSVCommand{Payload: []byte(csv)})
	require.NoError(t, err)
	assert.Equal(t, 10, ingest.Updated)
	require.NotNil(t, ingest.Clustering)
	assert.Equal(t, 10, ingest.Clustering.Total)

	formed, err := a.Form.Handle(ctx, command.FormGroupsCommand{MaterialID: "m1", K: 2})
	require.NoError(t, err)
	assert.Len(t, formed.Groups, 2)

	listed, err := a.GetGroups.Handle(ctx, query.GetGroupsQuery{MaterialID: "m1"})
	require.NoError(t, err)
	assert.Equal(t, 10, listed.Students)
}

// ══════════════════════════════════════════════════════════════════════════════
// FORMATION LOCKER
// ══════════════════════════════════════════════════════════════════════════════

func TestFormationLocker(t *testing.T) {
	ctx := context.Background()
	local, remote := memory.NewLocker(), memory.NewLocker()
	flags := config.NewFeatureFlags()
	l := NewFormationLocker(local, remote, flags)

	unlock, err := l.Lock(ctx, "m1")
	require.NoError(t, err)
	assert.True(t, local.Held("m1"))
	assert.True(t, remote.Held("m1"))

	_, err = l.Lock(ctx, "m1")
	assert.ErrorIs(t, err, shared.ErrConflict)

	unlock()
	assert.False(t, local.Held("m1"))
	assert.False(t, remote.Held("m1"))

	// Flag off for one material: only the local lock is taken.
	flags.Override("m2", config.FeatureFormationDistributedLock, false)
	unlock, err = l.Lock(ctx, "m2")
	require.NoError(t, err)
	assert.True(t, local.Held("m2"))
	assert.False(t, remote.Held("m2"))
	unlock()
}

func TestFormationLocker_RemoteHeldReleasesLocal(t *testing.T) {
	ctx := context.Background()
	local, remote := memory.NewLocker(), memory.NewLocker()
	l := NewFormationLocker(local, remote, config.NewFeatureFlags())

	other, err := remote.Lock(ctx, "m1")
	require.NoError(t, err)
	defer other()

	_, err = l.Lock(ctx, "m1")
	assert.ErrorIs(t, err, shared.ErrConflict)
	assert.False(t, local.Held("m1"), "local lock must not leak")
}

func TestFormationLocker_NoDistributed(t *testing.T) {
	local := memory.NewLocker()
	l := NewFormationLocker(local, nil, config.NewFeatureFlags())

	unlock, err := l.Lock(context.Background(), "m1")
	require.NoError(t, err)
	assert.True(t, local.Held("m1"))
	unlock()
}
