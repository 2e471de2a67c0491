package query

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arcs-classroom/motivation-hub/config"
	"github.com/arcs-classroom/motivation-hub/internal/domain/grouping"
	"github.com/arcs-classroom/motivation-hub/internal/domain/motivation"
	"github.com/arcs-classroom/motivation-hub/internal/domain/shared"
	"github.com/arcs-classroom/motivation-hub/internal/infrastructure/persistence/memory"
	"github.com/arcs-classroom/motivation-hub/internal/infrastructure/persistence/storetest"
)

// mapCache is an in-process AnalysisCache that stores JSON like Redis does.
type mapCache struct {
	mu     sync.Mutex
	values map[string][]byte
	loads  int
}

func newMapCache() *mapCache { return &mapCache{values: make(map[string][]byte)} }

func (c *mapCache) key(materialID string, k int) string {
	return materialID + "/" + string(rune('0'+k))
}

func (c *mapCache) Load(_ context.Context, materialID string, k int, dest any) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.loads++
	raw, ok := c.values[c.key(materialID, k)]
	return ok && json.Unmarshal(raw, dest) == nil
}

func (c *mapCache) Store(_ context.Context, materialID string, k int, v any) {
	raw, err := json.Marshal(v)
	if err != nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values[c.key(materialID, k)] = raw
}

func seedLevels(t *testing.T, store *memory.Store, n int, levels []motivation.Level) []string {
	t.Helper()
	ctx := context.Background()
	ids := storetest.Seed(t, store, n)

	updates := make([]motivation.ScoreUpdate, len(levels))
	for i := range levels {
		updates[i] = motivation.ScoreUpdate{StudentID: ids[i], Scores: motivation.Scores{
			Attention: 3, Relevance: 3, Confidence: 3, Satisfaction: 3,
		}}
	}
	require.NoError(t, store.SaveScores(ctx, updates))

	profiles, err := store.LoadProfiles(ctx, ids[:len(levels)])
	require.NoError(t, err)
	lu := make([]motivation.LevelUpdate, len(levels))
	for i, p := range profiles {
		lu[i] = motivation.LevelUpdate{ProfileID: p.ID, Level: levels[i]}
	}
	require.NoError(t, store.SaveLevels(ctx, lu))
	return ids
}

func repeatLevel(l motivation.Level, n int) []motivation.Level {
	out := make([]motivation.Level, n)
	for i := range out {
		out[i] = l
	}
	return out
}

func TestAnalyzeClass(t *testing.T) {
	store := memory.NewStore()
	levels := append(repeatLevel(motivation.LevelHigh, 8), motivation.LevelMedium, motivation.LevelLow)
	seedLevels(t, store, 12, levels)

	h := NewAnalyzeClassHandler(store, store, nil, nil, nil)
	res, err := h.Handle(context.Background(), AnalyzeClassQuery{MaterialID: "m1"})
	require.NoError(t, err)

	assert.Equal(t, 12, res.ClassAnalysis.CohortSize)
	assert.Equal(t, 3, res.ClassAnalysis.GroupCount)
	assert.Equal(t, 8, res.ClassAnalysis.Distribution[motivation.LevelHigh])
	assert.Equal(t, 2, res.ClassAnalysis.Distribution[motivation.LevelUnanalyzed])
	assert.False(t, res.Validation.IsValid, "two students are unanalyzed")
	assert.NotEmpty(t, res.Recommendation.Rationale)
	assert.Equal(t, res.Recommendation.Priority.Weights(), res.Recommendation.Weights)
	assert.False(t, res.Cached)

	unlimited := grouping.UnlimitedUnanalyzed
	res, err = h.Handle(context.Background(), AnalyzeClassQuery{MaterialID: "m1", K: 2, MaxUnanalyzed: &unlimited})
	require.NoError(t, err)
	assert.True(t, res.Validation.IsValid)
	assert.Equal(t, 2, res.Validation.RequestedGroups)
}

func TestAnalyzeClass_RecommendsForHeterogeneousK(t *testing.T) {
	store := memory.NewStore()
	levels := append(repeatLevel(motivation.LevelLow, 9), repeatLevel(motivation.LevelMedium, 9)...)
	levels = append(levels, repeatLevel(motivation.LevelHigh, 8)...)
	seedLevels(t, store, 26, levels)

	h := NewAnalyzeClassHandler(store, store, nil, nil, nil)
	res, err := h.Handle(context.Background(), AnalyzeClassQuery{MaterialID: "m1", K: 3})
	require.NoError(t, err)

	// Three groups of 26 would exceed five members, so formation uses six.
	assert.Equal(t, 6, res.EffectiveK)
	assert.Equal(t, 6, res.ClassAnalysis.GroupCount)
	assert.InDelta(t, 26.0/6, res.ClassAnalysis.AvgGroupSize, 1e-9)
	assert.Equal(t, grouping.PriorityDiversity, res.Recommendation.Priority)
	assert.Equal(t, 3, res.Validation.RequestedGroups)
}

func TestAnalyzeClass_Errors(t *testing.T) {
	store := memory.NewStore()
	h := NewAnalyzeClassHandler(store, store, nil, nil, nil)

	_, err := h.Handle(context.Background(), AnalyzeClassQuery{MaterialID: "missing"})
	assert.ErrorIs(t, err, shared.ErrNotFound)

	_, err = h.Handle(context.Background(), AnalyzeClassQuery{MaterialID: ""})
	assert.ErrorIs(t, err, shared.ErrValidation)
}

func TestAnalyzeClass_Cache(t *testing.T) {
	store := memory.NewStore()
	seedLevels(t, store, 6, []motivation.Level{
		motivation.LevelLow, motivation.LevelLow, motivation.LevelMedium,
		motivation.LevelMedium, motivation.LevelHigh, motivation.LevelHigh,
	})
	cache := newMapCache()
	flags := config.NewFeatureFlags()
	h := NewAnalyzeClassHandler(store, store, cache, flags, nil)
	ctx := context.Background()

	first, err := h.Handle(ctx, AnalyzeClassQuery{MaterialID: "m1", K: 2})
	require.NoError(t, err)
	assert.False(t, first.Cached)

	second, err := h.Handle(ctx, AnalyzeClassQuery{MaterialID: "m1", K: 2})
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.Equal(t, first.Recommendation, second.Recommendation)
	assert.Equal(t, first.ClassAnalysis.Distribution, second.ClassAnalysis.Distribution)

	flags.Override("m1", config.FeatureAnalysisCache, false)
	third, err := h.Handle(ctx, AnalyzeClassQuery{MaterialID: "m1", K: 2})
	require.NoError(t, err)
	assert.False(t, third.Cached)
	assert.Equal(t, 2, cache.loads)
}

func TestGetGroupsAndExport(t *testing.T) {
	store := memory.NewStore()
	ids := seedLevels(t, store, 4, []motivation.Level{
		motivation.LevelHigh, motivation.LevelLow, motivation.LevelHigh, motivation.LevelMedium,
	})
	ctx := context.Background()

	groups := NewGetGroupsHandler(store)
	empty, err := groups.Handle(ctx, GetGroupsQuery{MaterialID: "m1"})
	require.NoError(t, err)
	assert.Empty(t, empty.Groups)
	assert.NotNil(t, empty.Groups)

	export := NewExportGroupReportHandler(store, stubRenderer{}, nil)
	_, err = export.Handle(ctx, ExportGroupReportQuery{MaterialID: "m1"})
	assert.ErrorIs(t, err, shared.ErrNotFound)

	now := time.Now().UTC()
	require.NoError(t, store.ReplaceGroups(ctx, "m1", []grouping.Group{
		{ID: "g1", MaterialID: "m1", Name: "Group 1", Code: "G01", Position: 1, CreatedAt: now,
			Members: []grouping.Member{{StudentID: ids[0]}, {StudentID: ids[1]}}},
		{ID: "g2", MaterialID: "m1", Name: "Group 2", Code: "G02", Position: 2, CreatedAt: now,
			Members: []grouping.Member{{StudentID: ids[2]}, {StudentID: ids[3]}}},
	}, false))

	listed, err := groups.Handle(ctx, GetGroupsQuery{MaterialID: "m1"})
	require.NoError(t, err)
	assert.Equal(t, 2, listed.GroupCount)
	assert.Equal(t, 4, listed.Students)
	assert.Equal(t, motivation.LevelHigh, listed.Groups[0].Members[0].Level)

	doc, err := export.Handle(ctx, ExportGroupReportQuery{MaterialID: "m1", Priority: "diversity"})
	require.NoError(t, err)
	assert.Equal(t, "groups-m1.stub", doc.Filename)
	assert.Equal(t, "text/x-stub", doc.ContentType)
	assert.Equal(t, "m1:2:diversity", string(doc.Content))
}

type stubRenderer struct{}

func (stubRenderer) Render(r GroupReport) ([]byte, error) {
	return []byte(r.MaterialID + ":" + string(rune('0'+len(r.Groups))) + ":" + string(r.Quality.Priority)), nil
}
func (stubRenderer) ContentType() string { return "text/x-stub" }
func (stubRenderer) Extension() string   { return "stub" }
