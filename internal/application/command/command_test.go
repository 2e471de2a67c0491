package command

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arcs-classroom/motivation-hub/config"
	"github.com/arcs-classroom/motivation-hub/internal/domain/clustering"
	"github.com/arcs-classroom/motivation-hub/internal/domain/grouping"
	"github.com/arcs-classroom/motivation-hub/internal/domain/motivation"
	"github.com/arcs-classroom/motivation-hub/internal/domain/shared"
	"github.com/arcs-classroom/motivation-hub/internal/infrastructure/messaging"
	"github.com/arcs-classroom/motivation-hub/internal/infrastructure/persistence/memory"
	"github.com/arcs-classroom/motivation-hub/internal/infrastructure/persistence/storetest"
)

// ══════════════════════════════════════════════════════════════════════════════
// FIXTURES
// ══════════════════════════════════════════════════════════════════════════════

type fixture struct {
	store     *memory.Store
	bus       *messaging.Bus
	features  *config.FeatureFlags
	recluster *ReclusterAllHandler
	ingest    *IngestARCSCSVHandler
	submit    *SubmitQuestionnaireHandler
	form      *FormGroupsHandler
	events    []shared.EventType
}

func newFixture(t *testing.T, students int) (*fixture, []string) {
	t.Helper()
	f := &fixture{
		store:    memory.NewStore(),
		bus:      messaging.New(messaging.DefaultOptions()),
		features: config.NewFeatureFlags(),
	}
	t.Cleanup(func() { f.bus.Close() })
	require.NoError(t, f.bus.SubscribeAll(func(e shared.Event) error {
		f.events = append(f.events, e.EventType())
		return nil
	}))

	f.recluster = NewReclusterAllHandler(f.store, f.bus, clustering.DefaultOptions(), nil)
	f.ingest = NewIngestARCSCSVHandler(f.store, f.store, f.recluster, f.features, f.bus, IngestARCSCSVHandlerConfig{}, nil)
	f.submit = NewSubmitQuestionnaireHandler(f.store, f.bus, nil)
	f.form = NewFormGroupsHandler(f.store, f.store, f.store, f.store, f.bus, grouping.DefaultGAConfig(), nil)

	return f, storetest.Seed(t, f.store, students)
}

// assignLevels scores every student and writes the given levels directly.
func (f *fixture) assignLevels(t *testing.T, levels map[string]motivation.Level) {
	t.Helper()
	ctx := context.Background()

	var updates []motivation.ScoreUpdate
	for id := range levels {
		updates = append(updates, motivation.ScoreUpdate{StudentID: id, Scores: motivation.Scores{
			Attention: 3, Relevance: 3, Confidence: 3, Satisfaction: 3,
		}})
	}
	require.NoError(t, f.store.SaveScores(ctx, updates))

	all, err := f.store.LoadAll(ctx)
	require.NoError(t, err)
	var lu []motivation.LevelUpdate
	for _, p := range all {
		if l := levels[p.StudentID]; l.IsAssigned() {
			lu = append(lu, motivation.LevelUpdate{ProfileID: p.ID, Level: l})
		}
	}
	require.NoError(t, f.store.SaveLevels(ctx, lu))
}

// levelsByDistribution spreads levels over ids in order: high, medium, low.
func levelsByDistribution(ids []string, high, medium, low int) map[string]motivation.Level {
	out := make(map[string]motivation.Level, len(ids))
	for i, id := range ids {
		switch {
		case i < high:
			out[id] = motivation.LevelHigh
		case i < high+medium:
			out[id] = motivation.LevelMedium
		case i < high+medium+low:
			out[id] = motivation.LevelLow
		}
	}
	return out
}

func dimensionCSV(rows map[string][4]int, order []string) []byte {
	var sb strings.Builder
	sb.WriteString("username")
	for _, d := range []string{"a", "r", "c", "s"} {
		for q := 1; q <= 5; q++ {
			fmt.Fprintf(&sb, ",dim_%s_q%d", d, q)
		}
	}
	sb.WriteString("\n")
	for _, user := range order {
		sb.WriteString(user)
		for _, v := range rows[user] {
			for q := 0; q < 5; q++ {
				fmt.Fprintf(&sb, ",%d", v)
			}
		}
		sb.WriteString("\n")
	}
	return []byte(sb.String())
}

func fullQuestionnaire(value int) []motivation.Answer {
	var out []motivation.Answer
	for _, d := range motivation.Dimensions {
		for q := 1; q <= motivation.QuestionsPerDimension; q++ {
			out = append(out, motivation.Answer{Dimension: d, QuestionIndex: q, Value: value})
		}
	}
	return out
}

func intPtr(v int) *int { return &v }

// ══════════════════════════════════════════════════════════════════════════════
// INGEST AND CLUSTERING
// ══════════════════════════════════════════════════════════════════════════════

func TestIngest_DimensionHappyPath(t *testing.T) {
	f, ids := newFixture(t, 12)
	ctx := context.Background()

	rows := make(map[string][4]int)
	var order []string
	for i := 0; i < 12; i++ {
		user := fmt.Sprintf("user%02d", i+1)
		base := 1 + 2*(i/4) // four students each at 1, 3 and 5
		rows[user] = [4]int{base, base, base, base}
		order = append(order, user)
	}
	// One varied row to check per-dimension means.
	rows["user12"] = [4]int{5, 4, 5, 4}

	res, err := f.ingest.Handle(ctx, IngestARCSCSVCommand{Payload: dimensionCSV(rows, order), Filename: "arcs.csv"})
	require.NoError(t, err)

	assert.Equal(t, 12, res.Updated)
	assert.Equal(t, 0, res.Skipped)
	assert.Equal(t, 12, res.Total)
	assert.Equal(t, 100.0, res.SuccessRate)
	assert.Equal(t, motivation.FormatDimension, res.Format)
	assert.Len(t, res.Digest, 64)

	require.NotNil(t, res.Clustering)
	assert.Equal(t, 12, res.Clustering.Total)
	assert.Positive(t, res.Clustering.Low)
	assert.Positive(t, res.Clustering.Medium)
	assert.Positive(t, res.Clustering.High)

	profiles, err := f.store.LoadProfiles(ctx, ids)
	require.NoError(t, err)
	assert.Equal(t, 5.0, profiles[11].Scores.Attention)
	assert.Equal(t, 4.0, profiles[11].Scores.Relevance)
	assert.Equal(t, motivation.LevelLow, profiles[0].Level)
	assert.Equal(t, motivation.LevelHigh, profiles[11].Level)

	assert.Equal(t, []shared.EventType{shared.EventARCSIngested, shared.EventProfilesClustered}, f.events)
}

func TestIngest_SkipsUnknownUsernames(t *testing.T) {
	f, _ := newFixture(t, 2)
	payload := []byte("username,attention,relevance,confidence,satisfaction\n" +
		"user01,3,3,3,3\nghost,4,4,4,4\nuser02,5,5,5,5\nphantom,1,1,1,1\n")

	res, err := f.ingest.Handle(context.Background(), IngestARCSCSVCommand{Payload: payload})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Updated)
	assert.Equal(t, 2, res.Skipped)
	assert.Equal(t, 4, res.Total)
	assert.Equal(t, 50.0, res.SuccessRate)
	assert.Equal(t, []string{"ghost", "phantom"}, res.SkippedUsernames)
	assert.Equal(t, motivation.FormatDirect, res.Format)
}

func TestIngest_RejectsWithoutWrites(t *testing.T) {
	f, ids := newFixture(t, 2)
	ctx := context.Background()

	tests := []struct {
		name    string
		payload []byte
		kind    error
	}{
		{"missing columns", []byte("username,attention\nuser01,3\n"), shared.ErrFormat},
		{"repeated username", []byte("username,attention,relevance,confidence,satisfaction\n" +
			"user01,3,3,3,3\nuser01,5,5,5,5\n"), shared.ErrFormat},
		{"oversized", make([]byte, DefaultMaxCSVBytes+1), shared.ErrPayloadTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.ingest.Handle(ctx, IngestARCSCSVCommand{Payload: tt.payload})
			assert.ErrorIs(t, err, tt.kind)
		})
	}

	profiles, err := f.store.LoadProfiles(ctx, ids)
	require.NoError(t, err)
	for _, p := range profiles {
		assert.False(t, p.HasScores())
	}
}

func TestIngest_InsufficientData(t *testing.T) {
	f, ids := newFixture(t, 2)
	ctx := context.Background()
	payload := []byte("username,attention,relevance,confidence,satisfaction\nuser01,2,2,2,2\nuser02,6,6,6,6\n")

	res, err := f.ingest.Handle(ctx, IngestARCSCSVCommand{Payload: payload})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Updated)
	assert.Nil(t, res.Clustering)
	assert.NotEmpty(t, res.ClusteringNote)

	_, err = f.recluster.Handle(ctx)
	assert.ErrorIs(t, err, shared.ErrInsufficientData)

	profiles, err := f.store.LoadProfiles(ctx, ids)
	require.NoError(t, err)
	for _, p := range profiles {
		assert.Equal(t, motivation.LevelNone, p.Level)
	}
}

func TestIngest_AllZeroProfileExcluded(t *testing.T) {
	f, ids := newFixture(t, 4)
	ctx := context.Background()
	payload := []byte("username,attention,relevance,confidence,satisfaction\n" +
		"user01,1,1,1,1\nuser02,4,4,4,4\nuser03,7,7,7,7\nuser04,0,0,0,0\n")

	res, err := f.ingest.Handle(ctx, IngestARCSCSVCommand{Payload: payload})
	require.NoError(t, err)
	assert.NotEmpty(t, res.Warnings, "zero scores are out of range")
	require.NotNil(t, res.Clustering)
	assert.Equal(t, 3, res.Clustering.Total)
	assert.Equal(t, 1, res.Clustering.Excluded)

	profiles, err := f.store.LoadProfiles(ctx, ids)
	require.NoError(t, err)
	assert.Equal(t, motivation.LevelNone, profiles[3].Level)
	assert.Equal(t, motivation.LevelLow, profiles[0].Level)
	assert.Equal(t, motivation.LevelMedium, profiles[1].Level)
	assert.Equal(t, motivation.LevelHigh, profiles[2].Level)
}

func TestIngest_ZeroedRescoreDropsLevel(t *testing.T) {
	f, ids := newFixture(t, 4)
	ctx := context.Background()
	header := "username,attention,relevance,confidence,satisfaction\n"

	_, err := f.ingest.Handle(ctx, IngestARCSCSVCommand{Payload: []byte(header +
		"user01,1,1,1,1\nuser02,4,4,4,4\nuser03,7,7,7,7\nuser04,6,6,6,6\n")})
	require.NoError(t, err)
	profiles, err := f.store.LoadProfiles(ctx, ids)
	require.NoError(t, err)
	require.Equal(t, motivation.LevelHigh, profiles[3].Level)

	res, err := f.ingest.Handle(ctx, IngestARCSCSVCommand{Payload: []byte(header + "user04,0,0,0,0\n")})
	require.NoError(t, err)
	require.NotNil(t, res.Clustering)
	assert.Equal(t, 3, res.Clustering.Total)
	assert.Equal(t, 1, res.Clustering.Excluded)

	profiles, err = f.store.LoadProfiles(ctx, ids)
	require.NoError(t, err)
	assert.True(t, profiles[3].Scores.IsZero())
	assert.Equal(t, motivation.LevelNone, profiles[3].Level)

	members := grouping.MembersFromProfiles(profiles)
	assert.Equal(t, motivation.LevelUnanalyzed, members[3].Level)
}

func TestIngest_IdempotentWithoutRecluster(t *testing.T) {
	f, ids := newFixture(t, 3)
	require.NoError(t, f.features.Disable(config.FeatureIngestAutoRecluster))
	ctx := context.Background()
	payload := []byte("username,attention,relevance,confidence,satisfaction\n" +
		"user01,1.5,2,2,2\nuser02,4,4,4,4\nuser03,6,6,6.5,6\n")

	first, err := f.ingest.Handle(ctx, IngestARCSCSVCommand{Payload: payload})
	require.NoError(t, err)
	state1, err := f.store.LoadProfiles(ctx, ids)
	require.NoError(t, err)

	second, err := f.ingest.Handle(ctx, IngestARCSCSVCommand{Payload: payload})
	require.NoError(t, err)
	state2, err := f.store.LoadProfiles(ctx, ids)
	require.NoError(t, err)

	assert.Equal(t, first.Updated, second.Updated)
	assert.Equal(t, first.Digest, second.Digest)
	assert.Nil(t, second.Clustering)
	for i := range state1 {
		assert.Equal(t, state1[i].ID, state2[i].ID)
		assert.Equal(t, *state1[i].Scores, *state2[i].Scores)
		assert.Equal(t, state1[i].Level, state2[i].Level)
	}
}

func TestReclusterAll_Deterministic(t *testing.T) {
	f, _ := newFixture(t, 9)
	ctx := context.Background()
	payload := []byte("username,attention,relevance,confidence,satisfaction\n" +
		"user01,1,2,1,2\nuser02,2,1,2,1\nuser03,1,1,2,2\n" +
		"user04,4,4,3,4\nuser05,3,4,4,4\nuser06,4,3,4,3\n" +
		"user07,7,6,7,6\nuser08,6,7,6,7\nuser09,7,7,6,6\n")
	require.NoError(t, f.features.Disable(config.FeatureIngestAutoRecluster))
	_, err := f.ingest.Handle(ctx, IngestARCSCSVCommand{Payload: payload})
	require.NoError(t, err)

	first, err := f.recluster.Handle(ctx)
	require.NoError(t, err)
	snapshot1, err := f.store.LoadAll(ctx)
	require.NoError(t, err)

	second, err := f.recluster.Handle(ctx)
	require.NoError(t, err)
	snapshot2, err := f.store.LoadAll(ctx)
	require.NoError(t, err)

	assert.Equal(t, 3, first.Low)
	assert.Equal(t, 3, first.Medium)
	assert.Equal(t, 3, first.High)
	assert.Equal(t, first.Inertia, second.Inertia)
	for i := range snapshot1 {
		assert.Equal(t, snapshot1[i].Level, snapshot2[i].Level)
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// QUESTIONNAIRE
// ══════════════════════════════════════════════════════════════════════════════

func TestSubmitQuestionnaire(t *testing.T) {
	f, ids := newFixture(t, 1)
	ctx := context.Background()

	res, err := f.submit.Handle(ctx, SubmitQuestionnaireCommand{StudentID: ids[0], Answers: fullQuestionnaire(4)})
	require.NoError(t, err)
	assert.Equal(t, 4.0, res.Scores.Attention)
	assert.Len(t, f.store.Answers(ids[0]), 20)
	assert.Contains(t, f.events, shared.EventQuestionnaireSubmitted)

	_, err = f.submit.Handle(ctx, SubmitQuestionnaireCommand{StudentID: ids[0], Answers: fullQuestionnaire(4)[:19]})
	assert.ErrorIs(t, err, shared.ErrValidation)

	_, err = f.submit.Handle(ctx, SubmitQuestionnaireCommand{StudentID: "ghost", Answers: fullQuestionnaire(3)})
	assert.ErrorIs(t, err, shared.ErrNotFound)

	bad := fullQuestionnaire(3)
	bad[0].Value = 9
	_, err = f.submit.Handle(ctx, SubmitQuestionnaireCommand{StudentID: ids[0], Answers: bad})
	assert.ErrorIs(t, err, shared.ErrValidation)
}

// ══════════════════════════════════════════════════════════════════════════════
// GROUP FORMATION
// ══════════════════════════════════════════════════════════════════════════════

func TestFormGroups_AutoRaiseK(t *testing.T) {
	f, ids := newFixture(t, 26)
	f.assignLevels(t, levelsByDistribution(ids, 9, 9, 8))

	res, err := f.form.Handle(context.Background(), FormGroupsCommand{
		MaterialID: "m1", K: 3, Mode: "heterogen", Priority: "balanced",
	})
	require.NoError(t, err)

	assert.Equal(t, 6, res.K)
	assert.Len(t, res.Groups, 6)
	assert.Contains(t, res.Warning, "raised from 3 to 6")
	for _, g := range res.Groups {
		assert.LessOrEqual(t, len(g.Members), grouping.MaxGroupSize)
		assert.GreaterOrEqual(t, len(g.Members), 4)
	}
	assert.NotEmpty(t, res.QualityMessage)
}

func TestFormGroups_HeterogeneousDeterministic(t *testing.T) {
	f, ids := newFixture(t, 17)
	f.assignLevels(t, levelsByDistribution(ids, 6, 7, 4))
	ctx := context.Background()
	cmd := FormGroupsCommand{MaterialID: "m1", K: 4, Mode: "heterogen", Priority: "balanced", ForceOverwrite: true}

	first, err := f.form.Handle(ctx, cmd)
	require.NoError(t, err)
	second, err := f.form.Handle(ctx, cmd)
	require.NoError(t, err)

	require.Len(t, first.Groups, 4)
	for i := range first.Groups {
		assert.Equal(t, first.Groups[i].StudentIDs(), second.Groups[i].StudentIDs())
	}
	assert.Equal(t, first.Quality.Fitness, second.Quality.Fitness)
	assert.GreaterOrEqual(t, first.Quality.Fitness, 0.85)
}

func TestFormGroups_ForceOverwrite(t *testing.T) {
	f, ids := newFixture(t, 10)
	f.assignLevels(t, levelsByDistribution(ids, 4, 3, 3))
	ctx := context.Background()

	first, err := f.form.Handle(ctx, FormGroupsCommand{MaterialID: "m1", K: 2, Mode: "homogen"})
	require.NoError(t, err)

	_, err = f.form.Handle(ctx, FormGroupsCommand{MaterialID: "m1", K: 3, Mode: "homogen"})
	assert.ErrorIs(t, err, shared.ErrAlreadyExists)

	stored, err := f.store.ListGroups(ctx, "m1")
	require.NoError(t, err)
	assert.Len(t, stored, 2)

	second, err := f.form.Handle(ctx, FormGroupsCommand{MaterialID: "m1", K: 3, Mode: "homogen", ForceOverwrite: true})
	require.NoError(t, err)

	stored, err = f.store.ListGroups(ctx, "m1")
	require.NoError(t, err)
	require.Len(t, stored, 3)
	for i, g := range stored {
		assert.Equal(t, second.Groups[i].ID, g.ID)
		assert.NotEqual(t, first.Groups[0].ID, g.ID)
	}
}

func TestFormGroups_Homogeneous(t *testing.T) {
	f, ids := newFixture(t, 9)
	f.assignLevels(t, levelsByDistribution(ids, 3, 3, 3))

	res, err := f.form.Handle(context.Background(), FormGroupsCommand{MaterialID: "m1", K: 3, Mode: "homogen"})
	require.NoError(t, err)
	require.Len(t, res.Groups, 3)
	for _, g := range res.Groups {
		h := grouping.HistogramOf(g.Members)
		assert.Equal(t, 1, h.Unique(), "group %s mixes levels", g.Name)
	}
	assert.Equal(t, grouping.ModeHomogeneous, res.Mode)
}

func TestFormGroups_Adaptive(t *testing.T) {
	f, ids := newFixture(t, 10)
	f.assignLevels(t, levelsByDistribution(ids, 8, 1, 1))

	res, err := f.form.Handle(context.Background(), FormGroupsCommand{MaterialID: "m1", K: 2, UseAdaptive: true})
	require.NoError(t, err)
	require.NotNil(t, res.AdaptiveInfo)
	assert.Equal(t, res.AdaptiveInfo.Priority, res.Priority)
	assert.NotEmpty(t, res.AdaptiveInfo.Rationale)
}

func TestFormGroups_CohortChecks(t *testing.T) {
	f, ids := newFixture(t, 3)
	ctx := context.Background()

	_, err := f.form.Handle(ctx, FormGroupsCommand{MaterialID: "m1", K: 2, Mode: "homogen"})
	assert.ErrorIs(t, err, shared.ErrInsufficientData, "unanalyzed students exceed the default limit")

	res, err := f.form.Handle(ctx, FormGroupsCommand{MaterialID: "m1", K: 2, Mode: "homogen", MaxUnanalyzed: intPtr(-1)})
	require.NoError(t, err)
	assert.NotEmpty(t, res.Warnings)

	f.assignLevels(t, levelsByDistribution(ids, 1, 1, 1))
	_, err = f.form.Handle(ctx, FormGroupsCommand{MaterialID: "m1", K: 5, Mode: "homogen", ForceOverwrite: true})
	assert.ErrorIs(t, err, shared.ErrInsufficientCohort)

	res, err = f.form.Handle(ctx, FormGroupsCommand{MaterialID: "m1", K: 5, Mode: "homogen", ForceOverwrite: true, AutoAdjustK: true})
	require.NoError(t, err)
	assert.Equal(t, 3, res.K)
	assert.Contains(t, res.Warning, "lowered")

	_, err = f.form.Handle(ctx, FormGroupsCommand{MaterialID: "missing", K: 1})
	assert.ErrorIs(t, err, shared.ErrNotFound)
}

func TestFormGroups_InvalidCommand(t *testing.T) {
	f, _ := newFixture(t, 3)
	ctx := context.Background()

	tests := []FormGroupsCommand{
		{MaterialID: " ", K: 1},
		{MaterialID: "m1", K: -1},
		{MaterialID: "m1", K: 1, Mode: "random"},
		{MaterialID: "m1", K: 1, Priority: "speed"},
	}
	for _, cmd := range tests {
		_, err := f.form.Handle(ctx, cmd)
		assert.ErrorIs(t, err, shared.ErrValidation, "%+v", cmd)
	}
}

func TestFormGroups_ConflictWhileRunHeld(t *testing.T) {
	f, ids := newFixture(t, 4)
	f.assignLevels(t, levelsByDistribution(ids, 2, 1, 1))
	ctx := context.Background()

	unlock, err := f.store.Lock(ctx, "m1")
	require.NoError(t, err)

	_, err = f.form.Handle(ctx, FormGroupsCommand{MaterialID: "m1", K: 2})
	assert.ErrorIs(t, err, shared.ErrConflict)

	unlock()
	_, err = f.form.Handle(ctx, FormGroupsCommand{MaterialID: "m1", K: 2})
	assert.NoError(t, err)
}

// crashingGroups fails the terminal write as if the process died.
type crashingGroups struct {
	grouping.GroupRepository
	calls int
}

func (c *crashingGroups) ReplaceGroups(context.Context, string, []grouping.Group, bool) error {
	c.calls++
	return errors.New("crash before write")
}

func TestFormGroups_NoPartialState(t *testing.T) {
	f, ids := newFixture(t, 12)
	f.assignLevels(t, levelsByDistribution(ids, 4, 4, 4))
	ctx := context.Background()

	crash := &crashingGroups{GroupRepository: f.store}
	h := NewFormGroupsHandler(f.store, f.store, crash, f.store, f.bus, grouping.DefaultGAConfig(), nil)
	_, err := h.Handle(ctx, FormGroupsCommand{MaterialID: "m1", K: 3})
	require.Error(t, err)
	assert.Equal(t, 1, crash.calls)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = f.form.Handle(cancelled, FormGroupsCommand{MaterialID: "m1", K: 3})
	assert.ErrorIs(t, err, context.Canceled)

	exists, err := f.store.HasGroups(ctx, "m1")
	require.NoError(t, err)
	assert.False(t, exists)
	assert.NotContains(t, f.events, shared.EventGroupsFormed)

	// The run lock is released after a failed run.
	_, err = f.form.Handle(ctx, FormGroupsCommand{MaterialID: "m1", K: 3})
	assert.NoError(t, err)
}
