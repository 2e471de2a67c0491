// Package storetest holds the behaviour every Profile Store backend must
// share. Backends call Run from their own tests.
package storetest

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arcs-classroom/motivation-hub/internal/domain/grouping"
	"github.com/arcs-classroom/motivation-hub/internal/domain/motivation"
	"github.com/arcs-classroom/motivation-hub/internal/domain/shared"
	"github.com/arcs-classroom/motivation-hub/internal/infrastructure/persistence"
)

// Factory returns an empty store. Cleanup is registered on t.
type Factory func(t *testing.T) persistence.Store

// Run executes the contract suite against stores built by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Run("roster and directory", func(t *testing.T) { testRoster(t, newStore(t)) })
	t.Run("load profiles", func(t *testing.T) { testLoadProfiles(t, newStore(t)) })
	t.Run("save scores", func(t *testing.T) { testSaveScores(t, newStore(t)) })
	t.Run("save answers", func(t *testing.T) { testSaveAnswers(t, newStore(t)) })
	t.Run("save levels is atomic", func(t *testing.T) { testSaveLevels(t, newStore(t)) })
	t.Run("replace groups", func(t *testing.T) { testReplaceGroups(t, newStore(t)) })
	t.Run("replace groups leaves no partial state", func(t *testing.T) { testReplaceGroupsAtomic(t, newStore(t)) })
	t.Run("material lock", func(t *testing.T) { testMaterialLock(t, newStore(t)) })
}

// Seed registers n students s01..sNN enrolled in material m1 and returns
// their ids.
func Seed(t *testing.T, store persistence.Store, n int) []string {
	t.Helper()
	ctx := context.Background()

	require.NoError(t, store.AddMaterial(ctx, "m1", "Material 1"))
	ids := make([]string, n)
	for i := range ids {
		ids[i] = fmt.Sprintf("s%02d", i+1)
		require.NoError(t, store.AddStudent(ctx, motivation.Student{
			ID:          ids[i],
			Username:    fmt.Sprintf("user%02d", i+1),
			DisplayName: fmt.Sprintf("Student %d", i+1),
		}))
	}
	require.NoError(t, store.Enroll(ctx, "m1", ids))
	return ids
}

func scores(v float64) motivation.Scores {
	return motivation.Scores{Attention: v, Relevance: v, Confidence: v, Satisfaction: v}
}

func testRoster(t *testing.T, store persistence.Store) {
	ctx := context.Background()
	ids := Seed(t, store, 3)

	resolved, err := store.ResolveUsernames(ctx, []string{"user01", "ghost", "user03"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"user01": ids[0], "user03": ids[2]}, resolved)

	cohort, err := store.CohortStudentIDs(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, ids, cohort)

	_, err = store.CohortStudentIDs(ctx, "missing")
	assert.ErrorIs(t, err, shared.ErrNotFound)

	assert.ErrorIs(t, store.Enroll(ctx, "missing", ids), shared.ErrNotFound)
	assert.ErrorIs(t, store.Enroll(ctx, "m1", []string{"ghost"}), shared.ErrNotFound)

	err = store.AddStudent(ctx, motivation.Student{ID: "other", Username: "user01"})
	assert.ErrorIs(t, err, shared.ErrAlreadyExists)
}

func testLoadProfiles(t *testing.T, store persistence.Store) {
	ctx := context.Background()
	ids := Seed(t, store, 3)

	require.NoError(t, store.SaveScores(ctx, []motivation.ScoreUpdate{{StudentID: ids[1], Scores: scores(3)}}))

	profiles, err := store.LoadProfiles(ctx, []string{ids[2], ids[1], "ghost"})
	require.NoError(t, err)
	require.Len(t, profiles, 3)

	assert.Equal(t, ids[2], profiles[0].StudentID)
	assert.False(t, profiles[0].HasScores())
	assert.Equal(t, motivation.LevelNone, profiles[0].Level)

	assert.Equal(t, ids[1], profiles[1].StudentID)
	require.True(t, profiles[1].HasScores())
	assert.Equal(t, 3.0, profiles[1].Scores.Attention)
	assert.NotEmpty(t, profiles[1].ID)

	assert.Equal(t, "ghost", profiles[2].StudentID)
	assert.Empty(t, profiles[2].ID)
	assert.Nil(t, profiles[2].Scores)
}

func testSaveScores(t *testing.T, store persistence.Store) {
	ctx := context.Background()
	ids := Seed(t, store, 3)

	require.NoError(t, store.SaveScores(ctx, []motivation.ScoreUpdate{
		{StudentID: ids[0], Scores: scores(1)},
		{StudentID: ids[1], Scores: scores(2)},
		{StudentID: ids[2], Scores: scores(3)},
	}))
	all, err := store.LoadAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)

	var updates []motivation.LevelUpdate
	for _, p := range all {
		updates = append(updates, motivation.LevelUpdate{ProfileID: p.ID, Level: motivation.LevelMedium})
	}
	require.NoError(t, store.SaveLevels(ctx, updates))

	// A rescore keeps the profile id and the level.
	require.NoError(t, store.SaveScores(ctx, []motivation.ScoreUpdate{{StudentID: ids[0], Scores: scores(4.5)}}))
	got, err := store.LoadProfiles(ctx, ids[:1])
	require.NoError(t, err)
	assert.Equal(t, 4.5, got[0].Scores.Satisfaction)
	assert.Equal(t, motivation.LevelMedium, got[0].Level)

	// Four zero scores leave nothing to classify.
	require.NoError(t, store.SaveScores(ctx, []motivation.ScoreUpdate{{StudentID: ids[2], Scores: scores(0)}}))
	got, err = store.LoadProfiles(ctx, ids[2:])
	require.NoError(t, err)
	require.True(t, got[0].HasScores())
	assert.True(t, got[0].Scores.IsZero())
	assert.Equal(t, motivation.LevelNone, got[0].Level)

	before, err := store.LoadAll(ctx)
	require.NoError(t, err)
	err = store.SaveScores(ctx, []motivation.ScoreUpdate{
		{StudentID: ids[1], Scores: scores(5)},
		{StudentID: "ghost", Scores: scores(5)},
	})
	assert.ErrorIs(t, err, shared.ErrNotFound)
	after, err := store.LoadAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, scoreMap(before), scoreMap(after))
}

func testSaveAnswers(t *testing.T, store persistence.Store) {
	ctx := context.Background()
	ids := Seed(t, store, 1)

	var answers []motivation.Answer
	for _, d := range motivation.Dimensions {
		for q := 1; q <= motivation.QuestionsPerDimension; q++ {
			answers = append(answers, motivation.Answer{StudentID: ids[0], Dimension: d, QuestionIndex: q, Value: 4})
		}
	}
	require.NoError(t, store.SaveAnswers(ctx, ids[0], answers, scores(4)))
	require.NoError(t, store.SaveAnswers(ctx, ids[0], answers, scores(4)))

	got, err := store.LoadProfiles(ctx, ids)
	require.NoError(t, err)
	require.True(t, got[0].HasScores())
	assert.Equal(t, 4.0, got[0].Scores.Relevance)

	assert.ErrorIs(t, store.SaveAnswers(ctx, "ghost", answers, scores(4)), shared.ErrNotFound)
}

func testSaveLevels(t *testing.T, store persistence.Store) {
	ctx := context.Background()
	ids := Seed(t, store, 2)
	require.NoError(t, store.SaveScores(ctx, []motivation.ScoreUpdate{
		{StudentID: ids[0], Scores: scores(1)},
		{StudentID: ids[1], Scores: scores(5)},
	}))
	all, err := store.LoadAll(ctx)
	require.NoError(t, err)

	err = store.SaveLevels(ctx, []motivation.LevelUpdate{
		{ProfileID: all[0].ID, Level: motivation.LevelHigh},
		{ProfileID: "missing-profile", Level: motivation.LevelLow},
	})
	assert.ErrorIs(t, err, shared.ErrNotFound)

	unchanged, err := store.LoadAll(ctx)
	require.NoError(t, err)
	for _, p := range unchanged {
		assert.Equal(t, motivation.LevelNone, p.Level, "partial level batch is visible")
	}

	require.NoError(t, store.SaveLevels(ctx, []motivation.LevelUpdate{
		{ProfileID: all[0].ID, Level: motivation.LevelHigh},
		{ProfileID: all[1].ID, Level: motivation.LevelLow},
	}))
	levels := make(map[string]motivation.Level)
	updated, err := store.LoadAll(ctx)
	require.NoError(t, err)
	for _, p := range updated {
		levels[p.ID] = p.Level
	}
	assert.Equal(t, motivation.LevelHigh, levels[all[0].ID])
	assert.Equal(t, motivation.LevelLow, levels[all[1].ID])

	require.NoError(t, store.SaveLevels(ctx, []motivation.LevelUpdate{
		{ProfileID: all[0].ID, Level: motivation.LevelNone},
	}))
	cleared, err := store.LoadAll(ctx)
	require.NoError(t, err)
	for _, p := range cleared {
		levels[p.ID] = p.Level
	}
	assert.Equal(t, motivation.LevelNone, levels[all[0].ID])
	assert.Equal(t, motivation.LevelLow, levels[all[1].ID])
}

func testReplaceGroups(t *testing.T, store persistence.Store) {
	ctx := context.Background()
	ids := Seed(t, store, 4)
	require.NoError(t, store.SaveScores(ctx, []motivation.ScoreUpdate{{StudentID: ids[0], Scores: scores(2)}}))

	has, err := store.HasGroups(ctx, "m1")
	require.NoError(t, err)
	assert.False(t, has)

	first := twoGroups("m1", "A", ids)
	require.NoError(t, store.ReplaceGroups(ctx, "m1", first, false))

	has, err = store.HasGroups(ctx, "m1")
	require.NoError(t, err)
	assert.True(t, has)

	err = store.ReplaceGroups(ctx, "m1", twoGroups("m1", "B", ids), false)
	assert.ErrorIs(t, err, shared.ErrAlreadyExists)

	listed, err := store.ListGroups(ctx, "m1")
	require.NoError(t, err)
	require.Len(t, listed, 2)
	assert.Equal(t, "A-1", listed[0].Name)
	assert.ElementsMatch(t, ids[:2], listed[0].StudentIDs())
	assert.ElementsMatch(t, ids[2:], listed[1].StudentIDs())
	for _, m := range listed[0].Members {
		assert.Equal(t, motivation.LevelUnanalyzed, m.Level)
	}

	require.NoError(t, store.ReplaceGroups(ctx, "m1", twoGroups("m1", "B", ids), true))
	listed, err = store.ListGroups(ctx, "m1")
	require.NoError(t, err)
	require.Len(t, listed, 2)
	assert.Equal(t, "B-1", listed[0].Name)
	assert.Equal(t, "B-2", listed[1].Name)

	err = store.ReplaceGroups(ctx, "missing", twoGroups("missing", "C", ids), true)
	assert.ErrorIs(t, err, shared.ErrNotFound)
}

func testReplaceGroupsAtomic(t *testing.T, store persistence.Store) {
	ctx := context.Background()
	ids := Seed(t, store, 4)

	bad := twoGroups("m1", "A", ids)
	bad[1].Members = append(bad[1].Members, grouping.Member{StudentID: "ghost"})
	assert.Error(t, store.ReplaceGroups(ctx, "m1", bad, false))

	dup := twoGroups("m1", "A", ids)
	dup[1].Members = append(dup[1].Members, dup[0].Members[0])
	assert.ErrorIs(t, store.ReplaceGroups(ctx, "m1", dup, false), shared.ErrInternal)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	assert.Error(t, store.ReplaceGroups(cancelled, "m1", twoGroups("m1", "A", ids), false))

	has, err := store.HasGroups(ctx, "m1")
	require.NoError(t, err)
	assert.False(t, has)
}

func testMaterialLock(t *testing.T, store persistence.Store) {
	ctx := context.Background()
	Seed(t, store, 1)

	unlock, err := store.Lock(ctx, "m1")
	require.NoError(t, err)

	_, err = store.Lock(ctx, "m1")
	assert.ErrorIs(t, err, shared.ErrConflict)

	other, err := store.Lock(ctx, "m2")
	require.NoError(t, err)
	other()

	unlock()
	again, err := store.Lock(ctx, "m1")
	require.NoError(t, err)
	again()
}

func twoGroups(materialID, prefix string, ids []string) []grouping.Group {
	half := len(ids) / 2
	now := time.Now().UTC().Truncate(time.Second)
	mk := func(pos int, members []string) grouping.Group {
		g := grouping.Group{
			ID:         fmt.Sprintf("%s-%s-%d", materialID, prefix, pos),
			MaterialID: materialID,
			Name:       fmt.Sprintf("%s-%d", prefix, pos),
			Code:       fmt.Sprintf("%s%d", prefix, pos),
			Position:   pos,
			CreatedAt:  now,
		}
		for _, id := range members {
			g.Members = append(g.Members, grouping.Member{StudentID: id, Level: motivation.LevelUnanalyzed})
		}
		return g
	}
	return []grouping.Group{mk(1, ids[:half]), mk(2, ids[half:])}
}

func scoreMap(profiles []motivation.Profile) map[string]motivation.Scores {
	out := make(map[string]motivation.Scores)
	for _, p := range profiles {
		if p.Scores != nil {
			out[p.StudentID] = *p.Scores
		}
	}
	return out
}
