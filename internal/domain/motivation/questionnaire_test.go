package motivation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arcs-classroom/motivation-hub/internal/domain/shared"
)

func fullQuestionnaire(values map[Dimension][5]int) []Answer {
	var out []Answer
	for _, d := range Dimensions {
		for i, v := range values[d] {
			out = append(out, Answer{StudentID: "s1", Dimension: d, QuestionIndex: i + 1, Value: v})
		}
	}
	return out
}

func TestAggregateAnswers(t *testing.T) {
	answers := fullQuestionnaire(map[Dimension][5]int{
		DimensionAttention:    {5, 5, 4, 4, 5},
		DimensionRelevance:    {1, 2, 3, 4, 5},
		DimensionConfidence:   {3, 3, 3, 3, 3},
		DimensionSatisfaction: {2, 1, 2, 1, 2},
	})

	scores, err := AggregateAnswers(answers)
	require.NoError(t, err)
	assert.InDelta(t, 4.6, scores.Attention, 1e-9)
	assert.InDelta(t, 3.0, scores.Relevance, 1e-9)
	assert.InDelta(t, 3.0, scores.Confidence, 1e-9)
	assert.InDelta(t, 1.6, scores.Satisfaction, 1e-9)
}

func TestAggregateAnswers_Rejects(t *testing.T) {
	base := func() []Answer {
		return fullQuestionnaire(map[Dimension][5]int{
			DimensionAttention:    {3, 3, 3, 3, 3},
			DimensionRelevance:    {3, 3, 3, 3, 3},
			DimensionConfidence:   {3, 3, 3, 3, 3},
			DimensionSatisfaction: {3, 3, 3, 3, 3},
		})
	}

	tests := []struct {
		name   string
		mutate func([]Answer) []Answer
	}{
		{"missing answer", func(a []Answer) []Answer { return a[:19] }},
		{"duplicate index", func(a []Answer) []Answer { a[1].QuestionIndex = 1; return a }},
		{"value too high", func(a []Answer) []Answer { a[0].Value = 6; return a }},
		{"value too low", func(a []Answer) []Answer { a[0].Value = 0; return a }},
		{"bad index", func(a []Answer) []Answer { a[0].QuestionIndex = 7; return a }},
		{"bad dimension", func(a []Answer) []Answer { a[0].Dimension = "X"; return a }},
		{"empty", func([]Answer) []Answer { return nil }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := AggregateAnswers(tt.mutate(base()))
			require.Error(t, err)
			assert.ErrorIs(t, err, shared.ErrValidation)
		})
	}
}

func TestProfileInvariants(t *testing.T) {
	zero := &Scores{}
	full := &Scores{Attention: 4, Relevance: 3, Confidence: 2, Satisfaction: 1}

	assert.False(t, EmptyProfile("s1").Clusterable())
	assert.False(t, Profile{Scores: zero}.Clusterable())
	assert.True(t, Profile{Scores: full}.Clusterable())

	assert.Equal(t, LevelUnanalyzed, EmptyProfile("s1").Bucket())
	assert.Equal(t, LevelHigh, Profile{Scores: full, Level: LevelHigh}.Bucket())

	assert.NoError(t, Profile{Scores: full, Level: LevelLow}.Validate())
	assert.ErrorIs(t, Profile{Level: LevelLow}.Validate(), shared.ErrInternal)
	assert.ErrorIs(t, Profile{Scores: full, Level: LevelUnanalyzed}.Validate(), shared.ErrInternal)

	_, err := ParseLevel("Excellent")
	assert.Error(t, err)
	l, err := ParseLevel("")
	require.NoError(t, err)
	assert.Equal(t, LevelNone, l)
}
