package motivation

import (
	"sort"

	"github.com/arcs-classroom/motivation-hub/internal/domain/shared"
)

const (
	// QuestionsPerDimension is the number of items per ARCS dimension.
	QuestionsPerDimension = 5

	// MinAnswerValue and MaxAnswerValue bound a Likert answer.
	MinAnswerValue = 1
	MaxAnswerValue = 5
)

// Answer is one questionnaire item. Immutable once stored.
type Answer struct {
	StudentID     string    `json:"student_id"`
	Dimension     Dimension `json:"dimension" validate:"required,oneof=A R C S"`
	QuestionIndex int       `json:"question_index" validate:"min=1,max=5"`
	Value         int       `json:"value" validate:"min=1,max=5"`
}

// AggregateAnswers computes per-dimension means of a complete questionnaire.
// Exactly five answers per dimension, one per question index, are required.
func AggregateAnswers(answers []Answer) (Scores, error) {
	const op = "AggregateAnswers"

	seen := make(map[Dimension]map[int]bool, len(Dimensions))
	sums := make(map[Dimension]int, len(Dimensions))

	for _, a := range answers {
		if !a.Dimension.IsValid() {
			return Scores{}, shared.Errorf("motivation", op, shared.ErrValidation, "unknown dimension %q", a.Dimension)
		}
		if a.QuestionIndex < 1 || a.QuestionIndex > QuestionsPerDimension {
			return Scores{}, shared.Errorf("motivation", op, shared.ErrValidation,
				"question index %d out of range for dimension %s", a.QuestionIndex, a.Dimension)
		}
		if a.Value < MinAnswerValue || a.Value > MaxAnswerValue {
			return Scores{}, shared.Errorf("motivation", op, shared.ErrValidation,
				"answer %s%d has value %d, expected %d..%d", a.Dimension, a.QuestionIndex, a.Value, MinAnswerValue, MaxAnswerValue)
		}
		if seen[a.Dimension] == nil {
			seen[a.Dimension] = make(map[int]bool, QuestionsPerDimension)
		}
		if seen[a.Dimension][a.QuestionIndex] {
			return Scores{}, shared.Errorf("motivation", op, shared.ErrValidation,
				"duplicate answer %s%d", a.Dimension, a.QuestionIndex)
		}
		seen[a.Dimension][a.QuestionIndex] = true
		sums[a.Dimension] += a.Value
	}

	var missing []string
	for _, d := range Dimensions {
		if n := len(seen[d]); n != QuestionsPerDimension {
			missing = append(missing, string(d))
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return Scores{}, shared.Errorf("motivation", op, shared.ErrValidation,
			"incomplete questionnaire: dimensions %v need %d answers each", missing, QuestionsPerDimension)
	}

	mean := func(d Dimension) float64 {
		return float64(sums[d]) / QuestionsPerDimension
	}
	return Scores{
		Attention:    mean(DimensionAttention),
		Relevance:    mean(DimensionRelevance),
		Confidence:   mean(DimensionConfidence),
		Satisfaction: mean(DimensionSatisfaction),
	}, nil
}
