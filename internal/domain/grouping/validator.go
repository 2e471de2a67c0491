package grouping

import (
	"fmt"

	"github.com/arcs-classroom/motivation-hub/internal/domain/motivation"
)

// DefaultMaxUnanalyzed requires every cohort member to be analyzed.
const DefaultMaxUnanalyzed = 0

// UnlimitedUnanalyzed disables the unanalyzed threshold.
const UnlimitedUnanalyzed = -1

// ValidationResult is the outcome of Validate.
type ValidationResult struct {
	IsValid         bool                     `json:"is_valid"`
	CohortSize      int                      `json:"cohort_size"`
	RequestedGroups int                      `json:"requested_groups"`
	Distribution    map[motivation.Level]int `json:"distribution"`
	Message         string                   `json:"message"`
	Warnings        []string                 `json:"warnings,omitempty"`
}

// Validate checks that the cohort can be split into k groups and that no
// more than maxUnanalyzed members lack a level. A negative maxUnanalyzed
// disables the threshold.
func Validate(members []Member, k int, maxUnanalyzed int) ValidationResult {
	h := HistogramOf(members)
	unanalyzed := h[bucketIndex(motivation.LevelUnanalyzed)]

	res := ValidationResult{
		CohortSize:      len(members),
		RequestedGroups: k,
		Distribution:    h.Map(),
	}

	if unanalyzed > 0 {
		res.Warnings = append(res.Warnings,
			fmt.Sprintf("%d of %d students have no motivation level", unanalyzed, len(members)))
	}

	var problems []string
	if k < 1 {
		problems = append(problems, fmt.Sprintf("group count must be positive, got %d", k))
	} else if len(members) < k {
		problems = append(problems, fmt.Sprintf("cohort of %d is smaller than %d groups", len(members), k))
	}
	if maxUnanalyzed >= 0 && unanalyzed > maxUnanalyzed {
		problems = append(problems, fmt.Sprintf("%d unanalyzed students exceed the limit of %d", unanalyzed, maxUnanalyzed))
	}

	res.IsValid = len(problems) == 0
	switch {
	case !res.IsValid:
		res.Message = problems[0]
		for _, p := range problems[1:] {
			res.Message += "; " + p
		}
	case unanalyzed > 0:
		res.Message = fmt.Sprintf("cohort of %d is ready for %d groups with %d unanalyzed students", len(members), k, unanalyzed)
	default:
		res.Message = fmt.Sprintf("cohort of %d is ready for %d groups", len(members), k)
	}
	return res
}
