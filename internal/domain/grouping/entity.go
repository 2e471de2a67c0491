package grouping

import (
	"sort"
	"strings"
	"time"

	"github.com/arcs-classroom/motivation-hub/internal/domain/motivation"
	"github.com/arcs-classroom/motivation-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// VALUE OBJECTS
// ══════════════════════════════════════════════════════════════════════════════

// Mode selects the formation policy.
type Mode string

const (
	// ModeHomogeneous - members share a motivation level where sizes allow.
	ModeHomogeneous Mode = "homogen"
	// ModeHeterogeneous - members span levels; optimized by the genetic algorithm.
	ModeHeterogeneous Mode = "heterogen"
)

// ParseMode validates a mode name. Empty input means heterogeneous.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case "":
		return ModeHeterogeneous, nil
	case ModeHomogeneous, ModeHeterogeneous:
		return m, nil
	default:
		return "", shared.Errorf("grouping", "ParseMode", shared.ErrValidation,
			"unknown mode %q, expected %q or %q", s, ModeHomogeneous, ModeHeterogeneous)
	}
}

// Priority is the weight preset of the fitness scalarization.
type Priority string

const (
	PriorityBalanced     Priority = "balanced"
	PriorityDiversity    Priority = "diversity"
	PrioritySize         Priority = "size"
	PriorityDistribution Priority = "distribution"
)

// Priorities lists every preset.
var Priorities = []Priority{PriorityBalanced, PriorityDiversity, PrioritySize, PriorityDistribution}

// ParsePriority validates a priority name. Empty input means balanced.
func ParsePriority(s string) (Priority, error) {
	p := Priority(strings.ToLower(strings.TrimSpace(s)))
	if p == "" {
		return PriorityBalanced, nil
	}
	for _, known := range Priorities {
		if p == known {
			return p, nil
		}
	}
	return "", shared.Errorf("grouping", "ParsePriority", shared.ErrValidation, "unknown priority %q", s)
}

// Weights scalarize the three objectives.
type Weights struct {
	Diversity    float64 `json:"diversity"`
	Size         float64 `json:"size"`
	Distribution float64 `json:"distribution"`
}

// Weights returns the preset of p. Unknown values fall back to balanced.
func (p Priority) Weights() Weights {
	switch p {
	case PriorityDiversity:
		return Weights{Diversity: 0.60, Size: 0.20, Distribution: 0.20}
	case PrioritySize:
		return Weights{Diversity: 0.20, Size: 0.60, Distribution: 0.20}
	case PriorityDistribution:
		return Weights{Diversity: 0.20, Size: 0.20, Distribution: 0.60}
	default:
		return Weights{Diversity: 0.34, Size: 0.33, Distribution: 0.33}
	}
}

// MaxGroupSize bounds heterogeneous groups: k is never below ⌈N/MaxGroupSize⌉.
const MaxGroupSize = 5

// MinGroupCount returns ⌈n/MaxGroupSize⌉, at least 1 for a non-empty cohort.
func MinGroupCount(n int) int {
	if n <= 0 {
		return 0
	}
	return (n + MaxGroupSize - 1) / MaxGroupSize
}

// HeterogeneousK is the group count a heterogeneous run uses for a
// requested k over n members.
func HeterogeneousK(n, k int) int {
	return max(k, MinGroupCount(n))
}

// SliceSizes returns k legal group sizes for n members: ⌊n/k⌋ first and
// ⌈n/k⌉ for the last n mod k slices.
func SliceSizes(n, k int) []int {
	if k <= 0 {
		return nil
	}
	sizes := make([]int, k)
	base, extra := n/k, n%k
	for i := range sizes {
		sizes[i] = base
		if i >= k-extra {
			sizes[i]++
		}
	}
	return sizes
}

// ══════════════════════════════════════════════════════════════════════════════
// COHORT
// ══════════════════════════════════════════════════════════════════════════════

// Member is a cohort member as seen by the engines. Level is a distribution
// bucket, so unanalyzed students carry LevelUnanalyzed.
type Member struct {
	StudentID string           `json:"student_id"`
	Level     motivation.Level `json:"level"`
}

// MembersFromProfiles projects profiles onto engine members.
func MembersFromProfiles(profiles []motivation.Profile) []Member {
	out := make([]Member, len(profiles))
	for i, p := range profiles {
		out[i] = Member{StudentID: p.StudentID, Level: p.Bucket()}
	}
	return out
}

// sortedMembers returns a copy ordered by student id.
func sortedMembers(members []Member) []Member {
	out := append([]Member(nil), members...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].StudentID < out[j].StudentID })
	return out
}

// bucketIndex maps a level to its histogram slot: Low, Medium, High, Unanalyzed.
func bucketIndex(l motivation.Level) int {
	switch l.Bucket() {
	case motivation.LevelLow:
		return 0
	case motivation.LevelMedium:
		return 1
	case motivation.LevelHigh:
		return 2
	default:
		return 3
	}
}

// Histogram counts members per bucket in motivation.Buckets order.
type Histogram [4]int

// HistogramOf counts the buckets of members.
func HistogramOf(members []Member) Histogram {
	var h Histogram
	for _, m := range members {
		h[bucketIndex(m.Level)]++
	}
	return h
}

// Total returns the number of counted members.
func (h Histogram) Total() int {
	return h[0] + h[1] + h[2] + h[3]
}

// Unique returns the number of non-empty buckets.
func (h Histogram) Unique() int {
	n := 0
	for _, c := range h {
		if c > 0 {
			n++
		}
	}
	return n
}

// Map converts the histogram into a level-keyed distribution.
func (h Histogram) Map() map[motivation.Level]int {
	out := make(map[motivation.Level]int, len(motivation.Buckets))
	for i, l := range motivation.Buckets {
		out[l] = h[i]
	}
	return out
}

// ══════════════════════════════════════════════════════════════════════════════
// ENTITIES
// ══════════════════════════════════════════════════════════════════════════════

// Group is a persisted learning group of a material.
type Group struct {
	ID         string    `json:"id"`
	MaterialID string    `json:"material_id"`
	Name       string    `json:"name"`
	Code       string    `json:"code"`
	Position   int       `json:"position"`
	Members    []Member  `json:"members"`
	CreatedAt  time.Time `json:"created_at"`
}

// StudentIDs returns the member ids of the group.
func (g Group) StudentIDs() []string {
	out := make([]string, len(g.Members))
	for i, m := range g.Members {
		out[i] = m.StudentID
	}
	return out
}

// Partition is an engine output: k lists of members.
type Partition [][]Member

// Sizes returns the size of every group.
func (p Partition) Sizes() []int {
	out := make([]int, len(p))
	for i, g := range p {
		out[i] = len(g)
	}
	return out
}

// CheckPartition verifies that p splits cohort into k disjoint non-empty
// groups whose union is the cohort.
func CheckPartition(p Partition, cohort []Member, k int) error {
	const op = "CheckPartition"
	if len(p) != k {
		return shared.Errorf("grouping", op, shared.ErrInternal, "expected %d groups, got %d", k, len(p))
	}
	want := make(map[string]bool, len(cohort))
	for _, m := range cohort {
		want[m.StudentID] = true
	}
	seen := make(map[string]bool, len(cohort))
	for i, g := range p {
		if len(g) == 0 {
			return shared.Errorf("grouping", op, shared.ErrInternal, "group %d is empty", i)
		}
		for _, m := range g {
			if !want[m.StudentID] {
				return shared.Errorf("grouping", op, shared.ErrInternal, "student %s is not in the cohort", m.StudentID)
			}
			if seen[m.StudentID] {
				return shared.Errorf("grouping", op, shared.ErrInternal, "student %s is in more than one group", m.StudentID)
			}
			seen[m.StudentID] = true
		}
	}
	if len(seen) != len(want) {
		return shared.Errorf("grouping", op, shared.ErrInternal, "%d of %d students are unassigned", len(want)-len(seen), len(want))
	}
	return nil
}

// CheckGroups verifies groups about to be persisted for materialID: every
// group belongs to the material, is non-empty and no student appears twice.
func CheckGroups(materialID string, groups []Group) error {
	const op = "CheckGroups"
	seen := make(map[string]bool)
	for i, g := range groups {
		if g.MaterialID != materialID {
			return shared.Errorf("grouping", op, shared.ErrInternal,
				"group %d belongs to material %q, not %q", i, g.MaterialID, materialID)
		}
		if len(g.Members) == 0 {
			return shared.Errorf("grouping", op, shared.ErrInternal, "group %d is empty", i)
		}
		for _, m := range g.Members {
			if seen[m.StudentID] {
				return shared.Errorf("grouping", op, shared.ErrInternal,
					"student %s is in more than one group", m.StudentID)
			}
			seen[m.StudentID] = true
		}
	}
	return nil
}
