package grouping

import (
	"fmt"
	"math"
	"strings"

	"github.com/arcs-classroom/motivation-hub/internal/domain/motivation"
)

// Thresholds of the recommendation table, applied in order.
const (
	minShareThreshold  = 0.10
	maxImbalanceRatio  = 5.0
	maxMembersPerGroup = 6.0
	uniformEntropyFrac = 0.95
)

// ClassAnalysis describes the level composition of a cohort.
type ClassAnalysis struct {
	CohortSize   int                          `json:"cohort_size"`
	GroupCount   int                          `json:"group_count"`
	AvgGroupSize float64                      `json:"avg_group_size"`
	Distribution map[motivation.Level]int     `json:"distribution"`
	Shares       map[motivation.Level]float64 `json:"shares"`

	// MinShare and MaxShare range over Low, Medium and High.
	MinShare float64 `json:"min_share"`
	MaxShare float64 `json:"max_share"`

	// ImbalanceRatio is MaxShare/MinShare; 0 when unbounded.
	ImbalanceRatio     float64 `json:"imbalance_ratio"`
	ImbalanceUnbounded bool    `json:"imbalance_unbounded"`

	// Entropy is the Shannon entropy (natural log) of the bucket shares.
	Entropy      float64 `json:"entropy"`
	EntropyRatio float64 `json:"entropy_ratio"`

	Composition string `json:"composition"`
}

// Recommendation is the adaptive analyzer verdict. Callers may override it.
type Recommendation struct {
	Priority  Priority      `json:"priority"`
	Rationale string        `json:"rationale"`
	Analysis  ClassAnalysis `json:"class_analysis"`
}

// Analyze inspects the cohort composition and recommends a priority.
// A non-positive k defaults to ⌈N/5⌉.
func Analyze(members []Member, k int) Recommendation {
	a := analyzeClass(members, k)
	p, why := recommend(a)
	return Recommendation{Priority: p, Rationale: why, Analysis: a}
}

func analyzeClass(members []Member, k int) ClassAnalysis {
	n := len(members)
	if k <= 0 {
		k = MinGroupCount(n)
	}
	h := HistogramOf(members)

	a := ClassAnalysis{
		CohortSize:   n,
		GroupCount:   k,
		Distribution: h.Map(),
		Shares:       make(map[motivation.Level]float64, len(motivation.Buckets)),
	}
	if k > 0 {
		a.AvgGroupSize = float64(n) / float64(k)
	}
	if n == 0 {
		a.Composition = "empty"
		return a
	}

	for i, l := range motivation.Buckets {
		share := float64(h[i]) / float64(n)
		a.Shares[l] = share
		if share > 0 {
			a.Entropy -= share * math.Log(share)
		}
	}
	a.EntropyRatio = a.Entropy / math.Log(3)

	a.MinShare, a.MaxShare = math.Inf(1), 0
	for _, l := range motivation.Levels {
		s := a.Shares[l]
		a.MinShare = math.Min(a.MinShare, s)
		a.MaxShare = math.Max(a.MaxShare, s)
	}
	if a.MinShare > 0 {
		a.ImbalanceRatio = a.MaxShare / a.MinShare
	} else {
		a.ImbalanceUnbounded = true
	}

	a.Composition = classifyComposition(a)
	return a
}

func classifyComposition(a ClassAnalysis) string {
	for _, l := range motivation.Levels {
		if a.Shares[l] >= 0.6 {
			return "dominant_" + strings.ToLower(string(l))
		}
	}
	low, mid, high := a.Shares[motivation.LevelLow], a.Shares[motivation.LevelMedium], a.Shares[motivation.LevelHigh]
	switch {
	case low >= 0.3 && high >= 0.3 && mid < 0.15:
		return "polarized"
	case a.ImbalanceUnbounded || a.ImbalanceRatio > 3:
		return "skewed"
	case a.EntropyRatio > uniformEntropyFrac:
		return "uniform"
	default:
		return "moderate"
	}
}

func recommend(a ClassAnalysis) (Priority, string) {
	if a.CohortSize == 0 {
		return PriorityBalanced, "empty cohort, nothing to weigh"
	}
	switch {
	case a.MinShare < minShareThreshold:
		return PriorityDistribution, fmt.Sprintf(
			"smallest motivation level holds %.0f%% of the class (below %.0f%%), keep level proportions fair across groups",
			a.MinShare*100, minShareThreshold*100)
	case a.ImbalanceRatio > maxImbalanceRatio:
		return PriorityDistribution, fmt.Sprintf(
			"level shares differ by a factor of %.1f (above %.0f), keep level proportions fair across groups",
			a.ImbalanceRatio, maxImbalanceRatio)
	case a.AvgGroupSize > maxMembersPerGroup:
		return PrioritySize, fmt.Sprintf(
			"%.1f students per group on average (above %.0f), keep group sizes even", a.AvgGroupSize, maxMembersPerGroup)
	case a.Entropy > uniformEntropyFrac*math.Log(3):
		return PriorityDiversity, fmt.Sprintf(
			"levels are evenly spread (entropy %.2f of %.2f), maximize level mix inside groups", a.Entropy, math.Log(3))
	default:
		return PriorityBalanced, "no dominant concern, weigh all objectives equally"
	}
}
