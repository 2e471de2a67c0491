package grouping

import (
	"fmt"
	"math"

	"github.com/arcs-classroom/motivation-hub/internal/domain/motivation"
)

// Grade thresholds on the weighted fitness.
const (
	gradeExcellent = 0.85
	gradeGood      = 0.70
	gradeFair      = 0.50
)

// verdictTemplates holds the fixed text per objective.
var verdictTemplates = map[Priority]string{
	PriorityDiversity:    "Groups mix motivation levels well, most of them span several levels.",
	PrioritySize:         "Group sizes are evenly balanced.",
	PriorityDistribution: "Each group mirrors the class motivation distribution closely.",
}

// GroupQuality describes one group.
type GroupQuality struct {
	Index        int                      `json:"index"`
	Size         int                      `json:"size"`
	LevelCounts  map[motivation.Level]int `json:"level_counts"`
	UniqueLevels int                      `json:"unique_levels"`
	LevelEntropy float64                  `json:"level_entropy"`
}

// QualityReport describes a whole partition.
type QualityReport struct {
	Groups         []GroupQuality `json:"groups"`
	SizeCV         float64        `json:"size_cv"`
	MeanDiversity  float64        `json:"mean_diversity"`
	DistributionL1 float64        `json:"distribution_l1_to_cohort"`
	Objectives     Objectives     `json:"objectives"`
	Priority       Priority       `json:"priority"`
	Weights        Weights        `json:"weights"`
	Fitness        float64        `json:"fitness"`
	Grade          string         `json:"grade"`
	Verdict        string         `json:"verdict"`
}

// Message renders the one-line quality summary.
func (r QualityReport) Message() string {
	return fmt.Sprintf("%s grouping (fitness %.2f). %s", r.Grade, r.Fitness, r.Verdict)
}

// AnalyzeQuality scores a partition under the weights of priority.
func AnalyzeQuality(p Partition, priority Priority) QualityReport {
	var all []Member
	for _, g := range p {
		all = append(all, g...)
	}
	cohort := HistogramOf(all)
	obj := Evaluate(p, cohort)
	w := priority.Weights()

	r := QualityReport{
		Groups:         make([]GroupQuality, len(p)),
		SizeCV:         sizeCV(p.Sizes()),
		MeanDiversity:  obj.Diversity,
		DistributionL1: distributionL1(obj),
		Objectives:     obj,
		Priority:       priority,
		Weights:        w,
		Fitness:        obj.Fitness(w),
	}
	for i, g := range p {
		h := HistogramOf(g)
		r.Groups[i] = GroupQuality{
			Index:        i,
			Size:         len(g),
			LevelCounts:  h.Map(),
			UniqueLevels: h.Unique(),
			LevelEntropy: entropy(h),
		}
	}
	if len(p) == 0 {
		r.MeanDiversity, r.DistributionL1 = 0, 0
	}

	r.Grade = grade(r.Fitness)
	r.Verdict = verdictTemplates[strongestObjective(obj, w)]
	return r
}

func grade(f float64) string {
	switch {
	case f >= gradeExcellent:
		return "excellent"
	case f >= gradeGood:
		return "good"
	case f >= gradeFair:
		return "fair"
	default:
		return "poor"
	}
}

// strongestObjective returns the objective with the highest weighted
// achievement; ties keep diversity, then size.
func strongestObjective(o Objectives, w Weights) Priority {
	best, bestScore := PriorityDiversity, w.Diversity*o.Diversity
	if s := w.Size * o.SizeBalance; s > bestScore {
		best, bestScore = PrioritySize, s
	}
	if s := w.Distribution * o.Distribution; s > bestScore {
		best = PriorityDistribution
	}
	return best
}

func sizeCV(sizes []int) float64 {
	if len(sizes) == 0 {
		return 0
	}
	n := float64(len(sizes))
	mean := 0.0
	for _, s := range sizes {
		mean += float64(s)
	}
	mean /= n
	if mean == 0 {
		return 0
	}
	variance := 0.0
	for _, s := range sizes {
		d := float64(s) - mean
		variance += d * d
	}
	return math.Sqrt(variance/n) / mean
}

func entropy(h Histogram) float64 {
	total := h.Total()
	if total == 0 {
		return 0
	}
	e := 0.0
	for _, c := range h {
		if c > 0 {
			p := float64(c) / float64(total)
			e -= p * math.Log(p)
		}
	}
	return e
}
