package grouping

import "math"

// Objectives are the three formation goals, each in [0,1], higher is better.
type Objectives struct {
	Diversity    float64 `json:"diversity"`
	SizeBalance  float64 `json:"size_balance"`
	Distribution float64 `json:"distribution"`
}

// Fitness scalarizes the objectives with w.
func (o Objectives) Fitness(w Weights) float64 {
	return w.Diversity*o.Diversity + w.Size*o.SizeBalance + w.Distribution*o.Distribution
}

// Evaluate scores a partition against the cohort histogram.
func Evaluate(p Partition, cohort Histogram) Objectives {
	hists := make([]Histogram, len(p))
	for i, g := range p {
		hists[i] = HistogramOf(g)
	}
	return evaluateHistograms(hists, cohort)
}

// evaluateHistograms is the allocation-free core shared with the optimizer.
func evaluateHistograms(groups []Histogram, cohort Histogram) Objectives {
	if len(groups) == 0 {
		return Objectives{}
	}

	var cohortShare [4]float64
	if total := cohort.Total(); total > 0 {
		for i, c := range cohort {
			cohortShare[i] = float64(c) / float64(total)
		}
	}

	var (
		diversity, l1Sum float64
		minSize          = math.MaxInt
		maxSize          int
	)
	for _, h := range groups {
		size := h.Total()
		minSize = min(minSize, size)
		maxSize = max(maxSize, size)

		diversity += math.Min(1, float64(h.Unique())/3)

		if size > 0 {
			l1 := 0.0
			for i, c := range h {
				l1 += math.Abs(float64(c)/float64(size) - cohortShare[i])
			}
			l1Sum += l1
		}
	}

	n := float64(len(groups))
	o := Objectives{
		Diversity:    diversity / n,
		Distribution: 1 - (l1Sum/n)/2,
	}
	if maxSize > 0 {
		o.SizeBalance = 1 - float64(maxSize-minSize)/float64(maxSize)
	}
	return o
}

// distributionL1 returns the mean L1 distance of group proportions to the
// cohort proportions, in [0,2].
func distributionL1(o Objectives) float64 {
	return 2 * (1 - o.Distribution)
}
