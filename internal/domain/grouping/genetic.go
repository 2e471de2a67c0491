package grouping

import (
	"context"
	"math/rand"
	"sort"

	"github.com/arcs-classroom/motivation-hub/internal/domain/motivation"
	"github.com/arcs-classroom/motivation-hub/internal/domain/shared"
)

// GAConfig holds the evolution parameters.
type GAConfig struct {
	Seed           int64
	Population     int
	Generations    int
	TournamentSize int
	CrossoverRate  float64
	MutationRate   float64
	Elitism        int
	Patience       int
}

// DefaultGAConfig returns the standard parameters.
func DefaultGAConfig() GAConfig {
	return GAConfig{
		Seed:           42,
		Population:     80,
		Generations:    120,
		TournamentSize: 3,
		CrossoverRate:  0.7,
		MutationRate:   0.2,
		Elitism:        2,
		Patience:       25,
	}
}

func (c GAConfig) normalized() GAConfig {
	d := DefaultGAConfig()
	if c.Population < 2 {
		c.Population = d.Population
	}
	if c.Generations < 0 {
		c.Generations = d.Generations
	}
	if c.TournamentSize < 1 {
		c.TournamentSize = d.TournamentSize
	}
	if c.Elitism < 0 {
		c.Elitism = 0
	}
	if c.Elitism > c.Population {
		c.Elitism = c.Population
	}
	if c.Patience < 1 {
		c.Patience = d.Patience
	}
	return c
}

// OptimizeResult is the best partition found by the optimizer.
type OptimizeResult struct {
	Partition   Partition
	Objectives  Objectives
	Fitness     float64
	Generations int
	Repaired    bool
}

// individual is a permutation of cohort indexes with its cached fitness.
type individual struct {
	perm    []int
	fitness float64
}

// optimizer holds one run's state. Not safe for concurrent use.
type optimizer struct {
	members []Member
	sizes   []int
	cohort  Histogram
	weights Weights
	cfg     GAConfig
	rng     *rand.Rand
	scratch []Histogram
}

// Optimize searches a heterogeneous partition of members into k groups
// with a permutation-encoded genetic algorithm. The same members, k,
// priority and seed always give the same partition. Cancellation is
// checked between generations.
func Optimize(ctx context.Context, members []Member, k int, priority Priority, cfg GAConfig) (*OptimizeResult, error) {
	const op = "Optimize"
	if k < 1 {
		return nil, shared.Errorf("grouping", op, shared.ErrValidation, "group count must be positive, got %d", k)
	}
	if len(members) < k {
		return nil, shared.Errorf("grouping", op, shared.ErrInsufficientCohort,
			"cohort of %d is smaller than %d groups", len(members), k)
	}
	cfg = cfg.normalized()

	sorted := sortedMembers(members)
	o := &optimizer{
		members: sorted,
		sizes:   SliceSizes(len(sorted), k),
		cohort:  HistogramOf(sorted),
		weights: priority.Weights(),
		cfg:     cfg,
		rng:     rand.New(rand.NewSource(cfg.Seed)),
		scratch: make([]Histogram, k),
	}

	best, gens, err := o.evolve(ctx)
	if err != nil {
		return nil, err
	}
	repaired := o.repair(best)

	p := o.decode(best.perm)
	if err := CheckPartition(p, members, k); err != nil {
		return nil, err
	}
	obj := Evaluate(p, o.cohort)
	return &OptimizeResult{
		Partition:   p,
		Objectives:  obj,
		Fitness:     obj.Fitness(o.weights),
		Generations: gens,
		Repaired:    repaired,
	}, nil
}

func (o *optimizer) evolve(ctx context.Context) (*individual, int, error) {
	n := len(o.members)
	pop := make([]*individual, 0, o.cfg.Population)
	pop = append(pop, o.newIndividual(o.stratified()))
	for len(pop) < o.cfg.Population {
		pop = append(pop, o.newIndividual(o.rng.Perm(n)))
	}

	best := o.fittest(pop)
	stale, gen := 0, 0
	for gen = 0; gen < o.cfg.Generations; gen++ {
		if err := ctx.Err(); err != nil {
			return nil, gen, err
		}

		next := make([]*individual, 0, o.cfg.Population)
		next = append(next, o.ranked(pop)[:o.cfg.Elitism]...)
		for len(next) < o.cfg.Population {
			a, b := o.tournament(pop), o.tournament(pop)
			child := append([]int(nil), a.perm...)
			if o.rng.Float64() < o.cfg.CrossoverRate {
				child = o.orderedCrossover(a.perm, b.perm)
			}
			if o.rng.Float64() < o.cfg.MutationRate && n > 1 {
				i, j := o.rng.Intn(n), o.rng.Intn(n)
				child[i], child[j] = child[j], child[i]
			}
			next = append(next, o.newIndividual(child))
		}
		pop = next

		if cand := o.fittest(pop); cand.fitness > best.fitness {
			best, stale = cand, 0
		} else {
			stale++
		}
		if stale >= o.cfg.Patience {
			gen++
			break
		}
	}
	return best, gen, nil
}

func (o *optimizer) newIndividual(perm []int) *individual {
	return &individual{perm: perm, fitness: o.fitness(perm)}
}

// fitness evaluates a permutation without building member slices.
func (o *optimizer) fitness(perm []int) float64 {
	pos := 0
	for g, size := range o.sizes {
		var h Histogram
		for _, idx := range perm[pos : pos+size] {
			h[bucketIndex(o.members[idx].Level)]++
		}
		o.scratch[g] = h
		pos += size
	}
	return evaluateHistograms(o.scratch, o.cohort).Fitness(o.weights)
}

func (o *optimizer) decode(perm []int) Partition {
	p := make(Partition, len(o.sizes))
	pos := 0
	for g, size := range o.sizes {
		p[g] = make([]Member, 0, size)
		for _, idx := range perm[pos : pos+size] {
			p[g] = append(p[g], o.members[idx])
		}
		pos += size
	}
	return p
}

// ranked orders the population by fitness, keeping position on ties.
func (o *optimizer) ranked(pop []*individual) []*individual {
	out := append([]*individual(nil), pop...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].fitness > out[j].fitness })
	return out
}

func (o *optimizer) fittest(pop []*individual) *individual {
	best := pop[0]
	for _, ind := range pop[1:] {
		if ind.fitness > best.fitness {
			best = ind
		}
	}
	return best
}

func (o *optimizer) tournament(pop []*individual) *individual {
	var best *individual
	for i := 0; i < o.cfg.TournamentSize; i++ {
		cand := pop[o.rng.Intn(len(pop))]
		if best == nil || cand.fitness > best.fitness {
			best = cand
		}
	}
	return best
}

// orderedCrossover copies a random slice of a and fills the remaining
// positions with b's genes in b's order, starting after the slice.
func (o *optimizer) orderedCrossover(a, b []int) []int {
	n := len(a)
	child := make([]int, n)
	if n < 2 {
		copy(child, a)
		return child
	}
	lo, hi := o.rng.Intn(n), o.rng.Intn(n)
	if lo > hi {
		lo, hi = hi, lo
	}

	used := make([]bool, n)
	for i := lo; i <= hi; i++ {
		child[i] = a[i]
		used[a[i]] = true
	}
	pos := (hi + 1) % n
	for i := 0; i < n; i++ {
		gene := b[(hi+1+i)%n]
		if used[gene] {
			continue
		}
		child[pos] = gene
		used[gene] = true
		pos = (pos + 1) % n
	}
	return child
}

// stratified deals members sorted by level (High, Medium, Low, Unanalyzed)
// then id round-robin over the slice capacities.
func (o *optimizer) stratified() []int {
	rank := func(l motivation.Level) int {
		for i, b := range homogeneousOrder {
			if l.Bucket() == b {
				return i
			}
		}
		return len(homogeneousOrder)
	}
	order := make([]int, len(o.members))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(i, j int) bool {
		ri, rj := rank(o.members[order[i]].Level), rank(o.members[order[j]].Level)
		if ri != rj {
			return ri < rj
		}
		return o.members[order[i]].StudentID < o.members[order[j]].StudentID
	})

	k := len(o.sizes)
	groups := make([][]int, k)
	g := 0
	for _, idx := range order {
		for len(groups[g]) >= o.sizes[g] {
			g = (g + 1) % k
		}
		groups[g] = append(groups[g], idx)
		g = (g + 1) % k
	}

	perm := make([]int, 0, len(order))
	for _, grp := range groups {
		perm = append(perm, grp...)
	}
	return perm
}

// repair makes one pass over single-level groups and applies, per group,
// the swap with a dissimilar member of another group that improves
// fitness the most. Reports whether any swap was applied.
func (o *optimizer) repair(best *individual) bool {
	bounds := make([][2]int, len(o.sizes))
	pos := 0
	for g, size := range o.sizes {
		bounds[g] = [2]int{pos, pos + size}
		pos += size
	}
	level := func(i int) motivation.Level { return o.members[best.perm[i]].Level.Bucket() }

	repaired := false
	for g, bg := range bounds {
		if bg[1]-bg[0] < 2 || !monochrome(best.perm[bg[0]:bg[1]], o.members) {
			continue
		}
		current := best.fitness
		bestI, bestJ, bestFit := -1, -1, current
		for i := bg[0]; i < bg[1]; i++ {
			for h, bh := range bounds {
				if h == g {
					continue
				}
				for j := bh[0]; j < bh[1]; j++ {
					if level(j) == level(i) {
						continue
					}
					best.perm[i], best.perm[j] = best.perm[j], best.perm[i]
					if f := o.fitness(best.perm); f > bestFit {
						bestI, bestJ, bestFit = i, j, f
					}
					best.perm[i], best.perm[j] = best.perm[j], best.perm[i]
				}
			}
		}
		if bestI >= 0 {
			best.perm[bestI], best.perm[bestJ] = best.perm[bestJ], best.perm[bestI]
			best.fitness = bestFit
			repaired = true
		}
	}
	return repaired
}

func monochrome(idx []int, members []Member) bool {
	first := members[idx[0]].Level.Bucket()
	for _, i := range idx[1:] {
		if members[i].Level.Bucket() != first {
			return false
		}
	}
	return true
}
