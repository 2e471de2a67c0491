// Package clustering assigns motivation levels with seeded K-Means.
//
// The engine is pure: it reads a snapshot of profiles and returns level
// updates. Persisting them is the caller's job.
package clustering

import (
	"math"
	"math/rand"
	"sort"

	"github.com/arcs-classroom/motivation-hub/internal/domain/motivation"
	"github.com/arcs-classroom/motivation-hub/internal/domain/shared"
)

// K is fixed: one cluster per motivation level.
const K = 3

// MinProfiles is the smallest analyzable population.
const MinProfiles = K

// Options configures a run. Zero values fall back to DefaultOptions.
type Options struct {
	Seed    int64
	NInit   int
	MaxIter int
}

// DefaultOptions returns seed 42, ten restarts and 300 iterations.
func DefaultOptions() Options {
	return Options{Seed: 42, NInit: 10, MaxIter: 300}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.NInit <= 0 {
		o.NInit = d.NInit
	}
	if o.MaxIter <= 0 {
		o.MaxIter = d.MaxIter
	}
	return o
}

// Result of a clustering run.
type Result struct {
	// Updates assigns a level to every clustered profile, ordered by profile
	// id, followed by LevelNone for excluded profiles that still hold one.
	Updates []motivation.LevelUpdate

	// Cleared counts the excluded profiles whose stale level is reset.
	Cleared int

	// Counts per assigned level.
	Counts map[motivation.Level]int

	// Excluded lists profile ids left out (no scores or all-zero scores).
	Excluded []string

	// Centroids in standardized space, indexed by level order Low, Medium, High.
	Centroids [K][]float64

	// CentroidMeans are the standardized means used for labelling.
	CentroidMeans [K]float64

	// RawCentroidMeans are the means of the centroids in score space.
	RawCentroidMeans [K]float64

	// Inertia of the best restart.
	Inertia float64
}

// Total is the number of profiles that received a level.
func (r *Result) Total() int {
	return len(r.Updates) - r.Cleared
}

// Run clusters the analyzable profiles into Low, Medium and High.
//
// Profiles without scores or with four zero scores are excluded, and an
// excluded profile that still carries a level from an earlier run gets it
// cleared in the same batch. Fewer than three remaining profiles yield
// ErrInsufficientData.
func Run(profiles []motivation.Profile, opts Options) (*Result, error) {
	opts = opts.withDefaults()

	var (
		included []motivation.Profile
		excluded []string
		stale    []string
	)
	for _, p := range profiles {
		if p.Clusterable() {
			included = append(included, p)
			continue
		}
		excluded = append(excluded, p.ID)
		if p.Level != motivation.LevelNone {
			stale = append(stale, p.ID)
		}
	}
	if len(included) < MinProfiles {
		return nil, shared.Errorf("clustering", "Run", shared.ErrInsufficientData,
			"need at least %d analyzed profiles, have %d", MinProfiles, len(included))
	}

	// Store order must not leak into the result.
	sort.SliceStable(included, func(i, j int) bool { return included[i].ID < included[j].ID })

	raw := make([][]float64, len(included))
	for i, p := range included {
		raw[i] = p.Scores.Vector()
	}
	x, _, _ := Standardize(raw)

	rng := rand.New(rand.NewSource(opts.Seed))
	best := fitBest(x, K, opts.NInit, opts.MaxIter, rng)

	order := labelOrder(best.centroids)
	levelOf := make([]motivation.Level, K)
	for rank, cluster := range order {
		levelOf[cluster] = motivation.Levels[rank]
	}

	res := &Result{
		Counts:   make(map[motivation.Level]int, K),
		Excluded: excluded,
		Inertia:  best.inertia,
	}
	for _, l := range motivation.Levels {
		res.Counts[l] = 0
	}
	for i, p := range included {
		l := levelOf[best.labels[i]]
		res.Updates = append(res.Updates, motivation.LevelUpdate{ProfileID: p.ID, Level: l})
		res.Counts[l]++
	}
	sort.Strings(stale)
	for _, id := range stale {
		res.Updates = append(res.Updates, motivation.LevelUpdate{ProfileID: id, Level: motivation.LevelNone})
	}
	res.Cleared = len(stale)

	dims := len(raw[0])
	for rank, cluster := range order {
		res.Centroids[rank] = append([]float64(nil), best.centroids[cluster]...)
		res.CentroidMeans[rank] = mean(best.centroids[cluster])

		sum, n := 0.0, 0
		for i, lbl := range best.labels {
			if lbl != cluster {
				continue
			}
			for d := 0; d < dims; d++ {
				sum += raw[i][d]
			}
			n++
		}
		if n > 0 {
			res.RawCentroidMeans[rank] = sum / float64(n*dims)
		}
	}

	return res, nil
}

// labelOrder sorts cluster indexes ascending by centroid mean, ties by index.
func labelOrder(centroids [][]float64) []int {
	order := make([]int, len(centroids))
	means := make([]float64, len(centroids))
	for i := range centroids {
		order[i] = i
		means[i] = mean(centroids[i])
	}
	sort.SliceStable(order, func(a, b int) bool {
		if means[order[a]] != means[order[b]] {
			return means[order[a]] < means[order[b]]
		}
		return order[a] < order[b]
	})
	return order
}

// ══════════════════════════════════════════════════════════════════════════════
// STANDARDIZATION
// ══════════════════════════════════════════════════════════════════════════════

// Standardize scales every column to zero mean and unit population
// variance. Constant columns keep scale 1.
func Standardize(rows [][]float64) (out [][]float64, means, scales []float64) {
	if len(rows) == 0 {
		return nil, nil, nil
	}
	dims := len(rows[0])
	n := float64(len(rows))

	means = make([]float64, dims)
	scales = make([]float64, dims)
	for _, r := range rows {
		for d, v := range r {
			means[d] += v
		}
	}
	for d := range means {
		means[d] /= n
	}
	for _, r := range rows {
		for d, v := range r {
			diff := v - means[d]
			scales[d] += diff * diff
		}
	}
	for d := range scales {
		sd := math.Sqrt(scales[d] / n)
		if sd < 1e-12 {
			sd = 1
		}
		scales[d] = sd
	}

	out = make([][]float64, len(rows))
	for i, r := range rows {
		out[i] = make([]float64, dims)
		for d, v := range r {
			out[i][d] = (v - means[d]) / scales[d]
		}
	}
	return out, means, scales
}

// ══════════════════════════════════════════════════════════════════════════════
// K-MEANS
// ══════════════════════════════════════════════════════════════════════════════

type fit struct {
	centroids [][]float64
	labels    []int
	inertia   float64
}

// fitBest keeps the lowest-inertia fit over nInit restarts drawn from rng.
func fitBest(x [][]float64, k, nInit, maxIter int, rng *rand.Rand) fit {
	tol := tolerance(x)
	var best fit
	for run := 0; run < nInit; run++ {
		f := lloyd(x, initPlusPlus(x, k, rng), maxIter, tol)
		if run == 0 || f.inertia < best.inertia {
			best = f
		}
	}
	return best
}

// tolerance is 1e-4 times the mean column variance.
func tolerance(x [][]float64) float64 {
	dims := len(x[0])
	n := float64(len(x))
	total := 0.0
	for d := 0; d < dims; d++ {
		m := 0.0
		for _, r := range x {
			m += r[d]
		}
		m /= n
		v := 0.0
		for _, r := range x {
			v += (r[d] - m) * (r[d] - m)
		}
		total += v / n
	}
	return 1e-4 * total / float64(dims)
}

// initPlusPlus picks k starting centroids with k-means++ weighting.
func initPlusPlus(x [][]float64, k int, rng *rand.Rand) [][]float64 {
	centroids := make([][]float64, 0, k)
	centroids = append(centroids, clone(x[rng.Intn(len(x))]))

	dist := make([]float64, len(x))
	for len(centroids) < k {
		sum := 0.0
		for i, p := range x {
			dist[i] = math.Inf(1)
			for _, c := range centroids {
				if d := sqDist(p, c); d < dist[i] {
					dist[i] = d
				}
			}
			sum += dist[i]
		}

		next := len(x) - 1
		if sum > 0 {
			target := rng.Float64() * sum
			acc := 0.0
			for i, d := range dist {
				acc += d
				if acc >= target && d > 0 {
					next = i
					break
				}
			}
		} else {
			// every point coincides with a centroid
			next = rng.Intn(len(x))
		}
		centroids = append(centroids, clone(x[next]))
	}
	return centroids
}

// lloyd alternates assignment and update until the centroid shift drops
// to tol or maxIter is reached.
func lloyd(x [][]float64, centroids [][]float64, maxIter int, tol float64) fit {
	k := len(centroids)
	dims := len(x[0])
	labels := make([]int, len(x))

	for iter := 0; iter < maxIter; iter++ {
		assign(x, centroids, labels)

		next := make([][]float64, k)
		counts := make([]int, k)
		for c := range next {
			next[c] = make([]float64, dims)
		}
		for i, p := range x {
			c := labels[i]
			counts[c]++
			for d, v := range p {
				next[c][d] += v
			}
		}
		for c := range next {
			if counts[c] == 0 {
				continue
			}
			for d := range next[c] {
				next[c][d] /= float64(counts[c])
			}
		}
		reseedEmpty(x, labels, next, counts)

		shift := 0.0
		for c := range centroids {
			shift += sqDist(centroids[c], next[c])
		}
		centroids = next
		if shift <= tol {
			break
		}
	}

	inertia := assign(x, centroids, labels)
	return fit{centroids: centroids, labels: labels, inertia: inertia}
}

// reseedEmpty moves each empty centroid onto the point farthest from its
// own centroid, and takes that point out of its old cluster.
func reseedEmpty(x [][]float64, labels []int, centroids [][]float64, counts []int) {
	for c := range centroids {
		if counts[c] > 0 {
			continue
		}
		far, farDist := -1, -1.0
		for i, p := range x {
			if counts[labels[i]] <= 1 {
				continue
			}
			if d := sqDist(p, centroids[labels[i]]); d > farDist {
				far, farDist = i, d
			}
		}
		if far < 0 {
			continue
		}
		counts[labels[far]]--
		labels[far] = c
		counts[c] = 1
		centroids[c] = clone(x[far])
	}
}

// assign labels every point with its nearest centroid (lowest index on
// ties) and returns the inertia.
func assign(x [][]float64, centroids [][]float64, labels []int) float64 {
	inertia := 0.0
	for i, p := range x {
		best, bestDist := 0, math.Inf(1)
		for c, cen := range centroids {
			if d := sqDist(p, cen); d < bestDist {
				best, bestDist = c, d
			}
		}
		labels[i] = best
		inertia += bestDist
	}
	return inertia
}

func sqDist(a, b []float64) float64 {
	s := 0.0
	for i := range a {
		d := a[i] - b[i]
		s += d * d
	}
	return s
}

func mean(v []float64) float64 {
	if len(v) == 0 {
		return 0
	}
	s := 0.0
	for _, x := range v {
		s += x
	}
	return s / float64(len(v))
}

func clone(v []float64) []float64 {
	return append([]float64(nil), v...)
}
