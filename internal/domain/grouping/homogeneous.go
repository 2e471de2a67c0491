package grouping

import (
	"github.com/arcs-classroom/motivation-hub/internal/domain/motivation"
	"github.com/arcs-classroom/motivation-hub/internal/domain/shared"
)

// homogeneousOrder is the bucket visiting order.
var homogeneousOrder = []motivation.Level{
	motivation.LevelHigh,
	motivation.LevelMedium,
	motivation.LevelLow,
	motivation.LevelUnanalyzed,
}

// PartitionHomogeneous splits the cohort into exactly k groups keeping
// each level together where capacities allow. Deterministic.
func PartitionHomogeneous(members []Member, k int) (Partition, error) {
	const op = "PartitionHomogeneous"
	if k < 1 {
		return nil, shared.Errorf("grouping", op, shared.ErrValidation, "group count must be positive, got %d", k)
	}
	if len(members) < k {
		return nil, shared.Errorf("grouping", op, shared.ErrInsufficientCohort,
			"cohort of %d is smaller than %d groups", len(members), k)
	}

	capacity := SliceSizes(len(members), k)
	groups := make(Partition, k)
	holds := make([][4]bool, k)

	byBucket := make(map[motivation.Level][]Member, len(homogeneousOrder))
	for _, m := range sortedMembers(members) {
		b := m.Level.Bucket()
		byBucket[b] = append(byBucket[b], m)
	}

	for _, level := range homogeneousOrder {
		slot := bucketIndex(level)
		for _, m := range byBucket[level] {
			target := -1
			// keep the level together first
			for g := range groups {
				if len(groups[g]) < capacity[g] && holds[g][slot] {
					if target < 0 || len(groups[g]) < len(groups[target]) {
						target = g
					}
				}
			}
			if target < 0 {
				for g := range groups {
					if len(groups[g]) < capacity[g] && (target < 0 || len(groups[g]) < len(groups[target])) {
						target = g
					}
				}
			}
			if target < 0 {
				return nil, shared.Errorf("grouping", op, shared.ErrInternal, "no capacity left for student %s", m.StudentID)
			}
			groups[target] = append(groups[target], m)
			holds[target][slot] = true
		}
	}
	return groups, nil
}
