package grouping

import (
	"context"

	"github.com/arcs-classroom/motivation-hub/internal/domain/motivation"
)

// ══════════════════════════════════════════════════════════════════════════════
// REPOSITORY INTERFACES
// ══════════════════════════════════════════════════════════════════════════════

// CohortRepository resolves the admissible cohort of a material.
type CohortRepository interface {
	// CohortStudentIDs returns the enrolled student ids in ascending order.
	// Returns ErrNotFound if the material does not exist.
	CohortStudentIDs(ctx context.Context, materialID string) ([]string, error)
}

// GroupRepository owns persisted groups.
type GroupRepository interface {
	// ListGroups returns the groups of a material ordered by position.
	// Member levels reflect the current profiles.
	ListGroups(ctx context.Context, materialID string) ([]Group, error)

	// HasGroups reports whether any group exists for the material.
	HasGroups(ctx context.Context, materialID string) (bool, error)

	// ReplaceGroups writes groups in one atomic scope: it takes the
	// per-material write lock (ErrConflict when held), fails with
	// ErrAlreadyExists when prior groups exist and overwrite is false,
	// deletes prior groups and inserts the new ones.
	ReplaceGroups(ctx context.Context, materialID string, groups []Group, overwrite bool) error
}

// MaterialLocker serializes formation runs per material.
type MaterialLocker interface {
	// Lock acquires the material without waiting. A held lock yields
	// ErrConflict. The returned func releases it.
	Lock(ctx context.Context, materialID string) (unlock func(), err error)
}

// Roster registers students, materials and enrollments. It feeds the
// directory and cohort lookups and never touches profiles or groups.
type Roster interface {
	// AddStudent inserts or renames a student. Usernames are unique.
	AddStudent(ctx context.Context, s motivation.Student) error

	// AddMaterial inserts a material or updates its title.
	AddMaterial(ctx context.Context, materialID, title string) error

	// Enroll adds students to the cohort of a material. Unknown students
	// or materials yield ErrNotFound.
	Enroll(ctx context.Context, materialID string, studentIDs []string) error
}
