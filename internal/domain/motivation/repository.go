package motivation

import "context"

// ══════════════════════════════════════════════════════════════════════════════
// REPOSITORY INTERFACES
// Contracts of the Profile Store. Implementations live in
// infrastructure/persistence.
// ══════════════════════════════════════════════════════════════════════════════

// StudentDirectory resolves external identities to student ids.
type StudentDirectory interface {
	// ResolveUsernames maps usernames to student ids.
	// Unknown usernames are absent from the result.
	ResolveUsernames(ctx context.Context, usernames []string) (map[string]string, error)
}

// ProfileRepository is the only writer of motivation profiles.
type ProfileRepository interface {
	// ─────────────────────────────────────────────────────────────────────────
	// Reads
	// ─────────────────────────────────────────────────────────────────────────

	// LoadProfiles returns one profile per student id, in input order.
	// Students without a stored profile yield EmptyProfile.
	LoadProfiles(ctx context.Context, studentIDs []string) ([]Profile, error)

	// LoadAll returns every stored profile.
	LoadAll(ctx context.Context) ([]Profile, error)

	// ─────────────────────────────────────────────────────────────────────────
	// Atomic writes
	// ─────────────────────────────────────────────────────────────────────────

	// SaveScores upserts score vectors as one batch. Profiles are created
	// lazily. Existing levels are kept, except that an all-zero vector
	// resets the level to LevelNone.
	SaveScores(ctx context.Context, updates []ScoreUpdate) error

	// SaveAnswers replaces the answers of a student and upserts the
	// aggregated scores in the same atomic scope.
	SaveAnswers(ctx context.Context, studentID string, answers []Answer, scores Scores) error

	// SaveLevels applies all level updates as one batch under the global
	// write lock. LevelNone clears a level. An unknown profile id rejects
	// the whole batch with ErrNotFound.
	SaveLevels(ctx context.Context, updates []LevelUpdate) error
}
