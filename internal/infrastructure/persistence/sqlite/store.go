// Package sqlite implements the Profile Store on an embedded SQLite file.
// It serves arcsctl and single-node deployments; formation runs are
// serialized with in-process locks.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"

	// Pure Go SQLite driver (no CGO).
	_ "modernc.org/sqlite"

	"github.com/arcs-classroom/motivation-hub/internal/domain/grouping"
	"github.com/arcs-classroom/motivation-hub/internal/domain/motivation"
	"github.com/arcs-classroom/motivation-hub/internal/domain/shared"
	"github.com/arcs-classroom/motivation-hub/internal/infrastructure/persistence/memory"
	"github.com/arcs-classroom/motivation-hub/pkg/timeutil"
)

// Store is a Profile Store backed by SQLite.
type Store struct {
	db *sql.DB

	// levels is the global write lock of clustering batches.
	levels sync.Mutex

	runs    *memory.Locker
	writing *memory.Locker
}

// Open opens (or creates) the database at path and applies the schema.
func Open(path string) (*Store, error) {
	if path != ":memory:" && !strings.HasPrefix(path, "file:") {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("sqlite: create data dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open database: %w", err)
	}
	// One connection: SQLite has a single writer and ":memory:" databases
	// are per connection.
	db.SetMaxOpenConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: apply pragmas: %w", err)
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}

	return &Store{
		db:      db,
		runs:    memory.NewLocker(),
		writing: memory.NewLocker(),
	}, nil
}

// OpenInMemory opens a private in-memory database.
func OpenInMemory() (*Store, error) {
	return Open(":memory:")
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database handle.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
		"PRAGMA synchronous = NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return fmt.Errorf("%s: %w", p, err)
		}
	}
	return nil
}

func migrate(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("sqlite: read schema version: %w", err)
	}
	if version >= schemaVersion {
		return nil
	}
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("sqlite: apply schema: %w", err)
	}
	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", schemaVersion)); err != nil {
		return fmt.Errorf("sqlite: record schema version: %w", err)
	}
	return nil
}

// withTx runs fn in a transaction, committing on nil.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: commit: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// ─────────────────────────────────────────────────────────────────────────────
// Roster
// ─────────────────────────────────────────────────────────────────────────────

// AddStudent implements grouping.Roster.
func (s *Store) AddStudent(ctx context.Context, st motivation.Student) error {
	if st.ID == "" || st.Username == "" {
		return shared.Errorf("store", "AddStudent", shared.ErrValidation, "student id and username are required")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO students (id, username, display_name) VALUES (?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET username = excluded.username, display_name = excluded.display_name
	`, st.ID, st.Username, st.DisplayName)
	if isUniqueViolation(err) {
		return shared.Errorf("store", "AddStudent", shared.ErrAlreadyExists, "username %q is taken", st.Username)
	}
	if err != nil {
		return fmt.Errorf("sqlite: add student: %w", err)
	}
	return nil
}

// AddMaterial implements grouping.Roster.
func (s *Store) AddMaterial(ctx context.Context, materialID, title string) error {
	if materialID == "" {
		return shared.Errorf("store", "AddMaterial", shared.ErrValidation, "material id is required")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO materials (id, title) VALUES (?, ?)
		ON CONFLICT (id) DO UPDATE SET title = excluded.title
	`, materialID, title)
	if err != nil {
		return fmt.Errorf("sqlite: add material: %w", err)
	}
	return nil
}

// Enroll implements grouping.Roster.
func (s *Store) Enroll(ctx context.Context, materialID string, studentIDs []string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if ok, err := exists(ctx, tx, "SELECT 1 FROM materials WHERE id = ?", materialID); err != nil {
			return err
		} else if !ok {
			return shared.Errorf("store", "Enroll", shared.ErrNotFound, "material %s not found", materialID)
		}
		for _, id := range studentIDs {
			if ok, err := exists(ctx, tx, "SELECT 1 FROM students WHERE id = ?", id); err != nil {
				return err
			} else if !ok {
				return shared.Errorf("store", "Enroll", shared.ErrNotFound, "student %s not found", id)
			}
			if _, err := tx.ExecContext(ctx,
				"INSERT OR IGNORE INTO enrollments (material_id, student_id) VALUES (?, ?)", materialID, id); err != nil {
				return fmt.Errorf("sqlite: enroll: %w", err)
			}
		}
		return nil
	})
}

// ResolveUsernames implements motivation.StudentDirectory.
func (s *Store) ResolveUsernames(ctx context.Context, usernames []string) (map[string]string, error) {
	out := make(map[string]string, len(usernames))
	if len(usernames) == 0 {
		return out, nil
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT username, id FROM students WHERE username IN ("+placeholders(len(usernames))+")",
		anySlice(usernames)...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: resolve usernames: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var username, id string
		if err := rows.Scan(&username, &id); err != nil {
			return nil, fmt.Errorf("sqlite: scan student: %w", err)
		}
		out[username] = id
	}
	return out, rows.Err()
}

// CohortStudentIDs implements grouping.CohortRepository.
func (s *Store) CohortStudentIDs(ctx context.Context, materialID string) ([]string, error) {
	ok, err := exists(ctx, s.db, "SELECT 1 FROM materials WHERE id = ?", materialID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, shared.Errorf("store", "CohortStudentIDs", shared.ErrNotFound, "material %s not found", materialID)
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT student_id FROM enrollments WHERE material_id = ? ORDER BY student_id", materialID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: load cohort: %w", err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("sqlite: scan cohort: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ─────────────────────────────────────────────────────────────────────────────
// Profiles
// ─────────────────────────────────────────────────────────────────────────────

const profileColumns = `id, student_id, attention, relevance, confidence, satisfaction, motivation_level, updated_at`

// LoadProfiles implements motivation.ProfileRepository.
func (s *Store) LoadProfiles(ctx context.Context, studentIDs []string) ([]motivation.Profile, error) {
	found := make(map[string]motivation.Profile, len(studentIDs))
	if len(studentIDs) > 0 {
		rows, err := s.db.QueryContext(ctx,
			"SELECT "+profileColumns+" FROM motivation_profiles WHERE student_id IN ("+placeholders(len(studentIDs))+")",
			anySlice(studentIDs)...)
		if err != nil {
			return nil, fmt.Errorf("sqlite: load profiles: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			p, err := scanProfile(rows)
			if err != nil {
				return nil, err
			}
			found[p.StudentID] = p
		}
		if err := rows.Err(); err != nil {
			return nil, err
		}
	}

	out := make([]motivation.Profile, len(studentIDs))
	for i, id := range studentIDs {
		if p, ok := found[id]; ok {
			out[i] = p
		} else {
			out[i] = motivation.EmptyProfile(id)
		}
	}
	return out, nil
}

// LoadAll implements motivation.ProfileRepository.
func (s *Store) LoadAll(ctx context.Context) ([]motivation.Profile, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+profileColumns+" FROM motivation_profiles ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("sqlite: load all profiles: %w", err)
	}
	defer rows.Close()

	var out []motivation.Profile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// SaveScores implements motivation.ProfileRepository.
func (s *Store) SaveScores(ctx context.Context, updates []motivation.ScoreUpdate) error {
	now := timeutil.FormatStorage(timeutil.Now())
	return s.withTx(ctx, func(tx *sql.Tx) error {
		for _, u := range updates {
			if err := upsertScores(ctx, tx, u.StudentID, u.Scores, now); err != nil {
				return err
			}
		}
		return nil
	})
}

// SaveAnswers implements motivation.ProfileRepository.
func (s *Store) SaveAnswers(ctx context.Context, studentID string, answers []motivation.Answer, scores motivation.Scores) error {
	now := timeutil.FormatStorage(timeutil.Now())
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := upsertScores(ctx, tx, studentID, scores, now); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM arcs_answers WHERE student_id = ?", studentID); err != nil {
			return fmt.Errorf("sqlite: clear answers: %w", err)
		}
		for _, a := range answers {
			if _, err := tx.ExecContext(ctx,
				"INSERT INTO arcs_answers (student_id, dimension, question_index, value) VALUES (?, ?, ?, ?)",
				studentID, string(a.Dimension), a.QuestionIndex, a.Value); err != nil {
				return fmt.Errorf("sqlite: insert answer: %w", err)
			}
		}
		return nil
	})
}

func upsertScores(ctx context.Context, tx *sql.Tx, studentID string, sc motivation.Scores, now string) error {
	ok, err := exists(ctx, tx, "SELECT 1 FROM students WHERE id = ?", studentID)
	if err != nil {
		return err
	}
	if !ok {
		return shared.Errorf("store", "SaveScores", shared.ErrNotFound, "student %s not found", studentID)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO motivation_profiles (id, student_id, attention, relevance, confidence, satisfaction, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (student_id) DO UPDATE SET
			attention = excluded.attention,
			relevance = excluded.relevance,
			confidence = excluded.confidence,
			satisfaction = excluded.satisfaction,
			motivation_level = CASE
				WHEN excluded.attention = 0 AND excluded.relevance = 0
					AND excluded.confidence = 0 AND excluded.satisfaction = 0 THEN ''
				ELSE motivation_profiles.motivation_level
			END,
			updated_at = excluded.updated_at
	`, uuid.NewString(), studentID, sc.Attention, sc.Relevance, sc.Confidence, sc.Satisfaction, now)
	if err != nil {
		return fmt.Errorf("sqlite: upsert scores: %w", err)
	}
	return nil
}

// SaveLevels implements motivation.ProfileRepository.
func (s *Store) SaveLevels(ctx context.Context, updates []motivation.LevelUpdate) error {
	s.levels.Lock()
	defer s.levels.Unlock()

	now := timeutil.FormatStorage(timeutil.Now())
	return s.withTx(ctx, func(tx *sql.Tx) error {
		for _, u := range updates {
			if !u.Level.IsStorable() {
				return shared.Errorf("store", "SaveLevels", shared.ErrInternal, "level %q cannot be assigned", u.Level)
			}
			res, err := tx.ExecContext(ctx, `
				UPDATE motivation_profiles SET motivation_level = ?, updated_at = ?
				WHERE id = ? AND attention IS NOT NULL
			`, string(u.Level), now, u.ProfileID)
			if err != nil {
				return fmt.Errorf("sqlite: save level: %w", err)
			}
			if n, _ := res.RowsAffected(); n == 0 {
				return shared.Errorf("store", "SaveLevels", shared.ErrNotFound, "profile %s not found", u.ProfileID)
			}
		}
		return nil
	})
}

type scanner interface {
	Scan(dest ...any) error
}

func scanProfile(row scanner) (motivation.Profile, error) {
	var (
		p          motivation.Profile
		a, r, c, s sql.NullFloat64
		level      string
		updatedAt  string
	)
	if err := row.Scan(&p.ID, &p.StudentID, &a, &r, &c, &s, &level, &updatedAt); err != nil {
		return p, fmt.Errorf("sqlite: scan profile: %w", err)
	}
	if a.Valid && r.Valid && c.Valid && s.Valid {
		p.Scores = &motivation.Scores{Attention: a.Float64, Relevance: r.Float64, Confidence: c.Float64, Satisfaction: s.Float64}
	}
	lvl, err := motivation.ParseLevel(level)
	if err != nil {
		return p, err
	}
	p.Level = lvl
	if t, err := timeutil.ParseStorage(updatedAt); err == nil {
		p.UpdatedAt = t
	}
	return p, p.Validate()
}

// ─────────────────────────────────────────────────────────────────────────────
// Groups
// ─────────────────────────────────────────────────────────────────────────────

// Lock implements grouping.MaterialLocker.
func (s *Store) Lock(ctx context.Context, materialID string) (func(), error) {
	return s.runs.Lock(ctx, materialID)
}

// ListGroups implements grouping.GroupRepository.
func (s *Store) ListGroups(ctx context.Context, materialID string) ([]grouping.Group, error) {
	ok, err := exists(ctx, s.db, "SELECT 1 FROM materials WHERE id = ?", materialID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, shared.Errorf("store", "ListGroups", shared.ErrNotFound, "material %s not found", materialID)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT g.id, g.name, g.code, g.position, g.created_at, m.student_id, COALESCE(p.motivation_level, '')
		FROM learning_groups g
		JOIN group_members m ON m.group_id = g.id
		LEFT JOIN motivation_profiles p ON p.student_id = m.student_id
		WHERE g.material_id = ?
		ORDER BY g.position, m.student_id
	`, materialID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list groups: %w", err)
	}
	defer rows.Close()

	var groups []grouping.Group
	for rows.Next() {
		var (
			g         grouping.Group
			createdAt string
			studentID string
			level     string
		)
		if err := rows.Scan(&g.ID, &g.Name, &g.Code, &g.Position, &createdAt, &studentID, &level); err != nil {
			return nil, fmt.Errorf("sqlite: scan group: %w", err)
		}
		if n := len(groups); n == 0 || groups[n-1].ID != g.ID {
			g.MaterialID = materialID
			g.CreatedAt, _ = timeutil.ParseStorage(createdAt)
			groups = append(groups, g)
		}
		last := &groups[len(groups)-1]
		last.Members = append(last.Members, grouping.Member{StudentID: studentID, Level: motivation.Level(level).Bucket()})
	}
	return groups, rows.Err()
}

// HasGroups implements grouping.GroupRepository.
func (s *Store) HasGroups(ctx context.Context, materialID string) (bool, error) {
	return exists(ctx, s.db, "SELECT 1 FROM learning_groups WHERE material_id = ? LIMIT 1", materialID)
}

// ReplaceGroups implements grouping.GroupRepository.
func (s *Store) ReplaceGroups(ctx context.Context, materialID string, groups []grouping.Group, overwrite bool) error {
	const op = "ReplaceGroups"

	unlock, err := s.writing.Lock(ctx, materialID)
	if err != nil {
		return err
	}
	defer unlock()

	if err := grouping.CheckGroups(materialID, groups); err != nil {
		return err
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		if ok, err := exists(ctx, tx, "SELECT 1 FROM materials WHERE id = ?", materialID); err != nil {
			return err
		} else if !ok {
			return shared.Errorf("store", op, shared.ErrNotFound, "material %s not found", materialID)
		}
		if ok, err := exists(ctx, tx, "SELECT 1 FROM learning_groups WHERE material_id = ? LIMIT 1", materialID); err != nil {
			return err
		} else if ok && !overwrite {
			return shared.Errorf("store", op, shared.ErrAlreadyExists, "material %s already has groups", materialID)
		}

		if _, err := tx.ExecContext(ctx, "DELETE FROM learning_groups WHERE material_id = ?", materialID); err != nil {
			return fmt.Errorf("sqlite: delete groups: %w", err)
		}
		for _, g := range groups {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO learning_groups (id, material_id, name, code, position, created_at)
				VALUES (?, ?, ?, ?, ?, ?)
			`, g.ID, materialID, g.Name, g.Code, g.Position, timeutil.FormatStorage(g.CreatedAt)); err != nil {
				return fmt.Errorf("sqlite: insert group: %w", err)
			}
			for _, m := range g.Members {
				if ok, err := exists(ctx, tx, "SELECT 1 FROM students WHERE id = ?", m.StudentID); err != nil {
					return err
				} else if !ok {
					return shared.Errorf("store", op, shared.ErrNotFound, "student %s not found", m.StudentID)
				}
				if _, err := tx.ExecContext(ctx,
					"INSERT INTO group_members (group_id, student_id) VALUES (?, ?)", g.ID, m.StudentID); err != nil {
					return fmt.Errorf("sqlite: insert member: %w", err)
				}
			}
		}
		return nil
	})
}

// ─────────────────────────────────────────────────────────────────────────────
// Helpers
// ─────────────────────────────────────────────────────────────────────────────

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func exists(ctx context.Context, q queryer, query string, args ...any) (bool, error) {
	var one int
	err := q.QueryRowContext(ctx, query, args...).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("sqlite: lookup: %w", err)
	}
	return true, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func anySlice(values []string) []any {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}
