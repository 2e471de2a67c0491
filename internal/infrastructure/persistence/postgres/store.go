package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/arcs-classroom/motivation-hub/internal/domain/grouping"
	"github.com/arcs-classroom/motivation-hub/internal/domain/motivation"
	"github.com/arcs-classroom/motivation-hub/internal/domain/shared"
)

// Advisory lock namespaces (first key of the two-key form).
const (
	lockRuns   = 7301 // session lock held for a whole formation run
	lockWrites = 7302 // xact lock inside ReplaceGroups
	lockLevels = 7303 // xact lock of clustering batches
)

// ══════════════════════════════════════════════════════════════════════════════
// PROFILE STORE
// ══════════════════════════════════════════════════════════════════════════════

// Store implements the Profile Store for PostgreSQL.
type Store struct {
	conn *Connection
}

// NewStore creates a new Store.
func NewStore(conn *Connection) *Store {
	return &Store{conn: conn}
}

// ─────────────────────────────────────────────────────────────────────────────
// Roster
// ─────────────────────────────────────────────────────────────────────────────

// AddStudent implements grouping.Roster.
func (s *Store) AddStudent(ctx context.Context, st motivation.Student) error {
	if st.ID == "" || st.Username == "" {
		return shared.Errorf("store", "AddStudent", shared.ErrValidation, "student id and username are required")
	}
	_, err := s.conn.Exec(ctx, `
		INSERT INTO students (id, username, display_name) VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET username = EXCLUDED.username, display_name = EXCLUDED.display_name
	`, st.ID, st.Username, st.DisplayName)
	if IsUniqueViolation(err) {
		return shared.Errorf("store", "AddStudent", shared.ErrAlreadyExists, "username %q is taken", st.Username)
	}
	if err != nil {
		return fmt.Errorf("failed to add student: %w", err)
	}
	return nil
}

// AddMaterial implements grouping.Roster.
func (s *Store) AddMaterial(ctx context.Context, materialID, title string) error {
	if materialID == "" {
		return shared.Errorf("store", "AddMaterial", shared.ErrValidation, "material id is required")
	}
	_, err := s.conn.Exec(ctx, `
		INSERT INTO materials (id, title) VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE SET title = EXCLUDED.title
	`, materialID, title)
	if err != nil {
		return fmt.Errorf("failed to add material: %w", err)
	}
	return nil
}

// Enroll implements grouping.Roster.
func (s *Store) Enroll(ctx context.Context, materialID string, studentIDs []string) error {
	return s.conn.WithTx(ctx, func(tx pgx.Tx) error {
		if err := requireMaterial(ctx, tx, "Enroll", materialID); err != nil {
			return err
		}
		for _, id := range studentIDs {
			_, err := tx.Exec(ctx, `
				INSERT INTO enrollments (material_id, student_id) VALUES ($1, $2)
				ON CONFLICT DO NOTHING
			`, materialID, id)
			if IsForeignKeyViolation(err) {
				return shared.Errorf("store", "Enroll", shared.ErrNotFound, "student %s not found", id)
			}
			if err != nil {
				return fmt.Errorf("failed to enroll student: %w", err)
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

	rows, err := s.conn.Query(ctx, `SELECT username, id FROM students WHERE username = ANY($1)`, usernames)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve usernames: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var username, id string
		if err := rows.Scan(&username, &id); err != nil {
			return nil, fmt.Errorf("failed to scan student: %w", err)
		}
		out[username] = id
	}
	return out, rows.Err()
}

// CohortStudentIDs implements grouping.CohortRepository.
func (s *Store) CohortStudentIDs(ctx context.Context, materialID string) ([]string, error) {
	if err := requireMaterial(ctx, s.conn, "CohortStudentIDs", materialID); err != nil {
		return nil, err
	}

	rows, err := s.conn.Query(ctx,
		`SELECT student_id FROM enrollments WHERE material_id = $1 ORDER BY student_id`, materialID)
	if err != nil {
		return nil, fmt.Errorf("failed to load cohort: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("failed to scan cohort: %w", err)
	}
	if ids == nil {
		ids = []string{}
	}
	return ids, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Profiles
// ─────────────────────────────────────────────────────────────────────────────

const profileColumns = `id, student_id, attention, relevance, confidence, satisfaction, motivation_level, updated_at`

// LoadProfiles implements motivation.ProfileRepository.
func (s *Store) LoadProfiles(ctx context.Context, studentIDs []string) ([]motivation.Profile, error) {
	found := make(map[string]motivation.Profile, len(studentIDs))
	if len(studentIDs) > 0 {
		rows, err := s.conn.Query(ctx,
			`SELECT `+profileColumns+` FROM motivation_profiles WHERE student_id = ANY($1)`, studentIDs)
		if err != nil {
			return nil, fmt.Errorf("failed to load profiles: %w", err)
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
	rows, err := s.conn.Query(ctx, `SELECT `+profileColumns+` FROM motivation_profiles ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to load profiles: %w", err)
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
	return s.conn.WithTx(ctx, func(tx pgx.Tx) error {
		for _, u := range updates {
			if err := upsertScores(ctx, tx, u.StudentID, u.Scores); err != nil {
				return err
			}
		}
		return nil
	})
}

// SaveAnswers implements motivation.ProfileRepository.
func (s *Store) SaveAnswers(ctx context.Context, studentID string, answers []motivation.Answer, scores motivation.Scores) error {
	return s.conn.WithTx(ctx, func(tx pgx.Tx) error {
		if err := upsertScores(ctx, tx, studentID, scores); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `DELETE FROM arcs_answers WHERE student_id = $1`, studentID); err != nil {
			return fmt.Errorf("failed to clear answers: %w", err)
		}

		rows := make([][]any, len(answers))
		for i, a := range answers {
			rows[i] = []any{studentID, string(a.Dimension), int16(a.QuestionIndex), int16(a.Value)}
		}
		_, err := tx.CopyFrom(ctx,
			pgx.Identifier{"arcs_answers"},
			[]string{"student_id", "dimension", "question_index", "value"},
			pgx.CopyFromRows(rows))
		if err != nil {
			return fmt.Errorf("failed to insert answers: %w", err)
		}
		return nil
	})
}

func upsertScores(ctx context.Context, tx pgx.Tx, studentID string, sc motivation.Scores) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO motivation_profiles (id, student_id, attention, relevance, confidence, satisfaction, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		ON CONFLICT (student_id) DO UPDATE SET
			attention = EXCLUDED.attention,
			relevance = EXCLUDED.relevance,
			confidence = EXCLUDED.confidence,
			satisfaction = EXCLUDED.satisfaction,
			motivation_level = CASE
				WHEN EXCLUDED.attention = 0 AND EXCLUDED.relevance = 0
					AND EXCLUDED.confidence = 0 AND EXCLUDED.satisfaction = 0 THEN ''
				ELSE motivation_profiles.motivation_level
			END,
			updated_at = NOW()
	`, uuid.NewString(), studentID, sc.Attention, sc.Relevance, sc.Confidence, sc.Satisfaction)
	if IsForeignKeyViolation(err) {
		return shared.Errorf("store", "SaveScores", shared.ErrNotFound, "student %s not found", studentID)
	}
	if err != nil {
		return fmt.Errorf("failed to upsert scores: %w", err)
	}
	return nil
}

// SaveLevels implements motivation.ProfileRepository. The batch runs under
// a transaction-scoped global advisory lock.
func (s *Store) SaveLevels(ctx context.Context, updates []motivation.LevelUpdate) error {
	return s.conn.WithTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1, 0)`, lockLevels); err != nil {
			return fmt.Errorf("failed to take level lock: %w", err)
		}
		for _, u := range updates {
			if !u.Level.IsStorable() {
				return shared.Errorf("store", "SaveLevels", shared.ErrInternal, "level %q cannot be assigned", u.Level)
			}
			tag, err := tx.Exec(ctx, `
				UPDATE motivation_profiles SET motivation_level = $1, updated_at = NOW()
				WHERE id = $2 AND attention IS NOT NULL
			`, string(u.Level), u.ProfileID)
			if err != nil {
				return fmt.Errorf("failed to save level: %w", err)
			}
			if tag.RowsAffected() == 0 {
				return shared.Errorf("store", "SaveLevels", shared.ErrNotFound, "profile %s not found", u.ProfileID)
			}
		}
		return nil
	})
}

func scanProfile(row pgx.Row) (motivation.Profile, error) {
	var (
		p          motivation.Profile
		a, r, c, s *float64
		level      string
	)
	if err := row.Scan(&p.ID, &p.StudentID, &a, &r, &c, &s, &level, &p.UpdatedAt); err != nil {
		return p, fmt.Errorf("failed to scan profile: %w", err)
	}
	if a != nil && r != nil && c != nil && s != nil {
		p.Scores = &motivation.Scores{Attention: *a, Relevance: *r, Confidence: *c, Satisfaction: *s}
	}
	lvl, err := motivation.ParseLevel(level)
	if err != nil {
		return p, err
	}
	p.Level = lvl
	return p, p.Validate()
}

// ─────────────────────────────────────────────────────────────────────────────
// Groups
// ─────────────────────────────────────────────────────────────────────────────

// Lock implements grouping.MaterialLocker with a session advisory lock held
// on a dedicated pool connection until unlock.
func (s *Store) Lock(ctx context.Context, materialID string) (func(), error) {
	conn, err := s.conn.Pool().Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire connection: %w", err)
	}

	var ok bool
	if err := conn.QueryRow(ctx, `SELECT pg_try_advisory_lock($1, hashtext($2))`, lockRuns, materialID).Scan(&ok); err != nil {
		conn.Release()
		return nil, fmt.Errorf("failed to take material lock: %w", err)
	}
	if !ok {
		conn.Release()
		return nil, shared.Errorf("store", "Lock", shared.ErrConflict,
			"material %s is being grouped by another run", materialID)
	}

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if _, err := conn.Exec(ctx, `SELECT pg_advisory_unlock($1, hashtext($2))`, lockRuns, materialID); err != nil {
			// A connection that may still hold the lock must not return to the pool.
			conn.Conn().Close(ctx)
		}
		conn.Release()
	}, nil
}

// ListGroups implements grouping.GroupRepository.
func (s *Store) ListGroups(ctx context.Context, materialID string) ([]grouping.Group, error) {
	if err := requireMaterial(ctx, s.conn, "ListGroups", materialID); err != nil {
		return nil, err
	}

	rows, err := s.conn.Query(ctx, `
		SELECT g.id, g.name, g.code, g.position, g.created_at, m.student_id, COALESCE(p.motivation_level, '')
		FROM learning_groups g
		JOIN group_members m ON m.group_id = g.id
		LEFT JOIN motivation_profiles p ON p.student_id = m.student_id
		WHERE g.material_id = $1
		ORDER BY g.position, m.student_id
	`, materialID)
	if err != nil {
		return nil, fmt.Errorf("failed to list groups: %w", err)
	}
	defer rows.Close()

	var groups []grouping.Group
	for rows.Next() {
		var (
			g         grouping.Group
			studentID string
			level     string
		)
		if err := rows.Scan(&g.ID, &g.Name, &g.Code, &g.Position, &g.CreatedAt, &studentID, &level); err != nil {
			return nil, fmt.Errorf("failed to scan group: %w", err)
		}
		if n := len(groups); n == 0 || groups[n-1].ID != g.ID {
			g.MaterialID = materialID
			groups = append(groups, g)
		}
		last := &groups[len(groups)-1]
		last.Members = append(last.Members, grouping.Member{StudentID: studentID, Level: motivation.Level(level).Bucket()})
	}
	return groups, rows.Err()
}

// HasGroups implements grouping.GroupRepository.
func (s *Store) HasGroups(ctx context.Context, materialID string) (bool, error) {
	var has bool
	err := s.conn.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM learning_groups WHERE material_id = $1)`, materialID).Scan(&has)
	if err != nil {
		return false, fmt.Errorf("failed to check groups: %w", err)
	}
	return has, nil
}

// ReplaceGroups implements grouping.GroupRepository.
func (s *Store) ReplaceGroups(ctx context.Context, materialID string, groups []grouping.Group, overwrite bool) error {
	const op = "ReplaceGroups"

	if err := grouping.CheckGroups(materialID, groups); err != nil {
		return err
	}

	return s.conn.WithTx(ctx, func(tx pgx.Tx) error {
		var locked bool
		if err := tx.QueryRow(ctx, `SELECT pg_try_advisory_xact_lock($1, hashtext($2))`, lockWrites, materialID).Scan(&locked); err != nil {
			return fmt.Errorf("failed to take write lock: %w", err)
		}
		if !locked {
			return shared.Errorf("store", op, shared.ErrConflict, "material %s is being written by another run", materialID)
		}

		if err := requireMaterial(ctx, tx, op, materialID); err != nil {
			return err
		}

		var has bool
		if err := tx.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM learning_groups WHERE material_id = $1)`, materialID).Scan(&has); err != nil {
			return fmt.Errorf("failed to check groups: %w", err)
		}
		if has && !overwrite {
			return shared.Errorf("store", op, shared.ErrAlreadyExists, "material %s already has groups", materialID)
		}

		if _, err := tx.Exec(ctx, `DELETE FROM learning_groups WHERE material_id = $1`, materialID); err != nil {
			return fmt.Errorf("failed to delete groups: %w", err)
		}

		for _, g := range groups {
			if _, err := tx.Exec(ctx, `
				INSERT INTO learning_groups (id, material_id, name, code, position, created_at)
				VALUES ($1, $2, $3, $4, $5, $6)
			`, g.ID, materialID, g.Name, g.Code, g.Position, g.CreatedAt); err != nil {
				return fmt.Errorf("failed to insert group: %w", err)
			}
		}

		batch := &pgx.Batch{}
		for _, g := range groups {
			for _, m := range g.Members {
				batch.Queue(`INSERT INTO group_members (group_id, student_id) VALUES ($1, $2)`, g.ID, m.StudentID)
			}
		}
		br := tx.SendBatch(ctx, batch)
		for i := 0; i < batch.Len(); i++ {
			if _, err := br.Exec(); err != nil {
				br.Close()
				if IsForeignKeyViolation(err) {
					return shared.WrapError("store", op, shared.ErrNotFound, "group member is not a known student", err)
				}
				return fmt.Errorf("failed to insert member: %w", err)
			}
		}
		return br.Close()
	})
}

// requireMaterial returns ErrNotFound when the material row is absent.
func requireMaterial(ctx context.Context, q Querier, op, materialID string) error {
	var ok bool
	if err := q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM materials WHERE id = $1)`, materialID).Scan(&ok); err != nil {
		return fmt.Errorf("failed to look up material: %w", err)
	}
	if !ok {
		return shared.Errorf("store", op, shared.ErrNotFound, "material %s not found", materialID)
	}
	return nil
}
