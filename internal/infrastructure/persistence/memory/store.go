// Package memory implements the Profile Store in process memory. It backs
// the test suites and the "memory" database driver.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/arcs-classroom/motivation-hub/internal/domain/grouping"
	"github.com/arcs-classroom/motivation-hub/internal/domain/motivation"
	"github.com/arcs-classroom/motivation-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// STORE
// ══════════════════════════════════════════════════════════════════════════════

// Store keeps students, profiles and groups behind one RWMutex. Every write
// validates its whole batch before mutating, so failed writes leave no trace.
type Store struct {
	mu sync.RWMutex

	students    map[string]motivation.Student
	usernames   map[string]string // username -> student id
	materials   map[string]string // id -> title
	enrollments map[string]map[string]struct{}

	profiles  map[string]*motivation.Profile // student id -> profile
	profileID map[string]string              // profile id -> student id
	answers   map[string][]motivation.Answer

	groups map[string][]storedGroup

	runs    *Locker // whole formation runs
	writing *Locker // ReplaceGroups only

	now func() time.Time
}

type storedGroup struct {
	group   grouping.Group
	members []string
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		students:    make(map[string]motivation.Student),
		usernames:   make(map[string]string),
		materials:   make(map[string]string),
		enrollments: make(map[string]map[string]struct{}),
		profiles:    make(map[string]*motivation.Profile),
		profileID:   make(map[string]string),
		answers:     make(map[string][]motivation.Answer),
		groups:      make(map[string][]storedGroup),
		runs:        NewLocker(),
		writing:     NewLocker(),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Roster
// ─────────────────────────────────────────────────────────────────────────────

// AddStudent implements grouping.Roster.
func (s *Store) AddStudent(ctx context.Context, st motivation.Student) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if st.ID == "" || st.Username == "" {
		return shared.Errorf("store", "AddStudent", shared.ErrValidation, "student id and username are required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if owner, ok := s.usernames[st.Username]; ok && owner != st.ID {
		return shared.Errorf("store", "AddStudent", shared.ErrAlreadyExists, "username %q is taken", st.Username)
	}
	if prev, ok := s.students[st.ID]; ok {
		delete(s.usernames, prev.Username)
	}
	s.students[st.ID] = st
	s.usernames[st.Username] = st.ID
	return nil
}

// AddMaterial implements grouping.Roster.
func (s *Store) AddMaterial(ctx context.Context, materialID, title string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if materialID == "" {
		return shared.Errorf("store", "AddMaterial", shared.ErrValidation, "material id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.materials[materialID] = title
	if _, ok := s.enrollments[materialID]; !ok {
		s.enrollments[materialID] = make(map[string]struct{})
	}
	return nil
}

// Enroll implements grouping.Roster.
func (s *Store) Enroll(ctx context.Context, materialID string, studentIDs []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	set, ok := s.enrollments[materialID]
	if !ok {
		return shared.Errorf("store", "Enroll", shared.ErrNotFound, "material %s not found", materialID)
	}
	for _, id := range studentIDs {
		if _, ok := s.students[id]; !ok {
			return shared.Errorf("store", "Enroll", shared.ErrNotFound, "student %s not found", id)
		}
	}
	for _, id := range studentIDs {
		set[id] = struct{}{}
	}
	return nil
}

// ResolveUsernames implements motivation.StudentDirectory.
func (s *Store) ResolveUsernames(ctx context.Context, usernames []string) (map[string]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]string, len(usernames))
	for _, u := range usernames {
		if id, ok := s.usernames[u]; ok {
			out[u] = id
		}
	}
	return out, nil
}

// CohortStudentIDs implements grouping.CohortRepository.
func (s *Store) CohortStudentIDs(ctx context.Context, materialID string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	set, ok := s.enrollments[materialID]
	if !ok {
		return nil, shared.Errorf("store", "CohortStudentIDs", shared.ErrNotFound, "material %s not found", materialID)
	}
	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Profiles
// ─────────────────────────────────────────────────────────────────────────────

// LoadProfiles implements motivation.ProfileRepository.
func (s *Store) LoadProfiles(ctx context.Context, studentIDs []string) ([]motivation.Profile, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]motivation.Profile, len(studentIDs))
	for i, id := range studentIDs {
		if p, ok := s.profiles[id]; ok {
			out[i] = copyProfile(p)
		} else {
			out[i] = motivation.EmptyProfile(id)
		}
	}
	return out, nil
}

// LoadAll implements motivation.ProfileRepository.
func (s *Store) LoadAll(ctx context.Context) ([]motivation.Profile, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]motivation.Profile, 0, len(s.profiles))
	for _, p := range s.profiles {
		out = append(out, copyProfile(p))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// SaveScores implements motivation.ProfileRepository.
func (s *Store) SaveScores(ctx context.Context, updates []motivation.ScoreUpdate) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, u := range updates {
		if _, ok := s.students[u.StudentID]; !ok {
			return shared.Errorf("store", "SaveScores", shared.ErrNotFound, "student %s not found", u.StudentID)
		}
	}
	now := s.now()
	for _, u := range updates {
		s.upsertScores(u.StudentID, u.Scores, now)
	}
	return nil
}

// SaveAnswers implements motivation.ProfileRepository.
func (s *Store) SaveAnswers(ctx context.Context, studentID string, answers []motivation.Answer, scores motivation.Scores) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.students[studentID]; !ok {
		return shared.Errorf("store", "SaveAnswers", shared.ErrNotFound, "student %s not found", studentID)
	}
	s.answers[studentID] = append([]motivation.Answer(nil), answers...)
	s.upsertScores(studentID, scores, s.now())
	return nil
}

// Answers returns the stored answers of a student.
func (s *Store) Answers(studentID string) []motivation.Answer {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]motivation.Answer(nil), s.answers[studentID]...)
}

func (s *Store) upsertScores(studentID string, scores motivation.Scores, now time.Time) {
	p, ok := s.profiles[studentID]
	if !ok {
		p = &motivation.Profile{ID: uuid.NewString(), StudentID: studentID}
		s.profiles[studentID] = p
		s.profileID[p.ID] = studentID
	}
	sc := scores
	p.Scores = &sc
	if sc.IsZero() {
		p.Level = motivation.LevelNone
	}
	p.UpdatedAt = now
}

// SaveLevels implements motivation.ProfileRepository. The store mutex is
// the global write lock.
func (s *Store) SaveLevels(ctx context.Context, updates []motivation.LevelUpdate) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, u := range updates {
		sid, ok := s.profileID[u.ProfileID]
		if !ok {
			return shared.Errorf("store", "SaveLevels", shared.ErrNotFound, "profile %s not found", u.ProfileID)
		}
		if !u.Level.IsStorable() {
			return shared.Errorf("store", "SaveLevels", shared.ErrInternal, "level %q cannot be assigned", u.Level)
		}
		if !s.profiles[sid].HasScores() {
			return shared.Errorf("store", "SaveLevels", shared.ErrInternal, "profile %s has no scores", u.ProfileID)
		}
	}
	now := s.now()
	for _, u := range updates {
		p := s.profiles[s.profileID[u.ProfileID]]
		p.Level = u.Level
		p.UpdatedAt = now
	}
	return nil
}

func copyProfile(p *motivation.Profile) motivation.Profile {
	out := *p
	if p.Scores != nil {
		sc := *p.Scores
		out.Scores = &sc
	}
	return out
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
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.materials[materialID]; !ok {
		return nil, shared.Errorf("store", "ListGroups", shared.ErrNotFound, "material %s not found", materialID)
	}

	stored := s.groups[materialID]
	out := make([]grouping.Group, len(stored))
	for i, sg := range stored {
		g := sg.group
		g.Members = make([]grouping.Member, len(sg.members))
		for j, sid := range sg.members {
			level := motivation.LevelNone
			if p, ok := s.profiles[sid]; ok {
				level = p.Level
			}
			g.Members[j] = grouping.Member{StudentID: sid, Level: level.Bucket()}
		}
		out[i] = g
	}
	return out, nil
}

// HasGroups implements grouping.GroupRepository.
func (s *Store) HasGroups(ctx context.Context, materialID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.groups[materialID]) > 0, nil
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

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.materials[materialID]; !ok {
		return shared.Errorf("store", op, shared.ErrNotFound, "material %s not found", materialID)
	}
	if len(s.groups[materialID]) > 0 && !overwrite {
		return shared.Errorf("store", op, shared.ErrAlreadyExists, "material %s already has groups", materialID)
	}
	for _, g := range groups {
		for _, m := range g.Members {
			if _, ok := s.students[m.StudentID]; !ok {
				return shared.Errorf("store", op, shared.ErrNotFound, "student %s not found", m.StudentID)
			}
		}
	}
	// Last point of no return.
	if err := ctx.Err(); err != nil {
		return err
	}

	stored := make([]storedGroup, len(groups))
	for i, g := range groups {
		stored[i] = storedGroup{group: g, members: g.StudentIDs()}
		stored[i].group.Members = nil
	}
	sort.SliceStable(stored, func(i, j int) bool { return stored[i].group.Position < stored[j].group.Position })
	s.groups[materialID] = stored
	return nil
}
