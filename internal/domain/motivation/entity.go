package motivation

import (
	"fmt"
	"time"

	"github.com/arcs-classroom/motivation-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// VALUE OBJECTS
// ══════════════════════════════════════════════════════════════════════════════

// Dimension is one of the four ARCS dimensions.
type Dimension string

const (
	DimensionAttention    Dimension = "A"
	DimensionRelevance    Dimension = "R"
	DimensionConfidence   Dimension = "C"
	DimensionSatisfaction Dimension = "S"
)

// Dimensions lists the ARCS dimensions in canonical order.
var Dimensions = []Dimension{
	DimensionAttention,
	DimensionRelevance,
	DimensionConfidence,
	DimensionSatisfaction,
}

// IsValid reports whether d is a known dimension.
func (d Dimension) IsValid() bool {
	switch d {
	case DimensionAttention, DimensionRelevance, DimensionConfidence, DimensionSatisfaction:
		return true
	default:
		return false
	}
}

// Name returns the long name of the dimension.
func (d Dimension) Name() string {
	switch d {
	case DimensionAttention:
		return "attention"
	case DimensionRelevance:
		return "relevance"
	case DimensionConfidence:
		return "confidence"
	case DimensionSatisfaction:
		return "satisfaction"
	default:
		return "unknown"
	}
}

// Level is the categorical motivation level assigned by clustering.
// The zero value is "not yet assigned".
type Level string

const (
	// LevelNone - no level assigned yet.
	LevelNone Level = ""
	// LevelLow - lowest centroid mean.
	LevelLow Level = "Low"
	// LevelMedium - middle centroid mean.
	LevelMedium Level = "Medium"
	// LevelHigh - highest centroid mean.
	LevelHigh Level = "High"
	// LevelUnanalyzed is the bucket label used for profiles without a level.
	// It is never stored on a profile.
	LevelUnanalyzed Level = "Unanalyzed"
)

// Levels lists the assignable levels in ascending order.
var Levels = []Level{LevelLow, LevelMedium, LevelHigh}

// Buckets lists every distribution bucket, assignable levels first.
var Buckets = []Level{LevelLow, LevelMedium, LevelHigh, LevelUnanalyzed}

// IsAssigned reports whether l is one of Low, Medium, High.
func (l Level) IsAssigned() bool {
	return l == LevelLow || l == LevelMedium || l == LevelHigh
}

// IsStorable reports whether l may be persisted on a profile.
func (l Level) IsStorable() bool {
	return l == LevelNone || l.IsAssigned()
}

// Bucket maps an unassigned level to LevelUnanalyzed.
func (l Level) Bucket() Level {
	if l.IsAssigned() {
		return l
	}
	return LevelUnanalyzed
}

// String returns the level name.
func (l Level) String() string {
	if l == LevelNone {
		return "none"
	}
	return string(l)
}

// ParseLevel parses a stored level. Empty input yields LevelNone.
func ParseLevel(s string) (Level, error) {
	l := Level(s)
	if !l.IsStorable() {
		return LevelNone, shared.Errorf("motivation", "ParseLevel", shared.ErrInternal, "unknown motivation level %q", s)
	}
	return l, nil
}

// Scores is the four-dimensional ARCS score vector of a student.
type Scores struct {
	Attention    float64 `json:"attention"`
	Relevance    float64 `json:"relevance"`
	Confidence   float64 `json:"confidence"`
	Satisfaction float64 `json:"satisfaction"`
}

// Vector returns the scores in canonical dimension order.
func (s Scores) Vector() []float64 {
	return []float64{s.Attention, s.Relevance, s.Confidence, s.Satisfaction}
}

// Get returns the score of one dimension.
func (s Scores) Get(d Dimension) float64 {
	switch d {
	case DimensionAttention:
		return s.Attention
	case DimensionRelevance:
		return s.Relevance
	case DimensionConfidence:
		return s.Confidence
	case DimensionSatisfaction:
		return s.Satisfaction
	default:
		return 0
	}
}

// IsZero reports whether all four scores are 0.0, which marks a profile
// that was created but never analyzed.
func (s Scores) IsZero() bool {
	return s.Attention == 0 && s.Relevance == 0 && s.Confidence == 0 && s.Satisfaction == 0
}

// Mean returns the arithmetic mean of the four scores.
func (s Scores) Mean() float64 {
	return (s.Attention + s.Relevance + s.Confidence + s.Satisfaction) / 4
}

// ScoresFromVector builds Scores from a canonical-order vector.
func ScoresFromVector(v []float64) (Scores, error) {
	if len(v) != len(Dimensions) {
		return Scores{}, fmt.Errorf("motivation: score vector must have %d values, got %d", len(Dimensions), len(v))
	}
	return Scores{Attention: v[0], Relevance: v[1], Confidence: v[2], Satisfaction: v[3]}, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// ENTITIES
// ══════════════════════════════════════════════════════════════════════════════

// Student is the opaque identity consumed by the engines.
type Student struct {
	ID          string
	Username    string
	DisplayName string
}

// Profile is the motivation profile of one student.
type Profile struct {
	// ID - profile id; empty for a profile that does not exist yet.
	ID string

	// StudentID - owner of the profile.
	StudentID string

	// Scores - nil until the first questionnaire or CSV ingest.
	Scores *Scores

	// Level - LevelNone until a clustering run included this profile.
	Level Level

	// UpdatedAt - last write.
	UpdatedAt time.Time
}

// EmptyProfile returns the ⊥-valued profile of a student without data.
func EmptyProfile(studentID string) Profile {
	return Profile{StudentID: studentID}
}

// HasScores reports whether the score vector is present.
func (p Profile) HasScores() bool {
	return p.Scores != nil
}

// Clusterable reports whether the profile may enter a clustering feature
// matrix: scores present and not all zero.
func (p Profile) Clusterable() bool {
	return p.Scores != nil && !p.Scores.IsZero()
}

// Bucket returns the distribution bucket of the profile.
func (p Profile) Bucket() Level {
	return p.Level.Bucket()
}

// Validate checks the profile invariants: a profile without scores has no
// level, and stored levels are known.
func (p Profile) Validate() error {
	if !p.Level.IsStorable() {
		return shared.Errorf("motivation", "ValidateProfile", shared.ErrInternal, "profile %s has unknown level %q", p.ID, p.Level)
	}
	if p.Scores == nil && p.Level != LevelNone {
		return shared.Errorf("motivation", "ValidateProfile", shared.ErrInternal, "profile %s has a level without scores", p.ID)
	}
	return nil
}

// LevelUpdate assigns a level to a stored profile.
type LevelUpdate struct {
	ProfileID string
	Level     Level
}

// ScoreUpdate upserts the score vector of a student.
type ScoreUpdate struct {
	StudentID string
	Scores    Scores
}
