// Package query contains read operations following CQRS pattern.
// Queries never modify state - they only read and return data.
// Each query is a self-contained use case with its own request/response types.
package query

import (
	"context"
	"time"

	"github.com/arcs-classroom/motivation-hub/config"
	"github.com/arcs-classroom/motivation-hub/internal/application/validation"
	"github.com/arcs-classroom/motivation-hub/internal/domain/grouping"
	"github.com/arcs-classroom/motivation-hub/internal/domain/motivation"
	"github.com/arcs-classroom/motivation-hub/pkg/logger"
	"github.com/arcs-classroom/motivation-hub/pkg/timeutil"
)

// Features reports the state of runtime feature flags.
type Features interface {
	Enabled(name, materialID string) bool
}

// AnalysisCache stores analyses per (material, k). A failed read is a miss.
type AnalysisCache interface {
	Load(ctx context.Context, materialID string, k int, dest any) bool
	Store(ctx context.Context, materialID string, k int, v any)
}

// ══════════════════════════════════════════════════════════════════════════════
// ANALYZE CLASS QUERY
// Validates a material's cohort and recommends a formation priority.
// ══════════════════════════════════════════════════════════════════════════════

// AnalyzeClassQuery contains the query parameters.
type AnalyzeClassQuery struct {
	MaterialID string `json:"material_id" validate:"notblank"`

	// K is the planned group count; 0 selects ⌈N/5⌉. The recommendation
	// uses the k a heterogeneous run would apply.
	K int `json:"k" validate:"min=0,max=1000"`

	// MaxUnanalyzed as in FormGroupsCommand. Custom limits bypass the cache.
	MaxUnanalyzed *int `json:"max_unanalyzed,omitempty"`
}

// RecommendationDTO is the analyzer's verdict without the analysis body.
type RecommendationDTO struct {
	Priority  grouping.Priority `json:"priority"`
	Rationale string            `json:"rationale"`
	Weights   grouping.Weights  `json:"weights"`
}

// AnalyzeClassResult contains the analysis of one material.
type AnalyzeClassResult struct {
	MaterialID     string                    `json:"material_id"`
	EffectiveK     int                       `json:"effective_k"`
	ClassAnalysis  grouping.ClassAnalysis    `json:"class_analysis"`
	Recommendation RecommendationDTO         `json:"recommendation"`
	Validation     grouping.ValidationResult `json:"validation"`
	GeneratedAt    time.Time                 `json:"generated_at"`
	Cached         bool                      `json:"cached"`
}

// AnalyzeClassHandler handles analyze class queries.
type AnalyzeClassHandler struct {
	cohorts  grouping.CohortRepository
	profiles motivation.ProfileRepository
	cache    AnalysisCache
	features Features
	log      *logger.Logger
}

// NewAnalyzeClassHandler creates a new handler. cache may be nil.
func NewAnalyzeClassHandler(
	cohorts grouping.CohortRepository,
	profiles motivation.ProfileRepository,
	cache AnalysisCache,
	features Features,
	log *logger.Logger,
) *AnalyzeClassHandler {
	if log == nil {
		log = logger.Nop()
	}
	return &AnalyzeClassHandler{
		cohorts:  cohorts,
		profiles: profiles,
		cache:    cache,
		features: features,
		log:      log.With(logger.Operation("analyze_class")),
	}
}

// Handle executes the query.
func (h *AnalyzeClassHandler) Handle(ctx context.Context, q AnalyzeClassQuery) (*AnalyzeClassResult, error) {
	if err := validation.Struct("grouping", "AnalyzeClass", q); err != nil {
		return nil, err
	}

	useCache := h.cacheEnabled(q)
	if useCache {
		var cached AnalyzeClassResult
		if h.cache.Load(ctx, q.MaterialID, q.K, &cached) {
			cached.Cached = true
			return &cached, nil
		}
	}

	ids, err := h.cohorts.CohortStudentIDs(ctx, q.MaterialID)
	if err != nil {
		return nil, err
	}
	profiles, err := h.profiles.LoadProfiles(ctx, ids)
	if err != nil {
		return nil, err
	}
	members := grouping.MembersFromProfiles(profiles)

	k := q.K
	if k <= 0 {
		k = grouping.MinGroupCount(len(members))
	}
	maxUnanalyzed := grouping.DefaultMaxUnanalyzed
	if q.MaxUnanalyzed != nil {
		maxUnanalyzed = *q.MaxUnanalyzed
	}

	effective := grouping.HeterogeneousK(len(members), k)
	rec := grouping.Analyze(members, effective)
	res := &AnalyzeClassResult{
		MaterialID:    q.MaterialID,
		EffectiveK:    effective,
		ClassAnalysis: rec.Analysis,
		Recommendation: RecommendationDTO{
			Priority:  rec.Priority,
			Rationale: rec.Rationale,
			Weights:   rec.Priority.Weights(),
		},
		Validation:  grouping.Validate(members, k, maxUnanalyzed),
		GeneratedAt: timeutil.Now(),
	}

	if useCache {
		h.cache.Store(ctx, q.MaterialID, q.K, res)
	}

	h.log.Debug("class analyzed",
		logger.MaterialID(q.MaterialID),
		logger.CohortSize(len(members)),
		logger.Priority(string(rec.Priority)),
	)
	return res, nil
}

func (h *AnalyzeClassHandler) cacheEnabled(q AnalyzeClassQuery) bool {
	if h.cache == nil || q.MaxUnanalyzed != nil {
		return false
	}
	if h.features == nil {
		return true
	}
	return h.features.Enabled(config.FeatureAnalysisCache, q.MaterialID)
}
