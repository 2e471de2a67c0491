package command

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/arcs-classroom/motivation-hub/internal/application/validation"
	"github.com/arcs-classroom/motivation-hub/internal/domain/grouping"
	"github.com/arcs-classroom/motivation-hub/internal/domain/motivation"
	"github.com/arcs-classroom/motivation-hub/internal/domain/shared"
	"github.com/arcs-classroom/motivation-hub/pkg/logger"
	"github.com/arcs-classroom/motivation-hub/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// FORM GROUPS COMMAND
// Partitions the cohort of a material into k learning groups.
// Pipeline: lock → cohort → validate → analyze → partition → quality → write.
// ══════════════════════════════════════════════════════════════════════════════

// FormGroupsCommand contains the parameters of a formation run.
type FormGroupsCommand struct {
	MaterialID string `json:"material_id" validate:"notblank"`

	// K is the requested group count; 0 selects ⌈N/5⌉.
	K int `json:"k" validate:"min=0,max=1000"`

	// Mode is "homogen" or "heterogen"; empty means heterogeneous.
	Mode string `json:"mode" validate:"omitempty,oneof=homogen heterogen"`

	// Priority is the fitness preset; empty means balanced.
	Priority string `json:"priority" validate:"omitempty,oneof=balanced diversity size distribution"`

	// UseAdaptive replaces Priority with the analyzer's recommendation.
	UseAdaptive bool `json:"use_adaptive"`

	// ForceOverwrite replaces existing groups of the material.
	ForceOverwrite bool `json:"force_overwrite"`

	// MaxUnanalyzed caps members without a level. Nil means none allowed;
	// a negative value lifts the cap.
	MaxUnanalyzed *int `json:"max_unanalyzed,omitempty"`

	// AutoAdjustK clamps k to the cohort size instead of failing.
	AutoAdjustK bool `json:"auto_adjust_k"`
}

// FormGroupsResult is the outcome of a formation run.
type FormGroupsResult struct {
	MaterialID     string                    `json:"material_id"`
	Mode           grouping.Mode             `json:"mode"`
	Priority       grouping.Priority         `json:"priority"`
	K              int                       `json:"k"`
	Groups         []grouping.Group          `json:"groups"`
	Quality        grouping.QualityReport    `json:"quality"`
	QualityMessage string                    `json:"quality_message"`
	Warning        string                    `json:"warning,omitempty"`
	Warnings       []string                  `json:"warnings,omitempty"`
	AdaptiveInfo   *grouping.Recommendation  `json:"adaptive_info,omitempty"`
	Validation     grouping.ValidationResult `json:"validation"`
	Generations    int                       `json:"generations,omitempty"`
}

// FormGroupsHandler handles the FormGroupsCommand.
type FormGroupsHandler struct {
	cohorts   grouping.CohortRepository
	profiles  motivation.ProfileRepository
	groups    grouping.GroupRepository
	locker    grouping.MaterialLocker
	publisher shared.EventPublisher
	ga        grouping.GAConfig
	log       *logger.Logger
	now       func() time.Time
}

// NewFormGroupsHandler creates a new FormGroupsHandler.
func NewFormGroupsHandler(
	cohorts grouping.CohortRepository,
	profiles motivation.ProfileRepository,
	groups grouping.GroupRepository,
	locker grouping.MaterialLocker,
	publisher shared.EventPublisher,
	ga grouping.GAConfig,
	log *logger.Logger,
) *FormGroupsHandler {
	if publisher == nil {
		publisher = shared.NoopPublisher{}
	}
	if log == nil {
		log = logger.Nop()
	}
	return &FormGroupsHandler{
		cohorts:   cohorts,
		profiles:  profiles,
		groups:    groups,
		locker:    locker,
		publisher: publisher,
		ga:        ga,
		log:       log.With(logger.Operation("form_groups")),
		now:       timeutil.Now,
	}
}

// Handle executes the formation run. Nothing is written unless every step
// succeeds; the final write replaces the material's groups atomically.
func (h *FormGroupsHandler) Handle(ctx context.Context, cmd FormGroupsCommand) (*FormGroupsResult, error) {
	const op = "FormGroups"
	start := time.Now()

	if err := validation.Struct("grouping", op, cmd); err != nil {
		return nil, err
	}
	mode, err := grouping.ParseMode(cmd.Mode)
	if err != nil {
		return nil, err
	}
	priority, err := grouping.ParsePriority(cmd.Priority)
	if err != nil {
		return nil, err
	}

	log := h.log.With(logger.MaterialID(cmd.MaterialID), logger.Mode(string(mode)))

	unlock, err := h.locker.Lock(ctx, cmd.MaterialID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if !cmd.ForceOverwrite {
		exists, err := h.groups.HasGroups(ctx, cmd.MaterialID)
		if err != nil {
			return nil, err
		}
		if exists {
			return nil, shared.Errorf("grouping", op, shared.ErrAlreadyExists,
				"material %s already has groups; set force_overwrite to replace them", cmd.MaterialID)
		}
	}

	members, err := h.loadCohort(ctx, cmd.MaterialID)
	if err != nil {
		return nil, err
	}
	n := len(members)

	var warnings []string
	k := cmd.K
	if k <= 0 {
		k = grouping.MinGroupCount(n)
	}
	if cmd.AutoAdjustK && n > 0 && n < k {
		warnings = append(warnings, fmt.Sprintf("k lowered from %d to the cohort size %d", k, n))
		k = n
	}
	if mode == grouping.ModeHeterogeneous {
		if raised := grouping.HeterogeneousK(n, k); raised != k {
			warnings = append(warnings, fmt.Sprintf(
				"k raised from %d to %d so that no group exceeds %d members", k, raised, grouping.MaxGroupSize))
			k = raised
		}
	}

	maxUnanalyzed := grouping.DefaultMaxUnanalyzed
	if cmd.MaxUnanalyzed != nil {
		maxUnanalyzed = *cmd.MaxUnanalyzed
	}
	v := grouping.Validate(members, k, maxUnanalyzed)
	warnings = append(warnings, v.Warnings...)
	if !v.IsValid {
		kind := shared.ErrInsufficientData
		if n == 0 || n < k {
			kind = shared.ErrInsufficientCohort
		}
		return nil, shared.NewDomainError("grouping", op, kind, v.Message)
	}

	rec := grouping.Analyze(members, k)
	var adaptive *grouping.Recommendation
	if cmd.UseAdaptive {
		priority = rec.Priority
		adaptive = &rec
	}
	log = log.With(logger.Priority(string(priority)), logger.GroupCount(k), logger.CohortSize(n))

	var (
		partition   grouping.Partition
		generations int
	)
	switch mode {
	case grouping.ModeHomogeneous:
		partition, err = grouping.PartitionHomogeneous(members, k)
	default:
		var opt *grouping.OptimizeResult
		opt, err = grouping.Optimize(ctx, members, k, priority, h.ga)
		if opt != nil {
			partition, generations = opt.Partition, opt.Generations
		}
	}
	if err != nil {
		log.Warn("partitioning failed", logger.Err(err))
		return nil, err
	}
	if err := grouping.CheckPartition(partition, members, k); err != nil {
		log.Error("partition invariant violated", logger.Err(err))
		return nil, err
	}

	quality := grouping.AnalyzeQuality(partition, priority)
	groups := h.buildGroups(cmd.MaterialID, partition)

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := h.groups.ReplaceGroups(ctx, cmd.MaterialID, groups, cmd.ForceOverwrite); err != nil {
		return nil, err
	}

	_ = h.publisher.Publish(shared.NewGroupsFormedEvent(cmd.MaterialID, len(groups), string(mode), string(priority), quality.Fitness))

	log.Info("groups formed",
		logger.Fitness(quality.Fitness),
		logger.String("grade", quality.Grade),
		logger.Int("generations", generations),
		logger.Latency(time.Since(start)),
	)

	return &FormGroupsResult{
		MaterialID:     cmd.MaterialID,
		Mode:           mode,
		Priority:       priority,
		K:              k,
		Groups:         groups,
		Quality:        quality,
		QualityMessage: quality.Message(),
		Warning:        strings.Join(warnings, "; "),
		Warnings:       warnings,
		AdaptiveInfo:   adaptive,
		Validation:     v,
		Generations:    generations,
	}, nil
}

// loadCohort projects the enrolled students onto engine members.
func (h *FormGroupsHandler) loadCohort(ctx context.Context, materialID string) ([]grouping.Member, error) {
	ids, err := h.cohorts.CohortStudentIDs(ctx, materialID)
	if err != nil {
		return nil, err
	}
	profiles, err := h.profiles.LoadProfiles(ctx, ids)
	if err != nil {
		return nil, err
	}
	return grouping.MembersFromProfiles(profiles), nil
}

func (h *FormGroupsHandler) buildGroups(materialID string, p grouping.Partition) []grouping.Group {
	now := h.now()
	out := make([]grouping.Group, len(p))
	for i, members := range p {
		id := uuid.NewString()
		out[i] = grouping.Group{
			ID:         id,
			MaterialID: materialID,
			Name:       fmt.Sprintf("Group %d", i+1),
			Code:       fmt.Sprintf("G%02d-%s", i+1, strings.ToUpper(id[:6])),
			Position:   i + 1,
			Members:    members,
			CreatedAt:  now,
		}
	}
	return out
}
