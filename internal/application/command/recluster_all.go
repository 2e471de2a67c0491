// Package command contains write operations (CQRS - Commands).
// Commands change motivation profiles and learning groups; every one of
// them ends in a single atomic write to the Profile Store.
package command

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/arcs-classroom/motivation-hub/internal/domain/clustering"
	"github.com/arcs-classroom/motivation-hub/internal/domain/motivation"
	"github.com/arcs-classroom/motivation-hub/internal/domain/shared"
	"github.com/arcs-classroom/motivation-hub/pkg/logger"
)

// Features reports the state of runtime feature flags.
type Features interface {
	Enabled(name, materialID string) bool
}

// ══════════════════════════════════════════════════════════════════════════════
// RECLUSTER ALL COMMAND
// Assigns Low/Medium/High to every analyzable profile in one batch.
// ══════════════════════════════════════════════════════════════════════════════

// ReclusterAllResult reports the level counts of a run.
type ReclusterAllResult struct {
	RunID    string  `json:"run_id"`
	Total    int     `json:"total"`
	Low      int     `json:"Low"`
	Medium   int     `json:"Medium"`
	High     int     `json:"High"`
	Excluded int     `json:"excluded"`
	Inertia  float64 `json:"inertia"`
}

// ReclusterAllHandler runs the clustering engine over a snapshot of all
// profiles and writes the levels under the store's global write lock.
type ReclusterAllHandler struct {
	profiles  motivation.ProfileRepository
	publisher shared.EventPublisher
	opts      clustering.Options
	log       *logger.Logger
}

// NewReclusterAllHandler creates a new ReclusterAllHandler.
func NewReclusterAllHandler(
	profiles motivation.ProfileRepository,
	publisher shared.EventPublisher,
	opts clustering.Options,
	log *logger.Logger,
) *ReclusterAllHandler {
	if publisher == nil {
		publisher = shared.NoopPublisher{}
	}
	if log == nil {
		log = logger.Nop()
	}
	return &ReclusterAllHandler{
		profiles:  profiles,
		publisher: publisher,
		opts:      opts,
		log:       log.With(logger.Operation("recluster_all")),
	}
}

// Handle executes the recluster command. Fewer than three analyzable
// profiles yield ErrInsufficientData and leave every level untouched.
func (h *ReclusterAllHandler) Handle(ctx context.Context) (*ReclusterAllResult, error) {
	start := time.Now()
	runID := uuid.NewString()
	log := h.log.With(logger.String("run_id", runID))

	snapshot, err := h.profiles.LoadAll(ctx)
	if err != nil {
		return nil, err
	}

	res, err := clustering.Run(snapshot, h.opts)
	if err != nil {
		log.Warn("clustering skipped", logger.Int("profiles", len(snapshot)), logger.Err(err))
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := h.profiles.SaveLevels(ctx, res.Updates); err != nil {
		return nil, err
	}

	out := &ReclusterAllResult{
		RunID:    runID,
		Total:    res.Total(),
		Low:      res.Counts[motivation.LevelLow],
		Medium:   res.Counts[motivation.LevelMedium],
		High:     res.Counts[motivation.LevelHigh],
		Excluded: len(res.Excluded),
		Inertia:  res.Inertia,
	}

	_ = h.publisher.Publish(shared.NewProfilesClusteredEvent(runID, out.Total, out.Low, out.Medium, out.High))

	log.Info("profiles clustered",
		logger.Int("total", out.Total),
		logger.Int("low", out.Low),
		logger.Int("medium", out.Medium),
		logger.Int("high", out.High),
		logger.Int("excluded", out.Excluded),
		logger.Int("cleared", res.Cleared),
		logger.Latency(time.Since(start)),
	)
	return out, nil
}
