package command

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"math"
	"time"

	"golang.org/x/crypto/blake2b"

	"github.com/arcs-classroom/motivation-hub/config"
	"github.com/arcs-classroom/motivation-hub/internal/domain/motivation"
	"github.com/arcs-classroom/motivation-hub/internal/domain/shared"
	"github.com/arcs-classroom/motivation-hub/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// INGEST ARCS CSV COMMAND
// Parses a bulk ARCS file and upserts the score vectors of known students.
// ══════════════════════════════════════════════════════════════════════════════

// DefaultMaxCSVBytes is the largest accepted upload (5 MiB).
const DefaultMaxCSVBytes int64 = 5 << 20

// IngestARCSCSVCommand carries one uploaded file.
type IngestARCSCSVCommand struct {
	Payload  []byte
	Filename string
}

// IngestARCSCSVResult summarizes an import.
type IngestARCSCSVResult struct {
	Updated          int                 `json:"updated"`
	Skipped          int                 `json:"skipped"`
	Total            int                 `json:"total"`
	SuccessRate      float64             `json:"success_rate"`
	SkippedUsernames []string            `json:"skipped_usernames,omitempty"`
	Warnings         []string            `json:"warnings,omitempty"`
	Format           motivation.Format   `json:"format"`
	Digest           string              `json:"digest"`
	Clustering       *ReclusterAllResult `json:"clustering,omitempty"`
	ClusteringNote   string              `json:"clustering_note,omitempty"`
}

// IngestARCSCSVHandlerConfig contains configuration for the handler.
type IngestARCSCSVHandlerConfig struct {
	MaxBytes int64
}

// IngestARCSCSVHandler handles the IngestARCSCSVCommand.
type IngestARCSCSVHandler struct {
	directory motivation.StudentDirectory
	profiles  motivation.ProfileRepository
	recluster *ReclusterAllHandler
	features  Features
	publisher shared.EventPublisher
	maxBytes  int64
	log       *logger.Logger
}

// NewIngestARCSCSVHandler creates a new IngestARCSCSVHandler. recluster and
// features may be nil, which disables the follow-up clustering run.
func NewIngestARCSCSVHandler(
	directory motivation.StudentDirectory,
	profiles motivation.ProfileRepository,
	recluster *ReclusterAllHandler,
	features Features,
	publisher shared.EventPublisher,
	cfg IngestARCSCSVHandlerConfig,
	log *logger.Logger,
) *IngestARCSCSVHandler {
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = DefaultMaxCSVBytes
	}
	if publisher == nil {
		publisher = shared.NoopPublisher{}
	}
	if log == nil {
		log = logger.Nop()
	}
	return &IngestARCSCSVHandler{
		directory: directory,
		profiles:  profiles,
		recluster: recluster,
		features:  features,
		publisher: publisher,
		maxBytes:  cfg.MaxBytes,
		log:       log.With(logger.Operation("ingest_arcs_csv")),
	}
}

// Handle executes the ingest command. Format errors and oversized payloads
// leave the store untouched; otherwise all matched rows are written in one
// atomic batch and unknown usernames are skipped.
func (h *IngestARCSCSVHandler) Handle(ctx context.Context, cmd IngestARCSCSVCommand) (*IngestARCSCSVResult, error) {
	const op = "IngestARCSCSV"
	start := time.Now()

	if int64(len(cmd.Payload)) > h.maxBytes {
		return nil, shared.Errorf("motivation", op, shared.ErrPayloadTooLarge,
			"file of %d bytes exceeds the %d byte limit", len(cmd.Payload), h.maxBytes)
	}

	sum := blake2b.Sum256(cmd.Payload)
	digest := hex.EncodeToString(sum[:])
	log := h.log.With(logger.Digest(digest), logger.String("filename", cmd.Filename))

	report, err := motivation.ParseARCSCSV(bytes.NewReader(cmd.Payload))
	if err != nil {
		log.Warn("csv rejected", logger.Err(err))
		return nil, err
	}
	for _, w := range report.Warnings {
		log.Warn("csv value out of range", logger.String("detail", w))
	}

	ids, err := h.directory.ResolveUsernames(ctx, report.Usernames())
	if err != nil {
		return nil, err
	}

	res := &IngestARCSCSVResult{
		Total:    len(report.Rows),
		Warnings: report.Warnings,
		Format:   report.Format,
		Digest:   digest,
	}

	// Usernames are unique per file, so each row is one update.
	updates := make([]motivation.ScoreUpdate, 0, len(report.Rows))
	for _, row := range report.Rows {
		studentID, ok := ids[row.Username]
		if !ok {
			res.Skipped++
			res.SkippedUsernames = append(res.SkippedUsernames, row.Username)
			continue
		}
		res.Updated++
		updates = append(updates, motivation.ScoreUpdate{StudentID: studentID, Scores: row.Scores})
	}
	if res.Total > 0 {
		res.SuccessRate = math.Round(float64(res.Updated)/float64(res.Total)*10000) / 100
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(updates) > 0 {
		if err := h.profiles.SaveScores(ctx, updates); err != nil {
			return nil, err
		}
	}

	_ = h.publisher.Publish(shared.NewARCSIngestedEvent(digest, res.Updated, res.Skipped, res.Total))

	log.Info("arcs csv ingested",
		logger.String("format", string(res.Format)),
		logger.Int("updated", res.Updated),
		logger.Int("skipped", res.Skipped),
		logger.Int("total", res.Total),
		logger.Latency(time.Since(start)),
	)

	if res.Updated > 0 && h.autoRecluster() {
		clustered, err := h.recluster.Handle(ctx)
		switch {
		case err == nil:
			res.Clustering = clustered
		case errors.Is(err, shared.ErrInsufficientData):
			res.ClusteringNote = err.Error()
		default:
			// Scores are already committed; the caller can recluster later.
			log.Error("follow-up clustering failed", logger.Err(err))
			res.ClusteringNote = "clustering failed: " + err.Error()
		}
	}

	return res, nil
}

func (h *IngestARCSCSVHandler) autoRecluster() bool {
	if h.recluster == nil || h.features == nil {
		return false
	}
	return h.features.Enabled(config.FeatureIngestAutoRecluster, "")
}
