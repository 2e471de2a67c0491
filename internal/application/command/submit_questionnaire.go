package command

import (
	"context"
	"time"

	"github.com/arcs-classroom/motivation-hub/internal/application/validation"
	"github.com/arcs-classroom/motivation-hub/internal/domain/motivation"
	"github.com/arcs-classroom/motivation-hub/internal/domain/shared"
	"github.com/arcs-classroom/motivation-hub/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// SUBMIT QUESTIONNAIRE COMMAND
// Stores the twenty answers of one student and their aggregated scores.
// The student's level is left for the next clustering run.
// ══════════════════════════════════════════════════════════════════════════════

// SubmitQuestionnaireCommand carries one complete ARCS questionnaire.
type SubmitQuestionnaireCommand struct {
	StudentID string              `json:"student_id" validate:"notblank"`
	Answers   []motivation.Answer `json:"answers" validate:"len=20,dive"`
}

// SubmitQuestionnaireResult echoes the stored scores.
type SubmitQuestionnaireResult struct {
	StudentID string            `json:"student_id"`
	Scores    motivation.Scores `json:"scores"`
}

// SubmitQuestionnaireHandler handles the SubmitQuestionnaireCommand.
type SubmitQuestionnaireHandler struct {
	profiles  motivation.ProfileRepository
	publisher shared.EventPublisher
	log       *logger.Logger
}

// NewSubmitQuestionnaireHandler creates a new SubmitQuestionnaireHandler.
func NewSubmitQuestionnaireHandler(
	profiles motivation.ProfileRepository,
	publisher shared.EventPublisher,
	log *logger.Logger,
) *SubmitQuestionnaireHandler {
	if publisher == nil {
		publisher = shared.NoopPublisher{}
	}
	if log == nil {
		log = logger.Nop()
	}
	return &SubmitQuestionnaireHandler{
		profiles:  profiles,
		publisher: publisher,
		log:       log.With(logger.Operation("submit_questionnaire")),
	}
}

// Handle executes the submit questionnaire command.
func (h *SubmitQuestionnaireHandler) Handle(ctx context.Context, cmd SubmitQuestionnaireCommand) (*SubmitQuestionnaireResult, error) {
	start := time.Now()

	if err := validation.Struct("motivation", "SubmitQuestionnaire", cmd); err != nil {
		return nil, err
	}

	answers := make([]motivation.Answer, len(cmd.Answers))
	for i, a := range cmd.Answers {
		a.StudentID = cmd.StudentID
		answers[i] = a
	}

	scores, err := motivation.AggregateAnswers(answers)
	if err != nil {
		return nil, err
	}

	if err := h.profiles.SaveAnswers(ctx, cmd.StudentID, answers, scores); err != nil {
		return nil, err
	}

	_ = h.publisher.Publish(shared.NewQuestionnaireSubmittedEvent(cmd.StudentID))

	h.log.Info("questionnaire stored",
		logger.StudentID(cmd.StudentID),
		logger.Float64("mean", scores.Mean()),
		logger.Latency(time.Since(start)),
	)

	return &SubmitQuestionnaireResult{StudentID: cmd.StudentID, Scores: scores}, nil
}
