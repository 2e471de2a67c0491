package shared

import (
	"time"
)

// EventType names a domain event. Each one marks the terminal write of a
// command.
type EventType string

const (
	EventARCSIngested           EventType = "arcs.ingested"
	EventQuestionnaireSubmitted EventType = "arcs.questionnaire_submitted"
	EventProfilesClustered      EventType = "profiles.clustered"
	EventGroupsFormed           EventType = "groups.formed"
)

// Event is a fact published after a successful write.
type Event interface {
	EventType() EventType
	OccurredAt() time.Time

	// AggregateID is the material, student, run or payload digest the
	// event is about.
	AggregateID() string

	// Details lists the event's own fields for logging.
	Details() map[string]any
}

// EventMeta carries the fields every event shares.
type EventMeta struct {
	Type      EventType `json:"type"`
	At        time.Time `json:"at"`
	Aggregate string    `json:"aggregate_id"`
}

func newMeta(t EventType, aggregate string) EventMeta {
	return EventMeta{Type: t, At: time.Now().UTC(), Aggregate: aggregate}
}

func (m EventMeta) EventType() EventType  { return m.Type }
func (m EventMeta) OccurredAt() time.Time { return m.At }
func (m EventMeta) AggregateID() string   { return m.Aggregate }

// ═══════════════════════════════════════════════════════════════════════════
// Motivation Events
// ═══════════════════════════════════════════════════════════════════════════

// ARCSIngestedEvent follows a stored CSV batch. The aggregate is the
// payload digest, so re-uploads of one file share an id.
type ARCSIngestedEvent struct {
	EventMeta
	Updated int `json:"updated"`
	Skipped int `json:"skipped"`
	Total   int `json:"total"`
}

func NewARCSIngestedEvent(digest string, updated, skipped, total int) ARCSIngestedEvent {
	return ARCSIngestedEvent{
		EventMeta: newMeta(EventARCSIngested, digest),
		Updated:   updated,
		Skipped:   skipped,
		Total:     total,
	}
}

func (e ARCSIngestedEvent) Details() map[string]any {
	return map[string]any{"updated": e.Updated, "skipped": e.Skipped, "total": e.Total}
}

// QuestionnaireSubmittedEvent follows one stored questionnaire.
type QuestionnaireSubmittedEvent struct {
	EventMeta
}

func NewQuestionnaireSubmittedEvent(studentID string) QuestionnaireSubmittedEvent {
	return QuestionnaireSubmittedEvent{EventMeta: newMeta(EventQuestionnaireSubmitted, studentID)}
}

func (e QuestionnaireSubmittedEvent) Details() map[string]any { return nil }

// ProfilesClusteredEvent follows a clustering run; the counts are per
// motivation level.
type ProfilesClusteredEvent struct {
	EventMeta
	Total  int `json:"total"`
	Low    int `json:"low"`
	Medium int `json:"medium"`
	High   int `json:"high"`
}

func NewProfilesClusteredEvent(runID string, total, low, medium, high int) ProfilesClusteredEvent {
	return ProfilesClusteredEvent{
		EventMeta: newMeta(EventProfilesClustered, runID),
		Total:     total,
		Low:       low,
		Medium:    medium,
		High:      high,
	}
}

func (e ProfilesClusteredEvent) Details() map[string]any {
	return map[string]any{"total": e.Total, "low": e.Low, "medium": e.Medium, "high": e.High}
}

// ═══════════════════════════════════════════════════════════════════════════
// Grouping Events
// ═══════════════════════════════════════════════════════════════════════════

// GroupsFormedEvent follows a grouping written for the material it names.
type GroupsFormedEvent struct {
	EventMeta
	GroupCount int     `json:"group_count"`
	Mode       string  `json:"mode"`
	Priority   string  `json:"priority"`
	Fitness    float64 `json:"fitness"`
}

func NewGroupsFormedEvent(materialID string, groupCount int, mode, priority string, fitness float64) GroupsFormedEvent {
	return GroupsFormedEvent{
		EventMeta:  newMeta(EventGroupsFormed, materialID),
		GroupCount: groupCount,
		Mode:       mode,
		Priority:   priority,
		Fitness:    fitness,
	}
}

func (e GroupsFormedEvent) Details() map[string]any {
	return map[string]any{
		"group_count": e.GroupCount,
		"mode":        e.Mode,
		"priority":    e.Priority,
		"fitness":     e.Fitness,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Bus contracts
// ═══════════════════════════════════════════════════════════════════════════

// EventHandler reacts to one event. Its error is logged by the bus and
// never reaches the publisher.
type EventHandler func(event Event) error

type EventPublisher interface {
	Publish(event Event) error
}

type EventSubscriber interface {
	Subscribe(eventType EventType, handler EventHandler) error
	SubscribeAll(handler EventHandler) error
}

type EventBus interface {
	EventPublisher
	EventSubscriber
	Close() error
}

// NoopPublisher drops events. Handlers built without a bus use it.
type NoopPublisher struct{}

func (NoopPublisher) Publish(Event) error { return nil }
