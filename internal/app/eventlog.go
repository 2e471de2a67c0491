package app

import (
	"sort"

	"github.com/arcs-classroom/motivation-hub/config"
	"github.com/arcs-classroom/motivation-hub/internal/domain/shared"
	"github.com/arcs-classroom/motivation-hub/pkg/logger"
)

// EventLog returns a bus handler that writes each domain event at info
// level while the events.log flag is on. Grouping events are bucketed by
// material; the rest follow the flag's global state.
func EventLog(log *logger.Logger, features Features) shared.EventHandler {
	log = log.With(logger.Component("events"))
	return func(e shared.Event) error {
		material := ""
		if e.EventType() == shared.EventGroupsFormed {
			material = e.AggregateID()
		}
		if features == nil || !features.Enabled(config.FeatureEventLog, material) {
			return nil
		}

		details := e.Details()
		keys := make([]string, 0, len(details))
		for k := range details {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		fields := make([]logger.Field, 0, len(keys)+2)
		fields = append(fields,
			logger.String("event_type", string(e.EventType())),
			logger.String("aggregate_id", e.AggregateID()),
		)
		for _, k := range keys {
			fields = append(fields, logger.Any(k, details[k]))
		}
		log.Info("domain event", fields...)
		return nil
	}
}
