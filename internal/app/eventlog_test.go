package app

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arcs-classroom/motivation-hub/config"
	"github.com/arcs-classroom/motivation-hub/internal/domain/shared"
	"github.com/arcs-classroom/motivation-hub/pkg/logger"
)

func TestEventLog(t *testing.T) {
	var buf bytes.Buffer
	log := logger.New(logger.Options{Output: &buf, Format: logger.FormatText})
	flags := config.NewFeatureFlags()
	handle := EventLog(log, flags)

	// Off by default.
	require.NoError(t, handle(shared.NewProfilesClusteredEvent("run-1", 9, 3, 3, 3)))
	assert.Empty(t, buf.String())

	require.NoError(t, flags.SetRollout(config.FeatureEventLog, 100))
	require.NoError(t, handle(shared.NewProfilesClusteredEvent("run-1", 9, 3, 3, 3)))
	assert.Contains(t, buf.String(), `msg="domain event"`)
	assert.Contains(t, buf.String(), "event_type=profiles.clustered aggregate_id=run-1 high=3 low=3 medium=3 total=9")

	buf.Reset()
	flags.Override("m1", config.FeatureEventLog, false)
	require.NoError(t, handle(shared.NewGroupsFormedEvent("m1", 3, "homogen", "balanced", 0.8)))
	assert.Empty(t, buf.String())

	require.NoError(t, handle(shared.NewQuestionnaireSubmittedEvent("s1")))
	assert.Contains(t, buf.String(), "aggregate_id=s1")
}
