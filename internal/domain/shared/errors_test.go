package shared

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDomainError_Format(t *testing.T) {
	err := Errorf("grouping", "FormGroups", ErrConflict, "material %s busy", "m1")
	assert.Equal(t, "grouping.FormGroups: material m1 busy", err.Error())

	wrapped := WrapError("motivation", "Ingest", ErrInternal, "store write", errors.New("disk full"))
	assert.Equal(t, "motivation.Ingest: store write: disk full", wrapped.Error())
}

func TestDomainError_MatchesKindAndCause(t *testing.T) {
	err := WrapError("grouping", "FormGroups", ErrInternal, "aborted", context.DeadlineExceeded)

	assert.ErrorIs(t, err, ErrInternal)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.NotErrorIs(t, err, ErrConflict)

	var de *DomainError
	assert.ErrorAs(t, fmt.Errorf("outer: %w", err), &de)
	assert.Equal(t, "grouping", de.Domain)
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, "insufficient_cohort", KindOf(NewDomainError("grouping", "op", ErrInsufficientCohort, "x")))
	assert.Equal(t, "payload_too_large", KindOf(fmt.Errorf("wrap: %w", ErrPayloadTooLarge)))
	assert.Equal(t, "internal_error", KindOf(errors.New("plain")))
	assert.Equal(t, "not_found", ErrNotFound.Code())
	assert.Len(t, kinds, 9)
}
