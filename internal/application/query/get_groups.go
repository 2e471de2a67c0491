package query

import (
	"context"

	"github.com/arcs-classroom/motivation-hub/internal/application/validation"
	"github.com/arcs-classroom/motivation-hub/internal/domain/grouping"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET GROUPS QUERY
// Reads back the persisted groups of a material with current member levels.
// ══════════════════════════════════════════════════════════════════════════════

// GetGroupsQuery contains the query parameters.
type GetGroupsQuery struct {
	MaterialID string `json:"material_id" validate:"notblank"`
}

// GetGroupsResult lists the groups of a material.
type GetGroupsResult struct {
	MaterialID string           `json:"material_id"`
	Groups     []grouping.Group `json:"groups"`
	GroupCount int              `json:"group_count"`
	Students   int              `json:"students"`
}

// GetGroupsHandler handles get groups queries.
type GetGroupsHandler struct {
	groups grouping.GroupRepository
}

// NewGetGroupsHandler creates a new GetGroupsHandler.
func NewGetGroupsHandler(groups grouping.GroupRepository) *GetGroupsHandler {
	return &GetGroupsHandler{groups: groups}
}

// Handle executes the query. A material without groups yields an empty list.
func (h *GetGroupsHandler) Handle(ctx context.Context, q GetGroupsQuery) (*GetGroupsResult, error) {
	if err := validation.Struct("grouping", "GetGroups", q); err != nil {
		return nil, err
	}

	groups, err := h.groups.ListGroups(ctx, q.MaterialID)
	if err != nil {
		return nil, err
	}

	res := &GetGroupsResult{MaterialID: q.MaterialID, Groups: groups, GroupCount: len(groups)}
	if res.Groups == nil {
		res.Groups = []grouping.Group{}
	}
	for _, g := range groups {
		res.Students += len(g.Members)
	}
	return res, nil
}
