// Package persistence groups the Profile Store backends: postgres, sqlite
// and memory. Every backend satisfies Store and the storetest contract.
package persistence

import (
	"github.com/arcs-classroom/motivation-hub/internal/domain/grouping"
	"github.com/arcs-classroom/motivation-hub/internal/domain/motivation"
)

// Store is the full Profile Store surface used by the application layer.
type Store interface {
	motivation.StudentDirectory
	motivation.ProfileRepository
	grouping.CohortRepository
	grouping.GroupRepository
	grouping.MaterialLocker
	grouping.Roster
}
