package app

import (
	"context"

	"github.com/arcs-classroom/motivation-hub/config"
	"github.com/arcs-classroom/motivation-hub/internal/domain/grouping"
)

// Features reports the state of runtime feature flags.
type Features interface {
	Enabled(name, materialID string) bool
}

// FormationLocker takes the store's material lock and, when the
// formation.distributed_lock flag is on for the material, the Redis lock
// as well. Either one being held fails the run with ErrConflict.
type FormationLocker struct {
	local       grouping.MaterialLocker
	distributed grouping.MaterialLocker
	features    Features
}

// NewFormationLocker creates a FormationLocker. distributed may be nil.
func NewFormationLocker(local, distributed grouping.MaterialLocker, features Features) *FormationLocker {
	return &FormationLocker{local: local, distributed: distributed, features: features}
}

// Lock implements grouping.MaterialLocker.
func (l *FormationLocker) Lock(ctx context.Context, materialID string) (func(), error) {
	unlockLocal, err := l.local.Lock(ctx, materialID)
	if err != nil {
		return nil, err
	}

	if l.distributed == nil || l.features == nil ||
		!l.features.Enabled(config.FeatureFormationDistributedLock, materialID) {
		return unlockLocal, nil
	}

	unlockRemote, err := l.distributed.Lock(ctx, materialID)
	if err != nil {
		unlockLocal()
		return nil, err
	}

	return func() {
		unlockRemote()
		unlockLocal()
	}, nil
}
