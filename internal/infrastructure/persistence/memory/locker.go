package memory

import (
	"context"
	"sync"

	"github.com/arcs-classroom/motivation-hub/internal/domain/shared"
)

// Locker is an in-process grouping.MaterialLocker. Keys are held until the
// returned unlock func runs; a second Lock on a held key fails fast.
type Locker struct {
	mu   sync.Mutex
	held map[string]struct{}
}

// NewLocker creates an empty Locker.
func NewLocker() *Locker {
	return &Locker{held: make(map[string]struct{})}
}

// Lock acquires materialID or returns ErrConflict.
func (l *Locker) Lock(ctx context.Context, materialID string) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.held[materialID]; ok {
		return nil, shared.Errorf("store", "Lock", shared.ErrConflict,
			"material %s is being grouped by another run", materialID)
	}
	l.held[materialID] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, materialID)
			l.mu.Unlock()
		})
	}, nil
}

// Held reports whether materialID is currently locked.
func (l *Locker) Held(materialID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.held[materialID]
	return ok
}
