package pipeline

import (
	"fmt"
	"sync/atomic"

	"github.com/fpidot/pm-aggregator/internal/domain"
)

// Guard lets at most one run of an operation proceed at a time within the
// process. Overlapping calls are rejected rather than queued.
type Guard struct {
	name    string
	running atomic.Bool
}

func NewGuard(name string) *Guard { return &Guard{name: name} }

// Do runs fn unless another run holds the guard, in which case it returns
// ErrAlreadyRunning without calling fn.
func (g *Guard) Do(fn func() error) error {
	if !g.running.CompareAndSwap(false, true) {
		return fmt.Errorf("pipeline: %s: %w", g.name, domain.ErrAlreadyRunning)
	}
	defer g.running.Store(false)
	return fn()
}

// Running reports whether a run is in progress.
func (g *Guard) Running() bool { return g.running.Load() }
