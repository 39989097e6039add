package application

import (
	"context"
	"sync"
	"time"
)

// actorPhase is the per-actor trigger state machine.
type actorPhase int

const (
	phaseIdle actorPhase = iota
	phaseDebouncing
	phaseRunning
	phaseCoolingDown
)

// actorState tracks one actor's position in the trigger state machine.
// completedAt is the wall-clock moment the last job reached a terminal state;
// cooldown remaining is always computed from it, never from a live countdown,
// so the window survives anything short of process death.
type actorState struct {
	phase       actorPhase
	completedAt time.Time
	pending     chan struct{} // closed when the waiting trigger is superseded
}

// Governor enforces per-actor trigger discipline: rapid repeated triggers
// collapse into the last one (debounce), at most one job runs at a time
// (single flight), and a fixed cooldown follows every terminal job outcome.
type Governor struct {
	mu       sync.Mutex
	actors   map[string]*actorState
	debounce time.Duration
	cooldown time.Duration
	now      func() time.Time
}

// NewGovernor creates a Governor with the production debounce and cooldown
// windows.
func NewGovernor() *Governor {
	return NewGovernorWithTimings(debounceWindow, cooldownPeriod)
}

// NewGovernorWithTimings creates a Governor with explicit windows. Intended
// for tests that cannot afford the production timings.
func NewGovernorWithTimings(debounce, cooldown time.Duration) *Governor {
	return &Governor{
		actors:   make(map[string]*actorState),
		debounce: debounce,
		cooldown: cooldown,
		now:      time.Now,
	}
}

// actor returns the state for actorID, creating it on first use.
// Callers must hold g.mu.
func (g *Governor) actor(actorID string) *actorState {
	a, ok := g.actors[actorID]
	if !ok {
		a = &actorState{}
		g.actors[actorID] = a
	}
	return a
}

// cooldownLeft returns the remaining cooldown for a, or zero if none is
// active. Callers must hold g.mu.
func (g *Governor) cooldownLeft(a *actorState) time.Duration {
	if a.phase != phaseCoolingDown {
		return 0
	}
	if left := g.cooldown - g.now().Sub(a.completedAt); left > 0 {
		return left
	}
	return 0
}

// Trigger runs the full admission sequence for one actor: fast-fail if a job
// is running or cooldown is active, wait out the debounce window, then reserve
// the running slot. A nil return means the caller owns the slot and must
// eventually call Complete (job reached a terminal state) or Release
// (downstream admission failed, no job started).
func (g *Governor) Trigger(ctx context.Context, actorID string) error {
	if err := g.check(actorID); err != nil {
		return err
	}
	if err := g.Debounce(ctx, actorID); err != nil {
		return err
	}
	return g.Admit(actorID)
}

// check rejects triggers that cannot possibly be admitted, without waiting.
func (g *Governor) check(actorID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	a := g.actor(actorID)
	if a.phase == phaseRunning {
		return ErrAlreadyRunning
	}
	if left := g.cooldownLeft(a); left > 0 {
		return &CooldownActiveError{Remaining: left}
	}
	return nil
}

// Debounce blocks for the debounce window. If a newer trigger for the same
// actor arrives while waiting, the older call returns ErrSuperseded and the
// newer one restarts its own window, so only the last trigger in a burst
// proceeds.
func (g *Governor) Debounce(ctx context.Context, actorID string) error {
	g.mu.Lock()
	a := g.actor(actorID)
	if a.pending != nil {
		close(a.pending)
	}
	mine := make(chan struct{})
	a.pending = mine
	if a.phase == phaseIdle {
		a.phase = phaseDebouncing
	}
	g.mu.Unlock()

	timer := time.NewTimer(g.debounce)
	defer timer.Stop()

	select {
	case <-mine:
		return ErrSuperseded
	case <-ctx.Done():
		g.clearPending(actorID, mine)
		return ctx.Err()
	case <-timer.C:
	}

	g.clearPending(actorID, mine)
	return nil
}

// clearPending removes mine as the actor's pending trigger if it still is.
func (g *Governor) clearPending(actorID string, mine chan struct{}) {
	g.mu.Lock()
	defer g.mu.Unlock()

	a := g.actor(actorID)
	if a.pending == mine {
		a.pending = nil
		if a.phase == phaseDebouncing {
			a.phase = phaseIdle
		}
	}
}

// Admit reserves the actor's running slot. It fails with ErrAlreadyRunning if
// a job is in flight, or with CooldownActiveError if the cooldown window has
// not elapsed.
func (g *Governor) Admit(actorID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	a := g.actor(actorID)
	switch a.phase {
	case phaseRunning:
		return ErrAlreadyRunning
	case phaseCoolingDown:
		if left := g.cooldownLeft(a); left > 0 {
			return &CooldownActiveError{Remaining: left}
		}
	}

	a.phase = phaseRunning
	return nil
}

// Release returns the actor to idle without starting a cooldown. Used when a
// downstream admission check fails after the running slot was reserved; only
// terminal job outcomes cost the actor a cooldown.
func (g *Governor) Release(actorID string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	a := g.actor(actorID)
	if a.phase == phaseRunning {
		a.phase = phaseIdle
	}
}

// Complete records the job's terminal moment and starts the cooldown window.
func (g *Governor) Complete(actorID string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	a := g.actor(actorID)
	a.phase = phaseCoolingDown
	a.completedAt = g.now()
}

// CooldownRemaining reports the wall-clock time left in the actor's cooldown,
// or zero if none is active.
func (g *Governor) CooldownRemaining(actorID string) time.Duration {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.cooldownLeft(g.actor(actorID))
}
