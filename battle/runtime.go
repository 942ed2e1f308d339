// battle/runtime.go - In-memory runtime index for active rooms
package battle

import (
	"sync"
	"time"
)

// Phase tags guard state-machine advances: an advance request carrying a
// stale phase or question index is a silent no-op.
type Phase int

const (
	PhaseLobby Phase = iota
	PhaseCountdown
	PhaseQuestion
	PhaseReveal
	PhaseFinished
)

// roomRuntime is the ephemeral per-room state: the answered set, power-up
// bookkeeping, the open timer, and the phase tag. All engine mutations for a
// room happen under mu, giving single-threaded-per-room execution. Lost on
// process restart; battles in flight do not survive one.
type roomRuntime struct {
	mu sync.Mutex

	code        string
	phase       Phase
	questionIdx int

	answered   map[string]bool // userID -> answered current question
	doubleNext map[string]bool // userID -> next correct answer doubled

	// secondsLeft drives timer-tick broadcasts; freezeTicks > 0 pauses the
	// countdown (time-freeze power-up). lowTimeSent makes the low-time
	// warning fire at most once per question.
	secondsLeft int
	freezeTicks int
	lowTimeSent bool
	stopTimer   chan struct{}

	// userIDs in last place at the halfway reveal, for the comeback award.
	lastAtHalfway map[string]bool

	questionStarted time.Time
}

// Runtime owns the keyed collection of active room runtimes. Created at
// battle start, torn down at finished/error; injected into the transport
// layer rather than held as ambient globals.
type Runtime struct {
	mu    sync.RWMutex
	rooms map[string]*roomRuntime
}

func NewRuntime() *Runtime {
	return &Runtime{rooms: make(map[string]*roomRuntime)}
}

func (r *Runtime) create(code string) *roomRuntime {
	r.mu.Lock()
	defer r.mu.Unlock()
	rt := &roomRuntime{
		code:          code,
		phase:         PhaseCountdown,
		answered:      make(map[string]bool),
		doubleNext:    make(map[string]bool),
		lastAtHalfway: make(map[string]bool),
	}
	r.rooms[code] = rt
	return rt
}

func (r *Runtime) get(code string) (*roomRuntime, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rt, ok := r.rooms[code]
	return rt, ok
}

// remove releases the room's runtime resources, cancelling any open timer.
func (r *Runtime) remove(code string) {
	r.mu.Lock()
	rt, ok := r.rooms[code]
	delete(r.rooms, code)
	r.mu.Unlock()
	if ok {
		rt.mu.Lock()
		rt.cancelTimerLocked()
		rt.phase = PhaseFinished
		rt.mu.Unlock()
	}
}

// ActiveCount reports how many rooms are currently running (debug surface).
func (r *Runtime) ActiveCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}

// ActiveCodes lists the codes of all running rooms (debug surface).
func (r *Runtime) ActiveCodes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	codes := make([]string, 0, len(r.rooms))
	for code := range r.rooms {
		codes = append(codes, code)
	}
	return codes
}

// cancelTimerLocked stops the question timer goroutine if one is open.
// Callers hold rt.mu.
func (rt *roomRuntime) cancelTimerLocked() {
	if rt.stopTimer != nil {
		close(rt.stopTimer)
		rt.stopTimer = nil
	}
}
