// Package circuitbreaker stops calls to a failing dependency for a cool-down
// period so callers fail fast instead of queueing behind timeouts.
package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/physiohub/progress-engine/pkg/timeutil"
)

// State is the breaker position.
type State uint8

const (
	Closed State = iota
	Open
	HalfOpen
)

var stateNames = [...]string{Closed: "closed", Open: "open", HalfOpen: "half-open"}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}

var (
	// ErrOpen is returned without calling fn while the breaker is open.
	ErrOpen = errors.New("circuitbreaker: open")

	// ErrProbeLimit is returned while the half-open probes are all in flight.
	ErrProbeLimit = errors.New("circuitbreaker: half-open probe limit reached")
)

// IsRejected reports whether err came from the breaker rather than fn.
func IsRejected(err error) bool {
	return errors.Is(err, ErrOpen) || errors.Is(err, ErrProbeLimit)
}

// Settings configures a Breaker. Zero fields take the defaults noted.
type Settings struct {
	Name string

	// Trip is the run of consecutive failures that opens a closed breaker (5).
	Trip int

	// Recover is the run of probe successes that closes a half-open one (1).
	Recover int

	// Probes caps concurrent calls while half-open (1).
	Probes int

	// Cooldown is how long the breaker stays open (30s).
	Cooldown time.Duration

	// IsFailure decides which errors count against the dependency. Nil
	// counts every error.
	IsFailure func(error) bool

	// OnChange is called with the breaker lock held; keep it short.
	OnChange func(name string, from, to State)

	Clock timeutil.Clock
}

// Stats is a snapshot of a Breaker.
type Stats struct {
	State State

	// Generation increases on every state change.
	Generation uint64

	Failures  int
	Successes int
	Rejected  int
}

// Breaker is safe for concurrent use. Results of calls admitted in an earlier
// generation are ignored, so a slow call that started before the breaker
// opened cannot close it.
type Breaker struct {
	s Settings

	mu       sync.Mutex
	state    State
	gen      uint64
	run      int // consecutive failures when closed, successes when half-open
	inFlight int
	until    time.Time
	stats    Stats
}

// New returns a closed breaker.
func New(s Settings) *Breaker {
	if s.Trip <= 0 {
		s.Trip = 5
	}
	if s.Recover <= 0 {
		s.Recover = 1
	}
	if s.Probes <= 0 {
		s.Probes = 1
	}
	if s.Cooldown <= 0 {
		s.Cooldown = 30 * time.Second
	}
	if s.Clock == nil {
		s.Clock = timeutil.SystemClock{}
	}
	return &Breaker{s: s}
}

// Run calls fn unless the breaker rejects it, and records the outcome.
func (b *Breaker) Run(ctx context.Context, fn func(context.Context) error) error {
	gen, err := b.admit()
	if err != nil {
		return err
	}
	err = fn(ctx)
	b.record(gen, err)
	return err
}

// Call is Run for functions that return a value.
func Call[T any](ctx context.Context, b *Breaker, fn func(context.Context) (T, error)) (T, error) {
	var out T
	err := b.Run(ctx, func(ctx context.Context) error {
		var err error
		out, err = fn(ctx)
		return err
	})
	return out, err
}

func (b *Breaker) admit() (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == Open && !b.s.Clock.Now().Before(b.until) {
		b.move(HalfOpen)
	}

	switch b.state {
	case Open:
		b.stats.Rejected++
		return 0, ErrOpen
	case HalfOpen:
		if b.inFlight >= b.s.Probes {
			b.stats.Rejected++
			return 0, ErrProbeLimit
		}
	}
	b.inFlight++
	return b.gen, nil
}

func (b *Breaker) record(gen uint64, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if gen != b.gen {
		return
	}
	b.inFlight--

	failed := err != nil && (b.s.IsFailure == nil || b.s.IsFailure(err))
	if failed {
		b.stats.Failures++
	} else {
		b.stats.Successes++
	}

	switch {
	case b.state == HalfOpen && failed:
		b.move(Open)
	case b.state == HalfOpen:
		if b.run++; b.run >= b.s.Recover {
			b.move(Closed)
		}
	case failed:
		if b.run++; b.run >= b.s.Trip {
			b.move(Open)
		}
	default:
		b.run = 0
	}
}

// move starts a new generation in state to. Caller holds mu.
func (b *Breaker) move(to State) {
	from := b.state
	b.state = to
	b.gen++
	b.run = 0
	b.inFlight = 0
	if to == Open {
		b.until = b.s.Clock.Now().Add(b.s.Cooldown)
	}
	if b.s.OnChange != nil {
		b.s.OnChange(b.s.Name, from, to)
	}
}

// State reports the current position, moving to half-open if the cool-down
// has passed.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == Open && !b.s.Clock.Now().Before(b.until) {
		b.move(HalfOpen)
	}
	return b.state
}

// Stats returns a snapshot.
func (b *Breaker) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	st := b.stats
	st.State = b.state
	st.Generation = b.gen
	return st
}

// Name returns Settings.Name.
func (b *Breaker) Name() string { return b.s.Name }

// ForStore opens after three consecutive store failures and probes again
// after ten seconds.
func ForStore(isFailure func(error) bool, onChange func(name string, from, to State)) *Breaker {
	return New(Settings{
		Name:      "progress-store",
		Trip:      3,
		Recover:   1,
		Probes:    1,
		Cooldown:  10 * time.Second,
		IsFailure: isFailure,
		OnChange:  onChange,
	})
}
