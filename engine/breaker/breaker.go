// Package breaker implements the circuit breaker state machine used by the
// circuit_breaker control node. Circuits are identified by a caller-chosen id
// and shared process-wide, so independent workflow runs guarding the same
// downstream service trip and recover together.
//
// Two registries are provided: an in-process one and a Redis-backed one for
// deployments where several engine processes must share circuit state.
package breaker

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrOpen is returned by Allow when the circuit is open and the open timeout
// has not yet elapsed.
var ErrOpen = errors.New("circuit open")

// State is the circuit state.
type State string

const (
	// StateClosed lets calls through and counts consecutive failures.
	StateClosed State = "closed"
	// StateOpen rejects calls until the open timeout elapses.
	StateOpen State = "open"
	// StateHalfOpen lets one trial call through at a time and counts
	// consecutive successes.
	StateHalfOpen State = "half_open"
)

// Settings configures a circuit. Zero-valued fields take defaults.
type Settings struct {
	// FailureThreshold is the number of consecutive failures that trips
	// the circuit. Defaults to 5.
	FailureThreshold int
	// SuccessThreshold is the number of consecutive half-open successes
	// that closes the circuit. Defaults to 2.
	SuccessThreshold int
	// OpenTimeout is how long an open circuit rejects calls before
	// transitioning to half-open. Defaults to 60 seconds.
	OpenTimeout time.Duration
}

func (s Settings) withDefaults() Settings {
	if s.FailureThreshold <= 0 {
		s.FailureThreshold = 5
	}
	if s.SuccessThreshold <= 0 {
		s.SuccessThreshold = 2
	}
	if s.OpenTimeout <= 0 {
		s.OpenTimeout = 60 * time.Second
	}
	return s
}

// Snapshot is a point-in-time view of a circuit, for observability.
type Snapshot struct {
	State     State     `json:"state"`
	Failures  int       `json:"failures"`
	Successes int       `json:"successes"`
	OpenedAt  time.Time `json:"opened_at,omitempty"`
}

// CircuitRegistry is the interface the circuit_breaker node talks to. A
// circuit is created on first use with the given settings; later calls reuse
// the existing circuit.
type CircuitRegistry interface {
	// Allow reports whether a call through the circuit may proceed. It
	// returns ErrOpen when the circuit is open, transitioning it to
	// half-open first if the open timeout has elapsed. A half-open circuit
	// admits one trial call at a time; further calls get ErrOpen until the
	// trial's outcome is recorded.
	Allow(ctx context.Context, id string, settings Settings) error

	// RecordSuccess records a successful call through the circuit.
	RecordSuccess(ctx context.Context, id string) error

	// RecordFailure records a failed call through the circuit.
	RecordFailure(ctx context.Context, id string) error

	// Snapshot returns the current state of the circuit.
	Snapshot(ctx context.Context, id string) (Snapshot, error)
}

// circuit is the in-process state for one circuit id.
type circuit struct {
	settings  Settings
	state     State
	failures  int
	successes int
	probing   bool
	openedAt  time.Time
}

// Registry is the in-process CircuitRegistry. It is safe for concurrent use.
type Registry struct {
	mu       sync.Mutex
	circuits map[string]*circuit
	now      func() time.Time
}

var _ CircuitRegistry = (*Registry)(nil)

// NewRegistry creates an in-process circuit registry.
func NewRegistry() *Registry {
	return &Registry{
		circuits: make(map[string]*circuit),
		now:      time.Now,
	}
}

func (r *Registry) get(id string, settings Settings) *circuit {
	c, ok := r.circuits[id]
	if !ok {
		c = &circuit{settings: settings.withDefaults(), state: StateClosed}
		r.circuits[id] = c
	}
	return c
}

// Allow implements CircuitRegistry.
func (r *Registry) Allow(_ context.Context, id string, settings Settings) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := r.get(id, settings)
	switch c.state {
	case StateOpen:
		if r.now().Sub(c.openedAt) < c.settings.OpenTimeout {
			return ErrOpen
		}
		c.state = StateHalfOpen
		c.successes = 0
		c.probing = true
		return nil
	case StateHalfOpen:
		// One trial call at a time; its outcome decides the next step.
		if c.probing {
			return ErrOpen
		}
		c.probing = true
		return nil
	default:
		return nil
	}
}

// RecordSuccess implements CircuitRegistry.
func (r *Registry) RecordSuccess(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.circuits[id]
	if !ok {
		return nil
	}
	switch c.state {
	case StateClosed:
		c.failures = 0
	case StateHalfOpen:
		c.probing = false
		c.successes++
		if c.successes >= c.settings.SuccessThreshold {
			c.state = StateClosed
			c.failures = 0
			c.successes = 0
		}
	}
	return nil
}

// RecordFailure implements CircuitRegistry.
func (r *Registry) RecordFailure(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.circuits[id]
	if !ok {
		return nil
	}
	switch c.state {
	case StateClosed:
		c.failures++
		if c.failures >= c.settings.FailureThreshold {
			r.trip(c)
		}
	case StateHalfOpen:
		// A single failed probe reopens the circuit.
		r.trip(c)
	}
	return nil
}

func (r *Registry) trip(c *circuit) {
	c.state = StateOpen
	c.openedAt = r.now()
	c.failures = 0
	c.successes = 0
	c.probing = false
}

// Snapshot implements CircuitRegistry. Unknown ids report a closed circuit.
func (r *Registry) Snapshot(_ context.Context, id string) (Snapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.circuits[id]
	if !ok {
		return Snapshot{State: StateClosed}, nil
	}
	return Snapshot{
		State:     c.state,
		Failures:  c.failures,
		Successes: c.successes,
		OpenedAt:  c.openedAt,
	}, nil
}
