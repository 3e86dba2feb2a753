package engine

import (
	"fmt"
	"sync"
	"time"

	"github.com/flowkit-dev/flowkit/store"
)

// WaitInfo describes a wait point currently suspending a run.
type WaitInfo struct {
	WaitID      string    `json:"wait_id"`
	ExecutionID string    `json:"execution_id"`
	NodeID      string    `json:"node_id"`
	Path        string    `json:"path"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// waitPoint is one suspended run. The resume channel is buffered so the
// webhook surface never blocks on delivery.
type waitPoint struct {
	info   WaitInfo
	resume chan any
}

// waitRegistry tracks suspended runs by wait id.
type waitRegistry struct {
	mu     sync.Mutex
	points map[string]*waitPoint
}

func newWaitRegistry() *waitRegistry {
	return &waitRegistry{points: make(map[string]*waitPoint)}
}

// register installs a wait point. Duplicate wait ids are rejected so two
// runs cannot race on one resume token.
func (r *waitRegistry) register(info WaitInfo) (*waitPoint, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.points[info.WaitID]; exists {
		return nil, fmt.Errorf("wait id %q is already in use", info.WaitID)
	}
	wp := &waitPoint{info: info, resume: make(chan any, 1)}
	r.points[info.WaitID] = wp
	return wp, nil
}

func (r *waitRegistry) remove(waitID string) {
	r.mu.Lock()
	delete(r.points, waitID)
	r.mu.Unlock()
}

// resolve delivers a payload to the run waiting on waitID. Exactly one
// delivery wins; the point is removed before the payload is handed over.
func (r *waitRegistry) resolve(waitID string, payload any) error {
	r.mu.Lock()
	wp, ok := r.points[waitID]
	if ok {
		delete(r.points, waitID)
	}
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("wait id %q: %w", waitID, store.ErrNotFound)
	}
	wp.resume <- payload
	return nil
}

// active snapshots the current wait points.
func (r *waitRegistry) active() []WaitInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	infos := make([]WaitInfo, 0, len(r.points))
	for _, wp := range r.points {
		infos = append(infos, wp.info)
	}
	return infos
}
