// Package process runs change-data computations as cancellable background
// units of work.
//
// A Process moves through Created → Running → {Succeeded, Failed,
// Canceled}. The Manager is the single authority for state transitions: it
// owns every process for its lifetime, tracks the active set, exposes
// progress, and dispatches completion, failure and cancellation observers.
// Cancellation is cooperative — the running computation observes it
// between batches via its context, performs its cleanup (discarding
// partial change data) and returns ErrCanceled.
package process

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrCanceled is returned by a task body that stopped because cancellation
// was requested. It is a distinct terminal outcome, not a failure.
var ErrCanceled = errors.New("process canceled")

// State is a process's lifecycle state.
type State int

const (
	StateCreated State = iota
	StateRunning
	StateSucceeded
	StateFailed
	StateCanceled
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateRunning:
		return "running"
	case StateSucceeded:
		return "succeeded"
	case StateFailed:
		return "failed"
	case StateCanceled:
		return "canceled"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateFailed || s == StateCanceled
}

// Task is the body of a process. It must observe ctx cooperatively, clean
// up after itself on cancellation, and return ErrCanceled (possibly
// wrapped) in that case. Any other non-nil error marks the process failed.
type Task func(ctx context.Context, p *Process) error

// Process is one cancellable asynchronous unit of work. All mutable state
// is owned by the Manager; callers only read it or request cancellation.
type Process struct {
	id          string
	description string

	mu            sync.Mutex
	state         State
	err           error
	doneParts     int
	totalParts    int
	cancel        context.CancelFunc
	cancelRequest bool
	done          chan struct{}
}

// ID returns the process's unique identifier.
func (p *Process) ID() string { return p.id }

// Description returns the human-readable description.
func (p *Process) Description() string { return p.description }

// State returns the current lifecycle state.
func (p *Process) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Err returns the causing error of a failed process, nil otherwise.
func (p *Process) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// Progress returns the completed fraction of the computation's partitions,
// in [0, 1]. Unknown totals report 0.
func (p *Process) Progress() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.totalParts == 0 {
		return 0
	}
	return float64(p.doneParts) / float64(p.totalParts)
}

// ReportProgress records partition completion. It matches the compute
// engine's progress callback shape.
func (p *Process) ReportProgress(done, total int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.doneParts = done
	p.totalParts = total
}

// Cancel requests cooperative cancellation. It is safe to call multiple
// times and after the process reached a terminal state; such calls are
// no-ops.
func (p *Process) Cancel() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state.Terminal() || p.cancelRequest {
		return
	}
	p.cancelRequest = true
	if p.cancel != nil {
		p.cancel()
	}
}

// CancelRequested reports whether cancellation was ever requested.
func (p *Process) CancelRequested() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cancelRequest
}

// Done returns a channel closed when the process reaches a terminal state.
func (p *Process) Done() <-chan struct{} { return p.done }
