package process

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// DoneCallback is invoked when a process succeeds.
type DoneCallback func(p *Process)

// FailedCallback is invoked when a process fails, with the causing error.
type FailedCallback func(p *Process, err error)

// CanceledCallback is invoked when a process is canceled.
type CanceledCallback func(p *Process)

// Manager launches and tracks processes. Each process runs on its own
// goroutine; there is no ordering guarantee between distinct processes.
// The manager's bookkeeping never blocks on a running computation, so
// cancellation requests and progress queries stay responsive.
type Manager struct {
	logger *slog.Logger

	mu         sync.Mutex
	active     map[string]*Process
	onDone     []DoneCallback
	onFailed   []FailedCallback
	onCanceled []CanceledCallback

	wg sync.WaitGroup
}

// NewManager creates a process manager.
func NewManager(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		logger: logger.With("component", "process-manager"),
		active: make(map[string]*Process),
	}
}

// OnDone registers a success observer.
func (m *Manager) OnDone(cb DoneCallback) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onDone = append(m.onDone, cb)
}

// OnFailed registers a failure observer.
func (m *Manager) OnFailed(cb FailedCallback) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onFailed = append(m.onFailed, cb)
}

// OnCanceled registers a cancellation observer.
func (m *Manager) OnCanceled(cb CanceledCallback) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onCanceled = append(m.onCanceled, cb)
}

// Active returns the processes not yet in a terminal state.
func (m *Manager) Active() []*Process {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Process, 0, len(m.active))
	for _, p := range m.active {
		out = append(out, p)
	}
	return out
}

// Get returns an active process by ID, or nil.
func (m *Manager) Get(id string) *Process {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active[id]
}

// Launch creates a process for the task and starts it immediately on a
// background goroutine.
func (m *Manager) Launch(description string, task Task) *Process {
	ctx, cancel := context.WithCancel(context.Background())
	p := &Process{
		id:          uuid.NewString(),
		description: description,
		state:       StateCreated,
		cancel:      cancel,
		done:        make(chan struct{}),
	}

	m.mu.Lock()
	m.active[p.id] = p
	m.mu.Unlock()

	p.mu.Lock()
	p.state = StateRunning
	p.mu.Unlock()

	m.logger.Info("process started", "process_id", p.id, "description", description)

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer cancel()
		err := task(ctx, p)
		m.finish(p, err)
	}()
	return p
}

// Wait blocks until every launched process has reached a terminal state.
func (m *Manager) Wait() { m.wg.Wait() }

func (m *Manager) finish(p *Process, err error) {
	var terminal State
	switch {
	case err == nil:
		terminal = StateSucceeded
	case errors.Is(err, ErrCanceled) || errors.Is(err, context.Canceled):
		terminal = StateCanceled
	default:
		terminal = StateFailed
	}

	p.mu.Lock()
	p.state = terminal
	if terminal == StateFailed {
		p.err = err
	}
	close(p.done)
	p.mu.Unlock()

	m.mu.Lock()
	delete(m.active, p.id)
	onDone := m.onDone
	onFailed := m.onFailed
	onCanceled := m.onCanceled
	m.mu.Unlock()

	switch terminal {
	case StateSucceeded:
		m.logger.Info("process succeeded", "process_id", p.id)
		for _, cb := range onDone {
			cb(p)
		}
	case StateFailed:
		m.logger.Error("process failed", "process_id", p.id, "error", err)
		for _, cb := range onFailed {
			cb(p, err)
		}
	case StateCanceled:
		m.logger.Info("process canceled", "process_id", p.id)
		for _, cb := range onCanceled {
			cb(p)
		}
	}
}
