package harvest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Status describes the lifecycle state of a registered source.
type Status string

// Status values reported by the Manager.
const (
	StatusRunning       Status = "running"
	StatusStopped       Status = "stopped"
	StatusNotRegistered Status = "not_registered"
)

// Runner is the slice of Engine the Manager drives. Extracted so tests can
// substitute a fake cycle.
type Runner interface {
	Run(ctx context.Context)
}

type worker struct {
	engine   Runner
	interval time.Duration
	cancel   context.CancelFunc
	done     chan struct{}
	running  bool
}

// Manager registers named engines and supervises one background worker per
// source. Workers are fully independent: a fault in one source never affects
// another's scheduling.
type Manager struct {
	mu      sync.Mutex
	workers map[string]*worker
	logger  *zap.Logger
}

// NewManager constructs a Manager.
func NewManager(logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		workers: make(map[string]*worker),
		logger:  logger,
	}
}

// Register adds an engine under a name. Registering over a running worker is
// rejected; re-registering a stopped one replaces it.
func (m *Manager) Register(name string, engine Runner) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if w, ok := m.workers[name]; ok && w.running {
		return fmt.Errorf("source %q is running; stop it before re-registering", name)
	}
	m.workers[name] = &worker{engine: engine}
	m.logger.Info("source registered", zap.String("source", name))
	return nil
}

// Start launches the background worker for a source, cycling at the given
// interval. The interval is sleep-after-cycle, so slow cycles drift the
// cadence. Starting an already-running source is a warning no-op.
func (m *Manager) Start(name string, interval time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.workers[name]
	if !ok {
		return fmt.Errorf("source %q is not registered", name)
	}
	if w.running {
		m.logger.Warn("source already running", zap.String("source", name))
		return nil
	}
	if interval <= 0 {
		return fmt.Errorf("interval must be positive, got %s", interval)
	}

	ctx, cancel := context.WithCancel(context.Background())
	w.interval = interval
	w.cancel = cancel
	w.done = make(chan struct{})
	w.running = true

	go m.runLoop(ctx, name, w)
	m.logger.Info("source started",
		zap.String("source", name), zap.Duration("interval", interval))
	return nil
}

// runLoop cycles the engine until cancellation. Cancellation is checked
// between cycles only: a cycle in flight always completes, so Stop blocks
// for at most one cycle (including any in-flight HTTP calls).
func (m *Manager) runLoop(ctx context.Context, name string, w *worker) {
	defer close(w.done)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		// The cycle is deliberately shielded from cancellation so that
		// stopping never interrupts an ingestion batch mid-flight.
		w.engine.Run(context.WithoutCancel(ctx))

		select {
		case <-ctx.Done():
			return
		case <-time.After(w.interval):
		}
	}
}

// Stop signals a worker to finish and blocks until its current cycle
// returns and the goroutine exits. Stopping a stopped or unknown source is
// a no-op.
func (m *Manager) Stop(name string) {
	m.mu.Lock()
	w, ok := m.workers[name]
	if !ok || !w.running {
		m.mu.Unlock()
		return
	}
	cancel, done := w.cancel, w.done
	m.mu.Unlock()

	cancel()
	<-done

	m.mu.Lock()
	w.running = false
	m.mu.Unlock()
	m.logger.Info("source stopped", zap.String("source", name))
}

// StopAll stops every running worker, blocking until all have exited.
func (m *Manager) StopAll() {
	for _, name := range m.List() {
		m.Stop(name)
	}
}

// Status reports the lifecycle state of a source.
func (m *Manager) Status(name string) Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.workers[name]
	switch {
	case !ok:
		return StatusNotRegistered
	case w.running:
		return StatusRunning
	default:
		return StatusStopped
	}
}

// List returns the registered source names, sorted.
func (m *Manager) List() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.workers))
	for name := range m.workers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
