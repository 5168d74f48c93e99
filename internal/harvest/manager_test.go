package harvest_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jobmarket-tools/harvester/internal/harvest"
)

// countingRunner counts cycles and can block to simulate a slow cycle.
type countingRunner struct {
	cycles  atomic.Int64
	block   chan struct{}
	started chan struct{}
	once    sync.Once
}

func (r *countingRunner) Run(context.Context) {
	r.cycles.Add(1)
	if r.started != nil {
		r.once.Do(func() { close(r.started) })
	}
	if r.block != nil {
		<-r.block
	}
}

func TestManager_StartStopLifecycle(t *testing.T) {
	t.Parallel()

	m := harvest.NewManager(nil)
	runner := &countingRunner{started: make(chan struct{})}
	require.NoError(t, m.Register("board", runner))
	require.Equal(t, harvest.StatusStopped, m.Status("board"))

	require.NoError(t, m.Start("board", time.Hour))
	require.Equal(t, harvest.StatusRunning, m.Status("board"))

	select {
	case <-runner.started:
	case <-time.After(2 * time.Second):
		t.Fatal("first cycle never ran")
	}

	m.Stop("board")
	require.Equal(t, harvest.StatusStopped, m.Status("board"))
	require.GreaterOrEqual(t, runner.cycles.Load(), int64(1))
}

func TestManager_StartUnregisteredFails(t *testing.T) {
	t.Parallel()

	m := harvest.NewManager(nil)
	require.Error(t, m.Start("ghost", time.Second))
	require.Equal(t, harvest.StatusNotRegistered, m.Status("ghost"))
}

func TestManager_StartTwiceIsNoOp(t *testing.T) {
	t.Parallel()

	m := harvest.NewManager(nil)
	runner := &countingRunner{started: make(chan struct{})}
	require.NoError(t, m.Register("board", runner))
	require.NoError(t, m.Start("board", time.Hour))
	defer m.Stop("board")

	// Second start must not spawn a second worker.
	require.NoError(t, m.Start("board", time.Hour))
	require.Equal(t, harvest.StatusRunning, m.Status("board"))

	<-runner.started
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, int64(1), runner.cycles.Load())
}

func TestManager_StartRejectsNonPositiveInterval(t *testing.T) {
	t.Parallel()

	m := harvest.NewManager(nil)
	require.NoError(t, m.Register("board", &countingRunner{}))
	require.Error(t, m.Start("board", 0))
	require.Equal(t, harvest.StatusStopped, m.Status("board"))
}

func TestManager_StopWaitsForInFlightCycle(t *testing.T) {
	t.Parallel()

	m := harvest.NewManager(nil)
	runner := &countingRunner{
		block:   make(chan struct{}),
		started: make(chan struct{}),
	}
	require.NoError(t, m.Register("board", runner))
	require.NoError(t, m.Start("board", time.Hour))
	<-runner.started

	stopped := make(chan struct{})
	go func() {
		m.Stop("board")
		close(stopped)
	}()

	select {
	case <-stopped:
		t.Fatal("stop returned while a cycle was still in flight")
	case <-time.After(50 * time.Millisecond):
	}

	close(runner.block)
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("stop never returned after the cycle finished")
	}
	require.Equal(t, harvest.StatusStopped, m.Status("board"))
}

func TestManager_StopUnknownIsNoOp(t *testing.T) {
	t.Parallel()

	m := harvest.NewManager(nil)
	m.Stop("ghost")

	require.NoError(t, m.Register("board", &countingRunner{}))
	m.Stop("board")
	require.Equal(t, harvest.StatusStopped, m.Status("board"))
}

func TestManager_RegisterOverRunningFails(t *testing.T) {
	t.Parallel()

	m := harvest.NewManager(nil)
	require.NoError(t, m.Register("board", &countingRunner{}))
	require.NoError(t, m.Start("board", time.Hour))
	defer m.Stop("board")

	require.Error(t, m.Register("board", &countingRunner{}))
}

func TestManager_IndependentSources(t *testing.T) {
	t.Parallel()

	m := harvest.NewManager(nil)
	blocked := &countingRunner{block: make(chan struct{}), started: make(chan struct{})}
	free := &countingRunner{started: make(chan struct{})}
	require.NoError(t, m.Register("slow", blocked))
	require.NoError(t, m.Register("fast", free))

	require.NoError(t, m.Start("slow", time.Hour))
	require.NoError(t, m.Start("fast", time.Hour))
	<-blocked.started
	<-free.started

	// The fast source stops cleanly while the slow one is mid-cycle.
	m.Stop("fast")
	require.Equal(t, harvest.StatusStopped, m.Status("fast"))
	require.Equal(t, harvest.StatusRunning, m.Status("slow"))

	close(blocked.block)
	m.StopAll()
	require.Equal(t, harvest.StatusStopped, m.Status("slow"))
}

func TestManager_ListIsSorted(t *testing.T) {
	t.Parallel()

	m := harvest.NewManager(nil)
	require.NoError(t, m.Register("zeta", &countingRunner{}))
	require.NoError(t, m.Register("alpha", &countingRunner{}))

	require.Equal(t, []string{"alpha", "zeta"}, m.List())
}
