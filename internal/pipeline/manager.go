package pipeline

import (
	"context"
	"sync"

	"github.com/rotisserie/eris"
)

// ErrBusy is returned when a stage run is requested while another is active.
var ErrBusy = eris.New("a pipeline run is already in progress")

// ErrProtectedCategory is returned when cleanup targets a category that
// holds processed work.
var ErrProtectedCategory = eris.New("only junk and uploaded-only batches can be cleaned up")

// Manager enforces single-flight stage execution and carries the
// cooperative stop signal.
type Manager struct {
	mu      sync.Mutex
	cancel  context.CancelFunc
	current string
}

// NewManager creates an idle Manager.
func NewManager() *Manager {
	return &Manager{}
}

// Begin reserves the manager for one run. It returns a derived context that
// Stop cancels and a release func the caller must invoke when the run ends.
// Returns ErrBusy while another run holds the reservation.
func (m *Manager) Begin(ctx context.Context, op string) (context.Context, func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel != nil {
		return nil, nil, eris.Wrapf(ErrBusy, "pipeline: %s blocked by running %s", op, m.current)
	}

	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.current = op

	release := func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		cancel()
		m.cancel = nil
		m.current = ""
	}
	return runCtx, release, nil
}

// Stop cancels the active run, if any. Returns false when idle.
func (m *Manager) Stop() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel == nil {
		return false
	}
	m.cancel()
	return true
}

// Running reports the active operation name, if any.
func (m *Manager) Running() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current, m.cancel != nil
}
