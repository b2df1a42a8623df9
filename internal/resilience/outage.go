package resilience

import (
	"sync"

	"github.com/rotisserie/eris"
)

// ErrOutage is returned when consecutive failures reach the outage threshold.
var ErrOutage = eris.New("consecutive failure threshold reached, provider appears down")

// OutageTracker counts consecutive failures across a run of calls to one
// external service. Once the threshold is reached, Tripped reports true and
// the caller should stop issuing new calls. Any success resets the count.
type OutageTracker struct {
	mu        sync.Mutex
	threshold int
	failures  int
}

// NewOutageTracker creates a tracker that trips after threshold consecutive
// failures. A threshold <= 0 defaults to 5.
func NewOutageTracker(threshold int) *OutageTracker {
	if threshold <= 0 {
		threshold = 5
	}
	return &OutageTracker{threshold: threshold}
}

// Record observes the outcome of one call.
func (o *OutageTracker) Record(err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if err == nil {
		o.failures = 0
		return
	}
	o.failures++
}

// Tripped reports whether the failure threshold has been reached.
func (o *OutageTracker) Tripped() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.failures >= o.threshold
}

// Failures returns the current consecutive failure count.
func (o *OutageTracker) Failures() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.failures
}

// Reset clears the failure count.
func (o *OutageTracker) Reset() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.failures = 0
}
