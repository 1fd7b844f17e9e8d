package pipeline

import (
	"log/slog"
	"sync"
)

// FreshnessSnapshot is a point-in-time copy of a pipeline's freshness state.
type FreshnessSnapshot struct {
	WIP    string `json:"wip"`
	Latest string `json:"latest"`
	Status string `json:"status"`
}

// Freshness holds the in-flight and last produced artifact of one pipeline.
// The poll loop is the only writer; the mutex serves concurrent /status
// readers.
type Freshness struct {
	name   string
	logger *slog.Logger

	mu     sync.RWMutex
	wip    string
	latest string
	status string
}

func newFreshness(name string, logger *slog.Logger) *Freshness {
	return &Freshness{name: name, logger: logger}
}

// Snapshot returns a copy of the current state.
func (f *Freshness) Snapshot() FreshnessSnapshot {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return FreshnessSnapshot{WIP: f.wip, Latest: f.latest, Status: f.status}
}

func (f *Freshness) WIP() string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.wip
}

func (f *Freshness) Latest() string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.latest
}

func (f *Freshness) setWIP(name string) {
	f.mu.Lock()
	f.wip = name
	f.mu.Unlock()
}

// setLatest records name as the last produced artifact.
func (f *Freshness) setLatest(name string) {
	f.mu.Lock()
	f.latest = name
	f.mu.Unlock()
}

// setStatus stores status and logs it only when it differs from the
// previous one. It reports whether the status changed.
func (f *Freshness) setStatus(status string) bool {
	f.mu.Lock()
	changed := f.status != status
	f.status = status
	f.mu.Unlock()
	if changed {
		f.logger.Info(f.name+" status changed", "status", status)
	}
	return changed
}
