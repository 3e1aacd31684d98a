package session

import (
	"context"
	"fmt"
	"os"
	"time"
)

// DefaultCheckInterval is how often the Watcher re-checks session age.
const DefaultCheckInterval = 60 * time.Second

// Watcher enforces the absolute session-age ceiling out-of-band: it checks
// once immediately and then on a fixed interval, so a stale session is torn
// down proactively instead of waiting for a request to hit a 401.
type Watcher struct {
	store    *Store
	interval time.Duration
	ceiling  time.Duration
	onExpire func()
	now      func() time.Time
}

// NewWatcher creates a Watcher over store. onExpire runs after the session
// has been cleared (typically navigation back to the login entry point); it
// may be nil.
func NewWatcher(store *Store, onExpire func()) *Watcher {
	return &Watcher{
		store:    store,
		interval: DefaultCheckInterval,
		ceiling:  AgeCeiling,
		onExpire: onExpire,
		now:      time.Now,
	}
}

// Run blocks, checking session age until ctx is cancelled. The first check
// happens immediately.
func (w *Watcher) Run(ctx context.Context) {
	w.CheckOnce()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.CheckOnce()
		}
	}
}

// CheckOnce performs a single age check, tearing the session down when it is
// past the ceiling. It reports whether a teardown happened.
func (w *Watcher) CheckOnce() bool {
	sn, err := w.store.Get()
	if err != nil {
		fmt.Fprintf(os.Stderr, "session age check failed: %v\n", err)
		return false
	}

	if !sn.ExpiredByAge(w.now(), w.ceiling) {
		return false
	}

	if err := w.store.Clear(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to clear expired session: %v\n", err)
	}
	if w.onExpire != nil {
		w.onExpire()
	}
	return true
}
