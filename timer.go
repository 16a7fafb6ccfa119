package cants

import "time"

// watchdog is a single-shot timer owned by one transfer, adapted from the
// teacher's HBConsumer heartbeat-timeout pattern (nil-check-then-create,
// Reset/Stop) to a per-transfer rather than per-node timer.
type watchdog struct {
	timer *time.Timer
}

// arm (re)starts the watchdog so fn runs after d, unless stopped first. fn
// runs on its own goroutine per time.AfterFunc semantics; callers must
// re-acquire the engine lock inside fn before touching engine state.
func (w *watchdog) arm(d time.Duration, fn func()) {
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(d, fn)
}

// stop disarms the watchdog. Safe to call when already stopped or never
// armed.
func (w *watchdog) stop() {
	if w.timer != nil {
		w.timer.Stop()
	}
}
