package orchestrator

import (
	"sync"
	"time"
)

// watchdog fires once after a quiet period with no portal activity. A zero
// timeout disables it entirely.
type watchdog struct {
	timeout time.Duration
	fire    func()

	mu      sync.Mutex
	timer   *time.Timer
	stopped bool
}

func newWatchdog(timeout time.Duration, fire func()) *watchdog {
	return &watchdog{timeout: timeout, fire: fire}
}

// Arm starts the countdown. Calling Arm on a disabled watchdog is a no-op.
func (w *watchdog) Arm() {
	if w.timeout <= 0 {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stopped = false
	if w.timer == nil {
		w.timer = time.AfterFunc(w.timeout, w.fire)
		return
	}
	w.timer.Reset(w.timeout)
}

// Reset defers expiry by another full timeout. Activity after Stop does not
// rearm.
func (w *watchdog) Reset() {
	if w.timeout <= 0 {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer == nil || w.stopped {
		return
	}
	w.timer.Reset(w.timeout)
}

// Stop cancels the countdown permanently, as after a successful connection.
func (w *watchdog) Stop() {
	if w.timeout <= 0 {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stopped = true
	if w.timer != nil {
		w.timer.Stop()
	}
}
