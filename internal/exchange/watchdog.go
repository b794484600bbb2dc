package exchange

import (
	"sync"
	"sync/atomic"
	"time"
)

const (
	// WatchPeriod is the watchdog wake-up interval.
	WatchPeriod = 3 * time.Second
	// LivenessTimeout is how long without a frame before a restart is
	// requested: 2 * WatchPeriod.
	LivenessTimeout = 2 * WatchPeriod
	// MaxRestartAttemptsNoDelay is the number of consecutive restarts that
	// proceed immediately before backoff kicks in.
	MaxRestartAttemptsNoDelay = 3
)

// Hooks are the overridable behaviors a concrete exchange subscriber plugs
// into WatchdogBase: the authenticate/subscribe_events/reset_active_channels
// triad plus ping, on top of the read_handler already wired through wsconn.
type Hooks struct {
	Authenticate        func() error
	SubscribeEvents     func() error
	ResetActiveChannels func()
	Ping                func() error
}

// WatchdogBase implements the watch-thread behavior common to every
// WebSocket subscriber: liveness tracking, coalesced restart requests,
// post-init authenticate/subscribe/ping cadence, and no-delay-then-backoff
// restart pacing. Exchange subscribers hold one, supply Hooks, and call
// Touch on every received frame.
type WatchdogBase struct {
	hooks Hooks

	running      int32
	initReceived int32
	authed       int32
	restartFlag  int32

	lastMessage atomic.Int64 // UnixNano

	restartAttempts int
	mu              sync.Mutex
}

// NewWatchdogBase constructs a watchdog around the given hooks. Hooks with
// a nil field are treated as no-ops.
func NewWatchdogBase(hooks Hooks) *WatchdogBase {
	if hooks.Authenticate == nil {
		hooks.Authenticate = func() error { return nil }
	}
	if hooks.SubscribeEvents == nil {
		hooks.SubscribeEvents = func() error { return nil }
	}
	if hooks.ResetActiveChannels == nil {
		hooks.ResetActiveChannels = func() {}
	}
	if hooks.Ping == nil {
		hooks.Ping = func() error { return nil }
	}
	return &WatchdogBase{hooks: hooks}
}

// Touch records that a frame (data or control) was just received.
func (w *WatchdogBase) Touch() {
	w.lastMessage.Store(time.Now().UnixNano())
}

// SetInitReceived marks the session-bootstrap event as observed.
func (w *WatchdogBase) SetInitReceived(v bool) {
	if v {
		atomic.StoreInt32(&w.initReceived, 1)
	} else {
		atomic.StoreInt32(&w.initReceived, 0)
	}
}

// InitReceived reports whether the bootstrap event has been observed.
func (w *WatchdogBase) InitReceived() bool {
	return atomic.LoadInt32(&w.initReceived) != 0
}

// Restart is level-triggered and coalesced: repeated calls before the watch
// thread observes the flag collapse into a single restart cycle. If called
// before InitReceived, it still takes effect once init occurs, since the
// watch loop only consumes the flag — it never requires init first.
func (w *WatchdogBase) Restart() {
	atomic.StoreInt32(&w.restartFlag, 1)
}

func (w *WatchdogBase) consumeRestart() bool {
	return atomic.CompareAndSwapInt32(&w.restartFlag, 1, 0)
}

// Run drives the watch thread until stopCh is closed. isOpen reports
// whether the underlying session currently has a live connection.
func (w *WatchdogBase) Run(stopCh <-chan struct{}, isOpen func() bool) {
	atomic.StoreInt32(&w.running, 1)
	defer atomic.StoreInt32(&w.running, 0)

	w.Touch()
	ticker := time.NewTicker(WatchPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
		}

		restartRequested := w.consumeRestart()

		last := time.Unix(0, w.lastMessage.Load())
		if !last.IsZero() && time.Since(last) > LivenessTimeout {
			restartRequested = true
		}

		if restartRequested {
			w.doRestart()
			w.backoffIfNeeded(stopCh)
			continue
		}
		w.restartAttempts = 0

		if isOpen() && w.InitReceived() {
			if atomic.CompareAndSwapInt32(&w.authed, 0, 1) {
				if err := w.hooks.Authenticate(); err != nil {
					atomic.StoreInt32(&w.authed, 0)
				}
			}
			w.hooks.SubscribeEvents()
			w.hooks.Ping()
		}
	}
}

func (w *WatchdogBase) doRestart() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.SetInitReceived(false)
	atomic.StoreInt32(&w.authed, 0)
	w.hooks.ResetActiveChannels()
}

// backoffIfNeeded implements the "first N restarts proceed immediately,
// further ones wait one watch period" policy.
func (w *WatchdogBase) backoffIfNeeded(stopCh <-chan struct{}) {
	w.restartAttempts++
	if w.restartAttempts <= MaxRestartAttemptsNoDelay {
		return
	}
	select {
	case <-stopCh:
	case <-time.After(WatchPeriod):
	}
}
