package socketio

import (
	"sync"
	"time"
)

// Change names what kind of player change a broadcast must cover.
type Change int

const (
	// ChangeState covers transport, position resets, modes and UI flags.
	ChangeState Change = iota
	// ChangeQueue covers a queue replacement. It implies ChangeState.
	ChangeQueue
)

// BroadcastDebouncer collapses rapid player changes into batched broadcasts.
// Multiple changes within the debounce window result in a single broadcast
// for each affected type (state and/or queue).
type BroadcastDebouncer struct {
	window        time.Duration
	stateCallback func()
	queueCallback func()

	mu           sync.Mutex
	pendingState bool
	pendingQueue bool
	timer        *time.Timer
	stopped      bool
}

// NewBroadcastDebouncer creates a debouncer with the given window duration.
func NewBroadcastDebouncer(window time.Duration, stateCallback, queueCallback func()) *BroadcastDebouncer {
	return &BroadcastDebouncer{
		window:        window,
		stateCallback: stateCallback,
		queueCallback: queueCallback,
	}
}

// Trigger records a change. The callbacks are deferred until the window
// elapses without further triggers.
func (d *BroadcastDebouncer) Trigger(c Change) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}

	switch c {
	case ChangeState:
		d.pendingState = true
	case ChangeQueue:
		d.pendingState = true
		d.pendingQueue = true
	}

	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.window, d.flush)
}

// flush fires callbacks for any pending flags and resets them. The queue goes
// out first so clients can resolve the new index against it.
func (d *BroadcastDebouncer) flush() {
	d.mu.Lock()
	doState := d.pendingState
	doQueue := d.pendingQueue
	d.pendingState = false
	d.pendingQueue = false
	stopped := d.stopped
	d.mu.Unlock()

	if stopped {
		return
	}
	if doQueue && d.queueCallback != nil {
		d.queueCallback()
	}
	if doState && d.stateCallback != nil {
		d.stateCallback()
	}
}

// Stop prevents any further callbacks from firing.
func (d *BroadcastDebouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
	}
	d.pendingState = false
	d.pendingQueue = false
}
