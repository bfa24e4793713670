package socketio

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestDebouncerRapidStateChangesCollapseToOne(t *testing.T) {
	var stateCalls int32
	var queueCalls int32

	d := NewBroadcastDebouncer(50*time.Millisecond,
		func() { atomic.AddInt32(&stateCalls, 1) },
		func() { atomic.AddInt32(&queueCalls, 1) },
	)
	defer d.Stop()

	// A scrub produces a burst of seeks
	for i := 0; i < 10; i++ {
		d.Trigger(ChangeState)
	}

	time.Sleep(100 * time.Millisecond)

	if got := atomic.LoadInt32(&stateCalls); got != 1 {
		t.Errorf("expected 1 state callback, got %d", got)
	}
	if got := atomic.LoadInt32(&queueCalls); got != 0 {
		t.Errorf("expected 0 queue callbacks, got %d", got)
	}
}

func TestDebouncerSpacedTriggersExtendWindow(t *testing.T) {
	var stateCalls int32

	d := NewBroadcastDebouncer(50*time.Millisecond,
		func() { atomic.AddInt32(&stateCalls, 1) },
		func() {},
	)
	defer d.Stop()

	for i := 0; i < 20; i++ {
		d.Trigger(ChangeState)
		time.Sleep(5 * time.Millisecond)
	}

	time.Sleep(100 * time.Millisecond)

	if got := atomic.LoadInt32(&stateCalls); got != 1 {
		t.Errorf("expected 1 state callback for spaced triggers, got %d", got)
	}
}

func TestDebouncerQueueTriggersBothStateAndQueue(t *testing.T) {
	var mu sync.Mutex
	var order []string

	d := NewBroadcastDebouncer(50*time.Millisecond,
		func() { mu.Lock(); order = append(order, "state"); mu.Unlock() },
		func() { mu.Lock(); order = append(order, "queue"); mu.Unlock() },
	)
	defer d.Stop()

	d.Trigger(ChangeQueue)

	time.Sleep(100 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if len(order) != 2 || order[0] != "queue" || order[1] != "state" {
		t.Errorf("expected [queue state], got %v", order)
	}
}

func TestDebouncerMixedChangesWithinWindow(t *testing.T) {
	var stateCalls int32
	var queueCalls int32

	d := NewBroadcastDebouncer(50*time.Millisecond,
		func() { atomic.AddInt32(&stateCalls, 1) },
		func() { atomic.AddInt32(&queueCalls, 1) },
	)
	defer d.Stop()

	d.Trigger(ChangeState)
	d.Trigger(ChangeQueue)
	d.Trigger(ChangeState)

	time.Sleep(100 * time.Millisecond)

	if got := atomic.LoadInt32(&stateCalls); got != 1 {
		t.Errorf("expected 1 state callback for mixed changes, got %d", got)
	}
	if got := atomic.LoadInt32(&queueCalls); got != 1 {
		t.Errorf("expected 1 queue callback for mixed changes, got %d", got)
	}
}

func TestDebouncerSeparateWindowsFireIndependently(t *testing.T) {
	var stateCalls int32

	d := NewBroadcastDebouncer(50*time.Millisecond,
		func() { atomic.AddInt32(&stateCalls, 1) },
		func() {},
	)
	defer d.Stop()

	d.Trigger(ChangeState)
	time.Sleep(100 * time.Millisecond)

	d.Trigger(ChangeState)
	time.Sleep(100 * time.Millisecond)

	if got := atomic.LoadInt32(&stateCalls); got != 2 {
		t.Errorf("expected 2 state callbacks for separate windows, got %d", got)
	}
}

func TestDebouncerStopPreventsCallbacks(t *testing.T) {
	var stateCalls int32

	d := NewBroadcastDebouncer(50*time.Millisecond,
		func() { atomic.AddInt32(&stateCalls, 1) },
		func() {},
	)

	d.Trigger(ChangeState)
	d.Stop()

	time.Sleep(100 * time.Millisecond)

	if got := atomic.LoadInt32(&stateCalls); got != 0 {
		t.Errorf("expected 0 state callbacks after stop, got %d", got)
	}
}

func TestDebouncerTriggerAfterStopIsIgnored(t *testing.T) {
	var stateCalls int32

	d := NewBroadcastDebouncer(50*time.Millisecond,
		func() { atomic.AddInt32(&stateCalls, 1) },
		func() {},
	)

	d.Stop()
	d.Trigger(ChangeState)

	time.Sleep(100 * time.Millisecond)

	if got := atomic.LoadInt32(&stateCalls); got != 0 {
		t.Errorf("expected 0 state callbacks after stop+trigger, got %d", got)
	}
}
