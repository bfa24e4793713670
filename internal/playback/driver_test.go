package playback

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/edumarques81/hymnal-backend/internal/audio"
	"github.com/edumarques81/hymnal-backend/internal/domain/player"
)

// fakeOutput records calls and lets tests emit media events.
type fakeOutput struct {
	mu        sync.Mutex
	calls     []string
	current   audio.Source
	ready     bool
	playErr   error
	listeners map[int]audio.Listener
	next      int
	seeks     []float64
	gate      chan struct{} // when set, Load waits for it
	stubborn  bool          // Load keeps waiting for gate after cancellation
}

func newFakeOutput() *fakeOutput {
	return &fakeOutput{listeners: make(map[int]audio.Listener)}
}

func (f *fakeOutput) record(call string) {
	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.mu.Unlock()
}

func (f *fakeOutput) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeOutput) count(call string) int {
	n := 0
	for _, c := range f.Calls() {
		if c == call {
			n++
		}
	}
	return n
}

func (f *fakeOutput) Load(ctx context.Context, src audio.Source) error {
	f.record("load " + src.TrackID)
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			if !f.stubborn {
				return ctx.Err()
			}
			<-f.gate
		}
	}
	f.mu.Lock()
	f.current = src
	f.ready = false
	f.mu.Unlock()
	return nil
}

func (f *fakeOutput) Current() audio.Source {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current
}

func (f *fakeOutput) Ready() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ready
}

func (f *fakeOutput) Play() error {
	f.record("play")
	return f.playErr
}

func (f *fakeOutput) Pause() error {
	f.record("pause")
	return nil
}

func (f *fakeOutput) Seek(seconds float64) error {
	f.record("seek")
	f.mu.Lock()
	f.seeks = append(f.seeks, seconds)
	f.mu.Unlock()
	return nil
}

func (f *fakeOutput) Stop() error {
	f.record("stop")
	f.mu.Lock()
	f.current = audio.Source{}
	f.mu.Unlock()
	return nil
}

func (f *fakeOutput) Subscribe(l audio.Listener) func() {
	f.mu.Lock()
	id := f.next
	f.next++
	f.listeners[id] = l
	f.mu.Unlock()
	return func() {
		f.mu.Lock()
		delete(f.listeners, id)
		f.mu.Unlock()
	}
}

func (f *fakeOutput) Close() error { return nil }

func (f *fakeOutput) listenerCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.listeners)
}

func (f *fakeOutput) emit(ev audio.Event) {
	f.mu.Lock()
	if ev.Type == audio.EventLoaded {
		f.ready = true
	}
	ls := make([]audio.Listener, 0, len(f.listeners))
	for _, l := range f.listeners {
		ls = append(ls, l)
	}
	f.mu.Unlock()
	for _, l := range ls {
		l(ev)
	}
}

// fakeCounter counts play increments.
type fakeCounter struct {
	mu    sync.Mutex
	plays map[string]int
}

func (c *fakeCounter) Increment(trackID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.plays == nil {
		c.plays = make(map[string]int)
	}
	c.plays[trackID]++
}

func (c *fakeCounter) get(trackID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.plays[trackID]
}

// drain waits for the pending load, then processes queued load results and
// media events on the test goroutine.
func (d *Driver) drain() {
	if d.loading != nil {
		<-d.loading
	}
	for {
		select {
		case res := <-d.loads:
			d.handleLoad(res)
		case me := <-d.events:
			d.handleMedia(me)
		default:
			return
		}
	}
}

func waitUntil(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func simTracks() []player.Track {
	return []player.Track{
		{ID: "A", Title: "A", Duration: 10},
		{ID: "B", Title: "B", Duration: 20},
	}
}

func mediaTracks() []player.Track {
	return []player.Track{
		{ID: "A", AudioURL: "http://media/a.mp3", Duration: 100},
		{ID: "B", AudioURL: "http://media/b.mp3", Duration: 200},
	}
}

func TestSimulatedClockAdvancesToNextTrack(t *testing.T) {
	m := player.NewMachine()
	d := NewDriver(m)
	ctx := context.Background()

	m.SetQueue(simTracks(), 0)
	d.reconcile(ctx)

	if !m.Snapshot().IsPlaying {
		t.Fatal("expected playing after SetQueue")
	}
	if d.mode != modeSim || d.tickC == nil {
		t.Fatalf("expected simulated clock running, mode=%v", d.mode)
	}

	for i := 0; i < 39; i++ {
		d.simTick()
		d.reconcile(ctx)
	}
	if got := m.Snapshot().CurrentTime; got != 9.75 {
		t.Fatalf("expected 9.75 after 39 ticks, got %v", got)
	}

	d.simTick()
	s := m.Snapshot()
	if s.TrackID() != "B" {
		t.Fatalf("expected track B, got %q", s.TrackID())
	}
	if s.CurrentTime != 0 || s.Duration != 20 {
		t.Errorf("expected time 0 duration 20, got %v/%v", s.CurrentTime, s.Duration)
	}

	d.reconcile(ctx)
	if d.loadedID != "B" || d.tickC == nil {
		t.Error("expected simulated clock restarted for B")
	}
}

func TestSimulatedClockStopsWithPause(t *testing.T) {
	m := player.NewMachine()
	d := NewDriver(m)
	ctx := context.Background()

	m.SetQueue(simTracks(), 0)
	d.reconcile(ctx)
	first := d.ticker

	m.Pause()
	d.reconcile(ctx)
	if d.tickC != nil {
		t.Fatal("expected clock stopped on pause")
	}

	m.Play()
	d.reconcile(ctx)
	if d.tickC == nil || d.ticker == first {
		t.Fatal("expected a fresh clock on resume")
	}

	m.SeekTo(5)
	d.reconcile(ctx)
	d.simTick()
	if got := m.Snapshot().CurrentTime; got != 5.25 {
		t.Errorf("expected clock to continue from seek, got %v", got)
	}
}

func TestSimulatedEndOfQueueStops(t *testing.T) {
	m := player.NewMachine()
	d := NewDriver(m)
	ctx := context.Background()

	m.SetQueue([]player.Track{{ID: "A", Duration: 0.5}}, 0)
	d.reconcile(ctx)

	d.simTick()
	d.reconcile(ctx)
	d.simTick()
	d.reconcile(ctx)

	s := m.Snapshot()
	if s.IsPlaying {
		t.Error("expected playback stopped at end of queue")
	}
	if d.tickC != nil {
		t.Error("expected clock stopped")
	}
}

func TestSimulatedRepeatOneReplays(t *testing.T) {
	m := player.NewMachine()
	d := NewDriver(m)
	ctx := context.Background()

	m.SetQueue([]player.Track{{ID: "A", Duration: 0.25}}, 0)
	m.SetRepeat(player.RepeatOne)
	d.reconcile(ctx)

	d.simTick()
	if d.tickC != nil {
		t.Fatal("expected clock stopped at end")
	}
	d.reconcile(ctx)
	if d.tickC == nil {
		t.Error("expected clock restarted for replay")
	}
	if s := m.Snapshot(); s.CurrentIndex != 0 || !s.IsPlaying {
		t.Errorf("expected replay of index 0, got %+v", s)
	}
}

func TestRealMediaLoadsOncePerTrack(t *testing.T) {
	m := player.NewMachine()
	out := newFakeOutput()
	counter := &fakeCounter{}
	d := NewDriver(m, WithOutput(out), WithPlayCounter(counter))
	ctx := context.Background()

	m.SetQueue(mediaTracks(), 0)
	d.reconcile(ctx)
	d.drain()

	if out.Current().TrackID != "A" {
		t.Fatalf("expected A loaded, got %q", out.Current().TrackID)
	}
	if out.count("play") != 0 {
		t.Error("expected no play before metadata")
	}

	out.emit(audio.Event{Type: audio.EventLoaded, Source: out.Current(), Duration: 98.5})
	d.drain()

	if got := m.Snapshot().Duration; got != 98.5 {
		t.Errorf("expected measured duration 98.5, got %v", got)
	}
	if out.count("play") != 1 {
		t.Errorf("expected playback started once loaded, calls %v", out.Calls())
	}

	// Incidental changes must not reload.
	m.ExpandNowPlaying()
	d.reconcile(ctx)
	m.UpdateTime(3)
	d.reconcile(ctx)

	if out.count("load A") != 1 || counter.get("A") != 1 {
		t.Errorf("expected exactly one load and play count, loads=%d plays=%d", out.count("load A"), counter.get("A"))
	}
}

func TestRealMediaTimeAndEnd(t *testing.T) {
	m := player.NewMachine()
	out := newFakeOutput()
	d := NewDriver(m, WithOutput(out))
	ctx := context.Background()

	m.SetQueue(mediaTracks(), 0)
	d.reconcile(ctx)
	d.drain()
	src := out.Current()
	out.emit(audio.Event{Type: audio.EventLoaded, Source: src})
	out.emit(audio.Event{Type: audio.EventTime, Source: src, Position: 4.2})
	d.drain()

	if got := m.Snapshot().CurrentTime; got != 4.2 {
		t.Errorf("expected time 4.2, got %v", got)
	}

	out.emit(audio.Event{Type: audio.EventEnded, Source: src})
	d.drain()
	if got := m.Snapshot().TrackID(); got != "B" {
		t.Fatalf("expected B after ended, got %q", got)
	}

	d.reconcile(ctx)
	d.drain()
	if out.Current().TrackID != "B" {
		t.Errorf("expected B loaded, got %q", out.Current().TrackID)
	}
	if out.listenerCount() != 1 {
		t.Errorf("expected exactly one listener attached, got %d", out.listenerCount())
	}
}

func TestStaleEventsAreDropped(t *testing.T) {
	m := player.NewMachine()
	out := newFakeOutput()
	d := NewDriver(m, WithOutput(out))
	ctx := context.Background()

	m.SetQueue(mediaTracks(), 0)
	d.reconcile(ctx)
	d.drain()
	srcA := out.Current()
	out.emit(audio.Event{Type: audio.EventLoaded, Source: srcA})
	d.drain()

	// An ended event for A is still queued when the user moves on.
	out.emit(audio.Event{Type: audio.EventEnded, Source: srcA})
	m.Next()
	d.reconcile(ctx)
	d.drain()

	s := m.Snapshot()
	if s.TrackID() != "B" {
		t.Fatalf("expected to stay on B, got %q", s.TrackID())
	}
	if !s.IsPlaying {
		t.Error("expected stale ended not to stop playback")
	}

	out.emit(audio.Event{Type: audio.EventTime, Source: srcA, Position: 50})
	d.drain()
	if got := m.Snapshot().CurrentTime; got != 0 {
		t.Errorf("expected stale time ignored, got %v", got)
	}
}

func TestRealMediaPlayPause(t *testing.T) {
	m := player.NewMachine()
	out := newFakeOutput()
	d := NewDriver(m, WithOutput(out))
	ctx := context.Background()

	m.SetQueue(mediaTracks(), 0)
	m.Pause()
	d.reconcile(ctx)
	d.drain()

	m.Play()
	d.reconcile(ctx)
	if out.count("play") != 0 {
		t.Error("expected play deferred until ready")
	}

	out.emit(audio.Event{Type: audio.EventLoaded, Source: out.Current()})
	d.drain()
	if out.count("play") != 1 {
		t.Fatal("expected loaded handler to start playback")
	}

	m.Pause()
	d.reconcile(ctx)
	m.Play()
	d.reconcile(ctx)
	if out.count("pause") != 1 || out.count("play") != 2 {
		t.Errorf("unexpected calls %v", out.Calls())
	}
}

func TestPlayErrorIsSwallowed(t *testing.T) {
	m := player.NewMachine()
	out := newFakeOutput()
	out.playErr = errors.New("autoplay blocked")
	d := NewDriver(m, WithOutput(out))

	m.SetQueue(mediaTracks(), 0)
	d.reconcile(context.Background())
	d.drain()
	out.emit(audio.Event{Type: audio.EventLoaded, Source: out.Current()})
	d.drain()

	if !m.Snapshot().IsPlaying {
		t.Error("expected isPlaying to stay true after a failed start")
	}
}

func TestSeekMovesRealPlayback(t *testing.T) {
	m := player.NewMachine()
	out := newFakeOutput()
	d := NewDriver(m, WithOutput(out))
	ctx := context.Background()

	m.SetQueue(mediaTracks(), 0)
	d.reconcile(ctx)
	d.drain()
	out.emit(audio.Event{Type: audio.EventLoaded, Source: out.Current()})
	d.drain()

	m.SeekTo(30)
	d.reconcile(ctx)

	if len(out.seeks) != 1 || out.seeks[0] != 30 {
		t.Errorf("expected seek to 30, got %v", out.seeks)
	}

	m.UpdateTime(31)
	d.reconcile(ctx)
	if len(out.seeks) != 1 {
		t.Error("expected measured time not to seek the output")
	}
}

func TestRepeatOneRestartsRealMedia(t *testing.T) {
	m := player.NewMachine()
	out := newFakeOutput()
	counter := &fakeCounter{}
	d := NewDriver(m, WithOutput(out), WithPlayCounter(counter))
	ctx := context.Background()

	m.SetQueue(mediaTracks()[:1], 0)
	m.SetRepeat(player.RepeatOne)
	d.reconcile(ctx)
	d.drain()
	src := out.Current()
	out.emit(audio.Event{Type: audio.EventLoaded, Source: src})
	d.drain()

	out.emit(audio.Event{Type: audio.EventEnded, Source: src})
	d.drain()
	d.reconcile(ctx)

	if len(out.seeks) != 1 || out.seeks[0] != 0 {
		t.Errorf("expected seek to 0, got %v", out.seeks)
	}
	if out.count("play") != 2 {
		t.Errorf("expected replay to start playback again, calls %v", out.Calls())
	}
	if out.count("load A") != 1 || counter.get("A") != 1 {
		t.Error("expected replay without reload")
	}
}

func TestNoMediaDetachesOutput(t *testing.T) {
	m := player.NewMachine()
	out := newFakeOutput()
	d := NewDriver(m, WithOutput(out))
	ctx := context.Background()

	m.SetQueue(mediaTracks(), 0)
	d.reconcile(ctx)
	d.drain()

	m.PlayTrack(player.Track{ID: "X", Duration: 30}, nil)
	d.reconcile(ctx)

	if out.Current() != (audio.Source{}) {
		t.Error("expected output detached for a track without media")
	}
	if d.mode != modeSim || d.tickC == nil {
		t.Error("expected simulated clock")
	}
	if out.listenerCount() != 0 {
		t.Errorf("expected listeners removed, got %d", out.listenerCount())
	}

	m.Clear()
	d.reconcile(ctx)
	if d.tickC != nil || d.loadedID != "" {
		t.Error("expected everything torn down without a track")
	}
}

func TestRemountResumesWithoutReload(t *testing.T) {
	m := player.NewMachine()
	out := newFakeOutput()
	counter := &fakeCounter{}
	ctx := context.Background()

	first := NewDriver(m, WithOutput(out), WithPlayCounter(counter))
	m.SetQueue(mediaTracks(), 1)
	first.reconcile(ctx)
	first.drain()
	out.emit(audio.Event{Type: audio.EventLoaded, Source: out.Current()})
	first.drain()
	first.teardown()

	if out.count("pause") != 1 {
		t.Fatal("expected teardown to pause")
	}
	if out.Current().TrackID != "B" {
		t.Fatal("expected teardown to keep the source")
	}

	second := NewDriver(m, WithOutput(out), WithPlayCounter(counter))
	second.reconcile(ctx)

	if out.count("load B") != 1 || counter.get("B") != 1 {
		t.Errorf("expected no reload on remount, calls %v", out.Calls())
	}
	if out.count("play") != 2 {
		t.Errorf("expected playback resumed, calls %v", out.Calls())
	}
	if out.listenerCount() != 1 {
		t.Errorf("expected listeners re-attached once, got %d", out.listenerCount())
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	m := player.NewMachine()
	out := newFakeOutput()
	d := NewDriver(m, WithOutput(out), WithTickInterval(time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- d.Run(ctx) }()

	m.SetQueue([]player.Track{{ID: "A", Duration: 0.5}, {ID: "B", Duration: 60}}, 0)

	deadline := time.Now().Add(2 * time.Second)
	for m.Snapshot().TrackID() != "B" {
		if time.Now().After(deadline) {
			t.Fatal("simulated clock never advanced to B")
		}
		time.Sleep(2 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("expected nil error, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not return")
	}
	if out.count("pause") == 0 {
		t.Error("expected output paused on teardown")
	}
}

func TestSlowLoadDoesNotBlockLoop(t *testing.T) {
	m := player.NewMachine()
	out := newFakeOutput()
	out.gate = make(chan struct{})
	counter := &fakeCounter{}
	d := NewDriver(m, WithOutput(out), WithPlayCounter(counter))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		d.Run(ctx)
	}()
	defer func() {
		cancel()
		<-done
	}()

	m.SetQueue(mediaTracks(), 0)
	waitUntil(t, "load A", func() bool { return out.count("load A") == 1 })

	stops := out.count("stop")
	m.Clear()
	waitUntil(t, "stop after Clear", func() bool { return out.count("stop") > stops })

	if d.Loaded("A") {
		t.Error("expected A not loaded after Clear")
	}
	if got := out.Current(); got != (audio.Source{}) {
		t.Errorf("expected cancelled load not to reach the output, got %+v", got)
	}
	if counter.get("A") != 0 {
		t.Error("expected no play count for a cancelled load")
	}
}

func TestSupersededLoadIsDetached(t *testing.T) {
	m := player.NewMachine()
	out := newFakeOutput()
	out.gate = make(chan struct{})
	out.stubborn = true
	counter := &fakeCounter{}
	d := NewDriver(m, WithOutput(out), WithPlayCounter(counter))
	ctx := context.Background()

	m.SetQueue(mediaTracks(), 0)
	d.reconcile(ctx)
	m.PlayTrack(player.Track{ID: "X", Duration: 30}, nil)
	d.reconcile(ctx)

	// A finishes loading after the output was detached for X.
	close(out.gate)
	d.drain()

	if got := out.Current(); got != (audio.Source{}) {
		t.Errorf("expected output detached again, got %+v", got)
	}
	if counter.get("A") != 0 {
		t.Error("expected no play count for a superseded load")
	}
	if !d.Loaded("X") || d.Loaded("A") {
		t.Error("expected the simulated track to be the loaded one")
	}
}

func TestLoadedFollowsLoadResult(t *testing.T) {
	m := player.NewMachine()
	out := newFakeOutput()
	out.gate = make(chan struct{})
	d := NewDriver(m, WithOutput(out))

	m.SetQueue(mediaTracks(), 0)
	d.reconcile(context.Background())
	if d.Loaded("A") {
		t.Error("expected A not loaded while Load runs")
	}

	close(out.gate)
	d.drain()
	if !d.Loaded("A") {
		t.Error("expected A loaded")
	}
	if d.Loaded("") || d.Loaded("B") {
		t.Error("expected only A loaded")
	}
}
