package audio

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	gompd "github.com/fhs/gompd/v2/mpd"
)

// MockMPDClient records commands and serves a scripted status.
type MockMPDClient struct {
	mu       sync.Mutex
	commands []string
	state    string
	elapsed  string
	duration string
	nextID   int
	events   chan string
	closed   bool
	failAdd  bool
}

func newMockMPDClient() *MockMPDClient {
	return &MockMPDClient{
		state:    "stop",
		duration: "183.5",
		nextID:   7,
		events:   make(chan string, 4),
	}
}

func (m *MockMPDClient) record(cmd string) {
	m.mu.Lock()
	m.commands = append(m.commands, cmd)
	m.mu.Unlock()
}

func (m *MockMPDClient) Commands() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.commands...)
}

func (m *MockMPDClient) setState(state, elapsed string) {
	m.mu.Lock()
	m.state = state
	m.elapsed = elapsed
	m.mu.Unlock()
}

func (m *MockMPDClient) Status() (gompd.Attrs, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return gompd.Attrs{"state": m.state, "elapsed": m.elapsed}, nil
}

func (m *MockMPDClient) Clear() error { m.record("clear"); return nil }

func (m *MockMPDClient) AddID(uri string) (int, error) {
	m.record("addid " + uri)
	if m.failAdd {
		return 0, errors.New("add failed")
	}
	return m.nextID, nil
}

func (m *MockMPDClient) SongInfo(id int) (gompd.Attrs, error) {
	return gompd.Attrs{"duration": m.duration}, nil
}

func (m *MockMPDClient) PlayID(id int) error {
	m.record("playid")
	m.setState("play", "0")
	return nil
}

func (m *MockMPDClient) Pause(pause bool) error {
	if pause {
		m.record("pause")
		m.setState("pause", m.elapsed)
	} else {
		m.record("resume")
		m.setState("play", m.elapsed)
	}
	return nil
}

func (m *MockMPDClient) Stop() error { m.record("stop"); return nil }

func (m *MockMPDClient) SeekCur(pos float64) error { m.record("seekcur"); return nil }

func (m *MockMPDClient) Watch(ctx context.Context, subsystems ...string) (<-chan string, error) {
	return m.events, nil
}

func (m *MockMPDClient) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

// eventLog collects listener events.
type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) listen(ev Event) {
	l.mu.Lock()
	l.events = append(l.events, ev)
	l.mu.Unlock()
}

func (l *eventLog) has(typ EventType) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, ev := range l.events {
		if ev.Type == typ {
			return true
		}
	}
	return false
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestMPDOutputLoad(t *testing.T) {
	client := newMockMPDClient()
	out := NewMPDOutput(client, WithPollInterval(10*time.Millisecond))
	defer out.Close()

	var log eventLog
	unsubscribe := out.Subscribe(log.listen)
	defer unsubscribe()

	src := Source{TrackID: "a", URL: "http://media/a.mp3"}
	if err := out.Load(context.Background(), src); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if out.Current() != src {
		t.Errorf("expected current %v, got %v", src, out.Current())
	}
	if !out.Ready() {
		t.Error("expected ready after load")
	}

	log.mu.Lock()
	first := log.events[0]
	log.mu.Unlock()
	if first.Type != EventLoaded || first.Duration != 183.5 {
		t.Errorf("expected loaded event with duration 183.5, got %+v", first)
	}

	cmds := client.Commands()
	if len(cmds) != 2 || cmds[0] != "clear" || cmds[1] != "addid http://media/a.mp3" {
		t.Errorf("unexpected commands %v", cmds)
	}
}

func TestMPDOutputLoadCancelled(t *testing.T) {
	client := newMockMPDClient()
	out := NewMPDOutput(client, WithPollInterval(10*time.Millisecond))
	defer out.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := out.Load(ctx, Source{TrackID: "a", URL: "http://media/a.mp3"}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if out.Current() != (Source{}) || out.Ready() {
		t.Error("expected nothing loaded after a cancelled load")
	}
}

func TestMPDOutputLoadFailure(t *testing.T) {
	client := newMockMPDClient()
	client.failAdd = true
	out := NewMPDOutput(client)
	defer out.Close()

	if err := out.Load(context.Background(), Source{TrackID: "a", URL: "x"}); err == nil {
		t.Fatal("expected error")
	}
	if out.Ready() || out.Current() != (Source{}) {
		t.Error("expected output to stay detached after a failed load")
	}
	if err := out.Play(); err == nil {
		t.Error("expected Play without a source to fail")
	}
}

func TestMPDOutputPendingSeek(t *testing.T) {
	client := newMockMPDClient()
	out := NewMPDOutput(client)
	defer out.Close()

	out.Load(context.Background(), Source{TrackID: "a", URL: "a"})
	out.Seek(42)
	out.Play()
	out.Pause()
	out.Play()

	want := []string{"clear", "addid a", "playid", "seekcur", "pause", "resume"}
	got := client.Commands()
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("command %d: expected %q, got %q", i, want[i], got[i])
		}
	}
}

func TestMPDOutputProgressAndEnd(t *testing.T) {
	client := newMockMPDClient()
	out := NewMPDOutput(client, WithPollInterval(5*time.Millisecond))
	defer out.Close()

	var log eventLog
	out.Subscribe(log.listen)

	out.Load(context.Background(), Source{TrackID: "a", URL: "a"})
	out.Play()
	client.setState("play", "1.5")

	waitFor(t, func() bool { return log.has(EventTime) })

	client.setState("stop", "")
	client.events <- "player"
	waitFor(t, func() bool { return log.has(EventEnded) })

	// A finished song restarts from PlayID.
	out.Seek(0)
	out.Play()
	cmds := client.Commands()
	if cmds[len(cmds)-1] != "playid" {
		t.Errorf("expected restart via playid, got %v", cmds)
	}
}

func TestMPDOutputStopDetaches(t *testing.T) {
	client := newMockMPDClient()
	out := NewMPDOutput(client)

	out.Load(context.Background(), Source{TrackID: "a", URL: "a"})
	if err := out.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if out.Current() != (Source{}) || out.Ready() {
		t.Error("expected detached output")
	}

	out.Close()
	if !client.closed {
		t.Error("expected Close to close the MPD client")
	}
}

func TestListenersUnsubscribe(t *testing.T) {
	var ls listeners
	var a, b int
	offA := ls.add(func(Event) { a++ })
	ls.add(func(Event) { b++ })

	ls.emit(Event{Type: EventTime})
	offA()
	offA()
	ls.emit(Event{Type: EventTime})

	if a != 1 || b != 2 {
		t.Errorf("expected a=1 b=2, got a=%d b=%d", a, b)
	}
}

func TestEventTypeString(t *testing.T) {
	tests := map[EventType]string{
		EventLoaded:   "loaded",
		EventTime:     "time",
		EventEnded:    "ended",
		EventType(42): "unknown",
	}
	for typ, want := range tests {
		if got := typ.String(); got != want {
			t.Errorf("expected %q, got %q", want, got)
		}
	}
}

// stubOutput counts lifecycle calls.
type stubOutput struct {
	Output
	pauses int
	closed bool
}

func (s *stubOutput) Pause() error { s.pauses++; return nil }
func (s *stubOutput) Close() error { s.closed = true; return nil }

func TestSharedOutputLifecycle(t *testing.T) {
	t.Cleanup(func() { Shutdown() })

	opens := 0
	stub := &stubOutput{}
	open := func() (Output, error) {
		opens++
		return stub, nil
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	var got []Output
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, err := Acquire(open)
			if err != nil {
				t.Errorf("Acquire failed: %v", err)
				return
			}
			mu.Lock()
			got = append(got, out)
			mu.Unlock()
		}()
	}
	wg.Wait()

	if opens != 1 {
		t.Errorf("expected one construction, got %d", opens)
	}
	for _, out := range got {
		if out != Output(stub) {
			t.Error("expected every caller to share the same output")
		}
	}

	Release()
	if stub.pauses != 1 || stub.closed {
		t.Errorf("expected Release to pause only, got pauses=%d closed=%v", stub.pauses, stub.closed)
	}

	if err := Shutdown(); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}
	if !stub.closed {
		t.Error("expected Shutdown to close the output")
	}

	Acquire(open)
	if opens != 2 {
		t.Errorf("expected a new output after shutdown, got %d constructions", opens)
	}
}

func TestAcquireError(t *testing.T) {
	t.Cleanup(func() { Shutdown() })

	_, err := Acquire(func() (Output, error) { return nil, ErrUnavailable })
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("expected ErrUnavailable, got %v", err)
	}
}
