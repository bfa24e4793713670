package socketio

import (
	"testing"
)

func TestSessionRegistryFirstOpenEvictsNobody(t *testing.T) {
	r := NewSessionRegistry()

	evicted, released := r.Open("client-1", "track-a")
	if evicted != "" || released != "" {
		t.Errorf("first open should not evict or release, got %q %q", evicted, released)
	}
	if owner, _ := r.Owner("track-a"); owner != "client-1" {
		t.Errorf("expected owner client-1, got %q", owner)
	}
}

func TestSessionRegistrySecondOpenEvictsOlder(t *testing.T) {
	r := NewSessionRegistry()

	r.Open("client-1", "track-a")
	evicted, _ := r.Open("client-2", "track-a")
	if evicted != "client-1" {
		t.Errorf("expected eviction of client-1, got %q", evicted)
	}
	if _, ok := r.Track("client-1"); ok {
		t.Error("evicted client should hold no session")
	}

	evicted, _ = r.Open("client-3", "track-a")
	if evicted != "client-2" {
		t.Errorf("expected eviction of client-2, got %q", evicted)
	}
}

func TestSessionRegistryDifferentTracksCoexist(t *testing.T) {
	r := NewSessionRegistry()

	r.Open("client-1", "track-a")
	evicted, _ := r.Open("client-2", "track-b")
	if evicted != "" {
		t.Errorf("sessions on different tracks should coexist, evicted %q", evicted)
	}
	if r.Len() != 2 {
		t.Errorf("expected 2 sessions, got %d", r.Len())
	}
}

func TestSessionRegistrySwitchingTrackReleasesPrevious(t *testing.T) {
	r := NewSessionRegistry()

	r.Open("client-1", "track-a")
	evicted, released := r.Open("client-1", "track-b")
	if evicted != "" || released != "track-a" {
		t.Errorf("expected release of track-a only, got %q %q", evicted, released)
	}
	if _, ok := r.Owner("track-a"); ok {
		t.Error("track-a should be free")
	}
	if r.Len() != 1 {
		t.Errorf("expected 1 session, got %d", r.Len())
	}
}

func TestSessionRegistryReopenIsIdempotent(t *testing.T) {
	r := NewSessionRegistry()

	r.Open("client-1", "track-a")
	evicted, released := r.Open("client-1", "track-a")
	if evicted != "" || released != "" {
		t.Errorf("reopen should be a no-op, got %q %q", evicted, released)
	}
}

func TestSessionRegistryRemoveFreesTrack(t *testing.T) {
	r := NewSessionRegistry()

	r.Open("client-1", "track-a")
	trackID, ok := r.Remove("client-1")
	if !ok || trackID != "track-a" {
		t.Errorf("expected removal of track-a, got %q %v", trackID, ok)
	}

	evicted, _ := r.Open("client-2", "track-a")
	if evicted != "" {
		t.Errorf("should not evict after removal freed the track, got %q", evicted)
	}
}

func TestSessionRegistryRemoveEvictedClientKeepsNewOwner(t *testing.T) {
	r := NewSessionRegistry()

	r.Open("client-1", "track-a")
	r.Open("client-2", "track-a")

	if _, ok := r.Remove("client-1"); ok {
		t.Error("evicted client should have nothing to remove")
	}
	if owner, _ := r.Owner("track-a"); owner != "client-2" {
		t.Errorf("expected owner client-2, got %q", owner)
	}
}
