package socketio

import (
	"sync"
)

// SessionRegistry keeps at most one timing session per track. Opening a
// session for a track that already has one evicts the older session, and a
// client holds at most one session at a time.
type SessionRegistry struct {
	mu sync.Mutex
	// trackID -> clientID
	owners map[string]string
	// clientID -> trackID
	tracks map[string]string
}

// NewSessionRegistry creates an empty registry.
func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{
		owners: make(map[string]string),
		tracks: make(map[string]string),
	}
}

// Open registers clientID as the editor of trackID. It returns the client
// whose session was evicted (empty string if none) and the track the client
// was previously editing (empty string if none or the same track).
func (r *SessionRegistry) Open(clientID, trackID string) (evictedID, releasedTrack string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.tracks[clientID]; ok {
		if prev == trackID {
			return "", ""
		}
		delete(r.owners, prev)
		releasedTrack = prev
	}

	if owner, ok := r.owners[trackID]; ok && owner != clientID {
		delete(r.tracks, owner)
		evictedID = owner
	}

	r.owners[trackID] = clientID
	r.tracks[clientID] = trackID
	return evictedID, releasedTrack
}

// Remove unregisters the session of clientID and returns its track.
func (r *SessionRegistry) Remove(clientID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	trackID, ok := r.tracks[clientID]
	if !ok {
		return "", false
	}
	delete(r.tracks, clientID)
	if r.owners[trackID] == clientID {
		delete(r.owners, trackID)
	}
	return trackID, true
}

// Owner returns the client editing trackID.
func (r *SessionRegistry) Owner(trackID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.owners[trackID]
	return id, ok
}

// Track returns the track clientID is editing.
func (r *SessionRegistry) Track(clientID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.tracks[clientID]
	return id, ok
}

// Len returns the number of open sessions.
func (r *SessionRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.owners)
}
