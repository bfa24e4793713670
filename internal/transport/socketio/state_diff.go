package socketio

import "reflect"

// stateCompareKeys are the pushState fields whose change warrants a broadcast.
// currentTime is left out: position updates travel as pushSeek.
var stateCompareKeys = []string{
	"currentIndex",
	"currentTrack",
	"isPlaying",
	"duration",
	"shuffle",
	"repeat",
	"nowPlayingExpanded",
	"lyricsOpen",
	"miniPlayerVisible",
	"navVisible",
	"queueLength",
	"queueVersion",
}

// saveLastState remembers the last broadcast state.
func (s *Server) saveLastState(state map[string]interface{}) {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	s.lastState = state
}

// isStateSame reports whether state matches the last broadcast on every compared key.
func (s *Server) isStateSame(state map[string]interface{}) bool {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()

	if s.lastState == nil {
		return false
	}
	for _, key := range stateCompareKeys {
		if !reflect.DeepEqual(s.lastState[key], state[key]) {
			return false
		}
	}
	return true
}
