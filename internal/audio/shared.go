package audio

import (
	"sync"

	"github.com/rs/zerolog/log"
)

// OpenFunc constructs an Output on first use.
type OpenFunc func() (Output, error)

var shared struct {
	mu  sync.Mutex
	out Output
}

// Acquire returns the process-wide output, constructing it with open when
// none exists. Concurrent callers never construct more than one.
func Acquire(open OpenFunc) (Output, error) {
	shared.mu.Lock()
	defer shared.mu.Unlock()

	if shared.out != nil {
		return shared.out, nil
	}

	out, err := open()
	if err != nil {
		return nil, err
	}
	shared.out = out
	log.Info().Msg("Audio output created")
	return out, nil
}

// Release pauses the shared output, keeping its source and position.
func Release() {
	shared.mu.Lock()
	out := shared.out
	shared.mu.Unlock()

	if out == nil {
		return
	}
	if err := out.Pause(); err != nil {
		log.Debug().Err(err).Msg("Pause on release failed")
	}
}

// Shutdown destroys the shared output. A later Acquire creates a new one.
func Shutdown() error {
	shared.mu.Lock()
	out := shared.out
	shared.out = nil
	shared.mu.Unlock()

	if out == nil {
		return nil
	}
	log.Info().Msg("Audio output closed")
	return out.Close()
}
