package playcount

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	// DefaultQueueSize bounds the number of plays waiting for the sink.
	DefaultQueueSize = 128
	// DefaultTimeout bounds one sink call.
	DefaultTimeout = 5 * time.Second
)

// Recorder hands plays to a sink from a background worker. Failures and
// overflow are logged at debug and dropped.
type Recorder struct {
	sink    Sink
	timeout time.Duration
	queue   chan string

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// RecorderOption is a functional option for configuring the recorder.
type RecorderOption func(*Recorder)

// WithQueueSize sets how many plays may wait for the worker.
func WithQueueSize(size int) RecorderOption {
	return func(r *Recorder) {
		r.queue = make(chan string, size)
	}
}

// WithTimeout sets the deadline of each sink call.
func WithTimeout(timeout time.Duration) RecorderOption {
	return func(r *Recorder) {
		r.timeout = timeout
	}
}

// NewRecorder creates a recorder for sink. Call Start to begin delivery.
func NewRecorder(sink Sink, opts ...RecorderOption) *Recorder {
	r := &Recorder{
		sink:    sink,
		timeout: DefaultTimeout,
		queue:   make(chan string, DefaultQueueSize),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Increment queues one play of trackID. It never blocks.
func (r *Recorder) Increment(trackID string) {
	select {
	case r.queue <- trackID:
	default:
		log.Debug().Str("track", trackID).Msg("Play count queue full, dropping play")
	}
}

// Start delivers queued plays until ctx is done or Stop is called. It blocks,
// so callers run it on its own goroutine.
func (r *Recorder) Start(ctx context.Context) {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return
	}
	r.running = true
	r.stopCh = make(chan struct{})
	r.doneCh = make(chan struct{})
	stopCh, doneCh := r.stopCh, r.doneCh
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		r.running = false
		r.mu.Unlock()
		close(doneCh)
	}()

	log.Info().Int("queueSize", cap(r.queue)).Dur("timeout", r.timeout).Msg("Play count recorder started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Play count recorder stopping (context cancelled)")
			return
		case <-stopCh:
			r.drain(ctx)
			log.Info().Msg("Play count recorder stopping (stop requested)")
			return
		case id := <-r.queue:
			r.deliver(ctx, id)
		}
	}
}

// Stop delivers what is already queued and waits for the worker to exit.
func (r *Recorder) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	close(r.stopCh)
	done := r.doneCh
	r.mu.Unlock()
	<-done
}

// IsRunning returns whether the worker is running.
func (r *Recorder) IsRunning() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

func (r *Recorder) drain(ctx context.Context) {
	for {
		select {
		case id := <-r.queue:
			r.deliver(ctx, id)
		default:
			return
		}
	}
}

func (r *Recorder) deliver(ctx context.Context, trackID string) {
	callCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if err := r.sink.Increment(callCtx, trackID); err != nil {
		log.Debug().Err(err).Str("track", trackID).Msg("Play count increment failed")
	}
}
