//go:build !cgo

package audio

import (
	"context"
)

// SpeakerAvailable indicates whether the speaker output works in this build.
// The sound device needs cgo.
const SpeakerAvailable = false

// SpeakerOutput is unavailable without cgo.
type SpeakerOutput struct{}

// NewSpeakerOutput always fails without cgo.
func NewSpeakerOutput(opts ...SpeakerOption) (*SpeakerOutput, error) {
	return nil, ErrUnavailable
}

func (o *SpeakerOutput) Load(ctx context.Context, src Source) error { return ErrUnavailable }
func (o *SpeakerOutput) Current() Source { return Source{} }
func (o *SpeakerOutput) Ready() bool { return false }
func (o *SpeakerOutput) Play() error { return ErrUnavailable }
func (o *SpeakerOutput) Pause() error { return nil }
func (o *SpeakerOutput) Seek(seconds float64) error { return ErrUnavailable }
func (o *SpeakerOutput) Stop() error { return nil }
func (o *SpeakerOutput) Subscribe(l Listener) func() { return func() {} }
func (o *SpeakerOutput) Close() error { return nil }
