package media

import (
	"context"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"
	pionmedia "github.com/pion/webrtc/v4/pkg/media"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Call/internal/core"
	"github.com/dkeye/Call/internal/domain"
)

// Devices is the capture-resource guard. It hands out at most one stream
// at a time; the single-active-session invariant upstream makes a second
// Acquire a genuine fault, not a queueing situation.
type Devices struct {
	mu   sync.Mutex
	held *Stream
}

func NewDevices() *Devices {
	return &Devices{}
}

func (d *Devices) Acquire(ctx context.Context, kind domain.CallKind) (core.MediaStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrDeviceUnavailable, err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.held != nil {
		return nil, fmt.Errorf("%w: capture already in use", core.ErrDeviceUnavailable)
	}

	s, err := newStream(kind)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrDeviceUnavailable, err)
	}
	d.held = s
	log.Info().Str("module", "media").Str("kind", string(kind)).Msg("capture acquired")
	return s, nil
}

// Release is reached from several cleanup paths, possibly with a handle
// that was never acquired or already let go. All of those are no-ops.
func (d *Devices) Release(s core.MediaStream) {
	if s == nil {
		return
	}
	s.Close()

	d.mu.Lock()
	defer d.mu.Unlock()
	if ls, ok := s.(*Stream); ok && d.held == ls {
		d.held = nil
		log.Info().Str("module", "media").Msg("capture released")
	}
}

// Stream bundles the local tracks for one call. Audio is always present;
// video only for a video call.
type Stream struct {
	mu      sync.Mutex
	audio   *webrtc.TrackLocalStaticSample
	video   *webrtc.TrackLocalStaticSample
	audioOn bool
	videoOn bool
	closed  bool
}

func newStream(kind domain.CallKind) (*Stream, error) {
	audio, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus},
		"audio", "capture",
	)
	if err != nil {
		return nil, err
	}
	s := &Stream{audio: audio, audioOn: true}

	if kind == domain.CallVideo {
		video, err := webrtc.NewTrackLocalStaticSample(
			webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8},
			"video", "capture",
		)
		if err != nil {
			return nil, err
		}
		s.video = video
		s.videoOn = true
	}
	return s, nil
}

func (s *Stream) Tracks() []webrtc.TrackLocal {
	out := []webrtc.TrackLocal{s.audio}
	if s.video != nil {
		out = append(out, s.video)
	}
	return out
}

func (s *Stream) ToggleAudio() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audioOn = !s.audioOn
	return s.audioOn
}

func (s *Stream) ToggleVideo() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.video == nil {
		return false
	}
	s.videoOn = !s.videoOn
	return s.videoOn
}

func (s *Stream) AudioEnabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.audioOn
}

func (s *Stream) VideoEnabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.videoOn
}

// WriteAudio feeds one captured sample into the audio track unless
// muted. The capture pipeline is the embedder's: nothing in this
// module reads a microphone or camera, it only gates and forwards.
func (s *Stream) WriteAudio(sample pionmedia.Sample) error {
	return s.write(s.audio, sample, s.AudioEnabled)
}

// WriteVideo feeds one captured frame unless the camera is toggled off.
func (s *Stream) WriteVideo(sample pionmedia.Sample) error {
	if s.video == nil {
		return nil
	}
	return s.write(s.video, sample, s.VideoEnabled)
}

func (s *Stream) write(track *webrtc.TrackLocalStaticSample, sample pionmedia.Sample, enabled func() bool) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed || !enabled() {
		return nil
	}
	return track.WriteSample(sample)
}

// Close stops the stream. Safe to call repeatedly.
func (s *Stream) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.audioOn = false
	s.videoOn = false
}
