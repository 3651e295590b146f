package media

import (
	"context"
	"testing"
	"time"

	pionmedia "github.com/pion/webrtc/v4/pkg/media"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/Call/internal/core"
	"github.com/dkeye/Call/internal/domain"
)

func TestAcquireVoiceHasAudioOnly(t *testing.T) {
	d := NewDevices()
	s, err := d.Acquire(context.Background(), domain.CallVoice)
	require.NoError(t, err)
	defer d.Release(s)

	assert.Len(t, s.Tracks(), 1)
	assert.True(t, s.AudioEnabled())
	assert.False(t, s.VideoEnabled())
}

func TestAcquireVideoHasBothTracks(t *testing.T) {
	d := NewDevices()
	s, err := d.Acquire(context.Background(), domain.CallVideo)
	require.NoError(t, err)
	defer d.Release(s)

	assert.Len(t, s.Tracks(), 2)
	assert.True(t, s.VideoEnabled())
}

func TestAcquireIsExclusive(t *testing.T) {
	d := NewDevices()
	s, err := d.Acquire(context.Background(), domain.CallVoice)
	require.NoError(t, err)

	_, err = d.Acquire(context.Background(), domain.CallVoice)
	require.ErrorIs(t, err, core.ErrDeviceUnavailable)

	d.Release(s)
	s2, err := d.Acquire(context.Background(), domain.CallVoice)
	require.NoError(t, err)
	d.Release(s2)
}

func TestReleaseIsIdempotentAndNilSafe(t *testing.T) {
	d := NewDevices()
	d.Release(nil)

	s, err := d.Acquire(context.Background(), domain.CallVoice)
	require.NoError(t, err)
	d.Release(s)
	d.Release(s)
	d.Release(nil)

	// the slot is free again after the double release
	s2, err := d.Acquire(context.Background(), domain.CallVoice)
	require.NoError(t, err)
	d.Release(s2)
}

func TestTogglesFlipFlags(t *testing.T) {
	d := NewDevices()
	s, err := d.Acquire(context.Background(), domain.CallVideo)
	require.NoError(t, err)
	defer d.Release(s)

	assert.False(t, s.ToggleAudio())
	assert.True(t, s.ToggleAudio())
	assert.False(t, s.ToggleVideo())
	assert.True(t, s.ToggleVideo())
}

func TestVoiceStreamHasNoVideoToToggle(t *testing.T) {
	d := NewDevices()
	s, err := d.Acquire(context.Background(), domain.CallVoice)
	require.NoError(t, err)
	defer d.Release(s)

	assert.False(t, s.ToggleVideo())
	assert.False(t, s.VideoEnabled())
}

func TestSampleWritesRespectTogglesAndClose(t *testing.T) {
	d := NewDevices()
	ms, err := d.Acquire(context.Background(), domain.CallVideo)
	require.NoError(t, err)
	s := ms.(*Stream)

	sample := pionmedia.Sample{Data: []byte{0x01}, Duration: 20 * time.Millisecond}
	require.NoError(t, s.WriteAudio(sample))
	require.NoError(t, s.WriteVideo(sample))

	s.ToggleAudio()
	s.ToggleVideo()
	require.NoError(t, s.WriteAudio(sample))
	require.NoError(t, s.WriteVideo(sample))

	d.Release(ms)
	require.NoError(t, s.WriteAudio(sample))
	require.NoError(t, s.WriteVideo(sample))
}

func TestClosedStreamDisablesEverything(t *testing.T) {
	d := NewDevices()
	s, err := d.Acquire(context.Background(), domain.CallVideo)
	require.NoError(t, err)

	d.Release(s)
	assert.False(t, s.AudioEnabled())
	assert.False(t, s.VideoEnabled())
}
