package vicall

import (
	"sync/atomic"

	"github.com/pion/webrtc/v3"
	"github.com/pion/webrtc/v3/pkg/media"
)

// Track is an outbound media track with an enable gate. Disabling drops
// samples instead of stopping capture, so receivers see silence or a frozen
// frame without any renegotiation.
type Track struct {
	*webrtc.TrackLocalStaticSample
	disabled int32
}

func NewTrack(c webrtc.RTPCodecCapability, id, streamID string) (*Track, error) {
	sample, err := webrtc.NewTrackLocalStaticSample(c, id, streamID)
	if err != nil {
		return nil, err
	}
	return &Track{TrackLocalStaticSample: sample}, nil
}

func (t *Track) SetEnabled(enabled bool) {
	if enabled {
		atomic.StoreInt32(&t.disabled, 0)
	} else {
		atomic.StoreInt32(&t.disabled, 1)
	}
}

func (t *Track) Enabled() bool {
	return atomic.LoadInt32(&t.disabled) == 0
}

func (t *Track) WriteSample(s media.Sample) error {
	if !t.Enabled() {
		return nil
	}
	return t.TrackLocalStaticSample.WriteSample(s)
}

// LocalMedia is the process-wide media state for the one active call.
// Owned by the call session actor; reset on call exit.
type LocalMedia struct {
	Audio  *Track
	Camera *Track

	screen     webrtc.TrackLocal
	muted      bool
	cameraOff  bool
	sharing    bool
}

// ActiveVideo is the video track new peer links should send: the screen
// track while sharing, the camera otherwise.
func (m *LocalMedia) ActiveVideo() webrtc.TrackLocal {
	if m.sharing {
		return m.screen
	}
	return m.Camera
}

func (m *LocalMedia) Muted() bool      { return m.muted }
func (m *LocalMedia) CameraOff() bool  { return m.cameraOff }
func (m *LocalMedia) Sharing() bool    { return m.sharing }

// Capturer acquires local media. CaptureMedia returning an error maps to a
// media-access failure and aborts joining; CaptureScreen returning
// ErrScreenShareCancelled means the user dismissed the picker.
type Capturer interface {
	CaptureMedia() (*LocalMedia, error)
	CaptureScreen() (webrtc.TrackLocal, error)
}

// SampleCapturer is the default Capturer: opus audio and VP8 video sample
// tracks the application feeds from its encoder pipeline.
type SampleCapturer struct {
	StreamID string
}

func (c *SampleCapturer) streamID() string {
	if c.StreamID != "" {
		return c.StreamID
	}
	return "temu"
}

func (c *SampleCapturer) CaptureMedia() (*LocalMedia, error) {
	audio, err := NewTrack(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, "audio", c.streamID())
	if err != nil {
		return nil, ErrMediaAccess
	}
	camera, err := NewTrack(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, "video", c.streamID())
	if err != nil {
		return nil, ErrMediaAccess
	}
	return &LocalMedia{Audio: audio, Camera: camera}, nil
}

func (c *SampleCapturer) CaptureScreen() (webrtc.TrackLocal, error) {
	screen, err := NewTrack(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, "screen", c.streamID())
	if err != nil {
		return nil, ErrScreenShareCancelled
	}
	return screen, nil
}
