package media

import (
	"sync"
	"sync/atomic"

	"github.com/pion/webrtc/v3"

	"github.com/achneerov/algolounge-voice/internal/core"
)

// Track is a local media track handle. Enabled mirrors the caller-visible
// mute/video flag and can diverge from it when a toggle request fails.
type Track struct {
	kind  core.MediaKind
	local webrtc.TrackLocal

	enabled  atomic.Bool
	stopOnce sync.Once
	onStop   func()
}

func NewTrack(kind core.MediaKind, local webrtc.TrackLocal) *Track {
	t := &Track{kind: kind, local: local}
	t.enabled.Store(true)
	return t
}

func (t *Track) Kind() core.MediaKind {
	return t.kind
}

func (t *Track) Local() webrtc.TrackLocal {
	return t.local
}

func (t *Track) Enabled() bool {
	return t.enabled.Load()
}

func (t *Track) SetEnabled(enabled bool) {
	t.enabled.Store(enabled)
}

// Stop releases the capture source. Idempotent.
func (t *Track) Stop() {
	t.stopOnce.Do(func() {
		t.enabled.Store(false)
		if t.onStop != nil {
			t.onStop()
		}
	})
}

// LocalStream bundles the locally acquired tracks for one session.
type LocalStream struct {
	audio *Track
	video *Track
}

func NewLocalStream(audio, video *Track) *LocalStream {
	return &LocalStream{audio: audio, video: video}
}

func (s *LocalStream) AudioTrack() *Track {
	if s == nil {
		return nil
	}
	return s.audio
}

func (s *LocalStream) VideoTrack() *Track {
	if s == nil {
		return nil
	}
	return s.video
}

func (s *LocalStream) Tracks() []*Track {
	if s == nil {
		return nil
	}
	tracks := make([]*Track, 0, 2)
	if s.audio != nil {
		tracks = append(tracks, s.audio)
	}
	if s.video != nil {
		tracks = append(tracks, s.video)
	}
	return tracks
}

// StopAll stops every track. Safe on a nil stream and safe to call twice.
func (s *LocalStream) StopAll() {
	for _, t := range s.Tracks() {
		t.Stop()
	}
}
