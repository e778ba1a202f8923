package media

import (
	"context"
	"fmt"

	"github.com/pion/webrtc/v3"

	"github.com/achneerov/algolounge-voice/internal/core"
)

// Source acquires the local microphone/camera tracks. Acquisition failure is
// recoverable: the session proceeds with zero local tracks.
type Source interface {
	Acquire(ctx context.Context) (*LocalStream, error)
}

// SampleSource backs the local stream with pion static sample tracks
// (Opus audio, VP8 video). Capture hardware is out of this layer's scope;
// whoever owns the source writes samples into the tracks.
type SampleSource struct {
	StreamID string
}

func NewSampleSource() *SampleSource {
	return &SampleSource{StreamID: "algolounge-voice"}
}

func (s *SampleSource) Acquire(ctx context.Context) (*LocalStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	audio, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus},
		"audio", s.StreamID,
	)
	if err != nil {
		return nil, fmt.Errorf("acquire audio track: %w", err)
	}

	video, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8},
		"video", s.StreamID,
	)
	if err != nil {
		return nil, fmt.Errorf("acquire video track: %w", err)
	}

	return NewLocalStream(
		NewTrack(core.AudioKind, audio),
		NewTrack(core.VideoKind, video),
	), nil
}
