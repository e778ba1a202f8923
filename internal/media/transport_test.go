package media

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/pion/webrtc/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/achneerov/algolounge-voice/internal/config"
	"github.com/achneerov/algolounge-voice/internal/core"
)

type transportRecorder struct {
	mu    sync.Mutex
	calls []string

	connectErr error
	produceErr error
}

func (r *transportRecorder) record(call string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.calls = append(r.calls, call)
}

func (r *transportRecorder) Calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	calls := make([]string, len(r.calls))
	copy(calls, r.calls)
	return calls
}

func (r *transportRecorder) wire(t *SendTransport) {
	t.OnConnect(func(dtlsParameters json.RawMessage, callback func(), errback func(error)) {
		r.record("connect")
		if r.connectErr != nil {
			errback(r.connectErr)
			return
		}
		callback()
	})
	t.OnProduce(func(kind core.MediaKind, rtpParameters json.RawMessage, callback func(string), errback func(error)) {
		r.record("produce-" + string(kind))
		if r.produceErr != nil {
			errback(r.produceErr)
			return
		}
		callback("producer-" + string(kind))
	})
}

func testCodecs() []config.CodecSpec {
	return []config.CodecSpec{
		{Mime: webrtc.MimeTypeOpus},
		{Mime: webrtc.MimeTypeVP8},
	}
}

func testTracks(t *testing.T) (*Track, *Track) {
	t.Helper()

	stream, err := NewSampleSource().Acquire(context.Background())
	require.NoError(t, err)

	return stream.AudioTrack(), stream.VideoTrack()
}

func TestProduceRunsConnectHandshakeOnce(t *testing.T) {
	audio, video := testTracks(t)
	rec := &transportRecorder{}

	transport := NewSendTransport(TransportParams{ID: "t1"}, testCodecs())
	rec.wire(transport)

	audioProducer, err := transport.Produce(context.Background(), audio, []RTPEncoding{{MaxBitrate: 100_000}})
	require.NoError(t, err)
	assert.Equal(t, "producer-audio", audioProducer.ID)
	assert.Equal(t, core.AudioKind, audioProducer.Kind())

	videoProducer, err := transport.Produce(context.Background(), video, []RTPEncoding{{MaxBitrate: 300_000}})
	require.NoError(t, err)
	assert.Equal(t, "producer-video", videoProducer.ID)

	// The DTLS handshake runs exactly once, strictly before any produce.
	assert.Equal(t, []string{"connect", "produce-audio", "produce-video"}, rec.Calls())
	assert.True(t, transport.Connected())
}

func TestProduceConnectError(t *testing.T) {
	audio, _ := testTracks(t)
	rec := &transportRecorder{connectErr: errors.New("dtls rejected")}

	transport := NewSendTransport(TransportParams{ID: "t1"}, testCodecs())
	rec.wire(transport)

	_, err := transport.Produce(context.Background(), audio, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dtls rejected")

	// The handshake failed, so no produce round-trip ever started.
	assert.Equal(t, []string{"connect"}, rec.Calls())
	assert.False(t, transport.Connected())
}

func TestProduceErrback(t *testing.T) {
	audio, _ := testTracks(t)
	rec := &transportRecorder{produceErr: errors.New("unsupported codec")}

	transport := NewSendTransport(TransportParams{ID: "t1"}, testCodecs())
	rec.wire(transport)

	_, err := transport.Produce(context.Background(), audio, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported codec")
	assert.True(t, transport.Connected())
}

func TestProduceWithoutHandlers(t *testing.T) {
	audio, _ := testTracks(t)

	transport := NewSendTransport(TransportParams{ID: "t1"}, testCodecs())

	_, err := transport.Produce(context.Background(), audio, nil)
	assert.ErrorIs(t, err, ErrNoTransportHandler)
}

func TestProduceAfterClose(t *testing.T) {
	audio, _ := testTracks(t)
	rec := &transportRecorder{}

	transport := NewSendTransport(TransportParams{ID: "t1"}, testCodecs())
	rec.wire(transport)
	transport.Close()
	transport.Close()

	_, err := transport.Produce(context.Background(), audio, nil)
	assert.ErrorIs(t, err, ErrTransportClosed)
	assert.Empty(t, rec.Calls())
}

func TestProduceBuildsKindSpecificParameters(t *testing.T) {
	audio, video := testTracks(t)

	var mu sync.Mutex
	params := map[core.MediaKind]RTPParameters{}

	transport := NewSendTransport(TransportParams{ID: "t1"}, testCodecs())
	transport.OnConnect(func(_ json.RawMessage, callback func(), _ func(error)) { callback() })
	transport.OnProduce(func(kind core.MediaKind, rtpParameters json.RawMessage, callback func(string), _ func(error)) {
		decoded := RTPParameters{}
		if err := json.Unmarshal(rtpParameters, &decoded); err == nil {
			mu.Lock()
			params[kind] = decoded
			mu.Unlock()
		}
		callback(string(kind))
	})

	_, err := transport.Produce(context.Background(), audio, []RTPEncoding{{MaxBitrate: 100_000}})
	require.NoError(t, err)
	_, err = transport.Produce(context.Background(), video, []RTPEncoding{
		{MaxBitrate: 5_000_000}, {MaxBitrate: 1_000_000}, {MaxBitrate: 300_000},
	})
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()

	assert.Equal(t, webrtc.MimeTypeOpus, params[core.AudioKind].MimeType)
	assert.Len(t, params[core.AudioKind].Encodings, 1)

	assert.Equal(t, webrtc.MimeTypeVP8, params[core.VideoKind].MimeType)
	assert.Len(t, params[core.VideoKind].Encodings, 3)
	assert.Equal(t, uint64(5_000_000), params[core.VideoKind].Encodings[0].MaxBitrate)
}
