package media

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/achneerov/algolounge-voice/internal/config"
	"github.com/achneerov/algolounge-voice/internal/core"
)

var (
	ErrTransportClosed    = errors.New("send transport closed")
	ErrNoTransportHandler = errors.New("transport handlers not registered")
)

// TransportParams are the server-side construction parameters carried by the
// create-send-transport ack.
type TransportParams struct {
	ID             string          `json:"id"`
	ICEParameters  json.RawMessage `json:"iceParameters,omitempty"`
	ICECandidates  json.RawMessage `json:"iceCandidates,omitempty"`
	DTLSParameters json.RawMessage `json:"dtlsParameters,omitempty"`
}

type RTPEncoding struct {
	MaxBitrate uint64 `json:"maxBitrate,omitempty"`
}

type RTPParameters struct {
	Mid              string        `json:"mid,omitempty"`
	MimeType         string        `json:"mimeType"`
	HeaderExtensions []string      `json:"headerExtensions,omitempty"`
	Encodings        []RTPEncoding `json:"encodings"`
}

// ConnectHandler relays the transport's DTLS parameters over signaling and
// reports the outcome through exactly one of callback/errback.
type ConnectHandler func(dtlsParameters json.RawMessage, callback func(), errback func(error))

// ProduceHandler asks the server to create a producer for a local track and
// returns the new producer id through callback.
type ProduceHandler func(kind core.MediaKind, rtpParameters json.RawMessage, callback func(producerID string), errback func(error))

// SendTransport owns the single outbound transport of a session. The
// transport knows nothing about the network; ConnectHandler and
// ProduceHandler turn its local callback events into signaling round-trips.
type SendTransport struct {
	params TransportParams
	hdrExt config.RTPHeaderExtensionConfig
	codecs []config.CodecSpec

	onConnect ConnectHandler
	onProduce ProduceHandler

	mu        sync.Mutex
	connected bool
	closed    bool
	nextMid   int
}

func NewSendTransport(params TransportParams, codecs []config.CodecSpec) *SendTransport {
	return &SendTransport{
		params: params,
		hdrExt: config.DefaultHeaderExtensions(),
		codecs: codecs,
	}
}

func (t *SendTransport) ID() string {
	return t.params.ID
}

func (t *SendTransport) OnConnect(handler ConnectHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.onConnect = handler
}

func (t *SendTransport) OnProduce(handler ProduceHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.onProduce = handler
}

// Produce negotiates a server-side producer for the track. The DTLS connect
// handshake runs exactly once, before the first produce round-trip; produce
// calls are serialized so producer registration stays deterministic.
func (t *SendTransport) Produce(ctx context.Context, track *Track, encodings []RTPEncoding) (*Producer, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil, ErrTransportClosed
	}
	if t.onConnect == nil || t.onProduce == nil {
		return nil, ErrNoTransportHandler
	}

	if !t.connected {
		if err := t.connect(ctx); err != nil {
			return nil, err
		}
		t.connected = true
	}

	rtpParameters, err := json.Marshal(t.buildRTPParameters(track, encodings))
	if err != nil {
		return nil, fmt.Errorf("encode rtp parameters: %w", err)
	}

	type produceResult struct {
		id  string
		err error
	}
	done := make(chan produceResult, 1)

	go t.onProduce(track.Kind(), rtpParameters,
		func(producerID string) { done <- produceResult{id: producerID} },
		func(err error) { done <- produceResult{err: err} },
	)

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-done:
		if res.err != nil {
			return nil, fmt.Errorf("produce %s: %w", track.Kind(), res.err)
		}

		log.Debug().Str("service", "transport").Str("producerID", res.id).Str("kind", string(track.Kind())).Msg("producer created")

		return newProducer(res.id, track), nil
	}
}

// connect runs the relayed DTLS handshake. Caller holds t.mu.
func (t *SendTransport) connect(ctx context.Context) error {
	done := make(chan error, 1)

	go t.onConnect(t.params.DTLSParameters,
		func() { done <- nil },
		func(err error) { done <- err },
	)

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		if err != nil {
			return fmt.Errorf("connect send transport: %w", err)
		}
		return nil
	}
}

func (t *SendTransport) buildRTPParameters(track *Track, encodings []RTPEncoding) RTPParameters {
	t.nextMid++

	params := RTPParameters{
		Mid:       fmt.Sprintf("%s-%d", t.params.ID, t.nextMid),
		MimeType:  t.mimeTypeFor(track.Kind()),
		Encodings: encodings,
	}

	switch track.Kind() {
	case core.VideoKind:
		params.HeaderExtensions = t.hdrExt.Video
	default:
		params.HeaderExtensions = t.hdrExt.Audio
	}

	return params
}

func (t *SendTransport) mimeTypeFor(kind core.MediaKind) string {
	prefix := "audio/"
	if kind == core.VideoKind {
		prefix = "video/"
	}
	for _, codec := range t.codecs {
		if len(codec.Mime) >= len(prefix) && codec.Mime[:len(prefix)] == prefix {
			return codec.Mime
		}
	}
	return ""
}

// Connected reports whether the DTLS handshake has completed.
func (t *SendTransport) Connected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.connected
}

// Close is idempotent; further Produce calls fail with ErrTransportClosed.
func (t *SendTransport) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.closed = true
}
