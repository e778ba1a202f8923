package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/achneerov/algolounge-voice/internal/config"
	"github.com/achneerov/algolounge-voice/internal/core"
	"github.com/achneerov/algolounge-voice/internal/media"
	"github.com/achneerov/algolounge-voice/internal/signaling"
	"github.com/achneerov/algolounge-voice/internal/telemetry"
)

// SignalChannel is the slice of the signaling channel the orchestrator
// needs; *signaling.Channel satisfies it.
type SignalChannel interface {
	Request(ctx context.Context, method string, params, result interface{}) error
	On(event string, handler signaling.EventHandler)
	Close()
}

// Dialer opens a signaling channel against the voice namespace.
type Dialer func(ctx context.Context, endpoint, token string) (SignalChannel, error)

func defaultDialer(ctx context.Context, endpoint, token string) (SignalChannel, error) {
	return signaling.Dial(ctx, endpoint, token)
}

type Option func(*Orchestrator)

func WithDialer(dial Dialer) Option {
	return func(o *Orchestrator) { o.dial = dial }
}

func WithMediaSource(source media.Source) Option {
	return func(o *Orchestrator) { o.source = source }
}

// Orchestrator owns the single connect/disconnect lifecycle of one voice
// session: it sequences the signaling handshakes, produces local tracks and
// keeps the remote roster reconciled from push events.
type Orchestrator struct {
	cfg    *config.Config
	dial   Dialer
	source media.Source

	mu          sync.Mutex
	state       core.SessionState
	channel     SignalChannel
	device      *media.Device
	transport   *media.SendTransport
	localStream *media.LocalStream

	producers *media.ProducerRegistry
	consumers *media.ConsumerRegistry

	participants *feed[core.ParticipantState]
	connected    *feed[bool]
	stream       *feed[*media.LocalStream]
	errs         *stream[string]

	rec *reconciler
}

func New(cfg *config.Config, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		cfg:          cfg,
		dial:         defaultDialer,
		source:       media.NewSampleSource(),
		state:        core.SessionIdle,
		producers:    media.NewProducerRegistry(),
		consumers:    media.NewConsumerRegistry(),
		participants: newFeed(core.ParticipantState{}),
		connected:    newFeed(false),
		stream:       newFeed[*media.LocalStream](nil),
		errs:         newStream[string](),
	}
	o.rec = newReconciler(o.participants, o.consumers)

	for _, opt := range opts {
		opt(o)
	}

	return o
}

// Connect joins the voice session and blocks until the session is usable,
// a step fails, or the connect budget runs out. Exactly one outcome is ever
// delivered; a later-arriving one is discarded.
func (o *Orchestrator) Connect(ctx context.Context, sessionID core.SessionID) error {
	if o.cfg.AuthToken == "" {
		return core.ErrNoAuthToken
	}

	o.mu.Lock()
	if o.state == core.SessionJoining || o.state == core.SessionConnected {
		o.mu.Unlock()
		return fmt.Errorf("session already active (state %s)", o.state)
	}
	o.state = core.SessionJoining
	o.mu.Unlock()

	settled := &atomic.Bool{}
	result := make(chan error, 1)
	settle := func(err error) bool {
		if !settled.CompareAndSwap(false, true) {
			return false
		}
		result <- err
		return true
	}

	timer := time.AfterFunc(o.cfg.ConnectTimeout, func() {
		if settle(core.ErrConnectTimeout) {
			log.Error().Str("service", "orchestrator").Str("sessionID", sessionID.String()).Msg("connect timed out")
			telemetry.ServiceOperationCounter.WithLabelValues("session_connect", "error", "timeout").Add(1)
			o.errs.Publish("voice session connection timeout")
			o.teardown()
		}
	})
	defer timer.Stop()

	go o.runConnect(ctx, sessionID, settle)

	return <-result
}

func (o *Orchestrator) runConnect(ctx context.Context, sessionID core.SessionID, settle func(error) bool) {
	fail := func(stage string, err error) {
		if !settle(err) {
			// Another outcome won the race; this work is discarded.
			return
		}
		log.Error().Err(err).Str("service", "orchestrator").Str("sessionID", sessionID.String()).Msg(stage)
		telemetry.ServiceOperationCounter.WithLabelValues("session_connect", "error", stage).Add(1)
		o.errs.Publish(fmt.Sprintf("%s: %v", stage, err))
		o.teardown()
	}

	ch, err := o.dial(ctx, o.cfg.ServerURL, o.cfg.AuthToken)
	if err != nil {
		fail("connection_failed", err)
		return
	}

	o.mu.Lock()
	o.channel = ch
	o.mu.Unlock()

	// The reconciler starts applying push events the moment the channel is
	// open; they are unordered relative to the sequence below.
	o.registerPushHandlers(ch, settle)

	ack := &joinAck{}
	if err := ch.Request(ctx, signaling.JoinMethod, joinRequest{SessionID: sessionID}, ack); err != nil {
		fail("join_failed", err)
		return
	}

	device := media.NewDevice()
	if err := device.Load(ack.RTPCapabilities); err != nil {
		fail("device_load_failed", err)
		return
	}
	o.mu.Lock()
	o.device = device
	o.mu.Unlock()

	if localStream, err := o.source.Acquire(ctx); err != nil {
		// Recoverable: the session proceeds with zero local tracks.
		log.Warn().Err(err).Str("service", "orchestrator").Msg("media acquisition failed, continuing without local media")
	} else {
		o.mu.Lock()
		o.localStream = localStream
		o.mu.Unlock()
		o.stream.Publish(localStream)
	}

	transportAck := &createTransportAck{}
	if err := ch.Request(ctx, signaling.CreateSendTransport, createTransportRequest{SessionID: sessionID}, transportAck); err != nil {
		fail("transport_create_failed", err)
		return
	}

	transport := media.NewSendTransport(transportAck.Params, o.cfg.Media.EnabledCodecs)
	transport.OnConnect(func(dtlsParameters json.RawMessage, callback func(), errback func(error)) {
		req := connectTransportRequest{SessionID: sessionID, DTLSParameters: dtlsParameters}
		if err := ch.Request(ctx, signaling.ConnectSendTransport, req, nil); err != nil {
			errback(err)
			return
		}
		callback()
	})
	transport.OnProduce(func(kind core.MediaKind, rtpParameters json.RawMessage, callback func(string), errback func(error)) {
		req := produceRequest{SessionID: sessionID, Kind: kind, RTPParameters: rtpParameters}
		produced := &produceAck{}
		if err := ch.Request(ctx, signaling.ProduceMethod, req, produced); err != nil {
			errback(err)
			return
		}
		callback(produced.ID)
	})

	o.mu.Lock()
	o.transport = transport
	localStream := o.localStream
	o.mu.Unlock()

	if localStream != nil {
		if err := o.produceTrack(ctx, transport, localStream.AudioTrack(), o.audioEncodings()); err != nil {
			fail("produce_audio_failed", err)
			return
		}
		if err := o.produceTrack(ctx, transport, localStream.VideoTrack(), o.videoEncodings()); err != nil {
			fail("produce_video_failed", err)
			return
		}
	}

	o.rec.seed(ack.Participants)

	if !settle(nil) {
		// Timed out or failed while we were finishing; teardown already ran.
		return
	}

	o.mu.Lock()
	o.state = core.SessionConnected
	o.mu.Unlock()
	o.connected.Publish(true)

	telemetry.SessionStarted()
	telemetry.ServiceOperationCounter.WithLabelValues("session_connect", "success", "").Add(1)

	log.Info().Str("service", "orchestrator").Str("sessionID", sessionID.String()).Msg("voice session connected")
}

func (o *Orchestrator) produceTrack(ctx context.Context, transport *media.SendTransport, track *media.Track, encodings []media.RTPEncoding) error {
	if track == nil {
		return nil
	}

	producer, err := transport.Produce(ctx, track, encodings)
	if err != nil {
		return err
	}

	return o.producers.Add(producer)
}

func (o *Orchestrator) audioEncodings() []media.RTPEncoding {
	return []media.RTPEncoding{{MaxBitrate: o.cfg.Media.AudioMaxBitrate}}
}

func (o *Orchestrator) videoEncodings() []media.RTPEncoding {
	encodings := make([]media.RTPEncoding, 0, len(o.cfg.Media.VideoMaxBitrates))
	for _, bitrate := range o.cfg.Media.VideoMaxBitrates {
		encodings = append(encodings, media.RTPEncoding{MaxBitrate: bitrate})
	}
	return encodings
}

func (o *Orchestrator) registerPushHandlers(ch SignalChannel, settle func(error) bool) {
	ch.On(signaling.UserJoinedEvent, decodeEvent(o.rec.userJoined))
	ch.On(signaling.UserLeftEvent, decodeEvent(o.rec.userLeft))
	ch.On(signaling.UserMutedEvent, decodeEvent(o.rec.userMuted))
	ch.On(signaling.UserVideoToggledEvent, decodeEvent(o.rec.userVideoToggled))
	ch.On(signaling.ProducerAddedEvent, decodeEvent(o.rec.producerAdded))

	ch.On(signaling.ErrorEvent, func(params json.RawMessage) {
		var reason string
		if err := json.Unmarshal(params, &reason); err != nil {
			reason = string(params)
		}
		o.errs.Publish("signaling channel error: " + reason)
		if settle(fmt.Errorf("signaling channel error: %s", reason)) {
			telemetry.ServiceOperationCounter.WithLabelValues("session_connect", "error", "channel").Add(1)
			o.teardown()
		}
	})
}

func decodeEvent[T any](apply func(T)) signaling.EventHandler {
	return func(params json.RawMessage) {
		var ev T
		if err := json.Unmarshal(params, &ev); err != nil {
			log.Error().Err(err).Str("service", "orchestrator").Msg("malformed push event")
			return
		}
		apply(ev)
	}
}

// SetMuted relays the desired mute state. The local audio track is flipped
// only after the ack succeeds; on a failed ack the track is untouched and
// the caller owns rolling back its optimistic flag.
func (o *Orchestrator) SetMuted(ctx context.Context, sessionID core.SessionID, isMuted bool) error {
	ch, localStream := o.channelAndStream()
	if ch == nil {
		return core.ErrNotConnected
	}

	if err := ch.Request(ctx, signaling.MuteMethod, muteRequest{SessionID: sessionID, IsMuted: isMuted}, nil); err != nil {
		return err
	}

	if track := localStream.AudioTrack(); track != nil {
		track.SetEnabled(!isMuted)
	}

	return nil
}

// SetVideoEnabled relays the desired camera state, with the same
// ack-then-flip contract as SetMuted.
func (o *Orchestrator) SetVideoEnabled(ctx context.Context, sessionID core.SessionID, isVideoEnabled bool) error {
	ch, localStream := o.channelAndStream()
	if ch == nil {
		return core.ErrNotConnected
	}

	req := toggleVideoRequest{SessionID: sessionID, IsVideoEnabled: isVideoEnabled}
	if err := ch.Request(ctx, signaling.ToggleVideoMethod, req, nil); err != nil {
		return err
	}

	if track := localStream.VideoTrack(); track != nil {
		track.SetEnabled(isVideoEnabled)
	}

	return nil
}

func (o *Orchestrator) channelAndStream() (SignalChannel, *media.LocalStream) {
	o.mu.Lock()
	defer o.mu.Unlock()

	return o.channel, o.localStream
}

// Disconnect releases every producer, consumer, local track, the transport
// and the channel, then resets the aggregate state. Safe to call repeatedly
// and on a session that never finished connecting. Not safe to call while a
// Connect attempt is still in flight; wait for the attempt to settle first.
func (o *Orchestrator) Disconnect() {
	o.teardown()
}

func (o *Orchestrator) teardown() {
	o.mu.Lock()
	wasConnected := o.state == core.SessionConnected
	channel := o.channel
	transport := o.transport
	localStream := o.localStream
	o.channel = nil
	o.transport = nil
	o.localStream = nil
	o.device = nil
	o.state = core.SessionClosed
	o.mu.Unlock()

	o.producers.CloseAll()
	o.consumers.CloseAll()

	localStream.StopAll()
	if transport != nil {
		transport.Close()
	}
	if channel != nil {
		channel.Close()
	}

	if localStream != nil {
		o.stream.Publish(nil)
	}
	o.connected.Publish(false)
	o.participants.Publish(core.ParticipantState{})

	if wasConnected {
		telemetry.SessionStopped()
		telemetry.ServiceOperationCounter.WithLabelValues("session_disconnect", "success", "").Add(1)
	}
}

// Device returns the capability negotiator of the active session, nil
// before a successful join and after teardown.
func (o *Orchestrator) Device() *media.Device {
	o.mu.Lock()
	defer o.mu.Unlock()

	return o.device
}

// State reports the session lifecycle state.
func (o *Orchestrator) State() core.SessionState {
	o.mu.Lock()
	defer o.mu.Unlock()

	return o.state
}

// Connected reports whether the session is usable.
func (o *Orchestrator) Connected() bool {
	return o.connected.Current()
}

// Participants returns a copy of the current remote roster.
func (o *Orchestrator) Participants() core.ParticipantState {
	return o.participants.Current().Clone()
}

// LocalStream returns the local media handle, nil when none was acquired.
func (o *Orchestrator) LocalStream() *media.LocalStream {
	return o.stream.Current()
}

func (o *Orchestrator) SubscribeConnected(fn func(bool)) {
	o.connected.Subscribe(fn)
}

func (o *Orchestrator) SubscribeParticipants(fn func(core.ParticipantState)) {
	o.participants.Subscribe(fn)
}

func (o *Orchestrator) SubscribeLocalStream(fn func(*media.LocalStream)) {
	o.stream.Subscribe(fn)
}

// SubscribeErrors taps the advisory error stream; entries do not imply the
// session ended.
func (o *Orchestrator) SubscribeErrors(fn func(string)) {
	o.errs.Subscribe(fn)
}
