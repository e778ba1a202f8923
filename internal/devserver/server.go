package devserver

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/isqad/melody"
	"github.com/pion/webrtc/v3"
	"github.com/rs/zerolog/log"

	"github.com/achneerov/algolounge-voice/internal/core"
	"github.com/achneerov/algolounge-voice/internal/signaling"
)

const (
	sessionUserKey = "userID"
	sessionRoomKey = "roomID"
)

type envelope struct {
	Version string          `json:"jsonrpc"`
	ID      string          `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  interface{}     `json:"result,omitempty"`
	Error   string          `json:"error,omitempty"`
}

type roomMember struct {
	session      *melody.Session
	muted        bool
	videoEnabled bool
}

type room struct {
	members map[core.UserID]*roomMember
}

// Server implements the voice namespace against in-memory rooms. It answers
// every request with a correlated ack and pushes roster events to the other
// members; no media actually flows.
type Server struct {
	websocket *melody.Melody

	mu       sync.Mutex
	rooms    map[core.SessionID]*room
	nextUser core.UserID
}

func NewServer() *Server {
	s := &Server{
		websocket: melody.New(),
		rooms:     make(map[core.SessionID]*room),
	}
	s.websocket.Config.MaxMessageSize = 64 * 1024

	s.websocket.HandleMessage(s.handleMessage)
	s.websocket.HandleDisconnect(s.handleDisconnect)
	s.websocket.HandleError(func(sess *melody.Session, err error) {
		log.Debug().Err(err).Str("service", "devserver").Msg("websocket session error")
	})

	return s
}

func (s *Server) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.nextUser++
		userID := s.nextUser
		s.mu.Unlock()

		sessKeys := make(map[string]interface{})
		sessKeys[sessionUserKey] = userID

		if err := s.websocket.HandleRequestWithKeys(w, r, sessKeys); err != nil {
			log.Error().Err(err).Str("service", "devserver").Msg("can't handle request")
		}
	}
}

func (s *Server) handleMessage(sess *melody.Session, payload []byte) {
	msg := &envelope{}
	if err := json.Unmarshal(payload, msg); err != nil {
		log.Error().Err(err).Str("service", "devserver").Msg("malformed frame")
		return
	}

	userID, ok := sess.Keys[sessionUserKey].(core.UserID)
	if !ok {
		log.Error().Str("service", "devserver").Msg("session without user id")
		return
	}

	switch msg.Method {
	case signaling.JoinMethod:
		s.handleJoin(sess, userID, msg)
	case signaling.CreateSendTransport:
		s.ack(sess, msg, map[string]interface{}{
			"params": map[string]interface{}{
				"id":             uuid.New().String(),
				"dtlsParameters": map[string]string{"role": "auto"},
			},
		})
	case signaling.ConnectSendTransport:
		s.ack(sess, msg, map[string]interface{}{})
	case signaling.ProduceMethod:
		s.handleProduce(sess, userID, msg)
	case signaling.MuteMethod:
		s.handleMute(sess, userID, msg)
	case signaling.ToggleVideoMethod:
		s.handleToggleVideo(sess, userID, msg)
	default:
		s.nack(sess, msg, "unknown method")
	}
}

func (s *Server) handleJoin(sess *melody.Session, userID core.UserID, msg *envelope) {
	params := struct {
		SessionID core.SessionID `json:"sessionId"`
	}{}
	if err := json.Unmarshal(msg.Params, &params); err != nil {
		s.nack(sess, msg, "malformed join params")
		return
	}

	s.mu.Lock()
	rm, ok := s.rooms[params.SessionID]
	if !ok {
		rm = &room{members: make(map[core.UserID]*roomMember)}
		s.rooms[params.SessionID] = rm
	}
	rm.members[userID] = &roomMember{session: sess, videoEnabled: true}

	roster := make([]map[string]interface{}, 0, len(rm.members))
	for id, member := range rm.members {
		roster = append(roster, map[string]interface{}{
			"userId":         id,
			"isCurrentUser":  id == userID,
			"isMuted":        member.muted,
			"isVideoEnabled": member.videoEnabled,
		})
	}
	participantCount := len(rm.members)
	s.mu.Unlock()

	sess.Keys[sessionRoomKey] = params.SessionID

	s.ack(sess, msg, map[string]interface{}{
		"rtpCapabilities": routerCapabilities(),
		"participants":    roster,
	})

	s.broadcast(params.SessionID, userID, signaling.UserJoinedEvent, map[string]interface{}{
		"userId":           userID,
		"participantCount": participantCount,
	})

	log.Info().Str("service", "devserver").Int64("userID", int64(userID)).Str("sessionID", params.SessionID.String()).Msg("user joined")
}

func (s *Server) handleProduce(sess *melody.Session, userID core.UserID, msg *envelope) {
	params := struct {
		SessionID core.SessionID `json:"sessionId"`
		Kind      core.MediaKind `json:"kind"`
	}{}
	if err := json.Unmarshal(msg.Params, &params); err != nil || !params.Kind.Valid() {
		s.nack(sess, msg, "malformed produce params")
		return
	}

	producerID := uuid.New().String()
	s.ack(sess, msg, map[string]interface{}{"id": producerID})

	s.broadcast(params.SessionID, userID, signaling.ProducerAddedEvent, map[string]interface{}{
		"producerId": producerID,
		"userId":     userID,
		"kind":       params.Kind,
	})
}

func (s *Server) handleMute(sess *melody.Session, userID core.UserID, msg *envelope) {
	params := struct {
		SessionID core.SessionID `json:"sessionId"`
		IsMuted   bool           `json:"isMuted"`
	}{}
	if err := json.Unmarshal(msg.Params, &params); err != nil {
		s.nack(sess, msg, "malformed mute params")
		return
	}

	s.mu.Lock()
	if rm, ok := s.rooms[params.SessionID]; ok {
		if member, ok := rm.members[userID]; ok {
			member.muted = params.IsMuted
		}
	}
	s.mu.Unlock()

	s.ack(sess, msg, map[string]interface{}{})
	s.broadcast(params.SessionID, userID, signaling.UserMutedEvent, map[string]interface{}{
		"userId":  userID,
		"isMuted": params.IsMuted,
	})
}

func (s *Server) handleToggleVideo(sess *melody.Session, userID core.UserID, msg *envelope) {
	params := struct {
		SessionID      core.SessionID `json:"sessionId"`
		IsVideoEnabled bool           `json:"isVideoEnabled"`
	}{}
	if err := json.Unmarshal(msg.Params, &params); err != nil {
		s.nack(sess, msg, "malformed toggle-video params")
		return
	}

	s.mu.Lock()
	if rm, ok := s.rooms[params.SessionID]; ok {
		if member, ok := rm.members[userID]; ok {
			member.videoEnabled = params.IsVideoEnabled
		}
	}
	s.mu.Unlock()

	s.ack(sess, msg, map[string]interface{}{})
	s.broadcast(params.SessionID, userID, signaling.UserVideoToggledEvent, map[string]interface{}{
		"userId":         userID,
		"isVideoEnabled": params.IsVideoEnabled,
	})
}

func (s *Server) handleDisconnect(sess *melody.Session) {
	userID, ok := sess.Keys[sessionUserKey].(core.UserID)
	if !ok {
		return
	}
	roomID, ok := sess.Keys[sessionRoomKey].(core.SessionID)
	if !ok {
		return
	}

	s.mu.Lock()
	if rm, ok := s.rooms[roomID]; ok {
		delete(rm.members, userID)
		if len(rm.members) == 0 {
			delete(s.rooms, roomID)
		}
	}
	s.mu.Unlock()

	s.broadcast(roomID, userID, signaling.UserLeftEvent, map[string]interface{}{
		"userId": userID,
	})

	log.Info().Str("service", "devserver").Int64("userID", int64(userID)).Msg("user left")
}

func (s *Server) ack(sess *melody.Session, msg *envelope, result interface{}) {
	s.send(sess, &envelope{Version: msg.Version, ID: msg.ID, Method: msg.Method, Result: result})
}

func (s *Server) nack(sess *melody.Session, msg *envelope, reason string) {
	s.send(sess, &envelope{Version: msg.Version, ID: msg.ID, Method: msg.Method, Error: reason})
}

func (s *Server) broadcast(roomID core.SessionID, from core.UserID, event string, params interface{}) {
	s.mu.Lock()
	targets := make([]*melody.Session, 0)
	if rm, ok := s.rooms[roomID]; ok {
		for id, member := range rm.members {
			if id == from {
				continue
			}
			targets = append(targets, member.session)
		}
	}
	s.mu.Unlock()

	for _, target := range targets {
		s.send(target, &envelope{Version: "2.0", Method: event, Params: mustMarshal(params)})
	}
}

func (s *Server) send(sess *melody.Session, msg *envelope) {
	payload, err := json.Marshal(msg)
	if err != nil {
		log.Error().Err(err).Str("service", "devserver").Msg("encode frame")
		return
	}
	if err := sess.Write(payload); err != nil {
		log.Debug().Err(err).Str("service", "devserver").Msg("write to closed session")
	}
}

func mustMarshal(v interface{}) json.RawMessage {
	payload, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("service", "devserver").Msg("encode params")
		return json.RawMessage("{}")
	}
	return payload
}

// routerCapabilities are the codecs the loopback router accepts, matching
// what the client produces.
func routerCapabilities() webrtc.RTPCapabilities {
	return webrtc.RTPCapabilities{
		Codecs: []webrtc.RTPCodecCapability{
			{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2},
			{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000},
		},
	}
}
