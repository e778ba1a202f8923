package session

import (
	"encoding/json"

	"github.com/pion/webrtc/v3"

	"github.com/achneerov/algolounge-voice/internal/core"
	"github.com/achneerov/algolounge-voice/internal/media"
)

// Request payloads and ack shapes of the voice namespace. The channel itself
// is method-agnostic; the orchestrator owns these shapes.

type joinRequest struct {
	SessionID core.SessionID `json:"sessionId"`
}

type rosterEntry struct {
	UserID         core.UserID `json:"userId"`
	IsCurrentUser  bool        `json:"isCurrentUser"`
	IsMuted        bool        `json:"isMuted"`
	IsVideoEnabled bool        `json:"isVideoEnabled"`
}

type joinAck struct {
	RTPCapabilities webrtc.RTPCapabilities `json:"rtpCapabilities"`
	Participants    []rosterEntry          `json:"participants"`
}

type createTransportRequest struct {
	SessionID core.SessionID `json:"sessionId"`
}

type createTransportAck struct {
	Params media.TransportParams `json:"params"`
}

type connectTransportRequest struct {
	SessionID      core.SessionID  `json:"sessionId"`
	DTLSParameters json.RawMessage `json:"dtlsParameters"`
}

type produceRequest struct {
	SessionID     core.SessionID  `json:"sessionId"`
	Kind          core.MediaKind  `json:"kind"`
	RTPParameters json.RawMessage `json:"rtpParameters"`
}

type produceAck struct {
	ID string `json:"id"`
}

type muteRequest struct {
	SessionID core.SessionID `json:"sessionId"`
	IsMuted   bool           `json:"isMuted"`
}

type toggleVideoRequest struct {
	SessionID      core.SessionID `json:"sessionId"`
	IsVideoEnabled bool           `json:"isVideoEnabled"`
}

// Server-pushed event payloads.

type userJoinedEvent struct {
	UserID           core.UserID `json:"userId"`
	ParticipantCount int         `json:"participantCount"`
}

type userLeftEvent struct {
	UserID core.UserID `json:"userId"`
}

type userMutedEvent struct {
	UserID  core.UserID `json:"userId"`
	IsMuted bool        `json:"isMuted"`
}

type userVideoToggledEvent struct {
	UserID         core.UserID `json:"userId"`
	IsVideoEnabled bool        `json:"isVideoEnabled"`
}

type producerAddedEvent struct {
	ProducerID string         `json:"producerId"`
	UserID     core.UserID    `json:"userId"`
	Kind       core.MediaKind `json:"kind"`
}
