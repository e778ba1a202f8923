package core

import "github.com/pion/webrtc/v3"

// Participant is the client-side view of a remote room member. The local
// user never appears in the participant map; their media lives in the
// local stream instead.
type Participant struct {
	UserID         UserID `json:"userId"`
	IsMuted        bool   `json:"isMuted"`
	IsVideoEnabled bool   `json:"isVideoEnabled"`

	AudioTrack *webrtc.TrackRemote `json:"-"`
	VideoTrack *webrtc.TrackRemote `json:"-"`
}

// ParticipantState is a snapshot of the remote roster. Snapshots published
// to subscribers are immutable: every mutation replaces the whole map.
type ParticipantState map[UserID]Participant

func (s ParticipantState) Clone() ParticipantState {
	next := make(ParticipantState, len(s))
	for id, p := range s {
		next[id] = p
	}
	return next
}
