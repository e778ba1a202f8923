package session

import (
	"github.com/rs/zerolog/log"

	"github.com/achneerov/algolounge-voice/internal/core"
	"github.com/achneerov/algolounge-voice/internal/media"
)

// reconciler keeps the authoritative remote-participant map in sync with
// server push events. It runs independently of the connect sequence and
// tolerates events that race ahead of roster seeding.
type reconciler struct {
	participants *feed[core.ParticipantState]
	consumers    *media.ConsumerRegistry
}

func newReconciler(participants *feed[core.ParticipantState], consumers *media.ConsumerRegistry) *reconciler {
	return &reconciler{
		participants: participants,
		consumers:    consumers,
	}
}

// seed replaces the roster from the join ack, excluding the local user.
func (r *reconciler) seed(roster []rosterEntry) {
	next := make(core.ParticipantState, len(roster))
	for _, entry := range roster {
		if entry.IsCurrentUser {
			continue
		}
		next[entry.UserID] = core.Participant{
			UserID:         entry.UserID,
			IsMuted:        entry.IsMuted,
			IsVideoEnabled: entry.IsVideoEnabled,
		}
	}
	r.participants.Publish(next)
}

func (r *reconciler) userJoined(ev userJoinedEvent) {
	// Informational; the roster entry arrives via the join ack or a
	// producer_added for that user.
	log.Debug().Str("service", "reconciler").Int64("userID", int64(ev.UserID)).Int("participantCount", ev.ParticipantCount).Msg("user joined")
}

func (r *reconciler) userLeft(ev userLeftEvent) {
	r.consumers.RemoveUser(ev.UserID)

	next := r.participants.Current().Clone()
	delete(next, ev.UserID)
	r.participants.Publish(next)
}

func (r *reconciler) userMuted(ev userMutedEvent) {
	next := r.participants.Current().Clone()
	p, ok := next[ev.UserID]
	if !ok {
		// The event raced ahead of roster seeding; not an error.
		return
	}
	p.IsMuted = ev.IsMuted
	next[ev.UserID] = p
	r.participants.Publish(next)
}

func (r *reconciler) userVideoToggled(ev userVideoToggledEvent) {
	next := r.participants.Current().Clone()
	p, ok := next[ev.UserID]
	if !ok {
		return
	}
	p.IsVideoEnabled = ev.IsVideoEnabled
	next[ev.UserID] = p
	r.participants.Publish(next)
}

// producerAdded ensures a roster entry exists for the remote user and
// registers placeholder consumer state. Consumption is best-effort; a
// failure here never ends the session.
func (r *reconciler) producerAdded(ev producerAddedEvent) {
	if !ev.Kind.Valid() {
		log.Error().Str("service", "reconciler").Str("kind", string(ev.Kind)).Msg("producer with unknown kind")
		return
	}

	r.consumers.Add(&media.Consumer{
		ProducerID: ev.ProducerID,
		UserID:     ev.UserID,
		Kind:       ev.Kind,
	})

	next := r.participants.Current().Clone()
	if _, ok := next[ev.UserID]; !ok {
		next[ev.UserID] = core.Participant{
			UserID:         ev.UserID,
			IsMuted:        false,
			IsVideoEnabled: true,
		}
	}
	r.participants.Publish(next)
}
