package db

import (
	"context"
	"fmt"

	"github.com/ticlink-project/ticlink/internal/events"
)

// Recorder turns bus events into incidents.
type Recorder struct {
	store *Store
}

// NewRecorder subscribes store to the events worth keeping.
func NewRecorder(store *Store, bus *events.EventBus) *Recorder {
	r := &Recorder{store: store}
	for _, t := range []events.EventType{
		events.EventDesync,
		events.EventPlayerKicked,
		events.EventPlayerBanned,
		events.EventSpoofedPacket,
		events.EventTicsDropped,
		events.EventHealthAlert,
	} {
		bus.Subscribe(t, "incident_recorder", r.handle)
	}
	return r
}

func (r *Recorder) handle(_ context.Context, event events.Event) error {
	inc, ok := incidentFor(event)
	if !ok {
		return nil
	}
	inc.CreatedAt = event.Time
	_, err := r.store.RecordIncident(inc)
	return err
}

func incidentFor(event events.Event) (Incident, bool) {
	inc := Incident{Kind: string(event.Type), Node: -1, Player: -1}
	switch p := event.Payload.(type) {
	case events.DesyncPayload:
		inc.Node = p.Node
		inc.Detail = fmt.Sprintf("tic %d: local %#04x remote %#04x, score %d", p.Tic, p.Local, p.Remote, p.Score)
	case events.KickPayload:
		inc.Player = p.Player
		inc.Name = p.Name
		inc.Detail = p.Reason
		if p.Custom != "" {
			inc.Detail += ": " + p.Custom
		}
		if p.Forged {
			inc.Detail += " (forged kick)"
		}
	case events.PlayerPayload:
		inc.Player = p.Player
		inc.Node = p.Node
		inc.Name = p.Name
		inc.Detail = p.Address
	case events.DropPayload:
		inc.Node = p.Node
		inc.Player = p.Player
		inc.Detail = fmt.Sprintf("%s (%d bytes at tic %d)", p.Reason, p.Bytes, p.Tic)
	case events.HealthPayload:
		inc.Name = p.Check
		inc.Detail = p.Level + ": " + p.Message
	default:
		return Incident{}, false
	}
	return inc, true
}
