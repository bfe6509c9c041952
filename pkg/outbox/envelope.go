package outbox

import (
	"encoding/json"
	"time"

	"github.com/angelmondragon/packfinderz-stock/pkg/enums"
)

// ActorRef identifies who produced the event.
type ActorRef struct {
	Type enums.ActorType `json:"type"`
	ID   string          `json:"id,omitempty"`
}

// PayloadEnvelope is the stable payload structure stored in outbox_events.
type PayloadEnvelope struct {
	Version    int             `json:"version"`
	EventID    string          `json:"eventId"`
	OccurredAt time.Time       `json:"occurredAt"`
	Actor      *ActorRef       `json:"actor,omitempty"`
	Data       json.RawMessage `json:"data"`
}
