package pubsub

import (
	"context"
	"encoding/json"
	"errors"
)

// Event is the envelope the REST API publishes on ChannelServerEvents.
// Target names the addressee: a user id for per-user events, a group id
// for group-wide ones. It may be empty when the payload carries it.
type Event struct {
	Type    string          `json:"type"`
	Target  string          `json:"target,omitempty"`
	Payload json.RawMessage `json:"payload"`
}

var errMissingType = errors.New("event has no type")

// ParseEvent decodes one published envelope.
func ParseEvent(data []byte) (*Event, error) {
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, err
	}
	if ev.Type == "" {
		return nil, errMissingType
	}
	return &ev, nil
}

// UnmarshalPayload decodes the payload into v.
func (e *Event) UnmarshalPayload(v interface{}) error {
	if len(e.Payload) == 0 {
		return errors.New("event has no payload")
	}
	return json.Unmarshal(e.Payload, v)
}

// Subscriber delivers the events published on a channel until ctx ends or
// the channel is unsubscribed.
type Subscriber interface {
	Subscribe(ctx context.Context, channel string) (<-chan *Event, error)
	Unsubscribe(ctx context.Context, channel string) error
}
