package gateway

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tidwall/gjson"

	"github.com/cory-johannsen/duel/internal/game/engine"
	"github.com/cory-johannsen/duel/internal/game/room"
)

// Inbound event names.
const (
	InJoin  = "join"
	InMove  = "move"
	InLeave = "leave"
)

// ErrBadRequest marks a frame that is not a well-formed inbound event.
var ErrBadRequest = errors.New("bad request")

// Envelope is the JSON frame exchanged in both directions:
// {"event": "<name>", "data": {...}}.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// JoinRequest is the payload of an inbound join.
type JoinRequest struct {
	RoomKey string `json:"roomKey"`
}

// MoveRequest is the payload of an inbound move.
type MoveRequest struct {
	RoomKey   string `json:"roomKey"`
	From      string `json:"from,omitempty"`
	To        string `json:"to"`
	Promotion string `json:"promotion,omitempty"`
}

// Move returns the engine move carried by the request.
func (m MoveRequest) Move() engine.Move {
	return engine.Move{From: m.From, To: m.To, Promotion: m.Promotion}
}

// Encode renders an outbound room event as an envelope frame.
func Encode(ev room.Event) ([]byte, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("encoding %s payload: %w", ev.EventName(), err)
	}
	return json.Marshal(Envelope{Event: ev.EventName(), Data: data})
}

// inbound is a decoded client frame.
type inbound struct {
	event string
	join  JoinRequest
	move  MoveRequest
}

// decode validates a client frame and unpacks its payload.
//
// Postcondition: Every error wraps ErrBadRequest.
func decode(frame []byte) (inbound, error) {
	if !gjson.ValidBytes(frame) {
		return inbound{}, fmt.Errorf("%w: frame is not valid JSON", ErrBadRequest)
	}
	name := gjson.GetBytes(frame, "event")
	if name.Type != gjson.String {
		return inbound{}, fmt.Errorf("%w: missing event name", ErrBadRequest)
	}
	in := inbound{event: name.Str}
	data := gjson.GetBytes(frame, "data")

	switch in.event {
	case InJoin:
		if err := unmarshalData(data, &in.join); err != nil {
			return inbound{}, err
		}
		if in.join.RoomKey == "" {
			return inbound{}, fmt.Errorf("%w: join requires roomKey", ErrBadRequest)
		}
	case InMove:
		if err := unmarshalData(data, &in.move); err != nil {
			return inbound{}, err
		}
		// from is optional: placement games only name a destination.
		if in.move.RoomKey == "" || in.move.To == "" {
			return inbound{}, fmt.Errorf("%w: move requires roomKey and to", ErrBadRequest)
		}
	case InLeave:
	default:
		return inbound{}, fmt.Errorf("%w: unknown event %q", ErrBadRequest, in.event)
	}
	return in, nil
}

func unmarshalData(data gjson.Result, v any) error {
	if !data.IsObject() {
		return fmt.Errorf("%w: data must be an object", ErrBadRequest)
	}
	if err := json.Unmarshal([]byte(data.Raw), v); err != nil {
		return fmt.Errorf("%w: %v", ErrBadRequest, err)
	}
	return nil
}

func badRequestEvent(err error) room.ErrorEvent {
	return room.ErrorEvent{Reason: room.ReasonBadRequest, Message: err.Error()}
}
