package core

import (
	"bytes"
	"encoding/json"
)

// Payload is a JSON object routed between sessions. Values are kept raw so
// client fields pass through untouched.
type Payload map[string]json.RawMessage

// InboundEnvelope is a frame received from a client connection.
type InboundEnvelope struct {
	Message    json.RawMessage `json:"message"`
	TargetUser string          `json:"target_user"`
}

// NewPayload turns a client message into a routable object. Objects are used
// as-is, other JSON values are wrapped under "message".
func NewPayload(raw json.RawMessage) (Payload, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return Payload{}, nil
	}

	if trimmed[0] == '{' {
		var p Payload
		if err := json.Unmarshal(trimmed, &p); err != nil {
			return nil, err
		}
		if p == nil {
			p = Payload{}
		}
		return p, nil
	}

	var probe any
	if err := json.Unmarshal(trimmed, &probe); err != nil {
		return nil, err
	}
	return Payload{"message": append(json.RawMessage(nil), trimmed...)}, nil
}

// With returns a copy of p with key set to the string value.
func (p Payload) With(key, value string) Payload {
	out := make(Payload, len(p)+1)
	for k, v := range p {
		out[k] = v
	}
	encoded, _ := json.Marshal(value)
	out[key] = encoded
	return out
}

// PresenceNotice builds the system announcement for a join or leave.
func PresenceNotice(event, identity string) Payload {
	return Payload{}.
		With("type", "presence").
		With("event", event).
		With("user", identity)
}

const (
	PresenceJoined = "joined"
	PresenceLeft   = "left"
)
