package protocol

import "encoding/json"

const TypeEvent = "event"

// Message is the envelope for every frame pushed over the /ws socket.
type Message struct {
	ID      string          `json:"id"`
	Type    string          `json:"type"`
	Op      string          `json:"op"`
	Payload json.RawMessage `json:"payload"`
	Error   *ErrPayload     `json:"error,omitempty"`
}

type ErrPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func NewEvent(id, op string, payload any) Message {
	if payload == nil {
		payload = map[string]any{}
	}
	return Message{ID: id, Type: TypeEvent, Op: op, Payload: MustRaw(payload)}
}

func MustRaw(v any) json.RawMessage {
	b, _ := json.Marshal(v)
	return b
}
