// ABOUTME: Wire envelopes and message types shared by the bot and host peers
// ABOUTME: One JSON object per WebSocket frame: {"type": ..., "payload": {...}}

package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// MessageType is the "type" field of every frame.
type MessageType string

const (
	TypeHello              MessageType = "hello"
	TypeHelloAck           MessageType = "hello_ack"
	TypeHeartbeat          MessageType = "heartbeat"
	TypeHeartbeatAck       MessageType = "heartbeat_ack"
	TypeAck                MessageType = "ack"
	TypePostMessage        MessageType = "post_message"
	TypeDiscordMessage     MessageType = "discord_message"
	TypeVisitorState       MessageType = "visitor_state"
	TypeInviteState        MessageType = "invite_state"
	TypeMemorySyncInitiate MessageType = "memory_sync_initiate"
	TypeMemorySyncChunk    MessageType = "memory_sync_chunk"
	TypeMemorySyncComplete MessageType = "memory_sync_complete"
	TypeMemorySyncAck      MessageType = "memory_sync_ack"
	TypeStateSyncRequest   MessageType = "state_sync_request"
	TypeStateSyncAck       MessageType = "state_sync_ack"
	TypeResyncRequired     MessageType = "resync_required"
	TypePermissionDenied   MessageType = "permission_denied"
)

// WebSocket close codes used by the bot-side server.
const (
	CloseProtocolError    = 4400
	CloseAuthFailed       = 4401
	CloseHandshakeTimeout = 4408
	CloseReplaced         = 4409
)

// Token length bounds accepted in the hello frame, in characters.
const (
	MinTokenLength = 8
	MaxTokenLength = 512
)

// ErrMalformedFrame is returned when a frame is not a JSON object with a type.
var ErrMalformedFrame = errors.New("malformed frame")

// Envelope is the generic frame shape.
type Envelope struct {
	Type    MessageType     `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Hello is the first frame a host sends after connecting.
type Hello struct {
	Type  MessageType `json:"type"`
	Token string      `json:"token"`
}

// HelloAck confirms a successful handshake.
type HelloAck struct {
	Type      MessageType `json:"type"`
	Status    string      `json:"status"`
	SessionID int64       `json:"session_id"`
}

// Command is an outbound frame before encoding.
type Command struct {
	Type    MessageType
	Payload any
}

// Marshal encodes the command as an Envelope.
func (c Command) Marshal() ([]byte, error) {
	var raw json.RawMessage
	if c.Payload != nil {
		b, err := json.Marshal(c.Payload)
		if err != nil {
			return nil, fmt.Errorf("encoding %s payload: %w", c.Type, err)
		}
		raw = b
	}
	return json.Marshal(Envelope{Type: c.Type, Payload: raw})
}

// Event is a decoded inbound frame. Raw keeps the original bytes for diagnostics.
type Event struct {
	Kind    EventKind
	Type    MessageType
	Payload json.RawMessage
	Raw     []byte
}

// Decode parses one frame into an Event.
func Decode(data []byte) (Event, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if env.Type == "" {
		return Event{}, fmt.Errorf("%w: missing type", ErrMalformedFrame)
	}
	return Event{
		Kind:    KindOf(env.Type),
		Type:    env.Type,
		Payload: env.Payload,
		Raw:     data,
	}, nil
}

// DecodePayload unmarshals the event payload into v. An empty payload leaves v untouched.
func (e Event) DecodePayload(v any) error {
	if len(e.Payload) == 0 || string(e.Payload) == "null" {
		return nil
	}
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("decoding %s payload: %w", e.Type, err)
	}
	return nil
}

// Meta carries the delivery bookkeeping fields present on most events.
type Meta struct {
	EventID    string `json:"event_id,omitempty"`
	ChannelID  string `json:"channel_id,omitempty"`
	ChannelSeq *int64 `json:"channel_seq,omitempty"`
}

// Meta extracts the bookkeeping fields. Malformed payloads yield an empty Meta.
func (e Event) Meta() Meta {
	var m Meta
	_ = json.Unmarshal(e.Payload, &m)
	return m
}

// FlexInt accepts a JSON number or a numeric string.
type FlexInt struct {
	raw json.RawMessage
}

// UnmarshalJSON stores the raw value; parsing happens in Int.
func (f *FlexInt) UnmarshalJSON(b []byte) error {
	f.raw = append(f.raw[:0], b...)
	return nil
}

// MarshalJSON emits the stored raw value, or null when unset.
func (f FlexInt) MarshalJSON() ([]byte, error) {
	if len(f.raw) == 0 {
		return []byte("null"), nil
	}
	return f.raw, nil
}

// NewFlexInt wraps an integer value.
func NewFlexInt(n int64) FlexInt {
	return FlexInt{raw: json.RawMessage(strconv.FormatInt(n, 10))}
}

// Int parses the stored value. ok is false when missing or not an integer.
func (f FlexInt) Int() (int64, bool) {
	s := strings.TrimSpace(string(f.raw))
	if s == "" || s == "null" {
		return 0, false
	}
	if strings.HasPrefix(s, `"`) {
		var str string
		if err := json.Unmarshal(f.raw, &str); err != nil {
			return 0, false
		}
		s = strings.TrimSpace(str)
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}
