// Package protocol defines the GameLink wire protocol: the message
// envelope shared by the hub and agents, its validation rules, the
// JSON codec, and the protocol error taxonomy.
package protocol

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"strconv"
	"strings"
	"time"
)

// ProtocolVersion is the version advertised in every outgoing message.
// Peers are accepted when their version shares the same major prefix.
const (
	ProtocolVersion     = "2.0"
	AcceptedMajorPrefix = "2."
)

// MessageType identifies the four kinds of wire messages.
type MessageType string

const (
	TypeRequest  MessageType = "request"
	TypeResponse MessageType = "response"
	TypeEvent    MessageType = "event"
	TypeSystem   MessageType = "system"
)

// System operations form the closed control vocabulary.
const (
	SysHandshake         = "handshake"
	SysHandshakeResponse = "handshake_response"
	SysPing              = "ping"
	SysPong              = "pong"
	SysDisconnect        = "disconnect"
)

// Well-known operation names handled by the engine itself.
const (
	OpHandshake        = "handshake"
	OpEventSubscribe   = "event.subscribe"
	OpEventUnsubscribe = "event.unsubscribe"
)

// Message is the wire unit exchanged between hub and agent. Timestamps
// are epoch milliseconds; mixed producers normalize at the boundary.
type Message struct {
	Type      MessageType    `json:"type"`
	ID        string         `json:"id"`
	Op        string         `json:"op,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
	Timestamp int64          `json:"timestamp"`
	Version   string         `json:"version"`
	ServerID  string         `json:"serverId,omitempty"`

	// Request only: how long the sender will wait for a response, in ms.
	Timeout int64 `json:"timeout,omitempty"`

	// Response only.
	Success bool   `json:"success,omitempty"`
	Error   string `json:"error,omitempty"`

	// Event only.
	EventType string `json:"eventType,omitempty"`

	// System only.
	SystemOp string `json:"systemOp,omitempty"`
}

// NewRequest builds a request message for the given operation.
func NewRequest(serverID, op string, data map[string]any) *Message {
	return &Message{
		Type:      TypeRequest,
		ID:        GenerateID("req"),
		Op:        op,
		Data:      data,
		Timestamp: NowMillis(),
		Version:   ProtocolVersion,
		ServerID:  serverID,
	}
}

// NewResponse builds a response answering the given request.
func NewResponse(req *Message, success bool, data map[string]any, errMsg string) *Message {
	return &Message{
		Type:      TypeResponse,
		ID:        req.ID,
		Op:        req.Op,
		Data:      data,
		Timestamp: NowMillis(),
		Version:   ProtocolVersion,
		ServerID:  req.ServerID,
		Success:   success,
		Error:     errMsg,
	}
}

// NewEvent builds an event message of the given event type.
func NewEvent(serverID, eventType string, data map[string]any) *Message {
	return &Message{
		Type:      TypeEvent,
		ID:        GenerateID("evt"),
		EventType: eventType,
		Data:      data,
		Timestamp: NowMillis(),
		Version:   ProtocolVersion,
		ServerID:  serverID,
	}
}

// NewSystem builds a system control message.
func NewSystem(serverID, systemOp string, data map[string]any) *Message {
	return &Message{
		Type:      TypeSystem,
		ID:        GenerateID("sys"),
		SystemOp:  systemOp,
		Data:      data,
		Timestamp: NowMillis(),
		Version:   ProtocolVersion,
		ServerID:  serverID,
	}
}

// Validate checks structural correctness of a decoded message.
// A failed validation is a ProtocolError: the caller logs and drops the
// frame, it never terminates the connection.
func (m *Message) Validate() error {
	switch m.Type {
	case TypeRequest:
		if m.Op == "" {
			return NewProtocolError("request missing op")
		}
	case TypeResponse:
		if m.ID == "" {
			return NewProtocolError("response missing id")
		}
	case TypeEvent:
		if m.EventType == "" {
			return NewProtocolError("event missing eventType")
		}
	case TypeSystem:
		switch m.SystemOp {
		case SysHandshake, SysHandshakeResponse, SysPing, SysPong, SysDisconnect:
		default:
			return NewProtocolError(fmt.Sprintf("unknown systemOp %q", m.SystemOp))
		}
	default:
		return NewProtocolError(fmt.Sprintf("unknown message type %q", m.Type))
	}

	if m.ID == "" {
		return NewProtocolError("message missing id")
	}
	if m.Version != "" && !VersionCompatible(m.Version) {
		return NewProtocolError(fmt.Sprintf("unsupported protocol version %q", m.Version))
	}
	return nil
}

// VersionCompatible reports whether a peer version shares our major version.
func VersionCompatible(version string) bool {
	return strings.HasPrefix(version, AcceptedMajorPrefix)
}

// Encode serializes a message to its JSON wire form.
func Encode(m *Message) ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to encode message: %w", err)
	}
	return data, nil
}

// Decode parses and validates a wire frame. Malformed payloads yield a
// ProtocolError so the connection can drop the frame and carry on.
func Decode(data []byte) (*Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, NewProtocolError(fmt.Sprintf("malformed frame: %v", err))
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// NowMillis returns the current time as epoch milliseconds, the
// canonical timestamp representation on the wire.
func NowMillis() int64 {
	return time.Now().UnixMilli()
}

// GenerateID produces a message id unique per sender per connection:
// prefix + base36 timestamp + random suffix. Collision probability is
// negligible; ids are not cryptographically unique.
func GenerateID(prefix string) string {
	return prefix + "_" +
		strconv.FormatInt(time.Now().UnixNano(), 36) + "_" +
		strconv.FormatInt(rand.Int63n(1<<31), 36)
}

// String returns a compact description for logging.
func (m *Message) String() string {
	switch m.Type {
	case TypeSystem:
		return fmt.Sprintf("system/%s id=%s", m.SystemOp, m.ID)
	case TypeEvent:
		return fmt.Sprintf("event/%s id=%s", m.EventType, m.ID)
	default:
		return fmt.Sprintf("%s/%s id=%s", m.Type, m.Op, m.ID)
	}
}
