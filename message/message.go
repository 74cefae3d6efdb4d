package message

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Common errors.
var (
	// ErrMissingID indicates the message has no id.
	ErrMissingID = errors.New("message id is required")

	// ErrMissingTarget indicates the message has no target agent.
	ErrMissingTarget = errors.New("target agent is required")

	// ErrInvalidType indicates an unknown message type.
	ErrInvalidType = errors.New("invalid message type")

	// ErrInvalidPriority indicates a priority outside the known range.
	ErrInvalidPriority = errors.New("invalid message priority")

	// ErrExpiresBeforeCreated indicates expires_at precedes the timestamp.
	ErrExpiresBeforeCreated = errors.New("expiry precedes message timestamp")

	// ErrRetryExceedsMax indicates retry_count is greater than max_retries.
	ErrRetryExceedsMax = errors.New("retry count exceeds max retries")
)

// Type identifies the kind of message being sent.
type Type string

// Known message types.
const (
	TypeTaskNotification Type = "task_notification"
	TypeStatusUpdate     Type = "status_update"
	TypeErrorAlert       Type = "error_alert"
	TypeDataRequest      Type = "data_request"
	TypeDataResponse     Type = "data_response"
	TypeConfigChange     Type = "config_change"
	TypeHealthCheck      Type = "health_check"
	TypeShutdown         Type = "shutdown"
)

// Valid reports whether t is a known message type.
func (t Type) Valid() bool {
	switch t {
	case TypeTaskNotification, TypeStatusUpdate, TypeErrorAlert,
		TypeDataRequest, TypeDataResponse, TypeConfigChange,
		TypeHealthCheck, TypeShutdown:
		return true
	}
	return false
}

// Priority is the delivery priority of a message.
// Values are numeric on the wire for cross-language compatibility.
type Priority int

// Priority levels, lowest to highest.
const (
	PriorityLow    Priority = 1
	PriorityNormal Priority = 2
	PriorityHigh   Priority = 3
	PriorityUrgent Priority = 4
)

// Valid reports whether p is a known priority level.
func (p Priority) Valid() bool {
	return p >= PriorityLow && p <= PriorityUrgent
}

// Elevated reports whether messages at this priority are routed through
// the priority list in addition to the regular list.
func (p Priority) Elevated() bool {
	return p >= PriorityHigh
}

// String returns the priority name.
func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	case PriorityUrgent:
		return "urgent"
	default:
		return "unknown"
	}
}

// DefaultMaxRetries is the advisory retry budget stamped on new messages.
const DefaultMaxRetries = 3

// Message is the envelope exchanged between agents.
// A message is never mutated after creation.
type Message struct {
	// ID uniquely identifies this message. Generated by the sender.
	ID string `json:"id"`

	// Timestamp is the creation time (UTC).
	Timestamp time.Time `json:"timestamp"`

	// SourceAgent and TargetAgent identify sender and recipient.
	SourceAgent string `json:"source_agent"`
	TargetAgent string `json:"target_agent"`

	// Type tags the payload for handler dispatch.
	Type Type `json:"message_type"`

	// Priority controls routing through the priority list.
	Priority Priority `json:"priority"`

	// Payload is opaque structured data, interpreted only by the consumer.
	Payload map[string]any `json:"payload"`

	// CorrelationID pairs a data_request with its data_response.
	CorrelationID string `json:"correlation_id,omitempty"`

	// ExpiresAt is the optional absolute expiry time. When unset, the
	// queue applies its default TTL.
	ExpiresAt *time.Time `json:"expires_at,omitempty"`

	// RetryCount and MaxRetries are advisory; see package doc.
	RetryCount int `json:"retry_count"`
	MaxRetries int `json:"max_retries"`
}

// New creates a message with a fresh id and timestamp.
func New(source, target string, t Type, p Priority, payload map[string]any) *Message {
	if payload == nil {
		payload = make(map[string]any)
	}
	return &Message{
		ID:          uuid.New().String(),
		Timestamp:   time.Now().UTC(),
		SourceAgent: source,
		TargetAgent: target,
		Type:        t,
		Priority:    p,
		Payload:     payload,
		MaxRetries:  DefaultMaxRetries,
	}
}

// Validate checks the message invariants.
func (m *Message) Validate() error {
	if m.ID == "" {
		return ErrMissingID
	}
	if m.TargetAgent == "" {
		return ErrMissingTarget
	}
	if !m.Type.Valid() {
		return ErrInvalidType
	}
	if !m.Priority.Valid() {
		return ErrInvalidPriority
	}
	if m.ExpiresAt != nil && m.ExpiresAt.Before(m.Timestamp) {
		return ErrExpiresBeforeCreated
	}
	if m.RetryCount > m.MaxRetries {
		return ErrRetryExceedsMax
	}
	return nil
}

// Expired reports whether the message is past its expiry at the given time.
// Messages without an explicit expiry never report expired here; the queue's
// default TTL covers them.
func (m *Message) Expired(now time.Time) bool {
	return m.ExpiresAt != nil && !now.Before(*m.ExpiresAt)
}

// Marshal serializes the message to JSON.
func (m *Message) Marshal() ([]byte, error) {
	return json.Marshal(m)
}

// Unmarshal deserializes a message from JSON.
func Unmarshal(data []byte) (*Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return &m, nil
}
