package message

import "encoding/json"

// Notification is the lightweight record published on an agent's
// notification channel whenever a message is enqueued for it.
//
// Notifications are wake-up hints with at-most-once delivery. The queue is
// the authoritative state: a missed notification delays pickup until the
// next poll, it never loses the underlying message.
type Notification struct {
	MessageID   string   `json:"message_id"`
	Type        Type     `json:"message_type"`
	Priority    Priority `json:"priority"`
	SourceAgent string   `json:"source_agent"`
}

// NotificationFor builds the notification record for a message.
func NotificationFor(m *Message) *Notification {
	return &Notification{
		MessageID:   m.ID,
		Type:        m.Type,
		Priority:    m.Priority,
		SourceAgent: m.SourceAgent,
	}
}

// Marshal serializes the notification to JSON.
func (n *Notification) Marshal() ([]byte, error) {
	return json.Marshal(n)
}

// UnmarshalNotification deserializes a notification from JSON.
func UnmarshalNotification(data []byte) (*Notification, error) {
	var n Notification
	if err := json.Unmarshal(data, &n); err != nil {
		return nil, err
	}
	return &n, nil
}
