// Package relay carries lifecycle signals from the background cache proxy to
// the client process over a websocket.
//
// Delivery is fire-and-forget: a client that is not connected misses the
// message. Receivers must tolerate duplicates.
package relay

import (
	"encoding/json"
	"fmt"

	"github.com/oklog/ulid/v2"
)

// Type names a relayed signal.
type Type string

const (
	// TypeBackgroundSync asks the client to drain its offline queue.
	TypeBackgroundSync Type = "BACKGROUND_SYNC"
	// TypePush carries a push notification payload.
	TypePush Type = "PUSH"
	// TypeNotificationClick reports that the user acted on a notification.
	TypeNotificationClick Type = "NOTIFICATION_CLICK"
	// TypeSkipWaiting asks a waiting proxy worker to activate now. Sent by the client.
	TypeSkipWaiting Type = "SKIP_WAITING"
)

// Message is one relayed signal.
type Message struct {
	ID      ulid.ULID       `json:"id"`
	Type    Type            `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewMessage builds a Message with a fresh id. payload may be nil.
func NewMessage(t Type, payload any) (Message, error) {
	m := Message{ID: ulid.Make(), Type: t}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return Message{}, fmt.Errorf("encoding %s payload: %w", t, err)
		}
		m.Payload = data
	}
	return m, nil
}

// Decode unmarshals the payload into v.
func (m Message) Decode(v any) error {
	if len(m.Payload) == 0 {
		return fmt.Errorf("%s message has no payload", m.Type)
	}
	if err := json.Unmarshal(m.Payload, v); err != nil {
		return fmt.Errorf("decoding %s payload: %w", m.Type, err)
	}
	return nil
}

// SyncPayload is the body of a BACKGROUND_SYNC message.
type SyncPayload struct {
	Action string `json:"action"`
}

// SyncAction is the only action the client handles today.
const SyncAction = "sync-offline-data"
