package domain

import (
	"encoding/json"
	"time"
)

type MessageType string

const (
	MessageOffer        MessageType = "offer"
	MessageAnswer       MessageType = "answer"
	MessageICECandidate MessageType = "ice-candidate"
	MessageStateChange  MessageType = "connection-state-change"
)

// SignalingMessage is the transient relay envelope. Data stays opaque so
// unknown signaling kinds pass through unchanged.
type SignalingMessage struct {
	Type       MessageType     `json:"type"`
	RoomID     RoomID          `json:"roomId"`
	FromUserID UserID          `json:"fromUserId"`
	ToUserID   UserID          `json:"toUserId,omitempty"`
	Data       json.RawMessage `json:"data,omitempty"`
	Timestamp  time.Time       `json:"timestamp"`
}

// Broadcast reports whether the message targets the whole room.
func (m *SignalingMessage) Broadcast() bool {
	return m.ToUserID == ""
}

// StateChangePayload is the data carried by a connection-state-change message.
type StateChangePayload struct {
	State ConnectionState `json:"state"`
}

// ConnectionStateNotice is the informational broadcast other participants
// receive after a state change; it never carries raw report fields.
type ConnectionStateNotice struct {
	Type   string          `json:"type"`
	RoomID RoomID          `json:"roomId"`
	UserID UserID          `json:"userId"`
	State  ConnectionState `json:"state"`
}

// NewStateNotice builds the broadcast notice for a state change.
func NewStateNotice(roomID RoomID, userID UserID, state ConnectionState) ConnectionStateNotice {
	return ConnectionStateNotice{
		Type:   "user-connection-state-change",
		RoomID: roomID,
		UserID: userID,
		State:  state,
	}
}
