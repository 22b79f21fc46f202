package protocol

import "time"

// Envelope kinds on the wire, client -> server.
const (
	KindMessage     = "message"
	KindTypingStart = "typing_start"
	KindTypingStop  = "typing_stop"
)

// Envelope kinds on the wire, server -> client.
const (
	KindUserJoined     = "user_joined"
	KindUserLeft       = "user_left"
	KindTypingStatus   = "typing_status"
	KindMessageDeleted = "message_deleted"
)

// Message payload types.
const (
	TypeText  = "text"
	TypeImage = "image"
	TypeAudio = "audio"
)

// Envelope is one JSON unit exchanged over the live connection. Outbound
// envelopes never carry message_id or timestamp; the server assigns both.
type Envelope struct {
	Type        string `json:"type"`
	Sender      string `json:"sender,omitempty"`
	Username    string `json:"username,omitempty"`
	Content     string `json:"content,omitempty"`
	Channel     string `json:"channel,omitempty"`
	MessageType string `json:"message_type,omitempty"`
	IsTyping    *bool  `json:"is_typing,omitempty"`
	Timestamp   string `json:"timestamp,omitempty"`
	MessageID   string `json:"message_id,omitempty"`
}

// Event is a classified inbound envelope.
type Event interface {
	Kind() string
}

type MessageEvent struct {
	Sender      string
	Content     string
	Channel     string
	MessageType string
	Timestamp   time.Time
	MessageID   string
}

func (MessageEvent) Kind() string { return KindMessage }

type UserJoinedEvent struct {
	Username  string
	Channel   string
	Timestamp time.Time
}

func (UserJoinedEvent) Kind() string { return KindUserJoined }

type UserLeftEvent struct {
	Username  string
	Channel   string
	Timestamp time.Time
}

func (UserLeftEvent) Kind() string { return KindUserLeft }

type TypingStatusEvent struct {
	Username  string
	Channel   string
	IsTyping  bool
	Timestamp time.Time
}

func (TypingStatusEvent) Kind() string { return KindTypingStatus }

type MessageDeletedEvent struct {
	MessageID string
}

func (MessageDeletedEvent) Kind() string { return KindMessageDeleted }
