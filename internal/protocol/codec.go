package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrUnrecognized marks an inbound envelope whose type is unknown. The
// dispatcher logs and drops these instead of failing the connection, so
// newer servers can ship message kinds older clients have never seen.
var ErrUnrecognized = errors.New("unrecognized envelope type")

// ProtocolError reports an inbound envelope that is malformed or missing
// required fields for its declared type. The envelope is dropped; the
// connection stays open.
type ProtocolError struct {
	Kind   string
	Reason string
	Err    error
}

func (e *ProtocolError) Error() string {
	if e.Kind == "" {
		return "protocol: " + e.Reason
	}
	return fmt.Sprintf("protocol: %s envelope: %s", e.Kind, e.Reason)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// Codec translates between the wire envelope schema and typed events.
// It is stateless; a zero Codec is ready to use.
type Codec struct{}

// EncodeMessage builds an outbound chat message envelope. The sender and
// channel are stamped from the session; message_id and timestamp are left
// for the server to assign.
func (Codec) EncodeMessage(sender, channel, content, messageType string) ([]byte, error) {
	switch messageType {
	case TypeText, TypeImage, TypeAudio:
	default:
		return nil, &ProtocolError{Kind: KindMessage, Reason: "unknown message_type " + messageType}
	}

	return json.Marshal(Envelope{
		Type:        KindMessage,
		Sender:      sender,
		Content:     content,
		Channel:     channel,
		MessageType: messageType,
	})
}

// EncodeTypingStart builds an outbound typing_start envelope.
func (Codec) EncodeTypingStart(sender, channel string) ([]byte, error) {
	return json.Marshal(Envelope{
		Type:    KindTypingStart,
		Sender:  sender,
		Channel: channel,
	})
}

// EncodeTypingStop builds an outbound typing_stop envelope.
func (Codec) EncodeTypingStop(sender, channel string) ([]byte, error) {
	return json.Marshal(Envelope{
		Type:    KindTypingStop,
		Sender:  sender,
		Channel: channel,
	})
}

// Decode parses one inbound wire unit and classifies it by type.
// Unknown types return ErrUnrecognized; missing required fields return a
// ProtocolError. Either way the caller drops the single envelope.
func (Codec) Decode(raw []byte) (Event, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, &ProtocolError{Reason: "invalid JSON", Err: err}
	}

	switch env.Type {
	case KindMessage:
		if env.MessageID == "" {
			return nil, &ProtocolError{Kind: KindMessage, Reason: "missing message_id"}
		}
		if env.Sender == "" {
			return nil, &ProtocolError{Kind: KindMessage, Reason: "missing sender"}
		}
		messageType := env.MessageType
		if messageType == "" {
			messageType = TypeText
		}
		return MessageEvent{
			Sender:      env.Sender,
			Content:     env.Content,
			Channel:     env.Channel,
			MessageType: messageType,
			Timestamp:   ParseTimestamp(env.Timestamp),
			MessageID:   env.MessageID,
		}, nil

	case KindUserJoined:
		if env.Username == "" {
			return nil, &ProtocolError{Kind: KindUserJoined, Reason: "missing username"}
		}
		return UserJoinedEvent{
			Username:  env.Username,
			Channel:   env.Channel,
			Timestamp: ParseTimestamp(env.Timestamp),
		}, nil

	case KindUserLeft:
		if env.Username == "" {
			return nil, &ProtocolError{Kind: KindUserLeft, Reason: "missing username"}
		}
		return UserLeftEvent{
			Username:  env.Username,
			Channel:   env.Channel,
			Timestamp: ParseTimestamp(env.Timestamp),
		}, nil

	case KindTypingStatus:
		if env.Username == "" {
			return nil, &ProtocolError{Kind: KindTypingStatus, Reason: "missing username"}
		}
		if env.IsTyping == nil {
			return nil, &ProtocolError{Kind: KindTypingStatus, Reason: "missing is_typing"}
		}
		return TypingStatusEvent{
			Username:  env.Username,
			Channel:   env.Channel,
			IsTyping:  *env.IsTyping,
			Timestamp: ParseTimestamp(env.Timestamp),
		}, nil

	case KindMessageDeleted:
		if env.MessageID == "" {
			return nil, &ProtocolError{Kind: KindMessageDeleted, Reason: "missing message_id"}
		}
		return MessageDeletedEvent{MessageID: env.MessageID}, nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnrecognized, env.Type)
	}
}

// timestampFormats covers the server's datetime.isoformat() output, with
// and without fractional seconds or an explicit offset.
var timestampFormats = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.999999",
	"2006-01-02T15:04:05",
}

// ParseTimestamp parses a server timestamp. Unparsable values return the
// zero time rather than an error; a bad clock must not drop a message.
func ParseTimestamp(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	for _, layout := range timestampFormats {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
