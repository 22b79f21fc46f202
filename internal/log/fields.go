package log

const (
	// Session
	FieldUsername = "username"
	FieldChannel  = "channel"

	// Connection
	FieldState     = "state"
	FieldCloseCode = "close_code"
	FieldAttempt   = "attempt"
	FieldURL       = "url"

	// Protocol
	FieldKind      = "kind"
	FieldMessageID = "message_id"
	FieldPeer      = "peer"

	// Component (sub-logger scoping)
	FieldComponent = "component"
)
