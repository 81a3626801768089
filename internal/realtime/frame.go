package realtime

import "github.com/memohai/unibox/internal/message/event"

// FrameType names a websocket frame.
type FrameType string

const (
	// Client to server.
	FrameFocus     FrameType = "focus"
	FrameBlur      FrameType = "blur"
	FrameHeartbeat FrameType = "heartbeat"
	FrameTyping    FrameType = "typing"
	FrameRead      FrameType = "read"

	// Server to client.
	FrameEvent   FrameType = "event"
	FrameScope   FrameType = "scope"
	FrameError   FrameType = "error"
	FrameDropped FrameType = "dropped"
)

// ClientFrame is a request sent over the websocket.
type ClientFrame struct {
	Type           FrameType `json:"type"`
	ConversationID string    `json:"conversation_id,omitempty"`
	Subject        string    `json:"subject,omitempty"`
	MessageID      string    `json:"message_id,omitempty"`
	ReaderID       string    `json:"reader_id,omitempty"`
}

// ServerFrame is pushed to the client. Event is set for FrameEvent, Scope
// for FrameScope and Error for FrameError; Request echoes the client frame
// type an error or scope answers.
type ServerFrame struct {
	Type    FrameType    `json:"type"`
	Request FrameType    `json:"request,omitempty"`
	Event   *event.Event `json:"event,omitempty"`
	Scope   []string     `json:"scope,omitempty"`
	Error   string       `json:"error,omitempty"`
}

// EventFrame wraps an event for the wire.
func EventFrame(evt event.Event) ServerFrame {
	return ServerFrame{Type: FrameEvent, Event: &evt}
}
