package websocket

import (
	"bytes"
	"encoding/json"
	"strings"

	"chat-relay/internal/apperror"
)

// EventType names a realtime event on the wire
type EventType string

// Inbound events, sent by clients
const (
	EventJoinConversation  EventType = "joinConversation"
	EventLeaveConversation EventType = "leaveConversation"
	EventSendMessage       EventType = "sendMessage"
	EventTyping            EventType = "typing"
	EventReadMessages      EventType = "readMessages"
)

// Outbound events, sent by the relay
const (
	EventNewMessage         EventType = "newMessage"
	EventUserTyping         EventType = "userTyping"
	EventMessagesRead       EventType = "messagesRead"
	EventJoinedConversation EventType = "joinedConversation"
	EventLeftConversation   EventType = "leftConversation"
	EventMessageSent        EventType = "messageSent"
	EventError              EventType = "error"
)

func (et EventType) String() string {
	return string(et)
}

// IsInbound reports whether clients may send this event
func (et EventType) IsInbound() bool {
	switch et {
	case EventJoinConversation, EventLeaveConversation, EventSendMessage, EventTyping, EventReadMessages:
		return true
	default:
		return false
	}
}

// Event is the envelope of every frame. ID is supplied by the client and
// echoed on the acknowledgement or error answering that frame.
type Event struct {
	Event EventType `json:"event"`
	Data  any       `json:"data,omitempty"`
	ID    string    `json:"id,omitempty"`
}

type inboundFrame struct {
	Event EventType       `json:"event"`
	Data  json.RawMessage `json:"data"`
	ID    string          `json:"id"`
}

/** -------------------- payloads -------------------- */

type ConversationRef struct {
	ConversationID string `json:"conversationId"`
}

type SendMessageData struct {
	ConversationID string `json:"conversationId"`
	Content        string `json:"content"`
}

type TypingData struct {
	ConversationID string `json:"conversationId"`
	IsTyping       bool   `json:"isTyping"`
}

type UserTypingData struct {
	UserID         string `json:"userId"`
	ConversationID string `json:"conversationId"`
	IsTyping       bool   `json:"isTyping"`
}

type MessagesReadData struct {
	UserID         string `json:"userId"`
	ConversationID string `json:"conversationId"`
}

type ErrorData struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewErrorEvent maps err onto the wire error taxonomy.
func NewErrorEvent(id string, err error) *Event {
	return &Event{
		Event: EventError,
		ID:    id,
		Data: ErrorData{
			Code:    string(apperror.KindOf(err)),
			Message: apperror.MessageOf(err),
		},
	}
}

// decodeConversationRef accepts either a bare string or {"conversationId": ...}.
func decodeConversationRef(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", apperror.InvalidRequest("conversationId is required")
	}

	if raw[0] == '"' {
		var id string
		if err := json.Unmarshal(raw, &id); err != nil {
			return "", apperror.InvalidRequest("invalid conversationId")
		}
		return strings.TrimSpace(id), nil
	}

	var ref ConversationRef
	if err := json.Unmarshal(raw, &ref); err != nil {
		return "", apperror.InvalidRequest("invalid data")
	}
	return strings.TrimSpace(ref.ConversationID), nil
}

func decodeData(raw json.RawMessage, v any) error {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return apperror.InvalidRequest("data is required")
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return apperror.InvalidRequest("invalid data")
	}
	return nil
}
