package realtime

import (
	"encoding/json"
	"fmt"
	"time"
)

// Frame types on the chat socket. Inbound and outbound frames share one
// envelope shape: {"type": ..., "payload": ...}.
const (
	frameNewMessage     = "new_message"
	frameMessageDeleted = "message_deleted"
	frameTyping         = "typing"
	frameUserOnline     = "user_online"
	frameUserOffline    = "user_offline"
	frameSendMessage    = "send_message"
	frameDeleteMessage  = "delete_message"
	frameStartTyping    = "start_typing"
	frameStopTyping     = "stop_typing"
)

type envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// messagePayload is the new_message payload: the chat message itself, not a
// wrapper around it.
type messagePayload struct {
	ID              int64     `json:"id"`
	FamilyID        int64     `json:"family_id"`
	UserID          int64     `json:"user_id"`
	UserName        string    `json:"user_name"`
	Content         string    `json:"content"`
	CreatedAt       time.Time `json:"created_at"`
	ClientMessageID string    `json:"client_message_id"`
}

type messageDeletedPayload struct {
	MessageID int64 `json:"message_id"`
}

type typingPayload struct {
	UserID   int64  `json:"user_id"`
	UserName string `json:"user_name"`
	IsTyping bool   `json:"is_typing"`
}

type presencePayload struct {
	UserID   int64  `json:"user_id"`
	UserName string `json:"user_name"`
}

type sendMessagePayload struct {
	Content         string `json:"content"`
	ClientMessageID string `json:"client_message_id"`
}

type deleteMessagePayload struct {
	MessageID int64 `json:"message_id"`
}

type typingIndicatorPayload struct {
	IsTyping bool `json:"is_typing"`
}

func encodeFrame(frameType string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", frameType, err)
	}
	return json.Marshal(envelope{Type: frameType, Payload: raw})
}
