package websocket

import (
	"encoding/json"

	"therapy-chat-sync/internal/dto"
)

// Frame types exchanged with clients.
const (
	FrameSnapshot = "snapshot"
	FrameSend     = "send"
	FrameDelete   = "delete"
	FrameAck      = "ack"
	FrameError    = "error"
	FrameEvent    = "event"
)

// ClientFrame is what a client writes. Ref is echoed back on the ack or
// error for that frame.
type ClientFrame struct {
	Type      string `json:"type"`
	Content   string `json:"content,omitempty"`
	MessageID string `json:"messageId,omitempty"`
	Ref       string `json:"ref,omitempty"`
}

type ServerFrame struct {
	Type      string                `json:"type"`
	ChatID    string                `json:"chatId"`
	Ref       string                `json:"ref,omitempty"`
	Messages  []dto.MessageResponse `json:"messages,omitempty"`
	Message   *dto.MessageResponse  `json:"message,omitempty"`
	Error     string                `json:"error,omitempty"`
	Code      string                `json:"code,omitempty"`
	Event     json.RawMessage       `json:"event,omitempty"`
	Timestamp int64                 `json:"timestamp"`
}

type Room struct {
	ID      string               `json:"id"`
	Clients map[string]*WSClient `json:"-"`
}

// WSMessage is a frame addressed to every client in a room.
type WSMessage struct {
	RoomID string
	Frame  *ServerFrame
}

type RoomRes struct {
	ID      string `json:"id"`
	Clients int    `json:"clients"`
}
