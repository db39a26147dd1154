package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"therapy-chat-sync/internal/observability"
	"therapy-chat-sync/internal/service/message"
	"therapy-chat-sync/internal/session"
)

type HandlerOption func(*Handler)

// WithPublisher routes room notices through Redis so clients connected to
// other instances receive them too.
func WithPublisher(p *Publisher) HandlerOption {
	return func(h *Handler) {
		h.publisher = p
	}
}

// WithAllowedOrigins limits upgrades to the given origins; "*" allows any.
func WithAllowedOrigins(origins []string) HandlerOption {
	return func(h *Handler) {
		h.upgrader.CheckOrigin = func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}
			for _, o := range origins {
				if o == "*" || o == origin {
					return true
				}
			}
			return false
		}
	}
}

type Handler struct {
	hub       *Hub
	messages  *message.Service
	publisher *Publisher
	upgrader  websocket.Upgrader
}

func NewHandler(hub *Hub, messages *message.Service, opts ...HandlerOption) *Handler {
	h := &Handler{
		hub:      hub,
		messages: messages,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// JoinRoom upgrades the request and streams chatID's messages to the caller.
// Access checks belong to the caller; after the upgrade, failures are
// reported as an error frame followed by a close.
func (h *Handler) JoinRoom(w http.ResponseWriter, r *http.Request, chatID string, sess session.Session) {
	logger := observability.LoggerFromContext(r.Context())

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Debug().Err(err).Str("chat_id", chatID).Msg("websocket upgrade failed")
		return
	}

	// The connection outlives the request; keep its values, not its cancellation.
	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	cl := &WSClient{
		Conn:     conn,
		ID:       uuid.NewString(),
		UserID:   sess.UserID,
		RoomID:   chatID,
		messages: h.messages,
		ctx:      ctx,
		cancel:   cancel,
		send:     make(chan *ServerFrame, sendBuffer),
		done:     make(chan struct{}),
	}

	stream, err := h.messages.Open(ctx, chatID, cl.pushSnapshot)
	if err != nil {
		frame := cl.errorFrame("", err)
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		_ = conn.WriteJSON(frame)
		_ = conn.Close()
		cancel()
		return
	}
	cl.stream = stream

	if !h.hub.join(cl) {
		stream.Close()
		_ = conn.Close()
		cancel()
		return
	}

	go cl.keepAlive()
	go cl.writeMessage()
	go cl.watchStream()
	go cl.readMessage(h.hub)
	logger.Debug().Str("client_id", cl.ID).Str("chat_id", chatID).Msg("websocket client joined")
}

// NotifyRoom sends an event frame to every client watching roomID.
func (h *Handler) NotifyRoom(ctx context.Context, roomID string, event any) {
	payload, err := json.Marshal(event)
	if err != nil {
		observability.LoggerFromContext(ctx).Warn().Err(err).Str("room_id", roomID).Msg("room event not encodable")
		return
	}
	frame := &ServerFrame{
		Type:      FrameEvent,
		ChatID:    roomID,
		Event:     payload,
		Timestamp: time.Now().UnixMilli(),
	}

	if h.publisher != nil {
		err := h.publisher.Publish(ctx, roomID, frame)
		if err == nil {
			return
		}
		observability.LoggerFromContext(ctx).Warn().Err(err).Str("room_id", roomID).Msg("room event publish failed, delivering locally")
	}
	h.hub.publish(roomID, frame)
}

// ListenForNotices relays frames published by any instance into the local
// hub until ctx ends. It is a no-op without a publisher.
func (h *Handler) ListenForNotices(ctx context.Context) error {
	if h.publisher == nil {
		<-ctx.Done()
		return nil
	}
	return h.publisher.Listen(ctx, h.hub.publish)
}

func (h *Handler) GetRooms(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(h.hub.Rooms())
}
