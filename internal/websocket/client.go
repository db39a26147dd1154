package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"therapy-chat-sync/internal/apperror"
	"therapy-chat-sync/internal/dto"
	"therapy-chat-sync/internal/model"
	"therapy-chat-sync/internal/observability"
	"therapy-chat-sync/internal/service/message"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingPeriod   = 30 * time.Second
	frameTimeout = 10 * time.Second
	maxFrameSize = 64 * 1024
	sendBuffer   = 16
)

var errNotDeletable = apperror.Validation("only the sender can delete a message in this conversation")

// WSClient is one websocket connection bound to a conversation. It owns a
// message stream whose snapshots it forwards, and turns inbound frames
// into stream writes.
type WSClient struct {
	Conn   *websocket.Conn
	ID     string
	UserID string
	RoomID string

	messages *message.Service
	stream   *message.Stream
	ctx      context.Context
	cancel   context.CancelFunc

	send      chan *ServerFrame
	done      chan struct{}
	closeOnce sync.Once
	mu        sync.Mutex // serializes writes to Conn
}

func (cl *WSClient) now() int64 {
	return time.Now().UnixMilli()
}

// offer queues a frame without blocking. False means the client is too far
// behind to keep.
func (cl *WSClient) offer(frame *ServerFrame) bool {
	select {
	case cl.send <- frame:
		return true
	case <-cl.done:
		return true
	default:
		return false
	}
}

// deliver queues a frame, waiting for room unless the client is closing.
func (cl *WSClient) deliver(frame *ServerFrame) {
	select {
	case cl.send <- frame:
	case <-cl.done:
	}
}

func (cl *WSClient) pushSnapshot(msgs []model.Message) {
	cl.deliver(&ServerFrame{
		Type:      FrameSnapshot,
		ChatID:    cl.RoomID,
		Messages:  dto.FromMessages(msgs),
		Timestamp: cl.now(),
	})
}

func (cl *WSClient) close() {
	cl.closeOnce.Do(func() {
		close(cl.done)
		cl.mu.Lock()
		_ = cl.Conn.Close()
		cl.mu.Unlock()
	})
}

func (cl *WSClient) keepAlive() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-cl.done:
			return
		case <-ticker.C:
			cl.mu.Lock()
			err := cl.Conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
			cl.mu.Unlock()
			if err != nil {
				observability.LoggerFromContext(cl.ctx).Debug().Err(err).Str("client_id", cl.ID).Msg("websocket ping failed")
				cl.close()
				return
			}
		}
	}
}

func (cl *WSClient) writeMessage() {
	for {
		select {
		case <-cl.done:
			return
		case frame := <-cl.send:
			cl.mu.Lock()
			_ = cl.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			err := cl.Conn.WriteJSON(frame)
			cl.mu.Unlock()
			if err != nil {
				observability.LoggerFromContext(cl.ctx).Debug().Err(err).Str("client_id", cl.ID).Msg("websocket write failed")
				cl.close()
				return
			}
			wsFramesDelivered.WithLabelValues(frame.Type).Inc()
		}
	}
}

// watchStream drops the connection if the stream stops on its own.
func (cl *WSClient) watchStream() {
	select {
	case <-cl.stream.Done():
		cl.close()
	case <-cl.done:
	}
}

func (cl *WSClient) readMessage(hub *Hub) {
	logger := observability.LoggerFromContext(cl.ctx)
	defer func() {
		if r := recover(); r != nil {
			logger.Error().Interface("panic", r).Str("client_id", cl.ID).Msg("recovered from panic in websocket reader")
		}
		cl.close()
		cl.stream.Close()
		cl.cancel()
		hub.leave(cl)
		logger.Debug().Str("client_id", cl.ID).Str("chat_id", cl.RoomID).Msg("websocket client disconnected")
	}()

	cl.Conn.SetReadLimit(maxFrameSize)
	_ = cl.Conn.SetReadDeadline(time.Now().Add(pongWait))
	cl.Conn.SetPongHandler(func(string) error {
		return cl.Conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := cl.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseNoStatusReceived,
			) && !errors.Is(err, websocket.ErrCloseSent) {
				logger.Debug().Err(err).Str("client_id", cl.ID).Msg("websocket read failed")
			}
			return
		}

		var frame ClientFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			cl.deliver(cl.errorFrame("", apperror.Validation("frame is not valid JSON")))
			continue
		}
		cl.handleFrame(frame)
	}
}

func (cl *WSClient) handleFrame(frame ClientFrame) {
	ctx, cancel := context.WithTimeout(cl.ctx, frameTimeout)
	defer cancel()

	switch frame.Type {
	case FrameSend:
		msg, err := cl.stream.Send(ctx, cl.UserID, frame.Content)
		if err != nil {
			cl.deliver(cl.errorFrame(frame.Ref, err))
			return
		}
		resp := dto.FromMessage(msg)
		cl.deliver(&ServerFrame{Type: FrameAck, ChatID: cl.RoomID, Ref: frame.Ref, Message: &resp, Timestamp: cl.now()})

	case FrameDelete:
		msg, err := cl.messages.Get(ctx, frame.MessageID)
		if err != nil {
			cl.deliver(cl.errorFrame(frame.Ref, err))
			return
		}
		if msg.ChatID != cl.RoomID || msg.SenderID != cl.UserID {
			cl.deliver(cl.errorFrame(frame.Ref, errNotDeletable))
			return
		}
		if err := cl.stream.Delete(ctx, msg.ID); err != nil {
			cl.deliver(cl.errorFrame(frame.Ref, err))
			return
		}
		cl.deliver(&ServerFrame{Type: FrameAck, ChatID: cl.RoomID, Ref: frame.Ref, Timestamp: cl.now()})

	default:
		cl.deliver(cl.errorFrame(frame.Ref, apperror.Validation("unknown frame type")))
	}
}

func (cl *WSClient) errorFrame(ref string, err error) *ServerFrame {
	code := apperror.CodeOf(err)
	text := "Storage temporarily unavailable"
	var appErr *apperror.Error
	if code != apperror.ErrorCodePersistence && errors.As(err, &appErr) {
		text = appErr.Message
	} else {
		observability.LoggerFromContext(cl.ctx).Warn().Err(err).Str("chat_id", cl.RoomID).Msg("websocket frame failed")
	}
	return &ServerFrame{
		Type:      FrameError,
		ChatID:    cl.RoomID,
		Ref:       ref,
		Error:     text,
		Code:      string(code),
		Timestamp: cl.now(),
	}
}
