package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"therapy-chat-sync/internal/docstore"
	"therapy-chat-sync/internal/model"
	"therapy-chat-sync/internal/service/conversation"
	"therapy-chat-sync/internal/service/message"
	"therapy-chat-sync/internal/session"
)

type fixture struct {
	hub      *Hub
	handler  *Handler
	messages *message.Service
	chat     model.Conversation
	server   *httptest.Server
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := docstore.NewMemory()
	chat, err := conversation.New(store).CreateOrGet(context.Background(), "p1", "t1", "Dr. Ana")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	hub := NewHub()
	go hub.Run(ctx)

	messages := message.New(store)
	handler := NewHandler(hub, messages)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		role := model.Role(r.URL.Query().Get("role"))
		handler.JoinRoom(w, r, r.URL.Query().Get("chat"), session.Session{UserID: r.URL.Query().Get("user"), Role: role})
	}))
	t.Cleanup(func() {
		server.Close()
		cancel()
	})

	return &fixture{hub: hub, handler: handler, messages: messages, chat: chat, server: server}
}

func (f *fixture) dial(t *testing.T, chatID, userID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(f.server.URL, "http") + "?chat=" + chatID + "&user=" + userID + "&role=patient"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readUntil(t *testing.T, conn *websocket.Conn, match func(ServerFrame) bool) ServerFrame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		var frame ServerFrame
		require.NoError(t, conn.ReadJSON(&frame))
		if match(frame) {
			return frame
		}
	}
}

func ofType(typ string) func(ServerFrame) bool {
	return func(f ServerFrame) bool { return f.Type == typ }
}

func TestClientReceivesSnapshotsAndAcks(t *testing.T) {
	f := newFixture(t)
	conn := f.dial(t, f.chat.ID, "p1")

	readUntil(t, conn, ofType(FrameSnapshot))
	require.Eventually(t, func() bool { return f.hub.Clients(f.chat.ID) == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, conn.WriteJSON(ClientFrame{Type: FrameSend, Content: "  hello  ", Ref: "r1"}))

	ack := readUntil(t, conn, ofType(FrameAck))
	assert.Equal(t, "r1", ack.Ref)
	require.NotNil(t, ack.Message)
	assert.Equal(t, "hello", ack.Message.Content)
	assert.Equal(t, "p1", ack.Message.SenderID)

	snap := readUntil(t, conn, func(fr ServerFrame) bool {
		return fr.Type == FrameSnapshot && len(fr.Messages) == 1 && !fr.Messages[0].Pending
	})
	assert.Equal(t, ack.Message.MessageID, snap.Messages[0].MessageID)
}

func TestClientGetsErrorFrames(t *testing.T) {
	f := newFixture(t)
	conn := f.dial(t, f.chat.ID, "p1")
	readUntil(t, conn, ofType(FrameSnapshot))

	require.NoError(t, conn.WriteJSON(ClientFrame{Type: FrameSend, Content: "   ", Ref: "blank"}))
	frame := readUntil(t, conn, ofType(FrameError))
	assert.Equal(t, "blank", frame.Ref)
	assert.Equal(t, "validation_error", frame.Code)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
	frame = readUntil(t, conn, ofType(FrameError))
	assert.Equal(t, "validation_error", frame.Code)

	require.NoError(t, conn.WriteJSON(ClientFrame{Type: "edit", Ref: "edit"}))
	frame = readUntil(t, conn, ofType(FrameError))
	assert.Equal(t, "edit", frame.Ref)
}

func TestOnlySenderCanDelete(t *testing.T) {
	f := newFixture(t)
	msg, err := f.messages.Send(context.Background(), message.SendParams{ChatID: f.chat.ID, SenderID: "t1", Content: "therapist note"})
	require.NoError(t, err)

	conn := f.dial(t, f.chat.ID, "p1")
	readUntil(t, conn, ofType(FrameSnapshot))

	require.NoError(t, conn.WriteJSON(ClientFrame{Type: FrameDelete, MessageID: msg.ID, Ref: "d1"}))
	frame := readUntil(t, conn, ofType(FrameError))
	assert.Equal(t, "d1", frame.Ref)

	_, err = f.messages.Get(context.Background(), msg.ID)
	assert.NoError(t, err)

	require.NoError(t, conn.WriteJSON(ClientFrame{Type: FrameSend, Content: "mine", Ref: "s1"}))
	ack := readUntil(t, conn, func(fr ServerFrame) bool { return fr.Type == FrameAck && fr.Ref == "s1" })

	require.NoError(t, conn.WriteJSON(ClientFrame{Type: FrameDelete, MessageID: ack.Message.MessageID, Ref: "d2"}))
	readUntil(t, conn, func(fr ServerFrame) bool { return fr.Type == FrameAck && fr.Ref == "d2" })
	snap := readUntil(t, conn, func(fr ServerFrame) bool {
		return fr.Type == FrameSnapshot && len(fr.Messages) == 1
	})
	assert.Equal(t, msg.ID, snap.Messages[0].MessageID)
}

func TestMissingChatClosesWithError(t *testing.T) {
	f := newFixture(t)
	conn := f.dial(t, "missing-chat", "p1")

	frame := readUntil(t, conn, ofType(FrameError))
	assert.Equal(t, "not_found", frame.Code)

	_, _, err := conn.ReadMessage()
	assert.Error(t, err)
	assert.Equal(t, 0, f.hub.Clients("missing-chat"))
}

func TestNotifyRoomReachesClientsLocally(t *testing.T) {
	f := newFixture(t)
	conn := f.dial(t, f.chat.ID, "p1")
	readUntil(t, conn, ofType(FrameSnapshot))
	require.Eventually(t, func() bool { return f.hub.Clients(f.chat.ID) == 1 }, time.Second, 5*time.Millisecond)

	f.handler.NotifyRoom(context.Background(), f.chat.ID, map[string]string{"type": "conversation.deleted"})

	frame := readUntil(t, conn, ofType(FrameEvent))
	var event map[string]string
	require.NoError(t, json.Unmarshal(frame.Event, &event))
	assert.Equal(t, "conversation.deleted", event["type"])
}

func TestDisconnectLeavesRoom(t *testing.T) {
	f := newFixture(t)
	conn := f.dial(t, f.chat.ID, "p1")
	readUntil(t, conn, ofType(FrameSnapshot))
	require.Eventually(t, func() bool { return f.hub.Clients(f.chat.ID) == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return f.hub.Clients(f.chat.ID) == 0 }, 2*time.Second, 10*time.Millisecond)
	assert.Empty(t, f.hub.Rooms())
}

func TestPublisherFailsWithoutRedis(t *testing.T) {
	p := NewPublisher(redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 50 * time.Millisecond, MaxRetries: -1}))
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	err := p.Publish(ctx, "chat-1", &ServerFrame{Type: FrameEvent})
	assert.Error(t, err)
	assert.Error(t, p.Publish(ctx, "", &ServerFrame{Type: FrameEvent}))
}
