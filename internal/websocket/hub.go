package websocket

import (
	"context"
	"sync"
)

// Hub tracks the clients connected to each conversation. Rooms appear with
// their first client and go away with their last.
type Hub struct {
	mu         sync.RWMutex
	rooms      map[string]*Room
	Register   chan *WSClient
	Unregister chan *WSClient
	Broadcast  chan *WSMessage
	stopped    chan struct{}
}

func NewHub() *Hub {
	return &Hub{
		rooms:      make(map[string]*Room),
		Register:   make(chan *WSClient),
		Unregister: make(chan *WSClient),
		Broadcast:  make(chan *WSMessage, 64),
		stopped:    make(chan struct{}),
	}
}

func (h *Hub) Run(ctx context.Context) {
	defer close(h.stopped)
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return

		case client := <-h.Register:
			h.mu.Lock()
			room, ok := h.rooms[client.RoomID]
			if !ok {
				room = &Room{ID: client.RoomID, Clients: make(map[string]*WSClient)}
				h.rooms[client.RoomID] = room
				setRooms(len(h.rooms))
			}
			room.Clients[client.ID] = client
			h.mu.Unlock()
			incConnections()

		case client := <-h.Unregister:
			h.remove(client)

		case message := <-h.Broadcast:
			h.mu.RLock()
			room, ok := h.rooms[message.RoomID]
			var clients []*WSClient
			if ok {
				clients = make([]*WSClient, 0, len(room.Clients))
				for _, c := range room.Clients {
					clients = append(clients, c)
				}
			}
			h.mu.RUnlock()

			for _, client := range clients {
				if !client.offer(message.Frame) {
					wsFramesDropped.Inc()
					client.close()
				}
			}
		}
	}
}

func (h *Hub) join(client *WSClient) bool {
	select {
	case h.Register <- client:
		return true
	case <-h.stopped:
		return false
	}
}

func (h *Hub) leave(client *WSClient) {
	select {
	case h.Unregister <- client:
	case <-h.stopped:
	}
}

// publish queues a frame for every client in roomID.
func (h *Hub) publish(roomID string, frame *ServerFrame) {
	select {
	case h.Broadcast <- &WSMessage{RoomID: roomID, Frame: frame}:
	case <-h.stopped:
	}
}

func (h *Hub) remove(client *WSClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	room, ok := h.rooms[client.RoomID]
	if !ok {
		return
	}
	if _, ok := room.Clients[client.ID]; !ok {
		return
	}
	delete(room.Clients, client.ID)
	decConnections()
	if len(room.Clients) == 0 {
		delete(h.rooms, client.RoomID)
		setRooms(len(h.rooms))
	}
}

func (h *Hub) closeAll() {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, room := range h.rooms {
		for _, c := range room.Clients {
			c.close()
		}
	}
}

// Rooms lists the rooms with at least one client.
func (h *Hub) Rooms() []RoomRes {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]RoomRes, 0, len(h.rooms))
	for _, room := range h.rooms {
		out = append(out, RoomRes{ID: room.ID, Clients: len(room.Clients)})
	}
	return out
}

// Clients reports how many clients are in roomID.
func (h *Hub) Clients(roomID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if room, ok := h.rooms[roomID]; ok {
		return len(room.Clients)
	}
	return 0
}
