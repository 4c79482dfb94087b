// Package realtime routes board events between websocket connections grouped into lobby rooms.
package realtime

import (
	"sort"
	"sync"

	"github.com/MarcoPoloResearchLab/lobbyboard/internal/auth"
	"go.uber.org/zap"
)

const defaultSendBuffer = 256

// HubConfig configures a Hub.
type HubConfig struct {
	SendBuffer int
	Logger     *zap.Logger
}

// Hub is the in-process room registry: room → connections and connection → rooms.
type Hub struct {
	mu         sync.RWMutex
	rooms      map[string]map[int64]*Client
	clients    map[int64]*Client
	nextID     int64
	sendBuffer int
	logger     *zap.Logger
}

// NewHub constructs an empty registry.
func NewHub(cfg HubConfig) *Hub {
	sendBuffer := cfg.SendBuffer
	if sendBuffer <= 0 {
		sendBuffer = defaultSendBuffer
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		rooms:      make(map[string]map[int64]*Client),
		clients:    make(map[int64]*Client),
		sendBuffer: sendBuffer,
		logger:     logger,
	}
}

// Register creates a client for actor with its own outbound queue.
func (h *Hub) Register(actor auth.Actor) *Client {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	client := &Client{
		id:    h.nextID,
		actor: actor,
		send:  make(chan []byte, h.sendBuffer),
		rooms: make(map[string]struct{}),
		hub:   h,
	}
	h.clients[client.id] = client
	return client
}

// Join adds client to room. It reports false when the client was already a member.
func (h *Hub) Join(client *Client, room string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if client.closed {
		return false
	}
	return h.joinLocked(client, room)
}

// JoinWithSnapshot adds client to room and queues the frame returned by snapshot while the
// registry is locked, so no broadcast to room can be queued ahead of it. A client already in
// room only receives the fresh frame. It reports whether the frame was queued; a snapshot
// error leaves the memberships unchanged.
func (h *Hub) JoinWithSnapshot(client *Client, room string, snapshot func() ([]byte, error)) (bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if client.closed {
		return false, nil
	}
	frame, err := snapshot()
	if err != nil {
		return false, err
	}
	h.joinLocked(client, room)
	select {
	case client.send <- frame:
		return true, nil
	default:
	}
	h.evictLocked(room, client)
	return false, nil
}

func (h *Hub) joinLocked(client *Client, room string) bool {
	if _, ok := client.rooms[room]; ok {
		return false
	}
	members, ok := h.rooms[room]
	if !ok {
		members = make(map[int64]*Client)
		h.rooms[room] = members
	}
	members[client.id] = client
	client.rooms[room] = struct{}{}
	return true
}

// Leave removes client from room and reports whether it was a member.
func (h *Hub) Leave(client *Client, room string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := client.rooms[room]; !ok {
		return false
	}
	h.removeFromRoomLocked(client, room)
	return true
}

// InRoom reports whether client joined room.
func (h *Hub) InRoom(client *Client, room string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := client.rooms[room]
	return ok
}

// Unregister drops client from every room and closes its queue. Safe to call repeatedly.
func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.unregisterLocked(client)
}

// Broadcast queues frame for every member of room except exceptID and returns the number of
// recipients. Members whose queue is full are evicted.
func (h *Hub) Broadcast(room string, frame []byte, exceptID int64) int {
	h.mu.RLock()
	delivered := 0
	var stalled []*Client
	for id, member := range h.rooms[room] {
		if id == exceptID {
			continue
		}
		select {
		case member.send <- frame:
			delivered++
		default:
			stalled = append(stalled, member)
		}
	}
	h.mu.RUnlock()

	if len(stalled) > 0 {
		h.evict(room, stalled)
	}
	return delivered
}

// Send queues frame for a single client. A full queue evicts the client.
func (h *Hub) Send(client *Client, frame []byte) bool {
	h.mu.RLock()
	if client.closed {
		h.mu.RUnlock()
		return false
	}
	select {
	case client.send <- frame:
		h.mu.RUnlock()
		return true
	default:
		h.mu.RUnlock()
	}
	h.evict("", []*Client{client})
	return false
}

// Members lists the connection ids in room in ascending order.
func (h *Hub) Members(room string) []int64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	ids := make([]int64, 0, len(h.rooms[room]))
	for id := range h.rooms[room] {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Rooms lists the rooms client joined in lexical order.
func (h *Hub) Rooms(client *Client) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	rooms := make([]string, 0, len(client.rooms))
	for room := range client.rooms {
		rooms = append(rooms, room)
	}
	sort.Strings(rooms)
	return rooms
}

// ConnectionCount reports the number of registered clients.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) evict(room string, stalled []*Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, client := range stalled {
		h.evictLocked(room, client)
	}
}

func (h *Hub) evictLocked(room string, client *Client) {
	if client.closed {
		return
	}
	h.logger.Warn("evicting stalled realtime client",
		zap.String("operation", "realtime.hub.broadcast"),
		zap.String("reason", "send_buffer_full"),
		zap.Int64("client_id", client.id),
		zap.String("user_id", client.actor.ID),
		zap.String("room", room),
	)
	h.unregisterLocked(client)
}

func (h *Hub) unregisterLocked(client *Client) {
	if client.closed {
		return
	}
	for room := range client.rooms {
		h.removeFromRoomLocked(client, room)
	}
	delete(h.clients, client.id)
	client.closed = true
	close(client.send)
}

func (h *Hub) removeFromRoomLocked(client *Client, room string) {
	delete(client.rooms, room)
	members := h.rooms[room]
	if members == nil {
		return
	}
	delete(members, client.id)
	if len(members) == 0 {
		delete(h.rooms, room)
	}
}
