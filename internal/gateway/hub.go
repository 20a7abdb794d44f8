package gateway

import (
	"context"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// Hub is the connection registry: it maps authenticated users to their single
// live connection and tracks room membership. One instance per process; every
// connect/disconnect handler runs on its own goroutine, so all state is behind
// the mutex.
type Hub struct {
	mu    sync.RWMutex
	users map[string]*Client          // userID -> live client (single connection per user)
	rooms map[string]map[*Client]bool // room -> members

	logger *zap.Logger
}

func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		users:  make(map[string]*Client),
		rooms:  make(map[string]map[*Client]bool),
		logger: logger,
	}
}

// UserRoom is the private room every user is joined to on connect.
func UserRoom(userID string) string {
	return "user:" + userID
}

// Register records the connection and joins it to the user's private room. A
// newer connection for the same user supersedes the older one, which is
// closed.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	if old, ok := h.users[c.UserID]; ok && old != c {
		h.removeLocked(old)
		old.closeSend()
	}
	h.users[c.UserID] = c
	h.joinLocked(c, UserRoom(c.UserID))
	h.mu.Unlock()

	h.logger.Info("User connected",
		zap.String("user_id", c.UserID),
		zap.String("connection_id", c.ID),
	)
}

// Unregister drops the registry entry if it still belongs to this connection;
// a superseded connection disconnecting later is a no-op.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	current, ok := h.users[c.UserID]
	if ok && current == c {
		h.removeLocked(c)
	} else {
		// Still purge room membership for superseded connections.
		h.leaveAllLocked(c)
	}
	h.mu.Unlock()

	c.closeSend()

	if ok && current == c {
		h.logger.Info("User disconnected",
			zap.String("user_id", c.UserID),
			zap.String("connection_id", c.ID),
		)
	}
}

func (h *Hub) removeLocked(c *Client) {
	delete(h.users, c.UserID)
	h.leaveAllLocked(c)
}

func (h *Hub) leaveAllLocked(c *Client) {
	for room, members := range h.rooms {
		if members[c] {
			delete(members, c)
			if len(members) == 0 {
				delete(h.rooms, room)
			}
		}
	}
}

func (h *Hub) joinLocked(c *Client, room string) {
	members, ok := h.rooms[room]
	if !ok {
		members = make(map[*Client]bool)
		h.rooms[room] = members
	}
	members[c] = true
}

// JoinRoom joins a client to a room. Private user rooms other than the
// caller's own are rejected with an error event, not an exception.
func (h *Hub) JoinRoom(c *Client, room string) {
	if strings.HasPrefix(room, "user:") && room != UserRoom(c.UserID) {
		c.SendEvent(EventError, ErrorPayload{Message: "Unauthorized room access"})
		return
	}

	h.mu.Lock()
	h.joinLocked(c, room)
	h.mu.Unlock()

	c.SendEvent(EventJoinedRoom, RoomPayload{Room: room})
	h.logger.Info("User joined room",
		zap.String("user_id", c.UserID),
		zap.String("room", room),
	)
}

func (h *Hub) LeaveRoom(c *Client, room string) {
	h.mu.Lock()
	if members, ok := h.rooms[room]; ok {
		delete(members, c)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
	h.mu.Unlock()

	c.SendEvent(EventLeftRoom, RoomPayload{Room: room})
	h.logger.Info("User left room",
		zap.String("user_id", c.UserID),
		zap.String("room", room),
	)
}

// PushToUser emits directly to a user's live connection. A user with no
// connection is a normal outcome: log and move on, nothing is queued or
// retried. The only error is a payload that cannot be serialized.
func (h *Hub) PushToUser(userID string, payload interface{}) error {
	h.mu.RLock()
	c, ok := h.users[userID]
	h.mu.RUnlock()

	if !ok {
		h.logger.Info("User not connected, skipping push",
			zap.String("user_id", userID),
		)
		return nil
	}

	if err := c.SendEvent(EventNotification, payload); err != nil {
		return err
	}
	h.logger.Info("Pushed notification to user",
		zap.String("user_id", userID),
	)
	return nil
}

// PushToRoom emits to every member of a room. Preferred over PushToUser for
// notification delivery because it tolerates multiple tabs.
func (h *Hub) PushToRoom(room string, payload interface{}) error {
	frame, err := encodeEvent(EventNotification, payload)
	if err != nil {
		return err
	}

	h.mu.RLock()
	members := make([]*Client, 0, len(h.rooms[room]))
	for c := range h.rooms[room] {
		members = append(members, c)
	}
	h.mu.RUnlock()

	for _, c := range members {
		c.sendFrame(frame)
	}

	h.logger.Info("Pushed notification to room",
		zap.String("room", room),
		zap.Int("recipients", len(members)),
	)
	return nil
}

// BroadcastAll emits to every connected user.
func (h *Hub) BroadcastAll(payload interface{}) error {
	frame, err := encodeEvent(EventNotification, payload)
	if err != nil {
		return err
	}

	h.mu.RLock()
	clients := make([]*Client, 0, len(h.users))
	for _, c := range h.users {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		c.sendFrame(frame)
	}
	return nil
}

// ConnectedUserCount returns how many users currently hold a live connection.
func (h *Hub) ConnectedUserCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.users)
}

// ConnectedUsers returns the ids of currently connected users.
func (h *Hub) ConnectedUsers() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	users := make([]string, 0, len(h.users))
	for userID := range h.users {
		users = append(users, userID)
	}
	return users
}

// IsConnected reports whether the user holds a live connection.
func (h *Hub) IsConnected(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.users[userID]
	return ok
}

// LocalPusher adapts the in-process hub to the context-aware delivery
// interface the notification service consumes; the redis Bridge satisfies the
// same interface for multi-process deployments.
type LocalPusher struct {
	hub *Hub
}

func NewLocalPusher(hub *Hub) *LocalPusher {
	return &LocalPusher{hub: hub}
}

func (p *LocalPusher) PushToRoom(_ context.Context, room string, payload interface{}) error {
	return p.hub.PushToRoom(room, payload)
}

func (h *Hub) handleClientEvent(c *Client, envelope *Envelope) {
	switch envelope.Event {
	case EventJoinRoom:
		var payload RoomPayload
		if err := decodeData(envelope, &payload); err != nil || payload.Room == "" {
			c.SendEvent(EventError, ErrorPayload{Message: "invalid join_room payload"})
			return
		}
		h.JoinRoom(c, payload.Room)

	case EventLeaveRoom:
		var payload RoomPayload
		if err := decodeData(envelope, &payload); err != nil || payload.Room == "" {
			c.SendEvent(EventError, ErrorPayload{Message: "invalid leave_room payload"})
			return
		}
		h.LeaveRoom(c, payload.Room)

	case EventMarkNotificationRead:
		// Logged only: the client must still call the HTTP endpoint, which
		// owns the state change.
		var payload MarkReadPayload
		if err := decodeData(envelope, &payload); err != nil {
			c.SendEvent(EventError, ErrorPayload{Message: "invalid mark_notification_read payload"})
			return
		}
		h.logger.Info("Client reported notification read over websocket",
			zap.String("user_id", c.UserID),
			zap.String("notification_id", payload.NotificationID),
		)

	default:
		c.SendEvent(EventError, ErrorPayload{Message: "unknown event: " + envelope.Event})
	}
}
