package gateway

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func testClient(hub *Hub, id, userID string) *Client {
	return newClient(id, userID, nil, hub, zap.NewNop())
}

// receiveEvent pops the next queued frame off a client's send buffer.
func receiveEvent(t *testing.T, c *Client) *Envelope {
	t.Helper()
	select {
	case frame, ok := <-c.send:
		if !ok {
			t.Fatal("send channel closed")
		}
		var envelope Envelope
		if err := json.Unmarshal(frame, &envelope); err != nil {
			t.Fatalf("malformed frame: %v", err)
		}
		return &envelope
	case <-time.After(time.Second):
		t.Fatal("no frame queued")
		return nil
	}
}

func TestRegister_SingleConnectionPerUser(t *testing.T) {
	hub := NewHub(zap.NewNop())

	first := testClient(hub, "conn-1", "user-1")
	second := testClient(hub, "conn-2", "user-1")

	hub.Register(first)
	hub.Register(second)

	assert.Equal(t, 1, hub.ConnectedUserCount())

	// The newer connection owns the registry entry; the older one was closed.
	assert.NoError(t, hub.PushToUser("user-1", map[string]string{"id": "n1"}))
	envelope := receiveEvent(t, second)
	assert.Equal(t, EventNotification, envelope.Event)

	_, open := <-first.send
	assert.False(t, open, "superseded connection should be closed")
}

func TestUnregister_StaleConnectionIsNoOp(t *testing.T) {
	hub := NewHub(zap.NewNop())

	first := testClient(hub, "conn-1", "user-1")
	second := testClient(hub, "conn-2", "user-1")

	hub.Register(first)
	hub.Register(second)

	// The superseded connection disconnecting later must not evict the
	// current one.
	hub.Unregister(first)
	assert.True(t, hub.IsConnected("user-1"))

	hub.Unregister(second)
	assert.False(t, hub.IsConnected("user-1"))

	// Unregister is idempotent.
	hub.Unregister(second)
	assert.Equal(t, 0, hub.ConnectedUserCount())
}

func TestPushToUser_NotConnected(t *testing.T) {
	hub := NewHub(zap.NewNop())

	// Best-effort contract: offline user is a normal outcome, not an error.
	assert.NoError(t, hub.PushToUser("nobody", map[string]string{"id": "n1"}))
}

func TestPushToRoom_UserRoomDelivery(t *testing.T) {
	hub := NewHub(zap.NewNop())

	client := testClient(hub, "conn-1", "user-1")
	hub.Register(client)

	// Register joins the client to its private room.
	err := hub.PushToRoom(UserRoom("user-1"), map[string]string{"title": "hello"})
	assert.NoError(t, err)

	envelope := receiveEvent(t, client)
	assert.Equal(t, EventNotification, envelope.Event)

	var payload map[string]string
	assert.NoError(t, json.Unmarshal(envelope.Data, &payload))
	assert.Equal(t, "hello", payload["title"])
}

func TestJoinRoom_RejectsForeignUserRoom(t *testing.T) {
	hub := NewHub(zap.NewNop())

	client := testClient(hub, "conn-1", "user-1")
	hub.Register(client)

	hub.JoinRoom(client, "user:user-2")

	envelope := receiveEvent(t, client)
	assert.Equal(t, EventError, envelope.Event)

	// Nothing was joined, so a push to that room reaches nobody.
	assert.NoError(t, hub.PushToRoom("user:user-2", map[string]string{"id": "n1"}))
	select {
	case frame := <-client.send:
		var env Envelope
		json.Unmarshal(frame, &env)
		t.Fatalf("unexpected frame delivered: %s", env.Event)
	default:
	}
}

func TestJoinRoom_PublicRoomAllowed(t *testing.T) {
	hub := NewHub(zap.NewNop())

	client := testClient(hub, "conn-1", "user-1")
	hub.Register(client)

	hub.JoinRoom(client, "announcements")

	envelope := receiveEvent(t, client)
	assert.Equal(t, EventJoinedRoom, envelope.Event)

	assert.NoError(t, hub.PushToRoom("announcements", map[string]string{"id": "n1"}))
	envelope = receiveEvent(t, client)
	assert.Equal(t, EventNotification, envelope.Event)
}

func TestHandleClientEvent_UnknownEvent(t *testing.T) {
	hub := NewHub(zap.NewNop())

	client := testClient(hub, "conn-1", "user-1")
	hub.Register(client)

	hub.handleClientEvent(client, &Envelope{Event: "resend_everything"})

	envelope := receiveEvent(t, client)
	assert.Equal(t, EventError, envelope.Event)
}

func TestBroadcastAll(t *testing.T) {
	hub := NewHub(zap.NewNop())

	a := testClient(hub, "conn-1", "user-1")
	b := testClient(hub, "conn-2", "user-2")
	hub.Register(a)
	hub.Register(b)

	assert.NoError(t, hub.BroadcastAll(map[string]string{"id": "n1"}))

	assert.Equal(t, EventNotification, receiveEvent(t, a).Event)
	assert.Equal(t, EventNotification, receiveEvent(t, b).Event)
	assert.ElementsMatch(t, []string{"user-1", "user-2"}, hub.ConnectedUsers())
}
