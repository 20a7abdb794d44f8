package gateway

import "encoding/json"

// Wire protocol: every frame is {"event": ..., "data": ...}.

// Server -> client events.
const (
	EventConnected    = "connected"
	EventNotification = "notification"
	EventJoinedRoom   = "joined_room"
	EventLeftRoom     = "left_room"
	EventError        = "error"
)

// Client -> server events.
const (
	EventJoinRoom             = "join_room"
	EventLeaveRoom            = "leave_room"
	EventMarkNotificationRead = "mark_notification_read"
)

type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type ConnectedPayload struct {
	Message string `json:"message"`
	UserID  string `json:"userId"`
}

type RoomPayload struct {
	Room string `json:"room"`
}

type MarkReadPayload struct {
	NotificationID string `json:"notificationId"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}

func decodeData(envelope *Envelope, target interface{}) error {
	if len(envelope.Data) == 0 {
		return json.Unmarshal([]byte("{}"), target)
	}
	return json.Unmarshal(envelope.Data, target)
}

func encodeEvent(event string, data interface{}) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Event: event, Data: raw})
}
