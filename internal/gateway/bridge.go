package gateway

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// bridgeChannel carries room pushes between processes.
const bridgeChannel = "policypal:notifications"

type bridgeMessage struct {
	Room    string          `json:"room"`
	Payload json.RawMessage `json:"payload"`
}

// Bridge fans room pushes out across processes over redis pub/sub. Each
// process publishes instead of delivering locally; every subscribed process
// (the publisher included) delivers to its own hub, so a user's connection is
// reached no matter which process holds it.
type Bridge struct {
	rdb    *redis.Client
	hub    *Hub
	logger *zap.Logger
}

func NewBridge(rdb *redis.Client, hub *Hub, logger *zap.Logger) *Bridge {
	return &Bridge{rdb: rdb, hub: hub, logger: logger}
}

// PushToRoom publishes the payload for every process to deliver locally.
func (b *Bridge) PushToRoom(ctx context.Context, room string, payload interface{}) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	msg, err := json.Marshal(bridgeMessage{Room: room, Payload: raw})
	if err != nil {
		return err
	}
	return b.rdb.Publish(ctx, bridgeChannel, msg).Err()
}

// Run consumes the bridge channel until ctx is cancelled, delivering each
// message to the local hub.
func (b *Bridge) Run(ctx context.Context) {
	sub := b.rdb.Subscribe(ctx, bridgeChannel)
	defer sub.Close()

	channel := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-channel:
			if !ok {
				return
			}
			var bridged bridgeMessage
			if err := json.Unmarshal([]byte(msg.Payload), &bridged); err != nil {
				b.logger.Error("Malformed bridge message", zap.Error(err))
				continue
			}
			if err := b.hub.PushToRoom(bridged.Room, bridged.Payload); err != nil {
				b.logger.Error("Failed to deliver bridged push",
					zap.String("room", bridged.Room),
					zap.Error(err),
				)
			}
		}
	}
}
