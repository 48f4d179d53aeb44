package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// bridgeChannel is the Redis pub/sub channel shared by all instances.
const bridgeChannel = "marketchat:events"

// bridgeEnvelope wraps a hub event for the wire. Origin identifies the
// publishing instance so it can skip its own echo.
type bridgeEnvelope struct {
	Origin         string          `json:"origin"`
	Event          string          `json:"event"`
	ConversationID string          `json:"conversation_id"`
	Payload        json.RawMessage `json:"payload,omitempty"`
}

// Bridge mirrors hub publishes onto a Redis channel and re-injects
// publishes from other instances into the local hub, so clients fan out
// correctly when the service runs more than one replica. It satisfies
// the same Publish contract as the hub: best-effort, never an error to
// the caller.
type Bridge struct {
	hub      *Hub
	rdb      *redis.Client
	instance string
	logger   *slog.Logger
}

func NewBridge(hub *Hub, rdb *redis.Client, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{
		hub:      hub,
		rdb:      rdb,
		instance: uuid.New().String(),
		logger:   logger.With("component", "realtime_bridge"),
	}
}

// Publish delivers locally and mirrors the event to the other instances.
func (b *Bridge) Publish(roomID, event string, payload any) {
	b.hub.Publish(roomID, event, payload)

	raw, err := json.Marshal(payload)
	if err != nil {
		b.logger.Error("marshal bridge payload", "error", err)
		return
	}
	env := bridgeEnvelope{
		Origin:         b.instance,
		Event:          event,
		ConversationID: roomID,
		Payload:        raw,
	}
	body, err := json.Marshal(env)
	if err != nil {
		b.logger.Error("marshal bridge envelope", "error", err)
		return
	}
	if err := b.rdb.Publish(context.Background(), bridgeChannel, body).Err(); err != nil {
		b.logger.Warn("bridge publish failed", "conversation_id", roomID, "error", err)
	}
}

// Run consumes remote events until ctx is cancelled.
func (b *Bridge) Run(ctx context.Context) error {
	sub := b.rdb.Subscribe(ctx, bridgeChannel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", bridgeChannel, err)
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			b.handleEnvelope([]byte(msg.Payload))
		}
	}
}

// handleEnvelope re-injects a remote publish into the local hub. Echoes
// of this instance's own publishes are dropped: local clients already
// got them directly.
func (b *Bridge) handleEnvelope(raw []byte) {
	var env bridgeEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		b.logger.Warn("malformed bridge envelope", "error", err)
		return
	}
	if env.Origin == b.instance {
		return
	}
	b.hub.Publish(env.ConversationID, env.Event, env.Payload)
}
