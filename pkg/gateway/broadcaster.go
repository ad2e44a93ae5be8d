package gateway

import (
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// EventBroadcaster delivers server-initiated events to authenticated clients,
// stamping each with a monotonically increasing sequence number.
type EventBroadcaster struct {
	clients *ClientRegistry
	logger  zerolog.Logger
	seq     uint64
}

func NewEventBroadcaster(clients *ClientRegistry, logger zerolog.Logger) *EventBroadcaster {
	return &EventBroadcaster{clients: clients, logger: logger}
}

// Broadcast sends an event to all authenticated clients
func (b *EventBroadcaster) Broadcast(event string, data interface{}) {
	b.BroadcastTyped(EventMessage{Event: event, Data: data})
}

// BroadcastTyped sends a typed stream event with sequence metadata.
func (b *EventBroadcaster) BroadcastTyped(msg EventMessage) {
	data, ok := b.prepare(&msg)
	if !ok {
		return
	}
	for _, client := range b.clients.GetAuthenticatedClients() {
		b.deliver(client, msg, data)
	}
}

// BroadcastToClient sends an event to one client only, typically the one
// whose request produced the stream.
func (b *EventBroadcaster) BroadcastToClient(clientID string, msg EventMessage) {
	client, exists := b.clients.Get(clientID)
	if !exists || !client.Authenticated {
		return
	}
	data, ok := b.prepare(&msg)
	if !ok {
		return
	}
	b.deliver(client, msg, data)
}

func (b *EventBroadcaster) prepare(msg *EventMessage) ([]byte, bool) {
	msg.Type = "event"
	if msg.Seq == 0 {
		msg.Seq = int64(atomic.AddUint64(&b.seq, 1))
	}
	if msg.Timestamp == 0 {
		msg.Timestamp = time.Now().UnixMilli()
	}

	data, err := json.Marshal(msg)
	if err != nil {
		b.logger.Error().
			Err(err).
			Str("event", msg.Event).
			Str("stream", string(msg.Stream)).
			Msg("Failed to marshal event")
		return nil, false
	}
	return data, true
}

func (b *EventBroadcaster) deliver(client *Client, msg EventMessage, data []byte) {
	if err := client.WriteMessage(websocket.TextMessage, data); err != nil {
		b.logger.Warn().
			Err(err).
			Str("clientId", client.ID).
			Str("event", msg.Event).
			Int64("seq", msg.Seq).
			Msg("Failed to deliver event")
	}
}
