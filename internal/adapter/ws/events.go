package ws

import (
	"context"
	"encoding/json"

	"github.com/Strob0t/forgelsp/internal/port/broadcast"
)

var _ broadcast.Broadcaster = (*Hub)(nil)

// NewMessage marshals payload into a typed message.
func NewMessage(eventType string, payload any) (Message, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Message{}, err
	}
	return Message{Type: eventType, Payload: data}, nil
}

// BroadcastEvent marshals a typed event and broadcasts it.
func (h *Hub) BroadcastEvent(ctx context.Context, eventType string, payload any) {
	msg, err := NewMessage(eventType, payload)
	if err != nil {
		h.logger.Error("marshal ws event payload", "type", eventType, "error", err)
		return
	}
	h.Broadcast(ctx, msg)
}
