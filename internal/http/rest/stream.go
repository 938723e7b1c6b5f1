package rest

import (
	"context"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/italolelis/downloadhub/internal/events"
	"github.com/italolelis/downloadhub/internal/logctx"
)

type Hub interface {
	Subscribe(ctx context.Context, s events.Subscriber)
	Unsubscribe(ctx context.Context, s events.Subscriber)
	Count() int
}

// StreamHandler upgrades to a WebSocket and forwards every published event to the client.
type StreamHandler struct {
	hub      Hub
	upgrader websocket.Upgrader
}

func NewStreamHandler(hub Hub) *StreamHandler {
	return &StreamHandler{
		hub: hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// any origin may subscribe
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

func (h *StreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	logger := logctx.LoggerFromContext(r.Context())

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Debug("websocket upgrade failed", "err", err)

		return
	}

	ctx := context.WithoutCancel(r.Context())
	sub := events.NewWSSubscriber(conn, 0)

	h.hub.Subscribe(ctx, sub)
	defer h.hub.Unsubscribe(ctx, sub)

	logger.Debug("websocket client connected", "subscribers", h.hub.Count())

	sub.Run(r.Context())

	logger.Debug("websocket client disconnected")
}
