package websocket

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/allabud/auction-backend/internal/infrastructure/events"
)

// Handler upgrades /ws requests and hands the connection to a client.
type Handler struct {
	bus      *events.Bus
	logger   *zap.Logger
	upgrader websocket.Upgrader
}

func NewHandler(bus *events.Bus, logger *zap.Logger) *Handler {
	return &Handler{
		bus:    bus,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Browser clients come from arbitrary origins; auth is out of
			// scope for the push channel.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// Optional identity for targeted events (outbid notifications).
	var userID *uuid.UUID
	if raw := r.URL.Query().Get("userId"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			http.Error(w, "invalid userId", http.StatusBadRequest)
			return
		}
		userID = &id
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	h.logger.Debug("websocket client connected",
		zap.String("remote", conn.RemoteAddr().String()))
	go newClient(conn, h.bus, userID, h.logger).run()
}
