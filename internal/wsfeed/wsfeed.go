// Package wsfeed exposes the append-only event stream to an optional
// external indexer over a websocket, generalizing the teacher's exchange
// user-data stream plumbing (internal/api/websocket.go) to outbound
// domain-event fan-out: every event appended by any engine is published
// on events.Bus, and this package relays that stream verbatim as JSON.
// It never re-folds anything itself.
package wsfeed

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"trading-core/internal/events"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handler relays every envelope published on bus to connected websocket
// clients until the connection closes or the bus has no more to send.
type Handler struct {
	bus *events.Bus
	log zerolog.Logger
}

// New wires a handler over the event bus.
func New(bus *events.Bus, log zerolog.Logger) *Handler {
	return &Handler{bus: bus, log: log}
}

// ServeHTTP upgrades the connection and subscribes it to the bus's
// wildcard channel (kind == "", see events.Bus.Subscribe), which is how
// the projection also observes the full stream — this handler only reads
// from it, never applies it.
func (h *Handler) ServeHTTP(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("wsfeed: upgrade failed")
		return
	}
	defer conn.Close()

	stream, unsub := h.bus.Subscribe("", 256)
	defer unsub()

	for env := range stream {
		if err := conn.WriteJSON(env); err != nil {
			h.log.Debug().Err(err).Msg("wsfeed: write failed, closing connection")
			return
		}
	}
}

// Register mounts the feed at the given gin route.
func (h *Handler) Register(r gin.IRoutes, path string) {
	r.GET(path, h.ServeHTTP)
}
