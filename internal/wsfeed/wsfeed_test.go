package wsfeed

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"trading-core/internal/events"
)

func newTestFeedServer(t *testing.T, bus *events.Bus) *httptest.Server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	New(bus, zerolog.Nop()).Register(r, "/feed")
	return httptest.NewServer(r)
}

func TestFeedRelaysPublishedEnvelopes(t *testing.T) {
	bus := events.NewBus()
	server := newTestFeedServer(t, bus)
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/feed"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// Give the server goroutine time to subscribe before publishing,
	// since Subscribe happens inside the handler after the upgrade.
	time.Sleep(20 * time.Millisecond)

	bus.Publish(events.Envelope{
		ID:        "evt-1",
		Kind:      events.KindShieldActivated,
		Timestamp: 1234,
	})

	var got events.Envelope
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if err := conn.ReadJSON(&got); err != nil {
		t.Fatalf("ReadJSON: %v", err)
	}
	if got.ID != "evt-1" || got.Kind != events.KindShieldActivated {
		t.Fatalf("unexpected envelope relayed: %+v", got)
	}
}

func TestFeedClosesWhenClientDisconnects(t *testing.T) {
	bus := events.NewBus()
	server := newTestFeedServer(t, bus)
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/feed"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	conn.Close()

	// Publishing after the client disconnected must not panic or block;
	// the bus drops to a closed/unsubscribed channel silently.
	time.Sleep(20 * time.Millisecond)
	bus.Publish(events.Envelope{ID: "evt-2", Kind: events.KindShieldActivated})
}
