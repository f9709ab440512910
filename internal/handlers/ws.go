package handlers

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"medianest/internal/hub"
	"medianest/internal/models"
)

const (
	writeWait  = 10 * time.Second
	pingPeriod = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	// Origin checks belong to the auth layer in front of the core.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// WSHandler serves the push channel: snapshot on connect, then a stream of
// progress and status events for the caller's jobs.
type WSHandler struct {
	hub *hub.Hub
}

// NewWSHandler creates a new WSHandler.
func NewWSHandler(h *hub.Hub) *WSHandler {
	return &WSHandler{hub: h}
}

// Serve upgrades the connection and pumps events until the observer
// disconnects or falls behind. Nothing is buffered for offline observers;
// reconnecting yields a fresh snapshot.
func (h *WSHandler) Serve(c echo.Context) error {
	uid := userID(c)
	if uid == "" {
		return errUnauthorized(c)
	}

	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	sub, err := h.hub.Subscribe(uid)
	if err != nil {
		return err
	}
	defer h.hub.Unsubscribe(sub.ID)

	snapshot := models.Event{Type: models.EventSnapshot, Jobs: sub.Snapshot}
	if snapshot.Jobs == nil {
		snapshot.Jobs = []*models.DownloadJob{}
	}
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(snapshot); err != nil {
		return nil
	}

	// Reader goroutine only watches for the peer closing the connection.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()

	for {
		select {
		case <-done:
			return nil
		case ev, ok := <-sub.Events:
			if !ok {
				// Evicted as a slow consumer; the client must resubscribe.
				return nil
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(ev); err != nil {
				return nil
			}
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return nil
			}
		}
	}
}
