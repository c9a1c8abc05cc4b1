package websocket

import (
	"net/http"
	"time"

	gorillaws "github.com/gorilla/websocket"

	"impactkit/core"
	"impactkit/realtime"
)

const (
	writeWait  = 5 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

// Options tune the upgrade handler.
type Options struct {
	// CheckOrigin defaults to allowing every origin.
	CheckOrigin func(r *http.Request) bool
	Buffer      int
}

// Handler returns an http.Handler that upgrades to WebSocket and streams
// events from the hub. A user query parameter limits the stream to one user.
func Handler(hub *realtime.Hub) http.Handler {
	return HandlerWithOptions(hub, Options{})
}

func HandlerWithOptions(hub *realtime.Hub, opts Options) http.Handler {
	if opts.CheckOrigin == nil {
		opts.CheckOrigin = func(r *http.Request) bool { return true }
	}
	if opts.Buffer <= 0 {
		opts.Buffer = 256
	}
	upgrader := gorillaws.Upgrader{CheckOrigin: opts.CheckOrigin}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var user core.UserID
		if raw := r.URL.Query().Get("user"); raw != "" {
			id, err := core.NormalizeUserID(core.UserID(raw))
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			user = id
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		id, ch := hub.Subscribe(opts.Buffer, user)
		defer hub.Unsubscribe(id)

		// reader goroutine: handles pongs and notices client close
		closed := make(chan struct{})
		go func() {
			defer close(closed)
			_ = conn.SetReadDeadline(time.Now().Add(pongWait))
			conn.SetPongHandler(func(string) error { return conn.SetReadDeadline(time.Now().Add(pongWait)) })
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()
		for {
			select {
			case ev, ok := <-ch:
				if !ok {
					return
				}
				_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteMessage(gorillaws.TextMessage, realtime.MarshalJSON(ev)); err != nil {
					return
				}
			case <-ticker.C:
				_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteMessage(gorillaws.PingMessage, nil); err != nil {
					return
				}
			case <-closed:
				return
			case <-r.Context().Done():
				return
			}
		}
	})
}
