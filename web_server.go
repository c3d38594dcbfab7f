package main

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"abide_site_adaptation/logx"
)

// WSHub manages WebSocket connections and broadcasts live search progress to
// any connected browser. All methods are safe on a nil receiver, so the
// pipeline can call them unconditionally whether or not the dashboard is
// enabled.
type WSHub struct {
	clients    map[*websocket.Conn]bool
	broadcast  chan WSMessage
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	mutex      sync.RWMutex
}

// WSMessage represents a WebSocket message
type WSMessage struct {
	Type string `json:"type"` // "status", "progress", "best"
	Data any    `json:"data"` // Payload data
	Time int64  `json:"time"` // Unix timestamp
}

// WSMessageType constants
const (
	MsgTypeStatus   = "status"
	MsgTypeProgress = "progress"
	MsgTypeBest     = "best"
)

var wsUpgrader = websocket.Upgrader{
	// The dashboard is a localhost research tool; accept any origin.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// startDashboard starts the HTTP/WebSocket server on the given port and
// returns the hub. Returns a nil hub when port is 0 (dashboard disabled).
func startDashboard(port int, log logx.Logger) *WSHub {
	if port == 0 {
		return nil
	}

	hub := &WSHub{
		clients:    make(map[*websocket.Conn]bool),
		broadcast:  make(chan WSMessage, 256),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
	}
	go hub.run()

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", hub.handleWebSocket)

	addr := fmt.Sprintf(":%d", port)
	go func() {
		if err := http.ListenAndServe(addr, mux); err != nil {
			log.Warnf("Dashboard server stopped: %v", err)
		}
	}()
	log.Infof("Live search dashboard on ws://localhost%s/ws", addr)
	return hub
}

// run processes register/unregister/broadcast events
func (hub *WSHub) run() {
	for {
		select {
		case client := <-hub.register:
			hub.mutex.Lock()
			hub.clients[client] = true
			hub.mutex.Unlock()

		case client := <-hub.unregister:
			hub.mutex.Lock()
			if hub.clients[client] {
				delete(hub.clients, client)
				client.Close()
			}
			hub.mutex.Unlock()

		case msg := <-hub.broadcast:
			hub.mutex.RLock()
			for client := range hub.clients {
				client.SetWriteDeadline(time.Now().Add(2 * time.Second))
				if err := client.WriteJSON(msg); err != nil {
					// Reader goroutine will unregister on its next read error.
					client.Close()
				}
			}
			hub.mutex.RUnlock()
		}
	}
}

// handleWebSocket upgrades HTTP to WebSocket and keeps the connection
// registered until the peer goes away.
func (hub *WSHub) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	hub.register <- ws

	go func() {
		defer func() { hub.unregister <- ws }()
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

// send enqueues a message without ever blocking the search; messages are
// dropped when the hub is saturated.
func (hub *WSHub) send(msgType string, data any) {
	if hub == nil {
		return
	}
	msg := WSMessage{Type: msgType, Data: data, Time: time.Now().Unix()}
	select {
	case hub.broadcast <- msg:
	default:
	}
}

// BroadcastStatus announces a lifecycle change of the run.
func (hub *WSHub) BroadcastStatus(status string) {
	hub.send(MsgTypeStatus, map[string]string{"status": status})
}

// BroadcastProgress reports evaluation counts during the search.
func (hub *WSHub) BroadcastProgress(done, total int64, rate float64) {
	hub.send(MsgTypeProgress, map[string]any{
		"done":  done,
		"total": total,
		"rate":  rate,
	})
}

// BroadcastBest reports the winning candidate after the search.
func (hub *WSHub) BroadcastBest(p Params, score float64) {
	hub.send(MsgTypeBest, map[string]any{
		"params": formatParams(p),
		"score":  score,
	})
}
