package api

import (
	"log"
	"net/http"

	"github.com/gorilla/websocket"
)

// Event is a message broadcast to all connected clients
type Event struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The UI may be served from a dev server on another port
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Hub fans events out to websocket clients
type Hub struct {
	clients    map[chan Event]bool
	broadcast  chan Event
	register   chan chan Event
	unregister chan chan Event
}

// NewHub creates an event hub
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[chan Event]bool),
		broadcast:  make(chan Event, 16),
		register:   make(chan chan Event),
		unregister: make(chan chan Event),
	}
}

// Run processes hub registrations and broadcasts until the process exits
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.clients[client] = true

		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client)
			}

		case event := <-h.broadcast:
			for client := range h.clients {
				select {
				case client <- event:
				default:
					// Slow client: drop it rather than block the hub
					close(client)
					delete(h.clients, client)
				}
			}
		}
	}
}

// Broadcast sends an event to all clients
func (h *Hub) Broadcast(event Event) {
	h.broadcast <- event
}

func (s *Server) eventsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("[api] websocket upgrade: %v", err)
			return
		}

		client := make(chan Event, 16)
		s.hub.register <- client

		// Reader goroutine only detects disconnects; clients never send
		go func() {
			defer func() { s.hub.unregister <- client }()
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		defer conn.Close()
		for event := range client {
			if err := conn.WriteJSON(event); err != nil {
				return
			}
		}
	}
}
