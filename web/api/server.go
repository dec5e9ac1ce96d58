package api

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/hochfrequenz/pulse-orchestrator/internal/domain"
)

// Store interface for database operations
type Store interface {
	ListPulses(workflowID string) ([]*domain.Pulse, error)
	GetPulse(id string) (*domain.Pulse, error)
	ListWorkflowIDs() ([]string, error)
}

// Server is the HTTP API server
type Server struct {
	store Store
	addr  string
	mux   *http.ServeMux
	hub   *Hub
}

// NewServer creates a new API server
func NewServer(store Store, addr string) *Server {
	s := &Server{
		store: store,
		addr:  addr,
		mux:   http.NewServeMux(),
		hub:   NewHub(),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.mux.HandleFunc("/api/status", s.statusHandler())
	s.mux.HandleFunc("/api/pulses", s.listPulsesHandler())
	s.mux.HandleFunc("/api/pulses/", s.getPulseHandler())
	s.mux.HandleFunc("/api/events", s.eventsHandler())
}

// Handler exposes the route table for tests and embedding
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Start starts the HTTP server
func (s *Server) Start() error {
	go s.hub.Run()
	return http.ListenAndServe(s.addr, s.mux)
}

// Broadcast sends an event to all connected websocket clients
func (s *Server) Broadcast(event Event) {
	s.hub.Broadcast(event)
}

// PulseStatusChanged broadcasts a status change to all websocket clients. It
// doubles as an orchestrator status callback when pulse operations are hosted
// in the same process.
func (s *Server) PulseStatusChanged(pulse *domain.Pulse) {
	s.Broadcast(Event{Type: "pulse_status", Data: pulseToResponse(pulse)})
}

// WatchPulses polls the store and broadcasts every pulse status change.
// Pulse operations normally run in separate CLI processes that share only
// the database, so the hub observes the store rather than an in-process
// callback. The first scan primes the known state without broadcasting.
func (s *Server) WatchPulses(ctx context.Context, interval time.Duration) {
	seen := make(map[string]string)
	s.scanPulses(seen, false)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.scanPulses(seen, true)
		}
	}
}

func (s *Server) scanPulses(seen map[string]string, broadcast bool) {
	ids, err := s.store.ListWorkflowIDs()
	if err != nil {
		log.Printf("[api] pulse watch: %v", err)
		return
	}
	for _, wf := range ids {
		pulses, err := s.store.ListPulses(wf)
		if err != nil {
			log.Printf("[api] pulse watch: %v", err)
			continue
		}
		for _, p := range pulses {
			status := string(p.Status)
			if seen[p.ID] == status {
				continue
			}
			seen[p.ID] = status
			if broadcast {
				s.PulseStatusChanged(p)
			}
		}
	}
}

func writeJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
