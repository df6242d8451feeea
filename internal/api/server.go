package api

import (
	"context"
	"encoding/json"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"roadsense/internal/models"
	"roadsense/internal/storage"
	"roadsense/internal/stream"
)

// Server exposes the retention window over HTTP for the dashboard
// frontend. All state lives in the store and the hub; the server only
// reads.
type Server struct {
	store *storage.MemoryStore
	hub   *stream.Hub
	http  *http.Server
}

type dataResponse struct {
	Data     []models.Reading `json:"data"`
	MockMode bool             `json:"mock_mode"`
}

type statusResponse struct {
	Status     string `json:"status"`
	MockMode   bool   `json:"mock_mode"`
	BufferSize int    `json:"buffer_size"`
}

// NewServer builds the router on the given listen address
func NewServer(listen string, store *storage.MemoryStore, hub *stream.Hub) *Server {
	s := &Server{store: store, hub: hub}

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Route("/api", func(r chi.Router) {
		// The frontend may be served from any origin
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: []string{"*"},
			AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		}))
		r.Get("/data", s.handleData)
		r.Get("/status", s.handleStatus)
		r.Get("/stream", s.handleStream)
	})

	s.http = &http.Server{
		Addr:    listen,
		Handler: r,
	}
	return s
}

// Handler returns the router, mainly for httptest servers
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

// Start serves HTTP until Shutdown is called
func (s *Server) Start() error {
	log.Printf("[API] Listening on %s", s.http.Addr)
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests and stops the listener
func (s *Server) Shutdown(ctx context.Context) error {
	log.Printf("[API] Shutting down")
	return s.http.Shutdown(ctx)
}

func (s *Server) handleData(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, dataResponse{
		Data:     s.store.Snapshot(),
		MockMode: s.store.MockMode(),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, statusResponse{
		Status:     "ok",
		MockMode:   s.store.MockMode(),
		BufferSize: s.store.Len(),
	})
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	stream.ServeWS(s.hub, w, r)
}

func (s *Server) respondJSON(w http.ResponseWriter, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("[API] Failed to encode response: %v", err)
	}
}
