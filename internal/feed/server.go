package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/coder/quartz"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"github.com/lox/tablesight/internal/fusion"
	"github.com/lox/tablesight/internal/observation"
	"github.com/lox/tablesight/internal/publisher"
)

// maxBatchBytes bounds the body of a POST /observations request.
const maxBatchBytes = 1 << 20

// Engine is the part of the fusion engine the feed needs
type Engine interface {
	Submit(obs observation.Observation) error
	Latest() (publisher.Snapshot, bool)
	Stats() fusion.Stats
}

// Server exposes the engine over HTTP and websockets
type Server struct {
	engine   Engine
	hub      *Hub
	clock    quartz.Clock
	logger   *log.Logger
	upgrader websocket.Upgrader
	router   chi.Router

	mu        sync.Mutex
	producers map[*websocket.Conn]struct{}
	closed    bool
}

// NewServer creates a feed server. The hub must be registered as a monitor
// of the engine for subscribers to receive snapshots.
func NewServer(engine Engine, hub *Hub, clock quartz.Clock, logger *log.Logger) *Server {
	s := &Server{
		engine: engine,
		hub:    hub,
		clock:  clock,
		logger: logger.WithPrefix("feed"),
		upgrader: websocket.Upgrader{
			// Displays and producers run on the same host or a trusted network
			CheckOrigin:     func(r *http.Request) bool { return true },
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
		producers: make(map[*websocket.Conn]struct{}),
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/health", s.handleHealth)
	r.Get("/stats", s.handleStats)
	r.Get("/snapshot", s.handleSnapshot)
	r.Post("/observations", s.handleObservations)
	r.Get("/ws/snapshots", s.handleSnapshotSocket)
	r.Get("/ws/observations", s.handleObservationSocket)
	s.router = r
	return s
}

// Handler returns the HTTP handler serving every route
func (s *Server) Handler() http.Handler { return s.router }

// Serve listens on addr until ctx is done, then closes every subscription
// and shuts the listener down.
func (s *Server) Serve(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("feed: listen: %w", err)
	}
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	s.logger.Info("Feed listening", "addr", ln.Addr().String())

	select {
	case err := <-errCh:
		s.Close()
		return fmt.Errorf("feed: serve: %w", err)
	case <-ctx.Done():
	}

	s.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("feed: shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("feed: serve: %w", err)
	}
	return nil
}

// Close ends every subscription and disconnects producers
func (s *Server) Close() {
	s.hub.Close()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	for conn := range s.producers {
		_ = conn.Close()
	}
	clear(s.producers)
}

func (s *Server) submit(obs observation.Observation) error {
	if obs.ObservedAt.IsZero() {
		obs.ObservedAt = s.clock.Now()
	}
	return s.engine.Submit(obs)
}

type healthResponse struct {
	Status  string               `json:"status"`
	Trust   publisher.TrustLevel `json:"trust_level"`
	Phase   string               `json:"phase"`
	Version uint64               `json:"version"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	stats := s.engine.Stats()
	resp := healthResponse{Status: "ok", Trust: stats.Trust, Phase: stats.Phase.String()}
	if snap, ok := s.engine.Latest(); ok {
		resp.Version = snap.Version
	}
	writeJSON(w, http.StatusOK, resp)
}

type statsResponse struct {
	fusion.Stats
	Subscribers       int    `json:"subscribers"`
	SubscriberDropped uint64 `json:"subscriber_dropped"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, statsResponse{
		Stats:             s.engine.Stats(),
		Subscribers:       s.hub.Subscribers(),
		SubscriberDropped: s.hub.Dropped(),
	})
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.engine.Latest()
	if !ok {
		writeError(w, http.StatusNotFound, "no snapshot published yet")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// BatchResult reports the outcome of a POST /observations request
type BatchResult struct {
	Accepted int            `json:"accepted"`
	Rejected []RejectedItem `json:"rejected,omitempty"`
}

// RejectedItem is one refused entry of a batch
type RejectedItem struct {
	Index int    `json:"index"`
	Error string `json:"error"`
}

func (s *Server) handleObservations(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBatchBytes+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(body) > maxBatchBytes {
		writeError(w, http.StatusRequestEntityTooLarge, "batch too large")
		return
	}

	var items []json.RawMessage
	if err := json.Unmarshal(body, &items); err != nil {
		writeError(w, http.StatusBadRequest, "expected a JSON array of observations")
		return
	}

	var res BatchResult
	for i, raw := range items {
		var obs observation.Observation
		if err := json.Unmarshal(raw, &obs); err != nil {
			res.Rejected = append(res.Rejected, RejectedItem{Index: i, Error: err.Error()})
			continue
		}
		if err := s.submit(obs); err != nil {
			if errors.Is(err, fusion.ErrClosed) {
				writeError(w, http.StatusServiceUnavailable, err.Error())
				return
			}
			res.Rejected = append(res.Rejected, RejectedItem{Index: i, Error: err.Error()})
			continue
		}
		res.Accepted++
	}
	if len(res.Rejected) > 0 {
		s.logger.Debug("Observations refused", "accepted", res.Accepted, "rejected", len(res.Rejected))
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleSnapshotSocket(w http.ResponseWriter, r *http.Request) {
	sub, ok := s.hub.Subscribe()
	if !ok {
		writeError(w, http.StatusServiceUnavailable, "feed is shutting down")
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.hub.Unsubscribe(sub)
		s.logger.Error("Failed to upgrade connection", "error", err)
		return
	}
	if snap, ok := s.engine.Latest(); ok {
		sub.OnSnapshot(snap)
	}

	s.logger.Info("Subscriber connected", "remote", r.RemoteAddr, "total", s.hub.Subscribers())
	s.streamSnapshots(conn, sub)
	s.logger.Info("Subscriber disconnected", "remote", r.RemoteAddr, "dropped", sub.Dropped())
}

func (s *Server) handleObservationSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("Failed to upgrade connection", "error", err)
		return
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = conn.Close()
		return
	}
	s.producers[conn] = struct{}{}
	s.mu.Unlock()

	s.logger.Info("Producer connected", "remote", r.RemoteAddr)
	s.readObservations(conn)

	s.mu.Lock()
	delete(s.producers, conn)
	s.mu.Unlock()
	s.logger.Info("Producer disconnected", "remote", r.RemoteAddr)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
