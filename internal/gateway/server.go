// Package gateway exposes the local status server: health and status JSON,
// Prometheus-format metrics, and a live system-log WebSocket stream.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/whiteout-project/wosbot/internal/logging"
	"github.com/whiteout-project/wosbot/internal/scheduler"
	"github.com/whiteout-project/wosbot/internal/store"
)

// Config holds the status server binding.
type Config struct {
	// Host is the network interface to bind to (e.g., "127.0.0.1").
	Host string `yaml:"host"`
	// Port is the TCP port number to listen on.
	Port int `yaml:"port"`
}

// QueueSource provides scheduler state for status and metrics endpoints.
type QueueSource interface {
	ActiveProcessID() int64
	Metrics() *scheduler.Metrics
}

// ScheduleSource provides the armed refresh timers.
type ScheduleSource interface {
	ScheduledFires() map[int64]time.Time
}

// Server is the status HTTP server. It is read-only: all state changes go
// through the scheduler, never through HTTP.
type Server struct {
	config   *Config
	store    *store.Store
	queue    QueueSource
	engine   ScheduleSource
	upgrader websocket.Upgrader
	server   *http.Server
	log      *slog.Logger

	mu      sync.Mutex
	running bool
}

// NewServer creates the status server.
func NewServer(config *Config, st *store.Store, queue QueueSource, engine ScheduleSource) *Server {
	return &Server{
		config: config,
		store:  st,
		queue:  queue,
		engine: engine,
		log:    logging.WithComponent("gateway"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				if origin == "" {
					return true
				}
				return strings.HasPrefix(origin, "http://localhost") ||
					strings.HasPrefix(origin, "http://127.0.0.1")
			},
		},
	}
}

// Start starts the server and blocks until the context is cancelled or the
// listener fails.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("server already running")
	}
	s.running = true
	s.mu.Unlock()

	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/api/v1/status", s.handleStatus)
	mux.HandleFunc("/metrics", s.handleMetrics)
	mux.HandleFunc("/ws/logs", s.handleLogStream)

	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.server = &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.log.Info("status server starting", slog.String("addr", addr))

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return s.Shutdown()
	}
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return nil
	}
	s.running = false

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	counts, err := s.store.CountProcessesByStatus()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	fires := map[string]string{}
	for id, at := range s.engine.ScheduledFires() {
		fires[fmt.Sprintf("%d", id)] = at.Format(time.RFC3339)
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"active_process_id": s.queue.ActiveProcessID(),
		"queued":            counts[store.StatusQueued],
		"completed":         counts[store.StatusCompleted],
		"failed":            counts[store.StatusFailed],
		"scheduled_fires":   fires,
	})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	counts, err := s.store.CountProcessesByStatus()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	writeMetrics(w, s.queue.Metrics().Snapshot(), counts)
}
