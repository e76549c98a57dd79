package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/rs/cors"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"status":          "ok",
		"active_conns":    atomic.LoadInt64(&s.activeConns),
		"active_sessions":  s.Registry.Len(),
		"uptime_seconds":  int(time.Since(s.startedAt).Seconds()),
		"local_relay":     s.IsLocal,
	})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"active_conns":     atomic.LoadInt64(&s.activeConns),
		"sessions_total":   atomic.LoadInt64(&s.sessionsTotal),
		"active_sessions":  s.Registry.Len(),
		"bytes_forwarded":  atomic.LoadInt64(&s.bytesForwarded),
	})
}

func (s *Server) mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.wsHandler)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/metrics", s.handleMetrics)
	return mux
}

// Start runs the public relay on the given port, blocking until the
// server stops or fails. Pass 0 for an OS-assigned port when the caller
// only needs the Listener's reported port beforehand via StartLocal.
func (s *Server) Start(port int) error {
	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return fmt.Errorf("relay: listen: %w", err)
	}
	s.port = listener.Addr().(*net.TCPAddr).Port

	handler := cors.AllowAll().Handler(s.mux())
	s.logger.Info("relay listening", "port", s.port)
	return http.Serve(listener, handler)
}

// StartLocal starts a relay on an OS-assigned loopback-reachable port in
// the background, for use as the sender-embedded LAN fast-path relay. It
// returns immediately with the bound port and an *http.Server handle for
// ShutdownLocal.
func (s *Server) StartLocal() (int, *http.Server, error) {
	s.IsLocal = true

	listener, err := net.Listen("tcp", "0.0.0.0:0")
	if err != nil {
		return 0, nil, fmt.Errorf("relay: listen: %w", err)
	}
	s.port = listener.Addr().(*net.TCPAddr).Port

	handler := cors.AllowAll().Handler(s.mux())
	httpServer := &http.Server{Handler: handler}

	go func() {
		s.logger.Debug("local relay starting", "port", s.port)
		if err := httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.logger.Error("local relay failed", "error", err)
		}
	}()

	return s.port, httpServer, nil
}

// ShutdownLocal gracefully shuts down a server started by StartLocal.
func ShutdownLocal(server *http.Server) error {
	if server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(ctx)
}

// Stop halts the registry's idle reaper. It does not close open
// connections; callers should shut down the HTTP server first.
func (s *Server) Stop() {
	s.Registry.Stop()
	if s.SessionLog != nil {
		s.SessionLog.Close()
	}
}
