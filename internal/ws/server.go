// Package ws is the reporter-facing WebSocket gateway. It upgrades HTTP
// connections, keeps one read goroutine per connection and hands every text
// frame to a message callback in arrival order.
package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/google/uuid"

	"github.com/whisper/report-bot/internal/metrics"
	"github.com/whisper/report-bot/internal/protocol"
)

// ReporterHeader and ReporterParam carry a client-chosen reporter id. When
// neither is present the connection gets a fresh anonymous id.
const (
	ReporterHeader = "X-Reporter-ID"
	ReporterParam  = "reporter"

	maxReporterIDLen = 128
)

// ServerConfig holds tunable parameters for the WebSocket server.
type ServerConfig struct {
	ListenAddr     string        // address to listen on, e.g. ":8080"
	MaxConnections int           // hard cap on total connections
	ReadTimeout    time.Duration // idle read deadline per connection, 0 disables
	WriteTimeout   time.Duration // timeout for WebSocket write operations
	MaxFrameBytes  int64         // largest accepted data frame
}

// DefaultServerConfig returns a ServerConfig with sensible production defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		ListenAddr:     ":8080",
		MaxConnections: 10000,
		ReadTimeout:    0,
		WriteTimeout:   10 * time.Second,
		MaxFrameBytes:  protocol.MaxFrameBytes,
	}
}

// AdmitFunc decides whether a connection attempt from remoteIP is accepted.
type AdmitFunc func(ctx context.Context, remoteIP string) bool

// Server accepts reporter connections and reads their frames.
type Server struct {
	config       ServerConfig
	conns        *ConnectionManager
	mux          *http.ServeMux
	onMessage    func(conn *Connection, data []byte)
	onDisconnect func(conn *Connection)
	admit        AdmitFunc
	httpServer   *http.Server
	done         chan struct{}
	startedAt    time.Time
}

// NewServer creates a Server. onMessage is called from the connection's read
// goroutine for every complete text frame, so frames of one connection are
// handled strictly in order.
func NewServer(config ServerConfig, onMessage func(conn *Connection, data []byte)) *Server {
	if config.MaxFrameBytes <= 0 {
		config.MaxFrameBytes = protocol.MaxFrameBytes
	}
	s := &Server{
		config:    config,
		conns:     NewConnectionManager(),
		mux:       http.NewServeMux(),
		onMessage: onMessage,
		done:      make(chan struct{}),
		startedAt: time.Now(),
	}
	s.mux.HandleFunc("/ws", s.handleUpgrade)
	s.mux.HandleFunc("/health", s.handleHealth)
	return s
}

// Handle registers an extra HTTP handler next to /ws and /health.
func (s *Server) Handle(pattern string, handler http.Handler) {
	s.mux.Handle(pattern, handler)
}

// SetAdmission installs a connection admission check, e.g. a rate limit.
func (s *Server) SetAdmission(fn AdmitFunc) {
	s.admit = fn
}

// SetOnDisconnect registers a callback invoked once when a connection is
// removed (read error, heartbeat timeout or close frame).
func (s *Server) SetOnDisconnect(fn func(conn *Connection)) {
	s.onDisconnect = fn
}

// Start begins accepting connections and blocks until the HTTP server stops.
func (s *Server) Start() error {
	s.startedAt = time.Now()
	s.httpServer = &http.Server{
		Addr:    s.config.ListenAddr,
		Handler: s.mux,
	}

	StartHeartbeat(s, DefaultHeartbeatConfig())

	log.Printf("ws: server listening on %s (max_conns=%d)", s.config.ListenAddr, s.config.MaxConnections)

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("ws: http server error: %w", err)
	}
	return nil
}

// Handler exposes the server's HTTP routes, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// reporterID returns the id the connection's conversation is keyed by and
// whether it was generated.
func reporterID(r *http.Request) (string, bool, error) {
	id := r.Header.Get(ReporterHeader)
	if id == "" {
		id = r.URL.Query().Get(ReporterParam)
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return uuid.New().String(), true, nil
	}
	if len(id) > maxReporterIDLen {
		return "", false, fmt.Errorf("reporter id longer than %d bytes", maxReporterIDLen)
	}
	return id, false, nil
}

func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// handleUpgrade upgrades an HTTP request to a WebSocket connection, announces
// the reporter id and starts the connection's read loop.
func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	if s.conns.Count() >= s.config.MaxConnections {
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return
	}

	ip := remoteIP(r)
	if s.admit != nil && !s.admit(r.Context(), ip) {
		http.Error(w, "too many connection attempts", http.StatusTooManyRequests)
		return
	}

	reporter, anonymous, err := reporterID(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		log.Printf("ws: upgrade failed: %v", err)
		return
	}

	c := &Connection{
		ID:           uuid.New().String(),
		ReporterID:   reporter,
		Anonymous:    anonymous,
		Conn:         conn,
		RemoteAddr:   ip,
		CreatedAt:    time.Now(),
		writeTimeout: s.config.WriteTimeout,
	}
	c.Touch()
	s.conns.Add(c)
	metrics.ConnectionsTotal.Inc()

	created, err := protocol.NewServerMessage(protocol.TypeSessionCreated, protocol.SessionCreatedMsg{
		SessionID: reporter,
	})
	if err != nil {
		log.Printf("ws: failed to build session_created conn=%s: %v", c.ID, err)
	} else if err := c.WriteMessage(created); err != nil {
		log.Printf("ws: failed to send session_created conn=%s: %v", c.ID, err)
	}

	log.Printf("ws: new connection conn=%s reporter=%s anonymous=%v (total=%d)",
		c.ID, reporter, anonymous, s.conns.Count())

	go s.readLoop(c)
}

// handleHealth responds with the server's health status as JSON.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	resp := struct {
		Status      string `json:"status"`
		Connections int    `json:"connections"`
		Uptime      string `json:"uptime"`
	}{
		Status:      "ok",
		Connections: s.conns.Count(),
		Uptime:      time.Since(s.startedAt).Round(time.Second).String(),
	}

	_ = json.NewEncoder(w).Encode(resp)
}

// readLoop reads frames until the connection fails or closes. Control frames
// are answered here; data frames go to onMessage.
func (s *Server) readLoop(c *Connection) {
	defer s.RemoveConnection(c)

	for {
		if s.config.ReadTimeout > 0 {
			_ = c.Conn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout))
		}

		header, reader, err := wsutil.NextReader(c.Conn, ws.StateServerSide)
		if err != nil {
			return
		}
		c.Touch()

		if header.OpCode.IsControl() {
			switch header.OpCode {
			case ws.OpClose:
				return
			case ws.OpPing:
				payload, err := io.ReadAll(reader)
				if err != nil {
					return
				}
				if err := c.writeFrame(ws.NewPongFrame(payload)); err != nil {
					return
				}
			default:
				if _, err := io.Copy(io.Discard, reader); err != nil {
					return
				}
			}
			continue
		}

		if header.Length > s.config.MaxFrameBytes {
			log.Printf("ws: frame too large conn=%s len=%d", c.ID, header.Length)
			s.sendError(c, "message_too_large", "message too large")
			return
		}

		data := make([]byte, header.Length)
		if header.Length > 0 {
			if _, err := io.ReadFull(reader, data); err != nil {
				return
			}
		}
		if len(data) == 0 || s.onMessage == nil {
			continue
		}

		s.onMessage(c, data)
	}
}

// RemoveConnection unregisters and closes a connection. Concurrent callers
// (read error and heartbeat timeout) are safe; only the first one runs the
// disconnect callback.
func (s *Server) RemoveConnection(c *Connection) {
	if !s.conns.Remove(c.ID) {
		return
	}
	metrics.ConnectionsTotal.Dec()

	if s.onDisconnect != nil {
		s.onDisconnect(c)
	}

	log.Printf("ws: connection closed conn=%s reporter=%s (total=%d)", c.ID, c.ReporterID, s.conns.Count())
}

// SendMessage writes a WebSocket text frame to the connection identified by
// connID. A write that does not finish within WriteTimeout fails and the
// connection is dropped.
func (s *Server) SendMessage(connID string, data []byte) error {
	c := s.conns.Get(connID)
	if c == nil {
		return fmt.Errorf("ws: connection %s not found", connID)
	}
	if err := c.WriteMessage(data); err != nil {
		s.RemoveConnection(c)
		return fmt.Errorf("ws: write conn=%s: %w", connID, err)
	}
	return nil
}

func (s *Server) sendError(c *Connection, code, message string) {
	data, err := protocol.NewServerMessage(protocol.TypeError, protocol.ErrorMsg{Code: code, Message: message})
	if err != nil {
		return
	}
	if err := c.WriteMessage(data); err != nil {
		log.Printf("ws: failed to send error conn=%s: %v", c.ID, err)
	}
}

// Connections returns the ConnectionManager.
func (s *Server) Connections() *ConnectionManager {
	return s.conns
}

// Shutdown stops the HTTP listener and closes every active connection.
func (s *Server) Shutdown() error {
	log.Println("ws: shutting down server...")

	select {
	case <-s.done:
	default:
		close(s.done)
	}

	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(ctx); err != nil {
			log.Printf("ws: http shutdown error: %v", err)
		}
	}

	for _, c := range s.conns.All() {
		s.RemoveConnection(c)
	}

	log.Printf("ws: server stopped, all connections closed")
	return nil
}
