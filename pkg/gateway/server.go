package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"

	"github.com/batteryshark/agent-armory/internal/metrics"
	"github.com/batteryshark/agent-armory/internal/tracing"
	"github.com/batteryshark/agent-armory/pkg/events"
	"github.com/batteryshark/agent-armory/pkg/router"
)

// Server is the WebSocket transport in front of the message router.
// Each connection is bound to one session; inbound frames are dispatched
// through the router and the session's event stream is pumped back over
// the same socket.
type Server struct {
	host      string
	port      int
	name      string
	server    *http.Server
	upgrader  websocket.Upgrader
	clients   *ClientRegistry
	router    *router.Router
	publisher *events.Publisher
	logger    zerolog.Logger

	isShuttingDown bool
	shutdownMu     sync.RWMutex
	inFlightReqs   sync.WaitGroup
}

// Config holds server configuration.
type Config struct {
	Host      string
	Port      int
	Name      string
	Router    *router.Router
	Publisher *events.Publisher
	Logger    zerolog.Logger
}

// NewServer creates a gateway server.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Port <= 0 {
		return nil, fmt.Errorf("invalid port: %d", cfg.Port)
	}
	if cfg.Router == nil {
		return nil, fmt.Errorf("router is required")
	}
	if cfg.Publisher == nil {
		return nil, fmt.Errorf("publisher is required")
	}
	if cfg.Name == "" {
		cfg.Name = "armory"
	}

	return &Server{
		host:      cfg.Host,
		port:      cfg.Port,
		name:      cfg.Name,
		clients:   NewClientRegistry(),
		router:    cfg.Router,
		publisher: cfg.Publisher,
		logger:    cfg.Logger.With().Str("component", "gateway").Logger(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // Allow all origins for now
			},
		},
	}, nil
}

// Handler returns the server's HTTP handler. Exposed so tests can mount
// it on an httptest server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/rpc", s.handleRPC)
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	return mux
}

// Start begins serving in a background goroutine.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", s.host, s.port),
		Handler: s.Handler(),
	}

	s.logger.Info().Str("host", s.host).Int("port", s.port).Msg("Starting gateway server")

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("Gateway server error")
		}
	}()
	return nil
}

// Stop gracefully stops the server: refuses new connections, notifies
// clients, waits briefly for in-flight dispatches, then closes.
func (s *Server) Stop() error {
	s.shutdownMu.Lock()
	s.isShuttingDown = true
	s.shutdownMu.Unlock()

	s.logger.Info().Msg("Shutting down gateway server")

	for _, client := range s.clients.GetAll() {
		_ = client.WriteJSON(map[string]interface{}{
			"type":    FrameShutdown,
			"message": "server is shutting down",
		})
	}

	done := make(chan struct{})
	go func() {
		s.inFlightReqs.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(30 * time.Second):
		s.logger.Warn().Msg("Shutdown timeout reached, forcing close")
	}

	for _, client := range s.clients.GetAll() {
		client.Conn.Close()
	}

	if s.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}

	s.logger.Info().Msg("Gateway server stopped")
	return nil
}

// handleWebSocket upgrades the connection and binds it to a session.
// The session id comes from the session_id query parameter; absent one,
// the server generates it and reports it in the hello frame.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	s.shutdownMu.RLock()
	if s.isShuttingDown {
		s.shutdownMu.RUnlock()
		http.Error(w, "server is shutting down", http.StatusServiceUnavailable)
		return
	}
	s.shutdownMu.RUnlock()

	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		sessionID, _ = gonanoid.New()
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to upgrade connection")
		return
	}

	clientID, _ := gonanoid.New()
	client := &Client{
		ID:          clientID,
		SessionID:   sessionID,
		Conn:        conn,
		ConnectedAt: time.Now(),
		IPAddress:   r.RemoteAddr,
	}
	client.Touch()

	// A reconnect takes the session over from the previous connection.
	if replaced := s.clients.Add(client); replaced != nil {
		s.logger.Info().
			Str("clientId", replaced.ID).
			Str("sessionId", sessionID).
			Msg("Session reattached, closing previous connection")
		replaced.Conn.Close()
	}

	s.logger.Info().
		Str("clientId", clientID).
		Str("sessionId", sessionID).
		Str("ip", r.RemoteAddr).
		Msg("Client connected")

	if err := client.WriteJSON(HelloFrame{
		Type:      FrameHello,
		Server:    s.name,
		SessionID: sessionID,
		Sequence:  s.publisher.Sequence(sessionID),
	}); err != nil {
		s.logger.Error().Err(err).Str("clientId", clientID).Msg("Failed to send hello frame")
		conn.Close()
		s.clients.Remove(clientID)
		return
	}

	// Attaching the subscription replaces any previous one, which ends
	// the old connection's pump. Buffered events flush first, in order.
	sub := s.publisher.Subscribe(sessionID)
	go s.pumpEvents(client, sub)
	go s.handleClient(client, sub)
}

// pumpEvents forwards the session's event stream to the socket.
func (s *Server) pumpEvents(client *Client, sub *events.Subscription) {
	for evt := range sub.C {
		if err := client.WriteJSON(EventFrame{Type: FrameEvent, Event: evt}); err != nil {
			s.logger.Debug().
				Err(err).
				Str("clientId", client.ID).
				Msg("Event write failed, dropping pump")
			return
		}
	}
}

// handleClient reads inbound frames until the connection dies.
func (s *Server) handleClient(client *Client, sub *events.Subscription) {
	defer func() {
		sub.Cancel()
		client.Conn.Close()
		s.clients.Remove(client.ID)
		s.logger.Info().Str("clientId", client.ID).Msg("Client disconnected")
	}()

	for {
		_, message, err := client.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				s.logger.Error().Err(err).Str("clientId", client.ID).Msg("WebSocket error")
			}
			return
		}

		client.Touch()
		s.handleMessage(client, message)
	}
}

// handleMessage parses one inbound frame and dispatches it. The
// connection's session always wins over whatever the frame claims.
func (s *Server) handleMessage(client *Client, message []byte) {
	var msg router.Message
	if err := json.Unmarshal(message, &msg); err != nil {
		_ = client.WriteJSON(ResponseFrame{
			Type: FrameResponse,
			Response: router.Response{
				Status: router.StatusError,
				Error:  &router.ErrorInfo{Code: router.CodeValidationError, Message: "malformed frame"},
			},
		})
		return
	}
	msg.SessionID = client.SessionID

	s.inFlightReqs.Add(1)
	go func() {
		defer s.inFlightReqs.Done()

		ctx := tracing.NewRequestContext(context.Background())
		ctx = tracing.WithSessionID(ctx, msg.SessionID)
		resp := s.router.Dispatch(ctx, msg)
		if err := client.WriteJSON(ResponseFrame{Type: FrameResponse, Response: resp}); err != nil {
			s.logger.Error().
				Err(err).
				Str("clientId", client.ID).
				Str("requestId", resp.RequestID).
				Msg("Failed to send response")
		}
	}()
}

// handleRPC serves single-shot HTTP dispatches. Useful for scripting
// against the server without holding a socket open.
func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "failed to read request body", http.StatusBadRequest)
		return
	}

	var msg router.Message
	if err := json.Unmarshal(body, &msg); err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(router.Response{
			Status: router.StatusError,
			Error:  &router.ErrorInfo{Code: router.CodeValidationError, Message: "malformed request body"},
		})
		return
	}

	traceID := r.Header.Get("X-Trace-Id")
	if traceID == "" {
		traceID = tracing.NewTraceID()
	}
	ctx := tracing.WithTraceID(r.Context(), traceID)
	logger := tracing.LoggerFromContext(ctx, s.logger)
	logger.Info().
		Str("session_id", msg.SessionID).
		Str("kind", string(msg.Kind)).
		Msg("Gateway received HTTP dispatch")

	s.inFlightReqs.Add(1)
	resp := s.router.Dispatch(ctx, msg)
	s.inFlightReqs.Done()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		logger.Error().Err(err).Msg("Failed to encode response")
	}
}

// GetConnectedClients returns information about all connected clients.
func (s *Server) GetConnectedClients() []ClientInfo {
	return s.clients.GetConnectedClients()
}
