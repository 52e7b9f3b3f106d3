package gateway

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"
)

// ServerConfig holds configuration for the HTTP/WebSocket server.
type ServerConfig struct {
	// Address is the address to listen on (e.g., ":8080").
	// Default: ":8080".
	Address string

	// GatewayPath is the WebSocket endpoint.
	// Default: "/gateway".
	GatewayPath string

	// ReadBufferSize is the WebSocket read buffer size.
	// Default: 4096.
	ReadBufferSize int

	// WriteBufferSize is the WebSocket write buffer size.
	// Default: 4096.
	WriteBufferSize int

	// CheckOrigin is called to validate the request origin.
	// Default: allows all origins.
	CheckOrigin func(r *http.Request) bool

	// ConnectRateLimit is the number of WebSocket upgrades allowed per
	// client IP per minute. 0 disables the limit.
	// Default: 60.
	ConnectRateLimit int

	// EventsSecret is the bearer token required by POST /events.
	// Empty disables the endpoint.
	EventsSecret string

	// MaxEventBody is the largest accepted POST /events body, in bytes.
	// Default: 64KB.
	MaxEventBody int64

	// MetricsHandler is served at /metrics when set.
	MetricsHandler http.Handler

	// ReadHeaderTimeout bounds reading request headers.
	// Default: 10 seconds.
	ReadHeaderTimeout time.Duration

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	// Default: 30 seconds.
	ShutdownTimeout time.Duration
}

// DefaultServerConfig returns a ServerConfig with sensible defaults.
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		Address:           ":8080",
		GatewayPath:       "/gateway",
		ReadBufferSize:    4096,
		WriteBufferSize:   4096,
		ConnectRateLimit:  60,
		MaxEventBody:      64 * 1024,
		ReadHeaderTimeout: 10 * time.Second,
		ShutdownTimeout:   30 * time.Second,
	}
}

// Clone returns a copy of the ServerConfig.
func (c *ServerConfig) Clone() *ServerConfig {
	if c == nil {
		return nil
	}
	clone := *c
	return &clone
}

// Server exposes a Gateway over HTTP.
//
// Routes:
//
//	GET  /gateway  WebSocket upgrade
//	POST /events   application event push (bearer EventsSecret)
//	GET  /healthz  liveness and statistics
//	GET  /metrics  MetricsHandler, when configured
type Server struct {
	config     *ServerConfig
	gateway    *Gateway
	sink       EventSink
	upgrader   websocket.Upgrader
	router     chi.Router
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer creates a server for gw. A nil cfg uses DefaultServerConfig().
func NewServer(gw *Gateway, cfg *ServerConfig) *Server {
	if cfg == nil {
		cfg = DefaultServerConfig()
	}
	cfg = cfg.Clone()
	if cfg.GatewayPath == "" {
		cfg.GatewayPath = "/gateway"
	}
	if cfg.MaxEventBody <= 0 {
		cfg.MaxEventBody = 64 * 1024
	}

	checkOrigin := cfg.CheckOrigin
	if checkOrigin == nil {
		checkOrigin = func(*http.Request) bool { return true }
	}

	s := &Server{
		config:  cfg,
		gateway: gw,
		sink:    gw,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  cfg.ReadBufferSize,
			WriteBufferSize: cfg.WriteBufferSize,
			CheckOrigin:     checkOrigin,
		},
		logger: gw.logger.With("component", "server"),
	}
	s.router = s.routes()
	return s
}

// SetEventSink routes POST /events through sink instead of the local
// gateway, for example to fan out across instances.
func (s *Server) SetEventSink(sink EventSink) {
	if sink != nil {
		s.sink = sink
	}
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Group(func(r chi.Router) {
		if s.config.ConnectRateLimit > 0 {
			r.Use(httprate.LimitByIP(s.config.ConnectRateLimit, time.Minute))
		}
		r.Get(s.config.GatewayPath, s.HandleWebSocket)
	})
	if s.config.EventsSecret != "" {
		r.Post("/events", s.handleEvents)
	}
	r.Get("/healthz", s.handleHealth)
	if s.config.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", s.config.MetricsHandler)
	}
	return r
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// HandleWebSocket upgrades the request and runs the gateway protocol on it.
func (s *Server) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("upgrade failed", "error", err, "remote_addr", r.RemoteAddr)
		return
	}

	cfg := s.gateway.config
	t := NewWebSocketTransport(conn, cfg.MaxMessageSize, cfg.WriteTimeout)
	if err := s.gateway.OnConnect(r.Context(), t); err != nil {
		s.logger.Debug("connection ended", "error", err, "remote_addr", r.RemoteAddr)
	}
}

// eventRequest is the body of POST /events.
type eventRequest struct {
	Target Target          `json:"target"`
	Type   string          `json:"type"`
	Data   json.RawMessage `json:"data,omitempty"`
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.config.MaxEventBody))
	if err != nil {
		writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": err.Error()})
		return
	}
	var req eventRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	err = s.sink.Publish(r.Context(), req.Target, Event{Type: req.Type, Data: req.Data})
	switch {
	case err == nil:
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
	case errors.Is(err, ErrSessionNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
	case errors.Is(err, ErrInvalidEvent):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	default:
		if req.Target.Validate() != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
		s.logger.Error("publish event", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "publish failed"})
	}
}

func (s *Server) authorized(r *http.Request) bool {
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(s.config.EventsSecret)) == 1
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	code := http.StatusOK
	if s.gateway.shutdown.Load() {
		status = "shutting_down"
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, struct {
		Status string `json:"status"`
		Stats
	}{status, s.gateway.Stats()})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:              s.config.Address,
		Handler:           s.router,
		ReadHeaderTimeout: s.config.ReadHeaderTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.logger.Info("server starting", "address", s.config.Address)
		if err := s.httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		timeout := s.config.ShutdownTimeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		sctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		return s.Shutdown(sctx)
	})
	return g.Wait()
}

// Shutdown stops accepting connections and shuts the gateway down.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down...")
	var errs []error
	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if err := s.gateway.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
