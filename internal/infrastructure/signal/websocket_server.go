package signal

import (
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"signalhub/internal/core/domain"
	"signalhub/internal/core/ports"
	"signalhub/internal/core/services"
	"signalhub/internal/infrastructure/monitoring"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const maxMessageSize = 64 * 1024

// Config holds websocket timing and buffering knobs.
type Config struct {
	PingInterval time.Duration
	PongTimeout  time.Duration
	WriteTimeout time.Duration
	SendBuffer   int

	AllowedOrigins []string

	MessagesPerSecond float64
	MessageBurst      int
}

// Server owns every websocket session on this instance and implements
// ports.MessageSink for the relay.
type Server struct {
	cfg   Config
	rooms *services.RoomService
	stats *services.StatsService
	relay ports.RelayService
	auth  *services.AuthService

	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[domain.ConnectionID]*client

	metrics *monitoring.Metrics
	logger  *zap.SugaredLogger
}

func NewServer(cfg Config, rooms *services.RoomService, stats *services.StatsService, relay ports.RelayService, auth *services.AuthService, metrics *monitoring.Metrics, logger *zap.SugaredLogger) *Server {
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 30 * time.Second
	}
	if cfg.PongTimeout <= cfg.PingInterval {
		cfg.PongTimeout = 2 * cfg.PingInterval
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = 256
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	s := &Server{
		cfg:     cfg,
		rooms:   rooms,
		stats:   stats,
		relay:   relay,
		auth:    auth,
		clients: make(map[domain.ConnectionID]*client),
		metrics: metrics,
		logger:  logger,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

// SetRelay breaks the construction cycle: the relay needs the server as
// its sink, the server needs the relay for routing.
func (s *Server) SetRelay(relay ports.RelayService) {
	s.relay = relay
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range s.cfg.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

// HandleWS upgrades an incoming websocket request. The session starts
// unauthenticated; the client must send an authenticate event before
// anything else is accepted.
func (s *Server) HandleWS(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warnw("websocket upgrade failed", "remote", c.ClientIP(), "error", err)
		return
	}

	cl := &client{
		server:    s,
		conn:      conn,
		send:      make(chan []byte, s.cfg.SendBuffer),
		userAgent: c.Request.UserAgent(),
	}
	if s.cfg.MessagesPerSecond > 0 {
		cl.limiter = rate.NewLimiter(rate.Limit(s.cfg.MessagesPerSecond), s.cfg.MessageBurst)
	}

	if s.metrics != nil {
		s.metrics.WebSocketSessions.Inc()
	}
	s.logger.Infow("websocket session opened", "remote", c.ClientIP())

	go cl.writePump()
	cl.readPump()
}

// Send queues a payload for a locally-connected transport. A full send
// buffer counts as unreachable: the message is dropped so one slow
// client cannot stall the relay.
func (s *Server) Send(id domain.ConnectionID, payload interface{}) error {
	s.mu.RLock()
	cl, ok := s.clients[id]
	s.mu.RUnlock()
	if !ok {
		return errors.New("connection not registered")
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	select {
	case cl.send <- data:
		return nil
	default:
		return errors.New("send buffer full")
	}
}

// Connected reports whether the connection is registered here.
func (s *Server) Connected(id domain.ConnectionID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.clients[id]
	return ok
}

// Sessions returns the number of open websocket sessions.
func (s *Server) Sessions() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

func (s *Server) register(id domain.ConnectionID, cl *client) {
	s.mu.Lock()
	s.clients[id] = cl
	s.mu.Unlock()
}

func (s *Server) unregister(id domain.ConnectionID) {
	s.mu.Lock()
	delete(s.clients, id)
	s.mu.Unlock()
}
