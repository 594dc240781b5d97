// Package gateway is the websocket and HTTP front door: it assigns each
// websocket connection an id, decodes client frames into room operations
// and delivers room events back as JSON frames.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/cory-johannsen/duel/internal/config"
	"github.com/cory-johannsen/duel/internal/game/room"
	"github.com/cory-johannsen/duel/internal/observability"
)

// Banner is the body served at the root path.
const Banner = "duel server is running"

// RoomView is the observer projection served at /rooms/{key}.
type RoomView struct {
	RoomKey   string     `json:"roomKey"`
	Game      string     `json:"game"`
	Phase     room.Phase `json:"phase"`
	Occupants int        `json:"occupants"`
	Snapshot  any        `json:"snapshot"`
}

// Server serves the HTTP surface and upgrades /ws to websocket sessions.
// It implements server.Service.
type Server struct {
	cfg      config.ServerConfig
	sessCfg  SessionConfig
	hub      *Hub
	registry *room.Registry
	logger   *zap.Logger
	upgrader websocket.Upgrader
	router   *mux.Router
	httpSrv  *http.Server
	lis      net.Listener
}

// NewServer builds the gateway.
//
// Precondition: hub must already be attached to the room layer; registry
// must be the registry that room layer uses.
func NewServer(srvCfg config.ServerConfig, gwCfg config.GatewayConfig, hub *Hub, registry *room.Registry, logger *zap.Logger) *Server {
	s := &Server{
		cfg: srvCfg,
		sessCfg: SessionConfig{
			ReadTimeout:     gwCfg.ReadTimeout,
			WriteTimeout:    gwCfg.WriteTimeout,
			PingInterval:    gwCfg.PingInterval,
			SendBuffer:      gwCfg.SendBuffer,
			MaxMessageBytes: gwCfg.MaxMessageBytes,
		},
		hub:      hub,
		registry: registry,
		logger:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     originChecker(gwCfg.AllowedOrigins),
		},
	}

	r := mux.NewRouter()
	r.Use(observability.AccessLog(logger))
	r.HandleFunc("/", s.handleRoot).Methods(http.MethodGet)
	r.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)
	r.HandleFunc("/rooms/{key}", s.handleRoom).Methods(http.MethodGet)
	r.HandleFunc("/ws", s.handleWS).Methods(http.MethodGet)
	s.router = r

	s.httpSrv = &http.Server{
		Addr:              srvCfg.Addr(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler { return s.router }

// Listen binds the listener without serving. Start calls it if needed.
func (s *Server) Listen() error {
	if s.lis != nil {
		return nil
	}
	lis, err := net.Listen("tcp", s.cfg.Addr())
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.cfg.Addr(), err)
	}
	s.lis = lis
	return nil
}

// Addr returns the bound address, or the configured one before Listen.
func (s *Server) Addr() string {
	if s.lis != nil {
		return s.lis.Addr().String()
	}
	return s.cfg.Addr()
}

// Start serves until Stop.
func (s *Server) Start() error {
	if err := s.Listen(); err != nil {
		return err
	}
	s.logger.Info("gateway listening", zap.String("addr", s.lis.Addr().String()))
	if err := s.httpSrv.Serve(s.lis); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop stops accepting requests, waits up to the shutdown timeout for
// in-flight ones, then closes every websocket session.
func (s *Server) Stop() {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := s.httpSrv.Shutdown(ctx); err != nil {
		s.logger.Warn("gateway shutdown", zap.Error(err))
	}
	s.hub.CloseAll()
}

func (s *Server) handleRoot(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte(Banner))
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleRoom(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]
	rm, ok := s.registry.Get(key)
	if !ok {
		writeJSON(w, http.StatusNotFound, room.ErrorEventFor(room.ErrRoomNotFound))
		return
	}
	writeJSON(w, http.StatusOK, RoomView{
		RoomKey:   rm.Key(),
		Game:      s.registry.Adapter().Name(),
		Phase:     rm.Phase(),
		Occupants: rm.Len(),
		Snapshot:  rm.Snapshot(),
	})
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		s.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}
	newSession(s.hub, conn, s.sessCfg, s.logger).run()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// originChecker accepts requests without an Origin header (non-browser
// clients) and, unless the list is empty or contains "*", only the listed
// origins.
func originChecker(allowed []string) func(*http.Request) bool {
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		set[o] = true
	}
	if len(set) == 0 {
		return func(*http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || set[origin]
	}
}
