// Package server binds the TCP listener and runs one session handler per
// connection, tying together the node manager, sensor engine, client
// registry and user store.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/verdant-io/verdant/internal/config"
	"github.com/verdant-io/verdant/internal/engine"
	"github.com/verdant-io/verdant/internal/history"
	"github.com/verdant-io/verdant/internal/node"
	"github.com/verdant-io/verdant/internal/protocol"
	"github.com/verdant-io/verdant/internal/registry"
	"github.com/verdant-io/verdant/internal/sim"
	"github.com/verdant-io/verdant/internal/userstore"
)

// Server owns the component lifetimes and the accept loop.
type Server struct {
	cfg    *config.Config
	logger *slog.Logger

	users   *userstore.Store
	nodes   *node.Manager
	clients *registry.Registry
	engine  *engine.Engine
	history history.Store

	listener  net.Listener
	startedAt time.Time
	envSeq    atomic.Uint64

	mu    sync.Mutex
	conns map[LineConn]struct{}

	handlers  sync.WaitGroup
	done      chan struct{}
	closeOnce sync.Once
	closeErr  error
}

// New assembles a server from configuration and seeds the demo node.
// Nothing is scheduled or bound until Start.
func New(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	s := &Server{
		cfg:    cfg,
		logger: logger.With("component", "server"),
		conns:  make(map[LineConn]struct{}),
		done:   make(chan struct{}),
	}

	s.users = userstore.New(cfg.Users.File, logger)
	s.clients = registry.New(logger)
	s.nodes = node.NewManager(node.ManagerConfig{
		Broadcaster:       s.clients,
		NewEnv:            s.newEnv,
		DefaultIntervalMs: cfg.Sim.DefaultIntervalMs,
		Logger:            logger,
	})
	s.engine = engine.New(s.nodes, s.emit, logger)

	hist, err := history.New(cfg.History)
	if err != nil {
		return nil, fmt.Errorf("open history store: %w", err)
	}
	s.history = hist

	s.nodes.AddNode(protocol.Node{
		Name:      "Demo Greenhouse",
		Location:  "Central",
		IP:        "127.0.0.1",
		Sensors:   []string{"temperature", "humidity", "light", "ph"},
		Actuators: []string{"fan", "water_pump", "co2", "window"},
	})

	return s, nil
}

func (s *Server) newEnv() *sim.Env {
	if s.cfg.Sim.NoNoise {
		return sim.NewEnv(nil)
	}
	seed := uint64(s.cfg.Sim.Seed)
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	return sim.NewEnv(sim.NewNoise(seed, s.envSeq.Add(1)))
}

// emit is the broadcast hook shared by the sensor engine and the
// command-triggered immediate update: record to history (when enabled),
// then fan out to subscribed sessions.
func (s *Server) emit(su protocol.SensorUpdate) {
	if s.history != nil {
		r := &history.Reading{
			ID:          uuid.NewString(),
			NodeID:      su.NodeID,
			Timestamp:   time.UnixMilli(su.Timestamp),
			Temperature: su.Data.Temperature,
			Humidity:    su.Data.Humidity,
			Light:       su.Data.Light,
			PH:          su.Data.PH,
		}
		if err := s.history.RecordReading(context.Background(), r); err != nil {
			s.logger.Warn("record reading", "node_id", su.NodeID, "error", err)
		}
	}
	s.clients.BroadcastSensorUpdate(su)
}

// Start binds the listener, schedules tick loops for all current nodes and
// begins accepting connections. A bind failure is fatal to the caller.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.Server.ListenAddr)
	if err != nil {
		return fmt.Errorf("bind %s: %w", s.cfg.Server.ListenAddr, err)
	}
	s.listener = ln
	s.startedAt = time.Now()

	s.nodes.SetScheduler(s.engine)
	for _, n := range s.nodes.Nodes() {
		s.engine.Schedule(n.ID)
	}

	go s.acceptLoop()
	s.logger.Info("listening", "addr", ln.Addr().String())
	return nil
}

// Run starts the server and blocks until the context is cancelled, then
// shuts down.
func (s *Server) Run(ctx context.Context) error {
	if err := s.Start(); err != nil {
		return err
	}
	<-ctx.Done()
	return s.Close()
}

// Addr returns the bound listener address (useful with ":0" in tests).
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Close stops accepting, closes every live connection, waits for session
// handlers (bounded by the configured shutdown timeout), then stops the
// engine and the history store. Idempotent.
func (s *Server) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
		if s.listener != nil {
			s.closeErr = s.listener.Close()
		}

		s.mu.Lock()
		for c := range s.conns {
			_ = c.Close()
		}
		s.mu.Unlock()

		waited := make(chan struct{})
		go func() {
			s.handlers.Wait()
			close(waited)
		}()
		select {
		case <-waited:
		case <-time.After(s.cfg.Server.ShutdownTimeout.Duration):
			s.logger.Warn("shutdown timed out waiting for session handlers")
		}

		s.engine.Close()
		if s.history != nil {
			_ = s.history.Close()
		}
		s.logger.Info("server stopped")
	})
	return s.closeErr
}

// Accessors for the HTTP surface.

func (s *Server) Topology() []protocol.Node { return s.nodes.Nodes() }
func (s *Server) SessionCount() int         { return s.clients.Count() }
func (s *Server) NodeCount() int            { return s.nodes.Count() }
func (s *Server) StartedAt() time.Time      { return s.startedAt }
func (s *Server) History() history.Store    { return s.history }

func (s *Server) acceptLoop() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.done:
				return
			default:
				s.logger.Warn("accept error", "error", err)
				continue
			}
		}
		lc := NewTCPConn(conn)
		s.handlers.Add(1)
		go func() {
			defer s.handlers.Done()
			s.HandleConn(lc)
		}()
	}
}

// HandleConn runs the session state machine for one connection: write the
// welcome, register a session, then read and dispatch lines until the
// connection dies. The WebSocket bridge calls this directly.
func (s *Server) HandleConn(lc LineConn) {
	s.mu.Lock()
	s.conns[lc] = struct{}{}
	s.mu.Unlock()

	sess := s.clients.AddSession(lc.WriteMessage)
	logger := s.logger.With("session_id", sess.ID, "remote", lc.RemoteAddr())

	defer func() {
		s.clients.RemoveSession(sess)
		_ = lc.Close()
		s.mu.Lock()
		delete(s.conns, lc)
		s.mu.Unlock()
		logger.Debug("connection closed")
	}()

	if err := lc.WriteMessage(protocol.NewWelcome()); err != nil {
		return
	}
	logger.Debug("connection accepted")

	for {
		line, err := lc.ReadLine()
		if err != nil {
			// Closed socket or I/O error; either way the session is over.
			if !errors.Is(err, net.ErrClosed) {
				logger.Debug("read ended", "error", err)
			}
			return
		}
		if len(line) == 0 {
			continue
		}

		req, err := protocol.Decode(line)
		if err != nil {
			logger.Debug("protocol error", "error", err)
			_ = sess.Send(protocol.NewError("", protocol.CodeInvalidArg, "malformed message"))
			continue
		}
		s.dispatch(sess, req, logger)
	}
}
