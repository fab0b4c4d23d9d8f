package bridge

import (
	"context"
	"errors"
	"net"

	"github.com/PEZ/epupp/core"
	"github.com/PEZ/epupp/internal/command"
	"pkt.systems/pslog"
)

// ServerConfig configures the TCP bridge server.
type ServerConfig struct {
	// Addr is the listen address, for example "127.0.0.1:1338".
	Addr string
	// NewEvaluator builds the per-connection evaluator. Required.
	NewEvaluator EvaluatorFactory
}

// Server accepts editor/REPL clients. Each connection gets its own
// evaluator so bindings never leak between clients.
type Server struct {
	cfg     ServerConfig
	handler *command.Handler
	log     pslog.Logger

	listener net.Listener
}

// NewServer constructs a bridge server for the engine service.
func NewServer(cfg ServerConfig, service core.Service, logger pslog.Logger) (*Server, error) {
	if cfg.NewEvaluator == nil {
		return nil, errors.New("bridge: evaluator factory is required")
	}
	if cfg.Addr == "" {
		cfg.Addr = "127.0.0.1:1338"
	}
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	return &Server{
		cfg:     cfg,
		handler: command.NewHandler(service),
		log:     logger.With("component", "bridge"),
	}, nil
}

// Addr returns the bound listen address once Serve has started.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Listen binds the listener without serving, so callers can learn the
// bound port before accepting.
func (s *Server) Listen() error {
	if s.listener != nil {
		return nil
	}
	listener, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	s.listener = listener
	s.log.Info("bridge listening", "addr", listener.Addr().String())
	return nil
}

// Serve accepts connections until the context is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	if err := s.Listen(); err != nil {
		return err
	}
	go func() {
		<-ctx.Done()
		_ = s.listener.Close()
	}()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		evaluator, err := s.cfg.NewEvaluator()
		if err != nil {
			s.log.Warn("bridge evaluator init failed", "err", err)
			_ = WriteResponse(conn, Response{Err: "evaluator unavailable"})
			_ = conn.Close()
			continue
		}
		sess := &session{
			conn:    conn,
			eval:    evaluator,
			handler: s.handler,
			log:     s.log.With("remote", conn.RemoteAddr().String()),
		}
		sess.log.Debug("bridge client connected")
		go sess.serve(ctx)
	}
}
