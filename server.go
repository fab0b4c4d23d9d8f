// Package epupp composes the coordination engine with its transports: the
// framed TCP eval bridge, the tab websocket hub, and the optional local
// script directory sync.
package epupp

import (
	"context"
	"errors"
	"net"
	"sync"

	"github.com/PEZ/epupp/bridge"
	"github.com/PEZ/epupp/core"
	"github.com/PEZ/epupp/internal/eventbus"
	"github.com/PEZ/epupp/internal/scriptdir"
	"github.com/PEZ/epupp/schema"
	"pkt.systems/pslog"
)

// Server composes the bridge, hub, and script directory services.
type Server interface {
	Start(ctx context.Context) error
	Wait() error
	Stop(ctx context.Context) error
	Service() core.Service

	// BridgeAddr and HubPort report bound listener addresses after Start.
	BridgeAddr() net.Addr
	HubPort() schema.Port
}

// ServerConfig configures the compositor.
type ServerConfig struct {
	Engine    schema.EngineConfig
	Bridge    bridge.ServerConfig
	Hub       bridge.HubConfig
	ScriptDir string
}

// ServerDeps captures dependencies required to build the server.
type ServerDeps struct {
	ServiceDeps core.ServiceDeps
}

// ServerOption toggles compositor components.
type ServerOption func(*serverOptions)

type serverOptions struct {
	enableBridge bool
	enableHub    bool
}

// WithBridge enables the framed TCP eval bridge.
func WithBridge() ServerOption {
	return func(o *serverOptions) { o.enableBridge = true }
}

// WithHub enables the tab websocket hub.
func WithHub() ServerOption {
	return func(o *serverOptions) { o.enableHub = true }
}

// New constructs a composable epupp server. The engine always runs; options
// select which transports listen.
func New(ctx context.Context, cfg ServerConfig, deps ServerDeps, opts ...ServerOption) (Server, error) {
	options := serverOptions{}
	for _, opt := range opts {
		opt(&options)
	}
	if !options.enableBridge && !options.enableHub {
		return nil, errors.New("no transports enabled")
	}

	serviceDeps := deps.ServiceDeps
	bus := eventbus.New(serviceDeps.Logger)
	if serviceDeps.EventSink == nil {
		serviceDeps.EventSink = bus
	} else {
		serviceDeps.EventSink = eventFanout{sinks: []core.EventSink{serviceDeps.EventSink, bus}}
	}

	service, err := core.NewService(ctx, cfg.Engine, serviceDeps)
	if err != nil {
		return nil, err
	}

	logger := serviceDeps.Logger
	if logger == nil {
		logger = pslog.Ctx(ctx)
	}

	var bridgeSrv *bridge.Server
	if options.enableBridge {
		bridgeSrv, err = bridge.NewServer(cfg.Bridge, service, logger)
		if err != nil {
			return nil, err
		}
	}

	var hub *bridge.Hub
	if options.enableHub {
		hubCfg := cfg.Hub
		if len(hubCfg.AllowedOrigins) == 0 {
			hubCfg.AllowedOrigins = cfg.Engine.AllowedOrigins
		}
		hub = bridge.NewHub(hubCfg, service, bus, logger)
	}

	var watcher *scriptdir.Watcher
	if cfg.ScriptDir != "" {
		watcher, err = scriptdir.New(cfg.ScriptDir, service, logger)
		if err != nil {
			return nil, err
		}
	}

	return &compositeServer{
		cfg:     cfg,
		options: options,
		service: service,
		bridge:  bridgeSrv,
		hub:     hub,
		watcher: watcher,
	}, nil
}

type compositeServer struct {
	cfg     ServerConfig
	options serverOptions
	service core.Service
	bridge  *bridge.Server
	hub     *bridge.Hub
	watcher *scriptdir.Watcher
	logger  pslog.Logger

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	errCh   chan error
	started bool
}

func (s *compositeServer) Service() core.Service {
	return s.service
}

func (s *compositeServer) BridgeAddr() net.Addr {
	if s.bridge == nil {
		return nil
	}
	return s.bridge.Addr()
}

func (s *compositeServer) HubPort() schema.Port {
	if s.hub == nil {
		return 0
	}
	return s.hub.Port()
}

func (s *compositeServer) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		pslog.Ctx(ctx).Warn("server start rejected", "reason", "already started")
		return errors.New("server already started")
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.errCh = make(chan error, 2)
	s.started = true
	s.logger = pslog.Ctx(s.ctx)
	s.mu.Unlock()

	log := s.logger
	log.Info(
		"server start",
		"bridge", s.options.enableBridge,
		"hub", s.options.enableHub,
		"bridge_addr", s.cfg.Bridge.Addr,
		"hub_addr", s.cfg.Hub.Addr,
		"script_dir", s.cfg.ScriptDir,
	)
	if s.bridge != nil {
		if err := s.bridge.Listen(); err != nil {
			s.cancel()
			return err
		}
		go func() {
			if err := s.bridge.Serve(s.ctx); err != nil {
				log.Error("bridge server failed", "err", err)
				s.errCh <- err
			}
		}()
	}
	if s.hub != nil {
		if err := s.hub.Listen(); err != nil {
			s.cancel()
			return err
		}
		go func() {
			if err := s.hub.Serve(s.ctx); err != nil {
				log.Error("hub server failed", "err", err)
				s.errCh <- err
			}
		}()
	}
	if s.watcher != nil {
		if err := s.watcher.Start(s.ctx); err != nil {
			s.cancel()
			return err
		}
	}
	return nil
}

func (s *compositeServer) Wait() error {
	s.mu.Lock()
	ctx := s.ctx
	errCh := s.errCh
	started := s.started
	s.mu.Unlock()
	if !started {
		return errors.New("server not started")
	}

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		if err != nil {
			pslog.Ctx(ctx).Error("server stopped", "err", err)
			_ = s.Stop(context.Background())
			return err
		}
		return nil
	}
}

func (s *compositeServer) Stop(ctx context.Context) error {
	s.mu.Lock()
	cancel := s.cancel
	started := s.started
	log := s.logger
	s.mu.Unlock()
	if !started {
		return nil
	}
	if log == nil {
		log = pslog.Ctx(context.Background())
	}
	log.Info("server stop requested")
	if s.watcher != nil {
		s.watcher.Stop()
	}
	if cancel != nil {
		cancel()
	}
	if ctx == nil {
		log.Info("server stop completed")
		return nil
	}
	select {
	case <-ctx.Done():
		log.Warn("server stop timed out", "err", ctx.Err())
		return ctx.Err()
	case <-s.ctx.Done():
		log.Info("server stopped")
		return nil
	}
}
