package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"github.com/PEZ/epupp/core"
	"github.com/PEZ/epupp/internal/eventbus"
	"github.com/PEZ/epupp/internal/logx"
	"github.com/PEZ/epupp/internal/match"
	"github.com/PEZ/epupp/schema"
	"pkt.systems/pslog"
)

const (
	hubWriteTimeout = 10 * time.Second
	hubPongTimeout  = 60 * time.Second
	hubPingInterval = 54 * time.Second
)

// HubConfig configures the websocket tab hub.
type HubConfig struct {
	// Addr is the listen address, for example "127.0.0.1:1340".
	Addr string
	// AllowedOrigins gates websocket upgrades; empty allows everything.
	AllowedOrigins []string
}

// Hub is the websocket endpoint browser tabs attach to. Each tab connection
// registers with the engine's connection registry, reports navigation and
// runtime facts inbound, and receives engine event frames outbound.
type Hub struct {
	cfg      HubConfig
	service  core.Service
	bus      *eventbus.Bus
	log      pslog.Logger
	upgrader websocket.Upgrader

	listener net.Listener
	port     schema.Port
}

// NewHub constructs a tab hub fed by the engine's event bus.
func NewHub(cfg HubConfig, service core.Service, bus *eventbus.Bus, logger pslog.Logger) *Hub {
	if cfg.Addr == "" {
		cfg.Addr = "127.0.0.1:1340"
	}
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	h := &Hub{
		cfg:     cfg,
		service: service,
		bus:     bus,
		log:     logger.With("component", "tabhub"),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	if len(h.cfg.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return false
	}
	for _, pattern := range h.cfg.AllowedOrigins {
		if match.Matches(pattern, origin+"/") || match.Matches(pattern, origin) {
			return true
		}
	}
	return false
}

// Listen binds the hub listener. The bound port is what ConnectTab records
// for attached tabs.
func (h *Hub) Listen() error {
	if h.listener != nil {
		return nil
	}
	listener, err := net.Listen("tcp", h.cfg.Addr)
	if err != nil {
		return err
	}
	h.listener = listener
	if addr, ok := listener.Addr().(*net.TCPAddr); ok {
		h.port = schema.Port(addr.Port)
	}
	h.log.Info("tab hub listening", "addr", listener.Addr().String())
	return nil
}

// Port returns the bound hub port once Listen has run.
func (h *Hub) Port() schema.Port {
	return h.port
}

// Serve runs the hub HTTP server until the context is cancelled.
func (h *Hub) Serve(ctx context.Context) error {
	if err := h.Listen(); err != nil {
		return err
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/tabs", func(w http.ResponseWriter, r *http.Request) {
		h.handleTab(ctx, w, r)
	})
	server := &http.Server{
		Handler:  mux,
		ErrorLog: pslog.LogLoggerWithLevel(h.log, pslog.ErrorLevel),
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Serve(h.listener)
	}()
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// tabMessage is an inbound frame from a browser tab.
type tabMessage struct {
	Type string `json:"type"`
	URL  string `json:"url,omitempty"`
	SPA  bool   `json:"spa,omitempty"`
}

// hubFrame is an outbound frame to browser tabs.
type hubFrame struct {
	Type       string                  `json:"type"`
	Event      *schema.Event           `json:"event,omitempty"`
	Storage    *schema.StorageEvent    `json:"storage,omitempty"`
	Connection *schema.ConnectionEvent `json:"connection,omitempty"`
	Icon       *schema.IconEvent       `json:"icon,omitempty"`
}

func (h *Hub) handleTab(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	tabID, err := strconv.Atoi(r.URL.Query().Get("tab-id"))
	if err != nil || tabID <= 0 {
		http.Error(w, "invalid tab-id", http.StatusBadRequest)
		return
	}
	title := r.URL.Query().Get("title")
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("tab upgrade failed", "err", err)
		return
	}
	log := h.log.With("tab", tabID)
	ctx = logx.ContextWithTabLogger(ctx, log, schema.TabID(tabID))

	if _, err := h.service.ConnectTab(ctx, schema.ConnectTabRequest{
		TabID: schema.TabID(tabID),
		Port:  h.port,
		Title: title,
	}); err != nil {
		log.Warn("tab registration failed", "err", err)
		_ = conn.Close()
		return
	}
	defer func() {
		_, _ = h.service.DisconnectTab(ctx, schema.DisconnectTabRequest{TabID: schema.TabID(tabID)})
		_ = conn.Close()
	}()

	done := make(chan struct{})
	go h.writePump(ctx, conn, log, done)
	h.readPump(ctx, conn, schema.TabID(tabID), log)
	close(done)
}

// readPump handles inbound tab messages until the socket closes.
func (h *Hub) readPump(ctx context.Context, conn *websocket.Conn, tabID schema.TabID, log pslog.Logger) {
	_ = conn.SetReadDeadline(time.Now().Add(hubPongTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(hubPongTimeout))
	})
	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug("tab socket closed", "err", err)
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(hubPongTimeout))
		var msg tabMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			log.Debug("tab message malformed", "err", err)
			continue
		}
		h.dispatchTabMessage(ctx, tabID, msg, log)
	}
}

func (h *Hub) dispatchTabMessage(ctx context.Context, tabID schema.TabID, msg tabMessage, log pslog.Logger) {
	switch msg.Type {
	case "navigation":
		if _, err := h.service.NavigationCommitted(ctx, schema.NavigationRequest{
			TabID: tabID,
			URL:   msg.URL,
			SPA:   msg.SPA,
		}); err != nil {
			log.Warn("tab navigation failed", "err", err)
		}
	case "runtime-loaded":
		if _, err := h.service.RuntimeInjected(ctx, schema.RuntimeInjectedRequest{TabID: tabID}); err != nil {
			log.Warn("tab runtime report failed", "err", err)
		}
	case "focused":
		if _, err := h.service.TabFocused(ctx, schema.TabFocusedRequest{TabID: tabID}); err != nil {
			log.Warn("tab focus report failed", "err", err)
		}
	case "closed":
		if _, err := h.service.TabClosed(ctx, schema.TabClosedRequest{TabID: tabID}); err != nil {
			log.Warn("tab close report failed", "err", err)
		}
	default:
		log.Debug("tab message ignored", "type", msg.Type)
	}
}

// writePump forwards engine events to the tab until done closes.
func (h *Hub) writePump(ctx context.Context, conn *websocket.Conn, log pslog.Logger, done <-chan struct{}) {
	events, cancel := h.bus.Subscribe()
	defer cancel()
	ticker := time.NewTicker(hubPingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			frame := frameFor(event)
			_ = conn.SetWriteDeadline(time.Now().Add(hubWriteTimeout))
			if err := conn.WriteJSON(frame); err != nil {
				log.Debug("tab write failed", "err", err)
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(hubWriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func frameFor(event eventbus.Event) hubFrame {
	switch event.Type {
	case eventbus.EventStorage:
		storage := event.Storage
		return hubFrame{Type: "storage", Storage: &storage}
	case eventbus.EventConnection:
		connection := event.Connection
		return hubFrame{Type: "connection", Connection: &connection}
	case eventbus.EventIcon:
		icon := event.Icon
		return hubFrame{Type: "icon", Icon: &icon}
	default:
		lifecycle := event.Lifecycle
		return hubFrame{Type: "event", Event: &lifecycle}
	}
}
