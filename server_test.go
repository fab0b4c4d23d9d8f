package epupp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/PEZ/epupp/bridge"
	"github.com/PEZ/epupp/schema"
)

type echoEvaluator struct{}

func (echoEvaluator) Eval(ctx context.Context, code string) ([]string, error) {
	_ = ctx
	return []string{code}, nil
}

func (echoEvaluator) Close() error { return nil }

func newTestServer(t *testing.T) Server {
	t.Helper()
	server, err := New(context.Background(), ServerConfig{
		Engine: schema.EngineConfig{StateDir: t.TempDir()},
		Bridge: bridge.ServerConfig{
			Addr:         "127.0.0.1:0",
			NewEvaluator: func() (bridge.Evaluator, error) { return echoEvaluator{}, nil },
		},
		Hub: bridge.HubConfig{Addr: "127.0.0.1:0"},
	}, ServerDeps{}, WithBridge(), WithHub())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := server.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = server.Stop(stopCtx)
	})
	return server
}

func TestNewRequiresATransport(t *testing.T) {
	_, err := New(context.Background(), ServerConfig{
		Engine: schema.EngineConfig{StateDir: t.TempDir()},
	}, ServerDeps{})
	if err == nil || !strings.Contains(err.Error(), "no transports") {
		t.Fatalf("err = %v", err)
	}
}

func TestBridgeAnswersOverTCP(t *testing.T) {
	server := newTestServer(t)

	conn, err := net.DialTimeout("tcp", server.BridgeAddr().String(), 2*time.Second)
	if err != nil {
		t.Fatalf("dial bridge: %v", err)
	}
	defer conn.Close()

	if err := bridge.WriteFrame(conn, []byte(`{"op":"eval","code":"(+ 1 2)"}`)); err != nil {
		t.Fatalf("write: %v", err)
	}
	reader := bufio.NewReader(conn)
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	payload, err := bridge.ReadFrame(reader)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var resp bridge.Response
	if err := json.Unmarshal(payload, &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Value != "(+ 1 2)" {
		t.Fatalf("resp = %+v", resp)
	}
}

func TestHubRegistersTabConnections(t *testing.T) {
	server := newTestServer(t)

	url := fmt.Sprintf("ws://127.0.0.1:%d/tabs?tab-id=7&title=Example", server.HubPort())
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial hub: %v", err)
	}
	defer ws.Close()

	deadline := time.Now().Add(2 * time.Second)
	for {
		resp, err := server.Service().ListConnections(context.Background(), schema.ListConnectionsRequest{})
		if err != nil {
			t.Fatalf("ListConnections: %v", err)
		}
		if len(resp.Connections) == 1 && resp.Connections[0].TabID == 7 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("connections = %+v", resp.Connections)
		}
		time.Sleep(20 * time.Millisecond)
	}

	_ = ws.Close()
	deadline = time.Now().Add(2 * time.Second)
	for {
		resp, err := server.Service().ListConnections(context.Background(), schema.ListConnectionsRequest{})
		if err != nil {
			t.Fatalf("ListConnections: %v", err)
		}
		if len(resp.Connections) == 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("connections not released: %+v", resp.Connections)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestStopIsIdempotent(t *testing.T) {
	server := newTestServer(t)
	stopCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := server.Stop(stopCtx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := server.Stop(stopCtx); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
}
